package spatial

import (
	"container/list"
	"sync/atomic"
	"time"

	"github.com/udisondev/botcore/internal/lockorder"
	"github.com/udisondev/botcore/internal/model"
)

// Local cache defaults.
const (
	DefaultLocalCacheSize = 8
	DefaultLocalCacheTTL  = 500 * time.Millisecond

	// localRangeBucket groups ranges into one key (same as query batching).
	localRangeBucket float32 = 2
	// localMaxDrift is how far the bot may move before an entry no longer applies.
	localMaxDrift float32 = 5
)

type localEntry struct {
	bucket  int32
	zoneID  uint32
	x, y    float32
	results []model.HostileEntry
	stored  time.Time
}

// LocalCache is a per-bot LRU of recent query results keyed by range bucket.
// Suppresses repeated identical queries inside one decision tick.
type LocalCache struct {
	mu       *lockorder.Mutex
	capacity int
	ttl      time.Duration
	now      func() time.Time

	ll       *list.List // front = most recent
	items    map[int32]*list.Element
	inCombat bool

	hits          atomic.Uint64
	misses        atomic.Uint64
	invalidations atomic.Uint64
}

// NewLocalCache creates a per-bot cache holding up to capacity range buckets.
func NewLocalCache(capacity int, ttl time.Duration) *LocalCache {
	if capacity <= 0 {
		capacity = DefaultLocalCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultLocalCacheTTL
	}
	return &LocalCache{
		mu:       lockorder.NewMutex(lockorder.RankSpatialLocalCache),
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
		ll:       list.New(),
		items:    make(map[int32]*list.Element, capacity),
	}
}

// SetClock overrides the time source (tests).
func (c *LocalCache) SetClock(now func() time.Time) {
	c.now = now
}

func rangeBucket(rng float32) int32 {
	return int32(rng / localRangeBucket)
}

// Get returns cached results for a query at pos with rng.
// Entries expire after the TTL or when the bot drifted away from the stored position.
func (c *LocalCache) Get(pos model.Position, rng float32) ([]model.HostileEntry, bool) {
	key := rangeBucket(rng)

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	e := el.Value.(*localEntry)
	if c.now().Sub(e.stored) > c.ttl || e.zoneID != pos.ZoneID || pos.Distance2DSquared(e.x, e.y) > localMaxDrift*localMaxDrift {
		c.ll.Remove(el)
		delete(c.items, key)
		c.misses.Add(1)
		return nil, false
	}
	c.ll.MoveToFront(el)
	c.hits.Add(1)
	return e.results, true
}

// Put stores results for a query at pos with rng, evicting the least recently used bucket.
// results must not be modified afterwards.
func (c *LocalCache) Put(pos model.Position, rng float32, results []model.HostileEntry) {
	key := rangeBucket(rng)

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		e := el.Value.(*localEntry)
		e.zoneID, e.x, e.y = pos.ZoneID, pos.X, pos.Y
		e.results = results
		e.stored = c.now()
		c.ll.MoveToFront(el)
		return
	}

	if c.ll.Len() >= c.capacity {
		oldest := c.ll.Back()
		c.ll.Remove(oldest)
		delete(c.items, oldest.Value.(*localEntry).bucket)
	}
	c.items[key] = c.ll.PushFront(&localEntry{
		bucket:  key,
		zoneID:  pos.ZoneID,
		x:       pos.X,
		y:       pos.Y,
		results: results,
		stored:  c.now(),
	})
}

// ObserveCombat records the bot's combat state; a transition invalidates the cache.
// Returns true if the cache was invalidated.
func (c *LocalCache) ObserveCombat(inCombat bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inCombat == inCombat {
		return false
	}
	c.inCombat = inCombat
	c.clearLocked()
	return true
}

// Invalidate drops every entry.
func (c *LocalCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearLocked()
}

func (c *LocalCache) clearLocked() {
	c.ll.Init()
	clear(c.items)
	c.invalidations.Add(1)
}

// Len returns the number of cached buckets.
func (c *LocalCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// LocalCacheStats is a point-in-time view of one local cache.
type LocalCacheStats struct {
	Hits          uint64
	Misses        uint64
	Invalidations uint64
}

// Stats returns current counters.
func (c *LocalCache) Stats() LocalCacheStats {
	return LocalCacheStats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Invalidations: c.invalidations.Load(),
	}
}
