// Package spatial implements the zone-partitioned hostile cache.
//
// Each zone is split into a CellsPerSide×CellsPerSide grid. Every cell holds an
// atomic pointer to an immutable snapshot of hostile entries: bot goroutines
// read with one atomic load per cell and never block on the cell; the single
// cache worker builds new snapshots from the host world and swaps them in.
package spatial

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/udisondev/botcore/internal/host"
	"github.com/udisondev/botcore/internal/lockorder"
	"github.com/udisondev/botcore/internal/model"
)

// Defaults for Options.
const (
	DefaultUpdateInterval      = 100 * time.Millisecond
	DefaultUpdateQueueCapacity = 1024
	DefaultTrafficWindow       = 10 * time.Second
)

// Options configures a Cache.
type Options struct {
	CellsPerSide        int
	CellSize            float32
	UpdateInterval      time.Duration // CACHE_UPDATE_INTERVAL: staleness bound
	UpdateQueueCapacity int
	TrafficWindow       time.Duration // a zone queried within this window keeps being refreshed
}

// DefaultOptions returns the stock cache options.
func DefaultOptions() Options {
	return Options{
		CellsPerSide:        DefaultCellsPerSide,
		CellSize:            DefaultCellSize,
		UpdateInterval:      DefaultUpdateInterval,
		UpdateQueueCapacity: DefaultUpdateQueueCapacity,
		TrafficWindow:       DefaultTrafficWindow,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.CellsPerSide <= 0 {
		o.CellsPerSide = d.CellsPerSide
	}
	if o.CellSize <= 0 {
		o.CellSize = d.CellSize
	}
	if o.UpdateInterval <= 0 {
		o.UpdateInterval = d.UpdateInterval
	}
	if o.UpdateQueueCapacity <= 0 {
		o.UpdateQueueCapacity = d.UpdateQueueCapacity
	}
	if o.TrafficWindow <= 0 {
		o.TrafficWindow = d.TrafficWindow
	}
	return o
}

// Cache is the process-wide spatial hostile cache.
type Cache struct {
	opts  Options
	world host.World
	now   func() time.Time

	mu    *lockorder.SharedMutex
	zones map[uint32]*ZoneCache

	// updates carries zone ids to the worker. Non-blocking send, drop on full.
	updates chan uint32

	queries          atomic.Uint64
	hits             atomic.Uint64
	misses           atomic.Uint64
	emptyResults     atomic.Uint64
	zoneCreations    atomic.Uint64
	creationFailures atomic.Uint64
	published        atomic.Uint64
	retired          atomic.Uint64
	rebuilds         atomic.Uint64
	scheduled        atomic.Uint64
	scheduleDropped  atomic.Uint64
	pruned           atomic.Uint64
	queryNanos       atomic.Int64
	maxQueryNanos    atomic.Int64
}

// NewCache creates an empty cache reading authoritative state from world.
func NewCache(world host.World, opts Options) *Cache {
	opts = opts.withDefaults()
	return &Cache{
		opts:    opts,
		world:   world,
		now:     time.Now,
		mu:      lockorder.NewSharedMutex(lockorder.RankSpatialZoneMap),
		zones:   make(map[uint32]*ZoneCache),
		updates: make(chan uint32, opts.UpdateQueueCapacity),
	}
}

// Options returns the effective options.
func (c *Cache) Options() Options {
	return c.opts
}

// SetClock overrides the time source (tests). Call before use.
func (c *Cache) SetClock(now func() time.Time) {
	c.now = now
}

// Zone returns the zone cache without creating it.
func (c *Cache) Zone(zoneID uint32) (*ZoneCache, bool) {
	c.mu.RLock()
	z, ok := c.zones[zoneID]
	c.mu.RUnlock()
	return z, ok
}

// EnsureZone returns the zone cache, creating it on first use.
// Shared lock on hit; on miss the shared lock is dropped, the exclusive lock
// taken and the map re-checked so a concurrent creator wins.
func (c *Cache) EnsureZone(zoneID uint32) (*ZoneCache, error) {
	if z, ok := c.Zone(zoneID); ok {
		return z, nil
	}

	bounds, ok := c.world.ZoneBounds(zoneID)
	if !ok {
		c.creationFailures.Add(1)
		return nil, fmt.Errorf("create zone cache %d: %w", zoneID, ErrZoneUnknown)
	}
	grid := NewGrid(bounds, c.opts.CellsPerSide, c.opts.CellSize)

	c.mu.Lock()
	z, ok := c.zones[zoneID]
	if !ok {
		z = newZoneCache(zoneID, grid, c.now().UnixNano())
		c.zones[zoneID] = z
	}
	c.mu.Unlock()

	if !ok {
		c.zoneCreations.Add(1)
		slog.Debug("zone cache created", "zone", zoneID, "cellSize", grid.CellSize, "cells", grid.CellCount())
		c.ScheduleZoneUpdate(zoneID)
	}
	return z, nil
}

// FindHostilesForBot returns hostiles within rng of the bot, nearest first.
// maxResults ≤ 0 means no cap.
func (c *Cache) FindHostilesForBot(bot host.Bot, rng float32, maxResults int) []model.HostileEntry {
	return c.FindHostiles(bot.Position(), rng, maxResults)
}

// FindHostiles returns hostiles within rng of pos, ordered by squared
// distance then GUID and truncated to maxResults (≤ 0: no cap).
// Failures yield an empty result; the call never blocks on the worker.
func (c *Cache) FindHostiles(pos model.Position, rng float32, maxResults int) []model.HostileEntry {
	c.queries.Add(1)
	if rng <= 0 {
		c.emptyResults.Add(1)
		return nil
	}

	start := c.now()
	z, err := c.EnsureZone(pos.ZoneID)
	if err != nil {
		c.misses.Add(1)
		c.emptyResults.Add(1)
		return nil
	}
	z.lastQuery.Store(start.UnixNano())
	if z.lastFullUpdate.Load() == 0 {
		c.misses.Add(1)
	} else {
		c.hits.Add(1)
	}

	var cellBuf [32]int
	cells := z.grid.CellsInCircle(pos.X, pos.Y, rng, cellBuf[:0])

	r2 := rng * rng
	var results []model.HostileEntry
	for _, idx := range cells {
		snap := z.cells[idx].Load()
		for i := range snap.Entries {
			e := &snap.Entries[i]
			if !e.Valid() {
				continue
			}
			if e.DistanceSquaredTo(pos.X, pos.Y, pos.Z) <= r2 {
				results = append(results, *e)
			}
		}
	}

	slices.SortFunc(results, func(a, b model.HostileEntry) int {
		da := a.DistanceSquaredTo(pos.X, pos.Y, pos.Z)
		db := b.DistanceSquaredTo(pos.X, pos.Y, pos.Z)
		if d := cmp.Compare(da, db); d != 0 {
			return d
		}
		if a.GUID.Less(b.GUID) {
			return -1
		}
		if b.GUID.Less(a.GUID) {
			return 1
		}
		return 0
	})
	if maxResults > 0 && len(results) > maxResults {
		results = results[:maxResults]
	}
	if len(results) == 0 {
		c.emptyResults.Add(1)
	}

	c.recordLatency(c.now().Sub(start))
	return results
}

func (c *Cache) recordLatency(d time.Duration) {
	n := d.Nanoseconds()
	c.queryNanos.Add(n)
	for {
		cur := c.maxQueryNanos.Load()
		if n <= cur || c.maxQueryNanos.CompareAndSwap(cur, n) {
			return
		}
	}
}

// ScheduleZoneUpdate asks the worker to rebuild zoneID. Never blocks.
// Returns false if the update queue is full or an update is already queued.
func (c *Cache) ScheduleZoneUpdate(zoneID uint32) bool {
	if z, ok := c.Zone(zoneID); ok && !z.scheduled.CompareAndSwap(false, true) {
		return false
	}
	select {
	case c.updates <- zoneID:
		c.scheduled.Add(1)
		return true
	default:
		if z, ok := c.Zone(zoneID); ok {
			z.scheduled.Store(false)
		}
		c.scheduleDropped.Add(1)
		return false
	}
}

// PendingUpdates returns the update queue depth.
func (c *Cache) PendingUpdates() int {
	return len(c.updates)
}

// RebuildZone scans the host world's hostiles in the zone, buckets them by
// cell and publishes a new snapshot for every cell. Writer goroutine only.
// Returns the number of entries published.
func (c *Cache) RebuildZone(zoneID uint32) (int, error) {
	z, err := c.EnsureZone(zoneID)
	if err != nil {
		return 0, err
	}

	now := c.now()
	nowMs := now.UnixMilli()
	if nowMs <= 0 {
		nowMs = 1
	}

	buckets := make([][]model.HostileEntry, len(z.cells))
	total := 0
	c.world.ForEachHostileInZone(zoneID, func(info model.CreatureInfo) bool {
		idx, ok := z.grid.CellIndex(info.Position.X, info.Position.Y)
		if !ok {
			return true
		}
		buckets[idx] = append(buckets[idx], info.ToHostileEntry(nowMs, uint16(idx)))
		total++
		return true
	})

	nowNanos := now.UnixNano()
	for i := range z.cells {
		cell := &z.cells[i]
		if len(buckets[i]) == 0 && len(cell.Load().Entries) == 0 {
			continue
		}
		c.publishCell(cell, buckets[i], nowNanos)
	}

	clear(z.staging)
	z.dirty.Store(false)
	z.urgent.Store(false)
	z.total.Store(int32(total))
	z.lastFullUpdate.Store(nowNanos)
	c.rebuilds.Add(1)
	return total, nil
}

// PublishCell replaces one cell's snapshot. Takes ownership of entries.
// Writer goroutine only.
func (c *Cache) PublishCell(zoneID uint32, cell int, entries []model.HostileEntry) error {
	z, err := c.EnsureZone(zoneID)
	if err != nil {
		return err
	}
	if cell < 0 || cell >= len(z.cells) {
		return fmt.Errorf("publish cell %d in zone %d: %w", cell, zoneID, ErrCellOutOfRange)
	}
	c.publishCell(&z.cells[cell], entries, c.now().UnixNano())
	return nil
}

func (c *Cache) publishCell(cell *CellCache, entries []model.HostileEntry, nowNanos int64) {
	if cell.publish(entries, nowNanos) {
		c.retired.Add(1)
	}
	c.published.Add(1)
}

// IsStale reports whether the zone was not rebuilt within the update interval.
// Unknown zones are stale.
func (c *Cache) IsStale(zoneID uint32, now time.Time) bool {
	z, ok := c.Zone(zoneID)
	if !ok {
		return true
	}
	return z.isStale(now.UnixNano(), c.opts.UpdateInterval.Nanoseconds())
}

// PruneInactiveZones drops zone caches neither queried nor rebuilt for idle.
// In-flight readers keep their snapshots alive until they finish.
func (c *Cache) PruneInactiveZones(idle time.Duration) int {
	cutoff := c.now().Add(-idle).UnixNano()

	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for id, z := range c.zones {
		if z.dirty.Load() {
			continue
		}
		lastUse := max(z.lastQuery.Load(), z.created)
		if lastUse < cutoff {
			delete(c.zones, id)
			n++
		}
	}
	if n > 0 {
		c.pruned.Add(uint64(n))
		slog.Debug("inactive zone caches pruned", "count", n, "remaining", len(c.zones))
	}
	return n
}

// zoneList copies the zone pointers so callers can work without the map lock.
func (c *Cache) zoneList(dst []*ZoneCache) []*ZoneCache {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, z := range c.zones {
		dst = append(dst, z)
	}
	return dst
}

// Stats is a point-in-time view of cache counters.
type Stats struct {
	Zones              int
	TotalHostiles      int
	StaleZones         int
	Queries            uint64
	CacheHits          uint64
	CacheMisses        uint64
	EmptyResults       uint64
	HitRate            float64
	ZoneCreations      uint64
	CreationFailures   uint64
	SnapshotsPublished uint64
	SnapshotsRetired   uint64
	Rebuilds           uint64
	ScheduledUpdates   uint64
	DroppedUpdates     uint64
	PendingUpdates     int
	PrunedZones        uint64
	AvgQueryTime       time.Duration
	MaxQueryTime       time.Duration
}

// Stats returns current counters.
func (c *Cache) Stats() Stats {
	zones := c.zoneList(nil)
	now := c.now().UnixNano()
	interval := c.opts.UpdateInterval.Nanoseconds()

	s := Stats{
		Zones:              len(zones),
		Queries:            c.queries.Load(),
		CacheHits:          c.hits.Load(),
		CacheMisses:        c.misses.Load(),
		EmptyResults:       c.emptyResults.Load(),
		ZoneCreations:      c.zoneCreations.Load(),
		CreationFailures:   c.creationFailures.Load(),
		SnapshotsPublished: c.published.Load(),
		SnapshotsRetired:   c.retired.Load(),
		Rebuilds:           c.rebuilds.Load(),
		ScheduledUpdates:   c.scheduled.Load(),
		DroppedUpdates:     c.scheduleDropped.Load(),
		PendingUpdates:     len(c.updates),
		PrunedZones:        c.pruned.Load(),
		MaxQueryTime:       time.Duration(c.maxQueryNanos.Load()),
	}
	for _, z := range zones {
		s.TotalHostiles += z.Total()
		if z.isStale(now, interval) {
			s.StaleZones++
		}
	}
	if lookups := s.CacheHits + s.CacheMisses; lookups > 0 {
		s.HitRate = float64(s.CacheHits) / float64(lookups)
		s.AvgQueryTime = time.Duration(c.queryNanos.Load() / int64(lookups))
	}
	return s
}
