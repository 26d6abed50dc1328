package query

import (
	"math"
	"strconv"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/udisondev/botcore/internal/lockorder"
	"github.com/udisondev/botcore/internal/model"
)

// Batch bucket sizes: centers within 5 units and ranges within 2 units share a scan.
const (
	BatchPositionBucket float32 = 5
	BatchRangeBucket    float32 = 2
)

// BatchKey identifies queries served by one physical cache scan.
type BatchKey struct {
	ZoneID uint32
	X      int32
	Y      int32
	Range  int32
}

// MakeBatchKey buckets a query.
func MakeBatchKey(pos model.Position, rng float32) BatchKey {
	return BatchKey{
		ZoneID: pos.ZoneID,
		X:      int32(math.Floor(float64(pos.X / BatchPositionBucket))),
		Y:      int32(math.Floor(float64(pos.Y / BatchPositionBucket))),
		Range:  int32(rng / BatchRangeBucket),
	}
}

// String returns the singleflight key.
func (k BatchKey) String() string {
	buf := make([]byte, 0, 48)
	buf = strconv.AppendUint(buf, uint64(k.ZoneID), 10)
	buf = append(buf, ':')
	buf = strconv.AppendInt(buf, int64(k.X), 10)
	buf = append(buf, ':')
	buf = strconv.AppendInt(buf, int64(k.Y), 10)
	buf = append(buf, ':')
	buf = strconv.AppendInt(buf, int64(k.Range), 10)
	return string(buf)
}

type batch struct {
	requesters []model.GUID
}

// Batcher coalesces concurrent queries with the same BatchKey into one scan.
// Every requester of a batch receives the same (immutable) result slice.
type Batcher struct {
	group singleflight.Group

	mu      *lockorder.Mutex
	pending map[BatchKey]*batch

	scans      atomic.Uint64
	requests   atomic.Uint64
	shared     atomic.Uint64
	maxBatch   atomic.Int64
	requesters atomic.Uint64
}

// NewBatcher creates an empty batcher.
func NewBatcher() *Batcher {
	return &Batcher{
		mu:      lockorder.NewMutex(lockorder.RankQueryBatch),
		pending: make(map[BatchKey]*batch),
	}
}

// InFlight reports whether a batch for key is accumulating requesters.
func (b *Batcher) InFlight(key BatchKey) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.pending[key]
	return ok
}

// Do joins requester to the batch for key. The first requester runs scan;
// requesters arriving while it runs wait and share its result.
// scan runs without any batcher lock held.
func (b *Batcher) Do(key BatchKey, requester model.GUID, scan func() []model.HostileEntry) ([]model.HostileEntry, bool) {
	b.requests.Add(1)

	b.mu.Lock()
	bt, ok := b.pending[key]
	if !ok {
		bt = &batch{}
		b.pending[key] = bt
	}
	bt.requesters = append(bt.requesters, requester)
	b.mu.Unlock()

	v, _, shared := b.group.Do(key.String(), func() (any, error) {
		results := scan()

		b.mu.Lock()
		done := b.pending[key]
		delete(b.pending, key)
		b.mu.Unlock()

		b.scans.Add(1)
		if done != nil {
			n := int64(len(done.requesters))
			b.requesters.Add(uint64(n))
			for {
				cur := b.maxBatch.Load()
				if n <= cur || b.maxBatch.CompareAndSwap(cur, n) {
					break
				}
			}
		}
		return results, nil
	})
	if shared {
		b.shared.Add(1)
	}
	results, _ := v.([]model.HostileEntry)
	return results, shared
}

// BatchStats is a point-in-time view of batching.
type BatchStats struct {
	Requests     uint64
	Scans        uint64
	Shared       uint64
	MaxBatchSize int
	AvgBatchSize float64
}

// Stats returns current counters.
func (b *Batcher) Stats() BatchStats {
	s := BatchStats{
		Requests:     b.requests.Load(),
		Scans:        b.scans.Load(),
		Shared:       b.shared.Load(),
		MaxBatchSize: int(b.maxBatch.Load()),
	}
	if s.Scans > 0 {
		s.AvgBatchSize = float64(b.requesters.Load()) / float64(s.Scans)
	}
	return s
}
