package spatial

import (
	"context"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/udisondev/botcore/internal/eventbus"
	"github.com/udisondev/botcore/internal/model"
)

// Worker defaults.
const (
	DefaultWorkerBatchSize = 64
	eventDrainLimit        = 4096
)

// Worker is the single writer of the cache: it drains the event bus into
// per-zone staging, drains scheduled zone updates and rebuilds due zones.
type Worker struct {
	cache     *Cache
	bus       *eventbus.Bus
	batchSize int
	poll      time.Duration

	events []model.HostileEvent
	zones  []*ZoneCache
	due    []*ZoneCache

	iterations   atomic.Uint64
	eventsStaged atomic.Uint64
	zonesRebuilt atomic.Uint64
	lastIterNano atomic.Int64
}

// NewWorker creates the cache worker. batchSize bounds zone rebuilds per iteration.
func NewWorker(cache *Cache, bus *eventbus.Bus, batchSize int) *Worker {
	if batchSize <= 0 {
		batchSize = DefaultWorkerBatchSize
	}
	poll := cache.opts.UpdateInterval / 4
	if poll <= 0 {
		poll = 25 * time.Millisecond
	}
	return &Worker{
		cache:     cache,
		bus:       bus,
		batchSize: batchSize,
		poll:      poll,
		events:    make([]model.HostileEvent, 512),
	}
}

// Start runs the worker loop until ctx is cancelled.
// Blocks in the bus for at most a quarter of the update interval between iterations.
func (w *Worker) Start(ctx context.Context) error {
	slog.Info("spatial cache worker started",
		"interval", w.cache.opts.UpdateInterval,
		"batchSize", w.batchSize)

	for {
		w.RunOnce()

		if ctx.Err() != nil {
			slog.Info("spatial cache worker stopping", "iterations", w.iterations.Load())
			return ctx.Err()
		}
		w.bus.Wait(ctx, w.poll)
	}
}

// RunOnce performs one worker iteration and returns the number of zones rebuilt.
func (w *Worker) RunOnce() int {
	start := w.cache.now()
	staged := w.drainEvents()
	w.drainUpdates()

	due := w.selectDue(start.UnixNano())
	rebuilt := 0
	for _, z := range due {
		if _, err := w.cache.RebuildZone(z.id); err != nil {
			slog.Warn("zone rebuild failed", "zone", z.id, "error", err)
			continue
		}
		rebuilt++
	}

	w.iterations.Add(1)
	w.eventsStaged.Add(uint64(staged))
	w.zonesRebuilt.Add(uint64(rebuilt))
	w.lastIterNano.Store(int64(w.cache.now().Sub(start)))

	if IsDebugEnabled() && (staged > 0 || rebuilt > 0) {
		slog.Debug("spatial cache worker iteration",
			"events", staged,
			"rebuilt", rebuilt,
			"duration", w.cache.now().Sub(start))
	}
	return rebuilt
}

// drainEvents consumes bus events, fans them out to subscribers and stages them.
func (w *Worker) drainEvents() int {
	total := 0
	for total < eventDrainLimit {
		n := w.bus.Consume(w.events, len(w.events))
		if n == 0 {
			break
		}
		batch := w.events[:n]
		w.bus.Dispatch(batch)
		for _, ev := range batch {
			z, err := w.cache.EnsureZone(ev.ZoneID)
			if err != nil {
				continue
			}
			z.stage(ev)
		}
		total += n
	}
	return total
}

// drainUpdates marks every scheduled zone dirty.
func (w *Worker) drainUpdates() {
	for {
		select {
		case id := <-w.cache.updates:
			z, err := w.cache.EnsureZone(id)
			if err != nil {
				continue
			}
			z.scheduled.Store(false)
			z.dirty.Store(true)
			z.urgent.Store(true)
		default:
			return
		}
	}
}

// selectDue picks zones to rebuild: urgent zones first, then stale zones with
// traffic, oldest first, up to batchSize.
func (w *Worker) selectDue(nowNanos int64) []*ZoneCache {
	w.zones = w.cache.zoneList(w.zones[:0])
	w.due = w.due[:0]

	interval := w.cache.opts.UpdateInterval.Nanoseconds()
	window := w.cache.opts.TrafficWindow.Nanoseconds()
	for _, z := range w.zones {
		switch {
		case z.urgent.Load():
			w.due = append(w.due, z)
		case z.isStale(nowNanos, interval) && z.hasTraffic(nowNanos, window):
			w.due = append(w.due, z)
		}
	}

	slices.SortFunc(w.due, func(a, b *ZoneCache) int {
		au, bu := a.urgent.Load(), b.urgent.Load()
		if au != bu {
			if au {
				return -1
			}
			return 1
		}
		al, bl := a.lastFullUpdate.Load(), b.lastFullUpdate.Load()
		switch {
		case al < bl:
			return -1
		case al > bl:
			return 1
		default:
			return 0
		}
	})
	if len(w.due) > w.batchSize {
		w.due = w.due[:w.batchSize]
	}
	return w.due
}

// WorkerStats is a point-in-time view of worker counters.
type WorkerStats struct {
	Iterations    uint64
	EventsStaged  uint64
	ZonesRebuilt  uint64
	LastIteration time.Duration
}

// Stats returns current counters.
func (w *Worker) Stats() WorkerStats {
	return WorkerStats{
		Iterations:    w.iterations.Load(),
		EventsStaged:  w.eventsStaged.Load(),
		ZonesRebuilt:  w.zonesRebuilt.Load(),
		LastIteration: time.Duration(w.lastIterNano.Load()),
	}
}
