package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/udisondev/botcore/internal/lockorder"
	"github.com/udisondev/botcore/internal/model"
)

// DefaultQueueCapacity is the event queue bound used by Default().
const DefaultQueueCapacity = 10000

// AllZones subscribes a handler to events of every zone.
const AllZones uint32 = ^uint32(0)

// Handler receives events fanned out by the consumer goroutine.
type Handler func(model.HostileEvent)

// SubscriptionID identifies one Subscribe call.
type SubscriptionID uint64

type subscription struct {
	id      SubscriptionID
	handler Handler
}

// Bus is the hostile event stream between host hooks and the cache worker.
// Producers never block: on a full queue the event is dropped and counted.
// Subscribers are invoked by the consumer (Dispatch), never inline at publish time.
type Bus struct {
	queue  *Queue
	notify chan struct{} // wakes a waiting consumer; capacity 1

	subsMu *lockorder.SharedMutex
	subs   map[uint32][]subscription // copy-on-write; slices are never mutated in place

	published    atomic.Uint64
	consumed     atomic.Uint64
	dropped      atomic.Uint64
	dispatched   atomic.Uint64
	highPriority atomic.Uint64
	nextSubID    atomic.Uint64

	now func() time.Time
}

var (
	instance *Bus
	once     sync.Once
)

// Default returns the process-wide bus.
func Default() *Bus {
	once.Do(func() {
		instance = New(DefaultQueueCapacity)
	})
	return instance
}

// New creates a bus with the given queue capacity.
func New(capacity int) *Bus {
	return &Bus{
		queue:  NewQueue(capacity),
		notify: make(chan struct{}, 1),
		subsMu: lockorder.NewSharedMutex(lockorder.RankEventBusSubscriptions),
		subs:   make(map[uint32][]subscription),
		now:    time.Now,
	}
}

// SetClock overrides the timestamp source (tests).
func (b *Bus) SetClock(now func() time.Time) {
	b.now = now
}

// Publish enqueues ev. Safe from any goroutine; never blocks.
// Returns false if the event was dropped.
func (b *Bus) Publish(ev model.HostileEvent) bool {
	b.published.Add(1)

	if !b.queue.TryPush(ev) {
		if dropped := b.dropped.Add(1); dropped%1000 == 1 {
			slog.Warn("hostile event queue full, dropping events",
				"capacity", b.queue.Cap(),
				"dropped", dropped)
		}
		return false
	}

	if ev.IsHighPriority() {
		b.highPriority.Add(1)
	}

	select {
	case b.notify <- struct{}{}:
	default:
	}
	return true
}

// TryConsume pops a single event.
func (b *Bus) TryConsume() (model.HostileEvent, bool) {
	ev, ok := b.queue.TryPop()
	if ok {
		b.consumed.Add(1)
	}
	return ev, ok
}

// Consume pops up to maxCount events into out and returns how many were written.
func (b *Bus) Consume(out []model.HostileEvent, maxCount int) int {
	if maxCount > len(out) {
		maxCount = len(out)
	}
	n := 0
	for n < maxCount {
		ev, ok := b.queue.TryPop()
		if !ok {
			break
		}
		out[n] = ev
		n++
	}
	if n > 0 {
		b.consumed.Add(uint64(n))
	}
	return n
}

// Wait blocks until an event may be available, d elapses or ctx is done.
// Returns true if woken by a publish.
func (b *Bus) Wait(ctx context.Context, d time.Duration) bool {
	if b.queue.Len() > 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-b.notify:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// Subscribe installs handler for zoneID (or AllZones).
func (b *Bus) Subscribe(zoneID uint32, handler Handler) SubscriptionID {
	id := SubscriptionID(b.nextSubID.Add(1))

	b.subsMu.Lock()
	defer b.subsMu.Unlock()

	prev := b.subs[zoneID]
	next := make([]subscription, len(prev), len(prev)+1)
	copy(next, prev)
	b.subs[zoneID] = append(next, subscription{id: id, handler: handler})

	slog.Debug("event bus subscription added", "zone", zoneID, "id", id)
	return id
}

// Unsubscribe removes every handler installed for zoneID.
// Returns the number of handlers removed.
func (b *Bus) Unsubscribe(zoneID uint32) int {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()

	n := len(b.subs[zoneID])
	delete(b.subs, zoneID)
	return n
}

// handlersFor returns immutable handler slices for a zone and the wildcard.
func (b *Bus) handlersFor(zoneID uint32) (zone, all []subscription) {
	b.subsMu.RLock()
	defer b.subsMu.RUnlock()
	return b.subs[zoneID], b.subs[AllZones]
}

// Dispatch fans events out to subscribers. Called by the consumer goroutine.
func (b *Bus) Dispatch(events []model.HostileEvent) {
	for _, ev := range events {
		zone, all := b.handlersFor(ev.ZoneID)
		for _, s := range zone {
			s.handler(ev)
		}
		for _, s := range all {
			s.handler(ev)
		}
		if len(zone)+len(all) > 0 {
			b.dispatched.Add(1)
		}
	}
}

// Stats is a point-in-time view of bus counters.
type Stats struct {
	Published    uint64
	Consumed     uint64
	Dropped      uint64
	Pending      int
	Dispatched   uint64
	HighPriority uint64
	Subscribers  int
	Capacity     int
}

// Stats returns current counters.
func (b *Bus) Stats() Stats {
	b.subsMu.RLock()
	subs := 0
	for _, s := range b.subs {
		subs += len(s)
	}
	b.subsMu.RUnlock()

	return Stats{
		Published:    b.published.Load(),
		Consumed:     b.consumed.Load(),
		Dropped:      b.dropped.Load(),
		Pending:      b.queue.Len(),
		Dispatched:   b.dispatched.Load(),
		HighPriority: b.highPriority.Load(),
		Subscribers:  subs,
		Capacity:     b.queue.Cap(),
	}
}
