package eventbus

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"

	"github.com/udisondev/botcore/internal/model"
)

func spawnEvent(zone uint32, lo uint64) model.HostileEvent {
	return model.HostileEvent{
		Kind:      model.EventSpawn,
		Priority:  model.EventSpawn.DefaultPriority(),
		ZoneID:    zone,
		Timestamp: 1,
		Hostile:   model.NewGUID(0, lo),
	}
}

func TestBus_PublishConsumeRoundTrip(t *testing.T) {
	bus := New(16)
	ev := spawnEvent(7, 42)

	require.True(t, bus.Publish(ev))

	got, ok := bus.TryConsume()
	require.True(t, ok)
	assert.Equal(t, ev, got)

	_, ok = bus.TryConsume()
	assert.False(t, ok, "queue must be empty")
}

func TestBus_ExactCapacity(t *testing.T) {
	const capacity = 10
	bus := New(capacity)

	for i := range capacity {
		require.True(t, bus.Publish(spawnEvent(1, uint64(i+1))), "publish %d", i)
	}

	assert.False(t, bus.Publish(spawnEvent(1, 100)), "publish at capacity must drop")
	assert.Equal(t, uint64(1), bus.Stats().Dropped)

	_, ok := bus.TryConsume()
	require.True(t, ok)

	assert.True(t, bus.Publish(spawnEvent(1, 101)), "publish after one consume must succeed")

	stats := bus.Stats()
	assert.Equal(t, uint64(capacity+2), stats.Published)
	assert.Equal(t, uint64(1), stats.Consumed)
	assert.Equal(t, capacity, stats.Pending)
}

func TestBus_ConsumeBatch(t *testing.T) {
	bus := New(100)
	for i := range 25 {
		bus.Publish(spawnEvent(1, uint64(i+1)))
	}

	buf := make([]model.HostileEvent, 64)
	n := bus.Consume(buf, 10)
	assert.Equal(t, 10, n)
	for i := range n {
		assert.Equal(t, uint64(i+1), buf[i].Hostile.Lo, "FIFO order")
	}

	n = bus.Consume(buf, 64)
	assert.Equal(t, 15, n)
	assert.Equal(t, 0, bus.Consume(buf, 64))

	small := make([]model.HostileEvent, 2)
	bus.Publish(spawnEvent(1, 1))
	bus.Publish(spawnEvent(1, 2))
	bus.Publish(spawnEvent(1, 3))
	assert.Equal(t, 2, bus.Consume(small, 10), "bounded by buffer length")
}

func TestBus_ConvenienceBuilders(t *testing.T) {
	bus := New(16)
	fixed := time.UnixMilli(123456)
	bus.SetClock(func() time.Time { return fixed })

	hostile := model.NewGUID(1, 1)
	target := model.NewGUID(2, 2)

	bus.PublishSpawn(3, hostile)
	bus.PublishDespawn(3, hostile)
	bus.PublishAggro(3, hostile, target, true)
	bus.PublishAggro(3, hostile, target, false)
	bus.PublishThreatChange(3, hostile, target)
	bus.PublishCombatState(3, hostile, true)
	bus.PublishCombatState(3, hostile, false)
	bus.PublishPosition(3, hostile)

	want := []model.HostileEventKind{
		model.EventSpawn, model.EventDespawn, model.EventAggroGained, model.EventAggroLost,
		model.EventThreatChange, model.EventCombatStart, model.EventCombatEnd, model.EventPositionUpdate,
	}

	buf := make([]model.HostileEvent, 16)
	n := bus.Consume(buf, 16)
	require.Equal(t, len(want), n)
	for i, kind := range want {
		assert.Equal(t, kind, buf[i].Kind)
		assert.Equal(t, kind.DefaultPriority(), buf[i].Priority)
		assert.Equal(t, uint32(3), buf[i].ZoneID)
		assert.Equal(t, int64(123456), buf[i].Timestamp)
		assert.Equal(t, hostile, buf[i].Hostile)
	}
	assert.Equal(t, target, buf[2].Target)
	assert.Equal(t, uint64(6), bus.Stats().HighPriority)
}

// TestBus_Conservation: every published event is consumed or counted as dropped.
func TestBus_Conservation(t *testing.T) {
	bus := New(256)
	const producers = 8
	const perProducer = 5000

	var consumed atomic.Uint64
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]model.HostileEvent, 64)
		for {
			n := bus.Consume(buf, len(buf))
			consumed.Add(uint64(n))
			if n == 0 {
				if ctx.Err() != nil {
					return
				}
				bus.Wait(ctx, time.Millisecond)
			}
		}
	}()

	var wg sync.WaitGroup
	for p := range producers {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := range perProducer {
				bus.Publish(spawnEvent(uint32(id), uint64(i+1)))
			}
		}(p)
	}
	wg.Wait()
	cancel()
	<-done

	// drain leftovers
	buf := make([]model.HostileEvent, 256)
	for {
		n := bus.Consume(buf, len(buf))
		if n == 0 {
			break
		}
		consumed.Add(uint64(n))
	}

	stats := bus.Stats()
	assert.Equal(t, uint64(producers*perProducer), stats.Published)
	assert.Equal(t, stats.Published, stats.Consumed+stats.Dropped)
	assert.Equal(t, stats.Consumed, consumed.Load())
	assert.Equal(t, 0, stats.Pending)
}

// TestQueue_MPMC_NoDuplicates: with several consumers, every pushed event is popped exactly once.
func TestQueue_MPMC_NoDuplicates(t *testing.T) {
	q := NewQueue(1024)
	const producers = 4
	const perProducer = 20000
	const total = producers * perProducer

	seen := make([]atomic.Int32, total)
	var popped atomic.Int64

	var prodWG, consWG sync.WaitGroup
	for p := range producers {
		prodWG.Add(1)
		go func(id int) {
			defer prodWG.Done()
			for i := range perProducer {
				ev := spawnEvent(0, uint64(id*perProducer+i))
				for !q.TryPush(ev) {
					// busy-wait until a consumer frees a slot
				}
			}
		}(p)
	}

	for range 4 {
		consWG.Add(1)
		go func() {
			defer consWG.Done()
			for popped.Load() < total {
				ev, ok := q.TryPop()
				if !ok {
					continue
				}
				seen[ev.Hostile.Lo].Add(1)
				popped.Add(1)
			}
		}()
	}

	prodWG.Wait()
	consWG.Wait()

	for i := range seen {
		if seen[i].Load() != 1 {
			t.Fatalf("event %d popped %d times, want 1", i, seen[i].Load())
		}
	}
	assert.Equal(t, 0, q.Len())
}

// TestQueue_NoFalseFullBelowCapacity: with occupancy held below capacity,
// contended pushes never report a full queue.
func TestQueue_NoFalseFullBelowCapacity(t *testing.T) {
	const capacity = 100
	q := NewQueue(capacity)
	inFlight := semaphore.NewWeighted(capacity / 2)

	const producers = 8
	const perProducer = 20000
	const total = producers * perProducer

	var failed, popped atomic.Int64
	var prodWG, consWG sync.WaitGroup
	ctx := context.Background()

	for p := range producers {
		prodWG.Add(1)
		go func(id int) {
			defer prodWG.Done()
			for i := range perProducer {
				if err := inFlight.Acquire(ctx, 1); err != nil {
					t.Error(err)
					popped.Add(1)
					continue
				}
				if !q.TryPush(spawnEvent(0, uint64(id*perProducer+i))) {
					failed.Add(1)
					popped.Add(1)
					inFlight.Release(1)
				}
			}
		}(p)
	}

	for range 4 {
		consWG.Add(1)
		go func() {
			defer consWG.Done()
			for popped.Load() < total {
				if _, ok := q.TryPop(); ok {
					popped.Add(1)
					inFlight.Release(1)
				}
			}
		}()
	}

	prodWG.Wait()
	consWG.Wait()

	assert.Zero(t, failed.Load(), "push rejected while the queue was at most half full")
	assert.Equal(t, 0, q.Len())
}

func TestBus_SubscribeDispatch(t *testing.T) {
	bus := New(16)

	var zone5, all []model.HostileEvent
	bus.Subscribe(5, func(ev model.HostileEvent) { zone5 = append(zone5, ev) })
	bus.Subscribe(AllZones, func(ev model.HostileEvent) { all = append(all, ev) })

	bus.Publish(spawnEvent(5, 1))
	bus.Publish(spawnEvent(6, 2))

	buf := make([]model.HostileEvent, 4)
	n := bus.Consume(buf, 4)
	assert.Empty(t, zone5, "publish must not invoke handlers inline")

	bus.Dispatch(buf[:n])
	assert.Len(t, zone5, 1)
	assert.Len(t, all, 2)
	assert.Equal(t, 2, bus.Stats().Subscribers)

	assert.Equal(t, 1, bus.Unsubscribe(5))
	bus.Dispatch(buf[:n])
	assert.Len(t, zone5, 1, "unsubscribed handler must not run")
	assert.Len(t, all, 4)
}

func TestBus_SubscribeFromHandler(t *testing.T) {
	bus := New(4)
	calls := 0
	bus.Subscribe(1, func(model.HostileEvent) {
		calls++
		bus.Subscribe(2, func(model.HostileEvent) {})
	})

	bus.Dispatch([]model.HostileEvent{spawnEvent(1, 1)})
	assert.Equal(t, 1, calls)
	assert.Equal(t, 2, bus.Stats().Subscribers)
}

func TestBus_Wait(t *testing.T) {
	bus := New(4)

	start := time.Now()
	assert.False(t, bus.Wait(context.Background(), 20*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)

	go func() {
		time.Sleep(5 * time.Millisecond)
		bus.Publish(spawnEvent(1, 1))
	}()
	assert.True(t, bus.Wait(context.Background(), time.Second))
}

func TestHooks_Filter(t *testing.T) {
	bus := New(16)
	hooks := NewHooks(bus, func(c model.CreatureInfo) bool { return c.Level > 10 })

	friendly := model.CreatureInfo{GUID: model.NewGUID(0, 1), Level: 5, Position: model.NewPosition(0, 9, 0, 0, 0)}
	hostile := model.CreatureInfo{GUID: model.NewGUID(0, 2), Level: 20, Position: model.NewPosition(0, 9, 0, 0, 0)}

	for _, c := range []model.CreatureInfo{friendly, hostile} {
		hooks.OnCreatureSpawn(c)
		hooks.OnCreatureDespawn(c)
		hooks.OnThreatUpdate(c, model.NewGUID(9, 9))
		hooks.OnCombatStateChange(c, true)
		hooks.OnPositionUpdate(c)
	}

	buf := make([]model.HostileEvent, 16)
	n := bus.Consume(buf, 16)
	require.Equal(t, 5, n)
	for _, ev := range buf[:n] {
		assert.Equal(t, hostile.GUID, ev.Hostile)
		assert.Equal(t, uint32(9), ev.ZoneID)
	}
}

func TestDefault_Singleton(t *testing.T) {
	assert.Same(t, Default(), Default())
	assert.Equal(t, DefaultQueueCapacity, Default().Stats().Capacity)
}

func TestBus_DropWarningReportsTriggeringCount(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	bus := New(1)
	require.True(t, bus.Publish(spawnEvent(1, 1)))
	for i := range 1001 {
		assert.False(t, bus.Publish(spawnEvent(1, uint64(i+2))))
	}

	out := buf.String()
	assert.Equal(t, 2, strings.Count(out, "hostile event queue full"))
	assert.Contains(t, out, "dropped=1\n")
	assert.Contains(t, out, "dropped=1001\n")
	assert.Equal(t, uint64(1001), bus.Stats().Dropped)
}
