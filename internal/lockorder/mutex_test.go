package lockorder

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// withOrderChecks включает проверку порядка на время теста.
func withOrderChecks(t *testing.T) {
	t.Helper()
	prev := OrderChecksEnabled()
	EnableOrderChecks(true)
	t.Cleanup(func() { EnableOrderChecks(prev) })
}

// catchViolation runs fn and returns the recovered *OrderViolation, if any.
func catchViolation(fn func()) (v *OrderViolation) {
	defer func() {
		if r := recover(); r != nil {
			err, ok := r.(error)
			if !ok {
				panic(r)
			}
			if !errors.As(err, &v) {
				panic(r)
			}
		}
	}()
	fn()
	return nil
}

func TestMutex_OutOfOrderIsFatal(t *testing.T) {
	withOrderChecks(t)

	a := NewMutex(Rank(3000))
	b := NewMutex(Rank(1000))

	a.Lock()
	v := catchViolation(func() {
		b.Lock()
		b.Unlock()
	})
	a.Unlock()

	require.NotNil(t, v, "acquiring rank 1000 while holding 3000 must fail")
	assert.Equal(t, Rank(3000), v.Held)
	assert.Equal(t, Rank(1000), v.Requested)
	assert.Equal(t, 1, v.HeldCount)
	assert.ErrorIs(t, v, ErrOrderViolation)
	assert.Empty(t, HeldRanks(), "stack must be empty after release")
}

func TestMutex_AscendingOrder(t *testing.T) {
	withOrderChecks(t)

	low := NewMutex(RankSpatialZoneMap)
	mid := NewSharedMutex(RankBotRegistry)
	high := NewMutex(RankHostWorld)

	v := catchViolation(func() {
		low.Lock()
		mid.RLock()
		high.Lock()
		assert.Equal(t, []Rank{RankSpatialZoneMap, RankBotRegistry, RankHostWorld}, HeldRanks())
		high.Unlock()
		mid.RUnlock()
		low.Unlock()
	})

	assert.Nil(t, v)
	assert.Empty(t, HeldRanks())
}

func TestMutex_SameRankTwoInstances(t *testing.T) {
	withOrderChecks(t)

	a := NewMutex(RankCorpseTrackers)
	b := NewMutex(RankCorpseTrackers)

	a.Lock()
	v := catchViolation(func() { b.Lock() })
	a.Unlock()

	require.NotNil(t, v)
	assert.Equal(t, RankCorpseTrackers, v.Held)
}

func TestSharedMutex_SharedAcquisitionChecked(t *testing.T) {
	withOrderChecks(t)

	held := NewMutex(RankHostMainQueue)
	shared := NewSharedMutex(RankEventBusSubscriptions)

	held.Lock()
	v := catchViolation(func() { shared.RLock() })
	held.Unlock()

	require.NotNil(t, v)
	assert.Equal(t, RankEventBusSubscriptions, v.Requested)
}

func TestMutex_ChecksDisabled(t *testing.T) {
	prev := OrderChecksEnabled()
	EnableOrderChecks(false)
	t.Cleanup(func() { EnableOrderChecks(prev) })

	a := NewMutex(Rank(3000))
	b := NewMutex(Rank(1000))

	v := catchViolation(func() {
		a.Lock()
		b.Lock()
		b.Unlock()
		a.Unlock()
	})
	assert.Nil(t, v)
	assert.Empty(t, HeldRanks())
}

func TestMutex_ViolationHook(t *testing.T) {
	withOrderChecks(t)

	var got *OrderViolation
	SetViolationHook(func(v *OrderViolation) { got = v })
	t.Cleanup(func() { SetViolationHook(nil) })

	before := Violations()
	a := NewMutex(Rank(5500))
	b := NewMutex(Rank(5400))
	a.Lock()
	_ = catchViolation(func() { b.Lock() })
	a.Unlock()

	require.NotNil(t, got)
	assert.Equal(t, Rank(5400), got.Requested)
	assert.Equal(t, before+1, Violations())
}

func TestRecursiveMutex_Reentry(t *testing.T) {
	withOrderChecks(t)

	m := NewRecursiveMutex(RankDeathRecoveryState)

	v := catchViolation(func() {
		m.Lock()
		m.Lock()
		assert.True(t, m.TryLockFor(0), "owner re-entry never waits")
		assert.Equal(t, 3, m.Depth())
		assert.Equal(t, []Rank{RankDeathRecoveryState}, HeldRanks(), "rank pushed once")
		m.Unlock()
		m.Unlock()
		assert.True(t, m.HeldByCurrent())
		m.Unlock()
	})

	assert.Nil(t, v)
	assert.False(t, m.HeldByCurrent())
	assert.Empty(t, HeldRanks())
}

func TestRecursiveMutex_TryLockForTimeout(t *testing.T) {
	m := NewRecursiveMutex(RankResurrection)
	m.Lock()

	result := make(chan bool, 1)
	go func() {
		ok := m.TryLockFor(30 * time.Millisecond)
		if ok {
			m.Unlock()
		}
		result <- ok
	}()

	assert.False(t, <-result, "other goroutine must time out while lock is held")
	m.Unlock()

	go func() {
		ok := m.TryLockFor(time.Second)
		if ok {
			m.Unlock()
		}
		result <- ok
	}()
	assert.True(t, <-result)
}

func TestRecursiveMutex_UnlockByNonOwnerPanics(t *testing.T) {
	m := NewRecursiveMutex(RankCoordinatorInstance)
	assert.Panics(t, func() { m.Unlock() })
}

func TestRecursiveMutex_HigherRankInside(t *testing.T) {
	withOrderChecks(t)

	state := NewRecursiveMutex(RankDeathRecoveryState)
	res := NewRecursiveMutex(RankResurrection)

	v := catchViolation(func() {
		state.Lock()
		require.True(t, res.TryLockFor(10*time.Millisecond))
		state.Lock() // re-entry of a lower rank while holding a higher one is allowed
		state.Unlock()
		res.Unlock()
		state.Unlock()
	})
	assert.Nil(t, v)
}

// TestLockHierarchy_ConcurrentAscending checks that ascending acquisition from
// many goroutines never trips the checker and leaves no residual stacks.
func TestLockHierarchy_ConcurrentAscending(t *testing.T) {
	withOrderChecks(t)

	locks := []*Mutex{
		NewMutex(RankSpatialLocalCache),
		NewMutex(RankQueryMetrics),
		NewMutex(RankCorpseLocations),
		NewMutex(RankHostMainQueue),
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	failures := 0

	for g := range 16 {
		wg.Add(1)
		go func(seed int) {
			defer wg.Done()
			for i := range 200 {
				start := (seed + i) % len(locks)
				v := catchViolation(func() {
					for _, l := range locks[start:] {
						l.Lock()
					}
					for j := len(locks) - 1; j >= start; j-- {
						locks[j].Unlock()
					}
				})
				if v != nil {
					mu.Lock()
					failures++
					mu.Unlock()
				}
				if len(HeldRanks()) != 0 {
					mu.Lock()
					failures++
					mu.Unlock()
				}
			}
		}(g)
	}
	wg.Wait()

	assert.Zero(t, failures)
}

func TestRank_String(t *testing.T) {
	assert.Equal(t, "SpatialZoneMap(2000)", RankSpatialZoneMap.String())
	assert.Equal(t, "Rank(42)", Rank(42).String())
	assert.Equal(t, LayerBotLifecycle, RankResurrection.Layer())
	assert.Equal(t, LayerExternalHost, RankHostWorld.Layer())
}

func TestReporter_Check(t *testing.T) {
	r := NewReporter(time.Second)
	r.lastViolations = Violations()
	r.lastDeadlocks = PotentialDeadlocks()
	assert.False(t, r.Check(), "nothing new")

	potentialDeadlocks.Add(1)
	assert.True(t, r.Check())
	assert.False(t, r.Check())
}

func TestGoroutineID_DistinctPerGoroutine(t *testing.T) {
	self := GoroutineID()
	other := make(chan int64, 1)
	go func() { other <- GoroutineID() }()
	got := <-other

	assert.NotZero(t, self)
	assert.NotZero(t, got)
	assert.NotEqual(t, self, got)
	assert.Equal(t, self, GoroutineID(), "stable within a goroutine")
}

func TestRecursiveMutex_LockUnlockReturns(t *testing.T) {
	m := NewRecursiveMutex(RankCoordinatorInstance)

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Lock()
		m.Unlock()
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Lock/Unlock did not return")
	}
	assert.False(t, m.HeldByCurrent())
}

func TestRecursiveMutex_ExcludesOtherGoroutines(t *testing.T) {
	m := NewRecursiveMutex(RankCoordinatorInstance)
	m.Lock()
	defer m.Unlock()

	acquired := make(chan bool, 1)
	go func() {
		ok := m.TryLockFor(0)
		if ok {
			m.Unlock()
		}
		acquired <- ok
	}()
	assert.False(t, <-acquired)
	assert.Equal(t, 1, m.Depth())
}

// Ранги другой горутины не влияют на проверку порядка текущей.
func TestLockOrder_StacksArePerGoroutine(t *testing.T) {
	withOrderChecks(t)

	high := NewMutex(RankBotRegistry)
	low := NewMutex(RankEventBusSubscriptions)

	high.Lock()
	defer high.Unlock()

	result := make(chan *OrderViolation, 1)
	go func() {
		result <- catchViolation(func() {
			low.Lock()
			low.Unlock()
		})
	}()
	assert.Nil(t, <-result)
	assert.Equal(t, []Rank{RankBotRegistry}, HeldRanks())
}
