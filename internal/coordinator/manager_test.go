package coordinator

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/botcore/internal/model"
)

func bgContext(id uint64) Context {
	return Context{ID: id, Kind: KindBattleground, MapID: bgMap, Bounds: bgBounds}
}

func newManager(t *testing.T, f *fixture) *Manager {
	t.Helper()
	m := NewManager(f.world)
	m.SetClock(f.clock)
	m.BindMainThread()
	return m
}

func TestManager_RequestAndProcess(t *testing.T) {
	f := newFixture(t)
	a := f.player(t, 100, 100, model.TeamAlliance, model.RoleDPS)
	b := f.player(t, 110, 100, model.TeamHorde, model.RoleDPS)
	m := newManager(t, f)

	ctx := Context{ID: 7, Kind: KindGuildEvent, MapID: bgMap, Bounds: bgBounds}
	assert.True(t, m.RequestCreation(Request{Context: ctx, Bots: []model.GUID{a.GUID(), b.GUID()}}))
	assert.False(t, m.RequestCreation(Request{Context: ctx}), "already queued")
	assert.Equal(t, 1, m.Stats().Pending)
	assert.Zero(t, m.Len(), "nothing is created off the main loop")

	n, err := m.ProcessPendingCreations()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	c, ok := m.Get(7)
	require.True(t, ok)
	assert.ElementsMatch(t, []model.GUID{a.GUID(), b.GUID()}, c.Members())
	assert.Len(t, c.Inbox(a.GUID()), 1, "guild events regroup on start")

	assert.False(t, m.RequestCreation(Request{Context: ctx}), "already exists")

	st := m.Stats()
	assert.Equal(t, 1, st.Active)
	assert.Zero(t, st.Pending)
	assert.Equal(t, uint64(1), st.Created)
	assert.Equal(t, uint64(3), st.Requested)
	assert.Equal(t, uint64(2), st.DuplicateRequests)
}

func TestManager_CreationIsMainThreadOnly(t *testing.T) {
	f := newFixture(t)
	m := NewManager(f.world)

	_, err := m.ProcessPendingCreations()
	assert.ErrorIs(t, err, ErrNotMainThread, "unbound manager")

	m.BindMainThread()
	require.True(t, m.RequestCreation(Request{Context: bgContext(1)}))

	var wg sync.WaitGroup
	var offErr, createErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, offErr = m.ProcessPendingCreations()
		_, createErr = m.Create(bgContext(2))
	}()
	wg.Wait()
	assert.ErrorIs(t, offErr, ErrNotMainThread)
	assert.ErrorIs(t, createErr, ErrNotMainThread)
	assert.Equal(t, 1, m.Stats().Pending, "a rejected call leaves the queue intact")

	n, err := m.ProcessPendingCreations()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestManager_ConcurrentRequestsDedupe(t *testing.T) {
	f := newFixture(t)
	m := newManager(t, f)

	const workers = 16
	var accepted atomic.Int32
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.RequestCreation(Request{Context: bgContext(uint64(i % 4))}) {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(4), accepted.Load())

	n, err := m.ProcessPendingCreations()
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, 4, m.Len())
}

func TestManager_CreateDestroy(t *testing.T) {
	f := newFixture(t)
	m := newManager(t, f)

	c, err := m.Create(bgContext(1))
	require.NoError(t, err)
	_, err = m.Create(bgContext(1))
	assert.ErrorIs(t, err, ErrExists)

	require.NoError(t, m.Destroy(1))
	assert.True(t, c.Ended())
	assert.ErrorIs(t, m.Destroy(1), ErrNotFound)
	_, ok := m.Get(1)
	assert.False(t, ok)

	st := m.Stats()
	assert.Equal(t, uint64(1), st.Created)
	assert.Equal(t, uint64(1), st.Destroyed)
	assert.Equal(t, uint64(1), st.RejectedCreations)
}

func TestManager_UpdateAllAndForBot(t *testing.T) {
	f := newFixture(t)
	a := f.player(t, 100, 100, model.TeamAlliance, model.RoleDPS)
	b := f.player(t, 300, 100, model.TeamAlliance, model.RoleDPS)
	m := newManager(t, f)

	var order []uint64
	m.SetHandlers(func(Kind) Handlers {
		return Handlers{OnUpdate: func(c *Coordinator, _ time.Duration) {
			order = append(order, c.ID())
		}}
	})

	for _, id := range []uint64{3, 1, 2} {
		_, err := m.Create(bgContext(id))
		require.NoError(t, err)
	}
	c1, _ := m.Get(1)
	c3, _ := m.Get(3)
	require.NoError(t, c1.AddBot(a.GUID()))
	require.NoError(t, c3.AddBot(b.GUID()))

	assert.Equal(t, 3, m.UpdateAll(100*time.Millisecond))
	assert.Equal(t, []uint64{1, 2, 3}, order)
	assert.Equal(t, 1, c1.Grid().Len())

	got, ok := m.ForBot(b.GUID())
	require.True(t, ok)
	assert.Equal(t, uint64(3), got.ID())
	_, ok = m.ForBot(model.NewGUID(9, 9))
	assert.False(t, ok)
}
