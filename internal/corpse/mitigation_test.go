package corpse

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/botcore/internal/host"
	"github.com/udisondev/botcore/internal/model"
	"github.com/udisondev/botcore/internal/world"
)

const (
	testMap  uint32 = 0
	testZone uint32 = 40
)

var graveyard = model.WorldLocation{MapID: testMap, X: 10, Y: 10, Z: 0}

type fixture struct {
	world *world.World
	m     *Mitigation
	now   time.Time
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	w := world.New()
	w.AddZone(testZone, testMap, model.Rect{MaxX: 1000, MaxY: 1000}, host.ZoneOpenWorld)
	w.AddGraveyard(graveyard)

	f := &fixture{world: w, now: time.Unix(1_700_000_000, 0)}
	f.m = New(w, w, opts)
	f.m.SetClock(func() time.Time { return f.now })
	w.SetCorpseHooks(f.m)
	return f
}

// deadBot adds a player at (500, 500) and kills it.
func (f *fixture) deadBot(t *testing.T) *world.Player {
	t.Helper()
	p := world.NewPlayer(f.world, f.world.IDs().NextPlayer(), model.NewPosition(testMap, testZone, 500, 500, 0), world.PlayerOptions{Level: 20})
	f.world.AddPlayer(p)
	require.NoError(t, p.Kill())
	return p
}

// trackedCorpse kills a bot with prevention disabled and releases its spirit,
// so the host creates a tracked corpse.
func (f *fixture) trackedCorpse(t *testing.T) (*world.Player, model.GUID) {
	t.Helper()
	p := f.deadBot(t)
	require.NoError(t, p.ReleaseSpirit())
	require.True(t, p.HasCorpse())
	return p, p.Corpse()
}

func trackingOnly() Options {
	opts := DefaultOptions()
	opts.PreventionEnabled = false
	return opts
}

func TestMitigation_ReferenceGuardBlocksDeletion(t *testing.T) {
	f := newFixture(t, trackingOnly())
	_, corpse := f.trackedCorpse(t)

	guard, ok := f.m.AcquireReference(corpse)
	require.True(t, ok)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, f.m.MarkCorpseSafeForDeletion(corpse))
		assert.False(t, f.m.IsCorpseSafeToDelete(corpse))
	}()
	wg.Wait()

	require.ErrorIs(t, f.m.DeleteIfSafe(corpse), ErrInUse)

	guard.Release()
	guard.Release()
	assert.True(t, f.m.IsCorpseSafeToDelete(corpse))
	require.NoError(t, f.m.DeleteIfSafe(corpse))

	_, ok = f.m.Tracker(corpse)
	assert.False(t, ok)
	s := f.m.Stats()
	assert.Equal(t, uint64(1), s.DeletedCorpses)
	assert.Equal(t, uint64(1), s.RejectedDeletes)
	assert.Zero(t, s.ActiveTrackers)
}

func TestMitigation_TrackedUnderBothGUIDs(t *testing.T) {
	f := newFixture(t, trackingOnly())
	p, corpse := f.trackedCorpse(t)

	byCorpse, ok := f.m.Tracker(corpse)
	require.True(t, ok)
	byOwner, ok := f.m.Tracker(p.GUID())
	require.True(t, ok)
	assert.Same(t, byCorpse, byOwner)
	assert.Equal(t, int32(1), byCorpse.RefCount())
	assert.False(t, byCorpse.SafeToDelete())
	assert.False(t, f.m.IsCorpseSafeToDelete(corpse))

	loc, ok := f.m.GetCorpseLocation(p.GUID())
	require.True(t, ok)
	assert.Equal(t, float32(500), loc.X)
	assert.Equal(t, f.now, loc.DiedAt)
}

func TestMitigation_CreationReference(t *testing.T) {
	f := newFixture(t, trackingOnly())
	_, corpse := f.trackedCorpse(t)

	require.NoError(t, f.m.ReleaseCreationReference(corpse))
	require.NoError(t, f.m.ReleaseCreationReference(corpse))
	tr, _ := f.m.Tracker(corpse)
	assert.Equal(t, int32(0), tr.RefCount(), "creation reference drops once")
	assert.False(t, f.m.IsCorpseSafeToDelete(corpse), "not marked safe yet")

	require.NoError(t, f.m.MarkCorpseSafeForDeletion(corpse))
	assert.Equal(t, int32(0), tr.RefCount())
	assert.True(t, f.m.IsCorpseSafeToDelete(corpse))
}

func TestMitigation_UnknownCorpse(t *testing.T) {
	f := newFixture(t, trackingOnly())
	unknown := model.NewGUID(9, 9)

	_, ok := f.m.AcquireReference(unknown)
	assert.False(t, ok)
	assert.True(t, f.m.IsCorpseSafeToDelete(unknown))
	assert.ErrorIs(t, f.m.MarkCorpseSafeForDeletion(unknown), ErrNotTracked)
	assert.ErrorIs(t, f.m.DeleteIfSafe(unknown), ErrNotTracked)
}

func TestMitigation_PreventionRevivesAtGraveyard(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	p := f.deadBot(t)

	require.Equal(t, StrategyPrevention, f.m.OnBotDeath(p))
	assert.True(t, f.m.IsPreventing(p.GUID()))

	// The host releases the spirit before the revive runs: no corpse.
	require.NoError(t, p.ReleaseSpirit())
	assert.False(t, p.HasCorpse())
	assert.False(t, f.m.IsPreventing(p.GUID()))

	require.Equal(t, 1, f.world.MainQueue().Drain())
	assert.True(t, p.IsAlive())
	assert.Equal(t, uint32(1), p.Health())
	assert.True(t, p.GhostVisual())
	pos := p.Position()
	assert.Equal(t, graveyard.X, pos.X)
	assert.Equal(t, graveyard.Y, pos.Y)

	s := f.m.Stats()
	assert.Equal(t, uint64(1), s.PreventedCorpses)
	assert.Equal(t, uint64(1), s.Revived)
	assert.Zero(t, s.TrackedCorpses)
	assert.Zero(t, s.InFlightPrevention)
}

func TestMitigation_PreventionLimit(t *testing.T) {
	f := newFixture(t, DefaultOptions())

	for i := range DefaultMaxConcurrentPrevention {
		require.Equal(t, StrategyPrevention, f.m.OnBotDeath(f.deadBot(t)), "death %d", i)
	}
	assert.Equal(t, int64(DefaultMaxConcurrentPrevention), f.m.Stats().InFlightPrevention)

	over := f.deadBot(t)
	assert.Equal(t, StrategyTracking, f.m.OnBotDeath(over))
	assert.Equal(t, uint64(1), f.m.Stats().ThrottledPrevention)

	require.NoError(t, over.ReleaseSpirit())
	assert.True(t, over.HasCorpse(), "throttled death falls back to a tracked corpse")
	_, ok := f.m.Tracker(over.Corpse())
	assert.True(t, ok)

	f.world.MainQueue().Drain()
	assert.Zero(t, f.m.Stats().InFlightPrevention)
	assert.Equal(t, StrategyPrevention, f.m.OnBotDeath(f.deadBot(t)))
}

func TestMitigation_DoubleDeathIsIdempotent(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	p := f.deadBot(t)

	require.Equal(t, StrategyPrevention, f.m.OnBotDeath(p))
	require.Equal(t, StrategyPrevention, f.m.OnBotDeath(p))

	assert.Equal(t, 1, f.world.MainQueue().Len())
	s := f.m.Stats()
	assert.Equal(t, uint64(1), s.PreventedCorpses)
	assert.Equal(t, int64(1), s.InFlightPrevention)
}

func TestMitigation_DeathResurrectionRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"prevention", DefaultOptions()},
		{"tracking", trackingOnly()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.opts)
			p := f.deadBot(t)

			f.m.OnBotDeath(p)
			require.NoError(t, p.ReleaseSpirit())
			f.m.OnBotResurrection(p.GUID())

			_, ok := f.m.GetCorpseLocation(p.GUID())
			assert.False(t, ok)
			_, ok = f.m.Tracker(p.GUID())
			assert.False(t, ok)
			assert.False(t, f.m.IsPreventing(p.GUID()))
			assert.Zero(t, f.m.Stats().ActiveTrackers)
		})
	}
}

func TestMitigation_ResurrectionKeepsReferencedCorpse(t *testing.T) {
	f := newFixture(t, trackingOnly())
	p, corpse := f.trackedCorpse(t)

	guard, ok := f.m.AcquireReference(corpse)
	require.True(t, ok)

	f.m.OnBotResurrection(p.GUID())
	_, ok = f.m.Tracker(p.GUID())
	assert.False(t, ok, "owner detached")
	_, ok = f.m.Tracker(corpse)
	require.True(t, ok, "corpse still referenced")
	assert.False(t, f.m.IsCorpseSafeToDelete(corpse))

	guard.Release()
	require.NoError(t, f.m.DeleteIfSafe(corpse))
}

func TestMitigation_PreventionFlagLost(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	p := f.deadBot(t)
	require.Equal(t, StrategyPrevention, f.m.OnBotDeath(p))

	// The host created a corpse without consulting ShouldPreventCorpse.
	corpse := f.world.IDs().NextCorpse()
	f.m.OnCorpseCreated(corpse, p.GUID(), model.WorldLocation{MapID: testMap, X: 500, Y: 500})

	assert.False(t, f.m.IsPreventing(p.GUID()))
	_, ok := f.m.Tracker(corpse)
	assert.True(t, ok)
	assert.Equal(t, uint64(1), f.m.Stats().Fallbacks)
}

func TestMitigation_CleanupExpiredCorpses(t *testing.T) {
	f := newFixture(t, trackingOnly())
	_, idle := f.trackedCorpse(t)
	_, pinned := f.trackedCorpse(t)
	require.NoError(t, f.m.MarkCorpseSafeForDeletion(idle))
	require.NoError(t, f.m.MarkCorpseSafeForDeletion(pinned))
	guard, ok := f.m.AcquireReference(pinned)
	require.True(t, ok)
	defer guard.Release()

	assert.Zero(t, f.m.CleanupExpiredCorpses(f.now.Add(DefaultCorpseExpiry)))
	assert.Equal(t, 1, f.m.CleanupExpiredCorpses(f.now.Add(DefaultCorpseExpiry+time.Second)))

	_, ok = f.m.Tracker(idle)
	assert.False(t, ok)
	_, ok = f.m.Tracker(pinned)
	assert.True(t, ok)

	s := f.m.Stats()
	assert.Equal(t, uint64(1), s.ExpiredCorpses)
	assert.Equal(t, 1, s.ActiveTrackers)
	assert.Zero(t, s.CachedLocations, "death locations expire too")
}

func TestMitigation_ConcurrentReferences(t *testing.T) {
	f := newFixture(t, trackingOnly())
	_, corpse := f.trackedCorpse(t)
	require.NoError(t, f.m.MarkCorpseSafeForDeletion(corpse))

	const goroutines = 32
	var wg sync.WaitGroup
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 1000 {
				guard, ok := f.m.AcquireReference(corpse)
				if !assert.True(t, ok) {
					return
				}
				assert.False(t, f.m.IsCorpseSafeToDelete(corpse))
				guard.Release()
			}
		}()
	}
	wg.Wait()

	tr, _ := f.m.Tracker(corpse)
	assert.Equal(t, int32(0), tr.RefCount())
	assert.True(t, f.m.IsCorpseSafeToDelete(corpse))
}

func TestStrategy_String(t *testing.T) {
	assert.Equal(t, "PREVENTION", StrategyPrevention.String())
	assert.Equal(t, "TRACKING", StrategyTracking.String())
}
