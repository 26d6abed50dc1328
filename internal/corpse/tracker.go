package corpse

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/udisondev/botcore/internal/model"
)

// Location is where a bot died.
type Location struct {
	MapID  uint32
	X      float32
	Y      float32
	Z      float32
	DiedAt time.Time
}

// WorldLocation converts l into a teleport destination.
func (l Location) WorldLocation() model.WorldLocation {
	return model.WorldLocation{MapID: l.MapID, X: l.X, Y: l.Y, Z: l.Z}
}

// Tracker guards one host corpse against deletion while something references it.
// A corpse may only be deleted when it is marked safe and its reference count is zero.
type Tracker struct {
	Corpse    model.GUID
	Owner     model.GUID
	Location  model.WorldLocation
	CreatedAt time.Time

	refs            atomic.Int32
	safe            atomic.Bool
	creationDropped atomic.Bool
}

func newTracker(corpse, owner model.GUID, loc model.WorldLocation, now time.Time) *Tracker {
	t := &Tracker{Corpse: corpse, Owner: owner, Location: loc, CreatedAt: now}
	t.refs.Store(1) // creation reference, held by the host until end of tick
	return t
}

// RefCount returns the number of live references.
func (t *Tracker) RefCount() int32 {
	return t.refs.Load()
}

// SafeToDelete reports whether the corpse was marked safe.
func (t *Tracker) SafeToDelete() bool {
	return t.safe.Load()
}

// deletable ⇔ safe ∧ refCount = 0.
func (t *Tracker) deletable() bool {
	return t.safe.Load() && t.refs.Load() == 0
}

// dropCreationReference releases the creation reference exactly once.
func (t *Tracker) dropCreationReference() bool {
	if !t.creationDropped.CompareAndSwap(false, true) {
		return false
	}
	t.refs.Add(-1)
	return true
}

// ReferenceGuard holds one reference on a tracked corpse until Release.
//
//	guard, ok := m.AcquireReference(corpse)
//	if !ok {
//		return
//	}
//	defer guard.Release()
type ReferenceGuard struct {
	tracker *Tracker
	once    sync.Once
}

// Corpse returns the guarded corpse GUID.
func (g *ReferenceGuard) Corpse() model.GUID {
	return g.tracker.Corpse
}

// Release drops the reference. Safe to call more than once.
func (g *ReferenceGuard) Release() {
	g.once.Do(func() {
		g.tracker.refs.Add(-1)
	})
}
