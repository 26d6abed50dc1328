package lockorder

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

var (
	// orderChecks gates the per-goroutine lock stack. Enabled in debug
	// configurations and tests; release builds rely on the rank table alone.
	orderChecks atomic.Bool

	violations atomic.Int64

	onViolation atomic.Pointer[func(*OrderViolation)]

	// stacks holds one lockStack per goroutine that currently holds ranked locks.
	// A stack is only touched by its owning goroutine.
	stacks sync.Map // map[int64]*lockStack
)

type lockStack struct {
	ranks []Rank
}

// EnableOrderChecks turns ordering verification on or off.
// Must be called during initialization, before any ranked lock is held.
func EnableOrderChecks(enabled bool) {
	orderChecks.Store(enabled)
}

// OrderChecksEnabled reports whether ordering verification is active.
func OrderChecksEnabled() bool {
	return orderChecks.Load()
}

// SetViolationHook installs fn to run right before a violation panics
// (the debugger-breakpoint analogue). nil removes the hook.
func SetViolationHook(fn func(*OrderViolation)) {
	if fn == nil {
		onViolation.Store(nil)
		return
	}
	onViolation.Store(&fn)
}

// Violations returns how many ordering violations were raised.
func Violations() int64 {
	return violations.Load()
}

// HeldRanks returns a copy of the current goroutine's lock stack, bottom first.
// Empty when checks are disabled.
func HeldRanks() []Rank {
	v, ok := stacks.Load(GoroutineID())
	if !ok {
		return nil
	}
	s := v.(*lockStack)
	out := make([]Rank, len(s.ranks))
	copy(out, s.ranks)
	return out
}

func (s *lockStack) max() Rank {
	var m Rank
	for i, r := range s.ranks {
		if i == 0 || r > m {
			m = r
		}
	}
	return m
}

// checkAcquire panics with *OrderViolation if the current goroutine holds a
// lock ranked ≥ r.
func checkAcquire(r Rank) {
	if !orderChecks.Load() {
		return
	}
	id := GoroutineID()
	v, ok := stacks.Load(id)
	if !ok {
		return
	}
	s := v.(*lockStack)
	if len(s.ranks) == 0 {
		return
	}
	if held := s.max(); held >= r {
		raise(&OrderViolation{
			Held:      held,
			Requested: r,
			HeldCount: len(s.ranks),
			Goroutine: id,
		})
	}
}

func raise(v *OrderViolation) {
	violations.Add(1)
	slog.Error("lock ordering violation",
		"held", v.Held.String(),
		"requested", v.Requested.String(),
		"heldCount", v.HeldCount,
		"goroutine", v.Goroutine)
	if hook := onViolation.Load(); hook != nil {
		(*hook)(v)
	}
	panic(v)
}

func pushRank(r Rank) {
	if !orderChecks.Load() {
		return
	}
	id := GoroutineID()
	v, ok := stacks.Load(id)
	if !ok {
		v = &lockStack{ranks: make([]Rank, 0, 8)}
		stacks.Store(id, v)
	}
	s := v.(*lockStack)
	s.ranks = append(s.ranks, r)
}

// popRank removes the most recent occurrence of r. Releases are expected in
// LIFO order but out-of-order release of a lower rank is tolerated.
func popRank(r Rank) {
	if !orderChecks.Load() {
		return
	}
	id := GoroutineID()
	v, ok := stacks.Load(id)
	if !ok {
		return
	}
	s := v.(*lockStack)
	for i := len(s.ranks) - 1; i >= 0; i-- {
		if s.ranks[i] == r {
			s.ranks = append(s.ranks[:i], s.ranks[i+1:]...)
			break
		}
	}
	if len(s.ranks) == 0 {
		stacks.Delete(id)
	}
}
