package lockorder

import (
	"sync/atomic"
	"time"
)

// RecursiveMutex permits re-entry by the owning goroutine.
// The rank check fires only on the first acquisition; nested Lock calls bump
// the recursion count. Supports timed acquisition via TryLockFor.
//
// The lock itself is a one-slot channel: go-deadlock offers neither re-entry
// nor timed acquisition, and a channel gives both with a plain select.
type RecursiveMutex struct {
	rank  Rank
	token chan struct{}
	owner atomic.Int64 // goroutine id, 0 when free
	count int32        // recursion depth, touched only by the owner
}

// NewRecursiveMutex creates a ranked recursive mutex.
func NewRecursiveMutex(rank Rank) *RecursiveMutex {
	return &RecursiveMutex{
		rank:  rank,
		token: make(chan struct{}, 1),
	}
}

// Rank returns the mutex rank.
func (m *RecursiveMutex) Rank() Rank {
	return m.rank
}

// Lock acquires the mutex, re-entering if the caller already owns it.
func (m *RecursiveMutex) Lock() {
	id := GoroutineID()
	if m.owner.Load() == id {
		m.count++
		return
	}
	checkAcquire(m.rank)
	m.token <- struct{}{}
	m.acquired(id)
}

// TryLockFor tries to acquire the mutex within d. d ≤ 0 means a single attempt.
// Returns false on timeout; re-entry always succeeds.
func (m *RecursiveMutex) TryLockFor(d time.Duration) bool {
	id := GoroutineID()
	if m.owner.Load() == id {
		m.count++
		return true
	}
	checkAcquire(m.rank)

	if d <= 0 {
		select {
		case m.token <- struct{}{}:
		default:
			return false
		}
	} else {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case m.token <- struct{}{}:
		case <-timer.C:
			return false
		}
	}

	m.acquired(id)
	return true
}

// Unlock releases one level of recursion; the lock is freed when the count reaches zero.
// Panics if the caller does not own the mutex.
func (m *RecursiveMutex) Unlock() {
	if m.owner.Load() != GoroutineID() {
		panic("lockorder: unlock of recursive mutex not owned by caller")
	}
	m.count--
	if m.count > 0 {
		return
	}
	m.owner.Store(0)
	popRank(m.rank)
	<-m.token
}

// HeldByCurrent reports whether the calling goroutine owns the mutex.
func (m *RecursiveMutex) HeldByCurrent() bool {
	return m.owner.Load() == GoroutineID()
}

// Depth returns the recursion depth. Only meaningful for the owner.
func (m *RecursiveMutex) Depth() int {
	return int(m.count)
}

func (m *RecursiveMutex) acquired(id int64) {
	m.owner.Store(id)
	m.count = 1
	pushRank(m.rank)
}
