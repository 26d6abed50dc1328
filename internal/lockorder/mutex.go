package lockorder

import "github.com/sasha-s/go-deadlock"

// Mutex is an exclusive lock tagged with a Rank.
// Must be unlocked by the goroutine that locked it.
type Mutex struct {
	rank Rank
	mu   deadlock.Mutex
}

// NewMutex creates an exclusive ranked mutex.
func NewMutex(rank Rank) *Mutex {
	return &Mutex{rank: rank}
}

// Rank returns the mutex rank.
func (m *Mutex) Rank() Rank {
	return m.rank
}

// Lock acquires the mutex, verifying rank order first.
func (m *Mutex) Lock() {
	checkAcquire(m.rank)
	m.mu.Lock()
	pushRank(m.rank)
}

// Unlock releases the mutex.
func (m *Mutex) Unlock() {
	popRank(m.rank)
	m.mu.Unlock()
}

// SharedMutex is a reader/writer lock tagged with a Rank.
// Shared and exclusive acquisitions are both rank-checked.
type SharedMutex struct {
	rank Rank
	mu   deadlock.RWMutex
}

// NewSharedMutex creates a ranked reader/writer mutex.
func NewSharedMutex(rank Rank) *SharedMutex {
	return &SharedMutex{rank: rank}
}

// Rank returns the mutex rank.
func (m *SharedMutex) Rank() Rank {
	return m.rank
}

// Lock acquires exclusive mode.
func (m *SharedMutex) Lock() {
	checkAcquire(m.rank)
	m.mu.Lock()
	pushRank(m.rank)
}

// Unlock releases exclusive mode.
func (m *SharedMutex) Unlock() {
	popRank(m.rank)
	m.mu.Unlock()
}

// RLock acquires shared mode.
func (m *SharedMutex) RLock() {
	checkAcquire(m.rank)
	m.mu.RLock()
	pushRank(m.rank)
}

// RUnlock releases shared mode.
func (m *SharedMutex) RUnlock() {
	popRank(m.rank)
	m.mu.RUnlock()
}
