package world

import (
	"github.com/udisondev/botcore/internal/lockorder"
)

// MainQueue collects work posted from other goroutines for the main tick.
// Implements host.MainThread.
type MainQueue struct {
	mu      *lockorder.Mutex
	pending []func()
	spare   []func()
}

// NewMainQueue creates an empty queue.
func NewMainQueue() *MainQueue {
	return &MainQueue{
		mu:      lockorder.NewMutex(lockorder.RankHostMainQueue),
		pending: make([]func(), 0, 64),
	}
}

// Post schedules fn for the next Drain. Safe from any goroutine.
func (q *MainQueue) Post(fn func()) {
	q.mu.Lock()
	q.pending = append(q.pending, fn)
	q.mu.Unlock()
}

// Len returns the number of pending functions.
func (q *MainQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Drain runs every function posted before the call. Must only be called by
// the main goroutine. Functions run without the queue lock held, so they may
// post follow-up work (executed on the next Drain).
func (q *MainQueue) Drain() int {
	q.mu.Lock()
	batch := q.pending
	q.pending = q.spare[:0]
	q.mu.Unlock()

	for i, fn := range batch {
		fn()
		batch[i] = nil
	}

	q.mu.Lock()
	q.spare = batch[:0]
	q.mu.Unlock()

	return len(batch)
}
