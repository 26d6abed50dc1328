package eventbus

import (
	"runtime"
	"sync/atomic"

	"github.com/udisondev/botcore/internal/model"
)

// slot is one ring cell. seq encodes the cell state relative to head/tail:
// seq == pos means free for the producer at pos, seq == pos+1 means
// published for the consumer at pos.
type slot struct {
	seq atomic.Uint64
	ev  model.HostileEvent
}

// Queue is a bounded lock-free multi-producer/multi-consumer FIFO of HostileEvents.
// Thread-Safety:
//   - TryPush: CAS on tail, any number of producers
//   - TryPop: CAS on head, any number of consumers
//   - Per-slot sequence numbers prevent reading partial writes
//
// Overflow: TryPush fails; the caller decides what to drop.
type Queue struct {
	head atomic.Uint64 // next position to pop
	_    [56]byte
	tail atomic.Uint64 // next position to push
	_    [56]byte

	mask     uint64
	capacity uint64 // logical capacity (ring may be larger)
	slots    []slot
}

// NewQueue creates a queue holding at most capacity events.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	size := uint64(1)
	for size < uint64(capacity) {
		size <<= 1
	}

	q := &Queue{
		mask:     size - 1,
		capacity: uint64(capacity),
		slots:    make([]slot, size),
	}
	for i := range q.slots {
		q.slots[i].seq.Store(uint64(i))
	}
	return q
}

// Cap returns the logical capacity.
func (q *Queue) Cap() int {
	return int(q.capacity)
}

// Len returns an approximate number of queued events.
func (q *Queue) Len() int {
	tail := q.tail.Load()
	head := q.head.Load()
	if tail < head {
		return 0
	}
	return int(tail - head)
}

// TryPush appends ev without blocking. Returns false if the queue is full.
func (q *Queue) TryPush(ev model.HostileEvent) bool {
	for {
		pos := q.tail.Load()
		head := q.head.Load()
		if pos < head {
			continue // tail snapshot went stale while consumers caught up
		}
		if pos-head >= q.capacity {
			return false
		}

		s := &q.slots[pos&q.mask]
		seq := s.seq.Load()
		diff := int64(seq) - int64(pos)

		switch {
		case diff == 0:
			if q.tail.CompareAndSwap(pos, pos+1) {
				s.ev = ev
				s.seq.Store(pos + 1) // publish after write
				return true
			}
		case diff < 0:
			// not full, but the consumer one lap behind is still freeing the slot
			runtime.Gosched()
		}
		// another producer advanced tail, retry
	}
}

// TryPop removes the oldest event without blocking.
func (q *Queue) TryPop() (model.HostileEvent, bool) {
	for {
		pos := q.head.Load()
		s := &q.slots[pos&q.mask]
		seq := s.seq.Load()
		diff := int64(seq) - int64(pos+1)

		switch {
		case diff == 0:
			if q.head.CompareAndSwap(pos, pos+1) {
				ev := s.ev
				s.seq.Store(pos + q.mask + 1) // free for the producer one lap ahead
				return ev, true
			}
		case diff < 0:
			return model.HostileEvent{}, false // empty or producer mid-write
		}
	}
}
