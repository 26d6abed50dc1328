package lockorder

import (
	"errors"
	"fmt"
)

// ErrOrderViolation is the sentinel wrapped by every OrderViolation.
var ErrOrderViolation = errors.New("lock ordering violation")

// OrderViolation describes an out-of-rank acquisition attempt.
// Raised as a panic value when ordering checks are enabled.
type OrderViolation struct {
	Held      Rank  // highest rank held by the goroutine
	Requested Rank  // rank of the lock being acquired
	HeldCount int   // number of locks held at the time
	Goroutine int64 // goroutine id
}

func (v *OrderViolation) Error() string {
	return fmt.Sprintf("lock ordering violation: goroutine %d holds %s (%d locks held), requested %s",
		v.Goroutine, v.Held, v.HeldCount, v.Requested)
}

func (v *OrderViolation) Unwrap() error {
	return ErrOrderViolation
}
