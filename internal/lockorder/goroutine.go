package lockorder

import (
	"runtime"

	"github.com/petermattis/goid"
)

// Идентификатор горутины ключует стек рангов и владельца RecursiveMutex.
// Runtime ids start at 1, so 0 doubles as "no owner".
func init() {
	if goid.Get() == 0 {
		panic("lockorder: goroutine ids unavailable on " + runtime.Version() + "; upgrade github.com/petermattis/goid")
	}
}

// GoroutineID returns the id of the calling goroutine.
func GoroutineID() int64 {
	return goid.Get()
}
