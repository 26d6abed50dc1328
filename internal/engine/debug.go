package engine

import "sync/atomic"

var debugEnabled atomic.Bool

// EnableDebugLogging enables per-frame debug logging of the main loop.
func EnableDebugLogging(on bool) {
	debugEnabled.Store(on)
}

// IsDebugEnabled reports whether per-frame debug logging is on.
func IsDebugEnabled() bool {
	return debugEnabled.Load()
}
