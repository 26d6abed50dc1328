package deathrecovery

import "sync/atomic"

// debugEnabled guards per-transition debug logging.
var debugEnabled atomic.Bool

// EnableDebugLogging turns transition logging on or off.
func EnableDebugLogging(on bool) {
	debugEnabled.Store(on)
}

// IsDebugEnabled reports whether transition logging is on.
func IsDebugEnabled() bool {
	return debugEnabled.Load()
}
