package spatial

import "sync/atomic"

// debugEnabled guards per-iteration debug logging on the worker hot path.
var debugEnabled atomic.Bool

// EnableDebugLogging turns per-iteration worker logging on or off.
func EnableDebugLogging(on bool) {
	debugEnabled.Store(on)
}

// IsDebugEnabled reports whether worker debug logging is on.
func IsDebugEnabled() bool {
	return debugEnabled.Load()
}
