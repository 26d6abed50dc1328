package coordinator

import "sync/atomic"

// debugEnabled guards verbose coordinator logging.
var debugEnabled atomic.Bool

// EnableDebugLogging turns verbose coordinator logging on or off.
func EnableDebugLogging(on bool) {
	debugEnabled.Store(on)
}

// IsDebugEnabled reports whether verbose coordinator logging is on.
func IsDebugEnabled() bool {
	return debugEnabled.Load()
}
