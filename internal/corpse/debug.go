package corpse

import "sync/atomic"

var debugEnabled atomic.Bool

// EnableDebugLogging toggles per-death debug logging.
func EnableDebugLogging(on bool) {
	debugEnabled.Store(on)
}

// IsDebugEnabled reports whether per-death debug logging is on.
func IsDebugEnabled() bool {
	return debugEnabled.Load()
}
