package ai

import "sync/atomic"

// debugLoggingEnabled controls per-tick debug logging of the bot scheduler.
// Checked on every tick, so it is a plain atomic instead of a log level lookup.
// Set via EnableDebugLogging() during initialization based on config.LogLevel.
var debugLoggingEnabled atomic.Bool

// EnableDebugLogging enables or disables bot AI debug logging.
// Must be called during initialization (e.g., from main.go after parsing config).
func EnableDebugLogging(enabled bool) {
	debugLoggingEnabled.Store(enabled)
}

// IsDebugEnabled returns true if debug logging is enabled.
// Use this to guard expensive debug log calls:
//
//	if ai.IsDebugEnabled() {
//	    slog.Debug("bot tick", "hostiles", len(hostiles))
//	}
func IsDebugEnabled() bool {
	return debugLoggingEnabled.Load()
}
