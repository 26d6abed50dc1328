package lockorder

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sasha-s/go-deadlock"
)

// DeadlockOptions configures go-deadlock's wait-timeout detector.
type DeadlockOptions struct {
	Enabled bool
	Timeout time.Duration // how long a Lock may wait before it is reported
}

var potentialDeadlocks atomic.Int64

// ConfigureDeadlockDetection installs the detector settings.
// Must be called once at startup, before any ranked lock is used.
// Potential deadlocks are logged and counted; the process keeps running.
func ConfigureDeadlockDetection(opts DeadlockOptions) {
	deadlock.Opts.Disable = !opts.Enabled
	// Ordering is enforced by ranks; the detector only watches for stuck waits.
	deadlock.Opts.DisableLockOrderDetection = true
	if opts.Timeout > 0 {
		deadlock.Opts.DeadlockTimeout = opts.Timeout
	}
	deadlock.Opts.LogBuf = slogWriter{}
	deadlock.Opts.OnPotentialDeadlock = func() {
		potentialDeadlocks.Add(1)
	}
}

// PotentialDeadlocks returns how many stuck lock waits the detector reported.
func PotentialDeadlocks() int64 {
	return potentialDeadlocks.Load()
}

// slogWriter forwards go-deadlock reports to slog, one record per write.
type slogWriter struct{}

func (slogWriter) Write(p []byte) (int, error) {
	msg := strings.TrimSpace(string(p))
	if msg != "" {
		slog.Warn("deadlock detector", "report", msg)
	}
	return len(p), nil
}

// Reporter periodically logs new potential deadlocks and ordering violations.
type Reporter struct {
	interval       time.Duration
	lastDeadlocks  int64
	lastViolations int64
}

// NewReporter creates a reporter with the given check interval.
func NewReporter(interval time.Duration) *Reporter {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Reporter{interval: interval}
}

// Start runs the reporter until ctx is cancelled.
func (r *Reporter) Start(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	slog.Info("deadlock reporter started", "interval", r.interval)

	for {
		select {
		case <-ctx.Done():
			slog.Info("deadlock reporter stopping")
			return ctx.Err()
		case <-ticker.C:
			r.Check()
		}
	}
}

// Check logs counters that grew since the previous check.
// Returns true if anything new was reported.
func (r *Reporter) Check() bool {
	reported := false

	if n := PotentialDeadlocks(); n > r.lastDeadlocks {
		slog.Error("potential deadlocks detected", "new", n-r.lastDeadlocks, "total", n)
		r.lastDeadlocks = n
		reported = true
	}
	if n := Violations(); n > r.lastViolations {
		slog.Error("lock ordering violations raised", "new", n-r.lastViolations, "total", n)
		r.lastViolations = n
		reported = true
	}
	return reported
}
