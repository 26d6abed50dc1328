package query

import (
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/udisondev/botcore/internal/model"
)

// ThrottleConfig tunes the adaptive throttler.
type ThrottleConfig struct {
	TargetFrameBudget time.Duration // frame time the query load should fit in
	HighWatermark     float64       // load above which throttling tightens
	LowWatermark      float64       // load below which throttling relaxes
	TargetLoad        float64       // load the ratio controller aims for
	Smoothing         float64       // fraction of the gap to the target closed per frame

	MaxQueriesPerFrame int // initial and upper per-frame admission cap
	MinQueriesPerFrame int

	MinQueryInterval       time.Duration // per-bot spacing in normal mode (0 = off)
	EmergencyQueryInterval time.Duration // per-bot spacing in emergency mode

	EmergencyLoad     float64 // load considered saturation
	EmergencyFrames   int     // consecutive saturated frames before emergency mode
	RecoveryFrames    int     // consecutive relaxed frames before leaving it
	EmergencyPriority uint8   // minimum priority admitted in emergency mode
	CriticalPriority  uint8   // priority that bypasses the ratio and the frame cap
}

// DefaultThrottleConfig returns the stock tuning for a 60 FPS host.
func DefaultThrottleConfig() ThrottleConfig {
	return ThrottleConfig{
		TargetFrameBudget:      16700 * time.Microsecond,
		HighWatermark:          0.85,
		LowWatermark:           0.5,
		TargetLoad:             0.75,
		Smoothing:              0.5,
		MaxQueriesPerFrame:     2000,
		MinQueriesPerFrame:     50,
		MinQueryInterval:       0,
		EmergencyQueryInterval: 100 * time.Millisecond,
		EmergencyLoad:          2.0,
		EmergencyFrames:        5,
		RecoveryFrames:         3,
		EmergencyPriority:      60,
		CriticalPriority:       95,
	}
}

// Reason explains a throttle decision.
type Reason uint8

const (
	ReasonNone Reason = iota
	ReasonEmergency
	ReasonFrameCap
	ReasonInterval
	ReasonRatio
)

// String returns human-readable reason.
func (r Reason) String() string {
	switch r {
	case ReasonEmergency:
		return "EMERGENCY"
	case ReasonFrameCap:
		return "FRAME_CAP"
	case ReasonInterval:
		return "INTERVAL"
	case ReasonRatio:
		return "RATIO"
	default:
		return "NONE"
	}
}

// Throttler decides query admission and adapts to frame load.
// Admit is called from bot goroutines; Adjust and ResetFrame from the main goroutine.
type Throttler struct {
	cfg ThrottleConfig

	ratioBits          atomic.Uint64 // float64 throttle ratio in [0,1]
	maxQueriesPerFrame atomic.Int32
	minIntervalNanos   atomic.Int64
	emergency          atomic.Bool
	frameAdmitted      atomic.Int32

	lastQuery sync.Map // map[model.GUID]int64 unix nanos of last admitted query

	// Main goroutine only.
	saturatedStreak int
	relaxedStreak   int

	admitted        atomic.Uint64
	throttled       [ReasonRatio + 1]atomic.Uint64
	emergencyEnters atomic.Uint64
	lastLoadBits    atomic.Uint64
}

// NewThrottler creates a throttler with ratio 0.
func NewThrottler(cfg ThrottleConfig) *Throttler {
	d := DefaultThrottleConfig()
	if cfg.TargetFrameBudget <= 0 {
		cfg.TargetFrameBudget = d.TargetFrameBudget
	}
	if cfg.HighWatermark <= 0 {
		cfg.HighWatermark = d.HighWatermark
	}
	if cfg.LowWatermark <= 0 || cfg.LowWatermark >= cfg.HighWatermark {
		cfg.LowWatermark = cfg.HighWatermark * d.LowWatermark / d.HighWatermark
	}
	if cfg.TargetLoad <= cfg.LowWatermark || cfg.TargetLoad >= cfg.HighWatermark {
		cfg.TargetLoad = (cfg.LowWatermark + cfg.HighWatermark) / 2
	}
	if cfg.Smoothing <= 0 || cfg.Smoothing > 1 {
		cfg.Smoothing = d.Smoothing
	}
	if cfg.MaxQueriesPerFrame <= 0 {
		cfg.MaxQueriesPerFrame = d.MaxQueriesPerFrame
	}
	if cfg.MinQueriesPerFrame <= 0 || cfg.MinQueriesPerFrame > cfg.MaxQueriesPerFrame {
		cfg.MinQueriesPerFrame = min(d.MinQueriesPerFrame, cfg.MaxQueriesPerFrame)
	}
	if cfg.EmergencyQueryInterval <= 0 {
		cfg.EmergencyQueryInterval = d.EmergencyQueryInterval
	}
	if cfg.EmergencyLoad <= cfg.HighWatermark {
		cfg.EmergencyLoad = max(d.EmergencyLoad, cfg.HighWatermark*2)
	}
	if cfg.EmergencyFrames <= 0 {
		cfg.EmergencyFrames = d.EmergencyFrames
	}
	if cfg.RecoveryFrames <= 0 {
		cfg.RecoveryFrames = d.RecoveryFrames
	}
	if cfg.EmergencyPriority == 0 {
		cfg.EmergencyPriority = d.EmergencyPriority
	}
	if cfg.CriticalPriority == 0 {
		cfg.CriticalPriority = d.CriticalPriority
	}

	t := &Throttler{cfg: cfg}
	t.maxQueriesPerFrame.Store(int32(cfg.MaxQueriesPerFrame))
	t.minIntervalNanos.Store(cfg.MinQueryInterval.Nanoseconds())
	return t
}

// Config returns the effective configuration.
func (t *Throttler) Config() ThrottleConfig {
	return t.cfg
}

// Ratio returns the current throttle ratio.
func (t *Throttler) Ratio() float64 {
	return math.Float64frombits(t.ratioBits.Load())
}

func (t *Throttler) setRatio(r float64) {
	t.ratioBits.Store(math.Float64bits(min(max(r, 0), 1)))
}

// MaxQueriesPerFrame returns the current per-frame admission cap.
func (t *Throttler) MaxQueriesPerFrame() int {
	return int(t.maxQueriesPerFrame.Load())
}

// MinQueryInterval returns the current per-bot query spacing.
func (t *Throttler) MinQueryInterval() time.Duration {
	return time.Duration(t.minIntervalNanos.Load())
}

// Emergency reports whether emergency mode is active.
func (t *Throttler) Emergency() bool {
	return t.emergency.Load()
}

// LastLoad returns the load signal computed at the last Adjust.
func (t *Throttler) LastLoad() float64 {
	return math.Float64frombits(t.lastLoadBits.Load())
}

// ResetFrame clears the per-frame admission count.
func (t *Throttler) ResetFrame() {
	t.frameAdmitted.Store(0)
}

// FrameAdmitted returns queries admitted in the current frame.
func (t *Throttler) FrameAdmitted() int {
	return int(t.frameAdmitted.Load())
}

// Admit decides whether bot may run a query with priority now.
// Returns the reason and a suggested retry delay when throttled.
func (t *Throttler) Admit(bot model.GUID, priority uint8, now time.Time) (bool, Reason, time.Duration) {
	if t.emergency.Load() && priority < t.cfg.EmergencyPriority {
		return t.reject(ReasonEmergency, t.cfg.EmergencyQueryInterval)
	}

	critical := priority >= t.cfg.CriticalPriority
	nowNanos := now.UnixNano()

	if interval := t.minIntervalNanos.Load(); interval > 0 && !critical {
		if v, ok := t.lastQuery.Load(bot); ok {
			if elapsed := nowNanos - v.(int64); elapsed < interval {
				return t.reject(ReasonInterval, time.Duration(interval-elapsed))
			}
		}
	}

	if !critical {
		if r := t.Ratio(); r > 0 && rand.Float64() < r {
			return t.reject(ReasonRatio, t.cfg.TargetFrameBudget)
		}
		if n := t.frameAdmitted.Add(1); n > t.maxQueriesPerFrame.Load() {
			t.frameAdmitted.Add(-1)
			return t.reject(ReasonFrameCap, t.cfg.TargetFrameBudget)
		}
	} else {
		t.frameAdmitted.Add(1)
	}

	t.lastQuery.Store(bot, nowNanos)
	t.admitted.Add(1)
	return true, ReasonNone, 0
}

func (t *Throttler) reject(reason Reason, delay time.Duration) (bool, Reason, time.Duration) {
	t.throttled[reason].Add(1)
	return false, reason, delay
}

// Forget drops per-bot state.
func (t *Throttler) Forget(bot model.GUID) {
	t.lastQuery.Delete(bot)
}

// Adjust feeds the frame's total query time into the controller.
//
// load = frameTime / budget. Above the high watermark the admitted fraction is
// scaled toward TargetLoad/load and the frame cap shrinks; below the low
// watermark both relax the same way. Between the watermarks nothing changes.
func (t *Throttler) Adjust(frameTime time.Duration) {
	load := float64(frameTime) / float64(t.cfg.TargetFrameBudget)
	t.lastLoadBits.Store(math.Float64bits(load))

	ratio := t.Ratio()
	admitFraction := 1 - ratio

	switch {
	case load > t.cfg.HighWatermark:
		target := 1 - admitFraction*(t.cfg.TargetLoad/load)
		t.setRatio(ratio + t.cfg.Smoothing*(target-ratio))
		t.scaleCap(0.75)

	case load < t.cfg.LowWatermark && ratio > 0:
		target := 0.0
		if load > 0 {
			target = 1 - admitFraction*(t.cfg.TargetLoad/load)
		}
		next := ratio + t.cfg.Smoothing*(max(target, 0)-ratio)
		if next < 1e-4 {
			next = 0
		}
		t.setRatio(next)
		t.scaleCap(1.25)

	case load < t.cfg.LowWatermark:
		t.scaleCap(1.25)
	}

	t.updateEmergency(load)
}

func (t *Throttler) scaleCap(k float64) {
	cur := float64(t.maxQueriesPerFrame.Load())
	next := int32(math.Round(cur * k))
	next = min(max(next, int32(t.cfg.MinQueriesPerFrame)), int32(t.cfg.MaxQueriesPerFrame))
	t.maxQueriesPerFrame.Store(next)
}

func (t *Throttler) updateEmergency(load float64) {
	if load > t.cfg.EmergencyLoad {
		t.saturatedStreak++
	} else {
		t.saturatedStreak = 0
	}
	if load < t.cfg.LowWatermark {
		t.relaxedStreak++
	} else {
		t.relaxedStreak = 0
	}

	switch {
	case !t.emergency.Load() && t.saturatedStreak >= t.cfg.EmergencyFrames:
		t.emergency.Store(true)
		t.minIntervalNanos.Store(t.cfg.EmergencyQueryInterval.Nanoseconds())
		t.emergencyEnters.Add(1)
		slog.Warn("query throttler entered emergency mode",
			"load", load,
			"ratio", t.Ratio(),
			"maxQueriesPerFrame", t.MaxQueriesPerFrame())

	case t.emergency.Load() && t.relaxedStreak >= t.cfg.RecoveryFrames:
		t.emergency.Store(false)
		t.minIntervalNanos.Store(t.cfg.MinQueryInterval.Nanoseconds())
		slog.Info("query throttler left emergency mode", "load", load, "ratio", t.Ratio())
	}
}

// ThrottleStats is a point-in-time view of the throttler.
type ThrottleStats struct {
	Ratio              float64
	MaxQueriesPerFrame int
	MinQueryInterval   time.Duration
	Emergency          bool
	EmergencyEntries   uint64
	LastLoad           float64
	Admitted           uint64
	Throttled          uint64
	ThrottledBy        map[Reason]uint64
}

// Stats returns current counters.
func (t *Throttler) Stats() ThrottleStats {
	s := ThrottleStats{
		Ratio:              t.Ratio(),
		MaxQueriesPerFrame: t.MaxQueriesPerFrame(),
		MinQueryInterval:   t.MinQueryInterval(),
		Emergency:          t.Emergency(),
		EmergencyEntries:   t.emergencyEnters.Load(),
		LastLoad:           t.LastLoad(),
		Admitted:           t.admitted.Load(),
		ThrottledBy:        make(map[Reason]uint64, len(t.throttled)),
	}
	for r := range t.throttled {
		n := t.throttled[r].Load()
		if n > 0 {
			s.ThrottledBy[Reason(r)] = n
		}
		s.Throttled += n
	}
	return s
}
