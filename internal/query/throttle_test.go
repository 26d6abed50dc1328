package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/botcore/internal/model"
)

const simulatedQueryCost = 50 * time.Microsecond

// runFrame drives one frame of n queries with the given priority through
// the optimizer's throttler, charging simulatedQueryCost per admitted query.
func runFrame(t *testing.T, o *Optimizer, frame uint64, n int, priority uint8, now time.Time) FrameSample {
	t.Helper()
	o.OnFrameStart()
	for i := range n {
		bot := model.NewGUID(frame+1, uint64(i)+1)
		if ok, _, _ := o.Throttler().Admit(bot, priority, now); ok {
			o.RecordQuery(simulatedQueryCost, false)
		}
	}
	return o.OnFrameEnd()
}

// Overload at 10,000 queries/frame raises the ratio until the frame fits the
// budget; at 100 queries/frame the ratio decays back toward zero.
func TestThrottler_AdaptsToLoad(t *testing.T) {
	o := NewOptimizer(nil, DefaultOptions())
	budget := o.Throttler().Config().TargetFrameBudget
	now := time.Unix(1_700_000_000, 0)

	var (
		ratios     []float64
		frameTimes []time.Duration
		fitAt      = -1
	)
	for frame := range 30 {
		s := runFrame(t, o, uint64(frame), 10_000, 75, now)
		now = now.Add(budget)
		ratios = append(ratios, o.Throttler().Ratio())
		frameTimes = append(frameTimes, s.TotalTime)
		if fitAt < 0 && s.TotalTime <= budget {
			fitAt = frame
		}
	}

	require.GreaterOrEqual(t, fitAt, 0, "frame time never fit the budget: %v", frameTimes)
	assert.Greater(t, ratios[0], 0.0)
	for i := 1; i < fitAt; i++ {
		assert.Greater(t, ratios[i], ratios[i-1], "ratio must rise while overloaded (frame %d)", i)
	}

	peak := o.Throttler().Ratio()
	prev := peak
	for frame := 30; frame < 90; frame++ {
		runFrame(t, o, uint64(frame), 100, 75, now)
		now = now.Add(budget)
		r := o.Throttler().Ratio()
		assert.LessOrEqual(t, r, prev, "ratio must not rise under light load (frame %d)", frame)
		prev = r
	}
	assert.Less(t, prev, 0.05, "ratio returns toward 0 within 60 frames (peak %.3f)", peak)
	assert.False(t, o.Throttler().Emergency())
}

// Over many queries at a fixed ratio r the admission rate approaches 1 − r.
func TestThrottler_AdmissionProbability(t *testing.T) {
	tests := []float64{0, 0.25, 0.5, 0.9}
	for _, r := range tests {
		cfg := DefaultThrottleConfig()
		cfg.MaxQueriesPerFrame = 1_000_000
		th := NewThrottler(cfg)
		th.setRatio(r)

		const n = 100_000
		now := time.Unix(1_700_000_000, 0)
		admitted := 0
		for i := range n {
			if ok, _, _ := th.Admit(model.NewGUID(1, uint64(i)), 50, now); ok {
				admitted++
			}
		}
		assert.InDelta(t, 1-r, float64(admitted)/n, 0.01, "ratio %.2f", r)
	}
}

func TestThrottler_CriticalBypassesRatioAndCap(t *testing.T) {
	cfg := DefaultThrottleConfig()
	cfg.MaxQueriesPerFrame = 100
	cfg.MinQueriesPerFrame = 1
	th := NewThrottler(cfg)
	th.setRatio(1)
	now := time.Unix(1_700_000_000, 0)

	ok, reason, delay := th.Admit(model.NewGUID(1, 1), 50, now)
	assert.False(t, ok)
	assert.Equal(t, ReasonRatio, reason)
	assert.Equal(t, cfg.TargetFrameBudget, delay)

	for i := range 200 {
		ok, _, _ := th.Admit(model.NewGUID(1, uint64(i)+2), cfg.CriticalPriority, now)
		require.True(t, ok)
	}
}

func TestThrottler_FrameCap(t *testing.T) {
	cfg := DefaultThrottleConfig()
	cfg.MaxQueriesPerFrame = 10
	cfg.MinQueriesPerFrame = 1
	th := NewThrottler(cfg)
	now := time.Unix(1_700_000_000, 0)

	admitted := 0
	for i := range 15 {
		if ok, reason, _ := th.Admit(model.NewGUID(1, uint64(i)), 50, now); ok {
			admitted++
		} else {
			assert.Equal(t, ReasonFrameCap, reason)
		}
	}
	assert.Equal(t, 10, admitted)
	assert.Equal(t, 10, th.FrameAdmitted())

	th.ResetFrame()
	ok, _, _ := th.Admit(model.NewGUID(2, 1), 50, now)
	assert.True(t, ok)
}

func TestThrottler_MinInterval(t *testing.T) {
	cfg := DefaultThrottleConfig()
	cfg.MinQueryInterval = 200 * time.Millisecond
	th := NewThrottler(cfg)
	bot := model.NewGUID(1, 1)
	now := time.Unix(1_700_000_000, 0)

	ok, _, _ := th.Admit(bot, 50, now)
	require.True(t, ok)

	ok, reason, delay := th.Admit(bot, 50, now.Add(50*time.Millisecond))
	assert.False(t, ok)
	assert.Equal(t, ReasonInterval, reason)
	assert.Equal(t, 150*time.Millisecond, delay)

	ok, _, _ = th.Admit(bot, 50, now.Add(200*time.Millisecond))
	assert.True(t, ok)
}

func TestThrottler_EmergencyMode(t *testing.T) {
	th := NewThrottler(DefaultThrottleConfig())
	cfg := th.Config()
	now := time.Unix(1_700_000_000, 0)
	overload := time.Duration(float64(cfg.TargetFrameBudget) * 3)

	for i := range cfg.EmergencyFrames - 1 {
		th.Adjust(overload)
		assert.False(t, th.Emergency(), "frame %d", i)
	}
	th.Adjust(overload)
	require.True(t, th.Emergency())
	assert.Equal(t, cfg.EmergencyQueryInterval, th.MinQueryInterval())

	ok, reason, _ := th.Admit(model.NewGUID(1, 1), cfg.EmergencyPriority-1, now)
	assert.False(t, ok)
	assert.Equal(t, ReasonEmergency, reason)

	for range cfg.RecoveryFrames - 1 {
		th.Adjust(0)
	}
	assert.True(t, th.Emergency())
	th.Adjust(0)
	assert.False(t, th.Emergency())
	assert.Equal(t, time.Duration(0), th.MinQueryInterval())
}

func TestThrottler_HoldsBetweenWatermarks(t *testing.T) {
	th := NewThrottler(DefaultThrottleConfig())
	th.setRatio(0.4)
	capBefore := th.MaxQueriesPerFrame()

	th.Adjust(time.Duration(float64(th.Config().TargetFrameBudget) * 0.7))
	assert.Equal(t, 0.4, th.Ratio())
	assert.Equal(t, capBefore, th.MaxQueriesPerFrame())
}

func TestThrottler_CapBounds(t *testing.T) {
	th := NewThrottler(DefaultThrottleConfig())
	cfg := th.Config()
	for range 50 {
		th.Adjust(cfg.TargetFrameBudget * 10)
	}
	assert.Equal(t, cfg.MinQueriesPerFrame, th.MaxQueriesPerFrame())
	assert.LessOrEqual(t, th.Ratio(), 1.0)

	for range 50 {
		th.Adjust(0)
	}
	assert.Equal(t, cfg.MaxQueriesPerFrame, th.MaxQueriesPerFrame())
	assert.Equal(t, 0.0, th.Ratio())
}
