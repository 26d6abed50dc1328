package query

import (
	"sync/atomic"
	"time"

	"github.com/udisondev/botcore/internal/lockorder"
)

// Metrics defaults.
const (
	DefaultWindowFrames = 60
	defaultEMAAlpha     = 0.1
)

// FrameSample is the query load of one frame.
type FrameSample struct {
	Queries   int
	CacheHits int
	GridScans int
	TotalTime time.Duration
	MaxTime   time.Duration
}

// HitRate returns CacheHits / Queries (0 for an idle frame).
func (s FrameSample) HitRate() float64 {
	if s.Queries == 0 {
		return 0
	}
	return float64(s.CacheHits) / float64(s.Queries)
}

// Metrics keeps a rolling window of frame samples and smoothed averages.
// Per-frame counters are atomics written by bot goroutines; the window is
// updated by the main goroutine at frame end.
type Metrics struct {
	queries    atomic.Int64
	hits       atomic.Int64
	scans      atomic.Int64
	totalNanos atomic.Int64
	maxNanos   atomic.Int64

	mu         *lockorder.Mutex
	window     []FrameSample
	next       int
	filled     int
	frames     uint64
	hitRateEMA float64
	latencyEMA float64 // nanos per query
	alpha      float64
}

// NewMetrics creates metrics with a window of the given number of frames.
func NewMetrics(windowFrames int) *Metrics {
	if windowFrames <= 0 {
		windowFrames = DefaultWindowFrames
	}
	return &Metrics{
		mu:     lockorder.NewMutex(lockorder.RankQueryMetrics),
		window: make([]FrameSample, windowFrames),
		alpha:  defaultEMAAlpha,
	}
}

// RecordQuery accounts one query of duration d in the current frame.
// hit marks a query served without a cache scan; scanned marks a physical grid scan.
func (m *Metrics) RecordQuery(d time.Duration, hit, scanned bool) {
	m.queries.Add(1)
	if hit {
		m.hits.Add(1)
	}
	if scanned {
		m.scans.Add(1)
	}
	n := d.Nanoseconds()
	m.totalNanos.Add(n)
	for {
		cur := m.maxNanos.Load()
		if n <= cur || m.maxNanos.CompareAndSwap(cur, n) {
			break
		}
	}
}

// StartFrame clears the per-frame counters.
func (m *Metrics) StartFrame() {
	m.queries.Store(0)
	m.hits.Store(0)
	m.scans.Store(0)
	m.totalNanos.Store(0)
	m.maxNanos.Store(0)
}

// Current returns the counters of the frame in progress.
func (m *Metrics) Current() FrameSample {
	return FrameSample{
		Queries:   int(m.queries.Load()),
		CacheHits: int(m.hits.Load()),
		GridScans: int(m.scans.Load()),
		TotalTime: time.Duration(m.totalNanos.Load()),
		MaxTime:   time.Duration(m.maxNanos.Load()),
	}
}

// EndFrame closes the current frame: stores its sample in the window,
// updates the averages and clears the per-frame counters.
func (m *Metrics) EndFrame() FrameSample {
	s := m.Current()
	m.StartFrame()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.window[m.next] = s
	m.next = (m.next + 1) % len(m.window)
	if m.filled < len(m.window) {
		m.filled++
	}

	if s.Queries > 0 {
		latency := float64(s.TotalTime.Nanoseconds()) / float64(s.Queries)
		if m.frames == 0 {
			m.hitRateEMA = s.HitRate()
			m.latencyEMA = latency
		} else {
			m.hitRateEMA += m.alpha * (s.HitRate() - m.hitRateEMA)
			m.latencyEMA += m.alpha * (latency - m.latencyEMA)
		}
		m.frames++
	}
	return s
}

// MetricsSnapshot aggregates the window.
type MetricsSnapshot struct {
	Frames             int
	TotalQueries       int
	AvgQueriesPerFrame float64
	AvgFrameQueryTime  time.Duration
	PeakFrameQueryTime time.Duration
	PeakQueryTime      time.Duration
	GridScans          int
	HitRateEMA         float64
	LatencyEMA         time.Duration
}

// Snapshot returns window aggregates.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := MetricsSnapshot{
		Frames:     m.filled,
		HitRateEMA: m.hitRateEMA,
		LatencyEMA: time.Duration(m.latencyEMA),
	}
	var total time.Duration
	for i := range m.filled {
		f := m.window[i]
		s.TotalQueries += f.Queries
		s.GridScans += f.GridScans
		total += f.TotalTime
		s.PeakFrameQueryTime = max(s.PeakFrameQueryTime, f.TotalTime)
		s.PeakQueryTime = max(s.PeakQueryTime, f.MaxTime)
	}
	if m.filled > 0 {
		s.AvgQueriesPerFrame = float64(s.TotalQueries) / float64(m.filled)
		s.AvgFrameQueryTime = total / time.Duration(m.filled)
	}
	return s
}
