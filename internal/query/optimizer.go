// Package query implements per-frame admission control for bot hostile queries:
// rolling load metrics, an adaptive throttler, priority scoring, batching of
// near-identical queries and a per-bot local result cache.
package query

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/udisondev/botcore/internal/host"
	"github.com/udisondev/botcore/internal/model"
	"github.com/udisondev/botcore/internal/spatial"
)

// Options configures an Optimizer.
type Options struct {
	Throttle       ThrottleConfig
	WindowFrames   int
	LocalCacheSize int
	LocalCacheTTL  time.Duration
}

// DefaultOptions returns stock optimizer options.
func DefaultOptions() Options {
	return Options{
		Throttle:       DefaultThrottleConfig(),
		WindowFrames:   DefaultWindowFrames,
		LocalCacheSize: spatial.DefaultLocalCacheSize,
		LocalCacheTTL:  spatial.DefaultLocalCacheTTL,
	}
}

// Decision is the admission verdict for one query. Callers obey it verbatim.
type Decision struct {
	UseLocalCache  bool
	Throttled      bool
	Reason         Reason
	Batched        bool // an identical batch is already accumulating
	SuggestedDelay time.Duration
	Results        []model.HostileEntry // set when UseLocalCache
	BatchKey       BatchKey
}

// Optimizer sits between bot AI and the spatial cache.
type Optimizer struct {
	cache     *spatial.Cache
	metrics   *Metrics
	throttler *Throttler
	batcher   *Batcher
	opts      Options
	now       func() time.Time

	locals sync.Map // map[model.GUID]*spatial.LocalCache

	frame     atomic.Uint64
	localHits atomic.Uint64
	executed  atomic.Uint64
}

// NewOptimizer creates an optimizer over cache.
func NewOptimizer(cache *spatial.Cache, opts Options) *Optimizer {
	return &Optimizer{
		cache:     cache,
		metrics:   NewMetrics(opts.WindowFrames),
		throttler: NewThrottler(opts.Throttle),
		batcher:   NewBatcher(),
		opts:      opts,
		now:       time.Now,
	}
}

// SetClock overrides the time source (tests). Call before use.
func (o *Optimizer) SetClock(now func() time.Time) {
	o.now = now
}

// Metrics returns the rolling metrics.
func (o *Optimizer) Metrics() *Metrics {
	return o.metrics
}

// Throttler returns the adaptive throttler.
func (o *Optimizer) Throttler() *Throttler {
	return o.throttler
}

// Batcher returns the query batcher.
func (o *Optimizer) Batcher() *Batcher {
	return o.batcher
}

// OnFrameStart clears per-frame counters. Main goroutine.
func (o *Optimizer) OnFrameStart() {
	o.metrics.StartFrame()
	o.throttler.ResetFrame()
}

// OnFrameEnd feeds the frame's metrics into the throttler. Main goroutine.
func (o *Optimizer) OnFrameEnd() FrameSample {
	sample := o.metrics.EndFrame()
	o.throttler.Adjust(sample.TotalTime)
	o.throttler.ResetFrame()
	o.frame.Add(1)
	return sample
}

// Frame returns the number of completed frames.
func (o *Optimizer) Frame() uint64 {
	return o.frame.Load()
}

// LocalCache returns the bot's local cache, creating it on first use.
func (o *Optimizer) LocalCache(bot model.GUID) *spatial.LocalCache {
	if v, ok := o.locals.Load(bot); ok {
		return v.(*spatial.LocalCache)
	}
	lc := spatial.NewLocalCache(o.opts.LocalCacheSize, o.opts.LocalCacheTTL)
	lc.SetClock(o.now)
	v, _ := o.locals.LoadOrStore(bot, lc)
	return v.(*spatial.LocalCache)
}

// RemoveBot drops per-bot state (local cache, interval tracking).
func (o *Optimizer) RemoveBot(bot model.GUID) {
	o.locals.Delete(bot)
	o.throttler.Forget(bot)
}

// ObserveCombat forwards a bot's combat state to its local cache.
// Returns true if the transition invalidated the cache.
func (o *Optimizer) ObserveCombat(bot model.GUID, inCombat bool) bool {
	return o.LocalCache(bot).ObserveCombat(inCombat)
}

// OptimizeQuery decides how a query for bot with rng and priority is served:
// from the bot's local cache, not at all (throttled, retry after
// SuggestedDelay) or by a (possibly shared) cache scan.
func (o *Optimizer) OptimizeQuery(bot host.Bot, rng float32, priority uint8) Decision {
	pos := bot.Position()
	lc := o.LocalCache(bot.GUID())
	lc.ObserveCombat(bot.InCombat())

	if results, ok := lc.Get(pos, rng); ok {
		o.localHits.Add(1)
		o.metrics.RecordQuery(0, true, false)
		return Decision{UseLocalCache: true, Results: results}
	}

	if ok, reason, delay := o.throttler.Admit(bot.GUID(), priority, o.now()); !ok {
		return Decision{Throttled: true, Reason: reason, SuggestedDelay: delay}
	}

	key := MakeBatchKey(pos, rng)
	return Decision{Batched: o.batcher.InFlight(key), BatchKey: key}
}

// Execute runs a query end to end, obeying OptimizeQuery's decision.
// Throttled queries return no results; the caller retries after Decision.SuggestedDelay.
func (o *Optimizer) Execute(bot host.Bot, rng float32, priority uint8, maxResults int) ([]model.HostileEntry, Decision) {
	d := o.OptimizeQuery(bot, rng, priority)
	switch {
	case d.UseLocalCache:
		return truncate(d.Results, maxResults), d
	case d.Throttled:
		return nil, d
	}

	pos := bot.Position()
	start := o.now()
	results, shared := o.batcher.Do(d.BatchKey, bot.GUID(), func() []model.HostileEntry {
		return o.cache.FindHostiles(pos, rng, 0)
	})
	o.metrics.RecordQuery(o.now().Sub(start), false, !shared)
	o.executed.Add(1)

	o.LocalCache(bot.GUID()).Put(pos, rng, results)
	return truncate(results, maxResults), d
}

// RecordQuery accounts an externally measured query in the current frame.
func (o *Optimizer) RecordQuery(d time.Duration, cacheHit bool) {
	o.metrics.RecordQuery(d, cacheHit, !cacheHit)
}

func truncate(results []model.HostileEntry, maxResults int) []model.HostileEntry {
	if maxResults > 0 && len(results) > maxResults {
		return results[:maxResults:maxResults]
	}
	return results
}

// Stats is a point-in-time view of the optimizer.
type Stats struct {
	Frames    uint64
	Executed  uint64
	LocalHits uint64
	Metrics   MetricsSnapshot
	Throttle  ThrottleStats
	Batch     BatchStats
}

// Stats returns current counters.
func (o *Optimizer) Stats() Stats {
	return Stats{
		Frames:    o.frame.Load(),
		Executed:  o.executed.Load(),
		LocalHits: o.localHits.Load(),
		Metrics:   o.metrics.Snapshot(),
		Throttle:  o.throttler.Stats(),
		Batch:     o.batcher.Stats(),
	}
}
