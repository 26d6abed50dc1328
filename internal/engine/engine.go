// Package engine builds the bot coordination core from configuration and
// supervises its loops: the main simulation tick, the spatial cache worker,
// the bot scheduler, the deadlock reporter and the statistics flusher.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/udisondev/botcore/internal/ai"
	"github.com/udisondev/botcore/internal/config"
	"github.com/udisondev/botcore/internal/coordinator"
	"github.com/udisondev/botcore/internal/corpse"
	"github.com/udisondev/botcore/internal/db"
	"github.com/udisondev/botcore/internal/deathrecovery"
	"github.com/udisondev/botcore/internal/eventbus"
	"github.com/udisondev/botcore/internal/lockorder"
	"github.com/udisondev/botcore/internal/query"
	"github.com/udisondev/botcore/internal/spatial"
	"github.com/udisondev/botcore/internal/world"
)

// StatsStore persists statistics snapshots (see db.StatsRepository).
type StatsStore interface {
	Save(ctx context.Context, s db.StatsSnapshot) (int64, error)
}

// Engine owns every component of the core.
type Engine struct {
	cfg config.BotCore

	World        *world.World
	Bus          *eventbus.Bus
	Cache        *spatial.Cache
	Worker       *spatial.Worker
	Optimizer    *query.Optimizer
	Corpses      *corpse.Mitigation
	Recovery     *deathrecovery.Manager
	Coordinators *coordinator.Manager
	Scheduler    *ai.Scheduler

	reporter *lockorder.Reporter
	store    StatsStore

	// Main loop state.
	now          func() time.Time
	rng          *rand.Rand
	bots         []*simBot
	zones        []simZone
	sinceCleanup time.Duration
	frames       uint64
}

// New builds the core from cfg. store may be nil to disable persistence.
// Lock checks are configured first: every component below creates ranked locks.
func New(cfg config.BotCore, store StatsStore) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}

	lockorder.EnableOrderChecks(cfg.Locks.OrderChecks)
	lockorder.ConfigureDeadlockDetection(lockorder.DeadlockOptions{
		Enabled: cfg.Locks.DeadlockDetection,
		Timeout: cfg.Locks.DeadlockTimeout,
	})

	e := &Engine{
		cfg:      cfg,
		World:    world.New(),
		Bus:      eventbus.New(cfg.EventBus.QueueCapacity),
		reporter: lockorder.NewReporter(cfg.Locks.ReportInterval),
		store:    store,
		now:      time.Now,
		rng:      rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15)),
	}

	e.World.SetCreatureHooks(eventbus.NewHooks(e.Bus, nil))

	e.Cache = spatial.NewCache(e.World, spatial.Options{
		CellsPerSide:        cfg.Spatial.CellsPerZone,
		CellSize:            cfg.Spatial.CellSize,
		UpdateInterval:      cfg.Spatial.CacheUpdateInterval,
		UpdateQueueCapacity: cfg.Spatial.UpdateQueueCapacity,
		TrafficWindow:       cfg.Spatial.TrafficWindow,
	})
	e.Worker = spatial.NewWorker(e.Cache, e.Bus, cfg.Spatial.WorkerBatchSize)

	e.Optimizer = query.NewOptimizer(e.Cache, optimizerOptions(cfg.Query))

	e.Corpses = corpse.New(e.World, e.World, corpse.Options{
		PreventionEnabled:       cfg.Corpse.PreventionEnabled,
		MaxConcurrentPrevention: cfg.Corpse.MaxConcurrentPrevention,
		CorpseExpiry:            cfg.Corpse.CorpseExpiry,
	})
	e.World.SetCorpseHooks(e.Corpses)

	e.Recovery = deathrecovery.NewManager(e.World, e.Corpses, recoveryConfig(cfg.DeathRecovery))
	e.Coordinators = coordinator.NewManager(e.World)

	e.Scheduler = ai.NewScheduler(cfg.Engine.BotTickInterval)
	if cfg.Engine.BotWorkers > 0 {
		e.Scheduler.SetNumWorkers(cfg.Engine.BotWorkers)
	}
	if cfg.Engine.ParallelThreshold > 0 {
		e.Scheduler.SetParallelThreshold(cfg.Engine.ParallelThreshold)
	}
	return e, nil
}

func optimizerOptions(c config.QueryConfig) query.Options {
	opts := query.DefaultOptions()
	opts.Throttle.TargetFrameBudget = c.TargetFrameBudget
	opts.Throttle.HighWatermark = c.HighWatermark
	opts.Throttle.LowWatermark = c.LowWatermark
	opts.Throttle.MaxQueriesPerFrame = c.MaxQueriesPerFrame
	opts.Throttle.MinQueriesPerFrame = c.MinQueriesPerFrame
	opts.Throttle.MinQueryInterval = c.MinQueryInterval
	opts.WindowFrames = c.WindowFrames
	opts.LocalCacheSize = c.BotLocalCacheSize
	opts.LocalCacheTTL = c.BotLocalCacheTTL
	return opts
}

func recoveryConfig(c config.DeathRecoveryConfig) deathrecovery.Config {
	cfg := deathrecovery.DefaultConfig()
	cfg.AutoReleaseDelay = c.AutoReleaseDelay
	cfg.PreferCorpseRun = c.PreferCorpseRun
	cfg.MaxCorpseRunDistance = c.MaxCorpseRunDistance
	cfg.AutoSpiritHealer = c.AutoSpiritHealer
	cfg.AllowBattleResurrection = c.AllowBattleResurrection
	cfg.RecoveryTimeout = c.RecoveryTimeout
	cfg.RetryDelay = c.RetryDelay
	cfg.MaxRetries = c.MaxRetries
	cfg.TeleportAckTimeout = c.TeleportAckTimeout
	cfg.ResurrectionDebounce = c.ResurrectionDebounce
	return cfg
}

// Config returns the configuration the engine was built with.
func (e *Engine) Config() config.BotCore {
	return e.cfg
}

// SetSeed makes the simulation deterministic. Call before Populate.
func (e *Engine) SetSeed(seed uint64) {
	e.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// SetClock overrides the engine time source (tests).
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Run starts every loop and blocks until ctx is done or a loop fails.
// Cancellation is a clean shutdown and returns nil.
func (e *Engine) Run(ctx context.Context) error {
	if d := e.cfg.Simulation.Duration; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return e.runMain(gctx)
	})
	g.Go(func() error {
		if err := e.Worker.Start(gctx); err != nil {
			return fmt.Errorf("spatial cache worker: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := e.Scheduler.Start(gctx); err != nil {
			return fmt.Errorf("bot scheduler: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := e.reporter.Start(gctx); err != nil {
			return fmt.Errorf("deadlock reporter: %w", err)
		}
		return nil
	})
	if e.store != nil && e.cfg.StatsFlushInterval > 0 {
		g.Go(func() error {
			return e.runFlusher(gctx)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		err = nil
	}
	slog.Info("engine stopped", "frames", e.frames, "err", err)
	return err
}

// runMain owns the main simulation goroutine: coordinator creation and every
// host mutation happen here.
func (e *Engine) runMain(ctx context.Context) error {
	e.Coordinators.BindMainThread()

	ticker := time.NewTicker(e.cfg.Engine.MainTickInterval)
	defer ticker.Stop()

	slog.Info("main loop started", "interval", e.cfg.Engine.MainTickInterval)

	last := e.now()
	for {
		select {
		case <-ctx.Done():
			slog.Info("main loop stopping", "frames", e.frames)
			return ctx.Err()
		case <-ticker.C:
			now := e.now()
			if err := e.Step(now.Sub(last)); err != nil {
				return fmt.Errorf("main loop: %w", err)
			}
			last = now
		}
	}
}

// Step runs one main-thread frame. Must be called from the goroutine bound
// with Coordinators.BindMainThread.
func (e *Engine) Step(diff time.Duration) error {
	e.frames++
	e.Optimizer.OnFrameStart()

	// Мир первым: отложенные воскрешения и удаление трупов
	e.World.Tick(diff)
	e.simulate(diff)
	e.Recovery.UpdateAll(diff)

	// Координаторы создаются только здесь, на главной горутине
	if _, err := e.Coordinators.ProcessPendingCreations(); err != nil {
		return err
	}
	e.Coordinators.UpdateAll(diff)

	// Периодическое обслуживание: просроченные трупы и неактивные зоны
	e.sinceCleanup += diff
	if e.sinceCleanup >= e.cfg.Corpse.CleanupInterval {
		e.sinceCleanup = 0
		e.maintain()
	}

	sample := e.Optimizer.OnFrameEnd()
	if IsDebugEnabled() {
		slog.Debug("frame completed",
			"frame", e.frames,
			"queries", sample.Queries,
			"totalTime", sample.TotalTime)
	}
	return nil
}

// maintain expires abandoned corpses and drops idle zone caches.
func (e *Engine) maintain() {
	expired := e.Corpses.CleanupExpiredCorpses(e.now())
	pruned := 0
	if idle := e.cfg.Spatial.PruneIdleZones; idle > 0 {
		pruned = e.Cache.PruneInactiveZones(idle)
	}
	if expired > 0 || pruned > 0 {
		slog.Info("maintenance", "expiredCorpses", expired, "prunedZones", pruned)
	}
}

func (e *Engine) runFlusher(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.StatsFlushInterval)
	defer ticker.Stop()

	slog.Info("stats flusher started", "interval", e.cfg.StatsFlushInterval)

	for {
		select {
		case <-ctx.Done():
			// Final snapshot on a fresh context: ctx is already done.
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = e.Flush(flushCtx)
			cancel()
			return ctx.Err()
		case <-ticker.C:
			if err := e.Flush(ctx); err != nil {
				slog.Warn("stats flush failed", "err", err)
			}
		}
	}
}

// Flush saves one statistics snapshot. No-op without a store.
func (e *Engine) Flush(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	id, err := e.store.Save(ctx, e.Snapshot())
	if err != nil {
		return fmt.Errorf("flushing stats: %w", err)
	}
	if IsDebugEnabled() {
		slog.Debug("stats flushed", "id", id)
	}
	return nil
}
