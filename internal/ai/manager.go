package ai

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/udisondev/botcore/internal/lockorder"
	"github.com/udisondev/botcore/internal/model"
)

// Scheduler defaults.
const (
	DefaultTickInterval = 100 * time.Millisecond
	// DefaultParallelThreshold is the bot count from which ticks are split
	// across workers. Below it goroutine overhead outweighs the gain.
	DefaultParallelThreshold = 1000
)

// Scheduler ticks every registered bot controller on a fixed interval.
// Small populations are ticked sequentially, large ones in NumCPU chunks.
type Scheduler struct {
	interval          time.Duration
	numWorkers        int
	parallelThreshold int

	mu          *lockorder.SharedMutex
	controllers map[model.GUID]Controller

	controllerCount atomic.Int32 // cached count of controllers (O(1) access)
	rounds          atomic.Uint64
	ticked          atomic.Uint64
	lastRound       atomic.Int64 // nanoseconds
}

// NewScheduler creates a scheduler ticking every interval (≤ 0 means DefaultTickInterval).
func NewScheduler(interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &Scheduler{
		interval:          interval,
		numWorkers:        runtime.NumCPU(),
		parallelThreshold: DefaultParallelThreshold,
		mu:                lockorder.NewSharedMutex(lockorder.RankBotRegistry),
		controllers:       make(map[model.GUID]Controller),
	}
}

// SetNumWorkers sets the number of parallel workers. Call before Start.
func (s *Scheduler) SetNumWorkers(n int) {
	if n < 1 {
		n = 1
	}
	s.numWorkers = n
}

// SetParallelThreshold sets the bot count from which ticks run in parallel. Call before Start.
func (s *Scheduler) SetParallelThreshold(n int) {
	s.parallelThreshold = n
}

// Register adds and starts a controller.
func (s *Scheduler) Register(c Controller) error {
	guid := c.GUID()
	s.mu.Lock()
	if _, ok := s.controllers[guid]; ok {
		s.mu.Unlock()
		return fmt.Errorf("register bot %s: %w", guid, ErrRegistered)
	}
	s.controllers[guid] = c
	s.mu.Unlock()

	s.controllerCount.Add(1)
	c.Start()

	if IsDebugEnabled() {
		slog.Debug("bot controller registered",
			"bot", guid,
			"intention", c.CurrentIntention())
	}
	return nil
}

// Unregister stops and removes a controller.
func (s *Scheduler) Unregister(guid model.GUID) {
	s.mu.Lock()
	c, ok := s.controllers[guid]
	delete(s.controllers, guid)
	s.mu.Unlock()
	if !ok {
		return
	}

	s.controllerCount.Add(-1)
	c.Stop()

	if IsDebugEnabled() {
		slog.Debug("bot controller unregistered", "bot", guid)
	}
}

// Start runs the tick loop until ctx is canceled.
func (s *Scheduler) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("bot scheduler started",
		"interval", s.interval,
		"workers", s.numWorkers,
		"parallelThreshold", s.parallelThreshold)

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			slog.Info("bot scheduler stopping", "rounds", s.rounds.Load())
			return ctx.Err()

		case now := <-ticker.C:
			s.TickAll(now.Sub(last))
			last = now
		}
	}
}

// TickAll ticks every controller once and returns how many were ticked.
func (s *Scheduler) TickAll(diff time.Duration) int {
	s.mu.RLock()
	list := make([]Controller, 0, len(s.controllers))
	for _, c := range s.controllers {
		list = append(list, c)
	}
	s.mu.RUnlock()

	if len(list) == 0 {
		return 0
	}

	start := time.Now()
	if len(list) < s.parallelThreshold || s.numWorkers == 1 {
		for _, c := range list {
			c.Tick(diff)
		}
	} else {
		s.tickParallel(list, diff)
	}
	elapsed := time.Since(start)

	s.rounds.Add(1)
	s.ticked.Add(uint64(len(list)))
	s.lastRound.Store(int64(elapsed))

	if IsDebugEnabled() {
		slog.Debug("bot tick completed", "controllers", len(list), "elapsed", elapsed)
	}
	return len(list)
}

// tickParallel splits list into one chunk per worker; the last chunk takes the remainder.
func (s *Scheduler) tickParallel(list []Controller, diff time.Duration) {
	numWorkers := min(s.numWorkers, len(list))
	chunkSize := len(list) / numWorkers

	var g errgroup.Group
	for i := range numWorkers {
		start := i * chunkSize
		end := start + chunkSize
		if i == numWorkers-1 {
			end = len(list)
		}

		chunk := list[start:end]
		g.Go(func() error {
			for _, c := range chunk {
				c.Tick(diff)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Count returns number of registered controllers (O(1) cached count).
func (s *Scheduler) Count() int {
	return int(s.controllerCount.Load())
}

// Controller returns the controller of a bot.
func (s *Scheduler) Controller(guid model.GUID) (Controller, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.controllers[guid]
	if !ok {
		return nil, fmt.Errorf("controller for bot %s: %w", guid, ErrNotRegistered)
	}
	return c, nil
}

// SchedulerStats is a point-in-time view of the scheduler.
type SchedulerStats struct {
	Controllers int
	Rounds      uint64
	Ticked      uint64
	LastRound   time.Duration
}

// Stats returns the scheduler counters.
func (s *Scheduler) Stats() SchedulerStats {
	return SchedulerStats{
		Controllers: s.Count(),
		Rounds:      s.rounds.Load(),
		Ticked:      s.ticked.Load(),
		LastRound:   time.Duration(s.lastRound.Load()),
	}
}
