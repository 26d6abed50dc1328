package coordinator

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/udisondev/botcore/internal/host"
	"github.com/udisondev/botcore/internal/lockorder"
	"github.com/udisondev/botcore/internal/model"
)

// Request asks for a coordinator to be created on the main goroutine.
type Request struct {
	Context Context
	Bots    []model.GUID
}

// ManagerStats aggregates the registry counters.
type ManagerStats struct {
	Active            int
	Pending           int
	Created           uint64
	Destroyed         uint64
	Requested         uint64
	DuplicateRequests uint64
	RejectedCreations uint64
}

// Manager is the registry of live coordinators keyed by context id.
//
// Creation runs on the main goroutine only: workers enqueue a Request with
// RequestCreation and the main loop applies it in ProcessPendingCreations.
type Manager struct {
	dir      host.PlayerDirectory
	handlers func(Kind) Handlers
	now      func() time.Time
	mainID   atomic.Int64 // goroutine id bound by BindMainThread

	mu     *lockorder.SharedMutex
	coords map[uint64]*Coordinator

	pendMu     *lockorder.Mutex
	pending    []Request
	pendingIDs map[uint64]struct{}

	created    atomic.Uint64
	destroyed  atomic.Uint64
	requested  atomic.Uint64
	duplicates atomic.Uint64
	rejected   atomic.Uint64
}

// NewManager creates an empty registry using the stock handler tables.
func NewManager(dir host.PlayerDirectory) *Manager {
	return &Manager{
		dir:        dir,
		handlers:   HandlersFor,
		now:        time.Now,
		mu:         lockorder.NewSharedMutex(lockorder.RankCoordinatorManager),
		coords:     make(map[uint64]*Coordinator),
		pendMu:     lockorder.NewMutex(lockorder.RankCoordinatorPending),
		pendingIDs: make(map[uint64]struct{}),
	}
}

// SetHandlers overrides the per-kind handler lookup for coordinators created afterwards.
func (m *Manager) SetHandlers(fn func(Kind) Handlers) {
	m.handlers = fn
}

// SetClock overrides the time source of coordinators created afterwards.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// BindMainThread marks the calling goroutine as the main goroutine.
func (m *Manager) BindMainThread() {
	m.mainID.Store(lockorder.GoroutineID())
}

func (m *Manager) onMainThread() bool {
	id := m.mainID.Load()
	return id != 0 && id == lockorder.GoroutineID()
}

// RequestCreation queues a creation from any goroutine. Returns false when the
// context already exists or is already queued.
func (m *Manager) RequestCreation(req Request) bool {
	m.requested.Add(1)
	id := req.Context.ID

	m.mu.RLock()
	_, exists := m.coords[id]
	m.mu.RUnlock()
	if exists {
		m.duplicates.Add(1)
		return false
	}

	m.pendMu.Lock()
	defer m.pendMu.Unlock()
	if _, queued := m.pendingIDs[id]; queued {
		m.duplicates.Add(1)
		return false
	}
	m.pendingIDs[id] = struct{}{}
	m.pending = append(m.pending, Request{Context: req.Context, Bots: slices.Clone(req.Bots)})
	return true
}

// ProcessPendingCreations creates, populates and starts every queued coordinator.
// Main goroutine only. Returns how many were created.
func (m *Manager) ProcessPendingCreations() (int, error) {
	if !m.onMainThread() {
		return 0, ErrNotMainThread
	}

	m.pendMu.Lock()
	batch := m.pending
	m.pending = nil
	clear(m.pendingIDs)
	m.pendMu.Unlock()

	created := 0
	for _, req := range batch {
		c, err := m.Create(req.Context)
		if err != nil {
			slog.Warn("coordinator creation rejected", "id", req.Context.ID, "error", err)
			continue
		}
		for _, bot := range req.Bots {
			if err := c.AddBot(bot); err != nil {
				slog.Warn("coordinator participant rejected", "id", req.Context.ID, "bot", bot, "error", err)
			}
		}
		c.Start()
		created++
	}
	return created, nil
}

// Create registers a new coordinator. Main goroutine only. The coordinator is
// not started; callers add participants and call Start.
func (m *Manager) Create(ctx Context) (*Coordinator, error) {
	if !m.onMainThread() {
		return nil, ErrNotMainThread
	}
	c := New(ctx, m.handlers(ctx.Kind), m.dir)
	c.SetClock(m.now)

	m.mu.Lock()
	if _, ok := m.coords[ctx.ID]; ok {
		m.mu.Unlock()
		m.rejected.Add(1)
		return nil, fmt.Errorf("create coordinator %d: %w", ctx.ID, ErrExists)
	}
	m.coords[ctx.ID] = c
	m.mu.Unlock()

	m.created.Add(1)
	slog.Info("coordinator created", "id", ctx.ID, "kind", ctx.Kind, "map", ctx.MapID)
	return c, nil
}

// Get returns a live coordinator.
func (m *Manager) Get(id uint64) (*Coordinator, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.coords[id]
	return c, ok
}

// Destroy unregisters the coordinator and runs its OnEnd.
func (m *Manager) Destroy(id uint64) error {
	m.mu.Lock()
	c, ok := m.coords[id]
	delete(m.coords, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("destroy coordinator %d: %w", id, ErrNotFound)
	}

	c.End()
	m.destroyed.Add(1)
	slog.Info("coordinator destroyed", "id", id, "kind", c.ctx.Kind)
	return nil
}

// UpdateAll ticks every live coordinator in id order. Main goroutine only.
func (m *Manager) UpdateAll(diff time.Duration) int {
	coords := m.list()
	for _, c := range coords {
		c.Update(diff)
	}
	return len(coords)
}

// ForBot returns the coordinator the bot participates in.
func (m *Manager) ForBot(bot model.GUID) (*Coordinator, bool) {
	for _, c := range m.list() {
		if c.Has(bot) {
			return c, true
		}
	}
	return nil, false
}

// Len returns the number of live coordinators.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.coords)
}

// Stats returns the registry counters.
func (m *Manager) Stats() ManagerStats {
	active := m.Len()
	m.pendMu.Lock()
	pending := len(m.pending)
	m.pendMu.Unlock()
	return ManagerStats{
		Active:            active,
		Pending:           pending,
		Created:           m.created.Load(),
		Destroyed:         m.destroyed.Load(),
		Requested:         m.requested.Load(),
		DuplicateRequests: m.duplicates.Load(),
		RejectedCreations: m.rejected.Load(),
	}
}

func (m *Manager) list() []*Coordinator {
	m.mu.RLock()
	coords := make([]*Coordinator, 0, len(m.coords))
	for _, c := range m.coords {
		coords = append(coords, c)
	}
	m.mu.RUnlock()
	slices.SortFunc(coords, func(a, b *Coordinator) int {
		return cmp.Compare(a.ctx.ID, b.ctx.ID)
	})
	return coords
}
