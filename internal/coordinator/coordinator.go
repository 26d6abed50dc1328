package coordinator

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/udisondev/botcore/internal/host"
	"github.com/udisondev/botcore/internal/lockorder"
	"github.com/udisondev/botcore/internal/model"
)

// InboxCapacity bounds undelivered messages per participant.
const InboxCapacity = 64

// Context identifies the shared bounded context a coordinator serves.
type Context struct {
	ID       uint64
	Kind     Kind
	MapID    uint32
	Bounds   model.Rect
	CellSize float32 // 0 means DefaultCellSize
}

// Stats is a point-in-time view of a coordinator.
type Stats struct {
	Members        int
	Updates        uint64
	MissingPlayers uint64 // participants the host could not resolve during rebuilds
	Messages       uint64
	DroppedInbox   uint64
	GridVersion    uint64
}

// Coordinator owns participants, the snapshot grid and messaging of one context.
//
// Lifecycle calls (Start, Update, End, AddBot, RemoveBot) come from the main
// goroutine and hold mu for their whole duration; handlers re-enter freely.
// Queries read the published grid and take no lock.
type Coordinator struct {
	ctx      Context
	handlers Handlers
	dir      host.PlayerDirectory
	grid     *SnapshotGrid
	now      func() time.Time

	mu      *lockorder.RecursiveMutex
	members []model.GUID
	index   map[model.GUID]int
	started bool
	ended   atomic.Bool

	inboxMu  *lockorder.Mutex
	inboxes  map[model.GUID][]Message
	observed []Message // participant-sent messages waiting for OnMessage

	updates  atomic.Uint64
	missing  atomic.Uint64
	messages atomic.Uint64
	dropped  atomic.Uint64
}

// New creates a coordinator for ctx. dir resolves participants during Update.
func New(ctx Context, handlers Handlers, dir host.PlayerDirectory) *Coordinator {
	return &Coordinator{
		ctx:      ctx,
		handlers: handlers,
		dir:      dir,
		grid:     NewSnapshotGrid(ctx.Bounds, ctx.CellSize),
		now:      time.Now,
		mu:       lockorder.NewRecursiveMutex(lockorder.RankCoordinatorInstance),
		index:    make(map[model.GUID]int),
		inboxMu:  lockorder.NewMutex(lockorder.RankCoordinatorInbox),
		inboxes:  make(map[model.GUID][]Message),
	}
}

// SetClock overrides the time source (tests).
func (c *Coordinator) SetClock(now func() time.Time) {
	c.now = now
}

// Context returns the context description.
func (c *Coordinator) Context() Context {
	return c.ctx
}

// ID returns the context id.
func (c *Coordinator) ID() uint64 {
	return c.ctx.ID
}

// Grid returns the published snapshot grid.
func (c *Coordinator) Grid() *SnapshotGrid {
	return c.grid
}

// Ended reports whether End was called.
func (c *Coordinator) Ended() bool {
	return c.ended.Load()
}

// AddBot registers a participant.
func (c *Coordinator) AddBot(guid model.GUID) error {
	if guid.IsZero() {
		return fmt.Errorf("add bot to coordinator %d: zero guid", c.ctx.ID)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ended.Load() {
		return ErrEnded
	}
	if _, ok := c.index[guid]; ok {
		return nil
	}
	c.index[guid] = len(c.members)
	c.members = append(c.members, guid)
	return nil
}

// RemoveBot drops a participant and its inbox.
func (c *Coordinator) RemoveBot(guid model.GUID) bool {
	c.mu.Lock()
	i, ok := c.index[guid]
	if ok {
		last := len(c.members) - 1
		c.members[i] = c.members[last]
		c.index[c.members[i]] = i
		c.members = c.members[:last]
		delete(c.index, guid)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}

	c.inboxMu.Lock()
	delete(c.inboxes, guid)
	c.inboxMu.Unlock()
	return true
}

// Has reports whether guid participates.
func (c *Coordinator) Has(guid model.GUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.index[guid]
	return ok
}

// Members returns a copy of the participant list.
func (c *Coordinator) Members() []model.GUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.GUID, len(c.members))
	copy(out, c.members)
	return out
}

// Start runs OnStart once.
func (c *Coordinator) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started || c.ended.Load() {
		return
	}
	c.started = true
	if c.handlers.OnStart != nil {
		c.handlers.OnStart(c)
	}
	if IsDebugEnabled() {
		slog.Debug("coordinator started",
			"id", c.ctx.ID,
			"kind", c.ctx.Kind,
			"members", len(c.members))
	}
}

// End runs OnEnd once; afterwards Update is a no-op and AddBot fails.
func (c *Coordinator) End() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ended.CompareAndSwap(false, true) {
		return
	}
	if c.handlers.OnEnd != nil {
		c.handlers.OnEnd(c)
	}
	if IsDebugEnabled() {
		slog.Debug("coordinator ended", "id", c.ctx.ID, "kind", c.ctx.Kind)
	}
}

// Update rebuilds and publishes participant snapshots, delivers
// participant messages to OnMessage and runs OnUpdate. Main goroutine only.
func (c *Coordinator) Update(diff time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ended.Load() {
		return
	}

	nowMs := c.now().UnixMilli()
	snaps := make([]model.PlayerSnapshot, 0, len(c.members))
	for _, guid := range c.members {
		st, ok := c.dir.PlayerState(guid)
		if !ok {
			c.missing.Add(1)
			if IsDebugEnabled() {
				slog.Debug("coordinator participant not resolved", "id", c.ctx.ID, "bot", guid)
			}
			continue
		}
		snaps = append(snaps, snapshotOf(st, nowMs))
	}
	c.grid.Publish(snaps, nowMs)
	c.updates.Add(1)

	if c.handlers.OnMessage != nil {
		c.inboxMu.Lock()
		observed := c.observed
		c.observed = nil
		c.inboxMu.Unlock()
		for _, msg := range observed {
			c.handlers.OnMessage(c, msg)
		}
	}
	if c.handlers.OnUpdate != nil {
		c.handlers.OnUpdate(c, diff)
	}
}

func snapshotOf(st host.PlayerState, nowMs int64) model.PlayerSnapshot {
	s := model.PlayerSnapshot{
		GUID:          st.GUID,
		Target:        st.Target,
		X:             st.Position.X,
		Y:             st.Position.Y,
		Z:             st.Position.Z,
		Orientation:   st.Position.Orientation,
		Health:        st.Health,
		MaxHealth:     st.MaxHealth,
		Power:         st.Power,
		MaxPower:      st.MaxPower,
		UpdatedAt:     nowMs,
		MapID:         st.Position.MapID,
		AttackerCount: st.AttackerCount,
		Team:          st.Team,
		Role:          st.Role,
		Class:         st.Class,
		FlagCarrier:   st.FlagCarrier,
	}
	for _, f := range []struct {
		on  bool
		bit uint8
	}{
		{st.Alive, model.SnapshotAlive},
		{st.InCombat, model.SnapshotInCombat},
		{st.Moving, model.SnapshotMoving},
		{st.Mounted, model.SnapshotMounted},
		{st.Stealthed, model.SnapshotStealthed},
	} {
		if f.on {
			s.Flags |= f.bit
		}
	}
	return s
}

// Broadcast delivers msg to every participant except the sender.
func (c *Coordinator) Broadcast(msg Message) {
	msg.To = model.GUID{}
	if msg.SentAt.IsZero() {
		msg.SentAt = c.now()
	}
	members := c.Members()

	c.inboxMu.Lock()
	defer c.inboxMu.Unlock()
	for _, guid := range members {
		if guid != msg.From {
			c.deliverLocked(guid, msg)
		}
	}
	c.observeLocked(msg)
}

// Send delivers msg to msg.To. Both ends must participate (a zero From is the coordinator).
func (c *Coordinator) Send(msg Message) error {
	if !c.Has(msg.To) {
		return fmt.Errorf("send to %s: %w", msg.To, ErrNotMember)
	}
	if !msg.From.IsZero() && !c.Has(msg.From) {
		return fmt.Errorf("send from %s: %w", msg.From, ErrNotMember)
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = c.now()
	}

	c.inboxMu.Lock()
	defer c.inboxMu.Unlock()
	c.deliverLocked(msg.To, msg)
	c.observeLocked(msg)
	return nil
}

func (c *Coordinator) deliverLocked(to model.GUID, msg Message) {
	if len(c.inboxes[to]) >= InboxCapacity {
		c.dropped.Add(1)
		return
	}
	c.inboxes[to] = append(c.inboxes[to], msg)
	c.messages.Add(1)
}

func (c *Coordinator) observeLocked(msg Message) {
	if msg.From.IsZero() || c.handlers.OnMessage == nil {
		return
	}
	if len(c.observed) >= InboxCapacity {
		c.dropped.Add(1)
		return
	}
	c.observed = append(c.observed, msg)
}

// Inbox drains the participant's pending messages, oldest first.
func (c *Coordinator) Inbox(guid model.GUID) []Message {
	c.inboxMu.Lock()
	defer c.inboxMu.Unlock()
	msgs := c.inboxes[guid]
	delete(c.inboxes, guid)
	return msgs
}

// Stats returns the coordinator counters.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	members := len(c.members)
	c.mu.Unlock()
	return Stats{
		Members:        members,
		Updates:        c.updates.Load(),
		MissingPlayers: c.missing.Load(),
		Messages:       c.messages.Load(),
		DroppedInbox:   c.dropped.Load(),
		GridVersion:    c.grid.Version(),
	}
}
