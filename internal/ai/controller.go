package ai

import (
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/udisondev/botcore/internal/coordinator"
	"github.com/udisondev/botcore/internal/deathrecovery"
	"github.com/udisondev/botcore/internal/host"
	"github.com/udisondev/botcore/internal/lockorder"
	"github.com/udisondev/botcore/internal/model"
	"github.com/udisondev/botcore/internal/query"
)

// Controller is a per-bot decision loop ticked by the Scheduler.
type Controller interface {
	GUID() model.GUID

	// Start starts AI controller
	Start()

	// Stop stops AI controller
	Stop()

	// CurrentIntention returns current AI intention
	CurrentIntention() model.Intention

	// Tick performs one decision step. A controller is never ticked concurrently with itself.
	Tick(diff time.Duration)
}

// Controller defaults.
const (
	DefaultScanRange  = float32(40)
	DefaultMaxResults = 16
)

// ControllerOptions tunes a BotController.
type ControllerOptions struct {
	ScanRange   float32
	MaxResults  int
	Role        model.Role
	GroupLeader bool
}

// ControllerStats counts what a controller did.
type ControllerStats struct {
	Ticks             uint64
	Queries           uint64
	LocalHits         uint64
	Throttled         uint64
	CombatTransitions uint64
	TeleportAcks      uint64
	Messages          uint64
}

// BotController scans for hostiles through the query optimizer, keeps its
// local cache coherent with combat transitions, hands dead bots over to death
// recovery and follows coordinator focus and regroup messages.
//
// Tick runs the optimizer and coordinator calls before taking mu: they hold
// lower-ranked locks, and mu only guards the published decision.
type BotController struct {
	player    host.Player
	optimizer *query.Optimizer
	recovery  *deathrecovery.Machine // nil when the bot is not tracked
	coords    *coordinator.Manager   // nil outside coordinated contexts
	opts      ControllerOptions
	now       func() time.Time

	// Owned by the ticking goroutine.
	inCombat bool
	retryAt  time.Time
	focus    model.GUID
	nearest  float32

	running atomic.Bool

	mu        *lockorder.Mutex
	intention model.Intention
	target    model.GUID
	hostiles  []model.HostileEntry
	regroup   model.Position

	ticks      atomic.Uint64
	queries    atomic.Uint64
	localHits  atomic.Uint64
	throttled  atomic.Uint64
	combatFlip atomic.Uint64
	acks       atomic.Uint64
	messages   atomic.Uint64
}

// NewBotController creates a stopped controller. recovery and coords may be nil.
func NewBotController(player host.Player, optimizer *query.Optimizer, recovery *deathrecovery.Machine, coords *coordinator.Manager, opts ControllerOptions) *BotController {
	if opts.ScanRange <= 0 {
		opts.ScanRange = DefaultScanRange
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = DefaultMaxResults
	}
	return &BotController{
		player:    player,
		optimizer: optimizer,
		recovery:  recovery,
		coords:    coords,
		opts:      opts,
		now:       time.Now,
		mu:        lockorder.NewMutex(lockorder.RankBotController),
	}
}

// SetClock overrides the time source (tests).
func (c *BotController) SetClock(now func() time.Time) {
	c.now = now
}

// GUID implements Controller.
func (c *BotController) GUID() model.GUID {
	return c.player.GUID()
}

// Start implements Controller.
func (c *BotController) Start() {
	if c.running.CompareAndSwap(false, true) {
		c.setIntention(model.IntentionActive)
	}
}

// Stop implements Controller. Per-bot optimizer state is dropped.
func (c *BotController) Stop() {
	if !c.running.CompareAndSwap(true, false) {
		return
	}
	c.optimizer.RemoveBot(c.player.GUID())
	c.mu.Lock()
	c.intention = model.IntentionIdle
	c.target = model.GUID{}
	c.hostiles = nil
	c.mu.Unlock()
}

// CurrentIntention implements Controller.
func (c *BotController) CurrentIntention() model.Intention {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.intention
}

// Target returns the current hostile target.
func (c *BotController) Target() model.GUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target
}

// Hostiles returns the hostiles seen by the last successful scan.
func (c *BotController) Hostiles() []model.HostileEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hostiles
}

// RegroupPoint returns the last coordinator regroup position.
func (c *BotController) RegroupPoint() model.Position {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.regroup
}

// Tick implements Controller.
func (c *BotController) Tick(time.Duration) {
	if !c.running.Load() {
		return
	}
	c.ticks.Add(1)

	if !c.player.IsAlive() {
		c.tickDead()
		return
	}

	c.readMessages()

	if in := c.player.InCombat(); in != c.inCombat {
		c.inCombat = in
		c.combatFlip.Add(1)
		c.optimizer.ObserveCombat(c.player.GUID(), in)
	}

	now := c.now()
	if now.Before(c.retryAt) {
		return
	}

	priority := query.ScorePriority(query.Profile{
		InCombat:       c.inCombat,
		NearestHostile: c.nearest,
		Role:           c.opts.Role,
		GroupLeader:    c.opts.GroupLeader,
	})
	results, d := c.optimizer.Execute(c.player, c.opts.ScanRange, priority, c.opts.MaxResults)
	if d.Throttled {
		c.throttled.Add(1)
		c.retryAt = now.Add(d.SuggestedDelay)
		if IsDebugEnabled() {
			slog.Debug("bot query throttled",
				"bot", c.player.GUID(),
				"reason", d.Reason,
				"retryIn", d.SuggestedDelay)
		}
		return
	}
	c.queries.Add(1)
	if d.UseLocalCache {
		c.localHits.Add(1)
	}

	target := c.pickTarget(results)

	c.mu.Lock()
	c.hostiles = results
	c.target = target
	if target.IsZero() {
		if c.intention != model.IntentionMoveTo {
			c.intention = model.IntentionActive
		}
	} else {
		c.intention = model.IntentionAttack
	}
	c.mu.Unlock()
}

// tickDead acknowledges the graveyard teleport once death recovery waits for it.
// The acknowledgement is only a flag; the machine consumes it on its next Update.
func (c *BotController) tickDead() {
	c.inCombat = false
	c.nearest = 0
	if c.recovery != nil && c.recovery.State() == deathrecovery.StatePendingTeleportAck {
		c.recovery.AcknowledgeTeleport()
		c.acks.Add(1)
	}

	c.mu.Lock()
	c.intention = model.IntentionRecover
	c.target = model.GUID{}
	c.hostiles = nil
	c.mu.Unlock()
}

// readMessages applies coordinator focus and regroup messages.
func (c *BotController) readMessages() {
	if c.coords == nil {
		return
	}
	co, ok := c.coords.ForBot(c.player.GUID())
	if !ok {
		return
	}
	for _, msg := range co.Inbox(c.player.GUID()) {
		c.messages.Add(1)
		switch msg.Kind {
		case coordinator.MsgFocusTarget:
			c.focus = msg.Target
		case coordinator.MsgRegroup:
			c.mu.Lock()
			c.regroup = msg.Position
			c.intention = model.IntentionMoveTo
			c.mu.Unlock()
		}
	}
}

// pickTarget prefers the coordinator focus, then the nearest hostile.
// results are ordered by distance.
func (c *BotController) pickTarget(results []model.HostileEntry) model.GUID {
	if len(results) == 0 {
		c.nearest = 0
		return model.GUID{}
	}
	pos := c.player.Position()
	c.nearest = sqrt(results[0].DistanceSquaredTo(pos.X, pos.Y, pos.Z))

	if !c.focus.IsZero() {
		for i := range results {
			if results[i].GUID == c.focus {
				return c.focus
			}
		}
	}
	return results[0].GUID
}

func sqrt(v float32) float32 {
	return float32(math.Sqrt(float64(v)))
}

func (c *BotController) setIntention(i model.Intention) {
	c.mu.Lock()
	c.intention = i
	c.mu.Unlock()
}

// Stats returns the controller counters.
func (c *BotController) Stats() ControllerStats {
	return ControllerStats{
		Ticks:             c.ticks.Load(),
		Queries:           c.queries.Load(),
		LocalHits:         c.localHits.Load(),
		Throttled:         c.throttled.Load(),
		CombatTransitions: c.combatFlip.Load(),
		TeleportAcks:      c.acks.Load(),
		Messages:          c.messages.Load(),
	}
}
