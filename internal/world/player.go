package world

import (
	"fmt"
	"math"
	"time"

	"github.com/udisondev/botcore/internal/host"
	"github.com/udisondev/botcore/internal/lockorder"
	"github.com/udisondev/botcore/internal/model"
)

// DefaultRunSpeed is movement speed in world units per second.
const DefaultRunSpeed float32 = 7.0

// PlayerOptions describes a new player (bot).
type PlayerOptions struct {
	Level     uint8
	Class     uint8
	Role      model.Role
	Team      model.Team
	MaxHealth uint32
	MaxPower  uint32
}

// Player is an in-memory host player. Implements host.Player.
//
// Lock discipline: p.mu (RankHostPlayer) is the highest rank in the process,
// so nothing may be called into the core while it is held. Corpse hooks and
// graveyard lookups run after it is released.
type Player struct {
	guid  model.GUID
	world *World
	mu    *lockorder.Mutex

	pos       model.Position
	level     uint8
	class     uint8
	role      model.Role
	team      model.Team
	health    uint32
	maxHealth uint32
	power     uint32
	maxPower  uint32

	alive     bool
	ghost     bool
	inCombat  bool
	mounted   bool
	stealthed bool

	moving bool
	dest   model.Position
	speed  float32

	target        model.GUID
	attackerCount uint16
	flagCarrier   uint8

	corpse    model.GUID
	corpseLoc model.WorldLocation
	hasCorpse bool

	resurrectRequest   bool
	resurrectHealthPct float32

	ghostVisual   bool
	sickness      bool
	resurrections int
	teleports     int
}

// NewPlayer creates a live player at pos. The player is not registered; see World.AddPlayer.
func NewPlayer(w *World, guid model.GUID, pos model.Position, opts PlayerOptions) *Player {
	if opts.MaxHealth == 0 {
		opts.MaxHealth = 100
	}
	if opts.Level == 0 {
		opts.Level = 1
	}
	return &Player{
		guid:      guid,
		world:     w,
		mu:        lockorder.NewMutex(lockorder.RankHostPlayer),
		pos:       pos,
		level:     opts.Level,
		class:     opts.Class,
		role:      opts.Role,
		team:      opts.Team,
		health:    opts.MaxHealth,
		maxHealth: opts.MaxHealth,
		power:     opts.MaxPower,
		maxPower:  opts.MaxPower,
		alive:     true,
		speed:     DefaultRunSpeed,
	}
}

// GUID implements host.Bot.
func (p *Player) GUID() model.GUID {
	return p.guid
}

// Position implements host.Bot.
func (p *Player) Position() model.Position {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pos
}

// InCombat implements host.Bot.
func (p *Player) InCombat() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inCombat
}

// Level implements host.Player.
func (p *Player) Level() uint8 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

// IsAlive implements host.Player.
func (p *Player) IsAlive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.alive
}

// IsGhost implements host.Player.
func (p *Player) IsGhost() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ghost
}

// HasCorpse implements host.Player.
func (p *Player) HasCorpse() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasCorpse
}

// Corpse returns the GUID of the player's corpse (zero if none).
func (p *Player) Corpse() model.GUID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.corpse
}

// CorpseLocation implements host.Player.
func (p *Player) CorpseLocation() (model.WorldLocation, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.corpseLoc, p.hasCorpse
}

// ZoneKind implements host.Player.
func (p *Player) ZoneKind() host.ZoneKind {
	return p.world.ZoneKind(p.Position().ZoneID)
}

// Kill marks the player dead at its current position.
func (p *Player) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.alive {
		return fmt.Errorf("kill %s: %w", p.guid, ErrPlayerDead)
	}
	p.alive = false
	p.health = 0
	p.inCombat = false
	p.moving = false
	p.target = model.GUID{}
	p.attackerCount = 0
	return nil
}

// ReleaseSpirit implements host.Player. Creates a corpse at the death position
// unless the corpse hooks prevent it, then teleports the ghost to the nearest graveyard.
func (p *Player) ReleaseSpirit() error {
	p.mu.Lock()
	if p.alive {
		p.mu.Unlock()
		return fmt.Errorf("release spirit %s: %w", p.guid, ErrPlayerAlive)
	}
	if p.ghost {
		p.mu.Unlock()
		return fmt.Errorf("release spirit %s: %w", p.guid, ErrAlreadyGhost)
	}
	p.ghost = true
	p.ghostVisual = true
	deathPos := p.pos
	p.mu.Unlock()

	loc := model.WorldLocation{MapID: deathPos.MapID, X: deathPos.X, Y: deathPos.Y, Z: deathPos.Z}
	if corpse := p.world.createCorpse(p.guid, loc); !corpse.IsZero() {
		p.mu.Lock()
		p.corpse = corpse
		p.corpseLoc = loc
		p.hasCorpse = true
		p.mu.Unlock()
	}

	graveyard, ok := p.world.NearestGraveyard(deathPos)
	if !ok {
		return nil
	}
	return p.TeleportTo(graveyard)
}

// TeleportTo implements host.Player.
func (p *Player) TeleportTo(loc model.WorldLocation) error {
	z, ok := p.world.ZoneAt(loc.MapID, loc.X, loc.Y)
	if !ok {
		return fmt.Errorf("teleport %s to map %d (%.1f, %.1f): %w", p.guid, loc.MapID, loc.X, loc.Y, ErrOutsideZone)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.pos = model.Position{MapID: loc.MapID, ZoneID: z.ID, X: loc.X, Y: loc.Y, Z: loc.Z, Orientation: p.pos.Orientation}
	p.moving = false
	p.teleports++
	return nil
}

// MoveTo implements host.Player. Movement advances on World.Tick.
func (p *Player) MoveTo(x, y, z float32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.alive && !p.ghost {
		return fmt.Errorf("move %s: %w", p.guid, ErrPlayerDead)
	}
	p.dest = p.pos.WithCoordinates(x, y, z)
	p.moving = true
	return nil
}

// Resurrect implements host.Player. Health is healthPct of max, at least 1.
// The old corpse is retired and deleted by the world at its next safe point.
func (p *Player) Resurrect(healthPct float32, applySickness bool) error {
	p.mu.Lock()
	if p.alive {
		p.mu.Unlock()
		return fmt.Errorf("resurrect %s: %w", p.guid, ErrPlayerAlive)
	}
	p.alive = true
	p.ghost = false
	p.ghostVisual = false
	p.health = max(uint32(float32(p.maxHealth)*healthPct), 1)
	// Старый труп удалит мир в безопасной точке, не здесь
	corpse := p.corpse
	p.corpse = model.GUID{}
	p.hasCorpse = false
	p.resurrectRequest = false
	p.sickness = applySickness
	p.resurrections++
	p.mu.Unlock()

	if !corpse.IsZero() {
		p.world.retireCorpse(corpse)
	}
	return nil
}

// SetGhostVisual implements host.Player.
func (p *Player) SetGhostVisual(on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ghostVisual = on
}

// GhostVisual reports whether the ghost visual is shown.
func (p *Player) GhostVisual() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ghostVisual
}

// OfferResurrect records a resurrect request (battle resurrection) with the given health.
func (p *Player) OfferResurrect(healthPct float32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.alive {
		return
	}
	p.resurrectRequest = true
	p.resurrectHealthPct = healthPct
}

// HasPendingResurrectRequest implements host.Player.
func (p *Player) HasPendingResurrectRequest() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resurrectRequest
}

// AcceptResurrectRequest implements host.Player.
func (p *Player) AcceptResurrectRequest() error {
	p.mu.Lock()
	if !p.resurrectRequest {
		p.mu.Unlock()
		return fmt.Errorf("accept resurrect %s: %w", p.guid, ErrNoResurrectRequest)
	}
	pct := p.resurrectHealthPct
	p.mu.Unlock()
	return p.Resurrect(pct, false)
}

// HasSickness reports whether the last resurrection applied resurrection sickness.
func (p *Player) HasSickness() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sickness
}

// Resurrections returns how many times the player was resurrected.
func (p *Player) Resurrections() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resurrections
}

// Teleports returns how many teleports the player performed.
func (p *Player) Teleports() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.teleports
}

// Health returns current health.
func (p *Player) Health() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.health
}

// IsMoving reports whether a MoveTo destination is pending.
func (p *Player) IsMoving() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.moving
}

// SetCombat changes the player's combat state.
func (p *Player) SetCombat(inCombat bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inCombat = inCombat && p.alive
}

// SetTarget sets the current target GUID.
func (p *Player) SetTarget(target model.GUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.target = target
}

// SetAttackerCount sets the number of units attacking the player.
func (p *Player) SetAttackerCount(n uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attackerCount = n
}

// SetFlagCarrier sets the carried battleground flag bits.
func (p *Player) SetFlagCarrier(bits uint8) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flagCarrier = bits
}

// SetMounted sets the mounted state.
func (p *Player) SetMounted(on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mounted = on
}

// SetStealthed sets the stealth state.
func (p *Player) SetStealthed(on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stealthed = on
}

// SetPosition places the player without teleport bookkeeping.
func (p *Player) SetPosition(pos model.Position) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pos = pos
	p.moving = false
}

// State returns a consistent copy for coordinator snapshots.
func (p *Player) State() host.PlayerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return host.PlayerState{
		GUID:          p.guid,
		Position:      p.pos,
		Health:        p.health,
		MaxHealth:     p.maxHealth,
		Power:         p.power,
		MaxPower:      p.maxPower,
		Alive:         p.alive,
		InCombat:      p.inCombat,
		Moving:        p.moving,
		Mounted:       p.mounted,
		Stealthed:     p.stealthed,
		Target:        p.target,
		AttackerCount: p.attackerCount,
		Class:         p.class,
		Role:          p.role,
		Team:          p.team,
		FlagCarrier:   p.flagCarrier,
	}
}

// step advances movement toward the destination.
func (p *Player) step(diff time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.moving {
		return
	}

	dx := p.dest.X - p.pos.X
	dy := p.dest.Y - p.pos.Y
	dz := p.dest.Z - p.pos.Z
	dist := float32(math.Sqrt(float64(dx*dx + dy*dy + dz*dz)))
	travel := p.speed * float32(diff.Seconds())

	if dist <= travel || dist == 0 {
		p.pos = p.pos.WithCoordinates(p.dest.X, p.dest.Y, p.dest.Z)
		p.moving = false
	} else {
		k := travel / dist
		p.pos = p.pos.WithCoordinates(p.pos.X+dx*k, p.pos.Y+dy*k, p.pos.Z+dz*k)
	}

	if z, ok := p.world.ZoneAt(p.pos.MapID, p.pos.X, p.pos.Y); ok {
		p.pos.ZoneID = z.ID
	}
}
