// Package host declares the surfaces the bot core consumes from the game server.
// The core never owns authoritative world state; everything here is read
// through these interfaces or mutated via MainThread.
package host

import (
	"errors"

	"github.com/udisondev/botcore/internal/model"
)

// ZoneKind classifies zones with special death-recovery rules.
type ZoneKind uint8

const (
	ZoneOpenWorld ZoneKind = iota
	ZoneBattleground
	ZoneArena
	ZoneInstance
)

// String returns human-readable zone kind.
func (k ZoneKind) String() string {
	switch k {
	case ZoneBattleground:
		return "BATTLEGROUND"
	case ZoneArena:
		return "ARENA"
	case ZoneInstance:
		return "INSTANCE"
	default:
		return "OPEN_WORLD"
	}
}

// Bot is the minimum a bot exposes to the core's query path.
type Bot interface {
	GUID() model.GUID
	Position() model.Position
	InCombat() bool
}

// World is the authoritative hostile population, read by the cache worker.
type World interface {
	// ZoneBounds returns the zone's bounding rectangle.
	ZoneBounds(zoneID uint32) (model.Rect, bool)
	// ForEachHostileInZone visits live hostile creatures; fn returns false to stop.
	ForEachHostileInZone(zoneID uint32, fn func(model.CreatureInfo) bool)
	// ResolveCreature returns the current state of a creature.
	ResolveCreature(guid model.GUID) (model.CreatureInfo, bool)
}

// MainThread posts work onto the host's main simulation goroutine.
type MainThread interface {
	Post(fn func())
}

// Player is the host player entity surface used by death recovery and corpse mitigation.
// Mutating calls must run on the main thread (see MainThread).
type Player interface {
	Bot
	Level() uint8
	IsAlive() bool
	IsGhost() bool
	HasCorpse() bool
	CorpseLocation() (model.WorldLocation, bool)
	ZoneKind() ZoneKind

	// ReleaseSpirit turns the dead player into a ghost and starts the graveyard teleport.
	ReleaseSpirit() error
	TeleportTo(loc model.WorldLocation) error
	MoveTo(x, y, z float32) error
	// Resurrect revives the player with healthPct of max health.
	Resurrect(healthPct float32, applySickness bool) error
	SetGhostVisual(on bool)

	HasPendingResurrectRequest() bool
	AcceptResurrectRequest() error
}

// Graveyards answers graveyard and spirit healer lookups.
type Graveyards interface {
	NearestGraveyard(pos model.Position) (model.WorldLocation, bool)
	NearestSpiritHealer(pos model.Position, radius float32) (model.GUID, model.Position, bool)
}

// PlayerState is a consistent read of a player for coordinator snapshots.
type PlayerState struct {
	GUID          model.GUID
	Position      model.Position
	Health        uint32
	MaxHealth     uint32
	Power         uint32
	MaxPower      uint32
	Alive         bool
	InCombat      bool
	Moving        bool
	Mounted       bool
	Stealthed     bool
	Target        model.GUID
	AttackerCount uint16
	Class         uint8
	Role          model.Role
	Team          model.Team
	FlagCarrier   uint8
}

// PlayerDirectory resolves participants for coordinator snapshot rebuilds.
type PlayerDirectory interface {
	PlayerState(guid model.GUID) (PlayerState, bool)
}

// Corpse deletion outcomes of CorpseHooks.DeleteIfSafe.
var (
	// ErrCorpseNotTracked: nothing protects the corpse, the host may delete it.
	ErrCorpseNotTracked = errors.New("corpse not tracked")
	// ErrCorpseInUse: the corpse is referenced or its creation tick is not over.
	ErrCorpseInUse = errors.New("corpse still referenced")
)

// CorpseHooks is called by the host around corpse creation and deletion.
type CorpseHooks interface {
	// ShouldPreventCorpse is asked before a corpse is created for owner.
	ShouldPreventCorpse(owner model.GUID) bool
	// OnCorpseCreated reports a corpse the host did create.
	OnCorpseCreated(corpse, owner model.GUID, loc model.WorldLocation)
	// MarkCorpseSafeForDeletion is called once the tick that created corpse is over.
	MarkCorpseSafeForDeletion(corpse model.GUID) error
	// DeleteIfSafe is asked at a safe point before the host deletes corpse.
	// The host deletes only on nil or ErrCorpseNotTracked.
	DeleteIfSafe(corpse model.GUID) error
}

// CreatureHooks receives creature mutations (see eventbus.Hooks).
type CreatureHooks interface {
	OnCreatureSpawn(c model.CreatureInfo)
	OnCreatureDespawn(c model.CreatureInfo)
	OnThreatUpdate(c model.CreatureInfo, target model.GUID)
	OnCombatStateChange(c model.CreatureInfo, inCombat bool)
	OnPositionUpdate(c model.CreatureInfo)
}
