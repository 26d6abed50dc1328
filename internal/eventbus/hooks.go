package eventbus

import "github.com/udisondev/botcore/internal/model"

// HostileFilter answers "is this creature hostile to any bot?".
type HostileFilter func(model.CreatureInfo) bool

// Hooks adapts the five host hook points to bus publishers.
// Every hook is non-blocking.
type Hooks struct {
	bus       *Bus
	isHostile HostileFilter
}

// NewHooks creates host hooks publishing into bus. A nil filter accepts all creatures.
func NewHooks(bus *Bus, isHostile HostileFilter) *Hooks {
	if isHostile == nil {
		isHostile = func(model.CreatureInfo) bool { return true }
	}
	return &Hooks{bus: bus, isHostile: isHostile}
}

// OnCreatureSpawn is called by the host after a creature enters the world.
func (h *Hooks) OnCreatureSpawn(c model.CreatureInfo) {
	if h.isHostile(c) {
		h.bus.PublishSpawn(c.Position.ZoneID, c.GUID)
	}
}

// OnCreatureDespawn is called by the host when a creature leaves the world or dies.
func (h *Hooks) OnCreatureDespawn(c model.CreatureInfo) {
	if h.isHostile(c) {
		h.bus.PublishDespawn(c.Position.ZoneID, c.GUID)
	}
}

// OnThreatUpdate is called by the host when a creature's threat on target changes.
func (h *Hooks) OnThreatUpdate(c model.CreatureInfo, target model.GUID) {
	if h.isHostile(c) {
		h.bus.PublishThreatChange(c.Position.ZoneID, c.GUID, target)
	}
}

// OnCombatStateChange is called by the host on combat enter/leave.
func (h *Hooks) OnCombatStateChange(c model.CreatureInfo, inCombat bool) {
	if h.isHostile(c) {
		h.bus.PublishCombatState(c.Position.ZoneID, c.GUID, inCombat)
	}
}

// OnPositionUpdate is called by the host after a creature moved.
func (h *Hooks) OnPositionUpdate(c model.CreatureInfo) {
	if h.isHostile(c) {
		h.bus.PublishPosition(c.Position.ZoneID, c.GUID)
	}
}
