package eventbus

import "github.com/udisondev/botcore/internal/model"

func (b *Bus) build(kind model.HostileEventKind, zoneID uint32, hostile, target model.GUID) model.HostileEvent {
	return model.HostileEvent{
		Kind:      kind,
		Priority:  kind.DefaultPriority(),
		ZoneID:    zoneID,
		Timestamp: b.now().UnixMilli(),
		Hostile:   hostile,
		Target:    target,
	}
}

// PublishSpawn publishes a creature spawn.
func (b *Bus) PublishSpawn(zoneID uint32, hostile model.GUID) bool {
	return b.Publish(b.build(model.EventSpawn, zoneID, hostile, model.GUID{}))
}

// PublishDespawn publishes a creature despawn or death.
func (b *Bus) PublishDespawn(zoneID uint32, hostile model.GUID) bool {
	return b.Publish(b.build(model.EventDespawn, zoneID, hostile, model.GUID{}))
}

// PublishAggro publishes aggro gained or lost against target.
func (b *Bus) PublishAggro(zoneID uint32, hostile, target model.GUID, gained bool) bool {
	kind := model.EventAggroLost
	if gained {
		kind = model.EventAggroGained
	}
	return b.Publish(b.build(kind, zoneID, hostile, target))
}

// PublishThreatChange publishes a threat delta on target.
func (b *Bus) PublishThreatChange(zoneID uint32, hostile, target model.GUID) bool {
	return b.Publish(b.build(model.EventThreatChange, zoneID, hostile, target))
}

// PublishCombatState publishes combat start or end.
func (b *Bus) PublishCombatState(zoneID uint32, hostile model.GUID, inCombat bool) bool {
	kind := model.EventCombatEnd
	if inCombat {
		kind = model.EventCombatStart
	}
	return b.Publish(b.build(kind, zoneID, hostile, model.GUID{}))
}

// PublishPosition publishes a position update.
func (b *Bus) PublishPosition(zoneID uint32, hostile model.GUID) bool {
	return b.Publish(b.build(model.EventPositionUpdate, zoneID, hostile, model.GUID{}))
}
