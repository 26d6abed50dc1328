package model

// HostileEventKind is the kind of world mutation carried by a HostileEvent.
type HostileEventKind uint8

const (
	EventSpawn HostileEventKind = iota
	EventDespawn
	EventAggroGained
	EventAggroLost
	EventPositionUpdate
	EventThreatChange
	EventCombatStart
	EventCombatEnd
)

// HighPriorityThreshold is the lowest priority treated as high priority.
const HighPriorityThreshold uint8 = 200

// String returns human-readable kind name.
func (k HostileEventKind) String() string {
	switch k {
	case EventSpawn:
		return "SPAWN"
	case EventDespawn:
		return "DESPAWN"
	case EventAggroGained:
		return "AGGRO_GAINED"
	case EventAggroLost:
		return "AGGRO_LOST"
	case EventPositionUpdate:
		return "POSITION_UPDATE"
	case EventThreatChange:
		return "THREAT_CHANGE"
	case EventCombatStart:
		return "COMBAT_START"
	case EventCombatEnd:
		return "COMBAT_END"
	default:
		return "UNKNOWN"
	}
}

// DefaultPriority returns the priority stamped by the bus convenience publishers.
// Spawn, aggro and combat transitions are high priority; movement and threat deltas are not.
func (k HostileEventKind) DefaultPriority() uint8 {
	switch k {
	case EventCombatStart:
		return 240
	case EventAggroGained:
		return 230
	case EventSpawn:
		return 220
	case EventDespawn:
		return 210
	case EventAggroLost, EventCombatEnd:
		return 200
	case EventThreatChange:
		return 120
	case EventPositionUpdate:
		return 80
	default:
		return 0
	}
}

// HostileEvent is one discrete world mutation relevant to the hostile cache.
// Value type, copied through the bus queue.
type HostileEvent struct {
	Kind      HostileEventKind
	Priority  uint8
	_         [2]byte
	ZoneID    uint32
	Timestamp int64 // unix ms
	Hostile   GUID
	Target    GUID
}

// IsHighPriority reports priority ≥ 200.
func (e HostileEvent) IsHighPriority() bool {
	return e.Priority >= HighPriorityThreshold
}
