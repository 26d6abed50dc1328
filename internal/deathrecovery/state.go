package deathrecovery

// State is a death recovery step.
type State uint8

const (
	StateNotDead State = iota
	StateJustDied
	StateReleasingSpirit
	StatePendingTeleportAck
	StateGhostDeciding
	StateRunningToCorpse
	StateAtCorpse
	StateFindingSpiritHealer
	StateMovingToSpiritHealer
	StateAtSpiritHealer
	StateResurrecting
	StateResurrectionFailed
)

var stateNames = [...]string{
	StateNotDead:              "NOT_DEAD",
	StateJustDied:             "JUST_DIED",
	StateReleasingSpirit:      "RELEASING_SPIRIT",
	StatePendingTeleportAck:   "PENDING_TELEPORT_ACK",
	StateGhostDeciding:        "GHOST_DECIDING",
	StateRunningToCorpse:      "RUNNING_TO_CORPSE",
	StateAtCorpse:             "AT_CORPSE",
	StateFindingSpiritHealer:  "FINDING_SPIRIT_HEALER",
	StateMovingToSpiritHealer: "MOVING_TO_SPIRIT_HEALER",
	StateAtSpiritHealer:       "AT_SPIRIT_HEALER",
	StateResurrecting:         "RESURRECTING",
	StateResurrectionFailed:   "RESURRECTION_FAILED",
}

// String returns human-readable state name.
func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "UNKNOWN"
}

// IsDead reports whether the bot is somewhere in recovery.
func (s State) IsDead() bool {
	return s != StateNotDead
}

// Method is how a bot came back to life.
type Method uint8

const (
	MethodNone Method = iota
	MethodCorpseRun
	MethodSpiritHealer
	MethodBattleResurrection
	MethodForced
)

// String returns human-readable method name.
func (m Method) String() string {
	switch m {
	case MethodCorpseRun:
		return "CORPSE_RUN"
	case MethodSpiritHealer:
		return "SPIRIT_HEALER"
	case MethodBattleResurrection:
		return "BATTLE_RESURRECTION"
	case MethodForced:
		return "FORCED"
	default:
		return "NONE"
	}
}
