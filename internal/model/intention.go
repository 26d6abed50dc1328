package model

// Intention is what a bot controller is currently trying to do.
type Intention int32

const (
	// IntentionIdle - bot is parked (not started, stopped or no world view)
	IntentionIdle Intention = iota
	// IntentionActive - bot is alive and scanning for hostiles
	IntentionActive
	// IntentionAttack - bot has picked a hostile target
	IntentionAttack
	// IntentionRecover - bot is dead and death recovery owns it
	IntentionRecover
	// IntentionMoveTo - bot is answering a coordinator regroup
	IntentionMoveTo
)

// String returns human-readable intention name
func (i Intention) String() string {
	switch i {
	case IntentionIdle:
		return "IDLE"
	case IntentionActive:
		return "ACTIVE"
	case IntentionAttack:
		return "ATTACK"
	case IntentionRecover:
		return "RECOVER"
	case IntentionMoveTo:
		return "MOVE_TO"
	default:
		return "UNKNOWN"
	}
}
