package query

import "github.com/udisondev/botcore/internal/model"

// Priority scale bounds.
const (
	PriorityMin uint8 = 0
	PriorityMax uint8 = 100
)

// Profile is what priority scoring knows about the querying bot.
type Profile struct {
	InCombat bool
	// NearestHostile is the distance to the closest known hostile; ≤ 0 means unknown.
	NearestHostile float32
	Role           model.Role
	GroupLeader    bool
}

// Score weights. Sum of the maxima is PriorityMax.
const (
	scoreBase      = 20
	scoreCombat    = 35
	scoreClose     = 20 // hostile within 10 units
	scoreNear      = 12 // within 30
	scoreAround    = 5  // within 60
	scoreTank      = 15
	scoreHealer    = 10
	scoreLeader    = 10
	closeDistance  = 10
	nearDistance   = 30
	aroundDistance = 60
)

// ScorePriority rates a query 0..100: combat, hostile proximity,
// role weight (tank > healer > dps) and a group-leader bonus.
// Higher priority is less likely to be throttled.
func ScorePriority(p Profile) uint8 {
	score := scoreBase
	if p.InCombat {
		score += scoreCombat
	}

	switch d := p.NearestHostile; {
	case d <= 0:
	case d <= closeDistance:
		score += scoreClose
	case d <= nearDistance:
		score += scoreNear
	case d <= aroundDistance:
		score += scoreAround
	}

	switch p.Role {
	case model.RoleTank:
		score += scoreTank
	case model.RoleHealer:
		score += scoreHealer
	}

	if p.GroupLeader {
		score += scoreLeader
	}
	return uint8(min(score, int(PriorityMax)))
}
