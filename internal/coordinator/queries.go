package coordinator

import "github.com/udisondev/botcore/internal/model"

// Queries read the last published snapshots only. They are safe from any
// goroutine and never touch live host objects.

// NearestEnemy returns the closest alive participant of another team within
// radius of bot. The cell scan stops as soon as no farther ring can beat the
// current best.
func (c *Coordinator) NearestEnemy(bot model.GUID, radius float32) (model.PlayerSnapshot, bool) {
	self, ok := c.grid.Snapshot(bot)
	if !ok {
		return model.PlayerSnapshot{}, false
	}
	return c.grid.Nearest(positionOf(&self), radius, func(s *model.PlayerSnapshot) bool {
		return isEnemy(&self, s)
	})
}

// NearbyEnemies returns alive participants of another team within radius, nearest first.
func (c *Coordinator) NearbyEnemies(bot model.GUID, radius float32) []model.PlayerSnapshot {
	self, ok := c.grid.Snapshot(bot)
	if !ok {
		return nil
	}
	return c.grid.Nearby(positionOf(&self), radius, func(s *model.PlayerSnapshot) bool {
		return isEnemy(&self, s)
	})
}

// NearbyAllies returns alive teammates within radius, nearest first, excluding bot.
func (c *Coordinator) NearbyAllies(bot model.GUID, radius float32) []model.PlayerSnapshot {
	self, ok := c.grid.Snapshot(bot)
	if !ok {
		return nil
	}
	return c.grid.Nearby(positionOf(&self), radius, func(s *model.PlayerSnapshot) bool {
		return s.GUID != self.GUID && s.Team == self.Team
	})
}

// CountByTeam counts alive participants per team.
func (c *Coordinator) CountByTeam() map[model.Team]int {
	counts := make(map[model.Team]int)
	for _, s := range c.grid.All() {
		if s.IsAlive() {
			counts[s.Team]++
		}
	}
	return counts
}

// Healers returns alive healers of team. TeamNone matches every team.
func (c *Coordinator) Healers(team model.Team) []model.PlayerSnapshot {
	return c.grid.Filter(func(s *model.PlayerSnapshot) bool {
		return s.IsAlive() && s.Role == model.RoleHealer && (team == model.TeamNone || s.Team == team)
	})
}

// PlayersAttacking returns alive participants whose current target is target.
func (c *Coordinator) PlayersAttacking(target model.GUID) []model.PlayerSnapshot {
	if target.IsZero() {
		return nil
	}
	return c.grid.Filter(func(s *model.PlayerSnapshot) bool {
		return s.IsAlive() && s.Target == target
	})
}

// FlagCarriers returns alive participants carrying any flag.
func (c *Coordinator) FlagCarriers() []model.PlayerSnapshot {
	return c.grid.Filter(func(s *model.PlayerSnapshot) bool {
		return s.IsAlive() && s.IsFlagCarrier()
	})
}

func isEnemy(self, s *model.PlayerSnapshot) bool {
	return s.GUID != self.GUID && s.Team != self.Team && s.Team != model.TeamNone
}

func positionOf(s *model.PlayerSnapshot) model.Position {
	return model.Position{MapID: s.MapID, X: s.X, Y: s.Y, Z: s.Z, Orientation: s.Orientation}
}
