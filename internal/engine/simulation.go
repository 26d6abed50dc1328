package engine

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/udisondev/botcore/internal/ai"
	"github.com/udisondev/botcore/internal/coordinator"
	"github.com/udisondev/botcore/internal/deathrecovery"
	"github.com/udisondev/botcore/internal/host"
	"github.com/udisondev/botcore/internal/model"
	"github.com/udisondev/botcore/internal/world"
)

// Population constants of the simulated world.
const (
	lfgGroupSize       = 5
	hostileMovesPerSec = 0.2 // fraction of hostiles moving each second
	hostileStep        = 4
	hostileLevel       = 20
	botLevel           = 20
)

type simZone struct {
	id     uint32
	mapID  uint32
	bounds model.Rect
	kind   host.ZoneKind
}

type simBot struct {
	player     *world.Player
	controller *ai.BotController
	recovery   *deathrecovery.Machine
}

// Populate builds the simulated world described by cfg.Simulation: zones with
// a graveyard and a spirit healer each, hostile creatures, and bots registered
// with death recovery and the scheduler. Battleground zones get one
// coordinator with both teams; open-world zones get LFG groups.
// Coordinators are only requested; the main loop creates them.
func (e *Engine) Populate() error {
	sim := e.cfg.Simulation
	for i := range sim.Zones {
		kind := host.ZoneOpenWorld
		if i < sim.Battlegrounds {
			kind = host.ZoneBattleground
		}
		z := simZone{
			id:     uint32(i + 1),
			mapID:  uint32(i),
			bounds: model.Rect{MaxX: sim.ZoneSize, MaxY: sim.ZoneSize},
			kind:   kind,
		}
		e.World.AddZone(z.id, z.mapID, z.bounds, z.kind)
		e.World.AddGraveyard(model.WorldLocation{MapID: z.mapID, X: sim.ZoneSize / 10, Y: sim.ZoneSize / 10})
		e.World.AddSpiritHealer(model.NewPosition(z.mapID, z.id, sim.ZoneSize/10+5, sim.ZoneSize/10, 0))
		e.zones = append(e.zones, z)

		for range sim.HostilesPerZone {
			if err := e.World.SpawnCreature(model.CreatureInfo{
				GUID:     e.World.IDs().NextCreature(),
				Position: e.randomPosition(z),
				Level:    hostileLevel,
			}); err != nil {
				return fmt.Errorf("populating zone %d: %w", z.id, err)
			}
		}
	}
	if len(e.zones) == 0 {
		return nil
	}

	members := make(map[uint32][]*simBot, len(e.zones))
	for i := range sim.Bots {
		z := e.zones[i%len(e.zones)]
		bot, err := e.addBot(z, len(members[z.id]))
		if err != nil {
			return err
		}
		members[z.id] = append(members[z.id], bot)
	}

	var ctxID uint64
	for _, z := range e.zones {
		bots := members[z.id]
		if z.kind == host.ZoneBattleground {
			ctxID++
			e.requestCoordinator(ctxID, coordinator.KindBattleground, z, bots)
			continue
		}
		for start := 0; start+lfgGroupSize <= len(bots); start += lfgGroupSize {
			ctxID++
			e.requestCoordinator(ctxID, coordinator.KindLFG, z, bots[start:start+lfgGroupSize])
		}
	}

	slog.Info("simulation populated",
		"zones", len(e.zones),
		"hostiles", e.World.CreatureCount(),
		"bots", len(e.bots),
		"coordinators", e.Coordinators.Stats().Pending)
	return nil
}

// addBot creates the n-th bot of zone z. Every fifth bot tanks and every
// fifth heals, so LFG groups of five get one of each.
func (e *Engine) addBot(z simZone, n int) (*simBot, error) {
	role := model.RoleDPS
	switch n % lfgGroupSize {
	case 0:
		role = model.RoleTank
	case 1:
		role = model.RoleHealer
	}
	team := model.TeamAlliance
	if z.kind == host.ZoneBattleground && n%2 == 1 {
		team = model.TeamHorde
	}

	p := world.NewPlayer(e.World, e.World.IDs().NextPlayer(), e.randomPosition(z), world.PlayerOptions{
		Level: botLevel,
		Role:  role,
		Team:  team,
	})
	e.World.AddPlayer(p)

	mc := e.Recovery.Register(p)
	c := ai.NewBotController(p, e.Optimizer, mc, e.Coordinators, ai.ControllerOptions{
		Role:        role,
		GroupLeader: role == model.RoleTank,
	})
	if err := e.Scheduler.Register(c); err != nil {
		return nil, fmt.Errorf("adding bot: %w", err)
	}

	bot := &simBot{player: p, controller: c, recovery: mc}
	e.bots = append(e.bots, bot)
	return bot, nil
}

func (e *Engine) requestCoordinator(id uint64, kind coordinator.Kind, z simZone, bots []*simBot) {
	guids := make([]model.GUID, len(bots))
	for i, b := range bots {
		guids[i] = b.player.GUID()
	}
	e.Coordinators.RequestCreation(coordinator.Request{
		Context: coordinator.Context{ID: id, Kind: kind, MapID: z.mapID, Bounds: z.bounds},
		Bots:    guids,
	})
}

func (e *Engine) randomPosition(z simZone) model.Position {
	x := z.bounds.MinX + e.rng.Float32()*(z.bounds.MaxX-z.bounds.MinX)
	y := z.bounds.MinY + e.rng.Float32()*(z.bounds.MaxY-z.bounds.MinY)
	return model.NewPosition(z.mapID, z.id, x, y, 0)
}

// simulate advances the host side of the simulation by diff: hostiles wander,
// bots follow their controller's decision, and some bots die.
func (e *Engine) simulate(diff time.Duration) {
	secs := diff.Seconds()
	e.wanderHostiles(secs)

	deathChance := 1 - math.Pow(1-e.cfg.Simulation.DeathChance, secs)
	for _, b := range e.bots {
		p := b.player
		if !p.IsAlive() {
			continue
		}
		if deathChance > 0 && e.rng.Float64() < deathChance {
			e.killBot(b)
			continue
		}

		target := b.controller.Target()
		p.SetTarget(target)
		p.SetCombat(!target.IsZero())

		if b.controller.CurrentIntention() == model.IntentionMoveTo && !p.IsMoving() {
			dst := b.controller.RegroupPoint()
			if dst.ZoneID == p.Position().ZoneID {
				_ = p.MoveTo(dst.X, dst.Y, dst.Z)
			}
		}
	}
}

func (e *Engine) wanderHostiles(secs float64) {
	n := int(float64(e.World.CreatureCount()) * hostileMovesPerSec * secs)
	if n == 0 {
		return
	}
	var moved []model.CreatureInfo
	for _, z := range e.zones {
		e.World.ForEachHostileInZone(z.id, func(c model.CreatureInfo) bool {
			if e.rng.Float64() < hostileMovesPerSec*secs {
				moved = append(moved, c)
			}
			return len(moved) < n
		})
	}
	for _, c := range moved {
		z := e.zoneOf(c.Position.ZoneID)
		x := clamp(c.Position.X+(e.rng.Float32()*2-1)*hostileStep, z.bounds.MinX, z.bounds.MaxX-1)
		y := clamp(c.Position.Y+(e.rng.Float32()*2-1)*hostileStep, z.bounds.MinY, z.bounds.MaxY-1)
		if err := e.World.MoveCreature(c.GUID, x, y, c.Position.Z); err != nil && IsDebugEnabled() {
			slog.Debug("hostile move rejected", "creature", c.GUID, "err", err)
		}
	}
}

// killBot kills a bot and hands it to corpse mitigation and death recovery.
// Mitigation decides before the spirit is released, so prevention applies to
// the corpse the release would create.
func (e *Engine) killBot(b *simBot) {
	if err := b.player.Kill(); err != nil {
		return
	}
	strategy := e.Corpses.OnBotDeath(b.player)
	started := b.recovery.OnDeath()
	if IsDebugEnabled() {
		slog.Debug("bot died",
			"bot", b.player.GUID(),
			"strategy", strategy,
			"recovering", started)
	}
}

func (e *Engine) zoneOf(id uint32) simZone {
	for _, z := range e.zones {
		if z.id == id {
			return z
		}
	}
	return simZone{}
}

func clamp(v, lo, hi float32) float32 {
	return min(max(v, lo), hi)
}
