package world

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/udisondev/botcore/internal/host"
	"github.com/udisondev/botcore/internal/lockorder"
	"github.com/udisondev/botcore/internal/model"
)

// Zone is a bounded region of one map with its own creature population.
type Zone struct {
	ID     uint32
	MapID  uint32
	Bounds model.Rect
	Kind   host.ZoneKind

	creatures sync.Map // map[model.GUID]*Creature
	count     atomic.Int32
}

// Count returns the number of creatures in the zone.
func (z *Zone) Count() int {
	return int(z.count.Load())
}

// Creature is a host creature. State is replaced atomically (immutable snapshots).
type Creature struct {
	info atomic.Pointer[model.CreatureInfo]
}

// Info returns the current creature state.
func (c *Creature) Info() model.CreatureInfo {
	return *c.info.Load()
}

func (c *Creature) update(fn func(*model.CreatureInfo)) model.CreatureInfo {
	next := *c.info.Load()
	fn(&next)
	c.info.Store(&next)
	return next
}

type spiritHealer struct {
	guid model.GUID
	pos  model.Position
}

// World is the in-memory authoritative host world used by the simulation and tests.
// Implements host.World, host.Graveyards, host.PlayerDirectory and host.MainThread.
type World struct {
	zones     sync.Map // map[uint32]*Zone
	creatures sync.Map // map[model.GUID]*Creature
	players   sync.Map // map[model.GUID]*Player

	creatureCount atomic.Int32
	playerCount   atomic.Int32

	mu            *lockorder.SharedMutex
	graveyards    []model.WorldLocation
	spiritHealers []spiritHealer
	corpses       map[model.GUID]model.GUID // corpse → owner
	freshCorpses  []model.GUID              // created since the last Tick
	retired       []model.GUID              // owner revived, deleted at the next safe point

	corpsesDeleted  atomic.Uint64
	corpsesDeferred atomic.Uint64

	ids  *GUIDGenerator
	main *MainQueue

	// Set once during initialization, before Tick starts.
	creatureHooks host.CreatureHooks
	corpseHooks   host.CorpseHooks
}

// New creates an empty world.
func New() *World {
	return &World{
		mu:      lockorder.NewSharedMutex(lockorder.RankHostWorld),
		corpses: make(map[model.GUID]model.GUID),
		ids:     NewGUIDGenerator(),
		main:    NewMainQueue(),
	}
}

// IDs returns the world's GUID generator.
func (w *World) IDs() *GUIDGenerator {
	return w.ids
}

// SetCreatureHooks installs the creature mutation hooks. Initialization only.
func (w *World) SetCreatureHooks(h host.CreatureHooks) {
	w.creatureHooks = h
}

// SetCorpseHooks installs the corpse creation hooks. Initialization only.
func (w *World) SetCorpseHooks(h host.CorpseHooks) {
	w.corpseHooks = h
}

// MainQueue returns the main-thread work queue.
func (w *World) MainQueue() *MainQueue {
	return w.main
}

// Post implements host.MainThread.
func (w *World) Post(fn func()) {
	w.main.Post(fn)
}

// Tick runs one main-thread step. The previous frame is over, so corpses it
// created are marked safe and retired corpses are deleted first; then posted
// work is drained and moving players advance.
// Returns the number of posted functions executed.
func (w *World) Tick(diff time.Duration) int {
	w.sealCorpses()
	w.sweepCorpses()
	ran := w.main.Drain()
	w.players.Range(func(_, value any) bool {
		value.(*Player).step(diff)
		return true
	})
	return ran
}

// AddZone registers a zone. Re-adding an id replaces the definition.
func (w *World) AddZone(id, mapID uint32, bounds model.Rect, kind host.ZoneKind) *Zone {
	z := &Zone{ID: id, MapID: mapID, Bounds: bounds, Kind: kind}
	w.zones.Store(id, z)
	return z
}

// Zone returns a zone by id.
func (w *World) Zone(id uint32) (*Zone, bool) {
	v, ok := w.zones.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Zone), true
}

// ZoneAt returns the zone of mapID containing (x, y).
func (w *World) ZoneAt(mapID uint32, x, y float32) (*Zone, bool) {
	var found *Zone
	w.zones.Range(func(_, value any) bool {
		z := value.(*Zone)
		if z.MapID == mapID && z.Bounds.Contains(x, y) {
			found = z
			return false
		}
		return true
	})
	return found, found != nil
}

// ZoneBounds implements host.World.
func (w *World) ZoneBounds(zoneID uint32) (model.Rect, bool) {
	z, ok := w.Zone(zoneID)
	if !ok {
		return model.Rect{}, false
	}
	return z.Bounds, true
}

// ZoneKind returns the kind of a zone (open world if unknown).
func (w *World) ZoneKind(zoneID uint32) host.ZoneKind {
	z, ok := w.Zone(zoneID)
	if !ok {
		return host.ZoneOpenWorld
	}
	return z.Kind
}

// SpawnCreature adds a creature to its zone and fires the spawn hook.
func (w *World) SpawnCreature(info model.CreatureInfo) error {
	z, ok := w.Zone(info.Position.ZoneID)
	if !ok {
		return fmt.Errorf("spawn creature %s: %w", info.GUID, ErrZoneNotFound)
	}
	if !z.Bounds.Contains(info.Position.X, info.Position.Y) {
		return fmt.Errorf("spawn creature %s at (%.1f, %.1f): %w", info.GUID, info.Position.X, info.Position.Y, ErrOutsideZone)
	}
	info.Position.MapID = z.MapID
	info.Alive = true

	c := &Creature{}
	c.info.Store(&info)
	if _, loaded := w.creatures.LoadOrStore(info.GUID, c); loaded {
		return fmt.Errorf("spawn creature %s: %w", info.GUID, ErrCreatureExists)
	}
	z.creatures.Store(info.GUID, c)
	z.count.Add(1)
	w.creatureCount.Add(1)

	if w.creatureHooks != nil {
		w.creatureHooks.OnCreatureSpawn(info)
	}
	return nil
}

// DespawnCreature removes a creature and fires the despawn hook.
func (w *World) DespawnCreature(guid model.GUID) error {
	v, ok := w.creatures.LoadAndDelete(guid)
	if !ok {
		return fmt.Errorf("despawn creature %s: %w", guid, ErrCreatureNotFound)
	}
	c := v.(*Creature)
	info := c.update(func(ci *model.CreatureInfo) { ci.Alive = false })

	if z, ok := w.Zone(info.Position.ZoneID); ok {
		if _, removed := z.creatures.LoadAndDelete(guid); removed {
			z.count.Add(-1)
		}
	}
	w.creatureCount.Add(-1)

	if w.creatureHooks != nil {
		w.creatureHooks.OnCreatureDespawn(info)
	}
	return nil
}

// MoveCreature relocates a creature inside its map. Crossing a zone border
// moves it between zone populations (despawn in the old zone, spawn in the new one).
func (w *World) MoveCreature(guid model.GUID, x, y, z float32) error {
	v, ok := w.creatures.Load(guid)
	if !ok {
		return fmt.Errorf("move creature %s: %w", guid, ErrCreatureNotFound)
	}
	c := v.(*Creature)
	before := c.Info()

	target, ok := w.ZoneAt(before.Position.MapID, x, y)
	if !ok {
		return fmt.Errorf("move creature %s to (%.1f, %.1f): %w", guid, x, y, ErrOutsideZone)
	}

	after := c.update(func(ci *model.CreatureInfo) {
		ci.Position = ci.Position.WithCoordinates(x, y, z)
		ci.Position.ZoneID = target.ID
	})

	if target.ID != before.Position.ZoneID {
		if old, ok := w.Zone(before.Position.ZoneID); ok {
			if _, removed := old.creatures.LoadAndDelete(guid); removed {
				old.count.Add(-1)
			}
		}
		target.creatures.Store(guid, c)
		target.count.Add(1)
		if w.creatureHooks != nil {
			w.creatureHooks.OnCreatureDespawn(before)
			w.creatureHooks.OnCreatureSpawn(after)
		}
		return nil
	}

	if w.creatureHooks != nil {
		w.creatureHooks.OnPositionUpdate(after)
	}
	return nil
}

// SetCreatureCombat changes a creature's combat state and fires the hook on transitions.
func (w *World) SetCreatureCombat(guid model.GUID, inCombat bool) error {
	v, ok := w.creatures.Load(guid)
	if !ok {
		return fmt.Errorf("set combat %s: %w", guid, ErrCreatureNotFound)
	}
	c := v.(*Creature)
	was := c.Info().InCombat
	info := c.update(func(ci *model.CreatureInfo) { ci.InCombat = inCombat })
	if was != inCombat && w.creatureHooks != nil {
		w.creatureHooks.OnCombatStateChange(info, inCombat)
	}
	return nil
}

// AddThreat raises a creature's threat on target and fires the threat hook.
func (w *World) AddThreat(guid, target model.GUID, amount uint8) error {
	v, ok := w.creatures.Load(guid)
	if !ok {
		return fmt.Errorf("add threat %s: %w", guid, ErrCreatureNotFound)
	}
	info := v.(*Creature).update(func(ci *model.CreatureInfo) {
		sum := int(ci.Threat) + int(amount)
		if sum > math.MaxUint8 {
			sum = math.MaxUint8
		}
		ci.Threat = uint8(sum)
	})
	if w.creatureHooks != nil {
		w.creatureHooks.OnThreatUpdate(info, target)
	}
	return nil
}

// ForEachHostileInZone implements host.World.
func (w *World) ForEachHostileInZone(zoneID uint32, fn func(model.CreatureInfo) bool) {
	z, ok := w.Zone(zoneID)
	if !ok {
		return
	}
	z.creatures.Range(func(_, value any) bool {
		info := value.(*Creature).Info()
		if !info.Alive {
			return true
		}
		return fn(info)
	})
}

// ResolveCreature implements host.World.
func (w *World) ResolveCreature(guid model.GUID) (model.CreatureInfo, bool) {
	v, ok := w.creatures.Load(guid)
	if !ok {
		return model.CreatureInfo{}, false
	}
	return v.(*Creature).Info(), true
}

// CreatureCount returns the number of live creatures (O(1) cached count).
func (w *World) CreatureCount() int {
	return int(w.creatureCount.Load())
}

// AddPlayer registers a player in the world.
func (w *World) AddPlayer(p *Player) {
	if _, loaded := w.players.LoadOrStore(p.GUID(), p); !loaded {
		w.playerCount.Add(1)
	}
}

// RemovePlayer removes a player.
func (w *World) RemovePlayer(guid model.GUID) {
	if _, ok := w.players.LoadAndDelete(guid); ok {
		w.playerCount.Add(-1)
	}
}

// Player returns a player by GUID.
func (w *World) Player(guid model.GUID) (*Player, bool) {
	v, ok := w.players.Load(guid)
	if !ok {
		return nil, false
	}
	return v.(*Player), true
}

// ForEachPlayer visits every player; fn returns false to stop.
func (w *World) ForEachPlayer(fn func(*Player) bool) {
	w.players.Range(func(_, value any) bool {
		return fn(value.(*Player))
	})
}

// PlayerCount returns the number of registered players.
func (w *World) PlayerCount() int {
	return int(w.playerCount.Load())
}

// PlayerState implements host.PlayerDirectory.
func (w *World) PlayerState(guid model.GUID) (host.PlayerState, bool) {
	p, ok := w.Player(guid)
	if !ok {
		return host.PlayerState{}, false
	}
	return p.State(), true
}

// AddGraveyard registers a graveyard location.
func (w *World) AddGraveyard(loc model.WorldLocation) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.graveyards = append(w.graveyards, loc)
}

// AddSpiritHealer registers a spirit healer and returns its GUID.
func (w *World) AddSpiritHealer(pos model.Position) model.GUID {
	guid := w.ids.NextHealer()
	w.mu.Lock()
	defer w.mu.Unlock()
	w.spiritHealers = append(w.spiritHealers, spiritHealer{guid: guid, pos: pos})
	return guid
}

// NearestGraveyard implements host.Graveyards.
func (w *World) NearestGraveyard(pos model.Position) (model.WorldLocation, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	var best model.WorldLocation
	bestDist := float32(math.MaxFloat32)
	found := false
	for _, g := range w.graveyards {
		if g.MapID != pos.MapID {
			continue
		}
		d := pos.Distance2DSquared(g.X, g.Y)
		if d < bestDist {
			best, bestDist, found = g, d, true
		}
	}
	return best, found
}

// NearestSpiritHealer implements host.Graveyards.
func (w *World) NearestSpiritHealer(pos model.Position, radius float32) (model.GUID, model.Position, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	var best spiritHealer
	bestDist := radius * radius
	found := false
	for _, h := range w.spiritHealers {
		if h.pos.MapID != pos.MapID {
			continue
		}
		d := pos.DistanceSquared(h.pos)
		if d <= bestDist {
			best, bestDist, found = h, d, true
		}
	}
	return best.guid, best.pos, found
}

// createCorpse asks the corpse hooks whether to create a corpse for owner and
// creates one at loc unless prevented. Returns the corpse GUID (zero if prevented).
func (w *World) createCorpse(owner model.GUID, loc model.WorldLocation) model.GUID {
	if w.corpseHooks != nil && w.corpseHooks.ShouldPreventCorpse(owner) {
		return model.GUID{}
	}
	corpse := w.ids.NextCorpse()
	if w.corpseHooks != nil {
		w.corpseHooks.OnCorpseCreated(corpse, owner, loc)
	}

	// Тик создания ещё идёт: безопасным труп станет в начале следующего
	w.mu.Lock()
	w.corpses[corpse] = owner
	w.freshCorpses = append(w.freshCorpses, corpse)
	w.mu.Unlock()
	return corpse
}

// retireCorpse schedules corpse for deletion at the next Tick.
func (w *World) retireCorpse(corpse model.GUID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.corpses[corpse]; ok {
		w.retired = append(w.retired, corpse)
	}
}

// sealCorpses marks corpses created since the last Tick safe for deletion.
// Hooks run without w.mu: they rank below the host.
func (w *World) sealCorpses() {
	w.mu.Lock()
	fresh := w.freshCorpses
	w.freshCorpses = nil
	w.mu.Unlock()

	if w.corpseHooks == nil {
		return
	}
	for _, corpse := range fresh {
		err := w.corpseHooks.MarkCorpseSafeForDeletion(corpse)
		if err != nil && !errors.Is(err, host.ErrCorpseNotTracked) {
			slog.Warn("mark corpse safe", "corpse", corpse, "error", err)
		}
	}
}

// sweepCorpses deletes retired corpses the hooks allow. Referenced corpses
// stay retired and are retried on the next Tick.
func (w *World) sweepCorpses() {
	w.mu.Lock()
	retired := w.retired
	w.retired = nil
	w.mu.Unlock()
	if len(retired) == 0 {
		return
	}

	// Удаляем только то, что разрешила митигация; занятые трупы ждут следующего тика
	var deleted, kept []model.GUID
	for _, corpse := range retired {
		if w.corpseHooks != nil {
			if err := w.corpseHooks.DeleteIfSafe(corpse); err != nil && !errors.Is(err, host.ErrCorpseNotTracked) {
				kept = append(kept, corpse)
				continue
			}
		}
		deleted = append(deleted, corpse)
	}

	w.mu.Lock()
	for _, corpse := range deleted {
		delete(w.corpses, corpse)
	}
	w.retired = append(w.retired, kept...)
	w.mu.Unlock()

	w.corpsesDeleted.Add(uint64(len(deleted)))
	w.corpsesDeferred.Add(uint64(len(kept)))
}

// HasCorpse reports whether corpse still exists in the world.
func (w *World) HasCorpse(corpse model.GUID) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.corpses[corpse]
	return ok
}

// CorpseStats counts corpse lifecycle events.
type CorpseStats struct {
	Live     int
	Retired  int
	Deleted  uint64
	Deferred uint64 // deletions postponed because the corpse was still referenced
}

// CorpseStats returns the corpse counters.
func (w *World) CorpseStats() CorpseStats {
	w.mu.RLock()
	s := CorpseStats{Live: len(w.corpses), Retired: len(w.retired)}
	w.mu.RUnlock()
	s.Deleted = w.corpsesDeleted.Load()
	s.Deferred = w.corpsesDeferred.Load()
	return s
}
