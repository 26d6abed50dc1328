package deathrecovery

import (
	"fmt"
	"time"

	"github.com/udisondev/botcore/internal/host"
	"github.com/udisondev/botcore/internal/lockorder"
	"github.com/udisondev/botcore/internal/model"
)

// Manager owns one Machine per registered bot.
type Manager struct {
	graveyards host.Graveyards
	corpses    CorpseSource
	cfg        Config
	now        func() time.Time

	mu       *lockorder.SharedMutex
	machines map[model.GUID]*Machine
	retired  Stats // counters of unregistered machines
}

// NewManager creates an empty registry. corpses may be nil.
func NewManager(graveyards host.Graveyards, corpses CorpseSource, cfg Config) *Manager {
	return &Manager{
		graveyards: graveyards,
		corpses:    corpses,
		cfg:        cfg,
		now:        time.Now,
		mu:         lockorder.NewSharedMutex(lockorder.RankDeathRecoveryRegistry),
		machines:   make(map[model.GUID]*Machine),
	}
}

// SetClock overrides the time source of machines registered afterwards (tests).
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Config returns the recovery settings.
func (m *Manager) Config() Config {
	return m.cfg
}

// Register returns the player's machine, creating it on first call.
func (m *Manager) Register(p host.Player) *Machine {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mc, ok := m.machines[p.GUID()]; ok {
		return mc
	}
	mc := NewMachine(p, m.graveyards, m.corpses, m.cfg)
	mc.SetClock(m.now)
	m.machines[p.GUID()] = mc
	return mc
}

// Unregister drops the bot's machine, keeping its counters in the totals.
func (m *Manager) Unregister(guid model.GUID) {
	m.mu.Lock()
	mc, ok := m.machines[guid]
	delete(m.machines, guid)
	m.mu.Unlock()
	if !ok {
		return
	}

	s := mc.Stats()
	m.mu.Lock()
	m.retired.Add(s)
	m.mu.Unlock()
}

// Machine returns the bot's machine.
func (m *Manager) Machine(guid model.GUID) (*Machine, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mc, ok := m.machines[guid]
	return mc, ok
}

// Len returns the number of registered bots.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.machines)
}

// OnDeath starts recovery for the bot. Returns false for a bot already recovering.
func (m *Manager) OnDeath(guid model.GUID) (bool, error) {
	mc, ok := m.Machine(guid)
	if !ok {
		return false, fmt.Errorf("death of %s: %w", guid, ErrUnknownBot)
	}
	return mc.OnDeath(), nil
}

// OnResurrection reports an external resurrection of the bot.
func (m *Manager) OnResurrection(guid model.GUID) error {
	mc, ok := m.Machine(guid)
	if !ok {
		return fmt.Errorf("resurrection of %s: %w", guid, ErrUnknownBot)
	}
	mc.OnResurrection()
	return nil
}

// AcknowledgeTeleport forwards the host's teleport acknowledgement.
func (m *Manager) AcknowledgeTeleport(guid model.GUID) error {
	mc, ok := m.Machine(guid)
	if !ok {
		return fmt.Errorf("teleport ack of %s: %w", guid, ErrUnknownBot)
	}
	mc.AcknowledgeTeleport()
	return nil
}

func (m *Manager) snapshot(dst []*Machine) []*Machine {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, mc := range m.machines {
		dst = append(dst, mc)
	}
	return dst
}

// UpdateAll steps every machine by diff and returns how many bots are in recovery.
// Main goroutine. The registry lock is not held while machines update.
func (m *Manager) UpdateAll(diff time.Duration) int {
	recovering := 0
	for _, mc := range m.snapshot(nil) {
		if mc.State() == StateNotDead {
			continue
		}
		mc.Update(diff)
		if mc.State().IsDead() {
			recovering++
		}
	}
	return recovering
}

// CountByState returns how many bots are in each state.
func (m *Manager) CountByState() map[State]int {
	counts := make(map[State]int)
	for _, mc := range m.snapshot(nil) {
		counts[mc.State()]++
	}
	return counts
}

// Stats aggregates counters of every machine, including unregistered ones.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	total := m.retired
	m.mu.RUnlock()
	for _, mc := range m.snapshot(nil) {
		total.Add(mc.Stats())
	}
	return total
}
