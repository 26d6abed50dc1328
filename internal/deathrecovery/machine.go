// Package deathrecovery drives a dead bot back to life: release spirit, wait
// for the teleport acknowledgement, then either run back to the corpse or
// resurrect at a spirit healer. One Machine per bot, stepped by Update on the
// main tick.
package deathrecovery

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/udisondev/botcore/internal/corpse"
	"github.com/udisondev/botcore/internal/host"
	"github.com/udisondev/botcore/internal/lockorder"
	"github.com/udisondev/botcore/internal/model"
)

// CorpseSource is corpse mitigation as death recovery sees it.
type CorpseSource interface {
	// GetCorpseLocation returns where the bot died, cached at death.
	GetCorpseLocation(owner model.GUID) (corpse.Location, bool)
	// AcquireReference pins the bot's corpse against deletion.
	AcquireReference(guid model.GUID) (*corpse.ReferenceGuard, bool)
	// OnBotResurrection is told when a bot is alive again.
	OnBotResurrection(owner model.GUID)
}

// Machine is the death recovery state of one bot.
type Machine struct {
	player     host.Player
	graveyards host.Graveyards
	corpses    CorpseSource
	cfg        Config
	now        func() time.Time

	mu    *lockorder.RecursiveMutex // everything below
	resMu *lockorder.RecursiveMutex // resurrection attempts

	state        State
	method       Method
	deathAt      time.Time
	transitionAt time.Time
	deathZone    host.ZoneKind
	corpse       model.WorldLocation
	hasCorpse    bool
	healer       model.GUID
	healerPos    model.Position
	navigating   bool
	navTimer     time.Duration
	checkTimer   time.Duration
	retries      int
	quiescent    bool
	failReason   string
	stats        Stats

	published     atomic.Uint32 // State, readable without mu
	teleportAck   atomic.Bool
	inProgress    atomic.Bool
	lastAttemptMs atomic.Int64
	debounced     atomic.Uint64
	rejected      atomic.Uint64
}

// NewMachine creates a machine for player. corpses may be nil.
func NewMachine(player host.Player, graveyards host.Graveyards, corpses CorpseSource, cfg Config) *Machine {
	return &Machine{
		player:     player,
		graveyards: graveyards,
		corpses:    corpses,
		cfg:        cfg,
		now:        time.Now,
		mu:         lockorder.NewRecursiveMutex(lockorder.RankDeathRecoveryState),
		resMu:      lockorder.NewRecursiveMutex(lockorder.RankResurrection),
	}
}

// SetClock overrides the time source (tests). Call before use.
func (m *Machine) SetClock(now func() time.Time) {
	m.now = now
}

// Player returns the bot this machine drives.
func (m *Machine) Player() host.Player {
	return m.player
}

// State returns the current state without locking.
func (m *Machine) State() State {
	return State(m.published.Load())
}

// OnDeath starts recovery. Returns false if the bot is already recovering.
func (m *Machine) OnDeath() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.IsDead() {
		m.stats.DuplicateDeaths++
		return false
	}
	m.reset()
	m.deathAt = m.now()
	m.deathZone = m.player.ZoneKind()
	m.setState(StateJustDied)
	m.stats.Deaths++
	return true
}

// OnResurrection reports that the host revived the bot by other means.
func (m *Machine) OnResurrection() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.state.IsDead() {
		return
	}
	m.complete(MethodForced)
}

// AcknowledgeTeleport records the host's teleport acknowledgement.
// It is processed by the next Update, never inline.
func (m *Machine) AcknowledgeTeleport() {
	m.teleportAck.Store(true)
}

// ForceReset returns the machine to NOT_DEAD regardless of state.
// Used by supervisors to recover quiescent failed bots.
func (m *Machine) ForceReset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.ForcedResets++
	m.reset()
}

// Update advances the machine by diff. Main goroutine.
func (m *Machine) Update(diff time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.state.IsDead() || m.quiescent {
		return
	}
	// Общий таймаут восстановления важнее любого состояния
	now := m.now()
	if now.Sub(m.deathAt) >= m.cfg.RecoveryTimeout {
		m.stats.Timeouts++
		m.fail("recovery timeout")
		return
	}
	// Воскрешён кем-то другим
	if m.player.IsAlive() {
		m.complete(MethodForced)
		return
	}
	// Боевое воскрешение принимаем в любом состоянии
	if m.cfg.AllowBattleResurrection && m.player.HasPendingResurrectRequest() {
		if m.resurrectLocked(MethodBattleResurrection, m.player.AcceptResurrectRequest) {
			return
		}
	}

	m.navTimer += diff
	m.checkTimer += diff
	inState := now.Sub(m.transitionAt)

	switch m.state {
	case StateJustDied:
		if m.player.IsGhost() {
			m.captureCorpse()
			m.setState(StatePendingTeleportAck)
			break
		}
		if inState >= m.cfg.AutoReleaseDelay {
			m.setState(StateReleasingSpirit)
			m.releaseSpirit()
		}
	case StateReleasingSpirit:
		m.releaseSpirit()
	case StatePendingTeleportAck:
		switch {
		case m.teleportAck.CompareAndSwap(true, false):
			m.setState(StateGhostDeciding)
		case inState >= m.cfg.TeleportAckTimeout:
			slog.Warn("teleport ack timed out", "bot", m.player.GUID(), "waited", inState)
			m.setState(StateGhostDeciding)
		}
	case StateGhostDeciding:
		m.decide()
	case StateRunningToCorpse:
		m.runToCorpse()
	case StateAtCorpse:
		m.resurrectLocked(MethodCorpseRun, m.resurrectAtCorpse)
	case StateFindingSpiritHealer:
		m.findSpiritHealer()
	case StateMovingToSpiritHealer:
		m.moveToSpiritHealer()
	case StateAtSpiritHealer:
		m.resurrectLocked(MethodSpiritHealer, m.resurrectAtSpiritHealer)
	case StateResurrectionFailed:
		m.retry(inState)
	}
}

// ExecuteCorpseResurrection resurrects the ghost at its corpse if it is close enough.
// Safe from any goroutine; concurrent or repeated attempts are debounced.
func (m *Machine) ExecuteCorpseResurrection() bool {
	if !m.mu.TryLockFor(m.cfg.ResurrectionLockTimeout) {
		m.rejected.Add(1)
		return false
	}
	defer m.mu.Unlock()
	if !m.nearCorpse() {
		m.rejected.Add(1)
		return false
	}
	return m.resurrectLocked(MethodCorpseRun, m.resurrectAtCorpse)
}

// ExecuteGraveyardResurrection resurrects the bot at the spirit healer.
// Safe from any goroutine; concurrent or repeated attempts are debounced.
func (m *Machine) ExecuteGraveyardResurrection() bool {
	if !m.mu.TryLockFor(m.cfg.ResurrectionLockTimeout) {
		m.rejected.Add(1)
		return false
	}
	defer m.mu.Unlock()
	return m.resurrectLocked(MethodSpiritHealer, m.resurrectAtSpiritHealer)
}

// resurrectLocked runs one resurrection attempt. At most one attempt is in
// progress per bot, and attempts within ResurrectionDebounce of the previous
// one are dropped. Caller holds mu.
func (m *Machine) resurrectLocked(method Method, revive func() error) bool {
	if !m.resMu.TryLockFor(m.cfg.ResurrectionLockTimeout) {
		m.rejected.Add(1)
		return false
	}
	defer m.resMu.Unlock()

	if !m.state.IsDead() {
		m.rejected.Add(1)
		return false
	}
	// Дебаунс: не чаще одной попытки за ResurrectionDebounce
	nowMs := m.now().UnixMilli()
	if last := m.lastAttemptMs.Load(); last != 0 && nowMs-last < m.cfg.ResurrectionDebounce.Milliseconds() {
		m.debounced.Add(1)
		return false
	}
	if !m.inProgress.CompareAndSwap(false, true) {
		m.debounced.Add(1)
		return false
	}
	defer m.inProgress.Store(false)
	m.lastAttemptMs.Store(nowMs)

	m.method = method
	m.setState(StateResurrecting)
	if err := revive(); err != nil {
		m.fail(fmt.Sprintf("%s resurrection: %v", method, err))
		return false
	}
	m.complete(method)
	return true
}

// resurrectAtCorpse holds a reference on the corpse while the host revives
// the bot, so it cannot be deleted mid-resurrection.
func (m *Machine) resurrectAtCorpse() error {
	if m.corpses != nil {
		if guard, ok := m.corpses.AcquireReference(m.player.GUID()); ok {
			defer guard.Release()
			m.stats.PinnedCorpses++
		}
	}
	return m.player.Resurrect(m.cfg.ResurrectHealthPct, false)
}

func (m *Machine) resurrectAtSpiritHealer() error {
	sick := m.player.Level() > m.cfg.SicknessMinLevel
	if err := m.player.Resurrect(m.cfg.ResurrectHealthPct, sick); err != nil {
		return err
	}
	if sick {
		m.stats.WithSickness++
	}
	return nil
}

func (m *Machine) releaseSpirit() {
	m.teleportAck.Store(false)
	if err := m.player.ReleaseSpirit(); err != nil && !m.player.IsGhost() {
		m.fail(fmt.Sprintf("release spirit: %v", err))
		return
	}
	m.captureCorpse()
	m.setState(StatePendingTeleportAck)
}

// captureCorpse records where the corpse lies. The location corpse mitigation
// cached at death takes precedence over the host's view.
func (m *Machine) captureCorpse() {
	m.corpse, m.hasCorpse = m.player.CorpseLocation()
	if !m.hasCorpse || m.corpses == nil {
		return
	}
	if loc, ok := m.corpses.GetCorpseLocation(m.player.GUID()); ok {
		m.corpse = loc.WorldLocation()
	}
}

func (m *Machine) decide() {
	m.method = m.chooseMethod()
	switch m.method {
	case MethodCorpseRun:
		m.setState(StateRunningToCorpse)
		m.moveTo(m.corpse.X, m.corpse.Y, m.corpse.Z)
	case MethodSpiritHealer:
		m.setState(StateFindingSpiritHealer)
	default:
		m.fail("no corpse and spirit healers disabled")
	}
}

// chooseMethod: zone override first, then a corpse run if preferred and the
// corpse is within range, then the spirit healer.
func (m *Machine) chooseMethod() Method {
	if forced, ok := m.cfg.ZoneMethods[m.deathZone]; ok {
		if forced != MethodCorpseRun || m.hasCorpse {
			return forced
		}
	}
	if m.cfg.PreferCorpseRun && m.hasCorpse {
		pos := m.player.Position()
		maxDist := m.cfg.MaxCorpseRunDistance
		if pos.MapID == m.corpse.MapID && pos.Distance2DSquared(m.corpse.X, m.corpse.Y) <= maxDist*maxDist {
			return MethodCorpseRun
		}
	}
	if m.cfg.AutoSpiritHealer {
		return MethodSpiritHealer
	}
	if m.hasCorpse {
		return MethodCorpseRun
	}
	return MethodNone
}

func (m *Machine) runToCorpse() {
	if m.checkTimer >= m.cfg.CorpseDistanceCheckInterval {
		m.checkTimer = 0
		if m.nearCorpse() {
			m.navigating = false
			m.setState(StateAtCorpse)
			return
		}
	}
	if m.navTimer >= m.cfg.NavigationUpdateInterval {
		m.navTimer = 0
		m.moveTo(m.corpse.X, m.corpse.Y, m.corpse.Z)
	}
}

func (m *Machine) nearCorpse() bool {
	if !m.hasCorpse {
		return false
	}
	pos := m.player.Position()
	d := m.cfg.CorpseInteractDistance
	return pos.MapID == m.corpse.MapID && pos.Distance2DSquared(m.corpse.X, m.corpse.Y) <= d*d
}

func (m *Machine) findSpiritHealer() {
	guid, pos, ok := m.graveyards.NearestSpiritHealer(m.player.Position(), m.cfg.SpiritHealerSearchRadius)
	if !ok {
		if m.hasCorpse {
			m.method = MethodCorpseRun
			m.setState(StateRunningToCorpse)
			m.moveTo(m.corpse.X, m.corpse.Y, m.corpse.Z)
			return
		}
		m.fail("no spirit healer in range")
		return
	}
	m.healer, m.healerPos = guid, pos
	m.setState(StateMovingToSpiritHealer)
	m.moveTo(pos.X, pos.Y, pos.Z)
}

func (m *Machine) moveToSpiritHealer() {
	d := m.cfg.SpiritHealerInteractDistance
	if m.player.Position().Distance2DSquared(m.healerPos.X, m.healerPos.Y) <= d*d {
		m.navigating = false
		m.setState(StateAtSpiritHealer)
		return
	}
	if m.navTimer >= m.cfg.NavigationUpdateInterval {
		m.navTimer = 0
		m.moveTo(m.healerPos.X, m.healerPos.Y, m.healerPos.Z)
	}
}

func (m *Machine) moveTo(x, y, z float32) {
	if err := m.player.MoveTo(x, y, z); err != nil {
		m.navigating = false
		m.fail(fmt.Sprintf("navigate: %v", err))
		return
	}
	m.navigating = true
}

func (m *Machine) retry(inState time.Duration) {
	if inState < m.cfg.RetryDelay {
		return
	}
	m.retries++
	m.stats.Retries++
	if m.retries >= m.cfg.MaxRetries {
		m.giveUp()
		return
	}
	if m.player.IsGhost() {
		m.setState(StateGhostDeciding)
		return
	}
	m.setState(StateJustDied)
}

func (m *Machine) fail(reason string) {
	m.failReason = reason
	m.stats.Failures++
	m.setState(StateResurrectionFailed)
	if m.now().Sub(m.deathAt) >= m.cfg.RecoveryTimeout {
		m.giveUp()
	}
}

// giveUp leaves the bot in a quiescent failed state until ForceReset.
func (m *Machine) giveUp() {
	m.quiescent = true
	m.stats.GaveUp++
	slog.Warn("death recovery gave up",
		"bot", m.player.GUID(),
		"reason", m.failReason,
		"retries", m.retries,
		"dead_for", m.now().Sub(m.deathAt))
}

func (m *Machine) complete(method Method) {
	elapsed := m.now().Sub(m.deathAt)
	m.stats.record(method, elapsed)
	if IsDebugEnabled() {
		slog.Debug("bot resurrected", "bot", m.player.GUID(), "method", method, "took", elapsed)
	}
	m.reset()
	if m.corpses != nil {
		m.corpses.OnBotResurrection(m.player.GUID())
	}
}

func (m *Machine) reset() {
	m.method = MethodNone
	m.corpse, m.hasCorpse = model.WorldLocation{}, false
	m.healer, m.healerPos = model.GUID{}, model.Position{}
	m.navigating = false
	m.retries = 0
	m.quiescent = false
	m.failReason = ""
	m.teleportAck.Store(false)
	m.setState(StateNotDead)
}

func (m *Machine) setState(s State) {
	if IsDebugEnabled() && s != m.state {
		slog.Debug("death recovery transition", "bot", m.player.GUID(), "from", m.state, "to", s)
	}
	m.state = s
	m.published.Store(uint32(s))
	m.transitionAt = m.now()
	m.navTimer = 0
	m.checkTimer = 0
}

// Info is a consistent view of a machine for diagnostics.
type Info struct {
	State      State
	Method     Method
	DeadFor    time.Duration
	Retries    int
	Quiescent  bool
	Navigating bool
	Corpse     model.WorldLocation
	HasCorpse  bool
	Healer     model.GUID
	FailReason string
}

// Info returns the machine's current details.
func (m *Machine) Info() Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	info := Info{
		State:      m.state,
		Method:     m.method,
		Retries:    m.retries,
		Quiescent:  m.quiescent,
		Navigating: m.navigating,
		Corpse:     m.corpse,
		HasCorpse:  m.hasCorpse,
		Healer:     m.healer,
		FailReason: m.failReason,
	}
	if m.state.IsDead() {
		info.DeadFor = m.now().Sub(m.deathAt)
	}
	return info
}

// Stats returns the machine's counters.
func (m *Machine) Stats() Stats {
	m.mu.Lock()
	s := m.stats
	m.mu.Unlock()
	s.Debounced = m.debounced.Load()
	s.Rejected = m.rejected.Load()
	return s
}
