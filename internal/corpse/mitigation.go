// Package corpse keeps the host from deleting bot corpses that other
// subsystems still reference. Bot deaths are either prevented outright
// (instant revive at the graveyard, no corpse) or the created corpse is
// tracked with a reference count until it is safe to delete.
package corpse

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/udisondev/botcore/internal/host"
	"github.com/udisondev/botcore/internal/lockorder"
	"github.com/udisondev/botcore/internal/model"
)

// Defaults.
const (
	DefaultMaxConcurrentPrevention = 10
	DefaultCorpseExpiry            = 30 * time.Minute
)

// Strategy is how a bot death is handled.
type Strategy uint8

const (
	// StrategyTracking lets the host create a corpse and tracks references to it.
	StrategyTracking Strategy = iota
	// StrategyPrevention skips corpse creation and revives the bot at the graveyard.
	StrategyPrevention
)

// String returns human-readable strategy name.
func (s Strategy) String() string {
	if s == StrategyPrevention {
		return "PREVENTION"
	}
	return "TRACKING"
}

// Options configures a Mitigation.
type Options struct {
	PreventionEnabled       bool
	MaxConcurrentPrevention int
	CorpseExpiry            time.Duration
}

// DefaultOptions returns prevention enabled with 10 concurrent revives.
func DefaultOptions() Options {
	return Options{
		PreventionEnabled:       true,
		MaxConcurrentPrevention: DefaultMaxConcurrentPrevention,
		CorpseExpiry:            DefaultCorpseExpiry,
	}
}

var _ host.CorpseHooks = (*Mitigation)(nil)

// Mitigation implements host.CorpseHooks.
type Mitigation struct {
	opts       Options
	main       host.MainThread
	graveyards host.Graveyards
	inFlight   *semaphore.Weighted
	now        func() time.Time

	locMu      *lockorder.SharedMutex
	locations  map[model.GUID]Location
	preventing map[model.GUID]struct{}

	trkMu    *lockorder.SharedMutex
	trackers map[model.GUID]*Tracker // keyed by corpse GUID and by owner GUID

	active atomic.Int64

	prevented  atomic.Uint64
	throttled  atomic.Uint64
	revived    atomic.Uint64
	reviveFail atomic.Uint64
	tracked    atomic.Uint64
	fallbacks  atomic.Uint64
	deleted    atomic.Uint64
	rejected   atomic.Uint64
	expired    atomic.Uint64
}

// New creates a mitigation posting revives to main and resolving graveyards via graveyards.
func New(main host.MainThread, graveyards host.Graveyards, opts Options) *Mitigation {
	if opts.MaxConcurrentPrevention <= 0 {
		opts.MaxConcurrentPrevention = DefaultMaxConcurrentPrevention
	}
	if opts.CorpseExpiry <= 0 {
		opts.CorpseExpiry = DefaultCorpseExpiry
	}
	return &Mitigation{
		opts:       opts,
		main:       main,
		graveyards: graveyards,
		inFlight:   semaphore.NewWeighted(int64(opts.MaxConcurrentPrevention)),
		now:        time.Now,
		locMu:      lockorder.NewSharedMutex(lockorder.RankCorpseLocations),
		locations:  make(map[model.GUID]Location),
		preventing: make(map[model.GUID]struct{}),
		trkMu:      lockorder.NewSharedMutex(lockorder.RankCorpseTrackers),
		trackers:   make(map[model.GUID]*Tracker),
	}
}

// SetClock overrides the time source (tests). Call before use.
func (m *Mitigation) SetClock(now func() time.Time) {
	m.now = now
}

// OnBotDeath picks a strategy for a bot that just died.
// Prevention is used when enabled and fewer than MaxConcurrentPrevention
// revives are in flight; otherwise the corpse is created and tracked.
// A second call while the bot's prevention is still in flight is a no-op.
func (m *Mitigation) OnBotDeath(bot host.Player) Strategy {
	if !m.opts.PreventionEnabled {
		return StrategyTracking
	}
	guid := bot.GUID()
	pos := bot.Position()

	// Повторная смерть, пока предотвращение в полёте: ничего не делаем
	m.locMu.Lock()
	if _, ok := m.preventing[guid]; ok {
		m.locMu.Unlock()
		return StrategyPrevention
	}
	// Лимит одновременных предотвращений исчерпан: отдаём труп на трекинг
	if !m.inFlight.TryAcquire(1) {
		m.locMu.Unlock()
		m.throttled.Add(1)
		if IsDebugEnabled() {
			slog.Debug("corpse prevention throttled", "bot", guid, "in_flight", m.active.Load())
		}
		return StrategyTracking
	}
	m.locations[guid] = Location{MapID: pos.MapID, X: pos.X, Y: pos.Y, Z: pos.Z, DiedAt: m.now()}
	m.preventing[guid] = struct{}{}
	m.locMu.Unlock()

	m.active.Add(1)
	m.prevented.Add(1)
	m.main.Post(func() { m.revive(bot, pos) })
	return StrategyPrevention
}

// revive runs on the main thread: teleport to the graveyard and revive with 1 HP as a ghost.
func (m *Mitigation) revive(bot host.Player, deathPos model.Position) {
	defer func() {
		m.active.Add(-1)
		m.inFlight.Release(1)
	}()

	guid := bot.GUID()
	m.locMu.Lock()
	delete(m.preventing, guid)
	m.locMu.Unlock()

	if bot.IsAlive() {
		return
	}

	// Кладбище, если есть; иначе остаёмся на месте смерти
	dest := model.WorldLocation{MapID: deathPos.MapID, X: deathPos.X, Y: deathPos.Y, Z: deathPos.Z}
	if gy, ok := m.graveyards.NearestGraveyard(deathPos); ok {
		dest = gy
	}
	if err := bot.TeleportTo(dest); err != nil {
		slog.Warn("corpse prevention teleport failed", "bot", guid, "error", err)
	}
	// Zero percent health still yields 1 HP.
	if err := bot.Resurrect(0, false); err != nil {
		m.reviveFail.Add(1)
		slog.Warn("corpse prevention revive failed", "bot", guid, "error", err)
		return
	}
	bot.SetGhostVisual(true)
	m.revived.Add(1)
}

// ShouldPreventCorpse implements host.CorpseHooks. Consumes the bot's prevention mark.
func (m *Mitigation) ShouldPreventCorpse(owner model.GUID) bool {
	m.locMu.Lock()
	defer m.locMu.Unlock()
	if _, ok := m.preventing[owner]; !ok {
		return false
	}
	delete(m.preventing, owner)
	return true
}

// OnCorpseCreated implements host.CorpseHooks: the corpse is tracked under
// both its own and its owner's GUID with the creation reference held.
func (m *Mitigation) OnCorpseCreated(corpse, owner model.GUID, loc model.WorldLocation) {
	now := m.now()

	m.locMu.Lock()
	if _, ok := m.locations[owner]; !ok {
		m.locations[owner] = Location{MapID: loc.MapID, X: loc.X, Y: loc.Y, Z: loc.Z, DiedAt: now}
	}
	_, lost := m.preventing[owner]
	delete(m.preventing, owner)
	m.locMu.Unlock()

	if lost {
		m.fallbacks.Add(1)
	}

	t := newTracker(corpse, owner, loc, now)
	m.trkMu.Lock()
	m.trackers[corpse] = t
	m.trackers[owner] = t
	m.trkMu.Unlock()
	m.tracked.Add(1)

	if IsDebugEnabled() {
		slog.Debug("corpse tracked", "corpse", corpse, "owner", owner, "fallback", lost)
	}
}

func (m *Mitigation) tracker(guid model.GUID) (*Tracker, bool) {
	m.trkMu.RLock()
	defer m.trkMu.RUnlock()
	t, ok := m.trackers[guid]
	return t, ok
}

// Tracker returns the tracker registered under a corpse or owner GUID.
func (m *Mitigation) Tracker(guid model.GUID) (*Tracker, bool) {
	return m.tracker(guid)
}

// AcquireReference pins a tracked corpse (by corpse or owner GUID) until the guard is released.
func (m *Mitigation) AcquireReference(guid model.GUID) (*ReferenceGuard, bool) {
	m.trkMu.RLock()
	defer m.trkMu.RUnlock()
	t, ok := m.trackers[guid]
	if !ok {
		return nil, false
	}
	t.refs.Add(1)
	return &ReferenceGuard{tracker: t}, true
}

// IsCorpseSafeToDelete reports safeToDelete ∧ refCount = 0.
// Untracked corpses are not protected and report true.
func (m *Mitigation) IsCorpseSafeToDelete(guid model.GUID) bool {
	t, ok := m.tracker(guid)
	if !ok {
		return true
	}
	return t.deletable()
}

// MarkCorpseSafeForDeletion is called by the host at the end of the tick that
// created the corpse. It sets the safe flag and drops the creation reference.
func (m *Mitigation) MarkCorpseSafeForDeletion(guid model.GUID) error {
	t, ok := m.tracker(guid)
	if !ok {
		return fmt.Errorf("mark corpse %s: %w", guid, ErrNotTracked)
	}
	t.safe.Store(true)
	t.dropCreationReference()
	return nil
}

// ReleaseCreationReference drops the creation reference without marking the corpse safe.
func (m *Mitigation) ReleaseCreationReference(guid model.GUID) error {
	t, ok := m.tracker(guid)
	if !ok {
		return fmt.Errorf("release corpse %s: %w", guid, ErrNotTracked)
	}
	t.dropCreationReference()
	return nil
}

// DeleteIfSafe untracks the corpse if it is safe to delete. The host deletes
// the corpse only after a nil return.
func (m *Mitigation) DeleteIfSafe(guid model.GUID) error {
	m.trkMu.Lock()
	defer m.trkMu.Unlock()

	t, ok := m.trackers[guid]
	if !ok {
		return fmt.Errorf("delete corpse %s: %w", guid, ErrNotTracked)
	}
	if !t.deletable() {
		m.rejected.Add(1)
		return fmt.Errorf("delete corpse %s (refs=%d safe=%t): %w", t.Corpse, t.RefCount(), t.SafeToDelete(), ErrInUse)
	}
	m.untrackLocked(t)
	m.deleted.Add(1)
	return nil
}

func (m *Mitigation) untrackLocked(t *Tracker) {
	if cur, ok := m.trackers[t.Corpse]; ok && cur == t {
		delete(m.trackers, t.Corpse)
	}
	if cur, ok := m.trackers[t.Owner]; ok && cur == t {
		delete(m.trackers, t.Owner)
	}
}

// OnBotResurrection forgets the bot's death location and untracks its corpse.
// A corpse still referenced is detached from the owner and marked safe; it is
// removed once the last reference goes away (DeleteIfSafe or CleanupExpiredCorpses).
func (m *Mitigation) OnBotResurrection(owner model.GUID) {
	m.locMu.Lock()
	delete(m.locations, owner)
	delete(m.preventing, owner)
	m.locMu.Unlock()

	m.trkMu.Lock()
	defer m.trkMu.Unlock()
	t, ok := m.trackers[owner]
	if !ok {
		return
	}
	t.safe.Store(true)
	t.dropCreationReference()
	if t.refs.Load() == 0 {
		m.untrackLocked(t)
		return
	}
	// На труп ещё ссылаются: отвязываем от владельца, удалит последний релиз
	delete(m.trackers, owner)
}

// CleanupExpiredCorpses removes trackers older than the corpse expiry with no
// references, and death locations of the same age. Returns trackers removed.
func (m *Mitigation) CleanupExpiredCorpses(now time.Time) int {
	m.locMu.Lock()
	for guid, loc := range m.locations {
		if now.Sub(loc.DiedAt) > m.opts.CorpseExpiry {
			delete(m.locations, guid)
		}
	}
	m.locMu.Unlock()

	m.trkMu.Lock()
	defer m.trkMu.Unlock()
	removed := 0
	for guid, t := range m.trackers {
		if guid != t.Corpse {
			continue
		}
		if now.Sub(t.CreatedAt) > m.opts.CorpseExpiry && t.refs.Load() == 0 {
			m.untrackLocked(t)
			removed++
		}
	}
	if removed > 0 {
		m.expired.Add(uint64(removed))
		slog.Info("expired corpses cleaned up", "count", removed)
	}
	return removed
}

// GetCorpseLocation returns where the bot died, if known.
func (m *Mitigation) GetCorpseLocation(owner model.GUID) (Location, bool) {
	m.locMu.RLock()
	defer m.locMu.RUnlock()
	loc, ok := m.locations[owner]
	return loc, ok
}

// IsPreventing reports whether the bot is marked for corpse prevention.
func (m *Mitigation) IsPreventing(owner model.GUID) bool {
	m.locMu.RLock()
	defer m.locMu.RUnlock()
	_, ok := m.preventing[owner]
	return ok
}

// Stats is a point-in-time view of corpse mitigation.
type Stats struct {
	PreventedCorpses    uint64
	ThrottledPrevention uint64
	Revived             uint64
	ReviveFailures      uint64
	TrackedCorpses      uint64
	Fallbacks           uint64
	DeletedCorpses      uint64
	RejectedDeletes     uint64
	ExpiredCorpses      uint64
	InFlightPrevention  int64
	ActiveTrackers      int
	CachedLocations     int
}

// Stats returns current counters.
func (m *Mitigation) Stats() Stats {
	s := Stats{
		PreventedCorpses:    m.prevented.Load(),
		ThrottledPrevention: m.throttled.Load(),
		Revived:             m.revived.Load(),
		ReviveFailures:      m.reviveFail.Load(),
		TrackedCorpses:      m.tracked.Load(),
		Fallbacks:           m.fallbacks.Load(),
		DeletedCorpses:      m.deleted.Load(),
		RejectedDeletes:     m.rejected.Load(),
		ExpiredCorpses:      m.expired.Load(),
		InFlightPrevention:  m.active.Load(),
	}

	m.locMu.RLock()
	s.CachedLocations = len(m.locations)
	m.locMu.RUnlock()

	m.trkMu.RLock()
	for guid, t := range m.trackers {
		if guid == t.Corpse {
			s.ActiveTrackers++
		}
	}
	m.trkMu.RUnlock()
	return s
}
