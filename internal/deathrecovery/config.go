package deathrecovery

import (
	"time"

	"github.com/udisondev/botcore/internal/host"
)

// Config tunes death recovery. Distances are world units.
type Config struct {
	AutoReleaseDelay        time.Duration
	PreferCorpseRun         bool
	MaxCorpseRunDistance    float32
	AutoSpiritHealer        bool
	AllowBattleResurrection bool

	NavigationUpdateInterval    time.Duration
	CorpseDistanceCheckInterval time.Duration
	SpiritHealerSearchRadius    float32

	RecoveryTimeout    time.Duration
	RetryDelay         time.Duration
	MaxRetries         int
	TeleportAckTimeout time.Duration

	// ResurrectionDebounce rejects a second attempt this soon after the previous one.
	ResurrectionDebounce    time.Duration
	ResurrectionLockTimeout time.Duration

	CorpseInteractDistance       float32
	SpiritHealerInteractDistance float32
	ResurrectHealthPct           float32
	// Spirit healer resurrections above this level apply resurrection sickness.
	SicknessMinLevel uint8

	// ZoneMethods forces a method in special zones.
	ZoneMethods map[host.ZoneKind]Method
}

// DefaultConfig returns stock death recovery settings.
func DefaultConfig() Config {
	return Config{
		AutoReleaseDelay:        5 * time.Second,
		PreferCorpseRun:         true,
		MaxCorpseRunDistance:    200,
		AutoSpiritHealer:        true,
		AllowBattleResurrection: true,

		NavigationUpdateInterval:    500 * time.Millisecond,
		CorpseDistanceCheckInterval: time.Second,
		SpiritHealerSearchRadius:    150,

		RecoveryTimeout:    5 * time.Minute,
		RetryDelay:         5 * time.Second,
		MaxRetries:         5,
		TeleportAckTimeout: 30 * time.Second,

		ResurrectionDebounce:    500 * time.Millisecond,
		ResurrectionLockTimeout: 100 * time.Millisecond,

		CorpseInteractDistance:       39,
		SpiritHealerInteractDistance: 5,
		ResurrectHealthPct:           0.5,
		SicknessMinLevel:             10,

		ZoneMethods: map[host.ZoneKind]Method{
			host.ZoneBattleground: MethodSpiritHealer,
			host.ZoneArena:        MethodSpiritHealer,
			host.ZoneInstance:     MethodCorpseRun,
		},
	}
}
