// Package config loads the bot core configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where the config is looked up when BOTCORE_CONFIG is unset.
const DefaultPath = "config/botcore.yaml"

// PathEnv overrides DefaultPath.
const PathEnv = "BOTCORE_CONFIG"

// ErrInvalid marks a configuration that failed validation.
var ErrInvalid = errors.New("invalid config")

// BotCore holds all configuration of the bot coordination core.
type BotCore struct {
	LogLevel string `yaml:"log_level"` // debug, info, warn, error

	Database           DatabaseConfig `yaml:"database"`
	StatsFlushInterval time.Duration  `yaml:"stats_flush_interval"` // 0 disables persistence

	Spatial       SpatialConfig       `yaml:"spatial"`
	EventBus      EventBusConfig      `yaml:"event_bus"`
	Query         QueryConfig         `yaml:"query"`
	Corpse        CorpseConfig        `yaml:"corpse"`
	DeathRecovery DeathRecoveryConfig `yaml:"death_recovery"`
	Locks         LocksConfig         `yaml:"locks"`
	Engine        EngineConfig        `yaml:"engine"`
	Simulation    SimulationConfig    `yaml:"simulation"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

// SpatialConfig tunes the hostile cache and its worker.
type SpatialConfig struct {
	CacheUpdateInterval time.Duration `yaml:"cache_update_interval"`
	CellSize            float32       `yaml:"cell_size"`
	CellsPerZone        int           `yaml:"cells_per_zone"` // per side
	UpdateQueueCapacity int           `yaml:"update_queue_capacity"`
	WorkerBatchSize     int           `yaml:"worker_batch_size"`
	TrafficWindow       time.Duration `yaml:"traffic_window"`
	PruneIdleZones      time.Duration `yaml:"prune_idle_zones"` // 0 keeps every zone
}

// EventBusConfig tunes the hostile event bus.
type EventBusConfig struct {
	QueueCapacity int `yaml:"event_queue_capacity"`
}

// QueryConfig tunes the query optimizer.
type QueryConfig struct {
	TargetFrameBudget  time.Duration `yaml:"target_frame_budget"`
	HighWatermark      float64       `yaml:"high_watermark"`
	LowWatermark       float64       `yaml:"low_watermark"`
	MaxQueriesPerFrame int           `yaml:"max_queries_per_frame"`
	MinQueriesPerFrame int           `yaml:"min_queries_per_frame"`
	MinQueryInterval   time.Duration `yaml:"min_query_interval"`
	WindowFrames       int           `yaml:"window_frames"`
	BotLocalCacheSize  int           `yaml:"bot_local_cache_size"`
	BotLocalCacheTTL   time.Duration `yaml:"bot_local_cache_ttl"`
}

// CorpseConfig tunes corpse crash mitigation.
type CorpseConfig struct {
	PreventionEnabled       bool          `yaml:"prevention_enabled"`
	MaxConcurrentPrevention int           `yaml:"max_concurrent_prevention"`
	CorpseExpiry            time.Duration `yaml:"corpse_expiry"`
	CleanupInterval         time.Duration `yaml:"cleanup_interval"`
}

// DeathRecoveryConfig tunes the death recovery state machines.
type DeathRecoveryConfig struct {
	AutoReleaseDelay        time.Duration `yaml:"auto_release_delay"`
	PreferCorpseRun         bool          `yaml:"prefer_corpse_run"`
	MaxCorpseRunDistance    float32       `yaml:"max_corpse_run_distance"`
	AutoSpiritHealer        bool          `yaml:"auto_spirit_healer"`
	AllowBattleResurrection bool          `yaml:"allow_battle_resurrection"`
	RecoveryTimeout         time.Duration `yaml:"recovery_timeout"`
	RetryDelay              time.Duration `yaml:"retry_delay"`
	MaxRetries              int           `yaml:"max_retries"`
	TeleportAckTimeout      time.Duration `yaml:"teleport_ack_timeout"`
	ResurrectionDebounce    time.Duration `yaml:"resurrection_debounce"`
}

// LocksConfig controls lock-order verification and deadlock detection.
type LocksConfig struct {
	OrderChecks       bool          `yaml:"order_checks"`
	DeadlockDetection bool          `yaml:"deadlock_detection"`
	DeadlockTimeout   time.Duration `yaml:"deadlock_timeout"`
	ReportInterval    time.Duration `yaml:"report_interval"`
}

// EngineConfig tunes the main loop and the bot scheduler.
type EngineConfig struct {
	MainTickInterval  time.Duration `yaml:"main_tick_interval"`
	BotTickInterval   time.Duration `yaml:"bot_tick_interval"`
	BotWorkers        int           `yaml:"bot_workers"` // 0 means NumCPU
	ParallelThreshold int           `yaml:"parallel_threshold"`
}

// SimulationConfig sizes the in-memory world driven by cmd/botcore.
type SimulationConfig struct {
	Zones           int           `yaml:"zones"`
	ZoneSize        float32       `yaml:"zone_size"`
	HostilesPerZone int           `yaml:"hostiles_per_zone"`
	Bots            int           `yaml:"bots"`
	Battlegrounds   int           `yaml:"battlegrounds"`
	DeathChance     float64       `yaml:"death_chance"` // per bot per second
	Duration        time.Duration `yaml:"duration"`     // 0 runs until interrupted
}

// Default returns BotCore config with sensible defaults.
func Default() BotCore {
	return BotCore{
		LogLevel: "info",
		Database: DatabaseConfig{
			Host:     "127.0.0.1",
			Port:     5432,
			User:     "botcore",
			Password: "botcore",
			DBName:   "botcore",
			SSLMode:  "disable",
		},
		StatsFlushInterval: 30 * time.Second,
		Spatial: SpatialConfig{
			CacheUpdateInterval: 100 * time.Millisecond,
			CellSize:            50,
			CellsPerZone:        16,
			UpdateQueueCapacity: 1024,
			WorkerBatchSize:     64,
			TrafficWindow:       10 * time.Second,
			PruneIdleZones:      5 * time.Minute,
		},
		EventBus: EventBusConfig{QueueCapacity: 10000},
		Query: QueryConfig{
			TargetFrameBudget:  16700 * time.Microsecond,
			HighWatermark:      0.85,
			LowWatermark:       0.5,
			MaxQueriesPerFrame: 2000,
			MinQueriesPerFrame: 50,
			WindowFrames:       60,
			BotLocalCacheSize:  8,
			BotLocalCacheTTL:   500 * time.Millisecond,
		},
		Corpse: CorpseConfig{
			PreventionEnabled:       true,
			MaxConcurrentPrevention: 10,
			CorpseExpiry:            30 * time.Minute,
			CleanupInterval:         time.Minute,
		},
		DeathRecovery: DeathRecoveryConfig{
			AutoReleaseDelay:        5 * time.Second,
			PreferCorpseRun:         true,
			MaxCorpseRunDistance:    200,
			AutoSpiritHealer:        true,
			AllowBattleResurrection: true,
			RecoveryTimeout:         5 * time.Minute,
			RetryDelay:              5 * time.Second,
			MaxRetries:              5,
			TeleportAckTimeout:      30 * time.Second,
			ResurrectionDebounce:    500 * time.Millisecond,
		},
		Locks: LocksConfig{
			OrderChecks:       false,
			DeadlockDetection: true,
			DeadlockTimeout:   30 * time.Second,
			ReportInterval:    time.Minute,
		},
		Engine: EngineConfig{
			MainTickInterval:  50 * time.Millisecond,
			BotTickInterval:   100 * time.Millisecond,
			ParallelThreshold: 1000,
		},
		Simulation: SimulationConfig{
			Zones:           4,
			ZoneSize:        800,
			HostilesPerZone: 200,
			Bots:            500,
			Battlegrounds:   1,
			DeathChance:     0.002,
		},
	}
}

// Path returns the config path, honoring BOTCORE_CONFIG.
func Path() string {
	if p := os.Getenv(PathEnv); p != "" {
		return p
	}
	return DefaultPath
}

// Load loads config from a YAML file over the defaults and validates it.
// If the file doesn't exist, returns defaults.
func Load(path string) (BotCore, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects non-positive sizes and intervals.
func (c BotCore) Validate() error {
	var errs []error
	positive := func(name string, ok bool) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %s must be positive", ErrInvalid, name))
		}
	}

	positive("spatial.cache_update_interval", c.Spatial.CacheUpdateInterval > 0)
	positive("spatial.cell_size", c.Spatial.CellSize > 0)
	positive("spatial.cells_per_zone", c.Spatial.CellsPerZone > 0)
	positive("spatial.update_queue_capacity", c.Spatial.UpdateQueueCapacity > 0)
	positive("spatial.worker_batch_size", c.Spatial.WorkerBatchSize > 0)
	positive("event_bus.event_queue_capacity", c.EventBus.QueueCapacity > 0)
	positive("query.target_frame_budget", c.Query.TargetFrameBudget > 0)
	positive("query.max_queries_per_frame", c.Query.MaxQueriesPerFrame > 0)
	positive("query.window_frames", c.Query.WindowFrames > 0)
	positive("query.bot_local_cache_size", c.Query.BotLocalCacheSize > 0)
	positive("query.bot_local_cache_ttl", c.Query.BotLocalCacheTTL > 0)
	positive("corpse.max_concurrent_prevention", c.Corpse.MaxConcurrentPrevention > 0)
	positive("corpse.corpse_expiry", c.Corpse.CorpseExpiry > 0)
	positive("death_recovery.recovery_timeout", c.DeathRecovery.RecoveryTimeout > 0)
	positive("death_recovery.retry_delay", c.DeathRecovery.RetryDelay > 0)
	positive("death_recovery.max_retries", c.DeathRecovery.MaxRetries > 0)
	positive("death_recovery.teleport_ack_timeout", c.DeathRecovery.TeleportAckTimeout > 0)
	positive("engine.main_tick_interval", c.Engine.MainTickInterval > 0)
	positive("engine.bot_tick_interval", c.Engine.BotTickInterval > 0)

	if c.Query.LowWatermark >= c.Query.HighWatermark {
		errs = append(errs, fmt.Errorf("%w: query.low_watermark must be below high_watermark", ErrInvalid))
	}
	if c.Engine.BotWorkers < 0 {
		errs = append(errs, fmt.Errorf("%w: engine.bot_workers must not be negative", ErrInvalid))
	}
	if c.StatsFlushInterval < 0 {
		errs = append(errs, fmt.Errorf("%w: stats_flush_interval must not be negative", ErrInvalid))
	}
	return errors.Join(errs...)
}
