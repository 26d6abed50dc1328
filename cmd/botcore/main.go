package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/udisondev/botcore/internal/ai"
	"github.com/udisondev/botcore/internal/config"
	"github.com/udisondev/botcore/internal/coordinator"
	"github.com/udisondev/botcore/internal/corpse"
	"github.com/udisondev/botcore/internal/db"
	"github.com/udisondev/botcore/internal/deathrecovery"
	"github.com/udisondev/botcore/internal/engine"
	"github.com/udisondev/botcore/internal/spatial"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// Load config FIRST to determine log level
	cfgPath := config.Path()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logLevel := parseLogLevel(cfg.LogLevel)
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	// Debug-логирование пакетов включается только при уровне debug
	debug := logLevel == slog.LevelDebug
	ai.EnableDebugLogging(debug)
	spatial.EnableDebugLogging(debug)
	corpse.EnableDebugLogging(debug)
	deathrecovery.EnableDebugLogging(debug)
	coordinator.EnableDebugLogging(debug)
	engine.EnableDebugLogging(debug)

	slog.Info("botcore starting", "config", cfgPath, "log_level", cfg.LogLevel)

	// БД опциональна: без неё статистика просто не сохраняется
	var store engine.StatsStore
	if cfg.Database.Enabled {
		database, err := db.New(ctx, cfg.Database.DSN())
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		defer database.Close()
		slog.Info("database connected")

		if err := db.RunMigrations(ctx, cfg.Database.DSN()); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		slog.Info("database migrations applied")
		store = database.Stats()
	}

	// Собираем движок и заполняем симуляцию
	eng, err := engine.New(cfg, store)
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}
	if err := eng.Populate(); err != nil {
		return fmt.Errorf("populating simulation: %w", err)
	}

	if err := eng.Run(ctx); err != nil {
		return err
	}

	snap := eng.Snapshot()
	slog.Info("botcore stopped",
		"bots", snap.Bots,
		"coordinators", snap.Coordinators,
		"queries", snap.QueriesExecuted,
		"throttled", snap.QueriesThrottled,
		"deaths", snap.Deaths,
		"resurrections", snap.Resurrections,
		"corpsesPrevented", snap.CorpsesPrevented,
		"potentialDeadlocks", snap.PotentialDeadlocks)
	return nil
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
