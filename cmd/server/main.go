// Package main implements the entry point for the Garmax API server, which
// batches try-on render and guidance requests for the generation backend and
// pushes per-request progress to client sessions.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/phrazzld/garmax-api/internal/clock"
	"github.com/phrazzld/garmax-api/internal/config"
	"github.com/phrazzld/garmax-api/internal/platform/logger"
	"github.com/phrazzld/garmax-api/internal/platform/postgres"
)

func main() {
	migrate := flag.String("migrate", "", "run a migration command (up, down, status, version) and exit")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *migrate); err != nil {
		log.Fatalf("garmax-api: %v", err)
	}
}

func run(ctx context.Context, migrateCommand string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	appLogger, err := logger.Setup(cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}
	appLogger.Info("server configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"batch_max_size", cfg.Batch.MaxSize,
		"batch_window", cfg.Batch.Window)

	db, err := setupAppDatabase(ctx, cfg, appLogger)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	if migrateCommand != "" {
		return postgres.Migrate(ctx, db, migrateCommand, appLogger)
	}
	if cfg.Database.MigrateOnBoot {
		if err := postgres.Migrate(ctx, db, "up", appLogger); err != nil {
			return err
		}
	}

	rdb, err := setupRedis(ctx, cfg, appLogger)
	if err != nil {
		return err
	}
	defer func() { _ = rdb.Close() }()

	backend, err := setupBackend(ctx, cfg, appLogger)
	if err != nil {
		return err
	}

	clk := clock.Real()
	app, err := newApplication(ctx, cfg, appLogger, appDeps{
		db:      db,
		rdb:     rdb,
		jobs:    postgres.NewJobStore(db, clk),
		backend: backend,
		clock:   clk,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	return app.Run(ctx)
}
