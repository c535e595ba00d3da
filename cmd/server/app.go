package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/phrazzld/garmax-api/internal/api"
	"github.com/phrazzld/garmax-api/internal/batch"
	"github.com/phrazzld/garmax-api/internal/budget"
	"github.com/phrazzld/garmax-api/internal/clock"
	"github.com/phrazzld/garmax-api/internal/config"
	"github.com/phrazzld/garmax-api/internal/domain"
	"github.com/phrazzld/garmax-api/internal/events"
	"github.com/phrazzld/garmax-api/internal/generation"
	"github.com/phrazzld/garmax-api/internal/notify"
	redisstore "github.com/phrazzld/garmax-api/internal/platform/redis"
	"github.com/phrazzld/garmax-api/internal/platform/tracing"
	"github.com/phrazzld/garmax-api/internal/service/auth"
	"github.com/phrazzld/garmax-api/internal/store"
	goredis "github.com/redis/go-redis/v9"
)

const serviceName = "garmax-api"

// appDeps are the external resources opened before the application is
// assembled. db may be nil, in which case no database health check is
// registered.
type appDeps struct {
	db      *sql.DB
	rdb     *goredis.Client
	jobs    store.JobStore
	backend generation.Backend
	clock   clock.Clock
}

// application holds the shared dependencies and owns their shutdown order.
type application struct {
	config *config.Config
	logger *slog.Logger
	deps   appDeps

	jwtService  auth.JWTService
	governor    *budget.Governor
	notifier    *notify.Notifier
	aggregator  *batch.Aggregator
	coordinator *batch.Coordinator
	emitter     *events.InMemoryEventEmitter

	shutdownTracing func(context.Context) error
}

// newApplication wires the batch pipeline. Batches left unfinished by a
// previous process are failed before the coordinator starts accepting work.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger, deps appDeps) (*application, error) {
	if deps.clock == nil {
		deps.clock = clock.Real()
	}
	app := &application{config: cfg, logger: logger, deps: deps}

	var err error
	app.shutdownTracing, err = tracing.Init(ctx, tracing.Config{
		ServiceName: serviceName,
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRate:  cfg.Tracing.SampleRate,
		Enabled:     cfg.Tracing.Enabled,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	app.jwtService, err = auth.NewJWTService(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize JWT service: %w", err)
	}

	ledger, err := redisstore.NewLedger(deps.rdb, cfg.Redis.KeyPrefix, cfg.Budget.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to create budget ledger: %w", err)
	}
	period, err := budget.ParsePeriod(cfg.Budget.Period)
	if err != nil {
		return nil, err
	}
	app.governor, err = budget.NewGovernor(ledger, budget.Config{
		ThresholdFraction: cfg.Budget.ThresholdFraction,
		RefreshInterval:   cfg.Budget.RefreshInterval,
		Period:            period,
	}, deps.clock, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create budget governor: %w", err)
	}

	app.notifier = notify.New(notify.Config{
		SweepInterval:      cfg.Notifier.SweepInterval,
		SendTimeout:        cfg.Notifier.SendTimeout,
		MaxConcurrentSends: cfg.Notifier.MaxConcurrentSends,
	}, deps.clock, logger)

	publisher, err := redisstore.NewLifecyclePublisher(deps.rdb, cfg.Redis.LifecycleStream, cfg.Redis.StreamMaxLen)
	if err != nil {
		return nil, fmt.Errorf("failed to create lifecycle publisher: %w", err)
	}
	app.emitter = events.NewInMemoryEventEmitter(logger)
	app.emitter.RegisterHandler(publisher)

	app.aggregator, err = batch.NewAggregator(batch.Config{
		MaxBatchSize: cfg.Batch.MaxSize,
		Window:       cfg.Batch.Window,
	}, deps.clock, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create aggregator: %w", err)
	}

	app.coordinator, err = batch.NewCoordinator(app.aggregator, batch.Deps{
		Backend:  deps.backend,
		Store:    deps.jobs,
		Budget:   app.governor,
		Notifier: app.notifier,
		Emitter:  app.emitter,
		Clock:    deps.clock,
		Logger:   logger,
	}, pollerConfig(cfg.Poller))
	if err != nil {
		return nil, fmt.Errorf("failed to create coordinator: %w", err)
	}

	if reaper, ok := deps.jobs.(store.OrphanReaper); ok {
		n, err := reaper.FailUnfinishedBatches(ctx, domain.ReasonShutdown, deps.clock.Now())
		if err != nil {
			return nil, fmt.Errorf("failed to reap unfinished batches: %w", err)
		}
		if n > 0 {
			logger.Warn("failed batches left unfinished by a previous run", "count", n)
		}
	}

	logger.Info("application initialized", "backend", deps.backend.Name())
	return app, nil
}

func pollerConfig(cfg config.PollerConfig) batch.PollerConfig {
	return batch.PollerConfig{
		Schedule: batch.Schedule{
			Phases: []batch.Phase{
				{Until: cfg.FastUntil, Interval: cfg.FastInterval},
				{Until: cfg.MediumUntil, Interval: cfg.MediumInterval},
				{Interval: cfg.SlowInterval},
			},
			Ceiling: cfg.Ceiling,
		},
		RateLimit: cfg.RateLimit,
		RateBurst: cfg.RateBurst,
	}
}

// healthChecks returns the dependency probes served by /health.
func (app *application) healthChecks() map[string]api.HealthCheck {
	checks := make(map[string]api.HealthCheck, 2)
	if app.deps.db != nil {
		db := app.deps.db
		checks["database"] = func(ctx context.Context) error { return db.PingContext(ctx) }
	}
	if app.deps.rdb != nil {
		rdb := app.deps.rdb
		checks["redis"] = func(ctx context.Context) error { return redisstore.HealthCheck(ctx, rdb) }
	}
	return checks
}

// batchFinder adapts the job store for the API.
func (app *application) batchFinder() api.BatchFinder { return app.deps.jobs }

// shutdown stops intake, fails whatever is still queued, then closes every
// session connection so clients see the failure before they are dropped.
func (app *application) shutdown(ctx context.Context) error {
	app.coordinator.Stop()
	app.notifier.CloseAll()

	if err := app.shutdownTracing(ctx); err != nil && !errors.Is(err, context.Canceled) {
		app.logger.Error("failed to flush traces", "error", err)
		return err
	}
	return nil
}
