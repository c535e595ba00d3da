package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/phrazzld/garmax-api/internal/api"
	"golang.org/x/sync/errgroup"
)

func (app *application) setupRouter() http.Handler {
	return api.NewRouter(api.RouterDeps{
		Queue:         app.aggregator,
		Batches:       app.batchFinder(),
		Budget:        app.governor,
		Subscriptions: app.notifier,
		Stats:         app.coordinator,
		JWT:           app.jwtService,
		HealthChecks:  app.healthChecks(),
		Logger:        app.logger,
	})
}

// Run starts the coordinator, the connection sweeper and the HTTP server,
// and blocks until ctx is cancelled or the server fails.
func (app *application) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", app.config.Server.Port))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return app.serve(ctx, ln)
}

func (app *application) serve(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:           app.setupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := app.coordinator.Start(ctx); err != nil {
		return fmt.Errorf("failed to start coordinator: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return app.notifier.Run(gctx) })
	g.Go(func() error {
		app.logger.Info("starting server", "addr", ln.Addr().String())
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		app.logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), app.config.Server.ShutdownTimeout)
		defer cancel()

		shutdownErr := app.shutdown(shutdownCtx)
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return shutdownErr
	})

	err := g.Wait()
	app.logger.Info("server shutdown completed")
	return err
}
