// Package budget implements the spending circuit breaker that gates batch
// submission against a rolling period limit.
package budget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/garmax-api/internal/clock"
	"github.com/phrazzld/garmax-api/internal/metrics"
)

// ErrInvalidConfig is returned when the governor is misconfigured.
var ErrInvalidConfig = errors.New("invalid budget configuration")

// Config holds governor settings.
type Config struct {
	// ThresholdFraction of the limit at which the circuit opens.
	ThresholdFraction float64
	// RefreshInterval bounds how often the ledger is read.
	RefreshInterval time.Duration
	Period          Period
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		ThresholdFraction: 0.9,
		RefreshInterval:   5 * time.Minute,
		Period:            PeriodDaily,
	}
}

// Status summarizes the governor for monitoring.
type Status struct {
	Period      string  `json:"period"`
	Consumed    float64 `json:"consumed"`
	Limit       float64 `json:"limit"`
	Cap         float64 `json:"cap"`
	Reserved    float64 `json:"reserved"`
	CircuitOpen bool    `json:"circuit_open"`
	// LedgerUnavailable is set when the last read failed and reservations
	// are being allowed without a check.
	LedgerUnavailable bool `json:"ledger_unavailable"`
}

// Governor gatekeeps submissions against the ledger. Reservations made since
// the last ledger read are tracked locally so back-to-back batches cannot
// jointly exceed the cap between refreshes.
type Governor struct {
	ledger Ledger
	clock  clock.Clock
	logger *slog.Logger
	cfg    Config

	mu        sync.Mutex
	snapshot  Snapshot
	cached    bool
	fetchedAt time.Time
	reserved  float64

	// A failed read is remembered for one refresh interval so the governor
	// stays fail-open without hitting the ledger on every call.
	readErr      error
	failedAt     time.Time
	failedPeriod string
}

// NewGovernor validates cfg and returns a Governor.
func NewGovernor(ledger Ledger, cfg Config, clk clock.Clock, logger *slog.Logger) (*Governor, error) {
	if ledger == nil {
		return nil, fmt.Errorf("%w: ledger is required", ErrInvalidConfig)
	}
	if cfg.ThresholdFraction <= 0 || cfg.ThresholdFraction > 1 {
		return nil, fmt.Errorf("%w: threshold fraction must be in (0,1], got %v", ErrInvalidConfig, cfg.ThresholdFraction)
	}
	if cfg.RefreshInterval <= 0 {
		return nil, fmt.Errorf("%w: refresh interval must be positive", ErrInvalidConfig)
	}
	if _, err := ParsePeriod(string(cfg.Period)); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Governor{
		ledger: ledger,
		clock:  clk,
		logger: logger.With("component", "budget_governor"),
		cfg:    cfg,
	}, nil
}

// CheckAndReserve reports whether estimatedCost fits under the cap and, if
// so, holds it as an outstanding reservation. A failed ledger read allows the
// reservation.
func (g *Governor) CheckAndReserve(ctx context.Context, estimatedCost float64) bool {
	if estimatedCost < 0 {
		estimatedCost = 0
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	snap, err := g.snapshotLocked(ctx)
	if err != nil {
		g.reserved += estimatedCost
		metrics.BudgetDecisions.WithLabelValues("fail_open").Inc()
		g.logger.WarnContext(ctx, "budget ledger unavailable, allowing reservation",
			"error", err,
			"estimated_cost", estimatedCost)
		return true
	}

	limitCap := snap.Limit * g.cfg.ThresholdFraction
	projected := snap.Consumed + g.reserved + estimatedCost
	if projected > limitCap {
		metrics.BudgetDecisions.WithLabelValues("denied").Inc()
		g.logger.InfoContext(ctx, "budget circuit open, reservation denied",
			"period", snap.Period,
			"consumed", snap.Consumed,
			"reserved", g.reserved,
			"estimated_cost", estimatedCost,
			"cap", limitCap)
		return false
	}

	g.reserved += estimatedCost
	metrics.BudgetDecisions.WithLabelValues("allowed").Inc()
	return true
}

// Release drops an outstanding reservation.
func (g *Governor) Release(estimatedCost float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reserved -= estimatedCost
	if g.reserved < 0 {
		g.reserved = 0
	}
}

// RecordActualSpend adds amount to the current period in the ledger and the
// cached snapshot.
func (g *Governor) RecordActualSpend(ctx context.Context, amount float64) error {
	if amount <= 0 {
		return nil
	}
	period := g.cfg.Period.Key(g.clock.Now())
	if err := g.ledger.Increment(ctx, period, amount); err != nil {
		g.logger.ErrorContext(ctx, "failed to record spend",
			"error", err,
			"period", period,
			"amount", amount)
		return fmt.Errorf("failed to record spend: %w", err)
	}
	metrics.BudgetSpend.Add(amount)

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cached && g.snapshot.Period == period {
		g.snapshot.Consumed += amount
	}
	return nil
}

// Status reports the current view of the budget.
func (g *Governor) Status(ctx context.Context) Status {
	g.mu.Lock()
	defer g.mu.Unlock()

	snap, err := g.snapshotLocked(ctx)
	if err != nil {
		return Status{
			Period:            g.cfg.Period.Key(g.clock.Now()),
			Reserved:          g.reserved,
			LedgerUnavailable: true,
		}
	}
	limitCap := snap.Limit * g.cfg.ThresholdFraction
	return Status{
		Period:      snap.Period,
		Consumed:    snap.Consumed,
		Limit:       snap.Limit,
		Cap:         limitCap,
		Reserved:    g.reserved,
		CircuitOpen: snap.Consumed+g.reserved >= limitCap,
	}
}

// snapshotLocked returns the cached snapshot unless it is older than the
// refresh interval or belongs to a previous period. A read failure is
// returned again until the refresh interval passes. Must hold g.mu.
func (g *Governor) snapshotLocked(ctx context.Context) (Snapshot, error) {
	now := g.clock.Now()
	period := g.cfg.Period.Key(now)
	if g.cached && g.snapshot.Period == period && now.Sub(g.fetchedAt) < g.cfg.RefreshInterval {
		return g.snapshot, nil
	}
	if g.readErr != nil && g.failedPeriod == period && now.Sub(g.failedAt) < g.cfg.RefreshInterval {
		return Snapshot{}, g.readErr
	}

	snap, err := g.ledger.Read(ctx, period)
	if err != nil {
		g.readErr = fmt.Errorf("failed to read ledger for %s: %w", period, err)
		g.failedAt = now
		g.failedPeriod = period
		return Snapshot{}, g.readErr
	}
	g.readErr = nil
	snap.Period = period
	g.snapshot = snap
	g.cached = true
	g.fetchedAt = now
	return snap, nil
}
