package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/phrazzld/garmax-api/internal/domain"
	"github.com/phrazzld/garmax-api/internal/generation"
	"github.com/phrazzld/garmax-api/internal/metrics"
	"github.com/phrazzld/garmax-api/internal/platform/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrCoordinatorStopped is returned by Start after Stop.
var ErrCoordinatorStopped = errors.New("coordinator is stopped")

// Coordinator turns aggregator drain signals into submitted batches. At most
// one drain runs at a time; signals raised while a drain is in flight are
// dropped, and the drain re-checks the backlog before it finishes.
type Coordinator struct {
	agg      *Aggregator
	deps     Deps
	poller   *Poller
	reporter *reporter

	draining atomic.Bool

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
	stopped bool
}

// NewCoordinator wires the coordinator to agg and builds its poller.
func NewCoordinator(agg *Aggregator, deps Deps, pollerCfg PollerConfig) (*Coordinator, error) {
	if agg == nil {
		return nil, errors.New("aggregator cannot be nil")
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}
	rep := newReporter(deps)
	poller, err := newPoller(deps, pollerCfg, rep)
	if err != nil {
		return nil, fmt.Errorf("failed to create poller: %w", err)
	}

	deps.Logger = deps.Logger.With("component", "batch_coordinator")
	return &Coordinator{
		agg:      agg,
		deps:     deps,
		poller:   poller,
		reporter: rep,
	}, nil
}

// Poller returns the coordinator's poller.
func (c *Coordinator) Poller() *Poller { return c.poller }

// Start registers the coordinator as the aggregator's ready handler. ctx
// bounds every drain; cancelling it has the same effect on drains as Stop.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrCoordinatorStopped
	}
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.started = true
	c.mu.Unlock()

	c.agg.SetReadyHandler(c.Trigger)
	c.agg.rearm()

	c.deps.Logger.InfoContext(ctx, "batch coordinator started",
		"max_batch_size", c.agg.MaxBatchSize(),
		"backend", c.deps.Backend.Name())
	return nil
}

// Trigger starts a drain unless one is already in flight. It never blocks.
func (c *Coordinator) Trigger(trigger string) {
	c.mu.Lock()
	if !c.started || c.stopped {
		c.mu.Unlock()
		return
	}
	if !c.draining.CompareAndSwap(false, true) {
		c.mu.Unlock()
		c.deps.Logger.Debug("drain already in flight, signal dropped", "trigger", trigger)
		return
	}
	c.wg.Add(1)
	ctx := c.ctx
	c.mu.Unlock()

	go c.runDrain(ctx, trigger)
}

func (c *Coordinator) runDrain(ctx context.Context, trigger string) {
	defer c.wg.Done()

	for {
		c.drainOnce(ctx, trigger)
		for c.agg.Len() >= c.agg.MaxBatchSize() && ctx.Err() == nil {
			metrics.DrainTriggers.WithLabelValues(TriggerBacklog).Inc()
			c.drainOnce(ctx, TriggerBacklog)
		}
		c.draining.Store(false)
		if ctx.Err() != nil {
			return
		}

		// Window or size signals that fired while the guard was held were
		// dropped. Re-arm the window for a partial leftover; loop again for a
		// full one.
		pending := c.agg.Len()
		if pending == 0 {
			return
		}
		if pending < c.agg.MaxBatchSize() {
			c.agg.rearm()
			return
		}
		if !c.draining.CompareAndSwap(false, true) {
			return
		}
		trigger = TriggerBacklog
	}
}

// drainOnce takes one batch from the aggregator and carries it to the
// poller, or fails it.
func (c *Coordinator) drainOnce(ctx context.Context, trigger string) {
	requests := c.agg.Take(c.agg.MaxBatchSize())
	if len(requests) == 0 {
		return
	}

	ctx, span := tracing.Start(ctx, "batch.drain", trace.WithAttributes(
		attribute.String("trigger", trigger),
		attribute.Int("batch.size", len(requests)),
	))
	defer span.End()

	ids := make([]uuid.UUID, len(requests))
	for i, req := range requests {
		ids[i] = req.ID
	}

	estimate := c.deps.Backend.EstimateCost(requests)
	batch, err := domain.NewBatch(ids, c.agg.MaxBatchSize(), estimate, c.deps.Clock.Now())
	if err != nil {
		// Unreachable with requests from Take; fail members rather than drop them.
		span.SetStatus(codes.Error, err.Error())
		c.reporter.failRequests(ctx, requests, domain.ReasonStoreUnavailable)
		return
	}
	span.SetAttributes(attribute.String("batch.id", batch.ID.String()))
	logger := c.deps.Logger.With("batch_id", batch.ID, "trigger", trigger)

	if !c.deps.Budget.CheckAndReserve(ctx, estimate) {
		metrics.BatchesTotal.WithLabelValues(metrics.OutcomeDenied).Inc()
		c.recordDenied(ctx, batch)
		span.SetStatus(codes.Error, domain.ReasonBudgetExceeded)
		c.reporter.failBatch(ctx, batch.ID, requests, domain.ReasonBudgetExceeded)
		return
	}

	if err := c.deps.Store.CreateBatch(ctx, batch); err != nil {
		logger.ErrorContext(ctx, "failed to create batch record", "error", err)
		c.deps.Budget.Release(estimate)
		span.SetStatus(codes.Error, err.Error())
		c.reporter.failBatch(ctx, batch.ID, requests, domain.ReasonStoreUnavailable)
		return
	}

	handle, err := c.deps.Backend.Submit(ctx, batch, requests)
	if err != nil {
		reason := fmt.Sprintf("%s: %v", generation.Classify(err), err)
		logger.ErrorContext(ctx, "batch submission failed", "error", err)
		span.SetStatus(codes.Error, err.Error())
		c.reporter.abandon(ctx, batch, requests, reason)
		return
	}
	if len(handle.MemberIDs) == 0 {
		handle.MemberIDs = ids
	}

	now := c.deps.Clock.Now().UTC()
	update := domain.BatchUpdate{
		Status:      domain.StatusPtr(domain.BatchStatusSubmitted),
		Backend:     &handle.Backend,
		Handle:      &handle.ID,
		SubmittedAt: &now,
	}
	if err := batch.Apply(update); err != nil {
		logger.ErrorContext(ctx, "invalid submitted transition", "error", err)
	}
	if err := c.deps.Store.UpdateBatch(ctx, batch.ID, update); err != nil {
		// The backend already has the batch, so keep tracking it.
		logger.WarnContext(ctx, "failed to record batch submission", "error", err)
	}

	logger.InfoContext(ctx, "batch submitted",
		"requests", len(requests),
		"backend", handle.Backend,
		"handle", handle.ID,
		"estimated_cost", estimate)

	c.reporter.submitted(ctx, batch, requests)
	c.poller.Track(batch, handle, requests)
}

// recordDenied persists a budget-denied batch directly in the failed state.
func (c *Coordinator) recordDenied(ctx context.Context, batch *domain.Batch) {
	now := c.deps.Clock.Now().UTC()
	batch.Status = domain.BatchStatusFailed
	batch.CompletedAt = &now
	batch.ErrorMessage = domain.ReasonBudgetExceeded
	if err := c.deps.Store.CreateBatch(ctx, batch); err != nil {
		c.deps.Logger.ErrorContext(ctx, "failed to record denied batch",
			"error", err,
			"batch_id", batch.ID)
	}
}

// Stats reports activity counters alongside the current queue and poller
// load.
func (c *Coordinator) Stats() Stats {
	s := c.reporter.snapshot()
	s.InFlightBatches = c.poller.InFlight()
	s.PendingRequests = c.agg.Len()
	return s
}

// Stop closes the aggregator, waits for the drain in flight, stops the
// poller and fails any request left in the queue with ReasonShutdown.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	cancel := c.cancel
	c.mu.Unlock()

	leftovers := c.agg.Close()
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
	c.poller.Stop()

	if len(leftovers) > 0 {
		c.reporter.failRequests(context.Background(), leftovers, domain.ReasonShutdown)
	}
	c.deps.Logger.Info("batch coordinator stopped",
		"unbatched_requests", len(leftovers))
}
