package batch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/garmax-api/internal/domain"
	"github.com/phrazzld/garmax-api/internal/events"
	"github.com/phrazzld/garmax-api/internal/metrics"
)

// outcomeTimeout bounds the store and ledger writes made while resolving a
// batch, including during shutdown when the caller's context is already done.
const outcomeTimeout = 10 * time.Second

// Stats summarizes pipeline activity since start.
type Stats struct {
	StartedAt         time.Time     `json:"started_at"`
	Uptime            time.Duration `json:"uptime"`
	BatchesSubmitted  int64         `json:"batches_submitted"`
	BatchesCompleted  int64         `json:"batches_completed"`
	BatchesFailed     int64         `json:"batches_failed"`
	RequestsCompleted int64         `json:"requests_completed"`
	RequestsFailed    int64         `json:"requests_failed"`
	InFlightBatches   int           `json:"in_flight_batches"`
	PendingRequests   int           `json:"pending_requests"`
	LastActivity      time.Time     `json:"last_activity"`
}

// reporter resolves batches: it records the outcome, settles the budget,
// broadcasts one terminal update per member request and emits the lifecycle
// event. The coordinator and the poller share one reporter.
type reporter struct {
	deps Deps

	mu    sync.Mutex
	stats Stats
}

func newReporter(deps Deps) *reporter {
	return &reporter{
		deps:  deps,
		stats: Stats{StartedAt: deps.Clock.Now()},
	}
}

func (r *reporter) snapshot() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stats
	s.Uptime = r.deps.Clock.Now().Sub(s.StartedAt)
	return s
}

func (r *reporter) touch(fn func(s *Stats)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.stats)
	r.stats.LastActivity = r.deps.Clock.Now()
}

func (r *reporter) submitted(ctx context.Context, batch *domain.Batch, requests []*domain.QueuedRequest) {
	r.touch(func(s *Stats) { s.BatchesSubmitted++ })
	metrics.BatchesTotal.WithLabelValues(metrics.OutcomeSubmitted).Inc()
	metrics.BatchSize.Observe(float64(len(requests)))

	for _, req := range requests {
		r.deps.Notifier.Broadcast(ctx, req.SessionID,
			domain.NewProgressUpdate(req, domain.UpdateStatusSubmitted, 0, "submitted"))
	}
	if ev, err := events.NewBatchSubmitted(batch, r.deps.Clock.Now()); err == nil {
		r.emit(ctx, ev)
	}
}

// persistFailure marks the stored batch failed. Errors are logged; the
// members are still failed by the caller.
func (r *reporter) persistFailure(ctx context.Context, batchID uuid.UUID, reason string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), outcomeTimeout)
	defer cancel()

	now := r.deps.Clock.Now().UTC()
	err := r.deps.Store.UpdateBatch(ctx, batchID, domain.BatchUpdate{
		Status:       domain.StatusPtr(domain.BatchStatusFailed),
		CompletedAt:  &now,
		ErrorMessage: &reason,
	})
	if err != nil {
		r.deps.Logger.ErrorContext(ctx, "failed to record batch failure",
			"error", err,
			"batch_id", batchID,
			"reason", reason)
	}
}

// failRequests broadcasts a failed update to every request.
func (r *reporter) failRequests(ctx context.Context, requests []*domain.QueuedRequest, reason string) {
	ctx = context.WithoutCancel(ctx)
	for _, req := range requests {
		r.deps.Notifier.Broadcast(ctx, req.SessionID, domain.NewFailedUpdate(req, reason))
	}
	r.touch(func(s *Stats) { s.RequestsFailed += int64(len(requests)) })
}

// failBatch fails every member and emits batch.failed. It does not touch
// the store or the budget.
func (r *reporter) failBatch(ctx context.Context, batchID uuid.UUID, requests []*domain.QueuedRequest, reason string) {
	ctx = context.WithoutCancel(ctx)
	r.failRequests(ctx, requests, reason)

	ids := make([]uuid.UUID, len(requests))
	for i, req := range requests {
		ids[i] = req.ID
	}
	r.touch(func(s *Stats) { s.BatchesFailed++ })
	metrics.BatchesTotal.WithLabelValues(metrics.OutcomeFailed).Inc()

	r.deps.Logger.WarnContext(ctx, "batch failed",
		"batch_id", batchID,
		"requests", len(requests),
		"reason", reason)

	if ev, err := events.NewBatchFailed(batchID, ids, reason, r.deps.Clock.Now()); err == nil {
		r.emit(ctx, ev)
	}
}

// completeBatch records a completed batch, settles its spend and broadcasts
// each member's own result in request order. Members absent from results
// fail with ReasonMissingResult.
func (r *reporter) completeBatch(ctx context.Context, batch *domain.Batch, requests []*domain.QueuedRequest, results []domain.ItemResult) {
	ctx = context.WithoutCancel(ctx)
	writeCtx, cancel := context.WithTimeout(ctx, outcomeTimeout)
	defer cancel()

	byID := make(map[uuid.UUID]domain.ItemResult, len(results))
	for _, res := range results {
		byID[res.RequestID] = res
	}

	ordered := make([]domain.ItemResult, len(requests))
	var total float64
	var failed int64
	for i, req := range requests {
		res, ok := byID[req.ID]
		if !ok {
			res = domain.ItemResult{RequestID: req.ID, Error: domain.ReasonMissingResult}
		}
		ordered[i] = res
		total += res.Cost
		if res.Failed() {
			failed++
		}
	}

	now := r.deps.Clock.Now().UTC()
	err := r.deps.Store.UpdateBatch(writeCtx, batch.ID, domain.BatchUpdate{
		Status:      domain.StatusPtr(domain.BatchStatusCompleted),
		CompletedAt: &now,
		ActualCost:  &total,
	})
	if err != nil {
		r.deps.Logger.ErrorContext(ctx, "failed to record batch completion",
			"error", err,
			"batch_id", batch.ID)
	}

	r.deps.Budget.Release(batch.EstimatedCost)
	if err := r.deps.Budget.RecordActualSpend(writeCtx, total); err != nil {
		r.deps.Logger.ErrorContext(ctx, "actual spend not recorded",
			"error", err,
			"batch_id", batch.ID,
			"amount", total)
	}

	for i, req := range requests {
		r.deps.Notifier.Broadcast(ctx, req.SessionID, domain.NewResultUpdate(req, ordered[i]))
	}

	r.touch(func(s *Stats) {
		s.BatchesCompleted++
		s.RequestsCompleted += int64(len(requests)) - failed
		s.RequestsFailed += failed
	})
	metrics.BatchesTotal.WithLabelValues(metrics.OutcomeCompleted).Inc()

	r.deps.Logger.InfoContext(ctx, "batch completed",
		"batch_id", batch.ID,
		"requests", len(requests),
		"failed_items", failed,
		"actual_cost", total)

	if ev, err := events.NewBatchCompleted(batch.ID, ordered, total, r.deps.Clock.Now()); err == nil {
		r.emit(ctx, ev)
	}
}

func (r *reporter) emit(ctx context.Context, ev *events.LifecycleEvent) {
	if r.deps.Emitter == nil {
		return
	}
	if err := r.deps.Emitter.EmitEvent(ctx, ev); err != nil {
		r.deps.Logger.WarnContext(ctx, "lifecycle event not delivered",
			"error", err,
			"event_type", ev.Type,
			"batch_id", ev.BatchID)
	}
}

// abandon fails a batch that holds a reservation: the record is marked
// failed, the reservation released and every member failed.
func (r *reporter) abandon(ctx context.Context, batch *domain.Batch, requests []*domain.QueuedRequest, reason string) {
	r.persistFailure(ctx, batch.ID, reason)
	r.deps.Budget.Release(batch.EstimatedCost)
	r.failBatch(ctx, batch.ID, requests, reason)
}
