package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phrazzld/garmax-api/internal/domain"
	"github.com/phrazzld/garmax-api/internal/generation"
	"github.com/phrazzld/garmax-api/internal/metrics"
	"github.com/phrazzld/garmax-api/internal/platform/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// PollerConfig configures the poll schedule and the backend call rate.
type PollerConfig struct {
	Schedule Schedule
	// RateLimit caps PollStatus calls per second across all tracked batches.
	// Zero disables the limit.
	RateLimit float64
	RateBurst int
}

// DefaultPollerConfig returns the default schedule with 10 polls per second.
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		Schedule:  DefaultSchedule(),
		RateLimit: 10,
		RateBurst: 5,
	}
}

// Poller tracks submitted batches until they reach a terminal state.
type Poller struct {
	deps     Deps
	schedule Schedule
	limiter  *rate.Limiter
	reporter *reporter

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	mu       sync.Mutex
	stopped  bool
	inFlight atomic.Int64
}

// NewPoller creates a poller with its own reporter.
func NewPoller(deps Deps, cfg PollerConfig) (*Poller, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	return newPoller(deps, cfg, newReporter(deps))
}

func newPoller(deps Deps, cfg PollerConfig, rep *reporter) (*Poller, error) {
	if err := cfg.Schedule.Validate(); err != nil {
		return nil, err
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	deps.Logger = deps.Logger.With("component", "adaptive_poller")
	return &Poller{
		deps:     deps,
		schedule: cfg.Schedule,
		limiter:  rate.NewLimiter(limit, burst),
		reporter: rep,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// IntervalFor returns the wait before the next poll at elapsed time since
// submission.
func (p *Poller) IntervalFor(elapsed time.Duration) time.Duration {
	return p.schedule.IntervalFor(elapsed)
}

// Track polls batch in the background. After Stop the batch is failed
// immediately with ReasonShutdown.
func (p *Poller) Track(batch *domain.Batch, handle generation.Handle, requests []*domain.QueuedRequest) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		p.reporter.abandon(context.Background(), batch, requests, domain.ReasonShutdown)
		return
	}
	p.wg.Add(1)
	p.mu.Unlock()

	p.inFlight.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.inFlight.Add(-1)
		p.PollUntilTerminal(p.ctx, batch, handle, requests)
	}()
}

// InFlight returns the number of batches being tracked.
func (p *Poller) InFlight() int {
	return int(p.inFlight.Load())
}

// Stop cancels every tracked batch and waits for them to be resolved.
func (p *Poller) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
}

// PollUntilTerminal polls handle on the schedule until the backend reports a
// terminal state, the ceiling is reached or ctx is cancelled, and resolves
// the batch accordingly. It returns the batch's final status.
func (p *Poller) PollUntilTerminal(ctx context.Context, batch *domain.Batch, handle generation.Handle, requests []*domain.QueuedRequest) domain.BatchStatus {
	ctx, span := tracing.Start(ctx, "batch.poll", trace.WithAttributes(
		attribute.String("batch.id", batch.ID.String()),
		attribute.String("backend", handle.Backend),
	))
	defer span.End()

	logger := p.deps.Logger.With("batch_id", batch.ID, "handle", handle.ID)
	start := p.deps.Clock.Now()
	if batch.SubmittedAt != nil {
		start = *batch.SubmittedAt
	}

	processing := batch.Status == domain.BatchStatusProcessing
	lastProgress := -1
	polls := 0

	for {
		elapsed := p.deps.Clock.Now().Sub(start)
		if elapsed >= p.schedule.Ceiling {
			logger.WarnContext(ctx, "batch poll ceiling reached",
				"polls", polls,
				"elapsed", elapsed)
			return p.finish(ctx, batch, requests, start, domain.ReasonPollTimeout)
		}

		wait := p.schedule.IntervalFor(elapsed)
		if remaining := p.schedule.Ceiling - elapsed; wait > remaining {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return p.finish(ctx, batch, requests, start, domain.ReasonShutdown)
		case <-p.deps.Clock.After(wait):
		}

		if err := p.limiter.Wait(ctx); err != nil {
			return p.finish(ctx, batch, requests, start, domain.ReasonShutdown)
		}

		polls++
		res, err := p.deps.Backend.PollStatus(ctx, handle)
		if err != nil {
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				return p.finish(ctx, batch, requests, start, domain.ReasonShutdown)
			}
			if errors.Is(err, generation.ErrPermanentFailure) {
				metrics.PollsTotal.WithLabelValues("permanent_error").Inc()
				logger.ErrorContext(ctx, "batch poll failed permanently", "error", err)
				return p.finish(ctx, batch, requests, start, fmt.Sprintf("%s: %v", domain.ReasonBackendPermanent, err))
			}
			metrics.PollsTotal.WithLabelValues("transient_error").Inc()
			logger.WarnContext(ctx, "batch poll failed, will retry", "error", err, "poll", polls)
			continue
		}

		switch res.Status {
		case generation.JobStatusCompleted:
			metrics.PollsTotal.WithLabelValues("completed").Inc()
			p.reporter.completeBatch(ctx, batch, requests, res.Results)
			p.observeDuration(start, metrics.OutcomeCompleted)
			return domain.BatchStatusCompleted

		case generation.JobStatusFailed:
			metrics.PollsTotal.WithLabelValues("failed").Inc()
			reason := domain.ReasonBackendPermanent
			if res.ErrorMessage != "" {
				reason = fmt.Sprintf("%s: %s", reason, res.ErrorMessage)
			}
			return p.finish(ctx, batch, requests, start, reason)
		}

		metrics.PollsTotal.WithLabelValues("pending").Inc()
		if !processing && (res.Status == generation.JobStatusProcessing || res.CompletedCount > 0) {
			processing = true
			p.markProcessing(ctx, batch)
		}
		if res.TotalCount > 0 {
			progress := res.CompletedCount * 100 / res.TotalCount
			if progress != lastProgress {
				lastProgress = progress
				for _, req := range requests {
					p.deps.Notifier.Broadcast(ctx, req.SessionID,
						domain.NewProgressUpdate(req, domain.UpdateStatusProcessing, progress,
							fmt.Sprintf("%d of %d complete", res.CompletedCount, res.TotalCount)))
				}
			}
		}
	}
}

// markProcessing records the processing state in the store and, once
// stored, on batch itself.
func (p *Poller) markProcessing(ctx context.Context, batch *domain.Batch) {
	update := domain.BatchUpdate{Status: domain.StatusPtr(domain.BatchStatusProcessing)}
	if err := p.deps.Store.UpdateBatch(ctx, batch.ID, update); err != nil {
		p.deps.Logger.WarnContext(ctx, "failed to mark batch processing",
			"error", err,
			"batch_id", batch.ID)
		return
	}
	if err := batch.Apply(update); err != nil {
		p.deps.Logger.ErrorContext(ctx, "invalid processing transition",
			"error", err,
			"batch_id", batch.ID)
	}
}

func (p *Poller) finish(ctx context.Context, batch *domain.Batch, requests []*domain.QueuedRequest, start time.Time, reason string) domain.BatchStatus {
	p.reporter.abandon(ctx, batch, requests, reason)
	p.observeDuration(start, metrics.OutcomeFailed)
	return domain.BatchStatusFailed
}

func (p *Poller) observeDuration(start time.Time, outcome string) {
	metrics.BatchDuration.WithLabelValues(outcome).Observe(p.deps.Clock.Now().Sub(start).Seconds())
}
