package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/phrazzld/garmax-api/internal/domain"
	"github.com/phrazzld/garmax-api/internal/metrics"
)

// Router is a Backend that submits to its primary backend and falls back to
// alternates, in order, when a submission fails transiently. Each backend is
// tried at most once per submission.
type Router struct {
	backends []Backend
	byName   map[string]Backend
	logger   *slog.Logger
}

var _ Backend = (*Router)(nil)

// NewRouter returns a Router over primary followed by alternates.
func NewRouter(logger *slog.Logger, primary Backend, alternates ...Backend) (*Router, error) {
	if primary == nil {
		return nil, ErrNoBackends
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := &Router{
		byName: make(map[string]Backend, len(alternates)+1),
		logger: logger.With("component", "backend_router"),
	}
	for _, b := range append([]Backend{primary}, alternates...) {
		if b == nil {
			continue
		}
		if _, dup := r.byName[b.Name()]; dup {
			return nil, fmt.Errorf("%w: duplicate backend %q", ErrInvalidConfig, b.Name())
		}
		r.backends = append(r.backends, b)
		r.byName[b.Name()] = b
	}
	return r, nil
}

// Name implements Backend.
func (r *Router) Name() string { return r.backends[0].Name() }

// EstimateCost prices against the primary backend, the most expensive path.
func (r *Router) EstimateCost(requests []*domain.QueuedRequest) float64 {
	return r.backends[0].EstimateCost(requests)
}

// Submit implements Backend. The returned error wraps the last backend's
// failure; it is transient only if every backend failed transiently.
func (r *Router) Submit(ctx context.Context, batch *domain.Batch, requests []*domain.QueuedRequest) (Handle, error) {
	var lastErr error
	for i, b := range r.backends {
		handle, err := b.Submit(ctx, batch, requests)
		if err == nil {
			if handle.Backend == "" {
				handle.Backend = b.Name()
			}
			if i > 0 {
				r.logger.InfoContext(ctx, "batch submitted to fallback backend",
					"batch_id", batch.ID,
					"backend", b.Name())
			}
			return handle, nil
		}

		lastErr = fmt.Errorf("%s: %w", b.Name(), err)
		if !IsTransient(err) || ctx.Err() != nil {
			return Handle{}, lastErr
		}
		if i+1 < len(r.backends) {
			next := r.backends[i+1]
			metrics.BackendFallbacks.WithLabelValues(b.Name(), next.Name()).Inc()
			r.logger.WarnContext(ctx, "transient submit failure, trying alternate backend",
				"batch_id", batch.ID,
				"failed_backend", b.Name(),
				"next_backend", next.Name(),
				"error", err)
		}
	}
	return Handle{}, lastErr
}

// PollStatus dispatches to the backend that accepted the batch.
func (r *Router) PollStatus(ctx context.Context, handle Handle) (*PollResult, error) {
	b, ok := r.byName[handle.Backend]
	if !ok {
		return nil, fmt.Errorf("%w: %q: %w", ErrUnknownBackend, handle.Backend, ErrPermanentFailure)
	}
	return b.PollStatus(ctx, handle)
}

// Classify maps a submission error onto a batch failure reason.
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case IsTransient(err):
		return domain.ReasonBackendTransient
	case errors.Is(err, context.Canceled):
		return domain.ReasonShutdown
	default:
		return domain.ReasonBackendPermanent
	}
}
