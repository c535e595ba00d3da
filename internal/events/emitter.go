package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/phrazzld/garmax-api/internal/metrics"
)

// InMemoryEventEmitter fans lifecycle events out to its handlers
// synchronously, in registration order.
type InMemoryEventEmitter struct {
	mu       sync.RWMutex
	handlers []EventHandler
	logger   *slog.Logger
}

var _ EventEmitter = (*InMemoryEventEmitter)(nil)

// NewInMemoryEventEmitter returns an emitter with no handlers.
func NewInMemoryEventEmitter(logger *slog.Logger) *InMemoryEventEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &InMemoryEventEmitter{logger: logger.With("component", "lifecycle_emitter")}
}

// RegisterHandler appends handler to the fan-out list.
func (e *InMemoryEventEmitter) RegisterHandler(handler EventHandler) {
	e.mu.Lock()
	e.handlers = append(e.handlers, handler)
	n := len(e.handlers)
	e.mu.Unlock()
	e.logger.Debug("registered lifecycle handler", "handler_count", n)
}

// EmitEvent delivers event to every handler. A failing handler does not stop
// the others; all failures are joined into the returned error.
func (e *InMemoryEventEmitter) EmitEvent(ctx context.Context, event *LifecycleEvent) error {
	if event == nil {
		return ErrNilEvent
	}

	e.mu.RLock()
	handlers := append([]EventHandler(nil), e.handlers...)
	e.mu.RUnlock()

	var errs []error
	for i, handler := range handlers {
		if err := handler.HandleEvent(ctx, event); err != nil {
			metrics.LifecycleEvents.WithLabelValues(event.Type, "error").Inc()
			e.logger.ErrorContext(ctx, "lifecycle handler failed",
				"error", err,
				"handler_index", i,
				"event_type", event.Type,
				"batch_id", event.BatchID)
			errs = append(errs, err)
			continue
		}
		metrics.LifecycleEvents.WithLabelValues(event.Type, "ok").Inc()
	}
	return errors.Join(errs...)
}
