package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/phrazzld/garmax-api/internal/events"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// LifecyclePublisher appends batch lifecycle events to a capped Redis
// stream for external consumers.
type LifecyclePublisher struct {
	rdb    *redis.Client
	stream string
	maxLen int64
}

var _ events.EventHandler = (*LifecyclePublisher)(nil)

// NewLifecyclePublisher publishes to stream, trimming it to roughly maxLen
// entries.
func NewLifecyclePublisher(rdb *redis.Client, stream string, maxLen int64) (*LifecyclePublisher, error) {
	if rdb == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if stream == "" {
		return nil, errors.New("stream name cannot be empty")
	}
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &LifecyclePublisher{rdb: rdb, stream: stream, maxLen: maxLen}, nil
}

// HandleEvent implements events.EventHandler.
func (p *LifecyclePublisher) HandleEvent(ctx context.Context, event *events.LifecycleEvent) error {
	ctx, span := tracer.Start(ctx, "redis.PublishLifecycle",
		trace.WithAttributes(
			attribute.String("stream", p.stream),
			attribute.String("event.type", event.Type),
			attribute.String("batch.id", event.BatchID.String()),
		))
	defer span.End()

	data, err := json.Marshal(event)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to marshal lifecycle event: %w", err)
	}

	id, err := p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"type":     event.Type,
			"batch_id": event.BatchID.String(),
			"data":     string(data),
		},
	}).Result()
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to publish lifecycle event: %w", err)
	}

	span.SetAttributes(attribute.String("stream.message_id", id))
	return nil
}
