package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/garmax-api/internal/domain"
)

// ErrNilEvent is returned when a nil event is emitted.
var ErrNilEvent = errors.New("event cannot be nil")

// Lifecycle event types.
const (
	TypeBatchSubmitted = "batch.submitted"
	TypeBatchCompleted = "batch.completed"
	TypeBatchFailed    = "batch.failed"
)

// LifecycleEvent announces a batch state change to downstream consumers.
type LifecycleEvent struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	// Type is one of the Type* constants
	Type string `json:"type"`

	BatchID uuid.UUID `json:"batch_id"`

	// Payload holds the type-specific body serialized as JSON
	Payload json.RawMessage `json:"payload"`

	CreatedAt time.Time `json:"created_at"`
}

// UnmarshalPayload decodes the event payload into the provided structure.
func (e *LifecycleEvent) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// BatchSubmitted is the payload of a batch.submitted event.
type BatchSubmitted struct {
	RequestIDs    []uuid.UUID `json:"request_ids"`
	Backend       string      `json:"backend"`
	Handle        string      `json:"handle"`
	EstimatedCost float64     `json:"estimated_cost"`
}

// BatchCompleted is the payload of a batch.completed event.
type BatchCompleted struct {
	Results   []domain.ItemResult `json:"results"`
	TotalCost float64             `json:"total_cost"`
}

// BatchFailed is the payload of a batch.failed event.
type BatchFailed struct {
	FailedRequestIDs []uuid.UUID `json:"failed_request_ids"`
	Reason           string      `json:"reason"`
}

func newEvent(eventType string, batchID uuid.UUID, payload interface{}, now time.Time) (*LifecycleEvent, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &LifecycleEvent{
		ID:        uuid.New(),
		Type:      eventType,
		BatchID:   batchID,
		Payload:   payloadBytes,
		CreatedAt: now.UTC(),
	}, nil
}

// NewBatchSubmitted builds a batch.submitted event.
func NewBatchSubmitted(batch *domain.Batch, now time.Time) (*LifecycleEvent, error) {
	return newEvent(TypeBatchSubmitted, batch.ID, BatchSubmitted{
		RequestIDs:    batch.MemberRequestIDs,
		Backend:       batch.Backend,
		Handle:        batch.Handle,
		EstimatedCost: batch.EstimatedCost,
	}, now)
}

// NewBatchCompleted builds a batch.completed event.
func NewBatchCompleted(batchID uuid.UUID, results []domain.ItemResult, totalCost float64, now time.Time) (*LifecycleEvent, error) {
	return newEvent(TypeBatchCompleted, batchID, BatchCompleted{Results: results, TotalCost: totalCost}, now)
}

// NewBatchFailed builds a batch.failed event.
func NewBatchFailed(batchID uuid.UUID, failed []uuid.UUID, reason string, now time.Time) (*LifecycleEvent, error) {
	return newEvent(TypeBatchFailed, batchID, BatchFailed{FailedRequestIDs: failed, Reason: reason}, now)
}

// EventHandler defines an interface for components that can handle events.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	HandleEvent(ctx context.Context, event *LifecycleEvent) error
}

// EventEmitter defines an interface for components that can emit events.
// This allows the batch pipeline to publish events without direct knowledge of handlers.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	EmitEvent(ctx context.Context, event *LifecycleEvent) error
}

// HandlerFunc adapts a function to EventHandler.
type HandlerFunc func(ctx context.Context, event *LifecycleEvent) error

// HandleEvent implements EventHandler.
func (f HandlerFunc) HandleEvent(ctx context.Context, event *LifecycleEvent) error {
	return f(ctx, event)
}
