package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MaxSessionIDLength bounds session identifiers supplied by clients.
const MaxSessionIDLength = 128

// QueuedRequest is a single unit of work waiting to be batched. It is
// immutable once enqueued.
type QueuedRequest struct {
	ID         uuid.UUID `json:"id"`
	OwnerID    uuid.UUID `json:"owner_id"`
	SessionID  string    `json:"session_id"`
	Payload    Payload   `json:"-"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewQueuedRequest validates its inputs and assigns a fresh request ID.
func NewQueuedRequest(ownerID uuid.UUID, sessionID string, payload Payload, now time.Time) (*QueuedRequest, error) {
	if ownerID == uuid.Nil {
		return nil, fmt.Errorf("%w: owner ID cannot be empty", ErrInvalidID)
	}
	if sessionID == "" || len(sessionID) > MaxSessionIDLength {
		return nil, fmt.Errorf("%w: session ID must be 1-%d characters", ErrValidation, MaxSessionIDLength)
	}
	if err := ValidatePayload(payload); err != nil {
		return nil, err
	}

	return &QueuedRequest{
		ID:         uuid.New(),
		OwnerID:    ownerID,
		SessionID:  sessionID,
		Payload:    payload,
		EnqueuedAt: now.UTC(),
	}, nil
}
