package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// BatchStatus represents the lifecycle state of a batch.
type BatchStatus string

// Possible batch status values.
const (
	BatchStatusPending    BatchStatus = "pending"
	BatchStatusSubmitted  BatchStatus = "submitted"
	BatchStatusProcessing BatchStatus = "processing"
	BatchStatusCompleted  BatchStatus = "completed"
	BatchStatusFailed     BatchStatus = "failed"
)

// IsValid reports whether s is a known status.
func (s BatchStatus) IsValid() bool {
	switch s {
	case BatchStatusPending, BatchStatusSubmitted, BatchStatusProcessing,
		BatchStatusCompleted, BatchStatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed.
func (s BatchStatus) IsTerminal() bool {
	return s == BatchStatusCompleted || s == BatchStatusFailed
}

// CanTransitionTo reports whether a batch in status s may move to next.
// Staying in the same non-terminal status is allowed.
func (s BatchStatus) CanTransitionTo(next BatchStatus) bool {
	if !next.IsValid() || s.IsTerminal() {
		return false
	}
	if s == next {
		return true
	}
	switch s {
	case BatchStatusPending:
		return next == BatchStatusSubmitted || next == BatchStatusFailed
	case BatchStatusSubmitted:
		return next == BatchStatusProcessing || next.IsTerminal()
	case BatchStatusProcessing:
		return next.IsTerminal()
	}
	return false
}

// Batch is a bounded group of requests submitted to a backend together.
type Batch struct {
	ID               uuid.UUID   `json:"id"`
	MemberRequestIDs []uuid.UUID `json:"member_request_ids"`
	Status           BatchStatus `json:"status"`
	Backend          string      `json:"backend,omitempty"`
	Handle           string      `json:"handle,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	SubmittedAt      *time.Time  `json:"submitted_at,omitempty"`
	CompletedAt      *time.Time  `json:"completed_at,omitempty"`
	EstimatedCost    float64     `json:"estimated_cost"`
	ActualCost       *float64    `json:"actual_cost,omitempty"`
	ErrorMessage     string      `json:"error_message,omitempty"`
}

// NewBatch creates a pending batch over members.
func NewBatch(members []uuid.UUID, maxSize int, estimatedCost float64, now time.Time) (*Batch, error) {
	b := &Batch{
		ID:               uuid.New(),
		MemberRequestIDs: append([]uuid.UUID(nil), members...),
		Status:           BatchStatusPending,
		CreatedAt:        now.UTC(),
		EstimatedCost:    estimatedCost,
	}
	if err := b.Validate(maxSize); err != nil {
		return nil, err
	}
	return b, nil
}

// Validate checks the batch against the member bound and its own fields.
func (b *Batch) Validate(maxSize int) error {
	if b.ID == uuid.Nil {
		return fmt.Errorf("%w: batch ID cannot be empty", ErrInvalidID)
	}
	if len(b.MemberRequestIDs) == 0 || len(b.MemberRequestIDs) > maxSize {
		return fmt.Errorf("%w: %d members, want 1-%d", ErrBatchSize, len(b.MemberRequestIDs), maxSize)
	}
	seen := make(map[uuid.UUID]struct{}, len(b.MemberRequestIDs))
	for _, id := range b.MemberRequestIDs {
		if id == uuid.Nil {
			return fmt.Errorf("%w: member request ID cannot be empty", ErrInvalidID)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: duplicate member %s", ErrValidation, id)
		}
		seen[id] = struct{}{}
	}
	if !b.Status.IsValid() {
		return ErrInvalidBatchStatus
	}
	if b.EstimatedCost < 0 {
		return fmt.Errorf("%w: estimated cost cannot be negative", ErrValidation)
	}
	return nil
}

// BatchUpdate is a partial batch record. Nil fields are left unchanged.
type BatchUpdate struct {
	Status       *BatchStatus
	Backend      *string
	Handle       *string
	SubmittedAt  *time.Time
	CompletedAt  *time.Time
	ActualCost   *float64
	ErrorMessage *string
}

// Apply mutates b with the non-nil fields of u after checking the status
// transition.
func (b *Batch) Apply(u BatchUpdate) error {
	if u.Status != nil {
		if !b.Status.CanTransitionTo(*u.Status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, b.Status, *u.Status)
		}
		b.Status = *u.Status
	} else if b.Status.IsTerminal() {
		return fmt.Errorf("%w: batch is %s", ErrInvalidTransition, b.Status)
	}
	if u.Backend != nil {
		b.Backend = *u.Backend
	}
	if u.Handle != nil {
		b.Handle = *u.Handle
	}
	if u.SubmittedAt != nil {
		t := *u.SubmittedAt
		b.SubmittedAt = &t
	}
	if u.CompletedAt != nil {
		t := *u.CompletedAt
		b.CompletedAt = &t
	}
	if u.ActualCost != nil {
		c := *u.ActualCost
		b.ActualCost = &c
	}
	if u.ErrorMessage != nil {
		b.ErrorMessage = *u.ErrorMessage
	}
	return nil
}

// StatusPtr is a convenience for building BatchUpdate values.
func StatusPtr(s BatchStatus) *BatchStatus { return &s }

// ItemResult is the backend's outcome for one member request.
type ItemResult struct {
	RequestID       uuid.UUID `json:"request_id"`
	ResultReference string    `json:"result_reference,omitempty"`
	Cost            float64   `json:"cost"`
	Error           string    `json:"error,omitempty"`
}

// Failed reports whether the item did not produce a result.
func (r ItemResult) Failed() bool { return r.Error != "" }
