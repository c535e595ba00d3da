package generation

import (
	"context"

	"github.com/google/uuid"
	"github.com/phrazzld/garmax-api/internal/domain"
)

// Backend submits whole batches to an external generation service.
type Backend interface {
	// Name identifies the backend in handles, logs and batch records.
	Name() string

	// EstimateCost prices requests before submission.
	EstimateCost(requests []*domain.QueuedRequest) float64

	// Submit sends the batch and returns a handle for polling. Errors wrap
	// ErrTransientFailure or ErrPermanentFailure.
	Submit(ctx context.Context, batch *domain.Batch, requests []*domain.QueuedRequest) (Handle, error)

	// PollStatus reports progress of a submitted batch.
	PollStatus(ctx context.Context, handle Handle) (*PollResult, error)
}

// Handle identifies a submitted batch on a specific backend. MemberIDs keeps
// submission order so positional results can be mapped back to requests.
type Handle struct {
	Backend   string      `json:"backend"`
	ID        string      `json:"id"`
	MemberIDs []uuid.UUID `json:"member_ids"`
}

// JobStatus is the backend-reported state of a batch.
type JobStatus string

// Backend job states.
const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether polling can stop.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// PollResult is one observation of a submitted batch. Results is populated
// only when Status is completed.
type PollResult struct {
	Status         JobStatus
	CompletedCount int
	TotalCount     int
	Results        []domain.ItemResult
	ErrorMessage   string
}

// TotalCost sums the cost of every item result.
func (r *PollResult) TotalCost() float64 {
	var total float64
	for _, item := range r.Results {
		total += item.Cost
	}
	return total
}
