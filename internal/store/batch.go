package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/garmax-api/internal/domain"
)

// JobStore is the durable record of batch lifecycle.
// Version: 1.0
type JobStore interface {
	// CreateBatch saves a new batch together with its member request IDs.
	// Returns ErrMemberExists if any member already belongs to a batch.
	CreateBatch(ctx context.Context, batch *domain.Batch) error

	// UpdateBatch applies the non-nil fields of update to the batch.
	// Returns ErrBatchNotFound if the batch does not exist and
	// ErrUpdateFailed if the batch is already terminal.
	UpdateBatch(ctx context.Context, batchID uuid.UUID, update domain.BatchUpdate) error

	// FindBatchByMemberRequest returns the batch containing requestID.
	// Returns ErrBatchNotFound if the request was never batched.
	FindBatchByMemberRequest(ctx context.Context, requestID uuid.UUID) (*domain.Batch, error)
}

// OrphanReaper is implemented by durable stores that can fail batches left
// unfinished by a previous process. Nothing is tracking those batches any
// more, so their requests would otherwise never resolve.
type OrphanReaper interface {
	FailUnfinishedBatches(ctx context.Context, reason string, now time.Time) (int64, error)
}
