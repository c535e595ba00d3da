package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/garmax-api/internal/clock"
	"github.com/phrazzld/garmax-api/internal/domain"
	"github.com/phrazzld/garmax-api/internal/platform/logger"
	"github.com/phrazzld/garmax-api/internal/store"
)

// JobStore implements store.JobStore on PostgreSQL. Batches live in
// batches; membership in batch_members, whose primary key on request_id
// keeps a request from joining two batches.
type JobStore struct {
	db    *sql.DB
	clock clock.Clock
}

var (
	_ store.JobStore     = (*JobStore)(nil)
	_ store.OrphanReaper = (*JobStore)(nil)
)

// NewJobStore creates a JobStore on db. updated_at is stamped from clk, the
// same clock that stamps the other batch timestamps; nil means the real clock.
func NewJobStore(db *sql.DB, clk clock.Clock) *JobStore {
	if clk == nil {
		clk = clock.Real()
	}
	return &JobStore{db: db, clock: clk}
}

// CreateBatch inserts the batch and its members in one transaction.
func (s *JobStore) CreateBatch(ctx context.Context, batch *domain.Batch) error {
	log := logger.FromContext(ctx)

	if batch == nil || !batch.Status.IsValid() || len(batch.MemberRequestIDs) == 0 {
		return fmt.Errorf("%w: batch must have a valid status and members", store.ErrInvalidEntity)
	}

	err := store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO batches (id, status, backend, handle, estimated_cost, actual_cost,
				error_message, created_at, submitted_at, completed_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $8)`,
			batch.ID,
			batch.Status,
			nullString(batch.Backend),
			nullString(batch.Handle),
			batch.EstimatedCost,
			batch.ActualCost,
			nullString(batch.ErrorMessage),
			batch.CreatedAt,
			batch.SubmittedAt,
			batch.CompletedAt,
		)
		if err != nil {
			return MapError(err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO batch_members (request_id, batch_id, position)
			VALUES ($1, $2, $3)`)
		if err != nil {
			return fmt.Errorf("failed to prepare member insert: %w", err)
		}
		defer stmt.Close()

		for i, id := range batch.MemberRequestIDs {
			if _, err := stmt.ExecContext(ctx, id, batch.ID, i); err != nil {
				return MapError(err)
			}
		}
		return nil
	})
	if err != nil {
		log.ErrorContext(ctx, "failed to create batch",
			"batch_id", batch.ID,
			"members", len(batch.MemberRequestIDs),
			"error", err)
		return fmt.Errorf("failed to create batch: %w", err)
	}
	return nil
}

// UpdateBatch applies the non-nil fields of update. Terminal batches are
// never modified.
func (s *JobStore) UpdateBatch(ctx context.Context, batchID uuid.UUID, update domain.BatchUpdate) error {
	log := logger.FromContext(ctx)

	var status *string
	if update.Status != nil {
		if !update.Status.IsValid() {
			return domain.ErrInvalidBatchStatus
		}
		v := string(*update.Status)
		status = &v
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE batches SET
			status        = COALESCE($2, status),
			backend       = COALESCE($3, backend),
			handle        = COALESCE($4, handle),
			submitted_at  = COALESCE($5, submitted_at),
			completed_at  = COALESCE($6, completed_at),
			actual_cost   = COALESCE($7, actual_cost),
			error_message = COALESCE($8, error_message),
			updated_at    = $9
		WHERE id = $1 AND status NOT IN ('completed', 'failed')`,
		batchID,
		status,
		update.Backend,
		update.Handle,
		update.SubmittedAt,
		update.CompletedAt,
		update.ActualCost,
		update.ErrorMessage,
		s.clock.Now().UTC(),
	)
	if err != nil {
		log.ErrorContext(ctx, "failed to update batch",
			"batch_id", batchID,
			"error", err)
		return fmt.Errorf("failed to update batch: %w", MapError(err))
	}

	if err := CheckRowsAffected(result, store.ErrBatchNotFound); err != nil {
		if !errors.Is(err, store.ErrBatchNotFound) {
			return err
		}
		var current domain.BatchStatus
		lookupErr := s.db.QueryRowContext(ctx,
			`SELECT status FROM batches WHERE id = $1`, batchID).Scan(&current)
		if errors.Is(lookupErr, sql.ErrNoRows) {
			return store.ErrBatchNotFound
		}
		if lookupErr != nil {
			return fmt.Errorf("failed to look up batch: %w", lookupErr)
		}
		return fmt.Errorf("%w: batch %s is %s", store.ErrUpdateFailed, batchID, current)
	}
	return nil
}

// FindBatchByMemberRequest returns the batch containing requestID.
func (s *JobStore) FindBatchByMemberRequest(ctx context.Context, requestID uuid.UUID) (*domain.Batch, error) {
	var batchID uuid.UUID
	err := s.db.QueryRowContext(ctx,
		`SELECT batch_id FROM batch_members WHERE request_id = $1`, requestID).Scan(&batchID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrBatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find batch for request: %w", err)
	}
	return s.getBatch(ctx, batchID)
}

func (s *JobStore) getBatch(ctx context.Context, batchID uuid.UUID) (*domain.Batch, error) {
	var (
		b                       domain.Batch
		backend, handle, errMsg sql.NullString
		actualCost              sql.NullFloat64
		submittedAt             sql.NullTime
		completedAt             sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, status, backend, handle, estimated_cost, actual_cost,
			error_message, created_at, submitted_at, completed_at
		FROM batches WHERE id = $1`, batchID).Scan(
		&b.ID, &b.Status, &backend, &handle, &b.EstimatedCost, &actualCost,
		&errMsg, &b.CreatedAt, &submittedAt, &completedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrBatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load batch: %w", err)
	}
	b.Backend = backend.String
	b.Handle = handle.String
	b.ErrorMessage = errMsg.String
	if actualCost.Valid {
		b.ActualCost = &actualCost.Float64
	}
	if submittedAt.Valid {
		t := submittedAt.Time.UTC()
		b.SubmittedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		b.CompletedAt = &t
	}
	b.CreatedAt = b.CreatedAt.UTC()

	rows, err := s.db.QueryContext(ctx,
		`SELECT request_id FROM batch_members WHERE batch_id = $1 ORDER BY position`, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to load batch members: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan batch member: %w", err)
		}
		b.MemberRequestIDs = append(b.MemberRequestIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating batch members: %w", err)
	}
	return &b, nil
}

// FailUnfinishedBatches marks every non-terminal batch failed with reason.
func (s *JobStore) FailUnfinishedBatches(ctx context.Context, reason string, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE batches
		SET status = 'failed', error_message = $1, completed_at = $2, updated_at = $2
		WHERE status NOT IN ('completed', 'failed')`,
		reason, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to fail unfinished batches: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
