package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/phrazzld/garmax-api/internal/clock"
	"github.com/phrazzld/garmax-api/internal/domain"
	"github.com/phrazzld/garmax-api/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var storeNow = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*JobStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewJobStore(db, clock.NewFake(storeNow.Add(time.Minute))), mock
}

func newTestBatch(t *testing.T, members int) *domain.Batch {
	t.Helper()
	ids := make([]uuid.UUID, members)
	for i := range ids {
		ids[i] = uuid.New()
	}
	b, err := domain.NewBatch(ids, 50, 0.5, storeNow)
	require.NoError(t, err)
	return b
}

func TestJobStoreCreateBatch(t *testing.T) {
	t.Run("inserts batch and members", func(t *testing.T) {
		s, mock := newMockStore(t)
		b := newTestBatch(t, 2)

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO batches").
			WithArgs(b.ID, "pending", nil, nil, 0.5, nil, nil, storeNow, nil, nil).
			WillReturnResult(sqlmock.NewResult(0, 1))
		prep := mock.ExpectPrepare("INSERT INTO batch_members")
		prep.ExpectExec().WithArgs(b.MemberRequestIDs[0], b.ID, 0).WillReturnResult(sqlmock.NewResult(0, 1))
		prep.ExpectExec().WithArgs(b.MemberRequestIDs[1], b.ID, 1).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, s.CreateBatch(context.Background(), b))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("member already batched rolls back", func(t *testing.T) {
		s, mock := newMockStore(t)
		b := newTestBatch(t, 1)

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO batches").WillReturnResult(sqlmock.NewResult(0, 1))
		prep := mock.ExpectPrepare("INSERT INTO batch_members")
		prep.ExpectExec().WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "batch_members_pkey"})
		mock.ExpectRollback()

		err := s.CreateBatch(context.Background(), b)
		require.Error(t, err)
		assert.ErrorIs(t, err, store.ErrMemberExists)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects batch without members", func(t *testing.T) {
		s, mock := newMockStore(t)
		b := newTestBatch(t, 1)
		b.MemberRequestIDs = nil

		err := s.CreateBatch(context.Background(), b)
		assert.ErrorIs(t, err, store.ErrInvalidEntity)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestJobStoreUpdateBatch(t *testing.T) {
	id := uuid.New()
	update := domain.BatchUpdate{
		Status:      domain.StatusPtr(domain.BatchStatusCompleted),
		CompletedAt: &storeNow,
	}

	t.Run("applies update", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectExec("UPDATE batches SET").
			WithArgs(id, "completed", nil, nil, nil, storeNow, nil, nil, storeNow.Add(time.Minute)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, s.UpdateBatch(context.Background(), id, update))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stamps updated_at from the store clock", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })
		fake := clock.NewFake(storeNow)
		s := NewJobStore(db, fake)
		ctx := context.Background()

		backend := "primary"
		submitted := storeNow.Add(-time.Second)
		mock.ExpectExec("UPDATE batches SET").
			WithArgs(id, "submitted", "primary", nil, submitted, nil, nil, nil, storeNow).
			WillReturnResult(sqlmock.NewResult(0, 1))
		require.NoError(t, s.UpdateBatch(ctx, id, domain.BatchUpdate{
			Status:      domain.StatusPtr(domain.BatchStatusSubmitted),
			Backend:     &backend,
			SubmittedAt: &submitted,
		}))

		fake.Advance(30 * time.Second)
		mock.ExpectExec("UPDATE batches SET").
			WithArgs(id, "processing", nil, nil, nil, nil, nil, nil, storeNow.Add(30*time.Second)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		require.NoError(t, s.UpdateBatch(ctx, id, domain.BatchUpdate{
			Status: domain.StatusPtr(domain.BatchStatusProcessing),
		}))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("terminal batch is left alone", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectExec("UPDATE batches SET").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT status FROM batches").
			WithArgs(id).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("failed"))

		err := s.UpdateBatch(context.Background(), id, update)
		assert.ErrorIs(t, err, store.ErrUpdateFailed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown batch", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectExec("UPDATE batches SET").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT status FROM batches").WillReturnError(sql.ErrNoRows)

		err := s.UpdateBatch(context.Background(), id, update)
		assert.ErrorIs(t, err, store.ErrBatchNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid status", func(t *testing.T) {
		s, mock := newMockStore(t)
		err := s.UpdateBatch(context.Background(), id, domain.BatchUpdate{
			Status: domain.StatusPtr(domain.BatchStatus("exploded")),
		})
		assert.ErrorIs(t, err, domain.ErrInvalidBatchStatus)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestJobStoreFindBatchByMemberRequest(t *testing.T) {
	t.Run("loads batch with ordered members", func(t *testing.T) {
		s, mock := newMockStore(t)
		batchID, first, second := uuid.New(), uuid.New(), uuid.New()
		submitted := storeNow.Add(time.Second)

		mock.ExpectQuery("SELECT batch_id FROM batch_members").
			WithArgs(second).
			WillReturnRows(sqlmock.NewRows([]string{"batch_id"}).AddRow(batchID.String()))
		mock.ExpectQuery("FROM batches WHERE id").
			WithArgs(batchID).
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "status", "backend", "handle", "estimated_cost", "actual_cost",
				"error_message", "created_at", "submitted_at", "completed_at",
			}).AddRow(batchID.String(), "submitted", "gemini-2.5-flash-image", "batches/abc", 0.5, nil,
				nil, storeNow, submitted, nil))
		mock.ExpectQuery("SELECT request_id FROM batch_members").
			WithArgs(batchID).
			WillReturnRows(sqlmock.NewRows([]string{"request_id"}).
				AddRow(first.String()).
				AddRow(second.String()))

		b, err := s.FindBatchByMemberRequest(context.Background(), second)
		require.NoError(t, err)
		assert.Equal(t, batchID, b.ID)
		assert.Equal(t, domain.BatchStatusSubmitted, b.Status)
		assert.Equal(t, "batches/abc", b.Handle)
		assert.Equal(t, []uuid.UUID{first, second}, b.MemberRequestIDs)
		require.NotNil(t, b.SubmittedAt)
		assert.True(t, submitted.Equal(*b.SubmittedAt))
		assert.Nil(t, b.CompletedAt)
		assert.Nil(t, b.ActualCost)
		assert.Empty(t, b.ErrorMessage)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("request never batched", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery("SELECT batch_id FROM batch_members").
			WillReturnRows(sqlmock.NewRows([]string{"batch_id"}))

		_, err := s.FindBatchByMemberRequest(context.Background(), uuid.New())
		assert.ErrorIs(t, err, store.ErrBatchNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestJobStoreFailUnfinishedBatches(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("UPDATE batches\\s+SET status = 'failed'").
		WithArgs(domain.ReasonShutdown, storeNow).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.FailUnfinishedBatches(context.Background(), domain.ReasonShutdown, storeNow)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
