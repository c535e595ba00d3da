package postgres_test

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/phrazzld/garmax-api/internal/platform/postgres"
	"github.com/phrazzld/garmax-api/internal/store"
	"github.com/stretchr/testify/assert"
)

func newPgError(code, constraint string) *pgconn.PgError {
	return &pgconn.PgError{
		Code:           code,
		Message:        "error message",
		SchemaName:     "public",
		TableName:      "batch_members",
		ColumnName:     "request_id",
		ConstraintName: constraint,
	}
}

// MockResult implements sql.Result for testing
type MockResult struct {
	rowsAffected int64
	err          error
}

func (m MockResult) LastInsertId() (int64, error) { return 0, m.err }

func (m MockResult) RowsAffected() (int64, error) { return m.rowsAffected, m.err }

func TestIsUniqueViolation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "nil error", err: nil, expected: false},
		{name: "non-postgres error", err: errors.New("generic error"), expected: false},
		{name: "unique violation", err: newPgError("23505", "batch_members_pkey"), expected: true},
		{name: "foreign key violation", err: newPgError("23503", "batch_members_batch_id_fkey"), expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, postgres.IsUniqueViolation(tt.err))
		})
	}
}

func TestCheckRowsAffected(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		result  sql.Result
		wantErr bool
		errIs   error
	}{
		{name: "nil result", result: nil, wantErr: true},
		{name: "zero rows affected", result: MockResult{rowsAffected: 0}, wantErr: true, errIs: store.ErrBatchNotFound},
		{name: "one row affected", result: MockResult{rowsAffected: 1}},
		{name: "error getting rows affected", result: MockResult{err: errors.New("rows affected error")}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := postgres.CheckRowsAffected(tt.result, store.ErrBatchNotFound)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			assert.Error(t, err)
			if tt.errIs != nil {
				assert.ErrorIs(t, err, tt.errIs)
			}
		})
	}
}

func TestMapError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    error
		errIs  error
		errMsg string
	}{
		{name: "nil error"},
		{name: "sql.ErrNoRows", err: sql.ErrNoRows, errIs: store.ErrNotFound},
		{
			name:  "member already batched",
			err:   newPgError("23505", "batch_members_pkey"),
			errIs: store.ErrMemberExists,
		},
		{
			name:  "other unique violation",
			err:   newPgError("23505", "batches_pkey"),
			errIs: store.ErrDuplicate,
		},
		{
			name:   "foreign key violation",
			err:    newPgError("23503", "batch_members_batch_id_fkey"),
			errIs:  store.ErrInvalidEntity,
			errMsg: "foreign key violation",
		},
		{
			name:   "check constraint violation",
			err:    newPgError("23514", "batches_status_check"),
			errIs:  store.ErrInvalidEntity,
			errMsg: "check constraint violation",
		},
		{
			name:   "not null violation",
			err:    newPgError("23502", ""),
			errIs:  store.ErrInvalidEntity,
			errMsg: "not null violation",
		},
		{name: "other postgres error", err: newPgError("42P01", "")},
		{name: "generic error", err: errors.New("generic error")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			result := postgres.MapError(tt.err)

			if tt.err == nil {
				assert.Nil(t, result)
				return
			}
			if tt.errIs == nil {
				assert.Equal(t, tt.err, result)
				return
			}
			assert.ErrorIs(t, result, tt.errIs)
			if tt.errMsg != "" {
				assert.Contains(t, result.Error(), tt.errMsg)
			}
		})
	}
}

func TestMapErrorKeepsMemberConflictDistinct(t *testing.T) {
	err := postgres.MapError(newPgError("23505", "batch_members_pkey"))
	assert.ErrorIs(t, err, store.ErrMemberExists)
	assert.NotErrorIs(t, err, store.ErrBatchNotFound)
}
