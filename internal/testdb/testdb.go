//go:build integration

package testdb

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	"github.com/phrazzld/garmax-api/internal/platform/logger"
	"github.com/phrazzld/garmax-api/internal/platform/postgres"
	"github.com/phrazzld/garmax-api/internal/redact"
	"github.com/stretchr/testify/require"
)

// TestTimeout bounds each setup step.
const TestTimeout = 10 * time.Second

var migrateOnce sync.Once

// GetTestDatabaseURL returns the configured test database URL or "".
func GetTestDatabaseURL() string {
	if url := os.Getenv("GARMAX_TEST_DB_URL"); url != "" {
		return url
	}
	return os.Getenv("DATABASE_URL")
}

// ShouldSkipDatabaseTest reports whether no test database is configured.
func ShouldSkipDatabaseTest() bool {
	return GetTestDatabaseURL() == ""
}

// GetTestDBWithT opens the test database, migrates it on first use and
// closes it when t finishes. The test is skipped when no URL is configured.
func GetTestDBWithT(t *testing.T) *sql.DB {
	t.Helper()
	if ShouldSkipDatabaseTest() {
		t.Skip("GARMAX_TEST_DB_URL not set - skipping integration test")
	}

	db, err := sql.Open("pgx", GetTestDatabaseURL())
	require.NoError(t, err, "failed to open test database")
	t.Cleanup(func() { _ = db.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), TestTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		t.Fatalf("test database unreachable: %s", redact.Error(err))
	}

	var migrateErr error
	migrateOnce.Do(func() {
		migrateErr = postgres.Migrate(ctx, db, "up", logger.DiscardLogger())
	})
	require.NoError(t, migrateErr, "failed to migrate test database")
	return db
}

// Reset removes every batch and its members.
func Reset(t *testing.T, db *sql.DB) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), TestTimeout)
	defer cancel()
	_, err := db.ExecContext(ctx, "TRUNCATE batch_members, batches")
	require.NoError(t, err, "failed to truncate batch tables")
}
