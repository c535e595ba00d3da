//go:build integration

// Package testdb opens the integration test database, applies the embedded
// migrations once per process and truncates batch tables between tests.
//
// Tests skip themselves when no database URL is configured:
//
//	func TestSomething(t *testing.T) {
//	    db := testdb.GetTestDBWithT(t)
//	    testdb.Reset(t, db)
//	    store := postgres.NewJobStore(db, nil)
//	    ...
//	}
//
// The URL is read from GARMAX_TEST_DB_URL, falling back to DATABASE_URL.
package testdb
