//go:build integration

// Package testdb provides utilities for database integration tests.
//
// Each test runs inside its own transaction which is rolled back when the
// test completes, so tests can run in parallel without interfering:
//
//	func TestTaskStore(t *testing.T) {
//	    t.Parallel()
//	    db := testdb.GetTestDBWithT(t)
//	    testdb.WithTx(t, db, func(t *testing.T, tx *sql.Tx) {
//	        tasks := postgres.NewTaskStore(tx, nil)
//	        ...
//	    })
//	}
//
// Tests are skipped unless DATABASE_URL (or DOCREVIEW_TEST_DB_URL) points at
// a PostgreSQL database. The schema is migrated once per test binary.
package testdb
