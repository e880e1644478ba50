//go:build integration

package testdb

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/phrazzld/docreview-api/internal/platform/postgres"
)

var (
	migrateOnce sync.Once
	migrateErr  error
)

// GetTestDBWithT opens a connection to the test database, migrating the
// schema on first use. The test is skipped when no database is configured
// and the connection is closed on cleanup.
func GetTestDBWithT(t *testing.T) *sql.DB {
	t.Helper()
	if ShouldSkipDatabaseTest() {
		t.Skip("DATABASE_URL not set - skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := postgres.Open(ctx, GetTestDatabaseURL())
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	migrateOnce.Do(func() {
		migrateErr = postgres.Migrate(ctx, db, "up", nil)
	})
	if migrateErr != nil {
		t.Fatalf("failed to migrate test database: %v", migrateErr)
	}
	return db
}

// WithTx runs fn inside a transaction that is always rolled back.
func WithTx(t *testing.T, db *sql.DB, fn func(t *testing.T, tx *sql.Tx)) {
	t.Helper()

	tx, err := db.BeginTx(context.Background(), nil)
	if err != nil {
		t.Fatalf("failed to begin transaction: %v", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			t.Logf("warning: failed to roll back transaction: %v", err)
		}
	}()

	fn(t, tx)
}
