// Package store defines the persistence ports and their shared helpers.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/phrazzld/docreview-api/internal/platform/logger"
)

// TxFn runs inside a transaction. Returning nil commits, an error rolls back.
type TxFn func(ctx context.Context, tx *sql.Tx) error

// RunInTransaction runs fn in a new transaction on db. A panic in fn rolls
// the transaction back and is re-raised.
func RunInTransaction(ctx context.Context, db *sql.DB, fn TxFn) error {
	log := logger.FromContext(ctx)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Error("failed to roll back transaction after panic",
					slog.String("error", rbErr.Error()),
					slog.Any("panic", p))
			}
			panic(p)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Error("failed to roll back transaction",
				slog.String("rollback_error", rbErr.Error()),
				slog.String("original_error", err.Error()))
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// InTx runs fn in a new transaction when db is a *sql.DB, or directly on db
// when the caller already holds a transaction.
func InTx(ctx context.Context, db DBTX, fn func(tx DBTX) error) error {
	if conn, ok := db.(*sql.DB); ok {
		return RunInTransaction(ctx, conn, func(_ context.Context, tx *sql.Tx) error {
			return fn(tx)
		})
	}
	return fn(db)
}
