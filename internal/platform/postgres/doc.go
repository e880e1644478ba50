// Package postgres provides PostgreSQL implementations of the task queue and
// review stores defined in internal/task and internal/store, plus the
// embedded goose migrations that create their schema.
//
// Stores accept a store.DBTX so they can run against a *sql.DB or inside a
// caller's transaction. Multi-statement writes use store.InTx.
package postgres
