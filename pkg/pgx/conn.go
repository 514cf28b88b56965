// Package pgx holds the PostgreSQL plumbing of pgtable: named connection
// pools, and the Executor that runs built statements and turns result sets
// into records.
package pgx

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Conn is the subset of *pgxpool.Pool, *pgxpool.Conn and *pgx.Conn the
// Executor and the catalog queries rely on.
type Conn interface {
	// Exec executes a SQL statement and returns its command tag.
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	// Query executes a SQL query and returns the rows to iterate over.
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	// QueryRow executes a query that is expected to return at most one row.
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	// Begin starts a transaction. The context only affects the begin command,
	// there is no auto-rollback on context cancellation.
	Begin(ctx context.Context) (pgx.Tx, error)
}
