// Package pgtest connects tests to the PostgreSQL named by TEST_DATABASE.
// Tests that need a database are skipped when the variable is unset.
package pgtest

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

const envVar = "TEST_DATABASE"

// ConnString returns TEST_DATABASE or skips the test.
func ConnString(t testing.TB) string {
	t.Helper()
	connString := os.Getenv(envVar)
	if connString == "" {
		t.Skipf("%s not set, skipping test that needs PostgreSQL", envVar)
	}
	return connString
}

// ParseConfig returns a test connection config that forwards server notices to the test log.
func ParseConfig(t testing.TB) *pgx.ConnConfig {
	config, err := pgx.ParseConfig(ConnString(t))
	require.NoError(t, err)

	config.OnNotice = func(_ *pgconn.PgConn, n *pgconn.Notice) {
		t.Logf("PostgreSQL %s: %s", n.Severity, n.Message)
	}

	return config
}

// Pool opens a pool on the test database, closed when the test ends.
func Pool(t testing.TB) *pgxpool.Pool {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, ConnString(t))
	require.NoError(t, err)
	require.NoError(t, pool.Ping(ctx))

	t.Cleanup(pool.Close)
	return pool
}

// Exec runs setup statements (DDL, fixtures) on pool and fails the test on error.
func Exec(t testing.TB, pool *pgxpool.Pool, stmts ...string) {
	t.Helper()
	for _, stmt := range stmts {
		_, err := pool.Exec(context.Background(), stmt)
		require.NoError(t, err, "setup statement failed: %s", stmt)
	}
}
