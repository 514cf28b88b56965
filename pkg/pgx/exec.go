package pgx

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/edgeflare/pgtable/pkg/metrics"
	"github.com/edgeflare/pgtable/pkg/sqlb"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// QueryError is returned for any statement the database refused or could not
// run. It never carries argument values, only a summary of their types.
type QueryError struct {
	Op        string // first keyword of the statement, lower case
	Statement string
	Args      string
	SQLState  string
	Err       error
}

func (e *QueryError) Error() string {
	if e.SQLState != "" {
		return fmt.Sprintf("pgx: %s failed [%s]: %v", e.Op, e.SQLState, e.Err)
	}
	return fmt.Sprintf("pgx: %s failed: %v", e.Op, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

func newQueryError(op, stmt string, args []any, err error) *QueryError {
	qe := &QueryError{
		Op:        op,
		Statement: stmt,
		Args:      summarizeArgs(args),
		Err:       err,
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		qe.SQLState = pgErr.Code
	}
	return qe
}

// summarizeArgs describes args by count and Go type so that errors and logs
// can be shared without exposing the values themselves.
func summarizeArgs(args []any) string {
	if len(args) == 0 {
		return "0 args"
	}
	types := make([]string, len(args))
	for i, a := range args {
		types[i] = fmt.Sprintf("%T", a)
	}
	return fmt.Sprintf("%d args: %s", len(args), strings.Join(types, ", "))
}

// Executor runs statements over a Conn, typically a *pgxpool.Pool, so each
// statement checks out its own connection.
type Executor struct {
	db      Conn
	timeout time.Duration
	logger  *zap.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithStatementTimeout bounds every statement with d. Zero disables the bound.
func WithStatementTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.timeout = d }
}

// WithLogger sets the logger used for statement traces.
func WithLogger(logger *zap.Logger) ExecutorOption {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewExecutor returns an Executor over db.
func NewExecutor(db Conn, opts ...ExecutorOption) *Executor {
	e := &Executor{db: db, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.Named("executor")
	return e
}

// Execute runs stmt. With wantRows it returns the materialized result set and
// never commits; otherwise it returns the affected row count of a committed
// statement.
func (e *Executor) Execute(ctx context.Context, stmt string, args []any, wantRows bool) (int64, []sqlb.Record, error) {
	if wantRows {
		rows, err := e.Query(ctx, stmt, args...)
		return int64(len(rows)), rows, err
	}
	n, err := e.Exec(ctx, stmt, args...)
	return n, nil, err
}

// Exec runs a mutating statement in its own transaction and commits it before
// returning the number of affected rows.
func (e *Executor) Exec(ctx context.Context, stmt string, args ...any) (int64, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	op := opName(stmt)
	start := time.Now()

	var affected int64
	err := pgx.BeginFunc(ctx, e.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, stmt, args...)
		if err != nil {
			return err
		}
		affected = tag.RowsAffected()
		return nil
	})

	e.observe(op, stmt, args, start, err)
	if err != nil {
		return 0, newQueryError(op, stmt, args, err)
	}
	metrics.RowsAffected.WithLabelValues(op).Add(float64(affected))
	return affected, nil
}

// Query runs a read-only statement and materializes every row. On success the
// returned slice is never nil.
func (e *Executor) Query(ctx context.Context, stmt string, args ...any) ([]sqlb.Record, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	op := opName(stmt)
	start := time.Now()

	records, err := e.query(ctx, stmt, args)
	e.observe(op, stmt, args, start, err)
	if err != nil {
		return nil, newQueryError(op, stmt, args, err)
	}
	return records, nil
}

func (e *Executor) query(ctx context.Context, stmt string, args []any) ([]sqlb.Record, error) {
	rows, err := e.db.Query(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}

	records, err := pgx.CollectRows(rows, rowToRecord)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []sqlb.Record{}
	}
	return records, nil
}

func rowToRecord(row pgx.CollectableRow) (sqlb.Record, error) {
	m, err := pgx.RowToMap(row)
	if err != nil {
		return nil, err
	}
	return sqlb.Record(m), nil
}

func (e *Executor) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.timeout)
}

func (e *Executor) observe(op, stmt string, args []any, start time.Time, err error) {
	elapsed := time.Since(start)
	metrics.QueryDuration.WithLabelValues(op).Observe(elapsed.Seconds())

	fields := []zap.Field{
		zap.String("op", op),
		zap.String("stmt", stmt),
		zap.String("args", summarizeArgs(args)),
		zap.Duration("latency", elapsed),
	}
	if err != nil {
		var code string
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			code = pgErr.Code
		}
		metrics.QueryErrors.WithLabelValues(op, metrics.SQLStateClass(code)).Inc()
		e.logger.Warn("statement failed", append(fields, zap.Error(err))...)
		return
	}
	e.logger.Debug("statement", fields...)
}

func opName(stmt string) string {
	stmt = strings.TrimSpace(stmt)
	if i := strings.IndexAny(stmt, " \t\n"); i > 0 {
		stmt = stmt[:i]
	}
	switch op := strings.ToLower(stmt); op {
	case "select", "insert", "update", "delete", "with":
		return op
	}
	return "other"
}
