// Package fakedb provides an in-memory stand-in for *pgx.Executor. It answers
// the catalog statements issued by pkg/pgx/schema from a declared set of
// tables and records every other statement for inspection.
package fakedb

import (
	"context"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edgeflare/pgtable/pkg/sqlb"
)

// Table declares a table known to the catalog.
type Table struct {
	Schema  string
	Name    string
	Columns []string
	Key     []string
	Rows    int64
	// Type is the catalog table type, TABLE when empty.
	Type string
}

// Call is a recorded statement.
type Call struct {
	Stmt string
	Args []any
}

// Executor satisfies the Exec/Query surface of *pgx.Executor.
type Executor struct {
	// OnQuery answers non-catalog selects. Nil returns no rows.
	OnQuery func(stmt string, args []any) ([]sqlb.Record, error)
	// OnExec answers mutations. Nil reports one affected row.
	OnExec func(stmt string, args []any) (int64, error)
	// CatalogErr, when set, fails every catalog statement.
	CatalogErr error
	// DescribeDelay stalls the columns lookup, widening race windows in tests.
	DescribeDelay time.Duration

	describes atomic.Int64

	mu     sync.Mutex
	tables []Table
	calls  []Call
}

// New returns an Executor whose catalog holds tables.
func New(tables ...Table) *Executor {
	return &Executor{tables: tables}
}

// AddTable adds t to the catalog.
func (e *Executor) AddTable(t Table) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tables = append(e.tables, t)
}

// Describes reports how many column lookups have been served.
func (e *Executor) Describes() int64 {
	return e.describes.Load()
}

// Calls returns the recorded non-catalog statements.
func (e *Executor) Calls() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.calls)
}

// LastCall returns the most recent non-catalog statement.
func (e *Executor) LastCall() (Call, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.calls) == 0 {
		return Call{}, false
	}
	return e.calls[len(e.calls)-1], true
}

func (e *Executor) Exec(ctx context.Context, stmt string, args ...any) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	e.record(stmt, args)
	if e.OnExec != nil {
		return e.OnExec(stmt, args)
	}
	return 1, nil
}

func (e *Executor) Query(ctx context.Context, stmt string, args ...any) ([]sqlb.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch {
	case strings.Contains(stmt, "information_schema.schemata"):
		return e.catalog(func() []sqlb.Record { return e.schemaRows() })
	case strings.Contains(stmt, "information_schema.tables"):
		return e.catalog(func() []sqlb.Record { return e.tableRows(str(args, 0)) })
	case strings.Contains(stmt, "pg_attribute"):
		e.describes.Add(1)
		if e.DescribeDelay > 0 {
			time.Sleep(e.DescribeDelay)
		}
		return e.catalog(func() []sqlb.Record { return e.columnRows(str(args, 0), str(args, 1)) })
	case strings.Contains(stmt, "key_column_usage"):
		return e.catalog(func() []sqlb.Record { return e.keyRows(str(args, 0), str(args, 1)) })
	case strings.HasPrefix(stmt, "SELECT count(*)") && !strings.Contains(stmt, "WHERE"):
		return e.catalog(func() []sqlb.Record { return e.countRows(stmt) })
	}

	e.record(stmt, args)
	if e.OnQuery != nil {
		return e.OnQuery(stmt, args)
	}
	return []sqlb.Record{}, nil
}

func (e *Executor) record(stmt string, args []any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, Call{Stmt: stmt, Args: args})
}

func (e *Executor) catalog(rows func() []sqlb.Record) ([]sqlb.Record, error) {
	if e.CatalogErr != nil {
		return nil, e.CatalogErr
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return rows(), nil
}

func (e *Executor) find(schema, name string) (Table, bool) {
	for _, t := range e.tables {
		if t.Schema == schema && t.Name == name {
			return t, true
		}
	}
	return Table{}, false
}

func (e *Executor) schemaRows() []sqlb.Record {
	seen := map[string]bool{}
	rows := []sqlb.Record{{"schema_name": "information_schema"}, {"schema_name": "pg_catalog"}}
	for _, t := range e.tables {
		if !seen[t.Schema] {
			seen[t.Schema] = true
			rows = append(rows, sqlb.Record{"schema_name": t.Schema})
		}
	}
	return rows
}

func (e *Executor) tableRows(schema string) []sqlb.Record {
	rows := []sqlb.Record{}
	for _, t := range e.tables {
		if t.Schema == schema {
			typ := t.Type
			if typ == "" {
				typ = "TABLE"
			}
			rows = append(rows, sqlb.Record{"table_name": t.Name, "table_type": typ})
		}
	}
	return rows
}

func (e *Executor) columnRows(schema, name string) []sqlb.Record {
	rows := []sqlb.Record{}
	t, ok := e.find(schema, name)
	if !ok {
		return rows
	}
	for _, c := range t.Columns {
		rows = append(rows, sqlb.Record{"column_name": c, "data_type": "text", "is_nullable": !slices.Contains(t.Key, c)})
	}
	return rows
}

func (e *Executor) keyRows(schema, name string) []sqlb.Record {
	rows := []sqlb.Record{}
	t, _ := e.find(schema, name)
	for _, k := range t.Key {
		rows = append(rows, sqlb.Record{"column_name": k})
	}
	return rows
}

func (e *Executor) countRows(stmt string) []sqlb.Record {
	for _, t := range e.tables {
		if strings.HasSuffix(stmt, sqlb.Ident{t.Schema, t.Name}.Sanitize()) {
			return []sqlb.Record{{"count": t.Rows}}
		}
	}
	return []sqlb.Record{{"count": int64(0)}}
}

func str(args []any, i int) string {
	if i >= len(args) {
		return ""
	}
	s, _ := args[i].(string)
	return s
}
