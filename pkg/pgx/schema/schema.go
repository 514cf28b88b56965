// Package schema reads PostgreSQL catalog metadata: the schemas of a
// database, the tables and views of a schema, and the columns and ordered
// primary key of a single table.
//
// Every function takes a Querier, which *pgx.Executor satisfies, so catalog
// round trips share the executor's statement timeout, metrics and logging.
package schema

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/edgeflare/pgtable/pkg/sqlb"
)

// ErrTableNotFound is returned by Describe when the catalog has no columns
// for the requested table.
var ErrTableNotFound = errors.New("table not found")

// Querier runs a read-only statement and returns every row.
type Querier interface {
	Query(ctx context.Context, stmt string, args ...any) ([]sqlb.Record, error)
}

type TableType string

const (
	TypeTable            TableType = "TABLE"
	TypeView             TableType = "VIEW"
	TypeMaterializedView TableType = "MATERIALIZED VIEW"
)

type Table struct {
	Schema     string    `json:"schema"`
	Name       string    `json:"name"`
	Type       TableType `json:"type,omitempty"`
	Columns    []Column  `json:"columns,omitempty"`
	PrimaryKey []string  `json:"primary_key,omitempty"`
}

type Column struct {
	Name         string `json:"name"`
	DataType     string `json:"data_type"`
	IsNullable   bool   `json:"is_nullable"`
	IsPrimaryKey bool   `json:"is_primary_key"`
}

// FullName returns schema.name.
func (t Table) FullName() string {
	return t.Schema + "." + t.Name
}

// ColumnNames returns the column names in ordinal order.
func (t Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

const (
	schemasQuery = `SELECT schema_name::text AS schema_name
		FROM information_schema.schemata
		ORDER BY schema_name`

	tablesQuery = `SELECT table_name::text AS table_name, 'TABLE' AS table_type
		FROM information_schema.tables
		WHERE table_schema = $1 AND table_type = 'BASE TABLE'
		UNION ALL
		SELECT table_name::text, 'VIEW'
		FROM information_schema.views
		WHERE table_schema = $1
		UNION ALL
		SELECT matviewname::text, 'MATERIALIZED VIEW'
		FROM pg_matviews
		WHERE schemaname = $1
		ORDER BY 1`

	// pg_attribute rather than information_schema.columns, which omits
	// materialized views.
	columnsQuery = `SELECT a.attname::text AS column_name,
			format_type(a.atttypid, a.atttypmod) AS data_type,
			NOT a.attnotnull AS is_nullable
		FROM pg_catalog.pg_attribute a
		JOIN pg_catalog.pg_class c ON c.oid = a.attrelid
		JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1 AND c.relname = $2
			AND c.relkind IN ('r', 'p', 'v', 'm', 'f')
			AND a.attnum > 0 AND NOT a.attisdropped
		ORDER BY a.attnum`

	primaryKeyQuery = `SELECT kcu.column_name::text AS column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
			AND tc.table_name = kcu.table_name
		WHERE tc.constraint_type = 'PRIMARY KEY'
			AND tc.table_schema = $1
			AND tc.table_name = $2
		ORDER BY kcu.ordinal_position`
)

// Schemas lists the user schemas of the connected database.
func Schemas(ctx context.Context, q Querier) ([]string, error) {
	rows, err := q.Query(ctx, schemasQuery)
	if err != nil {
		return nil, fmt.Errorf("query schemas: %w", err)
	}

	schemas := make([]string, 0, len(rows))
	for _, row := range rows {
		name := asString(row["schema_name"])
		if name == "" || isSystem(name) {
			continue
		}
		schemas = append(schemas, name)
	}
	return schemas, nil
}

// Tables lists the tables, views and materialized views of schema. Columns
// are not loaded.
func Tables(ctx context.Context, q Querier, schema string) ([]Table, error) {
	rows, err := q.Query(ctx, tablesQuery, schema)
	if err != nil {
		return nil, fmt.Errorf("query tables of %s: %w", schema, err)
	}

	tables := make([]Table, 0, len(rows))
	for _, row := range rows {
		tables = append(tables, Table{
			Schema: schema,
			Name:   asString(row["table_name"]),
			Type:   TableType(asString(row["table_type"])),
		})
	}
	return tables, nil
}

// Describe loads the columns of schema.table in ordinal order and its
// primary key columns in key order. A table without a primary key has an
// empty PrimaryKey.
func Describe(ctx context.Context, q Querier, schema, table string) (Table, error) {
	t := Table{Schema: schema, Name: table}

	colRows, err := q.Query(ctx, columnsQuery, schema, table)
	if err != nil {
		return t, fmt.Errorf("query columns %s: %w", t.FullName(), err)
	}
	if len(colRows) == 0 {
		return t, fmt.Errorf("%s: %w", t.FullName(), ErrTableNotFound)
	}

	keyRows, err := q.Query(ctx, primaryKeyQuery, schema, table)
	if err != nil {
		return t, fmt.Errorf("query primary key %s: %w", t.FullName(), err)
	}

	t.PrimaryKey = make([]string, 0, len(keyRows))
	isKey := make(map[string]bool, len(keyRows))
	for _, row := range keyRows {
		name := asString(row["column_name"])
		t.PrimaryKey = append(t.PrimaryKey, name)
		isKey[name] = true
	}

	t.Columns = make([]Column, 0, len(colRows))
	for _, row := range colRows {
		name := asString(row["column_name"])
		nullable, _ := row["is_nullable"].(bool)
		t.Columns = append(t.Columns, Column{
			Name:         name,
			DataType:     asString(row["data_type"]),
			IsNullable:   nullable,
			IsPrimaryKey: isKey[name],
		})
	}
	return t, nil
}

// RowCount counts the rows of schema.table.
func RowCount(ctx context.Context, q Querier, schema, table string) (int64, error) {
	ident, err := sqlb.NewIdent(schema, table)
	if err != nil {
		return 0, err
	}
	stmt, args, err := sqlb.Count(ident, nil)
	if err != nil {
		return 0, err
	}

	rows, err := q.Query(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("count rows %s: %w", ident, err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	switch n := rows[0]["count"].(type) {
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case int:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("count rows %s: unexpected count type %T", ident, n)
	}
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case nil:
		return ""
	default:
		return fmt.Sprint(s)
	}
}

func isSystem(schema string) bool {
	switch schema {
	case "information_schema", "pg_catalog", "pg_toast":
		return true
	}
	return strings.HasPrefix(schema, "pg_temp_") || strings.HasPrefix(schema, "pg_toast_temp_")
}
