package schema_test

import (
	"context"
	"errors"
	"testing"

	"github.com/edgeflare/pgtable/internal/testutil/fakedb"
	"github.com/edgeflare/pgtable/internal/testutil/pgtest"
	pg "github.com/edgeflare/pgtable/pkg/pgx"
	"github.com/edgeflare/pgtable/pkg/pgx/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bankDB() *fakedb.Executor {
	return fakedb.New(
		fakedb.Table{Schema: "bank", Name: "accounts", Columns: []string{"id", "branch", "owner", "balance"}, Key: []string{"branch", "id"}, Rows: 3},
		fakedb.Table{Schema: "bank", Name: "audit", Columns: []string{"at", "msg"}},
		fakedb.Table{Schema: "shop", Name: "orders", Columns: []string{"id"}, Key: []string{"id"}},
	)
}

func TestSchemas(t *testing.T) {
	schemas, err := schema.Schemas(context.Background(), bankDB())
	require.NoError(t, err)
	assert.Equal(t, []string{"bank", "shop"}, schemas)
}

func TestTables(t *testing.T) {
	tables, err := schema.Tables(context.Background(), bankDB(), "bank")
	require.NoError(t, err)
	require.Len(t, tables, 2)
	assert.Equal(t, "bank.accounts", tables[0].FullName())
	assert.Equal(t, schema.TypeTable, tables[0].Type)

	tables, err = schema.Tables(context.Background(), bankDB(), "nope")
	require.NoError(t, err)
	assert.Empty(t, tables)
}

func TestListedMaterializedViewCanBeDescribed(t *testing.T) {
	ctx := context.Background()
	db := fakedb.New(fakedb.Table{Schema: "bank", Name: "branch_totals", Columns: []string{"branch", "total"}, Type: string(schema.TypeMaterializedView)})

	tables, err := schema.Tables(ctx, db, "bank")
	require.NoError(t, err)
	require.Len(t, tables, 1)
	assert.Equal(t, schema.TypeMaterializedView, tables[0].Type)

	tbl, err := schema.Describe(ctx, db, "bank", tables[0].Name)
	require.NoError(t, err)
	assert.Equal(t, []string{"branch", "total"}, tbl.ColumnNames())
	assert.Empty(t, tbl.PrimaryKey)
}

func TestDescribe(t *testing.T) {
	ctx := context.Background()

	t.Run("composite key keeps key order", func(t *testing.T) {
		tbl, err := schema.Describe(ctx, bankDB(), "bank", "accounts")
		require.NoError(t, err)
		assert.Equal(t, []string{"branch", "id"}, tbl.PrimaryKey)
		assert.Equal(t, []string{"id", "branch", "owner", "balance"}, tbl.ColumnNames())
		assert.True(t, tbl.Columns[0].IsPrimaryKey)
		assert.False(t, tbl.Columns[2].IsPrimaryKey)
	})

	t.Run("no primary key", func(t *testing.T) {
		tbl, err := schema.Describe(ctx, bankDB(), "bank", "audit")
		require.NoError(t, err)
		assert.Empty(t, tbl.PrimaryKey)
		assert.Len(t, tbl.Columns, 2)
	})

	t.Run("unknown table", func(t *testing.T) {
		_, err := schema.Describe(ctx, bankDB(), "bank", "missing")
		assert.ErrorIs(t, err, schema.ErrTableNotFound)
	})

	t.Run("catalog failure", func(t *testing.T) {
		db := bankDB()
		db.CatalogErr = errors.New("connection reset")
		_, err := schema.Describe(ctx, db, "bank", "accounts")
		require.Error(t, err)
		assert.NotErrorIs(t, err, schema.ErrTableNotFound)
	})
}

func TestRowCount(t *testing.T) {
	n, err := schema.RowCount(context.Background(), bankDB(), "bank", "accounts")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	_, err = schema.RowCount(context.Background(), bankDB(), "", "accounts")
	assert.Error(t, err)
}

func TestCatalogLive(t *testing.T) {
	pool := pgtest.Pool(t)
	pgtest.Exec(t, pool,
		`DROP SCHEMA IF EXISTS pgtable_schema_test CASCADE`,
		`CREATE SCHEMA pgtable_schema_test`,
		`CREATE TABLE pgtable_schema_test.accounts (id int, branch text, owner text, PRIMARY KEY (branch, id))`,
		`CREATE TABLE pgtable_schema_test.log (msg text)`,
		`CREATE VIEW pgtable_schema_test.owners AS SELECT owner FROM pgtable_schema_test.accounts`,
		`INSERT INTO pgtable_schema_test.accounts VALUES (1, 'north', 'ann'), (2, 'north', 'bob')`,
		`CREATE MATERIALIZED VIEW pgtable_schema_test.branches AS
			SELECT branch, count(*) AS n FROM pgtable_schema_test.accounts GROUP BY branch`,
		`ALTER TABLE pgtable_schema_test.log ADD COLUMN gone int, ADD COLUMN at timestamptz`,
		`ALTER TABLE pgtable_schema_test.log DROP COLUMN gone`,
	)
	t.Cleanup(func() { pgtest.Exec(t, pool, `DROP SCHEMA IF EXISTS pgtable_schema_test CASCADE`) })

	ctx := context.Background()
	exec := pg.NewExecutor(pool)

	schemas, err := schema.Schemas(ctx, exec)
	require.NoError(t, err)
	assert.Contains(t, schemas, "pgtable_schema_test")
	assert.NotContains(t, schemas, "pg_catalog")

	tables, err := schema.Tables(ctx, exec, "pgtable_schema_test")
	require.NoError(t, err)
	require.Len(t, tables, 4)
	types := map[string]schema.TableType{}
	for _, tbl := range tables {
		types[tbl.Name] = tbl.Type
	}
	assert.Equal(t, map[string]schema.TableType{
		"accounts": schema.TypeTable,
		"branches": schema.TypeMaterializedView,
		"log":      schema.TypeTable,
		"owners":   schema.TypeView,
	}, types)

	// every listed relation can be described
	for _, listed := range tables {
		tbl, err := schema.Describe(ctx, exec, "pgtable_schema_test", listed.Name)
		require.NoError(t, err, listed.Name)
		assert.NotEmpty(t, tbl.Columns, listed.Name)
	}

	mv, err := schema.Describe(ctx, exec, "pgtable_schema_test", "branches")
	require.NoError(t, err)
	assert.Equal(t, []string{"branch", "n"}, mv.ColumnNames())
	assert.Equal(t, "bigint", mv.Columns[1].DataType)
	assert.Empty(t, mv.PrimaryKey)

	logTable, err := schema.Describe(ctx, exec, "pgtable_schema_test", "log")
	require.NoError(t, err)
	assert.Equal(t, []string{"msg", "at"}, logTable.ColumnNames(), "dropped columns are skipped")

	tbl, err := schema.Describe(ctx, exec, "pgtable_schema_test", "accounts")
	require.NoError(t, err)
	assert.Equal(t, []string{"branch", "id"}, tbl.PrimaryKey)
	assert.Equal(t, []string{"id", "branch", "owner"}, tbl.ColumnNames())
	assert.Equal(t, "integer", tbl.Columns[0].DataType)
	assert.False(t, tbl.Columns[1].IsNullable)
	assert.True(t, tbl.Columns[2].IsNullable)

	n, err := schema.RowCount(ctx, exec, "pgtable_schema_test", "accounts")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	_, err = schema.Describe(ctx, exec, "pgtable_schema_test", "missing")
	assert.ErrorIs(t, err, schema.ErrTableNotFound)
}
