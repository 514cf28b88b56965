package table

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/edgeflare/pgtable/internal/testutil/fakedb"
	"github.com/edgeflare/pgtable/pkg/events"
	"github.com/edgeflare/pgtable/pkg/sqlb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var accounts = fakedb.Table{Schema: "bank", Name: "accounts", Columns: []string{"id", "balance"}, Key: []string{"id"}, Rows: 0}

type capture struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (c *capture) Publish(_ context.Context, e events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return c.err
}

func (c *capture) Close() error { return nil }

func (c *capture) all() []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]events.Event(nil), c.events...)
}

func handleFor(t *testing.T, db *fakedb.Executor, schemaName, tableName string, opts ...RegistryOption) *Handle {
	t.Helper()
	h, err := NewRegistry(db, opts...).Handle(context.Background(), schemaName, tableName)
	require.NoError(t, err)
	return h
}

// TestBankAccountsScenario walks insert, find, update, find, delete, find
// against a scripted database that keeps one row in memory.
func TestBankAccountsScenario(t *testing.T) {
	ctx := context.Background()
	db := fakedb.New(accounts)

	var row sqlb.Record
	db.OnExec = func(stmt string, args []any) (int64, error) {
		switch {
		case strings.HasPrefix(stmt, `INSERT INTO "bank"."accounts" ("balance", "id") VALUES ($1, $2)`):
			row = sqlb.Record{"balance": args[0], "id": args[1]}
			return 1, nil
		case stmt == `UPDATE "bank"."accounts" SET "balance" = $1 WHERE "id" = $2`:
			if row == nil || row["id"] != args[1] {
				return 0, nil
			}
			row["balance"] = args[0]
			return 1, nil
		case stmt == `DELETE FROM "bank"."accounts" WHERE "id" = $1`:
			if row == nil || row["id"] != args[0] {
				return 0, nil
			}
			row = nil
			return 1, nil
		}
		return 0, errors.New("unexpected statement: " + stmt)
	}
	db.OnQuery = func(stmt string, args []any) ([]sqlb.Record, error) {
		if row == nil || row["id"] != args[0] {
			return []sqlb.Record{}, nil
		}
		switch stmt {
		case `SELECT * FROM "bank"."accounts" WHERE "id" = $1 LIMIT $2`:
			return []sqlb.Record{{"id": row["id"], "balance": row["balance"]}}, nil
		case `SELECT "balance" FROM "bank"."accounts" WHERE "id" = $1 LIMIT $2`:
			return []sqlb.Record{{"balance": row["balance"]}}, nil
		}
		return nil, errors.New("unexpected statement: " + stmt)
	}

	h := handleFor(t, db, "bank", "accounts")
	assert.Equal(t, []string{"id"}, h.Keys())

	n, err := h.Insert(ctx, sqlb.Record{"id": 1, "balance": 100})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	rec, err := h.FindByKey(ctx, []any{1}, nil)
	require.NoError(t, err)
	assert.Equal(t, sqlb.Record{"id": 1, "balance": 100}, rec)

	n, err = h.UpdateByKey(ctx, []any{1}, sqlb.Record{"balance": 150})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	rec, err = h.FindByKey(ctx, []any{1}, []string{"balance"})
	require.NoError(t, err)
	assert.Equal(t, sqlb.Record{"balance": 150}, rec)

	n, err = h.DeleteByKey(ctx, []any{1})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = h.FindByKey(ctx, []any{1}, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindByTemplate(t *testing.T) {
	ctx := context.Background()
	db := fakedb.New(accounts)
	h := handleFor(t, db, "bank", "accounts")

	rows, err := h.FindByTemplate(ctx, nil, sqlb.SelectOptions{})
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)

	_, err = h.FindByTemplate(ctx, sqlb.Template{"balance": sqlb.Cond{Op: sqlb.OpGt, Value: 10}, "id": ""}, sqlb.SelectOptions{
		OrderBy: []sqlb.Order{{Column: "balance", Desc: true}},
		Limit:   5,
	})
	require.NoError(t, err)
	call, ok := db.LastCall()
	require.True(t, ok)
	assert.Equal(t, `SELECT * FROM "bank"."accounts" WHERE "balance" > $1 ORDER BY "balance" DESC LIMIT $2`, call.Stmt)
	assert.Equal(t, []any{10, 5}, call.Args)
}

func TestValidationHappensBeforeAnyStatement(t *testing.T) {
	ctx := context.Background()
	db := fakedb.New(accounts)
	h := handleFor(t, db, "bank", "accounts")

	tests := []struct {
		name string
		run  func() error
		want error
	}{
		{"insert empty", func() error { _, err := h.Insert(ctx, sqlb.Record{}); return err }, ErrInvalidInput},
		{"insert unknown column", func() error { _, err := h.Insert(ctx, sqlb.Record{"id": 1, "nope": 2}); return err }, ErrInvalidInput},
		{"delete nil template", func() error { _, err := h.DeleteByTemplate(ctx, nil); return err }, ErrInvalidInput},
		{"delete empty template", func() error { _, err := h.DeleteByTemplate(ctx, sqlb.Template{}); return err }, ErrInvalidInput},
		{"delete only skipped entries", func() error {
			_, err := h.DeleteByTemplate(ctx, sqlb.Template{"balance": nil, "id": ""})
			return err
		}, ErrInvalidInput},
		{"update without changes", func() error {
			_, err := h.UpdateByTemplate(ctx, sqlb.Template{"id": 1}, nil)
			return err
		}, ErrInvalidInput},
		{"update without filter", func() error {
			_, err := h.UpdateByTemplate(ctx, sqlb.Template{}, sqlb.Record{"balance": 1})
			return err
		}, ErrInvalidInput},
		{"find unknown field", func() error {
			_, err := h.FindByTemplate(ctx, nil, sqlb.SelectOptions{Fields: []string{"password"}})
			return err
		}, ErrInvalidInput},
		{"find unknown order column", func() error {
			_, err := h.FindByTemplate(ctx, nil, sqlb.SelectOptions{OrderBy: []sqlb.Order{{Column: "x"}}})
			return err
		}, ErrInvalidInput},
		{"find by key arity", func() error { _, err := h.FindByKey(ctx, []any{1, 2}, nil); return err }, ErrInvalidKey},
		{"find by key empty", func() error { _, err := h.FindByKey(ctx, nil, nil); return err }, ErrInvalidKey},
		{"update by key arity", func() error {
			_, err := h.UpdateByKey(ctx, []any{}, sqlb.Record{"balance": 1})
			return err
		}, ErrInvalidKey},
		{"delete by key NULL", func() error { _, err := h.DeleteByKey(ctx, []any{nil}); return err }, ErrInvalidKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.run(), tt.want)
		})
	}
	assert.Empty(t, db.Calls(), "no statement may reach the database")
}

func TestKeylessTable(t *testing.T) {
	ctx := context.Background()
	db := fakedb.New(fakedb.Table{Schema: "bank", Name: "audit", Columns: []string{"at", "msg"}})
	h := handleFor(t, db, "bank", "audit")

	assert.Empty(t, h.Keys())

	_, err := h.FindByKey(ctx, nil, nil)
	assert.ErrorIs(t, err, ErrNoPrimaryKey)
	_, err = h.UpdateByKey(ctx, []any{}, sqlb.Record{"msg": "x"})
	assert.ErrorIs(t, err, ErrNoPrimaryKey)
	_, err = h.DeleteByKey(ctx, []any{})
	assert.ErrorIs(t, err, ErrNoPrimaryKey)
	assert.Empty(t, db.Calls())

	_, ok := h.KeyOf(sqlb.Record{"msg": "x"})
	assert.False(t, ok)

	// template operations still work
	n, err := h.DeleteByTemplate(ctx, sqlb.Template{"msg": "x"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestCompositeKey(t *testing.T) {
	ctx := context.Background()
	db := fakedb.New(fakedb.Table{Schema: "bank", Name: "accounts", Columns: []string{"id", "branch", "owner"}, Key: []string{"branch", "id"}, Rows: 42})
	h := handleFor(t, db, "bank", "accounts")

	assert.Equal(t, []string{"branch", "id"}, h.Keys())
	assert.Equal(t, []string{"id", "branch", "owner"}, h.Columns())
	assert.EqualValues(t, 42, h.RowCount())

	key, ok := h.KeyOf(sqlb.Record{"id": 7, "branch": "north", "owner": "ann"})
	require.True(t, ok)
	assert.Equal(t, []any{"north", 7}, key)

	_, err := h.DeleteByKey(ctx, []any{"north", 7})
	require.NoError(t, err)
	call, _ := db.LastCall()
	assert.Equal(t, `DELETE FROM "bank"."accounts" WHERE "branch" = $1 AND "id" = $2`, call.Stmt)
	assert.Equal(t, []any{"north", 7}, call.Args)

	// Keys returns a copy
	keys := h.Keys()
	keys[0] = "mutated"
	assert.Equal(t, []string{"branch", "id"}, h.Keys())
}

func TestRefreshRowCount(t *testing.T) {
	db := fakedb.New(accounts)
	h := handleFor(t, db, "bank", "accounts")
	assert.Zero(t, h.RowCount())

	db2 := fakedb.New(fakedb.Table{Schema: "bank", Name: "accounts", Columns: []string{"id"}, Key: []string{"id"}, Rows: 9})
	h.exec = db2
	n, err := h.RefreshRowCount(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 9, n)
	assert.EqualValues(t, 9, h.RowCount())
}

func TestMutationsPublishEvents(t *testing.T) {
	ctx := context.Background()
	db := fakedb.New(accounts)
	sink := &capture{}
	h := handleFor(t, db, "bank", "accounts", WithPublisher(sink))

	_, err := h.Insert(ctx, sqlb.Record{"id": 1, "balance": 100})
	require.NoError(t, err)
	_, err = h.UpdateByTemplate(ctx, sqlb.Template{"balance": sqlb.Cond{Op: sqlb.OpLt, Value: 0}}, sqlb.Record{"balance": 0})
	require.NoError(t, err)
	_, err = h.DeleteByKey(ctx, []any{1})
	require.NoError(t, err)

	// nothing affected, nothing published
	db.OnExec = func(string, []any) (int64, error) { return 0, nil }
	_, err = h.DeleteByKey(ctx, []any{2})
	require.NoError(t, err)

	got := sink.all()
	require.Len(t, got, 3)

	assert.Equal(t, events.OpCreate, got[0].Op)
	assert.Equal(t, []any{1}, got[0].Key)
	assert.Equal(t, map[string]any{"id": 1, "balance": 100}, got[0].Values)

	assert.Equal(t, events.OpUpdate, got[1].Op)
	assert.Nil(t, got[1].Key)
	assert.Contains(t, got[1].Template, "balance")

	assert.Equal(t, events.OpDelete, got[2].Op)
	assert.Equal(t, []any{1}, got[2].Key)
	assert.Nil(t, got[2].Template)

	for _, e := range got {
		assert.Equal(t, "bank", e.Schema)
		assert.Equal(t, "accounts", e.Table)
		assert.EqualValues(t, 1, e.Affected)
	}
}

func TestPublishFailureDoesNotFailMutation(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	db := fakedb.New(accounts)
	sink := &capture{err: errors.New("broker down")}
	h := handleFor(t, db, "bank", "accounts", WithPublisher(sink), WithRegistryLogger(zap.New(core)))

	n, err := h.Insert(context.Background(), sqlb.Record{"id": 1})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Equal(t, 1, logs.FilterMessage("publish change event").Len())
}

func TestQueryErrorsPropagate(t *testing.T) {
	db := fakedb.New(accounts)
	boom := errors.New("connection refused")
	db.OnExec = func(string, []any) (int64, error) { return 0, boom }
	sink := &capture{}
	h := handleFor(t, db, "bank", "accounts", WithPublisher(sink))

	_, err := h.Insert(context.Background(), sqlb.Record{"id": 1})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, sink.all())
}
