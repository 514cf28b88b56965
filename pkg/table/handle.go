package table

import (
	"context"
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/edgeflare/pgtable/pkg/events"
	"github.com/edgeflare/pgtable/pkg/pgx/schema"
	"github.com/edgeflare/pgtable/pkg/sqlb"
	"go.uber.org/zap"
)

// Executor runs statements. *pgx.Executor satisfies it.
type Executor interface {
	// Exec runs a mutation and commits it before returning the affected row count.
	Exec(ctx context.Context, stmt string, args ...any) (int64, error)
	// Query runs a select and returns every row; never nil on success.
	Query(ctx context.Context, stmt string, args ...any) ([]sqlb.Record, error)
}

// Handle gives record level access to one table. Its metadata is discovered
// once and never changes, so a Handle is safe for concurrent use.
type Handle struct {
	exec      Executor
	ident     sqlb.Ident
	keys      []string
	columns   []string
	colSet    map[string]struct{}
	rowCount  atomic.Int64
	publisher events.Publisher
	logger    *zap.Logger
}

// discover reads the table's columns, primary key and row count.
func discover(ctx context.Context, exec Executor, schemaName, tableName string, pub events.Publisher, logger *zap.Logger) (*Handle, error) {
	ident, err := sqlb.NewIdent(schemaName, tableName)
	if err != nil {
		return nil, err
	}

	t, err := schema.Describe(ctx, exec, schemaName, tableName)
	if err != nil {
		return nil, err
	}

	count, err := schema.RowCount(ctx, exec, schemaName, tableName)
	if err != nil {
		return nil, err
	}

	h := newHandle(exec, ident, t.PrimaryKey, t.ColumnNames(), pub, logger)
	h.rowCount.Store(count)
	return h, nil
}

func newHandle(exec Executor, ident sqlb.Ident, keys, columns []string, pub events.Publisher, logger *zap.Logger) *Handle {
	if pub == nil {
		pub = events.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	colSet := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		colSet[c] = struct{}{}
	}
	return &Handle{
		exec:      exec,
		ident:     ident,
		keys:      keys,
		columns:   columns,
		colSet:    colSet,
		publisher: pub,
		logger:    logger.With(zap.String("table", ident.String())),
	}
}

func (h *Handle) Schema() string { return h.ident[0] }
func (h *Handle) Name() string   { return h.ident[1] }

// Keys returns the primary key columns in key order.
func (h *Handle) Keys() []string { return slices.Clone(h.keys) }

// Columns returns the column names in ordinal order.
func (h *Handle) Columns() []string { return slices.Clone(h.columns) }

// RowCount returns the row count seen at discovery or at the last refresh.
// It is not kept in step with mutations.
func (h *Handle) RowCount() int64 { return h.rowCount.Load() }

// RefreshRowCount recounts the table's rows.
func (h *Handle) RefreshRowCount(ctx context.Context) (int64, error) {
	n, err := schema.RowCount(ctx, h.exec, h.Schema(), h.Name())
	if err != nil {
		return 0, err
	}
	h.rowCount.Store(n)
	return n, nil
}

// KeyOf extracts the primary key values from rec, in key order. It reports
// false when the table has no key or rec lacks a key column.
func (h *Handle) KeyOf(rec sqlb.Record) ([]any, bool) {
	if len(h.keys) == 0 {
		return nil, false
	}
	key := make([]any, len(h.keys))
	for i, k := range h.keys {
		v, ok := rec[k]
		if !ok || v == nil {
			return nil, false
		}
		key[i] = v
	}
	return key, true
}

// FindByKey returns the row with the given primary key values.
func (h *Handle) FindByKey(ctx context.Context, key []any, fields []string) (sqlb.Record, error) {
	tmpl, err := h.keyTemplate(key)
	if err != nil {
		return nil, err
	}

	rows, err := h.FindByTemplate(ctx, tmpl, sqlb.SelectOptions{Fields: fields, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return rows[0], nil
}

// FindByTemplate returns the rows matching tmpl. An empty template matches
// every row.
func (h *Handle) FindByTemplate(ctx context.Context, tmpl sqlb.Template, opts sqlb.SelectOptions) ([]sqlb.Record, error) {
	if err := h.checkColumns(tmpl.Columns()); err != nil {
		return nil, err
	}
	if err := h.checkColumns(opts.Fields); err != nil {
		return nil, err
	}
	for _, o := range opts.OrderBy {
		if err := h.checkColumn(o.Column); err != nil {
			return nil, err
		}
	}

	stmt, args, err := sqlb.Select(h.ident, tmpl, opts)
	if err != nil {
		return nil, err
	}
	return h.exec.Query(ctx, stmt, args...)
}

// Insert adds rec and returns the number of rows inserted.
func (h *Handle) Insert(ctx context.Context, rec sqlb.Record) (int64, error) {
	if err := h.checkColumns(rec.Columns()); err != nil {
		return 0, err
	}

	stmt, args, err := sqlb.Insert(h.ident, rec)
	if err != nil {
		return 0, err
	}

	n, err := h.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, err
	}

	e := events.New(events.OpCreate, h.Schema(), h.Name())
	e.Key, _ = h.KeyOf(rec)
	e.Values = rec
	h.publish(ctx, e, n)
	return n, nil
}

// UpdateByTemplate sets changed on every row matching tmpl. An effectively
// empty template is rejected.
func (h *Handle) UpdateByTemplate(ctx context.Context, tmpl sqlb.Template, changed sqlb.Record) (int64, error) {
	return h.update(ctx, tmpl, changed, nil)
}

// UpdateByKey sets changed on the row with the given key.
func (h *Handle) UpdateByKey(ctx context.Context, key []any, changed sqlb.Record) (int64, error) {
	tmpl, err := h.keyTemplate(key)
	if err != nil {
		return 0, err
	}
	return h.update(ctx, tmpl, changed, key)
}

func (h *Handle) update(ctx context.Context, tmpl sqlb.Template, changed sqlb.Record, key []any) (int64, error) {
	if err := h.checkColumns(tmpl.Columns()); err != nil {
		return 0, err
	}
	if err := h.checkColumns(changed.Columns()); err != nil {
		return 0, err
	}

	stmt, args, err := sqlb.Update(h.ident, tmpl, changed)
	if err != nil {
		return 0, err
	}

	n, err := h.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, err
	}

	e := events.New(events.OpUpdate, h.Schema(), h.Name())
	e.Key = key
	e.Template = eventTemplate(tmpl, key)
	e.Values = changed
	h.publish(ctx, e, n)
	return n, nil
}

// DeleteByTemplate removes every row matching tmpl. A nil or effectively
// empty template is rejected rather than deleting the whole table.
func (h *Handle) DeleteByTemplate(ctx context.Context, tmpl sqlb.Template) (int64, error) {
	return h.delete(ctx, tmpl, nil)
}

// DeleteByKey removes the row with the given key.
func (h *Handle) DeleteByKey(ctx context.Context, key []any) (int64, error) {
	tmpl, err := h.keyTemplate(key)
	if err != nil {
		return 0, err
	}
	return h.delete(ctx, tmpl, key)
}

func (h *Handle) delete(ctx context.Context, tmpl sqlb.Template, key []any) (int64, error) {
	if err := h.checkColumns(tmpl.Columns()); err != nil {
		return 0, err
	}

	stmt, args, err := sqlb.Delete(h.ident, tmpl)
	if err != nil {
		return 0, err
	}

	n, err := h.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, err
	}

	e := events.New(events.OpDelete, h.Schema(), h.Name())
	e.Key = key
	e.Template = eventTemplate(tmpl, key)
	h.publish(ctx, e, n)
	return n, nil
}

func (h *Handle) keyTemplate(key []any) (sqlb.Template, error) {
	if len(h.keys) == 0 {
		return nil, fmt.Errorf("%s: %w", h.ident, ErrNoPrimaryKey)
	}
	if len(key) != len(h.keys) {
		return nil, fmt.Errorf("%w: %s has %d key columns, got %d values", ErrInvalidKey, h.ident, len(h.keys), len(key))
	}

	tmpl := make(sqlb.Template, len(h.keys))
	for i, col := range h.keys {
		if key[i] == nil {
			return nil, fmt.Errorf("%w: NULL value for key column %q", ErrInvalidKey, col)
		}
		tmpl[col] = sqlb.Eq(key[i])
	}
	return tmpl, nil
}

func (h *Handle) checkColumns(cols []string) error {
	for _, c := range cols {
		if err := h.checkColumn(c); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handle) checkColumn(c string) error {
	if _, ok := h.colSet[c]; !ok {
		return fmt.Errorf("%w: unknown column %q in %s", ErrInvalidInput, c, h.ident)
	}
	return nil
}

// eventTemplate keeps the filter of template mutations; key mutations
// carry the key instead.
func eventTemplate(tmpl sqlb.Template, key []any) map[string]any {
	if key != nil {
		return nil
	}
	return tmpl.Effective()
}

func (h *Handle) publish(ctx context.Context, e events.Event, affected int64) {
	if affected <= 0 {
		return
	}
	e.Affected = affected
	if err := h.publisher.Publish(ctx, e); err != nil {
		h.logger.Warn("publish change event", zap.String("event_id", e.ID), zap.Error(err))
	}
}
