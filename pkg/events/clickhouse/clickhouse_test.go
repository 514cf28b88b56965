package clickhouse

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/edgeflare/pgtable/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeConn struct {
	query  string
	args   []any
	err    error
	closed bool
}

func (c *fakeConn) Exec(_ context.Context, query string, args ...any) error {
	c.query, c.args = query, args
	return c.err
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

func TestConfig(t *testing.T) {
	t.Setenv("PGTABLE_CLICKHOUSE_ADDR", "ch:9000")

	var cfg Config
	cfg.setDefaults()
	assert.Equal(t, []string{"ch:9000"}, cfg.Addr)
	assert.Equal(t, "default", cfg.Database)
	assert.Equal(t, "pgtable_events", cfg.Table)
	require.NoError(t, cfg.validate())
	assert.Equal(t, "`default`.`pgtable_events`", cfg.qualifiedTable())
	assert.Contains(t, cfg.createTableStmt(), "ENGINE = MergeTree")

	cfg.Table = "events; DROP TABLE x"
	assert.Error(t, cfg.validate())
}

func TestSinkPublish(t *testing.T) {
	var cfg Config
	cfg.setDefaults()
	conn := &fakeConn{}
	s := newSink(conn, cfg, zap.NewNop())

	e := events.New(events.OpUpdate, "bank", "accounts")
	e.Key = []any{"north", 1}
	e.Values = map[string]any{"owner": "bob"}
	e.Affected = 1

	require.NoError(t, s.Publish(context.Background(), e))
	assert.Contains(t, conn.query, "INSERT INTO `default`.`pgtable_events`")
	require.Len(t, conn.args, 9)
	assert.Equal(t, e.ID, conn.args[0])
	assert.Equal(t, time.UnixMilli(e.TsMs).UTC(), conn.args[1])
	assert.Equal(t, "u", conn.args[2])
	assert.JSONEq(t, `["north",1]`, conn.args[5].(string))
	assert.Equal(t, "", conn.args[7], "nil template is stored empty")
	assert.JSONEq(t, `{"owner":"bob"}`, conn.args[8].(string))

	conn.err = errors.New("table is read only")
	assert.ErrorContains(t, s.Publish(context.Background(), e), "read only")

	require.NoError(t, s.Close())
	assert.True(t, conn.closed)
}
