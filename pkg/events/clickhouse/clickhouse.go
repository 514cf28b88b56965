// Package clickhouse writes one audit row per row change event into a
// ClickHouse MergeTree table (default `default.pgtable_events`).
package clickhouse

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/edgeflare/pgtable/pkg/events"
	"go.uber.org/zap"
)

// Config represents ClickHouse configuration. Empty connection settings
// fall back to PGTABLE_CLICKHOUSE_ADDR, PGTABLE_CLICKHOUSE_DATABASE,
// PGTABLE_CLICKHOUSE_USERNAME and PGTABLE_CLICKHOUSE_PASSWORD.
type Config struct {
	Addr        []string      `mapstructure:"addr"`
	Database    string        `mapstructure:"database"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	Table       string        `mapstructure:"table"`
	CreateTable bool          `mapstructure:"createTable"`
	DialTimeout time.Duration `mapstructure:"dialTimeout"`
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func (c *Config) setDefaults() {
	if len(c.Addr) == 0 {
		c.Addr = []string{cmp.Or(os.Getenv("PGTABLE_CLICKHOUSE_ADDR"), "localhost:9000")}
	}
	c.Database = cmp.Or(c.Database, os.Getenv("PGTABLE_CLICKHOUSE_DATABASE"), "default")
	c.Username = cmp.Or(c.Username, os.Getenv("PGTABLE_CLICKHOUSE_USERNAME"), "default")
	c.Password = cmp.Or(c.Password, os.Getenv("PGTABLE_CLICKHOUSE_PASSWORD"))
	c.Table = cmp.Or(c.Table, "pgtable_events")
	c.DialTimeout = cmp.Or(c.DialTimeout, 5*time.Second)
}

func (c *Config) validate() error {
	for _, name := range []string{c.Database, c.Table} {
		if !identRe.MatchString(name) {
			return fmt.Errorf("invalid ClickHouse identifier %q", name)
		}
	}
	return nil
}

func (c *Config) qualifiedTable() string {
	return fmt.Sprintf("`%s`.`%s`", c.Database, c.Table)
}

func (c *Config) createTableStmt() string {
	return `CREATE TABLE IF NOT EXISTS ` + c.qualifiedTable() + ` (
		id UUID,
		ts DateTime64(3),
		op LowCardinality(String),
		schema_name String,
		table_name String,
		key String,
		affected Int64,
		template String,
		values String
	) ENGINE = MergeTree ORDER BY (schema_name, table_name, ts)`
}

func (c *Config) insertStmt() string {
	return `INSERT INTO ` + c.qualifiedTable() +
		` (id, ts, op, schema_name, table_name, key, affected, template, values) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
}

// execer is the part of driver.Conn the sink uses.
type execer interface {
	Exec(ctx context.Context, query string, args ...any) error
	Close() error
}

// Sink inserts audit rows.
type Sink struct {
	conn   execer
	config Config
	logger *zap.Logger
}

// Open connects, pings and optionally creates the audit table.
func Open(ctx context.Context, config Config, logger *zap.Logger) (*Sink, error) {
	config.setDefaults()
	if err := config.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: config.Addr,
		Auth: clickhouse.Auth{
			Database: config.Database,
			Username: config.Username,
			Password: config.Password,
		},
		DialTimeout: config.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping ClickHouse: %w", err)
	}

	s := newSink(conn, config, logger)
	if config.CreateTable {
		if err := conn.Exec(ctx, config.createTableStmt()); err != nil {
			conn.Close()
			return nil, fmt.Errorf("create audit table: %w", err)
		}
		s.logger.Info("audit table ready", zap.String("table", config.qualifiedTable()))
	}
	return s, nil
}

func newSink(conn execer, config Config, logger *zap.Logger) *Sink {
	return &Sink{conn: conn, config: config, logger: logger.Named("clickhouse")}
}

// row returns the insert arguments for e.
func row(e events.Event) ([]any, error) {
	key, err := marshalOrEmpty(e.Key)
	if err != nil {
		return nil, err
	}
	tmpl, err := marshalOrEmpty(e.Template)
	if err != nil {
		return nil, err
	}
	values, err := marshalOrEmpty(e.Values)
	if err != nil {
		return nil, err
	}
	return []any{
		e.ID,
		time.UnixMilli(e.TsMs).UTC(),
		string(e.Op),
		e.Schema,
		e.Table,
		key,
		e.Affected,
		tmpl,
		values,
	}, nil
}

func marshalOrEmpty[T any](v T) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal event field: %w", err)
	}
	if s := string(b); s != "null" {
		return s, nil
	}
	return "", nil
}

func (s *Sink) Publish(ctx context.Context, e events.Event) error {
	args, err := row(e)
	if err != nil {
		return err
	}
	if err := s.conn.Exec(ctx, s.config.insertStmt(), args...); err != nil {
		return fmt.Errorf("insert audit row: %w", err)
	}
	return nil
}

func (s *Sink) Close() error {
	return s.conn.Close()
}

func init() {
	events.Register(events.ConnectorClickHouse, func(ctx context.Context, raw map[string]any, logger *zap.Logger) (events.Publisher, error) {
		var cfg Config
		if err := events.Decode(raw, &cfg); err != nil {
			return nil, err
		}
		return Open(ctx, cfg, logger)
	})
}
