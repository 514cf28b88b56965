// Package nats publishes row change events to a NATS JetStream stream.
//
// Subjects follow `prefix.schema_name.table_name.op`, eg
//   - pgtable.public.users.c      → row inserted into public.users
//   - pgtable.bank.accounts.u     → rows updated in bank.accounts
//   - pgtable.bank.accounts.d     → rows deleted from bank.accounts
//
// The stream (default `<prefix>-stream`) is created or updated to capture
// `prefix.>` on connect. Payload is the JSON encoded events.Event.
package nats

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/edgeflare/pgtable/pkg/events"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Config represents NATS configuration
type Config struct {
	Servers       []string `mapstructure:"servers"`
	Stream        string   `mapstructure:"stream"`
	SubjectPrefix string   `mapstructure:"subjectPrefix"`
	Username      string   `mapstructure:"username"`
	Password      string   `mapstructure:"password"`
	TLS           struct {
		Enabled  bool   `mapstructure:"enabled"`
		CertFile string `mapstructure:"certFile"`
		KeyFile  string `mapstructure:"keyFile"`
		CAFile   string `mapstructure:"caFile"`
	} `mapstructure:"tls"`
}

func (c *Config) setDefaults() {
	if len(c.Servers) == 0 {
		c.Servers = []string{nats.DefaultURL}
	}
	c.SubjectPrefix = cmp.Or(c.SubjectPrefix, "pgtable")
	c.Stream = cmp.Or(c.Stream, c.SubjectPrefix+"-stream")
}

// Subject returns the subject an event is published on.
func Subject(prefix string, e events.Event) string {
	return fmt.Sprintf("%s.%s.%s.%s", prefix, e.Schema, e.Table, e.Op)
}

// Sink publishes to JetStream.
type Sink struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	config Config
	logger *zap.Logger
}

var errConnNotInitialized = errors.New("NATS connection not initialized")

// Open connects to the first reachable server and ensures the stream exists.
func Open(_ context.Context, config Config, logger *zap.Logger) (*Sink, error) {
	config.setDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Sink{config: config, logger: logger.Named("nats")}

	opts := defaultOptions(config)
	var err error
	for _, server := range config.Servers {
		s.nc, err = nats.Connect(server, opts...)
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect to NATS server: %w", err)
	}

	if s.js, err = s.nc.JetStream(); err != nil {
		s.nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	if err := s.ensureStream(); err != nil {
		s.nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}
	return s, nil
}

func (s *Sink) Publish(ctx context.Context, e events.Event) error {
	if s.js == nil {
		return errConnNotInitialized
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if _, err := s.js.Publish(Subject(s.config.SubjectPrefix, e), data, nats.Context(ctx), nats.MsgId(e.ID)); err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

func (s *Sink) Close() error {
	if s.nc != nil {
		return s.nc.Drain()
	}
	return nil
}

// ensureStream creates or updates the stream
func (s *Sink) ensureStream() error {
	config := &nats.StreamConfig{
		Name:     s.config.Stream,
		Subjects: []string{s.config.SubjectPrefix + ".>"},
		Storage:  nats.FileStorage,
		Replicas: 1,
	}

	stream, err := s.js.StreamInfo(s.config.Stream)
	if err == nil {
		if !streamConfigEqual(stream.Config, *config) {
			if _, err = s.js.UpdateStream(config); err != nil {
				return fmt.Errorf("update stream: %w", err)
			}
			s.logger.Info("updated stream", zap.String("stream", s.config.Stream))
		}
		return nil
	}

	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("get stream info: %w", err)
	}

	if _, err := s.js.AddStream(config); err != nil {
		return fmt.Errorf("create stream: %w", err)
	}
	s.logger.Info("created stream", zap.String("stream", s.config.Stream))
	return nil
}

func streamConfigEqual(a, b nats.StreamConfig) bool {
	return a.Name == b.Name &&
		a.Storage == b.Storage &&
		a.Replicas == b.Replicas &&
		slices.Equal(a.Subjects, b.Subjects)
}

func defaultOptions(c Config) []nats.Option {
	opts := []nats.Option{
		nats.Timeout(5 * time.Second),
		nats.PingInterval(10 * time.Second),
		nats.MaxPingsOutstanding(3),
		nats.MaxReconnects(-1),
	}

	if c.Username != "" && c.Password != "" {
		opts = append(opts, nats.UserInfo(c.Username, c.Password))
	}

	if c.TLS.Enabled {
		if c.TLS.CAFile != "" {
			opts = append(opts, nats.RootCAs(c.TLS.CAFile))
		}
		if c.TLS.CertFile != "" && c.TLS.KeyFile != "" {
			opts = append(opts, nats.ClientCert(c.TLS.CertFile, c.TLS.KeyFile))
		}
	}

	return opts
}

func init() {
	events.Register(events.ConnectorNATS, func(ctx context.Context, raw map[string]any, logger *zap.Logger) (events.Publisher, error) {
		var cfg Config
		if err := events.Decode(raw, &cfg); err != nil {
			return nil, err
		}
		return Open(ctx, cfg, logger)
	})
}
