package events

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"
)

// Predefined connectors
const (
	ConnectorLog        = "log"
	ConnectorNATS       = "nats"
	ConnectorKafka      = "kafka"
	ConnectorMQTT       = "mqtt"
	ConnectorClickHouse = "clickhouse"
	ConnectorWebhook    = "webhook"
)

var ErrUnknownConnector = errors.New("unknown connector")

// SinkConfig names a sink and the connector that implements it. Config is
// connector specific and decoded with Decode.
type SinkConfig struct {
	Name      string         `mapstructure:"name"`
	Connector string         `mapstructure:"connector"`
	Config    map[string]any `mapstructure:"config"`
}

// Factory opens a sink from its raw config.
type Factory func(ctx context.Context, config map[string]any, logger *zap.Logger) (Publisher, error)

var (
	factoriesMu sync.RWMutex
	factories   = map[string]Factory{}
)

// Register makes a connector available to Open. It is meant to be called
// from init and overwrites a previous registration of name.
func Register(name string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = f
}

// Connectors lists the registered connector names.
func Connectors() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func lookup(name string) (Factory, bool) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	f, ok := factories[name]
	return f, ok
}

// OpenOption configures Open.
type OpenOption func(*openOptions)

type openOptions struct {
	maxElapsed time.Duration
}

// WithConnectTimeout bounds the retries of each sink's connect. Zero tries once.
func WithConnectTimeout(d time.Duration) OpenOption {
	return func(o *openOptions) { o.maxElapsed = d }
}

// Open connects every configured sink, retrying each with exponential
// backoff. If any sink cannot be opened the already opened ones are closed.
func Open(ctx context.Context, sinks []SinkConfig, logger *zap.Logger, opts ...OpenOption) (*Multi, error) {
	o := openOptions{maxElapsed: 30 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := NewMulti(logger)
	for _, sc := range sinks {
		f, ok := lookup(sc.Connector)
		if !ok {
			m.Close()
			return nil, fmt.Errorf("sink %q: %w %q", sc.Name, ErrUnknownConnector, sc.Connector)
		}

		var pub Publisher
		connect := func() error {
			p, err := f(ctx, sc.Config, logger.With(zap.String("sink", sc.Name)))
			if err != nil {
				logger.Warn("connect sink", zap.String("sink", sc.Name), zap.Error(err))
				return err
			}
			pub = p
			return nil
		}

		var b backoff.BackOff = &backoff.StopBackOff{}
		if o.maxElapsed > 0 {
			eb := backoff.NewExponentialBackOff()
			eb.MaxElapsedTime = o.maxElapsed
			b = eb
		}
		if err := backoff.Retry(connect, backoff.WithContext(b, ctx)); err != nil {
			m.Close()
			return nil, fmt.Errorf("sink %q: %w", sc.Name, err)
		}

		logger.Info("sink connected", zap.String("sink", sc.Name), zap.String("connector", sc.Connector))
		m.Add(sc.Name, pub)
	}
	return m, nil
}

// Decode decodes a raw sink config into out, a pointer to the connector's
// config struct. Durations may be given as strings, eg "5s".
func Decode(config map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(config); err != nil {
		return fmt.Errorf("decode sink config: %w", err)
	}
	return nil
}
