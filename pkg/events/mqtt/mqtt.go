// Package mqtt publishes row change events to an MQTT broker.
//
// Topics follow `prefix/schema_name/table_name/op`, eg `pgtable/bank/accounts/u`,
// and the payload is the JSON encoded events.Event.
package mqtt

import (
	"cmp"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/edgeflare/pgtable/pkg/events"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config represents MQTT configuration
type Config struct {
	Servers        []string      `mapstructure:"servers"`
	ClientID       string        `mapstructure:"clientId"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	TopicPrefix    string        `mapstructure:"topicPrefix"`
	QoS            byte          `mapstructure:"qos"`
	Retained       bool          `mapstructure:"retained"`
	ConnectTimeout time.Duration `mapstructure:"connectTimeout"`
	PublishTimeout time.Duration `mapstructure:"publishTimeout"`
	TLS            struct {
		Enabled    bool   `mapstructure:"enabled"`
		CAFile     string `mapstructure:"caFile"`
		CertFile   string `mapstructure:"certFile"`
		KeyFile    string `mapstructure:"keyFile"`
		SkipVerify bool   `mapstructure:"skipVerify"`
	} `mapstructure:"tls"`
}

func (c *Config) setDefaults() {
	if len(c.Servers) == 0 {
		c.Servers = []string{"tcp://127.0.0.1:1883"}
	}
	c.ClientID = cmp.Or(c.ClientID, "pgtable-"+uuid.NewString()[:8])
	c.TopicPrefix = cmp.Or(c.TopicPrefix, "pgtable")
	c.ConnectTimeout = cmp.Or(c.ConnectTimeout, 10*time.Second)
	c.PublishTimeout = cmp.Or(c.PublishTimeout, 5*time.Second)
}

// Topic returns the topic an event is published to.
func Topic(prefix string, e events.Event) string {
	return fmt.Sprintf("%s/%s/%s/%s", prefix, e.Schema, e.Table, e.Op)
}

func toPahoOptions(c Config) (*mqtt.ClientOptions, error) {
	opts := mqtt.NewClientOptions()
	for _, server := range c.Servers {
		opts.AddBroker(server)
	}
	opts.SetClientID(c.ClientID)
	if c.Username != "" {
		opts.SetUsername(c.Username)
	}
	if c.Password != "" {
		opts.SetPassword(c.Password)
	}
	opts.SetConnectTimeout(c.ConnectTimeout)
	opts.SetWriteTimeout(c.PublishTimeout)
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetOrderMatters(false)

	if c.TLS.Enabled {
		tlsConfig, err := createTLSConfig(c)
		if err != nil {
			return nil, fmt.Errorf("create TLS config: %w", err)
		}
		opts.SetTLSConfig(tlsConfig)
	}
	return opts, nil
}

func createTLSConfig(c Config) (*tls.Config, error) {
	t := &tls.Config{InsecureSkipVerify: c.TLS.SkipVerify}
	if c.TLS.CAFile != "" {
		ca, err := os.ReadFile(c.TLS.CAFile)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(ca) {
			return nil, fmt.Errorf("no certificates in %s", c.TLS.CAFile)
		}
		t.RootCAs = pool
	}
	if c.TLS.CertFile != "" && c.TLS.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(c.TLS.CertFile, c.TLS.KeyFile)
		if err != nil {
			return nil, err
		}
		t.Certificates = []tls.Certificate{cert}
	}
	return t, nil
}

// Sink publishes to an MQTT broker.
type Sink struct {
	client mqtt.Client
	config Config
	logger *zap.Logger
}

var errPublishTimeout = errors.New("mqtt publish timed out")

// Open connects to the broker.
func Open(_ context.Context, config Config, logger *zap.Logger) (*Sink, error) {
	config.setDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	opts, err := toPahoOptions(config)
	if err != nil {
		return nil, err
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(config.ConnectTimeout) {
		return nil, fmt.Errorf("broker connection error: timed out after %s", config.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("broker connection error: %w", err)
	}

	return newSink(client, config, logger), nil
}

func newSink(client mqtt.Client, config Config, logger *zap.Logger) *Sink {
	return &Sink{client: client, config: config, logger: logger.Named("mqtt")}
}

func (s *Sink) Publish(ctx context.Context, e events.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	topic := Topic(s.config.TopicPrefix, e)
	token := s.client.Publish(topic, s.config.QoS, s.config.Retained, payload)

	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.config.PublishTimeout):
		return errPublishTimeout
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	s.logger.Debug("message published", zap.String("topic", topic))
	return nil
}

func (s *Sink) Close() error {
	s.client.Disconnect(250)
	s.logger.Info("disconnected from MQTT broker")
	return nil
}

func init() {
	events.Register(events.ConnectorMQTT, func(ctx context.Context, raw map[string]any, logger *zap.Logger) (events.Publisher, error) {
		var cfg Config
		if err := events.Decode(raw, &cfg); err != nil {
			return nil, err
		}
		return Open(ctx, cfg, logger)
	})
}
