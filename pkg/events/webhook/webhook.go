// Package webhook delivers row change events as JSON POSTs to one or more
// HTTP endpoints, retrying 5xx, 408 and 429 responses with exponential
// backoff.
//
// Each request carries the headers X-Pgtable-Event (the event id) and
// X-Pgtable-Op (c, u or d) next to the configured ones.
package webhook

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/edgeflare/pgtable/pkg/events"
	"github.com/edgeflare/pgtable/pkg/httputil"
	"go.uber.org/zap"
)

// AuthType represents supported authentication methods
type AuthType string

const (
	AuthTypeNone   AuthType = "none"
	AuthTypeAPIKey AuthType = "apikey"
	AuthTypeBearer AuthType = "bearer"
	AuthTypeBasic  AuthType = "basic"
)

// AuthConfig holds authentication configuration
type AuthConfig struct {
	Type       AuthType `mapstructure:"type"`
	APIKey     string   `mapstructure:"apiKey"`
	APIKeyName string   `mapstructure:"apiKeyName"` // header name, defaults to X-API-Key
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
	Token      string   `mapstructure:"token"`
}

// RetryConfig holds retry settings for failed deliveries
type RetryConfig struct {
	MaxRetries  int           `mapstructure:"maxRetries"`
	InitialWait time.Duration `mapstructure:"initialWait"`
	MaxWait     time.Duration `mapstructure:"maxWait"`
}

// Endpoint is a single delivery target.
type Endpoint struct {
	Headers map[string]string `mapstructure:"headers"`
	URL     string            `mapstructure:"url"`
	Method  string            `mapstructure:"method"`
}

// Config represents webhook sink configuration
type Config struct {
	Endpoints []Endpoint    `mapstructure:"endpoints"`
	Auth      AuthConfig    `mapstructure:"auth"`
	Retry     RetryConfig   `mapstructure:"retry"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

func (c *Config) setDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	if c.Retry.MaxRetries == 0 {
		c.Retry.MaxRetries = 3
	}
	if c.Retry.InitialWait == 0 {
		c.Retry.InitialWait = 500 * time.Millisecond
	}
	if c.Retry.MaxWait == 0 {
		c.Retry.MaxWait = 10 * time.Second
	}
	for i := range c.Endpoints {
		if c.Endpoints[i].Method == "" {
			c.Endpoints[i].Method = http.MethodPost
		}
	}
	if c.Auth.Type == "" {
		c.Auth.Type = AuthTypeNone
	}
	if c.Auth.Type == AuthTypeAPIKey && c.Auth.APIKeyName == "" {
		c.Auth.APIKeyName = "X-API-Key"
	}
}

func (c *Config) validate() error {
	if len(c.Endpoints) == 0 {
		return errors.New("no endpoints configured")
	}
	for _, ep := range c.Endpoints {
		u, err := url.Parse(ep.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid endpoint url %q", ep.URL)
		}
	}

	switch c.Auth.Type {
	case AuthTypeNone:
	case AuthTypeAPIKey:
		if c.Auth.APIKey == "" {
			return errors.New("apikey authentication requires an API key")
		}
	case AuthTypeBasic:
		if c.Auth.Username == "" || c.Auth.Password == "" {
			return errors.New("basic authentication requires both username and password")
		}
	case AuthTypeBearer:
		if c.Auth.Token == "" {
			return errors.New("bearer authentication requires a token")
		}
	default:
		return fmt.Errorf("unsupported auth type %q", c.Auth.Type)
	}
	return nil
}

// Sink posts events to every configured endpoint.
type Sink struct {
	config Config
	logger *zap.Logger
}

// Open validates config. No connection is made until the first Publish.
func Open(_ context.Context, config Config, logger *zap.Logger) (*Sink, error) {
	config.setDefaults()
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("webhook: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Sink{config: config, logger: logger.Named("webhook")}
	s.logger.Info("webhook sink initialized",
		zap.Int("endpoints", len(config.Endpoints)),
		zap.String("auth_type", string(config.Auth.Type)),
		zap.Duration("timeout", config.Timeout))
	return s, nil
}

// Publish delivers e to every endpoint, continuing past failures. The
// returned error joins the failures.
func (s *Sink) Publish(ctx context.Context, e events.Event) error {
	var errs []error
	for _, ep := range s.config.Endpoints {
		rc := httputil.DefaultRequestConfig(ep.Method, ep.URL)
		rc.Headers = s.headers(ep, e)
		rc.Timeout = s.config.Timeout
		rc.MaxRetries = s.config.Retry.MaxRetries
		rc.InitialBackoff = s.config.Retry.InitialWait
		rc.MaxBackoff = s.config.Retry.MaxWait
		rc.Logger = s.logger

		if _, err := httputil.Request(ctx, rc, e); err != nil {
			// *url.Error repeats the full url, query included
			var ue *url.Error
			if errors.As(err, &ue) {
				err = ue.Err
			}
			errs = append(errs, fmt.Errorf("deliver to %s: %w", redact(ep.URL), err))
		}
	}
	return errors.Join(errs...)
}

func (s *Sink) Close() error { return nil }

func (s *Sink) headers(ep Endpoint, e events.Event) map[string][]string {
	h := make(map[string][]string, len(ep.Headers)+3)
	for k, v := range ep.Headers {
		h[http.CanonicalHeaderKey(k)] = []string{v}
	}
	h["X-Pgtable-Event"] = []string{e.ID}
	h["X-Pgtable-Op"] = []string{string(e.Op)}

	switch s.config.Auth.Type {
	case AuthTypeAPIKey:
		h[http.CanonicalHeaderKey(s.config.Auth.APIKeyName)] = []string{s.config.Auth.APIKey}
	case AuthTypeBasic:
		h["Authorization"] = []string{"Basic " + basicAuth(s.config.Auth.Username, s.config.Auth.Password)}
	case AuthTypeBearer:
		h["Authorization"] = []string{"Bearer " + s.config.Auth.Token}
	}
	return h
}

func basicAuth(username, password string) string {
	return base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
}

// redact drops userinfo and query from u for error messages.
func redact(u string) string {
	parsed, err := url.Parse(u)
	if err != nil {
		return "endpoint"
	}
	parsed.User = nil
	parsed.RawQuery = ""
	return parsed.String()
}

func init() {
	events.Register(events.ConnectorWebhook, func(ctx context.Context, raw map[string]any, logger *zap.Logger) (events.Publisher, error) {
		var cfg Config
		if err := events.Decode(raw, &cfg); err != nil {
			return nil, err
		}
		return Open(ctx, cfg, logger)
	})
}
