// Package config loads pgtable's configuration from a YAML file, PGTABLE_*
// environment variables and command line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/edgeflare/pgtable/pkg/events"
	"github.com/edgeflare/pgtable/pkg/httputil/middleware"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Version is set at build time with -ldflags "-X github.com/edgeflare/pgtable/pkg/config.Version=..."
var Version = "dev"

// EnvPrefix prefixes every environment variable, eg PGTABLE_SERVER_LISTENADDR.
const EnvPrefix = "PGTABLE"

// Config holds application-wide configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	PG      PGConfig      `mapstructure:"pg"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Events  EventsConfig  `mapstructure:"events"`

	file string
}

// File returns the config file that was read, if any.
func (c *Config) File() string { return c.file }

type ServerConfig struct {
	ListenAddr      string                  `mapstructure:"listenAddr"`
	BaseURL         string                  `mapstructure:"baseURL"`
	KeyDelimiter    string                  `mapstructure:"keyDelimiter"`
	ShutdownTimeout time.Duration           `mapstructure:"shutdownTimeout"`
	CORS            *middleware.CORSOptions `mapstructure:"cors"`
}

type PGConfig struct {
	ConnString       string        `mapstructure:"connString"`
	MaxConns         int32         `mapstructure:"maxConns"`
	ConnectTimeout   time.Duration `mapstructure:"connectTimeout"`
	StatementTimeout time.Duration `mapstructure:"statementTimeout"`
	DiscoveryTimeout time.Duration `mapstructure:"discoveryTimeout"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	Path    string `mapstructure:"path"`
}

type EventsConfig struct {
	ConnectTimeout time.Duration       `mapstructure:"connectTimeout"`
	Sinks          []events.SinkConfig `mapstructure:"sinks"`
}

// DefaultConfig returns the configuration used for unset keys.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr:      ":8080",
			BaseURL:         "/api",
			KeyDelimiter:    "_",
			ShutdownTimeout: 10 * time.Second,
		},
		PG: PGConfig{
			ConnectTimeout:   30 * time.Second,
			DiscoveryTimeout: 10 * time.Second,
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Events: EventsConfig{
			ConnectTimeout: 30 * time.Second,
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("server.listenAddr", d.Server.ListenAddr)
	v.SetDefault("server.baseURL", d.Server.BaseURL)
	v.SetDefault("server.keyDelimiter", d.Server.KeyDelimiter)
	v.SetDefault("server.shutdownTimeout", d.Server.ShutdownTimeout)
	v.SetDefault("pg.connString", "")
	v.SetDefault("pg.maxConns", 0)
	v.SetDefault("pg.connectTimeout", d.PG.ConnectTimeout)
	v.SetDefault("pg.statementTimeout", d.PG.StatementTimeout)
	v.SetDefault("pg.discoveryTimeout", d.PG.DiscoveryTimeout)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
	v.SetDefault("metrics.path", d.Metrics.Path)
	v.SetDefault("events.connectTimeout", d.Events.ConnectTimeout)
}

// Load reads config from file, environment and flags. Flags are looked up by
// their config key, eg --pg.connString. An empty cfgFile searches
// $HOME/.config/pgtable.yaml and ./pgtable.yaml; a missing file is not an error.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("pgtable")
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config"))
		}
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// the conventional names for the one setting every deployment sets
	if err := v.BindEnv("pg.connString", EnvPrefix+"_PG_CONNSTRING", EnvPrefix+"_PG_CONN_STRING", "DATABASE_URL"); err != nil {
		return nil, err
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.file = v.ConfigFileUsed()

	return &cfg, nil
}

// Validate reports every problem that would keep the server from starting.
func (c *Config) Validate() error {
	var errs []error
	if c.PG.ConnString == "" {
		errs = append(errs, errors.New("pg.connString is required"))
	}
	if c.Server.KeyDelimiter == "" || strings.Contains(c.Server.KeyDelimiter, "/") {
		errs = append(errs, fmt.Errorf("server.keyDelimiter %q must be non-empty and must not contain /", c.Server.KeyDelimiter))
	}
	if c.PG.MaxConns < 0 {
		errs = append(errs, errors.New("pg.maxConns must not be negative"))
	}
	seen := make(map[string]bool, len(c.Events.Sinks))
	for i, s := range c.Events.Sinks {
		if s.Name == "" || s.Connector == "" {
			errs = append(errs, fmt.Errorf("events.sinks[%d]: name and connector are required", i))
			continue
		}
		if seen[s.Name] {
			errs = append(errs, fmt.Errorf("events.sinks[%d]: duplicate name %q", i, s.Name))
		}
		seen[s.Name] = true
	}
	return errors.Join(errs...)
}
