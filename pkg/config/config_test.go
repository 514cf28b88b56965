package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/edgeflare/pgtable/pkg/events"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
server:
  listenAddr: ":9090"
  keyDelimiter: "~"
  cors:
    allowedOrigins: ["https://app.example.com"]
    allowCredentials: true
pg:
  connString: postgres://file@localhost/bank
  maxConns: 8
  statementTimeout: 3s
metrics:
  enabled: true
events:
  sinks:
    - name: audit
      connector: log
    - name: stream
      connector: nats
      config:
        servers: nats://localhost:4222
        subjectPrefix: bank
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pgtable.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("DATABASE_URL", "")

	cfg, err := Load("", nil)
	require.NoError(t, err)

	d := DefaultConfig()
	assert.Equal(t, d.Server.ListenAddr, cfg.Server.ListenAddr)
	assert.Equal(t, "/api", cfg.Server.BaseURL)
	assert.Equal(t, "_", cfg.Server.KeyDelimiter)
	assert.Equal(t, 10*time.Second, cfg.PG.DiscoveryTimeout)
	assert.Nil(t, cfg.Server.CORS)
	assert.Empty(t, cfg.File())
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	t.Setenv("DATABASE_URL", "")

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, path, cfg.File())
	assert.Equal(t, ":9090", cfg.Server.ListenAddr)
	assert.Equal(t, "~", cfg.Server.KeyDelimiter)
	require.NotNil(t, cfg.Server.CORS)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.Server.CORS.AllowedOrigins)
	assert.True(t, cfg.Server.CORS.AllowCredentials)
	assert.Equal(t, "postgres://file@localhost/bank", cfg.PG.ConnString)
	assert.EqualValues(t, 8, cfg.PG.MaxConns)
	assert.Equal(t, 3*time.Second, cfg.PG.StatementTimeout)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)

	require.Len(t, cfg.Events.Sinks, 2)
	assert.Equal(t, "audit", cfg.Events.Sinks[0].Name)
	assert.Equal(t, "nats", cfg.Events.Sinks[1].Connector)
	assert.Equal(t, "nats://localhost:4222", cfg.Events.Sinks[1].Config["servers"])

	require.NoError(t, cfg.Validate())
}

func TestLoadPrecedence(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	t.Setenv("PGTABLE_SERVER_LISTENADDR", ":7070")
	t.Setenv("DATABASE_URL", "postgres://env@localhost/bank")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("server.keyDelimiter", "", "")
	flags.Duration("pg.statementTimeout", 0, "")
	require.NoError(t, flags.Parse([]string{"--server.keyDelimiter=-"}))

	cfg, err := Load(path, flags)
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Server.ListenAddr, "env beats file")
	assert.Equal(t, "postgres://env@localhost/bank", cfg.PG.ConnString, "DATABASE_URL is honored")
	assert.Equal(t, "-", cfg.Server.KeyDelimiter, "flag beats file")
	assert.Equal(t, 3*time.Second, cfg.PG.StatementTimeout, "unset flag keeps the file value")
}

func TestLoadBadFile(t *testing.T) {
	path := writeConfig(t, "server: [not, a, map")
	_, err := Load(path, nil)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pg.connString")

	cfg.PG.ConnString = "postgres://localhost/bank"
	cfg.Server.KeyDelimiter = "/"
	cfg.Events.Sinks = append(cfg.Events.Sinks,
		events.SinkConfig{Name: "a", Connector: "log"},
		events.SinkConfig{Name: "a", Connector: "nats"},
		events.SinkConfig{Connector: "log"})
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "keyDelimiter")
	assert.Contains(t, err.Error(), "duplicate name")
	assert.Contains(t, err.Error(), "events.sinks[2]")
}
