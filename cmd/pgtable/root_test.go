package pgtable

import (
	"bytes"
	"testing"

	"github.com/edgeflare/pgtable/pkg/config"
	"github.com/edgeflare/pgtable/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	logger, err := newLogger("none")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.ErrorLevel))

	logger, err = newLogger("warn")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))

	_, err = newLogger("chatty")
	assert.Error(t, err)
}

func TestVersion(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"--version"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, config.Version+"\n", out.String())
}

func TestConnectorsRegistered(t *testing.T) {
	for _, name := range []string{
		events.ConnectorLog,
		events.ConnectorNATS,
		events.ConnectorKafka,
		events.ConnectorMQTT,
		events.ConnectorClickHouse,
		events.ConnectorWebhook,
	} {
		assert.Contains(t, events.Connectors(), name)
	}
}

func TestServeRequiresConnString(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("DATABASE_URL", "")
	t.Setenv("PGTABLE_PG_CONNSTRING", "")
	t.Setenv("PGTABLE_PG_CONN_STRING", "")

	rootCmd.SetOut(&bytes.Buffer{})
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs([]string{"serve", "-L", "none"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pg.connString")
}
