package pgtable

import (
	"fmt"
	"os"

	"github.com/edgeflare/pgtable/pkg/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	// change event connectors, registered in init
	_ "github.com/edgeflare/pgtable/pkg/events/clickhouse"
	_ "github.com/edgeflare/pgtable/pkg/events/kafka"
	_ "github.com/edgeflare/pgtable/pkg/events/mqtt"
	_ "github.com/edgeflare/pgtable/pkg/events/nats"
	_ "github.com/edgeflare/pgtable/pkg/events/webhook"
)

var cfgFile string
var logLevel string
var cfg *config.Config
var rootCmd = &cobra.Command{
	Use:   "pgtable",
	Short: "pgtable is a REST gateway over PostgreSQL tables",
	Long: `pgtable exposes the schemas, tables and rows of a PostgreSQL database as
JSON resources and announces row changes to event sinks`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile, cmd.Flags())
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		versionFlag, _ := cmd.Flags().GetBool("version")
		if versionFlag {
			fmt.Fprintln(cmd.OutOrStdout(), config.Version)
			return
		}

		// If no subcommand is provided, print help
		cmd.Help()
	},
}

func Main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/pgtable.yaml)")
	f.StringVarP(&logLevel, "log-level", "L", "info", "log at this level (debug, info, warn, error, none)")
	f.StringP("pg.connString", "c", "", "PostgreSQL connection string")
	rootCmd.Flags().BoolP("version", "v", false, "Print the version number")

	rootCmd.AddCommand(serveCmd, tablesCmd, keysCmd)
}

// newLogger builds the production zap logger at level. "none" disables logging.
func newLogger(level string) (*zap.Logger, error) {
	if level == "none" {
		return zap.NewNop(), nil
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}
