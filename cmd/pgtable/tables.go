package pgtable

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/edgeflare/pgtable/pkg/pgx/schema"
	"github.com/edgeflare/pgtable/pkg/table"
	"github.com/spf13/cobra"
)

var tablesCmd = &cobra.Command{
	Use:   "tables [schema]",
	Short: "List schemas, or the tables of a schema",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.PG.ConnString == "" {
			return fmt.Errorf("pg.connString is required")
		}
		logger, err := newLogger(logLevel)
		if err != nil {
			return err
		}
		exec, closePool, err := connect(cmd.Context(), logger)
		if err != nil {
			return err
		}
		defer closePool()

		out := cmd.OutOrStdout()
		if len(args) == 0 {
			schemas, err := schema.Schemas(cmd.Context(), exec)
			if err != nil {
				return err
			}
			for _, s := range schemas {
				fmt.Fprintln(out, s)
			}
			return nil
		}

		tables, err := schema.Tables(cmd.Context(), exec, args[0])
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tTYPE")
		for _, t := range tables {
			fmt.Fprintf(w, "%s\t%s\n", t.Name, t.Type)
		}
		return w.Flush()
	},
}

var keysCmd = &cobra.Command{
	Use:   "keys <schema> <table>",
	Short: "Discover a table and print its primary key, columns and row count",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.PG.ConnString == "" {
			return fmt.Errorf("pg.connString is required")
		}
		logger, err := newLogger(logLevel)
		if err != nil {
			return err
		}
		exec, closePool, err := connect(cmd.Context(), logger)
		if err != nil {
			return err
		}
		defer closePool()

		h, err := table.NewRegistry(exec, table.WithDiscoveryTimeout(cfg.PG.DiscoveryTimeout)).Handle(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}

		keys := strings.Join(h.Keys(), ", ")
		if keys == "" {
			keys = "(none)"
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "table:   %s.%s\n", h.Schema(), h.Name())
		fmt.Fprintf(out, "key:     %s\n", keys)
		fmt.Fprintf(out, "columns: %s\n", strings.Join(h.Columns(), ", "))
		fmt.Fprintf(out, "rows:    %d\n", h.RowCount())
		return nil
	},
}
