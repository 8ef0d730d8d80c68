package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var opts options

	root := &cobra.Command{
		Use:   "target-bigquery",
		Short: "Singer target that loads tap output into Google BigQuery",
		Long: `target-bigquery reads Singer SCHEMA, RECORD and STATE messages from standard
input, validates records against their stream schema and commits them to
BigQuery. The last STATE value is written to standard output once every stream
has been committed.

With --schema it instead compares a catalog with the live tables and adds new
columns.

Example:
  tap-postgres -c tap.json | target-bigquery -c config.json > state.json
  target-bigquery -c config.json -s catalog.json --dryrun`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	root.Flags().StringVarP(&opts.configPath, "config", "c", "", "Path to the JSON or YAML configuration file (required)")
	root.Flags().StringVarP(&opts.catalogPath, "schema", "s", "", "Catalog file: add new columns to existing tables instead of syncing")
	root.Flags().BoolVarP(&opts.dryRun, "dryrun", "d", false, "With --schema, log planned changes without applying them")
	root.Flags().BoolVarP(&opts.continueOnIncompatible, "continue-on-incompatible", "i", false, "With --schema, skip incompatible columns instead of failing")
	root.Flags().StringVarP(&opts.tables, "tables", "t", "", "With --schema, comma-separated stream or table names to migrate")
	root.Flags().StringVarP(&opts.logLevel, "log-level", "l", "", "Log level (DEBUG, INFO, WARNING, ERROR, CRITICAL); overrides log_level")
	_ = root.MarkFlagRequired("config")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "target-bigquery v%s\n", version)
			fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	return root
}
