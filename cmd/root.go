// Package cmd defines and implements the CLI commands for the harvester
// executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "qaharvester",
		Short: "Extracts answered question/answer records from a paginated support forum.",
		Long: `qaharvester crawls the listing pages of a support forum, follows the
threads marked as answered, and writes a deduplicated JSON corpus of
question/answer records for downstream indexing. Re-runs are incremental:
URLs captured by any prior output artifact are never fetched again.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional; defaults and env vars apply otherwise)")
	cmd.AddCommand(newHarvestCmd())
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
