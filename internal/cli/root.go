// Package cli defines the cobra command tree for trackimmo.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	flagFormat string
	flagConfig string
	flagDB     string
	flagDev    bool
)

// NewRootCmd creates the root cobra command with global flags.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "trackimmo",
		Short:         "Monthly real-estate reports from French open data",
		Long:          "Collect DVF sales, enrich them with BAN addresses, DPE ratings and reference prices, and email monthly reports ranked by estimated profit.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flagFormat, "format", "text", "output format (text|json)")
	root.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default: ~/.config/trackimmo/config.yaml)")
	root.PersistentFlags().StringVar(&flagDB, "db", "", "database DSN, overrides the config file")
	root.PersistentFlags().BoolVar(&flagDev, "dev", false, "human-readable debug logs")

	root.AddCommand(
		newCollectCmd(),
		newProcessCmd(),
		newAnalyzeCmd(),
		newReportCmd(),
		newExportCmd(),
		newReferencesCmd(),
		newCustomersCmd(),
		newStatusCmd(),
		newVersionCmd(),
	)

	return root
}

// Execute runs the command tree with a context cancelled on SIGINT/SIGTERM.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCmd().ExecuteContext(ctx)
}

// isJSON returns true if the --format flag is set to json.
func isJSON() bool {
	return flagFormat == "json"
}
