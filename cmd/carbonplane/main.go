// Package main provides the entry point for the carbonplane data plane.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/carbonplane/cmd/carbonplane/commands"
	"github.com/example/carbonplane/pkg/version"
)

var (
	cfgFile string //nolint:gochecknoglobals // CLI flag variable
	verbose bool   //nolint:gochecknoglobals // CLI flag variable
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "carbonplane",
		Short: "Carbonplane - multi-tenant carbon accounting data plane",
		Long: `Carbonplane ingests emission measurements, runs the GHG Protocol
calculation engine, materialises per-period summaries and maintains the
offset and reduction ledger.

Commands:
  serve     Run the data plane: ingestion, scheduler, event bus
  chart     Manage flowchart documents
  ingest    Ingest a CSV measurement file into a stream
  report    Print a client's emission summary
  backup    Snapshot the summary collection to the configured sink
  restore   Write a snapshot back into the summary collection`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.carbonplane.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(commands.NewServeCommand(&cfgFile))
	rootCmd.AddCommand(commands.NewChartCommand(&cfgFile))
	rootCmd.AddCommand(commands.NewIngestCommand(&cfgFile))
	rootCmd.AddCommand(commands.NewReportCommand(&cfgFile))
	rootCmd.AddCommand(commands.NewBackupCommand(&cfgFile))
	rootCmd.AddCommand(commands.NewRestoreCommand(&cfgFile))
	rootCmd.AddCommand(versionCmd())

	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(os.Stdout, "carbonplane %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}
