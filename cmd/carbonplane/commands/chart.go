package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/carbonplane/internal/domain"
)

// NewChartCommand groups the flowchart management subcommands.
func NewChartCommand(cfgFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chart",
		Short: "Manage flowchart documents",
	}

	cmd.AddCommand(newChartApplyCommand(cfgFile))

	return cmd
}

// newChartApplyCommand validates and saves a flowchart JSON document. The
// document is schema-checked before domain validation, so a malformed file
// fails with field-level messages instead of a partial save.
func newChartApplyCommand(cfgFile *string) *cobra.Command {
	var filePath string

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Validate and save a flowchart JSON document",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(cmd.Context(), *cfgFile)
			if err != nil {
				return err
			}
			defer a.Close()

			raw, err := os.ReadFile(filePath)
			if err != nil {
				return fmt.Errorf("read %s: %w", filePath, err)
			}

			chart, err := a.registry.UpsertFlowchartJSON(cmd.Context(), domain.SystemPrincipal(), raw)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "chart %s (%s) saved at version %d\n",
				chart.ID, chart.Kind, chart.Version)

			return nil
		},
	}

	cmd.Flags().StringVar(&filePath, "file", "", "flowchart JSON file (required)")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}
