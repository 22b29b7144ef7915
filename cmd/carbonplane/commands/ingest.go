package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/carbonplane/internal/domain"
	"github.com/example/carbonplane/internal/ingest"
)

// NewIngestCommand ingests a CSV measurement file into one stream.
func NewIngestCommand(cfgFile *string) *cobra.Command {
	var (
		clientID string
		nodeID   string
		scopeID  string
		filePath string
	)

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest a CSV measurement file into a stream",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(cmd.Context(), *cfgFile)
			if err != nil {
				return err
			}
			defer a.Close()

			file, err := os.Open(filePath)
			if err != nil {
				return fmt.Errorf("open %s: %w", filePath, err)
			}
			defer file.Close()

			report, err := a.pipeline.Ingest(cmd.Context(), domain.SystemPrincipal(), ingest.Request{
				ClientID:        clientID,
				NodeID:          nodeID,
				ScopeIdentifier: scopeID,
				Input:           ingest.CSVUpload{Reader: file},
			})

			if report != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "accepted %d rows", report.Accepted)

				if len(report.Rejected) > 0 {
					fmt.Fprintf(cmd.OutOrStdout(), ", rejected %d", len(report.Rejected))

					for _, rowErr := range report.Rejected {
						fmt.Fprintf(cmd.OutOrStdout(), "\n  row %d: %s", rowErr.Index, rowErr.Reason)
					}
				}

				fmt.Fprintln(cmd.OutOrStdout())
			}

			// A partial batch already persisted its good rows; report it as a
			// warning rather than a command failure.
			if err != nil && report != nil && report.Partial() {
				var domErr *domain.Error
				if errors.As(err, &domErr) && domErr.Kind == domain.KindPartial {
					a.logger.Warn("partial ingest", "rejected", len(report.Rejected))

					return nil
				}
			}

			return err
		},
	}

	cmd.Flags().StringVar(&clientID, "client", "", "client id (required)")
	cmd.Flags().StringVar(&nodeID, "node", "", "flowchart node id (required)")
	cmd.Flags().StringVar(&scopeID, "scope", "", "scope identifier (required)")
	cmd.Flags().StringVar(&filePath, "file", "", "CSV file path (required)")

	_ = cmd.MarkFlagRequired("client")
	_ = cmd.MarkFlagRequired("node")
	_ = cmd.MarkFlagRequired("scope")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}
