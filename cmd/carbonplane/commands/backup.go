package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewBackupCommand snapshots the summary collection to the configured sink.
func NewBackupCommand(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Snapshot the summary collection to the configured sink",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(cmd.Context(), *cfgFile)
			if err != nil {
				return err
			}
			defer a.Close()

			key, err := a.backups.Backup(cmd.Context(), a.compression())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "backup written: %s\n", key)

			return nil
		},
	}
}

// NewRestoreCommand writes a snapshot back into the summary collection.
func NewRestoreCommand(cfgFile *string) *cobra.Command {
	var key string

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Write a snapshot back into the summary collection",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(cmd.Context(), *cfgFile)
			if err != nil {
				return err
			}
			defer a.Close()

			restored, err := a.backups.Restore(cmd.Context(), key)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "restored %d summaries from %s\n", restored, key)

			return nil
		},
	}

	cmd.Flags().StringVar(&key, "key", "", "snapshot key to restore (required)")
	_ = cmd.MarkFlagRequired("key")

	return cmd
}
