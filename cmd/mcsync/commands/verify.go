package commands

import (
	"fmt"

	"mcsync/pkg/app"

	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify [manifest.json | version-id]...",
	Short: "Check the content root without downloading",
	Long:  `Resolve and compare like sync --dry-run. Exits non-zero when any file is missing or corrupt.`,
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if MC == nil {
			return fmt.Errorf("app not initialized")
		}

		report, err := MC.Sync(cmd.Context(), args, app.SyncOptions{DryRun: true})
		if err != nil {
			return err
		}
		printPending(cmd.OutOrStdout(), report)

		if report.DocumentErrors != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "⚠️  %v\n", report.DocumentErrors)
			return ErrIncomplete
		}
		if len(report.Pending) > 0 {
			return fmt.Errorf("%d file(s) missing or corrupt", len(report.Pending))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}
