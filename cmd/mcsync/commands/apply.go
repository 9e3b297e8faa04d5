package commands

import (
	"fmt"

	"mcsync/pkg/planfile"
	"mcsync/pkg/types"

	"github.com/spf13/cobra"
)

var applyCmd = &cobra.Command{
	Use:   "apply [plan-file]",
	Short: "Execute a plan written by sync --plan-out",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if MC == nil {
			return fmt.Errorf("app not initialized")
		}
		out := cmd.OutOrStdout()

		plan, err := planfile.Read(args[0])
		if err != nil {
			return fmt.Errorf("failed to read plan: %w", err)
		}

		report, err := MC.Apply(cmd.Context(), plan, func(r types.Result) {
			printResult(out, r)
		})
		if err != nil {
			return err
		}

		printSummary(out, report)
		if !report.OK() {
			return ErrIncomplete
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(applyCmd)
}
