package commands

import (
	"fmt"
	"io"
	"time"

	"mcsync/pkg/app"
	"mcsync/pkg/types"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	dryRun  bool
	planOut string
)

var syncCmd = &cobra.Command{
	Use:   "sync [manifest.json | version-id]...",
	Short: "Download missing or corrupt files for the given versions",
	Long: `Resolve each version manifest into its client jar, libraries and assets,
compare them with the content root by SHA-1 and download what is missing or corrupt.

A source is either a path to a local version manifest (the client jar is written next
to it as <name>.jar) or a version id looked up in the version catalog. The aliases
"release" and "snapshot" refer to the latest version of that type.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if MC == nil {
			return fmt.Errorf("app not initialized")
		}
		out := cmd.OutOrStdout()

		report, err := MC.Sync(cmd.Context(), args, app.SyncOptions{
			DryRun:  dryRun,
			PlanOut: planOut,
			OnResult: func(r types.Result) {
				printResult(out, r)
			},
		})
		if err != nil {
			return err
		}

		if dryRun {
			printPending(out, report)
		} else {
			printSummary(out, report)
		}
		if planOut != "" {
			fmt.Fprintf(out, "📝 Plan %s written to %s\n", report.PlanID, planOut)
		}

		if report.DocumentErrors != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "⚠️  %v\n", report.DocumentErrors)
		}
		if !report.OK() {
			return ErrIncomplete
		}
		return nil
	},
}

func printResult(out io.Writer, r types.Result) {
	switch r.Outcome {
	case types.OutcomeDownloaded:
		fmt.Fprintf(out, "⬇️  %s (%s)\n", r.Task.Path, humanize.Bytes(uint64(r.Bytes)))
	case types.OutcomeFailed:
		fmt.Fprintf(out, "❌ %s: %v\n", r.Task.Path, r.Err)
	}
}

func printPending(out io.Writer, report *app.Report) {
	for _, p := range report.Pending {
		fmt.Fprintf(out, "%-8s %s\n", p.Reason, p.Path)
	}
	fmt.Fprintf(out, "%d of %d files need a transfer\n", len(report.Pending), report.Total)
}

func printSummary(out io.Writer, report *app.Report) {
	icon := "✅"
	if !report.OK() {
		icon = "⚠️ "
	}
	fmt.Fprintf(out, "%s %d already valid, %d downloaded (%s), %d failed in %s\n",
		icon,
		report.AlreadyValid,
		report.Downloaded,
		humanize.Bytes(uint64(report.Bytes)),
		report.Failed,
		report.Duration.Round(time.Millisecond),
	)
}

func init() {
	syncCmd.Flags().BoolVar(&dryRun, "dry-run", false, "list pending files without downloading")
	syncCmd.Flags().StringVar(&planOut, "plan-out", "", "write the pending tasks to a plan file")
	rootCmd.AddCommand(syncCmd)
}
