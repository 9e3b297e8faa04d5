package commands

import (
	"errors"
	"fmt"
	"io"

	"mcsync/pkg/meta"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	historyLimit int
	historyAll   bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded runs for the content root",
	Long:  `List runs stored in the ledger (ledger.driver must be sqlite or postgres), newest first.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if MC == nil {
			return fmt.Errorf("app not initialized")
		}
		if MC.Ledger == nil {
			return fmt.Errorf("no ledger configured (set ledger.driver)")
		}

		root := MC.Root
		if historyAll {
			root = ""
		}
		runs, err := MC.Ledger.ListRuns(cmd.Context(), root, historyLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded yet.")
			return nil
		}
		out := cmd.OutOrStdout()

		// 最近一次完全成功的运行
		cp, err := MC.Ledger.GetCheckpoint(cmd.Context(), MC.Root)
		switch {
		case errors.Is(err, meta.ErrCheckpointNotFound):
			fmt.Fprintf(out, "Last clean run: none for %s\n\n", MC.Root)
		case err != nil:
			return err
		default:
			fmt.Fprintf(out, "Last clean run: %d (plan %s, %s)\n\n", cp.RunID, shortID(cp.PlanID), humanize.Time(cp.UpdatedAt))
		}

		for _, r := range runs {
			printRun(out, &r)
		}
		return nil
	},
}

func printRun(out io.Writer, r *meta.Run) {
	const (
		colorYellow = "\033[33m"
		colorReset  = "\033[0m"
	)

	fmt.Fprintf(out, "%srun %d%s (%s, %s)\n", colorYellow, r.ID, colorReset, r.Mode, humanize.Time(r.StartedAt))
	fmt.Fprintf(out, "Root:    %s\n", r.Root)
	fmt.Fprintf(out, "Sources: %s\n", string(r.Sources))
	fmt.Fprintf(out, "Result:  %d total, %d valid, %d downloaded (%s), %d failed\n\n",
		r.Total, r.AlreadyValid, r.Downloaded, humanize.Bytes(uint64(r.Bytes)), r.Failed)
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 10, "maximum number of runs to show")
	historyCmd.Flags().BoolVar(&historyAll, "all", false, "include runs of every root")
	rootCmd.AddCommand(historyCmd)
}
