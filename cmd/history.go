package cmd

import (
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/withobsrvr/streamctl/internal/errdefs"
)

var (
	historyLimit  int
	historyOutput string
	historyPrune  int
)

var historyCmd = &cobra.Command{
	Use:   "history [pipeline]",
	Short: "List recorded reconcile and destroy runs",
	Long: `List the runs recorded in the local journal, newest first.

The journal is informational only; reconciliation always reads the control plane.

Examples:
  streamctl history
  streamctl history p1 --limit 5
  streamctl history p1 --prune 20`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validateOutput(historyOutput, "table", "json", "yaml"); err != nil {
			return err
		}
		var pipeline string
		if len(args) == 1 {
			pipeline = args[0]
		}
		if historyPrune > 0 && pipeline == "" {
			return errdefs.Configf("prune", "--prune needs a pipeline name")
		}

		s, err := loadSettings()
		if err != nil {
			return err
		}
		journal, err := openJournalForRead(s)
		if err != nil {
			return err
		}
		defer journal.Close()

		ctx := cmd.Context()
		out := cmd.OutOrStdout()
		if historyPrune > 0 {
			deleted, err := journal.Prune(ctx, pipeline, historyPrune)
			if err != nil {
				return err
			}
			noOpColor.Fprintf(out, "pruned %d run(s) of %s\n", deleted, pipeline)
		}

		runs, err := journal.ListRuns(ctx, pipeline, historyLimit)
		if err != nil {
			return err
		}
		if historyOutput != "table" {
			return writeStructured(out, historyOutput, runs)
		}

		t := newTable(out, table.Row{"Started", "Pipeline", "Operation", "Env", "Result", "Duration", "Failed Step", "ID"})
		for _, run := range runs {
			result := appliedColor.Sprint(run.FinalState)
			if !run.Succeeded() {
				result = failedColor.Sprint(run.FinalState)
			} else if len(run.Conflicts) > 0 {
				result = conflictColor.Sprint(run.FinalState)
			}
			t.AppendRow(table.Row{
				run.Started.Local().Format(time.DateTime),
				run.Pipeline,
				run.Operation,
				run.Environment,
				result,
				run.Finished.Sub(run.Started).Round(time.Millisecond),
				run.FailedStep,
				run.ID,
			})
		}
		t.Render()
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "maximum number of runs to show (0 shows all)")
	historyCmd.Flags().StringVarP(&historyOutput, "output", "o", "table", "output format (table|json|yaml)")
	historyCmd.Flags().IntVar(&historyPrune, "prune", 0, "keep only the newest N runs of the pipeline")
	rootCmd.AddCommand(historyCmd)
}
