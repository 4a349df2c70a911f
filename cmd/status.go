package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/withobsrvr/streamctl/internal/errdefs"
	"github.com/withobsrvr/streamctl/internal/reconciler"
)

var (
	statusFlags  pipelineFlags
	statusOutput string
)

var statusCmd = &cobra.Command{
	Use:   "status [name]",
	Short: "Show the state of a pipeline on the control plane",
	Long: `Show the state of a pipeline: Absent, Present, Deploying, Deployed or Failed.

With a pipeline file the definition and every component registration are compared
with the desired state. With only a name the pipeline state is printed. The command
never changes anything on the control plane.

Examples:
  streamctl status -f pipeline.yaml
  streamctl status p1
  streamctl status -f pipeline.yaml -o json`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validateOutput(statusOutput, "table", "json", "yaml"); err != nil {
			return err
		}
		if len(args) == 0 && statusFlags.file == "" {
			return errdefs.Configf("status", "either a pipeline name or --file is required")
		}

		s, err := loadSettings()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		cp, err := newControlPlane(ctx, s)
		if err != nil {
			return err
		}
		r := reconciler.New(cp, reconcilerOptions(s))
		out := cmd.OutOrStdout()

		if statusFlags.file == "" {
			state, err := r.Status(ctx, args[0])
			if err != nil {
				return err
			}
			if statusOutput != "table" {
				return writeStructured(out, statusOutput, map[string]string{"pipeline": args[0], "state": string(state)})
			}
			fmt.Fprintf(out, "%s %s\n", args[0], stateColor(state).Sprint(state))
			return nil
		}

		_, d, err := statusFlags.load()
		if err != nil {
			return err
		}
		if len(args) == 1 && args[0] != d.Name {
			return fmt.Errorf("pipeline file describes %s, not %s", d.Name, args[0])
		}
		report, err := r.Inspect(ctx, d)
		if err != nil {
			return err
		}
		if statusOutput != "table" {
			return writeStructured(out, statusOutput, report)
		}

		fmt.Fprintf(out, "%s %s\n", headingColor.Sprint(report.Pipeline), stateColor(report.State).Sprint(report.State))
		fmt.Fprintf(out, "  desired:    %s\n", report.Desired)
		if report.Definition != "" {
			fmt.Fprintf(out, "  definition: %s\n", report.Definition)
		}
		t := newTable(out, table.Row{"Component", "Kind", "Desired", "Registered", "In Sync"})
		for _, c := range report.Components {
			registered := c.Registered
			if registered == "" {
				registered = "-"
			}
			inSync := failedColor.Sprint("no")
			if c.InSync() {
				inSync = appliedColor.Sprint("yes")
			}
			t.AppendRow(table.Row{c.Name, c.Kind, c.Desired, registered, inSync})
		}
		t.Render()
		return nil
	},
}

func stateColor(s reconciler.State) *color.Color {
	switch s {
	case reconciler.StateDeployed:
		return appliedColor
	case reconciler.StateDeploying, reconciler.StatePresent:
		return conflictColor
	case reconciler.StateFailed:
		return failedColor
	}
	return noOpColor
}

func init() {
	statusFlags.register(statusCmd, false)
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "table", "output format (table|json|yaml)")
	rootCmd.AddCommand(statusCmd)
}
