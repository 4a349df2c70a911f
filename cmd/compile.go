package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/withobsrvr/streamctl/internal/reconciler"
)

var (
	compileFlags pipelineFlags
	compileFlat  bool
)

var compileCmd = &cobra.Command{
	Use:   "compile",
	Short: "Print the deployment payload a reconcile would submit",
	Long: `Validate a pipeline file and print the compiled deployment properties without
contacting the control plane.

Examples:
  streamctl compile -f pipeline.yaml
  streamctl compile -f pipeline.yaml --env prod --flat`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSettings()
		if err != nil {
			return err
		}
		_, d, err := compileFlags.load()
		if err != nil {
			return err
		}
		preview, err := reconciler.Compile(d, reconcilerOptions(s))
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if compileFlat {
			fmt.Fprintf(out, "# %s: %s\n", preview.Name, preview.DSL)
			for _, line := range preview.Payload.Flatten() {
				fmt.Fprintln(out, line)
			}
			return nil
		}
		data, err := json.MarshalIndent(preview.Payload, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode payload: %w", err)
		}
		fmt.Fprintln(out, string(data))
		return nil
	},
}

func init() {
	compileFlags.register(compileCmd, true)
	compileCmd.Flags().BoolVar(&compileFlat, "flat", false, "print one app.<component>.<key>=<value> line per property")
	rootCmd.AddCommand(compileCmd)
}
