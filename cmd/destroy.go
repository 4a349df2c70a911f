package cmd

import (
	"github.com/spf13/cobra"

	"github.com/withobsrvr/streamctl/internal/reconciler"
	"github.com/withobsrvr/streamctl/internal/storage"
)

var destroyFlags pipelineFlags

var destroyCmd = &cobra.Command{
	Use:   "destroy",
	Short: "Undeploy a pipeline and unregister its components",
	Long: `Undeploy the pipeline, delete its stream definition and unregister every component
it references, waiting until the control plane no longer reports each of them.

Properties are not validated, so a pipeline whose properties no longer resolve can
still be destroyed.

Examples:
  streamctl destroy -f pipeline.yaml`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSettings()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		cp, err := newControlPlane(ctx, s)
		if err != nil {
			return err
		}
		_, d, err := destroyFlags.load()
		if err != nil {
			return err
		}
		journal := openJournal(s)
		defer journal.Close()

		out := cmd.OutOrStdout()
		r := reconciler.New(cp, reconcilerOptions(s), reconciler.WithObserver(stepPrinter(out)))
		printRunHeader(out, "Destroying", d.Name)
		res, err := r.Destroy(ctx, d)
		journalRun(ctx, journal, storage.OperationDestroy, destroyFlags.environment, destroyFlags.file, res)
		printResult(out, res)
		return err
	},
}

func init() {
	destroyFlags.register(destroyCmd, true)
	rootCmd.AddCommand(destroyCmd)
}
