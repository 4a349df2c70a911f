package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/withobsrvr/streamctl/internal/reconciler"
	"github.com/withobsrvr/streamctl/internal/storage"
	"github.com/withobsrvr/streamctl/internal/utils/logger"
	"github.com/withobsrvr/streamctl/internal/watcher"
)

var (
	reconcileFlags         pipelineFlags
	reconcileWatch         bool
	reconcileWaitReady     bool
	reconcileRedeploy      bool
	reconcileForceRegister bool
	reconcileReadyTimeout  time.Duration
)

var reconcileCmd = &cobra.Command{
	Use:     "reconcile",
	Aliases: []string{"apply"},
	Short:   "Drive a pipeline to its desired state",
	Long: `Bring the pipeline described by a pipeline file to the Deployed state.

The plan always runs in the same order:

  Teardown -> UnregisterComponents -> RegisterComponents -> CreateDefinition -> Deploy

Steps whose target already matches the desired state do nothing, so running the
command twice in a row makes no changes the second time. Use --redeploy to tear
down and re-register everything regardless.

Examples:
  # Deploy a pipeline
  streamctl reconcile -f pipeline.yaml

  # Deploy the prod overlay and wait until the stream is running
  streamctl reconcile -f pipeline.yaml --env prod --wait-ready

  # Override a property for this run only
  streamctl reconcile -f pipeline.yaml --set sink.bucket=scratch

  # Re-run whenever the pipeline file changes
  streamctl reconcile -f pipeline.yaml --watch`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSettings()
		if err != nil {
			return err
		}
		opts := reconcilerOptions(s)
		if cmd.Flags().Changed("wait-ready") {
			opts.WaitReady = reconcileWaitReady
		}
		if cmd.Flags().Changed("force-register") {
			opts.ForceRegister = reconcileForceRegister
		}
		if cmd.Flags().Changed("ready-timeout") {
			opts.ReadyTimeout = reconcileReadyTimeout
		}
		opts.Redeploy = reconcileRedeploy

		ctx := cmd.Context()
		cp, err := newControlPlane(ctx, s)
		if err != nil {
			return err
		}
		journal := openJournal(s)
		defer journal.Close()

		out := cmd.OutOrStdout()
		r := reconciler.New(cp, opts, reconciler.WithObserver(stepPrinter(out)))
		run := func(ctx context.Context) error {
			_, d, err := reconcileFlags.load()
			if err != nil {
				return err
			}
			printRunHeader(out, "Reconciling", d.Name)
			res, err := r.Reconcile(ctx, d)
			journalRun(ctx, journal, storage.OperationReconcile, reconcileFlags.environment, reconcileFlags.file, res)
			printResult(out, res)
			return err
		}

		if !reconcileWatch {
			return run(ctx)
		}
		return watchAndReconcile(ctx, cmd, run)
	},
}

func watchAndReconcile(ctx context.Context, cmd *cobra.Command, run func(context.Context) error) error {
	paths := append([]string{reconcileFlags.file}, reconcileFlags.propertyFiles...)
	w, err := watcher.New(watcher.DefaultDebounce, paths...)
	if err != nil {
		return err
	}
	defer w.Close()

	report := func(err error) {
		if err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), failedColor.Sprint("Error:"), err)
		}
	}
	report(run(ctx))
	fmt.Fprintln(cmd.OutOrStdout(), noOpColor.Sprint("Watching for changes, press Ctrl+C to stop"))

	return w.Run(ctx, func(ctx context.Context, changed string) error {
		logger.Info("Pipeline inputs changed, reconciling", zap.String("file", changed))
		report(run(ctx))
		return nil
	})
}

func init() {
	reconcileFlags.register(reconcileCmd, true)
	reconcileCmd.Flags().BoolVarP(&reconcileWatch, "watch", "w", false, "re-run whenever the pipeline or properties files change")
	reconcileCmd.Flags().BoolVar(&reconcileWaitReady, "wait-ready", false, "wait until the deployment reports deployed (overrides poll.wait_ready)")
	reconcileCmd.Flags().DurationVar(&reconcileReadyTimeout, "ready-timeout", 0, "bound on the readiness wait (overrides poll.ready_timeout)")
	reconcileCmd.Flags().BoolVar(&reconcileRedeploy, "redeploy", false, "tear down and re-register every resource even when it matches")
	reconcileCmd.Flags().BoolVar(&reconcileForceRegister, "force-register", false, "re-register components the control plane reports as already registered (overrides registry.force_register)")
	rootCmd.AddCommand(reconcileCmd)
}
