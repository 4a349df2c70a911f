package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/withobsrvr/streamctl/internal/config"
	"github.com/withobsrvr/streamctl/internal/errdefs"
	"github.com/withobsrvr/streamctl/internal/utils/logger"
)

// Exit codes scripts can branch on.
const (
	exitFailure            = 1
	exitConfigError        = 2
	exitConvergenceTimeout = 3
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
	noColor   bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "streamctl",
	Short: "Reconcile stream pipelines on a data-flow control plane",
	Long: `streamctl drives a stream pipeline on a data-flow control plane to its desired state.

A pipeline file names an ordered chain of components (source, processors, sink), the
artifact each runs and the deployment properties. streamctl registers the components,
creates the stream definition and deploys it, tearing down and re-registering whatever
no longer matches. Every run re-reads the control plane, so re-running is always safe.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err == nil {
		logger.Sync()
		return
	}

	logger.Error("Command execution failed", zap.Error(err))
	fmt.Fprintln(os.Stderr, color.RedString("Error:"), err)
	logger.Sync()
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	switch {
	case errdefs.IsConfig(err):
		return exitConfigError
	case errdefs.IsConvergenceTimeout(err):
		return exitConvergenceTimeout
	}
	return exitFailure
}

func init() {
	cobra.OnInitialize(initConfig)
	config.SetDefaults(viper.GetViper())

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/streamctl/streamctl.yaml)")
	flags.StringVar(&logLevel, "log-level", "info", "log level (debug|info|warn|error)")
	flags.StringVar(&logFormat, "log-format", "console", "log format (console|json)")
	flags.BoolVar(&noColor, "no-color", false, "disable colored output")
	flags.String("control-plane", "", "control plane URL (overrides control_plane.url)")
	flags.Duration("timeout", 0, "per-request timeout (overrides control_plane.timeout)")
	flags.Duration("poll-interval", 0, "interval between convergence checks (overrides poll.interval)")
	flags.Duration("poll-timeout", 0, "bound on each convergence wait (overrides poll.timeout)")

	viper.BindPFlag("control_plane.url", flags.Lookup("control-plane"))
	viper.BindPFlag("control_plane.timeout", flags.Lookup("timeout"))
	viper.BindPFlag("poll.interval", flags.Lookup("poll-interval"))
	viper.BindPFlag("poll.timeout", flags.Lookup("poll-timeout"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(config.DefaultDir())
		viper.SetConfigType("yaml")
		viper.SetConfigName("streamctl")
	}
	config.BindEnv(viper.GetViper())

	if err := logger.Init(logLevel, logFormat); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(exitConfigError)
	}
	if noColor {
		color.NoColor = true
	}

	if err := viper.ReadInConfig(); err == nil {
		logger.Debug("Using config file", zap.String("file", viper.ConfigFileUsed()))
	} else if cfgFile != "" {
		fmt.Fprintf(os.Stderr, "Failed to read config file %s: %v\n", filepath.Clean(cfgFile), err)
		os.Exit(exitConfigError)
	}
}
