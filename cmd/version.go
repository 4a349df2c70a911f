package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"

	versionRemote bool
)

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print version information for streamctl and, with --remote, the control plane it talks to.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "streamctl version %s\n", version)
		fmt.Fprintf(out, "  commit: %s\n", commit)
		fmt.Fprintf(out, "  built: %s\n", buildTime)
		fmt.Fprintf(out, "  go: %s\n", runtime.Version())
		fmt.Fprintf(out, "  os/arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		if !versionRemote {
			return nil
		}

		s, err := loadSettings()
		if err != nil {
			return err
		}
		cp, err := newControlPlane(cmd.Context(), s)
		if err != nil {
			return err
		}
		about, err := cp.About(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to reach control plane at %s: %w", s.ControlPlane.URL, err)
		}
		fmt.Fprintf(out, "control plane %s version %s\n", about.Name, about.Version)
		return nil
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionRemote, "remote", false, "also query the control plane version")
	rootCmd.AddCommand(versionCmd)
}
