package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/withobsrvr/streamctl/internal/config"
	"github.com/withobsrvr/streamctl/internal/controlplane"
	"github.com/withobsrvr/streamctl/internal/errdefs"
)

var (
	serverAddress        string
	serverPort           int
	serverDeleteLag      int
	serverReadyLag       int
	serverErrorsInOKBody bool
	serverTLS            config.TLSConfig
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run a local control-plane emulator",
	Long: `Serve an in-memory implementation of the control-plane REST API for local dry
runs. Deleted components and definitions can be made to stay visible for a number
of reads, and deployments to take a number of inspections to become ready, to
reproduce the eventual consistency of a real control plane.

Examples:
  # Plain emulator on the default control plane port
  streamctl server

  # Deleted resources linger for three reads, deployments need five checks
  streamctl server --delete-lag 3 --ready-lag 5

  # Serve HTTPS
  streamctl server --tls-mode enabled --tls-cert server.crt --tls-key server.key`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := serverTLS.Validate(); err != nil {
			return &errdefs.ConfigError{Field: "tls", Reason: "invalid TLS flags", Err: err}
		}
		tlsConfig, err := serverTLS.ServerTLSConfig()
		if err != nil {
			return &errdefs.ConfigError{Field: "tls", Reason: "cannot load server certificate", Err: err}
		}

		server := controlplane.NewEmbeddedControlPlane(controlplane.Config{
			Address: serverAddress,
			Port:    serverPort,
			TLS:     tlsConfig,
			Emulator: controlplane.Options{
				DeleteLag:      serverDeleteLag,
				ReadyLag:       serverReadyLag,
				ErrorsInOKBody: serverErrorsInOKBody,
			},
		})

		ctx := cmd.Context()
		if err := server.Start(ctx); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Control plane emulator listening on %s\n", server.GetEndpoint())

		<-ctx.Done()
		fmt.Fprintln(cmd.OutOrStdout(), "\nShutting down server...")
		return server.Stop()
	},
}

func init() {
	flags := serverCmd.Flags()
	flags.StringVar(&serverAddress, "address", "127.0.0.1", "address to listen on")
	flags.IntVarP(&serverPort, "port", "p", 9393, "port to listen on")
	flags.IntVar(&serverDeleteLag, "delete-lag", 0, "reads a deleted resource stays visible for")
	flags.IntVar(&serverReadyLag, "ready-lag", 0, "deployment inspections before a deployment is ready")
	flags.BoolVar(&serverErrorsInOKBody, "errors-in-ok-body", false, "report structured errors with status 200")
	flags.StringVar((*string)(&serverTLS.Mode), "tls-mode", string(config.TLSModeDisabled), "TLS mode (disabled|enabled|mutual)")
	flags.StringVar(&serverTLS.CertFile, "tls-cert", "", "server certificate file")
	flags.StringVar(&serverTLS.KeyFile, "tls-key", "", "server key file")
	flags.StringVar(&serverTLS.CAFile, "tls-ca", "", "CA file verifying client certificates in mutual mode")
	rootCmd.AddCommand(serverCmd)
}
