package cmd

import (
	"fmt"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/withobsrvr/streamctl/internal/config"
	"github.com/withobsrvr/streamctl/internal/errdefs"
)

var configOutput string

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or change streamctl settings",
	Long: `View the effective settings, after the settings file, STREAMCTL_* environment
variables and flags are applied, or store a setting in the settings file.`,
}

var configViewCmd = &cobra.Command{
	Use:   "view",
	Short: "Print the effective settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validateOutput(configOutput, "table", "json", "yaml"); err != nil {
			return err
		}
		if _, err := loadSettings(); err != nil {
			return err
		}
		settings := config.Effective(viper.GetViper())
		out := cmd.OutOrStdout()
		if configOutput != "table" {
			return writeStructured(out, configOutput, settings)
		}

		keys := make([]string, 0, len(settings))
		for k := range settings {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		t := newTable(out, table.Row{"Setting", "Value"})
		for _, k := range keys {
			t.AppendRow(table.Row{k, fmt.Sprint(settings[k])})
		}
		t.Render()
		if used := viper.ConfigFileUsed(); used != "" {
			fmt.Fprintf(out, "settings file: %s\n", used)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set KEY VALUE",
	Short: "Store a setting in the settings file",
	Long: `Store a setting in the settings file named by --config, or the default
settings file.

Examples:
  streamctl config set control_plane.url https://dataflow.example.com
  streamctl config set poll.timeout 2m`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if path == "" {
			path = config.DefaultFile()
		}
		if err := config.SetInFile(path, args[0], args[1]); err != nil {
			return &errdefs.ConfigError{Field: args[0], Reason: "failed to store setting", Err: err}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Set %s in %s\n", args[0], path)
		return nil
	},
}

func init() {
	configViewCmd.Flags().StringVarP(&configOutput, "output", "o", "table", "output format: table, json or yaml")
	configCmd.AddCommand(configViewCmd, configSetCmd)
	rootCmd.AddCommand(configCmd)
}
