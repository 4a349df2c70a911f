package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/withobsrvr/streamctl/internal/errdefs"
	"github.com/withobsrvr/streamctl/internal/model"
	"github.com/withobsrvr/streamctl/internal/validator"
)

var validateOut string

var validateCmd = &cobra.Command{
	Use:   "validate [pipeline-file]",
	Short: "Validate a pipeline file",
	Long: `Validate a pipeline file before reconciling it. Nothing is sent to the
control plane.

The base properties and every declared environment are compiled in turn and
all problems are reported, not just the first one. This command checks:
- file structure, apiVersion and kind
- pipeline and component names
- component order (source, processors, sink)
- artifact locators
- property scopes and required properties
- floating image tags and plain http artifacts (warnings)

Examples:
  # Validate a pipeline file
  streamctl validate pipeline.yaml

  # Validate the default pipeline file as JSON
  streamctl validate -o json`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validateOutput(validateOut, "text", "json", "yaml"); err != nil {
			return err
		}
		s, err := loadSettings()
		if err != nil {
			return err
		}

		pipelineFile := model.DefaultFile
		if len(args) > 0 {
			pipelineFile = args[0]
		}
		pipeline, err := model.Load(pipelineFile)
		if err != nil {
			return err
		}

		result := validator.NewValidator(pipeline, reconcilerOptions(s)).Validate()

		out := cmd.OutOrStdout()
		if validateOut == "text" {
			fmt.Fprintln(out, result.Format())
		} else if err := writeStructured(out, validateOut, result); err != nil {
			return err
		}

		if !result.Valid {
			return errdefs.Configf(pipelineFile, "%d validation error(s)", len(result.Errors))
		}
		return nil
	},
}

func init() {
	validateCmd.Flags().StringVarP(&validateOut, "output", "o", "text", "output format: text, json or yaml")
	rootCmd.AddCommand(validateCmd)
}
