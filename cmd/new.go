package cmd

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/withobsrvr/streamctl/internal/errdefs"
	"github.com/withobsrvr/streamctl/internal/model"
)

const (
	defaultSource = "time=docker:springcloudstream/time-source-kafka:5.0.0"
	defaultSink   = "log=docker:springcloudstream/log-sink-kafka:5.0.0"
)

var (
	newSource     string
	newProcessors []string
	newSink       string
	newOutputPath string
	newForce      bool
)

// newCmd represents the new command
var newCmd = &cobra.Command{
	Use:   "new NAME",
	Short: "Scaffold a new pipeline file",
	Long: `Scaffold a pipeline file with a source, optional processors and a sink.
Components are given as <name>=<locator>.

Examples:
  streamctl new ticks
  streamctl new orders --source http=docker:acme/http-source:1.0 \
    --processor enrich=docker:acme/enrich:2.1 --sink s3=docker:acme/s3-sink:1.0`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		path := newOutputPath
		if path == "" {
			path = name + ".yaml"
		}
		if _, err := os.Stat(path); err == nil && !newForce {
			return errdefs.Configf(path, "file exists, use --force to overwrite")
		}

		content, err := scaffoldPipeline(name, newSource, newProcessors, newSink)
		if err != nil {
			return err
		}
		// the scaffold must load like any hand-written pipeline
		if _, err := model.Parse(bytes.NewReader(content), path); err != nil {
			return err
		}

		if err := os.WriteFile(path, content, 0644); err != nil {
			return fmt.Errorf("failed to create pipeline file: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created new pipeline '%s' at %s\n", name, path)
		return nil
	},
}

type scaffoldComponent struct {
	name, kind, uri string
}

func parseComponentFlag(flag, value, kind string) (scaffoldComponent, error) {
	name, uri, ok := strings.Cut(value, "=")
	if !ok || name == "" || uri == "" {
		return scaffoldComponent{}, errdefs.Configf(flag, "%q must be written as <name>=<locator>", value)
	}
	return scaffoldComponent{name: name, kind: kind, uri: uri}, nil
}

func scaffoldPipeline(name, source string, processors []string, sink string) ([]byte, error) {
	var comps []scaffoldComponent
	c, err := parseComponentFlag("--source", source, "source")
	if err != nil {
		return nil, err
	}
	comps = append(comps, c)
	for _, p := range processors {
		c, err := parseComponentFlag("--processor", p, "processor")
		if err != nil {
			return nil, err
		}
		comps = append(comps, c)
	}
	c, err = parseComponentFlag("--sink", sink, "sink")
	if err != nil {
		return nil, err
	}
	comps = append(comps, c)

	var b strings.Builder
	fmt.Fprintf(&b, "# Pipeline: %s\n", name)
	fmt.Fprintf(&b, "apiVersion: %s\nkind: %s\nmetadata:\n  name: %s\nspec:\n", model.APIVersion, model.KindPipeline, name)
	b.WriteString("  components:\n")
	for _, c := range comps {
		fmt.Fprintf(&b, "    - name: %s\n      type: %s\n      uri: %q\n", c.name, c.kind, c.uri)
	}
	b.WriteString("  properties:\n")
	fmt.Fprintf(&b, "    %s:\n      # Add %s properties here\n      server.port: \"8080\"\n", comps[0].name, comps[0].name)
	b.WriteString("  environments:\n    prod:\n")
	fmt.Fprintf(&b, "      %s:\n        server.port: \"80\"\n", comps[0].name)
	return []byte(b.String()), nil
}

func init() {
	newCmd.Flags().StringVar(&newSource, "source", defaultSource, "source component <name>=<locator>")
	newCmd.Flags().StringArrayVar(&newProcessors, "processor", nil, "processor component <name>=<locator> (repeatable, in chain order)")
	newCmd.Flags().StringVar(&newSink, "sink", defaultSink, "sink component <name>=<locator>")
	newCmd.Flags().StringVarP(&newOutputPath, "output", "o", "", "file to write (default NAME.yaml)")
	newCmd.Flags().BoolVar(&newForce, "force", false, "overwrite an existing file")
	rootCmd.AddCommand(newCmd)
}
