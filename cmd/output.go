package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"gopkg.in/yaml.v3"

	"github.com/withobsrvr/streamctl/internal/errdefs"
	"github.com/withobsrvr/streamctl/internal/reconciler"
)

var (
	appliedColor  = color.New(color.FgGreen)
	noOpColor     = color.New(color.FgHiBlack)
	conflictColor = color.New(color.FgYellow)
	failedColor   = color.New(color.FgRed, color.Bold)
	headingColor  = color.New(color.Bold)
)

func outcomeColor(o reconciler.Outcome) *color.Color {
	switch o {
	case reconciler.OutcomeApplied:
		return appliedColor
	case reconciler.OutcomeSoftConflict:
		return conflictColor
	case reconciler.OutcomeFailed:
		return failedColor
	}
	return noOpColor
}

// stepPrinter renders finished steps as they happen.
func stepPrinter(w io.Writer) func(reconciler.Event) {
	return func(ev reconciler.Event) {
		if ev.Kind != reconciler.EventStepFinished || ev.Record == nil {
			return
		}
		rec := ev.Record
		c := outcomeColor(rec.Outcome)
		detail := rec.Detail
		if rec.Error != "" {
			detail = rec.Error
		}
		fmt.Fprintf(w, "  %-22s %s %s %s\n",
			rec.Step,
			c.Sprintf("%-12s", rec.Outcome),
			detail,
			noOpColor.Sprintf("(%s)", rec.Duration.Round(time.Millisecond)))
	}
}

func printRunHeader(w io.Writer, operation, pipeline string) {
	headingColor.Fprintf(w, "%s %s\n", operation, pipeline)
}

func printResult(w io.Writer, res *reconciler.Result) {
	for _, c := range res.Conflicts {
		conflictColor.Fprintf(w, "  conflict: %s\n", c.Detail)
	}
	state := string(res.FinalState)
	if res.Err != nil {
		fmt.Fprintf(w, "%s %s after %s\n", failedColor.Sprint("✗"), state, res.Duration.Round(time.Millisecond))
		return
	}
	fmt.Fprintf(w, "%s %s in %s\n", appliedColor.Sprint("✓"), state, res.Duration.Round(time.Millisecond))
}

func newTable(w io.Writer, header table.Row) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(header)
	return t
}

// writeStructured writes v as JSON or YAML.
func writeStructured(w io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("unknown output format %q", format)
}

func validateOutput(format string, allowed ...string) error {
	for _, a := range allowed {
		if format == a {
			return nil
		}
	}
	return errdefs.Configf("output", "must be one of %v, got %q", allowed, format)
}
