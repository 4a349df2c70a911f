package validator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withobsrvr/streamctl/internal/model"
	"github.com/withobsrvr/streamctl/internal/reconciler"
)

func parse(t *testing.T, doc string) *model.Pipeline {
	t.Helper()
	p, err := model.Parse(strings.NewReader(doc), "pipeline.yaml")
	require.NoError(t, err)
	return p
}

func validate(t *testing.T, doc string) *ValidationResult {
	t.Helper()
	return NewValidator(parse(t, doc), reconciler.DefaultOptions()).Validate()
}

func TestValidPipeline(t *testing.T) {
	result := validate(t, `
apiVersion: streamctl/v1
kind: Pipeline
metadata: {name: p1}
spec:
  components:
    - {name: src, type: source, uri: "docker:acme/src:1.0"}
    - {name: proc, type: processor, uri: "docker:acme/proc:1.0"}
    - {name: sink, type: sink, uri: "docker:acme/sink:1.0"}
  required: [sink.bucket]
  properties:
    "*": {brokers: "kafka:9092"}
    sink: {bucket: test}
  environments:
    prod:
      sink: {bucket: prod}
`)

	assert.True(t, result.Valid)
	assert.Empty(t, result.Errors)
	assert.Empty(t, result.Warnings)
	assert.Equal(t, []string{"prod"}, result.Environments)
	require.Len(t, result.Hints, 1)
	assert.Contains(t, result.Hints[0], "1 property under '*' applies to every component")
	assert.Contains(t, result.Format(), "✓ Pipeline validation passed\n  3 components, 1 environment(s) checked")
}

func TestErrorsAreReportedPerEnvironment(t *testing.T) {
	result := validate(t, `
apiVersion: streamctl/v1
kind: Pipeline
metadata: {name: p1}
spec:
  components:
    - {name: src, type: source, uri: "docker:acme/src:1.0"}
    - {name: proc, type: processor, uri: "docker:acme/proc:1.0"}
    - {name: sink, type: sink, uri: "docker:acme/sink:1.0"}
  required: [sink.bucket]
  properties:
    proc: {environment-variables: "A=1"}
  environments:
    dev:
      sink: {bucket: dev}
      proc: {environment-variables: "A=\"x"}
    prod:
      sink: {bucket: prod}
    staging:
      proc: {environment-variables: "A=2"}
`)

	assert.False(t, result.Valid)
	assert.Equal(t, []string{"dev", "prod", "staging"}, result.Environments)
	require.Len(t, result.Errors, 2, "staging repeats the base error and is reported once")

	assert.Equal(t, "spec.required", result.Errors[0].Field)
	assert.Equal(t, "", result.Errors[0].Environment)
	assert.Contains(t, result.Errors[0].Message, "sink.bucket is not set")
	assert.NotEmpty(t, result.Errors[0].Fix)

	assert.Equal(t, "proc.environment-variables", result.Errors[1].Field)
	assert.Equal(t, "dev", result.Errors[1].Environment)
	assert.Contains(t, result.Errors[1].Message, "invalid environment variable bundle")

	out := result.Format()
	assert.Contains(t, out, "✗ Pipeline validation failed with 2 error(s)")
	assert.Contains(t, out, "  Environment: dev\n")
}

func TestShapeErrors(t *testing.T) {
	tests := []struct {
		name      string
		component string
		field     string
	}{
		{"processor first", `{name: a, type: processor, uri: "docker:acme/a:1"}`, "spec.components[0].type"},
		{"bad locator", `{name: a, type: source, uri: "ftp://host/a.jar"}`, "spec.components[0].uri"},
		{"bad name", `{name: 1a, type: source, uri: "docker:acme/a:1"}`, "spec.components[0].name"},
		{"duplicate name", `{name: sink, type: source, uri: "docker:acme/a:1"}`, "spec.components[1].name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := validate(t, `
apiVersion: streamctl/v1
kind: Pipeline
metadata: {name: p1}
spec:
  components:
    - `+tt.component+`
    - {name: sink, type: sink, uri: "docker:acme/sink:1.0"}
`)
			assert.False(t, result.Valid)
			require.Len(t, result.Errors, 1)
			assert.Equal(t, tt.field, result.Errors[0].Field)
			assert.NotEmpty(t, result.Errors[0].Fix)
		})
	}
}

func TestWarnings(t *testing.T) {
	result := validate(t, `
apiVersion: streamctl/v1
kind: Pipeline
metadata: {name: p1}
spec:
  components:
    - {name: src, type: source, uri: "acme/src"}
    - {name: sink, type: sink, uri: "http://repo.example/sink.jar"}
  properties:
    sink: {bucket: test}
  environments:
    prod:
      sink: {bucket: test}
`)

	assert.True(t, result.Valid)
	fields := make([]string, 0, len(result.Warnings))
	for _, w := range result.Warnings {
		fields = append(fields, w.Field)
	}
	assert.ElementsMatch(t, []string{
		"spec.components[0].uri",
		"spec.components[1].uri",
		"spec.components",
		"spec.environments.prod.sink.bucket",
	}, fields)
	assert.Contains(t, result.Format(), "WARNING: Component 'src' uses the floating tag 'latest'")
}

func TestProcessorChainHints(t *testing.T) {
	var comps strings.Builder
	comps.WriteString("    - {name: src, type: source, uri: \"docker:acme/src:1\"}\n")
	for _, n := range []string{"p1", "p2", "p3", "p4", "p5", "p6"} {
		comps.WriteString("    - {name: " + n + ", type: processor, uri: \"docker:acme/" + n + ":1\"}\n")
	}
	comps.WriteString("    - {name: sink, type: sink, uri: \"file:///opt/apps/sink.jar\"}\n")

	result := validate(t, `
apiVersion: streamctl/v1
kind: Pipeline
metadata: {name: long}
spec:
  components:
`+comps.String())

	assert.True(t, result.Valid)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0].Message, "Long processor chain detected (6 processors)")
	assert.Contains(t, result.Hints, "Processor chaining enabled: records flow through p1 -> p2 -> p3 -> p4 -> p5 -> p6")
	assert.Contains(t, result.Hints, "Component 'sink' is read from the control plane host: /opt/apps/sink.jar")
}
