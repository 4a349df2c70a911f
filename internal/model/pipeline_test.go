package model

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withobsrvr/streamctl/internal/errdefs"
	"github.com/withobsrvr/streamctl/internal/properties"
)

const samplePipeline = `
apiVersion: streamctl/v1
kind: Pipeline
metadata:
  name: p1
spec:
  components:
    - {name: src, type: source, uri: "docker:ghcr.io/acme/src:1.0"}
    - {name: proc, type: processor, uri: "docker:ghcr.io/acme/proc:1.0"}
    - {name: sink, type: sink, uri: "docker:ghcr.io/acme/sink:1.0"}
  required: ["sink.bucket"]
  properties:
    "*":
      spring.cloud.stream.kafka.binder.brokers: "kafka:9092"
    sink:
      endpoint: http://minio:9000
      bucket: test
      binding:
        output:
          destination: archive
      port: 8080
  environments:
    prod:
      sink: {bucket: prod}
`

func TestParsePipeline(t *testing.T) {
	p, err := Parse(strings.NewReader(samplePipeline), "pipeline.yaml")
	require.NoError(t, err)

	assert.Equal(t, "p1", p.Metadata.Name)
	require.Len(t, p.Spec.Components, 3)
	assert.Equal(t, Component{Name: "proc", Type: "processor", URI: "docker:ghcr.io/acme/proc:1.0"}, p.Spec.Components[1])
	assert.Equal(t, []string{"sink.bucket"}, p.Spec.Required)

	assert.Equal(t, []properties.Property{
		{Scope: "*", Key: "spring.cloud.stream.kafka.binder.brokers", Value: "kafka:9092"},
		{Scope: "sink", Key: "endpoint", Value: "http://minio:9000"},
		{Scope: "sink", Key: "bucket", Value: "test"},
		{Scope: "sink", Key: "binding.output.destination", Value: "archive"},
		{Scope: "sink", Key: "port", Value: "8080"},
	}, p.Spec.Properties.Set().Entries())
	assert.Equal(t, []string{"prod"}, p.EnvironmentNames())
}

func TestParsePipelineRejects(t *testing.T) {
	tests := map[string]string{
		"empty":           ``,
		"wrong version":   "apiVersion: streamctl/v0\nkind: Pipeline\n",
		"wrong kind":      "apiVersion: streamctl/v1\nkind: Stream\n",
		"unknown field":   "apiVersion: streamctl/v1\nkind: Pipeline\nspec:\n  sources: []\n",
		"list properties": "apiVersion: streamctl/v1\nkind: Pipeline\nspec:\n  properties:\n    sink: [a, b]\n",
		"list value":      "apiVersion: streamctl/v1\nkind: Pipeline\nspec:\n  properties:\n    sink: {hosts: [a, b]}\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(doc), "pipeline.yaml")
			require.Error(t, err)
			assert.True(t, errdefs.IsConfig(err))
		})
	}
}

func TestResolvePropertiesPrecedence(t *testing.T) {
	p, err := Parse(strings.NewReader(samplePipeline), "pipeline.yaml")
	require.NoError(t, err)

	dir := t.TempDir()
	file := filepath.Join(dir, "override.properties")
	require.NoError(t, os.WriteFile(file, []byte("# local overrides\nsink.endpoint=http://localhost:9000\nsink.region=eu-west-1\n"), 0o600))

	set, err := p.ResolveProperties(Sources{
		Environment: "prod",
		Files:       []string{file},
		Assignments: []string{"sink.region=us-east-1"},
	})
	require.NoError(t, err)

	bucket, _ := set.Get("sink", "bucket")
	assert.Equal(t, "prod", bucket)
	endpoint, _ := set.Get("sink", "endpoint")
	assert.Equal(t, "http://localhost:9000", endpoint)
	region, _ := set.Get("sink", "region")
	assert.Equal(t, "us-east-1", region)
	brokers, ok := set.Resolve("src", "spring.cloud.stream.kafka.binder.brokers")
	assert.True(t, ok)
	assert.Equal(t, "kafka:9092", brokers)
}

func TestResolvePropertiesUnknownEnvironment(t *testing.T) {
	p, err := Parse(strings.NewReader(samplePipeline), "pipeline.yaml")
	require.NoError(t, err)

	_, err = p.ResolveProperties(Sources{Environment: "staging"})
	require.Error(t, err)
	assert.True(t, errdefs.IsConfig(err))
	assert.Contains(t, err.Error(), "prod")
}

func TestResolvePropertiesBadInputs(t *testing.T) {
	p, err := Parse(strings.NewReader(samplePipeline), "pipeline.yaml")
	require.NoError(t, err)

	_, err = p.ResolveProperties(Sources{Files: []string{filepath.Join(t.TempDir(), "missing.properties")}})
	assert.True(t, errdefs.IsConfig(err))

	_, err = p.ResolveProperties(Sources{Assignments: []string{"no-equals-sign"}})
	assert.True(t, errdefs.IsConfig(err))
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(samplePipeline), 0o600))

	p, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "p1", p.Metadata.Name)

	_, err = Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.True(t, errdefs.IsConfig(err))
}
