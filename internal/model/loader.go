package model

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/withobsrvr/streamctl/internal/errdefs"
	"github.com/withobsrvr/streamctl/internal/properties"
)

// Load reads and decodes the pipeline file at path.
func Load(path string) (*Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &errdefs.ConfigError{Field: path, Reason: "failed to read pipeline file", Err: err}
	}
	return Parse(bytes.NewReader(data), path)
}

// Parse decodes a pipeline document. source names the document in errors.
func Parse(r io.Reader, source string) (*Pipeline, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var p Pipeline
	if err := dec.Decode(&p); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errdefs.Configf(source, "pipeline file is empty")
		}
		return nil, &errdefs.ConfigError{Field: source, Reason: "invalid pipeline file", Err: err}
	}

	if p.APIVersion != APIVersion {
		return nil, errdefs.Configf(source, "unsupported apiVersion %q, expected %q", p.APIVersion, APIVersion)
	}
	if p.Kind != KindPipeline {
		return nil, errdefs.Configf(source, "unsupported kind %q, expected %q", p.Kind, KindPipeline)
	}
	return &p, nil
}

// Sources are the layers merged into a pipeline's effective properties, in
// increasing precedence after the file's own defaults and environment.
type Sources struct {
	// Environment selects a block under spec.environments.
	Environment string
	// Files are property files in the <scope>.<key>=<value> format.
	Files []string
	// Assignments are command-line <scope>.<key>=<value> overrides.
	Assignments []string
}

// ResolveProperties merges the pipeline's defaults, the selected
// environment, property files and assignments, later layers winning.
func (p *Pipeline) ResolveProperties(src Sources) (*properties.Set, error) {
	layers := []*properties.Set{p.Spec.Properties.Set()}

	if src.Environment != "" {
		env, ok := p.Spec.Environments[src.Environment]
		if !ok {
			return nil, errdefs.Configf("environment", "pipeline %s declares no environment %q (declared: %s)",
				p.Metadata.Name, src.Environment, strings.Join(p.EnvironmentNames(), ", "))
		}
		layers = append(layers, env.Set())
	}

	for _, path := range src.Files {
		set, err := loadPropertyFile(path)
		if err != nil {
			return nil, err
		}
		layers = append(layers, set)
	}

	if len(src.Assignments) > 0 {
		set, err := properties.ParseAssignments(src.Assignments)
		if err != nil {
			return nil, err
		}
		layers = append(layers, set)
	}

	return properties.Merge(layers...), nil
}

func loadPropertyFile(path string) (*properties.Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &errdefs.ConfigError{Field: path, Reason: "failed to open property file", Err: err}
	}
	defer f.Close()

	set, err := properties.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return set, nil
}
