package model

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/withobsrvr/streamctl/internal/properties"
)

const (
	// APIVersion is the only pipeline file version understood.
	APIVersion = "streamctl/v1"
	// KindPipeline is the only pipeline file kind understood.
	KindPipeline = "Pipeline"
	// DefaultFile is the pipeline file read when none is named.
	DefaultFile = "pipeline.yaml"
)

// Pipeline is the desired state of one linear pipeline as written in a
// pipeline file.
type Pipeline struct {
	APIVersion string   `yaml:"apiVersion" json:"apiVersion"`
	Kind       string   `yaml:"kind" json:"kind"`
	Metadata   Metadata `yaml:"metadata" json:"metadata"`
	Spec       Spec     `yaml:"spec" json:"spec"`
}

// Metadata contains pipeline metadata
type Metadata struct {
	Name        string            `yaml:"name" json:"name"`
	Labels      map[string]string `yaml:"labels,omitempty" json:"labels,omitempty"`
	Annotations map[string]string `yaml:"annotations,omitempty" json:"annotations,omitempty"`
}

// Spec contains the pipeline specification
type Spec struct {
	Description string      `yaml:"description,omitempty" json:"description,omitempty"`
	Components  []Component `yaml:"components" json:"components"`
	// Required lists properties that must resolve for the named component,
	// written as <component>.<key>.
	Required     []string                 `yaml:"required,omitempty" json:"required,omitempty"`
	Properties   PropertyBlock            `yaml:"properties,omitempty" json:"-"`
	Environments map[string]PropertyBlock `yaml:"environments,omitempty" json:"-"`
}

// Component is one stage of the pipeline, in chain order.
type Component struct {
	Name string `yaml:"name" json:"name"`
	Type string `yaml:"type" json:"type"`
	URI  string `yaml:"uri" json:"uri"`
}

// PropertyBlock is a scope -> key -> value mapping that keeps the order it
// was written in. Nested mappings below a scope are joined into dotted keys:
//
//	sink:
//	  binding:
//	    destination: out
//
// yields (sink, binding.destination) = out.
type PropertyBlock struct {
	set *properties.Set
}

// Set returns the block's properties. A missing block yields an empty set.
func (b PropertyBlock) Set() *properties.Set {
	if b.set == nil {
		return properties.New()
	}
	return b.set
}

// UnmarshalYAML walks the mapping node in document order.
func (b *PropertyBlock) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: properties must be a mapping of component to keys", value.Line)
	}

	var props []properties.Property
	for i := 0; i+1 < len(value.Content); i += 2 {
		scope, body := value.Content[i], value.Content[i+1]
		if scope.Value == "" {
			return fmt.Errorf("line %d: empty property scope", scope.Line)
		}
		if body.Kind != yaml.MappingNode {
			return fmt.Errorf("line %d: properties for %q must be a mapping", body.Line, scope.Value)
		}
		flat, err := flatten(scope.Value, "", body)
		if err != nil {
			return err
		}
		props = append(props, flat...)
	}
	b.set = properties.New(props...)
	return nil
}

func flatten(scope, prefix string, node *yaml.Node) ([]properties.Property, error) {
	var out []properties.Property
	for i := 0; i+1 < len(node.Content); i += 2 {
		k, v := node.Content[i], node.Content[i+1]
		key := k.Value
		if prefix != "" {
			key = prefix + "." + key
		}
		switch v.Kind {
		case yaml.ScalarNode:
			out = append(out, properties.Property{Scope: scope, Key: key, Value: v.Value})
		case yaml.MappingNode:
			nested, err := flatten(scope, key, v)
			if err != nil {
				return nil, err
			}
			out = append(out, nested...)
		case yaml.AliasNode:
			if v.Alias != nil && v.Alias.Kind == yaml.ScalarNode {
				out = append(out, properties.Property{Scope: scope, Key: key, Value: v.Alias.Value})
				continue
			}
			return nil, fmt.Errorf("line %d: property %s.%s aliases a non-scalar value", v.Line, scope, key)
		default:
			return nil, fmt.Errorf("line %d: property %s.%s must be a scalar value", v.Line, scope, key)
		}
	}
	return out, nil
}

// EnvironmentNames returns the declared environments, sorted.
func (p *Pipeline) EnvironmentNames() []string {
	names := make([]string, 0, len(p.Spec.Environments))
	for name := range p.Spec.Environments {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
