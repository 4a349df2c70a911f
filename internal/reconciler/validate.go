package reconciler

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/withobsrvr/streamctl/internal/api"
	"github.com/withobsrvr/streamctl/internal/compiler"
	"github.com/withobsrvr/streamctl/internal/errdefs"
	"github.com/withobsrvr/streamctl/internal/model"
	"github.com/withobsrvr/streamctl/internal/properties"
	"github.com/withobsrvr/streamctl/internal/registry"
)

var resourceName = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

// resolved is a component with its normalized locator.
type resolved struct {
	Component
	locator string
}

// plan is the validated, compiled form of a Desired state.
type plan struct {
	name       string
	components []resolved
	dsl        string
	payload    *compiler.Payload
}

// DesiredFromPipeline builds the desired state of p with the given
// effective properties.
func DesiredFromPipeline(p *model.Pipeline, props *properties.Set) (*Desired, error) {
	d := &Desired{Name: p.Metadata.Name, Properties: props}
	for _, c := range p.Spec.Components {
		d.Components = append(d.Components, Component{Name: c.Name, Kind: api.ComponentKind(c.Type), URI: c.URI})
	}
	for _, req := range p.Spec.Required {
		scope, key, ok := strings.Cut(req, ".")
		if !ok || scope == "" || key == "" {
			return nil, errdefs.Configf("spec.required", "%q must be written as <component>.<key>", req)
		}
		d.Required = append(d.Required, properties.Address{Scope: scope, Key: key})
	}
	return d, nil
}

// DSL renders the definition string for components in chain order.
func DSL(components []Component) string {
	names := make([]string, len(components))
	for i, c := range components {
		names[i] = c.Name
	}
	return strings.Join(names, " | ")
}

// validateShape checks the parts of d every operation depends on: the name,
// the chain and the component locators.
func validateShape(d *Desired, locators registry.ParseOptions) (*plan, error) {
	if d == nil {
		return nil, errdefs.Configf("pipeline", "no pipeline given")
	}
	if d.Name == "" {
		return nil, errdefs.Configf("metadata.name", "pipeline name is required")
	}
	if !resourceName.MatchString(d.Name) {
		return nil, errdefs.Configf("metadata.name", "%q must start with a letter and contain only letters, digits, '-' and '_'", d.Name)
	}
	if len(d.Components) < 2 {
		return nil, errdefs.Configf("spec.components", "a pipeline needs at least a source and a sink, got %d component(s)", len(d.Components))
	}

	p := &plan{name: d.Name}
	seen := make(map[string]bool, len(d.Components))
	last := len(d.Components) - 1
	for i, c := range d.Components {
		field := fmt.Sprintf("spec.components[%d]", i)
		if !resourceName.MatchString(c.Name) {
			return nil, errdefs.Configf(field+".name", "%q must start with a letter and contain only letters, digits, '-' and '_'", c.Name)
		}
		if seen[c.Name] {
			return nil, errdefs.Configf(field+".name", "duplicate component name %q", c.Name)
		}
		seen[c.Name] = true

		want := api.KindProcessor
		switch i {
		case 0:
			want = api.KindSource
		case last:
			want = api.KindSink
		}
		if c.Kind != want {
			return nil, errdefs.Configf(field+".type", "component %q at position %d must be a %s, got %q", c.Name, i, want, c.Kind)
		}

		loc, err := registry.ParseLocator(c.URI, locators)
		if err != nil {
			return nil, &errdefs.ConfigError{Field: field + ".uri", Reason: "invalid artifact locator for " + c.Name, Err: err}
		}
		p.components = append(p.components, resolved{Component: c, locator: loc.String()})
	}
	p.dsl = DSL(d.Components)
	return p, nil
}

// validate performs the full pre-flight: shape, property scopes, required
// properties and compilation.
func validate(d *Desired, opts Options) (*plan, error) {
	p, err := validateShape(d, opts.Locators)
	if err != nil {
		return nil, err
	}

	names := make(map[string]bool, len(p.components))
	for _, c := range p.components {
		names[c.Name] = true
	}
	for _, scope := range d.Properties.Scopes() {
		if scope != properties.AllScopes && !names[scope] {
			return nil, errdefs.Configf("spec.properties", "property scope %q names no component of pipeline %s", scope, d.Name)
		}
	}

	for _, req := range d.Required {
		if req.Scope != properties.AllScopes && !names[req.Scope] {
			return nil, errdefs.Configf("spec.required", "required property %s.%s names no component", req.Scope, req.Key)
		}
		targets := []string{req.Scope}
		if req.Scope == properties.AllScopes {
			targets = targets[:0]
			for _, c := range p.components {
				targets = append(targets, c.Name)
			}
		}
		for _, scope := range targets {
			if v, ok := d.Properties.Resolve(scope, req.Key); !ok || strings.TrimSpace(v) == "" {
				return nil, errdefs.Configf("spec.required", "required property %s.%s is not set", scope, req.Key)
			}
		}
	}

	payload, err := compiler.Compile(d.Properties, opts.Compiler...)
	if err != nil {
		return nil, err
	}
	p.payload = payload
	return p, nil
}

// Preview is what a reconcile would submit for a desired state.
type Preview struct {
	Name    string
	DSL     string
	Payload *compiler.Payload
}

// Compile runs the full pre-flight validation of d without contacting the
// control plane.
func Compile(d *Desired, opts Options) (*Preview, error) {
	p, err := validate(d, opts)
	if err != nil {
		return nil, err
	}
	return &Preview{Name: p.name, DSL: p.dsl, Payload: p.payload}, nil
}
