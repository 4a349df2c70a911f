package reconciler

import (
	"context"
	"fmt"

	"github.com/withobsrvr/streamctl/internal/api"
)

// Status derives the state of the named pipeline from its definition and
// deployment. It has no side effects.
func (r *Reconciler) Status(ctx context.Context, name string) (State, error) {
	if _, err := r.cp.LookupDefinition(ctx, name); err != nil {
		if api.IsNotFound(err) {
			return StateAbsent, nil
		}
		return "", fmt.Errorf("failed to look up definition: %w", err)
	}

	dep, err := r.cp.InspectDeployment(ctx, name)
	if api.IsNotFound(err) {
		return StatePresent, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to inspect deployment: %w", err)
	}
	return stateOf(dep.State), nil
}

func stateOf(s api.DeploymentState) State {
	switch s {
	case api.DeploymentDeploying:
		return StateDeploying
	case api.DeploymentDeployed:
		return StateDeployed
	case api.DeploymentFailed:
		return StateFailed
	}
	return StatePresent
}

// ComponentStatus compares one desired component with its registration.
type ComponentStatus struct {
	Name       string            `json:"name" yaml:"name"`
	Kind       api.ComponentKind `json:"kind" yaml:"kind"`
	Desired    string            `json:"desired" yaml:"desired"`
	Registered string            `json:"registered,omitempty" yaml:"registered,omitempty"`
}

// InSync reports whether the registration carries the desired artifact.
func (c ComponentStatus) InSync() bool {
	return c.Registered != "" && c.Registered == c.Desired
}

// Report is the read-only view of a desired pipeline on the control plane.
type Report struct {
	Pipeline   string            `json:"pipeline" yaml:"pipeline"`
	State      State             `json:"state" yaml:"state"`
	Definition string            `json:"definition,omitempty" yaml:"definition,omitempty"`
	Desired    string            `json:"desired" yaml:"desired"`
	Components []ComponentStatus `json:"components" yaml:"components"`
}

// Inspect reports the pipeline state together with each component's
// registration. Only the shape of d is validated.
func (r *Reconciler) Inspect(ctx context.Context, d *Desired) (*Report, error) {
	p, err := validateShape(d, r.opts.Locators)
	if err != nil {
		return nil, err
	}

	state, err := r.Status(ctx, p.name)
	if err != nil {
		return nil, err
	}
	report := &Report{Pipeline: p.name, State: state, Desired: p.dsl}
	if state != StateAbsent {
		def, err := r.cp.LookupDefinition(ctx, p.name)
		switch {
		case api.IsNotFound(err):
			report.State = StateAbsent
		case err != nil:
			return nil, fmt.Errorf("failed to look up definition: %w", err)
		default:
			report.Definition = def.DSLText
		}
	}

	for _, c := range p.components {
		cs := ComponentStatus{Name: c.Name, Kind: c.Kind, Desired: c.locator}
		got, err := r.cp.LookupComponent(ctx, c.Kind, c.Name)
		switch {
		case api.IsNotFound(err):
		case err != nil:
			return nil, fmt.Errorf("failed to look up component %s: %w", c.Name, err)
		default:
			cs.Registered = got.URI
		}
		report.Components = append(report.Components, cs)
	}
	return report, nil
}
