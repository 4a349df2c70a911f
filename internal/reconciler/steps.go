package reconciler

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/withobsrvr/streamctl/internal/api"
	"github.com/withobsrvr/streamctl/internal/errdefs"
	"github.com/withobsrvr/streamctl/internal/poller"
)

// teardown undeploys and deletes an existing definition that does not match
// the plan, then waits until the definition can no longer be read. A missing
// definition, or one that matches while not forced, is left alone.
func (r *Reconciler) teardown(ctx context.Context, p *plan, run *runState) error {
	def, err := r.cp.LookupDefinition(ctx, p.name)
	if api.IsNotFound(err) {
		run.record.Outcome = OutcomeNoOp
		run.record.Detail = "definition absent"
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up definition: %w", err)
	}

	if !run.force {
		reason, err := r.teardownReason(ctx, p, def)
		if err != nil {
			return err
		}
		if reason == "" {
			run.record.Outcome = OutcomeNoOp
			run.record.Detail = "definition matches desired state"
			return nil
		}
		run.log.Info("Tearing down pipeline", zap.String("reason", reason))
	}

	if err := r.cp.Undeploy(ctx, p.name); err != nil && !api.IsNotFound(err) {
		return fmt.Errorf("failed to undeploy: %w", err)
	}
	if err := r.cp.DeleteDefinition(ctx, p.name); err != nil && !api.IsNotFound(err) {
		return fmt.Errorf("failed to delete definition: %w", err)
	}

	err = poller.WaitFor(ctx, "definition "+p.name+" to disappear", r.opts.Poll, func(ctx context.Context) (bool, error) {
		_, err := r.cp.LookupDefinition(ctx, p.name)
		if api.IsNotFound(err) {
			return true, nil
		}
		return false, err
	})
	if err != nil {
		return err
	}
	run.record.Detail = "undeployed and deleted definition"
	return nil
}

// teardownReason explains why an existing definition must go, or returns ""
// when it already matches the plan.
func (r *Reconciler) teardownReason(ctx context.Context, p *plan, def *api.Definition) (string, error) {
	if normalizeDSL(def.DSLText) != p.dsl {
		return fmt.Sprintf("definition %q differs from %q", def.DSLText, p.dsl), nil
	}

	dep, err := r.cp.InspectDeployment(ctx, p.name)
	switch {
	case api.IsNotFound(err):
	case err != nil:
		return "", fmt.Errorf("failed to inspect deployment: %w", err)
	case dep.State == api.DeploymentFailed:
		return "deployment failed", nil
	}

	for _, c := range p.components {
		got, err := r.cp.LookupComponent(ctx, c.Kind, c.Name)
		if api.IsNotFound(err) {
			return fmt.Sprintf("component %s is not registered", c.Name), nil
		}
		if err != nil {
			return "", fmt.Errorf("failed to look up component %s: %w", c.Name, err)
		}
		if got.URI != c.locator {
			return fmt.Sprintf("component %s is registered as %s", c.Name, got.URI), nil
		}
	}
	return "", nil
}

// unregisterComponents deletes every component whose registration is stale
// (or every registered component when forced) and waits until each is no
// longer resolvable. Registering while an old registration is still visible
// would bind the pipeline to either artifact.
func (r *Reconciler) unregisterComponents(ctx context.Context, p *plan, run *runState) error {
	var removed []string
	for _, c := range p.components {
		got, err := r.cp.LookupComponent(ctx, c.Kind, c.Name)
		if api.IsNotFound(err) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to look up component %s: %w", c.Name, err)
		}
		if !run.force && got.URI == c.locator {
			continue
		}

		if err := r.cp.UnregisterComponent(ctx, c.Kind, c.Name); err != nil && !api.IsNotFound(err) {
			return fmt.Errorf("failed to unregister component %s: %w", c.Name, err)
		}
		removed = append(removed, c.Name)
	}

	for _, c := range p.components {
		if !slices.Contains(removed, c.Name) {
			continue
		}
		err := poller.WaitFor(ctx, fmt.Sprintf("component %s/%s to disappear", c.Kind, c.Name), r.opts.Poll, func(ctx context.Context) (bool, error) {
			_, err := r.cp.LookupComponent(ctx, c.Kind, c.Name)
			if api.IsNotFound(err) {
				return true, nil
			}
			return false, err
		})
		if err != nil {
			return err
		}
	}

	if len(removed) == 0 {
		run.record.Outcome = OutcomeNoOp
		run.record.Detail = "no stale registrations"
		return nil
	}
	run.record.Detail = "unregistered " + strings.Join(removed, ", ")
	return nil
}

// registerComponents registers every component not already registered with
// its locator. An "already registered" answer is a soft conflict.
func (r *Reconciler) registerComponents(ctx context.Context, p *plan, run *runState) error {
	var registered, conflicted []string
	for _, c := range p.components {
		got, err := r.cp.LookupComponent(ctx, c.Kind, c.Name)
		switch {
		case api.IsNotFound(err):
		case err != nil:
			return fmt.Errorf("failed to look up component %s: %w", c.Name, err)
		case got.URI == c.locator:
			continue
		default:
			// registered under another artifact after unregistration
			ok, err := r.resolveConflict(ctx, c, got.URI, run)
			if err != nil {
				return err
			}
			conflicted = append(conflicted, c.Name)
			if ok {
				registered = append(registered, c.Name)
			}
			continue
		}

		err = r.cp.RegisterComponent(ctx, c.Kind, c.Name, c.locator, false)
		if err == nil {
			registered = append(registered, c.Name)
			continue
		}
		apiErr, ok := api.AsError(err)
		switch {
		case ok && apiErr.AlreadyRegistered():
			ok, err := r.resolveConflict(ctx, c, apiErr.Error(), run)
			if err != nil {
				return err
			}
			conflicted = append(conflicted, c.Name)
			if ok {
				registered = append(registered, c.Name)
			}
		case ok && apiErr.Validation():
			return fmt.Errorf("control plane rejected component %s (%s): %w", c.Name, c.locator, err)
		default:
			return fmt.Errorf("failed to register component %s: %w", c.Name, err)
		}
	}

	var parts []string
	if len(registered) > 0 {
		parts = append(parts, "registered "+strings.Join(registered, ", "))
	}
	if len(conflicted) > 0 {
		parts = append(parts, "conflicts on "+strings.Join(conflicted, ", "))
	}
	run.record.Detail = strings.Join(parts, "; ")

	switch {
	case len(conflicted) > 0:
		run.record.Outcome = OutcomeSoftConflict
	case len(registered) == 0:
		run.record.Outcome = OutcomeNoOp
		run.record.Detail = "all components registered"
	}
	return nil
}

// resolveConflict records a soft conflict for c and, with ForceRegister,
// re-registers it. It reports whether c now carries the desired locator.
func (r *Reconciler) resolveConflict(ctx context.Context, c resolved, detail string, run *runState) (bool, error) {
	conflict := &errdefs.ConflictError{Kind: "component", Name: c.Name, Detail: detail, Soft: true}
	run.conflict(conflict)
	run.log.Warn("Component already registered", zap.String("component", c.Name), zap.String("detail", detail))

	if !r.opts.ForceRegister {
		return false, nil
	}
	if err := r.cp.RegisterComponent(ctx, c.Kind, c.Name, c.locator, true); err != nil {
		return false, fmt.Errorf("failed to force register component %s: %w", c.Name, err)
	}
	return true, nil
}

// createDefinition creates the definition, or accepts an existing one with
// the same DSL. An existing definition with another DSL is a conflict that
// only a teardown resolves.
func (r *Reconciler) createDefinition(ctx context.Context, p *plan, run *runState) error {
	def, err := r.cp.LookupDefinition(ctx, p.name)
	switch {
	case api.IsNotFound(err):
	case err != nil:
		return fmt.Errorf("failed to look up definition: %w", err)
	case normalizeDSL(def.DSLText) == p.dsl:
		run.record.Outcome = OutcomeNoOp
		run.record.Detail = "definition exists"
		return nil
	default:
		return &errdefs.ConflictError{Kind: "definition", Name: p.name,
			Detail: fmt.Sprintf("existing definition %q differs from %q; tear down first", def.DSLText, p.dsl)}
	}

	err = r.cp.CreateDefinition(ctx, p.name, p.dsl)
	if apiErr, ok := api.AsError(err); ok && apiErr.DuplicateDefinition() {
		return &errdefs.ConflictError{Kind: "definition", Name: p.name, Detail: apiErr.Error()}
	}
	if err != nil {
		return fmt.Errorf("failed to create definition: %w", err)
	}
	run.record.Detail = p.dsl
	return nil
}

// deploy submits the compiled payload unless a deployment is already in
// flight or running with the same properties, then optionally waits for
// readiness. A running deployment with other properties is undeployed and
// submitted again.
func (r *Reconciler) deploy(ctx context.Context, p *plan, run *runState) error {
	dep, err := r.cp.InspectDeployment(ctx, p.name)
	if err != nil && !api.IsNotFound(err) {
		return fmt.Errorf("failed to inspect deployment: %w", err)
	}

	redeploy := false
	if err == nil && active(dep.State) {
		if deployed, ok := dep.DeployedProperties(); !ok || p.payload.Equal(deployed) {
			run.record.Outcome = OutcomeNoOp
			run.record.Detail = "already " + string(dep.State)
			return r.awaitReady(ctx, p, run)
		}
		run.log.Info("Deployment properties changed, redeploying", zap.String("state", string(dep.State)))
		if err := r.undeploy(ctx, p); err != nil {
			return err
		}
		redeploy = true
	}

	err = r.cp.Deploy(ctx, p.name, p.payload)
	switch apiErr, ok := api.AsError(err); {
	case ok && apiErr.AlreadyDeployed():
		run.record.Outcome = OutcomeNoOp
		run.record.Detail = "already deployed"
	case err != nil:
		return fmt.Errorf("failed to deploy: %w", err)
	case redeploy:
		run.record.Detail = fmt.Sprintf("redeployed with %d properties", p.payload.Len())
	default:
		run.record.Detail = fmt.Sprintf("submitted %d properties", p.payload.Len())
	}
	return r.awaitReady(ctx, p, run)
}

func active(s api.DeploymentState) bool {
	return s == api.DeploymentDeploying || s == api.DeploymentDeployed
}

// undeploy stops the deployment and waits until the control plane no longer
// reports it as active.
func (r *Reconciler) undeploy(ctx context.Context, p *plan) error {
	if err := r.cp.Undeploy(ctx, p.name); err != nil && !api.IsNotFound(err) {
		return fmt.Errorf("failed to undeploy: %w", err)
	}
	return poller.WaitFor(ctx, "deployment "+p.name+" to stop", r.opts.Poll, func(ctx context.Context) (bool, error) {
		dep, err := r.cp.InspectDeployment(ctx, p.name)
		if api.IsNotFound(err) {
			return true, nil
		}
		if err != nil {
			return false, err
		}
		return !active(dep.State), nil
	})
}

// awaitReady polls the deployment until it is deployed when WaitReady is set.
func (r *Reconciler) awaitReady(ctx context.Context, p *plan, run *runState) error {
	if !r.opts.WaitReady {
		return nil
	}
	err := poller.WaitFor(ctx, "deployment "+p.name+" to be ready", r.readyPolicy(), func(ctx context.Context) (bool, error) {
		dep, err := r.cp.InspectDeployment(ctx, p.name)
		if err != nil {
			return false, err
		}
		switch dep.State {
		case api.DeploymentDeployed:
			return true, nil
		case api.DeploymentFailed:
			return false, fmt.Errorf("deployment %s failed", p.name)
		}
		return false, nil
	})
	if err != nil {
		return err
	}
	run.record.Detail += "; ready"
	return nil
}

// normalizeDSL collapses whitespace around pipes so "a|b" equals "a | b".
func normalizeDSL(dsl string) string {
	parts := strings.Split(dsl, "|")
	for i, part := range parts {
		parts[i] = strings.TrimSpace(part)
	}
	return strings.Join(parts, " | ")
}
