// Package validator lints pipeline files offline. Unlike the reconciler's
// pre-flight, which stops at the first problem, it checks the base
// properties and every declared environment and collects all findings.
package validator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/go-containerregistry/pkg/name"

	"github.com/withobsrvr/streamctl/internal/errdefs"
	"github.com/withobsrvr/streamctl/internal/model"
	"github.com/withobsrvr/streamctl/internal/properties"
	"github.com/withobsrvr/streamctl/internal/reconciler"
	"github.com/withobsrvr/streamctl/internal/registry"
)

const (
	// maxProcessors is the chain length above which a warning is raised.
	maxProcessors = 5
	floatingTag   = "latest"
)

// ValidationResult represents the result of pipeline validation
type ValidationResult struct {
	Valid        bool                `json:"valid" yaml:"valid"`
	Errors       []ValidationError   `json:"errors" yaml:"errors"`
	Warnings     []ValidationWarning `json:"warnings" yaml:"warnings"`
	Hints        []string            `json:"hints" yaml:"hints"`
	Environments []string            `json:"environments" yaml:"environments"`
	pipeline     *model.Pipeline
}

// ValidationError represents a validation error
type ValidationError struct {
	Field       string `json:"field,omitempty" yaml:"field,omitempty"`
	Environment string `json:"environment,omitempty" yaml:"environment,omitempty"`
	Message     string `json:"message" yaml:"message"`
	Fix         string `json:"fix,omitempty" yaml:"fix,omitempty"`
}

// ValidationWarning represents a validation warning
type ValidationWarning struct {
	Field   string `json:"field,omitempty" yaml:"field,omitempty"`
	Message string `json:"message" yaml:"message"`
	Hint    string `json:"hint,omitempty" yaml:"hint,omitempty"`
}

// Validator validates pipeline files
type Validator struct {
	pipeline *model.Pipeline
	opts     reconciler.Options
}

// NewValidator creates a validator that compiles with opts.
func NewValidator(pipeline *model.Pipeline, opts reconciler.Options) *Validator {
	return &Validator{
		pipeline: pipeline,
		opts:     opts,
	}
}

// Validate performs all validation checks
func (v *Validator) Validate() *ValidationResult {
	result := &ValidationResult{
		Valid:        true,
		Errors:       []ValidationError{},
		Warnings:     []ValidationWarning{},
		Hints:        []string{},
		Environments: []string{},
		pipeline:     v.pipeline,
	}

	v.validateEnvironments(result)
	v.validateLocators(result)
	v.validateProcessorChain(result)
	v.validateOverlays(result)
	v.validateSharedProperties(result)

	result.Valid = len(result.Errors) == 0
	return result
}

// validateEnvironments runs the full pre-flight for the base properties and
// each environment. An error already reported for the base is not repeated
// per environment.
func (v *Validator) validateEnvironments(result *ValidationResult) {
	seen := make(map[string]bool)
	envs := append([]string{""}, v.pipeline.EnvironmentNames()...)

	for _, env := range envs {
		if env != "" {
			result.Environments = append(result.Environments, env)
		}
		err := v.compile(env)
		if err == nil {
			continue
		}
		verr := toValidationError(err)
		key := verr.Field + "\x00" + verr.Message
		if seen[key] {
			continue
		}
		seen[key] = true
		verr.Environment = env
		result.Errors = append(result.Errors, verr)
	}
}

func (v *Validator) compile(env string) error {
	props, err := v.pipeline.ResolveProperties(model.Sources{Environment: env})
	if err != nil {
		return err
	}
	d, err := reconciler.DesiredFromPipeline(v.pipeline, props)
	if err != nil {
		return err
	}
	_, err = reconciler.Compile(d, v.opts)
	return err
}

func toValidationError(err error) ValidationError {
	var cerr *errdefs.ConfigError
	if !errors.As(err, &cerr) {
		return ValidationError{Message: err.Error()}
	}
	msg := cerr.Reason
	if cerr.Err != nil {
		if msg != "" {
			msg += ": "
		}
		msg += cerr.Err.Error()
	}
	return ValidationError{Field: cerr.Field, Message: msg, Fix: fixFor(cerr.Field)}
}

func fixFor(field string) string {
	switch {
	case field == "metadata.name":
		return "Use a name that starts with a letter and contains only letters, digits, '-' and '_'"
	case strings.HasSuffix(field, ".name"):
		return "Give every component a unique name that starts with a letter and contains only letters, digits, '-' and '_'"
	case strings.HasSuffix(field, ".type"):
		return "Order components as one source, any number of processors, then one sink"
	case strings.HasSuffix(field, ".uri"):
		return "Use docker:, maven://, file: or http(s):// locators"
	case field == "spec.components":
		return "Add a source and a sink component"
	case field == "spec.required":
		return "Set the property under spec.properties or in every environment"
	case field == "spec.properties":
		return "Scope properties by component name or '*'"
	}
	return ""
}

// validateLocators flags artifacts that make redeploys unpredictable.
func (v *Validator) validateLocators(result *ValidationResult) {
	for i, c := range v.pipeline.Spec.Components {
		loc, err := registry.ParseLocator(c.URI, v.opts.Locators)
		if err != nil {
			continue
		}
		field := fmt.Sprintf("spec.components[%d].uri", i)

		switch loc.Scheme {
		case registry.SchemeDocker:
			if tag, ok := loc.Image.(name.Tag); ok && tag.TagStr() == floatingTag {
				result.Warnings = append(result.Warnings, ValidationWarning{
					Field:   field,
					Message: fmt.Sprintf("Component '%s' uses the floating tag '%s'", c.Name, floatingTag),
					Hint:    "Pin a version tag or digest so a changed image is detected as a changed component",
				})
			}
		case registry.SchemeHTTP:
			result.Warnings = append(result.Warnings, ValidationWarning{
				Field:   field,
				Message: fmt.Sprintf("Component '%s' is downloaded over plain http", c.Name),
				Hint:    "Serve the artifact over https",
			})
		case registry.SchemeFile:
			result.Hints = append(result.Hints, fmt.Sprintf("Component '%s' is read from the control plane host: %s", c.Name, loc.URL.Path))
		}
	}
}

// validateProcessorChain checks processor chain length
func (v *Validator) validateProcessorChain(result *ValidationResult) {
	comps := v.pipeline.Spec.Components
	if len(comps) < 2 {
		return // reported by the pre-flight
	}
	numProcessors := len(comps) - 2

	if numProcessors == 0 {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "spec.components",
			Message: "No processors defined",
			Hint:    "Records flow from the source straight into the sink",
		})
		return
	}

	if numProcessors > maxProcessors {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "spec.components",
			Message: fmt.Sprintf("Long processor chain detected (%d processors)", numProcessors),
			Hint:    "Every processor is a separate deployment and a network hop. Consider splitting into separate pipelines",
		})
	}

	if numProcessors >= 2 {
		names := make([]string, numProcessors)
		for i, c := range comps[1 : len(comps)-1] {
			names[i] = c.Name
		}
		result.Hints = append(result.Hints, "Processor chaining enabled: records flow through "+strings.Join(names, " -> "))
	}
}

// validateOverlays flags environment properties that repeat the base value.
func (v *Validator) validateOverlays(result *ValidationResult) {
	base := v.pipeline.Spec.Properties.Set()
	for _, env := range v.pipeline.EnvironmentNames() {
		overlay := v.pipeline.Spec.Environments[env].Set()
		for _, p := range overlay.Entries() {
			if value, ok := base.Get(p.Scope, p.Key); ok && value == p.Value {
				result.Warnings = append(result.Warnings, ValidationWarning{
					Field:   fmt.Sprintf("spec.environments.%s.%s.%s", env, p.Scope, p.Key),
					Message: fmt.Sprintf("Environment '%s' repeats the default value of %s.%s", env, p.Scope, p.Key),
					Hint:    "Remove the override",
				})
			}
		}
	}
}

func (v *Validator) validateSharedProperties(result *ValidationResult) {
	n := 0
	for _, p := range v.pipeline.Spec.Properties.Set().Entries() {
		if p.Scope == properties.AllScopes {
			n++
		}
	}
	if n > 0 {
		result.Hints = append(result.Hints, fmt.Sprintf("%d propert%s under '*' appl%s to every component unless a component sets its own",
			n, plural(n, "y", "ies"), plural(n, "ies", "y")))
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

// Format returns a human-readable string representation of the validation result
func (r *ValidationResult) Format() string {
	var sb strings.Builder

	if r.Valid {
		sb.WriteString("✓ Pipeline validation passed\n")
		sb.WriteString(fmt.Sprintf("  %d components, %d environment(s) checked", r.countComponents(), len(r.Environments)))

		if len(r.Warnings) > 0 || len(r.Hints) > 0 {
			sb.WriteString("\n")
		}
	} else {
		sb.WriteString(fmt.Sprintf("✗ Pipeline validation failed with %d error(s)\n", len(r.Errors)))
	}

	for _, err := range r.Errors {
		sb.WriteString(fmt.Sprintf("\nERROR: %s\n", err.Message))
		if err.Field != "" {
			sb.WriteString(fmt.Sprintf("  Field: %s\n", err.Field))
		}
		if err.Environment != "" {
			sb.WriteString(fmt.Sprintf("  Environment: %s\n", err.Environment))
		}
		if err.Fix != "" {
			sb.WriteString(fmt.Sprintf("  Fix: %s\n", err.Fix))
		}
	}

	for _, warn := range r.Warnings {
		sb.WriteString(fmt.Sprintf("\nWARNING: %s\n", warn.Message))
		if warn.Field != "" {
			sb.WriteString(fmt.Sprintf("  Field: %s\n", warn.Field))
		}
		if warn.Hint != "" {
			sb.WriteString(fmt.Sprintf("  Hint: %s\n", warn.Hint))
		}
	}

	if len(r.Hints) > 0 {
		sb.WriteString("\n")
		for _, hint := range r.Hints {
			sb.WriteString(fmt.Sprintf("💡 %s\n", hint))
		}
	}

	return sb.String()
}

func (r *ValidationResult) countComponents() int {
	if r.pipeline == nil {
		return 0
	}
	return len(r.pipeline.Spec.Components)
}
