package reconciler

import (
	"context"
	"time"

	"github.com/withobsrvr/streamctl/internal/api"
	"github.com/withobsrvr/streamctl/internal/errdefs"
	"github.com/withobsrvr/streamctl/internal/properties"
)

// Step names one stage of the reconciliation plan.
type Step string

const (
	StepValidate             Step = "Validate"
	StepTeardown             Step = "Teardown"
	StepUnregisterComponents Step = "UnregisterComponents"
	StepRegisterComponents   Step = "RegisterComponents"
	StepCreateDefinition     Step = "CreateDefinition"
	StepDeploy               Step = "Deploy"
)

// Phase is the reconciler's position in the lifecycle state machine.
type Phase string

const (
	PhaseNotPresent              Phase = "NotPresent"
	PhaseTearingDown             Phase = "TearingDown"
	PhaseComponentsUnregistering Phase = "ComponentsUnregistering"
	PhaseComponentsRegistering   Phase = "ComponentsRegistering"
	PhaseDefinitionCreating      Phase = "DefinitionCreating"
	PhaseDeploying               Phase = "Deploying"
	PhaseDeployed                Phase = "Deployed"
	PhaseFailed                  Phase = "Failed"
)

// phaseOf is the phase entered when step starts.
func phaseOf(step Step) Phase {
	switch step {
	case StepTeardown:
		return PhaseTearingDown
	case StepUnregisterComponents:
		return PhaseComponentsUnregistering
	case StepRegisterComponents:
		return PhaseComponentsRegistering
	case StepCreateDefinition:
		return PhaseDefinitionCreating
	case StepDeploy:
		return PhaseDeploying
	}
	return PhaseNotPresent
}

// State is the observed state of a pipeline on the control plane.
type State string

const (
	StateAbsent    State = "Absent"
	StatePresent   State = "Present"
	StateDeploying State = "Deploying"
	StateDeployed  State = "Deployed"
	StateFailed    State = "Failed"
)

// Outcome is what a step did.
type Outcome string

const (
	OutcomeApplied      Outcome = "Applied"
	OutcomeNoOp         Outcome = "NoOp"
	OutcomeSoftConflict Outcome = "SoftConflict"
	OutcomeFailed       Outcome = "Failed"
)

// StepRecord is one entry of a run's step log.
type StepRecord struct {
	Step     Step          `json:"step" yaml:"step"`
	Outcome  Outcome       `json:"outcome" yaml:"outcome"`
	Detail   string        `json:"detail,omitempty" yaml:"detail,omitempty"`
	Error    string        `json:"error,omitempty" yaml:"error,omitempty"`
	Started  time.Time     `json:"started" yaml:"started"`
	Duration time.Duration `json:"duration" yaml:"duration"`
}

// Result is the outcome of a Reconcile or Destroy run.
type Result struct {
	Pipeline   string                   `json:"pipeline" yaml:"pipeline"`
	FinalState Phase                    `json:"finalState" yaml:"finalState"`
	Steps      []StepRecord             `json:"steps" yaml:"steps"`
	Conflicts  []*errdefs.ConflictError `json:"conflicts,omitempty" yaml:"conflicts,omitempty"`
	Started    time.Time                `json:"started" yaml:"started"`
	Duration   time.Duration            `json:"duration" yaml:"duration"`
	Err        error                    `json:"-" yaml:"-"`
}

// StepOrder returns the steps in the order they ran.
func (r *Result) StepOrder() []Step {
	steps := make([]Step, 0, len(r.Steps))
	for _, s := range r.Steps {
		steps = append(steps, s.Step)
	}
	return steps
}

// Component is one desired pipeline stage.
type Component struct {
	Name string
	Kind api.ComponentKind
	URI  string
}

// Desired is the target state of one pipeline.
type Desired struct {
	Name       string
	Components []Component
	Properties *properties.Set
	// Required properties must resolve, per component, before any remote
	// call is made.
	Required   []properties.Address
}

// EventKind distinguishes step start and finish events.
type EventKind string

const (
	EventStepStarted  EventKind = "started"
	EventStepFinished EventKind = "finished"
)

// Event is delivered to observers as steps run.
type Event struct {
	Pipeline string
	Step     Step
	Phase    Phase
	Kind     EventKind
	// Record is set on finish events.
	Record   *StepRecord
	At       time.Time
}

// ControlPlane is the subset of the control-plane API the reconciler drives.
type ControlPlane interface {
	LookupComponent(ctx context.Context, kind api.ComponentKind, name string) (*api.Component, error)
	RegisterComponent(ctx context.Context, kind api.ComponentKind, name, uri string, force bool) error
	UnregisterComponent(ctx context.Context, kind api.ComponentKind, name string) error
	LookupDefinition(ctx context.Context, name string) (*api.Definition, error)
	CreateDefinition(ctx context.Context, name, dsl string) error
	DeleteDefinition(ctx context.Context, name string) error
	Deploy(ctx context.Context, name string, payload any) error
	Undeploy(ctx context.Context, name string) error
	InspectDeployment(ctx context.Context, name string) (*api.Deployment, error)
}
