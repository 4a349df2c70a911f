// Package reconciler drives a pipeline on the control plane to its desired
// state through an ordered plan of idempotent steps:
//
//	Teardown -> UnregisterComponents -> RegisterComponents -> CreateDefinition -> Deploy
//
// Every run re-derives state from the control plane; nothing is carried
// between runs. The first failing step aborts the plan and the result names
// it. Re-running is always safe.
package reconciler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/withobsrvr/streamctl/internal/compiler"
	"github.com/withobsrvr/streamctl/internal/errdefs"
	"github.com/withobsrvr/streamctl/internal/poller"
	"github.com/withobsrvr/streamctl/internal/registry"
	"github.com/withobsrvr/streamctl/internal/utils/logger"
)

// Options tune a Reconciler.
type Options struct {
	// Poll bounds the waits for deleted resources to disappear.
	Poll poller.Policy
	// ReadyTimeout bounds the readiness wait when WaitReady is set. The
	// interval is Poll.Interval.
	ReadyTimeout time.Duration
	// WaitReady makes Deploy wait until the deployment reports deployed.
	WaitReady bool
	// ForceRegister re-registers a component with force=true when the
	// control plane reports it already registered under another artifact.
	ForceRegister bool
	// Redeploy tears down and unregisters every referenced resource even
	// when it already matches the desired state.
	Redeploy bool
	Locators registry.ParseOptions
	Compiler []compiler.Option
}

// DefaultOptions polls every 2s for up to a minute and waits up to five
// minutes for readiness.
func DefaultOptions() Options {
	return Options{
		Poll:         poller.Policy{Interval: 2 * time.Second, Timeout: time.Minute},
		ReadyTimeout: 5 * time.Minute,
	}
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithObserver registers fn to receive step events. Observers run
// synchronously on the reconciling goroutine.
func WithObserver(fn func(Event)) Option {
	return func(r *Reconciler) {
		r.observers = append(r.observers, fn)
	}
}

// Reconciler sequences the plan against one control plane.
type Reconciler struct {
	cp        ControlPlane
	opts      Options
	observers []func(Event)
}

// New creates a Reconciler driving cp.
func New(cp ControlPlane, opts Options, extra ...Option) *Reconciler {
	r := &Reconciler{cp: cp, opts: opts}
	for _, o := range extra {
		o(r)
	}
	return r
}

type stepFunc func(ctx context.Context, p *plan, run *runState) error

// runState is the mutable state of one step invocation.
type runState struct {
	result *Result
	record *StepRecord
	force  bool
	log    *zap.Logger
}

func (r *runState) conflict(c *errdefs.ConflictError) {
	r.result.Conflicts = append(r.result.Conflicts, c)
}

// Reconcile brings d to the Deployed state. The returned error is also
// stored in Result.Err; it wraps an *errdefs.StepError naming the failing
// step.
func (r *Reconciler) Reconcile(ctx context.Context, d *Desired) (*Result, error) {
	res := newResult(d)
	p, err := validate(d, r.opts)
	if err != nil {
		return r.abort(res, StepValidate, err)
	}

	steps := []struct {
		step Step
		fn   stepFunc
	}{
		{StepTeardown, r.teardown},
		{StepUnregisterComponents, r.unregisterComponents},
		{StepRegisterComponents, r.registerComponents},
		{StepCreateDefinition, r.createDefinition},
		{StepDeploy, r.deploy},
	}
	for _, s := range steps {
		if err := r.runStep(ctx, res, p, s.step, r.opts.Redeploy, s.fn); err != nil {
			return r.abort(res, s.step, err)
		}
	}
	return r.finish(res, PhaseDeployed), nil
}

// Destroy undeploys and deletes the pipeline definition and unregisters its
// components. Properties are not validated.
func (r *Reconciler) Destroy(ctx context.Context, d *Desired) (*Result, error) {
	res := newResult(d)
	p, err := validateShape(d, r.opts.Locators)
	if err != nil {
		return r.abort(res, StepValidate, err)
	}

	if err := r.runStep(ctx, res, p, StepTeardown, true, r.teardown); err != nil {
		return r.abort(res, StepTeardown, err)
	}
	if err := r.runStep(ctx, res, p, StepUnregisterComponents, true, r.unregisterComponents); err != nil {
		return r.abort(res, StepUnregisterComponents, err)
	}
	return r.finish(res, PhaseNotPresent), nil
}

func newResult(d *Desired) *Result {
	res := &Result{FinalState: PhaseNotPresent, Started: time.Now()}
	if d != nil {
		res.Pipeline = d.Name
	}
	return res
}

func (r *Reconciler) runStep(ctx context.Context, res *Result, p *plan, step Step, force bool, fn stepFunc) error {
	res.FinalState = phaseOf(step)
	rec := &StepRecord{Step: step, Outcome: OutcomeApplied, Started: time.Now()}
	log := logger.Named("reconciler").With(zap.String("pipeline", p.name), zap.String("step", string(step)))

	r.emit(Event{Pipeline: p.name, Step: step, Phase: res.FinalState, Kind: EventStepStarted, At: rec.Started})
	log.Debug("Step started")

	err := fn(ctx, p, &runState{result: res, record: rec, force: force, log: log})
	rec.Duration = time.Since(rec.Started)
	if err != nil {
		rec.Outcome = OutcomeFailed
		rec.Error = err.Error()
		log.Error("Step failed", zap.Duration("duration", rec.Duration), zap.Error(err))
	} else {
		log.Info("Step finished",
			zap.String("outcome", string(rec.Outcome)),
			zap.String("detail", rec.Detail),
			zap.Duration("duration", rec.Duration))
	}

	res.Steps = append(res.Steps, *rec)
	r.emit(Event{Pipeline: p.name, Step: step, Phase: res.FinalState, Kind: EventStepFinished, Record: rec, At: time.Now()})
	return err
}

func (r *Reconciler) abort(res *Result, step Step, err error) (*Result, error) {
	res.FinalState = PhaseFailed
	res.Duration = time.Since(res.Started)
	res.Err = &errdefs.StepError{Step: string(step), Err: err}
	return res, res.Err
}

func (r *Reconciler) finish(res *Result, phase Phase) *Result {
	res.FinalState = phase
	res.Duration = time.Since(res.Started)
	return res
}

func (r *Reconciler) emit(ev Event) {
	for _, fn := range r.observers {
		fn(ev)
	}
}

func (r *Reconciler) readyPolicy() poller.Policy {
	timeout := r.opts.ReadyTimeout
	if timeout <= 0 {
		timeout = r.opts.Poll.Timeout
	}
	return poller.Policy{Interval: r.opts.Poll.Interval, Timeout: timeout}
}
