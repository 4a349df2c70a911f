// Package storage keeps a local journal of reconciliation runs so operators
// can see what a previous invocation changed.
package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/withobsrvr/streamctl/internal/errdefs"
	"github.com/withobsrvr/streamctl/internal/reconciler"
)

// Operations recorded in the journal.
const (
	OperationReconcile = "reconcile"
	OperationDestroy   = "destroy"
)

// StepEntry is the journaled form of one executed step.
type StepEntry struct {
	Step     string        `json:"step"`
	Outcome  string        `json:"outcome"`
	Detail   string        `json:"detail,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// RunRecord is one reconcile or destroy invocation.
type RunRecord struct {
	ID          string      `json:"id"`
	Pipeline    string      `json:"pipeline"`
	Operation   string      `json:"operation"`
	Environment string      `json:"environment,omitempty"`
	Source      string      `json:"source,omitempty"`
	Started     time.Time   `json:"started"`
	Finished    time.Time   `json:"finished"`
	FinalState  string      `json:"final_state"`
	FailedStep  string      `json:"failed_step,omitempty"`
	Error       string      `json:"error,omitempty"`
	Conflicts   []string    `json:"conflicts,omitempty"`
	Steps       []StepEntry `json:"steps"`
}

// Succeeded reports whether the run reached its target state.
func (r *RunRecord) Succeeded() bool {
	return r.Error == ""
}

// NewRunRecord converts a reconciler result into a journal entry with a
// fresh ID.
func NewRunRecord(operation string, res *reconciler.Result) *RunRecord {
	rec := &RunRecord{
		ID:         uuid.NewString(),
		Pipeline:   res.Pipeline,
		Operation:  operation,
		Started:    res.Started,
		Finished:   res.Started.Add(res.Duration),
		FinalState: string(res.FinalState),
		Steps:      make([]StepEntry, 0, len(res.Steps)),
	}
	for _, s := range res.Steps {
		rec.Steps = append(rec.Steps, StepEntry{
			Step:     string(s.Step),
			Outcome:  string(s.Outcome),
			Detail:   s.Detail,
			Error:    s.Error,
			Duration: s.Duration,
		})
	}
	for _, c := range res.Conflicts {
		rec.Conflicts = append(rec.Conflicts, c.Error())
	}
	if res.Err != nil {
		rec.Error = res.Err.Error()
		rec.FailedStep, _ = errdefs.FailedStep(res.Err)
	}
	return rec
}

// RunStorage persists run records.
type RunStorage interface {
	// Open initializes the storage and makes it ready for use
	Open() error

	// Close closes the storage and releases any resources
	Close() error

	// RecordRun stores a new run. A record without an ID gets one.
	RecordRun(ctx context.Context, run *RunRecord) error

	// UpdateRun applies updater to a stored run
	UpdateRun(ctx context.Context, runID string, updater func(*RunRecord) error) error

	// GetRun retrieves a run by its ID
	GetRun(ctx context.Context, runID string) (*RunRecord, error)

	// ListRuns returns runs newest first, optionally filtered by pipeline.
	// A limit of zero or less returns every match.
	ListRuns(ctx context.Context, pipeline string, limit int) ([]*RunRecord, error)

	// DeleteRun removes a run
	DeleteRun(ctx context.Context, runID string) error

	// Prune keeps the newest keep runs of pipeline and deletes the rest. It
	// returns the number of deleted runs.
	Prune(ctx context.Context, pipeline string, keep int) (int, error)
}

// ErrRunNotFound is returned when a run with the specified ID is not found
type ErrRunNotFound struct {
	RunID string
}

func (e ErrRunNotFound) Error() string {
	return "run not found: " + e.RunID
}

// IsNotFound returns true if the error is ErrRunNotFound
func IsNotFound(err error) bool {
	_, ok := err.(ErrRunNotFound)
	return ok
}
