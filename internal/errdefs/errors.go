// Package errdefs defines the error taxonomy shared by the compiler, the
// control-plane client, the poller and the reconciler.
package errdefs

import (
	"errors"
	"fmt"
	"time"
)

// ConfigError reports a malformed or missing property or pipeline field.
// It is always fatal and is raised before any remote call is made.
type ConfigError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	msg := "configuration error"
	if e.Field != "" {
		msg += " in " + e.Field
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Configf builds a ConfigError for field with a formatted reason.
func Configf(field, format string, args ...any) error {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// TransportError is returned once the retry budget for a request is spent on
// network failures or retryable status codes.
type TransportError struct {
	Op       string
	Attempts int
	Status   int
	Err      error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s failed after %d attempts (last status %d): %v", e.Op, e.Attempts, e.Status, e.Err)
	}
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ConflictError reports a remote resource that exists in a state incompatible
// with the desired one. Soft conflicts are recorded by the reconciler and do
// not abort the run.
type ConflictError struct {
	Kind   string
	Name   string
	Detail string
	Soft   bool
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %q conflicts with existing resource: %s", e.Kind, e.Name, e.Detail)
}

// ConvergenceTimeoutError is returned when a polled condition never held
// within its timeout.
type ConvergenceTimeoutError struct {
	What    string
	Timeout time.Duration
	Err     error
}

func (e *ConvergenceTimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for %s", e.Timeout, e.What)
}

func (e *ConvergenceTimeoutError) Unwrap() error { return e.Err }

// StepError attaches the failing reconciliation step to its cause.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// IsConfig reports whether err is or wraps a ConfigError.
func IsConfig(err error) bool {
	var target *ConfigError
	return errors.As(err, &target)
}

// IsTransport reports whether err is or wraps a TransportError.
func IsTransport(err error) bool {
	var target *TransportError
	return errors.As(err, &target)
}

// IsConflict reports whether err is or wraps a ConflictError.
func IsConflict(err error) bool {
	var target *ConflictError
	return errors.As(err, &target)
}

// IsConvergenceTimeout reports whether err is or wraps a ConvergenceTimeoutError.
func IsConvergenceTimeout(err error) bool {
	var target *ConvergenceTimeoutError
	return errors.As(err, &target)
}

// FailedStep returns the step name carried by err, if any.
func FailedStep(err error) (string, bool) {
	var target *StepError
	if errors.As(err, &target) {
		return target.Step, true
	}
	return "", false
}
