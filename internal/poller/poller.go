// Package poller waits for remote state to converge on a predicate.
package poller

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/withobsrvr/streamctl/internal/errdefs"
	"github.com/withobsrvr/streamctl/internal/utils/logger"
)

// Policy bounds a wait.
type Policy struct {
	Interval time.Duration
	Timeout  time.Duration
}

// Validate rejects policies that would never evaluate or never stop.
func (p Policy) Validate() error {
	if p.Interval <= 0 {
		return errdefs.Configf("poll.interval", "must be positive, got %s", p.Interval)
	}
	if p.Timeout <= 0 {
		return errdefs.Configf("poll.timeout", "must be positive, got %s", p.Timeout)
	}
	return nil
}

// Condition reports whether the awaited state holds. A non-nil error stops
// the wait and is returned unchanged, unless it was caused by the wait's own
// deadline expiring under the condition.
type Condition func(ctx context.Context) (bool, error)

// WaitFor evaluates cond immediately and then every policy.Interval until it
// returns true, returns an error, or policy.Timeout elapses. A timeout is
// reported as *errdefs.ConvergenceTimeoutError naming what.
func WaitFor(ctx context.Context, what string, policy Policy, cond Condition) error {
	if err := policy.Validate(); err != nil {
		return err
	}

	log := logger.Named("poller").With(zap.String("what", what))
	start := time.Now()
	checks := 0

	var (
		condErr error
		expired bool
	)
	err := wait.PollUntilContextTimeout(ctx, policy.Interval, policy.Timeout, true, func(pollCtx context.Context) (bool, error) {
		checks++
		done, err := cond(pollCtx)
		if err != nil {
			condErr = err
			// a lookup cut short by the poll deadline is a timeout, not a failure
			expired = pollCtx.Err() != nil && ctx.Err() == nil
			return false, err
		}
		log.Debug("Checked condition",
			zap.Int("check", checks),
			zap.Bool("done", done),
			zap.Duration("elapsed", time.Since(start)))
		return done, nil
	})
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return fmt.Errorf("waiting for %s: %w", what, ctx.Err())
	case condErr != nil && !expired:
		return condErr
	case expired || wait.Interrupted(err):
		log.Warn("Condition did not converge",
			zap.Int("checks", checks),
			zap.Duration("timeout", policy.Timeout))
		return &errdefs.ConvergenceTimeoutError{What: what, Timeout: policy.Timeout, Err: err}
	default:
		return fmt.Errorf("waiting for %s: %w", what, err)
	}
}
