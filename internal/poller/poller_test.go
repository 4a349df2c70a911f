package poller

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withobsrvr/streamctl/internal/errdefs"
	"github.com/withobsrvr/streamctl/internal/testfixtures"
)

func TestWaitForImmediate(t *testing.T) {
	testfixtures.UseTestLogger(t)
	calls := 0
	err := WaitFor(context.Background(), "ready", Policy{Interval: time.Hour, Timeout: time.Hour}, func(context.Context) (bool, error) {
		calls++
		return true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestWaitForEventually(t *testing.T) {
	testfixtures.UseTestLogger(t)
	calls := 0
	err := WaitFor(context.Background(), "ready", Policy{Interval: 5 * time.Millisecond, Timeout: 5 * time.Second}, func(context.Context) (bool, error) {
		calls++
		return calls == 3, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWaitForTimeoutIsBounded(t *testing.T) {
	testfixtures.UseTestLogger(t)
	policy := Policy{Interval: 20 * time.Millisecond, Timeout: 100 * time.Millisecond}

	start := time.Now()
	err := WaitFor(context.Background(), "component src absent", policy, func(context.Context) (bool, error) {
		return false, nil
	})
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, errdefs.IsConvergenceTimeout(err))
	assert.Contains(t, err.Error(), "component src absent")
	// allow scheduling slack on top of timeout + interval
	assert.Less(t, elapsed, policy.Timeout+policy.Interval+200*time.Millisecond)
}

func TestWaitForConditionErrorStops(t *testing.T) {
	testfixtures.UseTestLogger(t)
	boom := errors.New("boom")
	calls := 0
	err := WaitFor(context.Background(), "ready", Policy{Interval: time.Millisecond, Timeout: time.Second}, func(context.Context) (bool, error) {
		calls++
		return false, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, errdefs.IsConvergenceTimeout(err))
	assert.Equal(t, 1, calls)
}

func TestWaitForConditionCutShortByTimeout(t *testing.T) {
	testfixtures.UseTestLogger(t)
	policy := Policy{Interval: 5 * time.Millisecond, Timeout: 50 * time.Millisecond}

	err := WaitFor(context.Background(), "definition p1 to disappear", policy, func(ctx context.Context) (bool, error) {
		<-ctx.Done()
		return false, fmt.Errorf("GET /streams/definitions/p1: %w", ctx.Err())
	})
	require.Error(t, err)
	assert.True(t, errdefs.IsConvergenceTimeout(err), "got %v", err)
	assert.Contains(t, err.Error(), "definition p1 to disappear")
}

func TestWaitForParentDeadlineIsNotATimeout(t *testing.T) {
	testfixtures.UseTestLogger(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := WaitFor(ctx, "ready", Policy{Interval: time.Millisecond, Timeout: time.Minute}, func(ctx context.Context) (bool, error) {
		<-ctx.Done()
		return false, ctx.Err()
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, errdefs.IsConvergenceTimeout(err))
}

func TestWaitForParentCancellation(t *testing.T) {
	testfixtures.UseTestLogger(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := WaitFor(ctx, "ready", Policy{Interval: time.Millisecond, Timeout: time.Second}, func(context.Context) (bool, error) {
		return false, nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errdefs.IsConvergenceTimeout(err))
}

func TestPolicyValidate(t *testing.T) {
	assert.Error(t, Policy{Interval: 0, Timeout: time.Second}.Validate())
	assert.Error(t, Policy{Interval: time.Second}.Validate())
	assert.NoError(t, Policy{Interval: time.Second, Timeout: time.Second}.Validate())
}
