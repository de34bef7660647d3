package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/risa-labs-inc/boss/pkg/task"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// S2 — retry then succeed.
func TestRetryThenSucceed(t *testing.T) {
	calls := 0
	policy := Policy{MaxAttempts: 3, Strategy: Constant, BaseDelay: 10 * time.Millisecond}

	start := time.Now()
	out := Call(context.Background(), policy, func(ctx context.Context, attempt int) (string, *task.TaskError) {
		calls++
		if calls < 3 {
			return "", task.NewTaskError(task.ErrorKindNetwork, "flaky", nil)
		}
		return "ok", nil
	})
	elapsed := time.Since(start)

	require.Nil(t, out.Err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, "ok", out.Value)
	assert.GreaterOrEqual(t, elapsed, 20*time.Millisecond)
}

// S3 — retry exhaustion.
func TestRetryExhaustion(t *testing.T) {
	calls := 0
	policy := Policy{MaxAttempts: 2, Strategy: Constant, BaseDelay: 0}

	out := Call(context.Background(), policy, func(ctx context.Context, attempt int) (string, *task.TaskError) {
		calls++
		return "", task.NewTaskError(task.ErrorKindNetwork, "always fails", nil)
	})

	assert.Equal(t, 2, calls)
	require.NotNil(t, out.Err)
	assert.Equal(t, task.ErrorKindNetwork, out.Err.Kind)
	assert.Equal(t, 2, out.Err.Attempts)
}

func TestNonRetryableReturnsImmediately(t *testing.T) {
	calls := 0
	policy := Policy{MaxAttempts: 5, Strategy: Constant, BaseDelay: 0}

	out := Call(context.Background(), policy, func(ctx context.Context, attempt int) (string, *task.TaskError) {
		calls++
		return "", task.NewTaskError(task.ErrorKindValidation, "bad input", nil)
	})

	assert.Equal(t, 1, calls)
	assert.Equal(t, task.ErrorKindValidation, out.Err.Kind)
}

func TestMaxAttemptsOneMeansNoRetries(t *testing.T) {
	calls := 0
	policy := Policy{MaxAttempts: 1, Strategy: Constant, BaseDelay: time.Second}

	Call(context.Background(), policy, func(ctx context.Context, attempt int) (string, *task.TaskError) {
		calls++
		return "", task.NewTaskError(task.ErrorKindNetwork, "x", nil)
	})
	assert.Equal(t, 1, calls)
}

func TestCancellationWinsOverRetry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := Policy{MaxAttempts: 10, Strategy: Constant, BaseDelay: 50 * time.Millisecond}

	calls := 0
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	out := Call(ctx, policy, func(ctx context.Context, attempt int) (string, *task.TaskError) {
		calls++
		return "", task.NewTaskError(task.ErrorKindNetwork, "x", nil)
	})

	require.NotNil(t, out.Err)
	assert.Equal(t, task.ErrorKindCancelled, out.Err.Kind)
	assert.False(t, out.Err.Retryable)
}

func TestPanicBecomesInternalNonRetryable(t *testing.T) {
	policy := Policy{MaxAttempts: 3, Strategy: Constant, BaseDelay: 0}

	out := Call(context.Background(), policy, func(ctx context.Context, attempt int) (string, *task.TaskError) {
		panic("boom")
	})

	require.NotNil(t, out.Err)
	assert.Equal(t, task.ErrorKindInternal, out.Err.Kind)
	assert.False(t, out.Err.Retryable)
	assert.Equal(t, 1, out.Attempts)
}

func TestDelayForStrategies(t *testing.T) {
	base := 10 * time.Millisecond
	assert.Equal(t, base, delayFor(Policy{Strategy: Constant, BaseDelay: base}, 1))
	assert.Equal(t, 3*base, delayFor(Policy{Strategy: Linear, BaseDelay: base}, 3))
	assert.Equal(t, 4*base, delayFor(Policy{Strategy: Exponential, BaseDelay: base}, 3))
	assert.Equal(t, 2*base, delayFor(Policy{Strategy: Fibonacci, BaseDelay: base}, 3))

	capped := delayFor(Policy{Strategy: Exponential, BaseDelay: base, MaxDelay: 2 * base}, 10)
	assert.Equal(t, 2*base, capped)
}
