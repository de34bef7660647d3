// Package retry implements the BOSS Retry Engine (spec.md §4.2): it wraps a
// fallible resolver call in a bounded retry loop with pluggable backoff,
// grounded on original_source/boss/core/task_retry.py's TaskRetryManager
// and adapted to the teacher's context-first, channel-free concurrency
// style.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/risa-labs-inc/boss/pkg/task"
)

// Strategy is the backoff strategy used between attempts.
type Strategy int

const (
	Constant Strategy = iota
	Linear
	Exponential
	Fibonacci
	Jittered
)

// Policy configures a single Retry Engine call.
type Policy struct {
	MaxAttempts  int // >= 1
	Strategy     Strategy
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64 // 0.0-1.0, only consulted for Jittered

	// Retryable decides whether a given error kind should be retried. If
	// nil, task.DefaultRetryable is used.
	Retryable func(task.ErrorKind) bool
}

func (p Policy) retryable(k task.ErrorKind) bool {
	if p.Retryable != nil {
		return p.Retryable(k)
	}
	return task.DefaultRetryable(k)
}

// Outcome is the terminal result of Call: either a successful value or the
// last TaskError, annotated with the number of attempts made.
type Outcome[T any] struct {
	Value    T
	Err      *task.TaskError
	Attempts int
}

var (
	fibCacheMu sync.Mutex
	fibCache   = map[int]int64{0: 0, 1: 1}
)

func fibonacci(n int) int64 {
	fibCacheMu.Lock()
	defer fibCacheMu.Unlock()
	return fibonacciLocked(n)
}

// fibonacciLocked must be called with fibCacheMu held.
func fibonacciLocked(n int) int64 {
	if v, ok := fibCache[n]; ok {
		return v
	}
	v := fibonacciLocked(n-1) + fibonacciLocked(n-2)
	fibCache[n] = v
	return v
}

// delayFor computes the clamped delay before the given attempt (1-indexed
// retry number, i.e. the delay before the 2nd, 3rd, ... invocation).
func delayFor(p Policy, attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	var d time.Duration
	switch p.Strategy {
	case Constant:
		d = p.BaseDelay
	case Linear:
		d = p.BaseDelay * time.Duration(attempt)
	case Exponential:
		d = time.Duration(float64(p.BaseDelay) * math.Pow(2, float64(attempt-1)))
	case Fibonacci:
		d = time.Duration(int64(p.BaseDelay) * fibonacci(attempt))
	case Jittered:
		base := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
		jitter := (rand.Float64()*2 - 1) * p.JitterFactor * base
		d = time.Duration(base + jitter)
		if d < 0 {
			d = 0
		}
	default:
		d = time.Duration(float64(p.BaseDelay) * math.Pow(2, float64(attempt-1)))
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Fn is a fallible call driven by the Retry Engine. Panics inside Fn are
// recovered and surfaced as a non-retryable Internal TaskError, never
// escaping past Call's boundary (§4.1 contract rule).
type Fn[T any] func(ctx context.Context, attempt int) (T, *task.TaskError)

// Call drives fn to completion under policy, honoring ctx cancellation at
// every suspension point (the inter-attempt sleep). Cancellation always
// wins over a would-be success or retry when both race (spec.md §4.2 tie-break).
func Call[T any](ctx context.Context, policy Policy, fn Fn[T]) Outcome[T] {
	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var zero T
	var lastErr *task.TaskError

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Outcome[T]{Err: cancelledError(attempt - 1), Attempts: attempt - 1}
		}

		value, callErr := invoke(ctx, fn, attempt)
		if callErr == nil {
			return Outcome[T]{Value: value, Attempts: attempt}
		}
		lastErr = callErr

		if !policy.retryable(callErr.Kind) {
			lastErr.Attempts = attempt
			return Outcome[T]{Value: zero, Err: lastErr, Attempts: attempt}
		}
		if attempt == maxAttempts {
			break
		}

		delay := delayFor(policy, attempt)
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return Outcome[T]{Err: cancelledError(attempt), Attempts: attempt}
			case <-timer.C:
			}
		} else if err := ctx.Err(); err != nil {
			return Outcome[T]{Err: cancelledError(attempt), Attempts: attempt}
		}
	}

	lastErr.Attempts = maxAttempts
	lastErr.Message = fmt.Sprintf("failed after %d attempts: %s", maxAttempts, lastErr.Message)
	return Outcome[T]{Value: zero, Err: lastErr, Attempts: maxAttempts}
}

func cancelledError(attempts int) *task.TaskError {
	e := task.NewTaskError(task.ErrorKindCancelled, "retry cancelled", context.Canceled)
	e.Retryable = false
	e.Attempts = attempts
	return e
}

// invoke runs fn once, converting a panic into an Internal, non-retryable
// TaskError rather than letting it escape (§4.1).
func invoke[T any](ctx context.Context, fn Fn[T], attempt int) (value T, callErr *task.TaskError) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			callErr = task.NewTaskError(task.ErrorKindInternal, err.Error(), err)
			callErr.Retryable = false
		}
	}()
	return fn(ctx, attempt)
}

// ErrPolicyInvalid is returned by Validate for a malformed Policy.
var ErrPolicyInvalid = errors.New("retry: invalid policy")

// Validate checks MaxAttempts/JitterFactor are in range.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("%w: maxAttempts must be >= 1", ErrPolicyInvalid)
	}
	if p.JitterFactor < 0 || p.JitterFactor > 1 {
		return fmt.Errorf("%w: jitterFactor must be in [0,1]", ErrPolicyInvalid)
	}
	return nil
}
