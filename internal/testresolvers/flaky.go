package testresolvers

import (
	"context"
	"sync/atomic"

	"github.com/risa-labs-inc/boss/internal/resolver"
	"github.com/risa-labs-inc/boss/pkg/task"
)

// Flaky fails its first FailCount calls with a retryable error, then
// succeeds on every call after — grounding the S2 "retry then succeed"
// scenario (spec.md §8). A FailCount of 0 never fails. Setting
// AlwaysFail makes it fail forever, grounding S3's exhausted-retries
// scenario instead.
type Flaky struct {
	name       string
	version    resolver.Version
	FailCount  int
	AlwaysFail bool
	ErrorKind  task.ErrorKind

	calls atomic.Int64
}

// NewFlaky builds a Flaky resolver that fails its first failCount calls
// with a retryable Network error before succeeding.
func NewFlaky(name string, version resolver.Version, failCount int) *Flaky {
	return &Flaky{name: name, version: version, FailCount: failCount, ErrorKind: task.ErrorKindNetwork}
}

func (f *Flaky) Resolve(ctx context.Context, t *task.Task) *task.Task {
	if err := ctx.Err(); err != nil {
		_ = t.SetError(*task.NewTaskError(task.ErrorKindCancelled, "context cancelled", err))
		return t
	}

	n := f.calls.Add(1)
	if f.AlwaysFail || int(n) <= f.FailCount {
		_ = t.SetError(*task.NewTaskError(f.ErrorKind, "flaky resolver: simulated failure", nil))
		return t
	}
	_ = t.SetResult(task.TaskResult{Data: t.Input()})
	return t
}

func (f *Flaky) HealthCheck(ctx context.Context) (resolver.HealthStatus, map[string]any) {
	if f.AlwaysFail {
		return resolver.HealthUnhealthy, nil
	}
	return resolver.HealthHealthy, nil
}

func (f *Flaky) Metadata() resolver.Metadata {
	return resolver.Metadata{
		Name:         f.name,
		Version:      f.version,
		Description:  "fails its first N calls, then succeeds",
		Tags:         map[string]struct{}{"demo": {}, "flaky": {}},
		Capabilities: map[string]struct{}{"flaky.respond": {}},
	}
}
