package mastery

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/risa-labs-inc/boss/internal/registry"
	"github.com/risa-labs-inc/boss/internal/resolver"
	"github.com/risa-labs-inc/boss/pkg/task"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// echoResolver completes every task immediately, optionally recording
// concurrency high-water mark to assert fan-out actually overlaps.
type echoResolver struct {
	name       string
	capability string
	inFlight   *int32
	maxInFlight *int32
	delay      time.Duration
	fail       bool
}

func (e *echoResolver) Resolve(ctx context.Context, t *task.Task) *task.Task {
	if e.inFlight != nil {
		n := atomic.AddInt32(e.inFlight, 1)
		defer atomic.AddInt32(e.inFlight, -1)
		for {
			max := atomic.LoadInt32(e.maxInFlight)
			if n <= max || atomic.CompareAndSwapInt32(e.maxInFlight, max, n) {
				break
			}
		}
	}
	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-ctx.Done():
			_ = t.SetError(*task.NewTaskError(task.ErrorKindCancelled, "cancelled", ctx.Err()))
			return t
		}
	}
	if e.fail {
		_ = t.SetError(*task.NewTaskError(task.ErrorKindInternal, "forced failure", nil))
		return t
	}
	_ = t.SetResult(task.TaskResult{Data: map[string]any{"from": e.name}})
	return t
}

func (e *echoResolver) HealthCheck(ctx context.Context) (resolver.HealthStatus, map[string]any) {
	return resolver.HealthHealthy, nil
}

func (e *echoResolver) Metadata() resolver.Metadata {
	return resolver.Metadata{
		Name:         e.name,
		Capabilities: map[string]struct{}{e.capability: {}},
	}
}

func newRegistryWith(resolvers ...*echoResolver) *registry.TaskResolverRegistry {
	reg := registry.New()
	for _, r := range resolvers {
		_ = reg.Register(r)
	}
	return reg
}

// S4 — fan-out/fan-in: two independent steps run concurrently, a join step
// waits for both.
func TestExecutorFanOutFanIn(t *testing.T) {
	var inFlight, maxInFlight int32
	left := &echoResolver{name: "left", capability: "left.do", inFlight: &inFlight, maxInFlight: &maxInFlight, delay: 20 * time.Millisecond}
	right := &echoResolver{name: "right", capability: "right.do", inFlight: &inFlight, maxInFlight: &maxInFlight, delay: 20 * time.Millisecond}
	join := &echoResolver{name: "join", capability: "join.do"}

	reg := newRegistryWith(left, right, join)
	exec := NewExecutor(reg, ExecutorConfig{WorkerCount: 4})

	plan := &Plan{
		Name:    "fanout",
		Version: resolver.Version{Major: 1},
		Steps: []Step{
			{Name: "left", Selector: Selector{Capability: "left.do"}},
			{Name: "right", Selector: Selector{Capability: "right.do"}},
			{Name: "join", Selector: Selector{Capability: "join.do"}, DependsOn: []string{"left", "right"}},
		},
	}

	run, err := exec.Execute(context.Background(), plan, nil)
	require.NoError(t, err)
	assert.Equal(t, ExecutionCompleted, run.Status)
	assert.Equal(t, StepCompleted, run.Steps["join"].Status)
	assert.Equal(t, int32(2), atomic.LoadInt32(&maxInFlight), "left and right should have overlapped")
}

// S5 — cancellation propagation: a slow step's context is cancelled and
// the execution ends without completing.
func TestExecutorCancellationPropagates(t *testing.T) {
	slow := &echoResolver{name: "slow", capability: "slow.do", delay: 500 * time.Millisecond}
	reg := newRegistryWith(slow)
	exec := NewExecutor(reg, ExecutorConfig{WorkerCount: 2, StepTimeout: time.Second})

	plan := &Plan{
		Name:    "cancel-me",
		Version: resolver.Version{Major: 1},
		Steps:   []Step{{Name: "slow", Selector: Selector{Capability: "slow.do"}}},
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	run, err := exec.Execute(ctx, plan, nil)
	require.Error(t, err)
	assert.Equal(t, StepCancelled, run.Steps["slow"].Status)
}

func TestExecutorPropagatesFailureByDefault(t *testing.T) {
	bad := &echoResolver{name: "bad", capability: "bad.do", fail: true}
	reg := newRegistryWith(bad)
	exec := NewExecutor(reg, ExecutorConfig{WorkerCount: 2})

	plan := &Plan{
		Name:    "fail",
		Version: resolver.Version{Major: 1},
		Steps:   []Step{{Name: "bad", Selector: Selector{Capability: "bad.do"}, OnError: OnErrorPropagate}},
	}

	_, err := exec.Execute(context.Background(), plan, nil)
	assert.Error(t, err)
}

func TestExecutorSkipOptionalSkipsDependents(t *testing.T) {
	bad := &echoResolver{name: "bad", capability: "bad.do", fail: true}
	downstream := &echoResolver{name: "downstream", capability: "downstream.do"}
	reg := newRegistryWith(bad, downstream)
	exec := NewExecutor(reg, ExecutorConfig{WorkerCount: 2})

	plan := &Plan{
		Name:    "skip-optional",
		Version: resolver.Version{Major: 1},
		Steps: []Step{
			{Name: "bad", Selector: Selector{Capability: "bad.do"}, OnError: OnErrorSkipOptional},
			{Name: "downstream", Selector: Selector{Capability: "downstream.do"}, DependsOn: []string{"bad"}},
		},
	}

	run, err := exec.Execute(context.Background(), plan, nil)
	require.NoError(t, err)
	assert.Equal(t, StepFailed, run.Steps["bad"].Status)
	assert.Equal(t, StepSkipped, run.Steps["downstream"].Status)
	assert.Equal(t, ExecutionCompleted, run.Status)
}
