package mastery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/risa-labs-inc/boss/internal/registry"
	"github.com/risa-labs-inc/boss/internal/resolver"
	"github.com/risa-labs-inc/boss/internal/retry"
	"github.com/risa-labs-inc/boss/internal/ringlog"
	"github.com/risa-labs-inc/boss/pkg/task"
)

var log = slog.Default()

// ExecutorConfig configures an Executor, mirroring the shape of the
// teacher's controller.Config (worker count, per-step timeout, buffer
// size) generalized to the DAG-step domain.
type ExecutorConfig struct {
	WorkerCount int
	StepTimeout time.Duration
	BufferSize  int
	// HistoryCapacity bounds the in-memory execution history ring; 0 means
	// unbounded.
	HistoryCapacity int
	// RetryPolicy drives every step's resolver call through the Retry
	// Engine. The zero value (MaxAttempts 0) collapses to a single
	// attempt, so a caller that never sets this gets the old "call once"
	// behavior.
	RetryPolicy retry.Policy
}

func (c ExecutorConfig) withDefaults() ExecutorConfig {
	if c.WorkerCount <= 0 {
		c.WorkerCount = 4
	}
	if c.StepTimeout <= 0 {
		c.StepTimeout = 30 * time.Second
	}
	if c.BufferSize <= 0 {
		c.BufferSize = c.WorkerCount * 2
	}
	return c
}

// Executor is the C7 Mastery Executor (spec.md §4.6): it runs a Plan's DAG
// wave by wave — the dispatch/result split of the teacher's Controller
// (internal/controller/controller.go), collapsed from 4 continuously
// running loops into one per Execute call since a Plan's step count is
// finite and known up front, unlike the teacher's unbounded job queue.
// Fan-out within a wave uses the stepPool; fan-in is the wave's collection
// barrier.
type Executor struct {
	cfg        ExecutorConfig
	resolvers  *registry.TaskResolverRegistry
	history    *ringlog.Log[*Execution]
	onFailure  ResolverFailureFunc
}

// NewExecutor builds an Executor resolving steps against reg.
func NewExecutor(reg *registry.TaskResolverRegistry, cfg ExecutorConfig) *Executor {
	cfg = cfg.withDefaults()
	return &Executor{
		cfg:       cfg,
		resolvers: reg,
		history:   ringlog.New[*Execution](cfg.HistoryCapacity),
	}
}

// History returns up to n of the most recently completed Executions.
func (e *Executor) History(n int) []*Execution {
	return e.history.Recent(n)
}

// OnResolverFailure registers fn to be notified whenever a step's resolver
// call exhausts the Retry Engine, wiring the Evolver's failure window to
// live executions (spec.md §2).
func (e *Executor) OnResolverFailure(fn ResolverFailureFunc) {
	e.onFailure = fn
}

// Execute runs plan to completion (or first propagating failure, or ctx
// cancellation), returning the full Execution record.
func (e *Executor) Execute(ctx context.Context, plan *Plan, input map[string]any) (*Execution, error) {
	waves, err := plan.TopoLevels()
	if err != nil {
		return nil, fmt.Errorf("mastery: cannot execute invalid plan: %w", err)
	}

	exec := &Execution{
		ID:        uuid.NewString(),
		PlanName:  plan.Name,
		PlanVer:   plan.Version,
		Status:    ExecutionRunning,
		Steps:     make(map[string]*StepState, len(plan.Steps)),
		StartedAt: time.Now(),
	}
	for _, s := range plan.Steps {
		exec.Steps[s.Name] = &StepState{StepName: s.Name, Status: StepPending}
	}

	pool := newStepPool(e.cfg.BufferSize, e.cfg.RetryPolicy, e.onFailure)
	pool.start(e.cfg.WorkerCount)
	defer pool.stop()

	skipped := make(map[string]bool)

	for _, wave := range waves {
		if ctx.Err() != nil {
			exec.Status = ExecutionCancelled
			break
		}

		runnable := make([]Step, 0, len(wave))
		for _, step := range wave {
			if stepSkipped(step, skipped) {
				exec.Steps[step.Name].Status = StepSkipped
				skipped[step.Name] = true
				continue
			}
			runnable = append(runnable, step)
		}
		if len(runnable) == 0 {
			continue
		}

		results, waveErr := e.runWave(ctx, pool, exec, runnable, input)
		if waveErr != nil {
			exec.Status = ExecutionFailed
			exec.EndedAt = time.Now()
			e.history.Append(exec)
			return exec, waveErr
		}
		for name, failed := range results {
			if failed {
				skipped[name] = true
			}
		}
	}

	if exec.Status == ExecutionRunning {
		exec.Status = ExecutionCompleted
	}
	exec.EndedAt = time.Now()
	e.history.Append(exec)
	return exec, nil
}

// stepSkipped reports whether any of step's dependencies were skipped or
// failed under SkipOptional, which transitively skips step too.
func stepSkipped(step Step, skipped map[string]bool) bool {
	for _, dep := range step.DependsOn {
		if skipped[dep] {
			return true
		}
	}
	return false
}

// runWave dispatches every step in wave concurrently (fan-out) and blocks
// until all have reported a result (fan-in), the same dispatch-then-drain
// shape as the teacher's dispatchLoop/resultLoop pair, collapsed to one
// synchronous call per wave. It returns, per step name, whether that step
// ended in a state that should skip dependents; a propagating failure
// instead returns a non-nil error immediately.
func (e *Executor) runWave(ctx context.Context, pool *stepPool, exec *Execution, wave []Step, planInput map[string]any) (map[string]bool, error) {
	stepCtx, cancel := context.WithTimeout(ctx, e.cfg.StepTimeout)
	defer cancel()

	for _, step := range wave {
		res, err := e.resolveStep(step)
		state := exec.Steps[step.Name]
		if err != nil {
			state.Status = StepFailed
			return nil, fmt.Errorf("mastery: resolving step %s: %w", step.Name, err)
		}

		t := task.New(task.ID(exec.ID+"/"+step.Name), step.Name, stepInput(step, exec, planInput))
		_ = t.MarkInProgress()
		state.Task = t
		state.Status = StepRunning
		state.StartedAt = time.Now()

		if err := pool.submit(stepJob{ctx: stepCtx, step: step, res: res, t: t}); err != nil {
			state.Status = StepFailed
			return nil, fmt.Errorf("mastery: submitting step %s: %w", step.Name, err)
		}
	}

	skipped := make(map[string]bool, len(wave))
	var mu sync.Mutex
	for range wave {
		result, err := pool.receive()
		if err != nil {
			return nil, fmt.Errorf("mastery: step pool closed mid-execution: %w", err)
		}
		state := exec.Steps[result.step.Name]
		state.Task = result.t
		state.EndedAt = time.Now()

		switch result.t.Status() {
		case task.StatusCompleted:
			state.Status = StepCompleted
		case task.StatusCancelled:
			state.Status = StepCancelled
			log.Warn("mastery step cancelled", "step", result.step.Name, "execution", exec.ID)
			return nil, fmt.Errorf("mastery: step %s cancelled: %v", result.step.Name, result.t.Error())
		default:
			state.Status = StepFailed
			log.Warn("mastery step failed", "step", result.step.Name, "execution", exec.ID)
			switch result.step.OnError {
			case OnErrorSkipOptional:
				mu.Lock()
				skipped[result.step.Name] = true
				mu.Unlock()
			case OnErrorCompensate:
				if result.step.CompensateWith == "" {
					return nil, fmt.Errorf("mastery: step %s has no compensation step configured", result.step.Name)
				}
				// The CompensateWith step is not started here; the failed
				// step is treated like SkipOptional, so its dependents are
				// skipped in later waves.
				mu.Lock()
				skipped[result.step.Name] = true
				mu.Unlock()
			default: // OnErrorPropagate
				return nil, fmt.Errorf("mastery: step %s failed: %v", result.step.Name, result.t.Error())
			}
		}
	}
	return skipped, nil
}

func (e *Executor) resolveStep(step Step) (resolver.Resolver, error) {
	if step.Selector.IsExact() {
		return e.resolvers.Get(step.Selector.ResolverName, step.Selector.ResolverVersion)
	}
	var candidates []resolver.Resolver
	var err error
	switch {
	case step.Selector.Capability != "":
		candidates, err = e.resolvers.FindByCapability(step.Selector.Capability)
	case step.Selector.Tag != "":
		candidates, err = e.resolvers.FindByTag(step.Selector.Tag)
	default:
		return nil, fmt.Errorf("mastery: step %s has an empty selector", step.Name)
	}
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("mastery: no resolver satisfies step %s's selector", step.Name)
	}
	return candidates[0], nil
}

// stepInput merges the plan-level input with the results of any steps this
// one declared as InputFromSteps, under the "prior." namespace.
func stepInput(step Step, exec *Execution, planInput map[string]any) map[string]any {
	merged := make(map[string]any, len(planInput)+len(step.StaticInput))
	for k, v := range planInput {
		merged[k] = v
	}
	for k, v := range step.StaticInput {
		merged[k] = v
	}
	for _, depName := range step.InputFromSteps {
		dep, ok := exec.Steps[depName]
		if !ok || dep.Task == nil || dep.Task.Result() == nil {
			continue
		}
		merged["prior."+depName] = dep.Task.Result().Data
	}
	return merged
}
