package mastery

import (
	"context"
	"errors"
	"sync"

	"github.com/risa-labs-inc/boss/internal/resolver"
	"github.com/risa-labs-inc/boss/internal/retry"
	"github.com/risa-labs-inc/boss/pkg/task"
)

// stepPool is the Mastery Executor's concurrent step runner, adapted from
// the teacher's worker.Pool (internal/worker/worker_pool.go): fixed
// goroutines pulling jobs off a shared channel, submitting results to a
// shared result channel, shut down via a stop signal checked with a
// double-select so Submit never panics on a closed channel. Generalized
// from "execute a simulated Job" to "run one DAG Step's resolver against
// one Task".
type stepPool struct {
	jobCh    chan stepJob
	resultCh chan stepResult
	stopCh   chan struct{}
	wg       sync.WaitGroup

	retryPolicy retry.Policy
	onFailure   ResolverFailureFunc

	mu      sync.Mutex
	started bool
	stopped bool
}

// ResolverFailureFunc is notified once per step, after the Retry Engine has
// exhausted its attempts (or hit a non-retryable error), so the Evolver can
// accumulate the failure against the resolver's window (spec.md §2's
// "Registry selects a Resolver -> Retry Engine drives resolve -> on
// repeated failure the Evolver is notified" flow). Never called for a step
// that ultimately succeeds, even if earlier attempts failed.
type ResolverFailureFunc func(resolverName string, taskID task.ID, failure task.TaskError)

type stepJob struct {
	ctx  context.Context
	step Step
	res  resolver.Resolver
	t    *task.Task
}

type stepResult struct {
	step Step
	t    *task.Task
}

var (
	ErrStepPoolNotStarted = errors.New("mastery: step pool not started")
	ErrStepPoolClosed     = errors.New("mastery: step pool closed")
)

func newStepPool(bufferSize int, retryPolicy retry.Policy, onFailure ResolverFailureFunc) *stepPool {
	return &stepPool{
		jobCh:       make(chan stepJob, bufferSize),
		resultCh:    make(chan stepResult, bufferSize),
		stopCh:      make(chan struct{}),
		retryPolicy: retryPolicy,
		onFailure:   onFailure,
	}
}

func (p *stepPool) start(workerCount int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	for i := 0; i < workerCount; i++ {
		p.wg.Add(1)
		go p.runWorker()
	}
	p.started = true
}

func (p *stepPool) runWorker() {
	defer p.wg.Done()
	for job := range p.jobCh {
		result := p.resolveWithRetry(job)
		p.resultCh <- stepResult{step: job.step, t: result}
	}
}

// resolveWithRetry drives job.res through the Retry Engine, one scratch
// Task per attempt (a resolver call terminalizes its Task, so an attempt
// that fails cannot be replayed on the same instance). job.t — already
// InProgress and referenced by the execution's StepState — absorbs only
// the winning attempt's terminal result or the final attempt's error, with
// IncrementRetry recording every attempt beyond the first.
func (p *stepPool) resolveWithRetry(job stepJob) *task.Task {
	outcome := retry.Call(job.ctx, p.retryPolicy, func(ctx context.Context, attempt int) (*task.Task, *task.TaskError) {
		if attempt > 1 {
			job.t.IncrementRetry()
		}
		attemptTask := task.New(job.t.ID(), job.t.Description(), job.t.Input())
		_ = attemptTask.MarkInProgress()
		out := job.res.Resolve(ctx, attemptTask)
		if out.Status() != task.StatusCompleted {
			return out, out.Error()
		}
		return out, nil
	})

	if outcome.Err == nil {
		_ = job.t.SetResult(*outcome.Value.Result())
		return job.t
	}

	_ = job.t.SetError(*outcome.Err)
	if p.onFailure != nil {
		p.onFailure(job.res.Metadata().Name, job.t.ID(), *outcome.Err)
	}
	return job.t
}

func (p *stepPool) submit(job stepJob) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return ErrStepPoolNotStarted
	}
	if p.stopped {
		p.mu.Unlock()
		return ErrStepPoolClosed
	}
	jobCh := p.jobCh
	stopCh := p.stopCh
	p.mu.Unlock()

	select {
	case jobCh <- job:
		return nil
	case <-stopCh:
		return ErrStepPoolClosed
	}
}

func (p *stepPool) receive() (stepResult, error) {
	select {
	case result, ok := <-p.resultCh:
		if !ok {
			return stepResult{}, ErrStepPoolClosed
		}
		return result, nil
	case <-p.stopCh:
		return stepResult{}, ErrStepPoolClosed
	}
}

func (p *stepPool) stop() {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	close(p.stopCh)
	close(p.jobCh)
	p.wg.Wait()
	close(p.resultCh)
}
