package task

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrAlreadyTerminal is returned by SetResult/SetError once a Task has
	// already reached a terminal status. MarkInProgress/MarkCancelled on a
	// terminal Task return ErrInvalidTransition instead.
	ErrAlreadyTerminal = errors.New("task: already in a terminal status")
	// ErrInvalidTransition is returned when a caller requests a status
	// change that is not part of the monotone chain in status.go.
	ErrInvalidTransition = errors.New("task: invalid status transition")
)

// ID is an opaque task identifier.
type ID string

// Task is the core unit of work. Its shape is fixed at creation; only its
// owning Executor or Retry Engine mutates it afterwards (via the methods
// below), and never past a terminal status. Task is safe for concurrent
// reads while a single owner performs writes.
type Task struct {
	mu sync.RWMutex

	id          ID
	description string
	input       map[string]any
	status      Status
	result      *TaskResult
	err         *TaskError
	retryCount  int
	createdAt   time.Time
	updatedAt   time.Time
	deadline    *time.Time
	metadata    map[string]any
}

// New creates a Task in StatusPending with the given id, description and
// input. The caller owns the Task until it is handed to a resolver.
func New(id ID, description string, input map[string]any) *Task {
	now := time.Now()
	return &Task{
		id:          id,
		description: description,
		input:       input,
		status:      StatusPending,
		createdAt:   now,
		updatedAt:   now,
		metadata:    map[string]any{},
	}
}

func (t *Task) ID() ID                    { return t.id }
func (t *Task) Description() string       { return t.description }
func (t *Task) Input() map[string]any     { return t.input }
func (t *Task) CreatedAt() time.Time      { return t.createdAt }
func (t *Task) RetryCount() int           { t.mu.RLock(); defer t.mu.RUnlock(); return t.retryCount }

func (t *Task) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

func (t *Task) UpdatedAt() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.updatedAt
}

func (t *Task) Result() *TaskResult {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.result
}

func (t *Task) Error() *TaskError {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.err
}

func (t *Task) Metadata() map[string]any {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.metadata
}

// SetMetadata merges a key into the Task's free-form metadata. Permitted at
// any point in the Task's life, including after it becomes terminal, since
// metadata is bookkeeping rather than lifecycle state.
func (t *Task) SetMetadata(key string, value any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.metadata[key] = value
}

// SetDeadline records an absolute deadline read by IsExpired. The Retry
// Engine and Executor do not consult it; they enforce timeouts through
// their context deadlines.
func (t *Task) SetDeadline(d time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.deadline = &d
}

// IsExpired reports whether the Task's deadline has passed.
func (t *Task) IsExpired() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.deadline != nil && time.Now().After(*t.deadline)
}

// MarkInProgress transitions Pending -> InProgress.
func (t *Task) MarkInProgress() error {
	return t.transition(StatusInProgress)
}

// MarkCancelled transitions to Cancelled from any non-terminal status.
func (t *Task) MarkCancelled() error {
	return t.transition(StatusCancelled)
}

// IncrementRetry bumps the retry counter; used by the Retry Engine between
// attempts. It does not change status.
func (t *Task) IncrementRetry() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.retryCount++
	t.updatedAt = time.Now()
}

// SetResult attaches a TaskResult exactly once, forcing status Completed.
func (t *Task) SetResult(r TaskResult) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.IsTerminal() {
		return ErrAlreadyTerminal
	}
	t.result = &r
	t.status = StatusCompleted
	t.updatedAt = time.Now()
	return nil
}

// SetError attaches a TaskError exactly once, forcing status Failed. A
// Cancelled-kind error instead forces status Cancelled, matching the
// cancellation semantics of §5.
func (t *Task) SetError(e TaskError) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.IsTerminal() {
		return ErrAlreadyTerminal
	}
	t.err = &e
	if e.Kind == ErrorKindCancelled {
		t.status = StatusCancelled
	} else {
		t.status = StatusFailed
	}
	t.updatedAt = time.Now()
	return nil
}

func (t *Task) transition(to Status) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !CanTransition(t.status, to) {
		return ErrInvalidTransition
	}
	t.status = to
	t.updatedAt = time.Now()
	return nil
}

// Snapshot returns a point-in-time, race-free copy of the Task's fields for
// serialization or display.
type Snapshot struct {
	ID          ID
	Description string
	Input       map[string]any
	Status      Status
	Result      *TaskResult
	Error       *TaskError
	RetryCount  int
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Metadata    map[string]any
}

func (t *Task) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Snapshot{
		ID:          t.id,
		Description: t.description,
		Input:       t.input,
		Status:      t.status,
		Result:      t.result,
		Error:       t.err,
		RetryCount:  t.retryCount,
		CreatedAt:   t.createdAt,
		UpdatedAt:   t.updatedAt,
		Metadata:    t.metadata,
	}
}
