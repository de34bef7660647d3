package mastery

import (
	"time"

	"github.com/risa-labs-inc/boss/internal/resolver"
	"github.com/risa-labs-inc/boss/pkg/task"
)

// StepStatus mirrors task.Status's closed lifecycle, applied to a single
// Step within an Execution rather than a whole Task.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepCancelled StepStatus = "cancelled"
	StepSkipped   StepStatus = "skipped"
)

// StepState is one Step's execution record within an Execution.
type StepState struct {
	StepName  string
	Status    StepStatus
	Task      *task.Task
	StartedAt time.Time
	EndedAt   time.Time
}

// ExecutionStatus is the whole-plan-run outcome.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// Execution is a single run of a Plan, tracking per-step state. Adapted
// from the teacher's jobmanager.Job record (internal/jobmanager) widened
// from one task to a DAG of steps.
type Execution struct {
	ID        string
	PlanName  string
	PlanVer   resolver.Version
	Status    ExecutionStatus
	Steps     map[string]*StepState
	StartedAt time.Time
	EndedAt   time.Time
}
