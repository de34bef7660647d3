package task

import "fmt"

// ErrorKind is the closed set of TaskError kinds from spec.md §7.
type ErrorKind string

const (
	ErrorKindNotFound      ErrorKind = "not_found"
	ErrorKindValidation    ErrorKind = "validation"
	ErrorKindNetwork       ErrorKind = "network"
	ErrorKindAuthN         ErrorKind = "authentication"
	ErrorKindRateLimit     ErrorKind = "rate_limit"
	ErrorKindTimeout       ErrorKind = "timeout"
	ErrorKindResource      ErrorKind = "resource"
	ErrorKindConfiguration ErrorKind = "configuration"
	ErrorKindDependency    ErrorKind = "dependency"
	ErrorKindState         ErrorKind = "state"
	ErrorKindBusinessLogic ErrorKind = "business_logic"
	ErrorKindInternal      ErrorKind = "internal"
	ErrorKindCancelled     ErrorKind = "cancelled"
)

// defaultRetryable mirrors spec.md §7's retryability defaults. Network,
// RateLimit, Timeout, Resource and Dependency are retryable by default;
// everything else is not. A RetryPolicy may override per call.
var defaultRetryable = map[ErrorKind]bool{
	ErrorKindNetwork:    true,
	ErrorKindRateLimit:  true,
	ErrorKindTimeout:    true,
	ErrorKindResource:   true,
	ErrorKindDependency: true,
}

// DefaultRetryable reports the built-in retryability of a kind.
func DefaultRetryable(k ErrorKind) bool {
	return defaultRetryable[k]
}

// TaskError is the structured failure a resolver attaches to a Task.
// Attaching one forces Status to Failed (Cancelled for a Cancelled-kind
// error); it is attached at most once.
type TaskError struct {
	Kind      ErrorKind      `json:"kind"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Retryable bool           `json:"retryable"`
	Attempts  int            `json:"attempts,omitempty"`
	Cause     error          `json:"-"`
}

func (e *TaskError) Error() string {
	if e == nil {
		return "<nil TaskError>"
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap lets errors.Is/As reach the chained cause.
func (e *TaskError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// NewTaskError builds a TaskError defaulting Retryable from its kind.
func NewTaskError(kind ErrorKind, message string, cause error) *TaskError {
	return &TaskError{
		Kind:      kind,
		Message:   message,
		Retryable: DefaultRetryable(kind),
		Cause:     cause,
	}
}

// WithDetails attaches structured detail fields, returning the receiver for
// chaining at the call site.
func (e *TaskError) WithDetails(details map[string]any) *TaskError {
	e.Details = details
	return e
}
