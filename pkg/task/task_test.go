package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTaskIsPending(t *testing.T) {
	tk := New("t-1", "echo hi", map[string]any{"text": "hi"})
	assert.Equal(t, StatusPending, tk.Status())
	assert.False(t, tk.Status().IsTerminal())
}

func TestSetResultForcesCompleted(t *testing.T) {
	tk := New("t-1", "echo hi", nil)
	require.NoError(t, tk.MarkInProgress())

	err := tk.SetResult(TaskResult{Data: map[string]any{"text": "hi"}})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, tk.Status())
	assert.Equal(t, "hi", tk.Result().Data["text"])

	// A second result is rejected: terminal once reached.
	err = tk.SetResult(TaskResult{Data: map[string]any{"text": "again"}})
	assert.ErrorIs(t, err, ErrAlreadyTerminal)
}

func TestSetErrorForcesFailedOrCancelled(t *testing.T) {
	tk := New("t-2", "flaky", nil)
	require.NoError(t, tk.MarkInProgress())

	require.NoError(t, tk.SetError(*NewTaskError(ErrorKindNetwork, "boom", nil)))
	assert.Equal(t, StatusFailed, tk.Status())

	tk2 := New("t-3", "cancel-me", nil)
	require.NoError(t, tk2.MarkInProgress())
	require.NoError(t, tk2.SetError(*NewTaskError(ErrorKindCancelled, "cancelled", nil)))
	assert.Equal(t, StatusCancelled, tk2.Status())
}

func TestNoRegressionFromTerminal(t *testing.T) {
	tk := New("t-4", "d", nil)
	require.NoError(t, tk.MarkInProgress())
	require.NoError(t, tk.MarkCancelled())

	assert.ErrorIs(t, tk.MarkInProgress(), ErrInvalidTransition)
	assert.ErrorIs(t, tk.SetResult(TaskResult{}), ErrAlreadyTerminal)
}

func TestDefaultRetryable(t *testing.T) {
	assert.True(t, DefaultRetryable(ErrorKindNetwork))
	assert.True(t, DefaultRetryable(ErrorKindTimeout))
	assert.False(t, DefaultRetryable(ErrorKindValidation))
	assert.False(t, DefaultRetryable(ErrorKindInternal))
}
