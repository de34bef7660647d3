package testresolvers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/risa-labs-inc/boss/internal/resolver"
	"github.com/risa-labs-inc/boss/pkg/task"
)

func TestEchoAlwaysSucceeds(t *testing.T) {
	e := NewEcho("echo", resolver.Version{Major: 1})
	tk := task.New("t1", "say hi", map[string]any{"msg": "hi"})
	require.NoError(t, tk.MarkInProgress())

	out := e.Resolve(context.Background(), tk)
	assert.Equal(t, task.StatusCompleted, out.Status())
	assert.Equal(t, "hi", out.Result().Data["msg"])
}

func TestFlakyFailsThenSucceeds(t *testing.T) {
	f := NewFlaky("flaky", resolver.Version{Major: 1}, 2)

	for i := 0; i < 2; i++ {
		tk := task.New(task.ID("t"), "x", nil)
		require.NoError(t, tk.MarkInProgress())
		out := f.Resolve(context.Background(), tk)
		assert.Equal(t, task.StatusFailed, out.Status())
		assert.True(t, out.Error().Retryable)
	}

	tk := task.New("t3", "x", map[string]any{"k": "v"})
	require.NoError(t, tk.MarkInProgress())
	out := f.Resolve(context.Background(), tk)
	assert.Equal(t, task.StatusCompleted, out.Status())
}

func TestFlakyAlwaysFails(t *testing.T) {
	f := NewFlaky("flaky", resolver.Version{Major: 1}, 0)
	f.AlwaysFail = true

	for i := 0; i < 5; i++ {
		tk := task.New(task.ID("t"), "x", nil)
		require.NoError(t, tk.MarkInProgress())
		out := f.Resolve(context.Background(), tk)
		assert.Equal(t, task.StatusFailed, out.Status())
	}

	status, _ := f.HealthCheck(context.Background())
	assert.Equal(t, resolver.HealthUnhealthy, status)
}
