package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOverlaysOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "boss.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
executor:
  worker_count: 16
evolver:
  enabled: false
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 16, cfg.Executor.WorkerCount)
	assert.False(t, cfg.Evolver.Enabled)
	// untouched fields keep their defaults
	assert.Equal(t, 30*time.Second, cfg.Executor.StepTimeout)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDefaultIsInternallyConsistent(t *testing.T) {
	cfg := Default()
	assert.Greater(t, cfg.Executor.WorkerCount, 0)
	assert.Greater(t, cfg.Retry.MaxAttempts, 0)
	assert.NotEmpty(t, cfg.Retry.Strategy)
}
