// Package config loads the fabric's YAML configuration, grounded on the
// teacher's internal/cli.Config: a plain struct with yaml tags loaded
// with gopkg.in/yaml.v3, nested one level per subsystem.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete on-disk configuration for a boss process.
type Config struct {
	Executor struct {
		WorkerCount     int           `yaml:"worker_count"`
		StepTimeout     time.Duration `yaml:"step_timeout"`
		BufferSize      int           `yaml:"buffer_size"`
		HistoryCapacity int           `yaml:"history_capacity"`
	} `yaml:"executor"`

	Retry struct {
		MaxAttempts int           `yaml:"max_attempts"`
		Strategy    string        `yaml:"strategy"` // constant|linear|exponential|fibonacci|jittered
		BaseDelay   time.Duration `yaml:"base_delay"`
		MaxDelay    time.Duration `yaml:"max_delay"`
	} `yaml:"retry"`

	Registry struct {
		SnapshotPath     string        `yaml:"snapshot_path"`
		SnapshotInterval time.Duration `yaml:"snapshot_interval"`
		HealthConcurrency int          `yaml:"health_concurrency"`
	} `yaml:"registry"`

	Evolver struct {
		Enabled              bool          `yaml:"enabled"`
		FailureThreshold     int           `yaml:"failure_threshold"`
		MinEvolutionInterval time.Duration `yaml:"min_evolution_interval"`
		FailureWindowSize    int           `yaml:"failure_window_size"`
		HistorySize          int           `yaml:"history_size"`
	} `yaml:"evolver"`

	Metrics struct {
		Path             string                   `yaml:"path"`
		BatchSize        int                      `yaml:"batch_size"`
		FlushInterval    time.Duration            `yaml:"flush_interval"`
		DefaultRetention time.Duration            `yaml:"default_retention"`
		RetentionByKind  map[string]time.Duration `yaml:"retention_by_kind"`
		CompactInterval  time.Duration            `yaml:"compact_interval"`
	} `yaml:"metrics"`

	Alerts struct {
		EvaluationInterval time.Duration `yaml:"evaluation_interval"`
	} `yaml:"alerts"`

	HTTP struct {
		Enabled     bool   `yaml:"enabled"`
		Addr        string `yaml:"addr"`
		MetricsPort int    `yaml:"metrics_port"`
	} `yaml:"http"`
}

// Default returns a Config with the fabric's baseline settings, spelled out
// here so a generated config file is self-documenting. The evolver and
// metrics values equal the zero-value fallbacks those packages apply on
// their own; the executor values do not (mastery's own fallback is 4
// workers, a buffer of twice the worker count, and an unbounded history).
func Default() Config {
	var c Config
	c.Executor.WorkerCount = 8
	c.Executor.StepTimeout = 30 * time.Second
	c.Executor.BufferSize = 32
	c.Executor.HistoryCapacity = 256

	c.Retry.MaxAttempts = 3
	c.Retry.Strategy = "exponential"
	c.Retry.BaseDelay = 100 * time.Millisecond
	c.Retry.MaxDelay = 10 * time.Second

	c.Registry.SnapshotPath = "data/registry-snapshot.json"
	c.Registry.SnapshotInterval = time.Minute
	c.Registry.HealthConcurrency = 4

	c.Evolver.Enabled = true
	c.Evolver.FailureThreshold = 5
	c.Evolver.MinEvolutionInterval = 24 * time.Hour
	c.Evolver.FailureWindowSize = 50
	c.Evolver.HistorySize = 100

	c.Metrics.Path = "data/metrics.db"
	c.Metrics.BatchSize = 100
	c.Metrics.FlushInterval = time.Second
	c.Metrics.DefaultRetention = 30 * 24 * time.Hour
	c.Metrics.CompactInterval = time.Hour

	c.Alerts.EvaluationInterval = 15 * time.Second

	c.HTTP.Enabled = true
	c.HTTP.Addr = ":8080"
	c.HTTP.MetricsPort = 9090
	return c
}

// Load reads and parses a YAML config file, applying Default() for any
// zero-valued field the file doesn't set.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
