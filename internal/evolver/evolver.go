// Package evolver implements the C8 Evolver (spec.md §4.7): it watches a
// per-resolver sliding window of failures, and once a resolver crosses its
// configured failure threshold (and its minimum evolution interval has
// elapsed), runs a chain of Strategies to produce a candidate replacement,
// gates the candidate behind the original's baseline test suite, and
// promotes it into the registry on success. Grounded on
// original_source/boss/core/evolver.py's TaskResolverEvolver/
// EvolutionStrategy/CompositeEvolutionStrategy/EvolutionRecord.
package evolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/risa-labs-inc/boss/internal/registry"
	"github.com/risa-labs-inc/boss/internal/resolver"
	"github.com/risa-labs-inc/boss/internal/ringlog"
	"github.com/risa-labs-inc/boss/pkg/task"
)

var log = slog.Default()

// FailureRecord is one observed resolver failure, fed into the failure
// window by whatever calls the resolver (typically the Retry Engine once
// it exhausts attempts).
type FailureRecord struct {
	TaskID    task.ID
	ErrorKind task.ErrorKind
	Message   string
	At        time.Time
}

// Strategy produces a candidate replacement resolver from a failing one's
// recent failures, or (nil, nil) when it cannot help — mirroring
// EvolutionStrategy.evolve's "return None to indicate evolution failed".
type Strategy interface {
	Name() string
	Evolve(ctx context.Context, current resolver.Resolver, failures []FailureRecord) (resolver.Resolver, error)
}

// CompositeStrategy tries each inner Strategy in order, returning the first
// successful candidate — original_source's CompositeEvolutionStrategy,
// including its "log and continue" handling of a strategy that errors
// rather than simply declining.
type CompositeStrategy struct {
	Strategies []Strategy
}

func (c CompositeStrategy) Name() string { return "composite" }

func (c CompositeStrategy) Evolve(ctx context.Context, current resolver.Resolver, failures []FailureRecord) (resolver.Resolver, error) {
	for _, s := range c.Strategies {
		candidate, err := s.Evolve(ctx, current, failures)
		if err != nil {
			log.Error("evolution strategy failed", "strategy", s.Name(), "error", err)
			continue
		}
		if candidate != nil {
			return candidate, nil
		}
	}
	return nil, nil
}

// EvolutionRecord documents one successful (or rejected) evolution.
type EvolutionRecord struct {
	OriginalName    string
	OriginalVersion resolver.Version
	EvolvedName     string
	EvolvedVersion  resolver.Version
	Reason          string
	SampleTaskIDs   []task.ID
	At              time.Time
	Promoted        bool
	RejectedWhy     string
}

var (
	// ErrNotFound is returned when the named resolver isn't registered.
	ErrNotFound = errors.New("evolver: resolver not found")
	// ErrNoFailures is returned by Evolve when force=false and the
	// resolver's failure window is empty by the time the strategies would
	// run. An empty window normally fails the eligibility check first
	// (FailureThreshold is at least 1), which returns a "not eligible"
	// error instead.
	ErrNoFailures = errors.New("evolver: no failed tasks to learn from")
	// ErrAllStrategiesFailed is returned when every Strategy declines.
	ErrAllStrategiesFailed = errors.New("evolver: all evolution strategies failed")
	// ErrBaselineRegression is returned when a candidate fails tests the
	// original passed — the non-goal-respecting regression gate.
	ErrBaselineRegression = errors.New("evolver: candidate regresses on baseline tests")
)

// HumanInterventionCallback is invoked when an evolution yields no
// promotable candidate — every strategy declined, or the candidate failed
// its baseline gate — spec.md §4.7's escape
// hatch to a human operator, here a plain callback rather than a concrete
// alert dependency so this package doesn't need to import internal/alert.
type HumanInterventionCallback func(resolverName string, reason string, record EvolutionRecord)

// Config tunes an Evolver instance.
type Config struct {
	FailureThreshold     int
	MinEvolutionInterval time.Duration
	FailureWindowSize    int
	HistorySize          int
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.MinEvolutionInterval <= 0 {
		c.MinEvolutionInterval = 24 * time.Hour
	}
	if c.FailureWindowSize <= 0 {
		c.FailureWindowSize = 50
	}
	return c
}

// Evolver is the C8 control loop's brain: failure tracking plus the gated
// evolve-and-promote flow. It runs no periodic sweep of its own: evolution
// happens only when the owning process calls Evolve, matching the
// teacher's own preference for explicit loops over a self-ticking
// component.
type Evolver struct {
	cfg       Config
	registry  *registry.TaskResolverRegistry
	strategy  Strategy
	onHuman   HumanInterventionCallback

	mu            sync.Mutex
	windows       map[string]*ringlog.Log[FailureRecord]
	lastEvolvedAt map[string]time.Time
	history       *ringlog.Log[EvolutionRecord]
}

// New builds an Evolver. strategies defaults to an empty CompositeStrategy
// (i.e. evolution always reports ErrAllStrategiesFailed) when nil — callers
// wire in concrete Strategy implementations for their resolver types.
func New(reg *registry.TaskResolverRegistry, strategies []Strategy, cfg Config) *Evolver {
	cfg = cfg.withDefaults()
	return &Evolver{
		cfg:           cfg,
		registry:      reg,
		strategy:      CompositeStrategy{Strategies: strategies},
		windows:       make(map[string]*ringlog.Log[FailureRecord]),
		lastEvolvedAt: make(map[string]time.Time),
		history:       ringlog.New[EvolutionRecord](cfg.HistorySize),
	}
}

// OnHumanInterventionRequired installs the callback invoked when every
// strategy declines or a candidate fails the baseline gate.
func (e *Evolver) OnHumanInterventionRequired(fn HumanInterventionCallback) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onHuman = fn
}

// RecordFailure appends a failure to resolverName's window.
func (e *Evolver) RecordFailure(resolverName string, rec FailureRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()
	w := e.windowLocked(resolverName)
	w.Append(rec)
}

func (e *Evolver) windowLocked(resolverName string) *ringlog.Log[FailureRecord] {
	w, ok := e.windows[resolverName]
	if !ok {
		w = ringlog.New[FailureRecord](e.cfg.FailureWindowSize)
		e.windows[resolverName] = w
	}
	return w
}

// Eligibility is the result of CheckEligibility.
type Eligibility struct {
	Eligible      bool
	Reason        string
	FailureCount  int
	SinceLastEvol time.Duration
}

// CheckEligibility reports whether resolverName currently qualifies for
// evolution under the configured threshold and cooldown, without running
// any strategy.
func (e *Evolver) CheckEligibility(resolverName string) Eligibility {
	e.mu.Lock()
	defer e.mu.Unlock()

	count := e.windowLocked(resolverName).Len()
	since := time.Since(e.lastEvolvedAt[resolverName])

	if count < e.cfg.FailureThreshold {
		return Eligibility{Eligible: false, Reason: "failure count below threshold", FailureCount: count, SinceLastEvol: since}
	}
	if last, ok := e.lastEvolvedAt[resolverName]; ok && time.Since(last) < e.cfg.MinEvolutionInterval {
		return Eligibility{Eligible: false, Reason: "minimum evolution interval not elapsed", FailureCount: count, SinceLastEvol: since}
	}
	return Eligibility{Eligible: true, Reason: "threshold and cooldown satisfied", FailureCount: count, SinceLastEvol: since}
}

// Evolve runs the full evolve-gate-promote flow for resolverName. force
// bypasses the eligibility check (but never the baseline regression gate).
func (e *Evolver) Evolve(ctx context.Context, resolverName string, version resolver.Version, force bool) (*EvolutionRecord, error) {
	if !force {
		elig := e.CheckEligibility(resolverName)
		if !elig.Eligible {
			return nil, fmt.Errorf("evolver: %s not eligible: %s", resolverName, elig.Reason)
		}
	}

	current, err := e.registry.Get(resolverName, version)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, resolverName)
	}

	e.mu.Lock()
	failures := e.windowLocked(resolverName).All()
	e.mu.Unlock()

	if len(failures) == 0 && !force {
		return nil, ErrNoFailures
	}

	candidate, err := e.strategy.Evolve(ctx, current, failures)
	if err != nil {
		return nil, fmt.Errorf("evolver: strategy error: %w", err)
	}
	if candidate == nil {
		if e.onHuman != nil {
			e.onHuman(resolverName, ErrAllStrategiesFailed.Error(), EvolutionRecord{
				OriginalName:    current.Metadata().Name,
				OriginalVersion: current.Metadata().Version,
				At:              time.Now(),
				RejectedWhy:     ErrAllStrategiesFailed.Error(),
			})
		}
		return nil, ErrAllStrategiesFailed
	}

	record := EvolutionRecord{
		OriginalName:    current.Metadata().Name,
		OriginalVersion: current.Metadata().Version,
		EvolvedName:     candidate.Metadata().Name,
		EvolvedVersion:  candidate.Metadata().Version,
		Reason:          "performance improvement based on recorded failures",
		At:              time.Now(),
	}
	for i, f := range failures {
		if i >= 5 {
			break
		}
		record.SampleTaskIDs = append(record.SampleTaskIDs, f.TaskID)
	}

	if err := e.gateBaseline(ctx, current, candidate); err != nil {
		record.RejectedWhy = err.Error()
		e.appendHistory(record)
		if e.onHuman != nil {
			e.onHuman(resolverName, err.Error(), record)
		}
		return &record, fmt.Errorf("%w: %v", ErrBaselineRegression, err)
	}

	if err := e.registry.Register(candidate); err != nil {
		return nil, fmt.Errorf("evolver: promoting candidate: %w", err)
	}
	record.Promoted = true

	e.mu.Lock()
	e.lastEvolvedAt[resolverName] = time.Now()
	e.windows[resolverName] = ringlog.New[FailureRecord](e.cfg.FailureWindowSize)
	e.mu.Unlock()

	e.appendHistory(record)
	return &record, nil
}

// gateBaseline requires the candidate to pass at least every baseline test
// the original passed, if both implement BaselineTester. Resolvers that
// don't implement it are ungated (spec.md §4.1 marks the operation
// optional).
func (e *Evolver) gateBaseline(ctx context.Context, original, candidate resolver.Resolver) error {
	origTester, origOK := original.(resolver.BaselineTester)
	candTester, candOK := candidate.(resolver.BaselineTester)
	if !origOK || !candOK {
		return nil
	}

	origReport, err := origTester.RunBaselineTests(ctx)
	if err != nil {
		return fmt.Errorf("running original's baseline tests: %w", err)
	}
	candReport, err := candTester.RunBaselineTests(ctx)
	if err != nil {
		return fmt.Errorf("running candidate's baseline tests: %w", err)
	}

	candPassed := candReport.PassedSet()
	for _, name := range origReport.Passed {
		if _, ok := candPassed[name]; !ok {
			return fmt.Errorf("candidate regresses on %q", name)
		}
	}
	return nil
}

func (e *Evolver) appendHistory(record EvolutionRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history.Append(record)
}

// History returns up to n of the most recent evolution records, oldest
// first.
func (e *Evolver) History(n int) []EvolutionRecord {
	return e.history.Recent(n)
}
