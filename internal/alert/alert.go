// Package alert implements the C10 Alert Manager (spec.md §4.9): rules
// evaluated on a periodic tick against the Metrics Store, deduplicated so
// at most one Active alert exists per rule at a time, and resolved once
// the rule's condition stays false through its cooldown window. Grounded
// on the teacher's own periodic-sweep style (controller.go's timeoutLoop
// ticking on a time.Ticker) rather than a dedicated example, since no repo
// in the pack implements an alert manager directly.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/risa-labs-inc/boss/internal/metricsstore"
)

var log = slog.Default()

// Status is an alert's lifecycle state. Transitions are one-way:
// Active -> Acknowledged -> Resolved, though Resolve may also be called
// directly on an Active alert, skipping Acknowledged.
type Status string

const (
	StatusActive       Status = "active"
	StatusAcknowledged Status = "acknowledged"
	StatusResolved     Status = "resolved"
)

// Severity classifies how urgent an alert is, the same five levels
// alert_manager.py's severity_levels defines.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Condition evaluates a rule against the store, returning whether it
// currently fires and a human-readable detail message.
type Condition func(ctx context.Context, store *metricsstore.Store) (bool, string, error)

// Rule is one alert definition.
type Rule struct {
	Name     string
	Severity Severity
	Check    Condition
	// Cooldown is how long Check must keep returning false before an
	// Active alert for this rule is marked Resolved.
	Cooldown time.Duration
}

// ErrAlertNotFound is returned by Acknowledge/Resolve for an unknown id.
var ErrAlertNotFound = fmt.Errorf("alert: not found")

// ErrAlreadyResolved is returned by Acknowledge when called on an alert
// that has already reached the terminal Resolved state — acknowledging a
// resolved alert is not itself idempotent, it is simply illegal.
var ErrAlreadyResolved = fmt.Errorf("alert: already resolved")

// Alert is one firing (or previously-fired, now-acknowledged/resolved)
// instance of a Rule.
type Alert struct {
	ID             string
	RuleName       string
	Severity       Severity
	Status         Status
	Detail         string
	FiredAt        time.Time
	AcknowledgedAt time.Time
	ResolvedAt     time.Time
	lastFalseAt    time.Time
}

// Manager periodically evaluates Rules and tracks Alert lifecycle.
type Manager struct {
	store *metricsstore.Store

	mu         sync.Mutex
	rules      []Rule
	openByRule map[string]*Alert // ruleName -> its one open (Active or Acknowledged) alert, if any
	byID       map[string]*Alert // every alert ever created, by ID
	history    []*Alert          // full history, append-only

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewManager builds a Manager evaluating rules against store.
func NewManager(store *metricsstore.Store) *Manager {
	return &Manager{
		store:      store,
		openByRule: make(map[string]*Alert),
		byID:       make(map[string]*Alert),
	}
}

// AddRule registers a rule for evaluation.
func (m *Manager) AddRule(r Rule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, r)
}

// EvaluateOnce runs every rule a single time, updating alert state. It is
// exported directly (rather than only reachable through Start's ticker) so
// callers — including tests — can drive evaluation deterministically.
func (m *Manager) EvaluateOnce(ctx context.Context) {
	m.mu.Lock()
	rules := append([]Rule(nil), m.rules...)
	m.mu.Unlock()

	now := time.Now()
	for _, rule := range rules {
		firing, detail, err := rule.Check(ctx, m.store)
		if err != nil {
			log.Error("alert rule evaluation failed", "rule", rule.Name, "error", err)
			continue
		}

		m.mu.Lock()
		existing, hasOpen := m.openByRule[rule.Name]
		switch {
		case firing && !hasOpen:
			a := &Alert{
				ID:       uuid.NewString(),
				RuleName: rule.Name,
				Severity: rule.Severity,
				Status:   StatusActive,
				Detail:   detail,
				FiredAt:  now,
			}
			m.openByRule[rule.Name] = a
			m.byID[a.ID] = a
			m.history = append(m.history, a)
			log.Warn("alert fired", "rule", rule.Name, "severity", rule.Severity, "detail", detail)
		case firing && hasOpen:
			existing.Detail = detail
			existing.lastFalseAt = time.Time{}
		case !firing && hasOpen:
			if existing.lastFalseAt.IsZero() {
				existing.lastFalseAt = now
			}
			if now.Sub(existing.lastFalseAt) >= rule.Cooldown {
				existing.Status = StatusResolved
				existing.ResolvedAt = now
				delete(m.openByRule, rule.Name)
				log.Info("alert resolved", "rule", rule.Name)
			}
		}
		m.mu.Unlock()
	}
}

// Start begins a goroutine that calls EvaluateOnce on interval until Stop.
func (m *Manager) Start(ctx context.Context, interval time.Duration) {
	m.mu.Lock()
	if m.stopCh != nil {
		m.mu.Unlock()
		return
	}
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	m.mu.Unlock()

	go func() {
		defer close(m.doneCh)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.EvaluateOnce(ctx)
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			}
		}
	}()
}

// Stop halts the periodic evaluation goroutine started by Start, if any.
func (m *Manager) Stop() {
	m.mu.Lock()
	stopCh := m.stopCh
	doneCh := m.doneCh
	m.mu.Unlock()
	if stopCh == nil {
		return
	}
	close(stopCh)
	<-doneCh
}

// Active returns every currently open (Active or Acknowledged) alert.
func (m *Manager) Active() []*Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Alert, 0, len(m.openByRule))
	for _, a := range m.openByRule {
		out = append(out, a)
	}
	return out
}

// History returns every alert ever fired, in firing order.
func (m *Manager) History() []*Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Alert(nil), m.history...)
}

// ByID looks up a single alert regardless of its current status.
func (m *Manager) ByID(id string) (*Alert, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	return a, ok
}

// Fire records a one-off alert outside the rule-evaluation loop — used by
// the Evolver's HumanInterventionCallback (spec.md §4.7) to surface a
// failed evolution as a first-class alert without inventing a
// metric for it to key off of.
func (m *Manager) Fire(ruleName string, severity Severity, detail string) *Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	a := &Alert{
		ID:       uuid.NewString(),
		RuleName: ruleName,
		Severity: severity,
		Status:   StatusActive,
		Detail:   detail,
		FiredAt:  time.Now(),
	}
	m.openByRule[ruleName] = a
	m.byID[a.ID] = a
	m.history = append(m.history, a)
	return a
}

// Acknowledge transitions an alert from Active to Acknowledged. It is
// idempotent: acknowledging an already-Acknowledged alert is a no-op that
// returns nil, matching alert_manager.py's "Already acknowledged" handling.
// Acknowledging an already-Resolved alert is an error, since Resolved is
// terminal and the transition would run backwards.
func (m *Manager) Acknowledge(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return ErrAlertNotFound
	}
	switch a.Status {
	case StatusAcknowledged:
		return nil
	case StatusResolved:
		return ErrAlreadyResolved
	}
	a.Status = StatusAcknowledged
	a.AcknowledgedAt = time.Now()
	return nil
}

// Resolve transitions an alert to Resolved by id, from either Active or
// Acknowledged. It is idempotent: resolving an already-Resolved alert is a
// no-op that returns nil, matching alert_manager.py's "Already resolved"
// handling.
func (m *Manager) Resolve(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return ErrAlertNotFound
	}
	if a.Status == StatusResolved {
		return nil
	}
	a.Status = StatusResolved
	a.ResolvedAt = time.Now()
	delete(m.openByRule, a.RuleName)
	return nil
}
