// Package mastery implements the C5-C7 Mastery subsystem (spec.md
// §4.4-§4.6): versioned workflow plans (DAGs of resolver-backed steps), a
// composer that synthesizes plans from a free-text description, and an
// executor that runs a plan's steps honoring dependency order, fan-out/
// fan-in and per-step error policy. The executor's scheduling loop is
// adapted from the teacher's Controller (internal/controller/controller.go)
// and its step pool from internal/worker/worker_pool.go, generalized from
// "run simulated jobs" to "run DAG steps against registered resolvers".
package mastery

import (
	"errors"
	"fmt"

	"github.com/risa-labs-inc/boss/internal/resolver"
)

// OnErrorPolicy governs what the Executor does when a step fails.
type OnErrorPolicy string

const (
	// OnErrorPropagate fails the whole execution (default).
	OnErrorPropagate OnErrorPolicy = "propagate"
	// OnErrorSkipOptional marks the step Failed but lets independent
	// branches continue; downstream steps depending on it are skipped.
	OnErrorSkipOptional OnErrorPolicy = "skip_optional"
	// OnErrorCompensate requires CompensateWith to be set and, like
	// OnErrorSkipOptional, marks the step Failed and skips its dependents
	// instead of failing the execution. The Executor does not start the
	// CompensateWith step in response to the failure.
	OnErrorCompensate OnErrorPolicy = "compensate"
)

// Selector names which resolver a step should run against: either an exact
// name+version, or a capability/tag query resolved at execution time (the
// Executor takes the first entry in the registry's search order: depth
// ascending, degraded entries last, version descending).
type Selector struct {
	ResolverName    string
	ResolverVersion resolver.Version
	Capability      string
	Tag             string
}

// IsExact reports whether the selector names a specific resolver rather
// than a capability/tag query.
func (s Selector) IsExact() bool { return s.ResolverName != "" }

// Step is one node of a Mastery Plan's DAG.
type Step struct {
	Name            string
	Selector        Selector
	DependsOn       []string
	OnError         OnErrorPolicy
	CompensateWith  string // name of another Step; must be set for OnErrorCompensate
	InputFromSteps  []string
	StaticInput     map[string]any
}

// Plan is a versioned, named DAG of Steps — the C5 Mastery Registry's
// stored unit, and the C7 Executor's unit of work.
type Plan struct {
	Name        string
	Version     resolver.Version
	Description string
	Steps       []Step
}

// ItemName/ItemVersion satisfy registry.Versioned, letting a Plan be stored
// in a registry.MasteryRegistry[*Plan] without that package importing this
// one.
func (p *Plan) ItemName() string             { return p.Name }
func (p *Plan) ItemVersion() resolver.Version { return p.Version }

var (
	// ErrEmptyPlan is returned by Validate for a plan with no steps.
	ErrEmptyPlan = errors.New("mastery: plan has no steps")
	// ErrDuplicateStep is returned for two steps sharing a name.
	ErrDuplicateStep = errors.New("mastery: duplicate step name")
	// ErrUnknownDependency is returned when a step depends on a name not
	// present in the plan.
	ErrUnknownDependency = errors.New("mastery: step depends on unknown step")
	// ErrCycle is returned when the DAG contains a cycle.
	ErrCycle = errors.New("mastery: plan contains a dependency cycle")
)

// Validate checks structural invariants: non-empty, unique step names,
// dependencies that resolve to real steps, and acyclicity. It does not
// check that selectors resolve to registered resolvers — that is an
// execution-time concern (a plan can be valid before any resolver backing
// it exists).
func (p *Plan) Validate() error {
	if len(p.Steps) == 0 {
		return ErrEmptyPlan
	}

	byName := make(map[string]Step, len(p.Steps))
	for _, s := range p.Steps {
		if _, dup := byName[s.Name]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateStep, s.Name)
		}
		byName[s.Name] = s
	}
	for _, s := range p.Steps {
		for _, dep := range s.DependsOn {
			if _, ok := byName[dep]; !ok {
				return fmt.Errorf("%w: %s depends on %s", ErrUnknownDependency, s.Name, dep)
			}
		}
	}

	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[string]int, len(p.Steps))
	var visit func(name string) error
	visit = func(name string) error {
		switch color[name] {
		case black:
			return nil
		case grey:
			return fmt.Errorf("%w: at %s", ErrCycle, name)
		}
		color[name] = grey
		for _, dep := range byName[name].DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		color[name] = black
		return nil
	}
	for _, s := range p.Steps {
		if err := visit(s.Name); err != nil {
			return err
		}
	}
	return nil
}

// TopoLevels groups steps into execution "waves": level 0 has no
// dependencies, level N depends only on levels < N. Steps within a level
// have no dependency relationship and are candidates for fan-out.
func (p *Plan) TopoLevels() ([][]Step, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	byName := make(map[string]Step, len(p.Steps))
	for _, s := range p.Steps {
		byName[s.Name] = s
	}

	level := make(map[string]int, len(p.Steps))
	var depth func(name string) int
	depth = func(name string) int {
		if d, ok := level[name]; ok {
			return d
		}
		max := -1
		for _, dep := range byName[name].DependsOn {
			if d := depth(dep); d > max {
				max = d
			}
		}
		level[name] = max + 1
		return max + 1
	}

	maxLevel := 0
	for _, s := range p.Steps {
		if d := depth(s.Name); d > maxLevel {
			maxLevel = d
		}
	}

	waves := make([][]Step, maxLevel+1)
	for _, s := range p.Steps {
		l := level[s.Name]
		waves[l] = append(waves[l], s)
	}
	return waves, nil
}
