// Package resolver defines the Resolver contract (spec.md §4.1): the single
// capability interface every task-resolving component satisfies, adapted
// from the teacher's Worker interface (internal/worker) generalized from
// "executes a simulated job" to "transforms a Task given its metadata and
// health/baseline-test obligations".
package resolver

import (
	"context"
	"strconv"

	"github.com/risa-labs-inc/boss/pkg/task"
)

// Version is a comparable (major, minor, patch) tuple. Comparison is
// tuple-based, never lexicographic (spec.md §4.3 invariant).
type Version struct {
	Major, Minor, Patch int
}

// Compare returns -1, 0, 1 as v is less than, equal to, or greater than o.
func (v Version) Compare(o Version) int {
	switch {
	case v.Major != o.Major:
		return cmp(v.Major, o.Major)
	case v.Minor != o.Minor:
		return cmp(v.Minor, o.Minor)
	default:
		return cmp(v.Patch, o.Patch)
	}
}

func cmp(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func (v Version) String() string {
	return strconv.Itoa(v.Major) + "." + strconv.Itoa(v.Minor) + "." + strconv.Itoa(v.Patch)
}

// Metadata is the stable-for-the-entry's-lifetime description every
// resolver publishes (spec.md §3 ResolverMetadata).
type Metadata struct {
	Name        string
	Version     Version
	Description string
	// Depth prevents recursion: a resolver may only invoke resolvers of
	// strictly lower depth.
	Depth int

	InputSchema  Schema
	ResultSchema Schema
	ErrorSchema  Schema

	Tags         map[string]struct{}
	Capabilities map[string]struct{}

	EvolutionThresholdFailures int
	MinEvolutionInterval       int64 // nanoseconds, time.Duration
}

// HasTag reports whether t is in Tags.
func (m Metadata) HasTag(t string) bool { _, ok := m.Tags[t]; return ok }

// HasCapability reports whether c is in Capabilities.
func (m Metadata) HasCapability(c string) bool { _, ok := m.Capabilities[c]; return ok }

// Schema is a minimal structural schema: the set of field names a
// map[string]any must carry and their expected Go kind, sufficient for the
// boundary validation spec.md §9 calls for without a full JSON-schema
// dependency (none of which appears anywhere in the retrieved pack).
type Schema struct {
	Fields map[string]FieldKind
}

// FieldKind is the narrowed sum-type spec.md §9 describes:
// string | number | boolean | sequence | mapping | null.
type FieldKind int

const (
	KindAny FieldKind = iota
	KindString
	KindNumber
	KindBool
	KindSequence
	KindMapping
)

// Validate checks that input satisfies every required field's kind.
// Missing optional fields (not present in Fields) are ignored; fields
// present in the data but not declared in the schema are permitted
// (schemas here are a floor, not a fence).
func (s Schema) Validate(data map[string]any) *task.TaskError {
	for name, kind := range s.Fields {
		v, ok := data[name]
		if !ok {
			return task.NewTaskError(task.ErrorKindValidation, "missing required field: "+name, nil)
		}
		if kind == KindAny {
			continue
		}
		if !kindMatches(kind, v) {
			return task.NewTaskError(task.ErrorKindValidation, "field "+name+" has wrong type", nil)
		}
	}
	return nil
}

func kindMatches(kind FieldKind, v any) bool {
	switch kind {
	case KindString:
		_, ok := v.(string)
		return ok
	case KindNumber:
		switch v.(type) {
		case int, int64, float64, float32:
			return true
		}
		return false
	case KindBool:
		_, ok := v.(bool)
		return ok
	case KindSequence:
		_, ok := v.([]any)
		return ok
	case KindMapping:
		_, ok := v.(map[string]any)
		return ok
	default:
		return true
	}
}

// BaselineReport is the result of running a resolver's fixed regression
// suite, used by the Evolver to gate replacement (spec.md §4.7).
type BaselineReport struct {
	Passed []string
	Failed []string
}

// PassedSet returns Passed as a membership set, for superset comparison.
func (r BaselineReport) PassedSet() map[string]struct{} {
	set := make(map[string]struct{}, len(r.Passed))
	for _, name := range r.Passed {
		set[name] = struct{}{}
	}
	return set
}

// HealthStatus is the outcome of a health probe.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// Resolver is the single capability interface the fabric consumes (§4.1).
// Concrete resolvers wrapping external collaborators (LLM clients, DB
// drivers, HTTP APIs) are out of scope for the core; it only depends on
// this interface.
type Resolver interface {
	// Resolve consumes t and returns a Task with a terminal status set. It
	// must respect ctx cancellation and never panic past this boundary
	// (panics are the caller's — typically the Retry Engine's —
	// responsibility to convert to an Internal TaskError).
	Resolve(ctx context.Context, t *task.Task) *task.Task

	// HealthCheck is a cheap, side-effect-free probe honoring ctx's
	// deadline.
	HealthCheck(ctx context.Context) (HealthStatus, map[string]any)

	// Metadata is stable for the entry's lifetime.
	Metadata() Metadata
}

// BaselineTester is implemented by resolvers that support the Evolver's
// regression gate (§4.1's optional fourth operation).
type BaselineTester interface {
	RunBaselineTests(ctx context.Context) (BaselineReport, error)
}
