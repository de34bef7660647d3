// Package testresolvers provides small, deterministic Resolver
// implementations used to exercise the fabric end-to-end — in the demo
// CLI command and in integration-style tests — without reaching out to a
// real LLM, database, or network dependency.
package testresolvers

import (
	"context"

	"github.com/risa-labs-inc/boss/internal/resolver"
	"github.com/risa-labs-inc/boss/pkg/task"
)

// Echo is a trivial resolver that always succeeds, copying its Task's
// input straight into the result. It grounds the fabric's S1 happy-path
// scenario (spec.md §8) and is a convenient default leaf step in demo
// Mastery Plans.
type Echo struct {
	name    string
	version resolver.Version
}

// NewEcho builds an Echo resolver registered under the given name and
// version.
func NewEcho(name string, version resolver.Version) *Echo {
	return &Echo{name: name, version: version}
}

// Resolve is always called with t already in StatusInProgress (the
// Executor marks it so before dispatch), so this only ever attaches the
// terminal result or error.
func (e *Echo) Resolve(ctx context.Context, t *task.Task) *task.Task {
	if err := ctx.Err(); err != nil {
		_ = t.SetError(*task.NewTaskError(task.ErrorKindCancelled, "context cancelled", err))
		return t
	}
	_ = t.SetResult(task.TaskResult{Data: t.Input()})
	return t
}

func (e *Echo) HealthCheck(ctx context.Context) (resolver.HealthStatus, map[string]any) {
	return resolver.HealthHealthy, nil
}

func (e *Echo) Metadata() resolver.Metadata {
	return resolver.Metadata{
		Name:         e.name,
		Version:      e.version,
		Description:  "always-succeeds echo resolver",
		Tags:         map[string]struct{}{"demo": {}, "deterministic": {}},
		Capabilities: map[string]struct{}{"echo.respond": {}},
	}
}
