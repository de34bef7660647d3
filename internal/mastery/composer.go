package mastery

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/risa-labs-inc/boss/internal/registry"
	"github.com/risa-labs-inc/boss/internal/resolver"
)

// Composer is the C6 Mastery Composer (spec.md §4.5): it synthesizes a
// linear Plan from a free-text description by matching capability keywords
// against the TaskResolver Registry, grounded on
// original_source/boss/core/mastery_composer.py's node-chaining model but
// simplified to the sequential case the distilled spec covers — branching
// conditions (MasteryNode.condition) are recovered as the Step.OnError
// policy rather than an arbitrary predicate, since spec.md §4.5 only
// requires pass/fail branching.
type Composer struct {
	registry *registry.TaskResolverRegistry
}

// NewComposer builds a Composer over reg.
func NewComposer(reg *registry.TaskResolverRegistry) *Composer {
	return &Composer{registry: reg}
}

// ErrNoCapabilityMatch is returned when no registered resolver advertises a
// capability token extracted from the description.
var ErrNoCapabilityMatch = fmt.Errorf("mastery: no resolver matches any capability token in description")

// Compose never persists (spec.md §4.5 — the Composer itself is stateless);
// a caller that wants to cache a synthesized plan feeds it back through
// MasteryRegistry.Register itself (SPEC_FULL.md §4.4).
func (c *Composer) Compose(ctx context.Context, description string) (*Plan, error) {
	tokens := capabilityTokens(description)
	if len(tokens) == 0 {
		return nil, ErrNoCapabilityMatch
	}

	var steps []Step
	var prev string
	matched := false
	for i, tok := range tokens {
		resolvers, err := c.registry.FindByCapability(tok)
		if err != nil || len(resolvers) == 0 {
			continue
		}
		matched = true
		name := fmt.Sprintf("step-%d-%s", i, tok)
		step := Step{
			Name:     name,
			Selector: Selector{Capability: tok},
			OnError:  OnErrorPropagate,
		}
		if prev != "" {
			step.DependsOn = []string{prev}
			step.InputFromSteps = []string{prev}
		}
		steps = append(steps, step)
		prev = name
	}
	if !matched {
		return nil, ErrNoCapabilityMatch
	}

	plan := &Plan{
		Name:        planName(description),
		Version:     resolver.Version{Major: 1},
		Description: description,
		Steps:       steps,
	}
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("mastery: composed plan is invalid: %w", err)
	}
	return plan, nil
}

// capabilityTokens extracts candidate capability identifiers (dotted
// lower-case words, e.g. "text.summarize") from a free-text description.
func capabilityTokens(description string) []string {
	var tokens []string
	for _, word := range strings.Fields(strings.ToLower(description)) {
		word = strings.Trim(word, ".,;:!?()\"'")
		if strings.Contains(word, ".") {
			tokens = append(tokens, word)
		}
	}
	return tokens
}

// planName derives a stable, cacheable name from description's hash, the
// key original_source's cache-by-hash behavior (§4.4 SPEC_FULL.md
// supplement) needs to look up a previously composed plan.
func planName(description string) string {
	sum := sha256.Sum256([]byte(description))
	return "composed-" + hex.EncodeToString(sum[:8])
}
