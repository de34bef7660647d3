// Package registry implements the versioned TaskResolver and Mastery Plan
// registries (spec.md §4.3/§4.4), grounded on
// original_source/boss/core/registry.py's TaskResolverRegistry/RegistryEntry
// and adapted to the teacher's snapshot-manager persistence idiom
// (internal/snapshot/snapshot_manager.go) for atomic on-disk state.
package registry

import (
	"regexp"
	"sort"
	"time"

	"github.com/risa-labs-inc/boss/internal/resolver"
)

// Entry pairs a registered Resolver with its bookkeeping. Mirrors the
// original's RegistryEntry, translated from Python sets to Go maps.
type Entry struct {
	Resolver         resolver.Resolver
	Metadata         resolver.Metadata
	RegisteredAt     time.Time
	LastHealthStatus resolver.HealthStatus
	LastHealthCheck  time.Time
}

// MatchesTags reports whether every tag in want is present on the entry.
func (e Entry) MatchesTags(want map[string]struct{}) bool {
	for t := range want {
		if !e.Metadata.HasTag(t) {
			return false
		}
	}
	return true
}

// MatchesCapabilities reports whether every capability in want is present.
func (e Entry) MatchesCapabilities(want map[string]struct{}) bool {
	for c := range want {
		if !e.Metadata.HasCapability(c) {
			return false
		}
	}
	return true
}

// versionsSorted returns versions ascending, tuple-compared (never
// lexicographic — spec.md §4.3 invariant).
func versionsSorted(versions []resolver.Version) []resolver.Version {
	out := make([]resolver.Version, len(versions))
	copy(out, versions)
	sort.Slice(out, func(i, j int) bool { return out[i].Compare(out[j]) < 0 })
	return out
}

// degraded reports whether the entry's most recent health check found it
// Degraded. Degraded entries are ordered after non-degraded alternatives
// rather than excluded outright (spec.md §7).
func (e *Entry) degraded() bool {
	return e.LastHealthStatus == resolver.HealthDegraded
}

// sortEntries orders entries by (depth ascending, version descending),
// with degraded entries deprioritized after non-degraded ones at the same
// depth — spec.md §4.3's "ordered by (depth ascending, version descending)"
// search contract plus §7's degraded-deprioritization invariant. A bare map
// range has no defined order, which would make resolveStep's candidate
// choice non-deterministic.
func sortEntries(entries []*Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Metadata.Depth != b.Metadata.Depth {
			return a.Metadata.Depth < b.Metadata.Depth
		}
		if ad, bd := a.degraded(), b.degraded(); ad != bd {
			return !ad
		}
		return a.Metadata.Version.Compare(b.Metadata.Version) > 0
	})
}

// compileNamePattern compiles pattern, or returns nil if pattern is empty —
// recovered from registry.py's optional name_pattern search filter.
func compileNamePattern(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, nil
	}
	return regexp.Compile(pattern)
}
