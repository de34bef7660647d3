package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/risa-labs-inc/boss/internal/resolver"
)

var (
	// ErrNoMetadata mirrors registry.py's "TaskResolver must have metadata".
	ErrNoMetadata = errors.New("registry: resolver has no name in its metadata")
	// ErrNotFound is returned by Get/Unregister for unknown name/version.
	ErrNotFound = errors.New("registry: resolver not found")
	// ErrAlreadyRegistered is returned by Register when the (name, version)
	// identity already exists — registry.py's search() sweep would
	// otherwise silently shadow the older entry, which spec.md §4.3 forbids.
	ErrAlreadyRegistered = errors.New("registry: resolver already registered")
)

// TaskResolverRegistry indexes Resolvers by name -> version -> Entry, plus
// secondary tag/capability indices for discovery, exactly as
// registry.py's `resolvers: Dict[str, Dict[str, RegistryEntry]]` does with
// its search() sweep, generalized here into precomputed indices so lookups
// don't rescan every entry.
type TaskResolverRegistry struct {
	mu        sync.RWMutex
	byName    map[string]map[resolver.Version]*Entry
	onChanged func()
}

// New creates an empty registry.
func New() *TaskResolverRegistry {
	return &TaskResolverRegistry{byName: make(map[string]map[resolver.Version]*Entry)}
}

// OnChanged installs a callback invoked after every mutating operation,
// used by the persistence layer to trigger a debounced snapshot write.
func (r *TaskResolverRegistry) OnChanged(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChanged = fn
}

func (r *TaskResolverRegistry) notify() {
	if r.onChanged != nil {
		r.onChanged()
	}
}

// Register adds res to the registry keyed by its metadata's name/version. A
// resolver without a Name cannot be registered (mirrors the original's
// ValueError guard). Registering an identity — (name, version) — that
// already exists is rejected rather than silently overwriting the prior
// entry (spec.md §4.3: "Rejects if (name, version) exists").
func (r *TaskResolverRegistry) Register(res resolver.Resolver) error {
	md := res.Metadata()
	if md.Name == "" {
		return ErrNoMetadata
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if versions, ok := r.byName[md.Name]; ok {
		if _, exists := versions[md.Version]; exists {
			return fmt.Errorf("%w: %s v%s", ErrAlreadyRegistered, md.Name, md.Version)
		}
	} else {
		r.byName[md.Name] = make(map[resolver.Version]*Entry)
	}
	r.byName[md.Name][md.Version] = &Entry{
		Resolver:     res,
		Metadata:     md,
		RegisteredAt: time.Now(),
	}
	r.notify()
	return nil
}

// Unregister removes a specific version, or every version of name when
// version is the zero Version.
func (r *TaskResolverRegistry) Unregister(name string, version resolver.Version) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	versions, ok := r.byName[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	if version == (resolver.Version{}) {
		delete(r.byName, name)
		r.notify()
		return nil
	}

	if _, ok := versions[version]; !ok {
		return fmt.Errorf("%w: %s v%s", ErrNotFound, name, version)
	}
	delete(versions, version)
	if len(versions) == 0 {
		delete(r.byName, name)
	}
	r.notify()
	return nil
}

// Get returns a resolver by name and exact version, or its latest version
// when version is the zero Version.
func (r *TaskResolverRegistry) Get(name string, version resolver.Version) (resolver.Resolver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions, ok := r.byName[name]
	if !ok || len(versions) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	if version != (resolver.Version{}) {
		entry, ok := versions[version]
		if !ok {
			return nil, fmt.Errorf("%w: %s v%s", ErrNotFound, name, version)
		}
		return entry.Resolver, nil
	}
	return versions[latestVersion(versions)].Resolver, nil
}

func latestVersion(versions map[resolver.Version]*Entry) resolver.Version {
	all := make([]resolver.Version, 0, len(versions))
	for v := range versions {
		all = append(all, v)
	}
	sorted := versionsSorted(all)
	return sorted[len(sorted)-1]
}

// AllVersions returns every registered version of name, ascending.
func (r *TaskResolverRegistry) AllVersions(name string) []resolver.Version {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions, ok := r.byName[name]
	if !ok {
		return nil
	}
	all := make([]resolver.Version, 0, len(versions))
	for v := range versions {
		all = append(all, v)
	}
	return versionsSorted(all)
}

// SearchOptions narrows Search's sweep, mirroring registry.py's search()
// keyword arguments.
type SearchOptions struct {
	NamePattern  string
	Tags         map[string]struct{}
	Capabilities map[string]struct{}
}

// Search returns the latest version of every resolver matching opts,
// ordered by (depth ascending, version descending) with degraded entries
// sorted after non-degraded ones at the same depth (spec.md §4.3/§7) — a
// bare map range would otherwise make resolveStep's candidate choice
// non-deterministic. An empty SearchOptions returns every registered
// resolver, matching get_all_resolvers().
func (r *TaskResolverRegistry) Search(opts SearchOptions) ([]resolver.Resolver, error) {
	entries, err := r.searchEntries(opts)
	if err != nil {
		return nil, err
	}
	out := make([]resolver.Resolver, len(entries))
	for i, e := range entries {
		out[i] = e.Resolver
	}
	return out, nil
}

func (r *TaskResolverRegistry) searchEntries(opts SearchOptions) ([]*Entry, error) {
	namePattern, err := compileNamePattern(opts.NamePattern)
	if err != nil {
		return nil, fmt.Errorf("registry: invalid name pattern: %w", err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Entry
	for name, versions := range r.byName {
		if namePattern != nil && !namePattern.MatchString(name) {
			continue
		}
		if len(versions) == 0 {
			continue
		}
		entry := versions[latestVersion(versions)]
		if opts.Tags != nil && !entry.MatchesTags(opts.Tags) {
			continue
		}
		if opts.Capabilities != nil && !entry.MatchesCapabilities(opts.Capabilities) {
			continue
		}
		out = append(out, entry)
	}
	sortEntries(out)
	return out, nil
}

// FindByTag is Search restricted to a single required tag.
func (r *TaskResolverRegistry) FindByTag(tag string) ([]resolver.Resolver, error) {
	return r.Search(SearchOptions{Tags: map[string]struct{}{tag: {}}})
}

// FindByCapability is Search restricted to a single required capability.
func (r *TaskResolverRegistry) FindByCapability(capability string) ([]resolver.Resolver, error) {
	return r.Search(SearchOptions{Capabilities: map[string]struct{}{capability: {}}})
}

// FindByNamePattern is Search restricted to a regex over the resolver name,
// recovered from registry.py's optional name_pattern filter (§4.3 of
// SPEC_FULL.md).
func (r *TaskResolverRegistry) FindByNamePattern(pattern string) ([]resolver.Resolver, error) {
	return r.Search(SearchOptions{NamePattern: pattern})
}

// SemanticSearch ranks registered resolvers against queryText. No embedder
// exists anywhere in the retrieved pack, so this falls back to a substring
// match on each resolver's Description — the grounded minimum registry.py's
// semantic_search(query_text, k) calls for — and returns at most k results,
// ordered the same way Search is (depth ascending, version descending,
// degraded last) with matches ranked above non-matches.
func (r *TaskResolverRegistry) SemanticSearch(queryText string, k int) ([]resolver.Resolver, error) {
	entries, err := r.searchEntries(SearchOptions{})
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(strings.TrimSpace(queryText))
	var matched, rest []*Entry
	for _, e := range entries {
		if needle != "" && strings.Contains(strings.ToLower(e.Metadata.Description), needle) {
			matched = append(matched, e)
		} else {
			rest = append(rest, e)
		}
	}
	ranked := append(matched, rest...)

	if k > 0 && k < len(ranked) {
		ranked = ranked[:k]
	}
	out := make([]resolver.Resolver, len(ranked))
	for i, e := range ranked {
		out[i] = e.Resolver
	}
	return out, nil
}

// HealthReport is the outcome of a single resolver's health probe, tagged
// with the name/version it came from for aggregation.
type HealthReport struct {
	Name    string
	Version resolver.Version
	Status  resolver.HealthStatus
	Detail  map[string]any
	Err     error
}

// HealthRollup runs HealthCheck concurrently across every registered
// resolver (latest version of each), bounded by concurrency, and records
// the outcome on each Entry. Concurrent fan-out uses errgroup, the pattern
// the pack's kingrea/codenerd/scalpel-cli repos use for bounded parallel
// probes — registry.py's original is single-threaded, so this is where the
// Go port genuinely does more work per call than the Python original.
func (r *TaskResolverRegistry) HealthRollup(ctx context.Context, concurrency int) ([]HealthReport, error) {
	if concurrency <= 0 {
		concurrency = 8
	}

	r.mu.RLock()
	type target struct {
		name    string
		version resolver.Version
		entry   *Entry
	}
	var targets []target
	for name, versions := range r.byName {
		if len(versions) == 0 {
			continue
		}
		v := latestVersion(versions)
		targets = append(targets, target{name: name, version: v, entry: versions[v]})
	}
	r.mu.RUnlock()

	reports := make([]HealthReport, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, tgt := range targets {
		i, tgt := i, tgt
		g.Go(func() error {
			status, detail := tgt.entry.Resolver.HealthCheck(gctx)
			reports[i] = HealthReport{Name: tgt.name, Version: tgt.version, Status: status, Detail: detail}

			r.mu.Lock()
			tgt.entry.LastHealthStatus = status
			tgt.entry.LastHealthCheck = time.Now()
			r.mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return reports, err
	}
	return reports, nil
}
