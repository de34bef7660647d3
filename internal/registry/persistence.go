package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/risa-labs-inc/boss/internal/resolver"
)

// A Resolver instance is code, not data — a snapshot can't resurrect a
// closure over an LLM client or DB handle. What IS worth persisting
// atomically, mirroring the teacher's snapshot.Manager
// (internal/snapshot/snapshot_manager.go: temp-file-then-rename, versioned
// schema), is the registry's identity/health state: which name/version
// pairs were registered, their tags/capabilities, and their last known
// health. On restart the process's bootstrap code re-registers the actual
// Resolver values; loading a snapshot does not restore entries into a
// registry, it only returns the persisted document.

// SnapshotSchemaVersion is bumped whenever the on-disk shape changes.
const SnapshotSchemaVersion = 1

// EntrySnapshot is the persisted shape of a single registry Entry.
type EntrySnapshot struct {
	Name             string             `json:"name"`
	Version          resolver.Version   `json:"version"`
	Description      string             `json:"description"`
	Tags             []string           `json:"tags,omitempty"`
	Capabilities     []string           `json:"capabilities,omitempty"`
	RegisteredAt     time.Time          `json:"registered_at"`
	LastHealthStatus resolver.HealthStatus `json:"last_health_status,omitempty"`
	LastHealthCheck  time.Time          `json:"last_health_check,omitempty"`
}

// Snapshot is the full on-disk document.
type Snapshot struct {
	SchemaVersion int             `json:"schema_version"`
	SavedAt       time.Time       `json:"saved_at"`
	Entries       []EntrySnapshot `json:"entries"`
}

// SnapshotManager writes and loads Snapshot documents atomically, adapted
// from the teacher's snapshot.Manager.
type SnapshotManager struct {
	path string
	mu   sync.Mutex
}

// NewSnapshotManager targets path for reads/writes.
func NewSnapshotManager(path string) *SnapshotManager {
	return &SnapshotManager{path: path}
}

// Write serializes snapshot to a temp file and renames it into place, the
// same two-step sequence as the teacher's Manager.Write.
func (m *SnapshotManager) Write(snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap.SchemaVersion = SnapshotSchemaVersion
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("registry: marshal snapshot: %w", err)
	}

	tmpPath := m.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("registry: write temp snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, m.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("registry: rename snapshot: %w", err)
	}
	return nil
}

// Load reads the snapshot at path. A missing file returns an empty
// Snapshot and no error, matching a first-boot fabric with no prior state.
func (m *SnapshotManager) Load() (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var snap Snapshot
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Snapshot{SchemaVersion: SnapshotSchemaVersion}, nil
		}
		return snap, fmt.Errorf("registry: read snapshot: %w", err)
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("registry: corrupted snapshot: %w", err)
	}
	if snap.SchemaVersion != SnapshotSchemaVersion {
		return Snapshot{}, fmt.Errorf("registry: incompatible snapshot schema %d", snap.SchemaVersion)
	}
	return snap, nil
}

// Snapshot captures the registry's current identity/health state for
// persistence, without attempting to serialize the live Resolver values.
func (r *TaskResolverRegistry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := Snapshot{SchemaVersion: SnapshotSchemaVersion, SavedAt: time.Now()}
	for name, versions := range r.byName {
		for version, entry := range versions {
			snap.Entries = append(snap.Entries, EntrySnapshot{
				Name:             name,
				Version:          version,
				Description:      entry.Metadata.Description,
				Tags:             setKeys(entry.Metadata.Tags),
				Capabilities:     setKeys(entry.Metadata.Capabilities),
				RegisteredAt:     entry.RegisteredAt,
				LastHealthStatus: entry.LastHealthStatus,
				LastHealthCheck:  entry.LastHealthCheck,
			})
		}
	}
	return snap
}

func setKeys(m map[string]struct{}) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
