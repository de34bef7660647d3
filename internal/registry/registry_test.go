package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/risa-labs-inc/boss/internal/resolver"
	"github.com/risa-labs-inc/boss/pkg/task"
)

type fakeResolver struct {
	md     resolver.Metadata
	status resolver.HealthStatus
}

func (f *fakeResolver) Resolve(ctx context.Context, t *task.Task) *task.Task {
	_ = t.SetResult(task.TaskResult{Data: map[string]any{"ok": true}})
	return t
}

func (f *fakeResolver) HealthCheck(ctx context.Context) (resolver.HealthStatus, map[string]any) {
	return f.status, nil
}

func (f *fakeResolver) Metadata() resolver.Metadata { return f.md }

func newFake(name string, v resolver.Version, tags, caps []string) *fakeResolver {
	tagSet := map[string]struct{}{}
	for _, t := range tags {
		tagSet[t] = struct{}{}
	}
	capSet := map[string]struct{}{}
	for _, c := range caps {
		capSet[c] = struct{}{}
	}
	return &fakeResolver{
		md: resolver.Metadata{
			Name: name, Version: v,
			Tags: tagSet, Capabilities: capSet,
		},
		status: resolver.HealthHealthy,
	}
}

func TestRegisterAndGetLatest(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(newFake("echo", resolver.Version{Major: 1}, nil, nil)))
	require.NoError(t, r.Register(newFake("echo", resolver.Version{Major: 2}, nil, nil)))

	got, err := r.Get("echo", resolver.Version{})
	require.NoError(t, err)
	assert.Equal(t, resolver.Version{Major: 2}, got.Metadata().Version)

	got, err = r.Get("echo", resolver.Version{Major: 1})
	require.NoError(t, err)
	assert.Equal(t, resolver.Version{Major: 1}, got.Metadata().Version)
}

func TestRegisterWithoutNameFails(t *testing.T) {
	r := New()
	err := r.Register(newFake("", resolver.Version{}, nil, nil))
	assert.ErrorIs(t, err, ErrNoMetadata)
}

func TestUnregisterSpecificAndAllVersions(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(newFake("echo", resolver.Version{Major: 1}, nil, nil)))
	require.NoError(t, r.Register(newFake("echo", resolver.Version{Major: 2}, nil, nil)))

	require.NoError(t, r.Unregister("echo", resolver.Version{Major: 1}))
	_, err := r.Get("echo", resolver.Version{Major: 1})
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, r.Unregister("echo", resolver.Version{}))
	_, err = r.Get("echo", resolver.Version{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindByTagAndCapability(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(newFake("echo", resolver.Version{Major: 1}, []string{"demo"}, []string{"text.echo"})))
	require.NoError(t, r.Register(newFake("sum", resolver.Version{Major: 1}, []string{"math"}, []string{"arith.sum"})))

	byTag, err := r.FindByTag("demo")
	require.NoError(t, err)
	require.Len(t, byTag, 1)
	assert.Equal(t, "echo", byTag[0].Metadata().Name)

	byCap, err := r.FindByCapability("arith.sum")
	require.NoError(t, err)
	require.Len(t, byCap, 1)
	assert.Equal(t, "sum", byCap[0].Metadata().Name)
}

func TestFindByNamePattern(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(newFake("echo-v2", resolver.Version{Major: 1}, nil, nil)))
	require.NoError(t, r.Register(newFake("sum", resolver.Version{Major: 1}, nil, nil)))

	matches, err := r.FindByNamePattern("^echo")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "echo-v2", matches[0].Metadata().Name)
}

func TestHealthRollupRecordsStatus(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(newFake("echo", resolver.Version{Major: 1}, nil, nil)))

	reports, err := r.HealthRollup(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, resolver.HealthHealthy, reports[0].Status)
}

func TestMasteryRegistryRegisterGetUnregister(t *testing.T) {
	mr := NewMasteryRegistry[versionedItem]()
	require.NoError(t, mr.Register(versionedItem{"plan-a", resolver.Version{Major: 1}}))
	require.NoError(t, mr.Register(versionedItem{"plan-a", resolver.Version{Major: 2}}))

	got, err := mr.Get("plan-a", resolver.Version{})
	require.NoError(t, err)
	assert.Equal(t, resolver.Version{Major: 2}, got.ItemVersion())

	all := mr.All()
	require.Len(t, all, 1)

	require.NoError(t, mr.Unregister("plan-a", resolver.Version{}))
	_, err = mr.Get("plan-a", resolver.Version{})
	assert.ErrorIs(t, err, ErrNotFound)
}

type versionedItem struct {
	name string
	ver  resolver.Version
}

func (v versionedItem) ItemName() string             { return v.name }
func (v versionedItem) ItemVersion() resolver.Version { return v.ver }

func TestSnapshotWriteLoadRoundTrip(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(newFake("echo", resolver.Version{Major: 1}, []string{"demo"}, nil)))

	dir := t.TempDir()
	path := filepath.Join(dir, "registry.json")
	sm := NewSnapshotManager(path)

	require.NoError(t, sm.Write(r.Snapshot()))

	loaded, err := sm.Load()
	require.NoError(t, err)
	require.Len(t, loaded.Entries, 1)
	assert.Equal(t, "echo", loaded.Entries[0].Name)
	assert.Contains(t, loaded.Entries[0].Tags, "demo")
}

func TestSnapshotLoadMissingFileIsEmpty(t *testing.T) {
	sm := NewSnapshotManager(filepath.Join(t.TempDir(), "missing.json"))
	snap, err := sm.Load()
	require.NoError(t, err)
	assert.Empty(t, snap.Entries)
}

func TestSnapshotLoadCorruptedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	sm := NewSnapshotManager(path)
	_, err := sm.Load()
	assert.Error(t, err)
}
