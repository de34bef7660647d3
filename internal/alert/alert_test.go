package alert

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/risa-labs-inc/boss/internal/metricsstore"
)

func TestRuleFiresOnceAndDedups(t *testing.T) {
	m := NewManager(nil)
	var firing int32
	atomic.StoreInt32(&firing, 1)

	m.AddRule(Rule{
		Name:     "high-latency",
		Severity: SeverityMedium,
		Cooldown: time.Minute,
		Check: func(ctx context.Context, store *metricsstore.Store) (bool, string, error) {
			return atomic.LoadInt32(&firing) == 1, "latency too high", nil
		},
	})

	m.EvaluateOnce(context.Background())
	m.EvaluateOnce(context.Background())

	active := m.Active()
	require.Len(t, active, 1)
	assert.Len(t, m.History(), 1, "second evaluation should not create a duplicate alert")
}

func TestRuleResolvesAfterCooldown(t *testing.T) {
	m := NewManager(nil)
	var firing int32
	atomic.StoreInt32(&firing, 1)

	m.AddRule(Rule{
		Name:     "flaky-check",
		Severity: SeverityCritical,
		Cooldown: 10 * time.Millisecond,
		Check: func(ctx context.Context, store *metricsstore.Store) (bool, string, error) {
			return atomic.LoadInt32(&firing) == 1, "", nil
		},
	})

	m.EvaluateOnce(context.Background())
	require.Len(t, m.Active(), 1)

	atomic.StoreInt32(&firing, 0)
	m.EvaluateOnce(context.Background())
	require.Len(t, m.Active(), 1, "cooldown has not elapsed yet")

	time.Sleep(15 * time.Millisecond)
	m.EvaluateOnce(context.Background())
	assert.Empty(t, m.Active())
}

func TestFireAndResolveManual(t *testing.T) {
	m := NewManager(nil)
	a := m.Fire("human-intervention", SeverityCritical, "evolution candidate regressed")
	require.Len(t, m.Active(), 1)
	assert.Equal(t, StatusActive, a.Status)

	require.NoError(t, m.Resolve(a.ID))
	assert.Empty(t, m.Active())

	// Resolving an already-resolved alert is idempotent, not an error.
	require.NoError(t, m.Resolve(a.ID))
	assert.Equal(t, StatusResolved, a.Status)
}

func TestAcknowledgeIsIdempotentUntilResolved(t *testing.T) {
	m := NewManager(nil)
	a := m.Fire("disk-full", SeverityHigh, "disk at 95%")

	require.NoError(t, m.Acknowledge(a.ID))
	assert.Equal(t, StatusAcknowledged, a.Status)
	assert.False(t, a.AcknowledgedAt.IsZero())

	// Acknowledging again is a no-op, not an error.
	require.NoError(t, m.Acknowledge(a.ID))
	assert.Equal(t, StatusAcknowledged, a.Status)

	require.NoError(t, m.Resolve(a.ID))
	assert.Equal(t, StatusResolved, a.Status)

	err := m.Acknowledge(a.ID)
	assert.ErrorIs(t, err, ErrAlreadyResolved)
}

func TestAcknowledgeUnknownAlert(t *testing.T) {
	m := NewManager(nil)
	err := m.Acknowledge("does-not-exist")
	assert.ErrorIs(t, err, ErrAlertNotFound)
}
