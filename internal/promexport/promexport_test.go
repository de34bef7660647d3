package promexport

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, g.Write(&m))
	return m.GetGauge().GetValue()
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestCollectorRecordsTaskOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := newUnregisteredCollector()
	reg.MustRegister(c.tasksSubmitted, c.tasksCompleted, c.tasksFailed)

	c.RecordSubmitted()
	c.RecordCompleted(0.25)
	c.RecordFailed()

	assert.Equal(t, 1.0, counterValue(t, c.tasksSubmitted))
	assert.Equal(t, 1.0, counterValue(t, c.tasksCompleted))
	assert.Equal(t, 1.0, counterValue(t, c.tasksFailed))
}

func TestCollectorTracksResolverHealthAndAlerts(t *testing.T) {
	c := newUnregisteredCollector()

	c.SetResolversActive(3)
	assert.Equal(t, 3.0, gaugeValue(t, c.resolversActive))

	c.SetAlertsActive(2)
	assert.Equal(t, 2.0, gaugeValue(t, c.alertsActive))

	c.RecordAlertFired()
	assert.Equal(t, 1.0, counterValue(t, c.alertsFiredTotal))

	c.SetResolverHealthy("echo", "1.0.0", true)
	g := c.resolverHealthy.WithLabelValues("echo", "1.0.0")
	assert.Equal(t, 1.0, gaugeValue(t, g))

	c.SetResolverHealthy("echo", "1.0.0", false)
	assert.Equal(t, 0.0, gaugeValue(t, g))
}

func TestCollectorRecordsEvolutionOutcomes(t *testing.T) {
	c := newUnregisteredCollector()
	c.RecordEvolution(true)
	c.RecordEvolution(false)
	assert.Equal(t, 1.0, counterValue(t, c.evolutionsTotal))
	assert.Equal(t, 1.0, counterValue(t, c.evolutionsRejected))
}
