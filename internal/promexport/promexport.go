// Package promexport exposes Prometheus metrics for the fabric, grounded
// on the teacher's internal/metrics.Collector: the same register-once
// Counter/Histogram/Gauge set, renamed from the queue domain to the
// task/resolver/mastery domain, served over the teacher's own
// promhttp.Handler() convention. It runs alongside, not instead of, the
// queryable internal/metricsstore — promexport is for a Prometheus
// scraper, metricsstore is for dashboard queries and alert rules.
package promexport

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds every metric the fabric exposes over /metrics.
type Collector struct {
	tasksSubmitted prometheus.Counter
	tasksCompleted prometheus.Counter
	tasksFailed    prometheus.Counter
	tasksRetried   prometheus.Counter
	taskLatency    prometheus.Histogram

	resolverHealthy   *prometheus.GaugeVec
	resolversActive   prometheus.Gauge
	evolutionsTotal   prometheus.Counter
	evolutionsRejected prometheus.Counter
	alertsActive      prometheus.Gauge
	alertsFiredTotal  prometheus.Counter

	mu sync.Mutex
}

// NewCollector builds and registers a Collector against the default
// Prometheus registry. Construct exactly one per process.
func NewCollector() *Collector {
	c := newUnregisteredCollector()
	prometheus.MustRegister(
		c.tasksSubmitted, c.tasksCompleted, c.tasksFailed, c.tasksRetried,
		c.taskLatency, c.resolverHealthy, c.resolversActive,
		c.evolutionsTotal, c.evolutionsRejected,
		c.alertsActive, c.alertsFiredTotal,
	)
	return c
}

// newUnregisteredCollector builds a Collector without registering it
// against any prometheus.Registerer, letting tests construct one per
// test case without colliding on the global default registry.
func newUnregisteredCollector() *Collector {
	c := &Collector{
		tasksSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "boss_tasks_submitted_total",
			Help: "Total number of tasks submitted to the fabric.",
		}),
		tasksCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "boss_tasks_completed_total",
			Help: "Total number of tasks that reached Completed.",
		}),
		tasksFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "boss_tasks_failed_total",
			Help: "Total number of tasks that reached Failed.",
		}),
		tasksRetried: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "boss_tasks_retried_total",
			Help: "Total number of retry attempts issued across all tasks.",
		}),
		taskLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "boss_task_latency_seconds",
			Help:    "End-to-end task resolution latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		resolverHealthy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "boss_resolver_healthy",
			Help: "1 if the named resolver's last health check was Healthy, else 0.",
		}, []string{"resolver", "version"}),
		resolversActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "boss_resolvers_registered",
			Help: "Current number of resolver (name, version) pairs registered.",
		}),
		evolutionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "boss_evolutions_total",
			Help: "Total number of evolution attempts that promoted a candidate.",
		}),
		evolutionsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "boss_evolutions_rejected_total",
			Help: "Total number of evolution attempts that ended without a promoted candidate.",
		}),
		alertsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "boss_alerts_active",
			Help: "Current number of Active alerts.",
		}),
		alertsFiredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "boss_alerts_fired_total",
			Help: "Total number of alerts fired since process start.",
		}),
	}
	return c
}

func (c *Collector) RecordSubmitted() { c.tasksSubmitted.Inc() }

func (c *Collector) RecordCompleted(latencySeconds float64) {
	c.tasksCompleted.Inc()
	c.taskLatency.Observe(latencySeconds)
}

func (c *Collector) RecordFailed() { c.tasksFailed.Inc() }

func (c *Collector) RecordRetry() { c.tasksRetried.Inc() }

func (c *Collector) SetResolverHealthy(name, version string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	c.resolverHealthy.WithLabelValues(name, version).Set(v)
}

func (c *Collector) SetResolversActive(n int) {
	c.resolversActive.Set(float64(n))
}

func (c *Collector) RecordEvolution(promoted bool) {
	if promoted {
		c.evolutionsTotal.Inc()
		return
	}
	c.evolutionsRejected.Inc()
}

func (c *Collector) SetAlertsActive(n int) {
	c.alertsActive.Set(float64(n))
}

func (c *Collector) RecordAlertFired() {
	c.alertsFiredTotal.Inc()
}

// StartServer serves /metrics on the given port until the process exits
// or ListenAndServe errors.
func StartServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(fmt.Sprintf(":%d", port), mux)
}
