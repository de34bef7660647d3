// Package monitoringapi implements the C12 Monitoring API (spec.md §4.10 /
// §6): the fabric's HTTP surface for task submission, resolver/mastery
// registry inspection, execution history, metrics queries, alerts, and the
// dashboard. Grounded on the teacher's internal/server.Server for the
// shape of a thin RPC-facing wrapper around the fabric's core components,
// re-expressed over net/http's method-and-pattern ServeMux (Go 1.22+)
// rather than gRPC, since spec.md §6 calls for a JSON/HTML surface and no
// HTTP router library appears anywhere in the retrieved pack.
package monitoringapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/risa-labs-inc/boss/internal/alert"
	"github.com/risa-labs-inc/boss/internal/dashboard"
	"github.com/risa-labs-inc/boss/internal/evolver"
	"github.com/risa-labs-inc/boss/internal/mastery"
	"github.com/risa-labs-inc/boss/internal/metricsstore"
	"github.com/risa-labs-inc/boss/internal/registry"
	"github.com/risa-labs-inc/boss/internal/resolver"
	"github.com/risa-labs-inc/boss/pkg/task"
)

// correlationIDHeader is stamped on every response, echoing the caller's
// own id when supplied so requests can be traced end to end (spec.md §6).
const correlationIDHeader = "X-Correlation-Id"

// Server bundles the fabric's core components behind one HTTP handler.
type Server struct {
	Resolvers *registry.TaskResolverRegistry
	Plans     *registry.MasteryRegistry[*mastery.Plan]
	Executor  *mastery.Executor
	Composer  *mastery.Composer
	Evolver   *evolver.Evolver
	Metrics   *metricsstore.Store
	Alerts    *alert.Manager

	// MaxConcurrentExecutions bounds how many /v1/mastery/*/execute or
	// /execute-adjacent requests run at once; a request arriving once the
	// bound is saturated gets 429 rather than queueing indefinitely
	// (spec.md §6's backpressure requirement). 0 means unbounded.
	MaxConcurrentExecutions int

	initOnce    sync.Once
	execTokens  chan struct{}
	dashMu      sync.Mutex
	dashboards  map[string]string // id -> rendered HTML
	dashOrder   []string          // insertion order, for GET /dashboards listing
}

func (s *Server) init() {
	s.initOnce.Do(func() {
		if s.MaxConcurrentExecutions > 0 {
			s.execTokens = make(chan struct{}, s.MaxConcurrentExecutions)
		}
		s.dashboards = make(map[string]string)
	})
}

// Handler builds the ServeMux routing every endpoint spec.md §6 requires,
// wrapped in correlation-id middleware.
func (s *Server) Handler() http.Handler {
	s.init()
	mux := http.NewServeMux()

	// SPEC_FULL.md's expanded plan-execution/composition surface.
	mux.HandleFunc("POST /v1/mastery/{plan}/execute", s.handleExecute)
	mux.HandleFunc("POST /v1/mastery/compose", s.handleCompose)
	mux.HandleFunc("GET /v1/mastery/history", s.handleExecutionHistory)
	mux.HandleFunc("GET /v1/resolvers", s.handleListResolvers)
	mux.HandleFunc("GET /v1/resolvers/health", s.handleResolverHealth)
	mux.HandleFunc("POST /v1/evolver/{resolver}/evolve", s.handleEvolve)
	mux.HandleFunc("GET /v1/evolver/history", s.handleEvolutionHistory)

	// spec.md §6's external interface table.
	mux.HandleFunc("GET /health", s.handleLiveness)
	mux.HandleFunc("GET /healthz", s.handleLiveness)

	mux.HandleFunc("GET /metrics/system", s.handleQuerySystemMetrics)
	mux.HandleFunc("POST /metrics/system/collect", s.handleCollectSystemMetrics)

	mux.HandleFunc("GET /health/components", s.handleComponentHealth)
	mux.HandleFunc("GET /health/components/{id}", s.handleComponentHealthHistory)
	mux.HandleFunc("POST /health/components/{id}/check", s.handleComponentHealthCheck)

	mux.HandleFunc("GET /metrics/performance", s.handleQueryPerformanceMetrics)
	mux.HandleFunc("POST /metrics/performance/record", s.handleRecordPerformanceMetric)

	mux.HandleFunc("GET /alerts/active", s.handleActiveAlerts)
	mux.HandleFunc("GET /alerts/history", s.handleAlertHistory)
	mux.HandleFunc("POST /alerts/{id}/acknowledge", s.handleAcknowledgeAlert)
	mux.HandleFunc("POST /alerts/{id}/resolve", s.handleResolveAlert)

	mux.HandleFunc("GET /dashboards", s.handleListDashboards)
	mux.HandleFunc("POST /dashboards/generate", s.handleGenerateDashboard)
	mux.HandleFunc("GET /dashboards/{id}", s.handleGetDashboard)
	mux.HandleFunc("GET /dashboard", s.handleDashboard)

	// deprecated aliases kept for existing callers, still deterministic
	// under the same (kind, name) shape the v1 metrics route used before
	// Filter-based Query landed.
	mux.HandleFunc("GET /v1/metrics/{kind}/{name}", s.handleQueryMetricsLegacy)
	mux.HandleFunc("GET /v1/alerts", s.handleActiveAlerts)
	mux.HandleFunc("GET /v1/alerts/history", s.handleAlertHistory)

	return withCorrelationID(mux)
}

// withCorrelationID stamps every response with an X-Correlation-Id header,
// echoing an inbound one when present or minting a fresh uuid otherwise —
// spec.md §6: "Every response carries a correlation id header."
func withCorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(correlationIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(correlationIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// taskErrorStatus maps a task.TaskError's Kind to an HTTP status code,
// a closed mapping so a client can distinguish
// "your request was bad" from "the fabric itself is unhealthy" without
// parsing the error body.
func taskErrorStatus(kind task.ErrorKind) int {
	switch kind {
	case task.ErrorKindNotFound:
		return http.StatusNotFound
	case task.ErrorKindValidation:
		return http.StatusBadRequest
	case task.ErrorKindAuthN:
		return http.StatusUnauthorized
	case task.ErrorKindRateLimit:
		return http.StatusTooManyRequests
	case task.ErrorKindTimeout:
		return http.StatusGatewayTimeout
	case task.ErrorKindNetwork, task.ErrorKindDependency:
		return http.StatusBadGateway
	case task.ErrorKindResource:
		return http.StatusServiceUnavailable
	case task.ErrorKindConfiguration:
		return http.StatusInternalServerError
	case task.ErrorKindState:
		return http.StatusConflict
	case task.ErrorKindBusinessLogic:
		return http.StatusUnprocessableEntity
	case task.ErrorKindCancelled:
		return 499 // client closed request, nginx's convention; no stdlib constant exists
	default:
		return http.StatusInternalServerError
	}
}

// classifyMetricsErr maps a metricsstore error to 400 (caller supplied an
// invalid SampleKind) or 503 (the store itself is unavailable) — spec.md
// §6: "429 on backpressure, 503 on store unavailable."
func classifyMetricsErr(err error) int {
	if errors.Is(err, metricsstore.ErrInvalidKind) {
		return http.StatusBadRequest
	}
	return http.StatusServiceUnavailable
}

type executeRequest struct {
	Version resolver.Version `json:"version"`
	Input   map[string]any   `json:"input"`
}

// acquireExecSlot returns a release func and true if a slot was acquired
// without blocking, or false if the executor is saturated and the caller
// should respond 429.
func (s *Server) acquireExecSlot() (func(), bool) {
	if s.execTokens == nil {
		return func() {}, true
	}
	select {
	case s.execTokens <- struct{}{}:
		return func() { <-s.execTokens }, true
	default:
		return nil, false
	}
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	release, ok := s.acquireExecSlot()
	if !ok {
		writeError(w, http.StatusTooManyRequests, fmt.Errorf("monitoringapi: executor at capacity"))
		return
	}
	defer release()

	planName := r.PathValue("plan")
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	plan, err := s.Plans.Get(planName, req.Version)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	exec, err := s.Executor.Execute(r.Context(), plan, req.Input)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

type composeRequest struct {
	Description string `json:"description"`
	Persist     bool   `json:"persist"`
}

func (s *Server) handleCompose(w http.ResponseWriter, r *http.Request) {
	var req composeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	plan, err := s.Composer.Compose(r.Context(), req.Description)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	if req.Persist {
		if err := s.Plans.Register(plan); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, plan)
}

func (s *Server) handleExecutionHistory(w http.ResponseWriter, r *http.Request) {
	n := 50
	writeJSON(w, http.StatusOK, s.Executor.History(n))
}

func (s *Server) handleListResolvers(w http.ResponseWriter, r *http.Request) {
	resolvers, err := s.Resolvers.Search(registry.SearchOptions{})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	metas := make([]resolver.Metadata, 0, len(resolvers))
	for _, res := range resolvers {
		metas = append(metas, res.Metadata())
	}
	writeJSON(w, http.StatusOK, metas)
}

func (s *Server) handleResolverHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	reports, err := s.Resolvers.HealthRollup(ctx, 8)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, reports)
}

func (s *Server) handleEvolve(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("resolver")
	force := r.URL.Query().Get("force") == "true"

	record, err := s.Evolver.Evolve(r.Context(), name, resolver.Version{}, force)
	if err != nil {
		if record != nil {
			writeJSON(w, http.StatusConflict, record)
			return
		}
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleEvolutionHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Evolver.History(100))
}

// parseWindow reads the ?from=&to= RFC3339 query params, defaulting to the
// last hour when absent, the same "since" convenience every metrics/health
// history endpoint shares.
func parseWindow(r *http.Request) (from, to time.Time) {
	to = time.Now()
	from = to.Add(-time.Hour)
	if v := r.URL.Query().Get("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			to = t
		}
	}
	if v := r.URL.Query().Get("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			from = t
		}
	}
	if v := r.URL.Query().Get("since"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			from = to.Add(-d)
		}
	}
	return from, to
}

func (s *Server) handleQueryMetricsLegacy(w http.ResponseWriter, r *http.Request) {
	kind := metricsstore.SampleKind(r.PathValue("kind"))
	name := r.PathValue("name")
	from, to := parseWindow(r)

	samples, err := s.Metrics.Query(r.Context(), kind, metricsstore.Filter{Name: name}, from, to)
	if err != nil {
		writeError(w, classifyMetricsErr(err), err)
		return
	}
	writeJSON(w, http.StatusOK, samples)
}

// handleQuerySystemMetrics serves GET /metrics/system?name=&from=&to=&since=.
// It always queries the system partition; kind and limit are not read.
func (s *Server) handleQuerySystemMetrics(w http.ResponseWriter, r *http.Request) {
	from, to := parseWindow(r)
	filter := metricsstore.Filter{Name: r.URL.Query().Get("name")}
	samples, err := s.Metrics.Query(r.Context(), metricsstore.KindSystem, filter, from, to)
	if err != nil {
		writeError(w, classifyMetricsErr(err), err)
		return
	}
	writeJSON(w, http.StatusOK, samples)
}

// handleCollectSystemMetrics serves POST /metrics/system/collect?type=,
// sampling process-level runtime stats immediately — there is no OS/host
// metrics library anywhere in the retrieved pack for this ad hoc,
// fire-once collection, so this reaches into runtime directly (DESIGN.md
// justifies the exception).
func (s *Server) handleCollectSystemMetrics(w http.ResponseWriter, r *http.Request) {
	var mstats runtime.MemStats
	runtime.ReadMemStats(&mstats)
	now := time.Now()

	samples := []metricsstore.Sample{
		{Name: "goroutines", Value: float64(runtime.NumGoroutine()), Timestamp: now},
		{Name: "heap_alloc_bytes", Value: float64(mstats.HeapAlloc), Timestamp: now},
		{Name: "gc_pause_total_ns", Value: float64(mstats.PauseTotalNs), Timestamp: now},
	}
	for _, smp := range samples {
		if err := s.Metrics.Append(metricsstore.KindSystem, smp); err != nil {
			writeError(w, classifyMetricsErr(err), err)
			return
		}
	}
	writeJSON(w, http.StatusAccepted, samples)
}

// handleComponentHealth serves GET /health/components: a name->rollup
// mapping over every registered resolver.
func (s *Server) handleComponentHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	reports, err := s.Resolvers.HealthRollup(ctx, 8)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	byName := make(map[string]registry.HealthReport, len(reports))
	for _, rep := range reports {
		byName[rep.Name] = rep
	}
	writeJSON(w, http.StatusOK, byName)
}

// handleComponentHealthHistory serves GET /health/components/{id}?from=&to=,
// reading the samples stored under the component's own name in the
// KindHealth partition. HealthRollup does not write such samples; they are
// present only if something appended them to the store.
func (s *Server) handleComponentHealthHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	from, to := parseWindow(r)
	samples, err := s.Metrics.Query(r.Context(), metricsstore.KindHealth, metricsstore.Filter{Name: id}, from, to)
	if err != nil {
		writeError(w, classifyMetricsErr(err), err)
		return
	}
	writeJSON(w, http.StatusOK, samples)
}

// handleComponentHealthCheck serves POST /health/components/{id}/check?timeout_ms=,
// running a single resolver's HealthCheck (its latest version) on demand.
func (s *Server) handleComponentHealthCheck(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	timeout := 5 * time.Second
	if v := r.URL.Query().Get("timeout_ms"); v != "" {
		if d, err := time.ParseDuration(v + "ms"); err == nil {
			timeout = d
		}
	}

	res, err := s.Resolvers.Get(id, resolver.Version{})
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()
	status, detail := res.HealthCheck(ctx)
	writeJSON(w, http.StatusOK, registry.HealthReport{Name: id, Status: status, Detail: detail})
}

// handleQueryPerformanceMetrics serves GET /metrics/performance?component=&op=&from=&to=.
// component maps to the sample name; op is an additional tag filter.
func (s *Server) handleQueryPerformanceMetrics(w http.ResponseWriter, r *http.Request) {
	from, to := parseWindow(r)
	filter := metricsstore.Filter{Name: r.URL.Query().Get("component")}
	if op := r.URL.Query().Get("op"); op != "" {
		filter.Tags = map[string]string{"op": op}
	}
	samples, err := s.Metrics.Query(r.Context(), metricsstore.KindPerformance, filter, from, to)
	if err != nil {
		writeError(w, classifyMetricsErr(err), err)
		return
	}
	writeJSON(w, http.StatusOK, samples)
}

// handleRecordPerformanceMetric serves POST /metrics/performance/record,
// appending a caller-supplied performance sample.
func (s *Server) handleRecordPerformanceMetric(w http.ResponseWriter, r *http.Request) {
	var sample metricsstore.Sample
	if err := json.NewDecoder(r.Body).Decode(&sample); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.Metrics.Append(metricsstore.KindPerformance, sample); err != nil {
		writeError(w, classifyMetricsErr(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, sample)
}

func (s *Server) handleActiveAlerts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Alerts.Active())
}

func (s *Server) handleAlertHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Alerts.History())
}

type alertActionRequest struct {
	Note string `json:"note"`
}

// handleAcknowledgeAlert serves POST /alerts/{id}/acknowledge. Idempotent:
// re-acknowledging an already-Acknowledged alert still returns 200.
// Acknowledging an already-Resolved alert is a 409 state conflict
// (spec.md §6's error table).
func (s *Server) handleAcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req alertActionRequest
	_ = json.NewDecoder(r.Body).Decode(&req) // body is optional

	if err := s.Alerts.Acknowledge(id); err != nil {
		switch {
		case errors.Is(err, alert.ErrAlertNotFound):
			writeError(w, http.StatusNotFound, err)
		case errors.Is(err, alert.ErrAlreadyResolved):
			writeError(w, http.StatusConflict, err)
		default:
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}
	a, _ := s.Alerts.ByID(id)
	writeJSON(w, http.StatusOK, a)
}

// handleResolveAlert serves POST /alerts/{id}/resolve. Idempotent:
// re-resolving an already-Resolved alert still returns 200.
func (s *Server) handleResolveAlert(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req alertActionRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	if err := s.Alerts.Resolve(id); err != nil {
		if errors.Is(err, alert.ErrAlertNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	a, _ := s.Alerts.ByID(id)
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	snap := dashboard.Snapshot{
		GeneratedAt: time.Now(),
		Title:       "boss fabric",
		Panels:      s.buildPanels(r.Context()),
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = dashboard.Render(w, snap)
}

func (s *Server) buildPanels(ctx context.Context) []dashboard.Panel {
	var panels []dashboard.Panel

	to := time.Now()
	from := to.Add(-time.Hour)
	filter := metricsstore.Filter{Name: "task_latency_ms"}
	if samples, err := s.Metrics.Query(ctx, metricsstore.KindPerformance, filter, from, to); err == nil && len(samples) > 0 {
		points := make([]dashboard.Point, len(samples))
		for i, sample := range samples {
			points[i] = dashboard.Point{At: sample.Timestamp, Value: sample.Value}
		}
		panels = append(panels, dashboard.Panel{Title: "task latency", Unit: "ms", Series: points})
	}

	active := s.Alerts.Active()
	activePoints := make([]dashboard.Point, 0, 1)
	activePoints = append(activePoints, dashboard.Point{At: time.Now(), Value: float64(len(active))})
	panels = append(panels, dashboard.Panel{Title: "active alerts", Unit: "count", Series: activePoints})

	return panels
}

// dashboardDescriptor is the input to POST /dashboards/generate: a named
// set of panels, each pulling from one metrics query.
type dashboardDescriptor struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Panels []struct {
		Title string                `json:"title"`
		Unit  string                `json:"unit"`
		Kind  metricsstore.SampleKind `json:"kind"`
		Name  string                `json:"name"`
	} `json:"panels"`
}

func (s *Server) handleGenerateDashboard(w http.ResponseWriter, r *http.Request) {
	var desc dashboardDescriptor
	if err := json.NewDecoder(r.Body).Decode(&desc); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if desc.ID == "" {
		desc.ID = uuid.NewString()
	}

	from, to := parseWindow(r)
	snap := dashboard.Snapshot{GeneratedAt: time.Now(), Title: desc.Title}
	for _, p := range desc.Panels {
		samples, err := s.Metrics.Query(r.Context(), p.Kind, metricsstore.Filter{Name: p.Name}, from, to)
		if err != nil {
			writeError(w, classifyMetricsErr(err), err)
			return
		}
		points := make([]dashboard.Point, len(samples))
		for i, smp := range samples {
			points[i] = dashboard.Point{At: smp.Timestamp, Value: smp.Value}
		}
		snap.Panels = append(snap.Panels, dashboard.Panel{Title: p.Title, Unit: p.Unit, Series: points})
	}

	var buf bytes.Buffer
	if err := dashboard.Render(&buf, snap); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.dashMu.Lock()
	if _, exists := s.dashboards[desc.ID]; !exists {
		s.dashOrder = append(s.dashOrder, desc.ID)
	}
	s.dashboards[desc.ID] = buf.String()
	s.dashMu.Unlock()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleListDashboards(w http.ResponseWriter, r *http.Request) {
	s.dashMu.Lock()
	ids := append([]string(nil), s.dashOrder...)
	s.dashMu.Unlock()
	writeJSON(w, http.StatusOK, ids)
}

func (s *Server) handleGetDashboard(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.dashMu.Lock()
	html, ok := s.dashboards[id]
	s.dashMu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("monitoringapi: no dashboard %q", id))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(html))
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
