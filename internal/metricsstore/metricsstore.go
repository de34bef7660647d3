// Package metricsstore implements the C9 Metrics Store (spec.md §4.8): an
// append-only, kind-partitioned store of metric samples backed by
// modernc.org/sqlite (pure Go, no cgo — the "on-disk, embedded relational
// store" the spec calls for). Durability follows the teacher's
// batch-then-fsync philosophy (internal/storage/wal/batch_writer.go),
// adapted here to batched SQL inserts inside one transaction instead of
// WAL-record fsyncs. Retention/compaction follows
// original_source/boss/lighthouse/monitoring/metrics_storage.py's
// per-kind retention_days knob.
package metricsstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// ErrInvalidKind is wrapped into every "unknown SampleKind" error, letting
// callers (notably the Monitoring API) distinguish a caller mistake (400)
// from a genuine store failure (503).
var ErrInvalidKind = errors.New("metricsstore: invalid kind")

// SampleKind partitions the store into the four tables spec.md §3's
// "Metric sample" describes.
type SampleKind string

const (
	KindSystem      SampleKind = "system"
	KindHealth      SampleKind = "health"
	KindPerformance SampleKind = "performance"
	KindAlert       SampleKind = "alert"
)

var allKinds = []SampleKind{KindSystem, KindHealth, KindPerformance, KindAlert}

func (k SampleKind) valid() bool {
	switch k {
	case KindSystem, KindHealth, KindPerformance, KindAlert:
		return true
	default:
		return false
	}
}

func (k SampleKind) table() string {
	return "metrics_" + string(k)
}

// Sample is a single observation.
type Sample struct {
	Name      string
	Value     float64
	Tags      map[string]string
	Timestamp time.Time
}

// Config tunes a Store.
type Config struct {
	Path             string
	BatchSize        int
	FlushInterval    time.Duration
	DefaultRetention time.Duration
	RetentionByKind  map[SampleKind]time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = time.Second
	}
	if c.DefaultRetention <= 0 {
		c.DefaultRetention = 30 * 24 * time.Hour
	}
	return c
}

func (c Config) retentionFor(kind SampleKind) time.Duration {
	if d, ok := c.RetentionByKind[kind]; ok {
		return d
	}
	return c.DefaultRetention
}

type bufferedSample struct {
	kind SampleKind
	s    Sample
}

// Store is the durable, queryable metrics sink.
type Store struct {
	cfg Config
	db  *sql.DB

	mu     sync.Mutex
	buffer []bufferedSample

	stopCh chan struct{}
	doneCh chan struct{}
}

// Open opens (creating if necessary) the sqlite database at cfg.Path, runs
// schema migration, and starts the periodic flush loop.
func Open(cfg Config) (*Store, error) {
	cfg = cfg.withDefaults()
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("metricsstore: open: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: one writer connection avoids SQLITE_BUSY

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{
		cfg:    cfg,
		db:     db,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go s.flushLoop()
	return s, nil
}

func migrate(db *sql.DB) error {
	for _, kind := range allKinds {
		stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			value REAL NOT NULL,
			tags TEXT NOT NULL DEFAULT '{}',
			ts INTEGER NOT NULL
		)`, kind.table())
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("metricsstore: migrate %s: %w", kind, err)
		}
		idx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_name_ts ON %s (name, ts)`, kind, kind.table())
		if _, err := db.Exec(idx); err != nil {
			return fmt.Errorf("metricsstore: index %s: %w", kind, err)
		}
	}
	return nil
}

// Append buffers a sample for kind, flushing immediately if the batch is
// full.
func (s *Store) Append(kind SampleKind, sample Sample) error {
	if !kind.valid() {
		return fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now()
	}

	s.mu.Lock()
	s.buffer = append(s.buffer, bufferedSample{kind: kind, s: sample})
	full := len(s.buffer) >= s.cfg.BatchSize
	s.mu.Unlock()

	if full {
		return s.Flush(context.Background())
	}
	return nil
}

// Flush writes every buffered sample inside one transaction.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	pending := s.buffer
	s.buffer = nil
	s.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("metricsstore: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmts := make(map[SampleKind]*sql.Stmt)
	defer func() {
		for _, stmt := range stmts {
			stmt.Close()
		}
	}()

	for _, b := range pending {
		stmt, ok := stmts[b.kind]
		if !ok {
			stmt, err = tx.PrepareContext(ctx, fmt.Sprintf(
				`INSERT INTO %s (name, value, tags, ts) VALUES (?, ?, ?, ?)`, b.kind.table()))
			if err != nil {
				return fmt.Errorf("metricsstore: prepare insert %s: %w", b.kind, err)
			}
			stmts[b.kind] = stmt
		}
		if _, err := stmt.ExecContext(ctx, b.s.Name, b.s.Value, encodeTags(b.s.Tags), b.s.Timestamp.UnixNano()); err != nil {
			return fmt.Errorf("metricsstore: insert %s: %w", b.kind, err)
		}
	}
	return tx.Commit()
}

func (s *Store) flushLoop() {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.Flush(context.Background()); err != nil {
				log.Error("metrics flush failed", "error", err)
			}
		case <-s.stopCh:
			return
		}
	}
}

// Close stops the flush loop, flushes any remaining buffered samples, and
// closes the database handle.
func (s *Store) Close() error {
	close(s.stopCh)
	<-s.doneCh
	if err := s.Flush(context.Background()); err != nil {
		return err
	}
	return s.db.Close()
}

// Filter narrows a Query/Aggregate sweep. It is a conjunction over Name
// (exact match, ignored when empty) and Tags (every pair must be present
// on the sample, ignored when nil) — spec.md §4.8's "filter is a
// conjunction over tags and name".
type Filter struct {
	Name string
	Tags map[string]string
}

func (f Filter) matches(name string, tags map[string]string) bool {
	if f.Name != "" && f.Name != name {
		return false
	}
	for k, v := range f.Tags {
		if tags[k] != v {
			return false
		}
	}
	return true
}

// Query returns every sample of kind matching filter within [from, to),
// ascending by timestamp. Tag filtering happens in Go after decoding each
// row's JSON tags blob, since sqlite has no native JSON-containment index
// here.
func (s *Store) Query(ctx context.Context, kind SampleKind, filter Filter, from, to time.Time) ([]Sample, error) {
	if !kind.valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}

	var rows *sql.Rows
	var err error
	if filter.Name != "" {
		rows, err = s.db.QueryContext(ctx, fmt.Sprintf(
			`SELECT name, value, tags, ts FROM %s WHERE name = ? AND ts >= ? AND ts < ? ORDER BY ts ASC`, kind.table()),
			filter.Name, from.UnixNano(), to.UnixNano())
	} else {
		rows, err = s.db.QueryContext(ctx, fmt.Sprintf(
			`SELECT name, value, tags, ts FROM %s WHERE ts >= ? AND ts < ? ORDER BY ts ASC`, kind.table()),
			from.UnixNano(), to.UnixNano())
	}
	if err != nil {
		return nil, fmt.Errorf("metricsstore: query: %w", err)
	}
	defer rows.Close()

	var out []Sample
	for rows.Next() {
		var name string
		var value float64
		var tagsJSON string
		var ts int64
		if err := rows.Scan(&name, &value, &tagsJSON, &ts); err != nil {
			return nil, fmt.Errorf("metricsstore: scan: %w", err)
		}
		tags := decodeTags(tagsJSON)
		if !filter.matches(name, tags) {
			continue
		}
		out = append(out, Sample{
			Name:      name,
			Value:     value,
			Tags:      tags,
			Timestamp: time.Unix(0, ts),
		})
	}
	return out, rows.Err()
}

// AggregateFn is the closed set of reducers spec.md §4.8 requires.
type AggregateFn string

const (
	AggCount AggregateFn = "count"
	AggSum   AggregateFn = "sum"
	AggAvg   AggregateFn = "avg"
	AggMin   AggregateFn = "min"
	AggMax   AggregateFn = "max"
	AggP50   AggregateFn = "p50"
	AggP95   AggregateFn = "p95"
	AggP99   AggregateFn = "p99"
)

// BucketValue is one (bucketStart, value) pair of an Aggregate result.
type BucketValue struct {
	BucketStart time.Time
	Value       float64
}

// Aggregate reduces every value matching filter within [from, to) using fn,
// bucketed into fixed-width windows of size bucket — spec.md §4.8's
// aggregate(kind, filter, window, bucket, reducer) -> sequence of
// (bucketStart, value). A non-positive bucket collapses the whole window
// into a single bucket starting at from, matching the scalar behavior
// callers that don't care about sub-windows want. Percentiles are computed
// in Go over each bucket's fetched values rather than in SQL, since sqlite
// has no portable built-in percentile aggregate.
func (s *Store) Aggregate(ctx context.Context, kind SampleKind, filter Filter, from, to time.Time, bucket time.Duration, fn AggregateFn) ([]BucketValue, error) {
	samples, err := s.Query(ctx, kind, filter, from, to)
	if err != nil {
		return nil, err
	}
	if bucket <= 0 {
		bucket = to.Sub(from)
		if bucket <= 0 {
			bucket = time.Nanosecond
		}
	}

	buckets := make(map[int64][]float64)
	var order []int64
	for _, smp := range samples {
		idx := int64(smp.Timestamp.Sub(from) / bucket)
		if _, ok := buckets[idx]; !ok {
			order = append(order, idx)
		}
		buckets[idx] = append(buckets[idx], smp.Value)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	out := make([]BucketValue, 0, len(order))
	for _, idx := range order {
		v, err := reduceValues(buckets[idx], fn)
		if err != nil {
			return nil, err
		}
		out = append(out, BucketValue{BucketStart: from.Add(time.Duration(idx) * bucket), Value: v})
	}
	return out, nil
}

func reduceValues(values []float64, fn AggregateFn) (float64, error) {
	if len(values) == 0 {
		return 0, nil
	}
	switch fn {
	case AggCount:
		return float64(len(values)), nil
	case AggSum:
		return sum(values), nil
	case AggAvg:
		return sum(values) / float64(len(values)), nil
	case AggMin:
		return minOf(values), nil
	case AggMax:
		return maxOf(values), nil
	case AggP50:
		return percentile(values, 50), nil
	case AggP95:
		return percentile(values, 95), nil
	case AggP99:
		return percentile(values, 99), nil
	default:
		return 0, fmt.Errorf("metricsstore: unknown aggregate %q", fn)
	}
}

// Compact deletes every sample older than its kind's configured retention.
func (s *Store) Compact(ctx context.Context) error {
	now := time.Now()
	for _, kind := range allKinds {
		cutoff := now.Add(-s.cfg.retentionFor(kind)).UnixNano()
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE ts < ?`, kind.table()), cutoff); err != nil {
			return fmt.Errorf("metricsstore: compact %s: %w", kind, err)
		}
	}
	return nil
}

func sum(values []float64) float64 {
	var total float64
	for _, v := range values {
		total += v
	}
	return total
}

func minOf(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func maxOf(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func percentile(values []float64, p float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(rank)
	hi := lo + 1
	if hi >= len(sorted) {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
