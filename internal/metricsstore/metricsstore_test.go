package metricsstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "metrics.db")
	s, err := Open(Config{Path: path, BatchSize: 1000, FlushInterval: time.Hour})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAppendAndQueryRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Minute)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Append(KindPerformance, Sample{
			Name:      "latency_ms",
			Value:     float64(10 * (i + 1)),
			Timestamp: base.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, s.Flush(ctx))

	samples, err := s.Query(ctx, KindPerformance, Filter{Name: "latency_ms"}, base.Add(-time.Second), time.Now())
	require.NoError(t, err)
	require.Len(t, samples, 5)
	assert.Equal(t, 10.0, samples[0].Value)
	assert.Equal(t, 50.0, samples[4].Value)
}

func TestQueryFiltersByTags(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Minute)
	require.NoError(t, s.Append(KindPerformance, Sample{
		Name: "latency_ms", Value: 1, Tags: map[string]string{"region": "us"}, Timestamp: base,
	}))
	require.NoError(t, s.Append(KindPerformance, Sample{
		Name: "latency_ms", Value: 2, Tags: map[string]string{"region": "eu"}, Timestamp: base.Add(time.Second),
	}))
	require.NoError(t, s.Flush(ctx))

	samples, err := s.Query(ctx, KindPerformance, Filter{Name: "latency_ms", Tags: map[string]string{"region": "us"}}, base.Add(-time.Second), time.Now())
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, 1.0, samples[0].Value)
}

func TestAggregateFunctions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Minute)
	values := []float64{10, 20, 30, 40, 50}
	for i, v := range values {
		require.NoError(t, s.Append(KindPerformance, Sample{
			Name: "latency_ms", Value: v, Timestamp: base.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, s.Flush(ctx))

	from, to := base.Add(-time.Second), time.Now()
	filter := Filter{Name: "latency_ms"}

	count, err := s.Aggregate(ctx, KindPerformance, filter, from, to, 0, AggCount)
	require.NoError(t, err)
	require.Len(t, count, 1)
	assert.Equal(t, 5.0, count[0].Value)

	sumV, err := s.Aggregate(ctx, KindPerformance, filter, from, to, 0, AggSum)
	require.NoError(t, err)
	require.Len(t, sumV, 1)
	assert.Equal(t, 150.0, sumV[0].Value)

	avg, err := s.Aggregate(ctx, KindPerformance, filter, from, to, 0, AggAvg)
	require.NoError(t, err)
	require.Len(t, avg, 1)
	assert.Equal(t, 30.0, avg[0].Value)

	min, err := s.Aggregate(ctx, KindPerformance, filter, from, to, 0, AggMin)
	require.NoError(t, err)
	require.Len(t, min, 1)
	assert.Equal(t, 10.0, min[0].Value)

	max, err := s.Aggregate(ctx, KindPerformance, filter, from, to, 0, AggMax)
	require.NoError(t, err)
	require.Len(t, max, 1)
	assert.Equal(t, 50.0, max[0].Value)

	p50, err := s.Aggregate(ctx, KindPerformance, filter, from, to, 0, AggP50)
	require.NoError(t, err)
	require.Len(t, p50, 1)
	assert.Equal(t, 30.0, p50[0].Value)
}

func TestAggregateBucketsByWindow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Minute)
	for i := 0; i < 4; i++ {
		require.NoError(t, s.Append(KindPerformance, Sample{
			Name: "latency_ms", Value: float64(10 * (i + 1)), Timestamp: base.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, s.Flush(ctx))

	from, to := base, base.Add(4*time.Second)
	buckets, err := s.Aggregate(ctx, KindPerformance, Filter{Name: "latency_ms"}, from, to, 2*time.Second, AggSum)
	require.NoError(t, err)
	require.Len(t, buckets, 2)
	assert.Equal(t, 30.0, buckets[0].Value) // samples at +0s,+1s: 10+20
	assert.Equal(t, 70.0, buckets[1].Value) // samples at +2s,+3s: 30+40
	assert.True(t, buckets[1].BucketStart.After(buckets[0].BucketStart))
}

func TestCompactRespectsPerKindRetention(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.db")
	s, err := Open(Config{
		Path:          path,
		BatchSize:     1000,
		FlushInterval: time.Hour,
		RetentionByKind: map[SampleKind]time.Duration{
			KindPerformance: time.Millisecond,
		},
		DefaultRetention: 24 * time.Hour,
	})
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	old := time.Now().Add(-time.Hour)
	require.NoError(t, s.Append(KindPerformance, Sample{Name: "x", Value: 1, Timestamp: old}))
	require.NoError(t, s.Append(KindHealth, Sample{Name: "x", Value: 1, Timestamp: old}))
	require.NoError(t, s.Flush(ctx))

	require.NoError(t, s.Compact(ctx))

	perf, err := s.Query(ctx, KindPerformance, Filter{Name: "x"}, old.Add(-time.Minute), time.Now())
	require.NoError(t, err)
	assert.Empty(t, perf, "performance samples should be compacted under a 1ms retention")

	health, err := s.Query(ctx, KindHealth, Filter{Name: "x"}, old.Add(-time.Minute), time.Now())
	require.NoError(t, err)
	assert.NotEmpty(t, health, "health samples use the 24h default retention and survive")
}

func TestInvalidKindRejected(t *testing.T) {
	s := openTestStore(t)
	err := s.Append(SampleKind("bogus"), Sample{Name: "x", Value: 1})
	assert.Error(t, err)
}
