package dashboard

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderProducesValidDocument(t *testing.T) {
	snap := Snapshot{
		GeneratedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Title:       "fabric overview",
		Panels: []Panel{
			{
				Title: "task latency",
				Unit:  "ms",
				Series: []Point{
					{At: time.Now(), Value: 10},
					{At: time.Now(), Value: 30},
					{At: time.Now(), Value: 20},
				},
			},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, snap))

	out := buf.String()
	assert.Contains(t, out, "<title>fabric overview</title>")
	assert.Contains(t, out, "task latency")
	assert.Contains(t, out, "<svg")
	assert.Contains(t, out, "2026-01-01T00:00:00Z")
}

func TestRenderEmptySeriesShowsPlaceholder(t *testing.T) {
	snap := Snapshot{
		Title:  "empty",
		Panels: []Panel{{Title: "no samples yet", Unit: "count"}},
	}

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, snap))
	assert.Contains(t, buf.String(), "no data")
}

func TestRenderIsDeterministic(t *testing.T) {
	snap := Snapshot{
		GeneratedAt: time.Unix(0, 0),
		Title:       "x",
		Panels: []Panel{
			{Title: "p", Series: []Point{{Value: 1}, {Value: 2}, {Value: 3}}},
		},
	}

	var a, b bytes.Buffer
	require.NoError(t, Render(&a, snap))
	require.NoError(t, Render(&b, snap))
	assert.Equal(t, a.String(), b.String())
}
