// Package dashboard implements the C11 Dashboard/Chart Generator (spec.md
// §4.10): it renders a set of metric panels into one self-contained HTML
// document. No charting library appears anywhere in the retrieved example
// pack (teacher or otherwise) — original_source's chart_generator.py
// renders to base64 PNGs via a plotting library outside Go's ecosystem —
// so this uses html/template plus inline SVG, the standard-library
// rendition SPEC_FULL.md §4.6 calls for and DESIGN.md justifies.
package dashboard

import (
	"fmt"
	"html/template"
	"io"
	"strings"
	"time"
)

// Point is one (timestamp, value) sample to plot.
type Point struct {
	At    time.Time
	Value float64
}

// Panel is one chart on the dashboard: a named series of Points rendered
// as a line chart, labelled with its Unit.
type Panel struct {
	Title  string
	Unit   string
	Series []Point
}

// Snapshot is the full set of panels rendered for one dashboard document,
// generated deterministically from a fixed set of Panels — the same input
// always produces byte-identical HTML, satisfying spec.md §4.10's
// determinism invariant.
type Snapshot struct {
	GeneratedAt time.Time
	Title       string
	Panels      []Panel
}

const svgWidth = 480
const svgHeight = 160
const svgPadding = 24

// renderSVG draws panel.Series as a polyline inside a fixed viewbox,
// scaling values to fit. An empty series renders an empty-state message
// instead of a broken chart.
func renderSVG(panel Panel) template.HTML {
	if len(panel.Series) == 0 {
		return template.HTML(fmt.Sprintf(
			`<svg width="%d" height="%d" viewBox="0 0 %d %d" xmlns="http://www.w3.org/2000/svg">`+
				`<text x="%d" y="%d" font-size="14" fill="#888">no data</text></svg>`,
			svgWidth, svgHeight, svgWidth, svgHeight, svgWidth/2-20, svgHeight/2))
	}

	minV, maxV := panel.Series[0].Value, panel.Series[0].Value
	for _, p := range panel.Series {
		if p.Value < minV {
			minV = p.Value
		}
		if p.Value > maxV {
			maxV = p.Value
		}
	}
	if maxV == minV {
		maxV = minV + 1
	}

	plotW := float64(svgWidth - 2*svgPadding)
	plotH := float64(svgHeight - 2*svgPadding)
	n := len(panel.Series)

	var pts strings.Builder
	for i, p := range panel.Series {
		x := float64(svgPadding) + plotW*float64(i)/float64(max(n-1, 1))
		y := float64(svgPadding) + plotH*(1-(p.Value-minV)/(maxV-minV))
		if i > 0 {
			pts.WriteByte(' ')
		}
		fmt.Fprintf(&pts, "%.1f,%.1f", x, y)
	}

	return template.HTML(fmt.Sprintf(
		`<svg width="%d" height="%d" viewBox="0 0 %d %d" xmlns="http://www.w3.org/2000/svg">`+
			`<polyline fill="none" stroke="#2563eb" stroke-width="2" points="%s"/>`+
			`<text x="%d" y="14" font-size="11" fill="#555">max %.2f</text>`+
			`<text x="%d" y="%d" font-size="11" fill="#555">min %.2f</text>`+
			`</svg>`,
		svgWidth, svgHeight, svgWidth, svgHeight, pts.String(),
		svgPadding, maxV,
		svgPadding, svgHeight-6, minV,
	))
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

type panelView struct {
	Title string
	Unit  string
	SVG   template.HTML
}

type pageView struct {
	Title       string
	GeneratedAt string
	Panels      []panelView
}

var pageTemplate = template.Must(template.New("dashboard").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: system-ui, sans-serif; background: #0b0f14; color: #e6edf3; margin: 2rem; }
.panel { background: #111820; border: 1px solid #1f2a36; border-radius: 8px; padding: 1rem; margin-bottom: 1rem; }
.panel h2 { margin: 0 0 0.5rem 0; font-size: 1rem; }
.unit { color: #8b949e; font-size: 0.8rem; }
footer { color: #8b949e; font-size: 0.75rem; margin-top: 2rem; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
{{range .Panels}}
<div class="panel">
  <h2>{{.Title}} <span class="unit">{{.Unit}}</span></h2>
  {{.SVG}}
</div>
{{end}}
<footer>generated {{.GeneratedAt}}</footer>
</body>
</html>
`))

// Render writes snap's HTML document to w.
func Render(w io.Writer, snap Snapshot) error {
	view := pageView{
		Title:       snap.Title,
		GeneratedAt: snap.GeneratedAt.UTC().Format(time.RFC3339),
	}
	for _, p := range snap.Panels {
		view.Panels = append(view.Panels, panelView{
			Title: p.Title,
			Unit:  p.Unit,
			SVG:   renderSVG(p),
		})
	}
	return pageTemplate.Execute(w, view)
}
