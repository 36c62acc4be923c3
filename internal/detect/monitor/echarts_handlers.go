package monitor

import (
	"bytes"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// echartsAssetsPrefix is where rendered chart pages load the echarts
// runtime from.
const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// visualMapColors is the viridis ramp used for score-colored scatter plots.
var visualMapColors = []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}

// handleScoreChart renders a histogram of a run's detection scores.
// Query params:
//
//	run_id (optional, defaults to the most recent run)
//	bins (optional, default 40, range 5..200)
func (ws *WebServer) handleScoreChart(w http.ResponseWriter, r *http.Request) {
	if ws.dets == nil {
		ws.writeJSONError(w, http.StatusInternalServerError, "no database configured for detection lookup")
		return
	}
	runID := ws.resolveRunID(w, r)
	if runID == "" {
		return
	}

	bins := 40
	if v := r.URL.Query().Get("bins"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 5 && parsed <= 200 {
			bins = parsed
		}
	}

	scores, err := ws.dets.Scores(runID)
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get scores: %v", err))
		return
	}
	if len(scores) == 0 {
		ws.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("no detections for run '%s'", runID))
		return
	}

	sort.Float64s(scores)
	lo, hi := scores[0], scores[len(scores)-1]
	if hi-lo < 1e-6 {
		hi = lo + 1e-6
	}
	dividers := make([]float64, bins+1)
	// Top divider is nudged past the max so the best score lands in the
	// last bin instead of falling off the histogram edge.
	floats.Span(dividers, lo, math.Nextafter(hi, hi+1))
	counts := stat.Histogram(nil, dividers, scores, nil)

	x := make([]string, bins)
	y := make([]opts.BarData, bins)
	for i := 0; i < bins; i++ {
		x[i] = fmt.Sprintf("%.3f", dividers[i])
		y[i] = opts.BarData{Value: int(counts[i])}
	}

	mean := stat.Mean(scores, nil)
	p50 := stat.Quantile(0.5, stat.Empirical, scores, nil)
	p95 := stat.Quantile(0.95, stat.Empirical, scores, nil)

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "720px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Detection Scores", Subtitle: fmt.Sprintf("run=%s n=%d mean=%.3f p50=%.3f p95=%.3f", runID, len(scores), mean, p50, p95)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(x).
		AddSeries("count", y)

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsPrefix)
	page.AddCharts(bar)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleClassChart renders a bar chart of per-class detection counts.
// Query params:
//
//	run_id (optional, defaults to the most recent run)
func (ws *WebServer) handleClassChart(w http.ResponseWriter, r *http.Request) {
	if ws.dets == nil {
		ws.writeJSONError(w, http.StatusInternalServerError, "no database configured for detection lookup")
		return
	}
	runID := ws.resolveRunID(w, r)
	if runID == "" {
		return
	}

	classCounts, err := ws.dets.ClassCounts(runID)
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get class counts: %v", err))
		return
	}
	if len(classCounts) == 0 {
		ws.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("no detections for run '%s'", runID))
		return
	}

	var labels []int
	for label := range classCounts {
		labels = append(labels, label)
	}
	sort.Ints(labels)

	total := 0
	x := make([]string, 0, len(labels))
	y := make([]opts.BarData, 0, len(labels))
	for _, label := range labels {
		x = append(x, fmt.Sprintf("class %d", label))
		y = append(y, opts.BarData{Value: classCounts[label]})
		total += classCounts[label]
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Detections by Class", Theme: "dark", Width: "100%", Height: "720px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Detections by Class", Subtitle: fmt.Sprintf("run=%s total=%d", runID, total)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(x).
		AddSeries("detections", y,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	var buf bytes.Buffer
	if err := bar.Render(&buf); err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleBEVChart renders a run's detections as a bird's-eye-view scatter,
// colored by score.
// Query params:
//
//	run_id (optional, defaults to the most recent run)
func (ws *WebServer) handleBEVChart(w http.ResponseWriter, r *http.Request) {
	if ws.dets == nil {
		ws.writeJSONError(w, http.StatusInternalServerError, "no database configured for detection lookup")
		return
	}
	runID := ws.resolveRunID(w, r)
	if runID == "" {
		return
	}

	dets, err := ws.dets.ListByRun(runID)
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list detections: %v", err))
		return
	}
	if len(dets) == 0 {
		ws.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("no detections for run '%s'", runID))
		return
	}

	data := make([]opts.ScatterData, 0, len(dets))
	maxAbs := 0.0
	maxScore := 0.0
	for _, d := range dets {
		if math.Abs(d.X) > maxAbs {
			maxAbs = math.Abs(d.X)
		}
		if math.Abs(d.Y) > maxAbs {
			maxAbs = math.Abs(d.Y)
		}
		if d.Score > maxScore {
			maxScore = d.Score
		}
		data = append(data, opts.ScatterData{Value: []interface{}{d.X, d.Y, d.Score}})
	}

	// Add a small padding so points at the edges are visible
	pad := maxAbs * 1.05
	if pad == 0 {
		pad = 1.0
	}

	if maxScore == 0 {
		maxScore = 1
	}

	// Force a square plot by using equal width/height and symmetric axis ranges
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Detections (BEV)", Theme: "dark", Width: "900px", Height: "900px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Detections BEV", Subtitle: fmt.Sprintf("run=%s boxes=%d", runID, len(data))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: -pad, Max: pad, Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: -pad, Max: pad, Name: "Y (m)", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(maxScore),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: visualMapColors},
		}),
	)

	scatter.AddSeries("detections", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}))

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
