package api

import (
	"bytes"
	"fmt"
	"image/color"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

const echartsAssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

const defaultChartLimit = 500

var plotColors = []color.Color{
	color.RGBA{R: 0x31, G: 0x68, B: 0x8e, A: 0xff},
	color.RGBA{R: 0x35, G: 0xb7, B: 0x79, A: 0xff},
	color.RGBA{R: 0xe0, G: 0x7b, B: 0x39, A: 0xff},
	color.RGBA{R: 0xb5, G: 0x2b, B: 0x5e, A: 0xff},
}

// chartHistory loads the most recent frames oldest first.
func (s *Server) chartHistory(w http.ResponseWriter, r *http.Request) ([]HistoryEntry, bool) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return nil, false
	}
	if s.db == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "no database configured")
		return nil, false
	}
	limit, err := limitParam(r, defaultChartLimit, maxHistoryLimit)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	recs, err := s.db.RecentTelemetry(limit)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	entries := s.historyEntries(recs)
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, true
}

// telemetryChart renders recent voltages and currents as an HTML line chart.
func (s *Server) telemetryChart(w http.ResponseWriter, r *http.Request) {
	entries, ok := s.chartHistory(w, r)
	if !ok {
		return
	}

	xs := make([]string, len(entries))
	series := map[string][]opts.LineData{}
	for i, e := range entries {
		xs[i] = e.Time.Format("15:04:05")
		series["LV (V)"] = append(series["LV (V)"], opts.LineData{Value: e.Reading.LowVoltage})
		series["HV (V)"] = append(series["HV (V)"], opts.LineData{Value: e.Reading.HighVoltage})
		series["I total (A)"] = append(series["I total (A)"], opts.LineData{Value: e.Reading.TotalCurrent})
		series["T (°C)"] = append(series["T (°C)"], opts.LineData{Value: e.Reading.Temperature})
	}

	subtitle := "no data"
	if len(entries) > 0 {
		subtitle = fmt.Sprintf("%d frames from %s", len(entries), entries[0].Time.Format("2006-01-02 15:04:05"))
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Converter Telemetry", Width: "100%", Height: "720px", AssetsHost: echartsAssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Converter Telemetry", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	line.SetXAxis(xs)
	for _, name := range []string{"LV (V)", "HV (V)", "I total (A)", "T (°C)"} {
		line.AddSeries(name, series[name])
	}

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// telemetryPlot renders the same data as a PNG, with seconds since the first
// frame on the x axis.
func (s *Server) telemetryPlot(w http.ResponseWriter, r *http.Request) {
	entries, ok := s.chartHistory(w, r)
	if !ok {
		return
	}

	p := plot.New()
	p.Title.Text = "Converter Telemetry"
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "V / A / °C"

	lines := []struct {
		name string
		pts  plotter.XYs
	}{
		{name: "LV (V)"}, {name: "HV (V)"}, {name: "I total (A)"}, {name: "T (°C)"},
	}
	for _, e := range entries {
		x := e.Time.Sub(entries[0].Time).Seconds()
		lines[0].pts = append(lines[0].pts, plotter.XY{X: x, Y: e.Reading.LowVoltage})
		lines[1].pts = append(lines[1].pts, plotter.XY{X: x, Y: e.Reading.HighVoltage})
		lines[2].pts = append(lines[2].pts, plotter.XY{X: x, Y: e.Reading.TotalCurrent})
		lines[3].pts = append(lines[3].pts, plotter.XY{X: x, Y: e.Reading.Temperature})
	}

	if len(entries) > 0 {
		for i, l := range lines {
			pl, err := plotter.NewLine(l.pts)
			if err != nil {
				writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to build plot: %v", err))
				return
			}
			pl.Color = plotColors[i%len(plotColors)]
			pl.Width = vg.Points(1)
			p.Add(pl)
			p.Legend.Add(l.name, pl)
		}
	}
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	wt, err := p.WriterTo(10*vg.Inch, 5*vg.Inch, "png")
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render plot: %v", err))
		return
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render plot: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}
