package api

import (
	"net/http"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/convlink/internal/db"
	"github.com/banshee-data/convlink/internal/protocol"
	"github.com/banshee-data/convlink/internal/units"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 10000
	defaultWindow       = 10 * time.Minute
)

// telemetry polls the device. With ?cached=true the last frame seen by any
// poll is returned instead.
func (s *Server) telemetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	if r.URL.Query().Get("cached") == "true" {
		snap, ok := s.ctrl.Latest()
		if !ok {
			writeJSONError(w, http.StatusNotFound, "no telemetry received yet")
			return
		}
		writeJSON(w, http.StatusOK, snap)
		return
	}

	snap, err := s.ctrl.Poll(r.Context())
	if err != nil {
		writeLinkError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// HistoryEntry is a stored frame with its converted reading.
type HistoryEntry struct {
	ID      string                  `json:"id"`
	Time    time.Time               `json:"time"`
	Frame   protocol.TelemetryFrame `json:"frame"`
	Reading units.Reading           `json:"reading"`
}

func (s *Server) historyEntries(recs []db.TelemetryRecord) []HistoryEntry {
	cal := s.ctrl.Calibration()
	out := make([]HistoryEntry, len(recs))
	for i, rec := range recs {
		out[i] = HistoryEntry{
			ID:      rec.ID,
			Time:    rec.Time,
			Frame:   rec.TelemetryFrame,
			Reading: cal.Apply(rec.TelemetryFrame),
		}
	}
	return out
}

func (s *Server) telemetryHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if s.db == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "no database configured")
		return
	}
	limit, err := limitParam(r, defaultHistoryLimit, maxHistoryLimit)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	recs, err := s.db.RecentTelemetry(limit)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.historyEntries(recs))
}

// QuantityStats summarises one reading quantity over a window.
type QuantityStats struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// Summary is the response of /api/telemetry/summary.
type Summary struct {
	Start      time.Time                `json:"start"`
	End        time.Time                `json:"end"`
	Count      int                      `json:"count"`
	Quantities map[string]QuantityStats `json:"quantities"`
}

// quantities lists the reading fields summarised, keyed by their JSON names.
var quantities = []struct {
	name string
	get  func(units.Reading) float64
}{
	{"low_voltage_v", func(r units.Reading) float64 { return r.LowVoltage }},
	{"high_voltage_v", func(r units.Reading) float64 { return r.HighVoltage }},
	{"current1_a", func(r units.Reading) float64 { return r.Current1 }},
	{"current2_a", func(r units.Reading) float64 { return r.Current2 }},
	{"total_current_a", func(r units.Reading) float64 { return r.TotalCurrent }},
	{"temperature_c", func(r units.Reading) float64 { return r.Temperature }},
}

func summarise(readings []units.Reading) map[string]QuantityStats {
	out := make(map[string]QuantityStats, len(quantities))
	if len(readings) == 0 {
		return out
	}
	xs := make([]float64, len(readings))
	for _, q := range quantities {
		for i, r := range readings {
			xs[i] = q.get(r)
		}
		mean, std := stat.MeanStdDev(xs, nil)
		if len(xs) < 2 {
			// The sample deviation of one value is undefined.
			std = 0
		}
		out[q.name] = QuantityStats{
			Mean:   mean,
			StdDev: std,
			Min:    floats.Min(xs),
			Max:    floats.Max(xs),
		}
	}
	return out
}

// telemetrySummary reports mean and deviation of every quantity over the
// trailing ?window= (default 10m).
func (s *Server) telemetrySummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if s.db == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "no database configured")
		return
	}

	window := defaultWindow
	if v := r.URL.Query().Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeJSONError(w, http.StatusBadRequest, "window must be a positive duration")
			return
		}
		window = d
	}

	end := s.clock.Now()
	start := end.Add(-window)
	recs, err := s.db.TelemetryBetween(start, end)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	cal := s.ctrl.Calibration()
	readings := make([]units.Reading, len(recs))
	for i, rec := range recs {
		readings[i] = cal.Apply(rec.TelemetryFrame)
	}
	writeJSON(w, http.StatusOK, Summary{
		Start:      start.UTC(),
		End:        end.UTC(),
		Count:      len(recs),
		Quantities: summarise(readings),
	})
}
