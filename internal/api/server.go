// Package api serves the converter's JSON HTTP API.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/convlink/internal/converter"
	"github.com/banshee-data/convlink/internal/db"
	"github.com/banshee-data/convlink/internal/monitoring"
	"github.com/banshee-data/convlink/internal/timeutil"
	"github.com/banshee-data/convlink/internal/version"
)

// ANSI escape codes for request logs
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	ctrl  *converter.Controller
	db    *db.DB
	clock timeutil.Clock
}

// NewServer returns a server driving ctrl. database may be nil, in which case
// the history endpoints answer 503.
func NewServer(ctrl *converter.Controller, database *db.DB) *Server {
	return &Server{
		ctrl:  ctrl,
		db:    database,
		clock: timeutil.RealClock{},
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/telemetry", s.telemetry)
	mux.HandleFunc("/api/telemetry/history", s.telemetryHistory)
	mux.HandleFunc("/api/telemetry/summary", s.telemetrySummary)
	mux.HandleFunc("/api/telemetry/chart", s.telemetryChart)
	mux.HandleFunc("/api/telemetry/plot.png", s.telemetryPlot)
	mux.HandleFunc("/api/commands", s.commands)
	mux.HandleFunc("/api/start", s.start)
	mux.HandleFunc("/api/stop", s.stop)
	mux.HandleFunc("/api/setpoint", s.setpoint)
	mux.HandleFunc("/api/setpoint/increment", s.increment)
	mux.HandleFunc("/api/version", s.versionInfo)
	return mux
}

func (s *Server) versionInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, version.Get())
}
