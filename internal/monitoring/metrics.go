package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry creates a Prometheus registry with the Go runtime and process
// collectors registered.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler returns the HTTP handler serving reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// LinkMetrics counts exchanges with the converter.
type LinkMetrics struct {
	Commands    *prometheus.CounterVec // labels: opcode, result
	Polls       *prometheus.CounterVec // labels: result
	Setpoint    prometheus.Gauge
	Temperature prometheus.Gauge
}

// NewLinkMetrics registers the link metrics on reg. A nil reg returns metrics
// that are tracked but never exported.
func NewLinkMetrics(reg prometheus.Registerer) *LinkMetrics {
	m := &LinkMetrics{
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "convlink_commands_total",
			Help: "Commands sent to the converter by opcode and verification result.",
		}, []string{"opcode", "result"}),
		Polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "convlink_polls_total",
			Help: "Telemetry polls by result.",
		}, []string{"result"}),
		Setpoint: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "convlink_setpoint_raw",
			Help: "Last current reference acknowledged by the converter, in ADC counts.",
		}),
		Temperature: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "convlink_temperature_celsius",
			Help: "Converter temperature from the latest telemetry frame.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Commands, m.Polls, m.Setpoint, m.Temperature)
	}
	return m
}
