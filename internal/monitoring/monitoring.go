// Package monitoring exports Prometheus metrics for the agent runtime: cell
// lifecycle state, MCU link latency/retries, and per-port queue depth.
package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the runtime's Prometheus collectors. Construct one with New
// and register it with a dedicated registry so multiple agent instances in
// tests don't collide on the default global registry.
type Metrics struct {
	registry *prometheus.Registry

	CellState    *prometheus.GaugeVec
	McuAckLatency prometheus.Histogram
	McuRetries    prometheus.Counter
	FenceValue    prometheus.Gauge
	QueueDepth    *prometheus.GaugeVec
}

// New builds and registers the runtime's metric collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		CellState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "orb",
			Subsystem: "broker",
			Name:      "cell_state",
			Help:      "Agent cell lifecycle state: 0=vacant 1=enabled 2=disabled.",
		}, []string{"agent"}),
		McuAckLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "orb",
			Subsystem: "mculink",
			Name:      "ack_latency_seconds",
			Help:      "Time from request send to ack receipt.",
			Buckets:   []float64{.001, .005, .01, .03, .05, .1, .2, .3, .5, 1},
		}),
		McuRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "orb",
			Subsystem: "mculink",
			Name:      "send_retries_total",
			Help:      "Total number of MCU send retries due to ack timeout.",
		}),
		FenceValue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "orb",
			Subsystem: "broker",
			Name:      "fence_unix_nanos",
			Help:      "Current broker fence value, as Unix nanoseconds.",
		}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "orb",
			Subsystem: "port",
			Name:      "queue_depth",
			Help:      "Number of envelopes currently buffered in a port.",
		}, []string{"port"}),
	}
	reg.MustRegister(m.CellState, m.McuAckLatency, m.McuRetries, m.FenceValue, m.QueueDepth)
	return m
}

// Handler returns an http.Handler exposing the registry in the Prometheus
// text exposition format, for cmd/orb-agent's metrics listener to serve.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
