// Package metrics exposes INDI engine counters to Prometheus.
//
// Engine implements indi.Instrumentation; register it with a registry and
// serve that registry on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "indipanel"

// Engine holds the protocol engine collectors.
type Engine struct {
	DocumentsDecoded *prometheus.CounterVec
	ParseErrors      prometheus.Counter
	BLOBsCompleted   prometheus.Counter
	BLOBsAborted     prometheus.Counter
	BLOBBytes        prometheus.Counter
	CommandsSent     prometheus.Counter
	Connected        prometheus.Gauge
}

// NewEngine creates unregistered engine collectors.
func NewEngine() *Engine {
	return &Engine{
		DocumentsDecoded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "indi",
				Name:      "documents_decoded_total",
				Help:      "Total number of INDI documents decoded, by tag",
			},
			[]string{"tag"},
		),

		ParseErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "indi",
				Name:      "parse_errors_total",
				Help:      "Total number of malformed documents skipped",
			},
		),

		BLOBsCompleted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "blob",
				Name:      "completed_total",
				Help:      "Total number of BLOBs received and saved",
			},
		),

		BLOBsAborted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "blob",
				Name:      "aborted_total",
				Help:      "Total number of BLOB transfers that ended early or failed to save",
			},
		),

		BLOBBytes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "blob",
				Name:      "bytes_total",
				Help:      "Total BLOB payload bytes saved",
			},
		),

		CommandsSent: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "indi",
				Name:      "commands_sent_total",
				Help:      "Total number of commands written to the INDI server",
			},
		),

		Connected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "indi",
				Name:      "connected",
				Help:      "INDI connection status (0=disconnected, 1=connected)",
			},
		),
	}
}

// Register adds every collector to reg.
func (e *Engine) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		e.DocumentsDecoded,
		e.ParseErrors,
		e.BLOBsCompleted,
		e.BLOBsAborted,
		e.BLOBBytes,
		e.CommandsSent,
		e.Connected,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// DocumentDecoded counts one decoded document.
func (e *Engine) DocumentDecoded(tag string) {
	e.DocumentsDecoded.WithLabelValues(tag).Inc()
}

// ParseFailed counts one skipped document.
func (e *Engine) ParseFailed() { e.ParseErrors.Inc() }

// BLOBCompleted counts one saved BLOB of n bytes.
func (e *Engine) BLOBCompleted(n int) {
	e.BLOBsCompleted.Inc()
	e.BLOBBytes.Add(float64(n))
}

// BLOBAborted counts one failed transfer.
func (e *Engine) BLOBAborted() { e.BLOBsAborted.Inc() }

// CommandSent counts one written command.
func (e *Engine) CommandSent() { e.CommandsSent.Inc() }

// ConnectionChanged sets the connection gauge.
func (e *Engine) ConnectionChanged(connected bool) {
	if connected {
		e.Connected.Set(1)
		return
	}
	e.Connected.Set(0)
}
