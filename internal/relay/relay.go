// Package relay fans INDI engine events out to the panel's collaborators:
// WebSocket clients, the MQTT bridge, InfluxDB telemetry, and the capture
// catalog.
//
// The engine calls Notify from its read loop, so Notify only enqueues. A
// single Run goroutine delivers events in arrival order. When the queue is
// full the event is dropped and counted rather than stalling the read loop.
package relay

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/nerrad567/indi-panel/internal/capture"
	"github.com/nerrad567/indi-panel/internal/indi"
	"github.com/nerrad567/indi-panel/internal/infrastructure/mqtt"
)

// DefaultQueueSize is the event buffer between the engine and Run.
const DefaultQueueSize = 1024

// captureTimeout bounds one catalog insert.
const captureTimeout = 5 * time.Second

// Broadcaster pushes an event to WebSocket clients subscribed to channel.
type Broadcaster interface {
	Broadcast(channel string, payload any)
}

// Publisher publishes JSON to MQTT.
type Publisher interface {
	PublishJSON(topic string, v any, retained bool) error
}

// TelemetryWriter records number-vector values.
type TelemetryWriter interface {
	WriteNumberVector(device, property string, values map[string]float64, ts time.Time)
}

// CaptureRecorder catalogs saved BLOB artifacts.
type CaptureRecorder interface {
	Create(ctx context.Context, c *capture.Capture) error
}

// Logger is the logging surface the relay needs.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Sinks are the optional delivery targets. Nil sinks are skipped.
type Sinks struct {
	Hub       Broadcaster
	MQTT      Publisher
	Telemetry TelemetryWriter
	Captures  CaptureRecorder
}

// ConnectionStatus is retained on the MQTT status topic.
type ConnectionStatus struct {
	Connected bool      `json:"connected"`
	Host      string    `json:"host,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Relay implements indi.Notifier.
type Relay struct {
	sinks   Sinks
	events  chan indi.Event
	logger  Logger
	dropped atomic.Uint64
}

// New creates a relay with a queue of queueSize events (DefaultQueueSize if <= 0).
func New(sinks Sinks, queueSize int, logger Logger) *Relay {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Relay{
		sinks:  sinks,
		events: make(chan indi.Event, queueSize),
		logger: logger,
	}
}

// Notify enqueues ev without blocking.
func (r *Relay) Notify(ev indi.Event) {
	select {
	case r.events <- ev:
	default:
		if r.dropped.Add(1) == 1 {
			r.logger.Warn("relay queue full, dropping events", "kind", ev.Kind)
		}
	}
}

// Dropped returns how many events were discarded on a full queue.
func (r *Relay) Dropped() uint64 {
	return r.dropped.Load()
}

// Run delivers queued events until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-r.events:
			r.dispatch(ctx, ev)
		}
	}
}

func (r *Relay) dispatch(ctx context.Context, ev indi.Event) {
	if r.sinks.Hub != nil {
		r.sinks.Hub.Broadcast(string(ev.Kind), ev)
	}

	if r.sinks.MQTT != nil {
		if err := r.sinks.MQTT.PublishJSON(mqtt.Topics{}.Event(string(ev.Kind), ev.Device), ev, false); err != nil {
			r.logger.Debug("mqtt event publish failed", "kind", ev.Kind, "error", err)
		}
		if ev.Kind == indi.EventConnected || ev.Kind == indi.EventDisconnected {
			status := ConnectionStatus{
				Connected: ev.Kind == indi.EventConnected,
				Host:      ev.Host,
				Timestamp: ev.Timestamp,
			}
			if err := r.sinks.MQTT.PublishJSON(mqtt.Topics{}.Status(), status, true); err != nil {
				r.logger.Debug("mqtt status publish failed", "error", err)
			}
		}
	}

	if r.sinks.Telemetry != nil {
		if values := numberValues(ev); len(values) > 0 {
			r.sinks.Telemetry.WriteNumberVector(ev.Device, ev.Property, values, ev.Timestamp)
		}
	}

	if r.sinks.Captures != nil && ev.Kind == indi.EventBLOBSaved {
		r.recordCapture(ctx, ev)
	}
}

// numberValues returns the parseable element values of a number-vector
// define or update.
func numberValues(ev indi.Event) map[string]float64 {
	if ev.PropertyKind != indi.KindNumber {
		return nil
	}
	if ev.Kind != indi.EventPropertyDefined && ev.Kind != indi.EventPropertyUpdated {
		return nil
	}
	values := make(map[string]float64, len(ev.Values))
	for name, text := range ev.Values {
		if v, err := indi.ParseNumber(text); err == nil {
			values[name] = v
		}
	}
	return values
}

func (r *Relay) recordCapture(ctx context.Context, ev indi.Event) {
	ctx, cancel := context.WithTimeout(ctx, captureTimeout)
	defer cancel()

	c := &capture.Capture{
		JobID:     ev.JobID,
		Device:    ev.Device,
		Property:  ev.Property,
		Path:      ev.Path,
		Format:    ev.Format,
		SizeBytes: ev.Size,
		CreatedAt: ev.Timestamp,
	}
	if err := r.sinks.Captures.Create(ctx, c); err != nil {
		r.logger.Warn("recording capture failed", "path", ev.Path, "error", err)
	}
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
