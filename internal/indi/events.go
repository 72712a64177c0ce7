package indi

import "time"

// EventKind identifies what changed.
type EventKind string

// Event kinds pushed to external collaborators.
const (
	EventPropertyDefined EventKind = "property_defined"
	EventPropertyUpdated EventKind = "property_updated"
	EventPropertyDeleted EventKind = "property_deleted"
	EventConnected       EventKind = "connected"
	EventDisconnected    EventKind = "disconnected"
	EventBLOBSaved       EventKind = "blob_saved"
	EventMessage         EventKind = "message"
)

// Event describes one change to engine state.
//
// Which fields are set depends on Kind:
//   - property events: Device, Property (empty for a device-wide delete)
//   - property_defined: PropertyKind, State, Values (all element values)
//   - property_updated: PropertyKind, State, Values (only the elements that changed)
//   - connected/disconnected: Host
//   - blob_saved: Device, Property, Path, Format, Size, JobID
//   - message: Device (may be empty), Message
type Event struct {
	Kind         EventKind         `json:"kind"`
	Timestamp    time.Time         `json:"timestamp"`
	Device       string            `json:"device,omitempty"`
	Property     string            `json:"property,omitempty"`
	PropertyKind PropertyKind      `json:"property_kind,omitempty"`
	State        string            `json:"state,omitempty"`
	Values       map[string]string `json:"values,omitempty"`
	Message      string            `json:"message,omitempty"`
	Host         string            `json:"host,omitempty"`
	Path         string            `json:"path,omitempty"`
	Format       string            `json:"format,omitempty"`
	Size         int               `json:"size,omitempty"`
	JobID        string            `json:"job_id,omitempty"`
}

// Notifier receives engine events.
//
// Notify is called synchronously from the goroutine that caused the change
// (the read loop, or a request handler for connect/disconnect), after all
// engine locks are released. Implementations must not block for long.
type Notifier interface {
	Notify(ev Event)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ev Event)

// Notify calls f(ev).
func (f NotifierFunc) Notify(ev Event) { f(ev) }

type noopNotifier struct{}

func (noopNotifier) Notify(Event) {}
