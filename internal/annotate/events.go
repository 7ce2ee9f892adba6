package annotate

// Event names published by the Orchestrator.
const (
	EventStart             = "annotate_start"
	EventAdmissionRejected = "admission_rejected"
	EventDone              = "annotate_done"
	EventError             = "annotate_error"
)

// Event represents an invocation lifecycle event.
// Minimal and stable: name + invocation id and optional fields via key/values.
type Event struct {
	Name       string
	Invocation string
	Fields     map[string]any
}

// EventPublisher receives events from the Orchestrator. Implementations
// should be lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}
