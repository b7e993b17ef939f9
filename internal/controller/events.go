package controller

import "time"

// Event names published by the controller.
const (
	EventInitializeDone   = "initialize_done"
	EventInitializeFailed = "initialize_failed"
	EventModelLoaded      = "model_loaded"
	EventModelLoadFailed  = "model_load_failed"
	EventInvokeDone       = "invoke_done"
	EventInvokeFailed     = "invoke_failed"
)

// Event represents a controller lifecycle event: a name, the input id for
// invocation events and optional fields.
type Event struct {
	Name    string         `json:"name"`
	InputID string         `json:"input_id,omitempty"`
	Time    time.Time      `json:"time"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// EventPublisher receives events from the controller. Implementations must
// not block the caller and Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

func (c *Controller) publish(name, inputID string, fields map[string]any) {
	c.publisher.Publish(Event{Name: name, InputID: inputID, Time: time.Now().UTC(), Fields: fields})
}
