package events

import (
	"github.com/kelindar/event"
)

// Bus wraps kelindar/event dispatcher for task event broadcasting
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates a new event bus
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Publish publishes an event to all subscribers.
// Usage: bus.Publish(TaskOutputEvent{...})
func (b *Bus) Publish(ev Event) {
	// kelindar/event is generic over the concrete type
	switch e := ev.(type) {
	case TaskSubmittedEvent:
		event.Publish(b.dispatcher, e)
	case TaskStateChangedEvent:
		event.Publish(b.dispatcher, e)
	case TaskOutputEvent:
		event.Publish(b.dispatcher, e)
	case TaskEscalatedEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe subscribes to events with a handler function.
// The handler's parameter type selects which events it receives.
// Returns an unsubscribe function.
// Usage: unsub := bus.Subscribe(func(e TaskStateChangedEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(TaskSubmittedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(TaskStateChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(TaskOutputEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(TaskEscalatedEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		return func() {}
	}
}
