// Package eventbus carries execution lifecycle events and notifications between components.
package eventbus

import (
	"context"

	"github.com/elena-cav/stepflow/pkg/events"
)

// Event is anything that can travel on the bus.
type Event interface {
	GetType() events.EventType
}

// EventPublisher publishes an event. key travels as message metadata; the
// engine uses the event type and the publish action uses the detail type.
type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

// EventSubscriber routes events to one handler per event type. Handlers must
// be registered before Subscribe.
type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

// EventHandler receives a decoded event pointer, e.g. *events.Notification.
type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
}

// NopPublisher drops every event. Used where no bus is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, Event) error {
	return nil
}
