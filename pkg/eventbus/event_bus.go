// Package eventbus fans journey and run notifications out to other services.
package eventbus

import (
	"context"

	"github.com/dukex/journey/pkg/events"
)

type Event interface {
	GetType() events.EventType
}

// EventPublisher publishes events keyed by the journey or run they belong to, so consumers
// partitioned by key see one journey's or one run's events in order.
type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

type EventHandler func(ctx context.Context, event any) error

// EventSubscriber dispatches incoming events to the handler registered for their type.
type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
}
