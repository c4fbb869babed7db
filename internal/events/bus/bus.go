// Package bus carries the hub's activity events: every committed tool effect
// is published as an Event, and observers (the WebSocket gateway, external
// NATS consumers) subscribe by subject pattern. The bus is fire-and-forget;
// nothing in the hub blocks on delivery.
package bus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event is one activity record on the bus.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// NewEvent creates an event with a fresh UUID and the current timestamp.
func NewEvent(eventType, source string, data map[string]interface{}) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// EventHandler consumes one delivered event.
type EventHandler func(ctx context.Context, event *Event) error

// Subscription is an active handler registration.
type Subscription interface {
	Unsubscribe() error
	IsValid() bool
}

// EventBus is the surface the hub publishes and subscribes through.
// Subjects use NATS conventions; patterns may contain the `*` (one token)
// and `>` (rest of subject) wildcards.
type EventBus interface {
	Publish(ctx context.Context, subject string, event *Event) error
	Subscribe(subject string, handler EventHandler) (Subscription, error)
	Close()
}
