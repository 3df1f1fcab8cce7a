package audits

import (
	"context"
	"time"

	id "auditoria/pkg/domain"
)

// LifecycleEvent is emitted after a transition commits. The notification
// path consumes these to enqueue "state changed" sends; consumers never see
// uncommitted transitions.
type LifecycleEvent struct {
	AuditID  id.AuditID
	SiteID   id.SiteID
	From     State
	To       State
	ActorID  id.ActorID
	Override bool
	At       time.Time
}

// EventPublisher receives committed lifecycle events.
type EventPublisher interface {
	Publish(ctx context.Context, event LifecycleEvent)
}

// EventBus is a bounded in-process fan-in of lifecycle events. Publishing
// never blocks the transition path: when the buffer is full the event is
// dropped and the consumer catches up from the trail.
type EventBus struct {
	ch      chan LifecycleEvent
	dropped func()
}

// NewEventBus creates a bus with the given buffer. onDrop is invoked for
// each event dropped on overflow; nil is allowed.
func NewEventBus(buffer int, onDrop func()) *EventBus {
	if buffer <= 0 {
		buffer = 64
	}
	return &EventBus{ch: make(chan LifecycleEvent, buffer), dropped: onDrop}
}

// Publish offers the event to the consumer without blocking.
func (b *EventBus) Publish(_ context.Context, event LifecycleEvent) {
	select {
	case b.ch <- event:
	default:
		if b.dropped != nil {
			b.dropped()
		}
	}
}

// Events exposes the consumer side of the bus.
func (b *EventBus) Events() <-chan LifecycleEvent {
	return b.ch
}
