// Package event carries the engine's progress notifications to whoever
// wants them: the CLI subscribes for verbose output, tests subscribe to
// observe ordering. The engine publishes and never cares who listens.
package event

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type identifies what happened.
type Type string

const (
	// Submission lifecycle.
	RequestStart Type = "request.start"
	StreamDelta  Type = "stream.delta"
	TurnComplete Type = "turn.complete"
	Done         Type = "done"

	// Tool execution.
	ToolStart Type = "tool.start"
	ToolError Type = "tool.error"

	// Recoverable anomalies in provider output.
	Warning Type = "warning"
)

// Event is one notification.
type Event struct {
	Type Type
	Time time.Time
	Data map[string]any
}

// Handler receives events. Handlers run on the publisher's goroutine and
// must not block.
type Handler func(Event)

type subscription struct {
	id        string
	eventType Type
	global    bool
	handler   Handler
}

// Bus is a minimal publish/subscribe fan-out keyed by event type.
type Bus struct {
	mu   sync.RWMutex
	subs []*subscription
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a handler for one event type and returns a
// subscription id.
func (b *Bus) Subscribe(t Type, h Handler) string {
	return b.add(&subscription{eventType: t, handler: h})
}

// SubscribeAll registers a handler for every event type.
func (b *Bus) SubscribeAll(h Handler) string {
	return b.add(&subscription{global: true, handler: h})
}

func (b *Bus) add(sub *subscription) string {
	sub.id = uuid.NewString()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, sub)
	return sub.id
}

// Unsubscribe removes a subscription by id.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if sub.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers an event to every matching subscriber, in subscription
// order, on the caller's goroutine. A nil bus is a no-op so callers can
// publish unconditionally.
func (b *Bus) Publish(t Type, data map[string]any) {
	if b == nil {
		return
	}
	ev := Event{Type: t, Time: time.Now(), Data: data}

	b.mu.RLock()
	subs := make([]*subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, sub := range subs {
		if sub.global || sub.eventType == t {
			sub.handler(ev)
		}
	}
}
