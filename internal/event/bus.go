package event

import (
	"log/slog"
	"runtime/debug"
	"strconv"
	"sync"
)

// Handler is a function that handles an event.
type Handler func(Event)

// wildcard is the event type wildcard handlers subscribe under.
const wildcard = "*"

// Bus is a synchronous pub-sub bus. Components publish domain events and
// monitoring surfaces subscribe without the publishers depending on them.
// Handlers run on the publishing goroutine; publishers must not hold locks
// that handlers could contend on.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscriber
	nextID uint64
}

type subscriber struct {
	id        string
	eventType string
	handler   Handler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a handler for one event type and returns a
// subscription ID usable with Unsubscribe.
func (b *Bus) Subscribe(eventType string, handler Handler) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := "sub-" + strconv.FormatUint(b.nextID, 10)
	b.subs = append(b.subs, subscriber{id: id, eventType: eventType, handler: handler})
	return id
}

// SubscribeAll registers a handler that receives every event.
func (b *Bus) SubscribeAll(handler Handler) string {
	return b.Subscribe(wildcard, handler)
}

// Unsubscribe removes a subscription by ID and reports whether it existed.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subs {
		if sub.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return true
		}
	}
	return false
}

// Publish delivers an event to every matching handler in registration
// order, specific subscriptions before wildcard ones. A panicking handler
// is recovered and logged so the remaining handlers still run.
func (b *Bus) Publish(ev Event) {
	eventType := ev.EventType()

	b.mu.RLock()
	matched := make([]Handler, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.eventType == eventType {
			matched = append(matched, sub.handler)
		}
	}
	for _, sub := range b.subs {
		if sub.eventType == wildcard {
			matched = append(matched, sub.handler)
		}
	}
	b.mu.RUnlock()

	for _, h := range matched {
		deliver(h, ev)
	}
}

func deliver(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event handler panicked",
				"event_type", ev.EventType(),
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	h(ev)
}

// Clear drops every subscription.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = nil
}

// SubscriptionCount returns the number of active subscriptions.
func (b *Bus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
