// Package events fans radio state changes out to SSE, WebSocket and MQTT
// subscribers.
package events

import (
	"sync"

	"github.com/google/uuid"

	"github.com/rtlsdr-radio/rtlsdr-radio/internal/models"
)

const subBufferSize = 16

// Bus is a non-blocking publish-subscribe event bus.
// Subscribers that are slow to consume events will have events dropped rather
// than blocking publishers. The latest event of each type is retained so a new
// subscriber can start from current state.
type Bus struct {
	mu   sync.Mutex
	subs map[string]chan models.Event
	last map[string]models.Event
	keys []string // event types in first-seen order
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[string]chan models.Event),
		last: make(map[string]models.Event),
	}
}

// Subscribe registers a subscriber under a fresh id. The channel is primed
// with the latest event of every type. Call Unsubscribe with the id when done.
func (b *Bus) Subscribe() (string, <-chan models.Event) {
	id := uuid.NewString()
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan models.Event, subBufferSize+len(b.keys))
	for _, k := range b.keys {
		ch <- b.last[k]
	}
	b.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Publish sends ev to all subscribers.
// If a subscriber's channel is full, the event is dropped (non-blocking).
func (b *Bus) Publish(ev models.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, seen := b.last[ev.Type]; !seen {
		b.keys = append(b.keys, ev.Type)
	}
	b.last[ev.Type] = ev
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// Drop if subscriber is slow
		}
	}
}

// Last returns the most recent event of type typ.
func (b *Bus) Last(typ string) (models.Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ev, ok := b.last[typ]
	return ev, ok
}

// SubscriberCount returns the current number of subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
