// Package bus fans domain events out to in-process subscribers. The
// ingestion pipeline and the connection manager publish here; the
// API's event watch feed is the consumer.
package bus

import (
	"strings"
	"sync"
)

// Bus delivers published events to every subscriber whose prefix
// matches the event kind. Delivery is non-blocking: a subscriber that
// stops draining loses events rather than stalling the publisher.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]subscriber
}

type subscriber struct {
	prefix string
	ch     chan Event
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[int]subscriber)}
}

// Publish delivers evt to every matching subscriber.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if !strings.HasPrefix(evt.Kind, s.prefix) {
			continue
		}
		select {
		case s.ch <- evt:
		default:
			// Full buffer means a stalled subscriber; drop.
		}
	}
}

// Subscribe registers a subscriber for all event kinds starting with
// prefix; the empty prefix matches everything. bufSize is the channel
// buffer. The returned cancel function detaches the subscriber; the
// channel is never closed.
func (b *Bus) Subscribe(prefix string, bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = subscriber{prefix: prefix, ch: ch}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}
