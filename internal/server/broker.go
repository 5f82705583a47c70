package server

import (
	"sync"

	"github.com/tinkerloft/deskpilot/internal/engine"
)

// Broker fans session events out to SSE subscribers. Slow subscribers drop
// events rather than stalling the session.
type Broker struct {
	mu   sync.Mutex
	subs map[chan engine.Event]struct{}
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[chan engine.Event]struct{})}
}

// Publish delivers an event to every subscriber. Safe to use as an
// engine.EventSink.
func (b *Broker) Publish(e engine.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe registers a new event channel. The returned cancel func must be
// called to release the subscription.
func (b *Broker) Subscribe() (<-chan engine.Event, func()) {
	ch := make(chan engine.Event, 16)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		delete(b.subs, ch)
		b.mu.Unlock()
	}
	return ch, cancel
}
