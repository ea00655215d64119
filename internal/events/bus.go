package events

import (
	"sync"
	"time"
)

// Bus collects progress events emitted during one reactor invocation. The
// reactor is short-lived, so the bus is an in-memory log that lives only as
// long as the invocation and has no size cap: sinks observe events as they
// are emitted, and Events returns everything seen so far for the
// progress-comment renderer.
type Bus struct {
	mu     sync.Mutex
	events []Event
	sinks  []func(Event)
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a sink invoked synchronously for every emitted event.
func (b *Bus) Subscribe(sink func(Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, sink)
}

// Emit stamps the event time and delivers it to all sinks.
func (b *Bus) Emit(e Event) {
	e.Time = time.Now().UTC()

	b.mu.Lock()
	b.events = append(b.events, e)
	sinks := make([]func(Event), len(b.sinks))
	copy(sinks, b.sinks)
	b.mu.Unlock()

	for _, sink := range sinks {
		sink(e)
	}
}

// Events returns a copy of everything emitted so far, in order.
func (b *Bus) Events() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.events))
	copy(out, b.events)
	return out
}
