// Package broadcast generalizes a serial-port subscriber map
// (internal/serialmux/serialmux.go: Subscribe/Unsubscribe/Close over a
// map[string]chan string protected by a mutex) into a generic, typed
// publish/subscribe cell used for every state and event stream this
// module exposes (session state, bias state, sensor reports, tracking
// samples, diagnostics, control events).
package broadcast

import (
	"sync"

	"github.com/google/uuid"
)

// Broadcaster fans out values of type T to any number of subscribers.
// Publish never blocks: a subscriber whose channel is full misses the
// value rather than stalling the publisher, matching the
// "if the channel is full/blocking skip" discipline used elsewhere.
type Broadcaster[T any] struct {
	mu          sync.Mutex
	subscribers map[string]chan T
	closed      bool
}

// New returns an empty Broadcaster.
func New[T any]() *Broadcaster[T] {
	return &Broadcaster[T]{subscribers: make(map[string]chan T)}
}

// Subscribe returns a new buffered channel and its id. Callers must call
// Unsubscribe(id) when done to avoid leaking the channel entry.
func (b *Broadcaster[T]) Subscribe(buffer int) (string, <-chan T) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan T, buffer)
	id := uuid.NewString()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[id] = ch
	return id, ch
}

// Unsubscribe closes and removes the subscriber channel for id.
func (b *Broadcaster[T]) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
}

// Publish delivers v to every current subscriber, dropping it for any
// subscriber whose buffer is full.
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.subscribers {
		select {
		case ch <- v:
		default:
		}
	}
}

// Close closes every subscriber channel and marks the Broadcaster closed;
// further Publish calls are no-ops.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
}
