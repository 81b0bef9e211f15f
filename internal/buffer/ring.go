// Package buffer provides the read buffer: a bounded, concurrency-safe, in-memory
// projection of recently consumed events. It is not durable; the store is the
// system of record.
package buffer

import (
	"sync"

	"github.com/jnst/event-relay/internal/model"
)

// DefaultCapacity is used when a non-positive capacity is requested.
const DefaultCapacity = 1000

// Ring retains the most recent Cap() events in insertion order. When full, each
// enqueue overwrites the oldest entry.
type Ring struct {
	mu      sync.RWMutex
	items   []model.Event
	head    int // index of the oldest entry
	size    int
	dropped uint64
}

// New creates a ring with the given capacity.
func New(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	return &Ring{items: make([]model.Event, capacity)}
}

// Enqueue stores a copy of event. It never blocks on readers for longer than a snapshot copy.
func (r *Ring) Enqueue(event model.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	capacity := len(r.items)
	if r.size < capacity {
		r.items[(r.head+r.size)%capacity] = event
		r.size++
		return
	}

	r.items[r.head] = event
	r.head = (r.head + 1) % capacity
	r.dropped++
}

// Snapshot returns a point-in-time copy ordered from oldest to newest.
func (r *Ring) Snapshot() []model.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.Event, r.size)
	capacity := len(r.items)
	for i := range r.size {
		out[i] = r.items[(r.head+i)%capacity]
	}

	return out
}

// Contents returns the payloads of Snapshot in the same order.
func (r *Ring) Contents() []string {
	events := r.Snapshot()

	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Content
	}

	return out
}

// Len returns the number of buffered events.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.size
}

// Cap returns the maximum number of retained events.
func (r *Ring) Cap() int {
	return len(r.items)
}

// Dropped returns how many events were evicted to make room for newer ones.
func (r *Ring) Dropped() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.dropped
}
