// Package clock provides time sources for event timestamps.
package clock

import (
	"sync"
	"time"
)

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// Wall is the system clock in UTC.
var Wall Clock = wallClock{}

type wallClock struct{}

func (wallClock) Now() time.Time {
	return time.Now().UTC()
}

// Monotonic wraps a clock so that Now never returns a time earlier than the
// previous call. If the base clock goes backwards the last value is reused.
type Monotonic struct {
	base Clock
	mu   sync.Mutex
	last time.Time
}

// NewMonotonic creates a non-decreasing clock over base. A nil base uses Wall.
func NewMonotonic(base Clock) *Monotonic {
	if base == nil {
		base = Wall
	}

	return &Monotonic{base: base}
}

// Now implements Clock.
func (m *Monotonic) Now() time.Time {
	now := m.base.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if now.Before(m.last) {
		now = m.last
	}
	m.last = now

	return now
}
