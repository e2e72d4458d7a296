// Package clock provides the wall-clock abstraction shared by the source
// reader, the elite store and key derivation.
//
// Production code uses System. Tests inject testutil.ManualClock so rate
// limiting and timestamps are deterministic.
package clock

import (
	"sync"
	"time"
)

// Clock reports the current time.
type Clock interface {
	Now() time.Time
}

// System is the real wall clock, reported in UTC.
type System struct{}

// Now returns the current UTC time.
func (System) Now() time.Time {
	return time.Now().UTC()
}

// Monotonic wraps a Clock so successive readings never go backwards.
//
// UTC() strips Go's monotonic reading, so a wall-clock step (NTP, manual
// change) could otherwise reorder capture timestamps.
//
// Thread-safety: Monotonic is safe for concurrent use.
type Monotonic struct {
	mu   sync.Mutex
	base Clock
	last time.Time
}

// NewMonotonic wraps base. A nil base means System.
func NewMonotonic(base Clock) *Monotonic {
	if base == nil {
		base = System{}
	}
	return &Monotonic{base: base}
}

// Now returns max(base.Now(), previous reading).
func (m *Monotonic) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.base.Now()
	if now.Before(m.last) {
		return m.last
	}
	m.last = now
	return now
}
