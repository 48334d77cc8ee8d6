// Package system provides real and fixed clock implementations.
package system

import (
	"sync"
	"time"
)

// Clock implements audit.Clock using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Fixed is a settable clock for tests and replayed scans.
type Fixed struct {
	mu  sync.Mutex
	now time.Time
}

// NewFixed returns a clock frozen at t.
func NewFixed(t time.Time) *Fixed {
	return &Fixed{now: t}
}

// Now returns the frozen time.
func (f *Fixed) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the clock forward by d.
func (f *Fixed) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}
