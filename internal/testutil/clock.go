// Package testutil provides deterministic test doubles: a fake clock for
// TTL behavior and a fixed ID generator for stable script ids in fixtures.
package testutil

import (
	"sync"
	"time"
)

// FakeClock is an advanceable clock for tests.
//
// Unlike cache.SystemClock, time only moves when a test calls Advance or
// Set, so TTL expiry can be asserted at exact boundaries without sleeping.
//
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock creates a clock frozen at the given instant.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now returns the frozen instant.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d. Negative d moves it backward;
// nothing prevents that, tests own the timeline.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set jumps the clock to a specific instant.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
