// Package testutil holds shared test doubles.
package testutil

import (
	"sync"
	"time"
)

// Clock is a thread-safe stepping fake for the store's timestamp source.
// Each call to Now returns a strictly later instant, so tests get distinct,
// reproducible created_at/updated_at values without sleeping.
type Clock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

// NewClock creates a clock starting at start and advancing by step per Now.
func NewClock(start time.Time, step time.Duration) *Clock {
	return &Clock{t: start, step: step}
}

// Now advances the clock and returns the new instant.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(c.step)
	return c.t
}

// Current returns the last instant handed out without advancing.
func (c *Clock) Current() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Reset rewinds the clock to start so a scenario can replay with identical
// timestamps.
func (c *Clock) Reset(start time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = start
}
