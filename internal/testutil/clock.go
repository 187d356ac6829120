package testutil

import (
	"sync"
	"time"
)

// DeterministicClock is a fake wall clock for tests that record timestamps.
//
// Every call to Now advances the clock by a fixed step, so the same
// scenario always produces the same timestamps. Reset rewinds it for reuse.
//
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu    sync.Mutex
	start time.Time
	step  time.Duration
	n     int64
}

// NewDeterministicClock creates a clock whose first Now returns start.
// A zero step defaults to one millisecond.
func NewDeterministicClock(start time.Time, step time.Duration) *DeterministicClock {
	if step == 0 {
		step = time.Millisecond
	}
	return &DeterministicClock{start: start, step: step}
}

// Now returns the current time and advances the clock by one step.
func (c *DeterministicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.start.Add(time.Duration(c.n) * c.step)
	c.n++
	return t
}

// Calls returns how many times Now has been called since the last Reset.
func (c *DeterministicClock) Calls() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// Reset rewinds the clock to its start.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n = 0
}
