package testutil

import (
	"sync"
	"time"

	"github.com/roach88/trigdb/internal/trigger"
)

// ManualClock is a trigger.Clock that only moves when told to.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type ManualClock struct {
	mu  sync.Mutex
	now trigger.TimeUnit
}

// NewManualClock creates a clock reading start.
func NewManualClock(start trigger.TimeUnit) *ManualClock {
	return &ManualClock{now: start}
}

// Now implements trigger.Clock.
func (c *ManualClock) Now() trigger.TimeUnit {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t. Moving backwards is allowed; delays compare
// against whatever the clock reads.
func (c *ManualClock) Set(t trigger.TimeUnit) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Advance moves the clock forward by d and returns the new reading.
func (c *ManualClock) Advance(d time.Duration) trigger.TimeUnit {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += trigger.Milliseconds(d)
	return c.now
}
