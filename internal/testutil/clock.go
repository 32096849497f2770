package testutil

import (
	"sync"
	"time"
)

// ManualWallClock is a settable wall-time source for deterministic tests.
//
// The loop's elapsed clock advances by wall deltas; feeding it a manual
// source makes those deltas exact instead of scheduler-dependent. Pass
// Now as the wall function via loop.WithWallClock.
//
// Thread-safety: all methods are safe for concurrent use via internal mutex,
// since tests advance the clock from outside the loop goroutine.
type ManualWallClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualWallClock creates a clock frozen at start.
func NewManualWallClock(start time.Time) *ManualWallClock {
	return &ManualWallClock{now: start}
}

// Now returns the current manual time. Does not advance.
func (c *ManualWallClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the manual time forward by d.
func (c *ManualWallClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
