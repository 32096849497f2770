package loop

import "time"

// elapsedClock tracks the loop's logical elapsed time in milliseconds.
//
// Elapsed time advances by the wall-clock delta since the previous advance,
// so wall-clock reads never enter directly - only their differences do.
// Under normal operation the counter is non-decreasing; FastForward can jump
// it ahead of real time for tests.
//
// Owned exclusively by the loop goroutine. Not safe for concurrent use.
type elapsedClock struct {
	wall    func() time.Time
	lastMS  int64
	elapsed int64
}

// newElapsedClock creates a clock reading wall time from wall.
// A nil wall defaults to time.Now.
func newElapsedClock(wall func() time.Time) *elapsedClock {
	if wall == nil {
		wall = time.Now
	}
	c := &elapsedClock{wall: wall}
	c.lastMS = c.nowMS()
	return c
}

func (c *elapsedClock) nowMS() int64 {
	return c.wall().UnixMilli()
}

// Advance folds the wall delta since the last advance into elapsed time and
// returns the new elapsed value.
func (c *elapsedClock) Advance() int64 {
	now := c.nowMS()
	c.elapsed += now - c.lastMS
	c.lastMS = now
	return c.elapsed
}

// Elapsed returns the elapsed time without advancing it.
func (c *elapsedClock) Elapsed() int64 {
	return c.elapsed
}

// Rebase resets the wall reference to now without touching elapsed time.
// Called at Run entry so time spent between construction and Run is not
// counted.
func (c *elapsedClock) Rebase() {
	c.lastMS = c.nowMS()
}

// FastForward jumps elapsed time forward by ms without a real-time wait.
// The wall reference resets to now so the next Advance does not count the
// skipped interval a second time.
func (c *elapsedClock) FastForward(ms int64) {
	c.elapsed += ms
	c.lastMS = c.nowMS()
}
