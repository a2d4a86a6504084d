package race

import "time"

// Clock measures race time from an origin. While running, elapsed time is
// always now-origin; while paused it is a frozen value. Elapsed time is never
// accumulated tick by tick, so the refresh rate of the UI cannot make it drift.
type Clock struct {
	now     func() time.Time
	origin  time.Time
	frozen  time.Duration
	running bool
}

// NewClock builds a stopped clock reading time from now (time.Now when nil).
func NewClock(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now}
}

// Start fixes the origin at the current instant and starts counting from zero.
func (c *Clock) Start() {
	c.origin = c.now()
	c.frozen = 0
	c.running = true
}

// Pause freezes the elapsed time and discards the origin.
func (c *Clock) Pause() {
	if !c.running {
		return
	}
	c.frozen = c.sinceOrigin()
	c.origin = time.Time{}
	c.running = false
}

// Resume picks an origin such that now-origin equals the frozen elapsed time.
func (c *Clock) Resume() {
	if c.running {
		return
	}
	c.origin = c.now().Add(-c.frozen)
	c.running = true
}

// Reset stops the clock and zeroes it.
func (c *Clock) Reset() {
	c.origin = time.Time{}
	c.frozen = 0
	c.running = false
}

// Elapsed reports the current race time.
func (c *Clock) Elapsed() time.Duration {
	if c.running {
		return c.sinceOrigin()
	}
	return c.frozen
}

// Running reports whether the clock is advancing.
func (c *Clock) Running() bool {
	return c.running
}

// set rebuilds the clock from an elapsed value, used when restoring a checkpoint.
func (c *Clock) set(elapsed time.Duration, running bool) {
	if elapsed < 0 {
		elapsed = 0
	}
	if running {
		c.origin = c.now().Add(-elapsed)
		c.frozen = 0
		c.running = true
		return
	}
	c.origin = time.Time{}
	c.frozen = elapsed
	c.running = false
}

func (c *Clock) sinceOrigin() time.Duration {
	d := c.now().Sub(c.origin)
	if d < 0 {
		return 0
	}
	return d
}
