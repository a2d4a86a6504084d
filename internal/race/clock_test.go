package race

import (
	"testing"
	"time"
)

type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) now() time.Time { return f.t }

func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func TestClockElapsedDerivedFromOrigin(t *testing.T) {
	fc := newFakeClock()
	c := NewClock(fc.now)
	if c.Elapsed() != 0 || c.Running() {
		t.Fatalf("new clock should be stopped at zero")
	}
	c.Start()
	fc.advance(90 * time.Second)
	if got := c.Elapsed(); got != 90*time.Second {
		t.Fatalf("elapsed = %s, want 90s", got)
	}
}

func TestClockPauseFreezesAndResumeContinues(t *testing.T) {
	fc := newFakeClock()
	c := NewClock(fc.now)
	c.Start()
	fc.advance(10 * time.Second)
	c.Pause()
	fc.advance(time.Hour)
	if got := c.Elapsed(); got != 10*time.Second {
		t.Fatalf("paused elapsed = %s, want 10s", got)
	}
	c.Resume()
	fc.advance(5 * time.Second)
	if got := c.Elapsed(); got != 15*time.Second {
		t.Fatalf("resumed elapsed = %s, want 15s", got)
	}
}

func TestClockIgnoresTickFrequency(t *testing.T) {
	fc := newFakeClock()
	c := NewClock(fc.now)
	c.Start()
	for i := 0; i < 10000; i++ {
		fc.advance(100 * time.Millisecond)
		_ = c.Elapsed()
	}
	if got := c.Elapsed(); got != 1000*time.Second {
		t.Fatalf("elapsed after 10000 ticks = %s, want 1000s", got)
	}
}

func TestClockReset(t *testing.T) {
	fc := newFakeClock()
	c := NewClock(fc.now)
	c.Start()
	fc.advance(time.Minute)
	c.Reset()
	if c.Running() || c.Elapsed() != 0 {
		t.Fatalf("reset clock should be stopped at zero, got running=%v elapsed=%s", c.Running(), c.Elapsed())
	}
}

func TestClockDoublePauseAndResumeAreNoops(t *testing.T) {
	fc := newFakeClock()
	c := NewClock(fc.now)
	c.Start()
	fc.advance(3 * time.Second)
	c.Pause()
	c.Pause()
	c.Resume()
	fc.advance(2 * time.Second)
	c.Resume()
	if got := c.Elapsed(); got != 5*time.Second {
		t.Fatalf("elapsed = %s, want 5s", got)
	}
}
