package audio

import "sync/atomic"

// Clock reports the engine time in seconds.
type Clock interface {
	Now() float64
}

// SampleClock is the engine clock: it advances only as audio is rendered, so
// every position computed against it stays in step with what was heard.
type SampleClock struct {
	frames atomic.Int64
}

// Advance moves the clock forward by n rendered sample frames.
func (c *SampleClock) Advance(n int) {
	c.frames.Add(int64(n))
}

// Now returns the rendered time in seconds.
func (c *SampleClock) Now() float64 {
	return float64(c.frames.Load()) / SampleRate
}

// Frames returns the number of sample frames rendered so far.
func (c *SampleClock) Frames() int64 {
	return c.frames.Load()
}
