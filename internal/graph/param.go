// Package graph builds the fixed per-deck signal chain (gain, three-band EQ)
// and the ramped parameters that drive it.
package graph

import (
	"math"
	"sync/atomic"

	"github.com/satindergrewal/turntable/internal/audio"
)

// Param is an audio parameter written by control code and read by the
// render loop. Writes only store a target; the render side glides from its
// current value to the target over the ramp length so no change is heard as
// a step.
type Param struct {
	target  atomic.Uint64 // float64 bits
	rampLen int           // samples

	// render side only
	cur, from, to float64
	pos           int
}

// NewParam creates a parameter resting at initial that ramps over rampLen samples.
func NewParam(initial float64, rampLen int) *Param {
	p := &Param{rampLen: max(rampLen, 0), cur: initial, from: initial, to: initial}
	p.target.Store(math.Float64bits(initial))
	return p
}

// Set schedules a new target value. Safe to call from any goroutine.
func (p *Param) Set(v float64) {
	p.target.Store(math.Float64bits(v))
}

// Target returns the last value passed to Set.
func (p *Param) Target() float64 {
	return math.Float64frombits(p.target.Load())
}

// Advance moves the ramp forward by n samples and returns the value reached.
// Render goroutine only.
func (p *Param) Advance(n int) float64 {
	if t := p.Target(); t != p.to {
		p.from, p.to, p.pos = p.cur, t, 0
	}
	if p.cur == p.to {
		return p.cur
	}
	p.pos += n
	if p.pos >= p.rampLen {
		p.cur = p.to
	} else {
		p.cur = p.from + (p.to-p.from)*audio.Smoothstep(float64(p.pos)/float64(p.rampLen))
	}
	return p.cur
}

// Next advances by a single sample.
func (p *Param) Next() float64 {
	return p.Advance(1)
}

// Ramping reports whether the render side has not yet reached the target.
// Render goroutine only.
func (p *Param) Ramping() bool {
	return p.cur != p.to || p.Target() != p.to
}
