package graph

import (
	"fmt"
	"time"

	"github.com/gopxl/beep/v2"
)

// Band identifies one of the three EQ stages.
type Band int

const (
	BandLow Band = iota
	BandMid
	BandHigh
)

func (b Band) String() string {
	switch b {
	case BandLow:
		return "low"
	case BandMid:
		return "mid"
	case BandHigh:
		return "high"
	}
	return fmt.Sprintf("band(%d)", int(b))
}

// ParseBand maps "low", "mid" and "high" to a Band.
func ParseBand(s string) (Band, error) {
	switch s {
	case "low":
		return BandLow, nil
	case "mid":
		return BandMid, nil
	case "high":
		return BandHigh, nil
	}
	return 0, fmt.Errorf("unknown eq band %q", s)
}

// EQ stage tuning.
const (
	LowShelfFreq  = 320.0
	PeakingFreq   = 1000.0
	PeakingQ      = 0.7
	HighShelfFreq = 3200.0

	// EQUnity is the normalised EQ level that leaves a band untouched.
	EQUnity = 50.0
	// eqDBPerStep maps 0..100 onto -20..+20 dB.
	eqDBPerStep = 0.4
)

// EQGainDB converts a normalised 0..100 EQ level to a gain in dB.
func EQGainDB(v float64) float64 {
	return (v - EQUnity) * eqDBPerStep
}

// VolumeToGain maps a 0..100 fader to a linear gain in 0..1.
func VolumeToGain(v float64) float64 {
	return min(max(v, 0), 100) / 100
}

// Context carries the engine settings every node is built with.
type Context struct {
	SampleRate beep.SampleRate
	Ramp       time.Duration
}

func (c Context) rampLen() int {
	return c.SampleRate.N(c.Ramp)
}

// Connector accepts a finished chain output, typically the mixer bus.
type Connector interface {
	Connect(s beep.Streamer)
}

// Gain scales a streamer by a ramped linear gain.
type Gain struct {
	src   beep.Streamer
	level *Param
}

// NewGain wraps src with the gain parameter level.
func NewGain(src beep.Streamer, level *Param) *Gain {
	return &Gain{src: src, level: level}
}

// Level returns the gain parameter.
func (g *Gain) Level() *Param {
	return g.level
}

func (g *Gain) Stream(samples [][2]float64) (n int, ok bool) {
	n, ok = g.src.Stream(samples)
	if !g.level.Ramping() {
		v := g.level.Advance(0)
		if v == 1 {
			return n, ok
		}
		for i := range samples[:n] {
			samples[i][0] *= v
			samples[i][1] *= v
		}
		return n, ok
	}
	for i := range samples[:n] {
		v := g.level.Next()
		samples[i][0] *= v
		samples[i][1] *= v
	}
	return n, ok
}

func (g *Gain) Err() error {
	return g.src.Err()
}

// Chain is the fixed per-deck topology:
// deck gain -> low shelf -> peaking -> high shelf -> bus.
type Chain struct {
	gain *Gain
	eq   [3]*Filter
	out  beep.Streamer
}

// Build wires src through the deck chain and connects the result to dst.
// The topology never changes afterwards; only parameters move.
func Build(ctx Context, src beep.Streamer, dst Connector, volume float64) *Chain {
	n := ctx.rampLen()
	c := &Chain{}
	c.gain = NewGain(src, NewParam(VolumeToGain(volume), n))
	c.eq[BandLow] = NewFilter(c.gain, LowShelf, ctx.SampleRate, LowShelfFreq, 0, NewParam(0, n))
	c.eq[BandMid] = NewFilter(c.eq[BandLow], Peaking, ctx.SampleRate, PeakingFreq, PeakingQ, NewParam(0, n))
	c.eq[BandHigh] = NewFilter(c.eq[BandMid], HighShelf, ctx.SampleRate, HighShelfFreq, 0, NewParam(0, n))
	c.out = c.eq[BandHigh]
	if dst != nil {
		dst.Connect(c)
	}
	return c
}

// SetEQ sets a band from a normalised 0..100 level (50 is flat).
func (c *Chain) SetEQ(b Band, v float64) {
	c.eq[b].Gain().Set(EQGainDB(v))
}

// EQGain returns the target gain of a band in dB.
func (c *Chain) EQGain(b Band) float64 {
	return c.eq[b].Gain().Target()
}

// SetGain sets the deck fader from a 0..100 volume.
func (c *Chain) SetGain(volume float64) {
	c.gain.Level().Set(VolumeToGain(volume))
}

// Gain returns the target linear deck gain.
func (c *Chain) Gain() float64 {
	return c.gain.Level().Target()
}

// Filter exposes a band's filter node.
func (c *Chain) Filter(b Band) *Filter {
	return c.eq[b]
}

func (c *Chain) Stream(samples [][2]float64) (n int, ok bool) {
	return c.out.Stream(samples)
}

func (c *Chain) Err() error {
	return c.out.Err()
}
