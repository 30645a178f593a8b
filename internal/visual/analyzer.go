// Package visual provides the spectrum tap the console UI draws from.
package visual

import (
	"fmt"
	"math"
	"math/cmplx"
	"sync"

	"github.com/madelynnblue/go-dsp/fft"
	"github.com/madelynnblue/go-dsp/window"
)

// Analyzer defaults.
const (
	DefaultFFTSize   = 256
	DefaultSmoothing = 0.8
	MinDecibels      = -100.0
	MaxDecibels      = -30.0
)

// Analyzer keeps the most recent fftSize mono samples of the master mix and
// computes smoothed magnitude spectra on demand. Write is the only call made
// from the render loop and only copies.
type Analyzer struct {
	size      int
	smoothing float64

	mu   sync.Mutex
	ring []float64
	pos  int

	// spectrum state, guarded by specMu
	specMu sync.Mutex
	smooth []float64
}

// NewAnalyzer creates an analyzer. fftSize must be a power of two in 32..32768.
func NewAnalyzer(fftSize int) (*Analyzer, error) {
	if fftSize < 32 || fftSize > 32768 || fftSize&(fftSize-1) != 0 {
		return nil, fmt.Errorf("fft size %d: must be a power of two in 32..32768", fftSize)
	}
	return &Analyzer{
		size:      fftSize,
		smoothing: DefaultSmoothing,
		ring:      make([]float64, fftSize),
		smooth:    make([]float64, fftSize/2),
	}, nil
}

// FrequencyBinCount is half the FFT size.
func (a *Analyzer) FrequencyBinCount() int {
	return a.size / 2
}

// Write records samples as a mono downmix.
func (a *Analyzer) Write(samples [][2]float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range samples {
		a.ring[a.pos] = (s[0] + s[1]) / 2
		a.pos = (a.pos + 1) % a.size
	}
}

func (a *Analyzer) snapshot() []float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]float64, a.size)
	n := copy(out, a.ring[a.pos:])
	copy(out[n:], a.ring[:a.pos])
	return out
}

// FloatFrequencyData returns the smoothed spectrum in dB, one value per bin.
func (a *Analyzer) FloatFrequencyData() []float64 {
	x := a.snapshot()
	window.Apply(x, window.Blackman)
	spec := fft.FFTReal(x)

	a.specMu.Lock()
	defer a.specMu.Unlock()
	out := make([]float64, len(a.smooth))
	for k := range a.smooth {
		mag := cmplx.Abs(spec[k]) / float64(a.size)
		a.smooth[k] = a.smoothing*a.smooth[k] + (1-a.smoothing)*mag
		out[k] = 20 * math.Log10(a.smooth[k])
	}
	return out
}

// ByteFrequencyData maps the spectrum from [MinDecibels, MaxDecibels] onto 0..255.
func (a *Analyzer) ByteFrequencyData() []byte {
	db := a.FloatFrequencyData()
	out := make([]byte, len(db))
	for i, v := range db {
		out[i] = ToByte(v)
	}
	return out
}

// ToByte scales a dB value into the 0..255 display range.
func ToByte(db float64) byte {
	v := 255 * (db - MinDecibels) / (MaxDecibels - MinDecibels)
	switch {
	case math.IsNaN(v) || v <= 0:
		return 0
	case v >= 255:
		return 255
	}
	return byte(v)
}
