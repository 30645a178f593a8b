package graph

import (
	"math"
	"math/cmplx"

	"github.com/gopxl/beep/v2"
)

// FilterKind selects the biquad response.
type FilterKind int

const (
	LowShelf FilterKind = iota
	Peaking
	HighShelf
)

func (k FilterKind) String() string {
	switch k {
	case LowShelf:
		return "lowshelf"
	case Peaking:
		return "peaking"
	case HighShelf:
		return "highshelf"
	}
	return "unknown"
}

// coeffBlock is how often coefficients are recomputed while the gain ramps.
const coeffBlock = 32

// Coefficients are normalised biquad coefficients (a0 = 1).
type Coefficients struct {
	B0, B1, B2, A1, A2 float64
}

// Design computes the Audio EQ Cookbook coefficients for kind at freq with
// the given gain in dB. Shelves use a slope of 1; q only affects Peaking.
func Design(kind FilterKind, sampleRate, freq, q, gainDB float64) Coefficients {
	a := math.Pow(10, gainDB/40)
	w0 := 2 * math.Pi * freq / sampleRate
	cosw, sinw := math.Cos(w0), math.Sin(w0)

	var b0, b1, b2, a0, a1, a2 float64
	switch kind {
	case Peaking:
		alpha := sinw / (2 * q)
		b0 = 1 + alpha*a
		b1 = -2 * cosw
		b2 = 1 - alpha*a
		a0 = 1 + alpha/a
		a1 = -2 * cosw
		a2 = 1 - alpha/a
	case LowShelf:
		k := 2 * math.Sqrt(a) * (sinw / 2 * math.Sqrt2)
		b0 = a * ((a + 1) - (a-1)*cosw + k)
		b1 = 2 * a * ((a - 1) - (a+1)*cosw)
		b2 = a * ((a + 1) - (a-1)*cosw - k)
		a0 = (a + 1) + (a-1)*cosw + k
		a1 = -2 * ((a - 1) + (a+1)*cosw)
		a2 = (a + 1) + (a-1)*cosw - k
	case HighShelf:
		k := 2 * math.Sqrt(a) * (sinw / 2 * math.Sqrt2)
		b0 = a * ((a + 1) + (a-1)*cosw + k)
		b1 = -2 * a * ((a - 1) + (a+1)*cosw)
		b2 = a * ((a + 1) + (a-1)*cosw - k)
		a0 = (a + 1) - (a-1)*cosw + k
		a1 = 2 * ((a - 1) - (a+1)*cosw)
		a2 = (a + 1) - (a-1)*cosw - k
	}
	return Coefficients{B0: b0 / a0, B1: b1 / a0, B2: b2 / a0, A1: a1 / a0, A2: a2 / a0}
}

// Magnitude returns the linear gain of the filter at freq.
func (c Coefficients) Magnitude(sampleRate, freq float64) float64 {
	z := cmplx.Exp(complex(0, -2*math.Pi*freq/sampleRate))
	z2 := z * z
	num := complex(c.B0, 0) + complex(c.B1, 0)*z + complex(c.B2, 0)*z2
	den := 1 + complex(c.A1, 0)*z + complex(c.A2, 0)*z2
	return cmplx.Abs(num / den)
}

// Filter is a stereo biquad whose gain follows a ramped Param.
type Filter struct {
	src        beep.Streamer
	kind       FilterKind
	sampleRate float64
	freq, q    float64
	gain       *Param

	c      Coefficients
	gainDB float64
	z1, z2 [2]float64 // transposed direct form II state per channel
}

// NewFilter wraps src with a biquad of the given kind. gain is in dB.
func NewFilter(src beep.Streamer, kind FilterKind, sampleRate beep.SampleRate, freq, q float64, gain *Param) *Filter {
	f := &Filter{
		src:        src,
		kind:       kind,
		sampleRate: float64(sampleRate),
		freq:       freq,
		q:          q,
		gain:       gain,
	}
	f.gainDB = gain.Advance(0)
	f.c = Design(kind, f.sampleRate, freq, q, f.gainDB)
	return f
}

// Gain returns the filter gain parameter in dB.
func (f *Filter) Gain() *Param {
	return f.gain
}

// Coefficients returns the coefficients currently applied.
func (f *Filter) Coefficients() Coefficients {
	return f.c
}

func (f *Filter) Stream(samples [][2]float64) (n int, ok bool) {
	n, ok = f.src.Stream(samples)
	for start := 0; start < n; start += coeffBlock {
		end := min(start+coeffBlock, n)
		if f.gain.Ramping() {
			if g := f.gain.Advance(end - start); g != f.gainDB {
				f.gainDB = g
				f.c = Design(f.kind, f.sampleRate, f.freq, f.q, g)
			}
		}
		f.process(samples[start:end])
	}
	return n, ok
}

func (f *Filter) process(samples [][2]float64) {
	c := f.c
	for i := range samples {
		for ch := 0; ch < 2; ch++ {
			x := samples[i][ch]
			y := c.B0*x + f.z1[ch]
			f.z1[ch] = c.B1*x - c.A1*y + f.z2[ch]
			f.z2[ch] = c.B2*x - c.A2*y
			samples[i][ch] = y
		}
	}
}

func (f *Filter) Err() error {
	return f.src.Err()
}
