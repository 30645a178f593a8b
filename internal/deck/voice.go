package deck

import (
	"errors"
	"math"
	"sync"
	"sync/atomic"

	"github.com/gopxl/beep/v2"

	"github.com/satindergrewal/turntable/internal/audio"
)

// ErrVoiceFinished is returned by Voice.Stop when the voice had already
// reached the end of its track or been stopped.
var ErrVoiceFinished = errors.New("voice already finished")

const (
	resampleQuality = 4
	declickLen      = 240 // 5ms at 48kHz
)

// Voice reads a track at a variable rate. A voice is created for one
// playing interval and never restarted: pausing or scratching stops it and
// the next play creates a new one.
type Voice struct {
	resampler *beep.Resampler
	rate      atomic.Uint64 // float64 bits

	stopped   atomic.Bool
	quit      chan struct{}
	ended     chan struct{}
	endOnce   sync.Once
	release   sync.Once
	onRelease func()

	// render side
	applied float64
	faded   int
	tail    int
	silent  bool
}

func newVoice(tr *audio.Track, offset int, rate float64, onRelease func()) *Voice {
	v := &Voice{
		resampler: beep.ResampleRatio(resampleQuality, rate, tr.Streamer(offset)),
		quit:      make(chan struct{}),
		ended:     make(chan struct{}),
		onRelease: onRelease,
		applied:   rate,
	}
	v.rate.Store(math.Float64bits(rate))
	return v
}

// SetRate changes the playback rate. The render loop picks it up on its
// next block.
func (v *Voice) SetRate(r float64) {
	v.rate.Store(math.Float64bits(r))
}

// Rate returns the requested playback rate.
func (v *Voice) Rate() float64 {
	return math.Float64frombits(v.rate.Load())
}

// Stop tears the voice down. The render loop fades out what is left of the
// current block instead of cutting it. Stopping a voice that already ended
// returns ErrVoiceFinished.
func (v *Voice) Stop() error {
	if !v.stopped.CompareAndSwap(false, true) {
		return ErrVoiceFinished
	}
	close(v.quit)
	v.releaseOnce()
	select {
	case <-v.ended:
		return ErrVoiceFinished
	default:
		return nil
	}
}

// Ended is closed when the voice runs out of track.
func (v *Voice) Ended() <-chan struct{} {
	return v.ended
}

func (v *Voice) finish() {
	v.endOnce.Do(func() {
		close(v.ended)
		v.releaseOnce()
	})
}

func (v *Voice) releaseOnce() {
	v.release.Do(func() {
		if v.onRelease != nil {
			v.onRelease()
		}
	})
}

// Stream fills samples completely, padding with silence. ok turns false
// once the voice has nothing more to contribute.
func (v *Voice) Stream(samples [][2]float64) (n int, ok bool) {
	if v.silent {
		clear(samples)
		return len(samples), false
	}
	if r := v.Rate(); r != v.applied {
		v.resampler.SetRatio(r)
		v.applied = r
	}

	n, ok = v.resampler.Stream(samples)
	clear(samples[n:])
	if !ok {
		v.finish()
		v.silent = true
	}

	for i := 0; i < n && v.faded < declickLen; i++ {
		g := audio.Smoothstep(float64(v.faded) / declickLen)
		samples[i][0] *= g
		samples[i][1] *= g
		v.faded++
	}

	if v.stopped.Load() {
		for i := range samples {
			g := 1 - audio.Smoothstep(float64(v.tail)/declickLen)
			samples[i][0] *= g
			samples[i][1] *= g
			if v.tail < declickLen {
				v.tail++
			}
		}
		if v.tail >= declickLen {
			v.silent = true
		}
	}
	return len(samples), !v.silent
}

func (v *Voice) Err() error {
	return nil
}
