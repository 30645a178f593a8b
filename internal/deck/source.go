package deck

import (
	"math"
	"sync/atomic"

	"github.com/satindergrewal/turntable/internal/audio"
)

// maxFading bounds the voices kept rendering their fade-out tails. Each
// tail lasts declickLen samples, so only a burst of toggles inside one render
// block ever needs more than one.
const maxFading = 4

// voicePair is swapped atomically so the render loop always sees a
// consistent view: the playing voice and the voices fading out.
type voicePair struct {
	current *Voice
	fading  []*Voice
}

// source is the deck input feeding the signal chain. Control code swaps
// voices in and out; the render loop only loads pointers and atomics.
type source struct {
	voices atomic.Pointer[voicePair]
	scrub  scrubber
	tmp    [][2]float64
}

func (s *source) update(f func(p voicePair) voicePair) {
	for {
		old := s.voices.Load()
		var p voicePair
		if old != nil {
			p = *old
		}
		next := f(p)
		if s.voices.CompareAndSwap(old, &next) {
			return
		}
	}
}

func without(vs []*Voice, v *Voice) []*Voice {
	out := make([]*Voice, 0, len(vs))
	for _, f := range vs {
		if f != v {
			out = append(out, f)
		}
	}
	return out
}

func (s *source) play(v *Voice) {
	s.update(func(p voicePair) voicePair {
		p.current = v
		return p
	})
}

// retire moves v to the fade-out list. The oldest tail is dropped when the
// list is full.
func (s *source) retire(v *Voice) {
	s.update(func(p voicePair) voicePair {
		if p.current == v {
			p.current = nil
		}
		fading := append(without(p.fading, v), v)
		if len(fading) > maxFading {
			fading = fading[len(fading)-maxFading:]
		}
		p.fading = fading
		return p
	})
}

// drop forgets v entirely.
func (s *source) drop(v *Voice) {
	s.update(func(p voicePair) voicePair {
		if p.current == v {
			p.current = nil
		}
		p.fading = without(p.fading, v)
		return p
	})
}

func (s *source) buffer(n int) [][2]float64 {
	if cap(s.tmp) < n {
		s.tmp = make([][2]float64, n)
	}
	return s.tmp[:n]
}

func (s *source) Stream(samples [][2]float64) (n int, ok bool) {
	clear(samples)
	if p := s.voices.Load(); p != nil {
		if p.current != nil {
			p.current.Stream(samples)
		}
		var done []*Voice
		for _, v := range p.fading {
			tmp := s.buffer(len(samples))
			_, alive := v.Stream(tmp)
			for i := range samples {
				samples[i][0] += tmp[i][0]
				samples[i][1] += tmp[i][1]
			}
			if !alive {
				done = append(done, v)
			}
		}
		if len(done) > 0 {
			s.update(func(q voicePair) voicePair {
				for _, v := range done {
					q.fading = without(q.fading, v)
				}
				return q
			})
		}
	}
	s.scrub.mix(samples)
	return len(samples), true
}

func (s *source) Err() error {
	return nil
}

// scrubber is the monitoring path used while scratching. Each render block
// glides from where the previous block ended to the latest scratch
// playhead, so pointer motion is heard as vinyl-style pitch movement
// without creating a voice per pointer sample.
type scrubber struct {
	track  atomic.Pointer[audio.Track]
	target atomic.Uint64 // frame position, float64 bits
	gen    atomic.Uint64
	active atomic.Bool

	// render side
	seen uint64
	pos  float64
	step float64
	gain float64
}

func (s *scrubber) start(tr *audio.Track, seconds float64) {
	s.track.Store(tr)
	s.seek(seconds)
	s.gen.Add(1)
	s.active.Store(true)
}

func (s *scrubber) seek(seconds float64) {
	s.target.Store(math.Float64bits(seconds * audio.SampleRate))
}

func (s *scrubber) stop() {
	s.active.Store(false)
}

func (s *scrubber) mix(dst [][2]float64) {
	if len(dst) == 0 {
		return
	}
	tr := s.track.Load()
	if tr == nil {
		return
	}
	if !s.active.Load() {
		s.release(tr, dst)
		return
	}
	g := s.gen.Load()
	to := math.Float64frombits(s.target.Load())
	if g != s.seen {
		s.seen, s.pos, s.gain = g, to, 0
	}

	n := float64(len(dst))
	step := (to - s.pos) / n
	// A platter held still is silent; loudness follows speed up to normal play.
	want := min(math.Abs(step), 1)
	for i := range dst {
		s.pos += step
		gain := s.gain + (want-s.gain)*float64(i+1)/n
		v := tr.At(s.pos)
		dst[i][0] += v[0] * gain
		dst[i][1] += v[1] * gain
	}
	s.pos, s.gain, s.step = to, want, step
}

// release fades the scrub out over one block after the platter is let go,
// carrying on at the last speed so the tail does not click.
func (s *scrubber) release(tr *audio.Track, dst [][2]float64) {
	if s.gain == 0 {
		return
	}
	n := float64(len(dst))
	for i := range dst {
		s.pos = min(max(s.pos+s.step, 0), float64(tr.Len()-1))
		gain := s.gain * (1 - float64(i+1)/n)
		v := tr.At(s.pos)
		dst[i][0] += v[0] * gain
		dst[i][1] += v[1] * gain
	}
	s.gain, s.step = 0, 0
}
