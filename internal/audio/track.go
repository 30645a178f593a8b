package audio

import (
	"math"

	"github.com/gopxl/beep/v2"
)

// Track is decoded audio held in memory at SampleRate. It is never mutated
// after construction; loading a new file produces a new Track.
type Track struct {
	Name    string
	samples [][2]float64
}

// NewTrack wraps already-decoded stereo samples.
func NewTrack(name string, samples [][2]float64) *Track {
	return &Track{Name: name, samples: samples}
}

// Len returns the number of sample frames.
func (t *Track) Len() int {
	return len(t.samples)
}

// Duration returns the track length in seconds.
func (t *Track) Duration() float64 {
	return Seconds(len(t.samples))
}

// At returns the linearly interpolated sample at a fractional frame index.
// Positions outside the track read as silence.
func (t *Track) At(pos float64) [2]float64 {
	if pos < 0 || len(t.samples) == 0 {
		return [2]float64{}
	}
	i := int(math.Floor(pos))
	if i >= len(t.samples) {
		return [2]float64{}
	}
	a := t.samples[i]
	if i+1 >= len(t.samples) {
		return a
	}
	b := t.samples[i+1]
	frac := pos - float64(i)
	return [2]float64{
		a[0] + (b[0]-a[0])*frac,
		a[1] + (b[1]-a[1])*frac,
	}
}

// Streamer returns an independent reader over the track starting at frame from.
func (t *Track) Streamer(from int) beep.StreamSeeker {
	s := &trackStreamer{samples: t.samples}
	s.Seek(from)
	return s
}

// trackStreamer implements beep.StreamSeeker over a shared, read-only sample slice.
type trackStreamer struct {
	samples  [][2]float64
	position int
}

func (s *trackStreamer) Stream(samples [][2]float64) (n int, ok bool) {
	if s.position >= len(s.samples) {
		return 0, false
	}
	n = copy(samples, s.samples[s.position:])
	s.position += n
	return n, true
}

func (s *trackStreamer) Err() error {
	return nil
}

func (s *trackStreamer) Len() int {
	return len(s.samples)
}

func (s *trackStreamer) Position() int {
	return s.position
}

func (s *trackStreamer) Seek(p int) error {
	s.position = min(max(p, 0), len(s.samples))
	return nil
}
