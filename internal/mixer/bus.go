// Package mixer sums the deck outputs into the master signal and drives the
// real-time render loop that every output tap hangs off.
package mixer

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gopxl/beep/v2"

	"github.com/satindergrewal/turntable/internal/audio"
	"github.com/satindergrewal/turntable/internal/graph"
	"github.com/satindergrewal/turntable/internal/observe"
)

// DefaultMasterVolume is the master fader position at start.
const DefaultMasterVolume = 75.0

// Tap observes the master signal. Write must not modify or retain samples
// and must return quickly; it runs on the render goroutine.
type Tap interface {
	Write(samples [][2]float64)
}

// TapFunc adapts a function to Tap.
type TapFunc func(samples [][2]float64)

func (f TapFunc) Write(samples [][2]float64) { f(samples) }

// Option configures a Bus.
type Option func(*Bus)

// WithMasterVolume sets the initial master fader, 0..100.
func WithMasterVolume(v float64) Option {
	return func(b *Bus) { b.volume = v }
}

// WithRamp sets the master gain smoothing time.
func WithRamp(d time.Duration) Option {
	return func(b *Bus) { b.ramp = d }
}

// WithMetrics attaches instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(b *Bus) { b.metrics = m }
}

// WithFrameBuffer sets how many rendered frames Frames can hold.
func WithFrameBuffer(n int) Option {
	return func(b *Bus) { b.frameBuf = n }
}

// Bus is the mixer stage. Decks connect once; the bus only reads their
// outputs and never touches deck state.
type Bus struct {
	clock    *audio.SampleClock
	metrics  *observe.Metrics
	ramp     time.Duration
	frameBuf int

	mu     sync.Mutex
	mix    beep.Mixer
	master *graph.Gain
	taps   []Tap
	volume float64

	peak    [2]atomic.Uint64 // float64 bits
	frameCh chan []int16
}

// NewBus creates a bus that advances clock as it renders.
func NewBus(clock *audio.SampleClock, opts ...Option) *Bus {
	b := &Bus{
		clock:    clock,
		ramp:     15 * time.Millisecond,
		frameBuf: 100,
		volume:   DefaultMasterVolume,
	}
	for _, o := range opts {
		o(b)
	}
	if b.metrics == nil {
		b.metrics = observe.DefaultMetrics()
	}
	n := audio.Format.SampleRate.N(b.ramp)
	b.master = graph.NewGain(beep.StreamerFunc(b.streamInputs), graph.NewParam(graph.VolumeToGain(b.volume), n))
	b.frameCh = make(chan []int16, b.frameBuf)
	return b
}

// Clock returns the engine clock the bus advances.
func (b *Bus) Clock() *audio.SampleClock {
	return b.clock
}

// Connect adds a deck output to the mix.
func (b *Bus) Connect(s beep.Streamer) {
	b.mu.Lock()
	b.mix.Add(s)
	b.mu.Unlock()
}

// AddTap attaches an observer of the post-master signal.
func (b *Bus) AddTap(t Tap) {
	b.mu.Lock()
	defer b.mu.Unlock()
	taps := make([]Tap, len(b.taps), len(b.taps)+1)
	copy(taps, b.taps)
	b.taps = append(taps, t)
}

// SetMasterVolume sets the master fader, 0..100.
func (b *Bus) SetMasterVolume(v float64) {
	v = min(max(v, 0), 100)
	b.mu.Lock()
	b.volume = v
	b.mu.Unlock()
	b.master.Level().Set(graph.VolumeToGain(v))
}

// MasterVolume returns the master fader position.
func (b *Bus) MasterVolume() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.volume
}

// Levels returns the peak level of each channel in the last rendered block.
func (b *Bus) Levels() (left, right float64) {
	return math.Float64frombits(b.peak[0].Load()), math.Float64frombits(b.peak[1].Load())
}

// streamInputs runs with mu held by Render.
func (b *Bus) streamInputs(samples [][2]float64) (int, bool) {
	n, _ := b.mix.Stream(samples)
	clear(samples[n:])
	return len(samples), true
}

// Render produces the next block of the master mix into buf, feeds the
// taps and advances the engine clock by len(buf) frames.
func (b *Bus) Render(buf [][2]float64) {
	start := time.Now()

	b.mu.Lock()
	b.master.Stream(buf)
	taps := b.taps
	b.mu.Unlock()

	var pl, pr float64
	for _, s := range buf {
		pl = max(pl, math.Abs(s[0]))
		pr = max(pr, math.Abs(s[1]))
	}
	b.peak[0].Store(math.Float64bits(pl))
	b.peak[1].Store(math.Float64bits(pr))

	for _, t := range taps {
		t.Write(buf)
	}
	b.clock.Advance(len(buf))

	ctx := context.Background()
	b.metrics.FramesRendered.Add(ctx, int64(len(buf)))
	b.metrics.RenderDuration.Record(ctx, time.Since(start).Seconds())
}

// Frames returns the channel of rendered 20ms interleaved PCM frames.
// It is closed when Run returns.
func (b *Bus) Frames() <-chan []int16 {
	return b.frameCh
}

// Run renders one frame per FrameDuration tick until ctx is cancelled.
func (b *Bus) Run(ctx context.Context) {
	defer close(b.frameCh)

	ticker := time.NewTicker(audio.FrameDuration)
	defer ticker.Stop()

	buf := make([][2]float64, audio.FrameSize)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		b.Render(buf)
		frame := make([]int16, audio.FrameSamples)
		audio.ToInt16(frame, buf)

		select {
		case b.frameCh <- frame:
		case <-ctx.Done():
			return
		}
	}
}
