package mixer

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/gopxl/beep/v2"

	"github.com/satindergrewal/turntable/internal/audio"
	"github.com/satindergrewal/turntable/internal/deck"
)

func constant(l, r float64) beep.Streamer {
	return beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		for i := range samples {
			samples[i] = [2]float64{l, r}
		}
		return len(samples), true
	})
}

func newBus(t *testing.T, opts ...Option) *Bus {
	t.Helper()
	return NewBus(&audio.SampleClock{}, append([]Option{WithRamp(0), WithMasterVolume(100)}, opts...)...)
}

// --- Mixing ---

func TestRenderSumsInputs(t *testing.T) {
	b := newBus(t)
	b.Connect(constant(0.25, 0.1))
	b.Connect(constant(0.25, -0.3))

	buf := make([][2]float64, 128)
	b.Render(buf)
	for i, s := range buf {
		if math.Abs(s[0]-0.5) > 1e-12 || math.Abs(s[1]+0.2) > 1e-12 {
			t.Fatalf("sample %d = %v, want [0.5 -0.2]", i, s)
		}
	}
}

func TestRenderWithoutInputsIsSilent(t *testing.T) {
	b := newBus(t)
	buf := make([][2]float64, 64)
	for i := range buf {
		buf[i] = [2]float64{1, 1}
	}
	b.Render(buf)
	for i, s := range buf {
		if s != [2]float64{} {
			t.Fatalf("sample %d = %v, want silence", i, s)
		}
	}
}

func TestMasterVolume(t *testing.T) {
	b := newBus(t)
	b.Connect(constant(0.8, 0.8))
	b.SetMasterVolume(50)

	buf := make([][2]float64, 64)
	b.Render(buf)
	if math.Abs(buf[63][0]-0.4) > 1e-12 {
		t.Errorf("master 50 output = %v, want 0.4", buf[63][0])
	}
	if b.MasterVolume() != 50 {
		t.Errorf("MasterVolume() = %v", b.MasterVolume())
	}
	b.SetMasterVolume(-3)
	if b.MasterVolume() != 0 {
		t.Errorf("MasterVolume() after -3 = %v, want 0", b.MasterVolume())
	}
}

func TestDefaultMasterVolume(t *testing.T) {
	b := NewBus(&audio.SampleClock{}, WithRamp(0))
	if b.MasterVolume() != DefaultMasterVolume {
		t.Errorf("default master = %v, want %v", b.MasterVolume(), DefaultMasterVolume)
	}
}

// --- Taps and clock ---

func TestTapSeesPostMasterSignal(t *testing.T) {
	b := newBus(t)
	b.Connect(constant(1, 1))
	b.SetMasterVolume(25)

	var got [][2]float64
	b.AddTap(TapFunc(func(s [][2]float64) {
		got = append(got, s...)
	}))
	buf := make([][2]float64, 32)
	b.Render(buf)

	if len(got) != 32 {
		t.Fatalf("tap saw %d samples, want 32", len(got))
	}
	if math.Abs(got[0][0]-0.25) > 1e-12 {
		t.Errorf("tap sample = %v, want post-master 0.25", got[0][0])
	}
}

func TestRenderAdvancesClock(t *testing.T) {
	clk := &audio.SampleClock{}
	b := NewBus(clk, WithRamp(0))
	buf := make([][2]float64, audio.FrameSize)
	for range 50 {
		b.Render(buf)
	}
	if got := clk.Now(); math.Abs(got-1) > 1e-12 {
		t.Errorf("clock after 50 frames = %v s, want 1", got)
	}
}

func TestLevels(t *testing.T) {
	b := newBus(t)
	b.Connect(constant(-0.6, 0.3))
	b.Render(make([][2]float64, 16))
	l, r := b.Levels()
	if math.Abs(l-0.6) > 1e-12 || math.Abs(r-0.3) > 1e-12 {
		t.Errorf("Levels() = %v, %v, want 0.6, 0.3", l, r)
	}
}

// --- Decks on the bus ---

func TestDeckPlaysThroughBus(t *testing.T) {
	b := newBus(t)
	d := deck.New("A", b.Clock(), b, deck.WithRamp(0), deck.WithVolume(100))

	s := make([][2]float64, audio.SampleRate)
	for i := range s {
		s[i] = [2]float64{0.5, 0.5}
	}
	d.Load(audio.NewTrack("dc", s))
	if err := d.TogglePlay(); err != nil {
		t.Fatalf("TogglePlay: %v", err)
	}

	buf := make([][2]float64, audio.FrameSize)
	for range 5 {
		b.Render(buf)
	}
	if math.Abs(buf[0][0]-0.5) > 1e-3 {
		t.Errorf("mixed deck sample = %v, want ~0.5", buf[0][0])
	}
	if got := d.Position(); math.Abs(got-0.1) > 1e-9 {
		t.Errorf("deck position after 5 frames = %v, want 0.1", got)
	}
}

// --- Run loop ---

func TestRunEmitsFramesAndCloses(t *testing.T) {
	b := newBus(t)
	b.Connect(constant(0.5, -0.5))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()

	select {
	case frame := <-b.Frames():
		if len(frame) != audio.FrameSamples {
			t.Fatalf("frame length = %d, want %d", len(frame), audio.FrameSamples)
		}
		if frame[0] != 16384 || frame[1] != -16384 {
			t.Errorf("first samples = %d, %d", frame[0], frame[1])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no frame rendered")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	for range b.Frames() {
	}
}
