package console

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/satindergrewal/turntable/internal/audio"
	"github.com/satindergrewal/turntable/internal/config"
	"github.com/satindergrewal/turntable/internal/deck"
)

func newConsole(t *testing.T) (*Console, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.Ramp = 0
	cfg.MusicDir = dir
	c, err := New(cfg, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, dir
}

func writeWAV(t *testing.T, path string, seconds float64) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	n := audio.Frames(seconds)
	data := make([]int, n*audio.Channels)
	for i := 0; i < n; i++ {
		v := int(8000 * math.Sin(2*math.Pi*440*float64(i)/audio.SampleRate))
		data[2*i], data[2*i+1] = v, v
	}
	enc := wav.NewEncoder(f, audio.SampleRate, audio.BitDepth, audio.Channels, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: audio.Channels, SampleRate: audio.SampleRate},
		Data:           data,
		SourceBitDepth: audio.BitDepth,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
	f.Close()
}

func render(c *Console, frames int) {
	buf := make([][2]float64, audio.FrameSize)
	for range frames {
		c.Bus().Render(buf)
	}
}

func deckStatus(t *testing.T, c *Console, id string) deck.Status {
	t.Helper()
	for _, s := range c.Status().Decks {
		if s.ID == id {
			return s
		}
	}
	t.Fatalf("deck %s missing from status", id)
	return deck.Status{}
}

func TestNewRejectsDuplicateDeck(t *testing.T) {
	cfg := config.Defaults()
	cfg.Decks = []string{"A", "A"}
	if _, err := New(cfg, nil, nil); err == nil {
		t.Fatal("expected error for duplicate deck id")
	}
}

func TestNewRejectsBadFFTSize(t *testing.T) {
	cfg := config.Defaults()
	cfg.FFTSize = 100
	if _, err := New(cfg, nil, nil); err == nil {
		t.Fatal("expected error for fft size 100")
	}
}

func TestStatusListsDecksInOrder(t *testing.T) {
	c, _ := newConsole(t)
	s := c.Status()
	if len(s.Decks) != 2 || s.Decks[0].ID != "A" || s.Decks[1].ID != "B" {
		t.Fatalf("decks = %+v", s.Decks)
	}
	if s.MasterVolume != 75 {
		t.Errorf("master = %v, want 75", s.MasterVolume)
	}
	if s.Recording.Available {
		t.Error("recording available without a recorder")
	}
}

func TestApplyErrors(t *testing.T) {
	c, _ := newConsole(t)
	ctx := context.Background()

	tests := []struct {
		name string
		cmd  Command
		want error
	}{
		{"unknown deck", Command{Op: OpTogglePlay, Deck: "C"}, ErrUnknownDeck},
		{"unknown op", Command{Op: "spin", Deck: "A"}, ErrUnknownCommand},
		{"bad band", Command{Op: OpSetEQ, Deck: "A", Band: "treble"}, ErrBadCommand},
		{"scratch without angle", Command{Op: OpStartScratch, Deck: "A"}, ErrBadCommand},
		{"load without path", Command{Op: OpLoad, Deck: "A"}, ErrBadCommand},
		{"no recorder", Command{Op: OpStartRecording}, ErrNoRecorder},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := c.Apply(ctx, tt.cmd); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestApplyOnEmptyDeckIsNoop(t *testing.T) {
	c, _ := newConsole(t)
	ctx := context.Background()
	a := 10.0
	for _, cmd := range []Command{
		{Op: OpTogglePlay, Deck: "A"},
		{Op: OpStartScratch, Deck: "A", Angle: &a},
		{Op: OpStopScratch, Deck: "A"},
	} {
		if _, err := c.Apply(ctx, cmd); err != nil {
			t.Errorf("%s: %v", cmd.Op, err)
		}
	}
	if s := deckStatus(t, c, "A"); s.Playing || s.Scratching {
		t.Errorf("empty deck changed state: %+v", s)
	}
}

func TestLoadFileThenPlay(t *testing.T) {
	c, dir := newConsole(t)
	ctx := context.Background()
	path := filepath.Join(dir, "loop.wav")
	writeWAV(t, path, 1)

	if _, err := c.Apply(ctx, Command{Op: OpLoad, Deck: "A", Path: path}); err != nil {
		t.Fatalf("load: %v", err)
	}
	s := deckStatus(t, c, "A")
	if s.TrackName != "loop.wav" {
		t.Errorf("track = %q", s.TrackName)
	}
	if math.Abs(s.Duration-1) > 1e-3 {
		t.Errorf("duration = %v, want 1", s.Duration)
	}

	if _, err := c.Apply(ctx, Command{Op: OpTogglePlay, Deck: "A"}); err != nil {
		t.Fatal(err)
	}
	render(c, 10)
	if p := c.decks["A"].Position(); math.Abs(p-0.2) > 1e-9 {
		t.Errorf("position = %v, want 0.2", p)
	}
	if l, r := c.Bus().Levels(); l == 0 || r == 0 {
		t.Errorf("levels = %v/%v, want signal", l, r)
	}
}

func TestLoadFileDecodeFailure(t *testing.T) {
	c, dir := newConsole(t)
	path := filepath.Join(dir, "broken.wav")
	if err := os.WriteFile(path, []byte("not a wav"), 0o644); err != nil {
		t.Fatal(err)
	}
	err := c.LoadFile(context.Background(), "B", path)
	if !errors.Is(err, audio.ErrDecode) {
		t.Fatalf("err = %v, want ErrDecode", err)
	}
	if s := deckStatus(t, c, "B"); s.TrackName != deck.FailedTrackName {
		t.Errorf("track = %q, want %q", s.TrackName, deck.FailedTrackName)
	}
}

func TestLoadFileOutsideMusicDir(t *testing.T) {
	c, dir := newConsole(t)
	err := c.LoadFile(context.Background(), "A", filepath.Join(dir, "..", "elsewhere.wav"))
	if !errors.Is(err, ErrForbiddenPath) {
		t.Fatalf("err = %v, want ErrForbiddenPath", err)
	}
	if s := deckStatus(t, c, "A"); s.TrackName != "" {
		t.Errorf("track = %q, want untouched deck", s.TrackName)
	}
}

func TestLoadCancelledLeavesDeckEmpty(t *testing.T) {
	c, dir := newConsole(t)
	path := filepath.Join(dir, "loop.wav")
	writeWAV(t, path, 0.5)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.LoadFile(ctx, "A", path); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	s := deckStatus(t, c, "A")
	if s.TrackName != "" || s.Duration != 0 {
		t.Errorf("deck after cancelled load: %+v", s)
	}
}

func TestCancelledLoadLeavesNewerLoadAlone(t *testing.T) {
	c, _ := newConsole(t)
	d, _ := c.Deck("A")

	ctx, cancel := context.WithCancel(context.Background())
	var newer deck.LoadTicket
	err := c.load(ctx, d, "old.wav", func() (*audio.Track, error) {
		// A second request starts loading while this one decodes, then
		// this request's client disconnects.
		newer = d.BeginLoad("new.wav")
		cancel()
		return nil, ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if err := d.CompleteLoad(newer, audio.NewTrack("new.wav", make([][2]float64, audio.Frames(0.5)))); err != nil {
		t.Fatalf("newer load: %v", err)
	}
	if s := deckStatus(t, c, "A"); s.TrackName != "new.wav" {
		t.Errorf("track = %q, want new.wav", s.TrackName)
	}
}

func TestLoadUpload(t *testing.T) {
	c, dir := newConsole(t)
	path := filepath.Join(dir, "upload.wav")
	writeWAV(t, path, 0.25)
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.LoadUpload(context.Background(), "B", "set.wav", f); err != nil {
		t.Fatalf("LoadUpload: %v", err)
	}
	if s := deckStatus(t, c, "B"); s.TrackName != "set.wav" {
		t.Errorf("track = %q", s.TrackName)
	}
}

func TestScratchWithPointer(t *testing.T) {
	c, dir := newConsole(t)
	ctx := context.Background()
	path := filepath.Join(dir, "loop.wav")
	writeWAV(t, path, 2)
	if err := c.LoadFile(ctx, "A", path); err != nil {
		t.Fatal(err)
	}

	// Pointer starts due east of the centre and moves to due south (+90°
	// in screen coordinates).
	start := Command{Op: OpStartScratch, Deck: "A", Pointer: &Pointer{X: 110, Y: 100, CX: 100, CY: 100}}
	if _, err := c.Apply(ctx, start); err != nil {
		t.Fatal(err)
	}
	res, err := c.Apply(ctx, Command{Op: OpScratchMove, Deck: "A", Pointer: &Pointer{X: 100, Y: 110, CX: 100, CY: 100}})
	if err != nil {
		t.Fatal(err)
	}
	want := deck.ScrubSeconds(deck.ScaleDelta(90, deck.DefaultSensitivity), deck.DefaultScrubSecondsPerTurn)
	if res.Playhead == nil || math.Abs(*res.Playhead-want) > 1e-9 {
		t.Fatalf("playhead = %v, want %v", res.Playhead, want)
	}
	if !deckStatus(t, c, "A").Scratching {
		t.Error("deck not scratching")
	}
	if _, err := c.Apply(ctx, Command{Op: OpStopScratch, Deck: "A"}); err != nil {
		t.Fatal(err)
	}
	if deckStatus(t, c, "A").Scratching {
		t.Error("deck still scratching after stop")
	}
}

func TestGestureEndsOnContextCancel(t *testing.T) {
	c, dir := newConsole(t)
	path := filepath.Join(dir, "loop.wav")
	writeWAV(t, path, 1)
	if err := c.LoadFile(context.Background(), "B", path); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	g, err := c.BeginGesture(ctx, "B", 0)
	if err != nil {
		t.Fatal(err)
	}
	cancel()
	<-g.Done()
	if deckStatus(t, c, "B").Scratching {
		t.Error("gesture left the deck scratching")
	}
}

func TestMasterPitchAndEQCommands(t *testing.T) {
	c, _ := newConsole(t)
	ctx := context.Background()
	cmds := []Command{
		{Op: OpSetMaster, Value: 40},
		{Op: OpSetPitch, Deck: "A", Value: 6},
		{Op: OpSetVolume, Deck: "A", Value: 55},
		{Op: OpSetEQ, Deck: "A", Band: "low", Value: 20},
		{Op: OpStartBend, Deck: "A", Direction: 1},
	}
	for _, cmd := range cmds {
		if _, err := c.Apply(ctx, cmd); err != nil {
			t.Fatalf("%s: %v", cmd.Op, err)
		}
	}
	res, err := c.Apply(ctx, Command{Op: OpCyclePitchRange, Deck: "A"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Range != 16 {
		t.Errorf("range = %d, want 16", res.Range)
	}

	s := c.Status()
	a := s.Decks[0]
	if s.MasterVolume != 40 || a.Pitch != 6 || a.Volume != 55 || a.EQ.Low != 20 || a.PitchBend != 1 {
		t.Errorf("status = %+v", s)
	}
	if math.Abs(a.Rate-(1.06+deck.DefaultBendMagnitude)) > 1e-12 {
		t.Errorf("rate = %v", a.Rate)
	}

	for _, op := range []string{OpStopBend, OpResetPitch} {
		if _, err := c.Apply(ctx, Command{Op: op, Deck: "A"}); err != nil {
			t.Fatal(err)
		}
	}
	if a := c.Status().Decks[0]; a.Rate != 1 {
		t.Errorf("rate after reset = %v, want 1", a.Rate)
	}
}

func TestSpectrumLength(t *testing.T) {
	c, _ := newConsole(t)
	if n := len(c.Spectrum()); n != c.Analyzer().FrequencyBinCount() {
		t.Errorf("spectrum bins = %d", n)
	}
}
