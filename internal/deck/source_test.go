package deck

import (
	"math"
	"testing"
)

func TestRetireTwiceInOneBlockFadesBoth(t *testing.T) {
	tr := tone("t", 1)
	src := &source{}
	buf := make([][2]float64, 960)

	first := newVoice(tr, 0, 1, nil)
	src.play(first)
	src.Stream(buf)

	// pause, play, pause before the render loop runs again
	src.retire(first)
	first.Stop()
	second := newVoice(tr, 0, 1, nil)
	src.play(second)
	src.retire(second)
	second.Stop()

	if p := src.voices.Load(); p.current != nil || len(p.fading) != 2 {
		t.Fatalf("after two retires: current=%v fading=%d", p.current, len(p.fading))
	}
	src.Stream(buf)
	if first.tail != declickLen || second.tail != declickLen {
		t.Errorf("fade tails = %d, %d, want %d each", first.tail, second.tail, declickLen)
	}
	if p := src.voices.Load(); len(p.fading) != 0 {
		t.Errorf("%d voices still fading after their tails", len(p.fading))
	}
}

func TestRetireKeepsBoundedTails(t *testing.T) {
	tr := tone("t", 1)
	src := &source{}
	var last *Voice
	for range maxFading + 3 {
		last = newVoice(tr, 0, 1, nil)
		src.play(last)
		src.retire(last)
	}
	p := src.voices.Load()
	if len(p.fading) != maxFading {
		t.Fatalf("fading = %d, want %d", len(p.fading), maxFading)
	}
	if p.fading[maxFading-1] != last {
		t.Error("newest retired voice was not kept")
	}
	src.drop(last)
	if p := src.voices.Load(); len(p.fading) != maxFading-1 {
		t.Errorf("fading after drop = %d", len(p.fading))
	}
}

func TestScrubReleaseFadesOut(t *testing.T) {
	d, _ := newDeck(t)
	d.Load(tone("t", 5))
	d.StartScratch(0)

	buf := make([][2]float64, 256)
	d.Output().Stream(buf)
	d.ScratchMove(20)
	d.Output().Stream(buf)

	d.StopScratch()
	d.Output().Stream(buf)
	var energy float64
	for _, s := range buf[:64] {
		energy += s[0] * s[0]
	}
	if energy == 0 {
		t.Error("release cut the scrub off without a tail")
	}
	if last := buf[len(buf)-1][0]; math.Abs(last) > 1e-9 {
		t.Errorf("release block ends at %v, want 0", last)
	}

	d.Output().Stream(buf)
	for i, s := range buf {
		if math.Abs(s[0]) > 1e-9 {
			t.Fatalf("sound after release at %d: %v", i, s[0])
		}
	}
}
