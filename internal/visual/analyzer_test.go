package visual

import (
	"math"
	"testing"
)

func sine(freq float64, n int) [][2]float64 {
	s := make([][2]float64, n)
	for i := range s {
		v := 0.5 * math.Sin(2*math.Pi*freq*float64(i)/48000)
		s[i] = [2]float64{v, v}
	}
	return s
}

func TestNewAnalyzerRejectsBadSizes(t *testing.T) {
	for _, n := range []int{0, 16, 100, 65536} {
		if _, err := NewAnalyzer(n); err == nil {
			t.Errorf("NewAnalyzer(%d) should fail", n)
		}
	}
	a, err := NewAnalyzer(DefaultFFTSize)
	if err != nil {
		t.Fatalf("NewAnalyzer(%d): %v", DefaultFFTSize, err)
	}
	if a.FrequencyBinCount() != 128 {
		t.Errorf("bins = %d, want 128", a.FrequencyBinCount())
	}
}

func TestSilenceMapsToZero(t *testing.T) {
	a, _ := NewAnalyzer(256)
	a.Write(make([][2]float64, 512))
	for i, b := range a.ByteFrequencyData() {
		if b != 0 {
			t.Fatalf("bin %d = %d for silence", i, b)
		}
	}
}

func TestSinePeaksInItsBin(t *testing.T) {
	a, _ := NewAnalyzer(256)
	// Bin width is 48000/256 = 187.5 Hz; 3000 Hz lands on bin 16.
	a.Write(sine(3000, 256))

	var db []float64
	for range 30 {
		db = a.FloatFrequencyData()
	}
	peak := 0
	for i := range db {
		if db[i] > db[peak] {
			peak = i
		}
	}
	if peak != 16 {
		t.Errorf("peak bin = %d, want 16", peak)
	}
}

func TestSmoothingRises(t *testing.T) {
	a, _ := NewAnalyzer(256)
	a.Write(sine(3000, 256))
	first := a.FloatFrequencyData()[16]
	second := a.FloatFrequencyData()[16]
	if second <= first {
		t.Errorf("smoothed level did not rise: %v then %v", first, second)
	}
}

func TestToByte(t *testing.T) {
	tests := []struct {
		db   float64
		want byte
	}{
		{math.Inf(-1), 0},
		{-120, 0},
		{-100, 0},
		{-65, 127},
		{-30, 255},
		{0, 255},
	}
	for _, tt := range tests {
		if got := ToByte(tt.db); got != tt.want {
			t.Errorf("ToByte(%v) = %d, want %d", tt.db, got, tt.want)
		}
	}
}
