package audio

import (
	"time"

	"github.com/gopxl/beep/v2"
)

const (
	SampleRate    = 48000
	Channels      = 2
	BitDepth      = 16
	FrameDuration = 20 * time.Millisecond
	FrameSize     = 960                  // samples per channel per 20ms frame
	FrameSamples  = FrameSize * Channels // total interleaved samples per frame
	FrameBytes    = FrameSamples * 2     // bytes per frame (int16 = 2 bytes)
)

// Format is the in-memory format every decoded track is converted to.
var Format = beep.Format{
	SampleRate:  SampleRate,
	NumChannels: Channels,
	Precision:   BitDepth / 8,
}

// Seconds converts a sample count at SampleRate to seconds.
func Seconds(frames int) float64 {
	return float64(frames) / SampleRate
}

// Frames converts seconds to a sample count at SampleRate, rounding down.
func Frames(seconds float64) int {
	return int(seconds * SampleRate)
}
