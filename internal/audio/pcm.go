package audio

import "encoding/binary"

// ToInt16 converts float stereo samples in [-1, 1] to interleaved int16,
// clipping anything outside the range. dst must hold 2*len(src) samples.
func ToInt16(dst []int16, src [][2]float64) {
	for i, s := range src {
		dst[2*i] = clip16(s[0])
		dst[2*i+1] = clip16(s[1])
	}
}

func clip16(v float64) int16 {
	v *= 32768
	// Clip to int16 range
	if v > 32767 {
		return 32767
	} else if v < -32768 {
		return -32768
	}
	return int16(v)
}

// SamplesToBytes converts int16 samples to little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}
