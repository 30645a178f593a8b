package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/vorbis"
	"github.com/gopxl/beep/v2/wav"
)

// ErrDecode marks every failure to turn a file payload into a Track.
var ErrDecode = errors.New("decode failed")

// resampleQuality is passed to beep.Resample when a file is not at SampleRate.
const resampleQuality = 4

// DecodeFile decodes the audio file at path into a Track named after the file.
func DecodeFile(ctx context.Context, path string) (*Track, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrDecode, path, err)
	}
	return Decode(ctx, filepath.Base(path), f)
}

// Decode reads an encoded payload and returns it as a Track. The decoder is
// chosen by the extension of name; anything beep cannot read natively is
// handed to FFmpeg. rc is always closed.
func Decode(ctx context.Context, name string, rc io.ReadCloser) (*Track, error) {
	var (
		s      beep.StreamSeekCloser
		format beep.Format
		err    error
	)
	switch strings.ToLower(filepath.Ext(name)) {
	case ".wav":
		s, format, err = wav.Decode(rc)
	case ".mp3":
		s, format, err = mp3.Decode(rc)
	case ".flac":
		s, format, err = flac.Decode(rc)
	case ".ogg", ".oga":
		s, format, err = vorbis.Decode(rc)
	default:
		defer rc.Close()
		return decodeFFmpeg(ctx, name, rc)
	}
	if err != nil {
		rc.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrDecode, name, err)
	}
	defer s.Close()

	var src beep.Streamer = s
	if format.SampleRate != SampleRate {
		src = beep.Resample(resampleQuality, format.SampleRate, SampleRate, s)
	}

	samples, err := readAll(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecode, name, err)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: %s: no audio", ErrDecode, name)
	}
	return NewTrack(name, samples), nil
}

// readAll drains a streamer into memory, checking ctx between chunks.
func readAll(ctx context.Context, s beep.Streamer) ([][2]float64, error) {
	var out [][2]float64
	chunk := make([][2]float64, SampleRate)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, ok := s.Stream(chunk)
		out = append(out, chunk[:n]...)
		if !ok {
			break
		}
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// decodeFFmpeg pipes the payload through FFmpeg to raw s16le at SampleRate.
func decodeFFmpeg(ctx context.Context, name string, r io.Reader) (*Track, error) {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", "pipe:0",
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", "48000",
		"-ac", "2",
		"-loglevel", "error",
		"pipe:1",
	)
	cmd.Stdin = r

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%w: ffmpeg %s: %v", ErrDecode, name, err)
	}

	frames := len(out) / (Channels * 2)
	if frames == 0 {
		return nil, fmt.Errorf("%w: %s: no audio", ErrDecode, name)
	}

	samples := make([][2]float64, frames)
	for i := range samples {
		off := i * Channels * 2
		samples[i][0] = float64(int16(binary.LittleEndian.Uint16(out[off:]))) / 32768
		samples[i][1] = float64(int16(binary.LittleEndian.Uint16(out[off+2:]))) / 32768
	}
	return NewTrack(name, samples), nil
}
