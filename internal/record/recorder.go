// Package record captures the master mix to WAV files.
package record

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/satindergrewal/turntable/internal/audio"
	"github.com/satindergrewal/turntable/internal/observe"
	"github.com/satindergrewal/turntable/internal/stream"
)

var (
	// ErrRecording is returned by Start while a recording is in progress.
	ErrRecording = errors.New("already recording")
	// ErrNotRecording is returned by Stop when nothing is being recorded.
	ErrNotRecording = errors.New("not recording")
)

// recordBuffer holds about ten seconds of frames so a slow disk does not
// drop audio.
const recordBuffer = 500

const maxNameAttempts = 100

// Recorder writes the broadcast mix to 16-bit stereo WAV files, one file
// per Start/Stop pair.
type Recorder struct {
	b       *stream.Broadcaster
	dir     string
	metrics *observe.Metrics
	now     func() time.Time

	mu       sync.Mutex
	cur      *session
	lastPath string
}

type session struct {
	path   string
	f      *os.File
	enc    *wav.Encoder
	l      *stream.Listener
	frames atomic.Int64
	done   chan struct{}
	err    error
}

// New creates a recorder writing into dir.
func New(b *stream.Broadcaster, dir string, m *observe.Metrics) *Recorder {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Recorder{b: b, dir: dir, metrics: m, now: time.Now}
}

// Start begins capturing and returns the file path being written.
func (r *Recorder) Start() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur != nil {
		return "", ErrRecording
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", fmt.Errorf("create record dir: %w", err)
	}
	f, path, err := createUnique(r.dir, "mix-"+r.now().Format("20060102-150405"))
	if err != nil {
		return "", fmt.Errorf("create recording: %w", err)
	}

	s := &session{
		path: path,
		f:    f,
		enc:  wav.NewEncoder(f, audio.SampleRate, audio.BitDepth, audio.Channels, 1),
		l:    r.b.Subscribe("recorder", recordBuffer),
		done: make(chan struct{}),
	}
	r.cur = s
	go s.run()
	r.metrics.ActiveRecordings.Add(context.Background(), 1)
	log.Printf("Recording started: %s", path)
	return path, nil
}

// createUnique creates base.wav in dir, or base-2.wav, base-3.wav and so on
// when earlier mixes from the same second exist. It never truncates a file.
func createUnique(dir, base string) (*os.File, string, error) {
	for i := 1; i <= maxNameAttempts; i++ {
		name := base + ".wav"
		if i > 1 {
			name = fmt.Sprintf("%s-%d.wav", base, i)
		}
		path := filepath.Join(dir, name)
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		return f, path, err
	}
	return nil, "", fmt.Errorf("%s: %d names taken", base, maxNameAttempts)
}

func (s *session) run() {
	defer close(s.done)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: audio.Channels, SampleRate: audio.SampleRate},
		SourceBitDepth: audio.BitDepth,
	}
	write := func(frame []int16) {
		if s.err != nil {
			return
		}
		buf.Data = buf.Data[:0]
		for _, v := range frame {
			buf.Data = append(buf.Data, int(v))
		}
		if err := s.enc.Write(buf); err != nil {
			s.err = err
			return
		}
		s.frames.Add(int64(len(frame) / audio.Channels))
	}

	for {
		select {
		case frame := <-s.l.C:
			write(frame)
		case <-s.l.Done():
			for {
				select {
				case frame := <-s.l.C:
					write(frame)
				default:
					return
				}
			}
		}
	}
}

// Stop finalises the current file and returns its path.
func (r *Recorder) Stop() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.cur
	if s == nil {
		return "", ErrNotRecording
	}
	r.cur = nil
	r.b.Unsubscribe(s.l)
	<-s.done
	r.metrics.ActiveRecordings.Add(context.Background(), -1)

	err := s.err
	if cerr := s.enc.Close(); err == nil {
		err = cerr
	}
	if cerr := s.f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("finalise recording %s: %w", s.path, err)
	}
	r.lastPath = s.path
	log.Printf("Recording saved: %s (%.1fs)", s.path, audio.Seconds(int(s.frames.Load())))
	return s.path, nil
}

// Active reports whether a recording is in progress.
func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cur != nil
}

// Elapsed returns how much audio the current recording holds.
func (r *Recorder) Elapsed() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur == nil {
		return 0
	}
	return time.Duration(r.cur.frames.Load()) * time.Second / audio.SampleRate
}

// LastPath returns the most recently saved recording, or "".
func (r *Recorder) LastPath() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastPath
}
