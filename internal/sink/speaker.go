// Package sink plays the master mix on the local sound card.
package sink

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/gordonklaus/portaudio"

	"github.com/satindergrewal/turntable/internal/audio"
	"github.com/satindergrewal/turntable/internal/stream"
)

// Speaker writes broadcast frames to the default output device using a
// blocking PortAudio stream.
type Speaker struct {
	buf    []int16
	stream *portaudio.Stream
	write  func() error
}

// Open initialises PortAudio and opens the default output at the engine
// format.
func Open() (*Speaker, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init: %w", err)
	}
	s := &Speaker{buf: make([]int16, audio.FrameSamples)}
	st, err := portaudio.OpenDefaultStream(0, audio.Channels, audio.SampleRate, audio.FrameSize, &s.buf)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("open output stream: %w", err)
	}
	if err := st.Start(); err != nil {
		st.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("start output stream: %w", err)
	}
	s.stream = st
	s.write = st.Write
	return s, nil
}

// Run plays frames from l until ctx is cancelled or l is unsubscribed.
func (s *Speaker) Run(ctx context.Context, l *stream.Listener) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.Done():
			return nil
		case frame := <-l.C:
			copy(s.buf, frame)
			if err := s.write(); err != nil {
				// An underflow means we were late; the next frame recovers.
				if errors.Is(err, portaudio.OutputUnderflowed) {
					continue
				}
				return fmt.Errorf("speaker write: %w", err)
			}
		}
	}
}

// Close stops the device.
func (s *Speaker) Close() error {
	if s.stream == nil {
		return nil
	}
	err := s.stream.Stop()
	if cerr := s.stream.Close(); err == nil {
		err = cerr
	}
	if terr := portaudio.Terminate(); err == nil {
		err = terr
	}
	if err != nil {
		log.Printf("Speaker close: %v", err)
	}
	return err
}

// Serve plays the mix from b on the speaker returned by open until ctx ends.
// A missing or failing device only stops local playback; it never fails the
// caller, so the network streams keep running.
func Serve(ctx context.Context, b *stream.Broadcaster, open func() (*Speaker, error)) {
	spk, err := open()
	if err != nil {
		log.Printf("Speaker unavailable, continuing without local output: %v", err)
		return
	}
	defer spk.Close()
	l := b.Subscribe("speaker", stream.DefaultBuffer)
	defer b.Unsubscribe(l)
	log.Println("Speaker output started")
	if err := spk.Run(ctx, l); err != nil {
		log.Printf("Speaker stopped, continuing without local output: %v", err)
	}
}
