package sink

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/satindergrewal/turntable/internal/audio"
	"github.com/satindergrewal/turntable/internal/stream"
)

func fakeSpeaker(write func(buf []int16) error) *Speaker {
	s := &Speaker{buf: make([]int16, audio.FrameSamples)}
	s.write = func() error { return write(s.buf) }
	return s
}

func TestRunCopiesFrames(t *testing.T) {
	b := stream.NewBroadcaster(nil)
	l := b.Subscribe("speaker", 4)

	got := make(chan int16, 4)
	s := fakeSpeaker(func(buf []int16) error {
		got <- buf[0]
		return nil
	})
	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background(), l) }()

	f := make([]int16, audio.FrameSamples)
	f[0] = 1234
	l.C <- f

	select {
	case v := <-got:
		if v != 1234 {
			t.Errorf("speaker wrote %d, want 1234", v)
		}
	case <-time.After(time.Second):
		t.Fatal("frame never written")
	}

	b.Unsubscribe(l)
	if err := <-done; err != nil {
		t.Errorf("Run = %v", err)
	}
}

func TestRunToleratesUnderflow(t *testing.T) {
	b := stream.NewBroadcaster(nil)
	l := b.Subscribe("speaker", 4)
	calls := 0
	s := fakeSpeaker(func([]int16) error {
		calls++
		if calls == 1 {
			return portaudio.OutputUnderflowed
		}
		return errors.New("device gone")
	})
	l.C <- make([]int16, audio.FrameSamples)
	l.C <- make([]int16, audio.FrameSamples)

	err := s.Run(context.Background(), l)
	if err == nil || calls != 2 {
		t.Errorf("Run = %v after %d writes, want device error after 2", err, calls)
	}
}

func TestCloseWithoutDevice(t *testing.T) {
	if err := (&Speaker{}).Close(); err != nil {
		t.Errorf("Close = %v", err)
	}
}

func TestServeSurvivesDeviceFailure(t *testing.T) {
	b := stream.NewBroadcaster(nil)
	src := make(chan []int16, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx, src)

	open := func() (*Speaker, error) {
		return fakeSpeaker(func([]int16) error { return errors.New("device unplugged") }), nil
	}
	done := make(chan struct{})
	go func() {
		Serve(ctx, b, open)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for b.ListenerCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("speaker never subscribed")
		case <-time.After(time.Millisecond):
		}
	}
	src <- make([]int16, audio.FrameSamples)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after the device failed")
	}
	if ctx.Err() != nil {
		t.Error("device failure cancelled the caller")
	}
	if n := b.ListenerCount(); n != 0 {
		t.Errorf("listeners after failure = %d, want 0", n)
	}
}

func TestServeWithoutDevice(t *testing.T) {
	b := stream.NewBroadcaster(nil)
	Serve(context.Background(), b, func() (*Speaker, error) {
		return nil, errors.New("no output device")
	})
	if n := b.ListenerCount(); n != 0 {
		t.Errorf("listeners = %d, want 0", n)
	}
}
