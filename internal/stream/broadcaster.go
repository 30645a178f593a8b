// Package stream fans the rendered master mix out to monitor listeners:
// chunked MP3 over HTTP, Opus over WebRTC, and the recorder.
package stream

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/satindergrewal/turntable/internal/observe"
)

// DefaultBuffer is about three seconds of 20ms frames.
const DefaultBuffer = 150

// Broadcaster fans out PCM frames from the mixer bus to N listeners.
type Broadcaster struct {
	metrics *observe.Metrics
	nextID  atomic.Int64

	mu        sync.RWMutex
	listeners map[*Listener]struct{}
}

// Listener receives PCM frames from the broadcaster.
type Listener struct {
	C    chan []int16 // buffered channel of 20ms PCM frames
	ID   string
	Kind string

	dropped atomic.Int64
	done    chan struct{}
	once    sync.Once
}

// Done is closed when the listener is unsubscribed.
func (l *Listener) Done() <-chan struct{} {
	return l.done
}

// Dropped returns how many frames this listener missed for being slow.
func (l *Listener) Dropped() int64 {
	return l.dropped.Load()
}

// NewBroadcaster creates a broadcaster. A nil m uses the default instruments.
func NewBroadcaster(m *observe.Metrics) *Broadcaster {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Broadcaster{
		metrics:   m,
		listeners: make(map[*Listener]struct{}),
	}
}

// Subscribe registers a listener of the given kind ("http", "webrtc",
// "recorder") holding up to buffer frames.
func (b *Broadcaster) Subscribe(kind string, buffer int) *Listener {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	l := &Listener{
		C:    make(chan []int16, buffer),
		ID:   fmt.Sprintf("%s-%d", kind, b.nextID.Add(1)),
		Kind: kind,
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.listeners[l] = struct{}{}
	b.mu.Unlock()
	b.metrics.Listeners.Add(context.Background(), 1, metric.WithAttributes(attribute.String("kind", kind)))
	return l
}

// Unsubscribe removes a listener and signals it to stop. Safe to call twice.
func (b *Broadcaster) Unsubscribe(l *Listener) {
	l.once.Do(func() {
		b.mu.Lock()
		delete(b.listeners, l)
		b.mu.Unlock()
		close(l.done)
		b.metrics.Listeners.Add(context.Background(), -1, metric.WithAttributes(attribute.String("kind", l.Kind)))
	})
}

// ListenerCount returns the number of active listeners.
func (b *Broadcaster) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Run reads frames from source and fans out to all listeners.
// Slow listeners get frames dropped rather than blocking the broadcast.
func (b *Broadcaster) Run(ctx context.Context, source <-chan []int16) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-source:
			if !ok {
				return
			}
			b.mu.RLock()
			for l := range b.listeners {
				select {
				case l.C <- frame:
				default:
					l.dropped.Add(1)
					b.metrics.DroppedFrames.Add(ctx, 1, metric.WithAttributes(attribute.String("listener", l.Kind)))
				}
			}
			b.mu.RUnlock()
		}
	}
}
