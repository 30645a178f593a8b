// Package observe holds the OpenTelemetry instruments of the console and the
// Prometheus bridge that exposes them on /metrics.
//
// Components take a *Metrics; tests build one with NewMetrics on a private
// MeterProvider, everything else falls back to DefaultMetrics, which is a
// no-op until InitProvider installs the real provider.
package observe

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/satindergrewal/turntable"

// Metrics holds every instrument the console records.
type Metrics struct {
	// Voices tracks live playback voices. Attribute: deck.
	Voices metric.Int64UpDownCounter
	// VoiceStarts counts voices created. Attribute: deck.
	VoiceStarts metric.Int64Counter
	// Scratches counts scratch gestures. Attribute: deck.
	Scratches metric.Int64Counter
	// ScratchMoves counts pointer samples applied to a scratch. Attribute: deck.
	ScratchMoves metric.Int64Counter
	// TrackLoads counts finished loads. Attributes: deck, ok.
	TrackLoads metric.Int64Counter
	// TrackLoadDuration tracks decode time.
	TrackLoadDuration metric.Float64Histogram

	// FramesRendered counts sample frames produced by the bus.
	FramesRendered metric.Int64Counter
	// RenderDuration tracks how long one bus frame takes to render.
	RenderDuration metric.Float64Histogram

	// DroppedFrames counts frames a slow listener missed. Attribute: listener.
	DroppedFrames metric.Int64Counter
	// Listeners tracks connected monitor listeners. Attribute: kind.
	Listeners metric.Int64UpDownCounter
	// ActiveRecordings is 1 while the recorder is capturing.
	ActiveRecordings metric.Int64UpDownCounter

	// HTTPRequestDuration tracks request latency. Attributes: method, path.
	HTTPRequestDuration metric.Float64Histogram
}

var renderBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.02,
}

var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates the instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Voices, err = m.Int64UpDownCounter("turntable.deck.voices",
		metric.WithDescription("Live playback voices per deck."),
	); err != nil {
		return nil, err
	}
	if met.VoiceStarts, err = m.Int64Counter("turntable.deck.voice_starts",
		metric.WithDescription("Playback voices created per deck."),
	); err != nil {
		return nil, err
	}
	if met.Scratches, err = m.Int64Counter("turntable.deck.scratches",
		metric.WithDescription("Scratch gestures per deck."),
	); err != nil {
		return nil, err
	}
	if met.ScratchMoves, err = m.Int64Counter("turntable.deck.scratch_moves",
		metric.WithDescription("Pointer samples applied to scratches per deck."),
	); err != nil {
		return nil, err
	}
	if met.TrackLoads, err = m.Int64Counter("turntable.deck.loads",
		metric.WithDescription("Track loads by deck and outcome."),
	); err != nil {
		return nil, err
	}
	if met.TrackLoadDuration, err = m.Float64Histogram("turntable.deck.load.duration",
		metric.WithDescription("Time spent decoding a track."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.FramesRendered, err = m.Int64Counter("turntable.render.frames",
		metric.WithDescription("Sample frames rendered by the mixer bus."),
	); err != nil {
		return nil, err
	}
	if met.RenderDuration, err = m.Float64Histogram("turntable.render.duration",
		metric.WithDescription("Time to render one output frame."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(renderBuckets...),
	); err != nil {
		return nil, err
	}

	if met.DroppedFrames, err = m.Int64Counter("turntable.stream.dropped_frames",
		metric.WithDescription("Frames dropped for slow listeners."),
	); err != nil {
		return nil, err
	}
	if met.Listeners, err = m.Int64UpDownCounter("turntable.stream.listeners",
		metric.WithDescription("Connected monitor listeners by kind."),
	); err != nil {
		return nil, err
	}
	if met.ActiveRecordings, err = m.Int64UpDownCounter("turntable.recordings.active",
		metric.WithDescription("Recordings in progress."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("turntable.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the instruments bound to the global MeterProvider.
// Instruments created before InitProvider forward to it once installed.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}
