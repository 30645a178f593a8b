// Package console assembles the decks, the mixer bus and its taps into one
// mixing console and exposes the command set the control surfaces use.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/satindergrewal/turntable/internal/audio"
	"github.com/satindergrewal/turntable/internal/config"
	"github.com/satindergrewal/turntable/internal/deck"
	"github.com/satindergrewal/turntable/internal/graph"
	"github.com/satindergrewal/turntable/internal/mixer"
	"github.com/satindergrewal/turntable/internal/observe"
	"github.com/satindergrewal/turntable/internal/record"
	"github.com/satindergrewal/turntable/internal/visual"
)

var (
	ErrUnknownDeck    = errors.New("unknown deck")
	ErrUnknownCommand = errors.New("unknown command")
	ErrBadCommand     = errors.New("bad command")
	ErrForbiddenPath  = errors.New("path outside music dir")
	ErrNoRecorder     = errors.New("recording not available")
)

// Console is the whole mixing desk.
type Console struct {
	clock    *audio.SampleClock
	bus      *mixer.Bus
	decks    map[string]*deck.Deck
	order    []string
	analyzer *visual.Analyzer
	recorder *record.Recorder
	musicDir string
	metrics  *observe.Metrics
}

// New builds the console described by cfg. rec may be nil when recording is
// not wired up.
func New(cfg config.Config, rec *record.Recorder, m *observe.Metrics) (*Console, error) {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	an, err := visual.NewAnalyzer(cfg.FFTSize)
	if err != nil {
		return nil, err
	}
	clock := &audio.SampleClock{}
	c := &Console{
		clock:    clock,
		bus:      mixer.NewBus(clock, mixer.WithMasterVolume(cfg.MasterVolume), mixer.WithRamp(cfg.Ramp), mixer.WithMetrics(m)),
		decks:    make(map[string]*deck.Deck, len(cfg.Decks)),
		analyzer: an,
		recorder: rec,
		musicDir: cfg.MusicDir,
		metrics:  m,
	}
	c.bus.AddTap(an)
	for _, id := range cfg.Decks {
		if _, dup := c.decks[id]; dup {
			return nil, fmt.Errorf("duplicate deck %q", id)
		}
		c.decks[id] = deck.New(id, clock, c.bus,
			deck.WithVolume(cfg.DeckVolume),
			deck.WithRamp(cfg.Ramp),
			deck.WithBendMagnitude(cfg.BendMagnitude),
			deck.WithScrub(cfg.ScrubSecondsPerTurn),
			deck.WithSensitivity(cfg.ScratchSensitivity),
			deck.WithMetrics(m),
		)
		c.order = append(c.order, id)
	}
	return c, nil
}

// Bus returns the mixer bus.
func (c *Console) Bus() *mixer.Bus { return c.bus }

// Analyzer returns the spectrum tap.
func (c *Console) Analyzer() *visual.Analyzer { return c.analyzer }

// Run drives the render loop until ctx is cancelled.
func (c *Console) Run(ctx context.Context) {
	c.bus.Run(ctx)
}

// Deck looks a deck up by id.
func (c *Console) Deck(id string) (*deck.Deck, error) {
	d, ok := c.decks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDeck, id)
	}
	return d, nil
}

// DeckIDs returns the deck ids in configuration order.
func (c *Console) DeckIDs() []string {
	return append([]string(nil), c.order...)
}

// LoadFile decodes the file at path onto deck id. A cancelled ctx abandons
// the load and leaves the deck empty.
func (c *Console) LoadFile(ctx context.Context, id, path string) error {
	d, err := c.Deck(id)
	if err != nil {
		return err
	}
	if err := c.checkPath(path); err != nil {
		return err
	}
	return c.load(ctx, d, filepath.Base(path), func() (*audio.Track, error) {
		return audio.DecodeFile(ctx, path)
	})
}

// LoadUpload decodes an uploaded file onto deck id. rc is closed.
func (c *Console) LoadUpload(ctx context.Context, id, name string, rc io.ReadCloser) error {
	d, err := c.Deck(id)
	if err != nil {
		rc.Close()
		return err
	}
	return c.load(ctx, d, name, func() (*audio.Track, error) {
		return audio.Decode(ctx, name, rc)
	})
}

func (c *Console) load(ctx context.Context, d *deck.Deck, name string, decode func() (*audio.Track, error)) error {
	start := time.Now()
	ticket := d.BeginLoad(name)
	tr, err := decode()
	c.metrics.TrackLoadDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("deck", d.ID())))

	if ctx.Err() != nil {
		d.CancelLoad(ticket)
		return ctx.Err()
	}
	if err != nil {
		d.FailLoad(ticket, err)
		return err
	}
	if err := d.CompleteLoad(ticket, tr); err != nil {
		return err
	}
	return nil
}

func (c *Console) checkPath(path string) error {
	if c.musicDir == "" {
		return nil
	}
	root, err := filepath.Abs(c.musicDir)
	if err != nil {
		return err
	}
	p, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w: %s", ErrForbiddenPath, path)
	}
	return nil
}

// BeginGesture starts a scratch gesture on deck id.
func (c *Console) BeginGesture(ctx context.Context, id string, angle float64) (*deck.Gesture, error) {
	d, err := c.Deck(id)
	if err != nil {
		return nil, err
	}
	return d.BeginGesture(ctx, angle)
}

// StartRecording begins capturing the master mix.
func (c *Console) StartRecording() (string, error) {
	if c.recorder == nil {
		return "", ErrNoRecorder
	}
	return c.recorder.Start()
}

// StopRecording finalises the capture and returns the file path.
func (c *Console) StopRecording() (string, error) {
	if c.recorder == nil {
		return "", ErrNoRecorder
	}
	return c.recorder.Stop()
}

// LastRecording returns the most recently saved mix, or "".
func (c *Console) LastRecording() string {
	if c.recorder == nil {
		return ""
	}
	return c.recorder.LastPath()
}

// RecordingStatus describes the recorder for display.
type RecordingStatus struct {
	Available bool    `json:"available"`
	Active    bool    `json:"active"`
	Elapsed   float64 `json:"elapsed"`
	LastPath  string  `json:"last_path,omitempty"`
}

// Status is the snapshot control clients render.
type Status struct {
	Decks        []deck.Status   `json:"decks"`
	MasterVolume float64         `json:"master_volume"`
	Levels       [2]float64      `json:"levels"`
	Clock        float64         `json:"clock"`
	Recording    RecordingStatus `json:"recording"`
}

// Status returns a snapshot of every deck and the master section.
func (c *Console) Status() Status {
	s := Status{
		Decks:        make([]deck.Status, 0, len(c.order)),
		MasterVolume: c.bus.MasterVolume(),
		Clock:        c.clock.Now(),
	}
	for _, id := range c.order {
		s.Decks = append(s.Decks, c.decks[id].Status())
	}
	s.Levels[0], s.Levels[1] = c.bus.Levels()
	if c.recorder != nil {
		s.Recording = RecordingStatus{
			Available: true,
			Active:    c.recorder.Active(),
			Elapsed:   c.recorder.Elapsed().Seconds(),
			LastPath:  c.recorder.LastPath(),
		}
	}
	return s
}

// Spectrum returns the current byte spectrum of the master mix.
func (c *Console) Spectrum() []byte {
	return c.analyzer.ByteFrequencyData()
}

// SetEQ parses band and applies v to deck id.
func (c *Console) SetEQ(id, band string, v float64) error {
	d, err := c.Deck(id)
	if err != nil {
		return err
	}
	b, err := graph.ParseBand(band)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadCommand, err)
	}
	d.SetEQ(b, v)
	return nil
}
