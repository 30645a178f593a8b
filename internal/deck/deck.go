// Package deck implements one turntable: its transport state machine,
// pitch control and scratch gestures. All position math runs off a shared
// audio.Clock so it agrees with what the render loop has produced.
package deck

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gopxl/beep/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/satindergrewal/turntable/internal/audio"
	"github.com/satindergrewal/turntable/internal/graph"
	"github.com/satindergrewal/turntable/internal/observe"
)

var (
	// ErrNoTrack is returned by transport operations on an empty deck.
	ErrNoTrack = errors.New("no track loaded")
	// ErrStaleLoad is returned when a load completes after a newer one began.
	ErrStaleLoad = errors.New("load superseded")
)

// Display names shown while a deck has no usable track.
const (
	LoadingTrackName = "Loading..."
	FailedTrackName  = "Failed to load track"
)

// Pitch limits.
const (
	MaxPitchPercent      = 50.0
	DefaultBendMagnitude = 0.05
	DefaultVolume        = 80.0
	// MinRate is the slowest a voice ever plays.
	MinRate = 0.01
)

// PitchRanges are the fader ranges CyclePitchRange steps through.
var PitchRanges = []int{8, 16, 50}

// State is the transport state of a deck.
type State int

const (
	Stopped State = iota
	Playing
	Paused
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// EQState holds the normalised 0..100 EQ levels of a deck.
type EQState struct {
	Low  float64 `json:"low"`
	Mid  float64 `json:"mid"`
	High float64 `json:"high"`
}

// DeckState is the transport record that position math works from.
type DeckState struct {
	IsPlaying              bool
	IsScratching           bool
	PitchPercent           float64
	PitchBend              int
	PitchRange             int
	PausedAtSeconds        float64
	PlaybackStartWallClock float64
}

// EffectiveRate is 1 + pitch/100 + bend*bendMagnitude.
func EffectiveRate(pitchPercent float64, bend int, bendMagnitude float64) float64 {
	return 1 + pitchPercent/100 + float64(bend)*bendMagnitude
}

// Option configures a Deck.
type Option func(*Deck)

// WithBendMagnitude sets the rate offset applied while a bend is held.
func WithBendMagnitude(m float64) Option {
	return func(d *Deck) { d.bendMagnitude = m }
}

// WithScrub sets how many seconds of audio one full platter turn moves.
func WithScrub(secondsPerTurn float64) Option {
	return func(d *Deck) { d.secondsPerTurn = secondsPerTurn }
}

// WithSensitivity sets the scratch response exponent.
func WithSensitivity(s float64) Option {
	return func(d *Deck) { d.sensitivity = s }
}

// WithVolume sets the initial fader position.
func WithVolume(v float64) Option {
	return func(d *Deck) { d.volume = v }
}

// WithRamp sets the parameter smoothing time of the deck chain.
func WithRamp(r time.Duration) Option {
	return func(d *Deck) { d.ramp = r }
}

// WithMetrics attaches instruments. Without it the global meter is used.
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Deck) { d.metrics = m }
}

// Deck is one turntable. Methods are safe for concurrent use.
type Deck struct {
	id             string
	clock          audio.Clock
	src            *source
	chain          *graph.Chain
	metrics        *observe.Metrics
	attrs          metric.MeasurementOption
	bendMagnitude  float64
	secondsPerTurn float64
	sensitivity    float64
	ramp           time.Duration

	voices atomic.Int32

	mu        sync.Mutex
	st        DeckState
	state     State
	track     *audio.Track
	trackName string
	voice     *Voice
	session   *scratchSession
	volume    float64
	eq        EQState
	loadSeq   uint64
}

// New creates a deck reading time from clock and connects its chain output
// to bus.
func New(id string, clock audio.Clock, bus graph.Connector, opts ...Option) *Deck {
	d := &Deck{
		id:             id,
		clock:          clock,
		src:            &source{},
		bendMagnitude:  DefaultBendMagnitude,
		secondsPerTurn: DefaultScrubSecondsPerTurn,
		sensitivity:    DefaultSensitivity,
		ramp:           15 * time.Millisecond,
		volume:         DefaultVolume,
		eq:             EQState{Low: graph.EQUnity, Mid: graph.EQUnity, High: graph.EQUnity},
	}
	d.st.PitchRange = PitchRanges[0]
	for _, o := range opts {
		o(d)
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	d.attrs = metric.WithAttributes(attribute.String("deck", id))
	d.chain = graph.Build(graph.Context{SampleRate: audio.SampleRate, Ramp: d.ramp}, d.src, bus, d.volume)
	return d
}

// ID returns the deck identifier.
func (d *Deck) ID() string { return d.id }

// Output returns the end of the deck chain.
func (d *Deck) Output() beep.Streamer { return d.chain }

// Load binds tr immediately, discarding any playing voice and pending load.
func (d *Deck) Load(tr *audio.Track) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.loadSeq++
	d.bindLocked(tr)
}

// LoadTicket identifies one load attempt.
type LoadTicket uint64

// BeginLoad stops the deck and marks it as loading name. Only the most
// recent ticket can complete.
func (d *Deck) BeginLoad(name string) LoadTicket {
	d.mu.Lock()
	defer d.mu.Unlock()
	log.Printf("Deck %s: loading %s", d.id, name)
	d.loadSeq++
	d.resetLocked()
	d.track = nil
	d.trackName = LoadingTrackName
	return LoadTicket(d.loadSeq)
}

// CompleteLoad binds tr if t is still the latest load.
func (d *Deck) CompleteLoad(t LoadTicket, tr *audio.Track) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if uint64(t) != d.loadSeq {
		return ErrStaleLoad
	}
	d.bindLocked(tr)
	d.recordLoad(true)
	return nil
}

// FailLoad records that load t could not be decoded. The deck keeps no
// track and shows FailedTrackName.
func (d *Deck) FailLoad(t LoadTicket, cause error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if uint64(t) != d.loadSeq {
		return ErrStaleLoad
	}
	log.Printf("Deck %s: failed to load track: %v", d.id, cause)
	d.track = nil
	d.trackName = FailedTrackName
	d.recordLoad(false)
	return nil
}

// CancelLoad abandons load t. A newer load is left alone.
func (d *Deck) CancelLoad(t LoadTicket) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if uint64(t) != d.loadSeq {
		return
	}
	d.loadSeq++
	if d.track == nil && d.trackName == LoadingTrackName {
		d.trackName = ""
	}
}

func (d *Deck) recordLoad(ok bool) {
	d.metrics.TrackLoads.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("deck", d.id), attribute.Bool("ok", ok)))
}

func (d *Deck) resetLocked() {
	if d.session != nil {
		d.session = nil
		d.st.IsScratching = false
		d.src.scrub.stop()
	}
	d.stopVoiceLocked(false)
	d.st.IsPlaying = false
	d.st.PausedAtSeconds = 0
	d.st.PlaybackStartWallClock = 0
	d.st.PitchPercent = 0
	d.state = Stopped
}

func (d *Deck) bindLocked(tr *audio.Track) {
	d.resetLocked()
	d.track = tr
	d.trackName = tr.Name
	log.Printf("Deck %s loaded: %s (%.1fs)", d.id, tr.Name, tr.Duration())
}

// TogglePlay starts or pauses playback. While scratching it only records
// the intent; playback resumes when the platter is released.
func (d *Deck) TogglePlay() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.track == nil {
		return ErrNoTrack
	}
	if d.st.IsScratching {
		d.st.IsPlaying = !d.st.IsPlaying
		return nil
	}
	if d.st.IsPlaying {
		d.stopVoiceLocked(true)
		d.st.IsPlaying = false
		d.state = Paused
		return nil
	}
	d.startVoiceLocked()
	return nil
}

// rateLocked is the effective rate floored at MinRate, so a full negative
// pitch and bend never stop the clock or the resampler.
func (d *Deck) rateLocked() float64 {
	return max(EffectiveRate(d.st.PitchPercent, d.st.PitchBend, d.bendMagnitude), MinRate)
}

func (d *Deck) startVoiceLocked() {
	if d.voice != nil || d.track == nil {
		return
	}
	dur := d.track.Duration()
	if dur <= 0 {
		return
	}
	offset := math.Mod(d.st.PausedAtSeconds, dur)
	rate := d.rateLocked()

	d.voices.Add(1)
	d.metrics.Voices.Add(context.Background(), 1, d.attrs)
	d.metrics.VoiceStarts.Add(context.Background(), 1, d.attrs)
	v := newVoice(d.track, audio.Frames(offset), rate, func() {
		d.voices.Add(-1)
		d.metrics.Voices.Add(context.Background(), -1, d.attrs)
	})
	d.voice = v
	d.src.play(v)

	d.st.PausedAtSeconds = offset
	d.st.PlaybackStartWallClock = d.clock.Now() - offset/rate
	d.st.IsPlaying = true
	d.state = Playing
	go d.awaitEnd(v)
}

// stopVoiceLocked tears down the playing voice. With capture the current
// position is kept so the next play resumes from it.
func (d *Deck) stopVoiceLocked(capture bool) {
	v := d.voice
	if v == nil {
		return
	}
	if capture {
		d.st.PausedAtSeconds = d.voicedPositionLocked()
	}
	d.voice = nil
	d.src.retire(v)
	if err := v.Stop(); err != nil && !errors.Is(err, ErrVoiceFinished) {
		log.Printf("Deck %s: stop voice: %v", d.id, err)
	}
}

func (d *Deck) awaitEnd(v *Voice) {
	select {
	case <-v.Ended():
	case <-v.quit:
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.voice != v {
		return
	}
	d.voice = nil
	d.src.drop(v)
	d.st.PausedAtSeconds = d.track.Duration()
	d.st.IsPlaying = false
	d.state = Stopped
	log.Printf("Deck %s: track ended", d.id)
}

func (d *Deck) voicedPositionLocked() float64 {
	pos := (d.clock.Now() - d.st.PlaybackStartWallClock) * d.rateLocked()
	return min(max(pos, 0), d.track.Duration())
}

// applyRateLocked runs change and, if a voice is playing, re-anchors the
// wall-clock start so the position stays continuous across the new rate.
func (d *Deck) applyRateLocked(change func()) {
	if d.voice == nil {
		change()
		return
	}
	pos := d.voicedPositionLocked()
	change()
	rate := d.rateLocked()
	d.st.PlaybackStartWallClock = d.clock.Now() - pos/rate
	d.voice.SetRate(rate)
}

// SetPitch sets the pitch fader in percent, clamped to ±MaxPitchPercent.
func (d *Deck) SetPitch(percent float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.applyRateLocked(func() {
		d.st.PitchPercent = min(max(percent, -MaxPitchPercent), MaxPitchPercent)
	})
}

// ResetPitch returns the pitch fader to zero.
func (d *Deck) ResetPitch() {
	d.SetPitch(0)
}

// StartBend holds a temporary nudge; dir is reduced to its sign.
func (d *Deck) StartBend(dir int) {
	switch {
	case dir > 0:
		dir = 1
	case dir < 0:
		dir = -1
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.applyRateLocked(func() { d.st.PitchBend = dir })
}

// StopBend releases the nudge.
func (d *Deck) StopBend() {
	d.StartBend(0)
}

// CyclePitchRange steps the fader range 8 -> 16 -> 50 -> 8 and returns the
// new range.
func (d *Deck) CyclePitchRange() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	next := PitchRanges[0]
	for i, r := range PitchRanges {
		if r == d.st.PitchRange {
			next = PitchRanges[(i+1)%len(PitchRanges)]
			break
		}
	}
	d.st.PitchRange = next
	return next
}

// SetVolume sets the deck fader, 0..100.
func (d *Deck) SetVolume(v float64) {
	v = min(max(v, 0), 100)
	d.mu.Lock()
	d.volume = v
	d.mu.Unlock()
	d.chain.SetGain(v)
}

// SetEQ sets one EQ band, 0..100 with 50 flat.
func (d *Deck) SetEQ(b graph.Band, v float64) {
	v = min(max(v, 0), 100)
	d.mu.Lock()
	switch b {
	case graph.BandLow:
		d.eq.Low = v
	case graph.BandMid:
		d.eq.Mid = v
	case graph.BandHigh:
		d.eq.High = v
	}
	d.mu.Unlock()
	d.chain.SetEQ(b, v)
}

func (d *Deck) startScratch(angle float64) (*scratchSession, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.track == nil {
		return nil, ErrNoTrack
	}
	if d.session != nil {
		d.session.lastAngle = angle
		return d.session, nil
	}
	d.stopVoiceLocked(true)
	if d.state == Playing {
		d.state = Paused
	}
	s := &scratchSession{
		lastAngle: angle,
		playhead:  d.st.PausedAtSeconds,
		duration:  d.track.Duration(),
	}
	d.session = s
	d.st.IsScratching = true
	d.src.scrub.start(d.track, s.playhead)
	d.metrics.Scratches.Add(context.Background(), 1, d.attrs)
	return s, nil
}

// StartScratch grabs the platter at angle degrees. A second call while
// already scratching re-anchors the angle.
func (d *Deck) StartScratch(angle float64) error {
	_, err := d.startScratch(angle)
	return err
}

// ScratchMove moves the platter to angle and returns the new playhead.
// Without an active scratch it does nothing.
func (d *Deck) ScratchMove(angle float64) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.session
	if s == nil {
		return d.positionLocked()
	}
	delta := NormalizeDelta(angle - s.lastAngle)
	dt := ScrubSeconds(ScaleDelta(delta, d.sensitivity), d.secondsPerTurn)
	s.playhead = min(max(s.playhead+dt, 0), s.duration)
	s.lastAngle = angle
	d.src.scrub.seek(s.playhead)
	d.metrics.ScratchMoves.Add(context.Background(), 1, d.attrs)
	return s.playhead
}

// StopScratch releases the platter. The playhead becomes the paused
// position and playback resumes if it was intended.
func (d *Deck) StopScratch() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.endScratchLocked(d.session)
}

// CancelScratch abandons the scratch the same way a release does.
func (d *Deck) CancelScratch() {
	d.StopScratch()
}

func (d *Deck) endScratch(s *scratchSession) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.endScratchLocked(s)
}

func (d *Deck) endScratchLocked(s *scratchSession) {
	if s == nil || d.session != s {
		return
	}
	d.session = nil
	d.st.IsScratching = false
	d.src.scrub.stop()
	d.st.PausedAtSeconds = s.playhead
	if d.st.IsPlaying {
		d.startVoiceLocked()
	}
}

func (d *Deck) positionLocked() float64 {
	switch {
	case d.session != nil:
		return d.session.playhead
	case d.voice != nil:
		return d.voicedPositionLocked()
	}
	return d.st.PausedAtSeconds
}

// Position returns the playhead in seconds.
func (d *Deck) Position() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.positionLocked()
}

// EffectiveRate returns the current playback rate.
func (d *Deck) EffectiveRate() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rateLocked()
}

// State returns the transport state.
func (d *Deck) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Snapshot returns a copy of the transport record.
func (d *Deck) Snapshot() DeckState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.st
}

// IsPlaying reports the play intent.
func (d *Deck) IsPlaying() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.st.IsPlaying
}

// IsScratching reports whether the platter is held.
func (d *Deck) IsScratching() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.st.IsScratching
}

// TrackName returns the display name of the loaded track.
func (d *Deck) TrackName() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.trackName
}

// Track returns the loaded track, or nil.
func (d *Deck) Track() *audio.Track {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.track
}

// VoiceCount returns how many voices have been started and not yet
// released. It never exceeds one.
func (d *Deck) VoiceCount() int {
	return int(d.voices.Load())
}

// Status is the JSON view of a deck sent to control clients.
type Status struct {
	ID         string  `json:"id"`
	TrackName  string  `json:"track_name"`
	State      string  `json:"state"`
	Playing    bool    `json:"playing"`
	Scratching bool    `json:"scratching"`
	Position   float64 `json:"position"`
	Duration   float64 `json:"duration"`
	Pitch      float64 `json:"pitch"`
	PitchBend  int     `json:"pitch_bend"`
	PitchRange int     `json:"pitch_range"`
	Rate       float64 `json:"rate"`
	Volume     float64 `json:"volume"`
	EQ         EQState `json:"eq"`
}

// Status returns a snapshot for display.
func (d *Deck) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := Status{
		ID:         d.id,
		TrackName:  d.trackName,
		State:      d.state.String(),
		Playing:    d.st.IsPlaying,
		Scratching: d.st.IsScratching,
		Position:   d.positionLocked(),
		Pitch:      d.st.PitchPercent,
		PitchBend:  d.st.PitchBend,
		PitchRange: d.st.PitchRange,
		Rate:       d.rateLocked(),
		Volume:     d.volume,
		EQ:         d.eq,
	}
	if d.track != nil {
		s.Duration = d.track.Duration()
	}
	return s
}
