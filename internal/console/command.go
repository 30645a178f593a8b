package console

import (
	"context"
	"errors"
	"fmt"

	"github.com/satindergrewal/turntable/internal/deck"
)

// Command operations.
const (
	OpLoad            = "load"
	OpTogglePlay      = "togglePlay"
	OpSetPitch        = "setPitch"
	OpResetPitch      = "resetPitch"
	OpCyclePitchRange = "cyclePitchRange"
	OpStartBend       = "startBend"
	OpStopBend        = "stopBend"
	OpSetVolume       = "setVolume"
	OpSetEQ           = "setEQ"
	OpSetMaster       = "setMaster"
	OpStartScratch    = "startScratch"
	OpScratchMove     = "scratchMove"
	OpStopScratch     = "stopScratch"
	OpStartRecording  = "startRecording"
	OpStopRecording   = "stopRecording"
)

// Pointer is a pointer sample and the centre of the platter it is over.
type Pointer struct {
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
	CX float64 `json:"cx"`
	CY float64 `json:"cy"`
}

// Command is one control message.
type Command struct {
	Op        string   `json:"op"`
	Deck      string   `json:"deck,omitempty"`
	Value     float64  `json:"value,omitempty"`
	Band      string   `json:"band,omitempty"`
	Direction int      `json:"direction,omitempty"`
	Angle     *float64 `json:"angle,omitempty"`
	Pointer   *Pointer `json:"pointer,omitempty"`
	Path      string   `json:"path,omitempty"`
}

// ScratchAngle resolves the platter angle from Pointer or Angle.
func (cmd Command) ScratchAngle() (float64, error) {
	switch {
	case cmd.Pointer != nil:
		p := cmd.Pointer
		return deck.Angle(p.X, p.Y, p.CX, p.CY), nil
	case cmd.Angle != nil:
		return *cmd.Angle, nil
	}
	return 0, fmt.Errorf("%w: %s needs angle or pointer", ErrBadCommand, cmd.Op)
}

// Result carries what a command produced, when anything.
type Result struct {
	Playhead *float64 `json:"playhead,omitempty"`
	Range    int      `json:"pitch_range,omitempty"`
	Path     string   `json:"path,omitempty"`
}

// Apply runs cmd. Commands that need a track on an empty deck are no-ops.
func (c *Console) Apply(ctx context.Context, cmd Command) (Result, error) {
	switch cmd.Op {
	case OpSetMaster:
		c.bus.SetMasterVolume(cmd.Value)
		return Result{}, nil
	case OpStartRecording:
		path, err := c.StartRecording()
		return Result{Path: path}, err
	case OpStopRecording:
		path, err := c.StopRecording()
		return Result{Path: path}, err
	}

	d, err := c.Deck(cmd.Deck)
	if err != nil {
		return Result{}, err
	}
	var res Result
	switch cmd.Op {
	case OpLoad:
		if cmd.Path == "" {
			return Result{}, fmt.Errorf("%w: load needs a path", ErrBadCommand)
		}
		err = c.LoadFile(ctx, cmd.Deck, cmd.Path)
	case OpTogglePlay:
		err = d.TogglePlay()
	case OpSetPitch:
		d.SetPitch(cmd.Value)
	case OpResetPitch:
		d.ResetPitch()
	case OpCyclePitchRange:
		res.Range = d.CyclePitchRange()
	case OpStartBend:
		d.StartBend(cmd.Direction)
	case OpStopBend:
		d.StopBend()
	case OpSetVolume:
		d.SetVolume(cmd.Value)
	case OpSetEQ:
		err = c.SetEQ(cmd.Deck, cmd.Band, cmd.Value)
	case OpStartScratch:
		var a float64
		if a, err = cmd.ScratchAngle(); err == nil {
			err = d.StartScratch(a)
		}
	case OpScratchMove:
		var a float64
		if a, err = cmd.ScratchAngle(); err == nil {
			p := d.ScratchMove(a)
			res.Playhead = &p
		}
	case OpStopScratch:
		d.StopScratch()
	default:
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Op)
	}
	if errors.Is(err, deck.ErrNoTrack) {
		err = nil
	}
	return res, err
}
