package deck

import (
	"context"
	"math"
	"sync"
)

const (
	// DefaultSensitivity is the exponent of the scratch response curve.
	DefaultSensitivity = 1.2
	// DefaultScrubSecondsPerTurn is how much audio one full platter turn moves.
	DefaultScrubSecondsPerTurn = 1.5
)

// Angle returns the pointer angle in degrees around the platter centre.
func Angle(x, y, cx, cy float64) float64 {
	return math.Atan2(y-cy, x-cx) * 180 / math.Pi
}

// NormalizeDelta folds an angle difference into (-180, 180] so crossing the
// 0/360 seam reads as the short way round.
func NormalizeDelta(d float64) float64 {
	if d > 180 {
		d -= 360
	} else if d <= -180 {
		d += 360
	}
	return d
}

// ScaleDelta applies the power-law response: sign(d) * |d|^sensitivity.
func ScaleDelta(d, sensitivity float64) float64 {
	if d == 0 {
		return 0
	}
	return math.Copysign(math.Pow(math.Abs(d), sensitivity), d)
}

// ScrubSeconds converts scaled platter degrees into audio seconds.
func ScrubSeconds(degrees, secondsPerTurn float64) float64 {
	return degrees * secondsPerTurn / 360
}

type scratchSession struct {
	lastAngle float64
	playhead  float64
	duration  float64
}

// Gesture is one press-drag-release on the platter. It ends exactly once,
// either through End or when its context is cancelled.
type Gesture struct {
	d       *Deck
	session *scratchSession
	once    sync.Once
	done    chan struct{}
}

// BeginGesture starts scratching at angle and returns the gesture that owns
// the scratch until it ends.
func (d *Deck) BeginGesture(ctx context.Context, angle float64) (*Gesture, error) {
	s, err := d.startScratch(angle)
	if err != nil {
		return nil, err
	}
	g := &Gesture{d: d, session: s, done: make(chan struct{})}
	go func() {
		select {
		case <-ctx.Done():
			g.End()
		case <-g.done:
		}
	}()
	return g, nil
}

// Move feeds a pointer angle. After the gesture ended it is a no-op.
func (g *Gesture) Move(angle float64) float64 {
	select {
	case <-g.done:
		return g.d.Position()
	default:
	}
	return g.d.ScratchMove(angle)
}

// End releases the platter.
func (g *Gesture) End() {
	g.once.Do(func() {
		close(g.done)
		g.d.endScratch(g.session)
	})
}

// Done is closed once the gesture has ended.
func (g *Gesture) Done() <-chan struct{} {
	return g.done
}
