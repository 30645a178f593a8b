package control

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/sync/errgroup"

	"github.com/satindergrewal/turntable/internal/console"
	"github.com/satindergrewal/turntable/internal/deck"
)

// inbound is a command sent over the socket. ID is echoed in the reply.
type inbound struct {
	ID int `json:"id,omitempty"`
	console.Command
}

type outbound struct {
	Type   string          `json:"type"`
	ID     int             `json:"id,omitempty"`
	Op     string          `json:"op,omitempty"`
	Result *console.Result `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
	Status *console.Status `json:"status,omitempty"`
}

// session is one WebSocket client. Scratch gestures started by the client
// belong to it and end when it disconnects.
type session struct {
	console  *console.Console
	conn     *websocket.Conn
	interval time.Duration
	gestures map[string]*deck.Gesture
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Printf("WebSocket accept: %v", err)
		return
	}
	defer conn.CloseNow()

	sess := &session{
		console:  s.console,
		conn:     conn,
		interval: s.statusInterval,
		gestures: make(map[string]*deck.Gesture),
	}
	err = sess.run(r.Context())
	sess.endGestures()

	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		conn.Close(websocket.StatusNormalClosure, "")
	default:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("WebSocket session: %v", err)
		}
		conn.Close(websocket.StatusInternalError, "session closed")
	}
}

func (ss *session) run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ss.readLoop(ctx) })
	g.Go(func() error { return ss.statusLoop(ctx) })
	return g.Wait()
}

func (ss *session) statusLoop(ctx context.Context) error {
	ticker := time.NewTicker(ss.interval)
	defer ticker.Stop()
	for {
		st := ss.console.Status()
		if err := wsjson.Write(ctx, ss.conn, outbound{Type: "status", Status: &st}); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (ss *session) readLoop(ctx context.Context) error {
	for {
		var in inbound
		if err := wsjson.Read(ctx, ss.conn, &in); err != nil {
			return err
		}
		res, err := ss.apply(ctx, in.Command)
		reply := outbound{Type: "result", ID: in.ID, Op: in.Op}
		if err != nil {
			reply.Error = err.Error()
		} else {
			reply.Result = &res
		}
		if err := wsjson.Write(ctx, ss.conn, reply); err != nil {
			return err
		}
	}
}

// apply routes scratch commands through gestures owned by the session and
// everything else straight to the console.
func (ss *session) apply(ctx context.Context, cmd console.Command) (console.Result, error) {
	g := ss.gestures[cmd.Deck]
	if g != nil {
		select {
		case <-g.Done():
			delete(ss.gestures, cmd.Deck)
			g = nil
		default:
		}
	}

	switch cmd.Op {
	case console.OpStartScratch:
		if g != nil {
			// Already holding the platter: re-anchor.
			return ss.console.Apply(ctx, cmd)
		}
		angle, err := cmd.ScratchAngle()
		if err != nil {
			return console.Result{}, err
		}
		g, err := ss.console.BeginGesture(ctx, cmd.Deck, angle)
		if errors.Is(err, deck.ErrNoTrack) {
			return console.Result{}, nil
		}
		if err != nil {
			return console.Result{}, err
		}
		ss.gestures[cmd.Deck] = g
		return console.Result{}, nil
	case console.OpScratchMove:
		if g == nil {
			return ss.console.Apply(ctx, cmd)
		}
		angle, err := cmd.ScratchAngle()
		if err != nil {
			return console.Result{}, err
		}
		p := g.Move(angle)
		return console.Result{Playhead: &p}, nil
	case console.OpStopScratch:
		if g == nil {
			return ss.console.Apply(ctx, cmd)
		}
		g.End()
		delete(ss.gestures, cmd.Deck)
		return console.Result{}, nil
	}
	return ss.console.Apply(ctx, cmd)
}

func (ss *session) endGestures() {
	for id, g := range ss.gestures {
		g.End()
		delete(ss.gestures, id)
	}
}
