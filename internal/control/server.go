// Package control exposes the console over HTTP and WebSocket.
package control

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"time"

	"github.com/satindergrewal/turntable/internal/audio"
	"github.com/satindergrewal/turntable/internal/console"
	"github.com/satindergrewal/turntable/internal/deck"
	"github.com/satindergrewal/turntable/internal/observe"
	"github.com/satindergrewal/turntable/internal/record"
)

const (
	// DefaultStatusInterval is how often a WebSocket session pushes status.
	DefaultStatusInterval = 50 * time.Millisecond
	maxCommandBytes       = 64 << 10
	maxUploadMemory       = 32 << 20
)

// Server routes control traffic to a console.
type Server struct {
	console        *console.Console
	metrics        *observe.Metrics
	mux            *http.ServeMux
	statusInterval time.Duration
}

type Option func(*Server)

// WithRoute mounts an extra handler, such as the audio streams or /metrics.
func WithRoute(pattern string, h http.Handler) Option {
	return func(s *Server) { s.mux.Handle(pattern, h) }
}

// WithStatusInterval overrides DefaultStatusInterval.
func WithStatusInterval(d time.Duration) Option {
	return func(s *Server) { s.statusInterval = d }
}

// WithMetrics records request metrics into m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// NewServer builds the control routes for c.
func NewServer(c *console.Console, opts ...Option) *Server {
	s := &Server{
		console:        c,
		mux:            http.NewServeMux(),
		statusInterval: DefaultStatusInterval,
	}
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("POST /api/command", s.handleCommand)
	s.mux.HandleFunc("POST /api/decks/{id}/track", s.handleUpload)
	s.mux.HandleFunc("GET /api/spectrum", s.handleSpectrum)
	s.mux.HandleFunc("GET /api/recording", s.handleRecording)
	s.mux.HandleFunc("GET /ws", s.handleWS)
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Handler returns the routes wrapped in request metrics.
func (s *Server) Handler() http.Handler {
	return observe.Middleware(s.metrics)(s.mux)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]any{"ok": false, "error": err.Error()})
}

// statusFor maps console errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, console.ErrUnknownDeck):
		return http.StatusNotFound
	case errors.Is(err, console.ErrUnknownCommand), errors.Is(err, console.ErrBadCommand):
		return http.StatusBadRequest
	case errors.Is(err, console.ErrForbiddenPath):
		return http.StatusForbidden
	case errors.Is(err, audio.ErrDecode):
		return http.StatusUnprocessableEntity
	case errors.Is(err, deck.ErrStaleLoad),
		errors.Is(err, record.ErrRecording),
		errors.Is(err, record.ErrNotRecording):
		return http.StatusConflict
	case errors.Is(err, console.ErrNoRecorder):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.console.Status())
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var cmd console.Command
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCommandBytes)).Decode(&cmd); err != nil {
		writeError(w, fmt.Errorf("%w: %v", console.ErrBadCommand, err))
		return
	}
	res, err := s.console.Apply(r.Context(), cmd)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "result": res})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.console.Deck(id); err != nil {
		writeError(w, err)
		return
	}
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeError(w, fmt.Errorf("%w: %v", console.ErrBadCommand, err))
		return
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		writeError(w, fmt.Errorf("%w: missing file: %v", console.ErrBadCommand, err))
		return
	}
	log.Printf("Upload: deck %s <- %s (%d bytes)", id, hdr.Filename, hdr.Size)
	if err := s.console.LoadUpload(r.Context(), id, filepath.Base(hdr.Filename), f); err != nil {
		writeError(w, err)
		return
	}
	d, _ := s.console.Deck(id)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "deck": d.Status()})
}

func (s *Server) handleSpectrum(w http.ResponseWriter, r *http.Request) {
	data := s.console.Spectrum()
	bins := make([]int, len(data))
	for i, b := range data {
		bins[i] = int(b)
	}
	writeJSON(w, http.StatusOK, map[string]any{"bins": bins})
}

func (s *Server) handleRecording(w http.ResponseWriter, r *http.Request) {
	path := s.console.LastRecording()
	if path == "" {
		http.Error(w, "no recording", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))
	http.ServeFile(w, r, path)
}
