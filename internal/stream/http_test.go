package stream

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type nopCloser struct{ *bytes.Buffer }

func (nopCloser) Close() error { return nil }

func TestFeedWritesLittleEndianPCM(t *testing.T) {
	b := NewBroadcaster(nil)
	l := b.Subscribe("http", 4)
	l.C <- []int16{1, -2}
	l.C <- []int16{256}

	var out bytes.Buffer
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		feed(ctx, l, nopCloser{&out})
		close(done)
	}()

	deadline := time.After(time.Second)
	for len(l.C) > 0 {
		select {
		case <-deadline:
			t.Fatal("feed did not drain the listener")
		case <-time.After(time.Millisecond):
		}
	}
	b.Unsubscribe(l)
	<-done
	cancel()

	want := []byte{1, 0, 0xfe, 0xff, 0, 1}
	if !bytes.Equal(out.Bytes(), want) {
		t.Errorf("feed wrote %v, want %v", out.Bytes(), want)
	}
}

func TestHTTPHandlerDefaults(t *testing.T) {
	h := NewHTTPHandler(NewBroadcaster(nil), HTTPConfig{})
	if h.cfg.Bitrate != "192k" || h.cfg.Name != "turntable mix" {
		t.Errorf("defaults = %+v", h.cfg)
	}
	args := strings.Join(h.encoder(context.Background()).Args, " ")
	if !strings.Contains(args, "-b:a 192k") || !strings.Contains(args, "-ar 48000") {
		t.Errorf("ffmpeg args = %q", args)
	}
}

func TestWebRTCRejectsBadRequests(t *testing.T) {
	h := NewWebRTCHandler(NewBroadcaster(nil), 0)
	if h.bitrate != DefaultOpusBitrate {
		t.Errorf("bitrate = %d, want %d", h.bitrate, DefaultOpusBitrate)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/offer", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /offer = %d, want 405", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/offer", strings.NewReader("not json")))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad offer = %d, want 400", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/offer", nil))
	if rec.Code != http.StatusOK || rec.Header().Get("Access-Control-Allow-Methods") != "POST" {
		t.Errorf("preflight = %d %v", rec.Code, rec.Header())
	}
	if h.PeerCount() != 0 {
		t.Errorf("PeerCount = %d", h.PeerCount())
	}
}
