package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/satindergrewal/turntable/internal/config"
	"github.com/satindergrewal/turntable/internal/console"
	"github.com/satindergrewal/turntable/internal/control"
	"github.com/satindergrewal/turntable/internal/observe"
	"github.com/satindergrewal/turntable/internal/record"
	"github.com/satindergrewal/turntable/internal/sink"
	"github.com/satindergrewal/turntable/internal/stream"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Println("turntable starting up...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if cfg.Metrics {
		shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
			ServiceName:    "turntable",
			ServiceVersion: version,
		})
		if err != nil {
			log.Fatalf("metrics: %v", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			shutdown(sctx)
		}()
	}
	metrics := observe.DefaultMetrics()

	broadcaster := stream.NewBroadcaster(metrics)
	recorder := record.New(broadcaster, cfg.RecordDir, metrics)
	desk, err := console.New(cfg, recorder, metrics)
	if err != nil {
		log.Fatalf("console: %v", err)
	}
	log.Printf("Decks: %v, master %.0f, FFT %d", desk.DeckIDs(), cfg.MasterVolume, cfg.FFTSize)

	webrtcHandler := stream.NewWebRTCHandler(broadcaster, cfg.OpusBitrate)
	defer webrtcHandler.Close()

	opts := []control.Option{
		control.WithMetrics(metrics),
		control.WithRoute("GET /stream", stream.NewHTTPHandler(broadcaster, stream.HTTPConfig{
			Name:    cfg.StreamName,
			Bitrate: cfg.MP3Bitrate,
		})),
		control.WithRoute("POST /offer", webrtcHandler),
	}
	if cfg.Metrics {
		opts = append(opts, control.WithRoute("GET /metrics", observe.Handler()))
	}
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           control.NewServer(desk, opts...).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		desk.Run(ctx)
		return nil
	})
	g.Go(func() error {
		broadcaster.Run(ctx, desk.Bus().Frames())
		return nil
	})
	if cfg.Speaker {
		g.Go(func() error {
			sink.Serve(ctx, broadcaster, sink.Open)
			return nil
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		log.Println("Shutting down...")
		if recorder.Active() {
			if path, err := recorder.Stop(); err == nil {
				log.Printf("Saved recording %s", path)
			}
		}
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(sctx)
	})
	g.Go(func() error {
		log.Printf("turntable live on %s", server.Addr)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("turntable: %v", err)
	}
}
