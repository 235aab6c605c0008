package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/talking-portrait/internal/audio"
	"github.com/GriffinCanCode/talking-portrait/internal/config"
	"github.com/GriffinCanCode/talking-portrait/internal/orchestrator"
	"github.com/GriffinCanCode/talking-portrait/internal/portrait"
	"github.com/GriffinCanCode/talking-portrait/internal/realtime"
	"github.com/GriffinCanCode/talking-portrait/internal/server"
)

var noSpeaker bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP, WebSocket and gRPC health servers",
	Long: `Run the HTTP, WebSocket and gRPC health servers.

With MIC_SOURCE=device the local microphone is captured through PortAudio.
With MIC_SOURCE=websocket the browser streams microphone audio over /ws.

Examples:
  talking-portrait serve
  talking-portrait serve --no-speaker --log-level info`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().BoolVar(&noSpeaker, "no-speaker", false, "render playback against a wall clock instead of the default output device")
}

func serve(ctx context.Context) error {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	analyzer, err := newAnalyzer(ctx, cfg)
	if err != nil {
		return err
	}
	dialer, err := realtime.NewGeminiDialer(ctx, cfg.GeminiAPIKey)
	if err != nil {
		return err
	}

	var mic realtime.Microphone
	var pushMic *audio.PushMicrophone
	if cfg.MicSource == "websocket" {
		pushMic = audio.NewPushMicrophone()
		mic = pushMic
	} else {
		mic = audio.NewMicrophone(cfg.ExcludedAudioDevices)
	}

	var openOutput func(int) (orchestrator.OutputDevice, error)
	if !noSpeaker {
		openOutput = func(rate int) (orchestrator.OutputDevice, error) {
			sp, err := audio.OpenSpeaker(rate)
			if err != nil {
				return nil, err
			}
			return sp, nil
		}
	}

	frames := server.NewFrameHub(cfg.FrameQuality)
	orch := orchestrator.New(cfg, orchestrator.Deps{
		Analyzer:   analyzer,
		Microphone: mic,
		Dialer:     dialer,
		OpenOutput: openOutput,
		Frames:     frames,
	})

	var sink server.AudioSink
	if pushMic != nil {
		sink = pushMic
	}
	srv := server.New(orch, sink, frames, cfg)
	srv.WatchBreaker(analyzer.Breaker())

	httpServer := &http.Server{
		Addr:        cfg.HTTPAddr,
		Handler:     srv.Handler(),
		ReadTimeout: 30 * time.Second,
	}
	grpcServer := srv.NewGRPCServer()
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}

	go func() {
		slog.Info("grpc health server starting", "addr", cfg.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil {
			slog.Error("grpc server error", "error", err)
		}
	}()
	go func() {
		slog.Info("portrait server starting", "http", cfg.HTTPAddr, "mic", cfg.MicSource, "model", cfg.GeminiLiveModel)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	slog.Info("shutting down...")
	orch.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	grpcServer.GracefulStop()

	slog.Info("shutdown complete")
	return nil
}

func newAnalyzer(ctx context.Context, cfg *config.Config) (*portrait.Analyzer, error) {
	gen, err := portrait.NewGeminiGenerator(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		return nil, err
	}
	var cache *portrait.Cache
	if cfg.AnalysisCache {
		cache = portrait.NewCache(portrait.DefaultCacheSize)
	}
	return portrait.NewAnalyzer(gen, portrait.Options{
		MaxSize: cfg.PortraitMaxSize,
		Voices: portrait.Voices{
			Male:    cfg.VoiceMale,
			Female:  cfg.VoiceFemale,
			Default: cfg.VoiceDefault,
		},
		Cache: cache,
	}), nil
}
