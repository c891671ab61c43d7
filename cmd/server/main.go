package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/afero"

	"github.com/lexiqai/voice-cheer/internal/api"
	"github.com/lexiqai/voice-cheer/internal/audio"
	"github.com/lexiqai/voice-cheer/internal/catalog"
	"github.com/lexiqai/voice-cheer/internal/config"
	"github.com/lexiqai/voice-cheer/internal/observability"
	"github.com/lexiqai/voice-cheer/internal/panel"
	"github.com/lexiqai/voice-cheer/internal/resilience"
	"github.com/lexiqai/voice-cheer/internal/scheduler"
	"github.com/lexiqai/voice-cheer/internal/tts"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("synthesis_url", cfg.SynthesisURL).
		Str("scratch_dir", cfg.ScratchDir).
		Str("catalog_path", cfg.CatalogPath).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Voice Cheer daemon starting")

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Scratch storage for downloaded audio
	fs := afero.NewOsFs()
	scratch := audio.NewScratch(fs, cfg.ScratchDir)
	if err := scratch.Init(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to create scratch directory")
	}

	// Catalog, optionally from a watched file
	store := catalog.NewStore(fs, cfg.CatalogPath)
	if err := store.Load(); err != nil {
		logger.Fatal().Err(err).Str("path", cfg.CatalogPath).Msg("Failed to load catalog")
	}
	if cfg.CatalogWatch && cfg.CatalogPath != "" {
		go func() {
			if err := store.Watch(ctx); err != nil {
				logger.Error().Err(err).Msg("Catalog watcher stopped")
			}
		}()
	}

	// Synthesis client behind a circuit breaker
	breaker := resilience.NewCircuitBreaker("synthesis", cfg.CircuitBreakerMaxFailures, cfg.CircuitBreakerReset())
	breaker.OnStateChange(func(name string, from, to resilience.CircuitState) {
		observability.UpdateCircuitBreakerState(name, int(to))
		logger.Warn().
			Str("breaker", name).
			Str("from", from.String()).
			Str("to", to.String()).
			Msg("Circuit breaker state changed")
	})
	synth := tts.NewClient(cfg, tts.WithBreaker(breaker))

	// Audio delivery
	player := audio.NewCommandPlayer(runtime.GOOS, nil)
	if err := player.Supported(); err != nil {
		logger.Warn().Err(err).Str("os", runtime.GOOS).Msg("Playback not supported; cycles will report failures")
	}
	pipeline := audio.NewPipeline(audio.NewFetcher(cfg, nil), scratch, player, cfg.CleanupDelay)

	// Scheduler and panels
	hub := panel.NewHub(nil, store.Get, cfg)
	sched := scheduler.New(synth, pipeline, store.Get, scheduler.WithNotifier(hub))
	hub.SetController(sched)
	store.OnReload(func(c *catalog.Catalog) {
		logger.Info().
			Int("voice_models", len(c.VoiceModels)).
			Int("messages", len(c.Messages)).
			Msg("Catalog reloaded")
		refreshCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := hub.CatalogReloaded(refreshCtx); err != nil {
			logger.Warn().Err(err).Msg("Failed to refresh panels after catalog reload")
		}
	})

	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		if err := sched.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("Scheduler exited")
		}
	}()

	router := api.NewRouter(cfg, sched, hub.HandleWS, store.Get,
		observability.NamedCheck{Name: "scheduler", Check: sched.Check},
		observability.NamedCheck{Name: "scratch", Check: scratch.Check},
		observability.NamedCheck{Name: "synthesis", Check: synth.Check},
	)
	if cfg.MetricsEnabled {
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// Create HTTP server with timeouts
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router.Setup(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s/ws", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	hub.CloseAll()

	// Cancel in-flight cycles and wait for them
	stop()
	select {
	case <-schedDone:
	case <-shutdownCtx.Done():
		logger.Warn().Msg("Scheduler did not stop in time")
	}

	pipeline.Flush()
	if err := scratch.Cleanup(); err != nil {
		logger.Warn().Err(err).Str("dir", scratch.Dir()).Msg("Failed to remove scratch directory")
	}

	logger.Info().Msg("Server exited gracefully")
}
