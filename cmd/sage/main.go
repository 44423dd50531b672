package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/sagehq/sage/internal/api"
	"github.com/sagehq/sage/internal/config"
	"github.com/sagehq/sage/internal/events"
	"github.com/sagehq/sage/internal/ollama"
	"github.com/sagehq/sage/internal/pipeline"
	"github.com/sagehq/sage/internal/store"
	"github.com/sagehq/sage/internal/transcribe"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	slog.Info("sage starting", "port", cfg.Port, "model", cfg.Model)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Store (optional — generation works without history)
	var db *store.Store
	if cfg.DatabaseURL != "" {
		var err error
		db, err = store.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		slog.Info("database connected")
	} else {
		slog.Warn("DATABASE_URL not set — exchanges will not be recorded")
	}

	// Event bus (optional)
	var bus *events.Announcer
	if cfg.NatsURL != "" {
		var err error
		bus, err = events.NewAnnouncer(cfg.NatsURL, cfg.NatsToken, slog.Default())
		if err != nil {
			slog.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer bus.Close()
		slog.Info("NATS connected", "url", cfg.NatsURL)
	}

	// Model client
	llm := ollama.NewClient(cfg.OllamaURL, cfg.MaxRetries, cfg.RetryDelay, slog.Default())
	slog.Info("model client ready", "url", cfg.OllamaURL, "model", cfg.Model, "diagram_model", cfg.DiagramModel)

	// Recorder + pipeline
	var sink pipeline.ExchangeStore
	if db != nil {
		sink = db
	}
	recorder := pipeline.NewRecorder(sink, bus, slog.Default())
	pipe := pipeline.New(llm, cfg.Model, cfg.DiagramModel, recorder, slog.Default())

	// Transcriber (optional — /voice-command answers 503 without it)
	var transcriber *transcribe.Client
	if cfg.WhisperURL != "" {
		transcriber = transcribe.NewClient(cfg.WhisperURL, slog.Default())
		slog.Info("transcriber ready", "url", cfg.WhisperURL)
	} else {
		slog.Warn("WHISPER_URL not set — voice commands disabled")
	}

	if cfg.APIKey == "" {
		slog.Warn("SAGE_API_KEY not set — endpoints are unauthenticated")
	}

	srv := api.NewServer(cfg.Port, cfg.APIKey, pipe, transcriber, db, slog.Default())
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	slog.Info("sage ready", "port", cfg.Port)

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("shutting down")
	cancel()
	recorder.Wait()
	slog.Info("sage stopped")
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
