package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/shresthakamal/try-on/internal/api"
	"github.com/shresthakamal/try-on/internal/assets"
	"github.com/shresthakamal/try-on/internal/compose"
	"github.com/shresthakamal/try-on/internal/config"
	"github.com/shresthakamal/try-on/internal/conversation"
	"github.com/shresthakamal/try-on/internal/fetcher"
	"github.com/shresthakamal/try-on/internal/handlers"
	"github.com/shresthakamal/try-on/internal/inbox"
	"github.com/shresthakamal/try-on/internal/provider"
	"github.com/shresthakamal/try-on/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := zerolog.New(os.Stderr)
		bootLogger.Fatal().Err(err).Msg("invalid configuration")
	}

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	cache, err := assets.NewFilesystemCache(cfg.MediaDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("media directory unavailable")
	}

	twilio := provider.NewTwilio(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioAPIBase)

	fetch := fetcher.New(cache, twilio, fetcher.Config{
		Username: cfg.TwilioAccountSID,
		Password: cfg.TwilioAuthToken,
		Timeout:  cfg.FetchTimeout,
	}, logger)

	invoker, err := compose.NewInvoker(cache, compose.NewHTTPComposer(cfg.ComposerURL, nil), cfg.Compose, cfg.ComposeTimeout, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid composition options")
	}

	sessions := session.NewMemoryStore(cfg.SessionTTL, logger)
	go sessions.Run(ctx, time.Minute)

	// Dedupe survives restarts only with Redis
	var dedupe inbox.Deduper = inbox.NewMemoryDeduper(cfg.DedupeTTL)
	var redisPinger handlers.Pinger
	if cfg.RedisURL != "" {
		rd, err := inbox.NewRedisDeduper(ctx, cfg.RedisURL, cfg.DedupeTTL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer rd.Close()
		dedupe = rd
		redisPinger = rd
		logger.Info().Msg("connected to Redis")
	}

	orch := conversation.New(conversation.Deps{
		Sessions:    sessions,
		Locker:      session.NewLocker(),
		Inbox:       dedupe,
		Cache:       cache,
		Fetcher:     fetch,
		Composer:    invoker,
		Messenger:   twilio,
		SendTimeout: cfg.FetchTimeout,
	}, cfg.PublicBaseURL, logger)

	h := handlers.NewHandler(orch, cache, redisPinger, logger)
	router := api.NewRouter(logger, h)

	// The webhook answers only after the pipeline finishes; a pipeline whose
	// caller has gone away still runs to completion.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.FetchTimeout + cfg.ComposeTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Str("media_dir", cfg.MediaDir).
			Str("public_url", cfg.PublicBaseURL).
			Int("denoise_steps", cfg.Compose.DenoiseSteps).
			Int64("seed", cfg.Compose.Seed).
			Bool("crop", cfg.Compose.CropEnabled).
			Msg("starting try-on server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")
	stop()

	// In-flight pipelines get as long as a composition may take
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ComposeTimeout+cfg.FetchTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}
