package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/parley/internal/api"
	"github.com/eldtechnologies/parley/internal/config"
	"github.com/eldtechnologies/parley/internal/engine"
	"github.com/eldtechnologies/parley/internal/store"
)

func main() {
	// Load configuration
	cfg := config.Load()

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

	ctx := context.Background()

	// Initialize the primary store: PostgreSQL in deployment, SQLite for
	// local development.
	var data store.DataStore
	if cfg.DatabaseURL != "" {
		pgStore, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		data = pgStore
		logger.Info().Msg("connected to PostgreSQL")
	} else {
		sqliteStore, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("sqlite open failed")
		}
		data = sqliteStore
		logger.Info().Str("path", cfg.SQLitePath).Msg("using SQLite store")
	}
	defer data.Close()

	// Initialize the realtime collaborators: Redis when configured,
	// in-process fallbacks otherwise. The fallbacks only reconcile sessions
	// within this process, which is fine for a single instance.
	var (
		redisStore *store.RedisStore
		push       store.PushChannel
		drafts     store.DraftStore
		limiter    store.RateLimiter
	)
	if cfg.RedisURL != "" {
		var err error
		redisStore, err = store.NewRedisStore(ctx, cfg.RedisURL, cfg.SendRateLimit, cfg.SendRateWindow)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisStore.Close()
		push = redisStore
		drafts = redisStore
		limiter = redisStore
		logger.Info().Msg("connected to Redis")
	} else {
		push = store.NewMemoryPushChannel()
		drafts = store.NewMemoryDraftStore()
		limiter = store.NewMemoryRateLimiter(cfg.SendRateLimit, cfg.SendRateWindow)
		logger.Warn().Msg("REDIS_URL not set, using in-memory push/draft/rate-limit fallbacks")
	}

	// Session manager
	manager := engine.NewManager(data, push, drafts, limiter, engine.Options{
		PageSize:          cfg.PageSize,
		ReadFlushInterval: cfg.ReadFlushInterval,
		DraftDebounce:     cfg.DraftDebounce,
		Logger:            logger,
	})

	// Create router
	router := api.NewRouter(logger, cfg, manager, data, redisStore)

	// Create server. WriteTimeout stays zero because /events holds
	// long-lived streaming responses.
	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Msg("starting Parley server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	// Graceful shutdown with 30 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	// Flush pending drafts and read receipts before exiting
	manager.CloseAll(shutdownCtx)

	logger.Info().Msg("server stopped")
}
