package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/parley/internal/api/middleware"
	"github.com/eldtechnologies/parley/internal/config"
	"github.com/eldtechnologies/parley/internal/engine"
	"github.com/eldtechnologies/parley/internal/handlers"
	"github.com/eldtechnologies/parley/internal/store"
)

// NewRouter creates and configures the HTTP router. redisStore may be nil
// when running against the in-memory collaborators; HTTP rate limiting is
// skipped in that case.
func NewRouter(logger zerolog.Logger, cfg *config.Config, manager *engine.Manager, data store.DataStore, redisStore *store.RedisStore) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(8 * 1024)) // 8KB max body
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// Rate limiting, when Redis is available
	if redisStore != nil {
		limiter := middleware.NewRateLimiter(redisStore.Client(), logger, middleware.RateLimiterConfig{
			Whitelist: cfg.RateLimitWhitelist,
		})
		r.Use(limiter.Middleware)
	}

	// CORS - the engine serves first-party web and mobile clients
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.ViewerHeader},
		ExposedHeaders:   []string{"Link", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := handlers.NewHandler(manager, data, redisStore, logger)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	// Public routes (no viewer identity required)
	r.Get("/", h.Root)
	r.Get("/health", h.Health)

	// Viewer-scoped routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireViewer)

		r.Post("/conversations/{peerID}/open", h.OpenConversation)
		r.Get("/conversations/messages", h.Messages)
		r.Post("/conversations/messages", h.SendMessage)
		r.Post("/conversations/messages/{localID}/retry", h.RetryMessage)
		r.Post("/conversations/read", h.MarkRead)
		r.Put("/conversations/draft", h.SaveDraft)
		r.Get("/events", h.Events)
	})

	return r
}
