// Package api provides the HTTP transport for the Context API.
package api

import (
	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/familyhub/contextd/config"
	_ "github.com/familyhub/contextd/docs/swagger" // registers the OpenAPI document
	"github.com/familyhub/contextd/pkg/api/handlers"
	"github.com/familyhub/contextd/pkg/api/middleware"
	"github.com/familyhub/contextd/pkg/logger"
)

// Handlers holds all HTTP handlers.
type Handlers struct {
	// Context serves the /api/v1 Context API.
	Context *handlers.ContextHandler

	// Health handles health check endpoints
	Health *handlers.HealthHandler

	// WebSocket streams orchestrator events.
	WebSocket *handlers.WebSocketHandler

	// Metrics is the optional metrics recorder
	Metrics middleware.MetricsRecorder

	// RateLimiter limits /api/v1 requests per owner. Nil disables limiting.
	RateLimiter *middleware.RateLimiter
}

// NewRouter creates a new chi router with middleware and routes.
func NewRouter(cfg *config.Config, log logger.Logger, handlers *Handlers) chi.Router {
	r := chi.NewRouter()

	// Register global middleware
	r.Use(middleware.RequestID())
	r.Use(middleware.Tracing(middleware.DefaultTracingOptions()))
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recovery(log))

	// Add metrics middleware if provided
	if handlers.Metrics != nil {
		r.Use(middleware.Metrics(handlers.Metrics))
	}

	r.Use(middleware.CORS(&cfg.Server.CORS))

	RegisterRoutes(r, cfg, handlers)

	return r
}

// RegisterRoutes registers all API routes.
func RegisterRoutes(r chi.Router, cfg *config.Config, handlers *Handlers) {
	if handlers.Context != nil {
		r.Route("/api/v1", func(r chi.Router) {
			r.Use(middleware.Timeout(cfg.Server.HTTP.RequestTimeout))

			// The limiter runs after routing so it can key on {ownerID}.
			r.Group(func(r chi.Router) {
				if handlers.RateLimiter != nil {
					r.Use(handlers.RateLimiter.Handler)
				}

				h := handlers.Context
				r.Get("/context", h.GetContext)
				r.Post("/save", h.Save)
				r.Post("/search", h.Search)
				r.Post("/prompt/build", h.BuildPrompt)
				r.Get("/profiles/{ownerID}", h.GetProfile)
				r.Put("/profiles/{ownerID}", h.PutProfile)
			})

			r.Get("/prompt/roles/{role}", handlers.Context.RoleTemplate)
			r.Get("/prompt/core", handlers.Context.CoreTemplates)
		})
	}

	// Health check routes (not versioned)
	if handlers.Health != nil {
		r.Get("/health", handlers.Health.Health)
		r.Get("/ready", handlers.Health.Ready)
		r.Get("/status", handlers.Health.Status)
	}

	if handlers.WebSocket != nil {
		r.Handle("/ws/events", handlers.WebSocket)
	}

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.WrapHandler)
}
