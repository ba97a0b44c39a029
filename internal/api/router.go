package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"privacyguard/internal/api/handlers"
	apimiddleware "privacyguard/internal/api/middleware"
	"privacyguard/internal/config"
	"privacyguard/pkg/logger"
)

// Router holds dependencies for the API router
type Router struct {
	config   config.Config
	handlers *handlers.Handlers
	limiter  apimiddleware.RateLimitStore
	metrics  http.Handler
	logger   *logger.Logger
}

// NewRouter creates a new Router instance. limiter and metrics may be nil.
func NewRouter(cfg config.Config, h *handlers.Handlers, limiter apimiddleware.RateLimitStore, metrics http.Handler, log *logger.Logger) *Router {
	return &Router{
		config:   cfg,
		handlers: h,
		limiter:  limiter,
		metrics:  metrics,
		logger:   log.WithComponent("router"),
	}
}

// Setup sets up the Chi router with all routes and middleware
func (r *Router) Setup() http.Handler {
	router := chi.NewRouter()

	// Core middleware
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(apimiddleware.Logger(r.logger))
	router.Use(middleware.Recoverer)

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   r.config.CORS.AllowedOrigins,
		AllowedMethods:   r.config.CORS.AllowedMethods,
		AllowedHeaders:   r.config.CORS.AllowedHeaders,
		AllowCredentials: r.config.CORS.AllowCredentials,
		MaxAge:           r.config.CORS.MaxAge,
	}))

	// Public routes
	router.Group(func(pub chi.Router) {
		pub.Get("/health", r.handlers.Health.Check)
		pub.Get("/ready", r.handlers.Health.Ready)
		if r.metrics != nil && r.config.Metrics.Enabled {
			pub.Method(http.MethodGet, r.config.Metrics.Path, r.metrics)
		}
	})

	// API v1 routes (authenticated)
	router.Route("/api/v1", func(api chi.Router) {
		api.Use(apimiddleware.APIKeyAuth(r.config.Auth.APIKey))
		if r.config.RateLimit.Enabled && r.limiter != nil {
			api.Use(apimiddleware.RateLimiter(r.limiter, r.config.RateLimit, r.logger))
		}

		// long-lived connection, registered outside the timeout group
		api.Get("/scans/ws", r.handlers.Streaming.HandleWebSocket)

		api.Group(func(rest chi.Router) {
			rest.Use(middleware.Timeout(60 * time.Second))

			rest.Post("/scans", r.handlers.Scans.Start)
			rest.Get("/scans/current", r.handlers.Scans.Current)
			rest.Get("/scans/stream/stats", r.handlers.Streaming.GetStats)

			rest.Route("/apps", func(apps chi.Router) {
				apps.Get("/", r.handlers.Apps.List)
				apps.Delete("/", r.handlers.Apps.DeleteAll)
				apps.Get("/{id}", r.handlers.Apps.Get)
				apps.Post("/{id}/malware-check", r.handlers.Apps.MalwareCheck)
			})

			rest.Get("/device/safety", r.handlers.Device.Safety)
		})
	})

	return router
}
