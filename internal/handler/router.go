package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aura-chat/peernet/internal/middleware"
	"github.com/aura-chat/peernet/internal/repository"
	"github.com/aura-chat/peernet/internal/service"
	"github.com/aura-chat/peernet/pkg/logger"
)

// RouterConfig configures the persistence API router.
type RouterConfig struct {
	Repository        repository.Repository
	Logger            *logger.Logger
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// NewRouter builds the persistence API:
//
//	POST /api/sync-user
//	GET  /api/messages/{conversationID}
//	POST /api/messages
//
// plus /health, /ready and /metrics.
func NewRouter(cfg RouterConfig) http.Handler {
	log := logger.OrNop(cfg.Logger)

	userHandler := NewUserHandler(service.NewUserService(cfg.Repository, log), log)
	messageHandler := NewMessageHandler(service.NewMessageService(cfg.Repository, log), log)
	healthHandler := NewHealthHandler(cfg.Repository)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())

	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		if cfg.RateLimitRequests > 0 {
			r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
		}

		r.Post("/sync-user", userHandler.Sync)
		r.Post("/messages", messageHandler.Create)
		r.Get("/messages/{conversationID}", messageHandler.List)
	})

	return r
}
