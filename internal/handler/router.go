package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/capitalize-ai/assistant-relay/internal/media"
	"github.com/capitalize-ai/assistant-relay/internal/middleware"
	natsclient "github.com/capitalize-ai/assistant-relay/internal/nats"
	"github.com/capitalize-ai/assistant-relay/internal/service"
	"github.com/capitalize-ai/assistant-relay/pkg/logger"
)

// RouterConfig holds the router's dependencies.
type RouterConfig struct {
	Relay   *service.RelayService
	Uploads *media.Store
	// NATS and Exchanges are nil when NATS is disabled.
	NATS      *natsclient.Client
	Exchanges ExchangeLister
	Logger    *logger.Logger

	AuthEnabled       bool
	JWTSecret         string
	RateLimitRequests int
	RateLimitWindow   time.Duration
	MaxBodyBytes      int64
}

// NewRouter builds the HTTP routes.
func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Logger

	healthHandler := NewHealthHandler(cfg.Relay, cfg.NATS)
	chatHandler := NewChatHandler(cfg.Relay, log)
	streamHandler := NewStreamHandler(cfg.Relay, log)
	sessionHandler := NewSessionHandler(cfg.Relay, log)

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Recoverer(log))
	r.Use(middleware.CORS())

	// Health endpoints (no auth required)
	r.Get("/", healthHandler.Root)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	if cfg.Uploads != nil {
		uploadHandler := NewUploadHandler(cfg.Uploads, log)
		r.Get("/uploads/{filename}", uploadHandler.Serve)
	}

	r.Group(func(r chi.Router) {
		if cfg.MaxBodyBytes > 0 {
			r.Use(chimiddleware.RequestSize(cfg.MaxBodyBytes))
		}
		if cfg.AuthEnabled {
			r.Use(middleware.Auth(cfg.JWTSecret))
		}
		if cfg.RateLimitRequests > 0 {
			r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
		}

		r.Post("/chat", chatHandler.Chat)
		r.Post("/chat/stream", streamHandler.ChatStream)
		r.Post("/analyze-image", chatHandler.AnalyzeImage)

		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", sessionHandler.Get)
			r.Delete("/", sessionHandler.Delete)
		})

		if cfg.Exchanges != nil {
			exchangeHandler := NewExchangeHandler(cfg.Exchanges, log)
			r.Get("/exchanges", exchangeHandler.List)
		}
	})

	return r
}
