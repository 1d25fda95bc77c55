// Package server is the HTTP gateway: a chi router over the pipeline engine
// (direct mode) and the webhook engine (async mode).
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/chatgraph/chatgraph/internal/config"
	"github.com/chatgraph/chatgraph/internal/domain"
	"github.com/chatgraph/chatgraph/internal/webhook"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// Runner executes one conversational turn synchronously. Satisfied by
// *pipeline.Engine.
type Runner = webhook.Runner

// WebhookService accepts async submissions and answers status queries.
// Satisfied by *webhook.Engine.
type WebhookService interface {
	Submit(ctx context.Context, sessionID, message, callbackURL string, params domain.ProviderParams) (string, error)
	Status(trackID string) (webhook.Record, bool)
}

type Server struct {
	Router *chi.Mux
	port   int

	pipeline Runner
	webhooks WebhookService
	logger   *slog.Logger

	httpServer *http.Server
}

func New(cfg config.ServerConfig, pipe Runner, hooks WebhookService, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		port:     cfg.Port,
		pipeline: pipe,
		webhooks: hooks,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	r.Use(TimeoutMiddleware(timeout))
	r.Use(middleware.Recoverer)

	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "chatgraph")
	})

	r.Get("/health", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/chat", s.handleChat)
		r.Post("/webhook", s.handleWebhookSubmit)
		r.Get("/webhook/{trackID}", s.handleWebhookStatus)
	})

	s.Router = r
	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.Router,
	}
	s.logger.Info("starting server", slog.Int("port", s.port))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
