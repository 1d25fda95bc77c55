package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/chatgraph/chatgraph/internal/config"
	"github.com/chatgraph/chatgraph/internal/history"
	"github.com/chatgraph/chatgraph/internal/history/memory"
	historysqlite "github.com/chatgraph/chatgraph/internal/history/sqlite"
	"github.com/chatgraph/chatgraph/internal/pipeline"
	"github.com/chatgraph/chatgraph/internal/provider"
	"github.com/chatgraph/chatgraph/internal/provider/langchain"
	"github.com/chatgraph/chatgraph/internal/provider/openai"
	"github.com/chatgraph/chatgraph/internal/server"
	"github.com/chatgraph/chatgraph/internal/telemetry"
	"github.com/chatgraph/chatgraph/internal/tools"
	"github.com/chatgraph/chatgraph/internal/webhook"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfgPath := os.Getenv("CHATGRAPH_CONFIG")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownTracer, err := telemetry.InitTracer("chatgraph", logger)
	if err != nil {
		log.Fatalf("failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	store, err := newHistoryStore(cfg.History, logger)
	if err != nil {
		log.Fatalf("failed to open history store: %v", err)
	}
	defer store.Close()

	rootCtx, stopExpiry := context.WithCancel(context.Background())
	defer stopExpiry()
	if s, ok := store.(*historysqlite.Store); ok && cfg.History.TTL > 0 {
		go expireLoop(rootCtx, s, logger)
	}

	providers := provider.NewRegistry()
	openai.RegisterFactories(providers)
	langchain.RegisterFactory(providers)
	if err := providers.CreateProviders(cfg.Providers); err != nil {
		log.Fatalf("failed to create providers: %v", err)
	}
	wrapWithRetry(providers, logger)

	toolRegistry := tools.FromConfig(cfg.Tools)

	engine := pipeline.New(store, providers, toolRegistry, cfg.Pipeline, cfg.History.MaxMessages, logger)
	hooks := webhook.New(engine, cfg.Webhook, logger)

	srv := server.New(cfg.Server, engine, hooks, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	logger.Info("chatgraph started",
		slog.Int("port", cfg.Server.Port),
		slog.String("history_backend", cfg.History.Backend),
		slog.Any("providers", providers.Names()))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", slog.String("error", err.Error()))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.String("error", err.Error()))
	}
	// Drain in-flight webhook workers before the store closes under them.
	if err := hooks.Close(shutdownCtx); err != nil {
		logger.Error("webhook shutdown error", slog.String("error", err.Error()))
	}

	logger.Info("chatgraph shutdown complete")
}

func newHistoryStore(cfg config.HistoryConfig, logger *slog.Logger) (history.Store, error) {
	switch cfg.Backend {
	case "sqlite":
		logger.Info("using sqlite history store", slog.String("path", cfg.Path))
		return historysqlite.New(cfg.Path, cfg.TTL)
	default:
		logger.Info("using in-memory history store")
		return memory.New(cfg.TTL), nil
	}
}

// expireLoop periodically drops sessions idle past the TTL.
func expireLoop(ctx context.Context, store *historysqlite.Store, logger *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := store.ExpireStale(ctx); err != nil {
				logger.Warn("history expiry failed", slog.String("error", err.Error()))
			} else if n > 0 {
				logger.Info("expired stale sessions", slog.Int64("count", n))
			}
		}
	}
}

// wrapWithRetry rewraps every configured provider with the transient retry
// budget.
func wrapWithRetry(r *provider.Registry, logger *slog.Logger) {
	for _, name := range r.Names() {
		p, err := r.Get(name)
		if err != nil {
			continue
		}
		r.Add(provider.WithRetry(p, provider.DefaultRetryConfig(), logger))
	}
}
