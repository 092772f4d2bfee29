// Companion - persona chat server
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ashureev/companion/internal/api"
	"github.com/ashureev/companion/internal/companion"
	"github.com/ashureev/companion/internal/config"
	"github.com/ashureev/companion/internal/identity"
	"github.com/ashureev/companion/internal/llm"
	"github.com/ashureev/companion/internal/middleware"
	"github.com/ashureev/companion/internal/store"
	"github.com/ashureev/companion/internal/transcript"
	"github.com/ashureev/companion/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newBackend(ctx context.Context, cfg config.LLMConfig) (llm.Backend, error) {
	models := llm.Models{Primary: cfg.ModelPrimary, Cheap: cfg.ModelCheap}

	var (
		backend llm.Backend
		err     error
	)
	switch cfg.Provider {
	case "gemini":
		backend, err = llm.NewGeminiBackend(ctx, cfg.APIKey, cfg.BaseURL, models)
	case "openai":
		backend = llm.NewOpenAIBackend(cfg.APIKey, cfg.BaseURL, models)
	default:
		err = fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return llm.WithTimeout(backend, cfg.Timeout), nil
}

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "llm_provider", cfg.LLM.Provider)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(ctx); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	health := map[string]api.Pinger{"database": repo}

	var candidates store.CandidateStore
	if cfg.RedisAddr != "" {
		rs := store.NewRedisCandidateStore(redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}), cfg.CandidateTTL)
		defer func() {
			if closeErr := rs.Close(); closeErr != nil {
				slog.Error("Failed to close redis client", "error", closeErr)
			}
		}()
		if err := rs.Ping(ctx); err != nil {
			slog.Error("Redis health check failed", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		health["candidates"] = rs
		candidates = rs
		slog.Info("Candidate store: redis", "addr", cfg.RedisAddr, "ttl", cfg.CandidateTTL)
	} else {
		ms := store.NewMemoryCandidateStore(cfg.CandidateTTL)
		store.StartCandidateSweeper(ctx, ms, cfg.CandidateSweepInterval)
		candidates = ms
		slog.Info("Candidate store: memory", "ttl", cfg.CandidateTTL)
	}

	backend, err := newBackend(ctx, cfg.LLM)
	if err != nil {
		slog.Error("Failed to initialize LLM backend", "error", err)
		os.Exit(1)
	}
	slog.Info("LLM backend ready", "provider", cfg.LLM.Provider, "primary", cfg.LLM.ModelPrimary, "cheap", cfg.LLM.ModelCheap)

	transcripts, err := transcript.New(transcript.Config{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := transcripts.Close(); closeErr != nil {
			slog.Error("Failed to flush conversation logs", "error", closeErr)
		}
	}()

	mgr := companion.NewManager(repo, candidates, backend, companion.Options{
		StartAffinity: cfg.Policy.StartAffinity,
		HistoryLimit:  cfg.Policy.HistoryLimit,
		ContextWindow: cfg.Policy.ContextWindow,
		PositiveDelta: cfg.Policy.PositiveDelta,
		NegativeDelta: cfg.Policy.NegativeDelta,
		MinAge:        cfg.Policy.MinAge,
		MaxAge:        cfg.Policy.MaxAge,
		Language:      cfg.Policy.Language,
	})
	mgr.SetTranscript(transcripts)

	limiter := api.NewRateLimiter(cfg.Message.RateLimit, cfg.Message.RateWindow)
	defer limiter.Close()

	// Initialize handlers.
	chatHandler := api.NewHandler(mgr, api.PhotoRenderer{Template: cfg.Photo.URLTemplate}, limiter)
	conns := api.NewConnRegistry()
	wsHandler := api.NewWebSocketHandler(chatHandler, conns, cfg.FrontendURL, cfg.IsDevelopment())
	healthHandler := api.NewHealthHandler(health)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{"*"}))

	// Public routes.
	healthHandler.RegisterHealth(r)

	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, cfg.IsDevelopment(), cfg.AdapterToken))
		chatHandler.RegisterRoutes(r)
		r.Get("/ws/chat", wsHandler.ServeHTTP)
	})

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// No WriteTimeout: LLM calls and websockets are long-lived.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}
	// Websocket handlers are hijacked; stop them before the transcript closes.
	conns.CloseAll()

	slog.Info("Server stopped successfully")
}
