// Arcana session gateway.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arcanaday/arcana-session/internal/api"
	"github.com/arcanaday/arcana-session/internal/backend"
	"github.com/arcanaday/arcana-session/internal/config"
	"github.com/arcanaday/arcana-session/internal/identity"
	"github.com/arcanaday/arcana-session/internal/middleware"
	"github.com/arcanaday/arcana-session/internal/prefs"
	"github.com/arcanaday/arcana-session/internal/session"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting gateway", "port", cfg.Port, "backend", cfg.Backend.BaseURL, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := prefs.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize preference store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close preference store", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Preference store health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Preference store connected")

	clientCfg := backend.DefaultClientConfig(cfg.Backend.BaseURL)
	clientCfg.Policy.Retries = cfg.Backend.Retries
	clientCfg.Policy.Backoff = cfg.Backend.Backoff
	clientCfg.ReadingPolicy.Retries = cfg.Backend.Retries
	clientCfg.ReadingPolicy.Backoff = cfg.Backend.Backoff
	clientCfg.ReadingPolicy.Timeout = cfg.Backend.ReadingTimeout
	client := backend.NewClient(clientCfg, logger)

	registry := session.NewRegistry(client, repo, session.Options{
		AdminMode:       cfg.Session.AdminMode,
		DevMode:         cfg.Session.DevMode,
		DefaultLanguage: cfg.Session.DefaultLanguage,
	}, cfg.Session.TTL, logger)

	// Initialize handlers.
	baseHandler := api.NewHandler(registry)
	sessionHandler := api.NewSessionHandler(baseHandler)
	nfcHandler := api.NewNFCHandler(baseHandler)
	chatHandler := api.NewChatHandler(baseHandler, cfg.FrontendURL, cfg.IsDevelopment())
	healthHandler := api.NewHealthHandler(repo)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{"*"}))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	// Routes.
	healthHandler.RegisterHealth(r)
	sessionHandler.RegisterRoutes(r)
	nfcHandler.RegisterRoutes(r)
	chatHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/chat", chatHandler.ServeStream)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // WebSocket streams stay open indefinitely
		IdleTimeout:  120 * time.Second,
	}

	// Start TTL sweeper.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry.StartSweeper(ctx)
	slog.Info("Session sweeper started", "session_ttl", cfg.Session.TTL)

	// Start server.
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

	slog.Info("Server stopped successfully")
}
