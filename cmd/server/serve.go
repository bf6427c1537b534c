package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/teecode611-cmyk/studio/internal/api"
	"github.com/teecode611-cmyk/studio/internal/config"
	"github.com/teecode611-cmyk/studio/internal/genai"
	"github.com/teecode611-cmyk/studio/internal/health"
	"github.com/teecode611-cmyk/studio/internal/identity"
	"github.com/teecode611-cmyk/studio/internal/live"
	"github.com/teecode611-cmyk/studio/internal/metrics"
	"github.com/teecode611-cmyk/studio/internal/middleware"
	"github.com/teecode611-cmyk/studio/internal/store"
	"github.com/teecode611-cmyk/studio/internal/tutor"
)

const (
	healthCheckTimeout  = 5 * time.Second
	grpcHealthInterval  = 15 * time.Second
	gracefulStopTimeout = 10 * time.Second
)

//nolint:funlen // Startup wiring is intentionally sequential to keep dependency setup explicit.
func runServe(_ *cobra.Command, _ []string) error {
	loadEnv()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)
	slog.Info("Starting server",
		"port", cfg.Port,
		"dev", cfg.IsDevelopment(),
		"db", cfg.DB.Driver,
		"provider", cfg.LLM.Provider,
		"model", cfg.LLM.Model,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies.
	base, err := openStore(ctx, cfg.DB)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer func() {
		if closeErr := base.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()
	if err := base.Ping(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	slog.Info("Database connected")

	hub := store.NewHub()
	repo := store.Observe(base, hub)
	collector := metrics.NewCollector(logger)

	gen, err := genai.NewGenerator(ctx, genai.ProviderConfig{
		Provider:    cfg.LLM.Provider,
		Model:       cfg.LLM.Model,
		APIKey:      cfg.LLM.APIKey,
		Temperature: cfg.LLM.Temperature,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize model backend: %w", err)
	}
	ai := genai.NewClient(gen, genai.Options{
		Timeout:           cfg.LLM.Timeout,
		RequestsPerMinute: cfg.LLM.RequestsPerMinute,
		Prompts:           cfg.Prompts,
		Metrics:           collector,
		Logger:            logger,
	})

	svc := tutor.NewService(repo, ai, tutor.Options{
		LearningContextSessions: cfg.Tutor.LearningContextSessions,
		SummaryIncludeHints:     cfg.Tutor.SummaryIncludeHints,
		MaxImageDimension:       cfg.Tutor.MaxImageDimension,
		Metrics:                 collector,
		Logger:                  logger,
	})

	limiter := api.NewRateLimiter(cfg.HTTP.RateLimitRequests, cfg.HTTP.RateLimitWindow)
	defer limiter.Close()

	// Initialize handlers.
	baseHandler := api.NewHandler(svc, repo, limiter, api.ServerInfo{
		Provider:            cfg.LLM.Provider,
		Model:               cfg.LLM.Model,
		TranscribeEnabled:   cfg.LLM.Provider != genai.ProviderAnthropic,
		SummaryIncludeHints: cfg.Tutor.SummaryIncludeHints,
		AuthEnabled:         cfg.Auth.JWTSecret != "",
		MaxRequestBodyBytes: cfg.HTTP.MaxRequestBodyBytes,
	})
	sessionHandler := api.NewSessionHandler(baseHandler)
	accountHandler := api.NewAccountHandler(baseHandler)
	healthHandler := health.NewHandler(repo, healthCheckTimeout)
	registry := live.NewRegistry()
	liveHandler := live.NewHandler(svc, repo, hub, registry, live.Options{
		AllowedOrigin: cfg.FrontendURL,
		IsDev:         cfg.IsDevelopment(),
		Metrics:       collector,
	})

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))

	// Public routes.
	healthHandler.RegisterRoutes(r)
	r.Handle("/metrics", promhttp.Handler())

	// Learner routes resolve identity first.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, identity.Options{
			IsDev:     cfg.IsDevelopment(),
			JWTSecret: cfg.Auth.JWTSecret,
		}))
		sessionHandler.RegisterRoutes(r)
		accountHandler.RegisterRoutes(r)
		r.Get("/ws/sessions/current", liveHandler.ServeHTTP)
	})

	// Model calls can run for LLM_TIMEOUT and live connections stay open, so
	// there is no write timeout.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       120 * time.Second,
	}

	// Start background workers.
	svc.StartSweeper(ctx, cfg.Tutor.SessionIdleTTL, func(key tutor.Key) {
		registry.CloseTab(key, "session expired")
	})

	if cfg.GRPCHealthPort != "" {
		grpcHealth := health.NewGRPCServer(repo, grpcHealthInterval, logger)
		go func() {
			if err := grpcHealth.ListenAndServe(ctx, ":"+cfg.GRPCHealthPort); err != nil {
				slog.Error("gRPC health server failed", "error", err)
			}
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// Wait for shutdown signal.
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		return fmt.Errorf("server failed: %w", err)
	}
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), gracefulStopTimeout)
	defer cancel()

	// Hijacked WebSocket connections are not tracked by Shutdown.
	registry.CloseAll("server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	if err := svc.Close(shutdownCtx); err != nil {
		slog.Error("Failed to flush session writes", "error", err)
	}

	slog.Info("Server stopped successfully")
	return nil
}
