package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpAdapter "github.com/lorrc/taskboard-realtime/internal/adapters/primary/http"
	mw "github.com/lorrc/taskboard-realtime/internal/adapters/primary/http/middleware"
	"github.com/lorrc/taskboard-realtime/internal/adapters/primary/websocket"
	"github.com/lorrc/taskboard-realtime/internal/auth"
	"github.com/lorrc/taskboard-realtime/internal/config"
	"github.com/lorrc/taskboard-realtime/internal/infrastructure/logging"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// 2. Initialize Structured Logger
	logger := logging.NewLogger(logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      os.Stdout,
		ServiceName: cfg.App.Name,
		Environment: cfg.App.Environment,
	})

	logger.Info("starting realtime broker",
		"version", cfg.App.Version,
		"environment", cfg.App.Environment,
		"publishing_enabled", cfg.PublishingEnabled(),
	)
	if !cfg.PublishingEnabled() {
		logger.Warn("REALTIME_PUBLISH_SECRET is unset: change notifications are disabled")
	}

	// 3. Initialize Security & Real-time Components
	tokenManager := auth.NewTokenManager(cfg.JWT.Secret, cfg.JWT.AccessTokenTTL)
	hub := websocket.NewHub(cfg.WebSocket.HeartbeatInterval, clockwork.NewRealClock(), logger)
	go hub.Run()
	defer hub.Shutdown()

	// 4. Initialize Rate Limiter for the upgrade endpoint
	var upgradeRateLimiter *mw.RateLimiter
	if cfg.RateLimit.Enabled {
		upgradeRateLimiter = mw.NewRateLimiter(mw.RateLimiterConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			BurstSize:         cfg.RateLimit.BurstSize,
		})
	}

	// 5. Handlers (Primary Adapters)
	wsHandler := httpAdapter.NewWebSocketHandler(hub, tokenManager, cfg, logger)
	eventsHandler := httpAdapter.NewEventsHandler(hub, cfg.Realtime.PublishSecret, logger)
	healthHandler := httpAdapter.NewHealthHandler(hub, cfg.App.Version)

	// 6. Setup Router
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.RequestID)
	r.Use(mw.RequestLogger(logger))
	r.Use(mw.RecoveryLogger(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.WebSocket.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// Health and metrics (outside /api/v1 for standard probe paths)
	r.Get("/healthz", healthHandler.HandleHealth)
	r.Get("/health/live", healthHandler.HandleLiveness)
	r.Handle("/metrics", promhttp.Handler())

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket route (Authentication is handled inside the handler)
		r.Group(func(r chi.Router) {
			if upgradeRateLimiter != nil {
				r.Use(upgradeRateLimiter.Middleware)
			}
			r.Get("/ws", wsHandler.ServeHTTP)
		})

		// Internal publish route, guarded by the pre-shared secret
		r.Post("/events", eventsHandler.HandlePublish)
	})

	// 7. Start Server with Graceful Shutdown
	srv := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Info("shutdown signal received", "signal", sig.String())

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Close live connections before stopping the listener
	hub.Shutdown()

	// Graceful shutdown
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server shutdown complete")
}
