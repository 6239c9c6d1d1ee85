// walink - multi-session device-link gateway server
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

	"github.com/ashureev/walink/internal/api"
	"github.com/ashureev/walink/internal/command"
	"github.com/ashureev/walink/internal/config"
	"github.com/ashureev/walink/internal/linking"
	"github.com/ashureev/walink/internal/media"
	"github.com/ashureev/walink/internal/middleware"
	"github.com/ashureev/walink/internal/session"
	"github.com/ashureev/walink/internal/store"
	"github.com/ashureev/walink/internal/transport"
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

	slog.Info("Starting server", "port", cfg.Port, "gateway", cfg.GatewayURL)

	// Initialize dependencies.
	creds, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize credential store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := creds.Close(); closeErr != nil {
			slog.Error("Failed to close credential store", "error", closeErr)
		}
	}()

	if err := creds.Ping(context.Background()); err != nil {
		slog.Error("Credential store health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Credential store connected")

	// Root lifecycle context: cancellation stops every session loop and the
	// artifact sweeper.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	artifacts := linking.NewCache()
	artifacts.StartSweeper(ctx, cfg.ArtifactTTL)

	dispatcher := command.NewDispatcher(command.Ping{}, command.Whoami{})
	dispatcher.Register(command.Help{Dispatcher: dispatcher})

	dialer := transport.NewGatewayDialer(cfg.GatewayURL)
	registry := session.NewRegistry(ctx, dialer, creds, artifacts, dispatcher, cfg.Reconnect)
	bridge := media.NewBridge(registry)

	handler := api.NewHandler(registry, artifacts, bridge, creds, cfg)

	// Setup router.
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))

	handler.RegisterRoutes(r)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

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

	registry.Shutdown()
	slog.Info("Server stopped successfully")
}
