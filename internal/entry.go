// Package internal provides the main application initialization and runtime logic.
package internal

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
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/veldrane/eidolon/internal/api"
	"github.com/veldrane/eidolon/internal/catalog"
	"github.com/veldrane/eidolon/internal/executor"
	"github.com/veldrane/eidolon/internal/notices"
	"github.com/veldrane/eidolon/internal/opclient"
	"github.com/veldrane/eidolon/internal/relay"
	"github.com/veldrane/eidolon/internal/store"
	"github.com/veldrane/eidolon/internal/templates"
)

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("store_path", cfg.Store.Path),
		slog.String("catalog_root", cfg.Catalog.RootName),
		slog.String("templates_path", cfg.Templates.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// Ensure template directory exists.
	if err := os.MkdirAll(cfg.Templates.Path, 0o755); err != nil {
		return fmt.Errorf("create templates dir: %w", err)
	}

	// Initialize record store.
	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()

	// Load canonical templates.
	if err := templates.Sync(db, cfg.Templates.Path, logger); err != nil {
		logger.Warn("initial template sync failed", slog.String("error", err.Error()))
	}

	// Notices broker for the privileged stream.
	broker := notices.NewBroker()

	// Relay hub and this process's executor. This process is the elected
	// executor; remote peers reach it over the HTTP relay surface.
	hub := relay.NewHub()
	mirrors := catalog.NewSynchronizer(db, logger, cfg.Catalog.RootName)
	exec := executor.New(db, mirrors, broker, logger, cfg.Templates.ContainerName)
	hub.Elect(exec)

	// Session-start repair pass: the folder tree must hold before any
	// mirror operation runs.
	manager := catalog.NewManager(db, logger, cfg.Catalog.RootName)
	if err := manager.Repair(); err != nil {
		return fmt.Errorf("catalog repair: %w", err)
	}

	// Operation client and API surface.
	client := opclient.New(hub, exec)
	handler := api.NewHandler(client, db, cfg.Entry.ReopenInterval)
	apiRouter := api.NewRouter(handler, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Start template directory watcher.
	if cfg.Templates.Watch {
		g.Go(func() error {
			if err := templates.Watch(gCtx, db, cfg.Templates.Path, logger); err != nil {
				logger.Warn("template watcher stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		hub.Resign(exec.ID())
		hub.Close()
		broker.Close()

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}
