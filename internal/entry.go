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

	"github.com/starford/dagaz/internal/api"
	"github.com/starford/dagaz/internal/genclient"
	"github.com/starford/dagaz/internal/index"
	"github.com/starford/dagaz/internal/mcpserver"
	"github.com/starford/dagaz/internal/noteservice"
	"github.com/starford/dagaz/internal/pipeline"
	"github.com/starford/dagaz/internal/queue"
	"github.com/starford/dagaz/internal/sse"
	"github.com/starford/dagaz/internal/storage"
	"github.com/starford/dagaz/internal/vault"
)

// errShutdown marks a clean, signal-initiated stop so it can cancel
// the run group without being reported as a failure.
var errShutdown = errors.New("shutdown requested")

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

	// Initialize structured JSON logger. MCP mode owns stdout for the
	// protocol, so logs move to stderr there.
	logOut := os.Stdout
	if app.mcp {
		logOut = os.Stderr
	}
	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("vault_path", cfg.Vault.Path),
		slog.String("state_path", cfg.SQLite.StatePath),
		slog.Bool("vault_encrypted", cfg.Vault.Encrypted),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// Ensure vault directory exists.
	if err := os.MkdirAll(cfg.Vault.Path, 0o755); err != nil {
		return fmt.Errorf("create vault dir: %w", err)
	}

	// Initialize storage.
	store, err := storage.NewFS(cfg.Vault.Path)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}

	// Full-text search store. An encrypted vault forbids a plaintext
	// index on disk, so the store is removed and search degrades to
	// ledger scoring.
	var search *index.SearchStore
	if cfg.Vault.Encrypted {
		if err := index.RemoveSearchFiles(cfg.SQLite.SearchPath); err != nil {
			logger.Warn("remove search store failed", slog.String("error", err.Error()))
		}
	} else {
		search, err = index.OpenSearch(cfg.SQLite.SearchPath)
		if err != nil {
			return fmt.Errorf("init search store: %w", err)
		}
		defer search.Close()
	}

	engine := index.NewEngine(store, search, logger)

	// Reconcile the ledger against the vault before serving anything,
	// picking up notes edited or removed while the app was down.
	if err := engine.Reconcile(); err != nil {
		logger.Warn("initial reconcile failed", slog.String("error", err.Error()))
	}

	// Queue state database.
	qs, err := queue.Open(cfg.SQLite.StatePath)
	if err != nil {
		return fmt.Errorf("init queue store: %w", err)
	}
	defer qs.Close()

	// Generative backend and pipeline.
	gen := app.gen
	if gen == nil {
		gen = genclient.New(genclient.Config{
			APIKey:  cfg.Gemini.APIKey,
			BaseURL: cfg.Gemini.BaseURL,
			Model:   cfg.Gemini.Model,
		}, logger)
	}
	mode, err := pipeline.ParseMode(cfg.Gemini.Quality)
	if err != nil {
		return fmt.Errorf("parse quality mode: %w", err)
	}
	proc := pipeline.New(gen, mode, logger)

	writer := vault.NewWriter(store, logger)

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	gate := &queue.SystemGate{
		RequireCharging: cfg.Queue.RequireCharging,
		RequireNetwork:  cfg.Queue.RequireNetwork,
	}

	coord := queue.NewCoordinator(qs, store, proc, writer, engine, logger,
		queue.WithGate(gate),
		queue.WithNotifier(broker),
		queue.WithRescheduleDelay(cfg.Queue.RescheduleDelay()),
	)

	// Build service layer.
	svc := noteservice.NewService(store, engine, qs, coord)
	svc.SetBundleDefaults(index.BundleOptions{
		MaxNotes:    cfg.Retrieval.MaxNotes,
		CharBudget:  cfg.Retrieval.CharBudget,
		ExpandLinks: cfg.Retrieval.LinkExpand,
		MaxLinked:   4,
	})

	g, gCtx := errgroup.WithContext(ctx)

	// Start file watcher with SSE callback.
	g.Go(func() error {
		if err := index.Watch(gCtx, engine, logger, func() {
			broker.Publish(sse.Event{Type: "index.updated"})
		}); err != nil {
			logger.Warn("watcher unavailable", slog.String("error", err.Error()))
		}
		return nil
	})

	// Start the processing coordinator and resume any batches queued
	// before the last shutdown.
	g.Go(func() error {
		coord.Trigger()
		return coord.RunLoop(gCtx)
	})

	if app.mcp {
		// MCP stdio mode: serve tools on stdin/stdout, no HTTP.
		g.Go(func() error {
			logger.Info("Starting MCP server on stdio")
			return mcpserver.New(svc).ServeStdio()
		})

		g.Go(func() error {
			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			select {
			case sig := <-quit:
				logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
				return errShutdown
			case <-gCtx.Done():
				return nil
			}
		})

		err := g.Wait()
		if err != nil && !errors.Is(err, errShutdown) && !errors.Is(err, context.Canceled) {
			logger.Error("Application error", slog.String("error", err.Error()))
			return err
		}
		logger.Info("Server stopped successfully")
		return nil
	}

	apiRouter := api.NewRouter(svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

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

		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) && !errors.Is(err, context.Canceled) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}
