// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"encoding/json"
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

	"github.com/starford/helmsman/internal/api"
	"github.com/starford/helmsman/internal/index"
	"github.com/starford/helmsman/internal/mcpserver"
)

// Run starts the HTTP server, the cache watcher and the signal handler.
func Run(ctx context.Context, opts ...Option) error {
	rt, err := newRuntime(newApplication(opts))
	if err != nil {
		return err
	}
	defer rt.Close()

	cfg := rt.cfg
	logger := rt.logger

	// Run initial sync.
	if report, err := index.Sync(rt.db, rt.cache, logger); err != nil {
		logger.Warn("initial sync failed", slog.String("error", err.Error()))
	} else {
		logger.Info("initial sync done",
			slog.Int("indexed", len(report.Indexed)),
			slog.Int("removed", len(report.Removed)))
	}

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           rt.httpHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Start cache watcher with SSE callback.
	g.Go(func() error {
		return index.Watch(gCtx, rt.db, rt.cache, logger, rt.broker.PublishContentEvent)
	})

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
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		// Close SSE streams first so Shutdown does not wait on them.
		rt.broker.Close()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return context.Canceled
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// httpHandler builds the root router: health and metrics at the top level,
// the API (including SSE) under /api.
func (rt *runtime) httpHandler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		writeStatus(w, http.StatusOK, "ok")
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := rt.svc.Ready(r.Context()); err != nil {
			rt.logger.Warn("readiness check failed", slog.String("error", err.Error()))
			writeStatus(w, http.StatusServiceUnavailable, "unavailable")
			return
		}
		writeStatus(w, http.StatusOK, "ok")
	})
	r.Handle("/metrics", rt.metrics.Handler())

	// Mount API routes under /api.
	auth := rt.cfg.Auth
	r.Mount("/api", api.NewRouter(rt.svc, auth.AuthEnabled(), auth.Token, rt.broker))
	return r
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = fmt.Fprintf(w, `{"status":%q}`, status)
}

// RunMCP serves the MCP tools on stdin/stdout. Logs go to stderr.
func RunMCP(_ context.Context, opts ...Option) error {
	opts = append([]Option{WithLogOutput(os.Stderr)}, opts...)
	app := newApplication(opts)
	rt, err := newRuntime(app)
	if err != nil {
		return err
	}
	defer rt.Close()

	rt.logger.Info("MCP server starting on stdio")
	return mcpserver.New(rt.svc, app.version).ServeStdio()
}

// RunFetch fetches one document and writes its parsed tree as JSON.
func RunFetch(ctx context.Context, path string, refresh bool, opts ...Option) error {
	app := newApplication(opts)
	rt, err := newRuntime(app)
	if err != nil {
		return err
	}
	defer rt.Close()

	doc, err := rt.svc.GetDocument(ctx, path, refresh)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", path, err)
	}
	if doc.Warning != "" {
		rt.logger.Warn("served stale copy", slog.String("path", doc.Path), slog.String("reason", doc.Warning))
	}
	return writeResult(app, doc)
}

// RunDeck syncs deck folders and writes the decks as JSON. With no folders
// the configured remote.decks are synced.
func RunDeck(ctx context.Context, folders []string, refresh bool, opts ...Option) error {
	app := newApplication(opts)
	rt, err := newRuntime(app)
	if err != nil {
		return err
	}
	defer rt.Close()

	if len(folders) == 0 {
		folders = rt.cfg.Remote.Decks
	}
	if len(folders) == 0 {
		return fmt.Errorf("no deck folders given and remote.decks is empty")
	}

	decks, syncErr := rt.svc.SyncDecks(ctx, folders, refresh)
	for _, d := range decks {
		if d != nil && d.RateLimited {
			rt.logger.Warn("deck sync stopped on exhausted quota",
				slog.String("folder", d.Folder),
				slog.Int("skipped", len(d.Skipped)))
		}
	}
	if err := writeResult(app, decks); err != nil {
		return err
	}
	return syncErr
}

// Cache actions accepted by RunCache.
const (
	CachePrune = "prune"
	CacheClear = "clear"
)

// RunCache prunes stale cache entries or clears the cache.
func RunCache(ctx context.Context, action string, opts ...Option) error {
	app := newApplication(opts)
	rt, err := newRuntime(app)
	if err != nil {
		return err
	}
	defer rt.Close()

	switch action {
	case CachePrune:
		n, err := rt.svc.PruneCache(ctx)
		if err != nil {
			return fmt.Errorf("prune cache: %w", err)
		}
		rt.logger.Info("cache pruned", slog.Int("removed", n))
		return writeResult(app, map[string]int{"removed": n})
	case CacheClear:
		if err := rt.svc.ClearCache(ctx); err != nil {
			return fmt.Errorf("clear cache: %w", err)
		}
		rt.logger.Info("cache cleared")
		return nil
	default:
		return fmt.Errorf("unknown cache action %q", action)
	}
}

func writeResult(app *application, v any) error {
	enc := json.NewEncoder(app.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
