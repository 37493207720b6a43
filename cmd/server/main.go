// Package main is the entry point for the spoolsync server.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rainman19121979/spoolsync/internal/client"
	"github.com/rainman19121979/spoolsync/internal/config"
	"github.com/rainman19121979/spoolsync/internal/database"
	"github.com/rainman19121979/spoolsync/internal/handler"
	"github.com/rainman19121979/spoolsync/internal/middleware"
	"github.com/rainman19121979/spoolsync/internal/store"
	syncpkg "github.com/rainman19121979/spoolsync/internal/sync"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Setup structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.Log.Level),
	}))
	slog.SetDefault(logger)

	logger.Info("Starting spoolsync",
		slog.String("addr", cfg.Server.Addr()),
		slog.String("database", cfg.Database.Path),
	)

	// Open the embedded database
	db, err := database.Open(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	// Run migrations
	if err := db.RunMigrations(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	logger.Info("Database migrations completed")

	// Repositories
	settings := store.NewSettingsRepository(db.DB())
	filaments := store.NewFilamentRepository(db.DB())
	spools := store.NewSpoolRepository(db.DB())
	links := store.NewLinkRepository(db.DB())
	changes := store.NewChangeLogRepository(db.DB())

	// Sync engine
	reporter := syncpkg.NewStatusReporter()
	if last := settings.LastSyncTime(context.Background()); !last.IsZero() {
		reporter.SetLastSyncTime(last)
	}

	reconciler := syncpkg.NewReconciler(
		clientFactory(settings),
		settings, filaments, spools, links, changes,
		reporter, logger,
	)

	scheduler := syncpkg.NewScheduler(reconciler, settings.SyncInterval(context.Background()), logger)
	scheduler.Start(context.Background())
	defer scheduler.Stop()

	// Handlers
	syncHandler := handler.NewSyncHandler(scheduler, reporter, logger)
	settingsHandler := handler.NewSettingsHandler(settings, scheduler, logger)
	inventoryHandler := handler.NewInventoryHandler(filaments, spools, changes)

	// Setup router
	r := chi.NewRouter()

	// Global middleware stack
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())
	r.Use(middleware.Metrics())
	r.Use(chimiddleware.Timeout(30 * time.Second))

	r.Get("/health", healthHandler())
	r.Get("/ready", readyHandler(db))
	r.Handle("/metrics", promhttp.Handler())

	r.Mount("/sync", syncHandler.Routes())
	r.Get("/status", syncHandler.Status)
	r.Mount("/settings", settingsHandler.Routes())
	inventoryHandler.Register(r)

	// Create server
	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  time.Minute,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Info("Shutting down", slog.String("signal", sig.String()))

	scheduler.Stop()

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server shutdown error: %v", err)
	}

	logger.Info("Server stopped gracefully")
}

// clientFactory builds upstream clients from the current stored settings so
// that settings changes apply on the next tick without a restart.
func clientFactory(settings store.SettingsRepository) syncpkg.ClientFactory {
	return func(ctx context.Context) (syncpkg.InvAPI, syncpkg.CloudAPI, error) {
		invBase, err := settings.Get(ctx, store.KeyInvBase)
		if err != nil {
			return nil, nil, err
		}
		cloudBase, err := settings.Get(ctx, store.KeyCloudBase)
		if err != nil {
			return nil, nil, err
		}
		orgID, err := settings.Get(ctx, store.KeyCloudOrgID)
		if err != nil {
			return nil, nil, err
		}
		token, err := settings.GetSecret(ctx, store.KeyCloudToken)
		if err != nil {
			return nil, nil, err
		}
		if orgID == "" || token == "" {
			return nil, nil, fmt.Errorf("cloud credentials are not configured")
		}
		return client.NewInv(invBase), client.NewCloud(cloudBase, orgID, token), nil
	}
}

func logLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// healthHandler reports liveness: the process is up.
func healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}
}

// readyHandler reports readiness: the database answers.
func readyHandler(db *database.SQLite) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if err := db.Ping(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"error","component":"database"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok","database":"connected"}`))
	}
}
