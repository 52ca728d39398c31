// Service vermap is the map backend – the public entry-point for map
// clients. It polls device location streams from the remote-management
// platform, persists them, and fans live updates out over SSE and WebSocket.
//
//	@title			VerMap API
//	@version		1.0
//	@description	Device location ingest and live map API.
//	@host			localhost:8080
//	@BasePath		/
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/ver-mac/DRM-VerMap/internal/api"
	"github.com/ver-mac/DRM-VerMap/internal/broker"
	"github.com/ver-mac/DRM-VerMap/internal/config"
	"github.com/ver-mac/DRM-VerMap/internal/db"
	"github.com/ver-mac/DRM-VerMap/internal/drm"
	"github.com/ver-mac/DRM-VerMap/internal/httpx"
	"github.com/ver-mac/DRM-VerMap/internal/models"
	"github.com/ver-mac/DRM-VerMap/internal/poller"
	"github.com/ver-mac/DRM-VerMap/internal/store"

	_ "github.com/ver-mac/DRM-VerMap/docs/swagger" // generated swagger docs
)

func main() {
	cfg := config.LoadVerMap()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	})))

	connCtx, connCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer connCancel()

	pool, err := db.Connect(connCtx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if cfg.MigrationsDir != "" {
		if err := db.Migrate(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
			slog.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
	}

	drmClient, err := drm.NewClient(
		httpx.NewClient(cfg.UpstreamTimeout, cfg.UpstreamRetries),
		cfg.DRMBaseURL, cfg.DRMUsername, cfg.DRMPassword,
	)
	if err != nil {
		slog.Error("failed to build platform client", "error", err)
		os.Exit(1)
	}

	st := store.NewStore(pool)
	br := broker.NewBroker(cfg.SubscriberBuffer)
	sup := poller.NewSupervisor(poller.Config{
		Interval: cfg.PollInterval,
		Backoff:  cfg.PollBackoff,
		PageSize: cfg.PollPageSize,
	}, drmClient, st, br)
	handler := api.NewHandler(st, drmClient, br, sup, cfg.KeepAliveInterval)

	// Keep the device inventory fresh via an owner goroutine.
	syncCtx, syncCancel := context.WithCancel(context.Background())
	defer syncCancel()
	go deviceSyncLoop(syncCtx, drmClient, st, cfg.DeviceSyncInterval)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSOrigins,
			AllowedMethods:   []string{"GET", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: true,
		}))
	}

	// Health probes.
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, models.HealthResponse{Status: "ok", Service: "vermap"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Healthy(r.Context(), pool); err != nil {
			writeJSON(w, http.StatusServiceUnavailable,
				models.HealthResponse{Status: "unavailable", Service: "vermap"})
			return
		}
		writeJSON(w, http.StatusOK, models.HealthResponse{Status: "ready", Service: "vermap"})
	})

	// API routes. The streaming endpoints hold their connections open, so
	// they are mounted outside the request timeout group.
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Get("/api/devices", handler.Devices)
		r.Get("/api/history", handler.History)
		r.Get("/api/location/latest", handler.Latest)
		r.Get("/api/pollers", handler.Pollers)
		r.Get("/metrics", handler.Metrics)
	})
	r.Get("/api/stream/location/{deviceID}", handler.StreamSSE)
	r.Get("/api/stream/ws/{deviceID}", handler.StreamWS)

	// Swagger UI.
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	serve(cfg.Base, r)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := sup.Shutdown(shutdownCtx); err != nil {
		slog.Error("poller shutdown error", "error", err)
	}
}

// deviceSyncLoop primes the device inventory at startup and refreshes it
// periodically. Failures are logged and retried on the next tick.
func deviceSyncLoop(ctx context.Context, client *drm.Client, st *store.Store, interval time.Duration) {
	syncDevices(ctx, client, st)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("device sync stopped")
			return
		case <-ticker.C:
			syncDevices(ctx, client, st)
		}
	}
}

func syncDevices(ctx context.Context, client *drm.Client, st *store.Store) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	records, err := client.ListDevices(ctx, false, 1000)
	if err != nil {
		slog.Warn("device inventory fetch failed", "error", err)
		return
	}

	rows := make([]store.DeviceRow, 0, len(records))
	for _, rec := range records {
		rows = append(rows, store.DeviceRow{
			ID:       rec.ID,
			Name:     strPtr(rec.Name),
			Type:     strPtr(rec.Type),
			Firmware: strPtr(rec.Firmware),
		})
	}
	if err := st.UpsertDevices(ctx, rows); err != nil {
		slog.Warn("device inventory upsert failed", "error", err)
		return
	}
	slog.Info("device inventory synced", "devices", len(rows))
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func serve(cfg config.Base, handler http.Handler) {
	srv := &http.Server{
		Addr:        cfg.Addr(),
		Handler:     handler,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("vermap listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
	case err := <-errCh:
		slog.Error("server error", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
