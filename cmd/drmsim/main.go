// Service drmsim is a stand-in for the remote-management platform. It
// serves the inventory and stream endpoints the map backend polls, backed
// by a simulated fleet walking around its seed positions.
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

	"github.com/ver-mac/DRM-VerMap/internal/config"
	"github.com/ver-mac/DRM-VerMap/internal/drmsim"
	"github.com/ver-mac/DRM-VerMap/internal/models"
)

func main() {
	cfg := config.LoadDRMSim()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	})))

	devices := drmsim.DefaultFleet()
	if cfg.SeedCSVPath != "" {
		var err error
		devices, err = drmsim.LoadSeedCSV(cfg.SeedCSVPath)
		if err != nil {
			slog.Error("failed to load seed csv", "error", err)
			os.Exit(1)
		}
	}

	fleet := drmsim.NewFleet(devices, cfg.StepDegrees, cfg.HistoryCap)

	// Advance the walk via an owner goroutine.
	walkCtx, walkCancel := context.WithCancel(context.Background())
	defer walkCancel()
	go fleet.Run(walkCtx, cfg.TickInterval)

	handler := drmsim.NewHandler(fleet)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, models.HealthResponse{Status: "ok", Service: "drmsim"})
	})

	// Platform-shaped routes.
	r.Get("/ws/v1/devices/inventory", handler.Devices)
	r.Get("/ws/v1/streams/inventory/{deviceID}/{stream}", handler.Latest)
	r.Get("/ws/v1/streams/history/{deviceID}/{stream}", handler.History)

	serve(cfg.Base, r)
}

func serve(cfg config.Base, handler http.Handler) {
	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("drmsim listening", "addr", srv.Addr)
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
