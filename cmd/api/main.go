// Command api is the Pricewise API server.
//
// Usage:
//
//	pricewise-api
//	API_PORT=8080 CRON_SCHEDULE="0 */6 * * *" pricewise-api

// @title Pricewise API
// @version 1.0.0
// @description Tracks product prices, reconciles them on a schedule and emails watchers about drops, record lows, deep discounts and restocks.
// @host localhost:8000
// @BasePath /api/v1
// @schemes http https
// @contact.name Pricewise
// @license.name MIT
// @securityDefinitions.apikey CronSecret
// @in header
// @name Authorization
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/albapepper/pricewise/internal/api"
	"github.com/albapepper/pricewise/internal/api/handler"
	"github.com/albapepper/pricewise/internal/app"
	"github.com/albapepper/pricewise/internal/config"
	"github.com/albapepper/pricewise/internal/schedule"

	_ "github.com/albapepper/pricewise/docs" // swagger docs
)

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)
	slog.SetDefault(logger)

	// Context with signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("Connecting to storage...", "driver", cfg.StorageDriver)
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.Close()
	logger.Info("Cache initialized", "enabled", cfg.CacheEnabled)

	// Optional in-process trigger
	if cfg.CronSchedule != "" {
		sched, err := schedule.New(cfg.CronSchedule, logger)
		if err != nil {
			logger.Error("Invalid CRON_SCHEDULE", "error", err)
			os.Exit(1)
		}
		go sched.Run(ctx, func(ctx context.Context) error {
			_, err := a.Runner.Run(ctx)
			return err
		})
	} else {
		logger.Info("Cron trigger disabled (no CRON_SCHEDULE); use GET /api/v1/cron")
	}

	router := api.NewRouter(handler.Deps{
		Products: a.Store,
		Runner:   a.Runner,
		Tracker:  a.Tracker,
		Cache:    a.Cache,
		Logger:   logger,

		AllowedHosts: cfg.ScraperAllowedHosts,
	}, cfg)

	addr := fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort)
	srv := &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: 10 * time.Second,
		// The trigger endpoint answers only after the run completes.
		WriteTimeout: cfg.RunTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Starting Pricewise API",
			"addr", addr,
			"environment", cfg.Environment,
			"docs", fmt.Sprintf("http://localhost:%d/docs/", cfg.APIPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", "error", err)
	}
	logger.Info("Server stopped")
}
