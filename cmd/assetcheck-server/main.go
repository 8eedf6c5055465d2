// Package main provides the HTTP API server for assetcheck.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raphaelgruber/assetcheck/internal/api"
	"github.com/raphaelgruber/assetcheck/internal/app"
	"github.com/raphaelgruber/assetcheck/internal/config"
)

func main() {
	syncOnStart := flag.Bool("sync", false, "drain the pending queue on startup")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger, cleanup := config.SetupLogger("server", cfg.LogFile, cfg.LogLevel)
	defer func() { _ = cleanup() }()
	slog.SetDefault(logger)

	logger.Info("starting assetcheck-server",
		"port", cfg.ServerPort,
		"backend", cfg.RemoteBackend,
		"local_db", cfg.LocalDB,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	a, err := app.New(ctx, cfg, logger)
	cancel()
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			logger.Error("failed to close", "error", err)
		}
	}()

	ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
	if err := a.Catalog.Reload(ctx); err != nil {
		// Cached or bundled procedures still let tests start offline.
		logger.Warn("catalog not loaded", "error", err)
	}
	cancel()

	if *syncOnStart || os.Getenv("ASSETCHECK_SYNC_ON_START") == "true" {
		job := a.Jobs.StartDrain(context.Background(), a.Coordinator)
		logger.Info("startup sync started", "job", job.ID)
	}

	handler := api.NewHandler(a.Catalog, a.Tests, a.Jobs, a.Coordinator, a.Metrics, logger)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      handler.Router(),
		ReadTimeout:  30 * time.Second, // attachment uploads
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("API available", "url", fmt.Sprintf("http://localhost:%d/", cfg.ServerPort))

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	logger.Info("server stopped")
}
