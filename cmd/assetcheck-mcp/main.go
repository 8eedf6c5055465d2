// Package main provides the entry point for the assetcheck MCP server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/raphaelgruber/assetcheck/internal/app"
	"github.com/raphaelgruber/assetcheck/internal/config"
	"github.com/raphaelgruber/assetcheck/internal/server"
	"github.com/raphaelgruber/assetcheck/internal/tools"
)

const version = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Stdout carries the protocol, so logs go to stderr and the file only.
	logger, cleanup := config.SetupLogger("mcp", cfg.LogFile, cfg.LogLevel)
	defer func() { _ = cleanup() }()

	logger.Info("assetcheck-mcp starting",
		"version", version,
		"backend", cfg.RemoteBackend,
		"local_db", cfg.LocalDB,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer func() {
		logger.Info("flushing sessions and closing local store")
		_ = a.Close(context.WithoutCancel(ctx))
	}()

	if err := a.Catalog.Reload(ctx); err != nil {
		logger.Warn("catalog not loaded", "error", err)
	}

	srv := server.New(version, logger, &tools.Dependencies{
		Catalog:     a.Catalog,
		Tests:       a.Tests,
		Jobs:        a.Jobs,
		Coordinator: a.Coordinator,
		Metrics:     a.Metrics,
		Logger:      logger,
	})
	srv.Setup()

	logger.Info("server ready, awaiting connections")

	if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}
