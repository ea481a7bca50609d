// Package main provides the flock tool host as an MCP server over stdio.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/raphaelgruber/flock/internal/config"
	"github.com/raphaelgruber/flock/internal/toolhost"
)

const version = "0.1.0"

func main() {
	root := flag.String("root", "", "directory the tools may read (default $FLOCK_TOOL_ROOT)")
	flag.Parse()

	// Load configuration
	cfg := config.Load()
	if *root != "" {
		cfg.ToolRoot = *root
	}

	// Setup logger (dual output: stderr text + file JSON); stdout carries the protocol
	logger, cleanup := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer func() { _ = cleanup() }()

	logger.Info("flock-tools starting", "version", version, "root", cfg.ToolRoot)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	srv, err := toolhost.New(version, cfg.ToolRoot, logger)
	if err != nil {
		logger.Error("failed to create tool host", "error", err)
		os.Exit(1)
	}

	logger.Info("server ready, awaiting connections")

	// Run server (blocks until disconnect or context cancelled)
	if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}
