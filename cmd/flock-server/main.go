// Package main serves the local assistant over the flock streaming protocol.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/raphaelgruber/flock/internal/agent"
	"github.com/raphaelgruber/flock/internal/config"
	"github.com/raphaelgruber/flock/internal/endpoint"
	"github.com/raphaelgruber/flock/internal/stream"
	"github.com/raphaelgruber/flock/internal/stream/streamtest"
)

const version = "0.1.0"

func main() {
	// Parse flags
	echo := flag.Bool("echo", false, "answer by echoing the last message instead of calling a model (testing only)")
	flag.Parse()

	// Load configuration
	cfg := config.Load()

	// Initialize logging
	logger, cleanup := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer func() { _ = cleanup() }()

	logger.Info("starting flock-server",
		"version", version,
		"port", cfg.ServerPort,
		"provider", cfg.LLMProvider,
		"model", cfg.LLMModel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Create the assistant with its tool host
	var streamer stream.Streamer = streamtest.Echo{}
	if !*echo {
		a, closeTools, err := agent.NewLocal(ctx, cfg, version, logger)
		if err != nil {
			logger.Error("failed to create assistant", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := closeTools(); err != nil {
				logger.Error("failed to close tool host", "error", err)
			}
		}()
		streamer = a
	}

	httpServer := &http.Server{
		Addr:        ":" + cfg.ServerPort,
		Handler:     endpoint.New(streamer, endpoint.WithLogger(logger)),
		ReadTimeout: 5 * time.Second,
		// No WriteTimeout: replies stream for as long as the tool loop runs
		IdleTimeout: 120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("endpoint available", "url", fmt.Sprintf("http://localhost:%s/reply", cfg.ServerPort))
		logger.Info("websocket available", "url", fmt.Sprintf("ws://localhost:%s/ws", cfg.ServerPort))
		logger.Info("metrics available", "url", fmt.Sprintf("http://localhost:%s/metrics", cfg.ServerPort))

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server...")

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
