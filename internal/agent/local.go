package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/raphaelgruber/flock/internal/config"
	"github.com/raphaelgruber/flock/internal/toolhost"
)

// OpenTools connects to the tool host described by cfg: an external MCP
// server when ToolCommand is set, otherwise an in-process server rooted at ToolRoot.
func OpenTools(ctx context.Context, cfg config.Config, version string, logger *slog.Logger) (*toolhost.Executor, error) {
	if fields := strings.Fields(cfg.ToolCommand); len(fields) > 0 {
		return toolhost.NewCommand(ctx, logger, fields[0], fields[1:]...)
	}

	srv, err := toolhost.New(version, cfg.ToolRoot, logger)
	if err != nil {
		return nil, err
	}
	return toolhost.NewInProcess(ctx, srv, logger)
}

// NewLocal builds an agent for the configured provider with the tool host
// attached. The returned close function shuts the tool host down.
func NewLocal(ctx context.Context, cfg config.Config, version string, logger *slog.Logger) (*Agent, func() error, error) {
	model, err := NewModel(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	tools, err := OpenTools(ctx, cfg, version, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open tools: %w", err)
	}

	a := New(model,
		WithTools(tools),
		WithMaxSteps(cfg.MaxSteps),
		WithLogger(logger),
	)
	return a, tools.Close, nil
}
