package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/raphaelgruber/flock/internal/agent"
	"github.com/raphaelgruber/flock/internal/client"
	"github.com/raphaelgruber/flock/internal/config"
	"github.com/raphaelgruber/flock/internal/stream"
	"github.com/raphaelgruber/flock/internal/stream/streamtest"
)

// newStreamer builds the assistant transport named by c.Transport.
// The close function releases whatever the transport holds open.
func newStreamer(ctx context.Context, c config.Config, logger *slog.Logger) (stream.Streamer, func() error, error) {
	noop := func() error { return nil }

	switch c.Transport {
	case config.TransportHTTP:
		return client.New(c.Endpoint,
			client.WithTimeout(c.ClientTimeout),
			client.WithLogger(logger),
		), noop, nil

	case config.TransportWebSocket:
		return client.NewWebSocket(c.Endpoint, client.WithLogger(logger)), noop, nil

	case config.TransportLocal:
		a, closeFn, err := agent.NewLocal(ctx, c, Version, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("start local assistant: %w", err)
		}
		return a, closeFn, nil

	case config.TransportEcho:
		return streamtest.Echo{}, noop, nil

	default:
		return nil, nil, fmt.Errorf("unknown transport %q (want http, ws, local or echo)", c.Transport)
	}
}
