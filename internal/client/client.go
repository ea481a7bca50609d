// Package client provides Streamers that talk to a remote flock endpoint.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/raphaelgruber/flock/internal/stream"
)

// DefaultEndpoint is used when neither an argument nor FLOCK_ENDPOINT names one.
const DefaultEndpoint = "http://localhost:8484/reply"

// maxErrorBody bounds how much of a failed response is quoted in the error.
const maxErrorBody = 4 << 10

// Client streams exchanges from a /reply endpoint in the data stream format.
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client or a WebSocket.
type Option func(*options)

type options struct {
	httpClient *http.Client
	logger     *slog.Logger
	timeout    time.Duration
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) {
		o.httpClient = hc
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithTimeout bounds a whole exchange, including reading the stream.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

func buildOptions(opts []Option) options {
	o := options{
		logger:  slog.Default(),
		timeout: 10 * time.Minute, // long tool loops
	}
	if t := os.Getenv("FLOCK_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			o.timeout = d
		}
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// resolveEndpoint applies the FLOCK_ENDPOINT and default fallbacks.
func resolveEndpoint(endpoint string) string {
	if endpoint == "" {
		endpoint = os.Getenv("FLOCK_ENDPOINT")
	}
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return endpoint
}

// New creates a client for the data stream endpoint.
// If endpoint is empty, uses FLOCK_ENDPOINT or DefaultEndpoint.
// The timeout can be set with FLOCK_CLIENT_TIMEOUT (default 10m).
func New(endpoint string, opts ...Option) *Client {
	o := buildOptions(opts)
	hc := o.httpClient
	if hc == nil {
		hc = &http.Client{Timeout: o.timeout}
	}
	return &Client{
		endpoint:   resolveEndpoint(endpoint),
		httpClient: hc,
		logger:     o.logger,
	}
}

// Endpoint returns the URL exchanges are posted to.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Stream implements stream.Streamer.
func (c *Client) Stream(ctx context.Context, request stream.Request, handle stream.Handler) error {
	body, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/plain")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("server error: %s - %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	err = stream.ReadLines(resp.Body, handle)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	c.logger.Debug("reply stream closed",
		"session_id", request.SessionID,
		"duration_ms", time.Since(start).Milliseconds(),
		"error", err)
	return err
}
