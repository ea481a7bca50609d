package client

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/raphaelgruber/flock/internal/stream"
)

// WebSocket streams exchanges over a websocket, one connection per exchange.
type WebSocket struct {
	endpoint string
	dialer   websocket.Dialer
	logger   *slog.Logger
}

// WebSocketURL derives the websocket URL from an HTTP endpoint:
// the scheme becomes ws or wss, and a trailing /reply or an empty path
// becomes /ws.
func WebSocketURL(endpoint string) string {
	endpoint = strings.Replace(endpoint, "http://", "ws://", 1)
	endpoint = strings.Replace(endpoint, "https://", "wss://", 1)
	if base, ok := strings.CutSuffix(endpoint, "/reply"); ok {
		return base + "/ws"
	}
	if u, err := url.Parse(endpoint); err == nil && u.Host != "" && (u.Path == "" || u.Path == "/") {
		u.Path = "/ws"
		return u.String()
	}
	return endpoint
}

// NewWebSocket creates a websocket streamer. endpoint may be an HTTP /reply
// URL or a ws:// URL; empty falls back like New.
func NewWebSocket(endpoint string, opts ...Option) *WebSocket {
	o := buildOptions(opts)
	return &WebSocket{
		endpoint: WebSocketURL(resolveEndpoint(endpoint)),
		dialer:   websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger:   o.logger,
	}
}

// Endpoint returns the websocket URL.
func (w *WebSocket) Endpoint() string {
	return w.endpoint
}

// Stream implements stream.Streamer.
func (w *WebSocket) Stream(ctx context.Context, request stream.Request, handle stream.Handler) error {
	u, err := url.Parse(w.endpoint)
	if err != nil {
		return fmt.Errorf("parse endpoint: %w", err)
	}

	conn, _, err := w.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("websocket connect: %w", err)
	}

	// Track connection state for proper cleanup
	var mu sync.Mutex
	closed := false
	closeConn := func() {
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			conn.Close()
		}
	}
	defer closeConn()

	requestID := uuid.NewString()
	start := stream.StartFrame{Type: stream.FrameStart, RequestID: requestID, Request: request}
	if err := conn.WriteJSON(start); err != nil {
		return fmt.Errorf("send start: %w", err)
	}

	// Handle context cancellation in a separate goroutine
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			closeConn()
		case <-done:
		}
	}()

	for {
		var frame stream.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("read frame: %w", err)
		}

		if frame.Type == stream.FrameDone {
			w.logger.Debug("websocket exchange done", "session_id", request.SessionID, "request_id", requestID)
			return nil
		}
		ev := frame.Event()
		if ev == nil {
			// Ignore unknown frame types
			continue
		}
		if err := handle(ev); err != nil {
			return err
		}
	}
}
