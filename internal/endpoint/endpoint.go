// Package endpoint serves an assistant Streamer over HTTP: a data stream at
// /reply, websocket frames at /ws, plus /health and /metrics.
package endpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/raphaelgruber/flock/internal/stream"
)

// maxRequestBytes bounds a decoded request body.
const maxRequestBytes = 8 << 20

// Handler routes endpoint requests to a Streamer.
type Handler struct {
	streamer stream.Streamer
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *serverMetrics
	upgrader websocket.Upgrader
	mux      *http.ServeMux
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithRegistry registers metrics with reg instead of a private registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(h *Handler) {
		if reg != nil {
			h.registry = reg
		}
	}
}

// New creates a handler serving streamer.
func New(streamer stream.Streamer, opts ...Option) *Handler {
	h := &Handler{
		streamer: streamer,
		logger:   slog.Default(),
		registry: prometheus.NewRegistry(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // local tool, any origin
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	h.metrics = newServerMetrics(h.registry)

	h.mux = http.NewServeMux()
	h.mux.HandleFunc("POST /reply", h.serveReply)
	h.mux.HandleFunc("GET /ws", h.serveWebSocket)
	h.mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	h.mux.Handle("GET /metrics", promhttp.HandlerFor(h.registry, promhttp.HandlerOpts{}))
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func validate(req stream.Request) error {
	if len(req.Messages) == 0 {
		return errors.New("messages cannot be empty")
	}
	return nil
}

func (h *Handler) serveReply(w http.ResponseWriter, r *http.Request) {
	var req stream.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		h.metrics.exchanges.WithLabelValues("http", outcomeRejected).Inc()
		http.Error(w, "invalid request: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := validate(req); err != nil {
		h.metrics.exchanges.WithLabelValues("http", outcomeRejected).Inc()
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Vercel-AI-Data-Stream", "v1")
	w.WriteHeader(http.StatusOK)

	err := h.run(r.Context(), "http", req, func(ev stream.Event) error {
		line, err := stream.EncodeLine(ev)
		if err != nil {
			return err
		}
		if _, err := w.Write(line); err != nil {
			return fmt.Errorf("write line: %w", err)
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	})
	if err != nil && r.Context().Err() == nil {
		if line, encErr := stream.EncodeLine(stream.Error{Message: err.Error()}); encErr == nil {
			_, _ = w.Write(line)
		}
	}
}

func (h *Handler) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	var start stream.StartFrame
	if err := conn.ReadJSON(&start); err != nil {
		h.logger.Debug("websocket closed before start", "error", err)
		return
	}
	if start.Type != stream.FrameStart {
		h.writeFinalFrame(conn, fmt.Errorf("expected %s frame, got %q", stream.FrameStart, start.Type))
		return
	}
	if err := validate(start.Request); err != nil {
		h.metrics.exchanges.WithLabelValues("ws", outcomeRejected).Inc()
		h.writeFinalFrame(conn, err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Any read error means the client went away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	err = h.run(ctx, "ws", start.Request, func(ev stream.Event) error {
		frame, err := stream.ToFrame(ev)
		if err != nil {
			return err
		}
		return conn.WriteJSON(frame)
	})
	if ctx.Err() != nil {
		return
	}
	h.writeFinalFrame(conn, err)
}

// writeFinalFrame reports err, if any, and then ends the exchange.
func (h *Handler) writeFinalFrame(conn *websocket.Conn, err error) {
	if err != nil {
		_ = conn.WriteJSON(stream.Frame{Type: stream.FrameError, Error: err.Error()})
	}
	_ = conn.WriteJSON(stream.Frame{Type: stream.FrameDone})
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// run streams one exchange and records its metrics.
func (h *Handler) run(ctx context.Context, transport string, req stream.Request, write stream.Handler) error {
	h.metrics.inFlight.Inc()
	defer h.metrics.inFlight.Dec()

	start := time.Now()
	err := h.streamer.Stream(ctx, req, func(ev stream.Event) error {
		if err := write(ev); err != nil {
			return err
		}
		h.metrics.events.WithLabelValues(eventType(ev)).Inc()
		return nil
	})
	duration := time.Since(start)
	h.metrics.duration.WithLabelValues(transport).Observe(duration.Seconds())

	outcome := outcomeOK
	switch {
	case ctx.Err() != nil:
		outcome = outcomeCancelled
	case err != nil:
		outcome = outcomeFailed
	}
	h.metrics.exchanges.WithLabelValues(transport, outcome).Inc()

	attrs := []any{
		"transport", transport,
		"session_id", req.SessionID,
		"messages", len(req.Messages),
		"outcome", outcome,
		"duration_ms", duration.Milliseconds(),
	}
	if err != nil && outcome == outcomeFailed {
		h.logger.Error("exchange failed", append(attrs, "error", err)...)
	} else {
		h.logger.Info("exchange served", attrs...)
	}
	if outcome == outcomeCancelled {
		return nil
	}
	return err
}

func eventType(ev stream.Event) string {
	switch ev.(type) {
	case stream.TextDelta:
		return stream.FrameTextDelta
	case stream.StepStart:
		return stream.FrameStepStart
	case stream.ToolCall:
		return stream.FrameToolCall
	case stream.ToolResult:
		return stream.FrameToolResult
	case stream.Finish:
		return stream.FrameFinish
	case stream.Error:
		return stream.FrameError
	default:
		return "unknown"
	}
}
