package toolhost

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Result is the outcome of one tool call as the assistant reports it.
type Result struct {
	// JSON is the MCP result object, e.g. {"content":[{"type":"text","text":"..."}]}.
	JSON json.RawMessage
	// Text is the concatenated text content.
	Text    string
	IsError bool
}

// Executor calls tools through an MCP client session.
type Executor struct {
	session *mcp.ClientSession
	logger  *slog.Logger
	stop    func()
}

// Connect opens a client session over transport.
func Connect(ctx context.Context, transport mcp.Transport, logger *slog.Logger) (*Executor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client := mcp.NewClient(&mcp.Implementation{Name: "flock", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connect tool host: %w", err)
	}
	return &Executor{session: session, logger: logger, stop: func() {}}, nil
}

// NewInProcess runs srv in this process and connects to it over an in-memory transport.
func NewInProcess(ctx context.Context, srv *Server, logger *slog.Logger) (*Executor, error) {
	serverTransport, clientTransport := mcp.NewInMemoryTransports()

	srvCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.MCPServer().Run(srvCtx, serverTransport); err != nil && srvCtx.Err() == nil {
			srv.logger.Debug("in-process tool server stopped", "error", err)
		}
	}()

	e, err := Connect(ctx, clientTransport, logger)
	if err != nil {
		cancel()
		<-done
		return nil, err
	}
	e.stop = func() {
		cancel()
		<-done
	}
	return e, nil
}

// NewCommand starts an MCP server as a subprocess speaking over stdio.
func NewCommand(ctx context.Context, logger *slog.Logger, name string, args ...string) (*Executor, error) {
	cmd := exec.Command(name, args...)
	return Connect(ctx, &mcp.CommandTransport{Command: cmd}, logger)
}

// Tools lists the tools the host offers.
func (e *Executor) Tools(ctx context.Context) ([]*mcp.Tool, error) {
	res, err := e.session.ListTools(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	return res.Tools, nil
}

// Call invokes a tool. args is a JSON object; empty means no arguments.
// A tool that reports failure yields a Result with IsError set, not an error.
func (e *Executor) Call(ctx context.Context, name string, args json.RawMessage) (Result, error) {
	arguments := map[string]any{}
	if len(args) > 0 && string(args) != "null" {
		if err := json.Unmarshal(args, &arguments); err != nil {
			return Result{}, fmt.Errorf("tool %s arguments: %w", name, err)
		}
	}

	start := time.Now()
	res, err := e.session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: arguments})
	if err != nil {
		return Result{}, fmt.Errorf("call tool %s: %w", name, err)
	}

	raw, err := json.Marshal(res)
	if err != nil {
		return Result{}, fmt.Errorf("marshal tool result: %w", err)
	}

	var texts []string
	for _, c := range res.Content {
		if t, ok := c.(*mcp.TextContent); ok {
			texts = append(texts, t.Text)
		}
	}

	e.logger.Debug("tool call finished",
		"tool", name,
		"duration_ms", time.Since(start).Milliseconds(),
		"is_error", res.IsError)
	return Result{JSON: raw, Text: strings.Join(texts, "\n"), IsError: res.IsError}, nil
}

// Close ends the session and stops an in-process server.
func (e *Executor) Close() error {
	err := e.session.Close()
	e.stop()
	return err
}
