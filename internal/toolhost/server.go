// Package toolhost serves file and content tools over MCP and calls them
// on behalf of the local assistant.
package toolhost

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ServerName is reported to MCP clients during initialization.
const ServerName = "flock-tools"

// Server wraps the MCP server with its tools and middleware.
type Server struct {
	mcp    *mcp.Server
	root   *Root
	logger *slog.Logger
}

// New creates a tool server whose file tools are confined to root.
func New(version, root string, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r, err := NewRoot(root)
	if err != nil {
		return nil, fmt.Errorf("tool root: %w", err)
	}

	s := &Server{
		mcp:    mcp.NewServer(&mcp.Implementation{Name: ServerName, Version: version}, nil),
		root:   r,
		logger: logger,
	}
	s.mcp.AddReceivingMiddleware(LoggingMiddleware(logger, r))
	registerTools(s.mcp, r, logger)
	return s, nil
}

// Run serves on the stdio transport until the peer disconnects or ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP tool server", "transport", "stdio", "root", s.root.Dir())
	return s.mcp.Run(ctx, &mcp.StdioTransport{})
}

// MCPServer returns the underlying MCP server.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Root returns the directory the file tools are confined to.
func (s *Server) Root() string {
	return s.root.Dir()
}
