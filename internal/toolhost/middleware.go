package toolhost

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	maxArgLogLen         = 200
	slowRequestThreshold = 100 * time.Millisecond
)

// callTarget holds the arguments worth logging from any file tool call.
type callTarget struct {
	Path    string `json:"path"`
	Pattern string `json:"pattern"`
}

// LoggingMiddleware logs every request with its duration. Tool calls also
// log the tool name, the target path relative to root, the search pattern
// and the result size. Slow calls log at WARN.
func LoggingMiddleware(logger *slog.Logger, root *Root) mcp.Middleware {
	return func(next mcp.MethodHandler) mcp.MethodHandler {
		return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
			start := time.Now()
			result, err := next(ctx, method, req)
			duration := time.Since(start)

			attrs := []any{"method", method, "duration_ms", duration.Milliseconds()}
			msg := "request completed"
			if call, ok := req.(*mcp.CallToolRequest); ok && call.Params != nil {
				msg = "tool call"
				attrs = append(attrs, toolAttrs(root, call.Params)...)
				if res, ok := result.(*mcp.CallToolResult); ok && res != nil {
					attrs = append(attrs, "result_bytes", resultSize(res))
					if res.IsError {
						attrs = append(attrs, "tool_error", true)
					}
				}
			}

			switch {
			case err != nil:
				logger.Error(msg+" failed", append(attrs, "error", err.Error())...)
			case duration > slowRequestThreshold:
				logger.Warn("slow "+msg, attrs...)
			default:
				logger.Debug(msg, attrs...)
			}
			return result, err
		}
	}
}

func toolAttrs(root *Root, params *mcp.CallToolParamsRaw) []any {
	attrs := []any{"tool", params.Name}
	var target callTarget
	if len(params.Arguments) > 0 && json.Unmarshal(params.Arguments, &target) != nil {
		return append(attrs, "args", truncate(string(params.Arguments), maxArgLogLen))
	}
	if target.Path != "" {
		if abs, err := root.Resolve(target.Path); err == nil {
			attrs = append(attrs, "path", root.Rel(abs))
		} else {
			attrs = append(attrs, "path", truncate(target.Path, maxArgLogLen), "outside_root", true)
		}
	}
	if target.Pattern != "" {
		attrs = append(attrs, "pattern", truncate(target.Pattern, maxArgLogLen))
	}
	return attrs
}

// truncate shortens a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen < 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
