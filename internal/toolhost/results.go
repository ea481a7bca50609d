package toolhost

import (
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ErrorResult reports a failed call back to the model as tool output, so the
// exchange continues. A non-empty hint is appended as "{msg}. {hint}".
func ErrorResult(msg, hint string) *mcp.CallToolResult {
	if hint != "" {
		msg += ". " + hint
	}
	return textResult(msg, true)
}

// TextResult creates a success result with text content.
func TextResult(text string) *mcp.CallToolResult {
	return textResult(text, false)
}

// ListResult renders one entry per line. Entries past limit collapse into a
// trailing note; empty is returned when there are no entries at all.
func ListResult(entries []string, limit int, empty string) *mcp.CallToolResult {
	if len(entries) == 0 {
		return TextResult(empty)
	}
	if limit > 0 && len(entries) > limit {
		more := len(entries) - limit
		entries = append(entries[:limit:limit], fmt.Sprintf("... and %d more", more))
	}
	return TextResult(strings.Join(entries, "\n"))
}

func textResult(text string, isError bool) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: isError,
	}
}

// resultSize is the number of text bytes a result carries.
func resultSize(res *mcp.CallToolResult) int {
	n := 0
	for _, c := range res.Content {
		if t, ok := c.(*mcp.TextContent); ok {
			n += len(t.Text)
		}
	}
	return n
}
