// Package stream defines the events a remote assistant endpoint streams back
// for one exchange, and the codecs used to carry them over HTTP and websockets.
package stream

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/raphaelgruber/flock/internal/models"
)

// ErrStopped may be returned from a Handler to end an exchange early
// without reporting a failure.
var ErrStopped = errors.New("stream stopped")

// Event is one item of a streamed response. The set of implementations is
// closed: TextDelta, StepStart, ToolCall, ToolResult, Finish and Error.
type Event interface {
	event()
}

// TextDelta appends text to the assistant message.
type TextDelta struct {
	Text string
}

// StepStart announces the id of the assistant message the stream is building.
type StepStart struct {
	MessageID string
}

// ToolCall announces a tool invocation.
type ToolCall struct {
	ToolCallID string
	ToolName   string
	Args       json.RawMessage
}

// ToolResult carries the result for an earlier ToolCall.
type ToolResult struct {
	ToolCallID string
	Result     json.RawMessage
}

// Usage reports token counts for an exchange.
type Usage struct {
	PromptTokens     int64 `json:"promptTokens"`
	CompletionTokens int64 `json:"completionTokens"`
}

// Finish ends the exchange normally.
type Finish struct {
	Reason string
	Usage  Usage
}

// Error ends the exchange with an endpoint-reported failure.
type Error struct {
	Message string
}

func (TextDelta) event()  {}
func (StepStart) event()  {}
func (ToolCall) event()   {}
func (ToolResult) event() {}
func (Finish) event()     {}
func (Error) event()      {}

// Request is what a Streamer sends to the endpoint: the session identity and
// the full message history, ending with the new user message.
type Request struct {
	SessionID string           `json:"id"`
	Messages  []models.Message `json:"messages"`
}

// Handler receives events in arrival order. Returning an error aborts the stream.
type Handler func(Event) error

// Streamer opens one exchange with an assistant endpoint and delivers its
// events to handle until the stream ends, handle fails or ctx is cancelled.
// Stream returns nil after a normal end of stream.
type Streamer interface {
	Stream(ctx context.Context, req Request, handle Handler) error
}

// StreamerFunc adapts a function to the Streamer interface.
type StreamerFunc func(ctx context.Context, req Request, handle Handler) error

// Stream calls f.
func (f StreamerFunc) Stream(ctx context.Context, req Request, handle Handler) error {
	return f(ctx, req, handle)
}
