package stream

import (
	"encoding/json"
	"fmt"
)

// Websocket frame types.
const (
	FrameTextDelta  = "text-delta"
	FrameStepStart  = "step-start"
	FrameToolCall   = "tool-call"
	FrameToolResult = "tool-result"
	FrameFinish     = "finish"
	FrameError      = "error"

	// FrameStart and FrameDone bracket one exchange on a connection.
	FrameStart = "start"
	FrameDone  = "done"
)

// StartFrame is the first message a client sends on a websocket.
type StartFrame struct {
	Type      string  `json:"type"`
	RequestID string  `json:"requestId,omitempty"`
	Request   Request `json:"request"`
}

// Frame is the JSON object sent per event over a websocket.
type Frame struct {
	Type         string          `json:"type"`
	Text         string          `json:"text,omitempty"`
	MessageID    string          `json:"messageId,omitempty"`
	ToolCallID   string          `json:"toolCallId,omitempty"`
	ToolName     string          `json:"toolName,omitempty"`
	Args         json.RawMessage `json:"args,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	FinishReason string          `json:"finishReason,omitempty"`
	Usage        *Usage          `json:"usage,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// ToFrame converts an event to its websocket frame.
func ToFrame(ev Event) (Frame, error) {
	switch e := ev.(type) {
	case TextDelta:
		return Frame{Type: FrameTextDelta, Text: e.Text}, nil
	case StepStart:
		return Frame{Type: FrameStepStart, MessageID: e.MessageID}, nil
	case ToolCall:
		return Frame{Type: FrameToolCall, ToolCallID: e.ToolCallID, ToolName: e.ToolName, Args: e.Args}, nil
	case ToolResult:
		return Frame{Type: FrameToolResult, ToolCallID: e.ToolCallID, Result: rawOrNull(e.Result)}, nil
	case Finish:
		usage := e.Usage
		return Frame{Type: FrameFinish, FinishReason: e.Reason, Usage: &usage}, nil
	case Error:
		return Frame{Type: FrameError, Error: e.Message}, nil
	default:
		return Frame{}, fmt.Errorf("to frame: unsupported event %T", ev)
	}
}

// Event converts a frame back to an event. Unknown frame types yield nil.
func (f Frame) Event() Event {
	switch f.Type {
	case FrameTextDelta:
		return TextDelta{Text: f.Text}
	case FrameStepStart:
		return StepStart{MessageID: f.MessageID}
	case FrameToolCall:
		return ToolCall{ToolCallID: f.ToolCallID, ToolName: f.ToolName, Args: f.Args}
	case FrameToolResult:
		return ToolResult{ToolCallID: f.ToolCallID, Result: f.Result}
	case FrameFinish:
		fin := Finish{Reason: f.FinishReason}
		if f.Usage != nil {
			fin.Usage = *f.Usage
		}
		return fin
	case FrameError:
		return Error{Message: f.Error}
	default:
		return nil
	}
}
