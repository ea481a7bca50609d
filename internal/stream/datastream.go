package stream

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Data stream line codes. One event per line: "<code>:<json>\n".
const (
	codeText       = "0"
	codeData       = "2"
	codeError      = "3"
	codeAnnotation = "8"
	codeToolCall   = "9"
	codeToolResult = "a"
	codeFinish     = "d"
	codeStepFinish = "e"
	codeStepStart  = "f"
)

// ErrMalformedLine is returned for lines that are not "<code>:<json>".
var ErrMalformedLine = errors.New("malformed data stream line")

type toolCallPayload struct {
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Args       json.RawMessage `json:"args,omitempty"`
}

type toolResultPayload struct {
	ToolCallID string          `json:"toolCallId"`
	Result     json.RawMessage `json:"result"`
}

type finishPayload struct {
	FinishReason string `json:"finishReason"`
	Usage        Usage  `json:"usage"`
}

type stepStartPayload struct {
	MessageID string `json:"messageId"`
}

// DecodeLine parses one data stream line. Known but unused codes and unknown
// codes return a nil event and a nil error so callers can skip them.
func DecodeLine(line string) (Event, error) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return nil, nil
	}

	code, payload, ok := strings.Cut(line, ":")
	if !ok || code == "" {
		return nil, fmt.Errorf("%w: %q", ErrMalformedLine, truncate(line, 64))
	}
	data := []byte(payload)

	switch code {
	case codeText:
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return nil, fmt.Errorf("%w: text: %v", ErrMalformedLine, err)
		}
		return TextDelta{Text: text}, nil

	case codeToolCall:
		var p toolCallPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("%w: tool call: %v", ErrMalformedLine, err)
		}
		return ToolCall{ToolCallID: p.ToolCallID, ToolName: p.ToolName, Args: p.Args}, nil

	case codeToolResult:
		var p toolResultPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("%w: tool result: %v", ErrMalformedLine, err)
		}
		return ToolResult{ToolCallID: p.ToolCallID, Result: p.Result}, nil

	case codeError:
		var msg string
		if err := json.Unmarshal(data, &msg); err != nil {
			msg = payload
		}
		return Error{Message: msg}, nil

	case codeFinish:
		var p finishPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("%w: finish: %v", ErrMalformedLine, err)
		}
		return Finish{Reason: p.FinishReason, Usage: p.Usage}, nil

	case codeStepStart:
		var p stepStartPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("%w: step start: %v", ErrMalformedLine, err)
		}
		return StepStart{MessageID: p.MessageID}, nil

	default:
		// codeData, codeAnnotation, codeStepFinish and anything newer
		return nil, nil
	}
}

// EncodeLine renders an event as one data stream line, including the newline.
func EncodeLine(ev Event) ([]byte, error) {
	var (
		code    string
		payload any
	)

	switch e := ev.(type) {
	case TextDelta:
		code, payload = codeText, e.Text
	case ToolCall:
		code, payload = codeToolCall, toolCallPayload{ToolCallID: e.ToolCallID, ToolName: e.ToolName, Args: rawOrNull(e.Args)}
	case ToolResult:
		code, payload = codeToolResult, toolResultPayload{ToolCallID: e.ToolCallID, Result: rawOrNull(e.Result)}
	case Error:
		code, payload = codeError, e.Message
	case Finish:
		code, payload = codeFinish, finishPayload{FinishReason: e.Reason, Usage: e.Usage}
	case StepStart:
		code, payload = codeStepStart, stepStartPayload{MessageID: e.MessageID}
	default:
		return nil, fmt.Errorf("encode line: unsupported event %T", ev)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode line: %w", err)
	}
	out := make([]byte, 0, len(code)+len(data)+2)
	out = append(out, code...)
	out = append(out, ':')
	out = append(out, data...)
	out = append(out, '\n')
	return out, nil
}

// ReadLines decodes a data stream from r and hands every event to handle.
// It returns nil at EOF.
func ReadLines(r io.Reader, handle Handler) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		ev, err := DecodeLine(scanner.Text())
		if err != nil {
			return err
		}
		if ev == nil {
			continue
		}
		if err := handle(ev); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return nil
}

func rawOrNull(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	return raw
}

// truncate shortens a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
