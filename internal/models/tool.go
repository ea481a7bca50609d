package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidTransition is returned when a tool invocation would leave the
// call -> result order.
var ErrInvalidTransition = errors.New("invalid tool state transition")

// ToolState is the phase of a tool invocation.
type ToolState string

const (
	ToolStateCall   ToolState = "call"
	ToolStateResult ToolState = "result"
)

// ToolInvocation pairs a tool call with its eventual result, correlated by ToolCallID.
type ToolInvocation struct {
	ToolCallID string          `json:"toolCallId" yaml:"tool_call_id"`
	State      ToolState       `json:"state" yaml:"state"`
	ToolName   string          `json:"toolName" yaml:"tool_name"`
	Args       json.RawMessage `json:"args,omitempty" yaml:"-"`
	Result     json.RawMessage `json:"result,omitempty" yaml:"-"`
}

// NewToolCall creates an invocation in the call state.
func NewToolCall(toolCallID, toolName string, args json.RawMessage) ToolInvocation {
	return ToolInvocation{
		ToolCallID: toolCallID,
		State:      ToolStateCall,
		ToolName:   toolName,
		Args:       args,
	}
}

// WithResult moves the invocation to the result state. An invocation that
// already holds a result is left untouched and ErrInvalidTransition is returned.
func (t ToolInvocation) WithResult(result json.RawMessage) (ToolInvocation, error) {
	if t.State != ToolStateCall {
		return t, fmt.Errorf("%w: %s is already %s", ErrInvalidTransition, t.ToolCallID, t.State)
	}
	t.State = ToolStateResult
	t.Result = result
	return t, nil
}

// ArgsMap decodes the call arguments for display. Non-object arguments yield nil.
func (t ToolInvocation) ArgsMap() map[string]any {
	if len(t.Args) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(t.Args, &m); err != nil {
		return nil
	}
	return m
}

// ResultText returns the text of a result for rendering and for resubmission
// as user input. It understands plain JSON strings, MCP content lists and
// objects with a "text" field; anything else is returned as compact JSON.
func (t ToolInvocation) ResultText() string {
	if t.State != ToolStateResult || len(t.Result) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(t.Result, &s); err == nil {
		return s
	}

	var shaped struct {
		Text    *string `json:"text"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(t.Result, &shaped); err == nil {
		if len(shaped.Content) > 0 {
			texts := make([]string, 0, len(shaped.Content))
			for _, c := range shaped.Content {
				if c.Type == "" || c.Type == "text" {
					texts = append(texts, c.Text)
				}
			}
			return strings.Join(texts, "\n")
		}
		if shaped.Text != nil {
			return *shaped.Text
		}
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, t.Result); err != nil {
		return string(t.Result)
	}
	return buf.String()
}
