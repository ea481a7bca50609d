package stream

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrame_RoundTripThroughJSON(t *testing.T) {
	events := []Event{
		TextDelta{Text: "hello"},
		StepStart{MessageID: "m1"},
		ToolCall{ToolCallID: "c1", ToolName: "read_file", Args: json.RawMessage(`{"path":"x"}`)},
		ToolResult{ToolCallID: "c1", Result: json.RawMessage(`{"text":"ok"}`)},
		Finish{Reason: "stop", Usage: Usage{PromptTokens: 4, CompletionTokens: 9}},
		Error{Message: "bad gateway"},
	}

	for _, ev := range events {
		frame, err := ToFrame(ev)
		require.NoError(t, err)

		data, err := json.Marshal(frame)
		require.NoError(t, err)

		var decoded Frame
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.Equal(t, ev, decoded.Event(), "frame %s", data)
	}
}

func TestFrame_UnknownType(t *testing.T) {
	assert.Nil(t, Frame{Type: "reasoning"}.Event())
}
