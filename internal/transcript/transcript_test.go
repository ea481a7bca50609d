package transcript

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/raphaelgruber/flock/internal/models"
)

func sampleSession(t *testing.T) models.Session {
	t.Helper()
	done, err := models.NewToolCall("t1", "read_file", json.RawMessage(`{"path":"go.mod"}`)).
		WithResult(json.RawMessage(`"module x"`))
	require.NoError(t, err)
	pending := models.NewToolCall("t2", "search_text", json.RawMessage(`{"pattern":"TODO"}`))

	assistant := models.NewAssistantMessage("m2")
	assistant.Content = "Reading it."
	assistant.ToolInvocations = []models.ToolInvocation{done, pending}

	return models.Session{
		ID:    1,
		Title: "Chat 1",
		Messages: []models.Message{
			models.NewUserMessage("m1", "what module is this?"),
			assistant,
		},
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in   string
		want Format
	}{
		{"", FormatText},
		{"TXT", FormatText},
		{"md", FormatMarkdown},
		{"markdown", FormatMarkdown},
		{"json", FormatJSON},
		{"yml", FormatYAML},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseFormat("pdf")
	assert.ErrorContains(t, err, "unknown format")
}

func TestText(t *testing.T) {
	out := Text(sampleSession(t))

	assert.Contains(t, out, "Chat 1\n")
	assert.Contains(t, out, "[user]\nwhat module is this?\n")
	assert.Contains(t, out, "[assistant]\nReading it.\n")
	assert.Contains(t, out, `-> read_file {"path":"go.mod"}`+"\n   module x\n")
	assert.Contains(t, out, `-> search_text {"pattern":"TODO"} (pending)`)
}

func TestMarkdown(t *testing.T) {
	out := Markdown(sampleSession(t))

	assert.Contains(t, out, "# Chat 1\n")
	assert.Contains(t, out, "## You\n\nwhat module is this?")
	assert.Contains(t, out, "## Assistant\n\nReading it.")
	assert.Contains(t, out, "```\nmodule x\n```")
	assert.Contains(t, out, "_(pending)_")
}

func TestWrite_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, sampleSession(t), FormatJSON))

	var got doc
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, 1, got.ID)
	require.Len(t, got.Messages, 2)
	require.Len(t, got.Messages[1].Tools, 2)
	assert.Equal(t, "module x", got.Messages[1].Tools[0].Result)
	assert.Equal(t, "go.mod", got.Messages[1].Tools[0].Args["path"])
	assert.Equal(t, "call", got.Messages[1].Tools[1].State)
	assert.Empty(t, got.Messages[1].Tools[1].Result)
}

func TestWrite_YAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, sampleSession(t), FormatYAML))

	assert.Contains(t, buf.String(), "tool_name: read_file")

	var got doc
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "Chat 1", got.Title)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "user", got.Messages[0].Role)
	assert.Equal(t, "what module is this?", got.Messages[0].Text)
}

func TestWrite_UnknownFormat(t *testing.T) {
	err := Write(&bytes.Buffer{}, sampleSession(t), Format("pdf"))
	assert.Error(t, err)
}

func TestCompactArgs_NonObject(t *testing.T) {
	inv := models.NewToolCall("t", "x", json.RawMessage(`[1,2]`))
	assert.Equal(t, "[1,2]", compactArgs(inv))
	assert.Equal(t, "{}", compactArgs(models.NewToolCall("t", "x", nil)))
}
