// Package transcript renders a chat session for export.
package transcript

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/raphaelgruber/flock/internal/models"
)

// Format names an output format.
type Format string

const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
)

// Formats lists every supported format.
var Formats = []Format{FormatText, FormatMarkdown, FormatJSON, FormatYAML}

// ParseFormat accepts a format name or a common alias.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text", "txt":
		return FormatText, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown format %q (want text, markdown, json or yaml)", s)
	}
}

// Write renders sess to w in the given format.
func Write(w io.Writer, sess models.Session, format Format) error {
	switch format {
	case FormatText:
		_, err := io.WriteString(w, Text(sess))
		return err
	case FormatMarkdown:
		_, err := io.WriteString(w, Markdown(sess))
		return err
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(toDoc(sess))
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(toDoc(sess)); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

// Text renders a plain transcript, one block per message.
func Text(sess models.Session) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", sess.Title)
	for _, msg := range sess.Messages {
		fmt.Fprintf(&b, "[%s]\n", msg.Role)
		for _, part := range msg.Parts() {
			switch p := part.(type) {
			case models.TextPart:
				fmt.Fprintf(&b, "%s\n", p.Text)
			case models.ToolCallPart:
				fmt.Fprintf(&b, "-> %s %s (pending)\n", p.Invocation.ToolName, compactArgs(p.Invocation))
			case models.ToolResultPart:
				fmt.Fprintf(&b, "-> %s %s\n%s\n", p.Invocation.ToolName, compactArgs(p.Invocation), indent(p.Invocation.ResultText(), "   "))
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

// Markdown renders the transcript as a markdown document.
func Markdown(sess models.Session) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", sess.Title)
	for _, msg := range sess.Messages {
		fmt.Fprintf(&b, "## %s\n\n", roleHeading(msg.Role))
		for _, part := range msg.Parts() {
			switch p := part.(type) {
			case models.TextPart:
				fmt.Fprintf(&b, "%s\n\n", p.Text)
			case models.ToolCallPart:
				fmt.Fprintf(&b, "**Tool** `%s` `%s` _(pending)_\n\n", p.Invocation.ToolName, compactArgs(p.Invocation))
			case models.ToolResultPart:
				fmt.Fprintf(&b, "**Tool** `%s` `%s`\n\n```\n%s\n```\n\n", p.Invocation.ToolName, compactArgs(p.Invocation), p.Invocation.ResultText())
			}
		}
	}
	return b.String()
}

func roleHeading(r models.Role) string {
	switch r {
	case models.RoleUser:
		return "You"
	case models.RoleAssistant:
		return "Assistant"
	default:
		return string(r)
	}
}

func compactArgs(inv models.ToolInvocation) string {
	if len(inv.Args) == 0 {
		return "{}"
	}
	m := inv.ArgsMap()
	if m == nil {
		return string(inv.Args)
	}
	b, err := json.Marshal(m)
	if err != nil {
		return string(inv.Args)
	}
	return string(b)
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}

// doc is the structured export shape. Raw JSON args and results are decoded
// so YAML output stays readable.
type doc struct {
	ID       int      `json:"id" yaml:"id"`
	Title    string   `json:"title" yaml:"title"`
	Messages []docMsg `json:"messages" yaml:"messages"`
}

type docMsg struct {
	ID    string    `json:"id" yaml:"id"`
	Role  string    `json:"role" yaml:"role"`
	Text  string    `json:"content,omitempty" yaml:"content,omitempty"`
	Tools []docTool `json:"toolInvocations,omitempty" yaml:"tool_invocations,omitempty"`
}

type docTool struct {
	ToolCallID string         `json:"toolCallId" yaml:"tool_call_id"`
	ToolName   string         `json:"toolName" yaml:"tool_name"`
	State      string         `json:"state" yaml:"state"`
	Args       map[string]any `json:"args,omitempty" yaml:"args,omitempty"`
	Result     string         `json:"result,omitempty" yaml:"result,omitempty"`
}

func toDoc(sess models.Session) doc {
	d := doc{ID: sess.ID, Title: sess.Title, Messages: make([]docMsg, 0, len(sess.Messages))}
	for _, msg := range sess.Messages {
		m := docMsg{ID: msg.ID, Role: string(msg.Role), Text: msg.Content}
		for _, inv := range msg.ToolInvocations {
			t := docTool{
				ToolCallID: inv.ToolCallID,
				ToolName:   inv.ToolName,
				State:      string(inv.State),
				Args:       inv.ArgsMap(),
			}
			if inv.State == models.ToolStateResult {
				t.Result = inv.ResultText()
			}
			m.Tools = append(m.Tools, t)
		}
		d.Messages = append(d.Messages, m)
	}
	return d
}
