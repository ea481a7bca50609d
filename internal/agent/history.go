package agent

import (
	"encoding/json"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/raphaelgruber/flock/internal/models"
)

// toMessageContent converts a chat history into provider messages.
// Tool invocations still waiting for a result are left out, since
// providers reject calls without a matching response.
func toMessageContent(system string, history []models.Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(history)+1)
	if system != "" {
		out = append(out, llms.TextParts(llms.ChatMessageTypeSystem, system))
	}

	for _, msg := range history {
		switch msg.Role {
		case models.RoleUser:
			if strings.TrimSpace(msg.Content) != "" {
				out = append(out, llms.TextParts(llms.ChatMessageTypeHuman, msg.Content))
			}

		case models.RoleAssistant:
			ai := llms.MessageContent{Role: llms.ChatMessageTypeAI}
			if strings.TrimSpace(msg.Content) != "" {
				ai.Parts = append(ai.Parts, llms.TextContent{Text: msg.Content})
			}

			var responses []llms.ContentPart
			for _, inv := range msg.ToolInvocations {
				if inv.State != models.ToolStateResult {
					continue
				}
				ai.Parts = append(ai.Parts, llms.ToolCall{
					ID:   inv.ToolCallID,
					Type: "function",
					FunctionCall: &llms.FunctionCall{
						Name:      inv.ToolName,
						Arguments: argsString(inv.Args),
					},
				})
				responses = append(responses, llms.ToolCallResponse{
					ToolCallID: inv.ToolCallID,
					Name:       inv.ToolName,
					Content:    responseText(inv),
				})
			}

			if len(ai.Parts) > 0 {
				out = append(out, ai)
			}
			for _, r := range responses {
				out = append(out, llms.MessageContent{
					Role:  llms.ChatMessageTypeTool,
					Parts: []llms.ContentPart{r},
				})
			}
		}
	}
	return out
}

func argsString(args json.RawMessage) string {
	if len(args) == 0 || string(args) == "null" {
		return "{}"
	}
	return string(args)
}

// responseText renders a tool result for the model. Failed tool calls are
// prefixed with "Error: " so the model can tell them apart.
func responseText(inv models.ToolInvocation) string {
	text := inv.ResultText()
	if isErrorResult(inv.Result) {
		return "Error: " + text
	}
	return text
}

func isErrorResult(raw json.RawMessage) bool {
	var probe struct {
		IsError bool `json:"isError"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	return probe.IsError
}
