// Package models defines the chat data structures shared by the store,
// the conductor and the presentation layer.
package models

import (
	"strings"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Message is one turn in a session. ID and Role never change after creation;
// Content and ToolInvocations grow while the message is streaming.
type Message struct {
	ID              string           `json:"id" yaml:"id"`
	Role            Role             `json:"role" yaml:"role"`
	Content         string           `json:"content" yaml:"content"`
	ToolInvocations []ToolInvocation `json:"toolInvocations,omitempty" yaml:"tool_invocations,omitempty"`
	CreatedAt       time.Time        `json:"createdAt,omitzero" yaml:"created_at,omitempty"`
}

// NewUserMessage creates a user message with the given text.
func NewUserMessage(id, content string) Message {
	return Message{ID: id, Role: RoleUser, Content: content, CreatedAt: time.Now()}
}

// NewAssistantMessage creates an empty assistant message ready for streaming.
func NewAssistantMessage(id string) Message {
	return Message{ID: id, Role: RoleAssistant, CreatedAt: time.Now()}
}

// Clone returns a copy that shares no slices with m.
func (m Message) Clone() Message {
	if m.ToolInvocations != nil {
		m.ToolInvocations = append([]ToolInvocation(nil), m.ToolInvocations...)
	}
	return m
}

// AppendText adds a text delta to the message content.
func (m *Message) AppendText(delta string) {
	m.Content += delta
}

// HasToolInvocations reports whether the message carries any tool cards.
func (m Message) HasToolInvocations() bool {
	return len(m.ToolInvocations) > 0
}

// FindToolInvocation returns the index of the invocation with the given call id, or -1.
func (m Message) FindToolInvocation(toolCallID string) int {
	for i, inv := range m.ToolInvocations {
		if inv.ToolCallID == toolCallID {
			return i
		}
	}
	return -1
}

// Parts returns the renderable pieces of the message in display order:
// prose first, then one part per tool invocation.
func (m Message) Parts() []Part {
	parts := make([]Part, 0, len(m.ToolInvocations)+1)
	if strings.TrimSpace(m.Content) != "" {
		parts = append(parts, TextPart{Text: m.Content})
	}
	for _, inv := range m.ToolInvocations {
		switch inv.State {
		case ToolStateResult:
			parts = append(parts, ToolResultPart{Invocation: inv})
		default:
			parts = append(parts, ToolCallPart{Invocation: inv})
		}
	}
	return parts
}

// Part is a renderable piece of a message. The set of implementations is
// closed: TextPart, ToolCallPart and ToolResultPart.
type Part interface {
	part()
}

// TextPart is prose authored by the user or the assistant.
type TextPart struct {
	Text string
}

// ToolCallPart is a tool invocation still waiting for its result.
type ToolCallPart struct {
	Invocation ToolInvocation
}

// ToolResultPart is a tool invocation whose result has arrived.
type ToolResultPart struct {
	Invocation ToolInvocation
}

func (TextPart) part()       {}
func (ToolCallPart) part()   {}
func (ToolResultPart) part() {}
