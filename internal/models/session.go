package models

import (
	"fmt"
	"slices"
	"time"
)

// PlaceholderID identifies the unsaved session shown before the first message is sent.
const PlaceholderID = -1

// PlaceholderTitle is the tab label of the placeholder session.
const PlaceholderTitle = "New Chat"

// Session is one independent chat conversation.
type Session struct {
	ID        int       `json:"id" yaml:"id"`
	Title     string    `json:"title" yaml:"title"`
	Messages  []Message `json:"messages" yaml:"messages"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// Placeholder returns the unsaved session used when nothing is selected.
func Placeholder() Session {
	return Session{ID: PlaceholderID, Title: PlaceholderTitle}
}

// DefaultTitle returns the creation-order label for a session id.
func DefaultTitle(id int) string {
	return fmt.Sprintf("Chat %d", id)
}

// IsPlaceholder reports whether the session has not been added to a store yet.
func (s Session) IsPlaceholder() bool {
	return s.ID == PlaceholderID
}

// Clone returns a deep copy so callers never share message slices.
func (s Session) Clone() Session {
	s.Messages = CloneMessages(s.Messages)
	return s
}

// LastMessage returns the trailing message, if any.
func (s Session) LastMessage() (Message, bool) {
	if len(s.Messages) == 0 {
		return Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// CloneMessages deep-copies a message sequence.
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}

// ContainsMessage reports whether a message with the given id is present.
func ContainsMessage(msgs []Message, id string) bool {
	return slices.ContainsFunc(msgs, func(m Message) bool { return m.ID == id })
}
