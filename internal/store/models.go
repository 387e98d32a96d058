package store

import "strings"

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn in a conversation. Timestamp is an RFC 3339 string; it
// may be empty for messages whose backend did not record one.
type Message struct {
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp,omitempty"`
}

type ConversationSummary struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	Title          string `json:"title,omitempty"`
	UpdatedAt      string `json:"updatedAt"`
	MessageCount   int    `json:"messageCount"`
}

type ConversationDetail struct {
	ConversationID string    `json:"conversationId"`
	UserID         string    `json:"userId"`
	Title          string    `json:"title,omitempty"`
	UpdatedAt      string    `json:"updatedAt"`
	Messages       []Message `json:"messages"`
}

const titleLimit = 48

// DeriveTitle returns the first 48 characters of the first user message.
// Truncation counts runes, not bytes, so multibyte content stays valid UTF-8.
func DeriveTitle(messages []Message) string {
	for _, msg := range messages {
		if msg.Role == RoleUser {
			title := msg.Content
			if runes := []rune(title); len(runes) > titleLimit {
				title = string(runes[:titleLimit])
			}
			return strings.TrimSpace(title)
		}
	}
	return ""
}

// HasUserMessage reports whether the conversation contains at least one
// user-authored message with non-empty content. Conversations that only ever
// received the seeded system prompt fail this check.
func HasUserMessage(messages []Message) bool {
	for _, msg := range messages {
		if msg.Role == RoleUser && strings.TrimSpace(msg.Content) != "" {
			return true
		}
	}
	return false
}

// LastTimestamp returns the latest message's timestamp, or fallback when the
// conversation has no timestamped messages.
func LastTimestamp(messages []Message, fallback string) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Timestamp != "" {
			return messages[i].Timestamp
		}
	}
	return fallback
}
