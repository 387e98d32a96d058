package store

import "context"

// HistoryStore is the storage contract behind the conversation history
// service. The backend is chosen once at startup: the Backboard client when
// an API key is configured, sqlite when explicitly requested, otherwise the
// in-memory fallback.
type HistoryStore interface {
	// CreateConversation creates a conversation owned by userID, seeded with
	// a single system-role message, and returns its id.
	CreateConversation(ctx context.Context, userID, systemPrompt string) (string, error)

	// Conversation fetches all messages for a conversation. Implementations
	// that can resolve the stored owner reject a mismatched userID.
	Conversation(ctx context.Context, conversationID, userID string) (*ConversationDetail, error)

	// Conversations lists the conversations owned by userID that contain at
	// least one non-empty user message.
	Conversations(ctx context.Context, userID string) ([]ConversationSummary, error)

	// AppendMessage appends a single message to the conversation.
	AppendMessage(ctx context.Context, conversationID, userID string, msg Message) error
}
