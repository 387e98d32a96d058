package core

import (
	"context"
	"fmt"
	"time"

	"github.com/tuva-labs/tuva-server/internal/store"
)

// HistoryService is the backend-agnostic conversation API the request
// handlers consume. The backend underneath is fixed at startup.
type HistoryService struct {
	store store.HistoryStore
	now   func() time.Time
}

func NewHistoryService(st store.HistoryStore) *HistoryService {
	return &HistoryService{store: st, now: time.Now}
}

// InitConversation creates a conversation owned by userID, seeded with the
// student persona system prompt.
func (s *HistoryService) InitConversation(ctx context.Context, userID string) (string, error) {
	conversationID, err := s.store.CreateConversation(ctx, userID, StudentSystemPrompt)
	if err != nil {
		return "", fmt.Errorf("failed to create conversation: %w", err)
	}
	return conversationID, nil
}

func (s *HistoryService) GetConversation(ctx context.Context, conversationID, userID string) (*store.ConversationDetail, error) {
	return s.store.Conversation(ctx, conversationID, userID)
}

func (s *HistoryService) ListConversations(ctx context.Context, userID string) ([]store.ConversationSummary, error) {
	return s.store.Conversations(ctx, userID)
}

// AppendUserAndAssistantMessages records one exchange: a user turn then an
// assistant turn, both stamped with the same server-side timestamp. The two
// appends are sequential and not atomic; if the assistant append fails the
// conversation keeps a dangling user turn and the error reports it.
func (s *HistoryService) AppendUserAndAssistantMessages(ctx context.Context, conversationID, userID, userText, assistantText string) error {
	now := s.now().UTC().Format(time.RFC3339)

	userMsg := store.Message{Role: store.RoleUser, Content: userText, Timestamp: now}
	if err := s.store.AppendMessage(ctx, conversationID, userID, userMsg); err != nil {
		return fmt.Errorf("failed to append user message: %w", err)
	}

	assistantMsg := store.Message{Role: store.RoleAssistant, Content: assistantText, Timestamp: now}
	if err := s.store.AppendMessage(ctx, conversationID, userID, assistantMsg); err != nil {
		return fmt.Errorf("user turn persisted but assistant turn failed: %w", err)
	}
	return nil
}
