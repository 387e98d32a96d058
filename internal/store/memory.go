package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type conversationMeta struct {
	userID    string
	createdAt string
}

// MemoryStore is the in-process fallback used when no Backboard credential is
// configured. It is a development convenience: nothing survives a restart,
// there is no eviction, and reads accept the caller's userID as given since
// the store is not multi-tenant-safe.
type MemoryStore struct {
	mu       sync.RWMutex
	messages map[string][]Message
	meta     map[string]conversationMeta
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages: make(map[string][]Message),
		meta:     make(map[string]conversationMeta),
	}
}

func (s *MemoryStore) CreateConversation(_ context.Context, userID, systemPrompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339)
	conversationID := uuid.NewString()
	s.messages[conversationID] = []Message{{Role: RoleSystem, Content: systemPrompt, Timestamp: now}}
	s.meta[conversationID] = conversationMeta{userID: userID, createdAt: now}
	return conversationID, nil
}

func (s *MemoryStore) Conversation(_ context.Context, conversationID, userID string) (*ConversationDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	messages, ok := s.messages[conversationID]
	if !ok {
		return nil, ErrNotFound
	}

	meta := s.meta[conversationID]
	copied := make([]Message, len(messages))
	copy(copied, messages)
	return &ConversationDetail{
		ConversationID: conversationID,
		UserID:         userID, // ownership is not verified on the fallback path
		Title:          DeriveTitle(copied),
		UpdatedAt:      LastTimestamp(copied, meta.createdAt),
		Messages:       copied,
	}, nil
}

func (s *MemoryStore) Conversations(_ context.Context, userID string) ([]ConversationSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summaries := []ConversationSummary{}
	for conversationID, meta := range s.meta {
		if meta.userID != userID {
			continue
		}
		messages := s.messages[conversationID]
		if !HasUserMessage(messages) {
			continue
		}
		summaries = append(summaries, ConversationSummary{
			ConversationID: conversationID,
			UserID:         meta.userID,
			Title:          DeriveTitle(messages),
			UpdatedAt:      LastTimestamp(messages, meta.createdAt),
			MessageCount:   len(messages),
		})
	}
	return summaries, nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, conversationID, _ string, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[conversationID]; !ok {
		return ErrNotFound
	}
	s.messages[conversationID] = append(s.messages[conversationID], msg)
	return nil
}
