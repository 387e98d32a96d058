package core

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/tuva-labs/tuva-server/internal/store"
)

// ChatService orchestrates one chat exchange: resolve or mint a conversation,
// load prior history, ask the LLM, and persist the new turn.
type ChatService struct {
	history *HistoryService
	llm     Completer
}

func NewChatService(history *HistoryService, llm Completer) *ChatService {
	return &ChatService{history: history, llm: llm}
}

type ChatResult struct {
	Reply          string `json:"reply"`
	ConversationID string `json:"conversationId"`
}

// Send handles a chat message. Persistence of the new turn is fire-and-forget:
// a write failure is logged and never surfaced to the caller, so the reply is
// not delayed or dropped because the history service is down.
func (s *ChatService) Send(ctx context.Context, conversationID, userID, message string) (*ChatResult, error) {
	var history []store.Message

	if conversationID == "" {
		created, err := s.history.InitConversation(ctx, userID)
		if err != nil {
			return nil, err
		}
		conversationID = created
	} else {
		detail, err := s.history.GetConversation(ctx, conversationID, userID)
		if err != nil {
			// A stale id from the client mints a fresh conversation rather
			// than failing the exchange.
			if !errors.Is(err, store.ErrNotFound) && !errors.Is(err, store.ErrAccessDenied) {
				return nil, err
			}
			created, initErr := s.history.InitConversation(ctx, userID)
			if initErr != nil {
				return nil, initErr
			}
			conversationID = created
		} else {
			history = detail.Messages
		}
	}

	reply, err := s.llm.Complete(ctx, history, message)
	if err != nil {
		return nil, err
	}

	go s.persistTurn(conversationID, userID, message, reply)

	return &ChatResult{Reply: reply, ConversationID: conversationID}, nil
}

func (s *ChatService) persistTurn(conversationID, userID, message, reply string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.history.AppendUserAndAssistantMessages(ctx, conversationID, userID, message, reply); err != nil {
		log.Printf("Failed to persist chat turn for conversation %s: %v", conversationID, err)
	}
}
