package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/tuva-labs/tuva-server/internal/store"
)

type SessionSummary struct {
	ID           string `json:"id"`
	Topic        string `json:"topic,omitempty"`
	UpdatedAt    string `json:"updatedAt"`
	MessageCount int    `json:"messageCount,omitempty"`
}

type SessionDetail struct {
	ID        string          `json:"id"`
	Topic     string          `json:"topic,omitempty"`
	Messages  []store.Message `json:"messages"`
	UpdatedAt string          `json:"updatedAt"`
}

type localSession struct {
	messages  []store.Message
	topic     string
	updatedAt string
}

// MemoryService persists per-session teaching transcripts through the
// Backboard memory API, with a local map fallback when no credential is
// configured. The backend is fixed for the process lifetime.
type MemoryService struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	now        func() time.Time

	mu    sync.RWMutex
	local map[string]localSession
}

func NewMemoryService(apiKey, baseURL string) *MemoryService {
	return &MemoryService{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		now:        time.Now,
		local:      make(map[string]localSession),
	}
}

func (s *MemoryService) remote() bool {
	return s.apiKey != ""
}

func (s *MemoryService) headers(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("X-API-Key", s.apiKey)
}

// SaveSession stores or replaces a session's messages. Remote failures are
// returned to the caller instead of being swallowed, so the handler can log
// them and answer 502.
func (s *MemoryService) SaveSession(ctx context.Context, sessionID string, messages []store.Message, topic string) error {
	now := s.now().UTC().Format(time.RFC3339)

	if !s.remote() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.local[sessionID] = localSession{messages: messages, topic: topic, updatedAt: now}
		return nil
	}

	payload, err := json.Marshal(map[string]any{
		"id":        sessionID,
		"messages":  messages,
		"topic":     topic,
		"updatedAt": now,
	})
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.baseURL+"/sessions/"+sessionID, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build session request: %w", err)
	}
	s.headers(req)

	res, err := s.httpClient.Do(req)
	if err != nil {
		return store.NewServiceError(http.StatusBadGateway, "memory request failed: %v", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		body, _ := io.ReadAll(res.Body)
		log.Printf("[memory] saveSession error: %d %s", res.StatusCode, body)
		return store.NewServiceError(http.StatusBadGateway, "failed to save session: %d %s", res.StatusCode, body)
	}
	return nil
}

// Sessions lists stored sessions, most recently updated first. Remote
// failures degrade to an empty list; the history page renders without
// memory rather than erroring.
func (s *MemoryService) Sessions(ctx context.Context) ([]SessionSummary, error) {
	if !s.remote() {
		s.mu.RLock()
		defer s.mu.RUnlock()

		summaries := []SessionSummary{}
		for id, session := range s.local {
			summaries = append(summaries, SessionSummary{
				ID:           id,
				Topic:        session.topic,
				UpdatedAt:    session.updatedAt,
				MessageCount: len(session.messages),
			})
		}
		sort.Slice(summaries, func(i, j int) bool {
			return summaries[i].UpdatedAt > summaries[j].UpdatedAt
		})
		return summaries, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/sessions", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build session request: %w", err)
	}
	s.headers(req)

	res, err := s.httpClient.Do(req)
	if err != nil {
		log.Printf("[memory] getSessions failed: %v", err)
		return []SessionSummary{}, nil
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		log.Printf("[memory] getSessions error: %d", res.StatusCode)
		return []SessionSummary{}, nil
	}

	var parsed struct {
		Sessions []SessionSummary `json:"sessions"`
		Data     []SessionSummary `json:"data"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		log.Printf("[memory] getSessions malformed response: %v", err)
		return []SessionSummary{}, nil
	}
	if parsed.Sessions != nil {
		return parsed.Sessions, nil
	}
	if parsed.Data != nil {
		return parsed.Data, nil
	}
	return []SessionSummary{}, nil
}

// SessionHistory returns the full message list for a session, or ErrNotFound.
func (s *MemoryService) SessionHistory(ctx context.Context, sessionID string) (*SessionDetail, error) {
	if !s.remote() {
		s.mu.RLock()
		defer s.mu.RUnlock()

		session, ok := s.local[sessionID]
		if !ok {
			return nil, store.ErrNotFound
		}
		return &SessionDetail{
			ID:        sessionID,
			Topic:     session.topic,
			Messages:  session.messages,
			UpdatedAt: session.updatedAt,
		}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/sessions/"+sessionID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build session request: %w", err)
	}
	s.headers(req)

	res, err := s.httpClient.Do(req)
	if err != nil {
		return nil, store.NewServiceError(http.StatusBadGateway, "memory request failed: %v", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil, store.ErrNotFound
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, store.NewServiceError(http.StatusBadGateway, "failed to fetch session: %d", res.StatusCode)
	}

	var detail SessionDetail
	if err := json.NewDecoder(res.Body).Decode(&detail); err != nil {
		return nil, store.NewServiceError(http.StatusBadGateway, "memory response malformed: %v", err)
	}
	if detail.ID == "" {
		detail.ID = sessionID
	}
	if detail.UpdatedAt == "" {
		detail.UpdatedAt = s.now().UTC().Format(time.RFC3339)
	}
	return &detail, nil
}

// PairTurns groups an alternating user/assistant message list into exchange
// pairs for the history UI.
func PairTurns(messages []store.Message) []ConversationTurn {
	pairs := []ConversationTurn{}
	for i := 0; i+1 < len(messages); i += 2 {
		if messages[i].Role == store.RoleUser && messages[i+1].Role == store.RoleAssistant {
			pairs = append(pairs, ConversationTurn{
				User:      messages[i].Content,
				Assistant: messages[i+1].Content,
			})
		}
	}
	return pairs
}

// TurnsToMessages flattens exchange pairs back into a role-tagged list.
func TurnsToMessages(turns []ConversationTurn) []store.Message {
	messages := make([]store.Message, 0, len(turns)*2)
	for _, turn := range turns {
		messages = append(messages,
			store.Message{Role: store.RoleUser, Content: turn.User},
			store.Message{Role: store.RoleAssistant, Content: turn.Assistant},
		)
	}
	return messages
}
