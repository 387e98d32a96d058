package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"sync"
	"time"
)

const assistantName = "Tuva History Assistant"

// BackboardStore talks to the Backboard conversation-storage API. Backboard
// organizes state as assistants -> threads -> messages; one shared assistant
// persona holds every user's threads, and thread ownership is carried as
// metadata because the remote schema has no first-class owner field.
type BackboardStore struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client

	mu          sync.Mutex
	assistantID string // resolved once, cached for the process lifetime
}

func NewBackboardStore(baseURL, apiKey, assistantID string) *BackboardStore {
	return &BackboardStore{
		baseURL:     baseURL,
		apiKey:      apiKey,
		assistantID: assistantID,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Wire shapes. Backboard has answered with both snake_case and camelCase ids
// and with both "metadata" and a legacy "metadata_" key, so every reader
// checks both.
type threadMessage struct {
	Content   string         `json:"content"`
	Role      string         `json:"role"`
	Metadata  map[string]any `json:"metadata"`
	MetadataL map[string]any `json:"metadata_"`
	Timestamp string         `json:"timestamp"`
	CreatedAt string         `json:"created_at"`
}

type threadRecord struct {
	ThreadID  string            `json:"thread_id"`
	ThreadIDC string            `json:"threadId"`
	CreatedAt string            `json:"created_at"`
	Metadata  map[string]string `json:"metadata"`
	MetadataL map[string]string `json:"metadata_"`
	Messages  []threadMessage   `json:"messages"`
}

func (t *threadRecord) id() string {
	if t.ThreadID != "" {
		return t.ThreadID
	}
	return t.ThreadIDC
}

type assistantRecord struct {
	AssistantID string `json:"assistant_id"`
	ID          string `json:"id"`
	Name        string `json:"name"`
}

func (a *assistantRecord) id() string {
	if a.AssistantID != "" {
		return a.AssistantID
	}
	return a.ID
}

func (s *BackboardStore) doJSON(ctx context.Context, method, url string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode backboard request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to build backboard request: %w", err)
	}
	req.Header.Set("X-API-Key", s.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return s.send(req, out)
}

func (s *BackboardStore) doForm(ctx context.Context, url string, fields map[string]string) error {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return fmt.Errorf("failed to build backboard form: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finish backboard form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return fmt.Errorf("failed to build backboard request: %w", err)
	}
	req.Header.Set("X-API-Key", s.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	return s.send(req, nil)
}

func (s *BackboardStore) send(req *http.Request, out any) error {
	log.Printf("[backboard] %s %s", req.Method, req.URL.Path)
	res, err := s.httpClient.Do(req)
	if err != nil {
		return NewServiceError(http.StatusBadGateway, "backboard request failed: %v", err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return NewServiceError(http.StatusBadGateway, "backboard response unreadable: %v", err)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		log.Printf("[backboard] %s %s -> %d %s", req.Method, req.URL.Path, res.StatusCode, data)
		return NewServiceError(res.StatusCode, "backboard error: %d %s", res.StatusCode, data)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return NewServiceError(http.StatusBadGateway, "backboard response malformed: %v", err)
		}
	}
	return nil
}

// resolveAssistantID returns the shared assistant persona's id, creating the
// assistant on first use. The id is cached so concurrent requests do not race
// duplicate creations.
func (s *BackboardStore) resolveAssistantID(ctx context.Context, systemPrompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.assistantID != "" {
		return s.assistantID, nil
	}

	var list []assistantRecord
	if err := s.doJSON(ctx, http.MethodGet, s.baseURL+"/assistants", nil, &list); err != nil {
		return "", err
	}
	for i := range list {
		if list[i].Name == assistantName && list[i].id() != "" {
			s.assistantID = list[i].id()
			return s.assistantID, nil
		}
	}

	var created assistantRecord
	payload := map[string]string{"name": assistantName, "system_prompt": systemPrompt}
	if err := s.doJSON(ctx, http.MethodPost, s.baseURL+"/assistants", payload, &created); err != nil {
		return "", err
	}
	if created.id() == "" {
		return "", NewServiceError(http.StatusBadGateway, "backboard assistant creation failed: missing assistant_id")
	}
	s.assistantID = created.id()
	return s.assistantID, nil
}

func (s *BackboardStore) CreateConversation(ctx context.Context, userID, systemPrompt string) (string, error) {
	assistantID, err := s.resolveAssistantID(ctx, systemPrompt)
	if err != nil {
		return "", err
	}

	var thread threadRecord
	payload := map[string]any{"metadata": map[string]string{"userId": userID}}
	url := fmt.Sprintf("%s/assistants/%s/threads", s.baseURL, assistantID)
	if err := s.doJSON(ctx, http.MethodPost, url, payload, &thread); err != nil {
		return "", err
	}
	threadID := thread.id()
	if threadID == "" {
		return "", NewServiceError(http.StatusBadGateway, "backboard thread creation failed: missing thread_id")
	}

	seed := Message{Role: RoleSystem, Content: systemPrompt, Timestamp: time.Now().UTC().Format(time.RFC3339)}
	if err := s.AppendMessage(ctx, threadID, userID, seed); err != nil {
		return "", err
	}
	return threadID, nil
}

func (s *BackboardStore) AppendMessage(ctx context.Context, conversationID, userID string, msg Message) error {
	timestamp := msg.Timestamp
	if timestamp == "" {
		timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	metadata, err := json.Marshal(map[string]string{
		"role":             string(msg.Role),
		"userId":           userID,
		"user_id":          userID,
		"custom_timestamp": timestamp,
	})
	if err != nil {
		return fmt.Errorf("failed to encode message metadata: %w", err)
	}

	// Backboard's message schema has no role or owner field, so both ride in
	// metadata. send_to_llm is off: threads are pure storage here.
	fields := map[string]string{
		"content":     msg.Content,
		"stream":      "false",
		"memory":      "on",
		"send_to_llm": "false",
		"metadata":    string(metadata),
	}
	url := fmt.Sprintf("%s/threads/%s/messages", s.baseURL, conversationID)
	return threadNotFound(s.doForm(ctx, url, fields))
}

func (s *BackboardStore) Conversation(ctx context.Context, conversationID, userID string) (*ConversationDetail, error) {
	thread, err := s.getThread(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	messages := normalizeMessages(thread.Messages)
	owner := resolveOwner(thread)
	if owner == "" {
		return nil, ErrNotFound
	}
	if owner != userID {
		return nil, ErrAccessDenied
	}

	updatedAt := LastTimestamp(messages, thread.CreatedAt)
	if updatedAt == "" {
		updatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	return &ConversationDetail{
		ConversationID: conversationID,
		UserID:         userID,
		Title:          DeriveTitle(messages),
		UpdatedAt:      updatedAt,
		Messages:       messages,
	}, nil
}

func (s *BackboardStore) Conversations(ctx context.Context, userID string) ([]ConversationSummary, error) {
	assistantID, err := s.resolveAssistantID(ctx, "")
	if err != nil {
		return nil, err
	}

	var threads []threadRecord
	url := fmt.Sprintf("%s/assistants/%s/threads", s.baseURL, assistantID)
	if err := s.doJSON(ctx, http.MethodGet, url, nil, &threads); err != nil {
		return nil, err
	}

	// The remote API has no "list messages for threads owned by X", so
	// listing is a full fetch of every thread under the shared assistant.
	summaries := []ConversationSummary{}
	for i := range threads {
		threadID := threads[i].id()
		if threadID == "" {
			continue
		}

		full, err := s.getThread(ctx, threadID)
		if err != nil {
			return nil, err
		}
		messages := normalizeMessages(full.Messages)
		owner := resolveOwner(full)
		if owner == "" {
			log.Printf("[backboard] thread %s owner unresolved", threadID)
		}
		if owner != userID || !HasUserMessage(messages) {
			continue
		}

		updatedAt := LastTimestamp(messages, full.CreatedAt)
		if updatedAt == "" {
			updatedAt = time.Now().UTC().Format(time.RFC3339)
		}
		summaries = append(summaries, ConversationSummary{
			ConversationID: threadID,
			UserID:         owner,
			Title:          DeriveTitle(messages),
			UpdatedAt:      updatedAt,
			MessageCount:   len(messages),
		})
	}
	return summaries, nil
}

func (s *BackboardStore) getThread(ctx context.Context, threadID string) (*threadRecord, error) {
	var thread threadRecord
	if err := s.doJSON(ctx, http.MethodGet, s.baseURL+"/threads/"+threadID, nil, &thread); err != nil {
		return nil, threadNotFound(err)
	}
	return &thread, nil
}

// threadNotFound folds Backboard's 404 for a vanished thread into the store
// sentinel, so callers see the same error here as on the other backends.
func threadNotFound(err error) error {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) && svcErr.Status == http.StatusNotFound {
		return fmt.Errorf("%s: %w", svcErr.Message, ErrNotFound)
	}
	return err
}

// normalizeMessages maps Backboard's loose message shape onto the history
// model: role comes from the message itself or its metadata and defaults to
// user, timestamps fall back to created_at.
func normalizeMessages(raw []threadMessage) []Message {
	messages := make([]Message, 0, len(raw))
	for i := range raw {
		role := raw[i].Role
		if role == "" {
			role = metadataString(raw[i].Metadata, raw[i].MetadataL, "role")
		}
		switch Role(role) {
		case RoleAssistant, RoleSystem:
		default:
			role = string(RoleUser)
		}

		timestamp := raw[i].Timestamp
		if timestamp == "" {
			timestamp = raw[i].CreatedAt
		}
		messages = append(messages, Message{
			Role:      Role(role),
			Content:   raw[i].Content,
			Timestamp: timestamp,
		})
	}
	return messages
}

// resolveOwner reads the owning user id from thread metadata, falling back to
// per-message metadata for threads created before owner tagging moved to the
// thread level.
func resolveOwner(thread *threadRecord) string {
	for _, meta := range []map[string]string{thread.Metadata, thread.MetadataL} {
		if meta == nil {
			continue
		}
		if owner := firstOf(meta["userId"], meta["user_id"]); owner != "" {
			return owner
		}
	}
	for i := range thread.Messages {
		owner := firstOf(
			metadataString(thread.Messages[i].Metadata, thread.Messages[i].MetadataL, "userId"),
			metadataString(thread.Messages[i].Metadata, thread.Messages[i].MetadataL, "user_id"),
		)
		if owner != "" {
			return owner
		}
	}
	return ""
}

func metadataString(meta, legacy map[string]any, key string) string {
	if value, ok := meta[key].(string); ok {
		return value
	}
	if value, ok := legacy[key].(string); ok {
		return value
	}
	return ""
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
