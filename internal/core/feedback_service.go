package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/tuva-labs/tuva-server/internal/store"
)

// ConversationTurn is one prior user/assistant exchange supplied as context
// for a feedback request.
type ConversationTurn struct {
	User      string `json:"user"`
	Assistant string `json:"assistant"`
}

// FeatherlessService calls the Featherless OpenAI-compatible chat completions
// API, the only pack model host that accepts image parts.
type FeatherlessService struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

func NewFeatherlessService(apiKey, model, baseURL string) *FeatherlessService {
	return &FeatherlessService{
		apiKey:     apiKey,
		model:      model,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// chatMessage's content is either a plain string or a list of typed parts
// (text and image_url) for multimodal turns.
type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Feedback sends the captured frame and transcript (plus any earlier turns)
// to the model and returns its spoken-aloud feedback text.
func (s *FeatherlessService) Feedback(ctx context.Context, image, transcript string, history []ConversationTurn) (string, error) {
	if s.apiKey == "" {
		return "", store.NewServiceError(http.StatusInternalServerError, "FEATHERLESS_API_KEY is not configured")
	}

	dataURL := image
	if !strings.HasPrefix(image, "data:") {
		dataURL = "data:image/jpeg;base64," + image
	}

	messages := []chatMessage{{Role: "system", Content: TutorSystemPrompt}}
	for _, turn := range history {
		messages = append(messages,
			chatMessage{Role: "user", Content: fmt.Sprintf("The student said: %q. (No image in this earlier turn.)", turn.User)},
			chatMessage{Role: "assistant", Content: turn.Assistant},
		)
	}

	currentText := "Look at what the student is working on. What feedback or observations do you have?"
	if transcript != "" {
		currentText = fmt.Sprintf("The student says: %q. What feedback do you have?", transcript)
	}
	messages = append(messages, chatMessage{
		Role: "user",
		Content: []contentPart{
			{Type: "text", Text: currentText},
			{Type: "image_url", ImageURL: &imageURL{URL: dataURL}},
		},
	})

	return s.completionRaw(ctx, messages)
}

// Completion runs a text-only chat completion over stored history. When the
// structured messages[] request is rejected, it is retried once with the
// whole history flattened into a single user prompt.
func (s *FeatherlessService) Completion(ctx context.Context, history []store.Message) (string, error) {
	if s.apiKey == "" {
		return "", store.NewServiceError(http.StatusInternalServerError, "FEATHERLESS_API_KEY is not configured")
	}

	messages := make([]chatMessage, 0, len(history))
	for _, msg := range history {
		messages = append(messages, chatMessage{Role: string(msg.Role), Content: msg.Content})
	}

	reply, err := s.completionRaw(ctx, messages)
	if err == nil {
		return reply, nil
	}

	log.Printf("[featherless] messages[] failed, retrying flattened: %v", err)
	flattened := []chatMessage{{Role: "user", Content: FlattenMessages(history)}}
	return s.completionRaw(ctx, flattened)
}

func (s *FeatherlessService) completionRaw(ctx context.Context, messages []chatMessage) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"model":    s.model,
		"messages": messages,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build completion request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	res, err := s.httpClient.Do(req)
	if err != nil {
		return "", store.NewServiceError(http.StatusBadGateway, "featherless request failed: %v", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return "", store.NewServiceError(http.StatusBadGateway, "featherless response unreadable: %v", err)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		log.Printf("Featherless API error: %d %s", res.StatusCode, body)
		return "", store.NewServiceError(http.StatusBadGateway, "%s", parseFeatherlessError(res.StatusCode, body))
	}

	var parsed completionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", store.NewServiceError(http.StatusBadGateway, "featherless response malformed: %v", err)
	}
	if len(parsed.Choices) == 0 {
		return "", nil
	}
	return parsed.Choices[0].Message.Content, nil
}

// parseFeatherlessError extracts a human-readable message from a provider
// error body, falling back to a status-code-keyed table.
func parseFeatherlessError(status int, body []byte) string {
	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		for _, msg := range []string{parsed.Error.Message, parsed.Message, parsed.Detail} {
			if msg != "" {
				return msg
			}
		}
	}

	switch status {
	case http.StatusUnauthorized:
		return "Invalid Featherless API key. Check your .env."
	case http.StatusForbidden:
		return "Model is gated. Connect your HuggingFace account to verify access."
	case http.StatusBadRequest:
		return "Model is cold or starting. Wait a few minutes and try again."
	case http.StatusServiceUnavailable:
		return "Featherless is busy. Try again in a few seconds."
	}
	return "Failed to get feedback from model"
}
