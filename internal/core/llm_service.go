package core

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/tuva-labs/tuva-server/internal/store"
)

// Completer produces an assistant reply from prior history plus the latest
// user message.
type Completer interface {
	Complete(ctx context.Context, history []store.Message, latest string) (string, error)
}

// GeminiService backs the chat endpoint with Google's hosted multimodal LLM.
type GeminiService struct {
	apiKey string
	model  string

	mu     sync.Mutex
	client *genai.Client
}

func NewGeminiService(apiKey, model string) *GeminiService {
	return &GeminiService{apiKey: apiKey, model: model}
}

func (s *GeminiService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		if err := s.client.Close(); err != nil {
			log.Printf("Error closing GenAI client: %v", err)
		}
		s.client = nil
	}
}

// getClient creates the GenAI client on first use so a missing key fails the
// request, not the process.
func (s *GeminiService) getClient(ctx context.Context) (*genai.Client, error) {
	if s.apiKey == "" {
		return nil, store.NewServiceError(http.StatusInternalServerError, "GEMINI_API_KEY is not configured")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client, nil
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(s.apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	s.client = client
	return client, nil
}

func (s *GeminiService) Complete(ctx context.Context, history []store.Message, latest string) (string, error) {
	client, err := s.getClient(ctx)
	if err != nil {
		return "", err
	}

	model := client.GenerativeModel(s.model)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(systemInstruction(history))},
	}

	chatSession := model.StartChat()
	chatSession.History = toGeminiHistory(history)

	resp, err := chatSession.SendMessage(ctx, genai.Text(latest))
	if err != nil {
		// Some model hosts reject structured multi-message requests; retry
		// once with everything flattened into a single prompt.
		log.Printf("Gemini structured request failed, retrying flattened: %v", err)
		return s.completeFlattened(ctx, model, history, latest)
	}

	text := responseText(resp)
	if text == "" {
		log.Println("Gemini response was empty or had no valid candidates/parts.")
		return "I'm sorry, I couldn't generate a response at this time. Please try again.", nil
	}
	return text, nil
}

func (s *GeminiService) completeFlattened(ctx context.Context, model *genai.GenerativeModel, history []store.Message, latest string) (string, error) {
	prompt := FlattenMessages(append(historyWithoutSystem(history), store.Message{Role: store.RoleUser, Content: latest}))
	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", store.NewServiceError(http.StatusBadGateway, "gemini request failed: %v", err)
	}
	text := responseText(resp)
	if text == "" {
		return "", store.NewServiceError(http.StatusBadGateway, "gemini returned an empty response")
	}
	return text, nil
}

// systemInstruction collects system-role history into the model's system
// instruction, defaulting to the student persona.
func systemInstruction(history []store.Message) string {
	var parts []string
	for _, msg := range history {
		if msg.Role == store.RoleSystem && msg.Content != "" {
			parts = append(parts, msg.Content)
		}
	}
	if len(parts) == 0 {
		return StudentSystemPrompt
	}
	return strings.Join(parts, "\n\n")
}

// toGeminiHistory maps stored roles onto Gemini's user/model pair. System
// messages ride in the system instruction instead.
func toGeminiHistory(history []store.Message) []*genai.Content {
	var contents []*genai.Content
	for _, msg := range history {
		if msg.Role == store.RoleSystem {
			continue
		}
		role := "user"
		if msg.Role == store.RoleAssistant {
			role = "model"
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(msg.Content)},
		})
	}
	return contents
}

func historyWithoutSystem(history []store.Message) []store.Message {
	out := make([]store.Message, 0, len(history))
	for _, msg := range history {
		if msg.Role == store.RoleSystem {
			continue
		}
		out = append(out, msg)
	}
	return out
}

// FlattenMessages renders a message list as a single "ROLE: content" prompt,
// the fallback request shape for hosts that reject messages[].
func FlattenMessages(messages []store.Message) string {
	lines := make([]string, 0, len(messages))
	for _, msg := range messages {
		lines = append(lines, fmt.Sprintf("%s: %s", strings.ToUpper(string(msg.Role)), msg.Content))
	}
	return strings.Join(lines, "\n")
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			text.WriteString(string(txt))
		}
	}
	return text.String()
}
