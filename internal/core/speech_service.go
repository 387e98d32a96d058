package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/tuva-labs/tuva-server/internal/store"
)

// ElevenLabsService wraps the hosted text-to-speech and speech-to-text API.
type ElevenLabsService struct {
	apiKey      string
	voiceID     string
	testVoiceID string
	baseURL     string
	httpClient  *http.Client
}

func NewElevenLabsService(apiKey, voiceID, testVoiceID, baseURL string) *ElevenLabsService {
	return &ElevenLabsService{
		apiKey:      apiKey,
		voiceID:     voiceID,
		testVoiceID: testVoiceID,
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: 60 * time.Second},
	}
}

// Synthesize converts text into MP3 audio. testVoice selects the voice
// reserved for exam-proctor mode when one is configured.
func (s *ElevenLabsService) Synthesize(ctx context.Context, text string, testVoice bool) ([]byte, error) {
	if s.apiKey == "" {
		return nil, store.NewServiceError(http.StatusInternalServerError, "ELEVENLABS_API_KEY is not configured")
	}

	voiceID := s.voiceID
	if testVoice && s.testVoiceID != "" {
		voiceID = s.testVoiceID
	}

	payload, err := json.Marshal(map[string]string{
		"text":     text,
		"model_id": "eleven_multilingual_v2",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode speech request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/text-to-speech/"+voiceID, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build speech request: %w", err)
	}
	req.Header.Set("xi-api-key", s.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	res, err := s.httpClient.Do(req)
	if err != nil {
		return nil, store.NewServiceError(http.StatusBadGateway, "elevenlabs request failed: %v", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, store.NewServiceError(http.StatusBadGateway, "elevenlabs response unreadable: %v", err)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		log.Printf("ElevenLabs API error: %d %s", res.StatusCode, body)
		return nil, store.NewServiceError(http.StatusBadGateway, "%s", parseElevenLabsError(res.StatusCode, body, "Failed to generate speech"))
	}
	return body, nil
}

// Transcribe sends recorded audio to the speech-to-text model and returns
// the transcript.
func (s *ElevenLabsService) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	if s.apiKey == "" {
		return "", store.NewServiceError(http.StatusInternalServerError, "ELEVENLABS_API_KEY is not configured")
	}
	if mimeType == "" {
		mimeType = "audio/webm"
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", "recording.webm")
	if err != nil {
		return "", fmt.Errorf("failed to build transcription form: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("failed to write audio payload: %w", err)
	}
	if err := writer.WriteField("model_id", "scribe_v2"); err != nil {
		return "", fmt.Errorf("failed to build transcription form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to finish transcription form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/speech-to-text", &buf)
	if err != nil {
		return "", fmt.Errorf("failed to build transcription request: %w", err)
	}
	req.Header.Set("xi-api-key", s.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	res, err := s.httpClient.Do(req)
	if err != nil {
		return "", store.NewServiceError(http.StatusBadGateway, "elevenlabs request failed: %v", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return "", store.NewServiceError(http.StatusBadGateway, "elevenlabs response unreadable: %v", err)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		log.Printf("ElevenLabs transcription error: %d %s", res.StatusCode, body)
		return "", store.NewServiceError(http.StatusBadGateway, "%s", parseElevenLabsError(res.StatusCode, body, "Failed to transcribe audio"))
	}

	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", store.NewServiceError(http.StatusBadGateway, "elevenlabs response malformed: %v", err)
	}
	return strings.TrimSpace(parsed.Text), nil
}

// parseElevenLabsError extracts detail.message (or detail) from a provider
// error body, falling back to a status-code-keyed table.
func parseElevenLabsError(status int, body []byte, fallback string) string {
	var parsed struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && len(parsed.Detail) > 0 {
		var detailObj struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(parsed.Detail, &detailObj); err == nil && detailObj.Message != "" {
			return detailObj.Message
		}
		var detailStr string
		if err := json.Unmarshal(parsed.Detail, &detailStr); err == nil && detailStr != "" {
			return detailStr
		}
	}

	switch status {
	case http.StatusUnauthorized:
		return "Invalid ElevenLabs API key"
	case http.StatusPaymentRequired:
		return "ElevenLabs quota exceeded"
	case http.StatusUnprocessableEntity:
		return "Invalid request to ElevenLabs"
	}
	return fallback
}
