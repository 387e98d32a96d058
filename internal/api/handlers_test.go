package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tuva-labs/tuva-server/internal/api"
	"github.com/tuva-labs/tuva-server/internal/core"
	"github.com/tuva-labs/tuva-server/internal/store"
)

type stubCompleter struct {
	reply string
	err   error
}

func (s *stubCompleter) Complete(_ context.Context, _ []store.Message, _ string) (string, error) {
	return s.reply, s.err
}

type testEnv struct {
	router  http.Handler
	history *core.HistoryService
}

// newTestEnv wires the full router against the in-memory backend, a stub
// chat model, and httptest-backed provider clients.
func newTestEnv(t *testing.T, llm core.Completer) *testEnv {
	t.Helper()

	providers := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/chat/completions":
			json.NewEncoder(w).Encode(map[string]any{
				"choices": []map[string]any{
					{"message": map[string]any{"content": "How does that work?"}},
				},
			})
		case strings.HasPrefix(r.URL.Path, "/text-to-speech/"):
			w.Header().Set("Content-Type", "audio/mpeg")
			w.Write([]byte("mp3-bytes"))
		case r.URL.Path == "/speech-to-text":
			json.NewEncoder(w).Encode(map[string]string{"text": "spoken words"})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(providers.Close)

	history := core.NewHistoryService(store.NewMemoryStore())
	feedback := core.NewFeatherlessService("test-key", "test-model", providers.URL)
	speech := core.NewElevenLabsService("test-key", "main-voice", "exam-voice", providers.URL)

	handler := api.NewAPIHandler(
		history,
		core.NewChatService(history, llm),
		feedback,
		speech,
		core.NewInsightsService(history, feedback),
		core.NewMemoryService("", ""),
		"",
	)
	return &testEnv{router: api.NewRouter(handler), history: history}
}

func (e *testEnv) doJSON(t *testing.T, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(encoded)
	} else {
		body = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var parsed map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &parsed))
	return parsed
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, &stubCompleter{reply: "ok"})
	rec := env.doJSON(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", decodeBody(t, rec)["status"])
}

func TestChatMissingMessage(t *testing.T) {
	env := newTestEnv(t, &stubCompleter{reply: "ok"})
	rec := env.doJSON(t, http.MethodPost, "/api/chat", map[string]string{"message": "   "})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Missing message", decodeBody(t, rec)["error"])
}

func TestChatMintsConversation(t *testing.T) {
	env := newTestEnv(t, &stubCompleter{reply: "Why does that happen?"})
	rec := env.doJSON(t, http.MethodPost, "/api/chat", map[string]string{
		"message": "Photosynthesis turns light into sugar.",
		"userId":  "u1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	require.Equal(t, "Why does that happen?", body["reply"])
	conversationID := body["conversationId"].(string)
	require.NotEmpty(t, conversationID)

	// The minted conversation exists with its persona seed even before the
	// asynchronous turn write lands.
	detail, err := env.history.GetConversation(context.Background(), conversationID, "u1")
	require.NoError(t, err)
	require.NotEmpty(t, detail.Messages)
	require.Equal(t, store.RoleSystem, detail.Messages[0].Role)
}

func TestChatStaleConversationMintsFresh(t *testing.T) {
	env := newTestEnv(t, &stubCompleter{reply: "Tell me more."})
	rec := env.doJSON(t, http.MethodPost, "/api/chat", map[string]string{
		"message":        "hi",
		"conversationId": "long-gone",
		"userId":         "u1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	require.NotEmpty(t, body["conversationId"])
	require.NotEqual(t, "long-gone", body["conversationId"])
}

func TestChatUnconfiguredModel(t *testing.T) {
	env := newTestEnv(t, core.NewGeminiService("", "gemini-2.0-flash"))
	rec := env.doJSON(t, http.MethodPost, "/api/chat", map[string]string{
		"message": "hi",
		"userId":  "u1",
	})
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, decodeBody(t, rec)["error"], "GEMINI_API_KEY is not configured")
}

func TestConversationLifecycle(t *testing.T) {
	env := newTestEnv(t, &stubCompleter{reply: "ok"})

	rec := env.doJSON(t, http.MethodPost, "/api/conversations", map[string]string{"userId": "u1"})
	require.Equal(t, http.StatusOK, rec.Code)
	conversationID := decodeBody(t, rec)["conversationId"].(string)
	require.NotEmpty(t, conversationID)

	rec = env.doJSON(t, http.MethodPost, "/api/conversations/"+conversationID, map[string]string{
		"userId":  "u1",
		"message": "What is recursion?",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, "How does that work?", body["reply"])
	require.Len(t, body["messages"].([]any), 3)

	rec = env.doJSON(t, http.MethodGet, "/api/conversations?userId=u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	conversations := decodeBody(t, rec)["conversations"].([]any)
	require.Len(t, conversations, 1)
	first := conversations[0].(map[string]any)
	require.Equal(t, conversationID, first["conversationId"])
	require.Equal(t, "What is recursion?", first["title"])

	rec = env.doJSON(t, http.MethodGet, "/api/conversations/"+conversationID+"?userId=u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decodeBody(t, rec)["messages"].([]any), 3)
}

func TestConversationRequiresUser(t *testing.T) {
	env := newTestEnv(t, &stubCompleter{reply: "ok"})

	rec := env.doJSON(t, http.MethodGet, "/api/conversations", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "userId or email is required", decodeBody(t, rec)["error"])

	rec = env.doJSON(t, http.MethodPost, "/api/conversations", map[string]string{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetConversationNotFound(t *testing.T) {
	env := newTestEnv(t, &stubCompleter{reply: "ok"})
	rec := env.doJSON(t, http.MethodGet, "/api/conversations/nope?userId=u1", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "conversation not found", decodeBody(t, rec)["error"])
}

func TestFeedbackValidation(t *testing.T) {
	env := newTestEnv(t, &stubCompleter{reply: "ok"})

	rec := env.doJSON(t, http.MethodPost, "/api/feedback", map[string]any{"transcript": "hi"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Missing image or transcript", decodeBody(t, rec)["error"])

	rec = env.doJSON(t, http.MethodPost, "/api/feedback", map[string]any{"image": "aGk="})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFeedbackSetsContinuityCookies(t *testing.T) {
	env := newTestEnv(t, &stubCompleter{reply: "ok"})

	rec := env.doJSON(t, http.MethodPost, "/api/feedback", map[string]any{
		"image":      "aGk=",
		"transcript": "I explained loops",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "How does that work?", decodeBody(t, rec)["text"])

	names := map[string]bool{}
	for _, cookie := range rec.Result().Cookies() {
		names[cookie.Name] = true
		require.True(t, cookie.HttpOnly)
		require.Equal(t, "/", cookie.Path)
	}
	require.True(t, names["tuva_history_thread"])
	require.True(t, names["tuva_history_user"])
	require.True(t, names["tuva_history_session"])
}

func TestFeedbackReusesThreadCookie(t *testing.T) {
	env := newTestEnv(t, &stubCompleter{reply: "ok"})

	payload, _ := json.Marshal(map[string]any{"image": "aGk=", "transcript": "second round"})
	req := httptest.NewRequest(http.MethodPost, "/api/feedback", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(&http.Cookie{Name: "tuva_history_thread", Value: "existing-thread"})
	req.AddCookie(&http.Cookie{Name: "tuva_history_user", Value: "u1"})
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, rec.Result().Cookies())
}

func TestInsightsRequiresUser(t *testing.T) {
	env := newTestEnv(t, &stubCompleter{reply: "ok"})
	rec := env.doJSON(t, http.MethodGet, "/api/insights", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "userId is required", decodeBody(t, rec)["error"])
}

func TestInsightsInsufficient(t *testing.T) {
	env := newTestEnv(t, &stubCompleter{reply: "ok"})
	rec := env.doJSON(t, http.MethodGet, "/api/insights?userId=u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	require.Equal(t, "insufficient", body["status"])
	require.Equal(t, "Teach a few more sessions to unlock insights.", body["message"])
	require.Empty(t, body["strengths"])
	require.Empty(t, body["improvements"])
}

func TestMemorySessionRoundTrip(t *testing.T) {
	env := newTestEnv(t, &stubCompleter{reply: "ok"})

	rec := env.doJSON(t, http.MethodPut, "/api/memory/sessions", map[string]any{
		"sessionId": "s1",
		"topic":     "sorting",
		"messages": []map[string]string{
			{"user": "I taught bubble sort", "assistant": "Why swap adjacent items?"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, decodeBody(t, rec)["ok"])

	rec = env.doJSON(t, http.MethodGet, "/api/memory/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sessions := decodeBody(t, rec)["sessions"].([]any)
	require.Len(t, sessions, 1)
	require.Equal(t, "s1", sessions[0].(map[string]any)["id"])

	rec = env.doJSON(t, http.MethodGet, "/api/memory/sessions/s1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, "sorting", body["topic"])
	require.Len(t, body["messages"].([]any), 2)
	history := body["history"].([]any)
	require.Len(t, history, 1)
	require.Equal(t, "I taught bubble sort", history[0].(map[string]any)["user"])
}

func TestMemorySessionValidationAndNotFound(t *testing.T) {
	env := newTestEnv(t, &stubCompleter{reply: "ok"})

	rec := env.doJSON(t, http.MethodPut, "/api/memory/sessions", map[string]any{"sessionId": "s1"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "sessionId and messages (array) required", decodeBody(t, rec)["error"])

	rec = env.doJSON(t, http.MethodGet, "/api/memory/sessions/unknown", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "Session not found", decodeBody(t, rec)["error"])
}

func TestSpeechEndpoint(t *testing.T) {
	env := newTestEnv(t, &stubCompleter{reply: "ok"})

	rec := env.doJSON(t, http.MethodPost, "/api/speech", map[string]string{"text": ""})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Missing text", decodeBody(t, rec)["error"])

	rec = env.doJSON(t, http.MethodPost, "/api/speech", map[string]string{"text": "hello"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "audio/mpeg", rec.Header().Get("Content-Type"))
	require.Equal(t, "mp3-bytes", rec.Body.String())
}

func TestTranscribeEndpoint(t *testing.T) {
	env := newTestEnv(t, &stubCompleter{reply: "ok"})

	rec := env.doJSON(t, http.MethodPost, "/api/transcribe", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Missing audio file (form field: audio)", decodeBody(t, rec)["error"])

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("audio", "clip.webm")
	require.NoError(t, err)
	_, err = part.Write([]byte("webm-bytes"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/transcribe", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "spoken words", decodeBody(t, rec)["text"])
}
