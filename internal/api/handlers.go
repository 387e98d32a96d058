package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tuva-labs/tuva-server/internal/auth"
	"github.com/tuva-labs/tuva-server/internal/core"
	"github.com/tuva-labs/tuva-server/internal/store"
)

// Cookie triad used by the feedback flow to keep conversation continuity
// without an explicit thread id in the request.
const (
	cookieThread  = "tuva_history_thread"
	cookieUser    = "tuva_history_user"
	cookieSession = "tuva_history_session"
)

type ctxKey string

const ctxKeyUserID ctxKey = "userID"

type APIHandler struct {
	history  *core.HistoryService
	chat     *core.ChatService
	feedback *core.FeatherlessService
	speech   *core.ElevenLabsService
	insights *core.InsightsService
	memory   *core.MemoryService

	authSecret string
}

func NewAPIHandler(
	history *core.HistoryService,
	chat *core.ChatService,
	feedback *core.FeatherlessService,
	speech *core.ElevenLabsService,
	insights *core.InsightsService,
	memory *core.MemoryService,
	authSecret string,
) *APIHandler {
	return &APIHandler{
		history:    history,
		chat:       chat,
		feedback:   feedback,
		speech:     speech,
		insights:   insights,
		memory:     memory,
		authSecret: authSecret,
	}
}

// AuthMiddleware validates identity-provider bearer tokens when a secret is
// configured. Without one, authentication stays fully delegated to the
// frontend and requests pass through untouched.
func (h *APIHandler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.authSecret == "" {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			next.ServeHTTP(w, r)
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		userID, err := auth.ValidateToken(tokenString, h.authSecret)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyUserID, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// resolveUserID prefers the authenticated identity over anything the client
// supplied.
func resolveUserID(r *http.Request, candidates ...string) string {
	if userID, ok := r.Context().Value(ctxKeyUserID).(string); ok && userID != "" {
		return userID
	}
	for _, candidate := range candidates {
		if trimmed := strings.TrimSpace(candidate); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func (h *APIHandler) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

func (h *APIHandler) ChatHandler(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	message := strings.TrimSpace(req.Message)
	if message == "" {
		writeError(w, http.StatusBadRequest, "Missing message")
		return
	}

	userID := resolveUserID(r, req.UserID, cookieValue(r, cookieUser))
	if userID == "" {
		userID = "anonymous"
	}

	result, err := h.chat.Send(r.Context(), strings.TrimSpace(req.ConversationID), userID, message)
	if err != nil {
		log.Printf("Chat API error for user %s: %v", userID, err)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type conversationsRequest struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

func (h *APIHandler) ListConversationsHandler(w http.ResponseWriter, r *http.Request) {
	userID := resolveUserID(r, r.URL.Query().Get("userId"), r.URL.Query().Get("email"))
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId or email is required")
		return
	}

	conversations, err := h.history.ListConversations(r.Context(), userID)
	if err != nil {
		log.Printf("Error listing conversations for user %s: %v", userID, err)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": conversations})
}

func (h *APIHandler) CreateConversationHandler(w http.ResponseWriter, r *http.Request) {
	var req conversationsRequest
	if r.Body != http.NoBody {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
			return
		}
	}

	userID := resolveUserID(r, req.UserID, req.Email)
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId or email is required")
		return
	}

	conversationID, err := h.history.InitConversation(r.Context(), userID)
	if err != nil {
		log.Printf("Error creating conversation for user %s: %v", userID, err)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"conversationId": conversationID})
}

func (h *APIHandler) GetConversationHandler(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	userID := resolveUserID(r, r.URL.Query().Get("userId"), r.URL.Query().Get("email"))
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId or email is required")
		return
	}

	conversation, err := h.history.GetConversation(r.Context(), conversationID, userID)
	if err != nil {
		log.Printf("Error getting conversation %s for user %s: %v", conversationID, userID, err)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conversation)
}

type conversationMessageRequest struct {
	UserID  string `json:"userId"`
	Email   string `json:"email"`
	Message string `json:"message"`
}

// PostConversationMessageHandler runs one persisted exchange against the
// Featherless model: prior history prefixed with the student persona prompt,
// then the new user turn.
func (h *APIHandler) PostConversationMessageHandler(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")

	var req conversationMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	userID := resolveUserID(r, req.UserID, req.Email)
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId or email is required")
		return
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	conversation, err := h.history.GetConversation(r.Context(), conversationID, userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	prompt := make([]store.Message, 0, len(conversation.Messages)+2)
	prompt = append(prompt, store.Message{Role: store.RoleSystem, Content: core.StudentSystemPrompt})
	prompt = append(prompt, conversation.Messages...)
	prompt = append(prompt, store.Message{Role: store.RoleUser, Content: message})

	reply, err := h.feedback.Completion(r.Context(), prompt)
	if err != nil {
		log.Printf("Error generating reply for conversation %s: %v", conversationID, err)
		writeServiceError(w, err)
		return
	}

	if err := h.history.AppendUserAndAssistantMessages(r.Context(), conversationID, userID, message, reply); err != nil {
		log.Printf("Error appending messages to conversation %s: %v", conversationID, err)
		writeServiceError(w, err)
		return
	}

	updated, err := h.history.GetConversation(r.Context(), conversationID, userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reply": reply, "messages": updated.Messages})
}

type feedbackRequest struct {
	Image      string                  `json:"image"`
	Transcript *string                 `json:"transcript"`
	History    []core.ConversationTurn `json:"history"`
}

func (h *APIHandler) FeedbackHandler(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Image == "" || req.Transcript == nil {
		writeError(w, http.StatusBadRequest, "Missing image or transcript")
		return
	}
	transcript := *req.Transcript

	text, err := h.feedback.Feedback(r.Context(), req.Image, transcript, req.History)
	if err != nil {
		log.Printf("Feedback API error: %v", err)
		writeServiceError(w, err)
		return
	}

	h.recordFeedbackTurn(w, r, transcript, text)
	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}

// recordFeedbackTurn keeps conversation continuity across feedback requests
// through the cookie triad, minting a conversation (and identity cookie) on
// the first exchange. Persistence is best-effort: a history failure never
// fails the feedback response.
func (h *APIHandler) recordFeedbackTurn(w http.ResponseWriter, r *http.Request, transcript, reply string) {
	userID := resolveUserID(r, cookieValue(r, cookieUser))
	if userID == "" {
		userID = uuid.NewString()
	}

	conversationID := cookieValue(r, cookieThread)
	if conversationID == "" {
		created, err := h.history.InitConversation(r.Context(), userID)
		if err != nil {
			log.Printf("Failed to init feedback conversation for user %s: %v", userID, err)
			return
		}
		conversationID = created
		setHistoryCookie(w, cookieThread, conversationID)
		setHistoryCookie(w, cookieUser, userID)
		setHistoryCookie(w, cookieSession, uuid.NewString())
	}

	userText := transcript
	if userText == "" {
		userText = "(no transcript)"
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := h.history.AppendUserAndAssistantMessages(ctx, conversationID, userID, userText, reply); err != nil {
			log.Printf("Failed to persist feedback turn for conversation %s: %v", conversationID, err)
		}
	}()
}

func (h *APIHandler) InsightsHandler(w http.ResponseWriter, r *http.Request) {
	userID := resolveUserID(r, r.URL.Query().Get("userId"))
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	result, err := h.insights.Insights(r.Context(), userID)
	if err != nil {
		log.Printf("Insights API error for user %s: %v", userID, err)
		writeServiceError(w, err)
		return
	}

	if result.Status == "insufficient" {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":       "insufficient",
			"message":      result.Message,
			"strengths":    []string{},
			"improvements": []string{},
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"strengths":    result.Payload.Strengths,
		"improvements": result.Payload.Improvements,
		"generatedAt":  result.Payload.GeneratedAt,
	})
}

func (h *APIHandler) ListSessionsHandler(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.memory.Sessions(r.Context())
	if err != nil {
		log.Printf("Memory API list sessions error: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch sessions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

type saveSessionRequest struct {
	SessionID string                  `json:"sessionId"`
	Messages  []core.ConversationTurn `json:"messages"`
	Topic     string                  `json:"topic"`
}

func (h *APIHandler) SaveSessionHandler(w http.ResponseWriter, r *http.Request) {
	var req saveSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.SessionID == "" || req.Messages == nil {
		writeError(w, http.StatusBadRequest, "sessionId and messages (array) required")
		return
	}

	messages := core.TurnsToMessages(req.Messages)
	if err := h.memory.SaveSession(r.Context(), req.SessionID, messages, req.Topic); err != nil {
		log.Printf("Memory API save session error for %s: %v", req.SessionID, err)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *APIHandler) GetSessionHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "Session ID required")
		return
	}

	session, err := h.memory.SessionHistory(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Session not found")
			return
		}
		log.Printf("Memory API get session error for %s: %v", sessionID, err)
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":        session.ID,
		"topic":     session.Topic,
		"messages":  session.Messages,
		"updatedAt": session.UpdatedAt,
		"history":   core.PairTurns(session.Messages),
	})
}

type speechRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
}

func (h *APIHandler) SpeechHandler(w http.ResponseWriter, r *http.Request) {
	var req speechRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "Missing text")
		return
	}

	audio, err := h.speech.Synthesize(r.Context(), req.Text, req.Voice == "test")
	if err != nil {
		log.Printf("Speech API error: %v", err)
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.WriteHeader(http.StatusOK)
	w.Write(audio)
}

func (h *APIHandler) TranscribeHandler(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing audio file (form field: audio)")
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read audio file")
		return
	}

	text, err := h.speech.Transcribe(r.Context(), audio, header.Header.Get("Content-Type"))
	if err != nil {
		log.Printf("Transcribe API error: %v", err)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}

func cookieValue(r *http.Request, name string) string {
	cookie, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func setHistoryCookie(w http.ResponseWriter, name, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
