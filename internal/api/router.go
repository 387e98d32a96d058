package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(apiHandler *APIHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)       // Basic request logging
	r.Use(middleware.Recoverer)    // Recover from panics
	r.Use(middleware.StripSlashes) // Ensure consistent path handling

	// All API routes live under /api
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", apiHandler.HealthHandler)

		r.Group(func(r chi.Router) {
			r.Use(apiHandler.AuthMiddleware)

			r.Post("/chat", apiHandler.ChatHandler)

			r.Get("/conversations", apiHandler.ListConversationsHandler)
			r.Post("/conversations", apiHandler.CreateConversationHandler)
			r.Get("/conversations/{conversationID}", apiHandler.GetConversationHandler)
			r.Post("/conversations/{conversationID}", apiHandler.PostConversationMessageHandler)

			r.Post("/feedback", apiHandler.FeedbackHandler)
			r.Get("/insights", apiHandler.InsightsHandler)

			r.Get("/memory/sessions", apiHandler.ListSessionsHandler)
			r.Put("/memory/sessions", apiHandler.SaveSessionHandler)
			r.Get("/memory/sessions/{sessionID}", apiHandler.GetSessionHandler)

			r.Post("/speech", apiHandler.SpeechHandler)
			r.Post("/transcribe", apiHandler.TranscribeHandler)
		})
	})

	return r
}
