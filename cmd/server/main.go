package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tuva-labs/tuva-server/internal/api"
	"github.com/tuva-labs/tuva-server/internal/config"
	"github.com/tuva-labs/tuva-server/internal/core"
	"github.com/tuva-labs/tuva-server/internal/store"
)

func main() {
	// Load configuration
	config.LoadConfig()
	cfg := config.AppConfig

	// Setup logging
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if cfg.LogLevel == "DEBUG" {
		log.Println("Service starting in DEBUG mode")
	}

	// Select the conversation history backend. The choice is fixed for the
	// process lifetime.
	historyStore, cleanup, err := selectHistoryStore(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize history store: %v", err)
	}
	if cleanup != nil {
		defer cleanup()
	}

	historyService := core.NewHistoryService(historyStore)

	// LLM, TTS/STT and memory integrations
	geminiService := core.NewGeminiService(cfg.GeminiAPIKey, cfg.GeminiModel)
	defer geminiService.Close()

	feedbackService := core.NewFeatherlessService(cfg.FeatherlessAPIKey, cfg.FeatherlessModel, cfg.FeatherlessBaseURL)
	speechService := core.NewElevenLabsService(cfg.ElevenLabsAPIKey, cfg.ElevenLabsVoiceID, cfg.ElevenLabsTestVoiceID, cfg.ElevenLabsBaseURL)
	insightsService := core.NewInsightsService(historyService, feedbackService)
	memoryService := core.NewMemoryService(cfg.BackboardAPIKey, cfg.BackboardMemoryURL)

	chatService := core.NewChatService(historyService, geminiService)

	// Initialize API Handler and Router
	apiHandler := api.NewAPIHandler(
		historyService,
		chatService,
		feedbackService,
		speechService,
		insightsService,
		memoryService,
		cfg.Auth0ClientSecret,
	)
	router := api.NewRouter(apiHandler)

	// Start HTTP server
	serverAddr := fmt.Sprintf(":%s", cfg.HTTPPort)

	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // LLM and TTS calls can take time
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown handling
	go func() {
		log.Printf("Starting server on %s. Press Ctrl+C to quit.", serverAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v\n", serverAddr, err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exiting gracefully")
}

// selectHistoryStore picks the backend once at startup: remote Backboard when
// a credential exists, sqlite when explicitly requested, otherwise the
// in-memory development fallback.
func selectHistoryStore(cfg config.Config) (store.HistoryStore, func(), error) {
	if cfg.HistoryBackend == "sqlite" {
		sqliteStore, err := store.NewSQLiteStore(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("Conversation history: sqlite backend at %s", cfg.DatabaseURL)
		return sqliteStore, func() { sqliteStore.Close() }, nil
	}

	if cfg.BackboardAPIKey != "" {
		log.Println("Conversation history: Backboard remote backend")
		return store.NewBackboardStore(cfg.BackboardBaseURL, cfg.BackboardAPIKey, cfg.BackboardAssistantID), nil, nil
	}

	log.Println("Conversation history: in-memory fallback (not persisted)")
	return store.NewMemoryStore(), nil, nil
}
