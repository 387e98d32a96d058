package config

import (
	"log"
	"os"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPPort string
	LogLevel string

	// Gemini chat completions
	GeminiAPIKey string
	GeminiModel  string

	// Featherless (OpenAI-compatible) multimodal completions
	FeatherlessAPIKey  string
	FeatherlessModel   string
	FeatherlessBaseURL string

	// ElevenLabs TTS / STT
	ElevenLabsAPIKey      string
	ElevenLabsVoiceID     string
	ElevenLabsTestVoiceID string
	ElevenLabsBaseURL     string

	// Backboard conversation storage
	BackboardAPIKey      string
	BackboardAssistantID string
	BackboardBaseURL     string
	BackboardMemoryURL   string

	// Auth0 session tokens. Validation is optional: when the secret is not
	// set the API trusts the userId supplied by the (already authenticated)
	// frontend.
	Auth0ClientSecret string

	// History backend override. Empty selects by credential presence:
	// Backboard key set -> remote, otherwise in-memory. "sqlite" selects the
	// durable local backend.
	HistoryBackend string
	DatabaseURL    string
}

var AppConfig Config

func LoadConfig() {
	err := godotenv.Load() // Load .env file if it exists
	if err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	AppConfig = Config{
		HTTPPort: getEnv("HTTP_PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "INFO"),

		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		GeminiModel:  getEnv("GEMINI_MODEL", "gemini-1.5-flash"),

		FeatherlessAPIKey:  getEnv("FEATHERLESS_API_KEY", ""),
		FeatherlessModel:   getEnv("FEATHERLESS_MODEL", "google/gemma-3-27b-it"),
		FeatherlessBaseURL: getEnv("FEATHERLESS_BASE_URL", "https://api.featherless.ai/v1"),

		ElevenLabsAPIKey:      getEnv("ELEVENLABS_API_KEY", ""),
		ElevenLabsVoiceID:     getEnv("ELEVENLABS_VOICE_ID", "21m00Tcm4TlvDq8ikWAM"),
		ElevenLabsTestVoiceID: getEnv("ELEVENLABS_TEST_VOICE_ID", ""),
		ElevenLabsBaseURL:     getEnv("ELEVENLABS_BASE_URL", "https://api.elevenlabs.io/v1"),

		BackboardAPIKey:      getEnv("BACKBOARD_API_KEY", ""),
		BackboardAssistantID: getEnv("BACKBOARD_ASSISTANT_ID", ""),
		BackboardBaseURL:     getEnv("BACKBOARD_BASE_URL", "https://app.backboard.io/api"),
		BackboardMemoryURL:   getEnv("BACKBOARD_MEMORY_URL", "https://api.backboard.io/v1/memory"),

		Auth0ClientSecret: getEnv("AUTH0_CLIENT_SECRET", ""),

		HistoryBackend: getEnv("HISTORY_BACKEND", ""),
		DatabaseURL:    getEnv("DATABASE_URL", "tuva_history.db"),
	}

	// Integration keys are deliberately not validated here: each endpoint
	// reports a 500 naming the missing configuration at call time instead of
	// preventing the whole service from starting.
	if AppConfig.BackboardAPIKey == "" {
		log.Println("BACKBOARD_API_KEY missing; conversation history will use a local fallback store")
	}
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
