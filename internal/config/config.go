package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	App          AppConfig
	Facilitation FacilitationConfig
	Keys         APIKeys
	Ai           AIConfig
}

type AppConfig struct {
	Port               string
	Environment        string
	LogFilePath        string
	SessionLogFilePath string
	CorsAllowedOrigins string
	NatsURL            string
}

type FacilitationConfig struct {
	DiscussionPrompt string
	DefaultMode      string // "Breadth" or "Depth"
	Cadence          string // "interval" or "event"
	IntervalSeconds  int
	MildSilenceAt    int
	SevereSilenceAt  int
	SevereOffTopicAt int
	HistoryWindow    int // 0 keeps the whole history as LLM context
	MaxParticipants  int
	SnapshotTTLMin   int
}

type APIKeys struct {
	ElevenLabs string
	LLM        string // OpenAI-compatible key (OpenAI, Groq, ...)
}

type AIConfig struct {
	LLMProvider   string // "openai" or "ollama"
	LLMModel      string
	LLMBaseURL    string // empty uses the provider default
	OllamaBaseURL string
	STTModel      string
	STTLanguage   string
	IsolateAudio  bool
	TTSModel      string
	TTSVoiceID    string
	TTSFormat     string
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, usage system environment")
	}

	return &Config{
		App: AppConfig{
			Port:               getEnv("APP_PORT", "3001"),
			Environment:        getEnv("GO_ENV", "development"),
			LogFilePath:        getEnv("LOG_FILE_PATH", "logs/app.log"),
			SessionLogFilePath: getEnv("SESSION_LOG_FILE_PATH", "logs/facilitation.log"),
			CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
			NatsURL:            getEnv("NATS_URL", ""),
		},
		Facilitation: FacilitationConfig{
			DiscussionPrompt: getEnv("DISCUSSION_PROMPT", "Should school students be forced to wear school uniforms?"),
			DefaultMode:      getEnv("DISCUSSION_MODE", "Breadth"),
			Cadence:          strings.ToLower(getEnv("ANALYSIS_CADENCE", "event")),
			IntervalSeconds:  getEnvAsInt("ANALYSIS_INTERVAL_SECONDS", 20),
			MildSilenceAt:    getEnvAsInt("MILD_SILENCE_AT", 2),
			SevereSilenceAt:  getEnvAsInt("SEVERE_SILENCE_AT", 3),
			SevereOffTopicAt: getEnvAsInt("SEVERE_OFF_TOPIC_AT", 2),
			HistoryWindow:    getEnvAsInt("HISTORY_WINDOW", 0),
			MaxParticipants:  getEnvAsInt("MAX_PARTICIPANTS", 8),
			SnapshotTTLMin:   getEnvAsInt("SESSION_SNAPSHOT_TTL_MINUTES", 120),
		},
		Keys: APIKeys{
			ElevenLabs: getEnv("ELEVENLABS_API_KEY", ""),
			LLM:        getEnv("LLM_API_KEY", ""),
		},
		Ai: AIConfig{
			LLMProvider:   getEnv("LLM_PROVIDER", "openai"),
			LLMModel:      getEnv("LLM_MODEL", "openai/gpt-oss-20b"),
			LLMBaseURL:    getEnv("LLM_BASE_URL", "https://api.groq.com/openai/v1"),
			OllamaBaseURL: getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
			STTModel:      getEnv("STT_MODEL", "scribe_v1"),
			STTLanguage:   getEnv("STT_LANGUAGE", "en"),
			IsolateAudio:  getEnvAsBool("ISOLATE_AUDIO", true),
			TTSModel:      getEnv("TTS_MODEL", "eleven_multilingual_v2"),
			TTSVoiceID:    getEnv("TTS_VOICE_ID", "mbL34QDB5FptPamlgvX5"),
			TTSFormat:     getEnv("TTS_OUTPUT_FORMAT", "mp3_44100_128"),
		},
	}
}

func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return value
	}
	return fallback
}
