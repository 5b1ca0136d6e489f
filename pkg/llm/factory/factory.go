package factory

import (
	"fmt"
	"strings"

	"lumina-be/pkg/llm"
	"lumina-be/pkg/llm/ollama"
	"lumina-be/pkg/llm/openai"
)

type Settings struct {
	Provider      string
	Model         string
	APIKey        string
	BaseURL       string
	OllamaBaseURL string
}

func NewLLMProvider(s Settings) (llm.LLMProvider, error) {
	switch strings.ToLower(s.Provider) {
	case "openai", "groq":
		if s.APIKey == "" {
			return nil, fmt.Errorf("LLM provider %q requires an API key", s.Provider)
		}
		return openai.NewOpenAIProvider(s.APIKey, s.BaseURL, s.Model), nil
	case "ollama":
		baseURL := s.OllamaBaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434" // Default
		}
		return ollama.NewOllamaProvider(baseURL, s.Model), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", s.Provider)
	}
}
