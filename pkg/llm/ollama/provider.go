package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"lumina-be/pkg/llm"
)

// ErrTruncated means the model hit its token limit, so structured output is incomplete.
var ErrTruncated = errors.New("ollama: response truncated at num_predict")

// APIError is a non-200 answer from the Ollama server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ollama error: status %d: %s", e.StatusCode, e.Message)
}

type OllamaProvider struct {
	BaseURL   string
	ModelName string
	Client    *http.Client
}

var _ llm.LLMProvider = &OllamaProvider{}

func NewOllamaProvider(baseURL, modelName string) *OllamaProvider {
	return &OllamaProvider{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		ModelName: modelName,
		Client:    &http.Client{Timeout: 60 * time.Second},
	}
}

type chatRequest struct {
	Model    string                 `json:"model"`
	Messages []chatMessage          `json:"messages"`
	Stream   bool                   `json:"stream"`
	Format   map[string]interface{} `json:"format,omitempty"`
	Options  modelOptions           `json:"options"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type modelOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type chatResponse struct {
	Message    chatMessage `json:"message"`
	Done       bool        `json:"done"`
	DoneReason string      `json:"done_reason"`
	Error      string      `json:"error"`
}

// roleOf maps provider-agnostic roles onto Ollama's chat roles.
func roleOf(role string) string {
	switch role {
	case "model", "assistant":
		return "assistant"
	case "system":
		return "system"
	default:
		return "user"
	}
}

func (o *OllamaProvider) buildRequest(history []llm.Message, options llm.Options) chatRequest {
	messages := make([]chatMessage, 0, len(history))
	for _, msg := range history {
		messages = append(messages, chatMessage{Role: roleOf(msg.Role), Content: msg.Content})
	}
	return chatRequest{
		Model:    options.Model,
		Messages: messages,
		Format:   options.Schema,
		Options: modelOptions{
			Temperature: options.Temperature,
			NumPredict:  options.MaxTokens,
		},
	}
}

// Chat runs one non-streaming /api/chat call. A schema option becomes Ollama's format
// field, which constrains decoding to that JSON shape.
func (o *OllamaProvider) Chat(ctx context.Context, history []llm.Message, opts ...llm.Option) (string, error) {
	options := llm.Apply(llm.Options{Temperature: 0.2, Model: o.ModelName}, opts...)

	payload, err := json.Marshal(o.buildRequest(history, options))
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.BaseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var out chatResponse
	decodeErr := json.Unmarshal(body, &out)

	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(body))
		if decodeErr == nil && out.Error != "" {
			msg = out.Error
		}
		return "", &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return "", fmt.Errorf("unmarshal response: %w", decodeErr)
	}
	if out.DoneReason == "length" && options.Schema != nil {
		return "", ErrTruncated
	}
	return out.Message.Content, nil
}

func (o *OllamaProvider) Generate(ctx context.Context, prompt string, opts ...llm.Option) (string, error) {
	return o.Chat(ctx, []llm.Message{{Role: "user", Content: prompt}}, opts...)
}
