package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"lumina-be/pkg/llm"
)

// OpenAIProvider talks to any backend exposing the OpenAI Responses API (OpenAI, Groq, ...).
type OpenAIProvider struct {
	client    *oai.Client
	ModelName string
}

var _ llm.LLMProvider = &OpenAIProvider{}

func NewOpenAIProvider(apiKey, baseURL, modelName string, extra ...option.RequestOption) *OpenAIProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(1)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	opts = append(opts, extra...)

	client := oai.NewClient(opts...)
	return &OpenAIProvider{client: &client, ModelName: modelName}
}

func (p *OpenAIProvider) Chat(ctx context.Context, history []llm.Message, opts ...llm.Option) (string, error) {
	options := llm.Apply(llm.Options{Temperature: 0.2, Model: p.ModelName}, opts...)
	if options.Model == "" {
		return "", errors.New("openai provider: model is empty")
	}

	items := make([]responses.ResponseInputItemUnionParam, 0, len(history))
	for _, msg := range history {
		items = append(items, responses.ResponseInputItemParamOfMessage(msg.Content, roleOf(msg.Role)))
	}

	params := responses.ResponseNewParams{
		Model:       options.Model,
		Temperature: oai.Float(options.Temperature),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: items,
		},
	}
	if options.MaxTokens > 0 {
		params.MaxOutputTokens = oai.Int(int64(options.MaxTokens))
	}
	if options.Schema != nil {
		params.Text = responses.ResponseTextConfigParam{
			Format: responses.ResponseFormatTextConfigUnionParam{
				OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
					Name:   options.SchemaName,
					Schema: options.Schema,
					Strict: oai.Bool(true),
					Type:   "json_schema",
				},
			},
		}
	}

	resp, err := p.client.Responses.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai responses request failed: %w", err)
	}

	out := strings.TrimSpace(resp.OutputText())
	if out == "" {
		return "", errors.New("openai provider: empty output")
	}
	return out, nil
}

func (p *OpenAIProvider) Generate(ctx context.Context, prompt string, opts ...llm.Option) (string, error) {
	return p.Chat(ctx, []llm.Message{{Role: "user", Content: prompt}}, opts...)
}

func roleOf(role string) responses.EasyInputMessageRole {
	switch role {
	case "system":
		return responses.EasyInputMessageRoleSystem
	case "developer":
		return responses.EasyInputMessageRoleDeveloper
	case "assistant", "model":
		return responses.EasyInputMessageRoleAssistant
	default:
		return responses.EasyInputMessageRoleUser
	}
}
