package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"

	"lumina-be/internal/pkg/logger"
	"lumina-be/pkg/facilitation"
	"lumina-be/pkg/llm"
)

const (
	module       = "ANALYSIS"
	maxKeyTopics = 3
)

// ErrMalformedVerdict means the model answered with something other than one JSON object
// matching the requested schema.
var ErrMalformedVerdict = errors.New("malformed model verdict")

type topicVerdict struct {
	OffTopic   *bool                   `json:"offTopic" validate:"required" jsonschema:"description=True when the latest part is significantly off-topic"`
	KeyTopics  []facilitation.KeyTopic `json:"keyTopics" validate:"dive"`
	Suggestion string                  `json:"suggestion"`
}

type participationVerdict struct {
	Balanced   *bool  `json:"balanced" validate:"required"`
	Suggestion string `json:"suggestion"`
}

type interventionText struct {
	Text string `json:"text" validate:"required"`
}

var (
	topicSchema         = GenerateSchema[topicVerdict]()
	participationSchema = GenerateSchema[participationVerdict]()
	interventionSchema  = GenerateSchema[interventionText]()
)

// Classifier answers the facilitation engine's questions with an LLM.
type Classifier struct {
	provider llm.LLMProvider
	validate *validator.Validate
	logger   logger.ILogger
}

var _ facilitation.Classifier = (*Classifier)(nil)

func NewClassifier(provider llm.LLMProvider, log logger.ILogger) *Classifier {
	return &Classifier{provider: provider, validate: validator.New(), logger: log}
}

func (c *Classifier) ClassifyTopic(ctx context.Context, req facilitation.TopicRequest) (facilitation.TopicVerdict, error) {
	var out topicVerdict
	if err := c.ask(ctx, "topic_verdict", topicSchema, topicPrompt(req), &out); err != nil {
		return facilitation.TopicVerdict{}, err
	}
	if len(out.KeyTopics) > maxKeyTopics {
		out.KeyTopics = out.KeyTopics[:maxKeyTopics]
	}
	return facilitation.TopicVerdict{
		OffTopic:   *out.OffTopic,
		KeyTopics:  out.KeyTopics,
		Suggestion: strings.TrimSpace(out.Suggestion),
	}, nil
}

func (c *Classifier) AssessParticipation(ctx context.Context, req facilitation.ParticipationRequest) (facilitation.ParticipationVerdict, error) {
	var out participationVerdict
	if err := c.ask(ctx, "participation_verdict", participationSchema, participationPrompt(req), &out); err != nil {
		return facilitation.ParticipationVerdict{}, err
	}
	return facilitation.ParticipationVerdict{
		Balanced:   *out.Balanced,
		Suggestion: strings.TrimSpace(out.Suggestion),
	}, nil
}

func (c *Classifier) GenerateIntervention(ctx context.Context, req facilitation.GenerationRequest) (string, error) {
	var out interventionText
	if err := c.ask(ctx, "intervention", interventionSchema, interventionPrompt(req), &out); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.Text), nil
}

func (c *Classifier) ask(ctx context.Context, name string, schema map[string]interface{}, prompt string, out any) error {
	raw, err := c.provider.Chat(ctx, []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: prompt},
	}, llm.WithJSONSchema(name, schema), llm.WithMaxTokens(600))
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	if err := decodeStrict(raw, out); err != nil {
		c.logger.Warn(module, "Model returned a malformed verdict", map[string]interface{}{
			"schema": name,
			"error":  err.Error(),
			"output": truncate(raw, 300),
		})
		return err
	}
	if err := c.validate.Struct(out); err != nil {
		c.logger.Warn(module, "Model verdict failed validation", map[string]interface{}{
			"schema": name,
			"error":  err.Error(),
		})
		return fmt.Errorf("%w: %v", ErrMalformedVerdict, err)
	}
	return nil
}

// decodeStrict accepts exactly one JSON object with no unknown fields.
func decodeStrict(raw string, out any) error {
	dec := json.NewDecoder(strings.NewReader(strings.TrimSpace(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedVerdict, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: trailing data after JSON object", ErrMalformedVerdict)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
