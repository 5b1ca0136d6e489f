package analysis

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lumina-be/internal/pkg/logger"
	"lumina-be/pkg/facilitation"
	"lumina-be/pkg/llm"
)

type fakeProvider struct {
	reply   string
	err     error
	history []llm.Message
	options llm.Options
}

func (f *fakeProvider) Chat(ctx context.Context, history []llm.Message, opts ...llm.Option) (string, error) {
	f.history = history
	f.options = llm.Apply(llm.Options{}, opts...)
	return f.reply, f.err
}

func (f *fakeProvider) Generate(ctx context.Context, prompt string, opts ...llm.Option) (string, error) {
	return f.Chat(ctx, []llm.Message{{Role: "user", Content: prompt}}, opts...)
}

func newClassifier(reply string) (*Classifier, *fakeProvider) {
	p := &fakeProvider{reply: reply}
	return NewClassifier(p, logger.NewNopLogger()), p
}

func TestClassifyTopicDecodesVerdict(t *testing.T) {
	c, p := newClassifier(`{"offTopic":true,"keyTopics":[{"name":"football","confidence":90}],"suggestion":" Back to uniforms? "}`)

	v, err := c.ClassifyTopic(context.Background(), facilitation.TopicRequest{
		Prompt: "Should students wear uniforms?",
		Mode:   facilitation.ModeDepth,
		Latest: "did you see the match",
	})

	require.NoError(t, err)
	assert.True(t, v.OffTopic)
	assert.Equal(t, "Back to uniforms?", v.Suggestion)
	require.Len(t, v.KeyTopics, 1)
	assert.Equal(t, "football", v.KeyTopics[0].Name)

	assert.Equal(t, "topic_verdict", p.options.SchemaName)
	assert.Equal(t, false, p.options.Schema["additionalProperties"])
	assert.Contains(t, p.history[1].Content, "did you see the match")
	assert.Equal(t, "system", p.history[0].Role)
}

func TestClassifyTopicRejectsMalformedOutput(t *testing.T) {
	cases := map[string]string{
		"prose":          "The discussion is on topic.",
		"fenced":         "```json\n{\"offTopic\":false,\"keyTopics\":[],\"suggestion\":\"\"}\n```",
		"unknown field":  `{"offTopic":false,"keyTopics":[],"suggestion":"","isImbalanced":true}`,
		"missing field":  `{"keyTopics":[],"suggestion":""}`,
		"two objects":    `{"offTopic":false,"keyTopics":[],"suggestion":""}{"offTopic":true}`,
		"bad confidence": `{"offTopic":false,"keyTopics":[{"name":"x","confidence":250}],"suggestion":""}`,
		"nameless topic": `{"offTopic":false,"keyTopics":[{"name":"","confidence":10}],"suggestion":""}`,
		"null":           `null`,
	}
	for name, reply := range cases {
		t.Run(name, func(t *testing.T) {
			c, _ := newClassifier(reply)
			_, err := c.ClassifyTopic(context.Background(), facilitation.TopicRequest{Latest: "x"})
			assert.ErrorIs(t, err, ErrMalformedVerdict)
		})
	}
}

func TestClassifyTopicTrimsKeyTopics(t *testing.T) {
	c, _ := newClassifier(`{"offTopic":false,"keyTopics":[{"name":"a","confidence":1},{"name":"b","confidence":2},{"name":"c","confidence":3},{"name":"d","confidence":4}],"suggestion":""}`)

	v, err := c.ClassifyTopic(context.Background(), facilitation.TopicRequest{Latest: "x"})

	require.NoError(t, err)
	assert.Len(t, v.KeyTopics, 3)
}

func TestAssessParticipationListsTurnCounts(t *testing.T) {
	c, p := newClassifier(`{"balanced":false,"suggestion":"Let's hear from Ben."}`)

	v, err := c.AssessParticipation(context.Background(), facilitation.ParticipationRequest{
		Prompt:       "Should students wear uniforms?",
		Participants: []string{"Ana", "Ben"},
		TurnCounts:   map[int]int{0: 5},
	})

	require.NoError(t, err)
	assert.False(t, v.Balanced)
	assert.Equal(t, "Let's hear from Ben.", v.Suggestion)
	assert.Contains(t, p.history[1].Content, "- Ana: 5")
	assert.Contains(t, p.history[1].Content, "- Ben: 0")
}

func TestGenerateIntervention(t *testing.T) {
	c, p := newClassifier(`{"text":"What would change if nobody wore uniforms?"}`)

	text, err := c.GenerateIntervention(context.Background(), facilitation.GenerationRequest{
		Cause:  facilitation.CauseSilence,
		Prompt: "Should students wear uniforms?",
	})

	require.NoError(t, err)
	assert.Equal(t, "What would change if nobody wore uniforms?", text)
	assert.Contains(t, p.history[1].Content, "gone silent")

	c, _ = newClassifier(`{"text":""}`)
	_, err = c.GenerateIntervention(context.Background(), facilitation.GenerationRequest{Cause: facilitation.CauseOffTopic})
	assert.ErrorIs(t, err, ErrMalformedVerdict)
}

func TestProviderErrorsPassThrough(t *testing.T) {
	c, p := newClassifier("")
	p.err = errors.New("rate limited")

	_, err := c.AssessParticipation(context.Background(), facilitation.ParticipationRequest{})

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMalformedVerdict)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestGenerateSchemaIsStrict(t *testing.T) {
	schema := GenerateSchema[topicVerdict]()

	assert.Equal(t, "object", schema["type"])
	assert.Equal(t, false, schema["additionalProperties"])
	assert.ElementsMatch(t, []string{"offTopic", "keyTopics", "suggestion"}, schema["required"])
	assert.NotContains(t, schema, "$schema")

	items := schema["properties"].(map[string]interface{})["keyTopics"].(map[string]interface{})["items"].(map[string]interface{})
	assert.Equal(t, false, items["additionalProperties"])
	assert.ElementsMatch(t, []string{"name", "confidence"}, items["required"])
}
