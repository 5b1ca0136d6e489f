package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lumina-be/pkg/llm"
)

func TestChatSendsSchemaAsFormat(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(chatResponse{Message: chatMessage{Role: "assistant", Content: `{"ok":true}`}, Done: true, DoneReason: "stop"})
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL+"/", "llama3.1")
	schema := map[string]interface{}{"type": "object"}
	out, err := p.Chat(context.Background(), []llm.Message{
		{Role: "system", Content: "be brief"},
		{Role: "model", Content: "ok"},
		{Role: "student", Content: "hello"},
	}, llm.WithJSONSchema("verdict", schema), llm.WithMaxTokens(64))

	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, out)
	assert.Equal(t, "llama3.1", got.Model)
	assert.Equal(t, []string{"system", "assistant", "user"}, []string{got.Messages[0].Role, got.Messages[1].Role, got.Messages[2].Role})
	assert.Equal(t, "object", got.Format["type"])
	assert.Equal(t, 64, got.Options.NumPredict)
	assert.False(t, got.Stream)
}

func TestChatReportsServerErrorMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model \"missing\" not found, try pulling it first"}`))
	}))
	defer srv.Close()

	_, err := NewOllamaProvider(srv.URL, "missing").Generate(context.Background(), "hi")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "try pulling it first")
}

func TestChatReportsPlainTextErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewOllamaProvider(srv.URL, "m").Generate(context.Background(), "hi")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "bad gateway")
}

func TestTruncatedStructuredOutputIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"{\"offTop"},"done":true,"done_reason":"length"}`))
	}))
	defer srv.Close()
	p := NewOllamaProvider(srv.URL, "m")

	_, err := p.Chat(context.Background(), []llm.Message{{Role: "user", Content: "x"}}, llm.WithJSONSchema("v", map[string]interface{}{"type": "object"}))
	assert.ErrorIs(t, err, ErrTruncated)

	out, err := p.Generate(context.Background(), "x")
	require.NoError(t, err, "free text may be cut short")
	assert.Equal(t, `{"offTop`, out)
}
