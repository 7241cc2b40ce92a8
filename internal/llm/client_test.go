package llm

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	noopmetric "go.opentelemetry.io/otel/metric/noop"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

func testClient(apiKey, baseURL string) *Client {
	c := NewClient(
		apiKey,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		nooptrace.NewTracerProvider().Tracer("test"),
		noopmetric.NewMeterProvider().Meter("test"),
	)
	if baseURL != "" {
		c.BaseURL = baseURL
	}
	return c
}

func completionBody(content string) map[string]any {
	return map[string]any{
		"id":    "gen-1",
		"model": "test-model",
		"choices": []map[string]any{
			{"index": 0, "message": map[string]string{"role": "assistant", "content": content}},
		},
		"usage": map[string]any{"prompt_tokens": 12, "completion_tokens": 5},
	}
}

func TestCompleteSendsExpectedRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-or-v1-test", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.InDelta(t, 0.7, req.Temperature, 1e-9)
		assert.Equal(t, 4000, req.MaxTokens)
		assert.False(t, req.Stream)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)

		json.NewEncoder(w).Encode(completionBody("你好！"))
	}))
	defer srv.Close()

	c := testClient("sk-or-v1-test", srv.URL)
	reply, err := c.Complete(context.Background(), "test-model", []ChatMessage{
		{Role: "system", Content: "prompt"},
		{Role: "user", Content: "hi"},
	})
	require.NoError(t, err)
	assert.Equal(t, "你好！", reply)
}

func TestSummarizeUsesLowTemperature(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.InDelta(t, 0.3, req.Temperature, 1e-9)
		assert.Equal(t, 500, req.MaxTokens)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "user", req.Messages[0].Role)

		json.NewEncoder(w).Encode(completionBody("summary"))
	}))
	defer srv.Close()

	c := testClient("sk-or-v1-test", srv.URL)
	got, err := c.Summarize(context.Background(), "test-model", "summarize this")
	require.NoError(t, err)
	assert.Equal(t, "summary", got)
}

func TestCompleteWithoutAPIKey(t *testing.T) {
	c := testClient("", "")
	_, err := c.Complete(context.Background(), "test-model", []ChatMessage{{Role: "user", Content: "hi"}})
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestCompleteAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"message": "invalid key"}})
	}))
	defer srv.Close()

	c := testClient("sk-or-v1-bad", srv.URL)
	_, err := c.Complete(context.Background(), "test-model", []ChatMessage{{Role: "user", Content: "hi"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid key")
}

func TestCompleteEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer srv.Close()

	c := testClient("sk-or-v1-test", srv.URL)
	_, err := c.Complete(context.Background(), "test-model", []ChatMessage{{Role: "user", Content: "hi"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty response")
}

func TestHasAPIKey(t *testing.T) {
	c := testClient("", "")
	assert.False(t, c.HasAPIKey())
	c.SetAPIKey("sk-or-v1-abc")
	assert.True(t, c.HasAPIKey())
}
