package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reco-agent/backend/internal/storage/models"
	"github.com/reco-agent/backend/pkg/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(config.LLMConfig{
		BaseURL:        srv.URL,
		APIKey:         "test",
		Model:          "test-model",
		EmbeddingModel: "test-embed",
		TimeoutSec:     5,
		MaxAttempts:    2,
	})
}

func TestGenerateReportsTruncation(t *testing.T) {
	var got struct {
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
		TopP float32 `json:"top_p"`
	}

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "Runs a bit"}, "finish_reason": "length"}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 3, "total_tokens": 13}
		}`))
	})

	resp, err := client.Generate(context.Background(), GenerateRequest{
		System: "persona",
		Turns: []models.Turn{
			{Role: models.RoleUser, Text: "earlier"},
			{Role: models.RoleAssistant, Text: "reply"},
			{Role: models.RoleUser, Text: "Does it run small?"},
		},
		Temperature: 0.55,
		TopP:        0.9,
		MaxTokens:   64,
	})
	require.NoError(t, err)

	assert.Equal(t, "Runs a bit", resp.Text)
	assert.True(t, resp.Truncated())
	assert.Equal(t, 13, resp.Usage.TotalTokens)

	require.Len(t, got.Messages, 4)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "assistant", got.Messages[2].Role)
	assert.InDelta(t, 0.9, got.TopP, 0.001)
}

func TestGenerateDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": {"message": "bad request", "type": "invalid_request_error"}}`))
	})

	_, err := client.Generate(context.Background(), GenerateRequest{Turns: []models.Turn{{Role: models.RoleUser, Text: "hi"}}})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGenerateRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"error": {"message": "upstream"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"choices": [{"message": {"role": "assistant", "content": "ok"}, "finish_reason": "stop"}]}`))
	})

	resp, err := client.Generate(context.Background(), GenerateRequest{Turns: []models.Turn{{Role: models.RoleUser, Text: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.False(t, resp.Truncated())
	assert.Equal(t, int32(2), calls.Load())
}

func TestEmbedTextsOrdersByIndex(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/embeddings", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data": [
			{"object": "embedding", "index": 1, "embedding": [0.0, 1.0]},
			{"object": "embedding", "index": 0, "embedding": [1.0, 0.0]}
		]}`))
	})

	vecs, err := client.EmbedTexts(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, []float32{1, 0}, vecs[0])
	assert.Equal(t, []float32{0, 1}, vecs[1])
}

func TestEmbedTextsRequestsConfiguredDimensions(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data": [{"object": "embedding", "index": 0, "embedding": [0.5, 0.5]}]}`))
	}))
	t.Cleanup(srv.Close)

	cfg := config.Default().LLM
	cfg.BaseURL = srv.URL
	cfg.APIKey = "test"
	client := NewClient(cfg)

	_, err := client.EmbedTexts(context.Background(), []string{"Does it run small?"})
	require.NoError(t, err)
	assert.Equal(t, cfg.EmbeddingModel, got["model"])
	assert.EqualValues(t, cfg.EmbeddingDim, got["dimensions"])
	assert.EqualValues(t, 768, got["dimensions"])
}

func TestEmbedTextsSingleAttempt(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := client.EmbedTexts(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limited", &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests}, true},
		{"server error", &openai.APIError{HTTPStatusCode: http.StatusServiceUnavailable}, true},
		{"bad request", &openai.APIError{HTTPStatusCode: http.StatusBadRequest}, false},
		{"unauthorized body", &openai.RequestError{HTTPStatusCode: http.StatusUnauthorized}, false},
		{"network", errors.New("connection reset"), true},
		{"canceled", context.Canceled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRetryable(fmt.Errorf("wrapped: %w", tt.err)))
		})
	}
}
