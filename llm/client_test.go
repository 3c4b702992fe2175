package llm_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftforge/draftforge/llm"
	_ "github.com/draftforge/draftforge/llm/providers" // Register providers
)

func openAISuccessBody(content string) map[string]any {
	return map[string]any{
		"id":      "chatcmpl-123",
		"object":  "chat.completion",
		"created": 1677652288,
		"model":   "test-model",
		"choices": []map[string]any{
			{
				"index": 0,
				"message": map[string]string{
					"role":    "assistant",
					"content": content,
				},
				"finish_reason": "stop",
			},
		},
		"usage": map[string]int{
			"prompt_tokens":     10,
			"completion_tokens": 8,
			"total_tokens":      18,
		},
	}
}

func fastRetry() llm.RetryConfig {
	return llm.RetryConfig{
		MaxAttempts:       3,
		BackoffBase:       time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxBackoff:        5 * time.Millisecond,
	}
}

func TestClient_Complete_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "/chat/completions", r.URL.Path)

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req["model"])
		format, ok := req["response_format"].(map[string]any)
		require.True(t, ok, "structured requests carry a response_format")
		assert.Equal(t, "json_object", format["type"])

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(openAISuccessBody(`{"ok": true}`))
	}))
	defer server.Close()

	client := llm.NewClient(server.URL, "openai")
	resp, err := client.Complete(context.Background(), llm.Request{
		Model:      "test-model",
		Messages:   []llm.Message{{Role: "user", Content: "hello"}},
		Structured: true,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"ok": true}`, resp.Content)
	assert.Equal(t, "test-model", resp.Model)
	assert.Equal(t, 18, resp.Usage.TotalTokens)
	assert.Equal(t, "stop", resp.FinishReason)
}

func TestClient_Complete_RetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(openAISuccessBody("recovered"))
	}))
	defer server.Close()

	client := llm.NewClient(server.URL, "openai", llm.WithRetryConfig(fastRetry()))
	resp, err := client.Complete(context.Background(), llm.Request{
		Model:    "test-model",
		Messages: []llm.Message{{Role: "user", Content: "hello"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Content)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_Complete_TransientExhaustsAttempts(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := llm.NewClient(server.URL, "openai", llm.WithRetryConfig(fastRetry()))
	_, err := client.Complete(context.Background(), llm.Request{
		Model:    "test-model",
		Messages: []llm.Message{{Role: "user", Content: "hello"}},
	})
	require.Error(t, err)
	assert.True(t, llm.IsTransient(err))
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_Complete_FatalNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := llm.NewClient(server.URL, "openai", llm.WithRetryConfig(fastRetry()))
	_, err := client.Complete(context.Background(), llm.Request{
		Model:    "test-model",
		Messages: []llm.Message{{Role: "user", Content: "hello"}},
	})
	require.Error(t, err)
	assert.True(t, llm.IsFatal(err))
	assert.Equal(t, int32(1), calls.Load(), "fatal errors must not be retried")
}

func TestClient_Complete_UnknownProviderIsFatal(t *testing.T) {
	client := llm.NewClient("http://localhost:1", "no-such-provider", llm.WithRetryConfig(fastRetry()))
	_, err := client.Complete(context.Background(), llm.Request{
		Model:    "test-model",
		Messages: []llm.Message{{Role: "user", Content: "hello"}},
	})
	require.Error(t, err)
	assert.True(t, llm.IsFatal(err))
}

func TestClient_Complete_ValidatesRequest(t *testing.T) {
	client := llm.NewClient("http://localhost:1", "openai")

	_, err := client.Complete(context.Background(), llm.Request{
		Messages: []llm.Message{{Role: "user", Content: "hello"}},
	})
	assert.Error(t, err, "model is required")

	_, err = client.Complete(context.Background(), llm.Request{Model: "test-model"})
	assert.Error(t, err, "at least one message is required")
}
