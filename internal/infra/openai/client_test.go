package openai

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

	"github.com/jinford/docqa/internal/platform/logger"
)

const completionBody = `{
  "id": "chatcmpl-test",
  "object": "chat.completion",
  "created": 1700000000,
  "model": "gpt-4o-mini",
  "choices": [{
    "index": 0,
    "finish_reason": "stop",
    "message": {"role": "assistant", "content": "Refunds take 30 days."}
  }],
  "usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
}`

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...ClientOption) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	base := []ClientOption{WithBaseURL(srv.URL), WithClientLogger(logger.Discard())}
	c, err := NewClient("test-key", append(base, opts...)...)
	require.NoError(t, err)
	c.retry.base = time.Millisecond
	c.retry.max = 2 * time.Millisecond
	return c
}

func TestNewClient_RequiresAPIKey(t *testing.T) {
	_, err := NewClient("")
	assert.ErrorIs(t, err, ErrAPIKeyNotSet)
}

func TestClient_GenerateCompletion(t *testing.T) {
	var body map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionBody))
	}, WithModel("gpt-test"), WithTemperature(0.2))

	answer, err := c.GenerateCompletion(context.Background(), "What is the refund window?")
	require.NoError(t, err)
	assert.Equal(t, "Refunds take 30 days.", answer)

	assert.Equal(t, "gpt-test", body["model"])
	assert.InDelta(t, 0.2, body["temperature"], 1e-9)
	assert.Equal(t, "gpt-test", c.ModelName())
}

func TestClient_GenerateCompletion_RetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"rate limited","type":"rate_limit_error"}}`))
			return
		}
		_, _ = w.Write([]byte(completionBody))
	})

	answer, err := c.GenerateCompletion(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "Refunds take 30 days.", answer)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_GenerateCompletion_ServerError(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad request","type":"invalid_request_error"}}`))
	})

	_, err := c.GenerateCompletion(context.Background(), "q")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_GenerateCompletion_Timeout(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}, WithTimeout(50*time.Millisecond))

	start := time.Now()
	_, err := c.GenerateCompletion(context.Background(), "q")
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}
