package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribo-app/scribo/internal/core"
)

func completionHandler(t *testing.T, content string, seen *map[string]interface{}) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		if seen != nil {
			assert.NoError(t, json.NewDecoder(r.Body).Decode(seen))
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"model": "moonshotai/kimi-k2-instruct",
			"choices": []map[string]interface{}{{
				"message":       map[string]string{"role": "assistant", "content": content},
				"finish_reason": "stop",
			}},
			"usage": map[string]int{"prompt_tokens": 120, "completion_tokens": 80},
		})
	}
}

func chatRequest(baseURL string) core.ChatRequest {
	return core.ChatRequest{
		BaseURL:     baseURL + "/v1",
		APIKey:      "test-key",
		Model:       "moonshotai/kimi-k2-instruct",
		Messages:    []core.Message{{Role: "user", Content: "Corrija."}},
		Temperature: 0.6,
		TopP:        0.9,
		MaxTokens:   4096,
	}
}

func TestClient_Complete(t *testing.T) {
	var seen map[string]interface{}
	srv := httptest.NewServer(completionHandler(t, "NOTA FINAL: 820/1000", &seen))
	defer srv.Close()

	resp, err := NewClient().Complete(context.Background(), chatRequest(srv.URL))
	require.NoError(t, err)

	assert.Equal(t, "NOTA FINAL: 820/1000", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 200, resp.TotalTokens())

	assert.Equal(t, "moonshotai/kimi-k2-instruct", seen["model"])
	assert.Equal(t, 0.6, seen["temperature"])
	assert.Equal(t, float64(4096), seen["max_tokens"])
	assert.Equal(t, false, seen["stream"])
}

func TestClient_ExtraBodyIsMerged(t *testing.T) {
	var seen map[string]interface{}
	srv := httptest.NewServer(completionHandler(t, "ok", &seen))
	defer srv.Close()

	req := chatRequest(srv.URL)
	req.Extra = map[string]interface{}{
		"chat_template_kwargs": map[string]interface{}{"thinking": true},
		"model":                "must-not-override",
	}
	_, err := NewClient().Complete(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, map[string]interface{}{"thinking": true}, seen["chat_template_kwargs"])
	assert.Equal(t, "moonshotai/kimi-k2-instruct", seen["model"])
}

func TestClient_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewClient().Complete(context.Background(), chatRequest(srv.URL))
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusTooManyRequests, statusErr.StatusCode)
	assert.Contains(t, statusErr.Body, "rate limited")
	assert.Equal(t, 7*time.Second, statusErr.RetryAfter())
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 3*time.Second, parseRetryAfter("3"))
	assert.Zero(t, parseRetryAfter(""))
	assert.Zero(t, parseRetryAfter("-1"))
	assert.Zero(t, parseRetryAfter("Wed, 21 Oct 2015 07:28:00 GMT"))
}

func TestClient_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	_, err := NewClient().Complete(context.Background(), chatRequest(srv.URL))
	assert.ErrorContains(t, err, "no choices")
}

func TestClient_ContextTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := NewClient().Complete(ctx, chatRequest(srv.URL))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_ReasoningOnlyAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"","reasoning_content":"NOTA FINAL: 500/1000"}}]}`))
	}))
	defer srv.Close()

	resp, err := NewClient().Complete(context.Background(), chatRequest(srv.URL))
	require.NoError(t, err)
	assert.Equal(t, "NOTA FINAL: 500/1000", resp.Content)
}

func TestEndpoint(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", DefaultBaseURL + "/chat/completions"},
		{"https://api.example.com/v1/", "https://api.example.com/v1/chat/completions"},
		{"https://api.example.com/v1/chat/completions", "https://api.example.com/v1/chat/completions"},
	}
	for _, tt := range tests {
		if got := endpoint(tt.in); got != tt.want {
			t.Errorf("endpoint(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStripThinking(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"no block", "NOTA FINAL: 700/1000", "NOTA FINAL: 700/1000"},
		{"leading block", "<think>pensando...</think>\n\nNOTA FINAL: 700/1000", "NOTA FINAL: 700/1000"},
		{"unterminated", "<think>pensando", "<think>pensando"},
		{"block mid text", "Texto <think>x</think>", "Texto <think>x</think>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stripThinking(tt.in))
		})
	}
}
