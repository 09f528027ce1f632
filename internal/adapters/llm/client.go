// Package llm implements core.ChatClient against OpenAI-compatible
// /chat/completions endpoints such as the NVIDIA hosted catalog.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/scribo-app/scribo/internal/core"
)

// DefaultBaseURL is used when a model config leaves base_url empty.
const DefaultBaseURL = "https://integrate.api.nvidia.com/v1"

const maxErrorBody = 2048

// StatusError is returned for non-2xx provider responses. Wait holds the
// provider's Retry-After, when it sent one in seconds.
type StatusError struct {
	StatusCode int
	Body       string
	Wait       time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider returned status %d: %s", e.StatusCode, e.Body)
}

// RetryAfter reports how long the provider asked callers to back off.
func (e *StatusError) RetryAfter() time.Duration {
	return e.Wait
}

func parseRetryAfter(h string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(h))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// Client posts chat completions over HTTP. Timeouts come from the request
// context; the HTTP client itself has none.
type Client struct {
	http      *http.Client
	userAgent string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// NewClient creates a chat client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		http: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConnsPerHost: 8,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		userAgent: "scribo",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type completionRequest struct {
	Model       string         `json:"model"`
	Messages    []core.Message `json:"messages"`
	Temperature float64        `json:"temperature"`
	TopP        float64        `json:"top_p,omitempty"`
	MaxTokens   int            `json:"max_tokens,omitempty"`
	Stream      bool           `json:"stream"`
}

type completionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Complete sends one non-streaming completion request.
func (c *Client) Complete(ctx context.Context, req core.ChatRequest) (*core.ChatResponse, error) {
	body, err := encodeRequest(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint(req.BaseURL), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.userAgent)
	if req.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(msg)),
			Wait:       parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	var out completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	choice := out.Choices[0]
	content := choice.Message.Content
	if strings.TrimSpace(content) == "" {
		content = choice.Message.ReasoningContent
	}
	return &core.ChatResponse{
		Content:      stripThinking(content),
		Model:        out.Model,
		TokensIn:     out.Usage.PromptTokens,
		TokensOut:    out.Usage.CompletionTokens,
		FinishReason: choice.FinishReason,
	}, nil
}

// encodeRequest merges the extra body fields into the top-level JSON object
// the way OpenAI SDKs do with extra_body.
func encodeRequest(req core.ChatRequest) ([]byte, error) {
	base, err := json.Marshal(completionRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	if len(req.Extra) == 0 {
		return base, nil
	}

	merged := make(map[string]interface{}, len(req.Extra)+6)
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	for k, v := range req.Extra {
		if _, reserved := merged[k]; reserved {
			continue
		}
		merged[k] = v
	}
	body, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("encoding extra body: %w", err)
	}
	return body, nil
}

func endpoint(baseURL string) string {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if strings.HasSuffix(baseURL, "/chat/completions") {
		return baseURL
	}
	return baseURL + "/chat/completions"
}

// stripThinking drops a leading <think>...</think> block emitted by
// reasoning models when thinking mode is on.
func stripThinking(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "<think>") {
		return s
	}
	end := strings.Index(trimmed, "</think>")
	if end < 0 {
		return s
	}
	return strings.TrimSpace(trimmed[end+len("</think>"):])
}
