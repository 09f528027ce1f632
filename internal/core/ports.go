package core

import (
	"context"
	"time"
)

// =============================================================================
// Model Transport
// =============================================================================

// Message represents a single message in a chat completion request.
type Message struct {
	Role    string `json:"role"` // "user", "assistant", "system"
	Content string `json:"content"`
}

// ChatRequest is one OpenAI-compatible chat completion call.
type ChatRequest struct {
	BaseURL     string
	APIKey      string
	Model       string
	Messages    []Message
	Temperature float64
	TopP        float64
	MaxTokens   int
	Extra       map[string]interface{}
}

// ChatResponse contains the assistant text of a completion.
type ChatResponse struct {
	Content      string
	Model        string
	TokensIn     int
	TokensOut    int
	FinishReason string
}

// TotalTokens returns the sum of input and output tokens.
func (r *ChatResponse) TotalTokens() int {
	return r.TokensIn + r.TokensOut
}

// ChatClient performs chat completion calls against a model provider.
type ChatClient interface {
	Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// InvokeRequest asks the invoker to call one registered model.
type InvokeRequest struct {
	ModelID  string
	Prompt   string
	Kind     AnalysisKind
	CallerID string
}

// Invoker sends a prompt to a registered model and returns its raw text.
type Invoker interface {
	Invoke(ctx context.Context, req InvokeRequest) (string, error)
}

// =============================================================================
// Cache
// =============================================================================

// Cache stores serialized analysis results with a time to live.
// Get reports a miss with found=false and a nil error.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

// =============================================================================
// Usage Log
// =============================================================================

// UsageRecord describes one model call for accounting.
type UsageRecord struct {
	ModelID      string
	CallerID     string
	Kind         AnalysisKind
	ResponseTime time.Duration
	Success      bool
	Error        string
	TokensUsed   int
	Timestamp    time.Time
}

// UsageStat aggregates usage records of one model.
type UsageStat struct {
	ModelID         string  `json:"model_id"`
	Calls           int     `json:"calls"`
	Failures        int     `json:"failures"`
	AvgResponseTime float64 `json:"avg_response_time"`
	TokensUsed      int     `json:"tokens_used"`
}

// UsageLogger records model calls. Failures are never surfaced to callers
// of the invoker.
type UsageLogger interface {
	LogUsage(ctx context.Context, rec UsageRecord) error
}

// =============================================================================
// Prompts
// =============================================================================

// ModelOutput is one Phase 1 answer handed to the synthesis prompt.
type ModelOutput struct {
	ModelID   string
	ModelName string
	Output    string
}

// PromptInput is the data a prompt template is rendered with.
type PromptInput struct {
	Kind         AnalysisKind
	Content      string
	Theme        string
	ExamType     string
	ThemeContext ThemeContext
	ModelOutputs []ModelOutput
}

// PromptRenderer builds the prompt text for a model call.
type PromptRenderer interface {
	Render(in PromptInput) (string, error)
}

// =============================================================================
// Essay persistence (calling layer)
// =============================================================================

// Analysis modes written back to an essay.
const (
	ModeDeep         = "deep"
	ModeEnhancedDeep = "enhanced_deep"
)

// EssayAnalysisUpdate is the subset of essay fields an analysis overwrites.
type EssayAnalysisUpdate struct {
	Feedback    string
	Score       *float64
	Reliability Reliability
	Mode        string
	AnalyzedAt  time.Time
}

// EssayRecord is the stored view of an essay as the core sees it.
type EssayRecord struct {
	ID              string      `json:"id"`
	UserID          string      `json:"user_id"`
	Theme           string      `json:"theme"`
	Content         string      `json:"content"`
	DeepFeedback    string      `json:"deep_analysis_feedback,omitempty"`
	DeepScore       *float64    `json:"deep_analysis_score,omitempty"`
	DeepReliability Reliability `json:"deep_analysis_reliability"`
	DeepMode        string      `json:"deep_analysis_mode,omitempty"`
	DeepAnalyzedAt  *time.Time  `json:"deep_analysis_at,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
}

// EssayStore persists analysis outcomes on essays. ApplyAnalysis overwrites
// any earlier analysis fields.
type EssayStore interface {
	CreateEssay(ctx context.Context, essay EssayRecord) error
	GetEssay(ctx context.Context, id string) (*EssayRecord, error)
	ApplyAnalysis(ctx context.Context, essayID string, upd EssayAnalysisUpdate) error
	Close() error
}
