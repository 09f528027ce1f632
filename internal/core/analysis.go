package core

import (
	"errors"
	"strings"
	"time"
)

// AnalysisKind selects the prompt, score extractor, length limit and timeout
// of a model call.
type AnalysisKind string

const (
	KindParagraph AnalysisKind = "paragraph"
	KindFull      AnalysisKind = "full"
	KindSynthesis AnalysisKind = "synthesis"
)

// Valid reports whether the kind is one a caller may request.
func (k AnalysisKind) Valid() bool {
	return k == KindParagraph || k == KindFull
}

// MaxLength returns the content length limit for the kind.
func (k AnalysisKind) MaxLength() int {
	if k == KindParagraph {
		return MaxParagraphLength
	}
	return MaxFullEssayLength
}

// Status marks whether a result is a complete answer or a best-effort one.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
)

// ModelConfig describes one model backend. It is immutable after startup;
// availability is tracked separately by the model registry.
type ModelConfig struct {
	ID            string                 `json:"id" yaml:"id"`
	Name          string                 `json:"name" yaml:"name"`
	Model         string                 `json:"model" yaml:"model"`
	BaseURL       string                 `json:"base_url" yaml:"base_url"`
	APIKey        string                 `json:"-" yaml:"-"`
	Usage         string                 `json:"usage" yaml:"usage"`
	Temperature   float64                `json:"temperature" yaml:"temperature"`
	TopP          float64                `json:"top_p" yaml:"top_p"`
	MaxTokens     int                    `json:"max_tokens" yaml:"max_tokens"`
	SystemMessage string                 `json:"system_message,omitempty" yaml:"system_message,omitempty"`
	Extra         map[string]interface{} `json:"extra_body,omitempty" yaml:"extra_body,omitempty"`
}

// DisplayName returns the human name, falling back to the id.
func (m ModelConfig) DisplayName() string {
	if m.Name != "" {
		return m.Name
	}
	return m.ID
}

// ThemeContext carries optional metadata about the essay prompt.
type ThemeContext struct {
	ExamType    string `json:"exam_type,omitempty"`
	Description string `json:"description,omitempty"`
}

// ModelResult is the outcome of one model call inside a multi-model run.
type ModelResult struct {
	ModelID        string    `json:"model_id"`
	ModelName      string    `json:"model_name"`
	AnsweredBy     string    `json:"answered_by,omitempty"`
	Feedback       string    `json:"feedback"`
	Score          *float64  `json:"score"`
	ProcessingTime float64   `json:"processing_time"`
	Timestamp      time.Time `json:"timestamp"`
	Success        bool      `json:"success"`
	Error          string    `json:"error,omitempty"`
}

// NewSuccessResult records a model answer. answeredBy may differ from the
// model id when a fallback produced the text.
func NewSuccessResult(modelID, modelName, answeredBy, feedback string, score *float64, elapsed time.Duration) ModelResult {
	return ModelResult{
		ModelID:        modelID,
		ModelName:      modelName,
		AnsweredBy:     answeredBy,
		Feedback:       feedback,
		Score:          score,
		ProcessingTime: elapsed.Seconds(),
		Timestamp:      time.Now(),
		Success:        true,
	}
}

// NewFailedResult records a model failure. A failed result never carries a score.
func NewFailedResult(modelID, modelName string, err error, elapsed time.Duration) ModelResult {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return ModelResult{
		ModelID:        modelID,
		ModelName:      modelName,
		ProcessingTime: elapsed.Seconds(),
		Timestamp:      time.Now(),
		Success:        false,
		Error:          msg,
	}
}

// Scored reports whether the result participates in consensus.
func (r ModelResult) Scored() bool {
	return r.Success && r.Score != nil
}

// Correction is the answer of the single-model correction service.
type Correction struct {
	ModelID        string       `json:"model_id"`
	AnsweredBy     string       `json:"answered_by"`
	Kind           AnalysisKind `json:"analysis_type"`
	Feedback       string       `json:"feedback"`
	Score          *float64     `json:"score"`
	Cached         bool         `json:"cached"`
	Fallback       bool         `json:"is_fallback"`
	Status         Status       `json:"status"`
	StatusReason   string       `json:"status_reason,omitempty"`
	ProcessingTime float64      `json:"processing_time"`
	Timestamp      time.Time    `json:"timestamp"`
}

// ConsensusMetrics summarises agreement among scored model results.
type ConsensusMetrics struct {
	ScoreVariance       float64     `json:"score_variance"`
	ScoreStdDev         float64     `json:"score_std_dev"`
	AgreementPercentage float64     `json:"agreement_percentage"`
	ReliabilityLevel    Reliability `json:"reliability_level"`
	OutlierModels       []string    `json:"outlier_models"`
	ConsensusScore      *float64    `json:"consensus_score"`
	ScoredModels        int         `json:"scored_models"`
}

// FailedModel names a model that produced no usable answer.
type FailedModel struct {
	ModelID string `json:"model_id"`
	Error   string `json:"error"`
}

// ModelPerformance groups models by outcome.
type ModelPerformance struct {
	Successful []string      `json:"successful"`
	Failed     []FailedModel `json:"failed"`
	Outliers   []string      `json:"outliers"`
}

// ConsensusQuality restates the agreement figures of a report.
type ConsensusQuality struct {
	AgreementPercentage float64     `json:"agreement_percentage"`
	ReliabilityLevel    Reliability `json:"reliability_level"`
	ScoreVariance       float64     `json:"score_variance"`
	ScoreStdDev         float64     `json:"score_std_dev"`
}

// ReliabilityReport is the structured explanation attached to a deep analysis.
type ReliabilityReport struct {
	TotalModelsAttempted int              `json:"total_models_attempted"`
	SuccessfulModels     int              `json:"successful_models"`
	FailedModels         int              `json:"failed_models"`
	SuccessRate          float64          `json:"success_rate"`
	ModelPerformance     ModelPerformance `json:"model_performance"`
	ConsensusQuality     ConsensusQuality `json:"consensus_quality"`
	Recommendations      []string         `json:"recommendations"`
}

// DeepAnalysisResult is the output of the single-phase multi-model analysis.
type DeepAnalysisResult struct {
	ContentHash       string            `json:"content_hash"`
	Theme             string            `json:"theme"`
	AnalysisType      AnalysisKind      `json:"analysis_type"`
	ModelResults      []ModelResult     `json:"model_results"`
	ConsensusMetrics  ConsensusMetrics  `json:"consensus_metrics"`
	FinalScore        *float64          `json:"final_score"`
	FinalFeedback     string            `json:"final_feedback"`
	ReliabilityReport ReliabilityReport `json:"reliability_report"`
	ProcessingTime    float64           `json:"processing_time"`
	Timestamp         time.Time         `json:"timestamp"`
	CacheKey          string            `json:"cache_key"`
	Cached            bool              `json:"cached"`
	Status            Status            `json:"status"`
	StatusReason      string            `json:"status_reason,omitempty"`
}

// Phase1Results holds the independent analyses of the two-phase flow in
// roster order.
type Phase1Results struct {
	Results          []ModelResult `json:"results"`
	ProcessingTime   float64       `json:"processing_time"`
	SuccessfulModels int           `json:"successful_models"`
}

// Successful returns the successful results in roster order.
func (p Phase1Results) Successful() []ModelResult {
	out := make([]ModelResult, 0, len(p.Results))
	for _, r := range p.Results {
		if r.Success {
			out = append(out, r)
		}
	}
	return out
}

// Phase2Result is the outcome of the synthesis call.
type Phase2Result struct {
	ConsolidatedFeedback string      `json:"consolidated_feedback"`
	FinalScore           *float64    `json:"final_score"`
	ReliabilityLevel     Reliability `json:"reliability_level"`
	LowConfidence        bool        `json:"low_confidence"`
	ProcessingTime       float64     `json:"processing_time"`
	Timestamp            time.Time   `json:"timestamp"`
	Success              bool        `json:"success"`
	Error                string      `json:"error,omitempty"`
}

// EnhancedDeepAnalysisResult is the output of the two-phase analysis.
type EnhancedDeepAnalysisResult struct {
	ContentHash         string        `json:"content_hash"`
	Theme               string        `json:"theme"`
	AnalysisType        AnalysisKind  `json:"analysis_type"`
	ExamType            string        `json:"exam_type"`
	Phase1              Phase1Results `json:"phase1_results"`
	Phase2              Phase2Result  `json:"phase2_result"`
	TotalProcessingTime float64       `json:"total_processing_time"`
	Timestamp           time.Time     `json:"timestamp"`
	CacheKey            string        `json:"cache_key"`
	Cached              bool          `json:"cached"`
	Status              Status        `json:"status"`
	StatusReason        string        `json:"status_reason,omitempty"`
}

// ComparisonRow is one model line of an analysis comparison.
type ComparisonRow struct {
	ModelID        string   `json:"model_id"`
	ModelName      string   `json:"model_name"`
	Score          *float64 `json:"score"`
	Success        bool     `json:"success"`
	ProcessingTime float64  `json:"processing_time"`
	Error          string   `json:"error,omitempty"`
	IsOutlier      bool     `json:"is_outlier"`
}

// ScoreStats describes the spread of successful scores.
type ScoreStats struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	StdDev float64 `json:"std_dev"`
}

// ComparisonSummary is the headline of a comparison.
type ComparisonSummary struct {
	FinalScore          *float64    `json:"final_score"`
	ReliabilityLevel    Reliability `json:"reliability_level"`
	AgreementPercentage float64     `json:"agreement_percentage"`
	ModelsUsed          int         `json:"models_used"`
	ModelsAttempted     int         `json:"models_attempted"`
}

// AnalysisComparison lays individual model answers side by side.
type AnalysisComparison struct {
	Summary           ComparisonSummary `json:"summary"`
	IndividualResults []ComparisonRow   `json:"individual_results"`
	ScoreAnalysis     *ScoreStats       `json:"score_analysis,omitempty"`
}

// ModelHealth reports the availability of one registered model.
type ModelHealth struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Model     string `json:"model"`
	Available bool   `json:"available"`
}

// ServiceHealth reports the state of the model invoker and its cache.
type ServiceHealth struct {
	Status         string        `json:"status"`
	Models         []ModelHealth `json:"models"`
	CacheConnected bool          `json:"cache_connected"`
	Timestamp      time.Time     `json:"timestamp"`
}

// DeepAnalysisHealth reports whether multi-model analysis can reach consensus.
type DeepAnalysisHealth struct {
	Status                 string        `json:"status"`
	AvailableModels        int           `json:"available_models"`
	TotalModels            int           `json:"total_models"`
	ConsensusCapable       bool          `json:"consensus_capable"`
	HighReliabilityCapable bool          `json:"high_reliability_capable"`
	Models                 []ModelHealth `json:"models"`
	Timestamp              time.Time     `json:"timestamp"`
}

// ValidateSubmission checks essay content and theme against the kind's limits.
func ValidateSubmission(content, theme string, kind AnalysisKind) error {
	if !kind.Valid() {
		return ErrValidation(CodeInvalidKind, "analysis type must be paragraph or full")
	}
	if strings.TrimSpace(content) == "" {
		return ErrValidation(CodeEmptyContent, "content cannot be empty")
	}
	if strings.TrimSpace(theme) == "" {
		return ErrValidation(CodeEmptyTheme, "theme cannot be empty")
	}
	if limit := kind.MaxLength(); len([]rune(content)) > limit {
		return ErrValidation(CodeContentTooLong, "content exceeds maximum length").
			WithDetail("max_length", limit).
			WithDetail("length", len([]rune(content)))
	}
	return nil
}

// IsInvalidInput reports whether err is a submission validation error.
func IsInvalidInput(err error) bool {
	var domErr *DomainError
	return errors.As(err, &domErr) && domErr.Category == ErrCatValidation
}

// RateLimitStatus describes a caller's position in a sliding window.
// ResetTime is set only when no requests remain.
type RateLimitStatus struct {
	Policy            string     `json:"policy"`
	Key               string     `json:"key"`
	RequestsMade      int        `json:"requests_made"`
	RequestsRemaining int        `json:"requests_remaining"`
	ResetTime         *time.Time `json:"reset_time"`
	WindowSize        float64    `json:"window_size"`
}
