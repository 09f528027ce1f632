package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/scribo-app/scribo/internal/core"
	"github.com/scribo-app/scribo/internal/logging"
)

// EnhancedConfig tunes the two-phase analysis.
type EnhancedConfig struct {
	Roster              []string
	SynthesisModel      string
	Phase1Timeout       time.Duration
	Phase2Timeout       time.Duration
	MinSuccessfulModels int // below this Phase 2 is skipped
	LowConfidenceBelow  int // below this Phase 2 runs but is flagged
}

// DefaultEnhancedConfig returns the default roster and timeouts.
func DefaultEnhancedConfig() EnhancedConfig {
	return EnhancedConfig{
		Roster:              append([]string(nil), core.EnhancedRoster...),
		SynthesisModel:      core.SynthesisModelID,
		Phase1Timeout:       120 * time.Second,
		Phase2Timeout:       180 * time.Second,
		MinSuccessfulModels: 1,
		LowConfidenceBelow:  2,
	}
}

// EnhancedAnalyzer runs the two-phase analysis: a fixed roster grades the
// essay independently, then a synthesis model consolidates their answers.
type EnhancedAnalyzer struct {
	cfg       EnhancedConfig
	corrector *Corrector
	invoker   core.Invoker
	renderer  core.PromptRenderer
	retry     *RetryPolicy
	cache     core.Cache
	ttl       time.Duration
	limiters  *RateLimiterRegistry
	metrics   *Metrics
	logger    *logging.Logger
}

// EnhancedOption configures an enhanced analyzer.
type EnhancedOption func(*EnhancedAnalyzer)

// WithEnhancedCache caches analyses for ttl (DefaultAnalysisTTL when zero).
func WithEnhancedCache(cache core.Cache, ttl time.Duration) EnhancedOption {
	return func(e *EnhancedAnalyzer) {
		e.cache = cache
		if ttl > 0 {
			e.ttl = ttl
		}
	}
}

// WithEnhancedRateLimiters enforces the enhanced_deep policy per caller.
func WithEnhancedRateLimiters(r *RateLimiterRegistry) EnhancedOption {
	return func(e *EnhancedAnalyzer) {
		e.limiters = r
	}
}

// WithSynthesisRenderer sets the renderer of the synthesis prompt.
func WithSynthesisRenderer(r core.PromptRenderer) EnhancedOption {
	return func(e *EnhancedAnalyzer) {
		e.renderer = r
	}
}

// WithSynthesisRetry sets the retry policy of the synthesis call.
func WithSynthesisRetry(p *RetryPolicy) EnhancedOption {
	return func(e *EnhancedAnalyzer) {
		if p != nil {
			e.retry = p
		}
	}
}

// WithEnhancedMetrics attaches Prometheus collectors.
func WithEnhancedMetrics(m *Metrics) EnhancedOption {
	return func(e *EnhancedAnalyzer) {
		e.metrics = m
	}
}

// NewEnhancedAnalyzer creates the two-phase orchestrator. Zero config fields
// take defaults.
func NewEnhancedAnalyzer(cfg EnhancedConfig, corrector *Corrector, invoker core.Invoker, logger *logging.Logger, opts ...EnhancedOption) *EnhancedAnalyzer {
	if logger == nil {
		logger = logging.NewNop()
	}
	def := DefaultEnhancedConfig()
	if len(cfg.Roster) == 0 {
		cfg.Roster = def.Roster
	}
	if cfg.SynthesisModel == "" {
		cfg.SynthesisModel = def.SynthesisModel
	}
	if cfg.Phase1Timeout <= 0 {
		cfg.Phase1Timeout = def.Phase1Timeout
	}
	if cfg.Phase2Timeout <= 0 {
		cfg.Phase2Timeout = def.Phase2Timeout
	}
	if cfg.MinSuccessfulModels < 1 {
		cfg.MinSuccessfulModels = def.MinSuccessfulModels
	}
	if cfg.LowConfidenceBelow < 1 {
		cfg.LowConfidenceBelow = def.LowConfidenceBelow
	}

	e := &EnhancedAnalyzer{
		cfg:       cfg,
		corrector: corrector,
		invoker:   invoker,
		retry:     DefaultRetryPolicy(),
		ttl:       DefaultAnalysisTTL,
		logger:    logger.WithComponent("enhanced_analysis"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the configuration in use.
func (e *EnhancedAnalyzer) Config() EnhancedConfig {
	return e.cfg
}

// EnhancedCacheKey derives the cache key of a two-phase analysis.
func EnhancedCacheKey(content, theme string, kind core.AnalysisKind) string {
	return fmt.Sprintf("enhanced_deep_analysis:%s:%s", kind, contentHash(content, theme, string(kind), "enhanced"))
}

// Analyze runs both phases. After validation and rate limiting it always
// returns a result: Phase 1 failures degrade it rather than fail it.
func (e *EnhancedAnalyzer) Analyze(ctx context.Context, req AnalysisRequest) (*core.EnhancedDeepAnalysisResult, error) {
	if err := core.ValidateSubmission(req.Content, req.Theme, req.Kind); err != nil {
		return nil, err
	}

	exam := DetectExamType(req.Theme, req.ThemeContext)
	hash := contentHash(req.Content, req.Theme, string(req.Kind), "enhanced")
	key := EnhancedCacheKey(req.Content, req.Theme, req.Kind)
	logger := e.logger.WithAnalysis(core.ModeEnhancedDeep, hash).WithCaller(req.CallerID)

	if cached := e.lookup(ctx, key, logger); cached != nil {
		return cached, nil
	}

	if e.limiters != nil {
		if err := e.limiters.Allow(core.PolicyEnhancedDeep, req.CallerID); err != nil {
			e.metrics.ObserveRateLimited(core.PolicyEnhancedDeep)
			return nil, err
		}
	}

	start := time.Now()
	logger.Info("starting enhanced analysis", "exam_type", exam, "roster", e.cfg.Roster)

	phase1 := e.runPhase1(ctx, req)
	if err := ctx.Err(); err != nil {
		return nil, cancelled(ctx, err)
	}
	phase2 := e.runPhase2(ctx, req, exam, phase1, logger)
	if err := ctx.Err(); err != nil {
		return nil, cancelled(ctx, err)
	}

	out := &core.EnhancedDeepAnalysisResult{
		ContentHash:         hash,
		Theme:               req.Theme,
		AnalysisType:        req.Kind,
		ExamType:            exam,
		Phase1:              phase1,
		Phase2:              phase2,
		TotalProcessingTime: time.Since(start).Seconds(),
		Timestamp:           time.Now(),
		CacheKey:            key,
		Status:              core.StatusOK,
	}
	switch {
	case !phase2.Success:
		out.Status = core.StatusDegraded
		out.StatusReason = phase2.Error
	case phase2.LowConfidence:
		out.Status = core.StatusDegraded
		out.StatusReason = fmt.Sprintf("only %d of %d models answered", phase1.SuccessfulModels, len(e.cfg.Roster))
	}

	e.store(ctx, key, out, logger)
	e.metrics.ObserveAnalysis(core.ModeEnhancedDeep, phase2.ReliabilityLevel)
	logger.Info("enhanced analysis completed",
		"elapsed", time.Since(start),
		"phase1_successful", phase1.SuccessfulModels,
		"synthesis", phase2.Success,
		"reliability", phase2.ReliabilityLevel,
	)
	return out, nil
}

// runPhase1 grades the essay with every roster model and waits for all of
// them. Results keep roster order.
func (e *EnhancedAnalyzer) runPhase1(ctx context.Context, req AnalysisRequest) core.Phase1Results {
	start := time.Now()
	results := make([]core.ModelResult, len(e.cfg.Roster))

	var g errgroup.Group
	for i, id := range e.cfg.Roster {
		i, id := i, id
		g.Go(func() error {
			results[i] = e.runRosterModel(ctx, req, id)
			return nil
		})
	}
	_ = g.Wait()

	successful := 0
	for _, r := range results {
		if r.Success {
			successful++
		}
	}
	return core.Phase1Results{
		Results:          results,
		ProcessingTime:   time.Since(start).Seconds(),
		SuccessfulModels: successful,
	}
}

func (e *EnhancedAnalyzer) runRosterModel(ctx context.Context, req AnalysisRequest, modelID string) core.ModelResult {
	mctx, cancel := context.WithTimeout(ctx, e.cfg.Phase1Timeout)
	defer cancel()

	name := modelID
	if cfg, ok := e.corrector.registry.Get(modelID); ok {
		name = cfg.DisplayName()
	}

	start := time.Now()
	corr, err := e.corrector.Correct(mctx, CorrectRequest{
		Content:       req.Content,
		Theme:         req.Theme,
		Kind:          req.Kind,
		ModelID:       modelID,
		CallerID:      req.CallerID,
		ThemeContext:  req.ThemeContext,
		SkipRateLimit: true,
	})
	elapsed := time.Since(start)

	switch {
	case err != nil && errors.Is(mctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		return core.NewFailedResult(modelID, name,
			fmt.Errorf("phase 1 model %s timed out after %s", modelID, e.cfg.Phase1Timeout), elapsed)
	case err != nil:
		return core.NewFailedResult(modelID, name, fmt.Errorf("phase 1 model %s failed: %w", modelID, err), elapsed)
	case corr.Status == core.StatusDegraded:
		return core.NewFailedResult(modelID, name, fmt.Errorf("phase 1 model %s failed: %s", modelID, corr.StatusReason), elapsed)
	default:
		return core.NewSuccessResult(modelID, name, corr.AnsweredBy, corr.Feedback, corr.Score, elapsed)
	}
}

// runPhase2 consolidates the Phase 1 answers with the synthesis model. It is
// skipped when too few roster models answered.
func (e *EnhancedAnalyzer) runPhase2(ctx context.Context, req AnalysisRequest, exam string, phase1 core.Phase1Results, logger *logging.Logger) core.Phase2Result {
	start := time.Now()
	if phase1.SuccessfulModels < e.cfg.MinSuccessfulModels {
		msg := fmt.Sprintf("insufficient successful phase 1 models (%d) for synthesis", phase1.SuccessfulModels)
		logger.Warn(msg)
		return core.Phase2Result{
			ConsolidatedFeedback: "**ANÁLISE PROFUNDA INDISPONÍVEL**\n\nNão foi possível obter análises suficientes dos modelos primários para realizar a síntese.",
			ReliabilityLevel:     core.ReliabilityVeryLow,
			ProcessingTime:       time.Since(start).Seconds(),
			Timestamp:            time.Now(),
			Error:                msg,
		}
	}

	var outputs []core.ModelOutput
	for _, r := range phase1.Successful() {
		outputs = append(outputs, core.ModelOutput{ModelID: r.ModelID, ModelName: r.ModelName, Output: r.Feedback})
	}
	in := core.PromptInput{
		Kind:         core.KindSynthesis,
		Content:      req.Content,
		Theme:        req.Theme,
		ExamType:     exam,
		ThemeContext: req.ThemeContext,
		ModelOutputs: outputs,
	}
	prompt := FallbackPrompt(in)
	if e.renderer != nil {
		rendered, err := e.renderer.Render(in)
		if err != nil {
			logger.Warn("rendering synthesis prompt failed, using fallback prompt", "error", err)
		} else {
			prompt = rendered
		}
	}

	pctx, cancel := context.WithTimeout(ctx, e.cfg.Phase2Timeout)
	defer cancel()

	var feedback string
	err := e.retry.Execute(pctx, func(ctx context.Context) error {
		text, err := e.invoker.Invoke(ctx, core.InvokeRequest{
			ModelID:  e.cfg.SynthesisModel,
			Prompt:   prompt,
			Kind:     core.KindSynthesis,
			CallerID: req.CallerID,
		})
		if err != nil {
			return err
		}
		feedback = text
		return nil
	})

	if err != nil {
		if errors.Is(pctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			msg := fmt.Sprintf("phase 2 synthesis timed out after %s", e.cfg.Phase2Timeout)
			logger.Warn(msg)
			return core.Phase2Result{
				ConsolidatedFeedback: "**ANÁLISE PROFUNDA INDISPONÍVEL**\n\nO processo de síntese das análises excedeu o tempo limite.",
				ReliabilityLevel:     core.ReliabilityLow,
				ProcessingTime:       time.Since(start).Seconds(),
				Timestamp:            time.Now(),
				Error:                msg,
			}
		}
		logger.Warn("phase 2 synthesis failed", "model", e.cfg.SynthesisModel, "error", err)
		return core.Phase2Result{
			ConsolidatedFeedback: "**ANÁLISE PROFUNDA INDISPONÍVEL**\n\nOcorreu um erro durante o processo de síntese das análises.",
			ReliabilityLevel:     core.ReliabilityVeryLow,
			ProcessingTime:       time.Since(start).Seconds(),
			Timestamp:            time.Now(),
			Error:                fmt.Sprintf("phase 2 synthesis failed: %v", err),
		}
	}

	return core.Phase2Result{
		ConsolidatedFeedback: feedback,
		FinalScore:           ExtractSynthesisScore(feedback),
		ReliabilityLevel:     RosterReliability(phase1.SuccessfulModels, len(e.cfg.Roster)),
		LowConfidence:        phase1.SuccessfulModels < e.cfg.LowConfidenceBelow,
		ProcessingTime:       time.Since(start).Seconds(),
		Timestamp:            time.Now(),
		Success:              true,
	}
}

// RosterReliability grades a two-phase run by the share of roster models
// that answered: all of them is very high, two thirds high, one third medium.
func RosterReliability(successful, total int) core.Reliability {
	switch {
	case total <= 0 || successful <= 0:
		return core.ReliabilityVeryLow
	case successful >= total:
		return core.ReliabilityVeryHigh
	case successful*3 >= total*2:
		return core.ReliabilityHigh
	case successful*3 >= total:
		return core.ReliabilityMedium
	default:
		return core.ReliabilityLow
	}
}

func (e *EnhancedAnalyzer) lookup(ctx context.Context, key string, logger *logging.Logger) *core.EnhancedDeepAnalysisResult {
	if e.cache == nil {
		return nil
	}
	data, ok, err := e.cache.Get(ctx, key)
	if err != nil {
		e.metrics.ObserveCache(core.ModeEnhancedDeep, "error")
		logger.Warn("reading analysis cache failed", "key", key, "error", err)
		return nil
	}
	if !ok {
		e.metrics.ObserveCache(core.ModeEnhancedDeep, "miss")
		return nil
	}
	var out core.EnhancedDeepAnalysisResult
	if err := json.Unmarshal(data, &out); err != nil {
		e.metrics.ObserveCache(core.ModeEnhancedDeep, "error")
		logger.Warn("decoding cached analysis failed", "key", key, "error", err)
		return nil
	}
	e.metrics.ObserveCache(core.ModeEnhancedDeep, "hit")
	out.Cached = true
	return &out
}

func (e *EnhancedAnalyzer) store(ctx context.Context, key string, out *core.EnhancedDeepAnalysisResult, logger *logging.Logger) {
	if e.cache == nil {
		return
	}
	data, err := json.Marshal(out)
	if err != nil {
		logger.Warn("encoding analysis failed", "error", err)
		return
	}
	if err := e.cache.Set(ctx, key, data, e.ttl); err != nil {
		logger.Warn("writing analysis cache failed", "key", key, "error", err)
	}
}
