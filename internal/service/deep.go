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

// Deep analysis defaults.
const (
	DefaultMaxConcurrentModels = 4
	DefaultDeepModelTimeout    = 90 * time.Second
	DefaultAnalysisTTL         = 2 * time.Hour
)

// AnalysisRequest asks for a multi-model analysis, single or two-phase.
type AnalysisRequest struct {
	Content      string
	Theme        string
	Kind         core.AnalysisKind
	CallerID     string
	ThemeContext core.ThemeContext
}

// DeepAnalyzer grades a submission with several models at once and
// measures how much they agree.
type DeepAnalyzer struct {
	corrector    *Corrector
	registry     *ModelRegistry
	consensus    *ConsensusEngine
	cache        core.Cache
	ttl          time.Duration
	limiters     *RateLimiterRegistry
	maxModels    int
	modelTimeout time.Duration
	metrics      *Metrics
	logger       *logging.Logger
}

// DeepOption configures a deep analyzer.
type DeepOption func(*DeepAnalyzer)

// WithDeepCache caches analyses for ttl (DefaultAnalysisTTL when zero).
func WithDeepCache(cache core.Cache, ttl time.Duration) DeepOption {
	return func(d *DeepAnalyzer) {
		d.cache = cache
		if ttl > 0 {
			d.ttl = ttl
		}
	}
}

// WithDeepRateLimiters enforces the deep policy per caller.
func WithDeepRateLimiters(r *RateLimiterRegistry) DeepOption {
	return func(d *DeepAnalyzer) {
		d.limiters = r
	}
}

// WithMaxModels caps how many models run per analysis.
func WithMaxModels(n int) DeepOption {
	return func(d *DeepAnalyzer) {
		if n > 0 {
			d.maxModels = n
		}
	}
}

// WithModelTimeout bounds each model of the fan-out.
func WithModelTimeout(t time.Duration) DeepOption {
	return func(d *DeepAnalyzer) {
		if t > 0 {
			d.modelTimeout = t
		}
	}
}

// WithConsensusEngine replaces the default consensus thresholds.
func WithConsensusEngine(e *ConsensusEngine) DeepOption {
	return func(d *DeepAnalyzer) {
		if e != nil {
			d.consensus = e
		}
	}
}

// WithDeepMetrics attaches Prometheus collectors.
func WithDeepMetrics(m *Metrics) DeepOption {
	return func(d *DeepAnalyzer) {
		d.metrics = m
	}
}

// NewDeepAnalyzer creates the single-phase orchestrator.
func NewDeepAnalyzer(corrector *Corrector, registry *ModelRegistry, logger *logging.Logger, opts ...DeepOption) *DeepAnalyzer {
	if logger == nil {
		logger = logging.NewNop()
	}
	d := &DeepAnalyzer{
		corrector:    corrector,
		registry:     registry,
		consensus:    NewConsensusEngine(DefaultConsensusConfig()),
		ttl:          DefaultAnalysisTTL,
		maxModels:    DefaultMaxConcurrentModels,
		modelTimeout: DefaultDeepModelTimeout,
		logger:       logger.WithComponent("deep_analysis"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DeepCacheKey derives the cache key of a deep analysis.
func DeepCacheKey(content, theme string, kind core.AnalysisKind) string {
	return fmt.Sprintf("deep_analysis:%s:%s", kind, contentHash(content, theme, string(kind), "deep"))
}

// Analyze runs the fan-out and consensus. Identical submissions within the
// cache TTL are answered from the cache without calling any model.
func (d *DeepAnalyzer) Analyze(ctx context.Context, req AnalysisRequest) (*core.DeepAnalysisResult, error) {
	return d.analyze(ctx, req, true)
}

func (d *DeepAnalyzer) analyze(ctx context.Context, req AnalysisRequest, limit bool) (*core.DeepAnalysisResult, error) {
	if err := core.ValidateSubmission(req.Content, req.Theme, req.Kind); err != nil {
		return nil, err
	}

	hash := contentHash(req.Content, req.Theme, string(req.Kind))
	key := DeepCacheKey(req.Content, req.Theme, req.Kind)
	logger := d.logger.WithAnalysis(core.ModeDeep, hash).WithCaller(req.CallerID)

	if cached := d.lookup(ctx, key, logger); cached != nil {
		return cached, nil
	}

	if limit && d.limiters != nil {
		if err := d.limiters.Allow(core.PolicyDeep, req.CallerID); err != nil {
			d.metrics.ObserveRateLimited(core.PolicyDeep)
			return nil, err
		}
	}

	candidates := d.registry.Available(core.UsageSynthesis)
	if len(candidates) == 0 {
		return nil, core.ErrAnalysisFailed("no models available for deep analysis")
	}
	if len(candidates) > d.maxModels {
		candidates = candidates[:d.maxModels]
	}

	start := time.Now()
	logger.Info("starting deep analysis", "models", len(candidates))
	results := d.fanOut(ctx, req, candidates)
	if len(results) == 0 {
		return nil, core.ErrAnalysisFailed("no models were able to complete the analysis")
	}
	if err := ctx.Err(); err != nil {
		return nil, cancelled(ctx, err)
	}

	metrics := d.consensus.Compute(results)
	out := &core.DeepAnalysisResult{
		ContentHash:       hash,
		Theme:             req.Theme,
		AnalysisType:      req.Kind,
		ModelResults:      results,
		ConsensusMetrics:  metrics,
		FinalScore:        metrics.ConsensusScore,
		FinalFeedback:     d.consensus.Summarize(results, metrics),
		ReliabilityReport: d.consensus.Report(results, metrics),
		ProcessingTime:    time.Since(start).Seconds(),
		Timestamp:         time.Now(),
		CacheKey:          key,
		Status:            core.StatusOK,
	}
	if metrics.ConsensusScore == nil {
		out.Status = core.StatusDegraded
		out.StatusReason = fmt.Sprintf("%d of %d models produced a score", metrics.ScoredModels, len(results))
	}

	if out.ReliabilityReport.SuccessfulModels > 0 {
		d.store(ctx, key, out, logger)
	}
	d.metrics.ObserveAnalysis(core.ModeDeep, metrics.ReliabilityLevel)
	logger.Info("deep analysis completed",
		"elapsed", time.Since(start),
		"successful", out.ReliabilityReport.SuccessfulModels,
		"reliability", metrics.ReliabilityLevel,
	)
	return out, nil
}

// fanOut runs every candidate concurrently. Each goroutine turns its own
// failure into a failed result and returns nil so no sibling is cancelled.
func (d *DeepAnalyzer) fanOut(ctx context.Context, req AnalysisRequest, candidates []core.ModelConfig) []core.ModelResult {
	results := make([]core.ModelResult, len(candidates))
	var g errgroup.Group
	for i, m := range candidates {
		i, m := i, m
		g.Go(func() error {
			results[i] = d.runModel(ctx, req, m)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (d *DeepAnalyzer) runModel(ctx context.Context, req AnalysisRequest, m core.ModelConfig) core.ModelResult {
	mctx, cancel := context.WithTimeout(ctx, d.modelTimeout)
	defer cancel()

	start := time.Now()
	corr, err := d.corrector.Correct(mctx, CorrectRequest{
		Content:       req.Content,
		Theme:         req.Theme,
		Kind:          req.Kind,
		ModelID:       m.ID,
		CallerID:      req.CallerID,
		ThemeContext:  req.ThemeContext,
		SkipRateLimit: true,
	})
	elapsed := time.Since(start)

	switch {
	case err != nil && errors.Is(mctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		return core.NewFailedResult(m.ID, m.DisplayName(),
			fmt.Errorf("model %s timed out after %s", m.ID, d.modelTimeout), elapsed)
	case err != nil:
		return core.NewFailedResult(m.ID, m.DisplayName(), fmt.Errorf("model %s failed: %w", m.ID, err), elapsed)
	case corr.Status == core.StatusDegraded:
		return core.NewFailedResult(m.ID, m.DisplayName(), fmt.Errorf("model %s failed: %s", m.ID, corr.StatusReason), elapsed)
	default:
		return core.NewSuccessResult(m.ID, m.DisplayName(), corr.AnsweredBy, corr.Feedback, corr.Score, elapsed)
	}
}

// Compare lays the individual model answers of an analysis side by side.
// It reuses a cached analysis and otherwise runs one without rate limiting.
func (d *DeepAnalyzer) Compare(ctx context.Context, req AnalysisRequest) (*core.AnalysisComparison, error) {
	res, err := d.analyze(ctx, req, false)
	if err != nil {
		return nil, err
	}

	outliers := make(map[string]bool, len(res.ConsensusMetrics.OutlierModels))
	for _, id := range res.ConsensusMetrics.OutlierModels {
		outliers[id] = true
	}

	rows := make([]core.ComparisonRow, 0, len(res.ModelResults))
	used := 0
	for _, r := range res.ModelResults {
		if r.Success {
			used++
		}
		rows = append(rows, core.ComparisonRow{
			ModelID:        r.ModelID,
			ModelName:      r.ModelName,
			Score:          r.Score,
			Success:        r.Success,
			ProcessingTime: r.ProcessingTime,
			Error:          r.Error,
			IsOutlier:      outliers[r.ModelID],
		})
	}

	return &core.AnalysisComparison{
		Summary: core.ComparisonSummary{
			FinalScore:          res.FinalScore,
			ReliabilityLevel:    res.ConsensusMetrics.ReliabilityLevel,
			AgreementPercentage: res.ConsensusMetrics.AgreementPercentage,
			ModelsUsed:          used,
			ModelsAttempted:     len(res.ModelResults),
		},
		IndividualResults: rows,
		ScoreAnalysis:     ScoreStatistics(res.ModelResults),
	}, nil
}

// Health reports whether enough models are available to reach consensus.
func (d *DeepAnalyzer) Health() core.DeepAnalysisHealth {
	var models []core.ModelHealth
	for _, m := range d.registry.Health() {
		if cfg, ok := d.registry.Get(m.ID); ok && cfg.Usage == core.UsageSynthesis {
			continue
		}
		models = append(models, m)
	}

	available := 0
	for _, m := range models {
		if m.Available {
			available++
		}
	}

	status := "healthy"
	switch {
	case available == 0:
		status = "unhealthy"
	case available < 2:
		status = "degraded"
	case available < len(models):
		status = "partial"
	}

	return core.DeepAnalysisHealth{
		Status:                 status,
		AvailableModels:        available,
		TotalModels:            len(models),
		ConsensusCapable:       available >= 2,
		HighReliabilityCapable: available >= 3,
		Models:                 models,
		Timestamp:              time.Now(),
	}
}

func (d *DeepAnalyzer) lookup(ctx context.Context, key string, logger *logging.Logger) *core.DeepAnalysisResult {
	if d.cache == nil {
		return nil
	}
	data, ok, err := d.cache.Get(ctx, key)
	if err != nil {
		d.metrics.ObserveCache(core.ModeDeep, "error")
		logger.Warn("reading analysis cache failed", "key", key, "error", err)
		return nil
	}
	if !ok {
		d.metrics.ObserveCache(core.ModeDeep, "miss")
		return nil
	}
	var out core.DeepAnalysisResult
	if err := json.Unmarshal(data, &out); err != nil {
		d.metrics.ObserveCache(core.ModeDeep, "error")
		logger.Warn("decoding cached analysis failed", "key", key, "error", err)
		return nil
	}
	d.metrics.ObserveCache(core.ModeDeep, "hit")
	out.Cached = true
	return &out
}

func (d *DeepAnalyzer) store(ctx context.Context, key string, out *core.DeepAnalysisResult, logger *logging.Logger) {
	if d.cache == nil {
		return
	}
	data, err := json.Marshal(out)
	if err != nil {
		logger.Warn("encoding analysis failed", "error", err)
		return
	}
	if err := d.cache.Set(ctx, key, data, d.ttl); err != nil {
		logger.Warn("writing analysis cache failed", "key", key, "error", err)
	}
}
