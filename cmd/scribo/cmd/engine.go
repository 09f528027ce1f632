package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/scribo-app/scribo/internal/adapters/cache"
	"github.com/scribo-app/scribo/internal/adapters/llm"
	"github.com/scribo-app/scribo/internal/adapters/usage"
	"github.com/scribo-app/scribo/internal/config"
	"github.com/scribo-app/scribo/internal/core"
	"github.com/scribo-app/scribo/internal/logging"
	"github.com/scribo-app/scribo/internal/service"
)

// engine holds the wired grading services built from one configuration.
type engine struct {
	registry  *service.ModelRegistry
	invoker   *service.Invoker
	corrector *service.Corrector
	deep      *service.DeepAnalyzer
	enhanced  *service.EnhancedAnalyzer
	limiters  *service.RateLimiterRegistry
	metrics   *service.Metrics
	cache     core.Cache
	usage     *usage.SQLiteLog // nil when usage logging is disabled
}

// buildEngine wires every service from cfg. client overrides the provider
// client when non-nil.
func buildEngine(ctx context.Context, cfg *config.Config, logger *logging.Logger, client core.ChatClient) (*engine, error) {
	registry, err := service.NewModelRegistry(cfg.ModelConfigs())
	if err != nil {
		return nil, fmt.Errorf("building model registry: %w", err)
	}

	if client == nil {
		client = llm.NewClient(llm.WithUserAgent("scribo/" + appVersion))
	}

	e := &engine{
		registry: registry,
		metrics:  service.NewMetrics(),
		limiters: service.NewRateLimiterRegistry(),
	}
	applyRateLimits(e.limiters, cfg.RateLimit)

	invokerOpts := []service.InvokerOption{
		service.WithInvokerMetrics(e.metrics),
		service.WithKindTimeout(core.KindParagraph, config.Duration(cfg.Invoker.ParagraphTimeout, 90*time.Second)),
		service.WithKindTimeout(core.KindFull, config.Duration(cfg.Invoker.FullTimeout, 120*time.Second)),
		service.WithKindTimeout(core.KindSynthesis, config.Duration(cfg.Invoker.SynthesisTimeout, 180*time.Second)),
		service.WithCooldown(config.Duration(cfg.Invoker.Cooldown, 5*time.Minute)),
	}
	if cfg.Usage.Enabled {
		e.usage, err = usage.NewSQLiteLog(cfg.Usage.Path)
		if err != nil {
			return nil, fmt.Errorf("opening usage log: %w", err)
		}
		invokerOpts = append(invokerOpts, service.WithUsageLogger(e.usage))
	}
	e.invoker = service.NewInvoker(registry, client, logger, invokerOpts...)

	e.cache, err = cache.New(ctx, cache.Options{
		Backend: cfg.Cache.Backend,
		Path:    cfg.Cache.Path,
		Redis: cache.RedisConfig{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
		},
	})
	if err != nil {
		_ = e.Close()
		return nil, fmt.Errorf("opening cache: %w", err)
	}

	renderer, err := service.NewPromptRenderer()
	if err != nil {
		_ = e.Close()
		return nil, fmt.Errorf("loading prompt templates: %w", err)
	}

	retry := service.NewRetryPolicy(
		service.WithMaxAttempts(cfg.Retry.MaxAttempts),
		service.WithBaseDelay(config.Duration(cfg.Retry.BaseDelay, time.Second)),
		service.WithMaxDelay(config.Duration(cfg.Retry.MaxDelay, time.Minute)),
		service.WithMultiplier(cfg.Retry.Multiplier),
		service.WithJitter(cfg.Retry.Jitter),
	)
	analysisTTL := config.Duration(cfg.Cache.AnalysisTTL, service.DefaultAnalysisTTL)

	e.corrector = service.NewCorrector(e.invoker, registry, logger,
		service.WithCorrectionCache(e.cache, config.Duration(cfg.Cache.CorrectionTTL, 24*time.Hour)),
		service.WithRetryPolicy(retry),
		service.WithRateLimiters(e.limiters),
		service.WithPromptRenderer(renderer),
		service.WithCorrectorMetrics(e.metrics),
	)

	e.deep = service.NewDeepAnalyzer(e.corrector, registry, logger,
		service.WithDeepCache(e.cache, analysisTTL),
		service.WithDeepRateLimiters(e.limiters),
		service.WithMaxModels(cfg.DeepAnalysis.MaxConcurrentModels),
		service.WithModelTimeout(config.Duration(cfg.DeepAnalysis.ModelTimeout, 90*time.Second)),
		service.WithConsensusEngine(service.NewConsensusEngine(service.ConsensusConfig{
			MinModels:        cfg.Consensus.MinModels,
			OutlierThreshold: cfg.Consensus.OutlierThreshold,
			VeryHigh:         cfg.Consensus.VeryHigh,
			High:             cfg.Consensus.High,
			Medium:           cfg.Consensus.Medium,
			Low:              cfg.Consensus.Low,
		})),
		service.WithDeepMetrics(e.metrics),
	)

	e.enhanced = service.NewEnhancedAnalyzer(enhancedConfig(cfg.Enhanced), e.corrector, e.invoker, logger,
		service.WithEnhancedCache(e.cache, analysisTTL),
		service.WithEnhancedRateLimiters(e.limiters),
		service.WithSynthesisRenderer(renderer),
		service.WithSynthesisRetry(retry),
		service.WithEnhancedMetrics(e.metrics),
	)

	return e, nil
}

func enhancedConfig(c config.EnhancedConfig) service.EnhancedConfig {
	out := service.DefaultEnhancedConfig()
	if len(c.Roster) > 0 {
		out.Roster = append([]string(nil), c.Roster...)
	}
	if c.SynthesisModel != "" {
		out.SynthesisModel = c.SynthesisModel
	}
	out.Phase1Timeout = config.Duration(c.Phase1Timeout, out.Phase1Timeout)
	out.Phase2Timeout = config.Duration(c.Phase2Timeout, out.Phase2Timeout)
	if c.MinSuccessfulModels > 0 {
		out.MinSuccessfulModels = c.MinSuccessfulModels
	}
	if c.LowConfidenceBelow > 0 {
		out.LowConfidenceBelow = c.LowConfidenceBelow
	}
	return out
}

// applyRateLimits installs the configured policies. Used at startup and on
// config reload.
func applyRateLimits(r *service.RateLimiterRegistry, c config.RateLimitConfig) {
	policies := map[string]config.RatePolicyConfig{
		core.PolicyCorrection:   c.Correction,
		core.PolicyDeep:         c.Deep,
		core.PolicyEnhancedDeep: c.EnhancedDeep,
	}
	for name, p := range policies {
		current := r.Get(name).Config()
		next := service.RateLimiterConfig{
			MaxRequests: p.MaxRequests,
			Window:      config.Duration(p.Window, current.Window),
		}
		if next.MaxRequests <= 0 {
			next.MaxRequests = current.MaxRequests
		}
		r.SetConfig(name, next)
	}
}

// Close stops cooldown timers and releases storage.
func (e *engine) Close() error {
	var errs []error
	if e.invoker != nil {
		errs = append(errs, e.invoker.Close())
	}
	if e.cache != nil {
		errs = append(errs, e.cache.Close())
	}
	if e.usage != nil {
		errs = append(errs, e.usage.Close())
	}
	return errors.Join(errs...)
}
