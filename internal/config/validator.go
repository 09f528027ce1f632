package config

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation: %s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

// Validate validates the entire configuration.
func (v *Validator) Validate(cfg *Config) error {
	v.validateLog(&cfg.Log)
	v.validateServer(&cfg.Server)
	ids := v.validateModels(cfg)
	v.validateInvoker(&cfg.Invoker)
	v.validateRetry(&cfg.Retry)
	v.validatePolicy("rate_limit.correction", cfg.RateLimit.Correction)
	v.validatePolicy("rate_limit.deep", cfg.RateLimit.Deep)
	v.validatePolicy("rate_limit.enhanced_deep", cfg.RateLimit.EnhancedDeep)
	v.validateCache(&cfg.Cache)
	v.validateConsensus(&cfg.Consensus)
	v.validateDeepAnalysis(&cfg.DeepAnalysis)
	v.validateEnhanced(&cfg.Enhanced, ids)

	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

// Errors returns the collected validation errors.
func (v *Validator) Errors() ValidationErrors {
	return v.errors
}

func (v *Validator) addError(field string, value interface{}, msg string) {
	v.errors = append(v.errors, ValidationError{
		Field:   field,
		Value:   value,
		Message: msg,
	})
}

func (v *Validator) validateLog(cfg *LogConfig) {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[cfg.Level] {
		v.addError("log.level", cfg.Level, "must be one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{
		"auto": true, "text": true, "json": true,
	}
	if !validFormats[cfg.Format] {
		v.addError("log.format", cfg.Format, "must be one of: auto, text, json")
	}
}

func (v *Validator) validateServer(cfg *ServerConfig) {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		v.addError("server.port", cfg.Port, "must be between 1 and 65535")
	}
	v.validateDuration("server.request_timeout", cfg.RequestTimeout)
}

func (v *Validator) validateModels(cfg *Config) map[string]bool {
	ids := make(map[string]bool, len(cfg.Models))
	if len(cfg.Models) == 0 {
		v.addError("models", len(cfg.Models), "at least one model is required")
		return ids
	}

	for i, m := range cfg.Models {
		field := fmt.Sprintf("models[%d]", i)
		if m.ID == "" {
			v.addError(field+".id", m.ID, "id required")
			continue
		}
		if ids[m.ID] {
			v.addError(field+".id", m.ID, "duplicate model id")
		}
		ids[m.ID] = true

		if m.Model == "" {
			v.addError(field+".model", m.Model, "model name required")
		}
		if m.BaseURL == "" && cfg.Provider.BaseURL == "" {
			v.addError(field+".base_url", m.BaseURL, "base url required when provider.base_url is empty")
		}
		if m.Temperature < 0 || m.Temperature > 2 {
			v.addError(field+".temperature", m.Temperature, "must be between 0 and 2")
		}
		if m.TopP < 0 || m.TopP > 1 {
			v.addError(field+".top_p", m.TopP, "must be between 0 and 1")
		}
		if m.MaxTokens <= 0 {
			v.addError(field+".max_tokens", m.MaxTokens, "must be positive")
		}
		if m.Usage != "" && m.Usage != "general" && m.Usage != "synthesis" {
			v.addError(field+".usage", m.Usage, "must be one of: general, synthesis")
		}
	}
	return ids
}

func (v *Validator) validateInvoker(cfg *InvokerConfig) {
	v.validateDuration("invoker.paragraph_timeout", cfg.ParagraphTimeout)
	v.validateDuration("invoker.full_timeout", cfg.FullTimeout)
	v.validateDuration("invoker.synthesis_timeout", cfg.SynthesisTimeout)
	v.validateDuration("invoker.cooldown", cfg.Cooldown)
}

func (v *Validator) validateRetry(cfg *RetryConfig) {
	if cfg.MaxAttempts < 1 || cfg.MaxAttempts > 10 {
		v.addError("retry.max_attempts", cfg.MaxAttempts, "must be between 1 and 10")
	}
	v.validateDuration("retry.base_delay", cfg.BaseDelay)
	v.validateDuration("retry.max_delay", cfg.MaxDelay)
	if cfg.Multiplier < 1 {
		v.addError("retry.multiplier", cfg.Multiplier, "must be >= 1")
	}
	if cfg.Jitter < 0 || cfg.Jitter > 1 {
		v.addError("retry.jitter", cfg.Jitter, "must be between 0 and 1")
	}
}

func (v *Validator) validatePolicy(field string, cfg RatePolicyConfig) {
	if cfg.MaxRequests <= 0 {
		v.addError(field+".max_requests", cfg.MaxRequests, "must be positive")
	}
	v.validateDuration(field+".window", cfg.Window)
}

func (v *Validator) validateCache(cfg *CacheConfig) {
	switch cfg.Backend {
	case "memory":
	case "sqlite":
		if cfg.Path == "" {
			v.addError("cache.path", cfg.Path, "path required for sqlite backend")
		}
	case "redis":
		if cfg.Redis.Addr == "" {
			v.addError("cache.redis.addr", cfg.Redis.Addr, "address required for redis backend")
		}
	default:
		v.addError("cache.backend", cfg.Backend, "must be one of: memory, sqlite, redis")
	}
	v.validateDuration("cache.correction_ttl", cfg.CorrectionTTL)
	v.validateDuration("cache.analysis_ttl", cfg.AnalysisTTL)
}

func (v *Validator) validateConsensus(cfg *ConsensusConfig) {
	if cfg.MinModels < 2 {
		v.addError("consensus.min_models", cfg.MinModels, "must be at least 2")
	}
	if cfg.OutlierThreshold <= 0 {
		v.addError("consensus.outlier_threshold", cfg.OutlierThreshold, "must be positive")
	}
	if !(cfg.VeryHigh > cfg.High && cfg.High > cfg.Medium && cfg.Medium > cfg.Low && cfg.Low >= 0) {
		v.addError("consensus", []float64{cfg.VeryHigh, cfg.High, cfg.Medium, cfg.Low},
			"cut points must be strictly decreasing: very_high > high > medium > low >= 0")
	}
	if cfg.VeryHigh > 100 {
		v.addError("consensus.very_high", cfg.VeryHigh, "must be <= 100")
	}
}

func (v *Validator) validateDeepAnalysis(cfg *DeepAnalysisConfig) {
	if cfg.MaxConcurrentModels < 1 {
		v.addError("deep_analysis.max_concurrent_models", cfg.MaxConcurrentModels, "must be positive")
	}
	v.validateDuration("deep_analysis.model_timeout", cfg.ModelTimeout)
}

func (v *Validator) validateEnhanced(cfg *EnhancedConfig, ids map[string]bool) {
	if len(cfg.Roster) == 0 {
		v.addError("enhanced.roster", cfg.Roster, "at least one model is required")
	}
	for _, id := range cfg.Roster {
		if len(ids) > 0 && !ids[id] {
			v.addError("enhanced.roster", id, "unknown model id")
		}
	}
	if cfg.SynthesisModel == "" {
		v.addError("enhanced.synthesis_model", cfg.SynthesisModel, "synthesis model required")
	} else if len(ids) > 0 && !ids[cfg.SynthesisModel] {
		v.addError("enhanced.synthesis_model", cfg.SynthesisModel, "unknown model id")
	}
	v.validateDuration("enhanced.phase1_timeout", cfg.Phase1Timeout)
	v.validateDuration("enhanced.phase2_timeout", cfg.Phase2Timeout)
	if cfg.MinSuccessfulModels < 1 {
		v.addError("enhanced.min_successful_models", cfg.MinSuccessfulModels, "must be at least 1")
	}
	if cfg.LowConfidenceBelow < cfg.MinSuccessfulModels {
		v.addError("enhanced.low_confidence_below", cfg.LowConfidenceBelow, "must be >= enhanced.min_successful_models")
	}
}

func (v *Validator) validateDuration(field, value string) {
	d, err := time.ParseDuration(value)
	if err != nil {
		v.addError(field, value, "invalid duration format")
		return
	}
	if d <= 0 {
		v.addError(field, value, "must be positive")
	}
}

// Validate is a convenience function to validate a config.
func Validate(cfg *Config) error {
	return NewValidator().Validate(cfg)
}
