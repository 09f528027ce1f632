package config

import (
	"os"
	"time"

	"github.com/scribo-app/scribo/internal/core"
)

// Config holds all application configuration.
type Config struct {
	Log          LogConfig          `mapstructure:"log"`
	Server       ServerConfig       `mapstructure:"server"`
	Provider     ProviderConfig     `mapstructure:"provider"`
	Models       []ModelConfig      `mapstructure:"models"`
	Invoker      InvokerConfig      `mapstructure:"invoker"`
	Retry        RetryConfig        `mapstructure:"retry"`
	RateLimit    RateLimitConfig    `mapstructure:"rate_limit"`
	Cache        CacheConfig        `mapstructure:"cache"`
	Consensus    ConsensusConfig    `mapstructure:"consensus"`
	DeepAnalysis DeepAnalysisConfig `mapstructure:"deep_analysis"`
	Enhanced     EnhancedConfig     `mapstructure:"enhanced"`
	Usage        UsageConfig        `mapstructure:"usage"`
	Store        StoreConfig        `mapstructure:"store"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	RequestTimeout string   `mapstructure:"request_timeout"`
	CORSOrigins    []string `mapstructure:"cors_origins"`
}

// ProviderConfig holds the defaults shared by every model backend.
type ProviderConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	APIKeyEnv string `mapstructure:"api_key_env"`
	APIKey    string `mapstructure:"api_key"`
}

// ModelConfig configures a single model backend.
type ModelConfig struct {
	ID            string                 `mapstructure:"id"`
	Name          string                 `mapstructure:"name"`
	Model         string                 `mapstructure:"model"`
	BaseURL       string                 `mapstructure:"base_url"`
	APIKeyEnv     string                 `mapstructure:"api_key_env"`
	Usage         string                 `mapstructure:"usage"`
	Temperature   float64                `mapstructure:"temperature"`
	TopP          float64                `mapstructure:"top_p"`
	MaxTokens     int                    `mapstructure:"max_tokens"`
	SystemMessage string                 `mapstructure:"system_message"`
	ExtraBody     map[string]interface{} `mapstructure:"extra_body"`
}

// InvokerConfig configures per-kind call timeouts and the failure cooldown.
type InvokerConfig struct {
	ParagraphTimeout string `mapstructure:"paragraph_timeout"`
	FullTimeout      string `mapstructure:"full_timeout"`
	SynthesisTimeout string `mapstructure:"synthesis_timeout"`
	Cooldown         string `mapstructure:"cooldown"`
}

// RetryConfig configures per-model retries of the correction service.
type RetryConfig struct {
	MaxAttempts int     `mapstructure:"max_attempts"`
	BaseDelay   string  `mapstructure:"base_delay"`
	MaxDelay    string  `mapstructure:"max_delay"`
	Multiplier  float64 `mapstructure:"multiplier"`
	Jitter      float64 `mapstructure:"jitter"`
}

// RatePolicyConfig is one sliding-window policy.
type RatePolicyConfig struct {
	MaxRequests int    `mapstructure:"max_requests"`
	Window      string `mapstructure:"window"`
}

// RateLimitConfig configures the per-caller policies.
type RateLimitConfig struct {
	Correction   RatePolicyConfig `mapstructure:"correction"`
	Deep         RatePolicyConfig `mapstructure:"deep"`
	EnhancedDeep RatePolicyConfig `mapstructure:"enhanced_deep"`
}

// RedisConfig configures the redis cache backend.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// CacheConfig configures result caching.
type CacheConfig struct {
	Backend       string      `mapstructure:"backend"` // memory, sqlite, redis
	Path          string      `mapstructure:"path"`
	Redis         RedisConfig `mapstructure:"redis"`
	CorrectionTTL string      `mapstructure:"correction_ttl"`
	AnalysisTTL   string      `mapstructure:"analysis_ttl"`
}

// ConsensusConfig configures the statistical consensus engine.
type ConsensusConfig struct {
	MinModels        int     `mapstructure:"min_models"`
	OutlierThreshold float64 `mapstructure:"outlier_threshold"`
	VeryHigh         float64 `mapstructure:"very_high"`
	High             float64 `mapstructure:"high"`
	Medium           float64 `mapstructure:"medium"`
	Low              float64 `mapstructure:"low"`
}

// DeepAnalysisConfig configures the single-phase orchestrator.
type DeepAnalysisConfig struct {
	MaxConcurrentModels int    `mapstructure:"max_concurrent_models"`
	ModelTimeout        string `mapstructure:"model_timeout"`
}

// EnhancedConfig configures the two-phase orchestrator.
type EnhancedConfig struct {
	Roster              []string `mapstructure:"roster"`
	SynthesisModel      string   `mapstructure:"synthesis_model"`
	Phase1Timeout       string   `mapstructure:"phase1_timeout"`
	Phase2Timeout       string   `mapstructure:"phase2_timeout"`
	MinSuccessfulModels int      `mapstructure:"min_successful_models"`
	LowConfidenceBelow  int      `mapstructure:"low_confidence_below"`
}

// UsageConfig configures the model call usage log.
type UsageConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// StoreConfig configures the essay store used by the API write-back endpoints.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// ModelConfigs resolves the configured roster into domain configs, filling
// the endpoint and credential from the provider defaults.
func (c *Config) ModelConfigs() []core.ModelConfig {
	out := make([]core.ModelConfig, 0, len(c.Models))
	for _, m := range c.Models {
		baseURL := m.BaseURL
		if baseURL == "" {
			baseURL = c.Provider.BaseURL
		}
		out = append(out, core.ModelConfig{
			ID:            m.ID,
			Name:          m.Name,
			Model:         m.Model,
			BaseURL:       baseURL,
			APIKey:        c.apiKeyFor(m),
			Usage:         m.Usage,
			Temperature:   m.Temperature,
			TopP:          m.TopP,
			MaxTokens:     m.MaxTokens,
			SystemMessage: m.SystemMessage,
			Extra:         m.ExtraBody,
		})
	}
	return out
}

func (c *Config) apiKeyFor(m ModelConfig) string {
	if m.APIKeyEnv != "" {
		if key := os.Getenv(m.APIKeyEnv); key != "" {
			return key
		}
	}
	if c.Provider.APIKeyEnv != "" {
		if key := os.Getenv(c.Provider.APIKeyEnv); key != "" {
			return key
		}
	}
	return c.Provider.APIKey
}

// Duration parses a duration field, returning fallback for empty or invalid input.
// Invalid input is rejected earlier by the validator.
func Duration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
