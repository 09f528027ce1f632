package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
	watchOnce  sync.Once
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v:         viper.New(),
		envPrefix: "SCRIBO",
	}
}

// NewLoaderWithViper creates a loader using an existing viper instance.
// This allows integration with CLI flag bindings.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{
		v:         v,
		envPrefix: "SCRIBO",
	}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// WithEnvPrefix sets the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// Viper returns the underlying viper instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load loads configuration from all sources.
// Precedence (highest to lowest):
// 1. CLI flags (set via viper.BindPFlag)
// 2. Environment variables (SCRIBO_*)
// 3. Project config (.scribo.yaml in current directory)
// 4. User config (~/.config/scribo/config.yaml)
// 5. Defaults
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName(".scribo")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			l.v.AddConfigPath(filepath.Join(home, ".config", "scribo"))
		}
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	return l.unmarshal()
}

func (l *Loader) unmarshal() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}

// Watch re-reads the config file whenever it changes on disk and hands every
// successfully parsed and validated result to onChange. Invalid edits are
// reported to onError and otherwise ignored. Watch is a no-op when no config
// file was found.
func (l *Loader) Watch(onChange func(*Config), onError func(error)) {
	if l.v.ConfigFileUsed() == "" {
		return
	}
	l.watchOnce.Do(func() {
		l.v.OnConfigChange(func(e fsnotify.Event) {
			if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
				return
			}
			cfg, err := l.unmarshal()
			if err == nil {
				err = NewValidator().Validate(cfg)
			}
			if err != nil {
				if onError != nil {
					onError(fmt.Errorf("reloading %s: %w", e.Name, err))
				}
				return
			}
			onChange(cfg)
		})
		l.v.WatchConfig()
	})
}

// setDefaults configures default values.
func (l *Loader) setDefaults() {
	// Log defaults
	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "auto")

	// Server defaults
	l.v.SetDefault("server.host", "127.0.0.1")
	l.v.SetDefault("server.port", 8080)
	l.v.SetDefault("server.request_timeout", "10m")
	l.v.SetDefault("server.cors_origins", []string{"*"})

	// Provider defaults
	l.v.SetDefault("provider.base_url", DefaultBaseURL)
	l.v.SetDefault("provider.api_key_env", "NVIDIA_API_KEY")
	l.v.SetDefault("models", defaultModels())

	// Invoker defaults
	l.v.SetDefault("invoker.paragraph_timeout", "90s")
	l.v.SetDefault("invoker.full_timeout", "120s")
	l.v.SetDefault("invoker.synthesis_timeout", "180s")
	l.v.SetDefault("invoker.cooldown", "5m")

	// Retry defaults
	l.v.SetDefault("retry.max_attempts", 3)
	l.v.SetDefault("retry.base_delay", "1s")
	l.v.SetDefault("retry.max_delay", "60s")
	l.v.SetDefault("retry.multiplier", 2.0)
	l.v.SetDefault("retry.jitter", 0.0)

	// Rate limit defaults (one request per window per caller)
	l.v.SetDefault("rate_limit.correction.max_requests", 1)
	l.v.SetDefault("rate_limit.correction.window", "60s")
	l.v.SetDefault("rate_limit.deep.max_requests", 1)
	l.v.SetDefault("rate_limit.deep.window", "120s")
	l.v.SetDefault("rate_limit.enhanced_deep.max_requests", 1)
	l.v.SetDefault("rate_limit.enhanced_deep.window", "300s")

	// Cache defaults
	l.v.SetDefault("cache.backend", "sqlite")
	l.v.SetDefault("cache.path", ".scribo/cache.db")
	l.v.SetDefault("cache.redis.addr", "localhost:6379")
	l.v.SetDefault("cache.redis.db", 0)
	l.v.SetDefault("cache.correction_ttl", "24h")
	l.v.SetDefault("cache.analysis_ttl", "2h")

	// Consensus defaults (agreement cut points in percent)
	l.v.SetDefault("consensus.min_models", 2)
	l.v.SetDefault("consensus.outlier_threshold", 2.0)
	l.v.SetDefault("consensus.very_high", 90.0)
	l.v.SetDefault("consensus.high", 75.0)
	l.v.SetDefault("consensus.medium", 60.0)
	l.v.SetDefault("consensus.low", 40.0)

	// Orchestrator defaults
	l.v.SetDefault("deep_analysis.max_concurrent_models", 4)
	l.v.SetDefault("deep_analysis.model_timeout", "90s")
	l.v.SetDefault("enhanced.roster", []string{"kimi_k2", "qwen3_235b", "deepseek_r1"})
	l.v.SetDefault("enhanced.synthesis_model", "llama_49b")
	l.v.SetDefault("enhanced.phase1_timeout", "120s")
	l.v.SetDefault("enhanced.phase2_timeout", "180s")
	l.v.SetDefault("enhanced.min_successful_models", 1)
	l.v.SetDefault("enhanced.low_confidence_below", 2)

	// Persistence defaults
	l.v.SetDefault("usage.enabled", true)
	l.v.SetDefault("usage.path", ".scribo/usage.db")
	l.v.SetDefault("store.path", ".scribo/essays.db")
}

// ConfigFile returns the config file path if one was used.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}
