package config

// DefaultBaseURL is the OpenAI-compatible endpoint of the NVIDIA API catalog.
const DefaultBaseURL = "https://integrate.api.nvidia.com/v1"

// defaultModels is the roster used when no models are configured.
func defaultModels() []map[string]interface{} {
	return []map[string]interface{}{
		{
			"id":          "deepseek_14b",
			"name":        "DeepSeek R1 Distill Qwen 14B",
			"model":       "deepseek-ai/deepseek-r1-distill-qwen-14b",
			"usage":       "general",
			"temperature": 0.5,
			"top_p":       0.7,
			"max_tokens":  4096,
		},
		{
			"id":             "llama_253b",
			"name":           "Llama 3.1 Nemotron Ultra 253B",
			"model":          "nvidia/llama-3.1-nemotron-ultra-253b-v1",
			"usage":          "general",
			"temperature":    0.6,
			"top_p":          0.95,
			"max_tokens":     16384,
			"system_message": "detailed thinking on",
		},
		{
			"id":          "deepseek_r1",
			"name":        "DeepSeek R1 0528",
			"model":       "deepseek-ai/deepseek-r1-0528",
			"usage":       "general",
			"temperature": 0.6,
			"top_p":       0.7,
			"max_tokens":  4096,
		},
		{
			"id":          "kimi_k2",
			"name":        "Kimi K2 Instruct",
			"model":       "moonshotai/kimi-k2-instruct",
			"usage":       "general",
			"temperature": 0.6,
			"top_p":       0.9,
			"max_tokens":  16384,
		},
		{
			"id":          "qwen3_235b",
			"name":        "Qwen3 235B A22B",
			"model":       "qwen/qwen3-235b-a22b",
			"usage":       "general",
			"temperature": 0.2,
			"top_p":       0.7,
			"max_tokens":  16384,
			"extra_body": map[string]interface{}{
				"chat_template_kwargs": map[string]interface{}{"thinking": true},
			},
		},
		{
			"id":             "llama_49b",
			"name":           "Llama 3.3 Nemotron Super 49B",
			"model":          "nvidia/llama-3.3-nemotron-super-49b-v1.5",
			"usage":          "synthesis",
			"temperature":    0.6,
			"top_p":          0.95,
			"max_tokens":     65536,
			"system_message": "/think",
		},
	}
}

// DefaultConfigYAML contains the default configuration YAML content.
// It is written by `scribo init`.
const DefaultConfigYAML = `# Scribo configuration
#
# Values not specified here use built-in defaults. Every key can be
# overridden with an environment variable: SCRIBO_<SECTION>_<KEY>,
# e.g. SCRIBO_CACHE_BACKEND=redis.

log:
  level: info
  format: auto

server:
  host: 127.0.0.1
  port: 8080
  request_timeout: 10m

# Shared endpoint and credential. The key itself is read from the
# environment variable named by api_key_env.
provider:
  base_url: https://integrate.api.nvidia.com/v1
  api_key_env: NVIDIA_API_KEY

invoker:
  paragraph_timeout: 90s
  full_timeout: 120s
  synthesis_timeout: 180s
  cooldown: 5m

retry:
  max_attempts: 3
  base_delay: 1s
  max_delay: 60s
  multiplier: 2

rate_limit:
  correction:
    max_requests: 1
    window: 60s
  deep:
    max_requests: 1
    window: 120s
  enhanced_deep:
    max_requests: 1
    window: 300s

# backend: memory | sqlite | redis
cache:
  backend: sqlite
  path: .scribo/cache.db
  redis:
    addr: localhost:6379
    db: 0
  correction_ttl: 24h
  analysis_ttl: 2h

consensus:
  min_models: 2
  outlier_threshold: 2.0
  very_high: 90
  high: 75
  medium: 60
  low: 40

deep_analysis:
  max_concurrent_models: 4
  model_timeout: 90s

enhanced:
  roster: [kimi_k2, qwen3_235b, deepseek_r1]
  synthesis_model: llama_49b
  phase1_timeout: 120s
  phase2_timeout: 180s
  min_successful_models: 1
  low_confidence_below: 2

usage:
  enabled: true
  path: .scribo/usage.db

store:
  path: .scribo/essays.db
`
