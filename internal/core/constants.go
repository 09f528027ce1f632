// Package core provides the domain types, ports and errors shared by the
// grading services. It has no dependencies on adapters or transport.
package core

// Model identifiers of the default NVIDIA-hosted roster.
const (
	ModelDeepSeek14B  = "deepseek_14b"
	ModelLlama253B    = "llama_253b"
	ModelDeepSeekR1   = "deepseek_r1"
	ModelKimiK2       = "kimi_k2"
	ModelQwen3235B    = "qwen3_235b"
	ModelLlama49B     = "llama_49b"
	DefaultModelID    = ModelDeepSeek14B
	SynthesisModelID  = ModelLlama49B
	DefaultExamType   = "ENEM"
	DefaultMaxScore   = 1000
	defaultUnknownKey = "unknown"
)

// EnhancedRoster is the fixed Phase 1 roster of the two-phase analysis.
var EnhancedRoster = []string{
	ModelKimiK2,
	ModelQwen3235B,
	ModelDeepSeekR1,
}

// Model usage tags. A model tagged for synthesis is excluded from fan-out
// candidate selection.
const (
	UsageGeneral   = "general"
	UsageSynthesis = "synthesis"
)

// Rate limit policy names.
const (
	PolicyCorrection   = "correction"
	PolicyDeep         = "deep"
	PolicyEnhancedDeep = "enhanced_deep"
)

// PolicyKey derives the limiter key of a caller under a policy. Correction
// requests are keyed by the bare caller id; orchestrators prefix it so their
// windows never collide with single-model corrections.
func PolicyKey(policy, callerID string) string {
	if callerID == "" {
		callerID = defaultUnknownKey
	}
	switch policy {
	case PolicyDeep:
		return "deep_" + callerID
	case PolicyEnhancedDeep:
		return "enhanced_deep_" + callerID
	default:
		return callerID
	}
}
