package cmd

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribo-app/scribo/internal/config"
	"github.com/scribo-app/scribo/internal/core"
	"github.com/scribo-app/scribo/internal/logging"
	"github.com/scribo-app/scribo/internal/service"
	"github.com/scribo-app/scribo/internal/testutil"
)

func TestExecuteHelp(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"--help"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, Execute())
	for _, sub := range []string{"serve", "analyze", "init", "models", "version"} {
		assert.Contains(t, out.String(), sub)
	}
}

func TestVersionCommand(t *testing.T) {
	SetVersion("v1.2.3", "abc123def", "2024-01-15")
	t.Cleanup(func() { SetVersion("", "", "") })

	var out bytes.Buffer
	versionCmd.SetOut(&out)
	t.Cleanup(func() { versionCmd.SetOut(nil) })

	versionCmd.Run(versionCmd, nil)

	assert.Contains(t, out.String(), "scribo v1.2.3")
	assert.Contains(t, out.String(), "commit: abc123def")
	assert.Contains(t, out.String(), "built:  2024-01-15")
	assert.Equal(t, "v1.2.3", GetVersion())
}

func TestRunInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", ".scribo.yaml")
	cfgFile = path
	initForce = false
	t.Cleanup(func() {
		cfgFile = ""
		initForce = false
		initCmd.SetOut(nil)
	})

	var out bytes.Buffer
	initCmd.SetOut(&out)

	require.NoError(t, runInit(initCmd, nil))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "api_key_env: NVIDIA_API_KEY")
	assert.Contains(t, out.String(), path)

	err = runInit(initCmd, nil)
	assert.True(t, errors.Is(err, config.ErrConfigExists), "got %v", err)

	initForce = true
	assert.NoError(t, runInit(initCmd, nil))
}

func TestReadEssay(t *testing.T) {
	got, err := readEssay(nil, strings.NewReader("from stdin"))
	require.NoError(t, err)
	assert.Equal(t, "from stdin", got)

	got, err = readEssay([]string{"-"}, strings.NewReader("dash"))
	require.NoError(t, err)
	assert.Equal(t, "dash", got)

	path := filepath.Join(t.TempDir(), "essay.txt")
	require.NoError(t, os.WriteFile(path, []byte("from file"), 0o600))
	got, err = readEssay([]string{path}, nil)
	require.NoError(t, err)
	assert.Equal(t, "from file", got)

	_, err = readEssay([]string{filepath.Join(t.TempDir(), "missing.txt")}, nil)
	assert.Error(t, err)
}

func TestWriteResult(t *testing.T) {
	score := 820.0
	res := &core.DeepAnalysisResult{
		AnalysisType:     core.KindFull,
		FinalScore:       &score,
		ConsensusMetrics: core.ConsensusMetrics{ReliabilityLevel: core.ReliabilityHigh},
	}

	var buf bytes.Buffer
	require.NoError(t, writeResult(&buf, "json", res))
	assert.Contains(t, buf.String(), `"reliability_level": "high"`)

	buf.Reset()
	require.NoError(t, writeResult(&buf, "yaml", res))
	assert.Contains(t, buf.String(), "reliability_level: high")
	assert.Contains(t, buf.String(), "final_score: 820")
	assert.Contains(t, buf.String(), "analysis_type: full")

	assert.Error(t, writeResult(&buf, "xml", res))
}

func TestPrintModels(t *testing.T) {
	models := []core.ModelConfig{
		{ID: core.ModelDeepSeek14B, Name: "DeepSeek 14B", Model: "deepseek-ai/deepseek-r1-distill-qwen-14b", APIKey: "nvapi-secret"},
		{ID: core.ModelLlama49B, Model: "nvidia/llama-3.3-nemotron-super-49b-v1", Usage: core.UsageSynthesis},
	}

	var buf bytes.Buffer
	require.NoError(t, printModels(&buf, "table", models))
	table := buf.String()
	assert.Contains(t, table, "DeepSeek 14B")
	assert.Contains(t, table, "synthesis")
	assert.Contains(t, table, "grading")
	assert.Contains(t, table, "set")
	assert.Contains(t, table, "missing")
	assert.NotContains(t, table, "nvapi-secret")

	buf.Reset()
	require.NoError(t, printModels(&buf, "yaml", models))
	assert.Contains(t, buf.String(), "id: deepseek_14b")
	assert.NotContains(t, buf.String(), "nvapi-secret")

	assert.Error(t, printModels(&buf, "csv", models))
}

func TestListenAddr(t *testing.T) {
	cfg := config.ServerConfig{Host: "127.0.0.1", Port: 8080}

	assert.Equal(t, "127.0.0.1:8080", listenAddr(cfg, "", 0))
	assert.Equal(t, "0.0.0.0:8080", listenAddr(cfg, "0.0.0.0", 0))
	assert.Equal(t, "127.0.0.1:3000", listenAddr(cfg, "", 3000))
}

func TestApplyRateLimits(t *testing.T) {
	limiters := service.NewRateLimiterRegistry()

	applyRateLimits(limiters, config.RateLimitConfig{
		Deep:         config.RatePolicyConfig{MaxRequests: 3, Window: "10m"},
		EnhancedDeep: config.RatePolicyConfig{Window: "not-a-duration"},
	})

	assert.Equal(t, service.RateLimiterConfig{MaxRequests: 3, Window: 10 * time.Minute}, limiters.Get(core.PolicyDeep).Config())
	assert.Equal(t, service.RateLimiterConfig{MaxRequests: 1, Window: time.Minute}, limiters.Get(core.PolicyCorrection).Config())
	assert.Equal(t, service.RateLimiterConfig{MaxRequests: 1, Window: 5 * time.Minute}, limiters.Get(core.PolicyEnhancedDeep).Config())
}

func loadTestConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "cache:\n  backend: memory\n" +
		"usage:\n  enabled: true\n  path: " + filepath.Join(dir, "usage.db") + "\n" +
		"store:\n  path: " + filepath.Join(dir, "essays.db") + "\n" +
		"retry:\n  max_attempts: 1\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := config.NewLoader().WithConfigFile(path).Load()
	require.NoError(t, err)
	require.NoError(t, config.Validate(cfg))
	return cfg
}

func TestBuildEngine(t *testing.T) {
	cfg := loadTestConfig(t)
	client := testutil.NewMockChatClient().WithResponse("Boa argumentação.\nNOTA FINAL: 800/1000")

	eng, err := buildEngine(t.Context(), cfg, logging.NewNop(), client)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })

	assert.Equal(t, len(cfg.Models), eng.registry.Len())
	require.NotNil(t, eng.usage)

	out, err := eng.corrector.Correct(t.Context(), service.CorrectRequest{
		Content:  "Texto da redação.",
		Theme:    "Tema",
		Kind:     core.KindFull,
		CallerID: "tester",
	})
	require.NoError(t, err)
	require.NotNil(t, out.Score)
	assert.Equal(t, 800.0, *out.Score)
	assert.Equal(t, service.DefaultModelFor(core.KindFull), out.AnsweredBy)

	status, err := eng.limiters.Status(core.PolicyCorrection, "tester")
	require.NoError(t, err)
	assert.Equal(t, 1, status.RequestsMade)

	// Close flushes the asynchronous usage writes.
	require.NoError(t, eng.invoker.Close())
	stats, err := eng.usage.UsageStats(t.Context(), time.Time{})
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, 1, stats[0].Calls)

	svc := serverServices(eng, nil)
	assert.Nil(t, svc.Essays)
	assert.NotNil(t, svc.Usage)
}

func TestRunModeUnknown(t *testing.T) {
	analyzeMode = "sideways"
	t.Cleanup(func() { analyzeMode = modeDeep })

	_, err := runMode(analyzeCmd, &engine{}, "text")
	assert.ErrorContains(t, err, "unknown mode")
}

func TestReloadConfig(t *testing.T) {
	cfg := loadTestConfig(t)
	eng, err := buildEngine(t.Context(), cfg, logging.NewNop(), testutil.NewMockChatClient())
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })

	logger := logging.New(logging.Config{Level: "info", Format: "text", Output: &bytes.Buffer{}})
	next := *cfg
	next.Log.Level = "debug"
	next.RateLimit.Correction = config.RatePolicyConfig{MaxRequests: 5, Window: "30s"}

	reloadConfig(eng, logger, &next)

	assert.Equal(t, "DEBUG", logger.Level().String())
	assert.Equal(t, 5, eng.limiters.Get(core.PolicyCorrection).Config().MaxRequests)
}
