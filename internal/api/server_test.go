package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribo-app/scribo/internal/adapters/essays"
	"github.com/scribo-app/scribo/internal/core"
	"github.com/scribo-app/scribo/internal/diagnostics"
	"github.com/scribo-app/scribo/internal/service"
)

type fakeCorrector struct {
	got service.CorrectRequest
	out *core.Correction
	err error
}

func (f *fakeCorrector) Correct(_ context.Context, req service.CorrectRequest) (*core.Correction, error) {
	f.got = req
	return f.out, f.err
}

type fakeDeep struct {
	got     service.AnalysisRequest
	out     *core.DeepAnalysisResult
	compare *core.AnalysisComparison
	health  core.DeepAnalysisHealth
	err     error
}

func (f *fakeDeep) Analyze(_ context.Context, req service.AnalysisRequest) (*core.DeepAnalysisResult, error) {
	f.got = req
	return f.out, f.err
}

func (f *fakeDeep) Compare(_ context.Context, req service.AnalysisRequest) (*core.AnalysisComparison, error) {
	f.got = req
	return f.compare, f.err
}

func (f *fakeDeep) Health() core.DeepAnalysisHealth { return f.health }

type fakeEnhanced struct {
	got service.AnalysisRequest
	out *core.EnhancedDeepAnalysisResult
	err error
}

func (f *fakeEnhanced) Analyze(_ context.Context, req service.AnalysisRequest) (*core.EnhancedDeepAnalysisResult, error) {
	f.got = req
	return f.out, f.err
}

type fakeHealth struct {
	status string
}

func (f fakeHealth) Health(_ context.Context, cache core.Cache) core.ServiceHealth {
	return core.ServiceHealth{Status: f.status, CacheConnected: cache != nil, Timestamp: time.Now()}
}

type fakeUsage struct {
	since time.Time
	stats []core.UsageStat
}

func (f *fakeUsage) UsageStats(_ context.Context, since time.Time) ([]core.UsageStat, error) {
	f.since = since
	return f.stats, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func score(v float64) *float64 { return &v }

func newTestServer(t *testing.T, svc Services, opts ...ServerOption) *Server {
	t.Helper()
	return NewServer(svc, append([]ServerOption{WithLogger(quietLogger())}, opts...)...)
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}, caller string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if caller != "" {
		req.Header.Set(CallerHeader, caller)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestServer_Health(t *testing.T) {
	srv := newTestServer(t, Services{})
	w := doJSON(t, srv.Handler(), http.MethodGet, "/health", nil, "")

	assert.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestServer_Correction(t *testing.T) {
	corrector := &fakeCorrector{out: &core.Correction{
		ModelID:    core.ModelDeepSeek14B,
		AnsweredBy: core.ModelDeepSeek14B,
		Kind:       core.KindParagraph,
		Feedback:   "Nota: 700",
		Score:      score(700),
		Status:     core.StatusOK,
	}}
	srv := newTestServer(t, Services{Corrector: corrector})

	w := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/corrections", AnalysisRequest{
		Content:      "Um parágrafo.",
		Theme:        "Tema",
		AnalysisType: core.KindParagraph,
		Model:        core.ModelDeepSeek14B,
	}, "user-1")

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "user-1", corrector.got.CallerID)
	assert.Equal(t, core.KindParagraph, corrector.got.Kind)
	assert.Equal(t, core.ModelDeepSeek14B, corrector.got.ModelID)

	var out core.Correction
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.NotNil(t, out.Score)
	assert.Equal(t, 700.0, *out.Score)
}

func TestServer_Correction_DefaultsToFullEssay(t *testing.T) {
	corrector := &fakeCorrector{out: &core.Correction{}}
	srv := newTestServer(t, Services{Corrector: corrector})

	w := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/corrections", AnalysisRequest{Content: "c", Theme: "t"}, "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, core.KindFull, corrector.got.Kind)
}

func TestServer_Correction_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"validation", core.ErrValidation(core.CodeEmptyContent, "content is empty"), http.StatusUnprocessableEntity, core.CodeEmptyContent},
		{"rate limited", core.ErrRateLimit(30 * time.Second), http.StatusTooManyRequests, core.CodeRateLimited},
		{"unknown model", core.ErrModelUnknown("x"), http.StatusNotFound, core.CodeModelUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, Services{Corrector: &fakeCorrector{err: tt.err}})
			w := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/corrections", AnalysisRequest{Content: "c", Theme: "t"}, "u")

			assert.Equal(t, tt.wantStatus, w.Code)
			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.wantCode, body["code"])
		})
	}
}

func TestServer_Correction_RateLimitedSetsRetryAfter(t *testing.T) {
	srv := newTestServer(t, Services{Corrector: &fakeCorrector{err: core.ErrRateLimit(45 * time.Second)}})
	w := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/corrections", AnalysisRequest{Content: "c", Theme: "t"}, "u")

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "45", w.Header().Get("Retry-After"))
}

func TestServer_MalformedBody(t *testing.T) {
	srv := newTestServer(t, Services{Corrector: &fakeCorrector{}, Deep: &fakeDeep{}, Enhanced: &fakeEnhanced{}})

	for _, path := range []string{
		"/api/v1/corrections",
		"/api/v1/deep-analysis",
		"/api/v1/deep-analysis/compare",
		"/api/v1/enhanced-deep-analysis",
	} {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader("{not json"))
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
	}
}

func TestServer_UnconfiguredServices(t *testing.T) {
	srv := newTestServer(t, Services{})

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/v1/corrections"},
		{http.MethodPost, "/api/v1/deep-analysis"},
		{http.MethodGet, "/api/v1/deep-analysis/health"},
		{http.MethodPost, "/api/v1/enhanced-deep-analysis"},
		{http.MethodPost, "/api/v1/essays/e1/deep-analysis"},
		{http.MethodGet, "/api/v1/health"},
		{http.MethodGet, "/api/v1/rate-limit/correction/u"},
		{http.MethodGet, "/api/v1/usage"},
	}
	for _, tt := range tests {
		w := doJSON(t, srv.Handler(), tt.method, tt.path, AnalysisRequest{}, "")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, tt.path)
	}
}

func TestServer_DeepAnalysis(t *testing.T) {
	deep := &fakeDeep{out: &core.DeepAnalysisResult{
		AnalysisType:     core.KindFull,
		FinalScore:       score(820),
		ConsensusMetrics: core.ConsensusMetrics{ReliabilityLevel: core.ReliabilityHigh},
	}}
	srv := newTestServer(t, Services{Deep: deep})

	w := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/deep-analysis", AnalysisRequest{
		Content:      "Redação",
		Theme:        "Tema",
		ThemeContext: core.ThemeContext{ExamType: "FUVEST"},
	}, "user-2")

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "user-2", deep.got.CallerID)
	assert.Equal(t, "FUVEST", deep.got.ThemeContext.ExamType)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 820.0, body["final_score"])
	metrics := body["consensus_metrics"].(map[string]interface{})
	assert.Equal(t, "high", metrics["reliability_level"])
}

func TestServer_DeepAnalysis_AllModelsFailed(t *testing.T) {
	srv := newTestServer(t, Services{Deep: &fakeDeep{err: core.ErrAnalysisFailed("no model produced a result")}})
	w := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/deep-analysis", AnalysisRequest{Content: "c", Theme: "t"}, "u")

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestServer_Compare(t *testing.T) {
	deep := &fakeDeep{compare: &core.AnalysisComparison{
		Summary: core.ComparisonSummary{ModelsUsed: 2, ModelsAttempted: 3},
		IndividualResults: []core.ComparisonRow{
			{ModelID: "a", Success: true, Score: score(800)},
			{ModelID: "b", Success: true, Score: score(760)},
			{ModelID: "c", Error: "timeout"},
		},
	}}
	srv := newTestServer(t, Services{Deep: deep})

	w := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/deep-analysis/compare", AnalysisRequest{Content: "c", Theme: "t"}, "u")

	require.Equal(t, http.StatusOK, w.Code)
	var out core.AnalysisComparison
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Len(t, out.IndividualResults, 3)
	assert.Equal(t, 2, out.Summary.ModelsUsed)
}

func TestServer_DeepHealth(t *testing.T) {
	deep := &fakeDeep{health: core.DeepAnalysisHealth{Status: "partial", AvailableModels: 2, TotalModels: 3, ConsensusCapable: true}}
	srv := newTestServer(t, Services{Deep: deep})

	w := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/deep-analysis/health", nil, "")

	require.Equal(t, http.StatusOK, w.Code)
	var out core.DeepAnalysisHealth
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, "partial", out.Status)
	assert.True(t, out.ConsensusCapable)
	assert.False(t, out.HighReliabilityCapable)
}

func TestServer_EnhancedAnalysis(t *testing.T) {
	enhanced := &fakeEnhanced{out: &core.EnhancedDeepAnalysisResult{
		ExamType: "ENEM",
		Phase2:   core.Phase2Result{ConsolidatedFeedback: "consolidado", FinalScore: score(880), Success: true},
	}}
	srv := newTestServer(t, Services{Enhanced: enhanced})

	w := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/enhanced-deep-analysis", AnalysisRequest{Content: "c", Theme: "t"}, "u")

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	phase2 := body["phase2_result"].(map[string]interface{})
	assert.Equal(t, 880.0, phase2["final_score"])
}

func newEssayStore(t *testing.T) *essays.SQLiteStore {
	t.Helper()
	store, err := essays.NewSQLiteStore(filepath.Join(t.TempDir(), "essays.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.CreateEssay(t.Context(), core.EssayRecord{
		ID:      "essay-1",
		UserID:  "owner",
		Theme:   "Desafios da mobilidade urbana",
		Content: "Texto completo da redação.",
	}))
	return store
}

func TestServer_EssayDeepAnalysis(t *testing.T) {
	store := newEssayStore(t)
	deep := &fakeDeep{out: &core.DeepAnalysisResult{
		FinalScore:       score(760),
		FinalFeedback:    "feedback final",
		ConsensusMetrics: core.ConsensusMetrics{ReliabilityLevel: core.ReliabilityMedium},
	}}
	srv := newTestServer(t, Services{Deep: deep, Essays: store})

	w := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/essays/essay-1/deep-analysis", nil, "")

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "owner", deep.got.CallerID, "falls back to the essay owner")
	assert.Equal(t, core.KindFull, deep.got.Kind)
	assert.Equal(t, "Texto completo da redação.", deep.got.Content)

	got, err := store.GetEssay(t.Context(), "essay-1")
	require.NoError(t, err)
	assert.Equal(t, "feedback final", got.DeepFeedback)
	require.NotNil(t, got.DeepScore)
	assert.Equal(t, 760.0, *got.DeepScore)
	assert.Equal(t, core.ReliabilityMedium, got.DeepReliability)
	assert.Equal(t, core.ModeDeep, got.DeepMode)
	assert.NotNil(t, got.DeepAnalyzedAt)
}

func TestServer_EssayEnhancedAnalysisOverwrites(t *testing.T) {
	store := newEssayStore(t)
	deep := &fakeDeep{out: &core.DeepAnalysisResult{FinalScore: score(600), FinalFeedback: "primeira"}}
	enhanced := &fakeEnhanced{out: &core.EnhancedDeepAnalysisResult{
		Phase2: core.Phase2Result{
			ConsolidatedFeedback: "consolidado",
			FinalScore:           score(900),
			ReliabilityLevel:     core.ReliabilityVeryHigh,
			Success:              true,
		},
	}}
	srv := newTestServer(t, Services{Deep: deep, Enhanced: enhanced, Essays: store})

	w := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/essays/essay-1/deep-analysis", nil, "caller")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "caller", deep.got.CallerID)

	w = doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/essays/essay-1/enhanced-deep-analysis", nil, "caller")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		EssayID string `json:"essay_id"`
		Mode    string `json:"mode"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "essay-1", resp.EssayID)
	assert.Equal(t, core.ModeEnhancedDeep, resp.Mode)

	got, err := store.GetEssay(t.Context(), "essay-1")
	require.NoError(t, err)
	assert.Equal(t, "consolidado", got.DeepFeedback)
	require.NotNil(t, got.DeepScore)
	assert.Equal(t, 900.0, *got.DeepScore)
	assert.Equal(t, core.ModeEnhancedDeep, got.DeepMode)
}

func TestServer_EssayNotFound(t *testing.T) {
	store := newEssayStore(t)
	deep := &fakeDeep{out: &core.DeepAnalysisResult{}}
	srv := newTestServer(t, Services{Deep: deep, Essays: store})

	w := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/essays/missing/deep-analysis", nil, "u")

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Empty(t, deep.got.Content, "analysis must not run for a missing essay")
}

func TestServer_RateLimitStatus(t *testing.T) {
	limiters := service.NewRateLimiterRegistry()
	require.NoError(t, limiters.Allow(core.PolicyCorrection, "user-1"))
	srv := newTestServer(t, Services{Limiters: limiters})

	w := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/rate-limit/correction/user-1", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var status core.RateLimitStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, core.PolicyCorrection, status.Policy)
	assert.Equal(t, 1, status.RequestsMade)
	assert.Equal(t, 0, status.RequestsRemaining)
	assert.NotNil(t, status.ResetTime)

	w = doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/rate-limit/bogus/user-1", nil, "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestServer_Usage(t *testing.T) {
	usage := &fakeUsage{stats: []core.UsageStat{{ModelID: "m1", Calls: 3, Failures: 1, AvgResponseTime: 1.5}}}
	srv := newTestServer(t, Services{Usage: usage})

	before := time.Now().UTC()
	w := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/usage?since=2h", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp UsageResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Models, 1)
	assert.Equal(t, 3, resp.Models[0].Calls)
	assert.WithinDuration(t, before.Add(-2*time.Hour), usage.since, 5*time.Second)

	w = doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/usage?since=yesterday", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParseSince(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

	got, err := parseSince("", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-24*time.Hour), got)

	got, err = parseSince("30m", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-30*time.Minute), got)

	got, err = parseSince("2024-05-01T00:00:00Z", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), got)

	_, err = parseSince("soon", now)
	assert.Error(t, err)
}

func TestServer_ServiceHealth(t *testing.T) {
	monitor := diagnostics.NewResourceMonitor(diagnostics.MonitorConfig{}, quietLogger())
	srv := newTestServer(t, Services{Health: fakeHealth{status: "degraded"}},
		WithDiagnostics(nil, monitor))

	w := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/health", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.False(t, resp.CacheConnected)
	require.NotNil(t, resp.Process)
	assert.Positive(t, resp.Process.Goroutines)
	assert.Nil(t, resp.System)
}

func TestServer_ServiceHealth_Unhealthy(t *testing.T) {
	srv := newTestServer(t, Services{Health: fakeHealth{status: "unhealthy"}})
	w := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/health", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestServer_Metrics(t *testing.T) {
	metrics := service.NewMetrics()
	metrics.ObserveRateLimited(core.PolicyDeep)
	srv := newTestServer(t, Services{}, WithMetrics(metrics))

	w := doJSON(t, srv.Handler(), http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `scribo_rate_limited_total{policy="deep"} 1`)
}

func TestServer_MetricsDisabled(t *testing.T) {
	srv := newTestServer(t, Services{})
	w := doJSON(t, srv.Handler(), http.MethodGet, "/metrics", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_CORS(t *testing.T) {
	srv := newTestServer(t, Services{}, WithCORSOrigins([]string{"https://app.example.com"}))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/corrections", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", CallerHeader)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, strings.ToLower(w.Header().Get("Access-Control-Allow-Headers")), strings.ToLower(CallerHeader))
}

func TestServer_ListenAndServeStopsOnCancel(t *testing.T) {
	srv := newTestServer(t, Services{})
	ctx, cancel := context.WithCancel(t.Context())

	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop after cancellation")
	}
}
