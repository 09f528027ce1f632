package service

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/scribo-app/scribo/internal/core"
	"github.com/scribo-app/scribo/internal/logging"
)

// DefaultCorrectionTTL is how long a correction stays cached.
const DefaultCorrectionTTL = 24 * time.Hour

// CorrectRequest asks for a single-model correction.
type CorrectRequest struct {
	Content      string
	Theme        string
	Kind         core.AnalysisKind
	ModelID      string // empty picks the default model of the kind
	CallerID     string
	ThemeContext core.ThemeContext

	// SkipRateLimit is set by orchestrators, which apply their own policy.
	SkipRateLimit bool
}

// Corrector grades one submission with one model, falling back to every
// other registered model and finally to canned guidance.
type Corrector struct {
	invoker  core.Invoker
	registry *ModelRegistry
	cache    core.Cache
	ttl      time.Duration
	retry    *RetryPolicy
	limiters *RateLimiterRegistry
	renderer core.PromptRenderer
	metrics  *Metrics
	logger   *logging.Logger
}

// CorrectorOption configures a corrector.
type CorrectorOption func(*Corrector)

// WithCorrectionCache caches corrections for ttl (DefaultCorrectionTTL when zero).
func WithCorrectionCache(cache core.Cache, ttl time.Duration) CorrectorOption {
	return func(c *Corrector) {
		c.cache = cache
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithRetryPolicy sets the per-model retry policy.
func WithRetryPolicy(p *RetryPolicy) CorrectorOption {
	return func(c *Corrector) {
		if p != nil {
			c.retry = p
		}
	}
}

// WithRateLimiters enforces the correction policy per caller.
func WithRateLimiters(r *RateLimiterRegistry) CorrectorOption {
	return func(c *Corrector) {
		c.limiters = r
	}
}

// WithPromptRenderer sets the prompt renderer.
func WithPromptRenderer(r core.PromptRenderer) CorrectorOption {
	return func(c *Corrector) {
		c.renderer = r
	}
}

// WithCorrectorMetrics attaches Prometheus collectors.
func WithCorrectorMetrics(m *Metrics) CorrectorOption {
	return func(c *Corrector) {
		c.metrics = m
	}
}

// NewCorrector creates a correction service.
func NewCorrector(invoker core.Invoker, registry *ModelRegistry, logger *logging.Logger, opts ...CorrectorOption) *Corrector {
	if logger == nil {
		logger = logging.NewNop()
	}
	c := &Corrector{
		invoker:  invoker,
		registry: registry,
		ttl:      DefaultCorrectionTTL,
		retry:    DefaultRetryPolicy(),
		logger:   logger.WithComponent("corrector"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DefaultModelFor returns the model a kind is graded with when the caller
// names none.
func DefaultModelFor(kind core.AnalysisKind) string {
	if kind == core.KindParagraph {
		return core.ModelDeepSeek14B
	}
	return core.ModelLlama253B
}

// CorrectionCacheKey derives the cache key of a correction.
func CorrectionCacheKey(modelID, content, theme string, kind core.AnalysisKind) string {
	return fmt.Sprintf("ai:result:%s:%s", modelID, contentHash(content, theme, string(kind)))
}

// Correct grades the submission. Once validation and rate limiting pass it
// always returns a correction unless ctx ends first: when every model fails
// the answer is canned guidance with status degraded.
func (c *Corrector) Correct(ctx context.Context, req CorrectRequest) (*core.Correction, error) {
	if err := core.ValidateSubmission(req.Content, req.Theme, req.Kind); err != nil {
		return nil, err
	}

	modelID := req.ModelID
	if modelID == "" {
		modelID = DefaultModelFor(req.Kind)
	}
	primary, ok := c.registry.Get(modelID)
	if !ok {
		return nil, core.ErrModelUnknown(modelID)
	}
	logger := c.logger.WithModel(modelID).WithCaller(req.CallerID)

	if !req.SkipRateLimit && c.limiters != nil {
		if err := c.limiters.Allow(core.PolicyCorrection, req.CallerID); err != nil {
			c.metrics.ObserveRateLimited(core.PolicyCorrection)
			return nil, err
		}
	}

	key := CorrectionCacheKey(modelID, req.Content, req.Theme, req.Kind)
	if cached := c.lookup(ctx, key, logger); cached != nil {
		return cached, nil
	}

	prompt := c.prompt(req, logger)
	start := time.Now()

	feedback, err := c.attempt(ctx, modelID, prompt, req)
	if err == nil {
		out := c.correction(modelID, modelID, req.Kind, feedback, start)
		c.store(ctx, key, out, logger)
		return out, nil
	}
	if ctx.Err() != nil {
		return nil, cancelled(ctx, err)
	}
	logger.Warn("primary model failed", "error", err)

	for _, id := range c.registry.IDs() {
		if id == modelID {
			continue
		}
		feedback, ferr := c.attempt(ctx, id, prompt, req)
		if ferr != nil {
			if ctx.Err() != nil {
				return nil, cancelled(ctx, ferr)
			}
			logger.Warn("fallback model failed", "fallback", id, "error", ferr)
			continue
		}
		logger.Info("correction answered by fallback model", "fallback", id)
		c.metrics.ObserveFallback(req.Kind)
		out := c.correction(modelID, id, req.Kind, feedback, start)
		out.Fallback = true
		out.StatusReason = fmt.Sprintf("primary model %s failed", primary.ID)
		c.store(ctx, key, out, logger)
		return out, nil
	}

	logger.Warn("every model failed, returning canned guidance")
	c.metrics.ObserveFallback(req.Kind)
	return &core.Correction{
		ModelID:        modelID,
		Kind:           req.Kind,
		Feedback:       CannedFeedback(req.Theme, req.Kind),
		Fallback:       true,
		Status:         core.StatusDegraded,
		StatusReason:   "all models failed",
		ProcessingTime: time.Since(start).Seconds(),
		Timestamp:      time.Now(),
	}, nil
}

// attempt calls one model under the retry policy.
func (c *Corrector) attempt(ctx context.Context, modelID, prompt string, req CorrectRequest) (string, error) {
	var out string
	err := c.retry.ExecuteWithNotify(ctx, func(ctx context.Context) error {
		text, err := c.invoker.Invoke(ctx, core.InvokeRequest{
			ModelID:  modelID,
			Prompt:   prompt,
			Kind:     req.Kind,
			CallerID: req.CallerID,
		})
		if err != nil {
			return err
		}
		out = text
		return nil
	}, func(attempt int, err error, delay time.Duration) {
		c.logger.Debug("retrying model call",
			"model", modelID,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
	})
	return out, err
}

func (c *Corrector) correction(modelID, answeredBy string, kind core.AnalysisKind, feedback string, start time.Time) *core.Correction {
	return &core.Correction{
		ModelID:        modelID,
		AnsweredBy:     answeredBy,
		Kind:           kind,
		Feedback:       feedback,
		Score:          ExtractScore(kind, feedback),
		Status:         core.StatusOK,
		ProcessingTime: time.Since(start).Seconds(),
		Timestamp:      time.Now(),
	}
}

func (c *Corrector) prompt(req CorrectRequest, logger *logging.Logger) string {
	in := core.PromptInput{
		Kind:         req.Kind,
		Content:      req.Content,
		Theme:        req.Theme,
		ThemeContext: req.ThemeContext,
	}
	if c.renderer != nil {
		prompt, err := c.renderer.Render(in)
		if err == nil {
			return prompt
		}
		logger.Warn("rendering prompt failed, using fallback prompt", "error", err)
	}
	return FallbackPrompt(in)
}

func (c *Corrector) lookup(ctx context.Context, key string, logger *logging.Logger) *core.Correction {
	if c.cache == nil {
		return nil
	}
	data, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		c.metrics.ObserveCache("correction", "error")
		logger.Warn("reading correction cache failed", "key", key, "error", err)
		return nil
	}
	if !ok {
		c.metrics.ObserveCache("correction", "miss")
		return nil
	}
	var out core.Correction
	if err := json.Unmarshal(data, &out); err != nil {
		c.metrics.ObserveCache("correction", "error")
		logger.Warn("decoding cached correction failed", "key", key, "error", err)
		return nil
	}
	c.metrics.ObserveCache("correction", "hit")
	out.Cached = true
	return &out
}

func (c *Corrector) store(ctx context.Context, key string, out *core.Correction, logger *logging.Logger) {
	if c.cache == nil {
		return
	}
	data, err := json.Marshal(out)
	if err != nil {
		logger.Warn("encoding correction failed", "error", err)
		return
	}
	if err := c.cache.Set(ctx, key, data, c.ttl); err != nil {
		logger.Warn("writing correction cache failed", "key", key, "error", err)
	}
}

// ExtractScore applies the score extractor of the kind.
func ExtractScore(kind core.AnalysisKind, text string) *float64 {
	switch kind {
	case core.KindParagraph:
		score := ExtractParagraphScore(text)
		return &score
	case core.KindSynthesis:
		return ExtractSynthesisScore(text)
	default:
		return ExtractFullScore(text)
	}
}

// CannedFeedback is the general guidance returned when no model answers.
func CannedFeedback(theme string, kind core.AnalysisKind) string {
	if kind == core.KindParagraph {
		return fmt.Sprintf(`**ANÁLISE INDISPONÍVEL**

O serviço de correção está temporariamente indisponível.

**DICAS GERAIS PARA O TEMA "%s":**
- Desenvolva uma tese clara na introdução
- Use argumentos consistentes e bem fundamentados
- Conecte ideias com conectivos apropriados
- Proponha intervenção específica e detalhada
- Revise gramática e ortografia

**NOTA:** Análise não disponível
**STATUS:** Tente novamente em alguns minutos`, theme)
	}
	return fmt.Sprintf(`**SERVIÇO TEMPORARIAMENTE INDISPONÍVEL**

A correção automática está em manutenção. Aqui estão dicas gerais para o tema "%s":

**ESTRUTURA RECOMENDADA:**
1. **Introdução:** Contextualize o tema e apresente sua tese
2. **Desenvolvimento:** 2 parágrafos com argumentos distintos e bem fundamentados
3. **Conclusão:** Retome a tese e proponha intervenção detalhada

**CRITÉRIOS ENEM:**
- **Norma Culta:** Revise gramática, ortografia e concordância
- **Tema:** Mantenha-se dentro do tema proposto
- **Argumentação:** Use dados, exemplos e referências
- **Coesão:** Conecte ideias com conectivos adequados
- **Proposta:** Seja específico (agente, ação, meio, finalidade)

**NOTA:** Análise detalhada indisponível
**STATUS:** Tente novamente em alguns minutos`, theme)
}

// cancelled converts a failure caused by the caller's context into a timeout.
func cancelled(ctx context.Context, cause error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return core.ErrTimeout("analysis deadline exceeded").WithCause(cause)
	}
	return fmt.Errorf("analysis cancelled: %w", ctx.Err())
}

// contentHash is the md5 hex digest of the concatenated parts.
func contentHash(parts ...string) string {
	sum := md5.Sum([]byte(strings.Join(parts, "")))
	return hex.EncodeToString(sum[:])
}
