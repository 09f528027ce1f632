package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/scribo-app/scribo/internal/core"
	"github.com/scribo-app/scribo/internal/logging"
)

// Default per-kind call timeouts and failure cooldown.
const (
	DefaultParagraphTimeout = 90 * time.Second
	DefaultFullTimeout      = 120 * time.Second
	DefaultSynthesisTimeout = 180 * time.Second
	DefaultCooldown         = 5 * time.Minute
	usageLogTimeout         = 5 * time.Second
)

// Invoker sends prompts to registered models through a ChatClient. A failed
// call puts the model into cooldown; a timer owned by the invoker restores it.
type Invoker struct {
	registry *ModelRegistry
	client   core.ChatClient
	usage    core.UsageLogger
	metrics  *Metrics
	logger   *logging.Logger
	timeouts map[core.AnalysisKind]time.Duration
	cooldown time.Duration

	mu     sync.Mutex
	resets map[string]*time.Timer
	until  map[string]time.Time
	closed bool
	wg     sync.WaitGroup
}

// InvokerOption configures an invoker.
type InvokerOption func(*Invoker)

// WithUsageLogger records every call through ul.
func WithUsageLogger(ul core.UsageLogger) InvokerOption {
	return func(i *Invoker) {
		i.usage = ul
	}
}

// WithInvokerMetrics attaches Prometheus collectors.
func WithInvokerMetrics(m *Metrics) InvokerOption {
	return func(i *Invoker) {
		i.metrics = m
	}
}

// WithKindTimeout overrides the call timeout of one analysis kind.
func WithKindTimeout(kind core.AnalysisKind, d time.Duration) InvokerOption {
	return func(i *Invoker) {
		if d > 0 {
			i.timeouts[kind] = d
		}
	}
}

// WithCooldown sets how long a failed model stays unavailable.
func WithCooldown(d time.Duration) InvokerOption {
	return func(i *Invoker) {
		if d > 0 {
			i.cooldown = d
		}
	}
}

// NewInvoker creates an invoker over the registry.
func NewInvoker(registry *ModelRegistry, client core.ChatClient, logger *logging.Logger, opts ...InvokerOption) *Invoker {
	if logger == nil {
		logger = logging.NewNop()
	}
	i := &Invoker{
		registry: registry,
		client:   client,
		logger:   logger.WithComponent("invoker"),
		timeouts: map[core.AnalysisKind]time.Duration{
			core.KindParagraph: DefaultParagraphTimeout,
			core.KindFull:      DefaultFullTimeout,
			core.KindSynthesis: DefaultSynthesisTimeout,
		},
		cooldown: DefaultCooldown,
		resets:   make(map[string]*time.Timer),
		until:    make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(i)
	}
	i.metrics.InitModels(registry.IDs())
	return i
}

// Registry returns the model registry the invoker reads from.
func (i *Invoker) Registry() *ModelRegistry {
	return i.registry
}

// Invoke calls one model and returns its raw text.
func (i *Invoker) Invoke(ctx context.Context, req core.InvokeRequest) (string, error) {
	cfg, ok := i.registry.Get(req.ModelID)
	if !ok {
		return "", core.ErrModelUnknown(req.ModelID)
	}
	if !i.registry.IsAvailable(req.ModelID) && !i.cooldownElapsed(req.ModelID) {
		return "", core.ErrModelCoolingDown(req.ModelID)
	}

	messages := make([]core.Message, 0, 2)
	if cfg.SystemMessage != "" {
		messages = append(messages, core.Message{Role: "system", Content: cfg.SystemMessage})
	}
	messages = append(messages, core.Message{Role: "user", Content: req.Prompt})

	callCtx, cancel := context.WithTimeout(ctx, i.timeoutFor(req.Kind))
	defer cancel()

	start := time.Now()
	resp, err := i.client.Complete(callCtx, core.ChatRequest{
		BaseURL:     cfg.BaseURL,
		APIKey:      cfg.APIKey,
		Model:       cfg.Model,
		Messages:    messages,
		Temperature: cfg.Temperature,
		TopP:        cfg.TopP,
		MaxTokens:   cfg.MaxTokens,
		Extra:       cfg.Extra,
	})
	elapsed := time.Since(start)
	if err == nil && strings.TrimSpace(resp.Content) == "" {
		err = errors.New("empty completion")
	}

	tokens := 0
	if resp != nil {
		tokens = resp.TotalTokens()
	}
	i.recordUsage(core.UsageRecord{
		ModelID:      req.ModelID,
		CallerID:     req.CallerID,
		Kind:         req.Kind,
		ResponseTime: elapsed,
		Success:      err == nil,
		Error:        errString(err),
		TokensUsed:   tokens,
		Timestamp:    start,
	})
	i.metrics.ObserveModelCall(req.ModelID, req.Kind, elapsed, err)

	if err != nil {
		// The caller giving up says nothing about the model's health.
		if ctx.Err() != nil {
			return "", fmt.Errorf("invoking %s: %w", req.ModelID, ctx.Err())
		}
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s: %w", i.timeoutFor(req.Kind), err)
		}
		i.markUnavailable(req.ModelID, i.cooldownFor(err))
		i.logger.Warn("model call failed",
			"model", req.ModelID,
			"kind", req.Kind,
			"elapsed", elapsed,
			"error", err,
		)
		return "", core.ErrModelUnavailable(req.ModelID).WithCause(err)
	}

	i.logger.Debug("model call completed",
		"model", req.ModelID,
		"kind", req.Kind,
		"elapsed", elapsed,
		"tokens", tokens,
	)
	return resp.Content, nil
}

func (i *Invoker) timeoutFor(kind core.AnalysisKind) time.Duration {
	if d, ok := i.timeouts[kind]; ok {
		return d
	}
	return DefaultFullTimeout
}

// cooldownFor is the provider's Retry-After for a throttled call, and the
// fixed cooldown for anything else.
func (i *Invoker) cooldownFor(err error) time.Duration {
	var hint throttled
	if errors.As(err, &hint) && hint.RetryAfter() > 0 {
		return hint.RetryAfter()
	}
	return i.cooldown
}

// cooldownElapsed reports whether a model's cooldown has run out even if its
// reset timer has not fired yet.
func (i *Invoker) cooldownElapsed(modelID string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	until, ok := i.until[modelID]
	return ok && !time.Now().Before(until)
}

// markUnavailable starts (or restarts) the cooldown of a model.
func (i *Invoker) markUnavailable(modelID string, d time.Duration) {
	i.registry.SetAvailable(modelID, false)
	i.metrics.SetModelAvailable(modelID, false)

	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return
	}
	if t, ok := i.resets[modelID]; ok {
		t.Stop()
	}
	i.until[modelID] = time.Now().Add(d)
	var timer *time.Timer
	timer = time.AfterFunc(d, func() {
		i.mu.Lock()
		if i.closed || i.resets[modelID] != timer {
			i.mu.Unlock()
			return
		}
		delete(i.resets, modelID)
		delete(i.until, modelID)
		i.mu.Unlock()

		i.registry.SetAvailable(modelID, true)
		i.metrics.SetModelAvailable(modelID, true)
		i.logger.Info("model available again", "model", modelID)
	})
	i.resets[modelID] = timer
}

// PendingResets returns how many models are cooling down.
func (i *Invoker) PendingResets() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.resets)
}

// recordUsage hands the record to the usage logger without blocking the call path.
func (i *Invoker) recordUsage(rec core.UsageRecord) {
	if i.usage == nil {
		return
	}
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return
	}
	i.wg.Add(1)
	i.mu.Unlock()

	go func() {
		defer i.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				i.logger.Warn("usage logger panicked", "model", rec.ModelID, "panic", r)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), usageLogTimeout)
		defer cancel()
		if err := i.usage.LogUsage(ctx, rec); err != nil {
			i.logger.Warn("logging model usage failed", "model", rec.ModelID, "error", err)
		}
	}()
}

// Close cancels every pending availability reset and waits for in-flight
// usage records.
func (i *Invoker) Close() error {
	i.mu.Lock()
	i.closed = true
	for id, t := range i.resets {
		t.Stop()
		delete(i.resets, id)
	}
	i.mu.Unlock()

	i.wg.Wait()
	return nil
}

// Health reports model availability and cache connectivity.
// Status is healthy when every model is available, unhealthy when none is.
func (i *Invoker) Health(ctx context.Context, cache core.Cache) core.ServiceHealth {
	models := i.registry.Health()
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
	case available < len(models):
		status = "degraded"
	}

	connected := false
	if cache != nil {
		connected = cache.Ping(ctx) == nil
	}
	return core.ServiceHealth{
		Status:         status,
		Models:         models,
		CacheConnected: connected,
		Timestamp:      time.Now(),
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
