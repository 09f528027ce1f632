package service

import (
	"sort"
	"sync"
	"time"

	"github.com/scribo-app/scribo/internal/core"
)

// RateLimiterConfig configures a sliding-window limiter.
type RateLimiterConfig struct {
	MaxRequests int           // Requests admitted per window
	Window      time.Duration // Window length
}

// DefaultRateLimiterConfig returns one request per minute.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		MaxRequests: 1,
		Window:      time.Minute,
	}
}

// SlidingWindowLimiter admits at most MaxRequests per key within any
// trailing window. It never blocks: denied callers get the remaining wait.
type SlidingWindowLimiter struct {
	mu          sync.Mutex
	maxRequests int
	window      time.Duration
	hits        map[string][]time.Time
	now         func() time.Time
}

// NewRateLimiter creates a new sliding-window limiter.
func NewRateLimiter(cfg RateLimiterConfig) *SlidingWindowLimiter {
	return newRateLimiterWithClock(cfg, time.Now)
}

func newRateLimiterWithClock(cfg RateLimiterConfig, now func() time.Time) *SlidingWindowLimiter {
	if cfg.MaxRequests < 1 {
		cfg.MaxRequests = 1
	}
	return &SlidingWindowLimiter{
		maxRequests: cfg.MaxRequests,
		window:      cfg.Window,
		hits:        make(map[string][]time.Time),
		now:         now,
	}
}

// Check records a request for key if it is admitted. When denied, wait is
// the time until the oldest request in the window expires.
func (l *SlidingWindowLimiter) Check(key string) (allowed bool, wait time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	hits := l.prune(key, now)
	if len(hits) < l.maxRequests {
		l.hits[key] = append(hits, now)
		return true, 0
	}

	wait = hits[0].Add(l.window).Sub(now)
	if wait < 0 {
		wait = 0
	}
	return false, wait
}

// Status reports usage of key without recording a request.
func (l *SlidingWindowLimiter) Status(key string) core.RateLimitStatus {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	hits := l.prune(key, now)
	remaining := l.maxRequests - len(hits)
	if remaining < 0 {
		remaining = 0
	}

	status := core.RateLimitStatus{
		Key:               key,
		RequestsMade:      len(hits),
		RequestsRemaining: remaining,
		WindowSize:        l.window.Seconds(),
	}
	if remaining == 0 && len(hits) > 0 {
		reset := hits[0].Add(l.window)
		status.ResetTime = &reset
	}
	return status
}

// Reconfigure changes the limits while keeping recorded requests.
func (l *SlidingWindowLimiter) Reconfigure(cfg RateLimiterConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cfg.MaxRequests >= 1 {
		l.maxRequests = cfg.MaxRequests
	}
	if cfg.Window > 0 {
		l.window = cfg.Window
	}
}

// Config returns the current limits.
func (l *SlidingWindowLimiter) Config() RateLimiterConfig {
	l.mu.Lock()
	defer l.mu.Unlock()
	return RateLimiterConfig{MaxRequests: l.maxRequests, Window: l.window}
}

// Reset forgets every request recorded for key.
func (l *SlidingWindowLimiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.hits, key)
}

// prune drops timestamps at or before now-window. Must hold l.mu.
func (l *SlidingWindowLimiter) prune(key string, now time.Time) []time.Time {
	hits := l.hits[key]
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	if i == len(hits) {
		delete(l.hits, key)
		return nil
	}
	if i > 0 {
		hits = append(hits[:0], hits[i:]...)
		l.hits[key] = hits
	}
	return hits
}

// RateLimiterRegistry holds one limiter per named policy.
type RateLimiterRegistry struct {
	limiters map[string]*SlidingWindowLimiter
	now      func() time.Time
	mu       sync.RWMutex
}

// NewRateLimiterRegistry creates a registry with the default policies.
func NewRateLimiterRegistry() *RateLimiterRegistry {
	return newRateLimiterRegistryWithClock(time.Now)
}

func newRateLimiterRegistryWithClock(now func() time.Time) *RateLimiterRegistry {
	r := &RateLimiterRegistry{
		limiters: make(map[string]*SlidingWindowLimiter),
		now:      now,
	}
	for name, cfg := range defaultPolicyConfigs() {
		r.limiters[name] = newRateLimiterWithClock(cfg, now)
	}
	return r
}

// defaultPolicyConfigs returns the per-caller policies.
func defaultPolicyConfigs() map[string]RateLimiterConfig {
	return map[string]RateLimiterConfig{
		core.PolicyCorrection:   {MaxRequests: 1, Window: time.Minute},
		core.PolicyDeep:         {MaxRequests: 1, Window: 2 * time.Minute},
		core.PolicyEnhancedDeep: {MaxRequests: 1, Window: 5 * time.Minute},
	}
}

// Get returns the limiter of a policy, creating one with defaults if needed.
func (r *RateLimiterRegistry) Get(policy string) *SlidingWindowLimiter {
	r.mu.RLock()
	limiter, ok := r.limiters[policy]
	r.mu.RUnlock()
	if ok {
		return limiter
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if limiter, ok := r.limiters[policy]; ok {
		return limiter
	}
	limiter = newRateLimiterWithClock(DefaultRateLimiterConfig(), r.now)
	r.limiters[policy] = limiter
	return limiter
}

// SetConfig updates the limits of a policy. Recorded requests are kept so a
// reload never hands out a fresh window.
func (r *RateLimiterRegistry) SetConfig(policy string, cfg RateLimiterConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limiter, ok := r.limiters[policy]; ok {
		limiter.Reconfigure(cfg)
		return
	}
	r.limiters[policy] = newRateLimiterWithClock(cfg, r.now)
}

// Check admits or denies a caller under a policy.
func (r *RateLimiterRegistry) Check(policy, callerID string) (bool, time.Duration) {
	return r.Get(policy).Check(core.PolicyKey(policy, callerID))
}

// Allow is Check returning a rate limit error on denial.
func (r *RateLimiterRegistry) Allow(policy, callerID string) error {
	if ok, wait := r.Check(policy, callerID); !ok {
		return core.ErrRateLimit(wait).WithDetail("policy", policy)
	}
	return nil
}

// Status returns a caller's usage under a known policy.
func (r *RateLimiterRegistry) Status(policy, callerID string) (core.RateLimitStatus, error) {
	r.mu.RLock()
	limiter, ok := r.limiters[policy]
	r.mu.RUnlock()
	if !ok {
		return core.RateLimitStatus{}, core.ErrValidation(core.CodeUnknownPolicy, "unknown rate limit policy: "+policy)
	}
	status := limiter.Status(core.PolicyKey(policy, callerID))
	status.Policy = policy
	return status, nil
}

// List returns the registered policy names in sorted order.
func (r *RateLimiterRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.limiters))
	for name := range r.limiters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
