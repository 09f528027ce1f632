package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/scribo-app/scribo/internal/core"
)

// RetryPolicy retries a model call on retryable errors with exponential
// backoff. Attempt n (1-based) is followed by a wait of
// BaseDelay * Multiplier^(n-1), capped at MaxDelay.
type RetryPolicy struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64 // 0.0 to 1.0
	Multiplier   float64

	// sleep waits between attempts; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// throttled is implemented by provider errors that carry a Retry-After.
type throttled interface {
	RetryAfter() time.Duration
}

// DefaultRetryPolicy returns three attempts with 1s then 2s waits.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    time.Minute,
		Multiplier:  2.0,
		sleep:       sleepContext,
	}
}

// RetryPolicyOption configures a retry policy.
type RetryPolicyOption func(*RetryPolicy)

// WithMaxAttempts sets the total number of calls, first one included.
func WithMaxAttempts(n int) RetryPolicyOption {
	return func(p *RetryPolicy) { p.MaxAttempts = n }
}

// WithBaseDelay sets the wait after the first failure.
func WithBaseDelay(d time.Duration) RetryPolicyOption {
	return func(p *RetryPolicy) { p.BaseDelay = d }
}

// WithMaxDelay caps every wait, provider hints included.
func WithMaxDelay(d time.Duration) RetryPolicyOption {
	return func(p *RetryPolicy) { p.MaxDelay = d }
}

func WithJitter(factor float64) RetryPolicyOption {
	return func(p *RetryPolicy) { p.JitterFactor = factor }
}

func WithMultiplier(m float64) RetryPolicyOption {
	return func(p *RetryPolicy) { p.Multiplier = m }
}

// NewRetryPolicy applies opts over DefaultRetryPolicy. Zero values from an
// unset config section fall back to the defaults.
func NewRetryPolicy(opts ...RetryPolicyOption) *RetryPolicy {
	p := DefaultRetryPolicy()
	for _, opt := range opts {
		opt(p)
	}
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Multiplier <= 0 {
		p.Multiplier = 2.0
	}
	return p
}

// RetryableFunc is one model call.
type RetryableFunc func(ctx context.Context) error

// RetryNotifyFunc is called before each wait.
type RetryNotifyFunc func(attempt int, err error, delay time.Duration)

// Execute runs fn under the policy.
func (p *RetryPolicy) Execute(ctx context.Context, fn RetryableFunc) error {
	return p.ExecuteWithNotify(ctx, fn, nil)
}

// ExecuteWithNotify runs fn until it succeeds, returns a non-retryable error,
// or MaxAttempts is reached. Caller cancellation ends the loop at once and is
// returned as is.
func (p *RetryPolicy) ExecuteWithNotify(ctx context.Context, fn RetryableFunc, notify RetryNotifyFunc) error {
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		switch {
		case lastErr == nil:
			return nil
		case !core.IsRetryable(lastErr) || ctx.Err() != nil:
			return lastErr
		case attempt == p.MaxAttempts:
			continue
		}

		delay := p.delayAfter(attempt, lastErr)
		if notify != nil {
			notify(attempt, lastErr, delay)
		}
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}

	return &RetryExhaustedError{Attempts: p.MaxAttempts, LastErr: lastErr}
}

// delayAfter is the backoff after a failed attempt, stretched to the
// provider's Retry-After when that is longer.
func (p *RetryPolicy) delayAfter(attempt int, err error) time.Duration {
	delay := p.CalculateDelay(attempt)

	var hint throttled
	if errors.As(err, &hint) {
		if wait := hint.RetryAfter(); wait > delay {
			delay = wait
		}
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	return delay
}

// CalculateDelay computes the backoff after a failed attempt (1-based).
func (p *RetryPolicy) CalculateDelay(attempt int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if p.MaxDelay > 0 {
		delay = math.Min(delay, float64(p.MaxDelay))
	}
	if p.JitterFactor > 0 {
		delay += (rand.Float64()*2 - 1) * delay * p.JitterFactor
	}
	return time.Duration(delay)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RetryExhaustedError reports that every attempt on a model failed.
type RetryExhaustedError struct {
	Attempts int
	LastErr  error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("model call failed after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.LastErr
}

// IsRetryExhausted reports whether err ended a retry loop.
func IsRetryExhausted(err error) bool {
	var exhausted *RetryExhaustedError
	return errors.As(err, &exhausted)
}
