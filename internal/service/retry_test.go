package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/scribo-app/scribo/internal/core"
)

// recordSleeps replaces the policy's wait with one that records delays.
func recordSleeps(p *RetryPolicy) *[]time.Duration {
	var delays []time.Duration
	p.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return ctx.Err()
	}
	return &delays
}

func TestRetryPolicy_Execute_Success(t *testing.T) {
	policy := NewRetryPolicy(WithMaxAttempts(3))
	ctx := context.Background()

	callCount := 0
	err := policy.Execute(ctx, func(ctx context.Context) error {
		callCount++
		return nil
	})

	if err != nil {
		t.Errorf("Execute() error = %v, want nil", err)
	}
	if callCount != 1 {
		t.Errorf("callCount = %d, want 1", callCount)
	}
}

func TestRetryPolicy_Execute_SuccessAfterRetry(t *testing.T) {
	policy := NewRetryPolicy(WithMaxAttempts(3))
	delays := recordSleeps(policy)
	ctx := context.Background()

	callCount := 0
	err := policy.Execute(ctx, func(ctx context.Context) error {
		callCount++
		if callCount < 3 {
			return core.ErrModelUnavailable("deepseek_14b")
		}
		return nil
	})

	if err != nil {
		t.Errorf("Execute() error = %v, want nil", err)
	}
	if callCount != 3 {
		t.Errorf("callCount = %d, want 3", callCount)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(*delays) != len(want) || (*delays)[0] != want[0] || (*delays)[1] != want[1] {
		t.Errorf("delays = %v, want %v", *delays, want)
	}
}

func TestRetryPolicy_Execute_NonRetryable(t *testing.T) {
	policy := NewRetryPolicy(WithMaxAttempts(3))
	recordSleeps(policy)
	ctx := context.Background()

	tests := []struct {
		name string
		err  error
	}{
		{"validation", core.ErrValidation(core.CodeEmptyContent, "empty")},
		{"cooling down", core.ErrModelCoolingDown("kimi_k2")},
		{"plain error", errors.New("boom")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			callCount := 0
			err := policy.Execute(ctx, func(ctx context.Context) error {
				callCount++
				return tt.err
			})

			if !errors.Is(err, tt.err) {
				t.Errorf("Execute() error = %v, want %v", err, tt.err)
			}
			if callCount != 1 {
				t.Errorf("callCount = %d, want 1 (should not retry non-retryable errors)", callCount)
			}
		})
	}
}

func TestRetryPolicy_Execute_Exhausted(t *testing.T) {
	policy := NewRetryPolicy(WithMaxAttempts(3))
	delays := recordSleeps(policy)
	ctx := context.Background()

	callCount := 0
	retryableErr := core.ErrModelUnavailable("qwen3_235b")

	err := policy.Execute(ctx, func(ctx context.Context) error {
		callCount++
		return retryableErr
	})

	if err == nil {
		t.Fatal("Execute() should return error")
	}
	if callCount != 3 {
		t.Errorf("callCount = %d, want 3", callCount)
	}
	if len(*delays) != 2 {
		t.Errorf("waits = %d, want 2 (no wait after the last attempt)", len(*delays))
	}

	var exhaustedErr *RetryExhaustedError
	if !errors.As(err, &exhaustedErr) {
		t.Error("error should be RetryExhaustedError")
	} else if exhaustedErr.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", exhaustedErr.Attempts)
	}
	if !errors.Is(err, retryableErr) {
		t.Error("exhausted error should unwrap to the last failure")
	}
}

func TestRetryPolicy_CalculateDelay(t *testing.T) {
	policy := NewRetryPolicy(
		WithBaseDelay(1*time.Second),
		WithMaxDelay(30*time.Second),
		WithMultiplier(2.0),
		WithJitter(0),
	)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second}, // capped
		{10, 30 * time.Second},
	}

	for _, tt := range tests {
		if got := policy.CalculateDelay(tt.attempt); got != tt.want {
			t.Errorf("CalculateDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestRetryPolicy_Jitter(t *testing.T) {
	policy := NewRetryPolicy(
		WithBaseDelay(1*time.Second),
		WithMultiplier(2.0),
		WithJitter(0.25),
	)

	for i := 0; i < 50; i++ {
		d := policy.CalculateDelay(2)
		if d < 1500*time.Millisecond || d > 2500*time.Millisecond {
			t.Fatalf("CalculateDelay(2) = %v, want within 25%% of 2s", d)
		}
	}
}

func TestRetryPolicy_ContextCancellation(t *testing.T) {
	policy := NewRetryPolicy(WithMaxAttempts(5), WithBaseDelay(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())

	callCount := 0
	done := make(chan error, 1)
	go func() {
		done <- policy.Execute(ctx, func(ctx context.Context) error {
			callCount++
			return core.ErrModelUnavailable("llama_253b")
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Execute() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Execute() did not stop on cancellation")
	}
	if callCount != 1 {
		t.Errorf("callCount = %d, want 1", callCount)
	}
}

func TestRetryPolicy_ImmediateContextCancel(t *testing.T) {
	policy := NewRetryPolicy()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := policy.Execute(ctx, func(ctx context.Context) error {
		called = true
		return nil
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Execute() error = %v, want context.Canceled", err)
	}
	if called {
		t.Error("function should not run with a cancelled context")
	}
}

func TestRetryPolicy_ExecuteWithNotify(t *testing.T) {
	policy := NewRetryPolicy(WithMaxAttempts(3))
	recordSleeps(policy)

	var attempts []int
	err := policy.ExecuteWithNotify(context.Background(), func(ctx context.Context) error {
		return core.ErrModelUnavailable("deepseek_r1")
	}, func(attempt int, err error, delay time.Duration) {
		attempts = append(attempts, attempt)
		if !core.IsRetryable(err) {
			t.Errorf("notify got non-retryable error %v", err)
		}
	})

	if !IsRetryExhausted(err) {
		t.Errorf("error = %v, want RetryExhaustedError", err)
	}
	if len(attempts) != 2 || attempts[0] != 1 || attempts[1] != 2 {
		t.Errorf("notified attempts = %v, want [1 2]", attempts)
	}
}

func TestDefaultRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy()

	if p.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", p.MaxAttempts)
	}
	if p.BaseDelay != time.Second {
		t.Errorf("BaseDelay = %v, want 1s", p.BaseDelay)
	}
	if p.Multiplier != 2.0 {
		t.Errorf("Multiplier = %v, want 2", p.Multiplier)
	}
	if p.JitterFactor != 0 {
		t.Errorf("JitterFactor = %v, want 0", p.JitterFactor)
	}
}

func TestRetryPolicy_Options(t *testing.T) {
	p := NewRetryPolicy(
		WithMaxAttempts(0),
		WithBaseDelay(50*time.Millisecond),
		WithMaxDelay(time.Second),
		WithMultiplier(3),
		WithJitter(0.1),
	)

	if p.MaxAttempts != 1 {
		t.Errorf("MaxAttempts = %d, want at least 1", p.MaxAttempts)
	}
	if p.BaseDelay != 50*time.Millisecond || p.MaxDelay != time.Second {
		t.Errorf("delays = %v/%v", p.BaseDelay, p.MaxDelay)
	}
	if p.Multiplier != 3 || p.JitterFactor != 0.1 {
		t.Errorf("multiplier/jitter = %v/%v", p.Multiplier, p.JitterFactor)
	}
}

func TestRetryExhaustedError(t *testing.T) {
	inner := errors.New("connection reset")
	err := &RetryExhaustedError{Attempts: 3, LastErr: inner}

	if err.Error() != "model call failed after 3 attempts: connection reset" {
		t.Errorf("Error() = %q", err.Error())
	}
	if !errors.Is(err, inner) {
		t.Error("RetryExhaustedError should unwrap to LastErr")
	}
	if IsRetryExhausted(inner) {
		t.Error("IsRetryExhausted(inner) = true, want false")
	}
}

type throttleErr struct{ wait time.Duration }

func (e throttleErr) Error() string             { return "provider returned status 429" }
func (e throttleErr) RetryAfter() time.Duration { return e.wait }

func TestRetryPolicy_HonorsProviderRetryAfter(t *testing.T) {
	policy := NewRetryPolicy(WithMaxAttempts(3), WithMaxDelay(10*time.Second))
	delays := recordSleeps(policy)

	calls := 0
	err := policy.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		wait := 5 * time.Second
		if calls == 2 {
			wait = time.Minute
		}
		return core.ErrModelUnavailable("kimi_k2").WithCause(throttleErr{wait: wait})
	})

	if !IsRetryExhausted(err) {
		t.Fatalf("Execute() error = %v, want exhausted", err)
	}
	// The first wait is stretched to the hint, the second capped at MaxDelay.
	want := []time.Duration{5 * time.Second, 10 * time.Second}
	if len(*delays) != len(want) {
		t.Fatalf("delays = %v, want %v", *delays, want)
	}
	for i := range want {
		if (*delays)[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, (*delays)[i], want[i])
		}
	}
}

func TestRetryPolicy_ShortHintKeepsBackoff(t *testing.T) {
	policy := NewRetryPolicy(WithMaxAttempts(2), WithBaseDelay(3*time.Second))
	delays := recordSleeps(policy)

	_ = policy.Execute(context.Background(), func(ctx context.Context) error {
		return core.ErrModelUnavailable("kimi_k2").WithCause(throttleErr{wait: time.Second})
	})

	if len(*delays) != 1 || (*delays)[0] != 3*time.Second {
		t.Errorf("delays = %v, want [3s]", *delays)
	}
}
