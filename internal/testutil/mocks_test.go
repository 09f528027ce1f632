package testutil_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/scribo-app/scribo/internal/core"
	"github.com/scribo-app/scribo/internal/testutil"
)

func TestMockChatClient_DefaultResponse(t *testing.T) {
	mock := testutil.NewMockChatClient()

	resp, err := mock.Complete(context.Background(), core.ChatRequest{Model: "m"})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if !strings.Contains(resp.Content, "NOTA FINAL") {
		t.Errorf("Content = %q, want a final score line", resp.Content)
	}
	if mock.CallCount() != 1 {
		t.Errorf("CallCount() = %d, want 1", mock.CallCount())
	}
}

func TestMockChatClient_WithResponseAndError(t *testing.T) {
	mock := testutil.NewMockChatClient().WithResponse("custom")
	resp, err := mock.Complete(context.Background(), core.ChatRequest{Model: "m"})
	if err != nil || resp.Content != "custom" {
		t.Fatalf("Complete() = %v, %v", resp, err)
	}

	want := errors.New("boom")
	mock.WithError(want)
	if _, err := mock.Complete(context.Background(), core.ChatRequest{}); !errors.Is(err, want) {
		t.Errorf("Complete() error = %v, want %v", err, want)
	}

	calls := mock.Calls()
	if len(calls) != 2 {
		t.Fatalf("len(Calls()) = %d, want 2", len(calls))
	}
	if req, ok := calls[0].Args.(core.ChatRequest); !ok || req.Model != "m" {
		t.Errorf("first call args = %#v", calls[0].Args)
	}
}

func TestMockInvoker_ScriptedReplies(t *testing.T) {
	mock := testutil.NewMockInvoker().
		On("a", testutil.MockReply{Output: "first"}, testutil.MockReply{Output: "second"}).
		Fail("b")
	ctx := context.Background()

	for _, want := range []string{"first", "second", "second"} {
		got, err := mock.Invoke(ctx, core.InvokeRequest{ModelID: "a"})
		if err != nil || got != want {
			t.Errorf("Invoke(a) = %q, %v; want %q", got, err, want)
		}
	}

	_, err := mock.Invoke(ctx, core.InvokeRequest{ModelID: "b"})
	if !core.IsRetryable(err) {
		t.Errorf("Invoke(b) error = %v, want retryable", err)
	}

	_, err = mock.Invoke(ctx, core.InvokeRequest{ModelID: "unscripted"})
	if !errors.Is(err, testutil.ErrMockUnavailable) {
		t.Errorf("Invoke(unscripted) error = %v, want ErrMockUnavailable", err)
	}

	if got := mock.CallCount("a"); got != 3 {
		t.Errorf("CallCount(a) = %d, want 3", got)
	}
	if got := mock.CallCount(""); got != 5 {
		t.Errorf("CallCount() = %d, want 5", got)
	}

	mock.Reset()
	if len(mock.Calls()) != 0 {
		t.Error("Reset() kept call history")
	}
}

func TestMockInvoker_DefaultAndDelay(t *testing.T) {
	mock := testutil.NewMockInvoker().Default(testutil.MockReply{Output: "slow", Delay: time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := mock.Invoke(ctx, core.InvokeRequest{ModelID: "any"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Invoke() error = %v, want deadline exceeded", err)
	}
}

func TestMemoryUsageLogger(t *testing.T) {
	log := testutil.NewMemoryUsageLogger()
	ctx := context.Background()

	if err := log.LogUsage(ctx, core.UsageRecord{ModelID: "m", Success: true}); err != nil {
		t.Fatalf("LogUsage() error = %v", err)
	}
	if got := log.Records(); len(got) != 1 || got[0].ModelID != "m" {
		t.Errorf("Records() = %+v", got)
	}

	log.WithError(errors.New("disk full"))
	if err := log.LogUsage(ctx, core.UsageRecord{ModelID: "m"}); err == nil {
		t.Error("LogUsage() expected error")
	}
	if len(log.Records()) != 1 {
		t.Error("failed LogUsage must not store the record")
	}
}
