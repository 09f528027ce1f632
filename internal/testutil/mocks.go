package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/scribo-app/scribo/internal/core"
)

// MockCall records a call to a mock.
type MockCall struct {
	Method    string
	Args      interface{}
	Timestamp time.Time
}

// MockChatClient implements core.ChatClient for testing.
type MockChatClient struct {
	completeFunc func(context.Context, core.ChatRequest) (*core.ChatResponse, error)
	calls        []MockCall
	mu           sync.Mutex
}

// NewMockChatClient creates a chat client that echoes a canned answer.
func NewMockChatClient() *MockChatClient {
	return &MockChatClient{calls: make([]MockCall, 0)}
}

// Complete mocks a chat completion.
func (m *MockChatClient) Complete(ctx context.Context, req core.ChatRequest) (*core.ChatResponse, error) {
	m.recordCall("Complete", req)
	m.mu.Lock()
	fn := m.completeFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	return &core.ChatResponse{
		Content:   fmt.Sprintf("Mock response from %s\nNOTA FINAL: 800/1000", req.Model),
		Model:     req.Model,
		TokensIn:  100,
		TokensOut: 50,
	}, nil
}

// WithCompleteFunc sets a custom completion function.
func (m *MockChatClient) WithCompleteFunc(fn func(context.Context, core.ChatRequest) (*core.ChatResponse, error)) *MockChatClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completeFunc = fn
	return m
}

// WithResponse configures a fixed answer.
func (m *MockChatClient) WithResponse(content string) *MockChatClient {
	return m.WithCompleteFunc(func(ctx context.Context, req core.ChatRequest) (*core.ChatResponse, error) {
		return &core.ChatResponse{
			Content:   content,
			Model:     req.Model,
			TokensIn:  100,
			TokensOut: len(content) / 4,
		}, nil
	})
}

// WithError configures the mock to fail every call.
func (m *MockChatClient) WithError(err error) *MockChatClient {
	return m.WithCompleteFunc(func(ctx context.Context, req core.ChatRequest) (*core.ChatResponse, error) {
		return nil, err
	})
}

// Calls returns recorded calls.
func (m *MockChatClient) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall{}, m.calls...)
}

// CallCount returns the number of completions requested.
func (m *MockChatClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *MockChatClient) recordCall(method string, args interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{
		Method:    method,
		Args:      args,
		Timestamp: time.Now(),
	})
}

// MockReply is one scripted answer of a MockInvoker.
type MockReply struct {
	Output string
	Err    error
	Delay  time.Duration
}

// ErrMockUnavailable is a retryable model failure for scripted replies.
var ErrMockUnavailable = errors.New("mock model unavailable")

// MockInvoker implements core.Invoker with per-model scripted replies. Each
// call consumes the next reply of its model; the last reply repeats.
type MockInvoker struct {
	replies  map[string][]MockReply
	fallback *MockReply
	calls    []core.InvokeRequest
	mu       sync.Mutex
}

// NewMockInvoker creates an invoker that fails models without a script.
func NewMockInvoker() *MockInvoker {
	return &MockInvoker{replies: make(map[string][]MockReply)}
}

// On scripts the replies of one model.
func (m *MockInvoker) On(modelID string, replies ...MockReply) *MockInvoker {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies[modelID] = append(m.replies[modelID], replies...)
	return m
}

// Always makes a model answer output on every call.
func (m *MockInvoker) Always(modelID, output string) *MockInvoker {
	return m.On(modelID, MockReply{Output: output})
}

// Fail makes a model fail every call with a retryable unavailability error.
func (m *MockInvoker) Fail(modelID string) *MockInvoker {
	return m.On(modelID, MockReply{Err: core.ErrModelUnavailable(modelID).WithCause(ErrMockUnavailable)})
}

// Default sets the reply of models without a script.
func (m *MockInvoker) Default(reply MockReply) *MockInvoker {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = &reply
	return m
}

// Invoke returns the next scripted reply of the model.
func (m *MockInvoker) Invoke(ctx context.Context, req core.InvokeRequest) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	reply, ok := m.next(req.ModelID)
	m.mu.Unlock()

	if !ok {
		return "", core.ErrModelUnavailable(req.ModelID).WithCause(ErrMockUnavailable)
	}
	if reply.Delay > 0 {
		timer := time.NewTimer(reply.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
		}
	}
	if reply.Err != nil {
		return "", reply.Err
	}
	return reply.Output, nil
}

func (m *MockInvoker) next(modelID string) (MockReply, bool) {
	script := m.replies[modelID]
	switch {
	case len(script) > 1:
		m.replies[modelID] = script[1:]
		return script[0], true
	case len(script) == 1:
		return script[0], true
	case m.fallback != nil:
		return *m.fallback, true
	default:
		return MockReply{}, false
	}
}

// Calls returns every request received.
func (m *MockInvoker) Calls() []core.InvokeRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.InvokeRequest{}, m.calls...)
}

// CallCount returns the calls made to one model, or all calls for "".
func (m *MockInvoker) CallCount(modelID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if modelID == "" {
		return len(m.calls)
	}
	count := 0
	for _, c := range m.calls {
		if c.ModelID == modelID {
			count++
		}
	}
	return count
}

// Reset clears call history.
func (m *MockInvoker) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// MemoryUsageLogger implements core.UsageLogger in memory.
type MemoryUsageLogger struct {
	records []core.UsageRecord
	err     error
	mu      sync.Mutex
}

// NewMemoryUsageLogger creates an empty usage log.
func NewMemoryUsageLogger() *MemoryUsageLogger {
	return &MemoryUsageLogger{}
}

// LogUsage stores the record, or returns the configured error.
func (l *MemoryUsageLogger) LogUsage(ctx context.Context, rec core.UsageRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.records = append(l.records, rec)
	return nil
}

// WithError makes every LogUsage call fail.
func (l *MemoryUsageLogger) WithError(err error) *MemoryUsageLogger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.err = err
	return l
}

// Records returns the stored records.
func (l *MemoryUsageLogger) Records() []core.UsageRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]core.UsageRecord{}, l.records...)
}
