package execution

import (
	"context"
	"sync"
)

// MockJudgeReply is what the mock backend answers in the judge role.
const MockJudgeReply = `{"correctness": 0.8, "format": 1.0, "verbosity": 0.8, "safety": 1.0, "consistency": 0.8, "overall": 0.8, "reasoning": "mock judge"}`

// MockBackend is a scripted backend that records every request. It is safe for concurrent use.
type MockBackend struct {
	respond func(ctx context.Context, req Request) (string, error)

	mu    sync.Mutex
	calls []Request
}

// NewMockBackend creates a backend that answers with respond.
func NewMockBackend(respond func(ctx context.Context, req Request) (string, error)) *MockBackend {
	return &MockBackend{respond: respond}
}

// NewStaticMockBackend creates a backend that always answers reply.
func NewStaticMockBackend(reply string) *MockBackend {
	return NewMockBackend(func(context.Context, Request) (string, error) { return reply, nil })
}

// NewEchoMockBackend answers "Mock response for: <prompt>".
func NewEchoMockBackend() *MockBackend {
	return NewMockBackend(func(_ context.Context, req Request) (string, error) {
		return "Mock response for: " + req.Prompt, nil
	})
}

func (m *MockBackend) Generate(ctx context.Context, req Request) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()

	return m.respond(ctx, req)
}

// Calls returns a copy of the recorded requests in arrival order.
func (m *MockBackend) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.calls...)
}

// CallCount returns how many requests were made.
func (m *MockBackend) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
