package llm

import (
	"context"
	"strings"
	"sync/atomic"
)

// MockProvider answers every request with the same reply. It backs the
// "mock" provider used for dry runs and tests. Safe for concurrent agents.
type MockProvider struct {
	Response  string
	ToolCalls []ToolCall
	Err       error
	// ChatFunc, when set, replaces the canned behaviour.
	ChatFunc func(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	calls atomic.Int64
}

func (m *MockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	m.calls.Add(1)
	if m.ChatFunc != nil {
		return m.ChatFunc(ctx, req)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prompt := 0
	for _, msg := range req.Messages {
		prompt += len(strings.Fields(msg.Content))
	}
	completion := len(strings.Fields(m.Response))
	return &ChatResponse{
		Content: m.Response,
		// Callers assign IDs in place; each response gets its own slice.
		ToolCalls: append([]ToolCall(nil), m.ToolCalls...),
		Usage: Usage{
			PromptTokens:     prompt,
			CompletionTokens: completion,
			TotalTokens:      prompt + completion,
		},
	}, nil
}

// Calls returns how many requests the provider has received.
func (m *MockProvider) Calls() int {
	return int(m.calls.Load())
}
