package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// ScriptedMockProvider is a mock provider that returns a pre-defined sequence of responses.
// Useful for driving simulation turns without a model.
type ScriptedMockProvider struct {
	mu        sync.Mutex
	Responses []ChatResponse
	Err       error
	// Requests keeps every request received, in order.
	Requests []ChatRequest
	// CallCount tracks how many times Chat has been called
	CallCount int
}

// NewScriptedMockProvider creates a ScriptedMockProvider that answers with the
// given plain-text contents.
func NewScriptedMockProvider(contents ...string) *ScriptedMockProvider {
	s := &ScriptedMockProvider{}
	for _, c := range contents {
		s.Responses = append(s.Responses, ChatResponse{Content: c})
	}
	return s
}

// Chat pops the next scripted response or returns the configured error.
func (s *ScriptedMockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.CallCount++
	s.Requests = append(s.Requests, req)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Err != nil {
		return nil, s.Err
	}
	if len(s.Responses) == 0 {
		return nil, errors.New("scripted mock: no more responses available")
	}

	resp := s.Responses[0]
	s.Responses = s.Responses[1:]
	resp.Usage = Usage{PromptTokens: 10, CompletionTokens: 10, TotalTokens: 20}
	return &resp, nil
}

// AddResponse appends a plain-text response to the queue.
func (s *ScriptedMockProvider) AddResponse(content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Responses = append(s.Responses, ChatResponse{Content: content})
}

// AddToolCalls appends a response requesting the given calls.
func (s *ScriptedMockProvider) AddToolCalls(calls ...ToolCall) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Responses = append(s.Responses, ChatResponse{ToolCalls: calls})
}

// Pending returns the number of responses left.
func (s *ScriptedMockProvider) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Responses)
}

// NewToolCall builds a function tool call with args encoded as JSON.
// It panics if args cannot be encoded.
func NewToolCall(name string, args map[string]any) ToolCall {
	raw, err := json.Marshal(args)
	if err != nil {
		panic(fmt.Sprintf("llm: encode arguments for %s: %v", name, err))
	}
	return ToolCall{
		Type:     ToolTypeFunction,
		Function: FunctionCall{Name: name, Arguments: string(raw)},
	}
}
