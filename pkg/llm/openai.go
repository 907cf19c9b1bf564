package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	agerr "github.com/synthagora/agora/pkg/errors"
)

// OpenAIProvider implements Provider for OpenAI and OpenAI-compatible
// servers such as vLLM or LM Studio.
type OpenAIProvider struct {
	client openai.Client
}

// NewOpenAI creates a provider. An empty apiKey falls back to OPENAI_API_KEY
// and an empty baseURL to the public API.
func NewOpenAI(baseURL, apiKey string, opts ...option.RequestOption) *OpenAIProvider {
	var base []option.RequestOption
	if baseURL != "" {
		base = append(base, option.WithBaseURL(baseURL))
	}
	if apiKey != "" {
		base = append(base, option.WithAPIKey(apiKey))
	}
	// Retries are the caller's concern.
	base = append(base, option.WithMaxRetries(0))
	return &OpenAIProvider{client: openai.NewClient(append(base, opts...)...)}
}

// Chat implements Provider.
func (p *OpenAIProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, msg := range req.Messages {
		messages = append(messages, toOpenAIMessage(msg))
	}
	params := openai.ChatCompletionNewParams{
		Model:    req.Model,
		Messages: messages,
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if len(req.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolParam, 0, len(req.Tools))
		for _, tool := range req.Tools {
			t, err := toOpenAITool(tool)
			if err != nil {
				return nil, err
			}
			tools = append(tools, t)
		}
		params.Tools = tools
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, openAIError(err)
	}
	return fromOpenAICompletion(completion), nil
}

func openAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		recoverable := apiErr.StatusCode >= http.StatusInternalServerError || apiErr.StatusCode == http.StatusTooManyRequests
		return agerr.New(agerr.CodeLLMError, "openai chat completion failed", err).
			WithContext("status", apiErr.StatusCode).
			WithRecoverable(recoverable)
	}
	return agerr.New(agerr.CodeLLMError, "openai request failed", err).WithRecoverable(true)
}

func toOpenAIMessage(msg Message) openai.ChatCompletionMessageParamUnion {
	switch msg.Role {
	case RoleSystem:
		return openai.SystemMessage(msg.Content)
	case RoleAssistant:
		if len(msg.ToolCalls) == 0 {
			return openai.AssistantMessage(msg.Content)
		}
		calls := make([]openai.ChatCompletionMessageToolCallParam, 0, len(msg.ToolCalls))
		for _, tc := range msg.ToolCalls {
			calls = append(calls, openai.ChatCompletionMessageToolCallParam{
				ID:   tc.ID,
				Type: "function",
				Function: openai.ChatCompletionMessageToolCallFunctionParam{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		assistant := openai.ChatCompletionAssistantMessageParam{ToolCalls: calls}
		if msg.Content != "" {
			assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
				OfString: param.NewOpt(msg.Content),
			}
		}
		return openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant}
	case RoleTool:
		return openai.ToolMessage(msg.Content, msg.ToolCallID)
	default:
		return openai.UserMessage(msg.Content)
	}
}

func toOpenAITool(tool Tool) (openai.ChatCompletionToolParam, error) {
	raw, err := json.Marshal(tool.Function.Parameters)
	if err != nil {
		return openai.ChatCompletionToolParam{}, agerr.New(agerr.CodeLLMError, "encode tool parameters", err).
			WithContext("tool", tool.Function.Name)
	}
	var params openai.FunctionParameters
	if err := json.Unmarshal(raw, &params); err != nil {
		return openai.ChatCompletionToolParam{}, agerr.New(agerr.CodeLLMError, "tool parameters are not an object", err).
			WithContext("tool", tool.Function.Name)
	}
	return openai.ChatCompletionToolParam{
		Type: "function",
		Function: openai.FunctionDefinitionParam{
			Name:        tool.Function.Name,
			Description: openai.String(tool.Function.Description),
			Parameters:  params,
		},
	}, nil
}

func fromOpenAICompletion(completion *openai.ChatCompletion) *ChatResponse {
	resp := &ChatResponse{
		Usage: Usage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
		},
	}
	if len(completion.Choices) == 0 {
		return resp
	}
	msg := completion.Choices[0].Message
	resp.Content = msg.Content
	for _, tc := range msg.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{
			ID:   tc.ID,
			Type: ToolTypeFunction,
			Function: FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	return resp
}
