package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"

	"go.opentelemetry.io/otel/trace"

	agerr "github.com/synthagora/agora/pkg/errors"
	"github.com/synthagora/agora/pkg/llm"
	"github.com/synthagora/agora/pkg/telemetry"
)

// ExecuteTurn runs calls for agent one after another, in order. Once ctx is
// done the remaining calls are reported as cancelled without running; effects
// of calls that already completed stay committed.
func (e *Executor) ExecuteTurn(ctx context.Context, agent string, calls []Call) []Result {
	results := make([]Result, 0, len(calls))
	for _, call := range calls {
		if err := ctx.Err(); err != nil {
			results = append(results, e.cancelled(ctx, agent, call))
			continue
		}
		results = append(results, e.Execute(ctx, agent, call))
	}
	return results
}

// ExecuteLLMTurn is ExecuteTurn for tool calls as the model emitted them.
func (e *Executor) ExecuteLLMTurn(ctx context.Context, agent string, calls []llm.ToolCall) []Result {
	results := make([]Result, 0, len(calls))
	for _, tc := range calls {
		if err := ctx.Err(); err != nil {
			results = append(results, e.cancelled(ctx, agent, Call{ID: tc.ID, Name: tc.Function.Name}))
			continue
		}
		results = append(results, e.ExecuteLLM(ctx, agent, tc))
	}
	return results
}

// cancelled reports a call skipped because ctx is done. It goes through the
// same span, metric, log and audit path as an executed call.
func (e *Executor) cancelled(ctx context.Context, agent string, call Call) Result {
	start := e.now()
	turn := e.turnOf(ctx, agent)
	ctx, span := e.tracer.Start(ctx, "Executor.Execute", trace.WithAttributes(
		telemetry.TurnAttributes(agent, runID(ctx), turn)...,
	))
	var op string
	if def, ok := e.registry.Resolve(call.Name); ok {
		op = def.Operation
	}
	res := ExecutionFailed{Tool: call.Name, Kind: KindCancelled, Detail: ctx.Err().Error()}
	e.finish(ctx, span, agent, turn, call, op, res, start)
	return res
}

// CallFromLLM decodes a model tool call. Numbers are kept as json.Number so
// large identifiers survive.
func CallFromLLM(tc llm.ToolCall) (Call, error) {
	call := Call{ID: tc.ID, Name: tc.Function.Name, Arguments: map[string]any{}}
	raw := strings.TrimSpace(tc.Function.Arguments)
	if raw == "" || raw == "null" {
		return call, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	if err := dec.Decode(&call.Arguments); err != nil {
		return call, agerr.New(agerr.CodeInvalidInput, "tool arguments are not a JSON object", err).
			WithContext("tool", tc.Function.Name)
	}
	return call, nil
}

// ExecuteLLM decodes and executes a model tool call. The tool is looked up
// before the arguments are inspected, so an unknown tool is reported as such
// even when its arguments are garbage. Undecodable arguments for a known tool
// are an invalid UnresolvedArgument.
func (e *Executor) ExecuteLLM(ctx context.Context, agent string, tc llm.ToolCall) Result {
	call, err := CallFromLLM(tc)
	if err != nil {
		call.Arguments = map[string]any{}
		call.decodeErr = err
	}
	return e.Execute(ctx, agent, call)
}
