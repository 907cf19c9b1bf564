// Copyright 2026 © The Agora Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry provides logging, tracing and metrics for simulation runs.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Semantic conventions for agora telemetry.
const (
	// Simulation attributes
	AttrAgent  = "agora.agent"
	AttrRunID  = "agora.run.id"
	AttrTurn   = "agora.turn"
	AttrAgents = "agora.agents.count"

	// Tool attributes
	AttrToolName       = "agora.tool.name"
	AttrToolOperation  = "agora.tool.operation"
	AttrToolOutcome    = "agora.tool.outcome"
	AttrToolDurationMs = "agora.tool.duration_ms"
	AttrToolArgs       = "agora.tool.arguments"
	AttrFailureKind    = "agora.tool.failure_kind"
	AttrToolsCount     = "agora.tools.count"

	// Resolution attributes
	AttrResolutionKind   = "agora.resolution.kind"
	AttrResolutionStatus = "agora.resolution.status"

	// Feed attributes
	AttrFeedCandidates = "agora.feed.candidates"
	AttrFeedReturned   = "agora.feed.returned"

	// LLM attributes (extending standard gen_ai conventions)
	AttrLLMModel        = "gen_ai.request.model"
	AttrLLMMessages     = "gen_ai.request.messages"
	AttrLLMTokensInput  = "gen_ai.usage.input_tokens"
	AttrLLMTokensOutput = "gen_ai.usage.output_tokens"
	AttrLLMTokensTotal  = "gen_ai.usage.total_tokens"
	AttrLLMToolCalls    = "gen_ai.tool_calls"
)

// TurnAttributes returns common attributes for agent turn spans.
func TurnAttributes(agent, runID string, turn int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrAgent, agent),
		attribute.Int(AttrTurn, turn),
	}
	if runID != "" {
		attrs = append(attrs, attribute.String(AttrRunID, runID))
	}
	return attrs
}

// ToolCallAttributes returns attributes for a tool execution span.
func ToolCallAttributes(name, operation, outcome, failureKind string, durationMs float64) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrToolName, name),
		attribute.String(AttrToolOutcome, outcome),
		attribute.Float64(AttrToolDurationMs, durationMs),
	}
	if operation != "" {
		attrs = append(attrs, attribute.String(AttrToolOperation, operation))
	}
	if failureKind != "" {
		attrs = append(attrs, attribute.String(AttrFailureKind, failureKind))
	}
	return attrs
}

// ToolArgsAttribute returns the raw arguments, truncated to maxLen bytes.
func ToolArgsAttribute(args string, maxLen int) attribute.KeyValue {
	if maxLen <= 0 {
		maxLen = 500
	}
	if len(args) > maxLen {
		args = args[:maxLen] + "..."
	}
	return attribute.String(AttrToolArgs, args)
}

// ResolutionAttributes returns attributes for a reference resolution.
func ResolutionAttributes(kind, status string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrResolutionKind, kind),
		attribute.String(AttrResolutionStatus, status),
	}
}

// FeedAttributes returns attributes describing a ranked feed.
func FeedAttributes(candidates, returned int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(AttrFeedCandidates, candidates),
		attribute.Int(AttrFeedReturned, returned),
	}
}

// LLMAttributes returns attributes for model call spans.
func LLMAttributes(model string, msgCount, toolCount int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrLLMModel, model),
		attribute.Int(AttrLLMMessages, msgCount),
	}
	if toolCount > 0 {
		attrs = append(attrs, attribute.Int(AttrToolsCount, toolCount))
	}
	return attrs
}

// LLMUsageAttributes returns token usage attributes.
func LLMUsageAttributes(inputTokens, outputTokens, toolCalls int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{}
	if inputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensInput, inputTokens))
	}
	if outputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensOutput, outputTokens))
	}
	if inputTokens > 0 || outputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensTotal, inputTokens+outputTokens))
	}
	if toolCalls > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMToolCalls, toolCalls))
	}
	return attrs
}
