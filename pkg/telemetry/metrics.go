// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ToolMetrics tracks tool execution outcomes, reference resolution and model calls.
// A nil *ToolMetrics is valid and records nothing.
type ToolMetrics struct {
	executions  metric.Int64Counter
	resolutions metric.Int64Counter
	duration    metric.Float64Histogram
	modelCalls  metric.Int64Counter
	turns       metric.Int64Counter
}

// NewToolMetrics creates the instruments on the global meter provider.
func NewToolMetrics(ctx context.Context) (*ToolMetrics, error) {
	meter := otel.Meter("agora/executor")

	executions, err := meter.Int64Counter(
		"agora.tool.executions",
		metric.WithDescription("Tool executions by tool, outcome and failure kind"),
	)
	if err != nil {
		return nil, err
	}

	resolutions, err := meter.Int64Counter(
		"agora.tool.resolutions",
		metric.WithDescription("Reference resolutions by target kind and status"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"agora.tool.duration",
		metric.WithDescription("Tool execution latency"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	modelCalls, err := meter.Int64Counter(
		"agora.model.calls",
		metric.WithDescription("Model calls by status"),
	)
	if err != nil {
		return nil, err
	}

	turns, err := meter.Int64Counter(
		"agora.simulation.turns",
		metric.WithDescription("Completed agent turns"),
	)
	if err != nil {
		return nil, err
	}

	return &ToolMetrics{
		executions:  executions,
		resolutions: resolutions,
		duration:    duration,
		modelCalls:  modelCalls,
		turns:       turns,
	}, nil
}

// RecordExecution counts one tool execution and its latency. kind is empty
// for successful calls.
func (m *ToolMetrics) RecordExecution(ctx context.Context, tool, outcome, kind string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String(AttrToolName, tool),
		attribute.String(AttrToolOutcome, outcome),
	}
	if kind != "" {
		attrs = append(attrs, attribute.String(AttrFailureKind, kind))
	}
	m.executions.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.duration.Record(ctx, float64(elapsed)/float64(time.Millisecond), metric.WithAttributes(attribute.String(AttrToolName, tool)))
}

// RecordResolution counts one reference lookup.
func (m *ToolMetrics) RecordResolution(ctx context.Context, kind, status string) {
	if m == nil {
		return
	}
	m.resolutions.Add(ctx, 1, metric.WithAttributes(ResolutionAttributes(kind, status)...))
}

// RecordModelCall counts one model call.
func (m *ToolMetrics) RecordModelCall(ctx context.Context, model string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.modelCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrLLMModel, model),
		attribute.String("status", status),
	))
}

// RecordTurn counts one completed agent turn.
func (m *ToolMetrics) RecordTurn(ctx context.Context, agent string) {
	if m == nil {
		return
	}
	m.turns.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrAgent, agent)))
}
