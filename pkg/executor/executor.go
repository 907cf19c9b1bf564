// Copyright 2026 © The Agora Authors
// SPDX-License-Identifier: Apache-2.0

// Package executor turns an agent's semantic tool call into one data facade
// operation.
//
// Execute runs a fixed pipeline: look the tool up, validate and resolve its
// arguments against the agent's context, call the facade, record the action.
// Every step before the facade call is read-only, so a call that fails to
// resolve leaves no trace in the store or in the tracker.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/synthagora/agora/pkg/audit"
	"github.com/synthagora/agora/pkg/core"
	"github.com/synthagora/agora/pkg/platform"
	"github.com/synthagora/agora/pkg/telemetry"
	"github.com/synthagora/agora/pkg/tools"
	"github.com/synthagora/agora/pkg/tracker"
)

// Facade runs named data operations.
type Facade interface {
	Invoke(ctx context.Context, op string, args platform.Args) (platform.Outcome, error)
	HasOperation(op string) bool
}

// Directory answers exact, read-only lookups used when a reference is not in
// the agent's context.
type Directory interface {
	LookupUser(ctx context.Context, username string) (platform.User, error)
	LookupCommunity(ctx context.Context, name string) (platform.Community, error)
}

// Call is one tool invocation requested by an agent.
type Call struct {
	ID        string
	Name      string
	Arguments map[string]any

	// decodeErr is set by ExecuteLLM when the model's argument text was
	// not a JSON object.
	decodeErr error
}

// Executor executes tool calls on behalf of agents.
type Executor struct {
	registry  *tools.Registry
	tracker   *tracker.Tracker
	facade    Facade
	directory Directory
	policy    AmbiguityPolicy
	audit     audit.Store
	metrics   *telemetry.ToolMetrics
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithAmbiguityPolicy sets how ambiguous references are handled.
func WithAmbiguityPolicy(p AmbiguityPolicy) Option {
	return func(e *Executor) {
		if p != "" {
			e.policy = p
		}
	}
}

// WithDirectory enables the directory fallback for user and community
// references that are not in the agent's context.
func WithDirectory(d Directory) Option {
	return func(e *Executor) { e.directory = d }
}

// WithAudit records every outcome in store.
func WithAudit(store audit.Store) Option {
	return func(e *Executor) { e.audit = store }
}

// WithMetrics records execution metrics.
func WithMetrics(m *telemetry.ToolMetrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithLogger sets the executor logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock sets the clock used for audit timestamps and latency.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

// New returns an Executor over registry, tracker and facade.
func New(registry *tools.Registry, tr *tracker.Tracker, facade Facade, opts ...Option) *Executor {
	e := &Executor{
		registry: registry,
		tracker:  tr,
		facade:   facade,
		policy:   AmbiguityMostRecent,
		logger:   slog.Default(),
		tracer:   otel.Tracer("agora/executor"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the registry the executor resolves tools from.
func (e *Executor) Registry() *tools.Registry { return e.registry }

// Execute runs one call for agent. It never panics; every failure is reported
// as a Result.
func (e *Executor) Execute(ctx context.Context, agent string, call Call) (res Result) {
	start := e.now()
	turn := e.turnOf(ctx, agent)
	ctx, span := e.tracer.Start(ctx, "Executor.Execute", trace.WithAttributes(
		telemetry.TurnAttributes(agent, runID(ctx), turn)...,
	))
	if raw, err := json.Marshal(call.Arguments); err == nil {
		span.SetAttributes(telemetry.ToolArgsAttribute(string(raw), 0))
	}
	var op string
	defer func() {
		if r := recover(); r != nil {
			e.logger.ErrorContext(ctx, "executor.execute.panic",
				slog.String("agent", agent),
				slog.String("tool", call.Name),
				slog.Any("panic", r),
			)
			res = ExecutionFailed{Tool: call.Name, Kind: KindInternal, Detail: fmt.Sprint(r)}
		}
		e.finish(ctx, span, agent, turn, call, op, res, start)
	}()

	def, ok := e.registry.Resolve(call.Name)
	if !ok {
		return UnknownTool{Name: call.Name}
	}
	op = def.Operation
	if call.decodeErr != nil {
		return UnresolvedArgument{Tool: def.Name, Reason: ReasonInvalid, Detail: "arguments are not a JSON object"}
	}

	values, unresolved := e.bind(ctx, agent, def, call.Arguments)
	if unresolved != nil {
		return unresolved
	}
	if !e.facade.HasOperation(def.Operation) {
		return ExecutionFailed{
			Tool:   def.Name,
			Kind:   KindInternal,
			Detail: fmt.Sprintf("operation %q is not available", def.Operation),
		}
	}
	if err := ctx.Err(); err != nil {
		return ExecutionFailed{Tool: def.Name, Kind: KindCancelled, Detail: err.Error()}
	}

	args := facadeArgs(def, agent, values)
	out, err := e.facade.Invoke(ctx, def.Operation, args)
	if err != nil {
		return failure(def.Name, err)
	}

	action := e.tracker.RecordAction(agent, tracker.ActionRecord{
		Tool:      def.Name,
		Arguments: args,
		Targets:   actionTargets(def, values, out),
		Turn:      turn,
		Outcome:   string(OutcomeSuccess),
	})
	if seen := visibility(out); len(seen) > 0 {
		e.tracker.RecordVisibility(agent, seen, turn)
	}
	return Success{
		Tool:    def.Name,
		Message: confirmation(def, values, out.Message),
		Payload: out.Data,
		Action:  action,
	}
}

func (e *Executor) finish(ctx context.Context, span trace.Span, agent string, turn int, call Call, op string, res Result, start time.Time) {
	defer span.End()
	elapsed := e.now().Sub(start)
	outcome := string(res.Outcome())
	var kind string
	switch r := res.(type) {
	case ExecutionFailed:
		kind = string(r.Kind)
		span.SetStatus(codes.Error, r.Detail)
	case UnresolvedArgument:
		kind = string(r.Reason)
	}
	span.SetAttributes(telemetry.ToolCallAttributes(call.Name, op, outcome, kind, float64(elapsed.Microseconds())/1000)...)
	e.metrics.RecordExecution(ctx, call.Name, outcome, kind, elapsed)

	attrs := []any{
		slog.String("agent", agent),
		slog.String("tool", call.Name),
		slog.String("outcome", outcome),
		slog.Duration("elapsed", elapsed),
	}
	if kind != "" {
		attrs = append(attrs, slog.String("kind", kind))
	}
	switch res.(type) {
	case Success:
		e.logger.DebugContext(ctx, "executor.execute", attrs...)
	case ExecutionFailed:
		e.logger.WarnContext(ctx, "executor.execute.failed", attrs...)
	default:
		e.logger.InfoContext(ctx, "executor.execute.rejected", attrs...)
	}

	if e.audit == nil {
		return
	}
	event := audit.Event{
		RunID:     runID(ctx),
		Agent:     agent,
		Turn:      turn,
		Tool:      call.Name,
		Arguments: call.Arguments,
		Outcome:   outcome,
		Kind:      kind,
		Message:   res.Text(),
		StartedAt: start,
		Duration:  elapsed,
	}
	if s, ok := res.(Success); ok {
		event.Arguments = s.Action.Arguments
	}
	// A cancelled turn still gets its audit trail.
	if err := e.audit.Record(context.WithoutCancel(ctx), event); err != nil {
		e.logger.WarnContext(ctx, "executor.audit.failed", slog.String("tool", call.Name), slog.String("error", err.Error()))
	}
}

func (e *Executor) turnOf(ctx context.Context, agent string) int {
	if turn, ok := core.Turn(ctx); ok {
		return turn
	}
	return e.tracker.Turn(agent)
}

func runID(ctx context.Context) string {
	id, _ := core.RunID(ctx)
	return id
}

// actionTargets lists the resolved references of the call followed by any
// entity the operation created, so later calls can refer to it.
func actionTargets(def tools.Definition, values map[string]bound, out platform.Outcome) []tracker.Target {
	var targets []tracker.Target
	seen := make(map[tracker.Target]bool)
	add := func(t tracker.Target) {
		key := tracker.Target{Kind: t.Kind, ID: t.ID}
		if seen[key] {
			return
		}
		seen[key] = true
		targets = append(targets, t)
	}
	for _, p := range def.Params {
		if b, ok := values[p.Name]; ok && b.target != nil {
			add(*b.target)
		}
	}
	switch data := out.Data.(type) {
	case platform.Post:
		if !data.IsComment() {
			add(postTarget(data))
		}
	case platform.Community:
		add(communityTarget(data))
	}
	return targets
}

func visibility(out platform.Outcome) []tracker.VisibilityRecord {
	var items []tracker.VisibilityRecord
	for _, p := range out.Posts {
		if p.IsComment() {
			continue
		}
		items = append(items, tracker.VisibilityRecord{Target: postTarget(p), Snippet: snippet(p.Content)})
	}
	for _, u := range out.Users {
		items = append(items, tracker.VisibilityRecord{
			Target: tracker.Target{Kind: tracker.KindUser, ID: u.ID, Label: u.Username},
		})
	}
	for _, c := range out.Communities {
		items = append(items, tracker.VisibilityRecord{Target: communityTarget(c), Snippet: c.Description})
	}
	return items
}

func snippet(s string) string {
	const max = 160
	r := []rune(strings.TrimSpace(s))
	if len(r) <= max {
		return string(r)
	}
	return string(r[:max]) + "..."
}

func postTarget(p platform.Post) tracker.Target {
	return tracker.Target{Kind: tracker.KindPost, ID: p.ID, Label: p.Title, Author: p.AuthorUsername}
}

func communityTarget(c platform.Community) tracker.Target {
	return tracker.Target{Kind: tracker.KindCommunity, ID: c.ID, Label: c.Name}
}

func confirmation(def tools.Definition, values map[string]bound, message string) string {
	if def.Confirm == "" {
		return message
	}
	pairs := []string{"{result}", message}
	for name, b := range values {
		pairs = append(pairs, "{"+name+"}", b.label)
	}
	return strings.NewReplacer(pairs...).Replace(def.Confirm)
}
