// Copyright 2026 © The Agora Authors
// SPDX-License-Identifier: Apache-2.0

// Package simulation drives agents through turns: each turn an agent reads
// its ranked feed, asks the model what to do and has the resulting tool calls
// executed against the platform.
package simulation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/synthagora/agora/pkg/agent"
	"github.com/synthagora/agora/pkg/core"
	agerr "github.com/synthagora/agora/pkg/errors"
	"github.com/synthagora/agora/pkg/executor"
	"github.com/synthagora/agora/pkg/llm"
	"github.com/synthagora/agora/pkg/memory"
	"github.com/synthagora/agora/pkg/ranking"
	"github.com/synthagora/agora/pkg/resilience"
	"github.com/synthagora/agora/pkg/telemetry"
	"github.com/synthagora/agora/pkg/tracker"
)

// Settings bound a run.
type Settings struct {
	Turns        int
	Concurrency  int
	FeedLimit    int
	MaxToolCalls int
	HistorySize  int

	Model             string
	Temperature       float64
	ModelTimeout      time.Duration
	RequestsPerSecond float64
}

// DefaultSettings mirrors the configuration defaults.
func DefaultSettings() Settings {
	return Settings{
		Turns:             5,
		Concurrency:       4,
		FeedLimit:         10,
		MaxToolCalls:      5,
		HistorySize:       20,
		ModelTimeout:      60 * time.Second,
		RequestsPerSecond: 2,
	}
}

// Components are the collaborators a Runner drives.
type Components struct {
	Executor *executor.Executor
	Tracker  *tracker.Tracker
	Feed     *ranking.FeedBuilder
	Provider llm.Provider
}

// Runner executes simulation turns.
type Runner struct {
	executor    *executor.Executor
	tracker     *tracker.Tracker
	feed        *ranking.FeedBuilder
	provider    llm.Provider
	transcripts memory.ConversationMemory
	settings    Settings
	retry       resilience.RetryConfig
	breaker     *resilience.CircuitBreaker
	limiter     *rate.Limiter
	rankingFn   func() ranking.Config
	lastRanking ranking.Config
	metrics     *telemetry.ToolMetrics
	logger      *slog.Logger
	tracer      trace.Tracer
}

// Option configures a Runner.
type Option func(*Runner)

// WithTranscripts stores every agent's prompts, answers and tool results.
func WithTranscripts(m memory.ConversationMemory) Option {
	return func(r *Runner) {
		if m != nil {
			r.transcripts = m
		}
	}
}

// WithRetry sets the retry policy for model calls.
func WithRetry(rc resilience.RetryConfig) Option {
	return func(r *Runner) { r.retry = rc }
}

// WithBreaker sets the circuit breaker guarding model calls.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(r *Runner) {
		if cb != nil {
			r.breaker = cb
		}
	}
}

// WithRankingSource makes the runner re-read the ranking configuration
// before every turn, so weight changes apply to the next turn.
func WithRankingSource(fn func() ranking.Config) Option {
	return func(r *Runner) { r.rankingFn = fn }
}

// WithMetrics records turn and model call metrics.
func WithMetrics(m *telemetry.ToolMetrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithLogger sets the runner logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New returns a Runner over c.
func New(c Components, settings Settings, opts ...Option) *Runner {
	d := DefaultSettings()
	if settings.Turns < 0 {
		settings.Turns = 0
	}
	if settings.Concurrency <= 0 {
		settings.Concurrency = d.Concurrency
	}
	if settings.FeedLimit <= 0 {
		settings.FeedLimit = d.FeedLimit
	}
	if settings.MaxToolCalls <= 0 {
		settings.MaxToolCalls = d.MaxToolCalls
	}
	limit := rate.Inf
	if settings.RequestsPerSecond > 0 {
		limit = rate.Limit(settings.RequestsPerSecond)
	}
	r := &Runner{
		executor:    c.Executor,
		tracker:     c.Tracker,
		feed:        c.Feed,
		provider:    c.Provider,
		transcripts: memory.NewInMemoryConversation(memory.ConversationConfig{}),
		settings:    settings,
		retry:       resilience.DefaultRetryConfig(),
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			FailureThreshold: 5,
			Cooldown:         30 * time.Second,
			Name:             "llm",
		}),
		limiter: rate.NewLimiter(limit, settings.Concurrency),
		logger:  slog.Default(),
		tracer:  otel.Tracer("agora/simulation"),
	}
	for _, opt := range opts {
		opt(r)
	}
	if c.Feed != nil {
		r.lastRanking = c.Feed.Ranker().Config()
	}
	return r
}

// Report summarises a run.
type Report struct {
	RunID string
	Turns []TurnSummary
}

// Calls counts executed tool calls by outcome.
func (r *Report) Calls() map[executor.Outcome]int {
	out := make(map[executor.Outcome]int)
	for _, t := range r.Turns {
		for _, c := range t.Calls {
			out[c.Outcome]++
		}
	}
	return out
}

// TurnSummary is what one agent did in one turn.
type TurnSummary struct {
	Agent string
	Turn  int
	Feed  int
	// Reply is any text the model produced besides tool calls.
	Reply      string
	Calls      []CallSummary
	Dropped    int
	ModelError string
}

// CallSummary is the outcome of one tool call.
type CallSummary struct {
	Tool    string
	Outcome executor.Outcome
	Message string
}

// Run plays settings.Turns turns for every active agent. Agents within a turn
// run concurrently; turns run one after another. Model failures cost the
// agent its turn; store failures and cancellation end the run.
func (r *Runner) Run(ctx context.Context, agents []*agent.Agent) (*Report, error) {
	ctx, runID := core.EnsureRunID(ctx)
	report := &Report{RunID: runID}
	ctx, span := r.tracer.Start(ctx, "Runner.Run", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.Int("simulation.turns", r.settings.Turns),
		attribute.Int("simulation.agents", len(agents)),
	))
	defer span.End()

	r.logger.InfoContext(ctx, "simulation.run.start",
		slog.String("run_id", runID),
		slog.Int("agents", len(agents)),
		slog.Int("turns", r.settings.Turns),
	)

	active := make([]*agent.Agent, 0, len(agents))
	for _, a := range agents {
		if a.Active() {
			active = append(active, a)
		}
	}

	for turn := 1; turn <= r.settings.Turns; turn++ {
		r.refreshRanking(ctx)
		summaries := make([]TurnSummary, len(active))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.settings.Concurrency)
		for i, a := range active {
			g.Go(func() error {
				s, err := r.Turn(gctx, a, turn)
				summaries[i] = s
				return err
			})
		}
		err := g.Wait()
		report.Turns = append(report.Turns, summaries...)
		if err == nil {
			err = ctx.Err()
		}
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			r.logger.ErrorContext(ctx, "simulation.run.error",
				slog.String("run_id", runID),
				slog.Int("turn", turn),
				slog.String("error", err.Error()),
			)
			return report, err
		}
	}

	r.logger.InfoContext(ctx, "simulation.run.complete",
		slog.String("run_id", runID),
		slog.Int("agent_turns", len(report.Turns)),
	)
	return report, nil
}

func (r *Runner) refreshRanking(ctx context.Context) {
	if r.rankingFn == nil || r.feed == nil {
		return
	}
	cfg := r.rankingFn()
	if cfg == r.lastRanking {
		return
	}
	r.lastRanking = cfg
	r.feed.SetRanker(ranking.New(cfg))
	w := cfg.Weights
	r.logger.InfoContext(ctx, "simulation.ranking.reloaded",
		slog.Float64("temporal", w.Temporal),
		slog.Float64("engagement", w.Engagement),
		slog.Float64("social", w.Social),
	)
}

// Turn plays one turn for a. The returned error is non-nil only for failures
// that should stop the run.
func (r *Runner) Turn(ctx context.Context, a *agent.Agent, turn int) (TurnSummary, error) {
	name := a.Username()
	summary := TurnSummary{Agent: name, Turn: turn}
	ctx = core.WithTurn(core.WithAgent(ctx, name), turn)
	runID, _ := core.RunID(ctx)
	session := memory.SessionID(runID, name)

	ctx, span := r.tracer.Start(ctx, "Runner.Turn", trace.WithAttributes(
		telemetry.TurnAttributes(name, runID, turn)...,
	))
	defer span.End()

	if err := ctx.Err(); err != nil {
		return summary, err
	}
	r.tracker.BeginTurn(name, turn)
	r.metrics.RecordTurn(ctx, name)

	items, _, err := r.feed.Feed(ctx, name, r.settings.FeedLimit)
	if err != nil {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		span.SetStatus(codes.Error, err.Error())
		return summary, agerr.New(agerr.CodeInternal, "build feed", err).WithContext("agent", name)
	}
	summary.Feed = len(items)
	span.SetAttributes(telemetry.FeedAttributes(len(items), len(items))...)
	r.tracker.RecordVisibility(name, feedVisibility(items), turn)

	history, err := r.transcripts.GetRecentMessages(ctx, session, r.settings.HistorySize)
	if err != nil {
		return summary, agerr.New(agerr.CodeInternal, "load transcript", err).WithContext("agent", name)
	}
	prompt := TurnPrompt(turn, items, r.tracker.Snapshot(name))
	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.SystemMessage(SystemPrompt(a, r.settings.MaxToolCalls)))
	messages = append(messages, historyMessages(history)...)
	messages = append(messages, llm.UserMessage(prompt))
	if err := r.record(ctx, session, memory.ConversationMessage{Role: memory.RoleUser, Content: prompt, Turn: turn}); err != nil {
		return summary, err
	}

	resp, err := r.complete(ctx, llm.ChatRequest{
		Model:       r.settings.Model,
		Messages:    messages,
		Tools:       r.executor.Registry().LLMTools(),
		Temperature: r.settings.Temperature,
	})
	if err != nil {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		summary.ModelError = err.Error()
		r.logger.WarnContext(ctx, "simulation.turn.model_failed",
			slog.String("agent", name),
			slog.Int("turn", turn),
			slog.String("error", err.Error()),
		)
		return summary, nil
	}

	calls := resp.ToolCalls
	if len(calls) > r.settings.MaxToolCalls {
		summary.Dropped = len(calls) - r.settings.MaxToolCalls
		calls = calls[:r.settings.MaxToolCalls]
		r.logger.InfoContext(ctx, "simulation.turn.calls_dropped",
			slog.String("agent", name),
			slog.Int("dropped", summary.Dropped),
		)
	}
	llm.AssignToolCallIDs(calls, fmt.Sprintf("call_%d", turn))
	summary.Reply = resp.Content
	if err := r.record(ctx, session, memory.ConversationMessage{
		Role:     memory.RoleAssistant,
		Content:  resp.Content,
		Turn:     turn,
		Metadata: encodeToolCalls(calls),
	}); err != nil {
		return summary, err
	}

	results := r.executor.ExecuteLLMTurn(ctx, name, calls)
	for i, res := range results {
		summary.Calls = append(summary.Calls, CallSummary{
			Tool:    calls[i].Function.Name,
			Outcome: res.Outcome(),
			Message: res.Text(),
		})
		if err := r.record(ctx, session, memory.ConversationMessage{
			Role:       memory.RoleTool,
			Content:    res.Text(),
			ToolCallID: calls[i].ID,
			ToolName:   calls[i].Function.Name,
			Turn:       turn,
			Metadata:   map[string]string{"outcome": string(res.Outcome())},
		}); err != nil {
			return summary, err
		}
	}

	r.logger.DebugContext(ctx, "simulation.turn.complete",
		slog.String("agent", name),
		slog.Int("turn", turn),
		slog.Int("feed", summary.Feed),
		slog.Int("calls", len(summary.Calls)),
	)
	return summary, nil
}

// complete asks the model for the agent's next move under the rate limit,
// the circuit breaker, a per-attempt timeout and the retry policy.
func (r *Runner) complete(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	ctx, span := r.tracer.Start(ctx, "Runner.Model", trace.WithAttributes(
		telemetry.LLMAttributes(req.Model, len(req.Messages), len(req.Tools))...,
	))
	defer span.End()

	retry := r.retry
	retry.OnRetry = func(attempt int, err error, delay time.Duration) {
		r.logger.InfoContext(ctx, "simulation.model.retry",
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
	}
	resp, err := resilience.Retry(ctx, retry, func(ctx context.Context) (*llm.ChatResponse, error) {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, agerr.New(agerr.CodeContextLost, "waiting for model rate limit", err)
		}
		return resilience.Guard(ctx, r.breaker, func(ctx context.Context) (*llm.ChatResponse, error) {
			return resilience.CallWithTimeout(ctx, r.settings.ModelTimeout, func(ctx context.Context) (*llm.ChatResponse, error) {
				resp, err := r.provider.Chat(ctx, req)
				if err == nil && resp == nil {
					return nil, agerr.New(agerr.CodeLLMError, "model returned no response", nil)
				}
				return resp, err
			})
		})
	})
	r.metrics.RecordModelCall(ctx, req.Model, err)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(telemetry.LLMUsageAttributes(resp.Usage.PromptTokens, resp.Usage.CompletionTokens, len(resp.ToolCalls))...)
	return resp, nil
}

func (r *Runner) record(ctx context.Context, session string, msg memory.ConversationMessage) error {
	if err := r.transcripts.AppendMessage(ctx, session, msg); err != nil {
		return agerr.New(agerr.CodeInternal, "append transcript", err).WithContext("session", session)
	}
	return nil
}

func feedVisibility(items []ranking.ScoredItem) []tracker.VisibilityRecord {
	out := make([]tracker.VisibilityRecord, 0, len(items))
	for _, it := range items {
		c := it.Candidate
		out = append(out, tracker.VisibilityRecord{
			Target:  tracker.Target{Kind: tracker.KindPost, ID: c.PostID, Label: c.Title, Author: c.AuthorUsername},
			Snippet: c.Snippet,
		})
	}
	return out
}
