package simulation

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/synthagora/agora/pkg/agent"
	"github.com/synthagora/agora/pkg/core"
	agerr "github.com/synthagora/agora/pkg/errors"
	"github.com/synthagora/agora/pkg/executor"
	"github.com/synthagora/agora/pkg/llm"
	"github.com/synthagora/agora/pkg/memory"
	"github.com/synthagora/agora/pkg/platform"
	"github.com/synthagora/agora/pkg/ranking"
	"github.com/synthagora/agora/pkg/resilience"
	"github.com/synthagora/agora/pkg/tools"
	"github.com/synthagora/agora/pkg/tracker"
)

const gardenScenario = `
name: garden
agents:
  - username: alice
    bio: gardener
    follows: [bob]
  - username: bob
    follows: [alice]
  - username: carol
    active: false
posts:
  - author: bob
    title: Garden Update
    content: The beans are up.
`

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

// agentProvider routes model calls to a per-agent script.
type agentProvider map[string]llm.Provider

func (p agentProvider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	name, _ := core.Agent(ctx)
	if prov, ok := p[name]; ok {
		return prov.Chat(ctx, req)
	}
	return nil, errors.New("no script for " + name)
}

type fixture struct {
	svc         *platform.Service
	tracker     *tracker.Tracker
	feed        *ranking.FeedBuilder
	exec        *executor.Executor
	transcripts *memory.InMemoryConversation
	agents      []*agent.Agent
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store, err := platform.OpenSQLite(ctx, filepath.Join(t.TempDir(), "agora.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	clock := &stepClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	svc := platform.NewService(store, platform.WithClock(clock.Now))

	sc, err := ParseScenario([]byte(gardenScenario))
	if err != nil {
		t.Fatalf("parse scenario: %v", err)
	}
	if _, err := sc.Seed(ctx, svc, nil); err != nil {
		t.Fatalf("seed: %v", err)
	}
	agents, err := sc.BuildAgents()
	if err != nil {
		t.Fatalf("build agents: %v", err)
	}

	tr := tracker.New(tracker.DefaultConfig())
	feed := ranking.NewFeedBuilder(svc, ranking.New(ranking.DefaultConfig()))
	svc.RegisterOperation(platform.OpUserFeed, ranking.FeedOperation(feed))
	return &fixture{
		svc:         svc,
		tracker:     tr,
		feed:        feed,
		exec:        executor.New(tools.DefaultRegistry(), tr, svc, executor.WithDirectory(svc)),
		transcripts: memory.NewInMemoryConversation(memory.ConversationConfig{}),
		agents:      agents,
	}
}

func (f *fixture) runner(provider llm.Provider, settings Settings, opts ...Option) *Runner {
	opts = append([]Option{WithTranscripts(f.transcripts), WithRetry(fastRetry())}, opts...)
	return New(Components{
		Executor: f.exec,
		Tracker:  f.tracker,
		Feed:     f.feed,
		Provider: provider,
	}, settings, opts...)
}

func fastRetry() resilience.RetryConfig {
	return resilience.DefaultRetryConfig().
		WithInitialDelay(time.Millisecond).
		WithMaxDelay(2 * time.Millisecond)
}

func quickSettings(turns int) Settings {
	s := DefaultSettings()
	s.Turns = turns
	s.RequestsPerSecond = 0
	s.ModelTimeout = 5 * time.Second
	return s
}

func TestRunExecutesModelToolCalls(t *testing.T) {
	f := newFixture(t)

	alice := llm.NewScriptedMockProvider()
	alice.AddToolCalls(llm.NewToolCall("like_post", map[string]any{"title": "garden update"}))
	alice.AddToolCalls(llm.NewToolCall("create_post", map[string]any{"title": "Tomatoes", "content": "Ripe at last."}))
	bob := llm.NewScriptedMockProvider()
	bob.AddToolCalls(llm.NewToolCall("follow_user", map[string]any{"username": "@carol"}))
	bob.AddResponse("Just browsing.")

	r := f.runner(agentProvider{"alice": alice, "bob": bob}, quickSettings(2))
	ctx := core.WithRunID(context.Background(), "run-1")
	report, err := r.Run(ctx, f.agents)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if report.RunID != "run-1" {
		t.Errorf("run id = %q", report.RunID)
	}
	if len(report.Turns) != 4 {
		t.Fatalf("expected 4 agent turns (carol is inactive), got %d", len(report.Turns))
	}
	for _, s := range report.Turns {
		if s.Agent == "carol" {
			t.Errorf("inactive agent played: %+v", s)
		}
		if s.ModelError != "" {
			t.Errorf("unexpected model error: %+v", s)
		}
	}
	if diff := cmp.Diff(map[executor.Outcome]int{executor.OutcomeSuccess: 3}, report.Calls()); diff != "" {
		t.Errorf("outcomes mismatch (-want +got):\n%s", diff)
	}

	first := report.Turns[0]
	want := []CallSummary{{Tool: "like_post", Outcome: executor.OutcomeSuccess, Message: `Liked post "Garden Update" (1 like)`}}
	if diff := cmp.Diff(want, first.Calls); diff != "" {
		t.Errorf("alice turn 1 mismatch (-want +got):\n%s", diff)
	}
	if report.Turns[3].Reply != "Just browsing." {
		t.Errorf("bob turn 2 reply = %q", report.Turns[3].Reply)
	}

	req := alice.Requests[0]
	if len(req.Tools) != len(tools.DefaultRegistry().Names()) {
		t.Errorf("expected every tool offered, got %d", len(req.Tools))
	}
	if !strings.Contains(req.Messages[0].Content, "@alice") {
		t.Errorf("system prompt does not name the agent: %q", req.Messages[0].Content)
	}
	if !strings.Contains(req.Messages[len(req.Messages)-1].Content, `"Garden Update" by @bob`) {
		t.Errorf("turn prompt does not list the feed: %q", req.Messages[len(req.Messages)-1].Content)
	}

	// The second request replays the first turn.
	second := alice.Requests[1].Messages
	var sawTool bool
	for _, m := range second {
		if m.Role == llm.RoleTool && strings.HasPrefix(m.Content, "Liked post") {
			sawTool = true
		}
	}
	if !sawTool {
		t.Error("turn 2 history does not include the turn 1 tool result")
	}

	if n := len(f.tracker.Actions("alice")); n != 2 {
		t.Errorf("expected 2 tracked actions for alice, got %d", n)
	}
}

func TestTranscriptsAreRecorded(t *testing.T) {
	f := newFixture(t)
	alice := llm.NewScriptedMockProvider()
	alice.AddToolCalls(llm.NewToolCall("like_post", map[string]any{"title": "Garden Update"}))
	bob := llm.NewScriptedMockProvider("Nothing to do.")

	r := f.runner(agentProvider{"alice": alice, "bob": bob}, quickSettings(1))
	ctx := core.WithRunID(context.Background(), "run-t")
	if _, err := r.Run(ctx, f.agents); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	msgs, err := f.transcripts.GetMessages(ctx, memory.SessionID("run-t", "alice"))
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	var roles []string
	for _, m := range msgs {
		roles = append(roles, m.Role)
	}
	if diff := cmp.Diff([]string{memory.RoleUser, memory.RoleAssistant, memory.RoleTool}, roles); diff != "" {
		t.Fatalf("transcript roles mismatch (-want +got):\n%s", diff)
	}
	if msgs[1].Metadata[metaToolCalls] == "" {
		t.Error("assistant message lost its tool calls")
	}
	if msgs[2].ToolName != "like_post" || msgs[2].Metadata["outcome"] != string(executor.OutcomeSuccess) {
		t.Errorf("unexpected tool message: %+v", msgs[2])
	}
	if msgs[2].ToolCallID == "" || msgs[2].ToolCallID != firstCallID(t, msgs[1]) {
		t.Errorf("tool message is not linked to its call: %q", msgs[2].ToolCallID)
	}
}

func firstCallID(t *testing.T, m memory.ConversationMessage) string {
	t.Helper()
	history := historyMessages([]memory.ConversationMessage{m})
	if len(history[0].ToolCalls) == 0 {
		t.Fatal("no tool calls in assistant message")
	}
	return history[0].ToolCalls[0].ID
}

func TestModelFailureCostsOnlyTheTurn(t *testing.T) {
	f := newFixture(t)
	alice := &llm.MockProvider{Err: agerr.New(agerr.CodeLLMError, "model rejected request", nil)}
	bob := llm.NewScriptedMockProvider()
	bob.AddToolCalls(llm.NewToolCall("like_post", map[string]any{"title": "Garden Update"}))

	r := f.runner(agentProvider{"alice": alice, "bob": bob}, quickSettings(1))
	report, err := r.Run(context.Background(), f.agents)
	if err != nil {
		t.Fatalf("model failures must not end the run: %v", err)
	}
	if !strings.Contains(report.Turns[0].ModelError, "model rejected request") {
		t.Errorf("alice model error = %q", report.Turns[0].ModelError)
	}
	if report.Turns[0].Calls != nil {
		t.Errorf("alice should not have acted: %+v", report.Turns[0].Calls)
	}
	if got := report.Turns[1].Calls[0].Outcome; got != executor.OutcomeSuccess {
		t.Errorf("bob like outcome = %v", got)
	}
}

func TestOpenBreakerSkipsTheModel(t *testing.T) {
	f := newFixture(t)
	var calls atomic.Int32
	down := &llm.MockProvider{ChatFunc: func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		calls.Add(1)
		return nil, agerr.New(agerr.CodeLLMError, "model down", nil)
	}}
	settings := quickSettings(2)
	settings.Concurrency = 1
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{FailureThreshold: 1, Cooldown: time.Hour})

	r := f.runner(down, settings, WithBreaker(breaker))
	report, err := r.Run(context.Background(), f.agents)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("model called %d times, want 1", calls.Load())
	}
	if len(report.Turns) != 4 {
		t.Fatalf("expected 4 turn summaries, got %d", len(report.Turns))
	}
	if !strings.Contains(report.Turns[3].ModelError, "circuit breaker open") {
		t.Errorf("last model error = %q", report.Turns[3].ModelError)
	}
}

func TestNilModelResponseCostsOnlyTheTurn(t *testing.T) {
	f := newFixture(t)
	var calls atomic.Int32
	empty := &llm.MockProvider{ChatFunc: func(context.Context, llm.ChatRequest) (*llm.ChatResponse, error) {
		calls.Add(1)
		return nil, nil
	}}

	r := f.runner(agentProvider{"alice": empty, "bob": llm.NewScriptedMockProvider("ok")}, quickSettings(1))
	report, err := r.Run(context.Background(), f.agents)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("empty response retried: %d calls", calls.Load())
	}
	for _, s := range report.Turns {
		switch s.Agent {
		case "alice":
			if !strings.Contains(s.ModelError, "model returned no response") {
				t.Errorf("alice model error = %q", s.ModelError)
			}
		case "bob":
			if s.ModelError != "" || s.Reply != "ok" {
				t.Errorf("bob turn = %+v", s)
			}
		}
	}
}

func TestModelCallsAreRetried(t *testing.T) {
	f := newFixture(t)
	var attempts atomic.Int32
	alice := &llm.MockProvider{ChatFunc: func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		if attempts.Add(1) == 1 {
			return nil, agerr.New(agerr.CodeLLMError, "overloaded", nil).WithRecoverable(true)
		}
		return &llm.ChatResponse{Content: "ok"}, nil
	}}
	bob := llm.NewScriptedMockProvider("ok")

	r := f.runner(agentProvider{"alice": alice, "bob": bob}, quickSettings(1))
	report, err := r.Run(context.Background(), f.agents)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if attempts.Load() != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts.Load())
	}
	if report.Turns[0].ModelError != "" || report.Turns[0].Reply != "ok" {
		t.Errorf("unexpected alice summary: %+v", report.Turns[0])
	}
}

func TestExtraToolCallsAreDropped(t *testing.T) {
	f := newFixture(t)
	alice := llm.NewScriptedMockProvider()
	alice.AddToolCalls(
		llm.NewToolCall("like_post", map[string]any{"title": "Garden Update"}),
		llm.NewToolCall("create_comment", map[string]any{"title": "Garden Update", "content": "Lovely"}),
		llm.NewToolCall("follow_user", map[string]any{"username": "carol"}),
	)
	bob := llm.NewScriptedMockProvider("ok")

	settings := quickSettings(1)
	settings.MaxToolCalls = 2
	r := f.runner(agentProvider{"alice": alice, "bob": bob}, settings)
	report, err := r.Run(context.Background(), f.agents)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	got := report.Turns[0]
	if got.Dropped != 1 || len(got.Calls) != 2 {
		t.Fatalf("expected 2 calls and 1 dropped, got %+v", got)
	}
	if got.Calls[1].Tool != "create_comment" || got.Calls[1].Outcome != executor.OutcomeSuccess {
		t.Errorf("unexpected second call: %+v", got.Calls[1])
	}
	for _, a := range f.tracker.Actions("alice") {
		if a.Tool == "follow_user" {
			t.Error("dropped call was executed")
		}
	}
}

func TestRankingSourceIsReadEveryTurn(t *testing.T) {
	f := newFixture(t)
	var turns atomic.Int32
	source := func() ranking.Config {
		cfg := ranking.DefaultConfig()
		if turns.Add(1) > 1 {
			cfg.Weights = ranking.Weights{Temporal: 0.2, Engagement: 0.2, Social: 0.6}
		}
		return cfg
	}
	provider := agentProvider{
		"alice": llm.NewScriptedMockProvider("one", "two"),
		"bob":   llm.NewScriptedMockProvider("one", "two"),
	}
	r := f.runner(provider, quickSettings(2), WithRankingSource(source))
	if _, err := r.Run(context.Background(), f.agents); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if turns.Load() != 2 {
		t.Errorf("ranking source read %d times, want 2", turns.Load())
	}
	want := ranking.Weights{Temporal: 0.2, Engagement: 0.2, Social: 0.6}
	if got := f.feed.Ranker().Config().Weights; got != want {
		t.Errorf("weights = %+v, want %+v", got, want)
	}
}

func TestRunStopsOnCancellation(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	provider := agentProvider{
		"alice": llm.NewScriptedMockProvider("one"),
		"bob":   llm.NewScriptedMockProvider("one"),
	}
	report, err := f.runner(provider, quickSettings(3)).Run(ctx, f.agents)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if report == nil || len(report.Turns) > 2 {
		t.Errorf("run should stop after the first turn: %+v", report)
	}
}

func TestTurnPromptListsRecentActions(t *testing.T) {
	snap := tracker.Snapshot{
		Agent: "alice",
		RecentActions: []tracker.ActionRecord{{
			Tool:    "follow_user",
			Turn:    1,
			Targets: []tracker.Target{{Kind: tracker.KindUser, Label: "bob"}},
		}},
	}
	got := TurnPrompt(2, nil, snap)
	for _, want := range []string{"Turn 2.", "Your feed is empty.", "- turn 1: follow_user @bob"} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q:\n%s", want, got)
		}
	}
}
