package executor

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/synthagora/agora/pkg/audit"
	agerr "github.com/synthagora/agora/pkg/errors"
	"github.com/synthagora/agora/pkg/llm"
	"github.com/synthagora/agora/pkg/platform"
	"github.com/synthagora/agora/pkg/tools"
	"github.com/synthagora/agora/pkg/tracker"
)

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

type fixture struct {
	svc     *platform.Service
	tracker *tracker.Tracker
	exec    *Executor
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	store, err := platform.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "agora.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	clock := &stepClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	svc := platform.NewService(store, platform.WithClock(clock.Now))
	tr := tracker.New(tracker.DefaultConfig())
	for _, name := range []string{"alice", "bob", "carol"} {
		if _, err := svc.CreateUser(context.Background(), name, ""); err != nil {
			t.Fatalf("create user %s: %v", name, err)
		}
	}
	return &fixture{svc: svc, tracker: tr, exec: New(tools.DefaultRegistry(), tr, svc, opts...)}
}

func (f *fixture) post(t *testing.T, author, title string) platform.Post {
	t.Helper()
	p, err := f.svc.CreatePost(context.Background(), author, title, "body of "+title)
	if err != nil {
		t.Fatalf("create post: %v", err)
	}
	return p
}

func (f *fixture) show(agent string, turn int, posts ...platform.Post) {
	items := make([]tracker.VisibilityRecord, 0, len(posts))
	for _, p := range posts {
		items = append(items, tracker.VisibilityRecord{
			Target: tracker.Target{Kind: tracker.KindPost, ID: p.ID, Label: p.Title, Author: p.AuthorUsername},
		})
	}
	f.tracker.RecordVisibility(agent, items, turn)
}

func (f *fixture) reactions(t *testing.T, id int64) int {
	t.Helper()
	p, err := f.svc.PostDetails(context.Background(), id)
	if err != nil {
		t.Fatalf("post details: %v", err)
	}
	return p.ReactionCount
}

func TestLikeVisiblePost(t *testing.T) {
	f := newFixture(t)
	hello := f.post(t, "bob", "Hello World")
	f.show("alice", 1, hello)

	res := f.exec.Execute(context.Background(), "alice", Call{Name: "like_post", Arguments: map[string]any{"title": "hello world"}})
	ok, isSuccess := res.(Success)
	if !isSuccess {
		t.Fatalf("expected success, got %#v", res)
	}
	if ok.Message != `Liked post "Hello World" (1 like)` {
		t.Errorf("unexpected message: %q", ok.Message)
	}
	if ok.Action.Tool != "like_post" || ok.Action.Turn != 1 || ok.Action.Agent != "alice" {
		t.Errorf("unexpected action: %+v", ok.Action)
	}
	if got := ok.Action.Arguments["post_id"]; got != hello.ID {
		t.Errorf("post_id = %v, want %d", got, hello.ID)
	}
	wantTargets := []tracker.Target{{Kind: tracker.KindPost, ID: hello.ID, Label: "Hello World", Author: "bob"}}
	if diff := cmp.Diff(wantTargets, ok.Action.Targets); diff != "" {
		t.Errorf("targets mismatch (-want +got):\n%s", diff)
	}
	if n := len(f.tracker.Actions("alice")); n != 1 {
		t.Errorf("expected 1 recorded action, got %d", n)
	}
	if n := f.reactions(t, hello.ID); n != 1 {
		t.Errorf("expected 1 reaction, got %d", n)
	}
}

func TestUnseenPostIsNotResolved(t *testing.T) {
	f := newFixture(t)
	hidden := f.post(t, "bob", "Secret Plans")
	f.show("alice", 1, f.post(t, "bob", "Hello World"))

	res := f.exec.Execute(context.Background(), "alice", Call{Name: "like_post", Arguments: map[string]any{"title": "Secret Plans"}})
	want := UnresolvedArgument{Tool: "like_post", Parameter: "title", Reason: ReasonNotFound, Value: "Secret Plans"}
	if diff := cmp.Diff(Result(want), res); diff != "" {
		t.Fatalf("result mismatch (-want +got):\n%s", diff)
	}
	if n := f.reactions(t, hidden.ID); n != 0 {
		t.Errorf("unresolved call wrote %d reactions", n)
	}
	if n := len(f.tracker.Actions("alice")); n != 0 {
		t.Errorf("unresolved call recorded %d actions", n)
	}
}

func TestAmbiguousTitle(t *testing.T) {
	f := newFixture(t)
	older := f.post(t, "bob", "Update")
	newer := f.post(t, "carol", "Update")
	f.show("alice", 1, older)
	f.show("alice", 2, newer)

	res := f.exec.Execute(context.Background(), "alice", Call{Name: "like_post", Arguments: map[string]any{"title": "Update"}})
	s, ok := res.(Success)
	if !ok {
		t.Fatalf("expected success under most-recent policy, got %#v", res)
	}
	if s.Action.Targets[0].ID != newer.ID {
		t.Errorf("expected most recent post %d, got %d", newer.ID, s.Action.Targets[0].ID)
	}

	strict := newFixture(t, WithAmbiguityPolicy(AmbiguityReject))
	a := strict.post(t, "bob", "Update")
	b := strict.post(t, "carol", "Update")
	strict.show("alice", 1, a, b)
	res = strict.exec.Execute(context.Background(), "alice", Call{Name: "like_post", Arguments: map[string]any{"title": "Update"}})
	u, ok := res.(UnresolvedArgument)
	if !ok || u.Reason != ReasonAmbiguous {
		t.Fatalf("expected ambiguous, got %#v", res)
	}
	var ids []int64
	for _, c := range u.Candidates {
		ids = append(ids, c.ID)
	}
	if diff := cmp.Diff([]int64{b.ID, a.ID}, ids); diff != "" {
		t.Errorf("candidates mismatch (-want +got):\n%s", diff)
	}
	if strict.reactions(t, a.ID)+strict.reactions(t, b.ID) != 0 {
		t.Error("ambiguous call must not write")
	}
}

func TestUnknownTool(t *testing.T) {
	f := newFixture(t)
	res := f.exec.Execute(context.Background(), "alice", Call{Name: "teleport"})
	if diff := cmp.Diff(Result(UnknownTool{Name: "teleport"}), res); diff != "" {
		t.Fatalf("result mismatch (-want +got):\n%s", diff)
	}
	if f.tracker.State("alice") != tracker.StateUninitialized {
		t.Error("unknown tool must not create agent context")
	}
}

func TestArgumentValidation(t *testing.T) {
	f := newFixture(t)
	hello := f.post(t, "bob", "Hello World")
	f.show("alice", 1, hello)

	tests := []struct {
		name   string
		call   Call
		param  string
		reason Reason
	}{
		{"missing reference", Call{Name: "like_post"}, "title", ReasonMissing},
		{"blank reference", Call{Name: "like_post", Arguments: map[string]any{"title": "  "}}, "title", ReasonMissing},
		{"reference not text", Call{Name: "like_post", Arguments: map[string]any{"title": 42}}, "title", ReasonInvalid},
		{"bad integer", Call{Name: "search_posts", Arguments: map[string]any{"query": "x", "limit": "many"}}, "limit", ReasonInvalid},
		{"bad enum", Call{Name: "react_to_post", Arguments: map[string]any{"title": "Hello World", "reaction_type": "angry"}}, "reaction_type", ReasonInvalid},
		{"missing text", Call{Name: "create_post", Arguments: map[string]any{"title": "No body"}}, "content", ReasonMissing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := f.exec.Execute(context.Background(), "alice", tt.call)
			u, ok := res.(UnresolvedArgument)
			if !ok {
				t.Fatalf("expected unresolved argument, got %#v", res)
			}
			if u.Parameter != tt.param || u.Reason != tt.reason {
				t.Errorf("got %s/%s, want %s/%s", u.Parameter, u.Reason, tt.param, tt.reason)
			}
		})
	}
	if n := len(f.tracker.Actions("alice")); n != 0 {
		t.Errorf("invalid calls recorded %d actions", n)
	}
}

func TestEnumAndDefaults(t *testing.T) {
	f := newFixture(t)
	hello := f.post(t, "bob", "Hello World")
	f.show("alice", 1, hello)

	res := f.exec.Execute(context.Background(), "alice", Call{Name: "react_to_post", Arguments: map[string]any{"title": "Hello World", "reaction_type": "LOVE"}})
	s, ok := res.(Success)
	if !ok {
		t.Fatalf("expected success, got %#v", res)
	}
	if s.Action.Arguments["reaction_type"] != "love" {
		t.Errorf("expected canonical enum value, got %v", s.Action.Arguments["reaction_type"])
	}

	res = f.exec.Execute(context.Background(), "alice", Call{Name: "search_posts", Arguments: map[string]any{"query": "Hello"}})
	s, ok = res.(Success)
	if !ok {
		t.Fatalf("expected success, got %#v", res)
	}
	if s.Action.Arguments["limit"] != int64(10) {
		t.Errorf("expected default limit, got %#v", s.Action.Arguments["limit"])
	}
}

func TestFacadeFailures(t *testing.T) {
	f := newFixture(t)
	hello := f.post(t, "bob", "Hello World")
	f.show("alice", 1, hello)
	f.tracker.RecordVisibility("alice", []tracker.VisibilityRecord{
		{Target: tracker.Target{Kind: tracker.KindUser, ID: 3, Label: "carol"}},
	}, 1)
	ctx := context.Background()

	res := f.exec.Execute(ctx, "alice", Call{Name: "delete_post", Arguments: map[string]any{"title": "Hello World"}})
	if fail, ok := res.(ExecutionFailed); !ok || fail.Kind != KindPermissionDenied {
		t.Fatalf("expected permission_denied, got %#v", res)
	}

	res = f.exec.Execute(ctx, "alice", Call{Name: "follow_user", Arguments: map[string]any{"username": "@carol"}})
	if s, ok := res.(Success); !ok || s.Message != "You are now following @carol." {
		t.Fatalf("expected follow confirmation, got %#v", res)
	}
	res = f.exec.Execute(ctx, "alice", Call{Name: "follow_user", Arguments: map[string]any{"username": "carol"}})
	if fail, ok := res.(ExecutionFailed); !ok || fail.Kind != KindConflict {
		t.Fatalf("expected conflict, got %#v", res)
	}

	// get_feed is backed by an operation this facade does not register.
	res = f.exec.Execute(ctx, "alice", Call{Name: "get_feed"})
	if fail, ok := res.(ExecutionFailed); !ok || fail.Kind != KindInternal {
		t.Fatalf("expected internal, got %#v", res)
	}
	if n := len(f.tracker.Actions("alice")); n != 1 {
		t.Errorf("expected only the follow to be recorded, got %d actions", n)
	}
}

func TestDirectoryFallback(t *testing.T) {
	f := newFixture(t)
	res := f.exec.Execute(context.Background(), "alice", Call{Name: "follow_user", Arguments: map[string]any{"username": "carol"}})
	if u, ok := res.(UnresolvedArgument); !ok || u.Reason != ReasonNotFound {
		t.Fatalf("expected not_found without directory, got %#v", res)
	}

	f.exec = New(tools.DefaultRegistry(), f.tracker, f.svc, WithDirectory(f.svc))
	res = f.exec.Execute(context.Background(), "alice", Call{Name: "follow_user", Arguments: map[string]any{"username": "@carol"}})
	s, ok := res.(Success)
	if !ok {
		t.Fatalf("expected success with directory, got %#v", res)
	}
	if s.Action.Targets[0].Label != "carol" {
		t.Errorf("unexpected target: %+v", s.Action.Targets[0])
	}

	res = f.exec.Execute(context.Background(), "alice", Call{Name: "follow_user", Arguments: map[string]any{"username": "nobody"}})
	if u, ok := res.(UnresolvedArgument); !ok || u.Reason != ReasonNotFound {
		t.Fatalf("expected not_found for unknown user, got %#v", res)
	}

	hidden := f.post(t, "bob", "Hidden")
	res = f.exec.Execute(context.Background(), "alice", Call{Name: "like_post", Arguments: map[string]any{"title": "Hidden"}})
	if _, ok := res.(UnresolvedArgument); !ok {
		t.Fatalf("posts must never resolve through the directory, got %#v", res)
	}
	if n := f.reactions(t, hidden.ID); n != 0 {
		t.Errorf("expected no reactions, got %d", n)
	}
}

func TestCreateThenCommentInOneTurn(t *testing.T) {
	f := newFixture(t)
	results := f.exec.ExecuteTurn(context.Background(), "alice", []Call{
		{Name: "create_post", Arguments: map[string]any{"title": "Fresh Take", "content": "hot off the press"}},
		{Name: "create_comment", Arguments: map[string]any{"title": "fresh take", "content": "replying to myself"}},
	})
	for i, res := range results {
		if res.Outcome() != OutcomeSuccess {
			t.Fatalf("call %d: expected success, got %#v", i, res)
		}
	}
	created := results[0].(Success).Payload.(platform.Post)
	details, err := f.svc.PostDetails(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("post details: %v", err)
	}
	if details.CommentCount != 1 {
		t.Errorf("expected 1 comment, got %d", details.CommentCount)
	}
}

type cancellingFacade struct {
	*platform.Service
	cancel context.CancelFunc
}

func (c cancellingFacade) Invoke(ctx context.Context, op string, args platform.Args) (platform.Outcome, error) {
	out, err := c.Service.Invoke(ctx, op, args)
	c.cancel()
	return out, err
}

func TestExecuteTurnStopsAfterCancellation(t *testing.T) {
	f := newFixture(t)
	first := f.post(t, "bob", "First")
	second := f.post(t, "bob", "Second")
	f.show("alice", 1, first, second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	exec := New(tools.DefaultRegistry(), f.tracker, cancellingFacade{Service: f.svc, cancel: cancel})
	results := exec.ExecuteTurn(ctx, "alice", []Call{
		{Name: "like_post", Arguments: map[string]any{"title": "First"}},
		{Name: "like_post", Arguments: map[string]any{"title": "Second"}},
	})
	if results[0].Outcome() != OutcomeSuccess {
		t.Fatalf("first call: expected success, got %#v", results[0])
	}
	if fail, ok := results[1].(ExecutionFailed); !ok || fail.Kind != KindCancelled {
		t.Fatalf("second call: expected cancelled, got %#v", results[1])
	}
	if f.reactions(t, first.ID) != 1 || f.reactions(t, second.ID) != 0 {
		t.Error("expected only the first like to be committed")
	}
}

type panickingFacade struct{}

func (panickingFacade) Invoke(context.Context, string, platform.Args) (platform.Outcome, error) {
	panic("boom")
}

func (panickingFacade) HasOperation(string) bool { return true }

func TestExecuteRecoversPanics(t *testing.T) {
	tr := tracker.New(tracker.DefaultConfig())
	exec := New(tools.DefaultRegistry(), tr, panickingFacade{})
	res := exec.Execute(context.Background(), "alice", Call{Name: "get_trending"})
	fail, ok := res.(ExecutionFailed)
	if !ok || fail.Kind != KindInternal {
		t.Fatalf("expected internal failure, got %#v", res)
	}
	if len(tr.Actions("alice")) != 0 {
		t.Error("panicking call must not be recorded")
	}
}

func TestViewRecordsVisibility(t *testing.T) {
	f := newFixture(t)
	f.post(t, "bob", "Gardening Tips")

	res := f.exec.Execute(context.Background(), "alice", Call{Name: "search_posts", Arguments: map[string]any{"query": "garden"}})
	if res.Outcome() != OutcomeSuccess {
		t.Fatalf("expected success, got %#v", res)
	}
	res = f.exec.Execute(context.Background(), "alice", Call{Name: "like_post", Arguments: map[string]any{"title": "gardening"}})
	if res.Outcome() != OutcomeSuccess {
		t.Fatalf("search results should be resolvable, got %#v", res)
	}
}

func TestAuditTrail(t *testing.T) {
	store := audit.NewMemoryStore()
	f := newFixture(t, WithAudit(store))
	f.show("alice", 1, f.post(t, "bob", "Hello World"))
	ctx := context.Background()

	f.exec.Execute(ctx, "alice", Call{Name: "like_post", Arguments: map[string]any{"title": "Hello World"}})
	f.exec.Execute(ctx, "alice", Call{Name: "like_post", Arguments: map[string]any{"title": "Nope"}})

	events, err := store.List(ctx, audit.Filter{Agent: "alice"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var outcomes []string
	for _, ev := range events {
		outcomes = append(outcomes, ev.Outcome+"/"+ev.Kind)
	}
	want := []string{"success/", "unresolved_argument/not_found"}
	if diff := cmp.Diff(want, outcomes); diff != "" {
		t.Errorf("audit mismatch (-want +got):\n%s", diff)
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{agerr.Newf(agerr.CodeNotFound, "gone"), KindNotFound},
		{agerr.Newf(agerr.CodeConflict, "dup"), KindConflict},
		{agerr.Newf(agerr.CodePermissionDenied, "no"), KindPermissionDenied},
		{agerr.Newf(agerr.CodeInvalidInput, "bad"), KindInvalidInput},
		{agerr.New(agerr.CodeInternal, "db", context.Canceled), KindCancelled},
		{context.DeadlineExceeded, KindCancelled},
		{errors.New("disk on fire"), KindInternal},
	}
	for _, tt := range tests {
		if got := KindOf(tt.err); got != tt.want {
			t.Errorf("KindOf(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestCallFromLLM(t *testing.T) {
	call, err := CallFromLLM(llm.ToolCall{
		ID:       "call-1",
		Function: llm.FunctionCall{Name: "search_posts", Arguments: `{"query":"go","limit":5}`},
	})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if call.Name != "search_posts" || call.Arguments["query"] != "go" {
		t.Fatalf("unexpected call: %+v", call)
	}
	if _, err := CallFromLLM(llm.ToolCall{Function: llm.FunctionCall{Name: "x", Arguments: "[1,2]"}}); err == nil {
		t.Fatal("expected error for non-object arguments")
	}
	empty, err := CallFromLLM(llm.ToolCall{Function: llm.FunctionCall{Name: "get_trending"}})
	if err != nil || len(empty.Arguments) != 0 {
		t.Fatalf("expected empty arguments, got %+v, %v", empty, err)
	}
}

func TestExecuteLLMMalformedArguments(t *testing.T) {
	store := audit.NewMemoryStore()
	f := newFixture(t, WithAudit(store))
	ctx := context.Background()

	results := f.exec.ExecuteLLMTurn(ctx, "alice", []llm.ToolCall{
		{ID: "c1", Function: llm.FunctionCall{Name: "teleport", Arguments: "{not json"}},
		{ID: "c2", Function: llm.FunctionCall{Name: "like_post", Arguments: "{not json"}},
	})

	if _, ok := results[0].(UnknownTool); !ok {
		t.Errorf("unregistered tool: expected UnknownTool, got %#v", results[0])
	}
	bad, ok := results[1].(UnresolvedArgument)
	if !ok || bad.Reason != ReasonInvalid || bad.Tool != "like_post" {
		t.Fatalf("malformed arguments: expected invalid UnresolvedArgument, got %#v", results[1])
	}
	if got := bad.Text(); got != "Invalid arguments for like_post: arguments are not a JSON object." {
		t.Errorf("Text() = %q", got)
	}

	events, err := store.List(ctx, audit.Filter{Agent: "alice"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var outcomes []string
	for _, ev := range events {
		outcomes = append(outcomes, ev.Tool+":"+ev.Outcome+"/"+ev.Kind)
	}
	want := []string{"teleport:unknown_tool/", "like_post:unresolved_argument/invalid"}
	if diff := cmp.Diff(want, outcomes); diff != "" {
		t.Errorf("audit mismatch (-want +got):\n%s", diff)
	}
}

func TestCancelledCallsAreAudited(t *testing.T) {
	store := audit.NewMemoryStore()
	f := newFixture(t)
	first := f.post(t, "bob", "First")
	second := f.post(t, "bob", "Second")
	f.show("alice", 1, first, second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	exec := New(tools.DefaultRegistry(), f.tracker, cancellingFacade{Service: f.svc, cancel: cancel}, WithAudit(store))
	exec.ExecuteLLMTurn(ctx, "alice", []llm.ToolCall{
		{ID: "c1", Function: llm.FunctionCall{Name: "like_post", Arguments: `{"title":"First"}`}},
		{ID: "c2", Function: llm.FunctionCall{Name: "like_post", Arguments: `{"title":"Second"}`}},
	})

	events, err := store.List(context.Background(), audit.Filter{Agent: "alice"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var outcomes []string
	for _, ev := range events {
		outcomes = append(outcomes, ev.Outcome+"/"+ev.Kind)
	}
	want := []string{"success/", "execution_failed/cancelled"}
	if diff := cmp.Diff(want, outcomes); diff != "" {
		t.Errorf("audit mismatch (-want +got):\n%s", diff)
	}
}

func TestSearchUsersMakesPeopleResolvable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.exec.Execute(ctx, "alice", Call{Name: "follow_user", Arguments: map[string]any{"username": "carol"}})
	if res.Outcome() != OutcomeUnresolvedArgument {
		t.Fatalf("carol is unseen, expected unresolved, got %#v", res)
	}

	res = f.exec.Execute(ctx, "alice", Call{Name: "search_users", Arguments: map[string]any{"query": "@car"}})
	s, ok := res.(Success)
	if !ok {
		t.Fatalf("search_users: expected success, got %#v", res)
	}
	if s.Message != `Found 1 users matching "@car": @carol` {
		t.Errorf("search_users message = %q", s.Message)
	}

	res = f.exec.Execute(ctx, "alice", Call{Name: "follow_user", Arguments: map[string]any{"username": "carol"}})
	if res.Outcome() != OutcomeSuccess {
		t.Fatalf("follow after search: expected success, got %#v", res)
	}
}
