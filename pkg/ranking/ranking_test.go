package ranking

import (
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var refNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func postIDs(items []ScoredItem) []int64 {
	out := make([]int64, len(items))
	for i, it := range items {
		out[i] = it.Candidate.PostID
	}
	return out
}

func TestTemporalScore(t *testing.T) {
	r := New(DefaultConfig())
	cases := []struct {
		name string
		age  time.Duration
		want float64
	}{
		{name: "fresh", age: 0, want: 1},
		{name: "half horizon", age: 24 * time.Hour, want: 0.5},
		{name: "past horizon", age: 100 * time.Hour, want: 0.1},
		{name: "future", age: -time.Hour, want: 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := r.TemporalScore(refNow.Add(-tc.age), refNow)
			if !approx(got, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
	if r.TemporalScore(refNow.Add(-time.Hour), refNow) <= r.TemporalScore(refNow.Add(-2*time.Hour), refNow) {
		t.Fatalf("temporal score must decrease with age")
	}
}

func TestSocialScore(t *testing.T) {
	r := New(DefaultConfig())
	cases := []struct {
		name string
		c    Candidate
		want float64
	}{
		{name: "self", c: Candidate{Relationship: RelationSelf}, want: 1},
		{name: "following", c: Candidate{Relationship: RelationFollowing}, want: 0.8},
		{name: "one mutual", c: Candidate{Relationship: RelationMutual, MutualCount: 1}, want: 0.6},
		{name: "many mutuals", c: Candidate{Relationship: RelationMutual, MutualCount: 9}, want: 0.7},
		{name: "stranger", c: Candidate{}, want: 0.1},
		{name: "stranger with history", c: Candidate{Interactions: 2}, want: 0.2},
		{name: "bonus capped", c: Candidate{Relationship: RelationFollowing, Interactions: 50}, want: 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := r.SocialScore(tc.c); !approx(got, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
	if !(r.SocialScore(Candidate{Relationship: RelationFollowing}) > r.SocialScore(Candidate{Relationship: RelationMutual, MutualCount: 9})) {
		t.Fatalf("direct follow must outrank mutual connection")
	}

	noBonus := DefaultConfig()
	noBonus.InteractionBonus = false
	if got := New(noBonus).SocialScore(Candidate{Interactions: 4}); !approx(got, 0.1) {
		t.Fatalf("expected interaction bonus disabled, got %v", got)
	}
}

func TestRankDecomposition(t *testing.T) {
	r := New(DefaultConfig())
	candidates := []Candidate{
		{PostID: 1, AuthorUsername: "a", CreatedAt: refNow, ReactionCount: 2, CommentCount: 1, Relationship: RelationFollowing},
		{PostID: 2, AuthorUsername: "b", CreatedAt: refNow.Add(-24 * time.Hour)},
		{PostID: 3, AuthorUsername: "c", CreatedAt: refNow, ReactionCount: 4},
	}
	items := r.Rank("viewer", candidates, refNow)
	byID := make(map[int64]ScoredItem)
	for _, it := range items {
		byID[it.Candidate.PostID] = it
	}

	if e := byID[1].Engagement; !approx(e, 1) {
		t.Fatalf("expected normalized engagement 1, got %v", e)
	}
	if e := byID[2].Engagement; !approx(e, 0) {
		t.Fatalf("expected engagement 0, got %v", e)
	}
	first := byID[1]
	want := 0.4*first.Temporal + 0.3*first.Engagement + 0.3*first.Social
	if !approx(first.Composite, want) || !approx(first.Score, want) {
		t.Fatalf("composite mismatch: %+v", first)
	}
	if diff := cmp.Diff([]int64{1, 3, 2}, postIDs(items)); diff != "" {
		t.Fatalf("unexpected order (-want +got):\n%s", diff)
	}
}

func TestRankZeroEngagement(t *testing.T) {
	r := New(DefaultConfig())
	items := r.Rank("", []Candidate{{PostID: 1, CreatedAt: refNow}, {PostID: 2, CreatedAt: refNow}}, refNow)
	for _, it := range items {
		if it.Engagement != 0 {
			t.Fatalf("expected zero engagement, got %v", it.Engagement)
		}
	}
}

func TestRankTreatsViewerPostsAsSelf(t *testing.T) {
	r := New(DefaultConfig())
	items := r.Rank("Alice", []Candidate{{PostID: 1, AuthorUsername: "alice", CreatedAt: refNow}}, refNow)
	if items[0].Candidate.Relationship != RelationSelf || !approx(items[0].Social, 1) {
		t.Fatalf("expected self relationship, got %+v", items[0])
	}
}

func TestRankIsTotalOrder(t *testing.T) {
	r := New(DefaultConfig())
	candidates := []Candidate{
		{PostID: 7, AuthorUsername: "a", CreatedAt: refNow.Add(-time.Hour)},
		{PostID: 3, AuthorUsername: "b", CreatedAt: refNow.Add(-time.Hour)},
		{PostID: 5, AuthorUsername: "c", CreatedAt: refNow},
		{PostID: 1, AuthorUsername: "d", CreatedAt: refNow.Add(-time.Hour)},
	}
	first := r.Rank("v", candidates, refNow)
	reversed := make([]Candidate, len(candidates))
	for i, c := range candidates {
		reversed[len(candidates)-1-i] = c
	}
	second := r.Rank("v", reversed, refNow)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("rank is not deterministic (-first +second):\n%s", diff)
	}
	// Equal scores: newest first, then lowest id.
	if diff := cmp.Diff([]int64{5, 1, 3, 7}, postIDs(first)); diff != "" {
		t.Fatalf("unexpected tie-break order (-want +got):\n%s", diff)
	}
}

func TestDiversifyPenalisesRepeatedAuthors(t *testing.T) {
	r := New(DefaultConfig())
	items := []ScoredItem{
		{Candidate: Candidate{PostID: 1, AuthorUsername: "a"}, Composite: 0.9},
		{Candidate: Candidate{PostID: 2, AuthorUsername: "a"}, Composite: 0.85},
		{Candidate: Candidate{PostID: 3, AuthorUsername: "a"}, Composite: 0.8},
		{Candidate: Candidate{PostID: 4, AuthorUsername: "a"}, Composite: 0.75},
		{Candidate: Candidate{PostID: 5, AuthorUsername: "b"}, Composite: 0.7},
	}
	out := r.Diversify(items)
	if diff := cmp.Diff([]int64{1, 2, 5, 3, 4}, postIDs(out)); diff != "" {
		t.Fatalf("unexpected order (-want +got):\n%s", diff)
	}
	penalties := map[int64]float64{1: 1, 2: 1, 3: 0.8, 4: 0.64, 5: 1}
	for _, it := range out {
		if !approx(it.Penalty, penalties[it.Candidate.PostID]) {
			t.Fatalf("post %d: expected penalty %v, got %v", it.Candidate.PostID, penalties[it.Candidate.PostID], it.Penalty)
		}
	}
}

func TestDiversifyIsIdempotent(t *testing.T) {
	r := New(DefaultConfig())
	var candidates []Candidate
	for i := 0; i < 12; i++ {
		author := "prolific"
		if i%4 == 0 {
			author = "rare"
		}
		candidates = append(candidates, Candidate{
			PostID:         int64(i + 1),
			AuthorUsername: author,
			CreatedAt:      refNow.Add(-time.Duration(i) * time.Hour),
			ReactionCount:  i % 5,
			CommentCount:   i % 3,
		})
	}
	once := r.Rank("viewer", candidates, refNow)
	twice := r.Diversify(once)
	if diff := cmp.Diff(once, twice); diff != "" {
		t.Fatalf("diversify is not idempotent (-once +twice):\n%s", diff)
	}
}

func TestDiversifyRespectsTopK(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TopK = 2
	cfg.MaxPerAuthor = 1
	r := New(cfg)
	items := []ScoredItem{
		{Candidate: Candidate{PostID: 1, AuthorUsername: "a"}, Composite: 0.9},
		{Candidate: Candidate{PostID: 2, AuthorUsername: "b"}, Composite: 0.8},
		{Candidate: Candidate{PostID: 3, AuthorUsername: "a"}, Composite: 0.7},
	}
	for _, it := range r.Diversify(items) {
		if it.Penalty != 1 {
			t.Fatalf("post %d penalised outside top-k: %v", it.Candidate.PostID, it.Penalty)
		}
	}
}

func TestWithWeights(t *testing.T) {
	r := New(DefaultConfig()).WithWeights(Weights{Temporal: 1})
	items := r.Rank("", []Candidate{
		{PostID: 1, CreatedAt: refNow.Add(-24 * time.Hour), ReactionCount: 100},
		{PostID: 2, CreatedAt: refNow},
	}, refNow)
	if items[0].Candidate.PostID != 2 {
		t.Fatalf("expected temporal-only weights to favour the newest post, got %v", postIDs(items))
	}
	if r.Config().Horizon != 48*time.Hour {
		t.Fatalf("expected horizon to be preserved, got %v", r.Config().Horizon)
	}
}
