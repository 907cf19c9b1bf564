package platform

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	agerr "github.com/synthagora/agora/pkg/errors"
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

func newTestService(t *testing.T) *Service {
	t.Helper()
	store, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "agora.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	clock := &stepClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return NewService(store, WithClock(clock.Now))
}

func mustUser(t *testing.T, svc *Service, name string) User {
	t.Helper()
	u, err := svc.CreateUser(context.Background(), name, "")
	if err != nil {
		t.Fatalf("create user %s: %v", name, err)
	}
	return u
}

func TestCreateUserConflict(t *testing.T) {
	svc := newTestService(t)
	mustUser(t, svc, "alice")
	_, err := svc.CreateUser(context.Background(), "alice", "again")
	if !agerr.HasCode(err, agerr.CodeConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, err := svc.CreateUser(context.Background(), "  ", ""); !agerr.HasCode(err, agerr.CodeInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestCreatePostAndComment(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	mustUser(t, svc, "alice")
	mustUser(t, svc, "bob")

	post, err := svc.CreatePost(ctx, "alice", "Hello World", "first!")
	if err != nil {
		t.Fatalf("create post: %v", err)
	}
	if post.AuthorUsername != "alice" || post.Title != "Hello World" {
		t.Fatalf("unexpected post: %+v", post)
	}
	comment, err := svc.CreateComment(ctx, "bob", post.ID, "welcome")
	if err != nil {
		t.Fatalf("create comment: %v", err)
	}
	if !comment.IsComment() || comment.ParentID != post.ID {
		t.Fatalf("expected comment on %d, got %+v", post.ID, comment)
	}
	details, err := svc.PostDetails(ctx, post.ID)
	if err != nil {
		t.Fatalf("post details: %v", err)
	}
	if details.CommentCount != 1 {
		t.Fatalf("expected 1 comment, got %d", details.CommentCount)
	}
	if _, err := svc.CreateComment(ctx, "bob", 999, "nope"); !agerr.HasCode(err, agerr.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := svc.CreatePost(ctx, "alice", "Empty", " "); !agerr.HasCode(err, agerr.CodeInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestPostByTitleReturnsNewest(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	mustUser(t, svc, "alice")
	if _, err := svc.CreatePost(ctx, "alice", "Update", "one"); err != nil {
		t.Fatalf("create post: %v", err)
	}
	second, err := svc.CreatePost(ctx, "alice", "Update", "two")
	if err != nil {
		t.Fatalf("create post: %v", err)
	}
	got, err := svc.PostByTitle(ctx, "Update")
	if err != nil {
		t.Fatalf("post by title: %v", err)
	}
	if got.ID != second.ID {
		t.Fatalf("expected newest post %d, got %d", second.ID, got.ID)
	}
}

func TestReactIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	mustUser(t, svc, "alice")
	mustUser(t, svc, "bob")
	post, _ := svc.CreatePost(ctx, "alice", "Hello World", "hi")

	for i := 0; i < 2; i++ {
		summary, err := svc.React(ctx, "bob", post.ID, ReactionLike)
		if err != nil {
			t.Fatalf("like: %v", err)
		}
		if summary.Counts[ReactionLike] != 1 {
			t.Fatalf("expected 1 like after attempt %d, got %d", i+1, summary.Counts[ReactionLike])
		}
	}
	if _, err := svc.React(ctx, "bob", post.ID, "shrug"); !agerr.HasCode(err, agerr.CodeInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}

	if _, err := svc.Unreact(ctx, "bob", post.ID, ReactionLike); err != nil {
		t.Fatalf("unlike: %v", err)
	}
	if _, err := svc.Unreact(ctx, "bob", post.ID, ReactionLike); !agerr.HasCode(err, agerr.CodeNotFound) {
		t.Fatalf("expected not found on second unlike, got %v", err)
	}
	summary, err := svc.React(ctx, "bob", post.ID, ReactionLike)
	if err != nil {
		t.Fatalf("relike: %v", err)
	}
	if summary.Counts[ReactionLike] != 1 {
		t.Fatalf("expected revived like, got %d", summary.Counts[ReactionLike])
	}
}

func TestConcurrentLikesAreNotLost(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	mustUser(t, svc, "author")
	post, err := svc.CreatePost(ctx, "author", "Popular", "like me")
	if err != nil {
		t.Fatalf("create post: %v", err)
	}
	const agents = 12
	for i := 0; i < agents; i++ {
		mustUser(t, svc, fmt.Sprintf("agent%d", i))
	}

	var wg sync.WaitGroup
	errs := make(chan error, agents)
	for i := 0; i < agents; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := svc.React(ctx, fmt.Sprintf("agent%d", i), post.ID, ReactionLike); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent like: %v", err)
	}

	details, err := svc.PostDetails(ctx, post.ID)
	if err != nil {
		t.Fatalf("post details: %v", err)
	}
	if details.Reactions[ReactionLike] != agents {
		t.Fatalf("expected %d likes, got %d", agents, details.Reactions[ReactionLike])
	}
}

func TestFollowRules(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	mustUser(t, svc, "alice")
	mustUser(t, svc, "bob")

	if _, err := svc.Follow(ctx, "alice", "alice"); !agerr.HasCode(err, agerr.CodeInvalidInput) {
		t.Fatalf("expected invalid input for self follow, got %v", err)
	}
	summary, err := svc.Follow(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("follow: %v", err)
	}
	if summary.FollowingCount != 1 {
		t.Fatalf("expected following count 1, got %d", summary.FollowingCount)
	}
	if _, err := svc.Follow(ctx, "alice", "bob"); !agerr.HasCode(err, agerr.CodeConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, err := svc.Unfollow(ctx, "alice", "bob"); err != nil {
		t.Fatalf("unfollow: %v", err)
	}
	if _, err := svc.Unfollow(ctx, "alice", "bob"); !agerr.HasCode(err, agerr.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := svc.Follow(ctx, "alice", "bob"); err != nil {
		t.Fatalf("refollow: %v", err)
	}
}

func TestProfile(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	mustUser(t, svc, "alice")
	mustUser(t, svc, "bob")
	mustUser(t, svc, "carol")
	post, _ := svc.CreatePost(ctx, "alice", "Hello World", "hi")
	_, _ = svc.CreatePost(ctx, "alice", "Quiet", "nobody reads this")
	_, _ = svc.React(ctx, "bob", post.ID, ReactionLike)
	_, _ = svc.React(ctx, "carol", post.ID, ReactionLike)
	_, _ = svc.Follow(ctx, "alice", "bob")
	_, _ = svc.Follow(ctx, "carol", "alice")

	p, err := svc.Profile(ctx, "bob", "alice")
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if p.PostCount != 2 || p.LikesReceived != 2 || p.FollowerCount != 1 || p.FollowingCount != 1 {
		t.Fatalf("unexpected profile: %+v", p)
	}
	if !p.FollowsViewer || p.FollowedByYou {
		t.Fatalf("unexpected follow flags: %+v", p)
	}
	if len(p.TopLikedPosts) != 1 || p.TopLikedPosts[0] != "Hello World" {
		t.Fatalf("unexpected top posts: %v", p.TopLikedPosts)
	}
}

func TestDeletePostRequiresAuthor(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	mustUser(t, svc, "alice")
	mustUser(t, svc, "mallory")
	post, _ := svc.CreatePost(ctx, "alice", "Mine", "keep out")

	if _, err := svc.DeletePost(ctx, "mallory", post.ID); !agerr.HasCode(err, agerr.CodePermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
	if _, err := svc.DeletePost(ctx, "alice", post.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.PostDetails(ctx, post.ID); !agerr.HasCode(err, agerr.CodeNotFound) {
		t.Fatalf("expected deleted post to be gone, got %v", err)
	}
}

func TestCommunities(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	mustUser(t, svc, "alice")
	mustUser(t, svc, "bob")

	c, err := svc.CreateCommunity(ctx, "alice", "gophers", "go talk")
	if err != nil {
		t.Fatalf("create community: %v", err)
	}
	if c.MemberCount != 1 {
		t.Fatalf("expected creator membership, got %d members", c.MemberCount)
	}
	if _, err := svc.CreateCommunity(ctx, "bob", "gophers", ""); !agerr.HasCode(err, agerr.CodeConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, err := svc.JoinCommunity(ctx, "bob", c.ID); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := svc.JoinCommunity(ctx, "bob", c.ID); !agerr.HasCode(err, agerr.CodeConflict) {
		t.Fatalf("expected conflict on second join, got %v", err)
	}
	got, err := svc.LookupCommunity(ctx, "gophers")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.MemberCount != 2 {
		t.Fatalf("expected 2 members, got %d", got.MemberCount)
	}
	if _, err := svc.LeaveCommunity(ctx, "bob", c.ID); err != nil {
		t.Fatalf("leave: %v", err)
	}
	list, err := svc.Communities(ctx, "bob")
	if err != nil {
		t.Fatalf("communities: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected no memberships, got %v", list)
	}
}

func TestSearchAndTrending(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	mustUser(t, svc, "alice")
	mustUser(t, svc, "bob")
	a, _ := svc.CreatePost(ctx, "alice", "Go generics", "type params are fun")
	b, _ := svc.CreatePost(ctx, "alice", "Rust traits", "also fun")
	_, _ = svc.CreatePost(ctx, "alice", "100% sure", "literal percent")
	_, _ = svc.React(ctx, "bob", b.ID, ReactionLike)

	found, err := svc.SearchPosts(ctx, "generics", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(found) != 1 || found[0].ID != a.ID {
		t.Fatalf("unexpected search result: %+v", found)
	}
	found, err = svc.SearchPosts(ctx, "%", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("expected percent to be matched literally, got %d posts", len(found))
	}

	trending, err := svc.Trending(ctx, 2)
	if err != nil {
		t.Fatalf("trending: %v", err)
	}
	if len(trending) != 2 || trending[0].ID != b.ID {
		t.Fatalf("expected most liked first, got %+v", trending)
	}
}

func TestFeedSourceHelpers(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	viewer := mustUser(t, svc, "viewer")
	friend := mustUser(t, svc, "friend")
	author := mustUser(t, svc, "author")
	_, _ = svc.Follow(ctx, "viewer", "friend")
	_, _ = svc.Follow(ctx, "author", "friend")
	post, _ := svc.CreatePost(ctx, "author", "Deep thoughts", "...")
	_, _ = svc.React(ctx, "viewer", post.ID, ReactionLove)
	_, _ = svc.CreateComment(ctx, "viewer", post.ID, "nice")

	fing, err := svc.Following(ctx, viewer.ID)
	if err != nil {
		t.Fatalf("following: %v", err)
	}
	if len(fing) != 1 || fing[0].ID != friend.ID {
		t.Fatalf("unexpected following: %+v", fing)
	}
	n, err := svc.MutualConnections(ctx, viewer.ID, author.ID)
	if err != nil {
		t.Fatalf("mutual: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 mutual connection, got %d", n)
	}
	n, err = svc.InteractionCount(ctx, viewer.ID, author.ID)
	if err != nil {
		t.Fatalf("interactions: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 interactions, got %d", n)
	}
	posts, err := svc.PostsByUser(ctx, author.ID, 5)
	if err != nil {
		t.Fatalf("posts by user: %v", err)
	}
	if len(posts) != 1 {
		t.Fatalf("expected comments excluded, got %d posts", len(posts))
	}
}

func TestSearchUsers(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	for _, name := range []string{"annabel", "anna", "bob"} {
		mustUser(t, svc, name)
	}

	names := func(users []User) []string {
		out := make([]string, 0, len(users))
		for _, u := range users {
			out = append(out, u.Username)
		}
		return out
	}
	found, err := svc.SearchUsers(ctx, "ann", 0)
	if err != nil {
		t.Fatalf("search users: %v", err)
	}
	if diff := cmp.Diff([]string{"anna", "annabel"}, names(found)); diff != "" {
		t.Errorf("search mismatch (-want +got):\n%s", diff)
	}

	out, err := svc.Invoke(ctx, OpSearchUsers, Args{"query": "@BEL"})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if diff := cmp.Diff([]string{"annabel"}, names(out.Users)); diff != "" {
		t.Errorf("operation users mismatch (-want +got):\n%s", diff)
	}
}
