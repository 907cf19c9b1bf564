// Copyright 2026 © The Agora Authors
// SPDX-License-Identifier: Apache-2.0

package ranking

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/synthagora/agora/pkg/platform"
)

// FeedSource is the read side of the data facade the feed is assembled from.
type FeedSource interface {
	LookupUser(ctx context.Context, username string) (platform.User, error)
	Following(ctx context.Context, userID int64) ([]platform.User, error)
	PostsByUser(ctx context.Context, userID int64, limit int) ([]platform.Post, error)
	RecentPosts(ctx context.Context, since time.Time, limit int) ([]platform.Post, error)
	MutualConnections(ctx context.Context, viewerID, authorID int64) (int, error)
	InteractionCount(ctx context.Context, viewerID, authorID int64) (int, error)
	Now() time.Time
}

// FeedBuilder gathers candidates for a viewer and ranks them.
type FeedBuilder struct {
	source         FeedSource
	ranker         atomic.Pointer[Ranker]
	perAuthor      int
	discoverWindow time.Duration
	discoverLimit  int
	snippetLen     int
}

// FeedOption configures a FeedBuilder.
type FeedOption func(*FeedBuilder)

// WithPerAuthorLimit caps how many posts are pulled from each followed user.
func WithPerAuthorLimit(n int) FeedOption {
	return func(b *FeedBuilder) {
		if n > 0 {
			b.perAuthor = n
		}
	}
}

// WithDiscovery adds up to limit global posts newer than window to the
// candidate set. A zero limit disables discovery.
func WithDiscovery(window time.Duration, limit int) FeedOption {
	return func(b *FeedBuilder) {
		b.discoverWindow = window
		b.discoverLimit = limit
	}
}

// NewFeedBuilder returns a builder over source using ranker.
func NewFeedBuilder(source FeedSource, ranker *Ranker, opts ...FeedOption) *FeedBuilder {
	b := &FeedBuilder{
		source:         source,
		perAuthor:      10,
		discoverWindow: 48 * time.Hour,
		discoverLimit:  20,
		snippetLen:     160,
	}
	if ranker == nil {
		ranker = New(DefaultConfig())
	}
	b.ranker.Store(ranker)
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetRanker swaps the ranker used by subsequent Feed calls.
func (b *FeedBuilder) SetRanker(r *Ranker) {
	if r != nil {
		b.ranker.Store(r)
	}
}

// Ranker returns the ranker currently in use.
func (b *FeedBuilder) Ranker() *Ranker { return b.ranker.Load() }

// Feed returns the top ranked items for viewer together with the
// underlying posts, keyed by id. limit is clamped like every other list
// operation.
func (b *FeedBuilder) Feed(ctx context.Context, viewer string, limit int) ([]ScoredItem, map[int64]platform.Post, error) {
	candidates, posts, err := b.Candidates(ctx, viewer)
	if err != nil {
		return nil, nil, err
	}
	items := b.ranker.Load().Rank(viewer, candidates, b.source.Now())
	if n := platform.ClampLimit(limit); len(items) > n {
		items = items[:n]
	}
	return items, posts, nil
}

// Candidates collects posts from followed users, the viewer and recent
// global activity, annotated with the viewer's relationship to each author.
func (b *FeedBuilder) Candidates(ctx context.Context, viewer string) ([]Candidate, map[int64]platform.Post, error) {
	me, err := b.source.LookupUser(ctx, viewer)
	if err != nil {
		return nil, nil, err
	}
	followed, err := b.source.Following(ctx, me.ID)
	if err != nil {
		return nil, nil, err
	}
	follows := make(map[int64]bool, len(followed))
	for _, u := range followed {
		follows[u.ID] = true
	}

	posts := make(map[int64]platform.Post)
	var order []int64
	add := func(list []platform.Post) {
		for _, p := range list {
			if p.IsComment() {
				continue
			}
			if _, ok := posts[p.ID]; ok {
				continue
			}
			posts[p.ID] = p
			order = append(order, p.ID)
		}
	}

	for _, u := range append([]platform.User{me}, followed...) {
		list, err := b.source.PostsByUser(ctx, u.ID, b.perAuthor)
		if err != nil {
			return nil, nil, err
		}
		add(list)
	}
	if b.discoverLimit > 0 {
		list, err := b.source.RecentPosts(ctx, b.source.Now().Add(-b.discoverWindow), b.discoverLimit)
		if err != nil {
			return nil, nil, err
		}
		add(list)
	}

	type social struct {
		rel          Relationship
		mutual       int
		interactions int
	}
	authors := make(map[int64]social)
	candidates := make([]Candidate, 0, len(order))
	for _, id := range order {
		p := posts[id]
		s, ok := authors[p.AuthorID]
		if !ok {
			switch {
			case p.AuthorID == me.ID:
				s.rel = RelationSelf
			case follows[p.AuthorID]:
				s.rel = RelationFollowing
			default:
				if s.mutual, err = b.source.MutualConnections(ctx, me.ID, p.AuthorID); err != nil {
					return nil, nil, err
				}
				if s.mutual > 0 {
					s.rel = RelationMutual
				}
			}
			if p.AuthorID != me.ID {
				if s.interactions, err = b.source.InteractionCount(ctx, me.ID, p.AuthorID); err != nil {
					return nil, nil, err
				}
			}
			authors[p.AuthorID] = s
		}
		candidates = append(candidates, Candidate{
			PostID:         p.ID,
			Title:          p.Title,
			Snippet:        snippet(p.Content, b.snippetLen),
			AuthorID:       p.AuthorID,
			AuthorUsername: p.AuthorUsername,
			CreatedAt:      p.CreatedAt,
			ReactionCount:  p.ReactionCount,
			CommentCount:   p.CommentCount,
			Relationship:   s.rel,
			MutualCount:    s.mutual,
			Interactions:   s.interactions,
		})
	}
	return candidates, posts, nil
}

func snippet(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// FeedOperation adapts b into the facade's get_user_feed operation.
// It expects "username" and an optional "limit".
func FeedOperation(b *FeedBuilder) platform.OperationFunc {
	return func(ctx context.Context, _ *platform.Service, args platform.Args) (platform.Outcome, error) {
		username, err := args.String("username")
		if err != nil {
			return platform.Outcome{}, err
		}
		items, posts, err := b.Feed(ctx, username, args.Int("limit", 10))
		if err != nil {
			return platform.Outcome{}, err
		}
		visible := make([]platform.Post, 0, len(items))
		var msg strings.Builder
		fmt.Fprintf(&msg, "Feed for @%s: %d posts", username, len(items))
		for _, it := range items {
			visible = append(visible, posts[it.Candidate.PostID])
			fmt.Fprintf(&msg, "\n- %q by @%s", it.Candidate.Title, it.Candidate.AuthorUsername)
		}
		return platform.Outcome{
			Message: msg.String(),
			Data:    items,
			Posts:   visible,
		}, nil
	}
}
