// Copyright 2026 © The Agora Authors
// SPDX-License-Identifier: Apache-2.0

package platform

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	agerr "github.com/synthagora/agora/pkg/errors"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	trendingWindow   = 24 * time.Hour
	topLikedPosts    = 4
)

// Service composes atomic operations into the business operations agents use.
// Every write runs in one transaction; reads use the shared handle.
type Service struct {
	store  *SQLiteStore
	now    func() time.Time
	logger *slog.Logger

	mu  sync.RWMutex
	ops map[string]OperationFunc
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithClock overrides the time source used to stamp writes.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger used for write events.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService builds a Service over store with the builtin operation table.
func NewService(store *SQLiteStore, opts ...ServiceOption) *Service {
	s := &Service{
		store:  store,
		now:    time.Now,
		logger: slog.Default(),
		ops:    make(map[string]OperationFunc, len(builtinOperations)),
	}
	for name, fn := range builtinOperations {
		s.ops[name] = fn
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now returns the service clock reading.
func (s *Service) Now() time.Time { return s.now() }

// ClampLimit caps a requested list size at 100. Zero or negative requests
// get the default of 20.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

// =================================================================
// USER SERVICES
// =================================================================

// CreateUser registers a new account.
func (s *Service) CreateUser(ctx context.Context, username, bio string) (User, error) {
	username = strings.TrimSpace(strings.TrimPrefix(username, "@"))
	if username == "" {
		return User{}, agerr.Newf(agerr.CodeInvalidInput, "username is required")
	}
	var user User
	err := s.store.Write(ctx, func(sess Session) error {
		var err error
		user, err = createUser(ctx, sess, username, bio, s.now())
		return err
	})
	if err != nil {
		return User{}, err
	}
	s.logger.Debug("platform.user.created", slog.String("username", username), slog.Int64("user_id", user.ID))
	return user, nil
}

// LookupUser returns the live user with the exact username.
func (s *Service) LookupUser(ctx context.Context, username string) (User, error) {
	var user User
	err := s.store.Read(ctx, func(sess Session) error {
		var err error
		user, err = userByUsername(ctx, sess, strings.TrimPrefix(username, "@"))
		return err
	})
	return user, err
}

// LookupCommunity returns the live community with the exact name.
func (s *Service) LookupCommunity(ctx context.Context, name string) (Community, error) {
	var c Community
	err := s.store.Read(ctx, func(sess Session) error {
		var err error
		c, err = communityByName(ctx, sess, name)
		return err
	})
	return c, err
}

// Profile summarises target as seen by viewer.
func (s *Service) Profile(ctx context.Context, viewer, target string) (Profile, error) {
	var p Profile
	err := s.store.Read(ctx, func(sess Session) error {
		targetUser, err := userByUsername(ctx, sess, target)
		if err != nil {
			return err
		}
		viewerUser, err := userByUsername(ctx, sess, viewer)
		if err != nil {
			return err
		}
		posts, err := postsByUser(ctx, sess, targetUser.ID, 1000, false)
		if err != nil {
			return err
		}
		fers, err := followers(ctx, sess, targetUser.ID)
		if err != nil {
			return err
		}
		fing, err := following(ctx, sess, targetUser.ID)
		if err != nil {
			return err
		}
		p = Profile{
			Username:       targetUser.Username,
			Bio:            targetUser.Bio,
			FollowerCount:  len(fers),
			FollowingCount: len(fing),
			PostCount:      len(posts),
		}

		type liked struct {
			title string
			likes int
		}
		var top []liked
		for _, post := range posts {
			counts, err := reactionCounts(ctx, sess, post.ID)
			if err != nil {
				return err
			}
			p.LikesReceived += counts[ReactionLike]
			if counts[ReactionLike] > 0 && post.Title != "" {
				top = append(top, liked{post.Title, counts[ReactionLike]})
			}
		}
		sort.SliceStable(top, func(i, j int) bool { return top[i].likes > top[j].likes })
		for i := 0; i < len(top) && i < topLikedPosts; i++ {
			p.TopLikedPosts = append(p.TopLikedPosts, top[i].title)
		}

		if p.FollowsViewer, err = isFollowing(ctx, sess, targetUser.ID, viewerUser.ID); err != nil {
			return err
		}
		p.FollowedByYou, err = isFollowing(ctx, sess, viewerUser.ID, targetUser.ID)
		return err
	})
	return p, err
}

// =================================================================
// CONTENT SERVICES
// =================================================================

// CreatePost publishes a top-level post for username.
func (s *Service) CreatePost(ctx context.Context, username, title, content string) (Post, error) {
	return s.createPost(ctx, username, 0, strings.TrimSpace(title), content)
}

// CreateComment replies to postID on behalf of username.
func (s *Service) CreateComment(ctx context.Context, username string, postID int64, content string) (Post, error) {
	if postID <= 0 {
		return Post{}, agerr.Newf(agerr.CodeInvalidInput, "post id must be positive")
	}
	return s.createPost(ctx, username, postID, "", content)
}

func (s *Service) createPost(ctx context.Context, username string, parentID int64, title, content string) (Post, error) {
	if strings.TrimSpace(content) == "" {
		return Post{}, agerr.Newf(agerr.CodeInvalidInput, "content is required")
	}
	var post Post
	err := s.store.Write(ctx, func(sess Session) error {
		author, err := userByUsername(ctx, sess, username)
		if err != nil {
			return err
		}
		id, err := createPost(ctx, sess, author.ID, parentID, title, content, s.now())
		if err != nil {
			return err
		}
		post, err = postByID(ctx, sess, id)
		return err
	})
	if err != nil {
		return Post{}, err
	}
	s.logger.Debug("platform.post.created",
		slog.String("author", username),
		slog.Int64("post_id", post.ID),
		slog.Int64("parent_id", post.ParentID),
	)
	return post, nil
}

// PostDetails returns the post with per-type reaction counts.
func (s *Service) PostDetails(ctx context.Context, postID int64) (Post, error) {
	var post Post
	err := s.store.Read(ctx, func(sess Session) error {
		var err error
		if post, err = postByID(ctx, sess, postID); err != nil {
			return err
		}
		post.Reactions, err = reactionCounts(ctx, sess, postID)
		return err
	})
	return post, err
}

// PostByTitle returns the newest live post with the exact title.
func (s *Service) PostByTitle(ctx context.Context, title string) (Post, error) {
	var post Post
	err := s.store.Read(ctx, func(sess Session) error {
		var err error
		post, err = postByTitle(ctx, sess, title)
		return err
	})
	return post, err
}

// Comments lists the live replies to postID, newest first.
func (s *Service) Comments(ctx context.Context, postID int64) ([]Post, error) {
	var out []Post
	err := s.store.Read(ctx, func(sess Session) error {
		var err error
		out, err = commentsForPost(ctx, sess, postID)
		return err
	})
	return out, err
}

// DeletePost soft-deletes postID. Only the author may delete a post.
func (s *Service) DeletePost(ctx context.Context, username string, postID int64) (Post, error) {
	var post Post
	err := s.store.Write(ctx, func(sess Session) error {
		actor, err := userByUsername(ctx, sess, username)
		if err != nil {
			return err
		}
		if post, err = postByID(ctx, sess, postID); err != nil {
			return err
		}
		if post.AuthorID != actor.ID {
			return agerr.Newf(agerr.CodePermissionDenied, "@%s is not the author of post %d", username, postID)
		}
		return softDeletePost(ctx, sess, postID, s.now())
	})
	return post, err
}

// SearchPosts matches top-level posts whose title or content contains query.
func (s *Service) SearchPosts(ctx context.Context, query string, limit int) ([]Post, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, agerr.Newf(agerr.CodeInvalidInput, "search query is required")
	}
	var out []Post
	err := s.store.Read(ctx, func(sess Session) error {
		var err error
		out, err = searchPosts(ctx, sess, query, ClampLimit(limit))
		return err
	})
	return out, err
}

// SearchUsers matches usernames containing fragment.
func (s *Service) SearchUsers(ctx context.Context, fragment string, limit int) ([]User, error) {
	var out []User
	err := s.store.Read(ctx, func(sess Session) error {
		var err error
		out, err = searchUsers(ctx, sess, strings.TrimPrefix(fragment, "@"), ClampLimit(limit))
		return err
	})
	return out, err
}

// Trending returns recent top-level posts ordered by like count.
func (s *Service) Trending(ctx context.Context, limit int) ([]Post, error) {
	var out []Post
	err := s.store.Read(ctx, func(sess Session) error {
		posts, err := recentPosts(ctx, sess, s.now().Add(-trendingWindow), maxListLimit)
		if err != nil {
			return err
		}
		likes := make(map[int64]int, len(posts))
		for _, p := range posts {
			counts, err := reactionCounts(ctx, sess, p.ID)
			if err != nil {
				return err
			}
			likes[p.ID] = counts[ReactionLike]
		}
		sort.SliceStable(posts, func(i, j int) bool {
			if likes[posts[i].ID] != likes[posts[j].ID] {
				return likes[posts[i].ID] > likes[posts[j].ID]
			}
			return posts[i].ID < posts[j].ID
		})
		if n := ClampLimit(limit); len(posts) > n {
			posts = posts[:n]
		}
		out = posts
		return nil
	})
	return out, err
}

// =================================================================
// SOCIAL SERVICES
// =================================================================

// Follow makes follower follow followed.
func (s *Service) Follow(ctx context.Context, follower, followed string) (FollowSummary, error) {
	var summary FollowSummary
	err := s.store.Write(ctx, func(sess Session) error {
		from, err := userByUsername(ctx, sess, follower)
		if err != nil {
			return err
		}
		to, err := userByUsername(ctx, sess, followed)
		if err != nil {
			return err
		}
		if from.ID == to.ID {
			return agerr.Newf(agerr.CodeInvalidInput, "cannot follow yourself")
		}
		if err := createRelationship(ctx, sess, from.ID, to.ID, RelationshipFollow, s.now()); err != nil {
			if agerr.HasCode(err, agerr.CodeConflict) {
				return agerr.Newf(agerr.CodeConflict, "@%s is already following @%s", follower, followed)
			}
			return err
		}
		fing, err := following(ctx, sess, from.ID)
		if err != nil {
			return err
		}
		summary = FollowSummary{Follower: from.Username, Followed: to.Username, FollowedID: to.ID, FollowingCount: len(fing)}
		return nil
	})
	return summary, err
}

// Unfollow removes the follow edge from follower to followed.
func (s *Service) Unfollow(ctx context.Context, follower, followed string) (FollowSummary, error) {
	var summary FollowSummary
	err := s.store.Write(ctx, func(sess Session) error {
		from, err := userByUsername(ctx, sess, follower)
		if err != nil {
			return err
		}
		to, err := userByUsername(ctx, sess, followed)
		if err != nil {
			return err
		}
		removed, err := softDeleteRelationship(ctx, sess, from.ID, to.ID, RelationshipFollow, s.now())
		if err != nil {
			return err
		}
		if !removed {
			return agerr.Newf(agerr.CodeNotFound, "@%s was not following @%s", follower, followed)
		}
		fing, err := following(ctx, sess, from.ID)
		if err != nil {
			return err
		}
		summary = FollowSummary{Follower: from.Username, Followed: to.Username, FollowedID: to.ID, FollowingCount: len(fing)}
		return nil
	})
	return summary, err
}

// React records a reaction of the given type. Repeating a live reaction is a no-op.
func (s *Service) React(ctx context.Context, username string, postID int64, kind string) (ReactionSummary, error) {
	if !validReaction(kind) {
		return ReactionSummary{}, agerr.Newf(agerr.CodeInvalidInput, "unknown reaction type %q", kind)
	}
	var summary ReactionSummary
	err := s.store.Write(ctx, func(sess Session) error {
		user, err := userByUsername(ctx, sess, username)
		if err != nil {
			return err
		}
		if err := createReaction(ctx, sess, user.ID, postID, kind, s.now()); err != nil {
			return err
		}
		summary, err = s.reactionSummary(ctx, sess, postID, kind)
		return err
	})
	return summary, err
}

// Unreact removes a live reaction of the given type.
func (s *Service) Unreact(ctx context.Context, username string, postID int64, kind string) (ReactionSummary, error) {
	if !validReaction(kind) {
		return ReactionSummary{}, agerr.Newf(agerr.CodeInvalidInput, "unknown reaction type %q", kind)
	}
	var summary ReactionSummary
	err := s.store.Write(ctx, func(sess Session) error {
		user, err := userByUsername(ctx, sess, username)
		if err != nil {
			return err
		}
		removed, err := softDeleteReaction(ctx, sess, user.ID, postID, kind, s.now())
		if err != nil {
			return err
		}
		if !removed {
			return agerr.Newf(agerr.CodeNotFound, "@%s has no %s on post %d", username, kind, postID)
		}
		summary, err = s.reactionSummary(ctx, sess, postID, kind)
		return err
	})
	return summary, err
}

func (s *Service) reactionSummary(ctx context.Context, sess Session, postID int64, kind string) (ReactionSummary, error) {
	post, err := postByID(ctx, sess, postID)
	if err != nil {
		return ReactionSummary{}, err
	}
	counts, err := reactionCounts(ctx, sess, postID)
	if err != nil {
		return ReactionSummary{}, err
	}
	return ReactionSummary{PostID: postID, PostTitle: post.Title, Reaction: kind, Counts: counts}, nil
}

func validReaction(kind string) bool {
	for _, k := range ReactionTypes {
		if k == kind {
			return true
		}
	}
	return false
}

// =================================================================
// COMMUNITY SERVICES
// =================================================================

// CreateCommunity creates a community; the creator joins it as admin.
func (s *Service) CreateCommunity(ctx context.Context, username, name, description string) (Community, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Community{}, agerr.Newf(agerr.CodeInvalidInput, "community name is required")
	}
	var c Community
	err := s.store.Write(ctx, func(sess Session) error {
		creator, err := userByUsername(ctx, sess, username)
		if err != nil {
			return err
		}
		now := s.now()
		if c, err = createCommunity(ctx, sess, name, description, creator.ID, now); err != nil {
			return err
		}
		if err := createMembership(ctx, sess, creator.ID, c.ID, RoleAdmin, now); err != nil {
			return err
		}
		c.MemberCount = 1
		return nil
	})
	return c, err
}

// JoinCommunity adds username to the community as a member.
func (s *Service) JoinCommunity(ctx context.Context, username string, communityID int64) (Membership, error) {
	var m Membership
	err := s.store.Write(ctx, func(sess Session) error {
		user, err := userByUsername(ctx, sess, username)
		if err != nil {
			return err
		}
		c, err := communityByID(ctx, sess, communityID)
		if err != nil {
			return err
		}
		now := s.now()
		if err := createMembership(ctx, sess, user.ID, c.ID, RoleMember, now); err != nil {
			return err
		}
		m = Membership{UserID: user.ID, CommunityID: c.ID, Community: c.Name, Role: RoleMember, JoinedAt: now.UTC()}
		return nil
	})
	return m, err
}

// LeaveCommunity removes username from the community.
func (s *Service) LeaveCommunity(ctx context.Context, username string, communityID int64) (Membership, error) {
	var m Membership
	err := s.store.Write(ctx, func(sess Session) error {
		user, err := userByUsername(ctx, sess, username)
		if err != nil {
			return err
		}
		c, err := communityByID(ctx, sess, communityID)
		if err != nil {
			return err
		}
		removed, err := softDeleteMembership(ctx, sess, user.ID, c.ID, s.now())
		if err != nil {
			return err
		}
		if !removed {
			return agerr.Newf(agerr.CodeNotFound, "@%s is not a member of %q", username, c.Name)
		}
		m = Membership{UserID: user.ID, CommunityID: c.ID, Community: c.Name}
		return nil
	})
	return m, err
}

// Communities lists the communities username belongs to.
func (s *Service) Communities(ctx context.Context, username string) ([]Community, error) {
	var out []Community
	err := s.store.Read(ctx, func(sess Session) error {
		user, err := userByUsername(ctx, sess, username)
		if err != nil {
			return err
		}
		out, err = userCommunities(ctx, sess, user.ID)
		return err
	})
	return out, err
}

// =================================================================
// FEED SOURCE
// =================================================================

// Following lists the users userID follows.
func (s *Service) Following(ctx context.Context, userID int64) ([]User, error) {
	var out []User
	err := s.store.Read(ctx, func(sess Session) error {
		var err error
		out, err = following(ctx, sess, userID)
		return err
	})
	return out, err
}

// PostsByUser lists the newest top-level posts of userID.
func (s *Service) PostsByUser(ctx context.Context, userID int64, limit int) ([]Post, error) {
	var out []Post
	err := s.store.Read(ctx, func(sess Session) error {
		var err error
		out, err = postsByUser(ctx, sess, userID, ClampLimit(limit), false)
		return err
	})
	return out, err
}

// RecentPosts lists top-level posts created at or after since.
func (s *Service) RecentPosts(ctx context.Context, since time.Time, limit int) ([]Post, error) {
	var out []Post
	err := s.store.Read(ctx, func(sess Session) error {
		var err error
		out, err = recentPosts(ctx, sess, since, ClampLimit(limit))
		return err
	})
	return out, err
}

// MutualConnections counts accounts followed by both viewerID and authorID.
func (s *Service) MutualConnections(ctx context.Context, viewerID, authorID int64) (int, error) {
	var n int
	err := s.store.Read(ctx, func(sess Session) error {
		var err error
		n, err = mutualConnections(ctx, sess, viewerID, authorID)
		return err
	})
	return n, err
}

// InteractionCount counts viewerID's reactions and comments on authorID's posts.
func (s *Service) InteractionCount(ctx context.Context, viewerID, authorID int64) (int, error) {
	var n int
	err := s.store.Read(ctx, func(sess Session) error {
		var err error
		n, err = interactionCount(ctx, sess, viewerID, authorID)
		return err
	})
	return n, err
}
