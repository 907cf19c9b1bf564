// Copyright 2026 © The Agora Authors
// SPDX-License-Identifier: Apache-2.0

package platform

import (
	"context"
	"fmt"
	"strings"

	agerr "github.com/synthagora/agora/pkg/errors"
)

// Names of the builtin facade operations.
const (
	OpCreatePost      = "create_user_post"
	OpCreateComment   = "create_comment"
	OpLikePost        = "like_post"
	OpUnlikePost      = "unlike_post"
	OpReactToPost     = "react_to_post"
	OpFollowUser      = "follow_user"
	OpUnfollowUser    = "unfollow_user"
	OpPostDetails     = "get_post_details"
	OpUserProfile     = "get_user_profile"
	OpSearchPosts     = "search_posts"
	OpSearchUsers     = "search_users"
	OpTrendingPosts   = "get_trending_posts"
	OpCreateCommunity = "create_community"
	OpJoinCommunity   = "join_community"
	OpLeaveCommunity  = "leave_community"
	OpDeletePost      = "delete_post"
	OpUserFeed        = "get_user_feed"
)

// Outcome is what an operation hands back to its caller. The entity slices
// list everything the operation surfaced, which callers record as seen.
type Outcome struct {
	Message     string
	Data        any
	Posts       []Post
	Users       []User
	Communities []Community
}

// OperationFunc implements one named operation on top of the Service.
type OperationFunc func(ctx context.Context, svc *Service, args Args) (Outcome, error)

// RegisterOperation adds or replaces a named operation.
func (s *Service) RegisterOperation(name string, fn OperationFunc) {
	if name == "" || fn == nil {
		return
	}
	s.mu.Lock()
	s.ops[name] = fn
	s.mu.Unlock()
}

// HasOperation reports whether name is registered.
func (s *Service) HasOperation(name string) bool {
	s.mu.RLock()
	_, ok := s.ops[name]
	s.mu.RUnlock()
	return ok
}

// Invoke runs the named operation.
func (s *Service) Invoke(ctx context.Context, name string, args Args) (Outcome, error) {
	s.mu.RLock()
	fn, ok := s.ops[name]
	s.mu.RUnlock()
	if !ok {
		return Outcome{}, agerr.Newf(agerr.CodeInternal, "operation %q is not registered", name)
	}
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	if args == nil {
		args = Args{}
	}
	return fn(ctx, s, args)
}

var builtinOperations = map[string]OperationFunc{
	OpCreatePost:      opCreatePost,
	OpCreateComment:   opCreateComment,
	OpLikePost:        opLikePost,
	OpUnlikePost:      opUnlikePost,
	OpReactToPost:     opReactToPost,
	OpFollowUser:      opFollowUser,
	OpUnfollowUser:    opUnfollowUser,
	OpPostDetails:     opPostDetails,
	OpUserProfile:     opUserProfile,
	OpSearchPosts:     opSearchPosts,
	OpSearchUsers:     opSearchUsers,
	OpTrendingPosts:   opTrendingPosts,
	OpCreateCommunity: opCreateCommunity,
	OpJoinCommunity:   opJoinCommunity,
	OpLeaveCommunity:  opLeaveCommunity,
	OpDeletePost:      opDeletePost,
}

func opCreatePost(ctx context.Context, svc *Service, args Args) (Outcome, error) {
	username, err := args.String("username")
	if err != nil {
		return Outcome{}, err
	}
	content, err := args.String("content")
	if err != nil {
		return Outcome{}, err
	}
	post, err := svc.CreatePost(ctx, username, args.OptString("title", ""), content)
	if err != nil {
		return Outcome{}, err
	}
	msg := fmt.Sprintf("Created post %q", post.Title)
	if post.Title == "" {
		msg = fmt.Sprintf("Created post %d", post.ID)
	}
	return Outcome{Message: msg, Data: post, Posts: []Post{post}}, nil
}

func opCreateComment(ctx context.Context, svc *Service, args Args) (Outcome, error) {
	username, err := args.String("username")
	if err != nil {
		return Outcome{}, err
	}
	postID, err := args.ID("post_id")
	if err != nil {
		return Outcome{}, err
	}
	content, err := args.String("content")
	if err != nil {
		return Outcome{}, err
	}
	comment, err := svc.CreateComment(ctx, username, postID, content)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Message: fmt.Sprintf("Commented on post %d", postID), Data: comment}, nil
}

func opLikePost(ctx context.Context, svc *Service, args Args) (Outcome, error) {
	return react(ctx, svc, args, ReactionLike, true)
}

func opUnlikePost(ctx context.Context, svc *Service, args Args) (Outcome, error) {
	return react(ctx, svc, args, ReactionLike, false)
}

func opReactToPost(ctx context.Context, svc *Service, args Args) (Outcome, error) {
	kind, err := args.String("reaction_type")
	if err != nil {
		return Outcome{}, err
	}
	return react(ctx, svc, args, strings.ToLower(kind), true)
}

func react(ctx context.Context, svc *Service, args Args, kind string, add bool) (Outcome, error) {
	username, err := args.String("username")
	if err != nil {
		return Outcome{}, err
	}
	postID, err := args.ID("post_id")
	if err != nil {
		return Outcome{}, err
	}
	var summary ReactionSummary
	if add {
		summary, err = svc.React(ctx, username, postID, kind)
	} else {
		summary, err = svc.Unreact(ctx, username, postID, kind)
	}
	if err != nil {
		return Outcome{}, err
	}
	verb := "Reacted " + kind + " to"
	switch {
	case kind == ReactionLike && add:
		verb = "Liked"
	case kind == ReactionLike:
		verb = "Removed like from"
	case !add:
		verb = "Removed " + kind + " from"
	}
	return Outcome{
		Message: fmt.Sprintf("%s post %q (%d %s)", verb, summary.PostTitle, summary.Counts[kind], kind),
		Data:    summary,
	}, nil
}

func opFollowUser(ctx context.Context, svc *Service, args Args) (Outcome, error) {
	return follow(ctx, svc, args, true)
}

func opUnfollowUser(ctx context.Context, svc *Service, args Args) (Outcome, error) {
	return follow(ctx, svc, args, false)
}

func follow(ctx context.Context, svc *Service, args Args, add bool) (Outcome, error) {
	from, err := args.String("follower_username")
	if err != nil {
		return Outcome{}, err
	}
	to, err := args.String("followed_username")
	if err != nil {
		return Outcome{}, err
	}
	var summary FollowSummary
	verb := "Now following"
	if add {
		summary, err = svc.Follow(ctx, from, to)
	} else {
		verb = "Unfollowed"
		summary, err = svc.Unfollow(ctx, from, to)
	}
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Message: fmt.Sprintf("%s @%s", verb, summary.Followed), Data: summary}, nil
}

func opPostDetails(ctx context.Context, svc *Service, args Args) (Outcome, error) {
	postID, err := args.ID("post_id")
	if err != nil {
		return Outcome{}, err
	}
	post, err := svc.PostDetails(ctx, postID)
	if err != nil {
		return Outcome{}, err
	}
	comments, err := svc.Comments(ctx, postID)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{
		Message: fmt.Sprintf("Post %q by @%s: %d comments, %d reactions", post.Title, post.AuthorUsername, post.CommentCount, post.ReactionCount),
		Data:    map[string]any{"post": post, "comments": comments},
		Posts:   []Post{post},
	}, nil
}

func opUserProfile(ctx context.Context, svc *Service, args Args) (Outcome, error) {
	viewer, err := args.String("viewer_username")
	if err != nil {
		return Outcome{}, err
	}
	target, err := args.String("username")
	if err != nil {
		return Outcome{}, err
	}
	profile, err := svc.Profile(ctx, viewer, target)
	if err != nil {
		return Outcome{}, err
	}
	user, err := svc.LookupUser(ctx, target)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{
		Message: fmt.Sprintf("@%s: %d followers, %d following, %d posts", profile.Username, profile.FollowerCount, profile.FollowingCount, profile.PostCount),
		Data:    profile,
		Users:   []User{user},
	}, nil
}

func opSearchPosts(ctx context.Context, svc *Service, args Args) (Outcome, error) {
	query, err := args.String("query")
	if err != nil {
		return Outcome{}, err
	}
	posts, err := svc.SearchPosts(ctx, query, args.Int("limit", defaultListLimit))
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Message: fmt.Sprintf("Found %d posts matching %q", len(posts), query), Data: posts, Posts: posts}, nil
}

func opSearchUsers(ctx context.Context, svc *Service, args Args) (Outcome, error) {
	query, err := args.String("query")
	if err != nil {
		return Outcome{}, err
	}
	users, err := svc.SearchUsers(ctx, query, args.Int("limit", defaultListLimit))
	if err != nil {
		return Outcome{}, err
	}
	names := make([]string, 0, len(users))
	for _, u := range users {
		names = append(names, "@"+u.Username)
	}
	msg := fmt.Sprintf("Found %d users matching %q", len(users), query)
	if len(names) > 0 {
		msg += ": " + strings.Join(names, ", ")
	}
	return Outcome{Message: msg, Data: users, Users: users}, nil
}

func opTrendingPosts(ctx context.Context, svc *Service, args Args) (Outcome, error) {
	posts, err := svc.Trending(ctx, args.Int("limit", 10))
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Message: fmt.Sprintf("%d trending posts", len(posts)), Data: posts, Posts: posts}, nil
}

func opCreateCommunity(ctx context.Context, svc *Service, args Args) (Outcome, error) {
	username, err := args.String("username")
	if err != nil {
		return Outcome{}, err
	}
	name, err := args.String("name")
	if err != nil {
		return Outcome{}, err
	}
	c, err := svc.CreateCommunity(ctx, username, name, args.OptString("description", ""))
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Message: fmt.Sprintf("Created community %q", c.Name), Data: c, Communities: []Community{c}}, nil
}

func opJoinCommunity(ctx context.Context, svc *Service, args Args) (Outcome, error) {
	username, err := args.String("username")
	if err != nil {
		return Outcome{}, err
	}
	id, err := args.ID("community_id")
	if err != nil {
		return Outcome{}, err
	}
	m, err := svc.JoinCommunity(ctx, username, id)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Message: fmt.Sprintf("Joined community %q", m.Community), Data: m}, nil
}

func opLeaveCommunity(ctx context.Context, svc *Service, args Args) (Outcome, error) {
	username, err := args.String("username")
	if err != nil {
		return Outcome{}, err
	}
	id, err := args.ID("community_id")
	if err != nil {
		return Outcome{}, err
	}
	m, err := svc.LeaveCommunity(ctx, username, id)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Message: fmt.Sprintf("Left community %q", m.Community), Data: m}, nil
}

func opDeletePost(ctx context.Context, svc *Service, args Args) (Outcome, error) {
	username, err := args.String("username")
	if err != nil {
		return Outcome{}, err
	}
	postID, err := args.ID("post_id")
	if err != nil {
		return Outcome{}, err
	}
	post, err := svc.DeletePost(ctx, username, postID)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Message: fmt.Sprintf("Deleted post %q", post.Title), Data: post}, nil
}
