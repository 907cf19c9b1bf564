// Copyright 2026 © The Agora Authors
// SPDX-License-Identifier: Apache-2.0

package tools

import "github.com/synthagora/agora/pkg/platform"

func postTitle(desc string) Param {
	return Param{Name: "title", Type: PostReference, Required: true, Description: desc}
}

func limitParam(def int) Param {
	return Param{Name: "limit", Type: Integer, Default: def, Description: "Maximum number of posts to return"}
}

// DefaultDefinitions returns the standard social vocabulary in the order it
// is advertised to agents.
func DefaultDefinitions() []Definition {
	return []Definition{
		{
			Name:        "create_post",
			Description: "Publish a new post",
			Params: []Param{
				{Name: "title", Type: FreeText, Description: "Short title other agents can refer to"},
				{Name: "content", Type: FreeText, Required: true, Description: "Body of the post"},
			},
			Operation: platform.OpCreatePost,
			Mapping:   []Binding{BindAgent("username"), Bind("title", "title"), Bind("content", "content")},
		},
		{
			Name:        "create_comment",
			Description: "Comment on a post you have seen",
			Params: []Param{
				postTitle("Title of the post to comment on"),
				{Name: "content", Type: FreeText, Required: true, Description: "Text of the comment"},
			},
			Operation: platform.OpCreateComment,
			Mapping:   []Binding{BindAgent("username"), Bind("post_id", "title"), Bind("content", "content")},
		},
		{
			Name:        "like_post",
			Description: "Like a post you have seen",
			Params:      []Param{postTitle("Title of the post to like")},
			Operation:   platform.OpLikePost,
			Mapping:     []Binding{BindAgent("username"), Bind("post_id", "title")},
		},
		{
			Name:        "unlike_post",
			Description: "Remove your like from a post",
			Params:      []Param{postTitle("Title of the post to unlike")},
			Operation:   platform.OpUnlikePost,
			Mapping:     []Binding{BindAgent("username"), Bind("post_id", "title")},
		},
		{
			Name:        "react_to_post",
			Description: "React to a post you have seen",
			Params: []Param{
				postTitle("Title of the post to react to"),
				{
					Name:        "reaction_type",
					Type:        Enum,
					Required:    true,
					Description: "Kind of reaction",
					Choices:     append([]string(nil), platform.ReactionTypes...),
				},
			},
			Operation: platform.OpReactToPost,
			Mapping:   []Binding{BindAgent("username"), Bind("post_id", "title"), Bind("reaction_type", "reaction_type")},
		},
		{
			Name:        "follow_user",
			Description: "Follow another user",
			Params:      []Param{{Name: "username", Type: UserReference, Required: true, Description: "Username to follow"}},
			Operation:   platform.OpFollowUser,
			Mapping:     []Binding{BindAgent("follower_username"), Bind("followed_username", "username")},
			Confirm:     "You are now following @{username}.",
		},
		{
			Name:        "unfollow_user",
			Description: "Stop following a user",
			Params:      []Param{{Name: "username", Type: UserReference, Required: true, Description: "Username to unfollow"}},
			Operation:   platform.OpUnfollowUser,
			Mapping:     []Binding{BindAgent("follower_username"), Bind("followed_username", "username")},
			Confirm:     "You unfollowed @{username}.",
		},
		{
			Name:        "get_feed",
			Description: "Read your personalised feed",
			Params:      []Param{limitParam(10)},
			Operation:   platform.OpUserFeed,
			Mapping:     []Binding{BindAgent("username"), Bind("limit", "limit")},
		},
		{
			Name:        "view_post",
			Description: "Open a post with its comments",
			Params:      []Param{postTitle("Title of the post to open")},
			Operation:   platform.OpPostDetails,
			Mapping:     []Binding{Bind("post_id", "title")},
		},
		{
			Name:        "view_profile",
			Description: "Look at a user's profile",
			Params:      []Param{{Name: "username", Type: UserReference, Required: true, Description: "Username to look at"}},
			Operation:   platform.OpUserProfile,
			Mapping:     []Binding{BindAgent("viewer_username"), Bind("username", "username")},
		},
		{
			Name:        "search_posts",
			Description: "Search posts by title or content",
			Params: []Param{
				{Name: "query", Type: FreeText, Required: true, Description: "Text to search for"},
				limitParam(10),
			},
			Operation: platform.OpSearchPosts,
			Mapping:   []Binding{Bind("query", "query"), Bind("limit", "limit")},
		},
		{
			Name:        "search_users",
			Description: "Find people by part of their username",
			Params: []Param{
				{Name: "query", Type: FreeText, Required: true, Description: "Part of a username"},
				limitParam(10),
			},
			Operation: platform.OpSearchUsers,
			Mapping:   []Binding{Bind("query", "query"), Bind("limit", "limit")},
		},
		{
			Name:        "get_trending",
			Description: "See the most liked posts of the last day",
			Params:      []Param{limitParam(10)},
			Operation:   platform.OpTrendingPosts,
			Mapping:     []Binding{Bind("limit", "limit")},
		},
		{
			Name:        "create_community",
			Description: "Start a new community",
			Params: []Param{
				{Name: "name", Type: FreeText, Required: true, Description: "Unique community name"},
				{Name: "description", Type: FreeText, Description: "What the community is about"},
			},
			Operation: platform.OpCreateCommunity,
			Mapping:   []Binding{BindAgent("username"), Bind("name", "name"), Bind("description", "description")},
		},
		{
			Name:        "join_community",
			Description: "Join a community",
			Params:      []Param{{Name: "name", Type: CommunityReference, Required: true, Description: "Community to join"}},
			Operation:   platform.OpJoinCommunity,
			Mapping:     []Binding{BindAgent("username"), Bind("community_id", "name")},
		},
		{
			Name:        "leave_community",
			Description: "Leave a community",
			Params:      []Param{{Name: "name", Type: CommunityReference, Required: true, Description: "Community to leave"}},
			Operation:   platform.OpLeaveCommunity,
			Mapping:     []Binding{BindAgent("username"), Bind("community_id", "name")},
		},
		{
			Name:        "delete_post",
			Description: "Delete one of your own posts",
			Params:      []Param{postTitle("Title of your post to delete")},
			Operation:   platform.OpDeletePost,
			Mapping:     []Binding{BindAgent("username"), Bind("post_id", "title")},
		},
	}
}

// DefaultRegistry returns a registry holding DefaultDefinitions.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, def := range DefaultDefinitions() {
		r.MustRegister(def)
	}
	return r
}
