// Copyright 2026 © The Agora Authors
// SPDX-License-Identifier: Apache-2.0

// Package platform is the data access facade of the simulated social network.
//
// Atomic operations work on a Session (a *sql.DB or *sql.Tx) and never commit on
// their own; the Service composes them into business operations that run inside
// a single write transaction. The runtime reaches the Service only through named
// operations (see Operations) and the read-only Directory lookups.
package platform

import "time"

// Reaction types accepted by React.
const (
	ReactionLike    = "like"
	ReactionDislike = "dislike"
	ReactionLove    = "love"
	ReactionLaugh   = "laugh"
)

// ReactionTypes lists the reaction vocabulary in presentation order.
var ReactionTypes = []string{ReactionLike, ReactionDislike, ReactionLove, ReactionLaugh}

// RelationshipFollow is the only relationship type agents can create today.
const RelationshipFollow = "follow"

// Membership roles.
const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

// User is a simulated account. Every agent acts as exactly one user.
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Bio       string    `json:"bio,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Post is a top-level post or, when ParentID is set, a comment.
type Post struct {
	ID             int64          `json:"id"`
	AuthorID       int64          `json:"author_id"`
	AuthorUsername string         `json:"author_username"`
	ParentID       int64          `json:"parent_post_id,omitempty"`
	Title          string         `json:"title,omitempty"`
	Content        string         `json:"content"`
	CreatedAt      time.Time      `json:"created_at"`
	CommentCount   int            `json:"comment_count"`
	ReactionCount  int            `json:"reaction_count"`
	Reactions      map[string]int `json:"reaction_counts,omitempty"`
}

// IsComment reports whether the post replies to another post.
func (p Post) IsComment() bool { return p.ParentID != 0 }

// Community groups users around a topic.
type Community struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedBy   int64     `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	MemberCount int       `json:"member_count"`
}

// Membership links a user to a community.
type Membership struct {
	UserID      int64     `json:"user_id"`
	CommunityID int64     `json:"community_id"`
	Community   string    `json:"community"`
	Role        string    `json:"role"`
	JoinedAt    time.Time `json:"joined_at"`
}

// Profile summarises a user as seen by another user.
type Profile struct {
	Username       string   `json:"username"`
	Bio            string   `json:"bio,omitempty"`
	FollowerCount  int      `json:"follower_count"`
	FollowingCount int      `json:"following_count"`
	PostCount      int      `json:"post_count"`
	LikesReceived  int      `json:"likes_received"`
	TopLikedPosts  []string `json:"top_liked_posts,omitempty"`
	FollowsViewer  bool     `json:"follows_viewer"`
	FollowedByYou  bool     `json:"followed_by_viewer"`
}

// ReactionSummary is returned by reaction writes.
type ReactionSummary struct {
	PostID    int64          `json:"post_id"`
	PostTitle string         `json:"post_title,omitempty"`
	Reaction  string         `json:"reaction"`
	Counts    map[string]int `json:"reaction_counts"`
}

// FollowSummary is returned by follow writes.
type FollowSummary struct {
	Follower       string `json:"follower"`
	Followed       string `json:"followed"`
	FollowedID     int64  `json:"followed_id"`
	FollowingCount int    `json:"following_count"`
}
