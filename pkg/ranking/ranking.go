// Copyright 2026 © The Agora Authors
// SPDX-License-Identifier: Apache-2.0

// Package ranking scores candidate posts for a viewer and orders them into a feed.
//
// Scoring is a pure function of the candidates and the reference time: the
// composite is a weighted sum of temporal, engagement and social sub-scores,
// followed by a diversity pass that damps repeated authors near the top.
package ranking

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Relationship is the viewer's distance to a post author.
type Relationship int

const (
	RelationNone Relationship = iota
	RelationMutual
	RelationFollowing
	RelationSelf
)

func (r Relationship) String() string {
	switch r {
	case RelationSelf:
		return "self"
	case RelationFollowing:
		return "following"
	case RelationMutual:
		return "mutual"
	default:
		return "none"
	}
}

// Candidate is one post offered to the ranker with the attributes it scores.
type Candidate struct {
	PostID         int64
	Title          string
	Snippet        string
	AuthorID       int64
	AuthorUsername string
	CreatedAt      time.Time
	ReactionCount  int
	CommentCount   int
	Relationship   Relationship
	// MutualCount is the number of viewer followees who follow the author.
	MutualCount int
	// Interactions counts the viewer's past reactions and comments on the author.
	Interactions int
}

// ScoredItem keeps the decomposition that produced Score.
type ScoredItem struct {
	Candidate  Candidate
	Temporal   float64
	Engagement float64
	Social     float64
	Composite  float64
	Penalty    float64
	Score      float64
}

// Weights of the composite score.
type Weights struct {
	Temporal   float64 `koanf:"temporal" yaml:"temporal"`
	Engagement float64 `koanf:"engagement" yaml:"engagement"`
	Social     float64 `koanf:"social" yaml:"social"`
}

// DefaultWeights returns the 0.4/0.3/0.3 split.
func DefaultWeights() Weights {
	return Weights{Temporal: 0.4, Engagement: 0.3, Social: 0.3}
}

// Config controls scoring and diversity.
type Config struct {
	Weights Weights
	// Horizon is the age at which the temporal score reaches Floor.
	Horizon time.Duration
	Floor   float64
	// InteractionBonus adds min(0.2, 0.05*interactions) to the social score.
	InteractionBonus bool
	MaxPerAuthor     int
	PenaltyFactor    float64
	// TopK bounds the diversity window; zero means the whole list.
	TopK int
}

// DefaultConfig returns the standard feed configuration.
func DefaultConfig() Config {
	return Config{
		Weights:          DefaultWeights(),
		Horizon:          48 * time.Hour,
		Floor:            0.1,
		InteractionBonus: true,
		MaxPerAuthor:     2,
		PenaltyFactor:    0.8,
		TopK:             20,
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.Weights == (Weights{}) {
		c.Weights = d.Weights
	}
	if c.Horizon <= 0 {
		c.Horizon = d.Horizon
	}
	if c.Floor < 0 || c.Floor > 1 {
		c.Floor = d.Floor
	}
	if c.MaxPerAuthor <= 0 {
		c.MaxPerAuthor = d.MaxPerAuthor
	}
	if c.PenaltyFactor <= 0 || c.PenaltyFactor > 1 {
		c.PenaltyFactor = d.PenaltyFactor
	}
	if c.TopK < 0 {
		c.TopK = 0
	}
	return c
}

// Ranker scores candidates. It holds no mutable state and is safe for concurrent use.
type Ranker struct {
	cfg Config
}

// New builds a Ranker; zero fields of cfg take their defaults.
func New(cfg Config) *Ranker {
	return &Ranker{cfg: cfg.normalized()}
}

// Config returns the effective configuration.
func (r *Ranker) Config() Config { return r.cfg }

// WithWeights returns a Ranker that shares r's settings but uses w.
func (r *Ranker) WithWeights(w Weights) *Ranker {
	cfg := r.cfg
	cfg.Weights = w
	return New(cfg)
}

// Rank scores candidates for viewer at now and returns them in feed order.
// Posts authored by viewer are scored as self regardless of Relationship.
func (r *Ranker) Rank(viewer string, candidates []Candidate, now time.Time) []ScoredItem {
	if len(candidates) == 0 {
		return nil
	}
	maxEngagement := 0.0
	for _, c := range candidates {
		maxEngagement = math.Max(maxEngagement, rawEngagement(c))
	}

	items := make([]ScoredItem, len(candidates))
	for i, c := range candidates {
		if viewer != "" && strings.EqualFold(c.AuthorUsername, viewer) {
			c.Relationship = RelationSelf
		}
		item := ScoredItem{
			Candidate: c,
			Temporal:  r.TemporalScore(c.CreatedAt, now),
			Social:    r.SocialScore(c),
		}
		if maxEngagement > 0 {
			item.Engagement = rawEngagement(c) / maxEngagement
		}
		w := r.cfg.Weights
		item.Composite = w.Temporal*item.Temporal + w.Engagement*item.Engagement + w.Social*item.Social
		items[i] = item
	}
	return r.Diversify(items)
}

// TemporalScore decays linearly from 1 to the floor over the horizon.
// Items from the future score 1.
func (r *Ranker) TemporalScore(created, now time.Time) float64 {
	age := now.Sub(created)
	if age <= 0 {
		return 1
	}
	return math.Max(r.cfg.Floor, 1-float64(age)/float64(r.cfg.Horizon))
}

// SocialScore maps relationship distance (and optionally interaction density) to [0,1].
func (r *Ranker) SocialScore(c Candidate) float64 {
	var s float64
	switch c.Relationship {
	case RelationSelf:
		s = 1.0
	case RelationFollowing:
		s = 0.8
	case RelationMutual:
		s = math.Min(0.7, 0.5+0.1*float64(c.MutualCount))
	default:
		s = 0.1
	}
	if r.cfg.InteractionBonus && c.Interactions > 0 {
		s += math.Min(0.2, 0.05*float64(c.Interactions))
	}
	return math.Min(1, s)
}

func rawEngagement(c Candidate) float64 {
	return float64(c.ReactionCount) + 2*float64(c.CommentCount)
}

// Diversify recomputes penalties from composite scores and returns the items
// in feed order. Within the first TopK items of the composite order, the k-th
// appearance of an author beyond MaxPerAuthor is scaled by PenaltyFactor^k.
// Existing Penalty and Score values are ignored, so the pass is idempotent.
func (r *Ranker) Diversify(items []ScoredItem) []ScoredItem {
	out := make([]ScoredItem, len(items))
	copy(out, items)
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j], out[i].Composite, out[j].Composite) })

	seen := make(map[string]int)
	for i := range out {
		out[i].Penalty = 1
		author := authorKey(out[i].Candidate)
		seen[author]++
		if (r.cfg.TopK == 0 || i < r.cfg.TopK) && seen[author] > r.cfg.MaxPerAuthor {
			out[i].Penalty = math.Pow(r.cfg.PenaltyFactor, float64(seen[author]-r.cfg.MaxPerAuthor))
		}
		out[i].Score = out[i].Composite * out[i].Penalty
	}
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j], out[i].Score, out[j].Score) })
	return out
}

// less orders by score desc, then newest first, then lowest post id.
func less(a, b ScoredItem, sa, sb float64) bool {
	if sa != sb {
		return sa > sb
	}
	if !a.Candidate.CreatedAt.Equal(b.Candidate.CreatedAt) {
		return a.Candidate.CreatedAt.After(b.Candidate.CreatedAt)
	}
	return a.Candidate.PostID < b.Candidate.PostID
}

func authorKey(c Candidate) string {
	if c.AuthorUsername != "" {
		return strings.ToLower(c.AuthorUsername)
	}
	return "#" + strconv.FormatInt(c.AuthorID, 10)
}
