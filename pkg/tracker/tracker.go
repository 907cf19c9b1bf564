// Copyright 2026 © The Agora Authors
// SPDX-License-Identifier: Apache-2.0

// Package tracker keeps, per agent, a bounded history of what the agent did
// and what it was shown, and resolves human-readable references against it.
//
// Each agent owns an independent context guarded by its own mutex, so agents
// never contend with each other. Both logs are ordered by (turn, insertion)
// and evicted from the front; an evicted entry can never be resolved again.
package tracker

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind classifies a resolvable target.
type Kind string

const (
	KindPost      Kind = "post"
	KindUser      Kind = "user"
	KindCommunity Kind = "community"
)

// Target is a concrete entity an agent can refer to.
type Target struct {
	Kind   Kind   `json:"kind"`
	ID     int64  `json:"id"`
	Label  string `json:"label"`
	Author string `json:"author,omitempty"`
}

// VisibilityRecord is one item shown to an agent.
type VisibilityRecord struct {
	Target  Target `json:"target"`
	Snippet string `json:"snippet,omitempty"`
	Turn    int    `json:"turn"`
	seq     uint64
}

// ActionRecord is one executed action with fully resolved arguments.
type ActionRecord struct {
	ID        string         `json:"id"`
	Agent     string         `json:"agent"`
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Targets   []Target       `json:"targets,omitempty"`
	Turn      int            `json:"turn"`
	At        time.Time      `json:"at"`
	Outcome   string         `json:"outcome"`
	seq       uint64
}

// Window bounds one log. Zero fields disable the corresponding limit.
type Window struct {
	MaxEntries int `koanf:"max_entries" yaml:"max_entries"`
	// MaxTurnAge evicts entries recorded more than this many turns ago.
	MaxTurnAge int `koanf:"max_turn_age" yaml:"max_turn_age"`
}

// Config sets the retention of the two logs independently.
type Config struct {
	Actions      Window
	Visibility   Window
	SnapshotSize int
}

// DefaultConfig keeps actions longer than visible content.
func DefaultConfig() Config {
	return Config{
		Actions:      Window{MaxEntries: 50, MaxTurnAge: 10},
		Visibility:   Window{MaxEntries: 100, MaxTurnAge: 5},
		SnapshotSize: 10,
	}
}

// State is the lifecycle state of an agent context.
type State int

const (
	StateUninitialized State = iota
	StateActive
)

func (s State) String() string {
	if s == StateActive {
		return "active"
	}
	return "uninitialized"
}

// Tracker holds one context per agent.
type Tracker struct {
	cfg    Config
	now    func() time.Time
	logger *slog.Logger
	agents sync.Map // agent name -> *agentContext
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock sets the clock used to stamp action records.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithLogger sets the logger used for eviction events.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// New returns an empty Tracker.
func New(cfg Config, opts ...Option) *Tracker {
	if cfg.SnapshotSize <= 0 {
		cfg.SnapshotSize = DefaultConfig().SnapshotSize
	}
	t := &Tracker{cfg: cfg, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

type agentContext struct {
	mu      sync.Mutex
	turn    int
	seq     uint64
	actions []ActionRecord
	visible []VisibilityRecord
}

func (t *Tracker) context(agent string) *agentContext {
	if c, ok := t.agents.Load(agent); ok {
		return c.(*agentContext)
	}
	c, _ := t.agents.LoadOrStore(agent, &agentContext{})
	return c.(*agentContext)
}

func (t *Tracker) existing(agent string) (*agentContext, bool) {
	c, ok := t.agents.Load(agent)
	if !ok {
		return nil, false
	}
	return c.(*agentContext), true
}

// State reports whether agent has a live context.
func (t *Tracker) State(agent string) State {
	if _, ok := t.agents.Load(agent); ok {
		return StateActive
	}
	return StateUninitialized
}

// Agents lists agents with a live context, sorted by name.
func (t *Tracker) Agents() []string {
	var out []string
	t.agents.Range(func(k, _ any) bool {
		out = append(out, k.(string))
		return true
	})
	sort.Strings(out)
	return out
}

// Reset drops agent's context; the next use starts from scratch.
func (t *Tracker) Reset(agent string) {
	t.agents.Delete(agent)
}

// ResetAll drops every context.
func (t *Tracker) ResetAll() {
	t.agents.Range(func(k, _ any) bool {
		t.agents.Delete(k)
		return true
	})
}

// BeginTurn advances agent's clock to turn and applies turn-age eviction.
func (t *Tracker) BeginTurn(agent string, turn int) {
	c := t.context(agent)
	c.mu.Lock()
	defer c.mu.Unlock()
	if turn > c.turn {
		c.turn = turn
	}
	t.evict(agent, c)
}

// Turn returns agent's current turn.
func (t *Tracker) Turn(agent string) int {
	c, ok := t.existing(agent)
	if !ok {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.turn
}

// RecordVisibility appends the items shown to agent at turn.
func (t *Tracker) RecordVisibility(agent string, items []VisibilityRecord, turn int) {
	if len(items) == 0 {
		t.BeginTurn(agent, turn)
		return
	}
	c := t.context(agent)
	c.mu.Lock()
	defer c.mu.Unlock()
	if turn > c.turn {
		c.turn = turn
	}
	for _, it := range items {
		c.seq++
		it.Turn = turn
		it.seq = c.seq
		c.visible = insertVisible(c.visible, it)
	}
	t.evict(agent, c)
}

// RecordAction appends rec to agent's action log and returns the stored copy.
// Missing ID, Agent, Turn and At fields are filled in.
func (t *Tracker) RecordAction(agent string, rec ActionRecord) ActionRecord {
	c := t.context(agent)
	c.mu.Lock()
	defer c.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.Agent = agent
	if rec.Turn == 0 {
		rec.Turn = c.turn
	}
	if rec.Turn > c.turn {
		c.turn = rec.Turn
	}
	if rec.At.IsZero() {
		rec.At = t.now().UTC()
	}
	rec.Arguments = copyArgs(rec.Arguments)
	rec.Targets = append([]Target(nil), rec.Targets...)
	c.seq++
	rec.seq = c.seq
	c.actions = insertAction(c.actions, rec)
	t.evict(agent, c)
	return cloneAction(rec)
}

// Actions returns agent's action log, oldest first.
func (t *Tracker) Actions(agent string) []ActionRecord {
	c, ok := t.existing(agent)
	if !ok {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ActionRecord, len(c.actions))
	for i, a := range c.actions {
		out[i] = cloneAction(a)
	}
	return out
}

// Visible returns agent's visibility log, oldest first.
func (t *Tracker) Visible(agent string) []VisibilityRecord {
	c, ok := t.existing(agent)
	if !ok {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]VisibilityRecord(nil), c.visible...)
}

// Snapshot is a prompt-sized view of an agent's recent context.
type Snapshot struct {
	Agent         string
	Turn          int
	RecentPosts   []VisibilityRecord
	RecentActions []ActionRecord
}

// Snapshot returns the most recent visible posts and actions, newest first.
func (t *Tracker) Snapshot(agent string) Snapshot {
	snap := Snapshot{Agent: agent}
	c, ok := t.existing(agent)
	if !ok {
		return snap
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	snap.Turn = c.turn
	seen := make(map[int64]bool)
	for i := len(c.visible) - 1; i >= 0 && len(snap.RecentPosts) < t.cfg.SnapshotSize; i-- {
		v := c.visible[i]
		if v.Target.Kind != KindPost || seen[v.Target.ID] {
			continue
		}
		seen[v.Target.ID] = true
		snap.RecentPosts = append(snap.RecentPosts, v)
	}
	for i := len(c.actions) - 1; i >= 0 && len(snap.RecentActions) < t.cfg.SnapshotSize; i-- {
		snap.RecentActions = append(snap.RecentActions, cloneAction(c.actions[i]))
	}
	return snap
}

// evict trims both logs to their windows. Callers hold c.mu.
func (t *Tracker) evict(agent string, c *agentContext) {
	var droppedA, droppedV int
	c.actions, droppedA = trim(c.actions, t.cfg.Actions, c.turn, func(a ActionRecord) int { return a.Turn })
	c.visible, droppedV = trim(c.visible, t.cfg.Visibility, c.turn, func(v VisibilityRecord) int { return v.Turn })
	if droppedA+droppedV > 0 {
		t.logger.Debug("tracker.evicted",
			slog.String("agent", agent),
			slog.Int("turn", c.turn),
			slog.Int("actions", droppedA),
			slog.Int("visibility", droppedV),
		)
	}
}

func trim[T any](log []T, w Window, now int, turnOf func(T) int) ([]T, int) {
	drop := 0
	if w.MaxTurnAge > 0 {
		for drop < len(log) && now-turnOf(log[drop]) > w.MaxTurnAge {
			drop++
		}
	}
	if w.MaxEntries > 0 && len(log)-drop > w.MaxEntries {
		drop = len(log) - w.MaxEntries
	}
	if drop == 0 {
		return log, 0
	}
	out := make([]T, len(log)-drop)
	copy(out, log[drop:])
	return out, drop
}

// insertVisible keeps the log sorted by (turn, seq).
func insertVisible(log []VisibilityRecord, v VisibilityRecord) []VisibilityRecord {
	i := sort.Search(len(log), func(i int) bool { return log[i].Turn > v.Turn })
	log = append(log, VisibilityRecord{})
	copy(log[i+1:], log[i:])
	log[i] = v
	return log
}

func insertAction(log []ActionRecord, a ActionRecord) []ActionRecord {
	i := sort.Search(len(log), func(i int) bool { return log[i].Turn > a.Turn })
	log = append(log, ActionRecord{})
	copy(log[i+1:], log[i:])
	log[i] = a
	return log
}

func copyArgs(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneAction(a ActionRecord) ActionRecord {
	a.Arguments = copyArgs(a.Arguments)
	a.Targets = append([]Target(nil), a.Targets...)
	return a
}
