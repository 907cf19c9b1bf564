// Copyright 2026 © The Agora Authors
// SPDX-License-Identifier: Apache-2.0

package tracker

import (
	"sort"
	"strings"
)

// Status is the outcome of a reference lookup.
type Status int

const (
	NotFound Status = iota
	Resolved
	Ambiguous
)

func (s Status) String() string {
	switch s {
	case Resolved:
		return "resolved"
	case Ambiguous:
		return "ambiguous"
	default:
		return "not_found"
	}
}

// Reference is a human-readable pointer to a target of a given kind.
type Reference struct {
	Kind Kind
	Text string
}

// Resolution is the result of ResolveReference. Candidates are ordered most
// recent first; for Resolved it holds the single match.
type Resolution struct {
	Status     Status
	Target     Target
	Candidates []Target
}

var deictic = map[string]bool{
	"last":                 true,
	"latest":               true,
	"most recent":          true,
	"the last one":         true,
	"the latest one":       true,
	"last post":            true,
	"latest post":          true,
	"the last post":        true,
	"the latest post":      true,
	"the most recent post": true,
	"last post i saw":      true,
	"the last post i saw":  true,
	"the post i just saw":  true,
	"last user":            true,
	"the last user":        true,
	"last community":       true,
	"the last community":   true,
}

// IsDeictic reports whether text points at "the most recent thing" rather
// than naming a target.
func IsDeictic(text string) bool {
	return deictic[normalize(text, "")]
}

type hit struct {
	target Target
	turn   int
	seq    uint64
}

// ResolveReference searches agent's retained history, most recent first.
// An exact label match (case-insensitive, "@" ignored for users) beats a
// substring match. Several distinct targets on the winning tier yield
// Ambiguous; the tracker never picks among them.
func (t *Tracker) ResolveReference(agent string, ref Reference) Resolution {
	c, ok := t.existing(agent)
	if !ok {
		return Resolution{Status: NotFound}
	}
	text := normalize(ref.Text, ref.Kind)
	if text == "" {
		return Resolution{Status: NotFound}
	}

	hits := t.history(c, ref.Kind)
	var exact, partial []Target
	seenExact := make(map[int64]bool)
	seenPartial := make(map[int64]bool)
	for _, h := range hits {
		label := normalize(h.target.Label, ref.Kind)
		switch {
		case label == text:
			if !seenExact[h.target.ID] {
				seenExact[h.target.ID] = true
				exact = append(exact, h.target)
			}
		case strings.Contains(label, text):
			if !seenPartial[h.target.ID] {
				seenPartial[h.target.ID] = true
				partial = append(partial, h.target)
			}
		}
	}
	if deictic[text] && len(exact) == 0 {
		// Prefer what the agent saw over what it did.
		for _, h := range hits {
			if h.seq&actionBit == 0 {
				return resolved(h.target)
			}
		}
		if len(hits) > 0 {
			return resolved(hits[0].target)
		}
		return Resolution{Status: NotFound}
	}
	for _, tier := range [][]Target{exact, partial} {
		switch len(tier) {
		case 0:
			continue
		case 1:
			return resolved(tier[0])
		default:
			return Resolution{Status: Ambiguous, Candidates: tier}
		}
	}
	return Resolution{Status: NotFound}
}

func resolved(t Target) Resolution {
	return Resolution{Status: Resolved, Target: t, Candidates: []Target{t}}
}

// actionBit marks hits that came from the action log so the two logs can be
// merged on one sequence axis.
const actionBit = uint64(1) << 63

// history returns retained targets of kind, most recent first. Entries past
// the turn-age window are skipped even if eviction has not run yet.
func (t *Tracker) history(c *agentContext, kind Kind) []hit {
	c.mu.Lock()
	defer c.mu.Unlock()
	var hits []hit
	for _, v := range c.visible {
		if v.Target.Kind == kind && within(t.cfg.Visibility, c.turn, v.Turn) {
			hits = append(hits, hit{target: v.Target, turn: v.Turn, seq: v.seq})
		}
	}
	for _, a := range c.actions {
		if !within(t.cfg.Actions, c.turn, a.Turn) {
			continue
		}
		for _, target := range a.Targets {
			if target.Kind == kind {
				hits = append(hits, hit{target: target, turn: a.Turn, seq: a.seq | actionBit})
			}
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].turn != hits[j].turn {
			return hits[i].turn > hits[j].turn
		}
		return hits[i].seq&^actionBit > hits[j].seq&^actionBit
	})
	return hits
}

func within(w Window, now, turn int) bool {
	return w.MaxTurnAge <= 0 || now-turn <= w.MaxTurnAge
}

func normalize(s string, kind Kind) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"'`)
	if kind == KindUser {
		s = strings.TrimPrefix(s, "@")
	}
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
