package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	agerr "github.com/synthagora/agora/pkg/errors"
	"github.com/synthagora/agora/pkg/platform"
	"github.com/synthagora/agora/pkg/tools"
	"github.com/synthagora/agora/pkg/tracker"
)

// AmbiguityPolicy decides what happens when a reference matches several targets.
type AmbiguityPolicy string

const (
	// AmbiguityMostRecent binds the most recently seen or touched candidate.
	AmbiguityMostRecent AmbiguityPolicy = "most_recent"
	// AmbiguityReject returns the candidates to the agent instead.
	AmbiguityReject AmbiguityPolicy = "reject"
)

// ParseAmbiguityPolicy accepts the config spelling of a policy.
func ParseAmbiguityPolicy(s string) (AmbiguityPolicy, error) {
	switch AmbiguityPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", AmbiguityMostRecent:
		return AmbiguityMostRecent, nil
	case AmbiguityReject:
		return AmbiguityReject, nil
	}
	return "", agerr.Newf(agerr.CodeValidation, "unknown ambiguity policy %q", s)
}

// bound is the resolved value of one declared parameter.
type bound struct {
	value  any
	label  string
	target *tracker.Target
}

var refKinds = map[tools.ParamType]tracker.Kind{
	tools.PostReference:      tracker.KindPost,
	tools.UserReference:      tracker.KindUser,
	tools.CommunityReference: tracker.KindCommunity,
}

// bind validates and resolves every declared parameter. It never writes.
func (e *Executor) bind(ctx context.Context, agent string, def tools.Definition, raw map[string]any) (map[string]bound, Result) {
	out := make(map[string]bound, len(def.Params))
	for _, p := range def.Params {
		v, present := raw[p.Name]
		if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
			present = false
		}
		if !present || v == nil {
			if p.Default != nil {
				v = p.Default
			} else if p.Required {
				return nil, UnresolvedArgument{Tool: def.Name, Parameter: p.Name, Reason: ReasonMissing}
			} else {
				continue
			}
		}

		if kind, ok := refKinds[p.Type]; ok {
			text, ok := v.(string)
			if !ok {
				return nil, UnresolvedArgument{
					Tool:      def.Name,
					Parameter: p.Name,
					Reason:    ReasonInvalid,
					Detail:    fmt.Sprintf("expected a %s name, got %T", kind, v),
				}
			}
			b, res := e.resolve(ctx, agent, def.Name, p.Name, kind, text)
			if res != nil {
				return nil, res
			}
			out[p.Name] = b
			continue
		}

		value, err := coerce(p, v)
		if err != nil {
			return nil, UnresolvedArgument{
				Tool:      def.Name,
				Parameter: p.Name,
				Reason:    ReasonInvalid,
				Value:     fmt.Sprint(v),
				Detail:    err.Error(),
			}
		}
		out[p.Name] = bound{value: value, label: fmt.Sprint(value)}
	}
	return out, nil
}

func (e *Executor) resolve(ctx context.Context, agent, tool, param string, kind tracker.Kind, text string) (bound, Result) {
	res := e.tracker.ResolveReference(agent, tracker.Reference{Kind: kind, Text: text})
	e.metrics.RecordResolution(ctx, string(kind), res.Status.String())

	switch res.Status {
	case tracker.Resolved:
		return targetValue(res.Target), nil
	case tracker.Ambiguous:
		if e.policy == AmbiguityReject {
			return bound{}, UnresolvedArgument{
				Tool:       tool,
				Parameter:  param,
				Reason:     ReasonAmbiguous,
				Value:      text,
				Candidates: res.Candidates,
			}
		}
		e.logger.DebugContext(ctx, "executor.reference.ambiguous",
			"agent", agent,
			"parameter", param,
			"candidates", len(res.Candidates),
			"chosen", res.Candidates[0].ID,
		)
		return targetValue(res.Candidates[0]), nil
	}

	if e.directory != nil && !tracker.IsDeictic(text) {
		target, err := e.lookup(ctx, kind, text)
		switch {
		case err == nil:
			e.metrics.RecordResolution(ctx, string(kind), "directory")
			return targetValue(target), nil
		case !agerr.HasCode(err, agerr.CodeNotFound):
			return bound{}, failure(tool, err)
		}
	}
	return bound{}, UnresolvedArgument{Tool: tool, Parameter: param, Reason: ReasonNotFound, Value: text}
}

// lookup consults the read-only directory. Posts are never looked up: an
// agent can only refer to posts it has seen.
func (e *Executor) lookup(ctx context.Context, kind tracker.Kind, text string) (tracker.Target, error) {
	name := strings.Trim(strings.TrimSpace(text), `"'`)
	switch kind {
	case tracker.KindUser:
		u, err := e.directory.LookupUser(ctx, strings.TrimPrefix(name, "@"))
		if err != nil {
			return tracker.Target{}, err
		}
		return tracker.Target{Kind: tracker.KindUser, ID: u.ID, Label: u.Username}, nil
	case tracker.KindCommunity:
		c, err := e.directory.LookupCommunity(ctx, name)
		if err != nil {
			return tracker.Target{}, err
		}
		return tracker.Target{Kind: tracker.KindCommunity, ID: c.ID, Label: c.Name}, nil
	}
	return tracker.Target{}, agerr.Newf(agerr.CodeNotFound, "no directory for %s references", kind)
}

// targetValue converts a target into the value facade operations expect:
// users are addressed by username, posts and communities by id.
func targetValue(t tracker.Target) bound {
	b := bound{label: t.Label, target: &t}
	if t.Kind == tracker.KindUser {
		b.value = t.Label
	} else {
		b.value = t.ID
	}
	return b
}

func coerce(p tools.Param, v any) (any, error) {
	switch p.Type {
	case tools.Integer:
		n, ok := platform.AsInt(v)
		if !ok {
			return nil, fmt.Errorf("expected an integer, got %v", v)
		}
		return n, nil
	case tools.Enum:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected one of %s", strings.Join(p.Choices, ", "))
		}
		for _, c := range p.Choices {
			if strings.EqualFold(strings.TrimSpace(s), c) {
				return c, nil
			}
		}
		return nil, fmt.Errorf("%q is not one of %s", s, strings.Join(p.Choices, ", "))
	default:
		switch s := v.(type) {
		case string:
			return s, nil
		case json.Number, float64, int, int64, bool:
			return fmt.Sprint(s), nil
		}
		return nil, fmt.Errorf("expected text, got %T", v)
	}
}

// facadeArgs applies the definition's mapping. Bindings to absent optional
// parameters are skipped so the operation sees its own defaults.
func facadeArgs(def tools.Definition, agent string, values map[string]bound) platform.Args {
	args := make(platform.Args, len(def.Mapping))
	for _, m := range def.Mapping {
		switch m.Source {
		case tools.FromAgent:
			args[m.Arg] = agent
		case tools.FromConst:
			args[m.Arg] = m.Value
		default:
			if b, ok := values[m.Param]; ok {
				args[m.Arg] = b.value
			}
		}
	}
	return args
}
