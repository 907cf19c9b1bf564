// Package core carries the request-scoped identifiers shared by every layer
// of a simulation run.
package core

import (
	"context"

	"github.com/google/uuid"
)

// Scope identifies where in a simulation a piece of work happens. Layers
// add to it as a call descends: the runner sets the run, each agent loop
// its agent, each iteration its turn.
type Scope struct {
	RunID   string
	Agent   string
	Turn    int
	HasTurn bool
}

type scopeKey struct{}

// ScopeFrom returns the scope attached to ctx, or the zero Scope.
func ScopeFrom(ctx context.Context) Scope {
	s, _ := ctx.Value(scopeKey{}).(Scope)
	return s
}

func withScope(ctx context.Context, edit func(*Scope)) context.Context {
	s := ScopeFrom(ctx)
	edit(&s)
	return context.WithValue(ctx, scopeKey{}, s)
}

func WithRunID(ctx context.Context, id string) context.Context {
	return withScope(ctx, func(s *Scope) { s.RunID = id })
}

// RunID returns the run id, if one is set.
func RunID(ctx context.Context) (string, bool) {
	id := ScopeFrom(ctx).RunID
	return id, id != ""
}

// EnsureRunID returns ctx unchanged when it already carries a run id and
// otherwise attaches a fresh one.
func EnsureRunID(ctx context.Context) (context.Context, string) {
	if id, ok := RunID(ctx); ok {
		return ctx, id
	}
	id := NewRunID()
	return WithRunID(ctx, id), id
}

func NewRunID() string {
	return "run-" + uuid.NewString()
}

func WithAgent(ctx context.Context, agent string) context.Context {
	return withScope(ctx, func(s *Scope) { s.Agent = agent })
}

// Agent returns the acting agent, if one is set.
func Agent(ctx context.Context) (string, bool) {
	a := ScopeFrom(ctx).Agent
	return a, a != ""
}

func WithTurn(ctx context.Context, turn int) context.Context {
	return withScope(ctx, func(s *Scope) { s.Turn, s.HasTurn = turn, true })
}

// Turn returns the simulation turn. Turn 0 is valid, so ok reports whether
// one was set at all.
func Turn(ctx context.Context) (int, bool) {
	s := ScopeFrom(ctx)
	return s.Turn, s.HasTurn
}
