// Package agent describes the simulated users that act on the network.
package agent

import (
	"errors"
	"regexp"
	"strings"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,32}$`)

// Agent is one simulated user: a platform account plus the persona the model
// is asked to play.
type Agent struct {
	username  string
	bio       string
	persona   string
	interests []string
	active    bool
}

var ErrInvalidUsername = errors.New("agent username must be 1-32 letters, digits, '_', '.' or '-'")

// Option configures an Agent instance.
type Option func(*Agent) error

// New creates an Agent for username. A leading '@' is ignored.
func New(username string, opts ...Option) (*Agent, error) {
	a := &Agent{username: strings.TrimPrefix(strings.TrimSpace(username), "@"), active: true}
	if !usernamePattern.MatchString(a.username) {
		return nil, ErrInvalidUsername
	}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// WithBio sets the profile bio stored on the platform.
func WithBio(bio string) Option {
	return func(a *Agent) error {
		a.bio = strings.TrimSpace(bio)
		return nil
	}
}

// WithPersona sets the instructions describing how the agent behaves.
func WithPersona(persona string) Option {
	return func(a *Agent) error {
		a.persona = strings.TrimSpace(persona)
		return nil
	}
}

// WithInterests sets the topics the agent cares about.
func WithInterests(interests []string) Option {
	return func(a *Agent) error {
		for _, in := range interests {
			if in = strings.TrimSpace(in); in != "" {
				a.interests = append(a.interests, in)
			}
		}
		return nil
	}
}

// WithActive marks whether the agent takes turns. Inactive agents exist on
// the platform but never act.
func WithActive(active bool) Option {
	return func(a *Agent) error {
		a.active = active
		return nil
	}
}

// Username returns the platform username.
func (a *Agent) Username() string { return a.username }

// Bio returns the profile bio.
func (a *Agent) Bio() string { return a.bio }

// Persona returns the behaviour instructions.
func (a *Agent) Persona() string { return a.persona }

// Interests returns the agent interests.
func (a *Agent) Interests() []string {
	return append([]string(nil), a.interests...)
}

// Active reports whether the agent takes turns.
func (a *Agent) Active() bool { return a.active }
