package simulation

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/synthagora/agora/pkg/agent"
	agerr "github.com/synthagora/agora/pkg/errors"
	"github.com/synthagora/agora/pkg/platform"
)

// Scenario is the seed of a simulation: who exists, who follows whom and
// what has already been posted.
type Scenario struct {
	Name        string          `yaml:"name"`
	Description string          `yaml:"description"`
	Turns       int             `yaml:"turns"`
	Agents      []AgentSpec     `yaml:"agents"`
	Communities []CommunitySpec `yaml:"communities"`
	Posts       []PostSpec      `yaml:"posts"`
}

// AgentSpec declares one simulated user.
type AgentSpec struct {
	Username    string   `yaml:"username"`
	Bio         string   `yaml:"bio"`
	Persona     string   `yaml:"persona"`
	Interests   []string `yaml:"interests"`
	Follows     []string `yaml:"follows"`
	Communities []string `yaml:"communities"`
	// Active defaults to true.
	Active *bool `yaml:"active"`
}

// CommunitySpec declares a community and its creator.
type CommunitySpec struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Creator     string `yaml:"creator"`
}

// PostSpec declares a post present before the first turn.
type PostSpec struct {
	Author  string `yaml:"author"`
	Title   string `yaml:"title"`
	Content string `yaml:"content"`
}

// LoadScenario reads and validates a YAML scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, agerr.New(agerr.CodeNotFound, "read scenario", err).WithContext("path", path)
	}
	sc, err := ParseScenario(data)
	if err != nil {
		return nil, agerr.AsAgoraError(err).WithContext("path", path)
	}
	return sc, nil
}

// ParseScenario decodes and validates a YAML scenario.
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, agerr.New(agerr.CodeValidation, "invalid scenario yaml", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Validate checks that every name the scenario refers to is declared.
func (s *Scenario) Validate() error {
	if len(s.Agents) == 0 {
		return agerr.Newf(agerr.CodeValidation, "scenario %q declares no agents", s.Name)
	}
	if s.Turns < 0 {
		return agerr.Newf(agerr.CodeValidation, "scenario turns must not be negative")
	}
	users := make(map[string]bool, len(s.Agents))
	for _, a := range s.Agents {
		name := normalizeUsername(a.Username)
		if users[name] {
			return agerr.Newf(agerr.CodeValidation, "agent %q declared twice", name)
		}
		users[name] = true
	}
	communities := make(map[string]bool, len(s.Communities))
	for _, c := range s.Communities {
		if strings.TrimSpace(c.Name) == "" {
			return agerr.Newf(agerr.CodeValidation, "community without a name")
		}
		if !users[normalizeUsername(c.Creator)] {
			return agerr.Newf(agerr.CodeValidation, "community %q has unknown creator %q", c.Name, c.Creator)
		}
		communities[c.Name] = true
	}
	for _, a := range s.Agents {
		for _, f := range a.Follows {
			if !users[normalizeUsername(f)] {
				return agerr.Newf(agerr.CodeValidation, "agent %q follows unknown user %q", a.Username, f)
			}
		}
		for _, c := range a.Communities {
			if !communities[c] {
				return agerr.Newf(agerr.CodeValidation, "agent %q joins unknown community %q", a.Username, c)
			}
		}
	}
	for _, p := range s.Posts {
		if !users[normalizeUsername(p.Author)] {
			return agerr.Newf(agerr.CodeValidation, "post %q has unknown author %q", p.Title, p.Author)
		}
		if strings.TrimSpace(p.Content) == "" {
			return agerr.Newf(agerr.CodeValidation, "post %q has no content", p.Title)
		}
	}
	return nil
}

// BuildAgents returns the scenario's agents in declaration order.
func (s *Scenario) BuildAgents() ([]*agent.Agent, error) {
	out := make([]*agent.Agent, 0, len(s.Agents))
	for _, spec := range s.Agents {
		active := spec.Active == nil || *spec.Active
		a, err := agent.New(spec.Username,
			agent.WithBio(spec.Bio),
			agent.WithPersona(spec.Persona),
			agent.WithInterests(spec.Interests),
			agent.WithActive(active),
		)
		if err != nil {
			return nil, agerr.New(agerr.CodeValidation, fmt.Sprintf("agent %q", spec.Username), err)
		}
		out = append(out, a)
	}
	return out, nil
}

// SeedReport counts what Seed created.
type SeedReport struct {
	Users       int
	Follows     int
	Communities int
	Memberships int
	Posts       int
}

// Seeder is the part of the platform a scenario is written to.
type Seeder interface {
	CreateUser(ctx context.Context, username, bio string) (platform.User, error)
	Follow(ctx context.Context, follower, followed string) (platform.FollowSummary, error)
	CreateCommunity(ctx context.Context, username, name, description string) (platform.Community, error)
	LookupCommunity(ctx context.Context, name string) (platform.Community, error)
	JoinCommunity(ctx context.Context, username string, communityID int64) (platform.Membership, error)
	CreatePost(ctx context.Context, username, title, content string) (platform.Post, error)
}

// Seed writes the scenario into the platform. It can be applied to a database
// that was already seeded: existing users, follows, communities and
// memberships are kept, and posts are only created for authors that did not
// exist yet.
func (s *Scenario) Seed(ctx context.Context, svc Seeder, logger *slog.Logger) (SeedReport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var rep SeedReport
	fresh := make(map[string]bool)

	for _, a := range s.Agents {
		name := normalizeUsername(a.Username)
		_, err := svc.CreateUser(ctx, name, a.Bio)
		switch {
		case err == nil:
			rep.Users++
			fresh[name] = true
		case !agerr.HasCode(err, agerr.CodeConflict):
			return rep, err
		}
	}
	for _, a := range s.Agents {
		for _, f := range a.Follows {
			_, err := svc.Follow(ctx, normalizeUsername(a.Username), normalizeUsername(f))
			if ok, err := tolerated(err); err != nil {
				return rep, err
			} else if ok {
				rep.Follows++
			}
		}
	}
	for _, c := range s.Communities {
		_, err := svc.CreateCommunity(ctx, normalizeUsername(c.Creator), c.Name, c.Description)
		if ok, err := tolerated(err); err != nil {
			return rep, err
		} else if ok {
			rep.Communities++
		}
	}
	for _, a := range s.Agents {
		for _, name := range a.Communities {
			c, err := svc.LookupCommunity(ctx, name)
			if err != nil {
				return rep, err
			}
			_, err = svc.JoinCommunity(ctx, normalizeUsername(a.Username), c.ID)
			if ok, err := tolerated(err); err != nil {
				return rep, err
			} else if ok {
				rep.Memberships++
			}
		}
	}
	for _, p := range s.Posts {
		author := normalizeUsername(p.Author)
		if !fresh[author] {
			continue
		}
		if _, err := svc.CreatePost(ctx, author, p.Title, p.Content); err != nil {
			return rep, err
		}
		rep.Posts++
	}

	logger.InfoContext(ctx, "simulation.scenario.seeded",
		slog.String("scenario", s.Name),
		slog.Int("users", rep.Users),
		slog.Int("follows", rep.Follows),
		slog.Int("communities", rep.Communities),
		slog.Int("memberships", rep.Memberships),
		slog.Int("posts", rep.Posts),
	)
	return rep, nil
}

// tolerated treats conflicts as already applied. It reports whether the
// write happened.
func tolerated(err error) (bool, error) {
	switch {
	case err == nil:
		return true, nil
	case agerr.HasCode(err, agerr.CodeConflict):
		return false, nil
	}
	return false, err
}

func normalizeUsername(s string) string {
	return strings.TrimPrefix(strings.TrimSpace(s), "@")
}
