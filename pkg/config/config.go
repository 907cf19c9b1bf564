// Package config loads simulation settings from YAML files, AGORA_ environment
// variables and command-line overrides, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"

	agerr "github.com/synthagora/agora/pkg/errors"
	"github.com/synthagora/agora/pkg/ranking"
	"github.com/synthagora/agora/pkg/tracker"
)

type Config struct {
	Log        LogConfig        `koanf:"log"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
	LLM        LLMConfig        `koanf:"llm"`
	Store      StoreConfig      `koanf:"store"`
	Tracker    TrackerConfig    `koanf:"tracker"`
	Ranking    RankingConfig    `koanf:"ranking"`
	Executor   ExecutorConfig   `koanf:"executor"`
	Simulation SimulationConfig `koanf:"simulation"`
	Tools      ToolsConfig      `koanf:"tools"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type TelemetryConfig struct {
	Exporter           string `koanf:"exporter"` // none, stdout, otlp
	OTLPEndpoint       string `koanf:"otlp_endpoint"`
	OTLPInsecure       bool   `koanf:"otlp_insecure"`
	OTLPTimeoutSeconds int    `koanf:"otlp_timeout_seconds"`
}

type LLMConfig struct {
	Provider          string  `koanf:"provider"` // ollama, openai, mock
	Model             string  `koanf:"model"`
	BaseURL           string  `koanf:"base_url"` // empty uses the provider default
	APIKey            string  `koanf:"api_key"`
	Temperature       float64 `koanf:"temperature"`
	TimeoutSeconds    int     `koanf:"timeout_seconds"`
	MaxAttempts       int     `koanf:"max_attempts"`
	BreakerThreshold  int     `koanf:"breaker_threshold"` // consecutive failures before the model is skipped
	RequestsPerSecond float64 `koanf:"requests_per_second"`
}

// Timeout returns the per-call model timeout.
func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type StoreConfig struct {
	// Path of the SQLite database holding the simulated network.
	Path string `koanf:"path"`
	// Audit records every tool execution in the same database.
	Audit bool `koanf:"audit"`
}

type TrackerConfig struct {
	Actions      tracker.Window `koanf:"actions"`
	Visibility   tracker.Window `koanf:"visibility"`
	SnapshotSize int            `koanf:"snapshot_size"`
}

// Config converts the settings into a tracker configuration.
func (c TrackerConfig) Config() tracker.Config {
	return tracker.Config{Actions: c.Actions, Visibility: c.Visibility, SnapshotSize: c.SnapshotSize}
}

type RankingConfig struct {
	Weights          ranking.Weights `koanf:"weights"`
	HorizonHours     float64         `koanf:"horizon_hours"`
	Floor            float64         `koanf:"floor"`
	InteractionBonus bool            `koanf:"interaction_bonus"`
	MaxPerAuthor     int             `koanf:"max_per_author"`
	PenaltyFactor    float64         `koanf:"penalty_factor"`
	TopK             int             `koanf:"top_k"`
	// Discovery mixes recent posts from outside the viewer's network into the feed.
	DiscoveryHours float64 `koanf:"discovery_hours"`
	DiscoveryLimit int     `koanf:"discovery_limit"`
	PerAuthorLimit int     `koanf:"per_author_limit"`
}

// Config converts the settings into a ranker configuration.
func (c RankingConfig) Config() ranking.Config {
	return ranking.Config{
		Weights:          c.Weights,
		Horizon:          time.Duration(c.HorizonHours * float64(time.Hour)),
		Floor:            c.Floor,
		InteractionBonus: c.InteractionBonus,
		MaxPerAuthor:     c.MaxPerAuthor,
		PenaltyFactor:    c.PenaltyFactor,
		TopK:             c.TopK,
	}
}

// DiscoveryWindow returns how far back discovery candidates are taken from.
func (c RankingConfig) DiscoveryWindow() time.Duration {
	return time.Duration(c.DiscoveryHours * float64(time.Hour))
}

type ExecutorConfig struct {
	AmbiguityPolicy   string `koanf:"ambiguity_policy"` // most_recent, reject
	DirectoryFallback bool   `koanf:"directory_fallback"`
}

type SimulationConfig struct {
	Scenario     string `koanf:"scenario"`
	Turns        int    `koanf:"turns"`
	Concurrency  int    `koanf:"concurrency"`
	FeedLimit    int    `koanf:"feed_limit"`
	MaxToolCalls int    `koanf:"max_tool_calls"`
	HistorySize  int    `koanf:"history_size"`
}

type ToolsConfig struct {
	Allow []string `koanf:"allow"`
	Deny  []string `koanf:"deny"`
}

func setDefaults(k *koanf.Koanf) {
	k.Set("log.level", "info")
	k.Set("log.format", "text")

	k.Set("telemetry.exporter", "none")
	k.Set("telemetry.otlp_insecure", true)
	k.Set("telemetry.otlp_timeout_seconds", 10)

	k.Set("llm.provider", "ollama")
	k.Set("llm.model", "qwen2.5:7b-instruct")
	k.Set("llm.temperature", 0.7)
	k.Set("llm.timeout_seconds", 60)
	k.Set("llm.max_attempts", 3)
	k.Set("llm.breaker_threshold", 5)
	k.Set("llm.requests_per_second", 2.0)

	k.Set("store.path", "agora.db")
	k.Set("store.audit", true)

	tc := tracker.DefaultConfig()
	k.Set("tracker.actions.max_entries", tc.Actions.MaxEntries)
	k.Set("tracker.actions.max_turn_age", tc.Actions.MaxTurnAge)
	k.Set("tracker.visibility.max_entries", tc.Visibility.MaxEntries)
	k.Set("tracker.visibility.max_turn_age", tc.Visibility.MaxTurnAge)
	k.Set("tracker.snapshot_size", tc.SnapshotSize)

	rc := ranking.DefaultConfig()
	k.Set("ranking.weights.temporal", rc.Weights.Temporal)
	k.Set("ranking.weights.engagement", rc.Weights.Engagement)
	k.Set("ranking.weights.social", rc.Weights.Social)
	k.Set("ranking.horizon_hours", rc.Horizon.Hours())
	k.Set("ranking.floor", rc.Floor)
	k.Set("ranking.interaction_bonus", rc.InteractionBonus)
	k.Set("ranking.max_per_author", rc.MaxPerAuthor)
	k.Set("ranking.penalty_factor", rc.PenaltyFactor)
	k.Set("ranking.top_k", rc.TopK)
	k.Set("ranking.discovery_hours", 48.0)
	k.Set("ranking.discovery_limit", 20)
	k.Set("ranking.per_author_limit", 10)

	k.Set("executor.ambiguity_policy", "most_recent")
	k.Set("executor.directory_fallback", true)

	k.Set("simulation.turns", 5)
	k.Set("simulation.concurrency", 4)
	k.Set("simulation.feed_limit", 10)
	k.Set("simulation.max_tool_calls", 5)
	k.Set("simulation.history_size", 20)
}

// Load reads configuration from defaults, an optional YAML file and the
// environment.
func Load(path string) (*Config, error) {
	return LoadWithProfile(path, "")
}

// LoadWithProfile loads path, then the "<name>.<profile>.<ext>" file next to
// it when present, then the environment.
func LoadWithProfile(path, profile string) (*Config, error) {
	k, err := newKoanf(path, profile)
	if err != nil {
		return nil, err
	}
	return unmarshal(k)
}

// LoadWithCLI loads configuration the way Load does and then applies
// command-line flags: --config <path>, --profile|--env <name> and
// repeated --set key=value. Values are parsed as YAML, so JSON objects work.
func LoadWithCLI(args []string) (*Config, error) {
	opts, sets, err := parseCLIOverrides(args)
	if err != nil {
		return nil, err
	}
	k, err := newKoanf(opts.path, opts.profile)
	if err != nil {
		return nil, err
	}
	for _, kv := range sets {
		if err := k.Set(kv.key, kv.value); err != nil {
			return nil, fmt.Errorf("set %s: %w", kv.key, err)
		}
	}
	return unmarshal(k)
}

func newKoanf(path, profile string) (*koanf.Koanf, error) {
	k := koanf.New(".")
	setDefaults(k)

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
		if p := profileConfigPath(path, profile); p != "" {
			if err := k.Load(file.Provider(p), yaml.Parser()); err != nil {
				return nil, err
			}
		}
	}

	// AGORA_LLM_BASE_URL -> llm.base_url, AGORA_RANKING_WEIGHTS__SOCIAL -> ranking.weights.social
	if err := k.Load(env.Provider("AGORA_", ".", envKey), nil); err != nil {
		return nil, err
	}
	return k, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, "AGORA_"))
	s = strings.Replace(s, "_", ".", 1)
	return strings.ReplaceAll(s, "__", ".")
}

func unmarshal(k *koanf.Koanf) (*Config, error) {
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	invalid := func(key string, format string, args ...any) error {
		return agerr.Newf(agerr.CodeValidation, format, args...).WithContext("key", key)
	}
	switch c.LLM.Provider {
	case "ollama", "openai", "mock":
	default:
		return invalid("llm.provider", "unknown llm provider %q", c.LLM.Provider)
	}
	switch c.Telemetry.Exporter {
	case "", "none", "stdout", "otlp":
	default:
		return invalid("telemetry.exporter", "unknown telemetry exporter %q", c.Telemetry.Exporter)
	}
	switch c.Executor.AmbiguityPolicy {
	case "", "most_recent", "reject":
	default:
		return invalid("executor.ambiguity_policy", "unknown ambiguity policy %q", c.Executor.AmbiguityPolicy)
	}
	w := c.Ranking.Weights
	if w.Temporal < 0 || w.Engagement < 0 || w.Social < 0 {
		return invalid("ranking.weights", "ranking weights must not be negative")
	}
	if c.Ranking.PenaltyFactor < 0 || c.Ranking.PenaltyFactor > 1 {
		return invalid("ranking.penalty_factor", "penalty factor must be within [0, 1], got %v", c.Ranking.PenaltyFactor)
	}
	if c.Simulation.Turns < 0 || c.Simulation.Concurrency < 0 {
		return invalid("simulation", "turns and concurrency must not be negative")
	}
	return nil
}

type cliOptions struct {
	path    string
	profile string
}

type keyValue struct {
	key   string
	value any
}

func parseCLIOverrides(args []string) (cliOptions, []keyValue, error) {
	var (
		opts cliOptions
		sets []keyValue
	)
	for i := 0; i < len(args); i++ {
		arg := args[i]
		name, value, hasValue := strings.Cut(arg, "=")
		switch name {
		case "--config", "--profile", "--env", "--set":
		default:
			continue
		}
		if !hasValue {
			if i+1 >= len(args) {
				return opts, nil, fmt.Errorf("missing value for %s", name)
			}
			i++
			value = args[i]
		}
		switch name {
		case "--config":
			opts.path = value
		case "--profile", "--env":
			opts.profile = value
		case "--set":
			key, raw, ok := strings.Cut(value, "=")
			key = strings.TrimSpace(key)
			if !ok || key == "" {
				return opts, nil, fmt.Errorf("invalid --set %q, expected key=value", value)
			}
			sets = append(sets, keyValue{key: key, value: parseValue(raw)})
		}
	}
	return opts, sets, nil
}

func parseValue(raw string) any {
	var v any
	if err := yamlv3.Unmarshal([]byte(raw), &v); err != nil || v == nil {
		return raw
	}
	return v
}

// profileConfigPath returns the profile file for base when it exists.
func profileConfigPath(base, profile string) string {
	if base == "" || profile == "" {
		return ""
	}
	ext := filepath.Ext(base)
	path := strings.TrimSuffix(base, ext) + "." + profile + ext
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}
