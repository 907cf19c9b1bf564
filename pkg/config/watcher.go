// Copyright 2026 © The Agora Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"log/slog"
	"os"
	"reflect"
	"sync"
	"sync/atomic"
	"time"
)

// hotSections are the config sections a running simulation picks up
// without a restart.
var hotSections = map[string]bool{"ranking": true}

// Watcher polls a config file (and its profile file) and reloads it when
// either changes. Listeners receive every successfully loaded config;
// a file that fails to load or validate is logged and skipped.
type Watcher struct {
	mu        sync.Mutex
	base      string
	profile   string
	paths     []string
	interval  time.Duration
	modTimes  map[string]time.Time
	config    *Config
	listeners []func(*Config)
	logger    *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithWatchInterval sets the polling interval. The default is one second.
func WithWatchInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

func WithWatchLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithWatchProfile loads and watches "<name>.<profile>.<ext>" next to the
// base file as well.
func WithWatchProfile(profile string) WatcherOption {
	return func(w *Watcher) { w.profile = profile }
}

// NewWatcher loads base and prepares to watch it. Only the first path is
// loaded; further paths only trigger reloads.
func NewWatcher(paths []string, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		interval: time.Second,
		modTimes: make(map[string]time.Time),
		logger:   slog.Default(),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if len(paths) > 0 {
		w.base = paths[0]
		w.paths = append(w.paths, paths...)
		if p := profileConfigPath(w.base, w.profile); p != "" {
			w.paths = append(w.paths, p)
		}
	}
	w.changed()

	cfg, err := LoadWithProfile(w.base, w.profile)
	if err != nil {
		return nil, err
	}
	w.config = cfg
	return w, nil
}

// OnChange registers fn to run after every reload.
func (w *Watcher) OnChange(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, fn)
}

// Bind keeps r in sync with every reload.
func (w *Watcher) Bind(r *ReloadableConfig) {
	w.OnChange(r.Update)
}

// Config returns the last loaded configuration.
func (w *Watcher) Config() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.config
}

// Start polls in the background until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	go w.watch(ctx)
}

// Stop ends polling and waits for it to finish. Only valid after Start.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	<-w.doneCh
}

func (w *Watcher) watch(ctx context.Context) {
	defer close(w.doneCh)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			if w.changed() {
				w.reload(ctx)
			}
		}
	}
}

// changed records current modification times and reports whether any
// watched file is new or newer. Missing files are ignored.
func (w *Watcher) changed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	changed := false
	for _, path := range w.paths {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if last, ok := w.modTimes[path]; !ok || info.ModTime().After(last) {
			w.modTimes[path] = info.ModTime()
			changed = true
		}
	}
	return changed
}

func (w *Watcher) reload(ctx context.Context) {
	cfg, err := LoadWithProfile(w.base, w.profile)
	if err != nil {
		w.logger.ErrorContext(ctx, "config.reload.failed", "path", w.base, "error", err)
		return
	}

	w.mu.Lock()
	prev := w.config
	w.config = cfg
	listeners := append(([]func(*Config))(nil), w.listeners...)
	w.mu.Unlock()

	applied, restart := splitSections(ChangedSections(prev, cfg))
	w.logger.InfoContext(ctx, "config.reload",
		"path", w.base,
		"applied", applied,
		"restart_required", restart,
	)
	for _, fn := range listeners {
		fn(cfg)
	}
}

// ChangedSections lists the top-level sections that differ between a and b.
func ChangedSections(a, b *Config) []string {
	if a == nil || b == nil {
		return nil
	}
	sections := []struct {
		name string
		a, b any
	}{
		{"log", a.Log, b.Log},
		{"telemetry", a.Telemetry, b.Telemetry},
		{"llm", a.LLM, b.LLM},
		{"store", a.Store, b.Store},
		{"tracker", a.Tracker, b.Tracker},
		{"ranking", a.Ranking, b.Ranking},
		{"executor", a.Executor, b.Executor},
		{"simulation", a.Simulation, b.Simulation},
		{"tools", a.Tools, b.Tools},
	}
	var out []string
	for _, s := range sections {
		if !reflect.DeepEqual(s.a, s.b) {
			out = append(out, s.name)
		}
	}
	return out
}

func splitSections(changed []string) (applied, restart []string) {
	for _, name := range changed {
		if hotSections[name] {
			applied = append(applied, name)
		} else {
			restart = append(restart, name)
		}
	}
	return applied, restart
}

// ReloadableConfig is the configuration a running simulation reads. Only
// the hot sections are read after start-up.
type ReloadableConfig struct {
	config atomic.Pointer[Config]
}

func NewReloadableConfig(cfg *Config) *ReloadableConfig {
	r := &ReloadableConfig{}
	r.config.Store(cfg)
	return r
}

// Get returns the current configuration.
func (r *ReloadableConfig) Get() *Config {
	return r.config.Load()
}

// Update replaces the configuration.
func (r *ReloadableConfig) Update(cfg *Config) {
	if cfg != nil {
		r.config.Store(cfg)
	}
}

// Ranking returns the ranking configuration. The simulation runner reads it
// at the start of every turn, so weight edits apply without a restart.
func (r *ReloadableConfig) Ranking() RankingConfig {
	return r.config.Load().Ranking
}
