package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/synthagora/agora/pkg/audit"
	"github.com/synthagora/agora/pkg/config"
	agerr "github.com/synthagora/agora/pkg/errors"
	"github.com/synthagora/agora/pkg/executor"
	"github.com/synthagora/agora/pkg/llm"
	"github.com/synthagora/agora/pkg/platform"
	"github.com/synthagora/agora/pkg/ranking"
	"github.com/synthagora/agora/pkg/telemetry"
	"github.com/synthagora/agora/pkg/tools"
	"github.com/synthagora/agora/pkg/tracker"
)

// app holds the components every command shares.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *platform.SQLiteStore
	svc      *platform.Service
	tracker  *tracker.Tracker
	registry *tools.Registry
	feed     *ranking.FeedBuilder
	exec     *executor.Executor
	metrics  *telemetry.ToolMetrics
	shutdown telemetry.ShutdownFunc
}

// openApp wires the platform store, feed, tool registry and executor from cfg.
func openApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	shutdown, err := telemetry.InitWithConfig("agora", version, telemetry.Config{
		Exporter:           cfg.Telemetry.Exporter,
		OTLPEndpoint:       cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:       cfg.Telemetry.OTLPInsecure,
		OTLPTimeoutSeconds: cfg.Telemetry.OTLPTimeoutSeconds,
	})
	if err != nil {
		return nil, agerr.New(agerr.CodeInternal, "init telemetry", err)
	}
	a := &app{cfg: cfg, logger: logger, shutdown: shutdown}

	a.store, err = platform.OpenSQLite(ctx, cfg.Store.Path)
	if err != nil {
		_ = shutdown(ctx)
		return nil, NewStoreError(err, cfg.Store.Path)
	}
	a.svc = platform.NewService(a.store, platform.WithLogger(logger))
	a.tracker = tracker.New(cfg.Tracker.Config())
	a.feed = ranking.NewFeedBuilder(a.svc, ranking.New(cfg.Ranking.Config()),
		ranking.WithPerAuthorLimit(cfg.Ranking.PerAuthorLimit),
		ranking.WithDiscovery(cfg.Ranking.DiscoveryWindow(), cfg.Ranking.DiscoveryLimit),
	)
	a.svc.RegisterOperation(platform.OpUserFeed, ranking.FeedOperation(a.feed))
	a.registry = tools.DefaultRegistry().Filtered(tools.NewFilter(cfg.Tools.Allow, cfg.Tools.Deny))

	if a.metrics, err = telemetry.NewToolMetrics(ctx); err != nil {
		a.Close(ctx)
		return nil, agerr.New(agerr.CodeInternal, "create metrics", err)
	}
	policy, err := executor.ParseAmbiguityPolicy(cfg.Executor.AmbiguityPolicy)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	opts := []executor.Option{
		executor.WithAmbiguityPolicy(policy),
		executor.WithMetrics(a.metrics),
		executor.WithLogger(logger),
	}
	if cfg.Executor.DirectoryFallback {
		opts = append(opts, executor.WithDirectory(a.svc))
	}
	if cfg.Store.Audit {
		store, err := audit.NewSQLiteStore(a.store.DB())
		if err != nil {
			a.Close(ctx)
			return nil, agerr.New(agerr.CodeInternal, "open audit store", err)
		}
		opts = append(opts, executor.WithAudit(store))
	}
	a.exec = executor.New(a.registry, a.tracker, a.svc, opts...)
	return a, nil
}

// provider returns the configured model backend.
func (a *app) provider() (llm.Provider, error) {
	switch a.cfg.LLM.Provider {
	case "ollama":
		return llm.NewOllama(a.cfg.LLM.BaseURL), nil
	case "openai":
		return llm.NewOpenAI(a.cfg.LLM.BaseURL, a.cfg.LLM.APIKey), nil
	case "mock":
		return &llm.MockProvider{Response: "Nothing catches my eye this turn."}, nil
	}
	return nil, agerr.Newf(agerr.CodeValidation, "unknown llm provider %q", a.cfg.LLM.Provider).
		WithContext("key", "llm.provider")
}

// Close releases the store and flushes telemetry.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.shutdown != nil {
		errs = append(errs, a.shutdown(context.WithoutCancel(ctx)))
	}
	return errors.Join(errs...)
}
