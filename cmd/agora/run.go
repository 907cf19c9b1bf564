package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/synthagora/agora/pkg/config"
	agerr "github.com/synthagora/agora/pkg/errors"
	"github.com/synthagora/agora/pkg/executor"
	"github.com/synthagora/agora/pkg/memory"
	"github.com/synthagora/agora/pkg/ranking"
	"github.com/synthagora/agora/pkg/resilience"
	"github.com/synthagora/agora/pkg/simulation"
)

type runOptions struct {
	scenario string
	turns    int
	watch    bool
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Seed a scenario and play simulation turns",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSimulation(cmd, root, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.scenario, "scenario", "s", "", "scenario file (defaults to simulation.scenario)")
	cmd.Flags().IntVarP(&opts.turns, "turns", "n", 0, "turns to play (defaults to the scenario, then simulation.turns)")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "reload ranking weights from the config file between turns")
	return cmd
}

func runSimulation(cmd *cobra.Command, root *rootOptions, opts *runOptions) error {
	ctx := cmd.Context()
	cfg := root.cfg

	path := opts.scenario
	if path == "" {
		path = cfg.Simulation.Scenario
	}
	if path == "" {
		return NewCLIError(agerr.New(agerr.CodeInvalidInput, "no scenario given", nil), "pass --scenario or set simulation.scenario")
	}
	sc, err := simulation.LoadScenario(path)
	if err != nil {
		return err
	}

	a, err := openApp(ctx, cfg, root.logger)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	if _, err := sc.Seed(ctx, a.svc, root.logger); err != nil {
		return err
	}
	agents, err := sc.BuildAgents()
	if err != nil {
		return err
	}
	provider, err := a.provider()
	if err != nil {
		return err
	}
	transcripts, err := memory.NewSQLiteConversation(ctx, memory.SQLiteConfig{DB: a.store.DB()})
	if err != nil {
		return NewStoreError(err, cfg.Store.Path)
	}

	reloadable := config.NewReloadableConfig(cfg)
	if opts.watch && root.configPath != "" {
		watcher, err := config.NewWatcher([]string{root.configPath},
			config.WithWatchProfile(root.profile),
			config.WithWatchLogger(root.logger),
		)
		if err != nil {
			return NewConfigError(err, root.configPath)
		}
		watcher.Bind(reloadable)
		watcher.Start(ctx)
		defer watcher.Stop()
	}

	settings := simulation.Settings{
		Turns:             pickTurns(opts.turns, sc.Turns, cfg.Simulation.Turns),
		Concurrency:       cfg.Simulation.Concurrency,
		FeedLimit:         cfg.Simulation.FeedLimit,
		MaxToolCalls:      cfg.Simulation.MaxToolCalls,
		HistorySize:       cfg.Simulation.HistorySize,
		Model:             cfg.LLM.Model,
		Temperature:       cfg.LLM.Temperature,
		ModelTimeout:      cfg.LLM.Timeout(),
		RequestsPerSecond: cfg.LLM.RequestsPerSecond,
	}
	runner := simulation.New(simulation.Components{
		Executor: a.exec,
		Tracker:  a.tracker,
		Feed:     a.feed,
		Provider: provider,
	}, settings,
		simulation.WithTranscripts(transcripts),
		simulation.WithRetry(resilience.DefaultRetryConfig().WithMaxAttempts(cfg.LLM.MaxAttempts)),
		simulation.WithBreaker(resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			FailureThreshold: cfg.LLM.BreakerThreshold,
			Name:             "llm." + cfg.LLM.Provider,
		})),
		simulation.WithRankingSource(func() ranking.Config { return reloadable.Ranking().Config() }),
		simulation.WithMetrics(a.metrics),
		simulation.WithLogger(root.logger),
	)

	start := time.Now()
	report, runErr := runner.Run(ctx, agents)
	if report != nil {
		if root.json {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
		} else {
			printReport(cmd.OutOrStdout(), sc.Name, report, time.Since(start))
		}
	}
	return runErr
}

func pickTurns(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

func printReport(w io.Writer, scenario string, report *simulation.Report, elapsed time.Duration) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)

	cyan.Fprintf(w, "Run %s (%s)\n", report.RunID, scenario)
	lastTurn := 0
	for _, t := range report.Turns {
		if t.Agent == "" {
			continue
		}
		if t.Turn != lastTurn {
			lastTurn = t.Turn
			cyan.Fprintf(w, "\nTurn %d\n", t.Turn)
		}
		fmt.Fprintf(w, "  @%s (feed: %d)\n", t.Agent, t.Feed)
		if t.ModelError != "" {
			red.Fprintf(w, "    model error: %s\n", t.ModelError)
			continue
		}
		if len(t.Calls) == 0 {
			fmt.Fprintln(w, "    no actions")
		}
		for _, c := range t.Calls {
			switch c.Outcome {
			case executor.OutcomeSuccess:
				green.Fprintf(w, "    %s: %s\n", c.Tool, c.Message)
			case executor.OutcomeUnresolvedArgument, executor.OutcomeUnknownTool:
				yellow.Fprintf(w, "    %s: %s\n", c.Tool, c.Message)
			default:
				red.Fprintf(w, "    %s: %s\n", c.Tool, c.Message)
			}
		}
		if t.Dropped > 0 {
			yellow.Fprintf(w, "    %d extra tool calls dropped\n", t.Dropped)
		}
	}

	counts := report.Calls()
	outcomes := make([]string, 0, len(counts))
	for o := range counts {
		outcomes = append(outcomes, string(o))
	}
	sort.Strings(outcomes)
	fmt.Fprintf(w, "\n%d agent turns in %s\n", len(report.Turns), elapsed.Round(time.Millisecond))
	for _, o := range outcomes {
		fmt.Fprintf(w, "  %-22s %d\n", o, counts[executor.Outcome(o)])
	}
}
