// Copyright 2026 © The Agora Authors
// SPDX-License-Identifier: Apache-2.0

// Package main implements the agora CLI.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/synthagora/agora/pkg/config"
	"github.com/synthagora/agora/pkg/telemetry"
)

// version is set at build time via ldflags.
var version = "dev"

type rootOptions struct {
	configPath string
	profile    string
	sets       []string
	json       bool

	cfg    *config.Config
	logger *slog.Logger
}

// configArgs rebuilds the flag list config.LoadWithCLI understands.
func (o *rootOptions) configArgs() []string {
	var args []string
	if o.configPath != "" {
		args = append(args, "--config", o.configPath)
	}
	if o.profile != "" {
		args = append(args, "--profile", o.profile)
	}
	for _, kv := range o.sets {
		args = append(args, "--set", kv)
	}
	return args
}

func newRootCmd() (*cobra.Command, *rootOptions) {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "agora",
		Short:         "Agora runs LLM agents on a simulated social network.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadWithCLI(opts.configArgs())
			if err != nil {
				return NewConfigError(err, opts.configPath)
			}
			opts.cfg = cfg
			// Logs go to stderr so stdout stays free for results and the MCP stdio transport.
			opts.logger = telemetry.ConfigureSlog(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
			return nil
		},
	}
	cmd.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "config file (YAML)")
	flags.StringVar(&opts.profile, "profile", "", "config profile merged over the config file")
	flags.StringArrayVar(&opts.sets, "set", nil, "override a config key, e.g. --set llm.model=llama3.1")
	flags.BoolVar(&opts.json, "json", false, "print results as JSON")

	cmd.AddCommand(
		newRunCmd(opts),
		newToolsCmd(opts),
		newFeedCmd(opts),
		newMCPCmd(opts),
	)
	return cmd, opts
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, opts := newRootCmd()
	if err := cmd.ExecuteContext(ctx); err != nil {
		printError(os.Stderr, err, opts.json)
		stop()
		os.Exit(1)
	}
}
