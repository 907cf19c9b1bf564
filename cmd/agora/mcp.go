package main

import (
	"github.com/spf13/cobra"

	agerr "github.com/synthagora/agora/pkg/errors"
	"github.com/synthagora/agora/pkg/mcp"
)

func newMCPCmd(root *rootOptions) *cobra.Command {
	var (
		agentName string
		httpAddr  string
	)
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the agent tools over MCP, acting as one user",
		Long: "Serve the agent tools over the Model Context Protocol. Every call acts as --agent;\n" +
			"calling get_feed starts a new turn, and posts can only be referred to once they\n" +
			"have been seen in a feed or a previous result.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, root.cfg, root.logger)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			if _, err := a.svc.LookupUser(ctx, agentName); err != nil {
				if agerr.HasCode(err, agerr.CodeNotFound) {
					return NewNotFoundError(err, "user", agentName)
				}
				return err
			}
			srv, err := mcp.NewServer(mcp.ServerConfig{
				Name:     "agora",
				Version:  version,
				Agent:    agentName,
				Executor: a.exec,
				Tracker:  a.tracker,
				Logger:   root.logger,
			})
			if err != nil {
				return err
			}
			if httpAddr != "" {
				root.logger.InfoContext(ctx, "mcp.serve.http", "addr", httpAddr, "agent", agentName)
				return srv.ServeStreamableHTTP(httpAddr)
			}
			root.logger.InfoContext(ctx, "mcp.serve.stdio", "agent", agentName)
			return srv.ServeStdio()
		},
	}
	cmd.Flags().StringVarP(&agentName, "agent", "a", "", "user the tools act as")
	cmd.Flags().StringVar(&httpAddr, "http", "", "serve streamable HTTP on this address instead of stdio")
	_ = cmd.MarkFlagRequired("agent")
	return cmd
}
