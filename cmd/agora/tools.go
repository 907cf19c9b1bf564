package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/synthagora/agora/pkg/tools"
)

func newToolsCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the tools agents can call",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := root.cfg
			registry := tools.DefaultRegistry().Filtered(tools.NewFilter(cfg.Tools.Allow, cfg.Tools.Deny))
			schemas := registry.ListSchemas()
			if root.json {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(schemas)
			}
			printTools(cmd.OutOrStdout(), schemas)
			return nil
		},
	}
}

func printTools(w io.Writer, schemas []tools.Descriptor) {
	bold := color.New(color.Bold)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TOOL\tPARAMETERS\tDESCRIPTION")
	for _, d := range schemas {
		params := make([]string, 0, len(d.Parameters))
		for _, p := range d.Parameters {
			s := p.Name + ":" + p.Type
			if len(p.Enum) > 0 {
				s += "(" + strings.Join(p.Enum, "|") + ")"
			}
			if !p.Required {
				s += "?"
			}
			params = append(params, s)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", bold.Sprint(d.Name), strings.Join(params, " "), d.Description)
	}
	_ = tw.Flush()
}
