package cmd

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func mcpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Inspect configured MCP servers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Show MCP server status and registered tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := buildApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close()

			statuses := a.mcpMgr.ServerStatus()
			if len(statuses) == 0 {
				fmt.Println("no MCP servers configured (see ~/.forge/mcp.yaml)")
				return nil
			}
			sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
			for _, s := range statuses {
				state := "disconnected"
				if s.Connected {
					state = "connected"
				}
				fmt.Printf("%-20s %-8s %-12s %d tools", s.Name, s.Transport, state, s.ToolCount)
				if s.Error != "" {
					fmt.Printf("  (%s)", s.Error)
				}
				fmt.Println()
			}
			if names := a.mcpMgr.ToolNames(); len(names) > 0 {
				sort.Strings(names)
				fmt.Printf("\ntools: %v\n", names)
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "resources <server>",
		Short: "List resources exposed by an MCP server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := buildApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close()

			resources, err := a.mcpMgr.ListResources(ctx, args[0])
			if err != nil {
				return err
			}
			templates, err := a.mcpMgr.ListResourceTemplates(ctx, args[0])
			if err != nil {
				return err
			}
			if len(resources) == 0 && len(templates) == 0 {
				fmt.Printf("%s exposes no resources\n", args[0])
				return nil
			}
			for _, r := range resources {
				fmt.Printf("%-40s %-20s %s\n", r.URI, r.MimeType, r.Description)
			}
			for _, t := range templates {
				fmt.Printf("%-40s %-20s %s (template)\n", t.URITemplate, t.MimeType, t.Description)
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "prompts <server>",
		Short: "List prompts exposed by an MCP server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := buildApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close()

			prompts, err := a.mcpMgr.ListPrompts(ctx, args[0])
			if err != nil {
				return err
			}
			if len(prompts) == 0 {
				fmt.Printf("%s exposes no prompts\n", args[0])
				return nil
			}
			for _, p := range prompts {
				var argNames []string
				for _, arg := range p.Arguments {
					argNames = append(argNames, arg.Name)
				}
				fmt.Printf("%-30s %s", p.Name, p.Description)
				if len(argNames) > 0 {
					fmt.Printf("  (args: %v)", argNames)
				}
				fmt.Println()
			}
			return nil
		},
	})
	return cmd
}
