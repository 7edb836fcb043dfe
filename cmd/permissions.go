package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forgeworks/forge/internal/permissions"
)

func permissionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "permissions",
		Short: "Inspect permission rules and decisions",
	}
	cmd.AddCommand(permissionsListCmd(), permissionsCheckCmd(), permissionsAuditCmd())
	return cmd
}

func permissionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show loaded rules by layer, most specific first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(context.Background(), false)
			if err != nil {
				return err
			}
			defer a.Close()

			printRules := func(layer string, rules []*permissions.Rule) {
				fmt.Printf("%s (%d rules)\n", layer, len(rules))
				for _, r := range rules {
					enabled := ""
					if !r.Enabled {
						enabled = "  [disabled]"
					}
					fmt.Printf("  %-6s %-40s prio=%d%s\n", r.Permission, r.Pattern, r.Priority, enabled)
				}
			}
			printRules("project", a.perms.Project().Rules())
			printRules("global", a.perms.Global().Rules())
			return nil
		},
	}
}

func permissionsCheckCmd() *cobra.Command {
	var category string

	cmd := &cobra.Command{
		Use:   "check <tool>",
		Short: "Evaluate which rule would apply to a tool call",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(context.Background(), false)
			if err != nil {
				return err
			}
			defer a.Close()

			d := a.perms.Evaluate(permissions.Request{
				SessionID: "cli-check",
				Tool:      args[0],
				Category:  category,
			})
			fmt.Printf("%s: %s (%s)\n", args[0], d.Level, d.Reason)
			return nil
		},
	}

	cmd.Flags().StringVar(&category, "category", "", "tool category (e.g. file_write, execute)")
	return cmd
}

func permissionsAuditCmd() *cobra.Command {
	var (
		sessionID string
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show recent permission decisions from the audit log",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(context.Background(), false)
			if err != nil {
				return err
			}
			defer a.Close()

			decisions, err := a.audit.RecentDecisions(sessionID, limit)
			if err != nil {
				return err
			}
			if len(decisions) == 0 {
				fmt.Println("no decisions recorded")
				return nil
			}
			for _, d := range decisions {
				flag := ""
				if d.RateLimited {
					flag = "  [backoff]"
				}
				fmt.Printf("%s  %-12s %-6s %-30s session=%s%s\n",
					d.Timestamp.Local().Format("2006-01-02 15:04:05"),
					d.Tool, d.Level, d.Pattern, d.SessionID, flag)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "filter by session id")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum decisions to show")
	return cmd
}
