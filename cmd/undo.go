package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// undoCmd operates on the in-process undo history of a session. Histories are
// per-process, so undo/redo here only act on entries created by workflows or
// chats run from the same invocation; the subcommands exist mainly for the
// interactive REPL which shares the process.
func undoCmd() *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "undo",
		Short: "Undo, redo, and list reversible tool edits",
	}
	cmd.PersistentFlags().StringVar(&sessionID, "session", "", "session id (required)")

	cmd.AddCommand(&cobra.Command{
		Use:   "last",
		Short: "Revert the most recent reversible edit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if sessionID == "" {
				return fmt.Errorf("--session is required")
			}
			a, err := buildApp(context.Background(), false)
			if err != nil {
				return err
			}
			defer a.Close()

			entry, err := a.undoStore.ForSession(sessionID).Undo()
			if err != nil {
				return err
			}
			fmt.Printf("undone: %s (%s)\n", entry.Description, entry.ToolName)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "redo",
		Short: "Re-apply the most recently undone edit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if sessionID == "" {
				return fmt.Errorf("--session is required")
			}
			a, err := buildApp(context.Background(), false)
			if err != nil {
				return err
			}
			defer a.Close()

			entry, err := a.undoStore.ForSession(sessionID).Redo()
			if err != nil {
				return err
			}
			fmt.Printf("redone: %s (%s)\n", entry.Description, entry.ToolName)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List reversible edits, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if sessionID == "" {
				return fmt.Errorf("--session is required")
			}
			a, err := buildApp(context.Background(), false)
			if err != nil {
				return err
			}
			defer a.Close()

			entries := a.undoStore.ForSession(sessionID).Entries()
			if len(entries) == 0 {
				fmt.Println("nothing to undo")
				return nil
			}
			for _, e := range entries {
				fmt.Printf("%s  %-10s %s (%d files)\n",
					e.Timestamp.Local().Format("15:04:05"), e.ToolName, e.Description, len(e.Snapshots))
			}
			return nil
		},
	})

	return cmd
}
