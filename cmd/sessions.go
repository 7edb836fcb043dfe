package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage chat sessions",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored sessions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(context.Background(), false)
			if err != nil {
				return err
			}
			defer a.Close()

			infos := a.sessions.List()
			if len(infos) == 0 {
				fmt.Println("no sessions")
				return nil
			}
			for _, s := range infos {
				title := s.Title
				if title == "" {
					title = "(untitled)"
				}
				fmt.Printf("%s  %-30s %3d msgs  %s\n",
					s.ID, title, s.MessageCount, s.Updated.Local().Format("2006-01-02 15:04"))
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a session and its stored history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(context.Background(), false)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.sessions.Delete(args[0]); err != nil {
				return err
			}
			fmt.Printf("deleted %s\n", args[0])
			return nil
		},
	})

	return cmd
}
