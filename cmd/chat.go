package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/forgeworks/forge/internal/agent"
	"github.com/forgeworks/forge/internal/tools"
)

func chatCmd() *cobra.Command {
	var (
		message   string
		sessionID string
		stream    bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the agent (one-shot with -m, interactive otherwise)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			a, err := buildApp(ctx, message == "")
			if err != nil {
				return err
			}
			defer a.Close()

			if sessionID != "" {
				if _, err := a.sessions.Resume(sessionID); err != nil {
					return fmt.Errorf("resume session: %w", err)
				}
			} else {
				sessionID = a.sessions.Create("cli chat").ID
			}

			loop := a.newLoop("chat", chatEventPrinter(stream))

			run := func(task string) error {
				result, err := loop.Run(ctx, agent.RunRequest{
					SessionID: sessionID,
					Task:      task,
					Stream:    stream,
				})
				if err != nil {
					return err
				}
				if !stream {
					fmt.Printf("\n%s\n", result.Content)
				} else {
					fmt.Println()
				}
				return nil
			}

			if message != "" {
				return run(message)
			}

			fmt.Fprintf(os.Stderr, "forge chat (model %s)\n", a.cfg.Provider.Model)
			fmt.Fprintf(os.Stderr, "session %s, type \"exit\" to quit or \"/new\" for a fresh session\n\n", sessionID)

			scanner := bufio.NewScanner(os.Stdin)
			for {
				if ctx.Err() != nil {
					return nil
				}
				fmt.Fprint(os.Stderr, "> ")
				if !scanner.Scan() {
					return scanner.Err()
				}
				input := strings.TrimSpace(scanner.Text())
				switch {
				case input == "":
					continue
				case input == "exit" || input == "quit":
					return nil
				case input == "/new":
					sessionID = a.sessions.Create("cli chat").ID
					fmt.Fprintf(os.Stderr, "new session %s\n\n", sessionID)
					continue
				}
				if err := run(input); err != nil {
					fmt.Fprintf(os.Stderr, "error: %v\n\n", err)
				}
			}
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "", "send one message and exit")
	cmd.Flags().StringVar(&sessionID, "session", "", "resume an existing session")
	cmd.Flags().BoolVar(&stream, "stream", true, "stream response tokens")
	return cmd
}

// chatEventPrinter renders agent events on stderr (tool calls) and streamed
// chunks on stdout.
func chatEventPrinter(stream bool) func(agent.Event) {
	return func(ev agent.Event) {
		switch ev.Type {
		case "chunk":
			if p, ok := ev.Payload.(map[string]string); ok {
				fmt.Print(p["content"])
			}
		case "tool.call":
			if p, ok := ev.Payload.(map[string]interface{}); ok {
				name, _ := p["name"].(string)
				fmt.Fprintf(os.Stderr, "  [tool] %s\n", name)
			}
		}
	}
}

// promptConfirmer asks the user about ASK-level tool calls with a terminal
// form. The prompt has its own timeout and defaults to deny on expiry.
type promptConfirmer struct {
	timeout time.Duration
}

func (c *promptConfirmer) Confirm(ctx context.Context, tool, description string, args map[string]interface{}) (tools.Answer, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	title := fmt.Sprintf("Allow %s?", tool)
	detail := runewidth.Truncate(description, 100, "...")

	answer := tools.AnswerNo
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[tools.Answer]().
			Title(title).
			Description(detail).
			Options(
				huh.NewOption("Yes, once", tools.AnswerYes),
				huh.NewOption("Yes, always this session", tools.AnswerAlwaysAllow),
				huh.NewOption("No", tools.AnswerNo),
				huh.NewOption("No, never this session", tools.AnswerAlwaysDeny),
			).
			Value(&answer),
	))

	if err := form.RunWithContext(ctx); err != nil {
		// Timeout or aborted prompt denies.
		return tools.AnswerNo, nil
	}
	return answer, nil
}
