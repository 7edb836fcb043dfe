package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/forgeworks/forge/internal/workflow"
)

func workflowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Run and inspect multi-step workflows",
	}
	cmd.AddCommand(workflowRunCmd(), workflowValidateCmd(), workflowRunsCmd())
	return cmd
}

func workflowRunCmd() *cobra.Command {
	var (
		runID  string
		resume bool
	)

	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Execute a workflow definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			def, err := workflow.LoadDefinition(args[0])
			if err != nil {
				return err
			}

			a, err := buildApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close()

			engine, err := a.workflowEngine()
			if err != nil {
				return err
			}

			fmt.Printf("running workflow %q (%d steps)\n", def.Name, len(def.Steps))
			state, err := engine.Execute(ctx, def, workflow.ExecuteOptions{
				WorkflowID: runID,
				Resume:     resume,
			})
			if state != nil {
				if dbErr := a.audit.RecordWorkflowRun(state); dbErr != nil {
					fmt.Fprintf(os.Stderr, "warning: run not recorded: %v\n", dbErr)
				}
				printState(state)
			}
			if err != nil {
				return err
			}
			if state.Status != workflow.StatusCompleted {
				return fmt.Errorf("workflow %s", state.Status)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&runID, "id", "", "workflow run id (required with --resume)")
	cmd.Flags().BoolVar(&resume, "resume", false, "resume from the checkpoint of --id")
	return cmd
}

func workflowValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a workflow definition without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := workflow.LoadDefinition(args[0])
			if err != nil {
				return err
			}
			graph, err := workflow.Compile(def)
			if err != nil {
				return err
			}
			fmt.Printf("%s %s: %d steps, %d batches\n",
				def.Name, def.Version, len(def.Steps), len(graph.Batches()))
			for i, batch := range graph.Batches() {
				fmt.Printf("  batch %d: %v\n", i+1, batch)
			}
			return nil
		},
	}
}

func workflowRunsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded workflow runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := buildApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close()

			runs, err := a.audit.ListWorkflowRuns(limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("no workflow runs recorded")
				return nil
			}
			for _, r := range runs {
				fmt.Printf("%s  %-24s %-10s %d ok / %d failed  %s\n",
					r.ID, r.Name, r.Status, r.StepsCompleted, r.StepsFailed,
					r.StartedAt.Local().Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to show")
	return cmd
}

func printState(state *workflow.State) {
	completed, failed, skipped := state.Counters()
	fmt.Printf("\n%s: %s (%d completed, %d failed, %d skipped)\n",
		state.ID, state.Status, completed, failed, skipped)

	ids := make([]string, 0, len(state.StepResults))
	for id := range state.StepResults {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return state.StepResults[ids[i]].Start.Before(state.StepResults[ids[j]].Start)
	})
	for _, id := range ids {
		r := state.StepResults[id]
		switch {
		case r.Skipped:
			fmt.Printf("  - %-20s skipped (%s)\n", id, r.Error)
		case r.Success:
			fmt.Printf("  - %-20s ok in %s (attempts=%d)\n", id, r.Duration.Round(time.Millisecond), r.Attempts)
		default:
			fmt.Printf("  - %-20s FAILED: %s\n", id, r.Error)
		}
	}
}
