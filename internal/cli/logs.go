package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"jobkeeper/internal/app"
	"jobkeeper/internal/task/model"

	"github.com/spf13/cobra"
)

func buildLogsCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Inspect and prune execution history",
	}
	cmd.AddCommand(buildLogsListCommand(opts), buildLogsPruneCommand(opts))
	return cmd
}

func buildLogsListCommand(opts *rootOptions) *cobra.Command {
	var (
		f          model.ExecutionFilter
		outcome    string
		since      time.Duration
		page, size int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List execution records, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			switch model.Outcome(outcome) {
			case "", model.OutcomeSuccess, model.OutcomeFailure, model.OutcomeSkipped:
				f.Outcome = model.Outcome(outcome)
			default:
				return fmt.Errorf("--outcome: want success, failure or skipped")
			}
			if since > 0 {
				f.Since = time.Now().Add(-since)
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				execs, total, err := a.Orchestrator().Executions(ctx, f, page, size)
				if err != nil {
					return err
				}
				printExecutions(cmd.OutOrStdout(), execs)
				fmt.Fprintf(cmd.OutOrStdout(), "%d of %d\n", len(execs), total)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.TaskName, "task-name", "", "task name substring")
	cmd.Flags().StringVar(&f.TaskGroup, "group", "", "exact task group")
	cmd.Flags().StringVar(&outcome, "outcome", "", "success, failure or skipped")
	cmd.Flags().DurationVar(&since, "since", 0, "only records newer than this (e.g. 24h)")
	cmd.Flags().IntVar(&page, "page", 1, "page number (1-based)")
	cmd.Flags().IntVar(&size, "size", 20, "page size")
	return cmd
}

func printExecutions(w io.Writer, execs []model.Execution) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tGROUP\tTASK\tTRIGGER\tOUTCOME\tDURATION\tMESSAGE")
	for _, e := range execs {
		msg := e.Message
		if !e.Success && e.ErrorInfo != "" {
			msg = e.ErrorInfo
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.StartedAt.Format(time.RFC3339), e.TaskGroup, e.TaskName, e.Trigger, e.Outcome,
			e.Duration.Round(time.Millisecond), oneLine(msg, 80))
	}
	_ = tw.Flush()
}

func oneLine(s string, limit int) string {
	r := []rune(s)
	for i, c := range r {
		if c == '\n' || c == '\t' {
			r[i] = ' '
		}
	}
	if len(r) > limit {
		return string(r[:limit-1]) + "…"
	}
	return string(r)
}

func buildLogsPruneCommand(opts *rootOptions) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete execution records older than a cutoff",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				n, err := a.Orchestrator().PruneExecutions(ctx, olderThan)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d records\n", n)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 720*time.Hour, "age cutoff")
	return cmd
}
