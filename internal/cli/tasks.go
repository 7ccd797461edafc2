package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"jobkeeper/internal/app"
	"jobkeeper/internal/task/model"

	"github.com/spf13/cobra"
)

func buildTasksCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Inspect and edit the task catalog",
	}
	cmd.AddCommand(
		buildTasksListCommand(opts),
		buildTasksAddCommand(opts),
		buildTasksRunCommand(opts),
		buildTasksStatusCommand(opts, "pause", model.StatusPaused),
		buildTasksStatusCommand(opts, "resume", model.StatusRunning),
		buildTasksDeleteCommand(opts),
		buildTasksSeedCommand(opts),
	)
	return cmd
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid task id %q", raw)
	}
	return id, nil
}

func buildTasksListCommand(opts *rootOptions) *cobra.Command {
	var (
		f          model.TaskFilter
		status     string
		page, size int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List task definitions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if status != "" {
				st, err := model.ParseStatus(status)
				if err != nil {
					return err
				}
				f.Status = &st
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				tasks, total, err := a.Orchestrator().FindTasks(ctx, f, page, size)
				if err != nil {
					return err
				}
				printTasks(cmd.OutOrStdout(), tasks)
				fmt.Fprintf(cmd.OutOrStdout(), "%d of %d\n", len(tasks), total)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Name, "name", "", "name substring")
	cmd.Flags().StringVar(&f.Group, "group", "", "exact group")
	cmd.Flags().StringVar(&f.InvokeTarget, "target", "", "invoke target substring")
	cmd.Flags().StringVar(&status, "status", "", "running or paused")
	cmd.Flags().IntVar(&page, "page", 1, "page number (1-based)")
	cmd.Flags().IntVar(&size, "size", 20, "page size")
	return cmd
}

func printTasks(w io.Writer, tasks []*model.Task) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tGROUP\tNAME\tCRON\tTARGET\tSTATUS\tCONCURRENT")
	for _, t := range tasks {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%t\n",
			t.ID, t.Group, t.Name, t.CronExpression, t.InvokeTarget, t.Status, t.Concurrent)
	}
	_ = tw.Flush()
}

func buildTasksAddCommand(opts *rootOptions) *cobra.Command {
	var (
		t       model.Task
		running bool
		misfire int
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a task definition",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			t.Status = model.StatusPaused
			if running {
				t.Status = model.StatusRunning
			}
			t.MisfirePolicy = model.MisfirePolicy(misfire)
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				created, err := a.Orchestrator().CreateTask(ctx, &t)
				if created != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "created task %d (%s)\n", created.ID, created.JobKey())
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&t.Name, "name", "", "task name (required)")
	cmd.Flags().StringVar(&t.Group, "group", model.DefaultGroup, "task group")
	cmd.Flags().StringVar(&t.InvokeTarget, "target", "", "invoke target, e.g. system.echo('hi') (required)")
	cmd.Flags().StringVar(&t.CronExpression, "cron", "", "6-field cron expression (required)")
	cmd.Flags().BoolVar(&t.Concurrent, "concurrent", false, "allow overlapping runs")
	cmd.Flags().BoolVar(&running, "running", false, "schedule immediately instead of creating paused")
	cmd.Flags().IntVar(&misfire, "misfire", int(model.MisfireFireNow), "misfire policy: 1 fire now, 2 fire once, 3 skip")
	cmd.Flags().StringVar(&t.Remark, "remark", "", "free-form note")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("target")
	_ = cmd.MarkFlagRequired("cron")
	return cmd
}

func buildTasksRunCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run <id>",
		Short: "Execute a task once, now, and record the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				start := time.Now()
				out, err := a.Orchestrator().RunNow(ctx, id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "ok in %s", time.Since(start).Round(time.Millisecond))
				if out != nil {
					fmt.Fprintf(cmd.OutOrStdout(), ": %v", out)
				}
				fmt.Fprintln(cmd.OutOrStdout())
				return nil
			})
		},
	}
}

func buildTasksStatusCommand(opts *rootOptions, use string, status model.Status) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: "Set a task to " + status.String(),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				t, err := a.Orchestrator().ToggleStatus(ctx, id, status)
				if t != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "task %d is %s\n", t.ID, t.Status)
				}
				return err
			})
		},
	}
}

func buildTasksDeleteCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a task definition and its live job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				if err := a.Orchestrator().DeleteTask(ctx, id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted task %d\n", id)
				return nil
			})
		},
	}
}

func buildTasksSeedCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Insert the stock maintenance tasks (paused) when missing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				for _, t := range app.BuiltinTasks() {
					existing, _, err := a.Orchestrator().FindTasks(ctx, model.TaskFilter{Name: t.Name, Group: t.Group}, 1, 50)
					if err != nil {
						return err
					}
					if hasExactName(existing, t.Name) {
						fmt.Fprintf(cmd.OutOrStdout(), "skip %s/%s (exists)\n", t.Group, t.Name)
						continue
					}
					created, err := a.Orchestrator().CreateTask(ctx, t)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "created task %d (%s)\n", created.ID, created.JobKey())
				}
				return nil
			})
		},
	}
}

func hasExactName(tasks []*model.Task, name string) bool {
	for _, t := range tasks {
		if t.Name == name {
			return true
		}
	}
	return false
}
