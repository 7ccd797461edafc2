package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"jobkeeper/internal/task/model"
	"jobkeeper/internal/task/orchestrator"
	"jobkeeper/internal/task/registry"
	logx "jobkeeper/pkg/logx"
)

// Invoke targets shipped with the binary. Task definitions reference these
// keys by string, so renaming one orphans every stored task that uses it.
const (
	FnNoop            = "system.noop"
	FnEcho            = "system.echo"
	FnPruneExecutions = "system.pruneExecutions"
	FnBlogStatistics  = "blog.statistics"
	FnBlogCleanup     = "blog.cleanupDrafts"
)

const defaultPruneDays = 30

func registerBuiltins(reg *registry.Registry, log logx.Logger, orch *orchestrator.Service) {
	reg.Register(FnNoop, func(context.Context, string) (any, error) { return nil, nil })

	reg.Register(FnEcho, func(_ context.Context, arg string) (any, error) {
		log.Info("echo", logx.String("arg", arg))
		return arg, nil
	})

	reg.Register(FnPruneExecutions, func(ctx context.Context, arg string) (any, error) {
		days := defaultPruneDays
		if s := strings.TrimSpace(arg); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("%s: days must be a positive integer, got %q", FnPruneExecutions, arg)
			}
			days = n
		}
		n, err := orch.PruneExecutions(ctx, time.Duration(days)*24*time.Hour)
		if err != nil {
			return nil, err
		}
		return fmt.Sprintf("removed %d execution records older than %d days", n, days), nil
	})

	// The blog collaborators live outside this module; these keep the
	// invoke targets resolvable and report what they would do.
	reg.Register(FnBlogStatistics, func(ctx context.Context, _ string) (any, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		log.Info("blog statistics refresh requested")
		return "statistics refresh queued", nil
	})
	reg.Register(FnBlogCleanup, func(ctx context.Context, arg string) (any, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		log.Info("draft cleanup requested", logx.String("older_than", strings.TrimSpace(arg)))
		return "draft cleanup queued", nil
	})
}

// BuiltinTasks are the stock definitions `jobkeeper tasks seed` inserts. They
// start paused so an operator opts in explicitly.
func BuiltinTasks() []*model.Task {
	return []*model.Task{
		{
			Name:           "pruneExecutions",
			Group:          "SYSTEM",
			InvokeTarget:   FnPruneExecutions + "(30)",
			CronExpression: "0 0 3 * * ?",
			MisfirePolicy:  model.MisfireSkip,
			Status:         model.StatusPaused,
			Remark:         "drop execution history older than 30 days",
		},
		{
			Name:           "statistics",
			Group:          "BLOG",
			InvokeTarget:   FnBlogStatistics,
			CronExpression: "0 */30 * * * ?",
			MisfirePolicy:  model.MisfireFireOnce,
			Status:         model.StatusPaused,
		},
		{
			Name:           "cleanupDrafts",
			Group:          "BLOG",
			InvokeTarget:   FnBlogCleanup + "('720h')",
			CronExpression: "0 15 4 * * ?",
			MisfirePolicy:  model.MisfireSkip,
			Status:         model.StatusPaused,
		},
	}
}
