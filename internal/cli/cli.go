// Package cli implements the jobkeeper command tree.
//
//	jobkeeper serve                      run the scheduler until SIGINT/SIGTERM
//	jobkeeper tasks list|add|run|pause|resume|delete|seed
//	jobkeeper logs list|prune
//	jobkeeper cron check <expr>          normalize and preview fire times
//	jobkeeper functions                  list registered invoke targets
//
// Every command except serve and cron check opens the catalog, acts and exits
// without starting the cron loop.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"jobkeeper/internal/app"
	logx "jobkeeper/pkg/logx"

	"github.com/spf13/cobra"
)

const defaultConfigPath = "./config.yaml"

var version = "dev"

type rootOptions struct {
	configFile string
}

// BuildCLI returns the root command.
func BuildCLI() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "jobkeeper",
		Short:         "Dynamic task scheduler backed by a persistent catalog",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configFile, "config", "c", defaultConfigPath, "config file path (JSON or YAML)")

	root.AddCommand(
		buildServeCommand(opts),
		buildTasksCommand(opts),
		buildLogsCommand(opts),
		buildCronCommand(),
		buildFunctionsCommand(opts),
	)
	return root
}

func buildServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the scheduler and block until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts.configFile)
		},
	}
}

func runServe(parent context.Context, cfgPath string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// The app logger only exists once the config is loaded.
	boot := logx.NewConsole("info").With(logx.String("comp", "cli"))

	a, err := app.New(cfgPath, app.WithMissingConfig())
	if err != nil {
		boot.Error("startup failed", logx.String("config", cfgPath), logx.Err(err))
		return err
	}
	if err := a.Start(ctx); err != nil {
		boot.Error("start failed", logx.Err(err))
		_ = a.Stop(context.Background(), app.StopFatalError)
		return fmt.Errorf("start: %w", err)
	}

	reason := app.StopSignal
	select {
	case <-ctx.Done():
	case <-a.Done():
		reason = app.StopFatalError
	}
	boot.Info("shutting down", logx.String("reason", string(reason)))

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	stopErr := a.Stop(stopCtx, reason)
	if err := a.Err(); err != nil {
		return err
	}
	return stopErr
}

// withApp opens the catalog for a one-shot command and closes it afterwards.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, a *app.App) error) (err error) {
	a, err := app.New(opts.configFile, app.WithMissingConfig())
	if err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if stopErr := a.Stop(stopCtx, app.StopCommand); err == nil {
			err = stopErr
		}
	}()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return fn(ctx, a)
}

func buildFunctionsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "functions",
		Short: "List registered invoke targets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(_ context.Context, a *app.App) error {
				for _, k := range a.Registry().Keys() {
					fmt.Fprintln(cmd.OutOrStdout(), k)
				}
				return nil
			})
		},
	}
}
