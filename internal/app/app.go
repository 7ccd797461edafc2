// Package app builds the task engine from a config file and runs it.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"jobkeeper/internal/config"
	"jobkeeper/internal/eventbus"
	"jobkeeper/internal/joblog"
	"jobkeeper/internal/metrics"
	"jobkeeper/internal/runtime/supervisor"
	"jobkeeper/internal/storage"
	"jobkeeper/internal/task/orchestrator"
	"jobkeeper/internal/task/registry"
	"jobkeeper/internal/task/scheduler"
	logx "jobkeeper/pkg/logx"
)

const (
	pruneInterval = time.Hour
	eventBuffer   = 256
)

type App struct {
	cfgPath string
	cfgm    *config.Manager
	sup     *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	bus     *eventbus.MemBus
	store   storage.Store
	reg     *registry.Registry
	sched   *scheduler.Service
	execLog *joblog.Service
	orch    *orchestrator.Service
	metrics *metrics.Collector
}

type Option func(*options)

type options struct {
	allowMissing bool
	store        storage.Store
}

// WithMissingConfig lets New fall back to config.Default when the file does not exist.
func WithMissingConfig() Option { return func(o *options) { o.allowMissing = true } }

// WithStore injects a catalog instead of opening the configured driver.
// The app takes ownership and closes it on Stop.
func WithStore(st storage.Store) Option { return func(o *options) { o.store = st } }

// New loads the config and wires every component. Nothing runs until Start.
func New(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load(o.allowMissing)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	store := o.store
	if store == nil {
		sc, err := mapStorageConfig(cfg)
		if err != nil {
			logSvc.Close()
			return nil, err
		}
		store, err = storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			logSvc.Close()
			return nil, fmt.Errorf("open storage: %w", err)
		}
		log.Info("storage opened", logx.String("driver", sc.Driver))
	}

	elc, err := mapExecutionLogConfig(cfg)
	if err != nil {
		_ = store.Close()
		logSvc.Close()
		return nil, err
	}

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     eventbus.New(),
		store:   store,
		reg:     registry.New(),
	}
	a.sched = scheduler.New(mapSchedulerConfig(cfg), a.reg, log.With(logx.String("comp", "scheduler")))
	a.execLog = joblog.New(elc, store, log.With(logx.String("comp", "joblog")))
	a.orch = orchestrator.New(orchestrator.Options{
		Store:     store,
		Scheduler: a.sched,
		ExecLog:   a.execLog,
		Bus:       a.bus,
		Logger:    log.With(logx.String("comp", "orchestrator")),
	})
	a.metrics = metrics.NewCollector(a.sched.Len)
	registerBuiltins(a.reg, log.With(logx.String("comp", "functions")), a.orch)
	return a, nil
}

func (a *App) Config() *config.Config { return a.cfgm.Get() }
func (a *App) Logger() logx.Logger { return a.log }
func (a *App) Registry() *registry.Registry { return a.reg }
func (a *App) Scheduler() *scheduler.Service { return a.sched }
func (a *App) Orchestrator() *orchestrator.Service { return a.orch }
func (a *App) Metrics() *metrics.Collector { return a.metrics }
func (a *App) Bus() eventbus.Bus { return a.bus }
func (a *App) ExecutionLog() *joblog.Service { return a.execLog }

// Register adds an application function to the registry. Tasks referencing key
// resolve it the next time they are scheduled or fired.
func (a *App) Register(key string, fn registry.Func) { a.reg.Register(key, fn) }

// Done is closed when the supervisor context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start schedules every RUNNING task from the catalog and starts the
// background loops: cron, metrics, retention pruning and config reload.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapExecutionLogConfig(cfg); err != nil {
			return err
		}
		_, err := mapStorageConfig(cfg)
		return err
	})

	if err := a.orch.Bootstrap(a.sup.Context()); err != nil {
		a.sup.Cancel()
		return err
	}
	if a.sched.Enabled() {
		a.sched.Start(a.sup.Context())
	} else {
		a.log.Warn("scheduler disabled; tasks are loaded but will not fire")
	}

	events, unsub := a.bus.Subscribe(eventBuffer)
	a.sup.Go("metrics.consume", func(c context.Context) error {
		defer unsub()
		return a.metrics.Consume(c, events)
	})
	if mc := mapMetricsConfig(a.cfgm.Get()); mc.Enabled {
		a.sup.Go("metrics.serve", func(c context.Context) error {
			return a.metrics.Serve(c, mc, a.log.With(logx.String("comp", "metrics")))
		})
	}

	a.sup.GoRestart("joblog.prune", a.pruneLoop,
		supervisor.WithRestartBackoff(time.Second, time.Minute))

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started",
		logx.Int("jobs", a.sched.Len()),
		logx.String("location", a.sched.Location().String()),
	)
	return nil
}

func (a *App) pruneLoop(ctx context.Context) error {
	t := time.NewTicker(pruneInterval)
	defer t.Stop()
	for {
		if n, err := a.execLog.Prune(ctx, time.Now()); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			a.log.Warn("execution log prune failed", logx.Err(err))
		} else if n > 0 {
			a.log.Info("execution log pruned", logx.Int64("removed", n))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts; only the newest config matters.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	change := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(change.Sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	if len(change.RestartRequired) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(change.RestartRequired, ",")))
	}

	if change.Has("logging") {
		a.logs.Apply(mapLoggingConfig(newCfg))
	}
	if change.Has("scheduler") {
		// Enabling or disabling the scheduler needs a restart; only the timezone is live.
		sc := mapSchedulerConfig(newCfg)
		sc.Enabled = a.sched.Enabled()
		a.sched.Apply(sc)
	}
	if change.Has("execution_log") {
		elc, err := mapExecutionLogConfig(newCfg)
		if err != nil {
			a.log.Warn("invalid execution_log config; keeping previous", logx.Err(err))
		} else {
			a.execLog.Apply(elc)
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(change.Sections, ","))}, change.Fields...)
	a.log.Info("config applied", fields...)
}

// Stop shuts components down in reverse dependency order. Each step gets
// its own deadline so one slow component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if a.sup != nil {
		a.sup.Cancel()
	}

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("scheduler", 5*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	if a.sup != nil {
		step("supervisor", 3*time.Second, a.sup.Wait)
	}
	step("joblog", time.Second, func(context.Context) error { return a.execLog.Close() })
	step("storage", 2*time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	a.logs.Close()
	return errors.Join(errs...)
}
