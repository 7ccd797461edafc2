package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"jobkeeper/internal/eventbus"
	"jobkeeper/internal/joblog"
	"jobkeeper/internal/storage"
	"jobkeeper/internal/task/cronexpr"
	"jobkeeper/internal/task/model"
	"jobkeeper/internal/task/scheduler"
	logx "jobkeeper/pkg/logx"
)

const bootstrapPageSize = 100

// Service keeps the task catalog and the live schedule consistent.
//
// Catalog mutations are serialized on one mutex. Task bodies never run under it.
type Service struct {
	mu sync.Mutex

	store   storage.Store
	sched   *scheduler.Service
	execLog joblog.Logger
	bus     eventbus.Bus
	log     logx.Logger

	metaMu sync.RWMutex
	meta   map[string]Meta // by job key

	gates gates
}

type Options struct {
	Store     storage.Store
	Scheduler *scheduler.Service
	ExecLog   joblog.Logger
	Bus       eventbus.Bus
	Logger    logx.Logger
}

// New wires the orchestrator and installs it as the scheduler's dispatcher.
func New(opts Options) *Service {
	if opts.Logger.IsZero() {
		opts.Logger = logx.Nop()
	}
	if opts.ExecLog == nil {
		opts.ExecLog = joblog.Nop
	}
	if opts.Bus == nil {
		opts.Bus = eventbus.Nop{}
	}
	s := &Service{
		store:   opts.Store,
		sched:   opts.Scheduler,
		execLog: opts.ExecLog,
		bus:     opts.Bus,
		log:     opts.Logger,
		meta:    map[string]Meta{},
	}
	s.sched.SetDispatcher(s.dispatch)
	return s
}

// Bootstrap schedules every RUNNING task in the catalog. A task that cannot be
// scheduled is logged and skipped; only a catalog read failure is returned.
func (s *Service) Bootstrap(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	running := model.StatusRunning
	filter := model.TaskFilter{Status: &running}
	var scheduled, failed int
	for page := 1; ; page++ {
		tasks, total, err := s.store.FindTasks(ctx, filter, page, bootstrapPageSize)
		if err != nil {
			return fmt.Errorf("bootstrap: load tasks: %w", err)
		}
		for _, t := range tasks {
			key := t.JobKey()
			if s.sched.Has(key) {
				continue
			}
			if err := s.addJobLocked(t); err != nil {
				failed++
				s.log.Warn("bootstrap: task not scheduled",
					logx.Int64("task_id", t.ID), logx.String("job", key), logx.Err(err))
				continue
			}
			scheduled++
		}
		if len(tasks) == 0 || page*bootstrapPageSize >= total {
			break
		}
	}
	s.log.Info("bootstrap complete", logx.Int("scheduled", scheduled), logx.Int("failed", failed))
	s.publishJobsChanged()
	return nil
}

// CreateTask validates the cron expression, persists def and schedules it when RUNNING.
//
// On a scheduling failure the persisted row is returned together with an error
// wrapping ErrScheduleFailed and the cause.
func (s *Service) CreateTask(ctx context.Context, def *model.Task) (*model.Task, error) {
	if def == nil {
		return nil, storage.ErrInvalidTask
	}
	if err := s.validateCron(def.CronExpression); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := def.Clone()
	if err := s.store.CreateTask(ctx, t); err != nil {
		return nil, err
	}
	s.log.Info("task created", logx.Int64("task_id", t.ID), logx.String("job", t.JobKey()), logx.String("status", t.Status.String()))

	if t.Status == model.StatusRunning {
		if err := s.addJobLocked(t); err != nil {
			return t, s.scheduleFailed(t, err)
		}
		s.publishJobsChanged()
	}
	return t, nil
}

// UpdateTask merges patch into the stored task and re-keys the live entry.
func (s *Service) UpdateTask(ctx context.Context, id int64, patch model.TaskPatch) (*model.Task, error) {
	if patch.CronExpression != nil {
		if err := s.validateCron(*patch.CronExpression); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old, err := s.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	updated, err := s.store.UpdateTask(ctx, id, patch)
	if err != nil {
		return nil, err
	}

	oldKey := old.JobKey()
	s.removeJobLocked(oldKey)
	if newKey := updated.JobKey(); newKey != oldKey {
		s.gates.drop(oldKey)
		s.log.Debug("task re-keyed", logx.String("from", oldKey), logx.String("to", newKey))
	}

	if updated.Status == model.StatusRunning {
		if err := s.addJobLocked(updated); err != nil {
			s.publishJobsChanged()
			return updated, s.scheduleFailed(updated, err)
		}
	}
	s.publishJobsChanged()
	s.log.Info("task updated", logx.Int64("task_id", id), logx.String("job", updated.JobKey()), logx.String("status", updated.Status.String()))
	return updated, nil
}

// ToggleStatus pauses or resumes a task and persists the new status either way.
func (s *Service) ToggleStatus(ctx context.Context, id int64, status model.Status) (*model.Task, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidStatus, int(status))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	updated, err := s.store.UpdateTask(ctx, id, model.TaskPatch{Status: &status})
	if err != nil {
		return nil, err
	}
	key := updated.JobKey()

	switch status {
	case model.StatusPaused:
		if err := s.sched.Pause(key); err != nil && !errors.Is(err, scheduler.ErrJobNotFound) {
			s.log.Warn("pause failed", logx.String("job", key), logx.Err(err))
		}
	case model.StatusRunning:
		if s.sched.Has(key) {
			s.putMeta(MetaOf(updated, model.TriggerSchedule))
			if err := s.sched.Resume(key); err != nil {
				return updated, s.scheduleFailed(updated, err)
			}
		} else if err := s.addJobLocked(updated); err != nil {
			return updated, s.scheduleFailed(updated, err)
		}
	}
	s.publishJobsChanged()
	s.log.Info("task status changed", logx.Int64("task_id", id), logx.String("job", key), logx.String("status", status.String()))
	return updated, nil
}

// DeleteTask removes the live entry (errors swallowed) and then the catalog row.
// Deleting an unknown id is not an error.
func (s *Service) DeleteTask(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.store.GetTask(ctx, id)
	if errors.Is(err, storage.ErrTaskNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	key := t.JobKey()
	s.removeJobLocked(key)
	s.gates.drop(key)

	if err := s.store.DeleteTask(ctx, id); err != nil && !errors.Is(err, storage.ErrTaskNotFound) {
		return err
	}
	s.publishJobsChanged()
	s.log.Info("task deleted", logx.Int64("task_id", id), logx.String("job", key))
	return nil
}

// RunNow executes the task's target once on the caller's goroutine and records the
// outcome. Manual runs ignore the scheduled in-flight gate.
func (s *Service) RunNow(ctx context.Context, id int64) (any, error) {
	t, err := s.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	target := t.InvokeTarget
	return s.ExecuteWithLogging(ctx, MetaOf(t, model.TriggerManual), func(ctx context.Context) (any, error) {
		return s.sched.ExecuteOnce(ctx, target)
	})
}

func (s *Service) GetTask(ctx context.Context, id int64) (*model.Task, error) {
	return s.store.GetTask(ctx, id)
}

func (s *Service) FindTasks(ctx context.Context, f model.TaskFilter, page, size int) ([]*model.Task, int, error) {
	return s.store.FindTasks(ctx, f, page, size)
}

// Jobs lists the live schedule.
func (s *Service) Jobs() []scheduler.JobInfo {
	return s.sched.List()
}

func (s *Service) Executions(ctx context.Context, f model.ExecutionFilter, page, size int) ([]model.Execution, int, error) {
	return s.store.FindExecutions(ctx, f, page, size)
}

// PruneExecutions deletes execution history older than olderThan.
func (s *Service) PruneExecutions(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, errors.New("retention must be positive")
	}
	n, err := s.store.PruneExecutions(ctx, time.Now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	s.log.Info("execution history pruned", logx.Int64("deleted", n), logx.Duration("older_than", olderThan))
	return n, nil
}

// Call with s.mu held. Meta is published before the entry so the first fire finds it.
func (s *Service) addJobLocked(t *model.Task) error {
	m := MetaOf(t, model.TriggerSchedule)
	s.putMeta(m)
	if err := s.sched.Add(m.JobKey, t.CronExpression, t.InvokeTarget); err != nil {
		s.dropMeta(m.JobKey)
		return err
	}
	return nil
}

// Call with s.mu held.
func (s *Service) removeJobLocked(key string) {
	if err := s.sched.Delete(key); err != nil && !errors.Is(err, scheduler.ErrJobNotFound) {
		s.log.Warn("remove job failed", logx.String("job", key), logx.Err(err))
	}
	s.dropMeta(key)
}

func (s *Service) scheduleFailed(t *model.Task, cause error) error {
	s.log.Warn("task saved but not scheduled", logx.Int64("task_id", t.ID), logx.String("job", t.JobKey()), logx.Err(cause))
	return fmt.Errorf("%w: %w", ErrScheduleFailed, cause)
}

func (s *Service) validateCron(expr string) error {
	norm, err := cronexpr.NormalizeWithWarn(expr, func(i int, f string) {
		s.log.Warn("cron field outside numeric character class", logx.Int("field", i), logx.String("value", f))
	})
	if err != nil {
		return err
	}
	return cronexpr.Validate(norm)
}

func (s *Service) putMeta(m Meta) {
	s.metaMu.Lock()
	s.meta[m.JobKey] = m
	s.metaMu.Unlock()
}

func (s *Service) dropMeta(key string) {
	s.metaMu.Lock()
	delete(s.meta, key)
	s.metaMu.Unlock()
}

func (s *Service) lookupMeta(key string) (Meta, bool) {
	s.metaMu.RLock()
	m, ok := s.meta[key]
	s.metaMu.RUnlock()
	return m, ok
}

func (s *Service) publishJobsChanged() {
	s.bus.Publish(eventbus.Event{Type: eventbus.TopicJobsChanged, Data: s.sched.Active()})
}
