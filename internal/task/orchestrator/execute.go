package orchestrator

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"
	"unicode/utf8"

	"jobkeeper/internal/eventbus"
	"jobkeeper/internal/joblog"
	"jobkeeper/internal/task/model"
	"jobkeeper/internal/task/scheduler"
	logx "jobkeeper/pkg/logx"
)

const (
	maxMessageLen   = 500
	maxErrorInfoLen = 2000
	recordTimeout   = 5 * time.Second
)

// Meta identifies the task behind one execution.
type Meta struct {
	TaskID       int64
	JobKey       string
	Name         string
	Group        string
	InvokeTarget string
	Concurrent   bool
	Trigger      model.Trigger
}

func MetaOf(t *model.Task, trigger model.Trigger) Meta {
	return Meta{
		TaskID:       t.ID,
		JobKey:       t.JobKey(),
		Name:         t.Name,
		Group:        t.Group,
		InvokeTarget: t.InvokeTarget,
		Concurrent:   t.Concurrent,
		Trigger:      trigger,
	}
}

func (m Meta) event() eventbus.TaskEvent {
	return eventbus.TaskEvent{TaskID: m.TaskID, JobKey: m.JobKey, Name: m.Name, Group: m.Group, Trigger: string(m.Trigger)}
}

// ExecuteWithLogging runs fn, records exactly one execution row for it and returns
// fn's result. A panic in fn is converted to an error.
func (s *Service) ExecuteWithLogging(ctx context.Context, meta Meta, fn func(ctx context.Context) (any, error)) (any, error) {
	start := time.Now()
	ev := meta.event()
	s.bus.Publish(eventbus.Event{Type: eventbus.TopicTaskStarted, Time: start, Data: ev})
	s.log.Debug("task started", logx.String("job", meta.JobKey), logx.String("trigger", string(meta.Trigger)))

	var (
		res any
		err error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
				s.log.Error("task panic", logx.String("job", meta.JobKey), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			}
		}()
		res, err = fn(ctx)
	}()
	dur := time.Since(start)

	rec := joblog.Record{
		TaskID:       meta.TaskID,
		TaskName:     meta.Name,
		TaskGroup:    meta.Group,
		InvokeTarget: meta.InvokeTarget,
		Trigger:      meta.Trigger,
		StartedAt:    start,
		Duration:     dur,
	}
	ev.Duration = dur
	if err != nil {
		rec.Outcome = model.OutcomeFailure
		rec.Message = "failed"
		rec.ErrorInfo = truncate(err.Error(), maxErrorInfoLen)
		ev.Err = rec.ErrorInfo
		s.log.Warn("task failed", logx.String("job", meta.JobKey), logx.Duration("dur", dur), logx.Err(err))
		s.bus.Publish(eventbus.Event{Type: eventbus.TopicTaskFailed, Data: ev})
	} else {
		rec.Outcome = model.OutcomeSuccess
		rec.Success = true
		rec.Message = "ok"
		if res != nil {
			rec.Message = truncate(fmt.Sprint(res), maxMessageLen)
		}
		s.log.Debug("task finished", logx.String("job", meta.JobKey), logx.Duration("dur", dur))
		s.bus.Publish(eventbus.Event{Type: eventbus.TopicTaskFinished, Data: ev})
	}
	s.record(ctx, rec)
	return res, err
}

// dispatch is installed as the scheduler's Dispatcher. Errors never reach the scheduler.
func (s *Service) dispatch(ctx context.Context, f scheduler.Firing) {
	meta, ok := s.lookupMeta(f.Key)
	if !ok {
		// Scheduled outside the orchestrator; log it under its key.
		meta = Meta{JobKey: f.Key, Name: f.Key, InvokeTarget: f.Target, Concurrent: true, Trigger: model.TriggerSchedule}
	}
	if !meta.Concurrent {
		gate := s.gates.get(f.Key)
		if !gate.tryAcquire() {
			s.recordSkip(ctx, meta, f.ScheduledAt)
			return
		}
		defer gate.release()
	}
	_, _ = s.ExecuteWithLogging(ctx, meta, f.Run)
}

func (s *Service) recordSkip(ctx context.Context, meta Meta, at time.Time) {
	if at.IsZero() {
		at = time.Now()
	}
	ev := meta.event()
	ev.Err = ErrOverlapSkip.Error()
	s.bus.Publish(eventbus.Event{Type: eventbus.TopicTaskSkipped, Time: at, Data: ev})
	s.log.Debug("task skipped", logx.String("job", meta.JobKey), logx.Err(ErrOverlapSkip))
	s.record(ctx, joblog.Record{
		TaskID:       meta.TaskID,
		TaskName:     meta.Name,
		TaskGroup:    meta.Group,
		InvokeTarget: meta.InvokeTarget,
		Trigger:      meta.Trigger,
		Outcome:      model.OutcomeSkipped,
		Message:      "skipped",
		ErrorInfo:    ErrOverlapSkip.Error(),
		StartedAt:    at,
	})
}

// record writes rec even when ctx is already canceled (shutdown during a run).
func (s *Service) record(ctx context.Context, rec joblog.Record) {
	if rec.ID == "" {
		rec.ID = joblog.NewID()
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := s.execLog.Record(rctx, rec); err != nil {
		s.log.Debug("execution record not written", logx.String("task", rec.TaskName), logx.Err(err))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// Cut on a rune boundary; stores reject invalid UTF-8.
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
