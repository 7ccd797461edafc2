package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"jobkeeper/internal/task/cronexpr"
	logx "jobkeeper/pkg/logx"

	"github.com/robfig/cron/v3"
)

// Add schedules target under key.
//
// It fails with registry.ErrUnknownFunction when the target is not registered,
// cronexpr.ErrInvalidCronExpression when the expression cannot be scheduled, and
// ErrDuplicateJobKey when key is already taken (callers must Delete first).
// No entry is created on failure.
func (s *Service) Add(key, cronExpr, target string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("job key required")
	}
	fn, arg, err := s.reg.Lookup(target)
	if err != nil {
		return err
	}
	spec, err := cronexpr.NormalizeWithWarn(cronExpr, func(i int, f string) {
		s.log.Warn("cron field outside numeric character class", logx.String("job", key), logx.Int("field", i), logx.String("value", f))
	})
	if err != nil {
		return err
	}
	sched, err := cronexpr.Parser.Parse(spec)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", cronexpr.ErrInvalidCronExpression, spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[key]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateJobKey, key)
	}
	j := &jobDef{key: key, spec: spec, target: strings.TrimSpace(target), arg: arg, fn: fn, sched: sched}
	s.jobs[key] = j
	if s.c != nil {
		s.addEntryLocked(j)
		s.log.Debug("job scheduled", logx.String("job", key), logx.String("spec", spec), logx.String("target", j.target),
			logx.Time("next", s.c.Entry(j.entryID).Next))
	} else {
		s.log.Debug("job registered (scheduler not started)", logx.String("job", key), logx.String("spec", spec))
	}
	return nil
}

// Delete stops and forgets the job. ErrJobNotFound when absent.
func (s *Service) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, key)
	}
	s.removeEntryLocked(j)
	delete(s.jobs, key)
	s.log.Debug("job deleted", logx.String("job", key))
	return nil
}

// Pause stops firing but keeps the job's configuration. Pausing a paused job is a no-op.
func (s *Service) Pause(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, key)
	}
	if j.paused {
		return nil
	}
	s.removeEntryLocked(j)
	j.paused = true
	s.log.Debug("job paused", logx.String("job", key))
	return nil
}

// Resume restarts firing of a paused job. Resuming an active job is a no-op.
func (s *Service) Resume(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, key)
	}
	if !j.paused {
		return nil
	}
	j.paused = false
	if s.c != nil {
		s.addEntryLocked(j)
	}
	s.log.Debug("job resumed", logx.String("job", key))
	return nil
}

// Has reports whether a job (active or paused) exists under key.
func (s *Service) Has(key string) bool {
	s.mu.Lock()
	_, ok := s.jobs[key]
	s.mu.Unlock()
	return ok
}

// ExecuteOnce runs target immediately on the caller's goroutine, bypassing any schedule.
func (s *Service) ExecuteOnce(ctx context.Context, target string) (any, error) {
	return s.reg.ExecuteOnce(ctx, target)
}

// Fire dispatches key immediately as if its schedule had triggered.
// It returns ErrJobNotFound for unknown keys; paused jobs are not fired.
func (s *Service) Fire(key string) error {
	f, d, ctx, ok := s.firing(key)
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, key)
	}
	if d == nil {
		return nil
	}
	d(ctx, f)
	return nil
}

// Call with s.mu held.
func (s *Service) addEntryLocked(j *jobDef) {
	key := j.key
	j.entryID = s.c.Schedule(j.sched, cron.FuncJob(func() { s.fire(key) }))
}

// Call with s.mu held.
func (s *Service) removeEntryLocked(j *jobDef) {
	if s.c != nil && j.entryID != 0 {
		s.c.Remove(j.entryID)
	}
	j.entryID = 0
}

func (s *Service) fire(key string) {
	f, d, ctx, ok := s.firing(key)
	if !ok || d == nil {
		return
	}
	d(ctx, f)
}

// firing snapshots what a fire of key needs. A job deleted or paused between the
// cron tick and this call yields a nil dispatcher.
func (s *Service) firing(key string) (Firing, Dispatcher, context.Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[key]
	if !ok {
		return Firing{}, nil, nil, false
	}
	if j.paused {
		return Firing{}, nil, nil, true
	}
	fn := j.fn
	// Pick up hot redefinitions of the target.
	if key, _, err := splitTarget(j.target); err == nil {
		if cur, ok := s.reg.Resolve(key); ok {
			fn = cur
		}
	}
	ctx := s.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	return Firing{Key: j.key, Target: j.target, Arg: j.arg, Fn: fn, ScheduledAt: time.Now()}, s.dispatch, ctx, true
}
