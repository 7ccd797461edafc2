package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"jobkeeper/internal/task/registry"
	logx "jobkeeper/pkg/logx"
)

const failureWarnThrottle = 5 * time.Second

func splitTarget(target string) (string, string, error) { return registry.ParseTarget(target) }

// defaultDispatch runs the fire in place and reports failures. It is replaced by
// the orchestrator in the full application.
func (s *Service) defaultDispatch(ctx context.Context, f Firing) {
	start := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
				s.log.Error("job panic", logx.String("job", f.Key), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			}
		}()
		_, err = f.Run(ctx)
		return err
	}()
	if err != nil {
		s.reportFailure(f.Key, err)
		return
	}
	s.log.Debug("job completed", logx.String("job", f.Key), logx.Duration("dur", time.Since(start)))
}

// reportFailure logs a failed fire at most once per throttle window per job.
func (s *Service) reportFailure(key string, err error) {
	if err == nil {
		return
	}
	now := time.Now()
	s.warnMu.Lock()
	last := s.lastWarn[key]
	if !last.IsZero() && now.Sub(last) < failureWarnThrottle {
		s.warnMu.Unlock()
		return
	}
	s.lastWarn[key] = now
	s.warnMu.Unlock()

	s.log.Warn("job failed", logx.String("job", key), logx.Any("err", err))
}
