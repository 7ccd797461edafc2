package joblog

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"jobkeeper/internal/storage"
	logx "jobkeeper/pkg/logx"

	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"
)

type Config struct {
	Store          bool
	File           FileConfig
	Retention      time.Duration
	WarnRatePerSec int
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// Service is the application's execution logger.
type Service struct {
	log   logx.Logger
	store storage.Store

	mu      sync.Mutex
	cfg     Config
	file    *FileSink
	sinks   Multi
	limiter *rate.Limiter

	suppressed atomic.Uint64
}

func New(cfg Config, store storage.Store, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{log: log, store: store}
	s.Apply(cfg)
	return s
}

// Apply swaps sinks and the warn limiter. A file sink whose path did not change is kept open.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rps := cfg.WarnRatePerSec
	if rps <= 0 {
		rps = 1
	}
	s.limiter = rate.NewLimiter(rate.Limit(rps), rps)

	wantFile := cfg.File.Enabled && strings.TrimSpace(cfg.File.Path) != ""
	if s.file != nil && (!wantFile || s.file.Path() != strings.TrimSpace(cfg.File.Path)) {
		_ = s.file.Close()
		s.file = nil
	}
	if wantFile && s.file == nil {
		f, err := OpenFile(cfg.File.Path)
		if err != nil {
			s.log.Warn("execution log file unavailable", logx.String("path", cfg.File.Path), logx.Err(err))
		} else {
			s.file = f
		}
	}

	var sinks Multi
	if cfg.Store && s.store != nil {
		sinks = append(sinks, StoreSink{Store: s.store})
	}
	if s.file != nil {
		sinks = append(sinks, s.file)
	}
	s.sinks = sinks
	s.cfg = cfg
}

// Retention is the configured history window; zero keeps everything.
func (s *Service) Retention() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Retention
}

// Record fills ID when empty and writes r to every sink.
// Failures are logged (rate limited) and returned for callers that care.
func (s *Service) Record(ctx context.Context, r Record) error {
	if r.ID == "" {
		r.ID = NewID()
	}
	s.mu.Lock()
	sinks := s.sinks
	limiter := s.limiter
	s.mu.Unlock()

	err := sinks.Record(ctx, r)
	if err == nil {
		return nil
	}
	if limiter.Allow() {
		fields := []logx.Field{
			logx.String("task", r.TaskName),
			logx.String("group", r.TaskGroup),
			logx.String("outcome", string(r.Outcome)),
			logx.Err(err),
		}
		if n := s.suppressed.Swap(0); n > 0 {
			fields = append(fields, logx.Uint64("suppressed", n))
		}
		s.log.Warn("execution log write failed", fields...)
	} else {
		s.suppressed.Add(1)
	}
	return err
}

// Prune deletes stored executions older than the retention window. It is a
// no-op without a store or with zero retention.
func (s *Service) Prune(ctx context.Context, now time.Time) (int64, error) {
	ret := s.Retention()
	if s.store == nil || ret <= 0 {
		return 0, nil
	}
	return s.store.PruneExecutions(ctx, now.Add(-ret))
}

func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	s.sinks = nil
	return err
}

// NewID returns a lexically sortable execution ID.
func NewID() string {
	return ulid.Make().String()
}
