package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"jobkeeper/internal/task/registry"
	logx "jobkeeper/pkg/logx"

	"github.com/robfig/cron/v3"
)

var (
	ErrDuplicateJobKey = errors.New("job key already scheduled")
	ErrJobNotFound     = errors.New("job not found")
)

// Config controls the trigger service.
type Config struct {
	Enabled  bool
	Timezone string // IANA TZ, e.g. "Asia/Jakarta"
}

// Firing is one scheduled invocation handed to the Dispatcher.
type Firing struct {
	Key         string
	Target      string
	Arg         string
	Fn          registry.Func
	ScheduledAt time.Time
}

// Run invokes the firing's function with its argument.
func (f Firing) Run(ctx context.Context) (any, error) {
	return f.Fn(ctx, f.Arg)
}

// Dispatcher receives every fire. It runs on the cron goroutine of that fire.
type Dispatcher func(ctx context.Context, f Firing)

type jobDef struct {
	key     string
	spec    string // normalized 6-field cron
	target  string
	arg     string
	fn      registry.Func
	sched   cron.Schedule
	entryID cron.EntryID
	paused  bool
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location
	reg *registry.Registry

	c        *cron.Cron
	jobs     map[string]*jobDef
	dispatch Dispatcher

	// runCtx is handed to dispatched fires; canceled by Stop.
	runCtx    context.Context
	runCancel context.CancelFunc

	// Failure warn throttling: key is job key.
	warnMu   sync.Mutex
	lastWarn map[string]time.Time
}

// JobInfo is a read-only view of one job.
type JobInfo struct {
	Key            string    `json:"key"`
	CronExpression string    `json:"cron_expression"`
	Target         string    `json:"target"`
	Paused         bool      `json:"paused"`
	Next           time.Time `json:"next,omitempty"`
	Prev           time.Time `json:"prev,omitempty"`
}
