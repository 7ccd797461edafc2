package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
	_ "time/tzdata"

	"jobkeeper/internal/task/cronexpr"
	"jobkeeper/internal/task/registry"
	logx "jobkeeper/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *registry.Registry) {
	t.Helper()
	reg := registry.New()
	reg.RegisterFunc("noop", func(context.Context) error { return nil })
	s := New(Config{Enabled: true, Timezone: "UTC"}, reg, logx.Nop())
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s, reg
}

func TestAddDeleteRestoresJobSet(t *testing.T) {
	t.Parallel()
	s, _ := newTestService(t)
	before := s.List()

	require.NoError(t, s.Add("SYSTEM_a_1", "0 0 3 * * ?", "noop"))
	assert.True(t, s.Has("SYSTEM_a_1"))
	info, ok := s.Get("SYSTEM_a_1")
	require.True(t, ok)
	assert.Equal(t, "0 0 3 * * *", info.CronExpression)
	assert.False(t, info.Next.IsZero())

	require.NoError(t, s.Delete("SYSTEM_a_1"))
	assert.Equal(t, before, s.List())
	assert.ErrorIs(t, s.Delete("SYSTEM_a_1"), ErrJobNotFound)
}

func TestAddRejectsDuplicateKey(t *testing.T) {
	t.Parallel()
	s, _ := newTestService(t)
	require.NoError(t, s.Add("k", "0 * * * * *", "noop"))
	err := s.Add("k", "0 0 * * * *", "noop")
	assert.ErrorIs(t, err, ErrDuplicateJobKey)

	info, _ := s.Get("k")
	assert.Equal(t, "0 * * * * *", info.CronExpression)
}

func TestAddUnknownFunctionCreatesNothing(t *testing.T) {
	t.Parallel()
	s, _ := newTestService(t)
	err := s.Add("k", "0 * * * * *", "doesNotExist")
	assert.ErrorIs(t, err, registry.ErrUnknownFunction)
	assert.False(t, s.Has("k"))
	assert.Equal(t, 0, s.Len())
}

func TestAddInvalidCron(t *testing.T) {
	t.Parallel()
	s, _ := newTestService(t)
	for _, expr := range []string{"0 0 * * *", "0 0 25 * * *", ""} {
		err := s.Add("k", expr, "noop")
		assert.ErrorIs(t, err, cronexpr.ErrInvalidCronExpression, expr)
	}
	assert.Equal(t, 0, s.Len())
}

func TestPauseResumeKeepsConfiguration(t *testing.T) {
	t.Parallel()
	s, _ := newTestService(t)
	require.NoError(t, s.Add("k", "0 30 * * * *", "noop"))

	require.NoError(t, s.Pause("k"))
	require.NoError(t, s.Pause("k"))
	info, _ := s.Get("k")
	assert.True(t, info.Paused)
	assert.True(t, info.Next.IsZero())
	assert.Equal(t, 0, s.Active())

	require.NoError(t, s.Resume("k"))
	require.NoError(t, s.Resume("k"))
	info, _ = s.Get("k")
	assert.False(t, info.Paused)
	assert.Equal(t, "0 30 * * * *", info.CronExpression)
	assert.Equal(t, "noop", info.Target)
	assert.False(t, info.Next.IsZero())
	assert.Equal(t, 1, s.Len())

	assert.ErrorIs(t, s.Pause("missing"), ErrJobNotFound)
	assert.ErrorIs(t, s.Resume("missing"), ErrJobNotFound)
}

func TestFireUsesDispatcherAndLatestRegistration(t *testing.T) {
	t.Parallel()
	s, reg := newTestService(t)
	reg.Register("echo", func(_ context.Context, arg string) (any, error) { return "v1:" + arg, nil })
	require.NoError(t, s.Add("k", "0 0 0 1 1 *", "echo('hi')"))
	reg.Register("echo", func(_ context.Context, arg string) (any, error) { return "v2:" + arg, nil })

	got := make(chan any, 1)
	s.SetDispatcher(func(ctx context.Context, f Firing) {
		v, err := f.Run(ctx)
		require.NoError(t, err)
		got <- v
	})
	require.NoError(t, s.Fire("k"))
	assert.Equal(t, "v2:hi", <-got)

	assert.ErrorIs(t, s.Fire("missing"), ErrJobNotFound)
}

func TestPausedJobDoesNotFire(t *testing.T) {
	t.Parallel()
	s, _ := newTestService(t)
	var n atomic.Int32
	s.SetDispatcher(func(context.Context, Firing) { n.Add(1) })
	require.NoError(t, s.Add("k", "0 0 0 1 1 *", "noop"))
	require.NoError(t, s.Pause("k"))
	require.NoError(t, s.Fire("k"))
	assert.Equal(t, int32(0), n.Load())
}

func TestCronTriggersFires(t *testing.T) {
	t.Parallel()
	s, _ := newTestService(t)
	fired := make(chan string, 4)
	s.SetDispatcher(func(_ context.Context, f Firing) { fired <- f.Key })
	require.NoError(t, s.Add("tick", "* * * * * *", "noop"))

	select {
	case k := <-fired:
		assert.Equal(t, "tick", k)
	case <-time.After(3 * time.Second):
		t.Fatal("job did not fire")
	}
}

func TestDefaultDispatchRecoversPanic(t *testing.T) {
	t.Parallel()
	s, reg := newTestService(t)
	reg.Register("boom", func(context.Context, string) (any, error) { panic("boom") })
	reg.Register("fail", func(context.Context, string) (any, error) { return nil, errors.New("nope") })
	require.NoError(t, s.Add("p", "0 0 0 1 1 *", "boom"))
	require.NoError(t, s.Add("f", "0 0 0 1 1 *", "fail"))

	assert.NotPanics(t, func() { _ = s.Fire("p") })
	assert.NotPanics(t, func() { _ = s.Fire("f") })
}

func TestJobsAddedBeforeStartAreScheduled(t *testing.T) {
	t.Parallel()
	reg := registry.New()
	reg.RegisterFunc("noop", func(context.Context) error { return nil })
	s := New(Config{Enabled: true}, reg, logx.Nop())
	require.NoError(t, s.Add("k", "0 0 * * * *", "noop"))
	info, _ := s.Get("k")
	assert.True(t, info.Next.IsZero())

	s.Start(context.Background())
	defer s.Stop(context.Background())
	info, _ = s.Get("k")
	assert.False(t, info.Next.IsZero())
}

func TestApplyTimezoneRestartsCron(t *testing.T) {
	t.Parallel()
	s, _ := newTestService(t)
	require.NoError(t, s.Add("k", "0 0 3 * * *", "noop"))
	s.Apply(Config{Enabled: true, Timezone: "Asia/Tokyo"})

	assert.Equal(t, "Asia/Tokyo", s.Location().String())
	info, _ := s.Get("k")
	require.False(t, info.Next.IsZero())
	assert.Equal(t, 3, info.Next.In(s.Location()).Hour())
}
