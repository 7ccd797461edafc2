package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "jobkeeper/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeYAML(t *testing.T) {
	data := []byte(`
logging:
  level: debug
  console: true
storage:
  driver: memory
scheduler:
  enabled: true
  timezone: UTC
execution_log:
  store: true
  retention: 48h
metrics:
  enabled: true
  addr: ":9191"
`)
	cfg, err := Decode("jobkeeper.yaml", data)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, "UTC", cfg.Scheduler.Timezone)
	assert.Equal(t, "48h", cfg.ExecutionLog.Retention)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, ":9191", cfg.Metrics.Addr)
}

func TestDecodeKeepsDefaultsForMissingSections(t *testing.T) {
	cfg, err := Decode("jobkeeper.json", []byte(`{"logging":{"level":"warn"}}`))
	require.NoError(t, err)
	def := Default()
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, def.Storage, cfg.Storage)
	assert.Equal(t, def.ExecutionLog, cfg.ExecutionLog)
}

func TestDecodeRejectsBadInput(t *testing.T) {
	cases := map[string]struct {
		name string
		data string
	}{
		"unknown field":   {"c.json", `{"loging":{}}`},
		"trailing data":   {"c.json", `{} {}`},
		"bad yaml":        {"c.yml", "logging: [\n"},
		"unknown driver":  {"c.json", `{"storage":{"driver":"mongo"}}`},
		"sqlite no path":  {"c.json", `{"storage":{"driver":"sqlite","path":""}}`},
		"postgres no dsn": {"c.json", `{"storage":{"driver":"postgres"}}`},
		"bad timezone":    {"c.json", `{"scheduler":{"timezone":"Mars/Olympus"}}`},
		"bad retention":   {"c.json", `{"execution_log":{"retention":"soon"}}`},
		"file no path":    {"c.json", `{"execution_log":{"file":{"enabled":true}}}`},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(tc.name, []byte(tc.data))
			assert.Error(t, err)
		})
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	d, err := ParseDurationOrDefault("x", "", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, d)

	d, err = ParseDurationOrDefault("x", " 2s ", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, d)

	_, err = ParseDurationField("x", "-1s")
	assert.ErrorContains(t, err, "x:")
}

func TestLoadMissingFile(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "absent.yaml"))
	_, err := m.Load(false)
	require.ErrorIs(t, err, os.ErrNotExist)

	cfg, err := m.Load(true)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Same(t, cfg, m.Get())
}

func TestReloadPublishesOnlyChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobkeeper.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"logging":{"level":"info"}}`), 0o644))

	m := NewManager(path)
	m.SetLogger(logx.Nop())
	_, err := m.Load(false)
	require.NoError(t, err)

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx := context.Background()
	assert.False(t, m.reload(ctx), "unchanged content is not republished")

	require.NoError(t, os.WriteFile(path, []byte(`{"logging":{"level":"debug"}}`), 0o644))
	require.True(t, m.reload(ctx))
	got := <-ch
	assert.Equal(t, "debug", got.Logging.Level)
	assert.Equal(t, "debug", m.Get().Logging.Level)
}

func TestReloadRespectsValidator(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobkeeper.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o644))
	m := NewManager(path)
	_, err := m.Load(false)
	require.NoError(t, err)

	m.SetValidator(func(context.Context, *Config) error { return os.ErrPermission })
	require.NoError(t, os.WriteFile(path, []byte(`{"logging":{"level":"error"}}`), 0o644))
	assert.False(t, m.reload(context.Background()))
	assert.Equal(t, "info", m.Get().Logging.Level)
}

func TestPublishKeepsNewest(t *testing.T) {
	m := NewManager("unused.json")
	ch := m.Subscribe(1)
	first, second := Default(), Default()
	second.Logging.Level = "debug"
	m.publish(first)
	m.publish(second)
	assert.Same(t, second, <-ch)

	m.Unsubscribe(ch)
	_, ok := <-ch
	assert.False(t, ok)
}

func TestWatchPicksUpWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobkeeper.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o644))
	m := NewManager(path)
	_, err := m.Load(false)
	require.NoError(t, err)
	ch := m.Subscribe(4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher a moment to register the directory.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(`{"scheduler":{"enabled":false}}`), 0o644))

	select {
	case cfg := <-ch:
		assert.False(t, cfg.Scheduler.Enabled)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	a := Default()
	b := Default()
	b.Storage.DSN = "postgres://secret@db/x"
	b.Storage.Driver = "postgres"
	b.Scheduler.Timezone = "UTC"
	b.Metrics.Enabled = true

	ch := SummarizeConfigChange(a, b)
	assert.Equal(t, []string{"storage", "scheduler", "metrics"}, ch.Sections)
	assert.Equal(t, []string{"storage", "metrics"}, ch.RestartRequired)
	assert.True(t, ch.Has("scheduler"))
	assert.False(t, ch.Has("logging"))
	assert.NotEmpty(t, ch.Fields)

	assert.Empty(t, SummarizeConfigChange(a, Default()).Sections)
}
