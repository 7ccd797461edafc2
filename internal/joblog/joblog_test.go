package joblog

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"jobkeeper/internal/storage"
	"jobkeeper/internal/task/model"
	logx "jobkeeper/pkg/logx"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord() Record {
	return Record{
		TaskID:       7,
		TaskName:     "nightly",
		TaskGroup:    "SYSTEM",
		InvokeTarget: "system.noop",
		Trigger:      model.TriggerSchedule,
		Outcome:      model.OutcomeSuccess,
		Success:      true,
		StartedAt:    time.Now(),
		Duration:     20 * time.Millisecond,
	}
}

func TestServiceWritesStoreAndFile(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	path := filepath.Join(t.TempDir(), "logs", "executions.jsonl")
	svc := New(Config{Store: true, File: FileConfig{Enabled: true, Path: path}}, store, logx.Nop())
	defer svc.Close()

	require.NoError(t, svc.Record(context.Background(), sampleRecord()))

	got, total, err := store.FindExecutions(context.Background(), model.ExecutionFilter{}, 1, 10)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	_, err = ulid.Parse(got[0].ID)
	assert.NoError(t, err, "record gets a ULID")

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	sc := bufio.NewScanner(f)
	require.True(t, sc.Scan())
	var line Record
	require.NoError(t, json.Unmarshal(sc.Bytes(), &line))
	assert.Equal(t, got[0].ID, line.ID)
	assert.Equal(t, "nightly", line.TaskName)
	assert.False(t, sc.Scan())
}

func TestServiceKeepsCallerID(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	svc := New(Config{Store: true}, store, logx.Nop())
	r := sampleRecord()
	r.ID = "fixed"
	require.NoError(t, svc.Record(context.Background(), r))
	got, _, err := store.FindExecutions(context.Background(), model.ExecutionFilter{}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, "fixed", got[0].ID)
}

func TestServiceReturnsSinkFailure(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	require.NoError(t, store.Close())
	svc := New(Config{Store: true, WarnRatePerSec: 1}, store, logx.Nop())

	for i := 0; i < 3; i++ {
		err := svc.Record(context.Background(), sampleRecord())
		assert.ErrorIs(t, err, storage.ErrDisabled)
	}
	assert.Equal(t, uint64(2), svc.suppressed.Load())
}

func TestMultiJoinsErrors(t *testing.T) {
	t.Parallel()
	errA := errors.New("a")
	var calls int
	m := Multi{
		LoggerFunc(func(context.Context, Record) error { calls++; return errA }),
		nil,
		LoggerFunc(func(context.Context, Record) error { calls++; return nil }),
	}
	err := m.Record(context.Background(), sampleRecord())
	assert.ErrorIs(t, err, errA)
	assert.Equal(t, 2, calls)
	assert.NoError(t, Multi{}.Record(context.Background(), sampleRecord()))
}

func TestApplySwapsFileSink(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	first := filepath.Join(dir, "a.jsonl")
	second := filepath.Join(dir, "b.jsonl")

	svc := New(Config{File: FileConfig{Enabled: true, Path: first}}, nil, logx.Nop())
	defer svc.Close()
	require.NoError(t, svc.Record(context.Background(), sampleRecord()))

	svc.Apply(Config{File: FileConfig{Enabled: true, Path: second}})
	require.NoError(t, svc.Record(context.Background(), sampleRecord()))

	for _, p := range []string{first, second} {
		b, err := os.ReadFile(p)
		require.NoError(t, err)
		assert.NotEmpty(t, b, p)
	}
}

func TestPruneUsesRetention(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	now := time.Now()
	svc := New(Config{Store: true, Retention: 24 * time.Hour}, store, logx.Nop())

	old := sampleRecord()
	old.StartedAt = now.Add(-48 * time.Hour)
	require.NoError(t, svc.Record(context.Background(), old))
	require.NoError(t, svc.Record(context.Background(), sampleRecord()))

	n, err := svc.Prune(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	svc.Apply(Config{Store: true})
	n, err = svc.Prune(context.Background(), now)
	require.NoError(t, err)
	assert.Zero(t, n)
}
