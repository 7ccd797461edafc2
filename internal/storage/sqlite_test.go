package storage

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"

	"jobkeeper/internal/task/model"
	logx "jobkeeper/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func logxNop() logx.Logger { return logx.Nop() }

func newTestSQLite(t *testing.T) Store {
	t.Helper()
	st, err := NewSQLite(":memory:", 0, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestSQLiteStore(t *testing.T) {
	t.Parallel()
	runStoreSuite(t, newTestSQLite)
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nested", "jobs.db")
	ctx := context.Background()

	st, err := NewSQLite(path, 0, logx.Nop())
	require.NoError(t, err)
	task := &model.Task{Name: "t1", Group: "SYSTEM", InvokeTarget: "system.noop", CronExpression: "0 0 3 * * ?", Status: model.StatusRunning}
	require.NoError(t, st.CreateTask(ctx, task))
	require.NoError(t, st.Close())

	st, err = NewSQLite(path, 0, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	got, err := st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "SYSTEM_t1_"+strconv.FormatInt(task.ID, 10), got.JobKey())
}
