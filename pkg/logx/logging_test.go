package logx

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m), line)
		out = append(out, m)
	}
	return out
}

func TestNewJSONFieldsAndLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewJSON(&buf, "info").With(String("comp", "scheduler"))

	log.Debug("hidden")
	log.Info("job scheduled", String("job", "SYSTEM_t1_1"), Int64("task_id", 1), Duration("took", time.Second))
	log.Warn("no error attached", Err(nil))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "job scheduled", lines[0]["message"])
	assert.Equal(t, "scheduler", lines[0]["comp"])
	assert.Equal(t, "SYSTEM_t1_1", lines[0]["job"])
	assert.EqualValues(t, 1, lines[0]["task_id"])
	assert.NotEmpty(t, lines[0]["caller"])
	assert.Equal(t, "warn", lines[1]["level"])
	assert.True(t, log.Enabled(LevelInfo))
	assert.False(t, log.Enabled(LevelDebug))
}

func TestWithDoesNotLeakBetweenChildren(t *testing.T) {
	var buf bytes.Buffer
	base := NewJSON(&buf, "debug")
	a := base.With(String("comp", "a"))
	b := base.With(String("comp", "b"))
	a.Info("one")
	b.Info("two")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "a", lines[0]["comp"])
	assert.Equal(t, "b", lines[1]["comp"])
}

func TestNopAndZero(t *testing.T) {
	var zero Logger
	assert.True(t, zero.IsZero())
	assert.False(t, Nop().IsZero())
	assert.False(t, NewConsole("error").IsZero())
	Nop().Error("discarded")
}
