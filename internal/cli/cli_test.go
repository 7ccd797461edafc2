package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildCLI(t *testing.T) {
	cmd := BuildCLI()
	assert.Equal(t, "jobkeeper", cmd.Use)

	names := map[string]bool{}
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "tasks", "logs", "cron", "functions"} {
		assert.True(t, names[want], "missing %q command", want)
	}

	flag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, flag)
	assert.Equal(t, "c", flag.Shorthand)
	assert.Equal(t, defaultConfigPath, flag.DefValue)
}

// sqliteConfig returns a config path whose catalog survives between commands.
func sqliteConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	body := fmt.Sprintf(`{
  "logging": {"level": "error", "console": false},
  "storage": {"driver": "sqlite", "path": %q},
  "scheduler": {"enabled": true, "timezone": "UTC"}
}`, filepath.Join(dir, "jobkeeper.db"))
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := BuildCLI()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCronCheck(t *testing.T) {
	out, err := run(t, "cron", "check", "0 */15 * * * ?", "-n", "3", "--tz", "UTC")
	require.NoError(t, err)
	assert.Contains(t, out, "normalized: 0 */15 * * * *")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Len(t, lines, 4)

	_, err = run(t, "cron", "check", "* * *")
	assert.Error(t, err)

	_, err = run(t, "cron", "check", "* * * * * *", "-n", "0")
	assert.Error(t, err)
}

func TestFunctions(t *testing.T) {
	out, err := run(t, "-c", sqliteConfig(t), "functions")
	require.NoError(t, err)
	assert.Contains(t, out, "system.echo")
	assert.Contains(t, out, "system.pruneExecutions")
}

func TestTaskLifecycle(t *testing.T) {
	cfg := sqliteConfig(t)

	out, err := run(t, "-c", cfg, "tasks", "add",
		"--name", "hello", "--group", "DEMO",
		"--target", "system.echo('hi')", "--cron", "0 0 * * * ?")
	require.NoError(t, err)
	assert.Contains(t, out, "created task 1 (DEMO_hello_1)")

	out, err = run(t, "-c", cfg, "tasks", "list", "--status", "paused")
	require.NoError(t, err)
	assert.Contains(t, out, "hello")
	assert.Contains(t, out, "1 of 1")

	out, err = run(t, "-c", cfg, "tasks", "run", "1")
	require.NoError(t, err)
	assert.Contains(t, out, ": hi")

	out, err = run(t, "-c", cfg, "logs", "list", "--task-name", "hel")
	require.NoError(t, err)
	assert.Contains(t, out, "manual")
	assert.Contains(t, out, "success")

	out, err = run(t, "-c", cfg, "tasks", "resume", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "task 1 is running")

	out, err = run(t, "-c", cfg, "tasks", "delete", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted task 1")

	out, err = run(t, "-c", cfg, "tasks", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "0 of 0")
}

func TestTasksRejectsBadInput(t *testing.T) {
	cfg := sqliteConfig(t)

	_, err := run(t, "-c", cfg, "tasks", "run", "abc")
	assert.Error(t, err)

	_, err = run(t, "-c", cfg, "tasks", "add", "--name", "x", "--target", "system.noop", "--cron", "bad")
	assert.Error(t, err)

	_, err = run(t, "-c", cfg, "tasks", "list", "--status", "sleeping")
	assert.Error(t, err)

	_, err = run(t, "-c", cfg, "logs", "list", "--outcome", "maybe")
	assert.Error(t, err)
}

func TestSeedIsIdempotent(t *testing.T) {
	cfg := sqliteConfig(t)

	out, err := run(t, "-c", cfg, "tasks", "seed")
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(out, "created task"))

	out, err = run(t, "-c", cfg, "tasks", "seed")
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(out, "skip"))
}

func TestLogsPrune(t *testing.T) {
	out, err := run(t, "-c", sqliteConfig(t), "logs", "prune", "--older-than", "1h")
	require.NoError(t, err)
	assert.Contains(t, out, "removed 0 records")

	_, err = run(t, "-c", sqliteConfig(t), "logs", "prune", "--older-than", "0s")
	assert.Error(t, err)
}
