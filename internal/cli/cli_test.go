package cli

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCmd(t *testing.T, db string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--db", db}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestParseParams(t *testing.T) {
	params, err := parseParams([]string{"s=hello", "n=3", "b=true", "o={\"k\":1}"})
	require.NoError(t, err)
	assert.Equal(t, "hello", params["s"])
	assert.Equal(t, float64(3), params["n"])
	assert.Equal(t, true, params["b"])
	assert.Equal(t, map[string]any{"k": float64(1)}, params["o"])

	_, err = parseParams([]string{"novalue"})
	assert.ErrorIs(t, err, errUsage)
}

func TestSubmitStatusCancelRoundtrip(t *testing.T) {
	db := filepath.Join(t.TempDir(), "cli_test.db")

	out, err := runCmd(t, db, "submit", "echo",
		"--name", "hello", "--param", "msg=hi", "--priority", "2")
	require.NoError(t, err)
	id := strings.TrimSpace(out)
	require.NotEmpty(t, id)

	out, err = runCmd(t, db, "status", id)
	require.NoError(t, err)
	assert.Contains(t, out, "hello")
	assert.Contains(t, out, "pending")

	out, err = runCmd(t, db, "list", "--status", "pending")
	require.NoError(t, err)
	assert.Contains(t, out, id)

	out, err = runCmd(t, db, "cancel", id)
	require.NoError(t, err)
	assert.Contains(t, out, "cancelled")

	// Terminal now: a second cancel is a conflict.
	_, err = runCmd(t, db, "cancel", id)
	assert.Error(t, err)

	out, err = runCmd(t, db, "requeue", id)
	require.NoError(t, err)
	assert.Contains(t, out, "requeued")
}

func TestStatusUnknownJob(t *testing.T) {
	db := filepath.Join(t.TempDir(), "cli_test.db")

	_, err := runCmd(t, db, "status", "no-such-id")
	assert.Error(t, err)
}

func TestWorkerOnceProcessesJob(t *testing.T) {
	db := filepath.Join(t.TempDir(), "cli_test.db")

	out, err := runCmd(t, db, "submit", "echo", "--param", "msg=hi")
	require.NoError(t, err)
	id := strings.TrimSpace(out)

	out, err = runCmd(t, db, "worker", "--once")
	require.NoError(t, err)
	assert.Contains(t, out, "processed one job")

	out, err = runCmd(t, db, "status", id, "--show-result")
	require.NoError(t, err)
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "hi")
}

func TestClearRemovesTerminalJobs(t *testing.T) {
	db := filepath.Join(t.TempDir(), "cli_test.db")

	out, err := runCmd(t, db, "submit", "echo")
	require.NoError(t, err)
	id := strings.TrimSpace(out)

	_, err = runCmd(t, db, "worker", "--once")
	require.NoError(t, err)

	out, err = runCmd(t, db, "clear")
	require.NoError(t, err)
	assert.Contains(t, out, "removed 1 job(s)")

	_, err = runCmd(t, db, "status", id)
	assert.Error(t, err)
}

func TestListUnknownStatusIsUsageError(t *testing.T) {
	db := filepath.Join(t.TempDir(), "cli_test.db")

	_, err := runCmd(t, db, "list", "--status", "bogus")
	assert.ErrorIs(t, err, errUsage)
}
