package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simon020286/nightly/logger"
	"github.com/simon020286/nightly/models"
)

const echoWorkflow = `
name: echo
on: workflow_dispatch
jobs:
  say:
    strategy:
      matrix:
        word: [hello, world]
    steps:
      - run: echo ${{ matrix.word }}
`

const failingWorkflow = `
name: broken
on: workflow_dispatch
jobs:
  fail:
    steps:
      - run: exit 3
`

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func workspace(t *testing.T, files map[string]string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	wfDir := filepath.Join(dir, "workflows")
	require.NoError(t, os.MkdirAll(wfDir, 0o755))
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(wfDir, name), []byte(content), 0o644))
	}
	return wfDir, filepath.Join(dir, "state")
}

func TestValidate_Embedded(t *testing.T) {
	wfDir, state := workspace(t, nil)
	code, out, _ := runCLI(t, "validate", "--workflows-dir", wfDir, "--state-dir", state)
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "✓ conda_cron (embedded)")
}

func TestValidate_InvalidFile(t *testing.T) {
	wfDir, state := workspace(t, map[string]string{"bad.yaml": "name: bad\njobs: {}\n"})
	code, out, errOut := runCLI(t, "validate", "--state-dir", state, filepath.Join(wfDir, "bad.yaml"))
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "✗ bad")
	assert.Contains(t, errOut, "1 of 1 workflows are invalid")
}

func TestMatrix(t *testing.T) {
	wfDir, state := workspace(t, nil)
	code, out, _ := runCLI(t, "matrix", "conda_cron", "--workflows-dir", wfDir, "--state-dir", state)
	require.Equal(t, 0, code)
	assert.Contains(t, out, "condacheck: 6 cells")
	assert.Contains(t, out, "os=macos-latest")
}

func TestActions(t *testing.T) {
	code, out, _ := runCLI(t, "actions", "--state-dir", t.TempDir())
	require.Equal(t, 0, code)
	assert.Contains(t, out, "raise-or-close-issue")
	assert.Contains(t, out, "setup-micromamba")
}

func TestRun_RecordsHistory(t *testing.T) {
	wfDir, state := workspace(t, map[string]string{"echo.yaml": echoWorkflow})

	code, out, errOut := runCLI(t, "run", "echo", "--dry-run", "--timeout", "30s",
		"--workflows-dir", wfDir, "--state-dir", state)
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "hello")
	assert.Contains(t, out, "world")
	assert.Contains(t, out, "conclusion: success")

	code, out, _ = runCLI(t, "history", "echo", "--state-dir", state, "--workflows-dir", wfDir)
	require.Equal(t, 0, code)
	assert.Contains(t, out, "#1")
	assert.Contains(t, out, string(models.OutcomeSuccess))
}

func TestRun_FailureExitCode(t *testing.T) {
	wfDir, state := workspace(t, map[string]string{"broken.yaml": failingWorkflow})
	code, out, errOut := runCLI(t, "run", "broken", "--dry-run", "--no-history", "--workflows-dir", wfDir, "--state-dir", state)
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "failure")
	assert.Contains(t, errOut, "concluded failure")
}

func TestRun_UnknownWorkflowHint(t *testing.T) {
	wfDir, state := workspace(t, nil)
	code, _, errOut := runCLI(t, "run", "missing", "--no-history", "--workflows-dir", wfDir, "--state-dir", state)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "workflow not found")
	assert.Contains(t, errOut, "Hint:")
}

func TestConsoleListener_DoesNotPanicOnPartialData(t *testing.T) {
	var buf bytes.Buffer
	cl := newConsoleListener(logger.New(&buf), true)
	for _, typ := range []models.EventType{
		models.EventRunStarted, models.EventRunCompleted, models.EventStageError,
		models.EventCellStarted, models.EventCellCompleted,
		models.EventStepStarted, models.EventStepCompleted, models.EventStepSkipped,
	} {
		cl.OnEvent(models.Event{Type: typ, Timestamp: time.Now(), Data: map[string]interface{}{}})
	}
	assert.Contains(t, buf.String(), "run started")
}
