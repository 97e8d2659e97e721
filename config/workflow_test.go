package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const condaWorkflow = `
name: conda_cron
on:
  workflow_dispatch:
  schedule:
    - cron: "0 0 * * *"
concurrency:
  group: "${{ github.workflow }}-${{ github.ref }}"
  cancel-in-progress: true
jobs:
  condacheck:
    runs-on: ${{ matrix.os }}
    strategy:
      fail-fast: false
      matrix:
        os: ["ubuntu-latest", "macos-latest"]
        python-version: [3.10, 3.11, 3.12]
    steps:
      - uses: mamba-org/setup-micromamba@v1
        with:
          environment-name: gufe
      - uses: conda-install
        with:
          packages: gufe pytest pytest-xdist
      - id: tests
        continue-on-error: true
        run: pytest -n auto --pyargs gufe
      - uses: raise-or-close-issue
        env:
          CI_OUTCOME: ${{ steps.tests.outcome }}
          TITLE: "[CI] CONDA CRON FAILURE ${{ matrix.os }} python ${{ matrix.python-version }}"
          GITHUB_TOKEN: ${{ secrets.GITHUB_TOKEN }}
`

func TestParseWorkflow(t *testing.T) {
	wf, err := ParseWorkflow([]byte(condaWorkflow), "ignored")
	require.NoError(t, err)

	assert.Equal(t, "conda_cron", wf.Name)
	assert.True(t, wf.On.WorkflowDispatch)
	require.Len(t, wf.On.Schedule, 1)
	assert.Equal(t, "0 0 * * *", wf.On.Schedule[0].Cron)

	group, cancel := wf.ConcurrencySettings()
	assert.Equal(t, DefaultConcurrencyGroup, group)
	assert.True(t, cancel)

	job := wf.Jobs["condacheck"]
	assert.False(t, job.Strategy.IsFailFast())
	require.Len(t, job.Strategy.Matrix.Axes, 2)
	assert.Equal(t, "os", job.Strategy.Matrix.Axes[0].Name)
	assert.Equal(t, []string{"3.10", "3.11", "3.12"}, job.Strategy.Matrix.Axes[1].Values)
	assert.Len(t, job.Strategy.Matrix.Cells(), 6)

	require.Len(t, job.Steps, 4)
	assert.Equal(t, "mamba-org/setup-micromamba", job.Steps[0].ActionName())
	assert.Equal(t, "run", job.Steps[2].ActionName())
	assert.True(t, job.Steps[2].ContinueOnError)
	assert.Equal(t, "Run pytest -n auto --pyargs gufe", job.Steps[2].DisplayName(2))
}

func TestParseWorkflow_DefaultName(t *testing.T) {
	wf, err := ParseWorkflow([]byte("on: workflow_dispatch\njobs:\n  a:\n    steps:\n      - run: echo\n"), "fallback")
	require.NoError(t, err)
	assert.Equal(t, "fallback", wf.Name)
	assert.True(t, wf.On.WorkflowDispatch)
}

func TestParseWorkflow_JobOrder(t *testing.T) {
	src := `
on: [workflow_dispatch]
jobs:
  zeta:
    steps: [{run: "true"}]
  alpha:
    needs: zeta
    steps: [{run: "true"}]
`
	wf, err := ParseWorkflow([]byte(src), "order")
	require.NoError(t, err)
	assert.Equal(t, []string{"zeta", "alpha"}, wf.SortedJobIDs())
	assert.Equal(t, StringList{"zeta"}, wf.Jobs["alpha"].Needs)
}

func TestParseWorkflow_ConcurrencyString(t *testing.T) {
	wf, err := ParseWorkflow([]byte("on: workflow_dispatch\nconcurrency: nightly\njobs: {}\n"), "c")
	require.NoError(t, err)

	group, cancel := wf.ConcurrencySettings()
	assert.Equal(t, "nightly", group)
	assert.False(t, cancel)
}

func TestParseWorkflow_InvalidYAML(t *testing.T) {
	_, err := ParseWorkflow([]byte("jobs: [unclosed"), "bad")
	assert.Error(t, err)
}

func TestLoadWorkflow(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nightly_tests.yml")
	require.NoError(t, os.WriteFile(path, []byte("on: workflow_dispatch\njobs:\n  a:\n    steps:\n      - run: echo\n"), 0o644))

	wf, err := LoadWorkflow(path)
	require.NoError(t, err)
	assert.Equal(t, "nightly_tests", wf.Name)
	assert.Equal(t, path, wf.Source)

	_, err = LoadWorkflow(filepath.Join(dir, "missing.yml"))
	assert.Error(t, err)
}

func TestStepConfig_DisplayName(t *testing.T) {
	assert.Equal(t, "named", StepConfig{Name: "named", Run: "x"}.DisplayName(0))
	assert.Equal(t, "Run conda-install", StepConfig{Uses: "conda-install"}.DisplayName(0))
	assert.Equal(t, "Run echo a", StepConfig{Run: "echo a\necho b"}.DisplayName(0))
	assert.Equal(t, "step 3", StepConfig{}.DisplayName(2))
}
