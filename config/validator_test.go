package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simon020286/nightly/models"
)

func known(names ...string) func(string) bool {
	return func(name string) bool {
		for _, n := range names {
			if n == name {
				return true
			}
		}
		return false
	}
}

var builtins = known("run", "mamba-org/setup-micromamba", "conda-install", ReconcileAction)

func mustParse(t *testing.T, src string) *WorkflowConfig {
	t.Helper()
	wf, err := ParseWorkflow([]byte(src), "test")
	require.NoError(t, err)
	return wf
}

func TestValidateWorkflow_Valid(t *testing.T) {
	wf := mustParse(t, condaWorkflow)
	assert.NoError(t, ValidateWorkflow(wf, builtins))
	assert.NoError(t, CheckIssueTitles(wf))
	assert.NoError(t, CheckReconcileAfterTests(wf))
}

func TestValidateWorkflow_Problems(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		problem string
	}{
		{
			name:    "no trigger",
			src:     "jobs:\n  a:\n    steps: [{run: x}]\n",
			problem: "no trigger",
		},
		{
			name:    "bad cron",
			src:     "on:\n  schedule:\n    - cron: \"61 * * * *\"\njobs:\n  a:\n    steps: [{run: x}]\n",
			problem: "invalid cron expression",
		},
		{
			name:    "no jobs",
			src:     "on: workflow_dispatch\njobs: {}\n",
			problem: "no jobs defined",
		},
		{
			name:    "no steps",
			src:     "on: workflow_dispatch\njobs:\n  a:\n    runs-on: x\n",
			problem: "no steps",
		},
		{
			name:    "uses and run",
			src:     "on: workflow_dispatch\njobs:\n  a:\n    steps: [{run: x, uses: conda-install}]\n",
			problem: "mutually exclusive",
		},
		{
			name:    "neither uses nor run",
			src:     "on: workflow_dispatch\njobs:\n  a:\n    steps: [{name: x}]\n",
			problem: "one of 'uses' or 'run' is required",
		},
		{
			name:    "unknown action",
			src:     "on: workflow_dispatch\njobs:\n  a:\n    steps: [{uses: actions/checkout@v4}]\n",
			problem: "unknown action 'actions/checkout@v4'",
		},
		{
			name:    "duplicate step id",
			src:     "on: workflow_dispatch\njobs:\n  a:\n    steps: [{id: t, run: x}, {id: t, run: y}]\n",
			problem: "duplicate step id 't'",
		},
		{
			name:    "unknown needs",
			src:     "on: workflow_dispatch\njobs:\n  a:\n    needs: b\n    steps: [{run: x}]\n",
			problem: "needs unknown job 'b'",
		},
		{
			name:    "cycle",
			src:     "on: workflow_dispatch\njobs:\n  a:\n    needs: b\n    steps: [{run: x}]\n  b:\n    needs: a\n    steps: [{run: x}]\n",
			problem: "circular dependency",
		},
		{
			name:    "empty axis",
			src:     "on: workflow_dispatch\njobs:\n  a:\n    strategy:\n      matrix:\n        os: []\n    steps: [{run: x}]\n",
			problem: "matrix axis 'os' has no values",
		},
		{
			name:    "repeated value",
			src:     "on: workflow_dispatch\njobs:\n  a:\n    strategy:\n      matrix:\n        os: [linux, linux]\n    steps: [{run: x}]\n",
			problem: "repeats value 'linux'",
		},
		{
			name:    "negative max-parallel",
			src:     "on: workflow_dispatch\njobs:\n  a:\n    strategy:\n      max-parallel: -1\n    steps: [{run: x}]\n",
			problem: "max-parallel must not be negative",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateWorkflow(mustParse(t, tc.src), builtins)
			require.Error(t, err)
			assert.ErrorIs(t, err, models.ErrInvalidWorkflow)
			assert.Contains(t, err.Error(), tc.problem)
		})
	}
}

func TestValidateWorkflow_SkipsActionCheckWithoutRegistry(t *testing.T) {
	wf := mustParse(t, "on: workflow_dispatch\njobs:\n  a:\n    steps: [{uses: anything@v1}]\n")
	assert.NoError(t, ValidateWorkflow(wf, nil))
}

func TestCheckIssueTitles_Duplicate(t *testing.T) {
	// the title ignores the os axis, so two cells collide
	src := strings.Replace(condaWorkflow,
		`TITLE: "[CI] CONDA CRON FAILURE ${{ matrix.os }} python ${{ matrix.python-version }}"`,
		`TITLE: "[CI] CONDA CRON FAILURE python ${{ matrix.python-version }}"`, 1)

	err := CheckIssueTitles(mustParse(t, src))
	require.Error(t, err)
	assert.Contains(t, err.Error(), models.ErrDuplicateIssueTitle.Error())
	assert.Contains(t, err.Error(), "[CI] CONDA CRON FAILURE python 3.10")
}

func TestCheckIssueTitles_Empty(t *testing.T) {
	src := "on: workflow_dispatch\njobs:\n  a:\n    steps:\n      - uses: raise-or-close-issue\n        env:\n          TITLE: \"${{ matrix.missing }}\"\n"

	err := CheckIssueTitles(mustParse(t, src))
	require.Error(t, err)
	assert.Contains(t, err.Error(), models.ErrMissingTitle.Error())
}

func TestCheckIssueTitles_JobEnv(t *testing.T) {
	src := `
on: workflow_dispatch
jobs:
  a:
    strategy:
      matrix:
        os: [ubuntu-latest, macos-latest]
    env:
      TITLE: "nightly failure ${{ matrix.os }}"
    steps:
      - uses: raise-or-close-issue
`
	assert.NoError(t, CheckIssueTitles(mustParse(t, src)))
}

func TestCheckIssueTitles_WithTitleWins(t *testing.T) {
	src := `
on: workflow_dispatch
jobs:
  a:
    strategy:
      matrix:
        os: [ubuntu-latest, macos-latest]
    steps:
      - uses: raise-or-close-issue
        with:
          title: nightly failure
        env:
          TITLE: "nightly failure ${{ matrix.os }}"
`
	err := CheckIssueTitles(mustParse(t, src))
	require.Error(t, err)
	assert.Contains(t, err.Error(), models.ErrDuplicateIssueTitle.Error())

	// an empty with.title falls back to the env
	src = strings.Replace(src, "title: nightly failure", `title: ""`, 1)
	assert.NoError(t, CheckIssueTitles(mustParse(t, src)))
}

func TestCheckIssueTitles_Deterministic(t *testing.T) {
	wf := mustParse(t, condaWorkflow)
	for i := 0; i < 5; i++ {
		require.NoError(t, CheckIssueTitles(wf))
	}
}

func TestCheckReconcileAfterTests(t *testing.T) {
	t.Run("fatal test step", func(t *testing.T) {
		src := strings.Replace(condaWorkflow, "        continue-on-error: true\n", "", 1)
		err := CheckReconcileAfterTests(mustParse(t, src))
		require.Error(t, err)
		assert.Contains(t, err.Error(), models.ErrReconcileUnreachable.Error())
	})

	t.Run("fatal test step with always", func(t *testing.T) {
		src := strings.Replace(condaWorkflow, "        continue-on-error: true\n", "", 1)
		src = strings.Replace(src, "      - uses: raise-or-close-issue\n", "      - uses: raise-or-close-issue\n        if: always()\n", 1)
		assert.NoError(t, CheckReconcileAfterTests(mustParse(t, src)))
	})

	t.Run("conclusion of continued step", func(t *testing.T) {
		src := strings.Replace(condaWorkflow, "steps.tests.outcome", "steps.tests.conclusion", 1)
		err := CheckReconcileAfterTests(mustParse(t, src))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "use outcome")
	})

	t.Run("reference to a later step", func(t *testing.T) {
		src := strings.Replace(condaWorkflow, "steps.tests.outcome", "steps.later.outcome", 1)
		err := CheckReconcileAfterTests(mustParse(t, src))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "does not run before it")
	})
}
