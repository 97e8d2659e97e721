package steps

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mvdan.cc/sh/v3/shell"

	"github.com/simon020286/nightly/builder"
	"github.com/simon020286/nightly/config"
	"github.com/simon020286/nightly/issues"
	"github.com/simon020286/nightly/models"
)

// recordingRunner records scripts instead of running them
type recordingRunner struct {
	mu      sync.Mutex
	scripts []string
	envs    []map[string]string
	err     error
}

func (r *recordingRunner) Run(_ context.Context, script string, opts models.CommandOptions) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scripts = append(r.scripts, script)
	r.envs = append(r.envs, opts.Env)
	return r.err
}

// fields splits a recorded command line the way the shell would
func fields(t *testing.T, script string) []string {
	t.Helper()
	out, err := shell.Fields(script, nil)
	require.NoError(t, err)
	return out
}

func newActionContext(with map[string]any, env map[string]string, runner models.CommandRunner) *models.ActionContext {
	run := &models.RunContext{
		RunID:      "42",
		Workflow:   "conda_cron",
		Repository: "OpenFreeEnergy/gufe",
		ServerURL:  "https://github.com",
	}
	return &models.ActionContext{
		Name:   "step",
		With:   with,
		Env:    env,
		Scope:  models.NewScope(run, "condacheck", map[string]string{"os": "ubuntu-latest"}),
		Runner: runner,
	}
}

func TestRegisteredActions(t *testing.T) {
	for _, name := range []string{"run", "mamba-org/setup-micromamba", "setup-micromamba", "conda-install", "raise-or-close-issue", "js"} {
		assert.True(t, builder.IsKnownAction(name), name)
	}
}

func TestRunAction_CommandFiles(t *testing.T) {
	script := `echo "count=12" >> "$GITHUB_OUTPUT"
echo "PKG=gufe" >> "$GITHUB_ENV"
echo "/opt/env/bin" >> "$GITHUB_PATH"
{
  echo "notes<<END"
  echo "first"
  echo "second"
  echo "END"
} >> "$GITHUB_OUTPUT"`

	ac := newActionContext(map[string]any{"script": script}, map[string]string{}, NewShellRunner())
	ac.Dir = t.TempDir()

	res, err := (&RunAction{}).Execute(context.Background(), ac)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"count": "12", "notes": "first\nsecond"}, res.Outputs)
	assert.Equal(t, map[string]string{"PKG": "gufe"}, res.Env)
	assert.Equal(t, []string{"/opt/env/bin"}, res.Path)
}

func TestRunAction_FailureKeepsOutputs(t *testing.T) {
	ac := newActionContext(map[string]any{"script": "echo \"partial=yes\" >> \"$GITHUB_OUTPUT\"\nexit 1"}, nil, NewShellRunner())
	ac.Dir = t.TempDir()

	res, err := (&RunAction{}).Execute(context.Background(), ac)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "yes", res.Outputs["partial"])
}

func TestSetupMicromamba(t *testing.T) {
	runner := &recordingRunner{}
	with := map[string]any{
		"environment-name": "gufe",
		"create-args":      "python=3.11\n",
		"condarc":          "channels:\n  - conda-forge\n",
	}
	ac := newActionContext(with, map[string]string{"HOME": "/home/ci"}, runner)

	res, err := (&SetupMicromambaAction{}).Execute(context.Background(), ac)
	require.NoError(t, err)

	require.Len(t, runner.scripts, 1)
	assert.Equal(t,
		[]string{"micromamba", "create", "--yes", "--root-prefix", "/home/ci/micromamba", "--name", "gufe", "--override-channels", "--channel", "conda-forge", "python=3.11"},
		fields(t, runner.scripts[0]))
	assert.Equal(t, "/home/ci/micromamba", res.Env["MAMBA_ROOT_PREFIX"])
	assert.Equal(t, "/home/ci/micromamba/envs/gufe", res.Env["CONDA_PREFIX"])
	assert.Equal(t, "gufe", res.Env["CONDA_DEFAULT_ENV"])
	assert.Equal(t, []string{"/home/ci/micromamba/envs/gufe/bin"}, res.Path)
}

func TestSetupMicromamba_FailureIsReported(t *testing.T) {
	runner := &recordingRunner{err: &models.CommandError{Name: "setup", ExitCode: 1}}
	_, err := (&SetupMicromambaAction{}).Execute(context.Background(), newActionContext(nil, map[string]string{"HOME": "/h"}, runner))

	var cmdErr *models.CommandError
	assert.True(t, errors.As(err, &cmdErr))
}

func TestSetupMicromamba_BadCondarc(t *testing.T) {
	ac := newActionContext(map[string]any{"condarc": "channels: [unclosed"}, map[string]string{"HOME": "/h"}, &recordingRunner{})
	_, err := (&SetupMicromambaAction{}).Execute(context.Background(), ac)
	assert.ErrorContains(t, err, "invalid condarc")
}

func TestCondaInstall(t *testing.T) {
	runner := &recordingRunner{}
	ac := newActionContext(
		map[string]any{"packages": "gufe pytest pytest-xdist"},
		map[string]string{"CONDA_DEFAULT_ENV": "gufe", "MAMBA_ROOT_PREFIX": "/r"},
		runner,
	)

	_, err := (&CondaInstallAction{}).Execute(context.Background(), ac)
	require.NoError(t, err)
	require.Len(t, runner.scripts, 1)
	assert.Equal(t,
		[]string{"micromamba", "install", "--yes", "--name", "gufe", "--channel", "conda-forge", "gufe", "pytest", "pytest-xdist"},
		fields(t, runner.scripts[0]))
	assert.Equal(t, "/r", runner.envs[0]["MAMBA_ROOT_PREFIX"])
}

func TestCondaInstall_ListInput(t *testing.T) {
	runner := &recordingRunner{}
	ac := newActionContext(map[string]any{"packages": []any{"gufe", "pytest"}, "channels": []any{"bioconda"}}, nil, runner)

	_, err := (&CondaInstallAction{}).Execute(context.Background(), ac)
	require.NoError(t, err)
	assert.Equal(t,
		[]string{"micromamba", "install", "--yes", "--name", "base", "--channel", "bioconda", "gufe", "pytest"},
		fields(t, runner.scripts[0]))
}

func TestCondaInstall_RequiresPackages(t *testing.T) {
	_, err := builder.CreateAction(config.StepConfig{Uses: "conda-install"})
	assert.Error(t, err)

	_, err = (&CondaInstallAction{}).Execute(context.Background(), newActionContext(map[string]any{"packages": ""}, nil, &recordingRunner{}))
	var missing *models.MissingConfigError
	assert.True(t, errors.As(err, &missing))
}

func TestRaiseOrCloseIssue(t *testing.T) {
	tracker := issues.NewMemoryTracker()
	var gotToken, gotRepo string
	prev := SetTrackerFactory(func(token, repository, apiURL string) (issues.Tracker, error) {
		gotToken, gotRepo = token, repository
		return tracker, nil
	})
	defer SetTrackerFactory(prev)

	env := map[string]string{
		"CI_OUTCOME":        "failure",
		"TITLE":             "[CI] CONDA CRON FAILURE ubuntu-latest python 3.11",
		"GITHUB_TOKEN":      "ghs_x",
		"GITHUB_REPOSITORY": "OpenFreeEnergy/gufe",
	}
	action := &RaiseOrCloseIssueAction{}

	res, err := action.Execute(context.Background(), newActionContext(nil, env, nil))
	require.NoError(t, err)
	assert.Equal(t, "create", res.Outputs["action"])
	assert.Equal(t, "1", res.Outputs["issue-number"])
	assert.Equal(t, "ghs_x", gotToken)
	assert.Equal(t, "OpenFreeEnergy/gufe", gotRepo)
	assert.Equal(t, []string{env["TITLE"]}, tracker.OpenTitles())

	env["CI_OUTCOME"] = "success"
	res, err = action.Execute(context.Background(), newActionContext(nil, env, nil))
	require.NoError(t, err)
	assert.Equal(t, "close", res.Outputs["action"])
	assert.Empty(t, tracker.OpenTitles())
	require.Len(t, tracker.Comments[1], 1)
	assert.Contains(t, tracker.Comments[1][0], "https://github.com/OpenFreeEnergy/gufe/actions/runs/42")
}

func TestRaiseOrCloseIssue_MissingTitle(t *testing.T) {
	_, err := (&RaiseOrCloseIssueAction{}).Execute(context.Background(), newActionContext(nil, map[string]string{"CI_OUTCOME": "failure"}, nil))
	assert.ErrorIs(t, err, models.ErrMissingTitle)
}

func TestRaiseOrCloseIssue_MissingToken(t *testing.T) {
	env := map[string]string{"CI_OUTCOME": "failure", "TITLE": "t", "GITHUB_REPOSITORY": "o/r"}
	_, err := (&RaiseOrCloseIssueAction{}).Execute(context.Background(), newActionContext(nil, env, nil))
	assert.ErrorIs(t, err, models.ErrMissingToken)
}

func TestJsAction(t *testing.T) {
	action, err := builder.CreateAction(config.StepConfig{Uses: "js", With: map[string]any{
		"code": "return { os: ctx.matrix.os, cells: 6 };",
	}})
	require.NoError(t, err)

	res, err := action.Execute(context.Background(), newActionContext(nil, nil, nil))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"os": "ubuntu-latest", "cells": "6"}, res.Outputs)
}

func TestJsAction_Error(t *testing.T) {
	_, err := (&JsAction{code: "throw new Error('boom')"}).Execute(context.Background(), newActionContext(nil, nil, nil))
	assert.ErrorContains(t, err, "boom")

	_, err = builder.CreateAction(config.StepConfig{Uses: "js"})
	assert.Error(t, err)
}

func TestCheckRequiredInputs(t *testing.T) {
	wf, err := config.ParseWorkflow([]byte("on: workflow_dispatch\njobs:\n  a:\n    steps:\n      - uses: conda-install\n      - run: echo\n"), "req")
	require.NoError(t, err)

	err = CheckRequiredInputs(wf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conda-install requires input 'packages'")
	assert.ErrorIs(t, err, models.ErrInvalidWorkflow)
}

func TestActionsMetadata(t *testing.T) {
	meta, ok := GetActionMetadata("mamba-org/setup-micromamba")
	require.True(t, ok)
	assert.Equal(t, "environment", meta.Category)
	assert.Len(t, meta.Inputs, 5)

	for _, m := range GetActionsMetadata() {
		assert.True(t, builder.IsKnownAction(m.Name), m.Name)
	}
}
