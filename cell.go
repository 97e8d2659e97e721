package nightly

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/simon020286/nightly/builder"
	"github.com/simon020286/nightly/config"
	"github.com/simon020286/nightly/logger"
	"github.com/simon020286/nightly/matrix"
	"github.com/simon020286/nightly/models"
)

// cellRun executes the steps of one matrix cell in order
type cellRun struct {
	job   *JobStep
	run   *models.RunContext
	needs map[string]*models.JobResult
	cell  matrix.Cell

	name   string
	outer  context.Context // cancelled on run cancellation or fail-fast, not on job timeout
	paths  []string        // GITHUB_PATH entries, most recent first
	stdout *lineWriter
	stderr *lineWriter
}

func (c *cellRun) execute(ctx context.Context) (models.CellResult, map[string]string, error) {
	j := c.job
	c.name = c.cell.Name(j.id)
	c.outer = ctx
	c.stdout = newLineWriter(j.stdout, "["+c.name+"] ")
	c.stderr = newLineWriter(j.stderr, "["+c.name+"] ")
	defer c.stdout.Flush()
	defer c.stderr.Flush()

	scope := models.NewScope(c.run, j.id, maps.Clone(c.cell.Values))
	scope.Needs = c.needs

	result := models.CellResult{
		Job:       j.id,
		Name:      c.name,
		Matrix:    maps.Clone(c.cell.Values),
		StartedAt: time.Now(),
	}

	j.events.Emit(models.EventCellStarted, map[string]interface{}{
		"run_id": c.run.RunID,
		"job":    j.id,
		"cell":   c.name,
		"matrix": result.Matrix,
	})

	if d := timeout(j.job.TimeoutMinutes); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	var outputs map[string]string
	base, err := c.baseEnv(scope)
	if err != nil {
		err = fmt.Errorf("cell %s environment: %w", c.name, err)
		scope.RecordStep(models.StepResult{Conclusion: models.OutcomeFailure})
	} else {
		result.RunsOn = c.interpolate(j.job.RunsOn, config.NewEvalContext(scope, base))
		for i, step := range j.job.Steps {
			result.Steps = append(result.Steps, c.runStep(ctx, scope, base, i, step))
		}
		outputs = c.jobOutputs(scope, base)
	}

	result.Conclusion = scope.JobStatus()
	result.FinishedAt = time.Now()

	j.events.Emit(models.EventCellCompleted, map[string]interface{}{
		"run_id":     c.run.RunID,
		"job":        j.id,
		"cell":       c.name,
		"conclusion": string(result.Conclusion),
		"duration":   result.FinishedAt.Sub(result.StartedAt),
	})
	return result, outputs, err
}

// baseEnv is the run defaults plus the workflow and job env blocks
func (c *cellRun) baseEnv(scope *models.Scope) (map[string]string, error) {
	env := c.run.DefaultEnv(c.job.id)
	env["RUNNER_OS"] = scope.RunnerOS
	ec := config.NewEvalContext(scope, env)

	env, err := builder.ResolveEnv(env, c.job.workflow.Env, ec)
	if err != nil {
		return nil, err
	}
	return builder.ResolveEnv(env, c.job.job.Env, ec)
}

func (c *cellRun) runStep(ctx context.Context, scope *models.Scope, base map[string]string, i int, step config.StepConfig) models.StepResult {
	j := c.job
	sr := models.StepResult{ID: step.ID, Name: step.DisplayName(i), StartedAt: time.Now()}

	if ctx.Err() != nil && !scope.Cancelled() {
		switch {
		case c.outer.Err() != nil:
			scope.MarkCancelled()
		case scope.JobStatus() != models.OutcomeFailure:
			// job timeout: remaining steps see failure(), not cancelled()
			logger.Warn("job timed out", "cell", c.name, "timeout_minutes", j.job.TimeoutMinutes)
			scope.MarkFailed()
		}
	}

	env := c.stepEnv(base, scope)
	ec := config.NewEvalContext(scope, env)

	ok, err := config.EvalCondition(step.If, ec)
	if err != nil {
		return c.finish(scope, step, sr, models.OutcomeFailure, err)
	}
	if !ok {
		outcome := models.OutcomeSkipped
		if scope.Cancelled() {
			outcome = models.OutcomeCancelled
		}
		sr.Outcome, sr.Conclusion = outcome, outcome
		sr.FinishedAt = time.Now()
		scope.RecordStep(sr)
		j.events.Emit(models.EventStepSkipped, c.stepEvent(sr, nil))
		return sr
	}

	env, err = builder.ResolveEnv(env, step.Env, ec)
	if err != nil {
		return c.finish(scope, step, sr, models.OutcomeFailure, err)
	}
	ec = ec.WithEnv(env)

	with, err := c.inputs(step, ec)
	if err != nil {
		return c.finish(scope, step, sr, models.OutcomeFailure, err)
	}
	action, err := builder.CreateAction(step)
	if err != nil {
		return c.finish(scope, step, sr, models.OutcomeFailure, err)
	}

	// Steps that still run after cancellation or the job timeout get a live context
	execCtx := ctx
	if ctx.Err() != nil {
		execCtx = context.WithoutCancel(ctx)
	}
	if d := timeout(step.TimeoutMinutes); d > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(execCtx, d)
		defer cancel()
	}

	j.events.Emit(models.EventStepStarted, c.stepEvent(sr, nil))
	logger.Debug("step started", "cell", c.name, "step", sr.Name)

	res, err := action.Execute(execCtx, &models.ActionContext{
		StepID: step.ID,
		Name:   sr.Name,
		With:   with,
		Env:    env,
		Dir:    c.dir(step, ec),
		Shell:  c.shell(step),
		Scope:  scope,
		Runner: j.runner,
		Stdout: c.stdout.Writer(),
		Stderr: c.stderr.Writer(),
	})
	if res != nil {
		sr.Outputs = res.Outputs
		scope.SetEnv(res.Env)
		for _, p := range res.Path {
			c.paths = append([]string{p}, c.paths...)
		}
	}

	outcome := models.OutcomeSuccess
	if err != nil {
		outcome = models.OutcomeFailure
		if c.outer.Err() != nil && !scope.Cancelled() {
			outcome = models.OutcomeCancelled
		}
	}
	return c.finish(scope, step, sr, outcome, err)
}

// finish records a step that ran (or failed to start)
func (c *cellRun) finish(scope *models.Scope, step config.StepConfig, sr models.StepResult, outcome models.Outcome, err error) models.StepResult {
	sr.Outcome = outcome
	sr.Conclusion = outcome
	if outcome == models.OutcomeFailure && step.ContinueOnError {
		sr.Conclusion = models.OutcomeSuccess
	}
	if err != nil {
		sr.Error = err.Error()
	}
	sr.FinishedAt = time.Now()

	scope.RecordStep(sr)
	if outcome == models.OutcomeCancelled {
		scope.MarkCancelled()
	}

	if err != nil {
		var cmdErr *models.CommandError
		if errors.As(err, &cmdErr) {
			logger.Warn("step failed", "cell", c.name, "step", sr.Name, "exit_code", cmdErr.ExitCode, "continue_on_error", step.ContinueOnError)
		} else {
			logger.Warn("step failed", "cell", c.name, "step", sr.Name, "error", err, "continue_on_error", step.ContinueOnError)
		}
	}

	c.job.events.Emit(models.EventStepCompleted, c.stepEvent(sr, err))
	return sr
}

func (c *cellRun) stepEvent(sr models.StepResult, err error) map[string]interface{} {
	data := map[string]interface{}{
		"run_id":  c.run.RunID,
		"job":     c.job.id,
		"cell":    c.name,
		"step":    sr.Name,
		"step_id": sr.ID,
	}
	if sr.Outcome != "" {
		data["outcome"] = string(sr.Outcome)
		data["conclusion"] = string(sr.Conclusion)
		data["duration"] = sr.FinishedAt.Sub(sr.StartedAt)
	}
	if err != nil {
		data["error"] = err.Error()
	}
	return data
}

// stepEnv layers the exported env over base and applies GITHUB_PATH entries
func (c *cellRun) stepEnv(base map[string]string, scope *models.Scope) map[string]string {
	env := maps.Clone(base)
	maps.Copy(env, scope.ExportedEnv())
	if len(c.paths) > 0 {
		current, ok := env["PATH"]
		if !ok {
			current = os.Getenv("PATH")
		}
		env["PATH"] = strings.Join(append(append([]string{}, c.paths...), current), string(os.PathListSeparator))
	}
	return env
}

// inputs resolves `with:`. Script steps also receive their interpolated body and shell.
func (c *cellRun) inputs(step config.StepConfig, ec *config.EvalContext) (map[string]any, error) {
	with, err := builder.ResolveInputs(step.With, ec)
	if err != nil {
		return nil, err
	}
	if step.Uses == "" {
		script, err := config.Interpolate(step.Run, ec)
		if err != nil {
			return nil, err
		}
		with["script"] = script
		with["shell"] = c.shell(step)
	}
	return with, nil
}

func (c *cellRun) shell(step config.StepConfig) string {
	return firstNonEmpty(step.Shell, c.job.job.Defaults.Run.Shell, c.job.workflow.Defaults.Run.Shell)
}

func (c *cellRun) dir(step config.StepConfig, ec *config.EvalContext) string {
	dir := c.interpolate(firstNonEmpty(
		step.WorkingDirectory,
		c.job.job.Defaults.Run.WorkingDirectory,
		c.job.workflow.Defaults.Run.WorkingDirectory,
	), ec)
	if dir == "" {
		return c.run.Workdir
	}
	if !filepath.IsAbs(dir) && c.run.Workdir != "" {
		return filepath.Join(c.run.Workdir, dir)
	}
	return dir
}

func (c *cellRun) jobOutputs(scope *models.Scope, base map[string]string) map[string]string {
	if len(c.job.job.Outputs) == 0 {
		return nil
	}
	ec := config.NewEvalContext(scope, base)
	outputs := make(map[string]string, len(c.job.job.Outputs))
	for k, v := range c.job.job.Outputs {
		outputs[k] = c.interpolate(v, ec)
	}
	return outputs
}

// interpolate logs and keeps the raw text when an expression fails
func (c *cellRun) interpolate(s string, ec *config.EvalContext) string {
	out, err := config.Interpolate(s, ec)
	if err != nil {
		logger.Warn("interpolation failed", "cell", c.name, "value", s, "error", err)
		return s
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
