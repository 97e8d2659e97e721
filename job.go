package nightly

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"sync"
	"time"

	"github.com/simon020286/nightly/config"
	"github.com/simon020286/nightly/logger"
	"github.com/simon020286/nightly/matrix"
	"github.com/simon020286/nightly/models"
)

// JobStep is the stage behind one job of a workflow. It waits for the results
// of its needs, expands the matrix and runs every cell.
type JobStep struct {
	id       string
	job      config.JobConfig
	workflow *config.WorkflowConfig
	runner   models.CommandRunner
	stdout   io.Writer
	stderr   io.Writer
	events   models.EventEmitter
}

// NewJobStep creates the stage step of job id in wf
func NewJobStep(id string, wf *config.WorkflowConfig, opts BuildOptions, events models.EventEmitter) *JobStep {
	if events == nil {
		events = discardEvents{}
	}
	return &JobStep{
		id:       id,
		job:      wf.Jobs[id],
		workflow: wf,
		runner:   opts.Runner,
		stdout:   opts.Stdout,
		stderr:   opts.Stderr,
		events:   events,
	}
}

type discardEvents struct{}

func (discardEvents) Emit(models.EventType, map[string]interface{}) {}

// Run consumes the single input of the run and always emits one JobResult
func (j *JobStep) Run(ctx context.Context, inputs <-chan *models.StepInput) (<-chan models.StepOutput, <-chan error) {
	outputChan := make(chan models.StepOutput, 1)
	errorChan := make(chan error, 1)

	go func() {
		defer close(outputChan)
		defer close(errorChan)

		var input *models.StepInput
		select {
		case in, ok := <-inputs:
			if ok {
				input = in
			}
		case <-ctx.Done():
		}

		var result *models.JobResult
		if input == nil {
			result = j.cancelledResult()
		} else {
			var err error
			result, err = j.execute(ctx, input)
			if err != nil {
				errorChan <- err
			}
		}

		eventID := ""
		if input != nil {
			eventID = input.EventID
		}
		outputChan <- models.StepOutput{
			Data:      models.CreateResultData(models.JobResultKey, result),
			EventID:   eventID,
			Timestamp: time.Now(),
		}
	}()

	return outputChan, errorChan
}

func (j *JobStep) name() string {
	if j.job.Name != "" && !config.ContainsExpression(j.job.Name) {
		return j.job.Name
	}
	return j.id
}

func (j *JobStep) cancelledResult() *models.JobResult {
	now := time.Now()
	return &models.JobResult{
		ID:         j.id,
		Name:       j.name(),
		Result:     models.OutcomeCancelled,
		StartedAt:  now,
		FinishedAt: now,
	}
}

// execute runs the job. The error reports a broken job definition (condition,
// env); failed steps only show in the result.
func (j *JobStep) execute(ctx context.Context, input *models.StepInput) (*models.JobResult, error) {
	run := input.Run
	if run == nil {
		run = &models.RunContext{}
	}

	result := &models.JobResult{
		ID:        j.id,
		Name:      j.name(),
		Result:    models.OutcomeSuccess,
		StartedAt: time.Now(),
	}
	defer func() {
		result.FinishedAt = time.Now()
		j.events.Emit(models.EventStageCompleted, map[string]interface{}{
			"stage_id": j.id,
			"run_id":   run.RunID,
			"result":   string(result.Result),
			"duration": result.FinishedAt.Sub(result.StartedAt),
		})
	}()

	needs := j.needs(input)

	j.events.Emit(models.EventStageStarted, map[string]interface{}{
		"stage_id": j.id,
		"run_id":   run.RunID,
	})

	scope := models.NewScope(run, j.id, nil)
	scope.SetNeeds(needs)
	if ctx.Err() != nil {
		scope.MarkCancelled()
	}
	ok, err := config.EvalCondition(j.job.If, config.NewEvalContext(scope, run.Env))
	if err != nil {
		result.Result = models.OutcomeFailure
		return result, fmt.Errorf("job '%s' condition: %w", j.id, err)
	}
	if !ok {
		logger.Info("job skipped", "job", j.id, "if", j.job.If)
		result.Result = models.OutcomeSkipped
		if ctx.Err() != nil {
			result.Result = models.OutcomeCancelled
		}
		return result, nil
	}

	cells := j.job.Strategy.Matrix.Cells()
	if len(cells) == 0 {
		logger.Warn("matrix has no cells", "job", j.id)
		result.Result = models.OutcomeSkipped
		return result, nil
	}

	cellResults, outputs, err := j.runCells(ctx, run, needs, cells)

	result.Cells = cellResults
	result.Outputs = outputs
	for _, c := range cellResults {
		result.Result = result.Result.Worse(c.Conclusion)
	}
	return result, err
}

// needs returns the results of the declared needs. A need that produced no
// result is reported as failed.
func (j *JobStep) needs(input *models.StepInput) map[string]*models.JobResult {
	available := input.JobResults()
	needs := make(map[string]*models.JobResult, len(j.job.Needs))
	for _, id := range j.job.Needs {
		if jr, ok := available[id]; ok {
			needs[id] = jr
			continue
		}
		needs[id] = &models.JobResult{ID: id, Name: id, Result: models.OutcomeFailure}
	}
	return needs
}

// runCells runs the cells in parallel, at most max-parallel at a time.
// With fail-fast the first failed cell cancels the others.
func (j *JobStep) runCells(ctx context.Context, run *models.RunContext, needs map[string]*models.JobResult, cells []matrix.Cell) ([]models.CellResult, map[string]string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	limit := j.job.Strategy.MaxParallel
	if limit <= 0 || limit > len(cells) {
		limit = len(cells)
	}
	sem := make(chan struct{}, limit)

	results := make([]models.CellResult, len(cells))
	outputs := make([]map[string]string, len(cells))
	errs := make([]error, len(cells))

	var wg sync.WaitGroup
	for i, cell := range cells {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			results[i] = j.notStarted(cell)
			continue
		}

		wg.Add(1)
		go func(i int, cell matrix.Cell) {
			defer wg.Done()
			defer func() { <-sem }()

			cr := &cellRun{job: j, run: run, needs: needs, cell: cell}
			results[i], outputs[i], errs[i] = cr.execute(ctx)

			if results[i].Conclusion == models.OutcomeFailure && j.job.Strategy.IsFailFast() {
				logger.Warn("fail-fast: cancelling remaining cells", "job", j.id, "cell", results[i].Name)
				cancel()
			}
		}(i, cell)
	}
	wg.Wait()

	merged := map[string]string{}
	for _, o := range outputs {
		for k, v := range o {
			if v != "" {
				merged[k] = v
			}
		}
	}
	if len(merged) == 0 {
		merged = nil
	}
	return results, merged, errors.Join(errs...)
}

func (j *JobStep) notStarted(cell matrix.Cell) models.CellResult {
	now := time.Now()
	return models.CellResult{
		Job:        j.id,
		Name:       cell.Name(j.id),
		Matrix:     maps.Clone(cell.Values),
		Conclusion: models.OutcomeCancelled,
		StartedAt:  now,
		FinishedAt: now,
	}
}

// timeout converts a timeout-minutes value
func timeout(minutes float64) time.Duration {
	if minutes <= 0 {
		return 0
	}
	return time.Duration(minutes * float64(time.Minute))
}
