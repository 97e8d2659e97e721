// Package nightly executes workflow definitions: every job is a stage of a
// DAG, every stage expands its matrix into cells that run in parallel.
package nightly

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/simon020286/nightly/logger"
	"github.com/simon020286/nightly/models"
)

const stopTimeout = 30 * time.Second

// Stage represents a pipeline node
// Contains the Step to execute and dependencies (previous stages)
type Stage struct {
	ID             string      // Unique identifier of the stage (the job id)
	Step           models.Step // The step to execute
	dependencyRefs []*Stage    // References to dependency stages
}

// NewStage creates a new stage without dependencies
// Dependencies are added via pipeline.AddStage(stage).After(deps...)
func NewStage(id string, step models.Step) *Stage {
	return &Stage{
		ID:             id,
		Step:           step,
		dependencyRefs: []*Stage{},
	}
}

// Pipeline orchestrates stage execution for a single run
type Pipeline struct {
	stages     map[string]*Stage   // Map ID -> Stage for fast access
	order      []string            // Stage insertion order
	dependents map[string][]string // Map ID -> stages that depend on this (inverse graph)
	mutex      sync.RWMutex

	// Lifecycle management
	ctx     context.Context
	cancel  context.CancelFunc
	running atomic.Bool
	done    chan struct{} // Signals when the pipeline has terminated

	eventBus *eventBus

	run       *models.RunContext
	resultsMu sync.Mutex
	results   map[string]*models.JobResult
	result    *models.RunResult
	startedAt time.Time
}

// StageBuilder allows configuring a stage with fluent API
type StageBuilder struct {
	pipeline *Pipeline
	stage    *Stage
}

// After defines the stage dependencies
// Returns error if a dependency doesn't exist in the pipeline
func (sb *StageBuilder) After(dependencies ...*Stage) error {
	sb.pipeline.mutex.Lock()
	defer sb.pipeline.mutex.Unlock()

	for _, dep := range dependencies {
		if _, exists := sb.pipeline.stages[dep.ID]; !exists {
			return fmt.Errorf("dependency stage '%s' not found in pipeline", dep.ID)
		}

		sb.pipeline.dependents[dep.ID] = append(sb.pipeline.dependents[dep.ID], sb.stage.ID)
		sb.stage.dependencyRefs = append(sb.stage.dependencyRefs, dep)
	}

	return nil
}

// NewPipeline creates a new pipeline for run
func NewPipeline(run *models.RunContext) *Pipeline {
	if run == nil {
		run = &models.RunContext{}
	}
	done := make(chan struct{})
	close(done)
	return &Pipeline{
		stages:     make(map[string]*Stage),
		dependents: make(map[string][]string),
		done:       done,
		eventBus:   newEventBus(),
		run:        run,
		results:    make(map[string]*models.JobResult),
	}
}

// AddListener adds a listener to receive events from the pipeline
func (p *Pipeline) AddListener(listener models.EventListener) {
	p.eventBus.addListener(listener)
}

// Events returns the emitter stages use to publish cell and step events
func (p *Pipeline) Events() models.EventEmitter {
	return p.eventBus
}

// Run returns the run context
func (p *Pipeline) Run() *models.RunContext {
	return p.run
}

// Start launches the pipeline in the background (non blocking)
func (p *Pipeline) Start(parentCtx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return models.ErrPipelineRunning
	}

	if err := p.Validate(); err != nil {
		p.running.Store(false)
		p.eventBus.EmitRunError(p.run.RunID, err)
		p.eventBus.Wait()
		return fmt.Errorf("pipeline validation failed: %w", err)
	}

	p.ctx, p.cancel = context.WithCancel(parentCtx)
	p.done = make(chan struct{})
	p.startedAt = time.Now()

	p.resultsMu.Lock()
	p.results = make(map[string]*models.JobResult)
	p.result = nil
	p.resultsMu.Unlock()

	p.eventBus.EmitRunStarted(p.run)

	go func() {
		defer func() {
			result := p.buildResult()
			p.eventBus.EmitRunCompleted(result)

			// Wait for all events to be processed
			p.eventBus.Wait()

			p.running.Store(false)
			p.cancel()
			close(p.done)
		}()

		p.execute(p.ctx)
	}()

	return nil
}

// Stop cancels the run and waits for it to wind down
func (p *Pipeline) Stop() error {
	if !p.running.Load() {
		return models.ErrPipelineNotRunning
	}

	if p.cancel != nil {
		p.cancel()
	}

	select {
	case <-p.done:
		return nil
	case <-time.After(stopTimeout):
		return models.ErrStopTimeout
	}
}

// Wait waits for the pipeline to terminate
func (p *Pipeline) Wait() {
	<-p.done
}

// IsRunning reports whether the pipeline is executing
func (p *Pipeline) IsRunning() bool {
	return p.running.Load()
}

// Execute runs the pipeline to completion and returns its result
func (p *Pipeline) Execute(ctx context.Context) (*models.RunResult, error) {
	if err := p.Start(ctx); err != nil {
		return nil, err
	}
	p.Wait()
	return p.Result(), nil
}

// Result returns the run result once the pipeline has terminated
func (p *Pipeline) Result() *models.RunResult {
	p.resultsMu.Lock()
	defer p.resultsMu.Unlock()
	return p.result
}

// AddStage adds a stage to the pipeline and returns a builder to configure dependencies
func (p *Pipeline) AddStage(stage *Stage) *StageBuilder {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if stage == nil {
		panic("stage cannot be nil")
	}
	if stage.ID == "" {
		panic("stage ID cannot be empty")
	}
	if stage.Step == nil {
		panic("stage step cannot be nil")
	}

	if _, exists := p.stages[stage.ID]; !exists {
		p.order = append(p.order, stage.ID)
	}
	p.stages[stage.ID] = stage

	return &StageBuilder{
		pipeline: p,
		stage:    stage,
	}
}

// GetStage returns a stage by id
func (p *Pipeline) GetStage(id string) (*Stage, bool) {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	stage, exists := p.stages[id]
	return stage, exists
}

// GetStages returns a copy of the stages map
func (p *Pipeline) GetStages() map[string]*Stage {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	stages := make(map[string]*Stage, len(p.stages))
	for id, stage := range p.stages {
		stages[id] = stage
	}
	return stages
}

// Validate checks that every dependency exists and that there are no cycles
func (p *Pipeline) Validate() error {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	for id, stage := range p.stages {
		for _, dep := range stage.dependencyRefs {
			if _, exists := p.stages[dep.ID]; !exists {
				return fmt.Errorf("stage '%s' depends on non-existent stage '%s'", id, dep.ID)
			}
		}
	}

	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	var hasCycle func(string) bool
	hasCycle = func(id string) bool {
		visited[id] = true
		recStack[id] = true

		for _, dep := range p.stages[id].dependencyRefs {
			if !visited[dep.ID] {
				if hasCycle(dep.ID) {
					return true
				}
			} else if recStack[dep.ID] {
				return true
			}
		}

		recStack[id] = false
		return false
	}

	for _, id := range p.order {
		if !visited[id] && hasCycle(id) {
			return models.ErrCircularDependency
		}
	}

	return nil
}

// execute starts every stage and wires outputs to consumers
func (p *Pipeline) execute(ctx context.Context) {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	// One dedicated channel per producer->consumer edge
	stageConnections := make(map[string]chan models.StepOutput)
	for consumerID, consumerStage := range p.stages {
		for _, dep := range consumerStage.dependencyRefs {
			stageConnections[edge(dep.ID, consumerID)] = make(chan models.StepOutput, 1)
		}
	}

	var wg sync.WaitGroup

	for id, stage := range p.stages {
		wg.Add(1)

		go func(stageID string, stg *Stage) {
			defer wg.Done()

			// Close the output channels towards consumers when done
			defer func() {
				for _, consumerID := range p.dependents[stageID] {
					close(stageConnections[edge(stageID, consumerID)])
				}
			}()

			inputChan := p.createInputChannel(ctx, stageID, stageConnections)
			outputChan, errorChan := stg.Step.Run(ctx, inputChan)

			var forwardWg sync.WaitGroup
			forwardWg.Add(2)

			// Forward outputs (broadcast to all consumers)
			go func() {
				defer forwardWg.Done()
				for out := range outputChan {
					p.collect(stageID, out)
					p.eventBus.EmitStageOutput(stageID, out.EventID, out.Data)

					// Consumers always drain their input; a blocked send only
					// happens while they are still waiting on other producers.
					for _, consumerID := range p.dependents[stageID] {
						stageConnections[edge(stageID, consumerID)] <- out
					}
				}
			}()

			go func() {
				defer forwardWg.Done()
				for err := range errorChan {
					logger.Error("stage failed", "stage", stageID, "error", err)
					p.eventBus.EmitStageError(stageID, p.run.RunID, err)
				}
			}()

			forwardWg.Wait()
		}(id, stage)
	}

	wg.Wait()
}

func edge(producer, consumer string) string {
	return producer + "->" + consumer
}

// createInputChannel builds the single input of a stage: the run context plus
// the outputs of every dependency. A dependency that ends without output is absent.
func (p *Pipeline) createInputChannel(ctx context.Context, stageID string, connections map[string]chan models.StepOutput) <-chan *models.StepInput {
	inputChan := make(chan *models.StepInput, 1)
	stage := p.stages[stageID]

	go func() {
		defer close(inputChan)

		data := make(map[string]map[string]*models.Data)
		for _, dep := range stage.dependencyRefs {
			// Drain the edge so the producer never blocks, keep the first output
			for out := range connections[edge(dep.ID, stageID)] {
				if _, seen := data[dep.ID]; !seen {
					data[dep.ID] = out.Data
				}
			}
		}

		inputChan <- &models.StepInput{
			Data:      data,
			EventID:   p.run.RunID,
			Timestamp: time.Now(),
			Run:       p.run,
		}
	}()

	return inputChan
}

// collect records the job result published by a stage
func (p *Pipeline) collect(stageID string, out models.StepOutput) {
	data, ok := out.Data[models.JobResultKey]
	if !ok {
		return
	}
	jr, ok := data.Value.(*models.JobResult)
	if !ok {
		return
	}
	p.resultsMu.Lock()
	p.results[stageID] = jr
	p.resultsMu.Unlock()
}

// buildResult folds job results into the run result
func (p *Pipeline) buildResult() *models.RunResult {
	p.resultsMu.Lock()
	defer p.resultsMu.Unlock()

	result := &models.RunResult{
		ID:         p.run.RunID,
		Number:     p.run.RunNumber,
		Workflow:   p.run.Workflow,
		Event:      p.run.Event,
		Ref:        p.run.Ref,
		Conclusion: models.OutcomeSuccess,
		StartedAt:  p.startedAt,
		FinishedAt: time.Now(),
	}

	for _, id := range p.order {
		jr, ok := p.results[id]
		if !ok {
			// the stage ended without a result
			jr = &models.JobResult{ID: id, Name: id, Result: models.OutcomeFailure}
			if p.ctx.Err() != nil {
				jr.Result = models.OutcomeCancelled
			}
		}
		result.Jobs = append(result.Jobs, *jr)
		result.Conclusion = result.Conclusion.Worse(jr.Result)
	}
	if p.ctx.Err() != nil {
		result.Conclusion = result.Conclusion.Worse(models.OutcomeCancelled)
	}

	p.result = result
	return result
}
