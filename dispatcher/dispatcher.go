// Package dispatcher turns triggers into runs: it prepares the run context,
// serializes runs per concurrency group, executes the pipeline and records
// the result.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/simon020286/nightly"
	"github.com/simon020286/nightly/builder"
	"github.com/simon020286/nightly/concurrency"
	"github.com/simon020286/nightly/config"
	"github.com/simon020286/nightly/history"
	"github.com/simon020286/nightly/logger"
	"github.com/simon020286/nightly/models"
	"github.com/simon020286/nightly/trigger"
)

// Workflows resolves workflow definitions by name
type Workflows interface {
	Get(name string) (*config.WorkflowConfig, error)
}

// Options configures a Dispatcher
type Options struct {
	Workflows Workflows
	Settings  *config.Settings
	History   *history.Store // optional
	Runner    models.CommandRunner
	Stdout    io.Writer
	Stderr    io.Writer
	Listeners []models.EventListener
}

// Dispatcher runs workflows on behalf of the scheduler, the HTTP handler and the CLI
type Dispatcher struct {
	opts    Options
	groups  *concurrency.Manager
	baseCtx context.Context
	wg      sync.WaitGroup
	counter atomic.Int64
}

// New creates a dispatcher. Runs started with Submit are cancelled with ctx.
func New(ctx context.Context, opts Options) *Dispatcher {
	if opts.Settings == nil {
		opts.Settings = &config.Settings{}
	}
	return &Dispatcher{
		opts:    opts,
		groups:  concurrency.NewManager(),
		baseCtx: ctx,
	}
}

// Prepared is a validated trigger with its run context
type Prepared struct {
	Workflow *config.WorkflowConfig
	Run      *models.RunContext
}

// Prepare resolves the workflow of t and builds the run context
func (d *Dispatcher) Prepare(ctx context.Context, t trigger.Trigger) (*Prepared, error) {
	wf, err := d.opts.Workflows.Get(t.Workflow)
	if err != nil {
		return nil, err
	}
	switch t.Event {
	case models.EventWorkflowDispatch:
		if !wf.On.WorkflowDispatch {
			return nil, fmt.Errorf("%w: %s", models.ErrDispatchNotAllowed, wf.Name)
		}
	case models.EventSchedule:
	default:
		return nil, fmt.Errorf("unsupported event '%s'", t.Event)
	}

	number, err := d.nextRunNumber(ctx, wf.Name)
	if err != nil {
		return nil, err
	}

	s := d.opts.Settings
	workdir := s.WorkDir
	if workdir != "" {
		if abs, err := filepath.Abs(workdir); err == nil {
			workdir = abs
		}
	}

	return &Prepared{
		Workflow: wf,
		Run: &models.RunContext{
			RunID:      builder.GenerateRunID(),
			RunNumber:  number,
			Workflow:   wf.Name,
			Event:      t.Event,
			Ref:        trigger.NormalizeRef(t.Ref, s.Ref),
			Actor:      "nightly",
			Repository: s.Repository,
			ServerURL:  s.ServerURL,
			APIURL:     s.APIURL,
			Workdir:    workdir,
			Env:        wf.Env,
			Secrets:    s.RunSecrets(),
			Vars:       mergeVars(wf.Vars, s.Vars),
		},
	}, nil
}

func (d *Dispatcher) nextRunNumber(ctx context.Context, workflow string) (int, error) {
	if d.opts.History != nil {
		return d.opts.History.NextRunNumber(ctx, workflow)
	}
	return int(d.counter.Add(1)), nil
}

// mergeVars layers runner vars over workflow variables
func mergeVars(layers ...map[string]any) map[string]any {
	out := map[string]any{}
	for _, l := range layers {
		for k, v := range l {
			out[k] = v
		}
	}
	return out
}

// Dispatch runs t to completion
func (d *Dispatcher) Dispatch(ctx context.Context, t trigger.Trigger) (*models.RunResult, error) {
	p, err := d.Prepare(ctx, t)
	if err != nil {
		return nil, err
	}
	return d.Execute(ctx, p)
}

// Submit starts t in the background and returns its run id
func (d *Dispatcher) Submit(t trigger.Trigger) (string, error) {
	p, err := d.Prepare(d.baseCtx, t)
	if err != nil {
		return "", err
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if _, err := d.Execute(d.baseCtx, p); err != nil {
			logger.Error("run failed", "workflow", p.Run.Workflow, "run_id", p.Run.RunID, "error", err)
		}
	}()
	return p.Run.RunID, nil
}

// Wait blocks until every submitted run has finished
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Execute runs a prepared trigger inside its concurrency group
func (d *Dispatcher) Execute(ctx context.Context, p *Prepared) (*models.RunResult, error) {
	group, cancelInProgress := p.Workflow.ConcurrencySettings()
	key, err := config.Interpolate(group, config.NewRunEvalContext(p.Run))
	if err != nil {
		return nil, fmt.Errorf("concurrency group: %w", err)
	}

	log := logger.With("workflow", p.Run.Workflow, "run_id", p.Run.RunID, "number", p.Run.RunNumber)
	log.Info("run queued", "event", p.Run.Event, "ref", p.Run.Ref, "group", key)

	lease, err := d.groups.Acquire(ctx, key, cancelInProgress)
	if err != nil {
		if errors.Is(err, models.ErrRunSuperseded) || errors.Is(err, context.Canceled) {
			log.Warn("run cancelled before start", "reason", err)
			d.record(d.cancelledResult(p))
		}
		return nil, err
	}
	defer lease.Release()

	pipeline, err := nightly.BuildFromConfig(p.Workflow, p.Run, nightly.BuildOptions{
		Runner:    d.opts.Runner,
		Stdout:    d.opts.Stdout,
		Stderr:    d.opts.Stderr,
		Listeners: d.opts.Listeners,
	})
	if err != nil {
		return nil, err
	}

	result, err := pipeline.Execute(lease.Context())
	if err != nil {
		return nil, err
	}

	log.Info("run completed", "conclusion", result.Conclusion, "duration", result.FinishedAt.Sub(result.StartedAt).Round(time.Millisecond))
	d.record(result)
	return result, nil
}

func (d *Dispatcher) cancelledResult(p *Prepared) *models.RunResult {
	now := time.Now()
	return &models.RunResult{
		ID:         p.Run.RunID,
		Number:     p.Run.RunNumber,
		Workflow:   p.Run.Workflow,
		Event:      p.Run.Event,
		Ref:        p.Run.Ref,
		Conclusion: models.OutcomeCancelled,
		StartedAt:  now,
		FinishedAt: now,
	}
}

func (d *Dispatcher) record(result *models.RunResult) {
	if d.opts.History == nil {
		return
	}
	// recorded even when the run context is cancelled
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.opts.History.Record(ctx, result); err != nil {
		logger.Error("failed to record run", "run_id", result.ID, "error", err)
	}
}
