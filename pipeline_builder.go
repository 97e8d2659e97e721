package nightly

import (
	"fmt"
	"io"

	"github.com/simon020286/nightly/config"
	"github.com/simon020286/nightly/models"
	"github.com/simon020286/nightly/steps"
)

// BuildOptions configures how the jobs of a run execute
type BuildOptions struct {
	Runner    models.CommandRunner // defaults to the mvdan.cc/sh runner
	Stdout    io.Writer            // step output, prefixed per cell; nil discards
	Stderr    io.Writer
	Listeners []models.EventListener
}

// BuildFromConfig builds the pipeline of one run of wf: one stage per job,
// connected along `needs`
func BuildFromConfig(wf *config.WorkflowConfig, run *models.RunContext, opts BuildOptions) (*Pipeline, error) {
	if run == nil {
		run = &models.RunContext{}
	}
	if run.Workflow == "" {
		run.Workflow = wf.Name
	}
	if run.Env == nil {
		run.Env = wf.Env
	}
	if opts.Runner == nil {
		opts.Runner = steps.NewShellRunner()
	}
	opts.Stdout = newLockedWriter(opts.Stdout)
	opts.Stderr = newLockedWriter(opts.Stderr)

	pipeline := NewPipeline(run)
	for _, l := range opts.Listeners {
		pipeline.AddListener(l)
	}

	ids := wf.SortedJobIDs()

	// Phase 1: Create all stages without dependencies
	stageMap := make(map[string]*Stage, len(ids))
	for _, id := range ids {
		stage := NewStage(id, NewJobStep(id, wf, opts, pipeline.Events()))
		stageMap[id] = stage
		pipeline.AddStage(stage)
	}

	// Phase 2: Resolve needs from IDs to *Stage references
	for _, id := range ids {
		needs := wf.Jobs[id].Needs
		if len(needs) == 0 {
			continue
		}

		var deps []*Stage
		for _, depID := range needs {
			depStage, exists := stageMap[depID]
			if !exists {
				return nil, fmt.Errorf("job '%s' needs non-existent job '%s'", id, depID)
			}
			deps = append(deps, depStage)
		}

		sb := &StageBuilder{pipeline: pipeline, stage: stageMap[id]}
		if err := sb.After(deps...); err != nil {
			return nil, err
		}
	}

	return pipeline, nil
}
