package main

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/simon020286/nightly/builder"
	"github.com/simon020286/nightly/config"
	"github.com/simon020286/nightly/steps"
)

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file...]",
		Short: "Check workflow definitions",
		Long:  "Check the given workflow files, or every loaded workflow when none is given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			workflows, err := a.collect(args)
			if err != nil {
				return err
			}

			failed := 0
			for _, wf := range workflows {
				err := builder.CheckWorkflow(wf)
				if err == nil {
					err = steps.CheckRequiredInputs(wf)
				}
				if err != nil {
					failed++
					fmt.Fprintf(a.stdout, "✗ %s: %v\n", label(wf), err)
					continue
				}
				fmt.Fprintf(a.stdout, "✓ %s\n", label(wf))
			}

			if failed > 0 {
				return &exitError{code: 1, err: fmt.Errorf("%d of %d workflows are invalid", failed, len(workflows))}
			}
			return nil
		},
	}
}

// collect parses the named files, or returns every registered workflow
func (a *app) collect(files []string) ([]*config.WorkflowConfig, error) {
	if len(files) > 0 {
		out := make([]*config.WorkflowConfig, 0, len(files))
		for _, f := range files {
			wf, err := config.LoadWorkflow(f)
			if err != nil {
				return nil, err
			}
			out = append(out, wf)
		}
		return out, nil
	}

	registry, err := a.workflows()
	if err != nil {
		return nil, err
	}
	var out []*config.WorkflowConfig
	for _, name := range registry.List() {
		wf, err := registry.Get(name)
		if err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	if len(out) == 0 {
		return nil, errors.WithHintf(errors.New("no workflows found"), "add workflow files to %s", a.settings.WorkflowsDir)
	}
	return out, nil
}

func label(wf *config.WorkflowConfig) string {
	if wf.Source != "" {
		return wf.Name + " (" + wf.Source + ")"
	}
	return wf.Name + " (embedded)"
}
