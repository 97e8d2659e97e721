//go:generate go run ../codegen/cmd/actiongen .

package steps

import (
	"context"
	"maps"

	"github.com/simon020286/nightly/builder"
	"github.com/simon020286/nightly/models"
)

// @action name=run category=script description=Runs a shell script with the step environment
type RunInputs struct {
	Script string `action:"required,desc=The script body (the step's run field)"`
	Shell  string `action:"default=bash,desc=Shell template such as bash -leo pipefail {0}"`
}

// RunAction runs the `run:` script of a step
type RunAction struct{}

func (a *RunAction) Execute(ctx context.Context, ac *models.ActionContext) (*models.ActionResult, error) {
	return runScript(ctx, ac, ac.Input("script"))
}

// runScript runs script with GITHUB_OUTPUT/GITHUB_ENV/GITHUB_PATH wired up.
// Values written before a failure are still returned.
func runScript(ctx context.Context, ac *models.ActionContext, script string) (*models.ActionResult, error) {
	files, err := newCommandFiles()
	if err != nil {
		return nil, err
	}
	defer files.cleanup()

	env := maps.Clone(ac.Env)
	if env == nil {
		env = map[string]string{}
	}
	maps.Copy(env, files.Env())

	runErr := ac.Runner.Run(ctx, script, models.CommandOptions{
		Name:   ac.Name,
		Dir:    ac.Dir,
		Env:    env,
		Shell:  ac.Shell,
		Stdout: ac.Stdout,
		Stderr: ac.Stderr,
	})

	outputs, exported, path, err := files.collect()
	if err != nil {
		if runErr != nil {
			return nil, runErr
		}
		return nil, err
	}

	return &models.ActionResult{Outputs: outputs, Env: exported, Path: path}, runErr
}

func init() {
	builder.RegisterActionType("run", func(with map[string]any) (models.Action, error) {
		return &RunAction{}, nil
	})
}
