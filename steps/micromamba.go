package steps

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/simon020286/nightly/builder"
	"github.com/simon020286/nightly/models"
)

const defaultEnvironment = "nightly"

// @action name=mamba-org/setup-micromamba category=environment description=Creates a micromamba environment and activates it for later steps
type SetupMicromambaInputs struct {
	EnvironmentName  string `action:"name=environment-name,default=nightly,desc=Name of the environment to create"`
	CreateArgs       string `action:"name=create-args,desc=Extra specs passed to micromamba create (python=3.11 ...)"`
	Condarc          string `action:"name=condarc,desc=condarc YAML; its channels are passed with -c"`
	RootPath         string `action:"name=micromamba-root-path,default=~/micromamba,desc=Root prefix for environments"`
	MicromambaBinary string `action:"name=micromamba-binary-path,default=micromamba,desc=micromamba executable"`
}

// SetupMicromambaAction creates the cell's environment. A failure is fatal for the cell.
type SetupMicromambaAction struct{}

func (a *SetupMicromambaAction) Execute(ctx context.Context, ac *models.ActionContext) (*models.ActionResult, error) {
	envName := inputOr(ac, "environment-name", defaultEnvironment)

	root, err := rootPrefix(ac)
	if err != nil {
		return nil, err
	}

	channels, err := condarcChannels(ac.Input("condarc"))
	if err != nil {
		return nil, err
	}

	args := []string{inputOr(ac, "micromamba-binary-path", "micromamba"), "create", "--yes", "--root-prefix", root, "--name", envName}
	if len(channels) > 0 {
		args = append(args, "--override-channels")
		for _, ch := range channels {
			args = append(args, "--channel", ch)
		}
	}
	args = append(args, stringList(ac.With["create-args"])...)

	if err := runCommand(ctx, ac, args); err != nil {
		return nil, err
	}

	prefix := filepath.Join(root, "envs", envName)
	return &models.ActionResult{
		Outputs: map[string]string{"environment-path": prefix},
		Env: map[string]string{
			"MAMBA_ROOT_PREFIX": root,
			"CONDA_PREFIX":      prefix,
			"CONDA_DEFAULT_ENV": envName,
		},
		Path: []string{filepath.Join(prefix, "bin")},
	}, nil
}

// @action name=conda-install category=environment description=Installs packages into the micromamba environment
type CondaInstallInputs struct {
	Packages         []string `action:"required,name=packages,desc=Package specs (list or whitespace separated)"`
	Channels         []string `action:"name=channels,default=conda-forge,desc=Channels to install from"`
	EnvironmentName  string   `action:"name=environment-name,desc=Target environment (defaults to the active one)"`
	MicromambaBinary string   `action:"name=micromamba-binary-path,default=micromamba,desc=micromamba executable"`
}

// CondaInstallAction installs dependencies. A failure is fatal for the cell.
type CondaInstallAction struct{}

func (a *CondaInstallAction) Execute(ctx context.Context, ac *models.ActionContext) (*models.ActionResult, error) {
	packages := stringList(ac.With["packages"])
	if len(packages) == 0 {
		return nil, models.ErrMissingConfig("packages")
	}

	envName := inputOr(ac, "environment-name", ac.Env["CONDA_DEFAULT_ENV"])
	if envName == "" {
		envName = "base"
	}

	channels := stringList(ac.With["channels"])
	if len(channels) == 0 {
		channels = []string{"conda-forge"}
	}

	args := []string{inputOr(ac, "micromamba-binary-path", "micromamba"), "install", "--yes", "--name", envName}
	for _, ch := range channels {
		args = append(args, "--channel", ch)
	}
	args = append(args, packages...)

	return &models.ActionResult{}, runCommand(ctx, ac, args)
}

func runCommand(ctx context.Context, ac *models.ActionContext, args []string) error {
	line, err := quoteArgs(args)
	if err != nil {
		return err
	}
	return ac.Runner.Run(ctx, line, models.CommandOptions{
		Name:   ac.Name,
		Dir:    ac.Dir,
		Env:    ac.Env,
		Stdout: ac.Stdout,
		Stderr: ac.Stderr,
	})
}

func rootPrefix(ac *models.ActionContext) (string, error) {
	root := inputOr(ac, "micromamba-root-path", ac.Env["MAMBA_ROOT_PREFIX"])
	if root == "" {
		root = "~/micromamba"
	}
	if root == "~" || strings.HasPrefix(root, "~/") {
		home := ac.Env["HOME"]
		if home == "" {
			var err error
			if home, err = os.UserHomeDir(); err != nil {
				return "", fmt.Errorf("cannot resolve micromamba root: %w", err)
			}
		}
		root = filepath.Join(home, strings.TrimPrefix(root, "~"))
	}
	return root, nil
}

// condarcChannels extracts `channels` from a condarc document
func condarcChannels(condarc string) ([]string, error) {
	if strings.TrimSpace(condarc) == "" {
		return nil, nil
	}
	var rc struct {
		Channels []string `yaml:"channels"`
	}
	if err := yaml.Unmarshal([]byte(condarc), &rc); err != nil {
		return nil, fmt.Errorf("invalid condarc: %w", err)
	}
	return rc.Channels, nil
}

func inputOr(ac *models.ActionContext, name, fallback string) string {
	if v := strings.TrimSpace(ac.Input(name)); v != "" {
		return v
	}
	return fallback
}

// stringList accepts a YAML list or a whitespace separated string
func stringList(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return strings.Fields(t)
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			out = append(out, strings.Fields(models.Stringify(item))...)
		}
		return out
	default:
		return strings.Fields(models.Stringify(t))
	}
}

func init() {
	setup := func(with map[string]any) (models.Action, error) {
		return &SetupMicromambaAction{}, nil
	}
	builder.RegisterActionType("mamba-org/setup-micromamba", setup)
	builder.RegisterActionType("setup-micromamba", setup)

	builder.RegisterActionType("conda-install", func(with map[string]any) (models.Action, error) {
		if _, ok := with["packages"]; !ok {
			return nil, errors.New("conda-install requires 'packages'")
		}
		return &CondaInstallAction{}, nil
	})
}
