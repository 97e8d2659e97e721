package steps

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/simon020286/nightly/models"
)

// DefaultShell mirrors `bash -e -o pipefail {0}`
const DefaultShell = "bash"

// ShellRunner runs scripts with the mvdan.cc/sh interpreter. External
// commands are started as real processes.
type ShellRunner struct{}

// NewShellRunner creates a ShellRunner
func NewShellRunner() *ShellRunner {
	return &ShellRunner{}
}

func (r *ShellRunner) Run(ctx context.Context, script string, opts models.CommandOptions) error {
	shell := strings.TrimSpace(opts.Shell)
	if shell == "" {
		shell = DefaultShell
	}

	fields := strings.Fields(shell)
	switch fields[0] {
	case "bash", "sh":
		return r.runInterpreted(ctx, script, shellParams(fields[1:]), opts)
	default:
		return r.runExternal(ctx, script, shell, opts)
	}
}

// shellParams converts shell flags (`-leo pipefail {0}`) to interpreter params.
// Without flags the script runs with errexit and pipefail.
func shellParams(flags []string) []string {
	if len(flags) == 0 {
		return []string{"-e", "-o", "pipefail"}
	}
	var params []string
	for i := 0; i < len(flags); i++ {
		f := flags[i]
		if !strings.HasPrefix(f, "-") || f == "{0}" {
			continue
		}
		for _, c := range f[1:] {
			switch c {
			case 'e', 'u', 'x', 'f':
				params = append(params, "-"+string(c))
			case 'o':
				if i+1 < len(flags) {
					params = append(params, "-o", flags[i+1])
					i++
				}
			}
		}
	}
	return params
}

func (r *ShellRunner) runInterpreted(ctx context.Context, script string, params []string, opts models.CommandOptions) error {
	file, err := syntax.NewParser(syntax.Variant(syntax.LangBash)).Parse(strings.NewReader(script), opts.Name)
	if err != nil {
		return fmt.Errorf("failed to parse script: %w", err)
	}

	stdout, stderr := opts.Stdout, opts.Stderr
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}

	runner, err := interp.New(
		interp.Dir(opts.Dir),
		interp.Env(expand.ListEnviron(environ(opts.Env)...)),
		interp.StdIO(nil, stdout, stderr),
		interp.Params(params...),
	)
	if err != nil {
		return err
	}

	return exitError(opts.Name, runner.Run(ctx, file))
}

// runExternal writes the script to a file and runs it with a non-sh shell (python {0}, pwsh ...)
func (r *ShellRunner) runExternal(ctx context.Context, script, shell string, opts models.CommandOptions) error {
	dir, err := os.MkdirTemp("", "nightly-script-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "script")
	if err := os.WriteFile(path, []byte(script), 0o700); err != nil {
		return err
	}

	quoted, err := syntax.Quote(path, syntax.LangBash)
	if err != nil {
		return err
	}
	command := shell
	if strings.Contains(command, "{0}") {
		command = strings.ReplaceAll(command, "{0}", quoted)
	} else {
		command += " " + quoted
	}

	return r.runInterpreted(ctx, command, nil, opts)
}

func exitError(name string, err error) error {
	if err == nil {
		return nil
	}
	var status interp.ExitStatus
	if errors.As(err, &status) {
		return &models.CommandError{Name: name, ExitCode: int(status)}
	}
	return err
}

// environ merges env over the process environment. PATH from env replaces the inherited one.
func environ(env map[string]string) []string {
	merged := map[string]string{}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			merged[k] = v
		}
	}
	for k, v := range env {
		merged[k] = v
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+merged[k])
	}
	return out
}

// quoteArgs renders args for a bash command line
func quoteArgs(args []string) (string, error) {
	quoted := make([]string, 0, len(args))
	for _, a := range args {
		q, err := syntax.Quote(a, syntax.LangBash)
		if err != nil {
			return "", err
		}
		quoted = append(quoted, q)
	}
	return strings.Join(quoted, " "), nil
}
