package main

import (
	"context"
	"fmt"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/simon020286/nightly/builder"
	"github.com/simon020286/nightly/config"
	"github.com/simon020286/nightly/logger"
	_ "github.com/simon020286/nightly/steps"
)

// app carries what every subcommand needs once flags are parsed
type app struct {
	v        *viper.Viper
	settings *config.Settings
	stdout   io.Writer
	stderr   io.Writer
	verbose  bool
}

// exitError ends the process with code after the message has been reported
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	fmt.Fprintf(stderr, "Error: %v\n", err)
	if hint := errors.FlattenHints(err); hint != "" {
		fmt.Fprintf(stderr, "Hint: %s\n", hint)
	}
	var exit *exitError
	if errors.As(err, &exit) {
		return exit.code
	}
	return 1
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{v: config.NewViper(), stdout: stdout, stderr: stderr}
	var configFile string

	root := &cobra.Command{
		Use:           "nightly",
		Short:         "Run CI workflows on a schedule or on demand",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configFile != "" {
				a.v.SetConfigFile(configFile)
			}
			s, err := config.LoadSettings(a.v)
			if err != nil {
				return errors.WithHint(
					errors.Wrap(err, "failed to load settings"),
					"check nightly.yaml or pass --config",
				)
			}
			a.settings = s
			level := s.LogLevel
			if a.verbose {
				level = "debug"
			}
			if err := logger.SetLevel(level); err != nil {
				return errors.WithHint(err, "log_level is one of debug, info, warn, error")
			}
			return nil
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "settings file (default: ./nightly.yaml)")
	flags.String("workflows-dir", "", "directory with workflow definitions")
	flags.String("state-dir", "", "directory for run history and the daemon lock")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "verbose output")
	for key, flag := range map[string]string{
		"workflows_dir": "workflows-dir",
		"state_dir":     "state-dir",
		"log_level":     "log-level",
	} {
		_ = a.v.BindPFlag(key, flags.Lookup(flag))
	}

	root.AddCommand(
		newRunCmd(a),
		newServeCmd(a),
		newValidateCmd(a),
		newMatrixCmd(a),
		newHistoryCmd(a),
		newActionsCmd(a),
	)
	return root
}

// workflows loads the embedded workflows and the configured directory
func (a *app) workflows() (*builder.WorkflowRegistry, error) {
	registry, err := builder.LoadWorkflows(a.settings.WorkflowsDir)
	if err != nil {
		return nil, errors.WithHint(err, "run `nightly validate` to list every problem")
	}
	return registry, nil
}
