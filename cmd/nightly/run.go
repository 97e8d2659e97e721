package main

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/simon020286/nightly/dispatcher"
	"github.com/simon020286/nightly/history"
	"github.com/simon020286/nightly/issues"
	"github.com/simon020286/nightly/logger"
	"github.com/simon020286/nightly/models"
	"github.com/simon020286/nightly/steps"
	"github.com/simon020286/nightly/trigger"
)

func newRunCmd(a *app) *cobra.Command {
	var (
		ref       string
		dryRun    bool
		noHistory bool
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run <workflow>",
		Short: "Dispatch a workflow once and wait for it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			registry, err := a.workflows()
			if err != nil {
				return err
			}

			if dryRun || a.settings.Token == "" {
				tracker := useMemoryTracker()
				defer func() {
					for _, title := range tracker.OpenTitles() {
						fmt.Fprintf(a.stdout, "open issue: %s\n", title)
					}
				}()
				if !dryRun {
					logger.Warn("no GitHub token configured, issues are tracked in memory")
				}
			}

			var store *history.Store
			if !noHistory {
				store, err = history.Open(history.Path(a.settings.StateDir))
				if err != nil {
					return errors.WithHint(err, "pass --no-history to run without a state directory")
				}
				defer store.Close()
			}

			d := dispatcher.New(ctx, dispatcher.Options{
				Workflows: registry,
				Settings:  a.settings,
				History:   store,
				Stdout:    a.stdout,
				Stderr:    a.stderr,
				Listeners: []models.EventListener{newConsoleListener(logger.Default(), a.verbose)},
			})

			result, err := d.Dispatch(ctx, trigger.ManualDispatch(args[0], ref, a.settings.Ref))
			if errors.Is(err, models.ErrWorkflowNotFound) {
				return errors.WithHint(err, "`nightly validate` lists the loaded workflows")
			}
			if err != nil {
				return err
			}

			printSummary(a.stdout, result)
			if result.Conclusion != models.OutcomeSuccess {
				return &exitError{code: 1, err: fmt.Errorf("run #%d concluded %s", result.Number, result.Conclusion)}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&ref, "ref", "", "git ref of the run (default from settings)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "track issues in memory instead of GitHub")
	cmd.Flags().BoolVar(&noHistory, "no-history", false, "do not record the run")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "cancel the run after this duration")
	return cmd
}

// useMemoryTracker routes raise-or-close-issue to a process-local tracker
func useMemoryTracker() *issues.MemoryTracker {
	tracker := issues.NewMemoryTracker()
	steps.SetTrackerFactory(func(string, string, string) (issues.Tracker, error) {
		return tracker, nil
	})
	return tracker
}
