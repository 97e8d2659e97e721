package main

import (
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/simon020286/nightly/concurrency"
	"github.com/simon020286/nightly/dispatcher"
	"github.com/simon020286/nightly/history"
	"github.com/simon020286/nightly/logger"
	"github.com/simon020286/nightly/models"
	"github.com/simon020286/nightly/trigger"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run scheduled workflows and accept manual dispatches over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s := a.settings

			lock, err := concurrency.LockStateDir(s.StateDir)
			if errors.Is(err, models.ErrStateLocked) {
				return errors.WithHintf(err, "another `nightly serve` uses %s; pass a different --state-dir", s.StateDir)
			}
			if err != nil {
				return err
			}
			defer lock.Unlock()

			registry, err := a.workflows()
			if err != nil {
				return err
			}

			store, err := history.Open(history.Path(s.StateDir))
			if err != nil {
				return err
			}
			defer store.Close()

			d := dispatcher.New(ctx, dispatcher.Options{
				Workflows: registry,
				Settings:  s,
				History:   store,
				Stdout:    a.stdout,
				Stderr:    a.stderr,
				Listeners: []models.EventListener{newConsoleListener(logger.Default(), a.verbose)},
			})

			scheduler := trigger.NewScheduler(d, s.Ref)
			for _, name := range registry.List() {
				wf, err := registry.Get(name)
				if err != nil {
					return err
				}
				if err := scheduler.Register(wf); err != nil {
					return err
				}
			}
			for _, e := range scheduler.Entries() {
				logger.Info("scheduled", "workflow", e.Workflow, "cron", e.Cron, "next", e.Next)
			}

			scheduler.Start()
			logger.Info("serving", "listen", s.Listen, "workflows", registry.Count(), "state_dir", s.StateDir)

			err = trigger.ListenAndServe(ctx, s.Listen, trigger.NewHandler(d, s.Ref))

			<-scheduler.Stop().Done()
			d.Wait()
			logger.Info("stopped")
			return err
		},
	}

	cmd.Flags().String("listen", "", "address of the dispatch endpoint")
	_ = a.v.BindPFlag("listen", cmd.Flags().Lookup("listen"))
	return cmd
}
