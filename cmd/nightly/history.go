package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/simon020286/nightly/history"
)

func newHistoryCmd(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [workflow]",
		Short: "List recent runs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := history.Open(history.Path(a.settings.StateDir))
			if err != nil {
				return err
			}
			defer store.Close()

			workflow := ""
			if len(args) == 1 {
				workflow = args[0]
			}
			runs, err := store.List(cmd.Context(), workflow, limit)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN\tWORKFLOW\tEVENT\tREF\tCONCLUSION\tSTARTED\tDURATION\tID")
			for _, r := range runs {
				fmt.Fprintf(tw, "#%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					r.Number, r.Workflow, r.Event, r.Ref, r.Conclusion,
					r.StartedAt.Local().Format(time.DateTime), r.Duration().Round(time.Second), r.ID)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to list")
	cmd.AddCommand(newHistoryShowCmd(a))
	return cmd
}

func newHistoryShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the cells and steps of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := history.Open(history.Path(a.settings.StateDir))
			if err != nil {
				return err
			}
			defer store.Close()

			run, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printSummary(a.stdout, run)

			cells, err := store.Cells(cmd.Context(), run.ID)
			if err != nil {
				return err
			}
			for _, c := range cells {
				fmt.Fprintf(a.stdout, "\n%s [%s] %s\n", c.Name, c.RunsOn, c.Conclusion)
				for _, s := range c.Steps {
					fmt.Fprintf(a.stdout, "  %-10s %s\n", s.Outcome, s.Name)
				}
			}
			return nil
		},
	}
}
