package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/simon020286/nightly/steps"
)

func newActionsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "actions",
		Short: "List the built-in actions and their inputs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, m := range steps.GetActionsMetadata() {
				fmt.Fprintf(a.stdout, "%s (%s)\n  %s\n", m.Name, m.Category, m.Description)
				for _, in := range m.Inputs {
					req := ""
					if in.Required {
						req = " (required)"
					}
					fmt.Fprintf(a.stdout, "    %-20s %-8s%s %s\n", in.Name, in.Type, req, in.Description)
				}
			}
			return nil
		},
	}
}
