package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newMatrixCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "matrix <workflow> [job]",
		Short: "Print the matrix cells of a workflow",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := a.workflows()
			if err != nil {
				return err
			}
			wf, err := registry.Get(args[0])
			if err != nil {
				return err
			}

			for _, id := range wf.SortedJobIDs() {
				if len(args) == 2 && args[1] != id {
					continue
				}
				cells := wf.Jobs[id].Strategy.Matrix.Cells()
				fmt.Fprintf(a.stdout, "%s: %d cells\n", id, len(cells))
				for _, c := range cells {
					pairs := make([]string, 0, len(c.Values))
					for _, k := range c.Keys() {
						pairs = append(pairs, k+"="+c.Get(k))
					}
					fmt.Fprintf(a.stdout, "  %s\t%s\n", c.Name(id), strings.Join(pairs, " "))
				}
			}
			return nil
		},
	}
}
