package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newProbeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe <table>",
		Short: "Show the column metadata and set values resolved for a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			ctx := cmd.Context()

			engine, err := a.openEngine(ctx)
			if err != nil {
				return err
			}
			defer engine.Close()

			t, err := a.lookupTable(ctx, engine, args[0])
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "COLUMN\tTYPE\tSET VALUES")
			for _, name := range t.Columns.Names() {
				values := "-"
				if v, ok := t.SetValues[name]; ok {
					values = fmt.Sprint(len(v))
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", name, t.Columns[name], values)
			}
			return w.Flush()
		},
	}
}
