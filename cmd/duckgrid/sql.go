package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/gnemet/duckgrid"
	"github.com/gnemet/duckgrid/viewstate"
	"github.com/spf13/cobra"
)

func newSQLCmd() *cobra.Command {
	var (
		table string
		state string
		run   bool
	)

	cmd := &cobra.Command{
		Use:   "sql <request.json>",
		Short: "Print the statement assembled for a row request, optionally running it",
		Long: `Reads a row request as sent by the grid ("-" reads stdin) and prints the
staged SQL statement built for it. With --state the saved view of the given
mode is replayed onto the request first; with --run the page is fetched.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			ctx := a.logger.WithContext(cmd.Context())

			req, err := readRequest(cmd, args[0])
			if err != nil {
				return err
			}

			engine, err := a.openEngine(ctx)
			if err != nil {
				return err
			}
			defer engine.Close()

			t, err := a.lookupTable(ctx, engine, table)
			if err != nil {
				return err
			}

			if state != "" {
				mode, err := viewstate.ParseMode(state)
				if err != nil {
					return err
				}
				snap, err := viewstate.NewStore(engine, a.cfg.ViewState.Table).Fetch(ctx, table, mode)
				switch {
				case errors.Is(err, viewstate.ErrNoState):
					a.logger.Warn().Str("mode", state).Msg("no saved view, using the request as is")
				case err != nil:
					return err
				default:
					viewstate.Apply(snap, viewstate.NewRequestGrid(&req))
				}
			}

			q, err := duckgrid.Assemble(t.Source, &req, t.Columns, t.SetValues)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, q.SQL)
			if !run {
				return nil
			}

			page, err := duckgrid.NewDatasource(engine, t).GetRows(ctx, req)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]interface{}{"rowData": page.Rows, "lastRow": page.LastRow})
		},
	}

	cmd.Flags().StringVar(&table, "table", "", "table the request targets")
	cmd.Flags().StringVar(&state, "state", "", "replay the saved view of this mode (auto|manual)")
	cmd.Flags().BoolVar(&run, "run", false, "execute the statement and print the page")
	_ = cmd.MarkFlagRequired("table")
	return cmd
}

func readRequest(cmd *cobra.Command, path string) (duckgrid.RowRequest, error) {
	var r io.Reader = cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return duckgrid.RowRequest{}, err
		}
		defer f.Close()
		r = f
	}

	req, err := duckgrid.DecodeRequest(r)
	if err != nil {
		return req, fmt.Errorf("%s: %w", path, err)
	}
	if err := duckgrid.ValidateRequest(duckgrid.NewValidator(), req, true); err != nil {
		return req, err
	}
	return req, nil
}
