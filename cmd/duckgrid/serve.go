package main

import (
	"fmt"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/gnemet/duckgrid"
	"github.com/gnemet/duckgrid/internal/server"
	"github.com/gnemet/duckgrid/viewstate"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var port int
	var maxConcurrent int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the configured tables over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := appFrom(cmd)
			cfg := a.cfg
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = strconv.Itoa(port)
			}
			if cmd.Flags().Changed("max-concurrent") {
				cfg.Server.MaxConcurrentRequests = maxConcurrent
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			ctx = a.logger.WithContext(ctx)

			engine, err := a.openEngine(ctx)
			if err != nil {
				return err
			}
			defer engine.Close()

			states := viewstate.NewStore(engine, cfg.ViewState.Table)
			if err := states.Initialize(ctx); err != nil {
				return err
			}

			tables := a.openTables(ctx, engine)
			handlers := make([]*duckgrid.Handler, 0, len(tables))
			for _, t := range tables {
				handlers = append(handlers, duckgrid.NewHandler(duckgrid.NewDatasource(engine, t), cfg.Server.MaxConcurrentRequests))
			}

			srv := server.New(server.Config{
				Addr:           fmt.Sprintf(":%s", cfg.Server.Port),
				Handlers:       handlers,
				States:         states,
				RequestTimeout: cfg.Server.RequestTimeout.Std(),
				Logger:         a.logger,
			})
			err = srv.Serve(ctx)

			st := engine.Stats()
			a.logger.Info().Int64("opened", st.Opened).Int64("closed", st.Closed).Msg("sessions at shutdown")
			return err
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "listen port")
	cmd.Flags().IntVar(&maxConcurrent, "max-concurrent", 1, "in-flight page requests per table")
	return cmd
}
