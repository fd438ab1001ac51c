package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gnemet/duckgrid"
	"github.com/gnemet/duckgrid/database/connpool"
	"github.com/gnemet/duckgrid/internal/config"
	"github.com/gnemet/duckgrid/internal/logging"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var Version = "0.1.0"

type options struct {
	configPath string
	dsn        string
	driver     string
	logLevel   string
	pretty     bool
}

type app struct {
	cfg    *config.Config
	logger zerolog.Logger
}

type appKey struct{}

func newRootCmd() *cobra.Command {
	var opts options

	root := &cobra.Command{
		Use:     "duckgrid",
		Short:   "Server-side row model for data grids, backed by DuckDB",
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("dsn") {
				cfg.Database.DSN = opts.dsn
			}
			if flags.Changed("driver") {
				cfg.Database.Driver = opts.driver
			}
			if flags.Changed("log-level") {
				cfg.Log.Level = opts.logLevel
			}
			if flags.Changed("pretty") {
				cfg.Log.Pretty = opts.pretty
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			a := &app{cfg: cfg, logger: logging.New(cfg.Log.Level, cfg.Log.Pretty)}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey{}, a))
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "config file (default: ./config.yaml)")
	pf.StringVar(&opts.dsn, "dsn", "", "engine DSN (empty opens an in-memory DuckDB)")
	pf.StringVar(&opts.driver, "driver", "", "engine driver (duckdb|postgres)")
	pf.StringVar(&opts.logLevel, "log-level", "", "log level (debug|info|warn|error)")
	pf.BoolVar(&opts.pretty, "pretty", false, "human readable logs")

	root.AddCommand(newServeCmd(), newProbeCmd(), newSQLCmd())
	return root
}

func appFrom(cmd *cobra.Command) *app {
	return cmd.Context().Value(appKey{}).(*app)
}

func (a *app) openEngine(ctx context.Context) (*connpool.Provider, error) {
	db := a.cfg.Database
	return connpool.Open(ctx, connpool.Options{
		Driver:      db.Driver,
		DSN:         db.DSN,
		MaxConns:    db.MaxConnections,
		IdleTimeout: db.IdleTimeout.Std(),
		AbsTimeout:  db.AbsTimeout.Std(),
		Logger:      a.logger.With().Str("component", "connpool").Logger(),
	})
}

func tableOptions(t config.Table) duckgrid.TableOptions {
	return duckgrid.TableOptions{
		Name:     t.Name,
		Source:   t.Source,
		Columns:  t.Columns,
		Prefetch: t.PrefetchEnabled(),
	}
}

// openTables opens every configured table concurrently. A table whose probe
// fails is still returned so it can be reported as unavailable.
func (a *app) openTables(ctx context.Context, engine connpool.Connector) []*duckgrid.Table {
	start := time.Now()
	tables := make([]*duckgrid.Table, len(a.cfg.Tables))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(a.logger.WithContext(ctx))
	g.SetLimit(4)
	for i, tc := range a.cfg.Tables {
		i, tc := i, tc
		g.Go(func() error {
			t := duckgrid.OpenTable(gctx, engine, tableOptions(tc))
			mu.Lock()
			tables[i] = t
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	a.logger.Info().Int("tables", len(tables)).Dur("took", time.Since(start)).Msg("tables opened")
	return tables
}

// lookupTable opens a single table, configured or not
func (a *app) lookupTable(ctx context.Context, engine connpool.Connector, name string) (*duckgrid.Table, error) {
	tc, ok := a.cfg.Table(name)
	if !ok {
		tc = config.Table{Name: name}
	}
	t := duckgrid.OpenTable(a.logger.WithContext(ctx), engine, tableOptions(tc))
	if !t.Ready() {
		err := t.ProbeErr
		if err == nil {
			err = duckgrid.ErrTableNotReady
		}
		return nil, fmt.Errorf("table %s: %w", name, err)
	}
	return t, nil
}
