package viewstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gnemet/duckgrid"
	"github.com/gnemet/duckgrid/database/connpool"
	"github.com/gnemet/duckgrid/internal/metrics"
	"github.com/rs/zerolog"
)

// DefaultTable is the backing table used when none is configured
const DefaultTable = "grid_states"

// Store keeps one snapshot per (table name, mode) in the engine itself
type Store struct {
	engine connpool.Connector
	table  string
}

func NewStore(engine connpool.Connector, table string) *Store {
	if table == "" {
		table = DefaultTable
	}
	return &Store{engine: engine, table: table}
}

// Initialize creates the backing table if it does not exist. It is safe to
// call on every startup.
func (s *Store) Initialize(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		table_name VARCHAR NOT NULL,
		mode VARCHAR NOT NULL,
		state VARCHAR NOT NULL,
		saved_at TIMESTAMP NOT NULL,
		PRIMARY KEY (table_name, mode)
	)`, duckgrid.QuoteIdent(s.table))

	err := s.exec(ctx, query)
	record("init", err)
	if err != nil {
		return fmt.Errorf("failed to initialize view-state table %s: %w", s.table, err)
	}
	return nil
}

// Save serializes snap and overwrites whatever was stored for (table, mode)
func (s *Store) Save(ctx context.Context, table string, mode Mode, snap *Snapshot) error {
	if _, err := ParseMode(string(mode)); err != nil {
		return err
	}
	if snap == nil {
		snap = &Snapshot{}
	}
	doc, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to serialize snapshot: %w", err)
	}

	query := fmt.Sprintf(`INSERT INTO %s (table_name, mode, state, saved_at)
		VALUES ($1, $2, $3, current_timestamp)
		ON CONFLICT (table_name, mode) DO UPDATE
		SET state = excluded.state, saved_at = excluded.saved_at`, duckgrid.QuoteIdent(s.table))

	err = s.exec(ctx, query, table, string(mode), string(doc))
	record("save", err)
	if err != nil {
		return fmt.Errorf("failed to save %s state of %s: %w", mode, table, err)
	}

	zerolog.Ctx(ctx).Debug().Str("table", table).Str("mode", string(mode)).Int("bytes", len(doc)).Msg("view state saved")
	return nil
}

// Fetch returns the most recent snapshot for (table, mode). A missing or
// malformed snapshot yields ErrNoState; engine failures are returned as is.
func (s *Store) Fetch(ctx context.Context, table string, mode Mode) (*Snapshot, error) {
	if _, err := ParseMode(string(mode)); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT state FROM %s
		WHERE table_name = $1 AND mode = $2
		ORDER BY saved_at DESC
		LIMIT 1`, duckgrid.QuoteIdent(s.table))

	sess, err := s.engine.Connect(ctx)
	if err != nil {
		record("fetch", err)
		return nil, fmt.Errorf("failed to connect for view-state fetch: %w", err)
	}
	defer sess.Close()

	rows, err := sess.Query(ctx, query, table, string(mode))
	if err != nil {
		record("fetch", err)
		return nil, fmt.Errorf("failed to fetch %s state of %s: %w", mode, table, err)
	}
	if len(rows) == 0 {
		record("fetch", ErrNoState)
		return nil, ErrNoState
	}

	doc, _ := rows[0]["state"].(string)
	snap, err := Decode([]byte(doc))
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("table", table).Str("mode", string(mode)).Msg("ignoring stored view state")
		record("fetch", ErrNoState)
		return nil, fmt.Errorf("%w: %v", ErrNoState, err)
	}
	record("fetch", nil)
	return snap, nil
}

func (s *Store) exec(ctx context.Context, query string, args ...interface{}) error {
	sess, err := s.engine.Connect(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()
	return sess.Exec(ctx, query, args...)
}

func record(op string, err error) {
	outcome := "ok"
	switch {
	case errors.Is(err, ErrNoState):
		outcome = "empty"
	case err != nil:
		outcome = "error"
	}
	metrics.StateOps.WithLabelValues(op, outcome).Inc()
}
