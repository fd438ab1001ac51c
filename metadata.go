package duckgrid

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gnemet/duckgrid/database/connpool"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// MaxSetValues caps the distinct values prefetched per column. Columns with
// more values than this are treated as high-cardinality and not prefetched.
const MaxSetValues = 1000

// NormalizeType maps a declared catalog type to its semantic type
func NormalizeType(declared string) SemanticType {
	d := strings.ToUpper(strings.TrimSpace(declared))
	if i := strings.IndexByte(d, '('); i >= 0 {
		d = strings.TrimSpace(d[:i])
	}
	switch d {
	case "TINYINT", "SMALLINT", "INTEGER", "INT", "INT2", "INT4", "INT8", "BIGINT", "HUGEINT",
		"UTINYINT", "USMALLINT", "UINTEGER", "UBIGINT", "UHUGEINT", "SERIAL", "BIGSERIAL":
		return TypeInteger
	case "DOUBLE", "DOUBLE PRECISION", "FLOAT", "FLOAT4", "FLOAT8", "REAL", "DECIMAL", "NUMERIC":
		return TypeDouble
	case "DATE":
		return TypeDate
	case "TIMESTAMP", "TIMESTAMP WITHOUT TIME ZONE", "DATETIME", "TIMESTAMP_S", "TIMESTAMP_MS", "TIMESTAMP_NS", "TIMESTAMP_US":
		return TypeTimestamp
	case "TIMESTAMP WITH TIME ZONE", "TIMESTAMPTZ":
		return TypeTimestampTZ
	default:
		return TypeVarchar
	}
}

// ProbeColumns reads column names and types for a table from information_schema.
// A "schema.table" name restricts the lookup to that schema.
func ProbeColumns(ctx context.Context, engine connpool.Connector, table string) (ColumnMetadata, error) {
	query := `SELECT column_name, data_type
		FROM information_schema.columns
		WHERE table_name = $1`
	args := []interface{}{table}
	if schema, name, ok := strings.Cut(table, "."); ok {
		query += " AND table_schema = $2"
		args = []interface{}{name, schema}
	}
	query += " ORDER BY ordinal_position"

	sess, err := engine.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect for catalog probe: %w", err)
	}
	defer sess.Close()

	rows, err := sess.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query column metadata: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("table %s not found", table)
	}

	cols := make(ColumnMetadata, len(rows))
	for _, row := range rows {
		name := stringOf(row["column_name"])
		cols[name] = NormalizeType(stringOf(row["data_type"]))
	}
	return cols, nil
}

// PrefetchSetValues loads the distinct values of every VARCHAR and DATE-family
// column of source. Each column uses its own session. A failing column is
// logged and skipped; the others are still loaded and the failures are
// returned joined.
func PrefetchSetValues(ctx context.Context, engine connpool.Connector, source string, cols ColumnMetadata) (SetValues, error) {
	logger := zerolog.Ctx(ctx)
	sets := make(SetValues)
	var (
		mu   sync.Mutex
		errs []error
	)

	var g errgroup.Group
	g.SetLimit(4)

	for _, name := range cols.Names() {
		name := name
		t := cols[name]
		if t != TypeVarchar && !t.IsTemporal() {
			continue
		}
		g.Go(func() error {
			values, err := distinctValues(ctx, engine, source, name, t)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logger.Warn().Err(err).Str("column", name).Msg("set value prefetch failed")
				errs = append(errs, fmt.Errorf("prefetch %s: %w", name, err))
				return nil
			}
			if values != nil {
				sets[name] = values
			}
			return nil
		})
	}

	g.Wait()
	return sets, errors.Join(errs...)
}

// distinctValues returns nil when the column exceeds MaxSetValues
func distinctValues(ctx context.Context, engine connpool.Connector, source, col string, t SemanticType) ([]interface{}, error) {
	ident := quoteColumn(col)
	query := fmt.Sprintf("SELECT DISTINCT %s AS value FROM (%s) AS src ORDER BY value LIMIT %d",
		ident, source, MaxSetValues+1)

	sess, err := engine.Connect(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	rows, err := sess.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(rows) > MaxSetValues {
		return nil, nil
	}

	values := make([]interface{}, 0, len(rows))
	for _, row := range rows {
		v := normalizeValue(row["value"])
		if d, ok := v.(time.Time); ok && t.IsTemporal() {
			v = temporalText(t, d)
		}
		values = append(values, v)
	}
	return values, nil
}

// TableOptions describes a table exposed to grids
type TableOptions struct {
	Name     string
	Source   string            // SOURCE stage query; defaults to the whole table
	Columns  map[string]string // declared column types; probed when empty
	Prefetch bool
}

// Table is an opened grid table. A failed probe does not prevent opening:
// ProbeErr is kept so the application can show the table as unavailable.
type Table struct {
	Name      string
	Source    string
	Columns   ColumnMetadata
	SetValues SetValues
	ProbeErr  error
}

// Ready reports whether the table can serve row requests
func (t *Table) Ready() bool {
	return t.ProbeErr == nil && len(t.Columns) > 0
}

// OpenTable resolves column metadata and prefetches set values
func OpenTable(ctx context.Context, engine connpool.Connector, opts TableOptions) *Table {
	logger := zerolog.Ctx(ctx).With().Str("table", opts.Name).Logger()

	t := &Table{
		Name:      opts.Name,
		Source:    opts.Source,
		SetValues: SetValues{},
	}
	if t.Source == "" {
		t.Source = DefaultSource(opts.Name)
	}

	if len(opts.Columns) > 0 {
		t.Columns = make(ColumnMetadata, len(opts.Columns))
		for name, declared := range opts.Columns {
			t.Columns[name] = NormalizeType(declared)
		}
	} else {
		cols, err := ProbeColumns(ctx, engine, opts.Name)
		if err != nil {
			t.ProbeErr = fmt.Errorf("%w: %v", ErrTableNotReady, err)
			logger.Warn().Err(err).Msg("catalog probe failed")
			return t
		}
		t.Columns = cols
	}

	if opts.Prefetch {
		sets, err := PrefetchSetValues(ctx, engine, t.Source, t.Columns)
		if err != nil {
			logger.Warn().Err(err).Msg("set value prefetch incomplete")
		}
		t.SetValues = sets
	}

	logger.Info().Int("columns", len(t.Columns)).Int("set_columns", len(t.SetValues)).Msg("table opened")
	return t
}
