package duckgrid

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/gnemet/duckgrid/database/connpool"
	"github.com/gnemet/duckgrid/internal/metrics"
	"github.com/marcboeker/go-duckdb"
	"github.com/rs/zerolog"
)

// Datasource serves row requests for one table. It keeps no state between
// requests; every call leases its own session and releases it before returning.
type Datasource struct {
	engine connpool.Connector
	table  *Table
}

func NewDatasource(engine connpool.Connector, table *Table) *Datasource {
	return &Datasource{engine: engine, table: table}
}

// Table returns the table this datasource reads
func (d *Datasource) Table() *Table {
	return d.table
}

// GetRows assembles and runs the query for req. Failures come back as
// errors (a *QueryError for engine failures); it does not panic.
func (d *Datasource) GetRows(ctx context.Context, req RowRequest) (page *RowPage, err error) {
	logger := zerolog.Ctx(ctx).With().Str("table", d.table.Name).Logger()

	var sql string
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Str("sql", sql).Msg("row request panicked")
			page, err = nil, &QueryError{Table: d.table.Name, SQL: sql, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if !d.table.Ready() {
		return nil, d.notReady()
	}

	q, err := Assemble(d.table.Source, &req, d.table.Columns, d.table.SetValues)
	if err != nil {
		return nil, err
	}
	sql = q.SQL
	logger.Debug().Int("startRow", req.StartRow).Int("endRow", req.EndRow).Str("sql", sql).Msg("requesting rows")

	rows, err := d.run(ctx, "rows", sql)
	if err != nil {
		logger.Error().Err(err).Str("sql", sql).Msg("row query failed")
		return nil, err
	}

	page = &RowPage{Rows: rows, LastRow: -1}
	if len(rows) < req.PageSize() {
		page.LastRow = req.StartRow + len(rows)
	}
	metrics.RowsReturned.WithLabelValues(d.table.Name).Add(float64(len(rows)))
	return page, nil
}

// CountRows counts the rows available at the request's level: filtered leaf
// rows, or the number of groups above leaf level.
func (d *Datasource) CountRows(ctx context.Context, req RowRequest) (int64, error) {
	logger := zerolog.Ctx(ctx).With().Str("table", d.table.Name).Logger()

	if !d.table.Ready() {
		return 0, d.notReady()
	}

	// the window does not matter for counting
	req.StartRow, req.EndRow = 0, 1
	q, err := Assemble(d.table.Source, &req, d.table.Columns, d.table.SetValues)
	if err != nil {
		return 0, err
	}

	rows, err := d.run(ctx, "count", q.CountSQL)
	if err != nil {
		logger.Error().Err(err).Str("sql", q.CountSQL).Msg("count query failed")
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	n, ok := toInt64(rows[0]["row_count"])
	if !ok {
		return 0, &QueryError{Table: d.table.Name, SQL: q.CountSQL, Err: fmt.Errorf("unexpected count value %v", rows[0]["row_count"])}
	}
	return n, nil
}

func (d *Datasource) notReady() error {
	if d.table.ProbeErr != nil {
		return d.table.ProbeErr
	}
	return fmt.Errorf("%w: no columns", ErrTableNotReady)
}

func (d *Datasource) run(ctx context.Context, kind, sql string) ([]map[string]interface{}, error) {
	start := time.Now()
	defer func() {
		metrics.QueryDuration.WithLabelValues(d.table.Name, kind).Observe(time.Since(start).Seconds())
	}()

	sess, err := d.engine.Connect(ctx)
	if err != nil {
		metrics.QueryErrors.WithLabelValues(d.table.Name, kind).Inc()
		return nil, &QueryError{Table: d.table.Name, SQL: sql, Err: err}
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			zerolog.Ctx(ctx).Warn().Err(cerr).Msg("failed to close session")
		}
	}()

	rows, err := sess.Query(ctx, sql)
	if err != nil {
		metrics.QueryErrors.WithLabelValues(d.table.Name, kind).Inc()
		return nil, &QueryError{Table: d.table.Name, SQL: sql, Err: err}
	}

	for _, row := range rows {
		for k, v := range row {
			row[k] = normalizeValue(v)
		}
	}
	return rows, nil
}

// normalizeValue converts engine values into JSON-friendly ones
func normalizeValue(v interface{}) interface{} {
	switch n := v.(type) {
	case []byte:
		return string(n)
	case *big.Int:
		if n == nil {
			return nil
		}
		if n.IsInt64() {
			return n.Int64()
		}
		// encodes as a JSON number with every digit
		return json.Number(n.String())
	case duckdb.Decimal:
		if n.Value == nil {
			return nil
		}
		f, _ := new(big.Float).Quo(
			new(big.Float).SetInt(n.Value),
			new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n.Scale)), nil)),
		).Float64()
		return f
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return nil
		}
	case float32:
		if math.IsNaN(float64(n)) || math.IsInf(float64(n), 0) {
			return nil
		}
	}
	return v
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float64:
		return int64(n), true
	case *big.Int:
		if n != nil && n.IsInt64() {
			return n.Int64(), true
		}
	case string:
		var i int64
		if _, err := fmt.Sscanf(n, "%d", &i); err == nil {
			return i, true
		}
	}
	return 0, false
}
