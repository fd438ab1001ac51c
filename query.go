package duckgrid

import (
	"fmt"
	"strings"
)

// Stage names of the assembled statement
const (
	StageSource        = "SOURCE"
	StageFiltered      = "FILTERED"
	StageGroupFiltered = "GROUPFILTERED"
	StageQuery         = "QUERY"
)

// AssembledQuery is the staged statement for one request together with the
// fragments it was built from.
type AssembledQuery struct {
	Source    string
	Select    Fragment
	Where     Fragment
	DrillPath Fragment
	GroupBy   Fragment
	OrderBy   Fragment
	Limit     Fragment

	SQL      string // page of rows
	CountSQL string // number of rows at this level
}

// DefaultSource selects every column of the named table
func DefaultSource(table string) string {
	return "SELECT * FROM " + QuoteIdent(table)
}

// CheckRange validates the requested row window
func (r *RowRequest) CheckRange() error {
	if r.StartRow < 0 || r.EndRow <= r.StartRow {
		return fmt.Errorf("%w: [%d, %d)", ErrInvalidRange, r.StartRow, r.EndRow)
	}
	return nil
}

// CheckDrillPath rejects group keys beyond the grouping depth
func (r *RowRequest) CheckDrillPath() error {
	if len(r.GroupKeys) > len(r.RowGroupCols) {
		return fmt.Errorf("%w: %d group keys for %d group columns", ErrInvalidDrillPath, len(r.GroupKeys), len(r.RowGroupCols))
	}
	return nil
}

// Assemble builds all fragments and composes them into
// SOURCE → FILTERED → GROUPFILTERED → QUERY, then orders and pages QUERY.
func Assemble(source string, req *RowRequest, cols ColumnMetadata, sets SetValues) (*AssembledQuery, error) {
	if err := req.CheckRange(); err != nil {
		return nil, err
	}
	if err := req.CheckDrillPath(); err != nil {
		return nil, err
	}
	for i, gc := range req.RowGroupCols {
		if i > len(req.GroupKeys) {
			break
		}
		if !cols.Has(gc.Column()) {
			return nil, fmt.Errorf("%w: group column %q", ErrUnknownColumn, gc.Column())
		}
	}

	q := &AssembledQuery{
		Source:    strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(source), ";")),
		Select:    BuildSelect(req, cols),
		Where:     BuildWhere(req, cols, sets),
		DrillPath: BuildDrillPath(req, cols),
		GroupBy:   BuildGroupBy(req),
		OrderBy:   BuildOrderBy(req, cols),
		Limit:     BuildLimit(req),
	}

	stages := q.stages()
	q.SQL = stages + "\nSELECT * FROM " + StageQuery + "\n" + joinNonEmpty(q.OrderBy.SQL, q.Limit.SQL)
	q.CountSQL = stages + "\nSELECT count(*) AS row_count FROM " + StageQuery
	return q, nil
}

// Predicates is every predicate applied in the FILTERED stage
func (q *AssembledQuery) Predicates() []string {
	preds := make([]string, 0, len(q.Where.Terms)+len(q.DrillPath.Terms))
	preds = append(preds, q.Where.Terms...)
	preds = append(preds, q.DrillPath.Terms...)
	return preds
}

func (q *AssembledQuery) stages() string {
	var b strings.Builder

	fmt.Fprintf(&b, "WITH %s AS (\n    %s\n),\n", StageSource, q.Source)

	fmt.Fprintf(&b, "%s AS (\n    SELECT * FROM %s", StageFiltered, StageSource)
	if preds := q.Predicates(); len(preds) > 0 {
		b.WriteString("\n    WHERE " + strings.Join(preds, "\n      AND "))
	}
	b.WriteString("\n),\n")

	// passthrough, reserved for filtering on aggregated values
	fmt.Fprintf(&b, "%s AS (\n    SELECT * FROM %s\n),\n", StageGroupFiltered, StageFiltered)

	fmt.Fprintf(&b, "%s AS (\n    SELECT %s FROM %s", StageQuery, q.Select.SQL, StageGroupFiltered)
	if !q.GroupBy.Empty() {
		b.WriteString("\n    " + q.GroupBy.SQL)
	}
	b.WriteString("\n)")

	return b.String()
}

func joinNonEmpty(parts ...string) string {
	out := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n")
}
