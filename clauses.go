package duckgrid

import (
	"fmt"
	"strings"
)

// FragmentKind names the clause a Fragment belongs to
type FragmentKind string

const (
	SelectKind    FragmentKind = "select"
	WhereKind     FragmentKind = "where"
	DrillPathKind FragmentKind = "drillPath"
	GroupByKind   FragmentKind = "groupBy"
	OrderByKind   FragmentKind = "orderBy"
	LimitKind     FragmentKind = "limit"
)

// Fragment is one SQL clause. Terms keeps the individual items (projection
// entries, predicates, sort keys) for logging and for recombination.
type Fragment struct {
	Kind  FragmentKind
	SQL   string
	Terms []string
}

// Empty reports whether the clause contributes nothing
func (f Fragment) Empty() bool {
	return f.SQL == ""
}

func (f Fragment) String() string {
	return string(f.Kind) + ": " + f.SQL
}

type aggColumn struct {
	name string
	fn   string
}

// aggregates lists the value columns projected at a group level: known
// columns with a supported function, never the group column, never twice.
func aggregates(req *RowRequest, cols ColumnMetadata) []aggColumn {
	group := req.GroupColumn()
	seen := map[string]bool{group: true}

	var out []aggColumn
	for _, vc := range req.ValueCols {
		name := vc.Column()
		if name == "" || seen[name] || !cols.Has(name) {
			continue
		}
		fn, ok := normalizeAgg(vc.AggFunc)
		if !ok {
			continue
		}
		seen[name] = true
		out = append(out, aggColumn{name: name, fn: fn})
	}
	return out
}

// BuildSelect projects the group column and its aggregates above leaf
// level, and every column unmodified at leaf level.
func BuildSelect(req *RowRequest, cols ColumnMetadata) Fragment {
	if !req.IsGroupLevel() {
		return Fragment{Kind: SelectKind, SQL: "*", Terms: []string{"*"}}
	}

	terms := []string{quoteColumn(req.GroupColumn())}
	for _, agg := range aggregates(req, cols) {
		ident := quoteColumn(agg.name)
		terms = append(terms, fmt.Sprintf("%s(%s) AS %s", agg.fn, ident, ident))
	}
	return Fragment{Kind: SelectKind, SQL: strings.Join(terms, ", "), Terms: terms}
}

// BuildGroupBy groups by the column at the current depth, or not at all at leaf level
func BuildGroupBy(req *RowRequest) Fragment {
	if !req.IsGroupLevel() {
		return Fragment{Kind: GroupByKind}
	}
	ident := quoteColumn(req.GroupColumn())
	return Fragment{Kind: GroupByKind, SQL: "GROUP BY " + ident, Terms: []string{ident}}
}

// BuildDrillPath restricts rows to the group opened by the request's
// group keys. The predicates are applied in the FILTERED stage next to the
// user filters; SQL holds them joined with AND, without a WHERE keyword.
func BuildDrillPath(req *RowRequest, cols ColumnMetadata) Fragment {
	frag := Fragment{Kind: DrillPathKind}
	for i, key := range req.GroupKeys {
		if i >= len(req.RowGroupCols) {
			break
		}
		name := req.RowGroupCols[i].Column()
		ident := quoteColumn(name)
		if key == nil {
			frag.Terms = append(frag.Terms, ident+" IS NULL")
			continue
		}
		t, ok := cols[name]
		if !ok {
			t = TypeVarchar
		}
		lit, ok := literalFor(t, key)
		if !ok {
			lit = QuoteString(stringOf(key))
		}
		frag.Terms = append(frag.Terms, ident+" = "+lit)
	}
	frag.SQL = strings.Join(frag.Terms, " AND ")
	return frag
}

// BuildOrderBy keeps the sort model's order exactly. Entries naming columns
// that cannot be resolved at the current level are dropped.
func BuildOrderBy(req *RowRequest, cols ColumnMetadata) Fragment {
	frag := Fragment{Kind: OrderByKind}

	var allowed map[string]bool
	if req.IsGroupLevel() {
		allowed = map[string]bool{req.GroupColumn(): true}
		for _, agg := range aggregates(req, cols) {
			allowed[agg.name] = true
		}
	}

	for _, item := range req.SortModel {
		col := item.ColID
		if strings.HasPrefix(col, AutoGroupColumnID) {
			if !req.IsGroupLevel() {
				continue
			}
			col = req.GroupColumn()
		}
		if allowed != nil && !allowed[col] {
			continue
		}
		if allowed == nil && !cols.Has(col) {
			continue
		}

		dir := "ASC"
		if strings.EqualFold(item.Sort, "desc") {
			dir = "DESC"
		}
		frag.Terms = append(frag.Terms, quoteColumn(col)+" "+dir)
	}

	if len(frag.Terms) > 0 {
		frag.SQL = "ORDER BY " + strings.Join(frag.Terms, ", ")
	}
	return frag
}

// BuildLimit maps [startRow, endRow) to LIMIT/OFFSET. Short pages near the
// end of data are not special-cased.
func BuildLimit(req *RowRequest) Fragment {
	return Fragment{
		Kind: LimitKind,
		SQL:  fmt.Sprintf("LIMIT %d OFFSET %d", req.EndRow-req.StartRow, req.StartRow),
	}
}
