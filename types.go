package duckgrid

import (
	"sort"
	"strings"
)

// SemanticType is the grid-facing type of a column
type SemanticType string

const (
	TypeVarchar SemanticType = "VARCHAR"
	TypeDate    SemanticType = "DATE"
	TypeDouble  SemanticType = "DOUBLE"
	TypeInteger SemanticType = "INTEGER"

	// TypeTimestamp and TypeTimestampTZ are DATE columns that carry a time of
	// day. They filter like DATE but keep full precision for drill keys and
	// set values.
	TypeTimestamp   SemanticType = "TIMESTAMP"
	TypeTimestampTZ SemanticType = "TIMESTAMPTZ"
)

// IsNumeric reports whether comparisons use number literals
func (t SemanticType) IsNumeric() bool {
	return t == TypeDouble || t == TypeInteger
}

// IsTemporal reports whether the column belongs to the DATE family
func (t SemanticType) IsTemporal() bool {
	return t == TypeDate || t == TypeTimestamp || t == TypeTimestampTZ
}

// ColumnMetadata maps column name to semantic type. It is fixed for the
// lifetime of a grid instance.
type ColumnMetadata map[string]SemanticType

// Names returns the column names in sorted order
func (m ColumnMetadata) Names() []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Has reports whether the column is known. An empty metadata set knows
// nothing and so rejects every name.
func (m ColumnMetadata) Has(name string) bool {
	_, ok := m[name]
	return ok
}

// SetValues holds the prefetched distinct values used by set filters
type SetValues map[string][]interface{}

// FilterSpec is one column's filter model as sent by the grid. Combined
// models carry Operator plus Conditions (or the older Condition1/2 pair).
// Op and Value are accepted as short aliases of Type and Filter.
type FilterSpec struct {
	FilterType string        `json:"filterType,omitempty"`
	Type       string        `json:"type,omitempty"`
	Filter     interface{}   `json:"filter,omitempty"`
	FilterTo   interface{}   `json:"filterTo,omitempty"`
	DateFrom   string        `json:"dateFrom,omitempty"`
	DateTo     string        `json:"dateTo,omitempty"`
	Values     []interface{} `json:"values"`
	Operator   string        `json:"operator,omitempty"`
	Conditions []FilterSpec  `json:"conditions,omitempty"`
	Condition1 *FilterSpec   `json:"condition1,omitempty"`
	Condition2 *FilterSpec   `json:"condition2,omitempty"`

	Op    string      `json:"op,omitempty"`
	Value interface{} `json:"value,omitempty"`
}

func (f FilterSpec) operator() string {
	if f.Type != "" {
		return f.Type
	}
	return f.Op
}

func (f FilterSpec) operand() interface{} {
	if f.Filter != nil {
		return f.Filter
	}
	return f.Value
}

func (f FilterSpec) conditions() []FilterSpec {
	if len(f.Conditions) > 0 {
		return f.Conditions
	}
	var out []FilterSpec
	if f.Condition1 != nil {
		out = append(out, *f.Condition1)
	}
	if f.Condition2 != nil {
		out = append(out, *f.Condition2)
	}
	return out
}

// FilterModel maps column name to its filter
type FilterModel map[string]FilterSpec

// SortModelItem is one sort key; Sort is "asc" or "desc"
type SortModelItem struct {
	ColID string `json:"colId"`
	Sort  string `json:"sort"`
}

// ColumnVO describes a grouping or value column
type ColumnVO struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
	Field       string `json:"field,omitempty"`
	AggFunc     string `json:"aggFunc,omitempty"`
}

// Column is the underlying column name
func (c ColumnVO) Column() string {
	if c.Field != "" {
		return c.Field
	}
	return c.ID
}

// AutoGroupColumnID is the id the grid uses for its generated group column
const AutoGroupColumnID = "ag-Grid-AutoColumn"

// RowRequest is one page request from the grid. Rows are the half-open
// range [StartRow, EndRow).
type RowRequest struct {
	StartRow     int             `json:"startRow" validate:"gte=0"`
	EndRow       int             `json:"endRow" validate:"gtfield=StartRow"`
	FilterModel  FilterModel     `json:"filterModel,omitempty"`
	SortModel    []SortModelItem `json:"sortModel,omitempty"`
	RowGroupCols []ColumnVO      `json:"rowGroupCols,omitempty" validate:"dive"`
	GroupKeys    []interface{}   `json:"groupKeys,omitempty"`
	ValueCols    []ColumnVO      `json:"valueCols,omitempty" validate:"dive"`
}

// IsGroupLevel is true while the drill path has not reached leaf rows
func (r *RowRequest) IsGroupLevel() bool {
	return len(r.GroupKeys) < len(r.RowGroupCols)
}

// GroupColumn is the grouping column at the current depth, or "" at leaf level
func (r *RowRequest) GroupColumn() string {
	if !r.IsGroupLevel() {
		return ""
	}
	return r.RowGroupCols[len(r.GroupKeys)].Column()
}

// PageSize is the number of rows requested
func (r *RowRequest) PageSize() int {
	return r.EndRow - r.StartRow
}

// RowPage is the answer to one RowRequest. LastRow is the total row count
// once the end of data is known, otherwise -1.
type RowPage struct {
	Rows    []map[string]interface{}
	LastRow int
}

func normalizeAgg(fn string) (string, bool) {
	switch f := strings.ToLower(strings.TrimSpace(fn)); f {
	case "":
		return "count", true
	case "sum", "avg", "min", "max", "count", "first", "last":
		return f, true
	default:
		return "", false
	}
}
