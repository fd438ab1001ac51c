package viewstate

import "github.com/gnemet/duckgrid"

// ColumnLayout is the column part of a snapshot
type ColumnLayout struct {
	Order  []string
	Hidden []string
	Sizing []ColumnSize
}

// Grid is the live grid a snapshot is pushed onto
type Grid interface {
	SetFilterModel(duckgrid.FilterModel)
	ApplySortModel([]duckgrid.SortModelItem)
	SetRowGroupColumns([]string)
	ApplyColumnLayout(ColumnLayout)
}

// Apply pushes the filter, sort, grouping and column sections of snap onto
// grid. Row group expansion is not applied here; resolve it with
// ResolveExpansion once the grid has loaded its group rows.
func Apply(snap *Snapshot, grid Grid) {
	if snap == nil || grid == nil {
		return
	}
	if snap.Filter != nil {
		grid.SetFilterModel(snap.Filter.FilterModel)
	}
	if snap.Sort != nil {
		grid.ApplySortModel(snap.Sort.SortModel)
	}
	if snap.RowGroup != nil {
		grid.SetRowGroupColumns(snap.RowGroup.GroupColIDs)
	}

	if snap.ColumnOrder == nil && snap.ColumnVisibility == nil && snap.ColumnSizing == nil {
		return
	}
	var layout ColumnLayout
	if snap.ColumnOrder != nil {
		layout.Order = snap.ColumnOrder.OrderedColIDs
	}
	if snap.ColumnVisibility != nil {
		layout.Hidden = snap.ColumnVisibility.HiddenColIDs
	}
	if snap.ColumnSizing != nil {
		layout.Sizing = snap.ColumnSizing.ColumnSizingModel
	}
	grid.ApplyColumnLayout(layout)
}

// Expansion is the outcome of matching persisted group node ids against the
// grid's live ones
type Expansion struct {
	Open    []string // ids to expand, in persisted order
	Missing []string // ids no longer present; those groups stay collapsed
}

// ResolveExpansion matches persisted expanded group ids against the ids the
// grid currently has. Group ids are not stable across dataset changes, so an
// id without a live match is reported rather than treated as an error.
func ResolveExpansion(persisted, live []string) Expansion {
	present := make(map[string]bool, len(live))
	for _, id := range live {
		present[id] = true
	}

	var exp Expansion
	seen := make(map[string]bool, len(persisted))
	for _, id := range persisted {
		if seen[id] {
			continue
		}
		seen[id] = true
		if present[id] {
			exp.Open = append(exp.Open, id)
		} else {
			exp.Missing = append(exp.Missing, id)
		}
	}
	return exp
}

// RequestGrid applies a snapshot to a row request instead of a live grid,
// so a saved view can be replayed server side. The column layout has no
// effect on the query and is only kept.
type RequestGrid struct {
	Request *duckgrid.RowRequest
	Layout  ColumnLayout
}

func NewRequestGrid(req *duckgrid.RowRequest) *RequestGrid {
	return &RequestGrid{Request: req}
}

func (g *RequestGrid) SetFilterModel(m duckgrid.FilterModel) {
	g.Request.FilterModel = m
}

func (g *RequestGrid) ApplySortModel(items []duckgrid.SortModelItem) {
	g.Request.SortModel = items
}

// SetRowGroupColumns replaces the grouping and resets the drill path to the top level
func (g *RequestGrid) SetRowGroupColumns(ids []string) {
	cols := make([]duckgrid.ColumnVO, 0, len(ids))
	for _, id := range ids {
		cols = append(cols, duckgrid.ColumnVO{ID: id, Field: id})
	}
	g.Request.RowGroupCols = cols
	g.Request.GroupKeys = nil
}

func (g *RequestGrid) ApplyColumnLayout(l ColumnLayout) {
	g.Layout = l
}
