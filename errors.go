package duckgrid

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRange is returned for requests where endRow <= startRow or startRow < 0
	ErrInvalidRange = errors.New("invalid row range")
	// ErrInvalidDrillPath is returned when groupKeys outnumber rowGroupCols
	ErrInvalidDrillPath = errors.New("drill path deeper than grouping")
	// ErrUnknownColumn is returned when a grouping column is not part of the table
	ErrUnknownColumn = errors.New("unknown column")
	// ErrTableNotReady marks a table whose catalog probe failed at open
	ErrTableNotReady = errors.New("table not ready")
)

// QueryError wraps an engine failure together with the statement that caused it
type QueryError struct {
	Table string
	SQL   string
	Err   error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query on %s failed: %v", e.Table, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}
