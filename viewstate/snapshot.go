// Package viewstate persists named grid view snapshots per table and mode
// and pushes them back onto a grid.
package viewstate

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gnemet/duckgrid"
	"github.com/xeipuuv/gojsonschema"
)

var (
	// ErrNoState means nothing usable is stored for the key. Malformed
	// snapshots are reported the same way.
	ErrNoState = errors.New("no saved state")
	// ErrInvalidMode is returned for modes other than auto and manual
	ErrInvalidMode = errors.New("invalid view-state mode")
)

// Mode separates the automatically captured snapshot from the one the user saved explicitly
type Mode string

const (
	ModeAuto   Mode = "auto"
	ModeManual Mode = "manual"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeAuto, ModeManual:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

type FilterState struct {
	FilterModel duckgrid.FilterModel `json:"filterModel"`
}

type SortState struct {
	SortModel []duckgrid.SortModelItem `json:"sortModel"`
}

type RowGroupState struct {
	GroupColIDs []string `json:"groupColIds"`
}

type ColumnOrderState struct {
	OrderedColIDs []string `json:"orderedColIds"`
}

type ColumnVisibilityState struct {
	HiddenColIDs []string `json:"hiddenColIds"`
}

type ColumnSize struct {
	ColID string   `json:"colId"`
	Width *float64 `json:"width,omitempty"`
	Flex  *float64 `json:"flex,omitempty"`
}

type ColumnSizingState struct {
	ColumnSizingModel []ColumnSize `json:"columnSizingModel"`
}

type RowGroupExpansionState struct {
	ExpandedRowGroupIDs []string `json:"expandedRowGroupIds"`
}

// Snapshot is the grid state captured at save time. Every section is
// optional; a nil section leaves that part of the grid untouched on apply.
//
// The typed sections are the ones replayed onto a grid. A decoded snapshot
// also keeps its document, and serializes back to it unchanged, so sections
// and filter keys without a field here (aggregation, pinning, pivot, multi
// filters) survive a save and fetch.
type Snapshot struct {
	Version           string                  `json:"version,omitempty"`
	Filter            *FilterState            `json:"filter,omitempty"`
	Sort              *SortState              `json:"sort,omitempty"`
	RowGroup          *RowGroupState          `json:"rowGroup,omitempty"`
	ColumnOrder       *ColumnOrderState       `json:"columnOrder,omitempty"`
	ColumnVisibility  *ColumnVisibilityState  `json:"columnVisibility,omitempty"`
	ColumnSizing      *ColumnSizingState      `json:"columnSizing,omitempty"`
	RowGroupExpansion *RowGroupExpansionState `json:"rowGroupExpansion,omitempty"`

	raw json.RawMessage
}

type snapshotFields Snapshot

// MarshalJSON writes the decoded document when there is one, the typed
// sections otherwise
func (s Snapshot) MarshalJSON() ([]byte, error) {
	if s.raw != nil {
		return s.raw, nil
	}
	return json.Marshal(snapshotFields(s))
}

// Raw returns the document the snapshot was decoded from, or nil for a
// snapshot built in code
func (s *Snapshot) Raw() json.RawMessage {
	if s == nil {
		return nil
	}
	return s.raw
}

// ExpandedRowGroupIDs returns the group node ids that were open at save time
func (s *Snapshot) ExpandedRowGroupIDs() []string {
	if s == nil || s.RowGroupExpansion == nil {
		return nil
	}
	return s.RowGroupExpansion.ExpandedRowGroupIDs
}

//go:embed schema.json
var schemaJSON []byte

var (
	schemaOnce sync.Once
	schema     *gojsonschema.Schema
	schemaErr  error
)

// Schema returns the JSON schema snapshots are checked against
func Schema() []byte {
	return schemaJSON
}

func compiledSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
	})
	return schema, schemaErr
}

// Validate checks a serialized snapshot against the schema
func Validate(doc []byte) error {
	s, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("view-state schema: %w", err)
	}
	result, err := s.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("unreadable snapshot: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("invalid snapshot: %s", strings.Join(msgs, "; "))
	}
	return nil
}

// Decode validates and parses a serialized snapshot
func Decode(doc []byte) (*Snapshot, error) {
	if err := Validate(doc); err != nil {
		return nil, err
	}
	var fields snapshotFields
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("invalid snapshot: %w", err)
	}
	snap := Snapshot(fields)
	snap.raw = append(json.RawMessage(nil), bytes.TrimSpace(doc)...)
	return &snap, nil
}
