package viewstate

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gnemet/duckgrid"
	"github.com/gnemet/duckgrid/database/connpool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, *connpool.Provider, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	p := connpool.New(db, connpool.Options{Driver: connpool.DriverDuckDB, AbsTimeout: time.Minute, Logger: zerolog.Nop()})
	t.Cleanup(func() {
		mock.ExpectClose()
		_ = p.Close()
	})
	return NewStore(p, ""), p, mock
}

func newDuckStore(t *testing.T) *Store {
	t.Helper()
	p, err := connpool.Open(context.Background(), connpool.Options{Driver: connpool.DriverDuckDB, Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	s := NewStore(p, "")
	require.NoError(t, s.Initialize(context.Background()))
	return s
}

func TestInitialize(t *testing.T) {
	s, p, mock := newMockStore(t)
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "grid_states"`).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.Initialize(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, p.Stats().Opened, p.Stats().Closed)
}

func TestSave_Upserts(t *testing.T) {
	s, p, mock := newMockStore(t)
	mock.ExpectExec(`INSERT INTO "grid_states" .* ON CONFLICT \(table_name, mode\) DO UPDATE`).
		WithArgs("orders", "manual", `{"sort":{"sortModel":[{"colId":"amount","sort":"desc"}]}}`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	snap := &Snapshot{Sort: &SortState{SortModel: []duckgrid.SortModelItem{{ColID: "amount", Sort: "desc"}}}}
	require.NoError(t, s.Save(context.Background(), "orders", ModeManual, snap))
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, p.Stats().Opened, p.Stats().Closed)
}

func TestSave_RejectsUnknownMode(t *testing.T) {
	s, _, mock := newMockStore(t)
	err := s.Save(context.Background(), "orders", Mode("shared"), &Snapshot{})
	assert.ErrorIs(t, err, ErrInvalidMode)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFetch(t *testing.T) {
	tests := []struct {
		name    string
		rows    *sqlmock.Rows
		wantErr error
		check   func(t *testing.T, snap *Snapshot)
	}{
		{
			name: "stored snapshot",
			rows: sqlmock.NewRows([]string{"state"}).
				AddRow(`{"filter":{"filterModel":{"region":{"filterType":"text","type":"equals","filter":"west"}}},"rowGroupExpansion":{"expandedRowGroupIds":["west"]}}`),
			check: func(t *testing.T, snap *Snapshot) {
				require.NotNil(t, snap.Filter)
				assert.Equal(t, "west", snap.Filter.FilterModel["region"].Filter)
				assert.Equal(t, []string{"west"}, snap.ExpandedRowGroupIDs())
			},
		},
		{
			name:    "nothing stored",
			rows:    sqlmock.NewRows([]string{"state"}),
			wantErr: ErrNoState,
		},
		{
			name:    "malformed json",
			rows:    sqlmock.NewRows([]string{"state"}).AddRow(`{"filter":`),
			wantErr: ErrNoState,
		},
		{
			name:    "schema violation",
			rows:    sqlmock.NewRows([]string{"state"}).AddRow(`{"sort":{"sortModel":[{"colId":"a","sort":"sideways"}]}}`),
			wantErr: ErrNoState,
		},
		{
			name:    "null state",
			rows:    sqlmock.NewRows([]string{"state"}).AddRow(`null`),
			wantErr: ErrNoState,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, p, mock := newMockStore(t)
			mock.ExpectQuery(`SELECT state FROM "grid_states"`).
				WithArgs("orders", "auto").
				WillReturnRows(tt.rows)

			snap, err := s.Fetch(context.Background(), "orders", ModeAuto)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, snap)
			} else {
				require.NoError(t, err)
				tt.check(t, snap)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
			assert.Equal(t, p.Stats().Opened, p.Stats().Closed)
		})
	}
}

func TestFetch_EngineErrorIsNotNoState(t *testing.T) {
	s, p, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT state FROM "grid_states"`).WillReturnError(errors.New("catalog error"))

	_, err := s.Fetch(context.Background(), "orders", ModeAuto)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoState)
	assert.Equal(t, p.Stats().Opened, p.Stats().Closed)
}

func TestStore_DuckDBRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newDuckStore(t)

	// initialize is idempotent
	require.NoError(t, s.Initialize(ctx))

	_, err := s.Fetch(ctx, "orders", ModeAuto)
	require.ErrorIs(t, err, ErrNoState)

	first := &Snapshot{
		Filter:   &FilterState{FilterModel: duckgrid.FilterModel{"region": {FilterType: "set", Values: []interface{}{"west", "east"}}}},
		RowGroup: &RowGroupState{GroupColIDs: []string{"region"}},
	}
	require.NoError(t, s.Save(ctx, "orders", ModeAuto, first))

	got, err := s.Fetch(ctx, "orders", ModeAuto)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"west", "east"}, got.Filter.FilterModel["region"].Values)
	assert.Equal(t, []string{"region"}, got.RowGroup.GroupColIDs)

	// modes are independent keys
	_, err = s.Fetch(ctx, "orders", ModeManual)
	assert.ErrorIs(t, err, ErrNoState)
}

func TestStore_DuckDBSaveOverwrites(t *testing.T) {
	ctx := context.Background()
	s := newDuckStore(t)

	require.NoError(t, s.Save(ctx, "orders", ModeManual, &Snapshot{Sort: &SortState{SortModel: []duckgrid.SortModelItem{{ColID: "a", Sort: "asc"}}}}))
	require.NoError(t, s.Save(ctx, "orders", ModeManual, &Snapshot{Sort: &SortState{SortModel: []duckgrid.SortModelItem{{ColID: "b", Sort: "desc"}}}}))

	got, err := s.Fetch(ctx, "orders", ModeManual)
	require.NoError(t, err)
	assert.Equal(t, []duckgrid.SortModelItem{{ColID: "b", Sort: "desc"}}, got.Sort.SortModel)

	sess, err := s.engine.Connect(ctx)
	require.NoError(t, err)
	defer sess.Close()
	rows, err := sess.Query(ctx, `SELECT count(*) AS n FROM grid_states WHERE table_name = 'orders' AND mode = 'manual'`)
	require.NoError(t, err)
	assert.EqualValues(t, 1, rows[0]["n"])
}

func TestStore_DuckDBKeepsUnmodelledSections(t *testing.T) {
	ctx := context.Background()
	s := newDuckStore(t)

	doc := `{"aggregation":{"aggregationModel":[{"colId":"amount","aggFunc":"avg"}]},` +
		`"columnPinning":{"leftColIds":["region"]},` +
		`"filter":{"filterModel":{"id":{"filterType":"number","type":"equals","filter":9007199254740993}}}}`
	snap, err := Decode([]byte(doc))
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, "orders", ModeManual, snap))

	got, err := s.Fetch(ctx, "orders", ModeManual)
	require.NoError(t, err)
	assert.Equal(t, doc, string(got.Raw()))
	assert.Equal(t, json.Number("9007199254740993"), got.Filter.FilterModel["id"].Filter)
}
