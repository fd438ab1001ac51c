package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gnemet/duckgrid"
	"github.com/gnemet/duckgrid/database/connpool"
	"github.com/gnemet/duckgrid/viewstate"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*httptest.Server, *connpool.Provider) {
	t.Helper()
	ctx := context.Background()

	p, err := connpool.Open(ctx, connpool.Options{Driver: connpool.DriverDuckDB, Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	sess, err := p.Connect(ctx)
	require.NoError(t, err)
	require.NoError(t, sess.Exec(ctx, `CREATE TABLE orders (id INTEGER, region VARCHAR, amount DOUBLE, order_date DATE)`))
	require.NoError(t, sess.Exec(ctx, `INSERT INTO orders VALUES
		(1, 'west', 10, DATE '2024-01-05'),
		(2, 'west', 15, DATE '2024-02-10'),
		(3, 'east', 7, DATE '2024-01-20'),
		(4, 'north', 3, DATE '2024-03-01')`))
	require.NoError(t, sess.Close())

	table := duckgrid.OpenTable(ctx, p, duckgrid.TableOptions{Name: "orders", Prefetch: true})
	require.True(t, table.Ready())
	broken := duckgrid.OpenTable(ctx, p, duckgrid.TableOptions{Name: "missing"})
	require.False(t, broken.Ready())

	states := viewstate.NewStore(p, "")
	require.NoError(t, states.Initialize(ctx))

	s := New(Config{
		Handlers: []*duckgrid.Handler{
			duckgrid.NewHandler(duckgrid.NewDatasource(p, table), 1),
			duckgrid.NewHandler(duckgrid.NewDatasource(p, broken), 1),
		},
		States: states,
		Logger: zerolog.Nop(),
	})
	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)
	return ts, p
}

func do(t *testing.T, method, url string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestRows_GroupLevel(t *testing.T) {
	ts, p := newTestServer(t)

	status, out := do(t, http.MethodPost, ts.URL+"/api/tables/orders/rows", map[string]interface{}{
		"startRow":     0,
		"endRow":       100,
		"rowGroupCols": []map[string]string{{"id": "region", "field": "region"}},
		"valueCols":    []map[string]string{{"id": "amount", "field": "amount", "aggFunc": "sum"}},
		"sortModel":    []map[string]string{{"colId": "region", "sort": "asc"}},
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, out["success"])
	assert.EqualValues(t, 3, out["rowCount"], "short page reports the last row")

	rows := out["rowData"].([]interface{})
	require.Len(t, rows, 3)
	first := rows[0].(map[string]interface{})
	assert.Equal(t, "east", first["region"])
	assert.EqualValues(t, 7, first["amount"])
	last := rows[2].(map[string]interface{})
	assert.Equal(t, "west", last["region"])
	assert.EqualValues(t, 25, last["amount"])

	st := p.Stats()
	assert.Equal(t, st.Opened, st.Closed)
}

func TestRows_DrillIntoGroupWithFilter(t *testing.T) {
	ts, _ := newTestServer(t)

	status, out := do(t, http.MethodPost, ts.URL+"/api/tables/orders/rows", map[string]interface{}{
		"startRow":     0,
		"endRow":       100,
		"rowGroupCols": []map[string]string{{"id": "region", "field": "region"}},
		"groupKeys":    []string{"west"},
		"filterModel": map[string]interface{}{
			"amount": map[string]interface{}{"filterType": "number", "type": "greaterThan", "filter": 12},
		},
	})
	require.Equal(t, http.StatusOK, status)
	rows := out["rowData"].([]interface{})
	require.Len(t, rows, 1)
	assert.EqualValues(t, 2, rows[0].(map[string]interface{})["id"])
}

func TestRows_Errors(t *testing.T) {
	ts, _ := newTestServer(t)

	tests := []struct {
		name   string
		path   string
		body   interface{}
		status int
	}{
		{"empty range", "/api/tables/orders/rows", map[string]int{"startRow": 10, "endRow": 10}, http.StatusBadRequest},
		{"too many group keys", "/api/tables/orders/rows", map[string]interface{}{"startRow": 0, "endRow": 10, "groupKeys": []string{"west"}}, http.StatusBadRequest},
		{"malformed body", "/api/tables/orders/rows", "{", http.StatusBadRequest},
		{"unknown group column", "/api/tables/orders/rows", map[string]interface{}{
			"startRow": 0, "endRow": 10, "rowGroupCols": []map[string]string{{"id": "nope"}},
		}, http.StatusBadRequest},
		{"unknown table", "/api/tables/nope/rows", map[string]int{"startRow": 0, "endRow": 10}, http.StatusNotFound},
		{"table not ready", "/api/tables/missing/rows", map[string]int{"startRow": 0, "endRow": 10}, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, out := do(t, http.MethodPost, ts.URL+tt.path, tt.body)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, false, out["success"])
			assert.NotEmpty(t, out["error"])
		})
	}
}

func TestCount(t *testing.T) {
	ts, _ := newTestServer(t)

	status, out := do(t, http.MethodPost, ts.URL+"/api/tables/orders/count", map[string]interface{}{
		"startRow": 0,
		"endRow":   1,
		"filterModel": map[string]interface{}{
			"region": map[string]interface{}{"filterType": "set", "values": []string{"west", "east"}},
		},
	})
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 3, out["count"])
}

func TestColumnsAndTables(t *testing.T) {
	ts, _ := newTestServer(t)

	status, out := do(t, http.MethodGet, ts.URL+"/api/tables/orders/columns", nil)
	require.Equal(t, http.StatusOK, status)
	cols := out["columns"].(map[string]interface{})
	assert.Equal(t, "VARCHAR", cols["region"])
	assert.Equal(t, "DOUBLE", cols["amount"])
	assert.Equal(t, "DATE", cols["order_date"])
	sets := out["setValues"].(map[string]interface{})
	assert.Equal(t, []interface{}{"east", "north", "west"}, sets["region"])

	status, out = do(t, http.MethodGet, ts.URL+"/api/tables/", nil)
	require.Equal(t, http.StatusOK, status)
	tables := out["tables"].([]interface{})
	require.Len(t, tables, 2)
	missing := tables[0].(map[string]interface{})
	assert.Equal(t, "missing", missing["name"])
	assert.Equal(t, false, missing["ready"])
	assert.NotEmpty(t, missing["error"])
}

func TestState_SaveAndFetch(t *testing.T) {
	ts, _ := newTestServer(t)

	status, out := do(t, http.MethodGet, ts.URL+"/api/tables/orders/state/manual", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Nil(t, out["state"])

	snap := `{"sort":{"sortModel":[{"colId":"amount","sort":"desc"}]},"rowGroupExpansion":{"expandedRowGroupIds":["west"]}}`
	status, _ = do(t, http.MethodPut, ts.URL+"/api/tables/orders/state/manual", snap)
	require.Equal(t, http.StatusOK, status)

	status, out = do(t, http.MethodGet, ts.URL+"/api/tables/orders/state/manual", nil)
	require.Equal(t, http.StatusOK, status)
	state := out["state"].(map[string]interface{})
	assert.Contains(t, state, "sort")
	assert.Contains(t, state, "rowGroupExpansion")

	status, _ = do(t, http.MethodPut, ts.URL+"/api/tables/orders/state/shared", snap)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = do(t, http.MethodPut, ts.URL+"/api/tables/orders/state/auto", `{"sort":{"sortModel":[{"colId":"a"}]}}`)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestState_RoundTripKeepsDocument(t *testing.T) {
	ts, _ := newTestServer(t)
	url := ts.URL + "/api/tables/orders/state/manual"

	doc := `{"version":"32.3.0",` +
		`"aggregation":{"aggregationModel":[{"colId":"amount","aggFunc":"avg"}]},` +
		`"columnPinning":{"leftColIds":["region"]},` +
		`"pivot":{"pivotMode":false,"pivotColIds":[]},` +
		`"sideBar":{"visible":true,"position":"right","openToolPanel":null},` +
		`"filter":{"filterModel":{"region":{"filterType":"multi","filterModels":[null,{"filterType":"set","values":["west"]}]}}},` +
		`"sort":{"sortModel":[{"colId":"amount","sort":"desc"}]},` +
		`"scroll":{"top":120,"left":0}}`

	status, _ := do(t, http.MethodPut, url, doc)
	require.Equal(t, http.StatusOK, status)

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Success bool            `json:"success"`
		State   json.RawMessage `json:"state"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.True(t, out.Success)
	assert.Equal(t, doc, string(out.State), "the saved document comes back unchanged")
}

func TestHealthCheck(t *testing.T) {
	ts, _ := newTestServer(t)
	status, out := do(t, http.MethodGet, ts.URL+"/hc", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", out["status"])
}
