package duckgrid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gnemet/duckgrid/internal/logging"
	"github.com/gnemet/duckgrid/internal/metrics"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// maxRequestBody bounds the JSON body of a row request
const maxRequestBody = 1 << 20

// RowsResponse is the JSON answer to a row request
type RowsResponse struct {
	Success  bool                     `json:"success"`
	RowData  []map[string]interface{} `json:"rowData"`
	RowCount int                      `json:"rowCount"`
	Error    string                   `json:"error,omitempty"`
	ReqID    string                   `json:"reqId,omitempty"`
}

// CountResponse is the JSON answer to a count request
type CountResponse struct {
	Success bool   `json:"success"`
	Count   int64  `json:"count"`
	Error   string `json:"error,omitempty"`
	ReqID   string `json:"reqId,omitempty"`
}

// Handler exposes a Datasource over HTTP. It admits at most maxInflight
// page requests at a time; further requests wait for a slot.
type Handler struct {
	Datasource *Datasource
	sem        *semaphore.Weighted
	validate   *validator.Validate
}

func NewHandler(ds *Datasource, maxInflight int) *Handler {
	if maxInflight <= 0 {
		maxInflight = 1
	}
	return &Handler{
		Datasource: ds,
		sem:        semaphore.NewWeighted(int64(maxInflight)),
		validate:   NewValidator(),
	}
}

// drillDepthTag is the validation tag reported for a drill path that is
// deeper than the grouping
const drillDepthTag = "maxdepth"

// NewValidator returns a validator that also checks the drill path depth
func NewValidator() *validator.Validate {
	v := validator.New()
	v.RegisterStructValidation(func(sl validator.StructLevel) {
		req := sl.Current().Interface().(RowRequest)
		if len(req.GroupKeys) > len(req.RowGroupCols) {
			sl.ReportError(req.GroupKeys, "GroupKeys", "groupKeys", drillDepthTag, fmt.Sprint(len(req.RowGroupCols)))
		}
	}, RowRequest{})
	return v
}

// ValidateRequest checks req and maps failures onto ErrInvalidDrillPath or
// ErrInvalidRange. With window false the row range is not checked.
func ValidateRequest(v *validator.Validate, req RowRequest, window bool) error {
	var err error
	if window {
		err = v.Struct(req)
	} else {
		err = v.StructExcept(req, "StartRow", "EndRow")
	}
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			if fe.Tag() == drillDepthTag {
				return fmt.Errorf("%w: at most %s group keys allowed", ErrInvalidDrillPath, fe.Param())
			}
		}
	}
	return fmt.Errorf("%w: %v", ErrInvalidRange, err)
}

// DecodeRequest reads a JSON row request. Numbers stay json.Number so that
// group keys and operands keep every digit.
func DecodeRequest(r io.Reader) (RowRequest, error) {
	var req RowRequest
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		return req, fmt.Errorf("malformed row request: %w", err)
	}
	return req, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := logging.RequestID(ctx)

	req, err := h.ParseRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, RowsResponse{Error: err.Error(), ReqID: reqID, RowData: []map[string]interface{}{}})
		return
	}

	release, err := h.acquire(ctx)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, RowsResponse{Error: err.Error(), ReqID: reqID, RowData: []map[string]interface{}{}})
		return
	}
	defer release()

	page, err := h.Datasource.GetRows(ctx, req)
	if err != nil {
		writeJSON(w, statusFor(err), RowsResponse{Error: publicError(err), ReqID: reqID, RowData: []map[string]interface{}{}})
		return
	}

	writeJSON(w, http.StatusOK, RowsResponse{
		Success:  true,
		RowData:  page.Rows,
		RowCount: page.LastRow,
		ReqID:    reqID,
	})
}

// ServeCount answers a count request for the same body shape as ServeHTTP.
// The row window is ignored. Counts do not take a page slot.
func (h *Handler) ServeCount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := logging.RequestID(ctx)

	req, err := h.decode(r)
	if err == nil {
		err = ValidateRequest(h.validate, req, false)
	}
	if err != nil {
		writeJSON(w, http.StatusBadRequest, CountResponse{Error: err.Error(), ReqID: reqID})
		return
	}

	n, err := h.Datasource.CountRows(ctx, req)
	if err != nil {
		writeJSON(w, statusFor(err), CountResponse{Error: publicError(err), ReqID: reqID})
		return
	}
	writeJSON(w, http.StatusOK, CountResponse{Success: true, Count: n, ReqID: reqID})
}

// ParseRequest decodes and validates a row request body
func (h *Handler) ParseRequest(r *http.Request) (RowRequest, error) {
	req, err := h.decode(r)
	if err != nil {
		return req, err
	}
	if err := ValidateRequest(h.validate, req, true); err != nil {
		return req, err
	}
	return req, nil
}

func (h *Handler) decode(r *http.Request) (RowRequest, error) {
	if r.Body == nil {
		return RowRequest{}, errors.New("empty request body")
	}
	return DecodeRequest(io.LimitReader(r.Body, maxRequestBody))
}

func (h *Handler) acquire(ctx context.Context) (func(), error) {
	table := h.Datasource.Table().Name
	if err := h.sem.Acquire(ctx, 1); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("table", table).Msg("gave up waiting for a page slot")
		return nil, fmt.Errorf("request abandoned while queued: %w", err)
	}
	metrics.InflightPages.WithLabelValues(table).Inc()
	return func() {
		metrics.InflightPages.WithLabelValues(table).Dec()
		h.sem.Release(1)
	}, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidRange), errors.Is(err, ErrInvalidDrillPath), errors.Is(err, ErrUnknownColumn):
		return http.StatusBadRequest
	case errors.Is(err, ErrTableNotReady):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// publicError hides the SQL of engine failures from clients; it is logged instead
func publicError(err error) string {
	var qe *QueryError
	if errors.As(err, &qe) {
		return "query failed: " + qe.Err.Error()
	}
	return err.Error()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
