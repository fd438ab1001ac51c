// Package server exposes grid tables and their saved views over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/gnemet/duckgrid"
	"github.com/gnemet/duckgrid/internal/logging"
	"github.com/gnemet/duckgrid/viewstate"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const maxStateBody = 1 << 20

type Config struct {
	Addr           string
	Handlers       []*duckgrid.Handler
	States         *viewstate.Store
	RequestTimeout time.Duration
	Logger         zerolog.Logger
}

type Server struct {
	addr     string
	handlers map[string]*duckgrid.Handler
	states   *viewstate.Store
	timeout  time.Duration
	logger   zerolog.Logger
}

func New(cfg Config) *Server {
	handlers := make(map[string]*duckgrid.Handler, len(cfg.Handlers))
	for _, h := range cfg.Handlers {
		handlers[h.Datasource.Table().Name] = h
	}
	return &Server{
		addr:     cfg.Addr,
		handlers: handlers,
		states:   cfg.States,
		timeout:  cfg.RequestTimeout,
		logger:   cfg.Logger,
	}
}

// Router builds the route tree
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestContext, middleware.Recoverer)
	if s.timeout > 0 {
		r.Use(middleware.Timeout(s.timeout))
	}

	r.Get("/hc", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "tables": len(s.handlers)})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/tables", func(r chi.Router) {
		r.Get("/", s.listTables)
		r.Route("/{table}", func(r chi.Router) {
			r.Use(s.tableContext)
			r.Post("/rows", func(w http.ResponseWriter, r *http.Request) {
				handlerFrom(r).ServeHTTP(w, r)
			})
			r.Post("/count", func(w http.ResponseWriter, r *http.Request) {
				handlerFrom(r).ServeCount(w, r)
			})
			r.Get("/columns", s.columns)
			r.Get("/state/{mode}", s.fetchState)
			r.Put("/state/{mode}", s.saveState)
		})
	})
	return r
}

// Serve listens until ctx is cancelled, then shuts down gracefully
func (s *Server) Serve(ctx context.Context) error {
	eg, egctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:    s.addr,
		Handler: s.Router(),
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg.Go(func() error {
		s.logger.Info().Str("addr", s.addr).Int("tables", len(s.handlers)).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Info().Msg("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

func (s *Server) requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, reqID := logging.WithRequest(r.Context(), s.logger)
		w.Header().Set("X-Request-ID", reqID)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r.WithContext(ctx))

		zerolog.Ctx(ctx).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Msg("request")
	})
}

type handlerKey struct{}

func (s *Server) tableContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "table")
		h, ok := s.handlers[name]
		if !ok {
			writeError(w, r, http.StatusNotFound, fmt.Errorf("unknown table %q", name))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), handlerKey{}, h)))
	})
}

func handlerFrom(r *http.Request) *duckgrid.Handler {
	return r.Context().Value(handlerKey{}).(*duckgrid.Handler)
}

type tableInfo struct {
	Name  string `json:"name"`
	Ready bool   `json:"ready"`
	Error string `json:"error,omitempty"`
}

func (s *Server) listTables(w http.ResponseWriter, r *http.Request) {
	out := make([]tableInfo, 0, len(s.handlers))
	for _, h := range s.handlers {
		out = append(out, describe(h.Datasource.Table()))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "tables": out})
}

func describe(t *duckgrid.Table) tableInfo {
	info := tableInfo{Name: t.Name, Ready: t.Ready()}
	if t.ProbeErr != nil {
		info.Error = t.ProbeErr.Error()
	}
	return info
}

func (s *Server) columns(w http.ResponseWriter, r *http.Request) {
	t := handlerFrom(r).Datasource.Table()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"table":     describe(t),
		"columns":   t.Columns,
		"setValues": t.SetValues,
	})
}

func (s *Server) fetchState(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	mode, err := viewstate.ParseMode(chi.URLParam(r, "mode"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	snap, err := s.states.Fetch(r.Context(), table, mode)
	switch {
	case errors.Is(err, viewstate.ErrNoState):
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "state": nil})
	case err != nil:
		zerolog.Ctx(r.Context()).Error().Err(err).Str("table", table).Msg("view-state fetch failed")
		writeError(w, r, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "state": snap})
	}
}

func (s *Server) saveState(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	mode, err := viewstate.ParseMode(chi.URLParam(r, "mode"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxStateBody))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	snap, err := viewstate.Decode(body)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	if err := s.states.Save(r.Context(), table, mode, snap); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("table", table).Msg("view-state save failed")
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   err.Error(),
		"reqId":   logging.RequestID(r.Context()),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
