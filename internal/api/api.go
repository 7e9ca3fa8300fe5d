package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/joescharf/tasktrack/internal/journal"
	"github.com/joescharf/tasktrack/internal/session"
)

// Engine is the part of the session engine the API exposes.
type Engine interface {
	Visit(ctx context.Context, dir, consumer string) (*session.Snapshot, error)
	Activity(consumer string)
	Sessions(ctx context.Context) ([]session.Snapshot, error)
}

// Lister reads journal entries for reports.
type Lister interface {
	List(ctx context.Context, filter journal.ListFilter) ([]*journal.Entry, error)
}

// Server provides the local REST API handlers.
type Server struct {
	engine  Engine
	journal Lister
	version string
	started time.Time
	now     func() time.Time
}

// NewServer creates a new API server. The journal may be nil, in which case
// the report endpoint is unavailable.
func NewServer(e Engine, j Lister, version string) *Server {
	return &Server{
		engine:  e,
		journal: j,
		version: version,
		started: time.Now(),
		now:     time.Now,
	}
}

// VisitRequest is the body of POST /api/v1/visit.
type VisitRequest struct {
	Path     string `json:"path"`
	Consumer string `json:"consumer"`
}

// VisitResponse reports the session a visit landed in, if any.
type VisitResponse struct {
	Tracked bool              `json:"tracked"`
	Session *session.Snapshot `json:"session,omitempty"`
}

// ActivityRequest is the body of POST /api/v1/activity.
type ActivityRequest struct {
	Consumer string `json:"consumer"`
}

// Health is returned by GET /api/v1/health.
type Health struct {
	Status    string    `json:"status"`
	Version   string    `json:"version"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	Sessions  int       `json:"sessions"`
	Running   int       `json:"running"`
}

// ReportRow is one task in GET /api/v1/report.
type ReportRow struct {
	UUID        string `json:"uuid"`
	Description string `json:"description"`
	Project     string `json:"project,omitempty"`
	Seconds     int64  `json:"seconds"`
	Intervals   int    `json:"intervals"`
	Open        bool   `json:"open"`
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", s.health)
	mux.HandleFunc("GET /api/v1/sessions", s.listSessions)
	mux.HandleFunc("POST /api/v1/visit", s.visit)
	mux.HandleFunc("POST /api/v1/activity", s.activity)
	mux.HandleFunc("GET /api/v1/report", s.report)

	return logMiddleware(mux)
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("api request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func engineStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusUnprocessableEntity
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.engine.Sessions(r.Context())
	if err != nil {
		writeError(w, engineStatus(err), err.Error())
		return
	}
	h := Health{
		Status:    "ok",
		Version:   s.version,
		PID:       os.Getpid(),
		StartedAt: s.started,
		Sessions:  len(snaps),
	}
	for _, snap := range snaps {
		if snap.Running {
			h.Running++
		}
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.engine.Sessions(r.Context())
	if err != nil {
		writeError(w, engineStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snaps)
}

func (s *Server) visit(w http.ResponseWriter, r *http.Request) {
	var req VisitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	if !filepath.IsAbs(req.Path) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("path must be absolute: %s", req.Path))
		return
	}

	snap, err := s.engine.Visit(r.Context(), req.Path, req.Consumer)
	if err != nil {
		writeError(w, engineStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, VisitResponse{Tracked: snap != nil, Session: snap})
}

func (s *Server) activity(w http.ResponseWriter, r *http.Request) {
	var req ActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Consumer == "" {
		writeError(w, http.StatusBadRequest, "consumer is required")
		return
	}
	s.engine.Activity(req.Consumer)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) report(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusNotImplemented, "journal disabled")
		return
	}

	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		d, err := journal.ParseSince(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		since = s.now().Add(-d)
	}

	entries, err := s.journal.List(r.Context(), journal.ListFilter{Since: since, IncludeOpen: true})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, ReportRows(journal.Summarize(entries, since, s.now())))
}

// ReportRows converts journal totals to report rows.
func ReportRows(totals []journal.Total) []ReportRow {
	rows := make([]ReportRow, 0, len(totals))
	for _, t := range totals {
		rows = append(rows, ReportRow{
			UUID:        t.UUID,
			Description: t.Description,
			Project:     t.Project,
			Seconds:     int64(t.Duration / time.Second),
			Intervals:   t.Intervals,
			Open:        t.Open,
		})
	}
	return rows
}

// Listen opens the unix socket at path, replacing a stale socket file.
func Listen(path string) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create socket directory: %w", err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", path, err)
	}
	if err := os.Chmod(path, 0600); err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}
	return ln, nil
}

// Serve runs the API on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
