package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/tasktrack/internal/journal"
	"github.com/joescharf/tasktrack/internal/session"
	"github.com/joescharf/tasktrack/internal/taskwarrior"
)

type fakeEngine struct {
	mu         sync.Mutex
	snaps      []session.Snapshot
	visits     []VisitRequest
	activities []string
	visitErr   error
}

func (f *fakeEngine) Visit(_ context.Context, dir, consumer string) (*session.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.visits = append(f.visits, VisitRequest{Path: dir, Consumer: consumer})
	if f.visitErr != nil {
		return nil, f.visitErr
	}
	for i := range f.snaps {
		if f.snaps[i].Path == dir {
			snap := f.snaps[i]
			return &snap, nil
		}
	}
	return nil, nil
}

func (f *fakeEngine) Activity(consumer string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activities = append(f.activities, consumer)
}

func (f *fakeEngine) Sessions(context.Context) ([]session.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]session.Snapshot(nil), f.snaps...), nil
}

type fakeLister struct {
	entries []*journal.Entry
	filter  journal.ListFilter
}

func (f *fakeLister) List(_ context.Context, filter journal.ListFilter) ([]*journal.Entry, error) {
	f.filter = filter
	return f.entries, nil
}

func testSnapshot() session.Snapshot {
	return session.Snapshot{
		Path:    "/w/a",
		State:   session.StateActive,
		Running: true,
		Current: true,
		Task: &taskwarrior.Task{
			ID:          3,
			UUID:        "11111111-1111-1111-1111-111111111111",
			Description: "fix bug",
			Status:      taskwarrior.StatusPending,
		},
		Consumers: []string{"shell-1"},
	}
}

func setupTestServer(t *testing.T) (*Server, *fakeEngine, *fakeLister) {
	t.Helper()
	e := &fakeEngine{snaps: []session.Snapshot{testSnapshot()}}
	l := &fakeLister{}
	srv := NewServer(e, l, "test")
	return srv, e, l
}

func TestHealth(t *testing.T) {
	srv, _, _ := setupTestServer(t)

	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var h Health
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &h))
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, "test", h.Version)
	assert.Equal(t, 1, h.Sessions)
	assert.Equal(t, 1, h.Running)
	assert.Equal(t, os.Getpid(), h.PID)
}

func TestListSessions(t *testing.T) {
	srv, _, _ := setupTestServer(t)

	req := httptest.NewRequest("GET", "/api/v1/sessions", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var snaps []session.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snaps))
	require.Len(t, snaps, 1)
	assert.Equal(t, "/w/a", snaps[0].Path)
	assert.Equal(t, "fix bug", snaps[0].Task.Description)
}

func TestVisit(t *testing.T) {
	srv, e, _ := setupTestServer(t)
	router := srv.Router()

	body := `{"path":"/w/a","consumer":"shell-1"}`
	req := httptest.NewRequest("POST", "/api/v1/visit", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp VisitResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Tracked)
	require.NotNil(t, resp.Session)
	assert.Equal(t, session.StateActive, resp.Session.State)
	assert.Equal(t, []VisitRequest{{Path: "/w/a", Consumer: "shell-1"}}, e.visits)

	// Untracked directory
	req = httptest.NewRequest("POST", "/api/v1/visit", bytes.NewBufferString(`{"path":"/tmp"}`))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	resp = VisitResponse{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Tracked)
	assert.Nil(t, resp.Session)
}

func TestVisit_BadRequests(t *testing.T) {
	srv, e, _ := setupTestServer(t)
	router := srv.Router()

	for _, body := range []string{`not json`, `{}`, `{"path":"relative/dir"}`} {
		req := httptest.NewRequest("POST", "/api/v1/visit", bytes.NewBufferString(body))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
	assert.Empty(t, e.visits)
}

func TestVisit_EngineErrors(t *testing.T) {
	srv, e, _ := setupTestServer(t)
	router := srv.Router()

	tests := []struct {
		err  error
		code int
	}{
		{errors.New("task not found for identifier x"), http.StatusUnprocessableEntity},
		{session.ErrStopped, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		e.visitErr = tt.err
		req := httptest.NewRequest("POST", "/api/v1/visit", bytes.NewBufferString(`{"path":"/w/a"}`))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, tt.code, w.Code)
		assert.Contains(t, w.Body.String(), tt.err.Error())
	}
}

func TestActivity(t *testing.T) {
	srv, e, _ := setupTestServer(t)
	router := srv.Router()

	req := httptest.NewRequest("POST", "/api/v1/activity", bytes.NewBufferString(`{"consumer":"shell-1"}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []string{"shell-1"}, e.activities)

	req = httptest.NewRequest("POST", "/api/v1/activity", bytes.NewBufferString(`{}`))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReport(t *testing.T) {
	srv, _, l := setupTestServer(t)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	srv.now = func() time.Time { return now }
	l.entries = []*journal.Entry{
		{UUID: "u1", Description: "fix bug", Action: journal.ActionStart, At: now.Add(-time.Hour)},
		{UUID: "u1", Description: "fix bug", Action: journal.ActionStop, At: now.Add(-30 * time.Minute)},
	}

	req := httptest.NewRequest("GET", "/api/v1/report?since=24h", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var rows []ReportRow
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1800), rows[0].Seconds)
	assert.True(t, l.filter.Since.Equal(now.Add(-24*time.Hour)))
	assert.True(t, l.filter.IncludeOpen)

	// A start before the window counts from the window start.
	req = httptest.NewRequest("GET", "/api/v1/report?since=45m", nil)
	w = httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	rows = nil
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, int64(900), rows[0].Seconds)

	req = httptest.NewRequest("GET", "/api/v1/report?since=forever", nil)
	w = httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReport_NoJournal(t *testing.T) {
	srv := NewServer(&fakeEngine{}, nil, "test")
	req := httptest.NewRequest("GET", "/api/v1/report", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestClient_OverHTTP(t *testing.T) {
	srv, e, _ := setupTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	c := &Client{hc: ts.Client(), base: ts.URL}
	ctx := context.Background()

	resp, err := c.Visit(ctx, "/w/a", "shell-1")
	require.NoError(t, err)
	assert.True(t, resp.Tracked)

	require.NoError(t, c.Activity(ctx, "shell-1"))
	assert.Equal(t, []string{"shell-1"}, e.activities)

	snaps, err := c.Sessions(ctx)
	require.NoError(t, err)
	assert.Len(t, snaps, 1)

	h, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ok", h.Status)

	rows, err := c.Report(ctx, time.Hour)
	require.NoError(t, err)
	assert.Empty(t, rows)

	_, err = c.Visit(ctx, "relative", "")
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Contains(t, apiErr.Message, "absolute")
}

func TestClient_UnixSocket(t *testing.T) {
	dir, err := os.MkdirTemp("", "tt")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	sock := filepath.Join(dir, "s.sock")

	srv, _, _ := setupTestServer(t)
	ln, err := Listen(sock)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	h, err := NewClient(sock).Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, h.Sessions)

	cancel()
	require.NoError(t, <-done)
}

func TestClient_DaemonNotRunning(t *testing.T) {
	c := NewClient(filepath.Join(t.TempDir(), "missing.sock"))
	_, err := c.Health(context.Background())
	assert.ErrorIs(t, err, ErrDaemonNotRunning)
}

func TestListen_ReplacesStaleSocket(t *testing.T) {
	dir, err := os.MkdirTemp("", "tt")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	sock := filepath.Join(dir, "s.sock")
	require.NoError(t, os.WriteFile(sock, nil, 0600))

	ln, err := Listen(sock)
	require.NoError(t, err)
	defer ln.Close()

	info, err := os.Stat(sock)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}
