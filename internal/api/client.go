package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/joescharf/tasktrack/internal/session"
)

// ErrDaemonNotRunning is returned when nothing listens on the socket.
var ErrDaemonNotRunning = errors.New("tasktrack daemon is not running")

// Client talks to the daemon over its unix socket.
type Client struct {
	hc   *http.Client
	base string
}

// NewClient returns a client for the daemon listening on socketPath.
func NewClient(socketPath string) *Client {
	dialer := &net.Dialer{Timeout: 2 * time.Second}
	return &Client{
		hc: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					return dialer.DialContext(ctx, "unix", socketPath)
				},
			},
			Timeout: 2 * time.Minute,
		},
		base: "http://tasktrack",
	}
}

// Visit reports that consumer entered path.
func (c *Client) Visit(ctx context.Context, path, consumer string) (*VisitResponse, error) {
	var resp VisitResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/visit", VisitRequest{Path: path, Consumer: consumer}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Activity reports activity for consumer.
func (c *Client) Activity(ctx context.Context, consumer string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/activity", ActivityRequest{Consumer: consumer}, nil)
}

// Sessions lists the daemon's sessions.
func (c *Client) Sessions(ctx context.Context) ([]session.Snapshot, error) {
	var snaps []session.Snapshot
	if err := c.do(ctx, http.MethodGet, "/api/v1/sessions", nil, &snaps); err != nil {
		return nil, err
	}
	return snaps, nil
}

// Health returns the daemon's health summary.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.do(ctx, http.MethodGet, "/api/v1/health", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Report summarizes tracked time over the last since (zero for everything).
func (c *Client) Report(ctx context.Context, since time.Duration) ([]ReportRow, error) {
	path := "/api/v1/report"
	if since > 0 {
		path += "?since=" + url.QueryEscape(since.String())
	}
	var rows []ReportRow
	if err := c.do(ctx, http.MethodGet, path, nil, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		var opErr *net.OpError
		if errors.As(err, &opErr) && opErr.Op == "dial" {
			return fmt.Errorf("%w: %v", ErrDaemonNotRunning, err)
		}
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error == "" {
			apiErr.Error = resp.Status
		}
		return &Error{Status: resp.StatusCode, Message: apiErr.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Error is a non-2xx response from the daemon.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return e.Message
}
