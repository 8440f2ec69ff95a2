package daemonctl

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
	"strconv"
	"strings"
	"syscall"
	"time"

	"mediaflow/internal/api"
	"mediaflow/internal/config"
	"mediaflow/internal/queue"
)

// ErrDaemonNotRunning indicates the daemon API is unreachable.
var ErrDaemonNotRunning = errors.New("daemon not running")

// APIError is a non-2xx response from the daemon.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("daemon returned %d: %s", e.StatusCode, e.Message)
}

// Client talks to the daemon HTTP API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient returns a client for the API bound by cfg.
func NewClient(cfg *config.Config) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, errors.New("api_bind is empty; the daemon API is disabled")
	}
	host, port, err := net.SplitHostPort(bind)
	if err != nil {
		return nil, fmt.Errorf("parse api_bind %q: %w", bind, err)
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return NewClientForAddress(net.JoinHostPort(host, port), cfg.Paths.APIToken), nil
}

// NewClientForAddress targets host:port directly.
func NewClientForAddress(addr, token string) *Client {
	return &Client{
		baseURL: "http://" + addr,
		token:   strings.TrimSpace(token),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Status returns the daemon status snapshot.
func (c *Client) Status(ctx context.Context) (*api.DaemonStatus, error) {
	var out api.DaemonStatus
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Submit registers a media file.
func (c *Client) Submit(ctx context.Context, req api.SubmitRequest) (api.SubmitResponse, error) {
	var out api.SubmitResponse
	err := c.do(ctx, http.MethodPost, "/api/processes", nil, req, &out)
	return out, err
}

// Process returns the polling view of one process.
func (c *Client) Process(ctx context.Context, id string) (*api.StatusResponse, error) {
	var out api.StatusResponse
	if err := c.do(ctx, http.MethodGet, "/api/processes/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// List returns processes filtered by status and tenant.
func (c *Client) List(ctx context.Context, statuses []string, tenant string, limit uint64) ([]api.ProcessItem, error) {
	query := url.Values{}
	for _, status := range statuses {
		query.Add("status", status)
	}
	if tenant != "" {
		query.Set("tenant", tenant)
	}
	if limit > 0 {
		query.Set("limit", strconv.FormatUint(limit, 10))
	}
	var out api.ProcessListResponse
	if err := c.do(ctx, http.MethodGet, "/api/processes", query, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// Delete removes a process.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/processes/"+url.PathEscape(id), nil, nil, nil)
}

// ForceAdvance re-issues a stage or records its supplied result.
func (c *Client) ForceAdvance(ctx context.Context, id string, req api.ForceAdvanceRequest) error {
	return c.do(ctx, http.MethodPost, "/api/processes/"+url.PathEscape(id)+"/force-advance", nil, req, nil)
}

// ForceComplete moves a process to completed when the guard allows it.
func (c *Client) ForceComplete(ctx context.Context, id string, req api.ForceCompleteRequest) error {
	return c.do(ctx, http.MethodPost, "/api/processes/"+url.PathEscape(id)+"/force-complete", nil, req, nil)
}

// Repair normalizes a corrupt record.
func (c *Client) Repair(ctx context.Context, id string, req api.RepairRequest) (api.RepairResponse, error) {
	var out api.RepairResponse
	err := c.do(ctx, http.MethodPost, "/api/processes/"+url.PathEscape(id)+"/repair", nil, req, &out)
	return out, err
}

// Queue lists stage jobs.
func (c *Client) Queue(ctx context.Context, filter queue.ListFilter) ([]api.QueueJob, error) {
	query := url.Values{}
	if filter.Stage != "" {
		query.Set("stage", string(filter.Stage))
	}
	for _, status := range filter.Statuses {
		query.Add("status", string(status))
	}
	if filter.ProcessID != "" {
		query.Set("process", filter.ProcessID)
	}
	if filter.Limit > 0 {
		query.Set("limit", strconv.FormatUint(filter.Limit, 10))
	}
	var out api.QueueListResponse
	if err := c.do(ctx, http.MethodGet, "/api/queue", query, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// QueueStats returns job counts keyed by stage then status.
func (c *Client) QueueStats(ctx context.Context) (map[string]map[string]int, error) {
	status, err := c.Status(ctx)
	if err != nil {
		return nil, err
	}
	return status.Queue, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if isUnavailable(err) {
			return ErrDaemonNotRunning
		}
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var payload struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		message := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
			message = payload.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: message}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func isUnavailable(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED)
}
