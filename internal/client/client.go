// Package client provides an HTTP client for the assetcheck server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/raphaelgruber/assetcheck/internal/models"
)

// ErrNotFound is returned when the server answers 404.
var ErrNotFound = errors.New("not found")

// Client talks to the assetcheck REST API.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// New creates a new client.
// If endpoint is empty, uses ASSETCHECK_SERVER_URL or defaults to localhost:8484.
// Timeout can be configured via ASSETCHECK_CLIENT_TIMEOUT (default 2m, uploads can be slow).
func New(endpoint string) *Client {
	if endpoint == "" {
		endpoint = os.Getenv("ASSETCHECK_SERVER_URL")
	}
	if endpoint == "" {
		endpoint = "http://localhost:8484"
	}

	timeout := 2 * time.Minute
	if t := os.Getenv("ASSETCHECK_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Endpoint returns the base URL requests are sent to.
func (c *Client) Endpoint() string { return c.endpoint }

type errorResponse struct {
	Error string `json:"error"`
}

// do sends a request and decodes a JSON response into result.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s %s: %w", method, path, ErrNotFound)
	}
	if resp.StatusCode >= 300 {
		var e errorResponse
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return fmt.Errorf("server error: %s - %s", resp.Status, e.Error)
		}
		return fmt.Errorf("server error: %s - %s", resp.Status, strings.TrimSpace(string(data)))
	}

	if result != nil && len(data) > 0 {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

// =============================================================================
// TYPES (matching the server's JSON)
// =============================================================================

// DrainResult counts the outcome of one queue drain.
type DrainResult struct {
	Uploaded int `json:"uploaded"`
	Failed   int `json:"failed"`
	Skipped  int `json:"skipped"`
}

// Job is a background drain job.
type Job struct {
	ID          string       `json:"id"`
	Type        string       `json:"type"`
	Status      string       `json:"status"`
	Progress    int          `json:"progress"`
	Total       int          `json:"total"`
	Result      *DrainResult `json:"result,omitempty"`
	Error       *string      `json:"error,omitempty"`
	StartedAt   time.Time    `json:"started_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}

// QueueEntry summarizes one pending batch.
type QueueEntry struct {
	ID          string    `json:"id"`
	AssetID     string    `json:"asset_id"`
	ProcedureID string    `json:"procedure_id"`
	Timestamp   string    `json:"timestamp"`
	Rows        int       `json:"rows"`
	QueuedAt    time.Time `json:"queued_at"`
	Attempts    int       `json:"attempts"`
	LastError   string    `json:"last_error,omitempty"`
	Appended    bool      `json:"appended"`
}

// Session describes a live test session.
type Session struct {
	Handle     string    `json:"handle"`
	AssetID    string    `json:"asset_id"`
	AssetName  string    `json:"asset_name"`
	Procedure  string    `json:"procedure_id"`
	Timestamp  string    `json:"timestamp"`
	Index      int       `json:"index"`
	State      string    `json:"state"`
	StepNumber int       `json:"step_number,omitempty"`
	Mode       string    `json:"mode"`
	Restored   bool      `json:"restored"`
	Status     string    `json:"status"`
	Passed     int       `json:"passed"`
	Failed     int       `json:"failed"`
	Opened     time.Time `json:"opened"`
}

// Stats is the server's runtime summary.
type Stats struct {
	Queued          int            `json:"queued"`
	LiveSessions    int            `json:"live_sessions"`
	CatalogLoadedAt time.Time      `json:"catalog_loaded_at"`
	Operations      map[string]any `json:"operations,omitempty"`
}

// =============================================================================
// CALLS
// =============================================================================

// Health checks that the server is reachable.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

// GetStats returns runtime statistics.
func (c *Client) GetStats(ctx context.Context) (*Stats, error) {
	var out Stats
	if err := c.do(ctx, http.MethodGet, "/stats", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Procedures lists procedures, optionally filtered by asset type.
func (c *Client) Procedures(ctx context.Context, assetType string) ([]models.Procedure, error) {
	path := "/procedures"
	if assetType != "" {
		path += "?asset_type=" + url.QueryEscape(assetType)
	}
	var out []models.Procedure
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Assets lists the asset catalog.
func (c *Client) Assets(ctx context.Context) ([]models.Asset, error) {
	var out []models.Asset
	if err := c.do(ctx, http.MethodGet, "/assets", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// History returns the recorded tests of an asset.
func (c *Client) History(ctx context.Context, assetID string) ([]models.TestHistoryEntry, error) {
	var out []models.TestHistoryEntry
	if err := c.do(ctx, http.MethodGet, "/assets/"+url.PathEscape(assetID)+"/history", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Sessions lists live sessions.
func (c *Client) Sessions(ctx context.Context) ([]Session, error) {
	var out []Session
	if err := c.do(ctx, http.MethodGet, "/sessions", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Queue lists batches waiting for upload.
func (c *Client) Queue(ctx context.Context) ([]QueueEntry, error) {
	var out []QueueEntry
	if err := c.do(ctx, http.MethodGet, "/queue", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// StartSync starts a background drain, or returns the one already running.
func (c *Client) StartSync(ctx context.Context) (*Job, error) {
	var out Job
	if err := c.do(ctx, http.MethodPost, "/sync", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetJob returns a job, or nil if the server does not know it.
func (c *Client) GetJob(ctx context.Context, id string) (*Job, error) {
	var out Job
	err := c.do(ctx, http.MethodGet, "/jobs/"+url.PathEscape(id), nil, &out)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListJobs lists jobs, newest first.
func (c *Client) ListJobs(ctx context.Context) ([]Job, error) {
	var out []Job
	if err := c.do(ctx, http.MethodGet, "/jobs", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
