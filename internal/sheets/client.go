// Package sheets implements remote.TabularStore on the Google Sheets v4 API.
package sheets

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"

	"github.com/raphaelgruber/assetcheck/internal/metrics"
	"github.com/raphaelgruber/assetcheck/internal/remote"
)

// DefaultBaseURL is the public Sheets API endpoint.
const DefaultBaseURL = "https://sheets.googleapis.com"

const valueInput = "USER_ENTERED"

// Client reads and appends spreadsheet values.
type Client struct {
	baseURL       string
	spreadsheetID string
	apiKey        string
	creds         remote.CredentialProvider
	httpClient    *http.Client
	recorder      metrics.Recorder
	logger        *slog.Logger

	authed *gsheets.Service
	public *gsheets.Service
}

var _ remote.TabularStore = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another endpoint, e.g. an httptest server.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = u
		}
	}
}

// WithAPIKey enables unauthenticated reads of public sheets.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient replaces the base HTTP client. Bearer tokens are added on
// top of its transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithMetrics records fetch and append timings.
func WithMetrics(r metrics.Recorder) Option {
	return func(c *Client) {
		if r != nil {
			c.recorder = r
		}
	}
}

// WithLogger sets the logger; nil keeps slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a client for one spreadsheet. creds may be nil for read-only
// public access. ctx bounds token refreshes and should live as long as the
// client.
func New(ctx context.Context, spreadsheetID string, creds remote.CredentialProvider, opts ...Option) (*Client, error) {
	c := &Client{
		baseURL:       DefaultBaseURL,
		spreadsheetID: spreadsheetID,
		creds:         creds,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		recorder:      metrics.Nop{},
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	endpoint := option.WithEndpoint(strings.TrimRight(c.baseURL, "/") + "/")
	var err error
	c.public, err = gsheets.NewService(ctx, option.WithHTTPClient(c.httpClient), endpoint)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	if creds != nil {
		hc := remote.AuthorizedClient(ctx, creds, c.httpClient)
		c.authed, err = gsheets.NewService(ctx, option.WithHTTPClient(hc), endpoint)
		if err != nil {
			return nil, fmt.Errorf("sheets service: %w", err)
		}
	}
	return c, nil
}

// values picks the authorized service when a credential is available. Without
// one, reads fall back to the API key and writes fail with ErrNoCredential.
func (c *Client) values(ctx context.Context, write bool) (*gsheets.SpreadsheetsValuesService, []googleapi.CallOption, error) {
	if c.authed != nil && c.creds.IsAuthenticated(ctx) {
		return c.authed.Spreadsheets.Values, nil, nil
	}
	if write {
		return nil, nil, remote.ErrNoCredential
	}
	var callOpts []googleapi.CallOption
	if c.apiKey != "" {
		callOpts = append(callOpts, googleapi.QueryParameter("key", c.apiKey))
	}
	return c.public.Spreadsheets.Values, callOpts, nil
}

// Get returns the rows in rng. Cells are rendered as strings.
// Without a credential the API key is used, which only works for public sheets.
func (c *Client) Get(ctx context.Context, rng string) ([][]string, error) {
	start := time.Now()
	svc, callOpts, err := c.values(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", rng, err)
	}
	resp, err := svc.Get(c.spreadsheetID, rng).Context(ctx).Do(callOpts...)
	if err != nil {
		c.recorder.RecordError(metrics.OpRemoteFetch)
		return nil, fmt.Errorf("get %s: %w", rng, remote.FromGoogleAPI("GET values", err))
	}
	c.recorder.RecordTiming(metrics.OpRemoteFetch, time.Since(start))

	rows := make([][]string, len(resp.Values))
	for i, row := range resp.Values {
		rows[i] = make([]string, len(row))
		for j, v := range row {
			rows[i][j] = cellString(v)
		}
	}
	return rows, nil
}

// Append adds rows after the last row of rng (USER_ENTERED, INSERT_ROWS).
func (c *Client) Append(ctx context.Context, rng string, rows [][]string) error {
	start := time.Now()
	svc, _, err := c.values(ctx, true)
	if err != nil {
		return fmt.Errorf("append %s: %w", rng, err)
	}
	_, err = svc.Append(c.spreadsheetID, rng, &gsheets.ValueRange{Values: toAny(rows)}).
		ValueInputOption(valueInput).
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		c.recorder.RecordError(metrics.OpRowAppend)
		return fmt.Errorf("append %s: %w", rng, remote.FromGoogleAPI("POST values", err))
	}
	c.recorder.RecordTiming(metrics.OpRowAppend, time.Since(start))
	c.logger.Debug("rows appended", "range", rng, "rows", len(rows))
	return nil
}

// Update overwrites the cells of rng.
func (c *Client) Update(ctx context.Context, rng string, rows [][]string) error {
	svc, _, err := c.values(ctx, true)
	if err != nil {
		return fmt.Errorf("update %s: %w", rng, err)
	}
	body := &gsheets.ValueRange{Range: rng, MajorDimension: "ROWS", Values: toAny(rows)}
	if _, err := svc.Update(c.spreadsheetID, rng, body).ValueInputOption(valueInput).Context(ctx).Do(); err != nil {
		return fmt.Errorf("update %s: %w", rng, remote.FromGoogleAPI("PUT values", err))
	}
	return nil
}

func cellString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}

// toAny converts rows to the request value shape. USER_ENTERED lets the
// sheet parse numbers and dates itself.
func toAny(rows [][]string) [][]any {
	out := make([][]any, len(rows))
	for i, row := range rows {
		out[i] = make([]any, len(row))
		for j, v := range row {
			out[i][j] = v
		}
	}
	return out
}
