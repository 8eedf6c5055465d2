// Package drive implements remote.BlobStore on the Google Drive v3 API.
package drive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	gdrive "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/raphaelgruber/assetcheck/internal/metrics"
	"github.com/raphaelgruber/assetcheck/internal/remote"
)

const (
	// DefaultBaseURL is the Drive API host for metadata and uploads.
	DefaultBaseURL = "https://www.googleapis.com"
	folderMimeType = "application/vnd.google-apps.folder"
)

// Link returns the shareable download link for a file id.
func Link(fileID string) string {
	return "https://drive.google.com/uc?id=" + url.QueryEscape(fileID)
}

// Client creates folders and uploads files. Every call needs a credential.
type Client struct {
	baseURL    string
	creds      remote.CredentialProvider
	httpClient *http.Client
	recorder   metrics.Recorder
	logger     *slog.Logger

	svc *gdrive.Service
}

var _ remote.BlobStore = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another host, e.g. an httptest server.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = u
		}
	}
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

// WithMetrics records upload timings.
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

// New creates a Drive client. ctx bounds token refreshes and should live as
// long as the client.
func New(ctx context.Context, creds remote.CredentialProvider, opts ...Option) (*Client, error) {
	c := &Client{
		baseURL:    DefaultBaseURL,
		creds:      creds,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		recorder:   metrics.Nop{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	hc := c.httpClient
	if creds != nil {
		hc = remote.AuthorizedClient(ctx, creds, c.httpClient)
	}
	svc, err := gdrive.NewService(ctx,
		option.WithHTTPClient(hc),
		option.WithEndpoint(strings.TrimRight(c.baseURL, "/")+"/drive/v3/"),
	)
	if err != nil {
		return nil, fmt.Errorf("drive service: %w", err)
	}
	c.svc = svc
	return c, nil
}

func (c *Client) ready(ctx context.Context) error {
	if c.creds == nil || !c.creds.IsAuthenticated(ctx) {
		return remote.ErrNoCredential
	}
	return nil
}

// EnsureFolder finds a folder by name under parent or creates it.
// Listing can be forbidden under the drive.file scope, in which case a new
// folder is created directly.
func (c *Client) EnsureFolder(ctx context.Context, name, parent string) (string, error) {
	if err := c.ready(ctx); err != nil {
		return "", err
	}
	id, err := c.findFolder(ctx, name, parent)
	switch {
	case err == nil && id != "":
		return id, nil
	case err != nil && !errors.Is(err, remote.ErrForbidden) && remote.KindOf(err) != remote.KindPermanent:
		return "", fmt.Errorf("find folder %s: %w", name, err)
	}

	meta := &gdrive.File{Name: name, MimeType: folderMimeType}
	if parent != "" {
		meta.Parents = []string{parent}
	}
	created, err := c.svc.Files.Create(meta).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("create folder %s: %w", name, remote.FromGoogleAPI("POST drive", err))
	}
	c.logger.Debug("drive folder created", "name", name, "id", created.Id)
	return created.Id, nil
}

func (c *Client) findFolder(ctx context.Context, name, parent string) (string, error) {
	q := fmt.Sprintf("mimeType='%s' and name='%s' and trashed=false", folderMimeType, escapeQuery(name))
	if parent != "" {
		q += fmt.Sprintf(" and '%s' in parents", escapeQuery(parent))
	}
	found, err := c.svc.Files.List().Q(q).Fields("files(id,name)").Context(ctx).Do()
	if err != nil {
		return "", remote.FromGoogleAPI("GET drive", err)
	}
	if len(found.Files) == 0 {
		return "", nil
	}
	return found.Files[0].Id, nil
}

// Upload stores data as a new file in folder, shares it with anyone who has
// the link and returns that link. A failed share is logged; the link is
// still returned.
func (c *Client) Upload(ctx context.Context, data []byte, filename, mimeType, folder string) (string, error) {
	if err := c.ready(ctx); err != nil {
		return "", fmt.Errorf("upload %s: %w", filename, err)
	}
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	meta := &gdrive.File{Name: filename}
	if folder != "" {
		meta.Parents = []string{folder}
	}

	start := time.Now()
	created, err := c.svc.Files.Create(meta).
		Media(bytes.NewReader(data), googleapi.ContentType(mimeType)).
		Fields("id").
		Context(ctx).
		Do()
	if err == nil && created.Id == "" {
		err = errors.New("upload response has no file id")
	}
	if err != nil {
		c.recorder.RecordError(metrics.OpAttachmentUpload)
		return "", fmt.Errorf("upload %s: %w", filename, remote.FromGoogleAPI("POST drive upload", err))
	}
	c.recorder.RecordTiming(metrics.OpAttachmentUpload, time.Since(start))

	perm := &gdrive.Permission{Role: "reader", Type: "anyone"}
	if _, err := c.svc.Permissions.Create(created.Id, perm).Context(ctx).Do(); err != nil {
		c.logger.Warn("drive permission setting failed; link may require auth", "file", created.Id, "error", err)
	}
	return Link(created.Id), nil
}

func escapeQuery(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, `\`, `\\`), `'`, `\'`)
}
