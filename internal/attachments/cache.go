// Package attachments caches compressed step photos per session until they
// have been uploaded.
package attachments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/raphaelgruber/assetcheck/internal/models"
	"github.com/raphaelgruber/assetcheck/internal/storage"
)

// StorageKey is where the whole cache is persisted.
const StorageKey = "testStepAttachments"

const (
	DefaultMaxDimension = 1600
	DefaultQuality      = 70
	// DefaultMaxPixels bounds decoded image size, about 160 MB of RGBA.
	DefaultMaxPixels = 40_000_000
)

var (
	// ErrNotImage is returned for attachments whose MIME type is not image/*.
	ErrNotImage = errors.New("attachments: only images can be attached")
	// ErrImageTooLarge is returned for images whose declared size exceeds
	// the pixel budget.
	ErrImageTooLarge = errors.New("attachments: image too large")
	// ErrNoAttachment is returned when removing an index that does not exist.
	ErrNoAttachment = errors.New("attachments: no such attachment")
)

// Handle identifies a cached attachment.
type Handle struct {
	SessionID  string `json:"session_id"`
	StepNumber int    `json:"step_number"`
	Index      int    `json:"index"`
}

// Cache holds attachments keyed by session timestamp and step number.
// Every mutation writes the full cache through to storage; if that fails the
// change is kept in memory and logged.
type Cache struct {
	mu   sync.RWMutex
	data map[string]map[int][]models.Attachment

	kv           storage.KV
	maxDimension int
	quality      int
	maxPixels    int
	now          func() time.Time
	logger       *slog.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithMaxDimension bounds the longer side of stored images.
func WithMaxDimension(px int) Option {
	return func(c *Cache) {
		if px > 0 {
			c.maxDimension = px
		}
	}
}

// WithMaxPixels bounds width times height of accepted images.
func WithMaxPixels(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.maxPixels = n
		}
	}
}

// WithQuality sets the JPEG quality (1-100).
func WithQuality(q int) Option {
	return func(c *Cache) {
		if q > 0 {
			c.quality = q
		}
	}
}

// WithLogger sets the logger; nil keeps slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a cache and loads whatever was persisted in kv.
// A missing or unreadable record starts an empty cache.
func New(ctx context.Context, kv storage.KV, opts ...Option) *Cache {
	c := &Cache{
		data:         make(map[string]map[int][]models.Attachment),
		kv:           kv,
		maxDimension: DefaultMaxDimension,
		quality:      DefaultQuality,
		maxPixels:    DefaultMaxPixels,
		now:          time.Now,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	var persisted map[string]map[int][]models.Attachment
	err := storage.GetJSON(ctx, kv, StorageKey, &persisted)
	switch {
	case err == nil && persisted != nil:
		c.data = persisted
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		c.logger.Warn("could not load attachments, starting empty", "error", err)
	}
	return c
}

// Add compresses an image and stores it under the session and step.
func (c *Cache) Add(ctx context.Context, sessionID string, stepNumber int, name, mimeType string, data []byte) (Handle, error) {
	if !strings.HasPrefix(strings.ToLower(mimeType), "image/") {
		return Handle{}, fmt.Errorf("%w: %s", ErrNotImage, mimeType)
	}
	img, err := Compress(data, c.maxDimension, c.quality, c.maxPixels)
	if err != nil {
		return Handle{}, fmt.Errorf("compress %s: %w", name, err)
	}
	if name == "" {
		name = fmt.Sprintf("step-%d.jpg", stepNumber)
	}

	att := models.Attachment{
		Name:     name,
		MimeType: "image/jpeg",
		Data:     img.Data,
		Width:    img.Width,
		Height:   img.Height,
		AddedAt:  c.now().UTC(),
	}

	c.mu.Lock()
	steps := c.data[sessionID]
	if steps == nil {
		steps = make(map[int][]models.Attachment)
		c.data[sessionID] = steps
	}
	steps[stepNumber] = append(steps[stepNumber], att)
	h := Handle{SessionID: sessionID, StepNumber: stepNumber, Index: len(steps[stepNumber]) - 1}
	c.persistLocked(ctx)
	c.mu.Unlock()

	c.logger.Debug("attachment added", "session", sessionID, "step", stepNumber, "bytes", len(img.Data))
	return h, nil
}

// Remove deletes the attachment at index for the session and step.
func (c *Cache) Remove(ctx context.Context, sessionID string, stepNumber, index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	list := c.data[sessionID][stepNumber]
	if index < 0 || index >= len(list) {
		return ErrNoAttachment
	}
	list = slices.Delete(slices.Clone(list), index, index+1)
	if len(list) == 0 {
		delete(c.data[sessionID], stepNumber)
		if len(c.data[sessionID]) == 0 {
			delete(c.data, sessionID)
		}
	} else {
		c.data[sessionID][stepNumber] = list
	}
	c.persistLocked(ctx)
	return nil
}

// List returns a copy of the attachments for a session step.
func (c *Cache) List(sessionID string, stepNumber int) []models.Attachment {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.data[sessionID][stepNumber])
}

// Count returns how many attachments a session step has.
func (c *Cache) Count(sessionID string, stepNumber int) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data[sessionID][stepNumber])
}

// Steps returns the step numbers with attachments for a session, ascending.
func (c *Cache) Steps(sessionID string) []int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Sorted(maps.Keys(c.data[sessionID]))
}

// Sessions returns the ids of all sessions with cached attachments.
func (c *Cache) Sessions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Sorted(maps.Keys(c.data))
}

// Evict drops every attachment of a session. Call it only after the
// session's rows and attachments were confirmed uploaded.
func (c *Cache) Evict(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.data[sessionID]; !ok {
		return nil
	}
	delete(c.data, sessionID)
	c.persistLocked(ctx)
	return nil
}

func (c *Cache) persistLocked(ctx context.Context) {
	if err := storage.SetJSON(ctx, c.kv, StorageKey, c.data); err != nil {
		c.logger.Warn("could not persist attachments, keeping them in memory", "error", err)
	}
}
