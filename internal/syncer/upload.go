package syncer

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/raphaelgruber/assetcheck/internal/models"
	"github.com/raphaelgruber/assetcheck/internal/remote"
	"github.com/raphaelgruber/assetcheck/internal/storage"
)

// FolderCacheKey is the storage key of the resolved folder ids.
const FolderCacheKey = "driveFolderCache"

// uploadSession uploads the cached attachments of every step not already in
// have and returns the merged links by step plus the number of attachments
// still pending. Steps upload concurrently; a step's links are only kept when
// all of its attachments made it, so a retry never skips a missing file.
func (c *Coordinator) uploadSession(ctx context.Context, batch models.ResultBatch, have map[int][]string) (map[int][]string, int) {
	links := maps.Clone(have)
	if links == nil {
		links = make(map[int][]string)
	}
	if c.attachments == nil {
		return links, 0
	}

	sessionID := batch.Key.Timestamp
	var steps []int
	pending := 0
	for _, step := range c.attachments.Steps(sessionID) {
		if _, done := links[step]; done {
			continue
		}
		if n := len(c.attachments.List(sessionID, step)); n > 0 {
			steps = append(steps, step)
			pending += n
		}
	}
	if len(steps) == 0 {
		return links, 0
	}
	if c.blobs == nil {
		return links, pending
	}

	folder, err := c.sessionFolder(ctx, batch)
	if err != nil {
		c.logger.Warn("attachment folder unavailable", "session", batch.Key.String(), "error", err)
		return links, pending
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.uploadConcurrency)
	for _, step := range steps {
		g.Go(func() error {
			stepLinks, ok := c.uploadStep(gctx, sessionID, step, folder)
			mu.Lock()
			defer mu.Unlock()
			if ok {
				links[step] = stepLinks
				pending -= len(stepLinks)
			}
			return nil
		})
	}
	_ = g.Wait()

	return links, pending
}

// uploadStep uploads a step's attachments in order. ok is false if any failed.
func (c *Coordinator) uploadStep(ctx context.Context, sessionID string, step int, folder string) ([]string, bool) {
	atts := c.attachments.List(sessionID, step)
	links := make([]string, 0, len(atts))
	for i, att := range atts {
		name := att.Name
		if name == "" {
			name = fmt.Sprintf("step-%d-%d.jpg", step, i+1)
		}
		var link string
		err := c.withReconsent(ctx, remote.ScopeDrive, func(ctx context.Context) error {
			var err error
			link, err = c.blobs.Upload(ctx, att.Data, name, att.MimeType, folder)
			return err
		})
		if err != nil {
			c.logger.Warn("attachment upload failed", "session", sessionID, "step", step, "name", name, "error", err)
			return nil, false
		}
		links = append(links, link)
	}
	return links, true
}

// sessionFolder resolves root / Asset_<id>_<name> / Test_<id>_<name>,
// creating folders as needed and caching the leaf id.
func (c *Coordinator) sessionFolder(ctx context.Context, batch models.ResultBatch) (string, error) {
	path := []string{
		c.rootFolder,
		folderName("Asset", batch.Key.AssetID, batch.AssetName),
		folderName("Test", batch.Key.ProcedureID, batch.ProcedureName),
	}
	key := strings.ReplaceAll(strings.Join(path, "/"), "/", "_")

	c.folderMu.Lock()
	defer c.folderMu.Unlock()
	c.loadFoldersLocked(ctx)
	if id, ok := c.folders[key]; ok && id != "" {
		return id, nil
	}

	parent := ""
	for _, name := range path {
		var id string
		err := c.withReconsent(ctx, remote.ScopeDrive, func(ctx context.Context) error {
			var err error
			id, err = c.blobs.EnsureFolder(ctx, name, parent)
			return err
		})
		if err != nil {
			return "", fmt.Errorf("ensure folder %q: %w", name, err)
		}
		parent = id
	}

	c.folders[key] = parent
	if c.folderKV != nil {
		if err := storage.SetJSON(ctx, c.folderKV, FolderCacheKey, c.folders); err != nil {
			c.logger.Warn("failed to persist folder cache", "error", err)
		}
	}
	return parent, nil
}

func (c *Coordinator) loadFoldersLocked(ctx context.Context) {
	if c.folders != nil {
		return
	}
	c.folders = make(map[string]string)
	if c.folderKV == nil {
		return
	}
	err := storage.GetJSON(ctx, c.folderKV, FolderCacheKey, &c.folders)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		c.logger.Warn("folder cache unreadable, starting empty", "error", err)
		c.folders = make(map[string]string)
	}
}

func folderName(prefix, id, name string) string {
	if id == "" {
		id = "unknown"
	}
	return prefix + "_" + id + "_" + name
}
