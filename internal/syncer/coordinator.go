// Package syncer ships finished sessions to the remote stores: it uploads
// cached attachments, appends result rows, and keeps a durable queue of
// batches that could not be delivered yet.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/raphaelgruber/assetcheck/internal/metrics"
	"github.com/raphaelgruber/assetcheck/internal/models"
	"github.com/raphaelgruber/assetcheck/internal/remote"
	"github.com/raphaelgruber/assetcheck/internal/storage"
)

const (
	// DefaultResultsRange is where result rows are appended.
	DefaultResultsRange = "TestResults!A:Q"
	// DefaultRootFolder is the top-level blob folder for attachments.
	DefaultRootFolder = "DCAM Test Attachments"
	// DefaultUploadConcurrency bounds parallel step uploads per session.
	DefaultUploadConcurrency = 4
)

// ErrDrainInProgress is returned when a drain is requested while another runs.
var ErrDrainInProgress = errors.New("syncer: queue drain already in progress")

// AttachmentSource is the attachment cache as seen by the coordinator.
type AttachmentSource interface {
	Steps(sessionID string) []int
	List(sessionID string, stepNumber int) []models.Attachment
	Evict(ctx context.Context, sessionID string) error
}

// SubmitResult reports what happened to a submitted batch.
type SubmitResult struct {
	// Appended is true when the rows reached the remote store.
	Appended bool `json:"appended"`
	// Queued is true when the batch was stored locally for a later drain.
	Queued bool `json:"queued"`
	// EntryID names the queue entry holding the batch, or holding its
	// pending attachments when the rows were appended.
	EntryID string `json:"entry_id,omitempty"`
	// Reason explains why the batch was queued.
	Reason string `json:"reason,omitempty"`
	// Links is the number of attachment links spliced into the rows.
	Links int `json:"links"`
	// PendingAttachments counts attachments that could not be uploaded;
	// they stay cached and the next drain retries them.
	PendingAttachments int `json:"pending_attachments"`
}

// DrainResult counts the outcome of one drain.
type DrainResult struct {
	Uploaded int `json:"uploaded"`
	Failed   int `json:"failed"`
	// Skipped entries were already present remotely and were dequeued
	// without appending again.
	Skipped int `json:"skipped"`
}

// DrainProgress is reported after each processed entry.
type DrainProgress struct {
	Done    int
	Total   int
	Entry   string
	Session string
	Result  DrainResult
}

// ProgressFunc receives drain progress. It may be nil.
type ProgressFunc func(DrainProgress)

// Coordinator decides between the online and the queued path.
type Coordinator struct {
	tabular     remote.TabularStore
	blobs       remote.BlobStore
	creds       remote.CredentialProvider
	queue       *Queue
	attachments AttachmentSource
	folderKV    storage.KV

	resultsRange      string
	rootFolder        string
	dedupe            bool
	uploadConcurrency int

	recorder metrics.Recorder
	logger   *slog.Logger

	draining  atomic.Bool
	consentMu sync.Mutex
	folderMu  sync.Mutex
	folders   map[string]string
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithBlobStore enables attachment uploads.
func WithBlobStore(b remote.BlobStore) Option {
	return func(c *Coordinator) { c.blobs = b }
}

// WithAttachments sets the attachment cache to upload from and evict.
func WithAttachments(a AttachmentSource) Option {
	return func(c *Coordinator) { c.attachments = a }
}

// WithFolderCache persists resolved folder ids in kv.
func WithFolderCache(kv storage.KV) Option {
	return func(c *Coordinator) { c.folderKV = kv }
}

// WithResultsRange overrides DefaultResultsRange.
func WithResultsRange(rng string) Option {
	return func(c *Coordinator) {
		if rng != "" {
			c.resultsRange = rng
		}
	}
}

// WithRootFolder overrides DefaultRootFolder.
func WithRootFolder(name string) Option {
	return func(c *Coordinator) {
		if name != "" {
			c.rootFolder = name
		}
	}
}

// WithDedupe makes drains check the remote store for an already appended
// session before appending a queued batch.
func WithDedupe(enabled bool) Option {
	return func(c *Coordinator) { c.dedupe = enabled }
}

// WithUploadConcurrency bounds parallel step uploads.
func WithUploadConcurrency(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.uploadConcurrency = n
		}
	}
}

// WithMetrics records drain timings.
func WithMetrics(r metrics.Recorder) Option {
	return func(c *Coordinator) {
		if r != nil {
			c.recorder = r
		}
	}
}

// WithLogger sets the logger; nil keeps slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a coordinator. creds may be nil, which makes every submission
// go to the queue.
func New(tabular remote.TabularStore, creds remote.CredentialProvider, queue *Queue, opts ...Option) *Coordinator {
	c := &Coordinator{
		tabular:           tabular,
		creds:             creds,
		queue:             queue,
		resultsRange:      DefaultResultsRange,
		rootFolder:        DefaultRootFolder,
		dedupe:            true,
		uploadConcurrency: DefaultUploadConcurrency,
		recorder:          metrics.Nop{},
		logger:            slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Queue returns the pending queue.
func (c *Coordinator) Queue() *Queue {
	return c.queue
}

func (c *Coordinator) authenticated(ctx context.Context) bool {
	return c.creds != nil && c.tabular != nil && c.creds.IsAuthenticated(ctx)
}

// Submit delivers a finished session. With a credential it uploads the
// session's attachments, splices their links into the rows and appends the
// rows in step order. Without one, or when the append fails after the
// re-consent retry, the batch is queued and the result says so. An error is
// returned only if the batch could not even be queued.
func (c *Coordinator) Submit(ctx context.Context, batch models.ResultBatch) (SubmitResult, error) {
	batch = orderedBatch(batch)

	if !c.authenticated(ctx) {
		e, err := c.queue.Enqueue(ctx, batch, nil)
		if err != nil {
			return SubmitResult{}, fmt.Errorf("submit %s: queue: %w", batch.Key, err)
		}
		return SubmitResult{Queued: true, EntryID: e.ID, Reason: "not authenticated"}, nil
	}

	links, pending := c.uploadSession(ctx, batch, nil)
	res := SubmitResult{Links: countLinks(links), PendingAttachments: pending}

	if err := c.appendBatch(ctx, splice(batch, links)); err != nil {
		c.logger.Warn("append failed, queueing batch", "session", batch.Key.String(), "error", err)
		e, qerr := c.queue.Enqueue(ctx, batch, links)
		if qerr != nil {
			return res, fmt.Errorf("submit %s: %w", batch.Key, errors.Join(err, qerr))
		}
		res.Queued, res.EntryID, res.Reason = true, e.ID, err.Error()
		return res, nil
	}

	res.Appended = true
	switch {
	case pending == 0:
		c.evict(ctx, batch.Key)
	case c.blobs != nil:
		e, err := c.queue.Add(ctx, Entry{
			Batch:     batch,
			Links:     links,
			Appended:  true,
			LastError: fmt.Sprintf("%d attachments pending", pending),
		})
		if err != nil {
			c.logger.Warn("failed to queue pending attachments", "session", batch.Key.String(), "error", err)
		} else {
			res.EntryID = e.ID
		}
	}
	c.logger.Info("results submitted", "session", batch.Key.String(), "rows", len(batch.Rows), "links", res.Links, "pending", pending)
	return res, nil
}

// DrainQueue retries every queued batch. Entries that succeed are removed,
// failures stay queued with their attempt count and last error. Only one
// drain runs at a time.
func (c *Coordinator) DrainQueue(ctx context.Context, progress ProgressFunc) (DrainResult, error) {
	if !c.draining.CompareAndSwap(false, true) {
		return DrainResult{}, ErrDrainInProgress
	}
	defer c.draining.Store(false)

	start := time.Now()
	var res DrainResult
	if !c.authenticated(ctx) {
		c.recorder.RecordError(metrics.OpQueueDrain)
		return res, fmt.Errorf("drain queue: %w", remote.ErrNoCredential)
	}

	entries, err := c.queue.List(ctx)
	if err != nil {
		c.recorder.RecordError(metrics.OpQueueDrain)
		return res, fmt.Errorf("drain queue: %w", err)
	}
	if len(entries) == 0 {
		return res, nil
	}

	var existing map[models.SessionKey]bool
	if c.dedupe && slices.ContainsFunc(entries, func(e Entry) bool { return !e.Appended }) {
		existing, err = c.remoteSessions(ctx)
		if err != nil {
			c.logger.Warn("could not read remote results for dedupe", "error", err)
		}
	}

	for i, e := range entries {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("drain queue: %w", err)
		}
		c.drainEntry(ctx, e, existing, &res)
		if progress != nil {
			progress(DrainProgress{
				Done:    i + 1,
				Total:   len(entries),
				Entry:   e.ID,
				Session: e.Batch.Key.String(),
				Result:  res,
			})
		}
	}

	c.recorder.RecordTiming(metrics.OpQueueDrain, time.Since(start))
	c.logger.Info("queue drained", "uploaded", res.Uploaded, "failed", res.Failed, "skipped", res.Skipped)
	return res, nil
}

func (c *Coordinator) drainEntry(ctx context.Context, e Entry, existing map[models.SessionKey]bool, res *DrainResult) {
	log := c.logger.With("entry", e.ID, "session", e.Batch.Key.String())

	switch {
	case e.Appended:
		if c.settleAttachments(ctx, e, log) {
			res.Uploaded++
		} else {
			res.Failed++
		}
		return
	case existing[e.Batch.Key]:
		log.Info("session already present remotely, skipping append")
		res.Skipped++
		e.Appended = true
		c.settleAttachments(ctx, e, log)
		return
	}

	links, pending := c.uploadSession(ctx, e.Batch, e.Links)
	e.Links = links
	if err := c.appendBatch(ctx, splice(e.Batch, links)); err != nil {
		c.recordFailure(ctx, e, err, log)
		res.Failed++
		return
	}

	e.Appended = true
	res.Uploaded++
	if pending == 0 || c.blobs == nil {
		c.dequeue(ctx, e)
		if pending == 0 {
			c.evict(ctx, e.Batch.Key)
		}
		return
	}
	// The rows are in; the entry stays until the rest of its attachments
	// are linked.
	e.LastError = fmt.Sprintf("%d attachments pending", pending)
	if err := c.queue.Update(ctx, e); err != nil {
		log.Warn("failed to record append ack", "error", err)
	}
}

// settleAttachments finishes an appended entry: it uploads attachments that
// missed the append, writes their links into the stored rows, then dequeues
// the entry and evicts the cache. It reports whether the entry is done.
func (c *Coordinator) settleAttachments(ctx context.Context, e Entry, log *slog.Logger) bool {
	if c.blobs == nil {
		log.Debug("entry already appended, dequeueing")
		c.dequeue(ctx, e)
		return true
	}
	if err := c.linkPending(ctx, &e); err != nil {
		c.recordFailure(ctx, e, err, log)
		return false
	}
	c.dequeue(ctx, e)
	c.evict(ctx, e.Batch.Key)
	return true
}

// linkPending uploads the attachments of e not yet linked and rewrites the
// notes of their rows. Links that were uploaded but not written are kept in
// e.Unlinked so a retry does not upload them again.
func (c *Coordinator) linkPending(ctx context.Context, e *Entry) error {
	have := maps.Clone(e.Links)
	if have == nil {
		have = make(map[int][]string)
	}
	maps.Copy(have, e.Unlinked)

	links, pending := c.uploadSession(ctx, e.Batch, have)
	fresh := make(map[int][]string)
	for step, l := range links {
		if _, ok := e.Links[step]; !ok {
			fresh[step] = l
		}
	}
	if len(fresh) > 0 {
		if err := c.writeLinks(ctx, e.Batch, links, fresh); err != nil {
			e.Unlinked = fresh
			return fmt.Errorf("write links: %w", err)
		}
		e.Links, e.Unlinked = links, nil
	}
	if pending > 0 {
		return fmt.Errorf("%d attachments pending", pending)
	}
	return nil
}

// writeLinks rewrites the notes cell of every stored row of batch whose step
// is in steps, using the spliced links.
func (c *Coordinator) writeLinks(ctx context.Context, batch models.ResultBatch, links, steps map[int][]string) error {
	rng, err := remote.ParseRange(c.resultsRange)
	if err != nil {
		return err
	}
	var stored [][]string
	err = c.withReconsent(ctx, remote.ScopeSheets, func(ctx context.Context) error {
		var err error
		stored, err = c.tabular.Get(ctx, c.resultsRange)
		return err
	})
	if err != nil {
		return err
	}

	notes := make(map[int]string, len(steps))
	for _, row := range splice(batch, links).Rows {
		if _, ok := steps[row.StepNumber]; ok {
			notes[row.StepNumber] = row.NotesText()
		}
	}

	first := max(rng.StartRow, 1)
	col := remote.ColumnName(rng.StartCol + models.ColNotes)
	written := 0
	for i, cells := range stored {
		if len(cells) <= models.ColStepNumber || !sameSession(cells, batch.Key) {
			continue
		}
		step, err := strconv.Atoi(cells[models.ColStepNumber])
		if err != nil {
			continue
		}
		text, ok := notes[step]
		if !ok {
			continue
		}
		cell := fmt.Sprintf("%s!%s%d", sheetRef(rng.Sheet), col, first+i)
		err = c.withReconsent(ctx, remote.ScopeSheets, func(ctx context.Context) error {
			return c.tabular.Update(ctx, cell, [][]string{{text}})
		})
		if err != nil {
			return err
		}
		written++
	}
	if written == 0 {
		return fmt.Errorf("rows of %s: %w", batch.Key, remote.ErrNotFound)
	}
	return nil
}

func (c *Coordinator) recordFailure(ctx context.Context, e Entry, err error, log *slog.Logger) {
	e.Attempts++
	e.LastError = err.Error()
	if uerr := c.queue.Update(ctx, e); uerr != nil {
		log.Warn("failed to record attempt", "error", uerr)
	}
	log.Warn("queued batch failed", "attempts", e.Attempts, "error", err)
}

func sameSession(cells []string, key models.SessionKey) bool {
	return cells[models.ColAssetID] == key.AssetID &&
		cells[models.ColProcedureID] == key.ProcedureID &&
		cells[models.ColTimestamp] == key.Timestamp
}

// sheetRef quotes sheet names that are not plain identifiers.
func sheetRef(sheet string) string {
	if strings.ContainsFunc(sheet, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	}) {
		return "'" + strings.ReplaceAll(sheet, "'", "''") + "'"
	}
	return sheet
}

func (c *Coordinator) dequeue(ctx context.Context, e Entry) {
	if err := c.queue.Remove(ctx, e.ID); err != nil && !errors.Is(err, ErrEntryNotFound) {
		c.logger.Warn("failed to dequeue entry", "entry", e.ID, "error", err)
	}
}

func (c *Coordinator) evict(ctx context.Context, key models.SessionKey) {
	if c.attachments == nil {
		return
	}
	if err := c.attachments.Evict(ctx, key.Timestamp); err != nil {
		c.logger.Warn("failed to evict attachments", "session", key.String(), "error", err)
	}
}

func (c *Coordinator) appendBatch(ctx context.Context, batch models.ResultBatch) error {
	if len(batch.Rows) == 0 {
		return nil
	}
	return c.withReconsent(ctx, remote.ScopeSheets, func(ctx context.Context) error {
		return c.tabular.Append(ctx, c.resultsRange, models.RowValues(batch.Rows))
	})
}

// remoteSessions reads the identity triples already present in the results sheet.
func (c *Coordinator) remoteSessions(ctx context.Context) (map[models.SessionKey]bool, error) {
	rows, err := c.tabular.Get(ctx, c.resultsRange)
	if err != nil {
		return nil, err
	}
	seen := make(map[models.SessionKey]bool)
	for _, row := range rows {
		if len(row) <= models.ColTimestamp {
			continue
		}
		seen[models.SessionKey{
			AssetID:     row[models.ColAssetID],
			ProcedureID: row[models.ColProcedureID],
			Timestamp:   row[models.ColTimestamp],
		}] = true
	}
	return seen, nil
}

// withReconsent runs fn and, on an authorization failure, asks the
// credential provider for scope once and runs fn again.
func (c *Coordinator) withReconsent(ctx context.Context, scope string, fn func(context.Context) error) error {
	err := fn(ctx)
	if remote.KindOf(err) != remote.KindAuth || c.creds == nil {
		return err
	}

	c.consentMu.Lock()
	granted, cerr := c.creds.RequestAccess(ctx, scope)
	c.consentMu.Unlock()
	if cerr != nil {
		return fmt.Errorf("%w (re-consent: %w)", err, cerr)
	}
	if !granted {
		return err
	}
	return fn(ctx)
}

// orderedBatch returns a copy of batch with rows in ascending step order.
func orderedBatch(batch models.ResultBatch) models.ResultBatch {
	rows := slices.Clone(batch.Rows)
	slices.SortStableFunc(rows, func(a, b models.ResultRow) int { return a.StepNumber - b.StepNumber })
	batch.Rows = rows
	return batch
}

// splice copies batch and sets each row's links from links.
func splice(batch models.ResultBatch, links map[int][]string) models.ResultBatch {
	if len(links) == 0 {
		return batch
	}
	rows := slices.Clone(batch.Rows)
	for i := range rows {
		l := links[rows[i].StepNumber]
		if len(l) == 0 {
			continue
		}
		rows[i].Links = slices.Clone(l)
		rows[i].Attachments = max(rows[i].Attachments, len(l))
	}
	batch.Rows = rows
	return batch
}

func countLinks(links map[int][]string) int {
	n := 0
	for _, l := range links {
		n += len(l)
	}
	return n
}
