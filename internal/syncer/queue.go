package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/raphaelgruber/assetcheck/internal/models"
	"github.com/raphaelgruber/assetcheck/internal/storage"
)

// QueueKey is the storage key of the pending queue.
const QueueKey = "localTestResults"

// ErrEntryNotFound is returned when a queue entry id is unknown.
var ErrEntryNotFound = errors.New("syncer: queue entry not found")

// Entry is one batch waiting for a remote append.
type Entry struct {
	ID       string             `json:"id"`
	Batch    models.ResultBatch `json:"batch"`
	QueuedAt time.Time          `json:"queued_at"`
	Attempts int                `json:"attempts"`
	// LastError is the most recent failure, for display.
	LastError string `json:"last_error,omitempty"`
	// Links holds attachment links already uploaded, by step number, so a
	// later drain does not upload them again.
	Links map[int][]string `json:"links,omitempty"`
	// Appended is set once the remote append succeeded. An entry with the
	// ack set is never appended again; it stays queued only while some of
	// its attachments are not yet linked in the stored rows.
	Appended bool `json:"appended,omitempty"`
	// Unlinked holds links uploaded after the append whose rows have not
	// been rewritten yet, by step number.
	Unlinked map[int][]string `json:"unlinked,omitempty"`
}

// UnmarshalJSON also accepts the legacy {"values": [[...], ...]} shape,
// rebuilding the batch from the raw result rows.
func (e *Entry) UnmarshalJSON(data []byte) error {
	type plain Entry
	var aux struct {
		plain
		Values [][]any `json:"values"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*e = Entry(aux.plain)
	if len(e.Batch.Rows) > 0 || len(aux.Values) == 0 {
		return nil
	}

	for _, raw := range aux.Values {
		cells := make([]string, len(raw))
		for i, v := range raw {
			if v != nil {
				cells[i] = fmt.Sprint(v)
			}
		}
		row, err := models.ParseResultRow(cells)
		if err != nil {
			return fmt.Errorf("legacy queue row: %w", err)
		}
		// Legacy notes already carry the attachment text verbatim.
		e.Batch.Rows = append(e.Batch.Rows, row)
	}
	first := e.Batch.Rows[0]
	e.Batch.Key = first.Key()
	e.Batch.AssetName = first.AssetName
	e.Batch.ProcedureName = first.ProcedureName
	return nil
}

// Queue is the durable list of pending batches. Every read-modify-write
// holds the mutex, so submissions and drains never clobber each other.
// When storage fails the queue keeps working in memory.
type Queue struct {
	mu      sync.Mutex
	kv      storage.KV
	entries []Entry
	loaded  bool
	now     func() time.Time
	logger  *slog.Logger
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithQueueClock overrides time.Now.
func WithQueueClock(now func() time.Time) QueueOption {
	return func(q *Queue) { q.now = now }
}

// WithQueueLogger sets the logger; nil keeps slog.Default().
func WithQueueLogger(logger *slog.Logger) QueueOption {
	return func(q *Queue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// NewQueue creates a queue persisted in kv. kv may be nil for a memory-only queue.
func NewQueue(kv storage.KV, opts ...QueueOption) *Queue {
	q := &Queue{kv: kv, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue appends a batch and returns the new entry.
func (q *Queue) Enqueue(ctx context.Context, batch models.ResultBatch, links map[int][]string) (Entry, error) {
	return q.Add(ctx, Entry{Batch: batch, Links: links})
}

// Add appends e with a fresh id and queue time and returns it.
func (q *Queue) Add(ctx context.Context, e Entry) (Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.loadLocked(ctx); err != nil {
		return Entry{}, err
	}

	e.ID = uuid.New().String()[:8]
	e.QueuedAt = q.now().UTC()
	q.entries = append(q.entries, e)
	q.persistLocked(ctx)
	q.logger.Info("batch queued", "entry", e.ID, "session", e.Batch.Key.String(), "rows", len(e.Batch.Rows), "appended", e.Appended)
	return e, nil
}

// List returns a copy of all entries in queue order.
func (q *Queue) List(ctx context.Context) ([]Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.loadLocked(ctx); err != nil {
		return nil, err
	}
	return slices.Clone(q.entries), nil
}

// Len returns the number of pending entries.
func (q *Queue) Len(ctx context.Context) (int, error) {
	entries, err := q.List(ctx)
	return len(entries), err
}

// Update replaces the entry with the same id.
func (q *Queue) Update(ctx context.Context, e Entry) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.loadLocked(ctx); err != nil {
		return err
	}
	i := slices.IndexFunc(q.entries, func(x Entry) bool { return x.ID == e.ID })
	if i < 0 {
		return fmt.Errorf("update %s: %w", e.ID, ErrEntryNotFound)
	}
	q.entries[i] = e
	q.persistLocked(ctx)
	return nil
}

// Remove deletes the entry with id.
func (q *Queue) Remove(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.loadLocked(ctx); err != nil {
		return err
	}
	i := slices.IndexFunc(q.entries, func(x Entry) bool { return x.ID == id })
	if i < 0 {
		return fmt.Errorf("remove %s: %w", id, ErrEntryNotFound)
	}
	q.entries = slices.Delete(q.entries, i, i+1)
	q.persistLocked(ctx)
	return nil
}

func (q *Queue) loadLocked(ctx context.Context) error {
	if q.loaded {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	q.loaded = true
	if q.kv == nil {
		return nil
	}

	data, err := q.kv.Get(ctx, QueueKey)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return nil
	case err != nil:
		q.logger.Warn("failed to load queue, continuing in memory", "error", err)
		return nil
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		// Keep the unreadable payload aside rather than overwrite it.
		backup := QueueKey + ".corrupt"
		if setErr := q.kv.Set(ctx, backup, data); setErr != nil {
			q.logger.Warn("failed to back up corrupt queue", "error", setErr)
		}
		q.logger.Warn("queue data is corrupt, starting empty", "backup", backup, "error", err)
		return nil
	}
	for i := range entries {
		if entries[i].ID == "" {
			entries[i].ID = uuid.New().String()[:8]
		}
	}
	q.entries = entries
	return nil
}

func (q *Queue) persistLocked(ctx context.Context) {
	if q.kv == nil {
		return
	}
	var err error
	if len(q.entries) == 0 {
		err = q.kv.Delete(ctx, QueueKey)
		if errors.Is(err, storage.ErrNotFound) {
			err = nil
		}
	} else {
		err = storage.SetJSON(ctx, q.kv, QueueKey, q.entries)
	}
	if err != nil {
		q.logger.Warn("failed to persist queue, keeping in memory", "entries", len(q.entries), "error", err)
	}
}
