// Package session persists in-progress test sessions so they can be resumed.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/raphaelgruber/assetcheck/internal/models"
	"github.com/raphaelgruber/assetcheck/internal/storage"
)

// KeyPrefix prefixes every persisted progress record.
const KeyPrefix = "testProgress_"

// DefaultTTL is how long saved progress stays resumable.
const DefaultTTL = 24 * time.Hour

var (
	// ErrNotFound means no progress is saved for the asset and procedure.
	ErrNotFound = errors.New("session: no saved progress")
	// ErrExpired means saved progress existed but was too old and has been discarded.
	ErrExpired = errors.New("session: saved progress expired")
)

// Mode is how the wizard is presented. It is persisted but does not change any rule.
type Mode string

const (
	ModeWizard  Mode = "wizard"
	ModeClassic Mode = "classic"
)

// ParseMode maps a string to a Mode, defaulting to ModeWizard.
func ParseMode(s string) Mode {
	if Mode(strings.ToLower(s)) == ModeClassic {
		return ModeClassic
	}
	return ModeWizard
}

// Record is the persisted wizard progress for one (asset, procedure) pair.
type Record struct {
	Session       *models.Session `json:"testResults"`
	WizardIndex   int             `json:"currentWizardStep"`
	Mode          Mode            `json:"wizardMode"`
	SavedAt       time.Time       `json:"savedAt"`
	AssetName     string          `json:"assetName,omitempty"`
	ProcedureName string          `json:"procedureName,omitempty"`
}

// Key returns the storage key for an asset and procedure.
func Key(assetID, procedureID string) string {
	return KeyPrefix + assetID + "_" + procedureID
}

// Matches reports whether the record holds the session of assetID and procedureID.
func (r *Record) Matches(assetID, procedureID string) bool {
	return r != nil && r.Session != nil && r.Session.AssetID == assetID && r.Session.ProcedureID == procedureID
}

// Store saves and restores session progress in a storage.KV.
type Store struct {
	kv     storage.KV
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger; nil keeps slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStore creates a Store on kv.
func NewStore(kv storage.KV, opts ...Option) *Store {
	s := &Store{kv: kv, ttl: DefaultTTL, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL returns the configured expiry.
func (s *Store) TTL() time.Duration { return s.ttl }

// Save overwrites the record for the session's asset and procedure, stamping SavedAt.
func (s *Store) Save(ctx context.Context, rec Record) error {
	if rec.Session == nil {
		return fmt.Errorf("save progress: session is required")
	}
	rec.SavedAt = s.now().UTC()
	if rec.Mode == "" {
		rec.Mode = ModeWizard
	}
	key := Key(rec.Session.AssetID, rec.Session.ProcedureID)
	if err := storage.SetJSON(ctx, s.kv, key, rec); err != nil {
		return fmt.Errorf("save progress: %w", err)
	}
	return nil
}

// Load returns the saved record for assetID and procedureID.
// A record saved TTL or longer ago is deleted and ErrExpired is returned.
func (s *Store) Load(ctx context.Context, assetID, procedureID string) (*Record, error) {
	key := Key(assetID, procedureID)
	var rec Record
	err := storage.GetJSON(ctx, s.kv, key, &rec)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		// Unreadable progress cannot be resumed; drop it so a fresh session starts.
		s.logger.Warn("discarding unreadable progress", "key", key, "error", err)
		s.remove(ctx, key)
		return nil, ErrNotFound
	}
	if rec.Session == nil {
		s.remove(ctx, key)
		return nil, ErrNotFound
	}
	if s.expired(rec) {
		s.remove(ctx, key)
		return nil, ErrExpired
	}
	return &rec, nil
}

// Clear removes the saved record.
func (s *Store) Clear(ctx context.Context, assetID, procedureID string) error {
	if err := s.kv.Delete(ctx, Key(assetID, procedureID)); err != nil {
		return fmt.Errorf("clear progress: %w", err)
	}
	return nil
}

// List returns all resumable records, most recently saved first.
// Expired records found along the way are deleted.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	keys, err := s.kv.Keys(ctx, KeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}
	var out []Record
	for _, key := range keys {
		var rec Record
		if err := storage.GetJSON(ctx, s.kv, key, &rec); err != nil {
			s.logger.Debug("skipping progress record", "key", key, "error", err)
			continue
		}
		if rec.Session == nil || s.expired(rec) {
			s.remove(ctx, key)
			continue
		}
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SavedAt.After(out[j].SavedAt) })
	return out, nil
}

func (s *Store) expired(rec Record) bool {
	return s.now().Sub(rec.SavedAt) >= s.ttl
}

func (s *Store) remove(ctx context.Context, key string) {
	if err := s.kv.Delete(ctx, key); err != nil {
		s.logger.Warn("failed to remove progress", "key", key, "error", err)
	}
}
