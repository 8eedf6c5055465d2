// Package service wires the engine, the attachment cache and the sync
// coordinator into the operations the HTTP API, MCP tools and CLI expose.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/raphaelgruber/assetcheck/internal/models"
	"github.com/raphaelgruber/assetcheck/internal/parser"
	"github.com/raphaelgruber/assetcheck/internal/remote"
)

var (
	// ErrProcedureNotFound is returned for an unknown procedure id.
	ErrProcedureNotFound = errors.New("procedure not found")
	// ErrAssetNotFound is returned for an unknown asset id.
	ErrAssetNotFound = errors.New("asset not found")
)

// CatalogRanges addresses the catalog sheets in the tabular store.
type CatalogRanges struct {
	Assets      string
	Procedures  string
	Contractors string
	History     string
}

// CatalogService loads assets, procedures and contractors once per load
// cycle. Procedures fall back to a local catalog file when the remote store
// is unreachable.
type CatalogService struct {
	tabular      remote.TabularStore
	ranges       CatalogRanges
	fallbackFile string
	logger       *slog.Logger

	mu          sync.RWMutex
	loaded      bool
	loadedAt    time.Time
	procedures  []models.Procedure
	assets      []models.Asset
	contractors []models.Contractor
}

// CatalogOption configures a CatalogService.
type CatalogOption func(*CatalogService)

// WithProceduresFile sets the offline procedure catalog (YAML, Markdown or a directory).
func WithProceduresFile(path string) CatalogOption {
	return func(s *CatalogService) { s.fallbackFile = path }
}

// WithCatalogLogger sets the logger; nil keeps slog.Default().
func WithCatalogLogger(logger *slog.Logger) CatalogOption {
	return func(s *CatalogService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewCatalogService creates a catalog service. tabular may be nil, in which
// case only the procedures file is used.
func NewCatalogService(tabular remote.TabularStore, ranges CatalogRanges, opts ...CatalogOption) *CatalogService {
	s := &CatalogService{tabular: tabular, ranges: ranges, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Reload fetches the catalog again. Assets and contractors keep their
// previous values when the remote read fails.
func (s *CatalogService) Reload(ctx context.Context) error {
	procs, procErr := s.fetchProcedures(ctx)

	var assets []models.Asset
	var contractors []models.Contractor
	var assetErr error
	if s.tabular != nil {
		rows, err := s.tabular.Get(ctx, s.ranges.Assets)
		if err != nil {
			assetErr = fmt.Errorf("load assets: %w", err)
		} else {
			assets = parser.ParseAssetRows(rows)
		}
		if s.ranges.Contractors != "" {
			rows, err := s.tabular.Get(ctx, s.ranges.Contractors)
			if err != nil {
				// The directory is optional; company pickers just stay empty.
				s.logger.Debug("contractors directory unavailable", "error", err)
			} else {
				contractors = parser.ParseContractorRows(rows)
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if procErr == nil {
		s.procedures = procs
	}
	if assetErr == nil && s.tabular != nil {
		s.assets = assets
	}
	if contractors != nil {
		s.contractors = contractors
	}
	s.loaded = true
	s.loadedAt = time.Now()
	s.logger.Info("catalog loaded", "procedures", len(s.procedures), "assets", len(s.assets), "contractors", len(s.contractors))

	if procErr != nil {
		return procErr
	}
	return assetErr
}

func (s *CatalogService) fetchProcedures(ctx context.Context) ([]models.Procedure, error) {
	var remoteErr error
	if s.tabular != nil {
		rows, err := s.tabular.Get(ctx, s.ranges.Procedures)
		if err == nil {
			return parser.BuildProcedures(rows), nil
		}
		remoteErr = err
	}
	if s.fallbackFile == "" {
		if remoteErr == nil {
			return nil, nil
		}
		return nil, fmt.Errorf("load procedures: %w", remoteErr)
	}

	procs, err := parser.LoadCatalog(s.fallbackFile)
	if err != nil {
		return nil, fmt.Errorf("load procedures: %w", errors.Join(remoteErr, err))
	}
	if remoteErr != nil {
		s.logger.Warn("remote procedures unavailable, using local catalog", "file", s.fallbackFile, "error", remoteErr)
	}
	return procs, nil
}

func (s *CatalogService) ensureLoaded(ctx context.Context) error {
	s.mu.RLock()
	loaded := s.loaded
	s.mu.RUnlock()
	if loaded {
		return nil
	}
	return s.Reload(ctx)
}

// LoadedAt returns when the catalog was last loaded.
func (s *CatalogService) LoadedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadedAt
}

// Procedures returns all procedures, optionally only those for assetType.
func (s *CatalogService) Procedures(ctx context.Context, assetType string) ([]models.Procedure, error) {
	if err := s.ensureLoaded(ctx); err != nil && !s.hasData() {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if assetType == "" {
		return slices.Clone(s.procedures), nil
	}
	var out []models.Procedure
	for _, p := range s.procedures {
		if p.AssetType == assetType {
			out = append(out, p)
		}
	}
	return out, nil
}

// Procedure returns the procedure with id.
func (s *CatalogService) Procedure(ctx context.Context, id string) (*models.Procedure, error) {
	if err := s.ensureLoaded(ctx); err != nil && !s.hasData() {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.procedures {
		if s.procedures[i].ID == id {
			p := s.procedures[i]
			return &p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrProcedureNotFound, id)
}

// Assets returns all assets.
func (s *CatalogService) Assets(ctx context.Context) ([]models.Asset, error) {
	if err := s.ensureLoaded(ctx); err != nil && !s.hasData() {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.assets), nil
}

// Asset returns the asset with id.
func (s *CatalogService) Asset(ctx context.Context, id string) (models.Asset, error) {
	if err := s.ensureLoaded(ctx); err != nil && !s.hasData() {
		return models.Asset{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.assets {
		if a.ID == id {
			return a, nil
		}
	}
	return models.Asset{}, fmt.Errorf("%w: %s", ErrAssetNotFound, id)
}

// Companies lists contractor companies for an asset type, sorted. When the
// type has none, every known company is returned.
func (s *CatalogService) Companies(ctx context.Context, assetType string) ([]string, error) {
	if err := s.ensureLoaded(ctx); err != nil && !s.hasData() {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	collect := func(match func(models.Contractor) bool) []string {
		var out []string
		for _, c := range s.contractors {
			if c.Company != "" && match(c) && !slices.Contains(out, c.Company) {
				out = append(out, c.Company)
			}
		}
		slices.Sort(out)
		return out
	}
	want := strings.ToLower(strings.TrimSpace(assetType))
	if companies := collect(func(c models.Contractor) bool { return c.AssetType == want }); len(companies) > 0 {
		return companies, nil
	}
	return collect(func(models.Contractor) bool { return true }), nil
}

// History reads finished tests for an asset back from the results sheet,
// newest first.
func (s *CatalogService) History(ctx context.Context, assetID string) ([]models.TestHistoryEntry, error) {
	if s.tabular == nil || s.ranges.History == "" {
		return nil, nil
	}
	rows, err := s.tabular.Get(ctx, s.ranges.History)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	var out []models.TestHistoryEntry
	for _, h := range parser.GroupResultHistory(rows) {
		if assetID == "" || h.AssetID == assetID {
			out = append(out, h)
		}
	}
	slices.SortStableFunc(out, func(a, b models.TestHistoryEntry) int {
		return strings.Compare(b.Timestamp, a.Timestamp)
	})
	return out, nil
}

func (s *CatalogService) hasData() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.procedures) > 0 || len(s.assets) > 0
}
