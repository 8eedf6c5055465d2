package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/raphaelgruber/assetcheck/internal/attachments"
	"github.com/raphaelgruber/assetcheck/internal/metrics"
	"github.com/raphaelgruber/assetcheck/internal/models"
	"github.com/raphaelgruber/assetcheck/internal/session"
	"github.com/raphaelgruber/assetcheck/internal/syncer"
	"github.com/raphaelgruber/assetcheck/internal/wizard"
)

// ErrSessionNotFound is returned for an unknown or closed session handle.
var ErrSessionNotFound = errors.New("session not found")

// StartRequest starts or resumes a session.
type StartRequest struct {
	AssetID     string       `json:"asset_id"`
	ProcedureID string       `json:"procedure_id"`
	Mode        session.Mode `json:"mode,omitempty"`
	// Asset overrides the catalog lookup, for offline use.
	Asset *models.Asset `json:"asset,omitempty"`
}

// SessionInfo describes a live session.
type SessionInfo struct {
	Handle     string               `json:"handle"`
	AssetID    string               `json:"asset_id"`
	AssetName  string               `json:"asset_name"`
	Procedure  string               `json:"procedure_id"`
	Timestamp  string               `json:"timestamp"`
	Index      int                  `json:"index"`
	State      wizard.State         `json:"state"`
	StepNumber int                  `json:"step_number,omitempty"`
	Mode       session.Mode         `json:"mode"`
	Restored   bool                 `json:"restored"`
	Status     models.OverallStatus `json:"status"`
	Passed     int                  `json:"passed"`
	Failed     int                  `json:"failed"`
	Opened     time.Time            `json:"opened"`
}

// FinishResult is a finished session and what happened to its rows.
type FinishResult struct {
	wizard.FinishOutcome
	Submit syncer.SubmitResult `json:"submit"`
}

type liveSession struct {
	engine *wizard.Engine
	saver  *wizard.Autosaver
	opened time.Time
}

// TestService maps session handles to engines. Each live engine has its own
// autosaver; closing a session flushes it.
type TestService struct {
	catalog     *CatalogService
	store       *session.Store
	attachments *attachments.Cache
	coordinator *syncer.Coordinator
	recorder    metrics.Recorder
	interval    time.Duration
	logger      *slog.Logger

	mu   sync.RWMutex
	live map[string]*liveSession
}

// TestOption configures a TestService.
type TestOption func(*TestService)

// WithAutosaveInterval overrides wizard.DefaultAutosaveInterval.
func WithAutosaveInterval(d time.Duration) TestOption {
	return func(s *TestService) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithTestMetrics records session save timings.
func WithTestMetrics(r metrics.Recorder) TestOption {
	return func(s *TestService) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithTestLogger sets the logger; nil keeps slog.Default().
func WithTestLogger(logger *slog.Logger) TestOption {
	return func(s *TestService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewTestService creates a test service.
func NewTestService(catalog *CatalogService, store *session.Store, cache *attachments.Cache, coordinator *syncer.Coordinator, opts ...TestOption) *TestService {
	s := &TestService{
		catalog:     catalog,
		store:       store,
		attachments: cache,
		coordinator: coordinator,
		recorder:    metrics.Nop{},
		interval:    wizard.DefaultAutosaveInterval,
		logger:      slog.Default(),
		live:        make(map[string]*liveSession),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens a session, resuming saved progress when it exists.
func (s *TestService) Start(ctx context.Context, req StartRequest) (string, *wizard.Engine, error) {
	proc, err := s.catalog.Procedure(ctx, req.ProcedureID)
	if err != nil {
		return "", nil, err
	}
	asset, err := s.resolveAsset(ctx, req)
	if err != nil {
		return "", nil, err
	}

	opts := []wizard.Option{
		wizard.WithMetrics(s.recorder),
		wizard.WithLogger(s.logger),
	}
	if s.store != nil {
		opts = append(opts, wizard.WithStore(s.store))
	}
	if s.attachments != nil {
		opts = append(opts, wizard.WithAttachments(s.attachments))
	}
	if req.Mode != "" {
		opts = append(opts, wizard.WithMode(session.ParseMode(string(req.Mode))))
	}

	engine, err := wizard.Start(ctx, proc, asset, opts...)
	if err != nil {
		return "", nil, err
	}
	saver := wizard.NewAutosaver(engine, s.interval, s.logger)
	// The autosaver outlives the request that opened the session.
	saver.Start(context.WithoutCancel(ctx))

	handle := uuid.New().String()[:8]
	s.mu.Lock()
	s.live[handle] = &liveSession{engine: engine, saver: saver, opened: time.Now()}
	s.mu.Unlock()

	s.logger.Info("session opened", "handle", handle, "asset", asset.ID, "procedure", proc.ID, "restored", engine.Restored())
	return handle, engine, nil
}

func (s *TestService) resolveAsset(ctx context.Context, req StartRequest) (models.Asset, error) {
	if req.Asset != nil && req.Asset.ID != "" {
		return *req.Asset, nil
	}
	asset, err := s.catalog.Asset(ctx, req.AssetID)
	if err == nil {
		return asset, nil
	}
	assets, listErr := s.catalog.Assets(ctx)
	if errors.Is(err, ErrAssetNotFound) && listErr == nil && len(assets) == 0 && req.AssetID != "" {
		// No asset catalog at all (offline); identify the asset by id only.
		s.logger.Warn("asset catalog empty, starting with bare asset id", "asset", req.AssetID)
		return models.Asset{ID: req.AssetID}, nil
	}
	return models.Asset{}, err
}

// Engine returns the engine behind handle.
func (s *TestService) Engine(handle string) (*wizard.Engine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ls, ok := s.live[handle]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, handle)
	}
	return ls.engine, nil
}

// Info describes the session behind handle.
func (s *TestService) Info(handle string) (SessionInfo, error) {
	s.mu.RLock()
	ls, ok := s.live[handle]
	s.mu.RUnlock()
	if !ok {
		return SessionInfo{}, fmt.Errorf("%w: %s", ErrSessionNotFound, handle)
	}
	return describe(handle, ls), nil
}

// List describes all live sessions, oldest first.
func (s *TestService) List() []SessionInfo {
	s.mu.RLock()
	out := make([]SessionInfo, 0, len(s.live))
	for handle, ls := range s.live {
		out = append(out, describe(handle, ls))
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b SessionInfo) int { return a.Opened.Compare(b.Opened) })
	return out
}

func describe(handle string, ls *liveSession) SessionInfo {
	e := ls.engine
	sess := e.Session()
	proc := e.Procedure()
	state, step := e.State()
	passed, failed := sess.Counts(proc)
	info := SessionInfo{
		Handle:    handle,
		AssetID:   sess.AssetID,
		AssetName: e.Asset().Name,
		Procedure: proc.ID,
		Timestamp: sess.Timestamp,
		Index:     e.Index(),
		State:     state,
		Mode:      e.Mode(),
		Restored:  e.Restored(),
		Status:    sess.OverallStatus(proc),
		Passed:    passed,
		Failed:    failed,
		Opened:    ls.opened,
	}
	if step != nil {
		info.StepNumber = step.StepNumber
	}
	return info
}

// AddAttachment compresses and caches a photo for a step of the session.
func (s *TestService) AddAttachment(ctx context.Context, handle string, step int, name, mimeType string, data []byte) (attachments.Handle, error) {
	e, err := s.Engine(handle)
	if err != nil {
		return attachments.Handle{}, err
	}
	if s.attachments == nil {
		return attachments.Handle{}, fmt.Errorf("attachments are not configured")
	}
	if _, ok := e.Procedure().Step(step); !ok {
		return attachments.Handle{}, fmt.Errorf("%w: %d", wizard.ErrUnknownStep, step)
	}
	h, err := s.attachments.Add(ctx, e.Session().Timestamp, step, name, mimeType, data)
	if err != nil {
		return attachments.Handle{}, err
	}
	if err := e.Save(ctx); err != nil {
		s.logger.Warn("save after attachment failed", "handle", handle, "error", err)
	}
	return h, nil
}

// RemoveAttachment drops a cached photo.
func (s *TestService) RemoveAttachment(ctx context.Context, handle string, step, index int) error {
	e, err := s.Engine(handle)
	if err != nil {
		return err
	}
	if s.attachments == nil {
		return attachments.ErrNoAttachment
	}
	return s.attachments.Remove(ctx, e.Session().Timestamp, step, index)
}

// Attachments lists the cached photos of a step.
func (s *TestService) Attachments(handle string, step int) ([]models.Attachment, error) {
	e, err := s.Engine(handle)
	if err != nil {
		return nil, err
	}
	if s.attachments == nil {
		return nil, nil
	}
	return s.attachments.List(e.Session().Timestamp, step), nil
}

// Finish validates and compiles the session, then submits its rows. A
// validation failure leaves the session open. Once finished the handle is
// closed whether the rows were appended or queued. Submission outlives the
// caller's context, and the saved progress is only cleared once the rows
// were appended or queued.
func (s *TestService) Finish(ctx context.Context, handle string) (FinishResult, error) {
	e, err := s.Engine(handle)
	if err != nil {
		return FinishResult{}, err
	}
	outcome, err := e.Finish(ctx)
	if err != nil {
		return FinishResult{}, err
	}
	res := FinishResult{FinishOutcome: outcome}

	bgCtx := context.WithoutCancel(ctx)
	s.close(bgCtx, handle)

	if s.coordinator != nil {
		sub, err := s.coordinator.Submit(bgCtx, outcome.Batch)
		res.Submit = sub
		if err != nil {
			s.logger.Error("finished session kept in saved progress", "handle", handle, "error", err)
			return res, fmt.Errorf("submit: %w", err)
		}
	}
	if err := e.ClearProgress(bgCtx); err != nil {
		s.logger.Warn("could not clear saved progress", "handle", handle, "error", err)
	}
	return res, nil
}

// Cancel closes the session. With discard the saved progress and cached
// attachments are dropped; otherwise progress is flushed for later.
func (s *TestService) Cancel(ctx context.Context, handle string, discard bool) error {
	e, err := s.Engine(handle)
	if err != nil {
		return err
	}
	if !discard {
		return s.close(ctx, handle)
	}
	s.close(ctx, handle)
	if err := e.Cancel(ctx); err != nil {
		return fmt.Errorf("cancel: %w", err)
	}
	if s.attachments != nil {
		if err := s.attachments.Evict(ctx, e.Session().Timestamp); err != nil {
			s.logger.Warn("failed to drop attachments", "handle", handle, "error", err)
		}
	}
	return nil
}

// close stops the autosaver with a final flush and forgets the handle.
func (s *TestService) close(ctx context.Context, handle string) error {
	s.mu.Lock()
	ls, ok := s.live[handle]
	delete(s.live, handle)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return ls.saver.Stop(ctx)
}

// Close flushes and closes every live session.
func (s *TestService) Close(ctx context.Context) error {
	s.mu.RLock()
	handles := make([]string, 0, len(s.live))
	for h := range s.live {
		handles = append(handles, h)
	}
	s.mu.RUnlock()

	var errs []error
	for _, h := range handles {
		if err := s.close(ctx, h); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", h, err))
		}
	}
	return errors.Join(errs...)
}

// SavedProgress lists resumable sessions from the session store.
func (s *TestService) SavedProgress(ctx context.Context) ([]session.Record, error) {
	if s.store == nil {
		return nil, nil
	}
	return s.store.List(ctx)
}

// QueueStatus returns the pending queue entries.
func (s *TestService) QueueStatus(ctx context.Context) ([]syncer.Entry, error) {
	if s.coordinator == nil {
		return nil, nil
	}
	return s.coordinator.Queue().List(ctx)
}
