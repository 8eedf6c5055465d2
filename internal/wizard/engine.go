// Package wizard drives a test session through its personnel, step and
// summary states and enforces the completion rules.
package wizard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/raphaelgruber/assetcheck/internal/compiler"
	"github.com/raphaelgruber/assetcheck/internal/metrics"
	"github.com/raphaelgruber/assetcheck/internal/models"
	"github.com/raphaelgruber/assetcheck/internal/session"
)

// ProgressStore persists wizard progress. *session.Store implements it.
type ProgressStore interface {
	Save(ctx context.Context, rec session.Record) error
	Load(ctx context.Context, assetID, procedureID string) (*session.Record, error)
	Clear(ctx context.Context, assetID, procedureID string) error
}

// State identifies what the current wizard index points at.
type State string

const (
	StatePersonnel State = "personnel"
	StateStep      State = "step"
	StateSummary   State = "summary"
)

// FinishOutcome is the result of a successful Finish.
type FinishOutcome struct {
	OverallStatus models.OverallStatus `json:"overall_status"`
	Batch         models.ResultBatch   `json:"batch"`
}

// Engine owns one session. Index 0 is the personnel state, 1..N are the
// procedure steps in order and N+1 is the summary. All methods are safe for
// concurrent use.
type Engine struct {
	mu        sync.Mutex
	procedure *models.Procedure
	asset     models.Asset
	session   *models.Session
	index     int
	mode      session.Mode
	restored  bool
	finished  bool

	store    ProgressStore
	counter  compiler.AttachmentCounter
	recorder metrics.Recorder
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithStore persists progress; without it the engine is memory-only.
func WithStore(store ProgressStore) Option {
	return func(e *Engine) { e.store = store }
}

// WithAttachments supplies attachment counts for compiled rows.
func WithAttachments(counter compiler.AttachmentCounter) Option {
	return func(e *Engine) { e.counter = counter }
}

// WithMetrics records save timings.
func WithMetrics(r metrics.Recorder) Option {
	return func(e *Engine) {
		if r != nil {
			e.recorder = r
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the logger; nil keeps slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMode sets the initial presentation mode of a fresh session.
func WithMode(mode session.Mode) Option {
	return func(e *Engine) { e.mode = mode }
}

// Start restores unexpired progress for the asset and procedure, or begins
// a fresh session at the personnel state.
func Start(ctx context.Context, procedure *models.Procedure, asset models.Asset, opts ...Option) (*Engine, error) {
	if procedure == nil || procedure.ID == "" {
		return nil, fmt.Errorf("start session: procedure is required")
	}
	if asset.ID == "" {
		return nil, fmt.Errorf("start session: asset id is required")
	}

	e := &Engine{
		procedure: procedure,
		asset:     asset,
		mode:      session.ModeWizard,
		recorder:  metrics.Nop{},
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.store != nil {
		rec, err := e.store.Load(ctx, asset.ID, procedure.ID)
		switch {
		case err == nil && !rec.Matches(asset.ID, procedure.ID):
			// Keys join ids with "_", so ("A_1", "P") and ("A", "1_P") share one.
			e.logger.Warn("saved progress belongs to another session, starting fresh",
				"asset", asset.ID, "procedure", procedure.ID)
		case err == nil:
			e.session = rec.Session
			e.index = min(max(rec.WizardIndex, 0), e.summaryIndex())
			e.mode = session.ParseMode(string(rec.Mode))
			e.restored = true
			e.logger.Info("restored saved progress", "asset", asset.ID, "procedure", procedure.ID, "index", e.index)
		case errors.Is(err, session.ErrExpired):
			e.logger.Info("saved progress expired, starting fresh", "asset", asset.ID, "procedure", procedure.ID)
		case errors.Is(err, session.ErrNotFound):
		default:
			e.logger.Warn("could not load saved progress", "asset", asset.ID, "procedure", procedure.ID, "error", err)
		}
	}

	if e.session == nil {
		e.session = models.NewSession(asset.ID, procedure.ID, e.now())
		e.index = 0
	}
	return e, nil
}

// Restored reports whether Start resumed saved progress.
func (e *Engine) Restored() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.restored
}

// Procedure returns the procedure being executed.
func (e *Engine) Procedure() *models.Procedure { return e.procedure }

// Asset returns the asset under test.
func (e *Engine) Asset() models.Asset { return e.asset }

// Session returns a copy of the current session.
func (e *Engine) Session() *models.Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.Clone()
}

// Index returns the current state index.
func (e *Engine) Index() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.index
}

// Mode returns the presentation mode.
func (e *Engine) Mode() session.Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// State returns what the current index points at and, for step states, the step.
func (e *Engine) State() (State, *models.Step) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stateAt(e.index)
}

func (e *Engine) summaryIndex() int { return len(e.procedure.Steps) + 1 }

func (e *Engine) stateAt(i int) (State, *models.Step) {
	switch {
	case i <= 0:
		return StatePersonnel, nil
	case i >= e.summaryIndex():
		return StateSummary, nil
	default:
		step := e.procedure.Steps[i-1]
		return StateStep, &step
	}
}

// stateComplete reports whether state i satisfies its rule. The summary is
// complete once the whole session validates.
func (e *Engine) stateComplete(i int) bool {
	state, step := e.stateAt(i)
	switch state {
	case StatePersonnel:
		return e.session.HasPersonnel()
	case StateStep:
		return e.session.Steps[step.StepNumber].Complete(*step)
	default:
		return e.validateAllLocked() == nil
	}
}

func (e *Engine) validateState(i int) error {
	state, step := e.stateAt(i)
	switch state {
	case StatePersonnel:
		if !e.session.HasPersonnel() {
			return &ValidationError{Message: msgPersonnel, PersonnelMissing: true}
		}
	case StateStep:
		r := e.session.Steps[step.StepNumber]
		if r.Complete(*step) {
			return nil
		}
		need := step.Verifiers()
		ve := &ValidationError{Step: step.StepNumber, Message: msgOneVerifier}
		if need > 1 {
			ve.Message = fmt.Sprintf(msgManyVerifiers, need)
		}
		have := 0
		if r != nil {
			have = len(r.Performers)
			ve.ResultMissing = !r.Result.Valid()
		} else {
			ve.ResultMissing = true
		}
		ve.Missing = max(need-have, 0)
		return ve
	}
	return nil
}

// Advance validates the current state and moves forward one state.
func (e *Engine) Advance(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.finished {
		return ErrFinished
	}
	if e.index >= e.summaryIndex() {
		return ErrAtSummary
	}
	if err := e.validateState(e.index); err != nil {
		return err
	}
	e.index++
	e.persistLocked(ctx)
	return nil
}

// Retreat moves back one state without validation.
func (e *Engine) Retreat(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.finished {
		return ErrFinished
	}
	if e.index <= 0 {
		return ErrAtPersonnel
	}
	e.index--
	e.persistLocked(ctx)
	return nil
}

// JumpTo moves to state i if it is not ahead of the current state or is already complete.
func (e *Engine) JumpTo(ctx context.Context, i int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.finished {
		return ErrFinished
	}
	if i < 0 || i > e.summaryIndex() {
		return fmt.Errorf("%w: %d", ErrOutOfRange, i)
	}
	if i > e.index && !e.stateComplete(i) {
		return &ValidationError{Message: "Please complete previous steps first.", Step: e.stepNumberAt(i)}
	}
	e.index = i
	e.persistLocked(ctx)
	return nil
}

func (e *Engine) stepNumberAt(i int) int {
	if _, step := e.stateAt(i); step != nil {
		return step.StepNumber
	}
	return 0
}

// SetPersonnel replaces technicians and contractors. Blank names are dropped;
// contractors with a company are shown as "Name (Company)" and
// ContractorCompanies stays index-aligned with Contractors.
func (e *Engine) SetPersonnel(ctx context.Context, technicians, contractorNames, contractorCompanies []string) error {
	if len(technicians) > models.MaxPersonnel || len(contractorNames) > models.MaxPersonnel || len(contractorCompanies) > models.MaxPersonnel {
		return fmt.Errorf("%w: at most %d of each", ErrTooManyPersonnel, models.MaxPersonnel)
	}

	techs := make([]string, 0, len(technicians))
	for _, t := range technicians {
		if t = strings.TrimSpace(t); t != "" {
			techs = append(techs, t)
		}
	}
	contractors := make([]string, 0, len(contractorNames))
	companies := make([]string, 0, len(contractorNames))
	for i, name := range contractorNames {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		var company string
		if i < len(contractorCompanies) {
			company = strings.TrimSpace(contractorCompanies[i])
		}
		display := name
		if company != "" {
			display = name + " (" + company + ")"
		}
		contractors = append(contractors, display)
		companies = append(companies, company)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.finished {
		return ErrFinished
	}
	e.session.Technicians = techs
	e.session.Contractors = contractors
	e.session.ContractorCompanies = companies
	e.persistLocked(ctx)
	return nil
}

// mutateStep runs fn on the result of a known step and persists.
func (e *Engine) mutateStep(ctx context.Context, stepNumber int, fn func(r *models.StepResult)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.finished {
		return ErrFinished
	}
	if _, ok := e.procedure.Step(stepNumber); !ok {
		return fmt.Errorf("%w: %d", ErrUnknownStep, stepNumber)
	}
	fn(e.session.Step(stepNumber))
	e.persistLocked(ctx)
	return nil
}

// SetStepResult records pass or fail and stamps the performance time.
func (e *Engine) SetStepResult(ctx context.Context, stepNumber int, result models.Result) error {
	if !result.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidResult, result)
	}
	now := e.now().UTC()
	return e.mutateStep(ctx, stepNumber, func(r *models.StepResult) {
		r.Result = result
		r.PerformedAt = &now
	})
}

// SetStepPerformers replaces the verifier tags of a step. The performance
// time is stamped the first time the list becomes non-empty.
func (e *Engine) SetStepPerformers(ctx context.Context, stepNumber int, tags []string) error {
	performers := make([]string, 0, len(tags))
	for _, tag := range tags {
		if tag = strings.TrimSpace(tag); tag != "" && !slices.Contains(performers, tag) {
			performers = append(performers, tag)
		}
	}
	now := e.now().UTC()
	return e.mutateStep(ctx, stepNumber, func(r *models.StepResult) {
		r.Performers = performers
		if r.PerformedAt == nil && len(performers) > 0 {
			r.PerformedAt = &now
		}
	})
}

// SetStepField records a dynamic field value. An empty value clears it.
func (e *Engine) SetStepField(ctx context.Context, stepNumber int, key, value string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("set field: key is required")
	}
	return e.mutateStep(ctx, stepNumber, func(r *models.StepResult) {
		if value == "" {
			delete(r.FieldValues, key)
			return
		}
		if r.FieldValues == nil {
			r.FieldValues = make(map[string]string)
		}
		r.FieldValues[key] = value
	})
}

// SetStepNotes replaces the notes of a step.
func (e *Engine) SetStepNotes(ctx context.Context, stepNumber int, notes string) error {
	return e.mutateStep(ctx, stepNumber, func(r *models.StepResult) {
		r.Notes = notes
	})
}

// SetNotes replaces the overall session notes.
func (e *Engine) SetNotes(ctx context.Context, notes string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.finished {
		return ErrFinished
	}
	e.session.Notes = notes
	e.persistLocked(ctx)
	return nil
}

// SetMode switches between wizard and classic presentation.
func (e *Engine) SetMode(ctx context.Context, mode session.Mode) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.finished {
		return ErrFinished
	}
	e.mode = session.ParseMode(string(mode))
	e.persistLocked(ctx)
	return nil
}

// Validate checks the personnel gate and every step without finishing.
func (e *Engine) Validate() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.validateAllLocked()
}

func (e *Engine) validateAllLocked() error {
	incomplete := e.session.IncompleteSteps(e.procedure)
	hasPersonnel := e.session.HasPersonnel()
	if hasPersonnel && len(incomplete) == 0 {
		return nil
	}
	ve := &ValidationError{Message: msgIncompleteSteps, IncompleteSteps: incomplete, PersonnelMissing: !hasPersonnel}
	if !hasPersonnel {
		ve.Message = msgPersonnel
	}
	return ve
}

// CompileRows returns the rows the current session would produce.
func (e *Engine) CompileRows() []models.ResultRow {
	e.mu.Lock()
	defer e.mu.Unlock()
	return compiler.Compile(e.session, e.procedure, e.asset, e.counter)
}

// Finish validates the whole session and compiles its rows. Nothing
// changes when validation fails. The saved progress stays until
// ClearProgress, so the caller can drop it once the rows are safe.
func (e *Engine) Finish(ctx context.Context) (FinishOutcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.finished {
		return FinishOutcome{}, ErrFinished
	}
	if err := e.validateAllLocked(); err != nil {
		return FinishOutcome{}, err
	}

	batch := compiler.CompileBatch(e.session, e.procedure, e.asset, e.counter)
	outcome := FinishOutcome{OverallStatus: batch.OverallStatus(), Batch: batch}

	e.finished = true
	e.index = e.summaryIndex()
	e.logger.Info("session finished",
		"asset", e.asset.ID, "procedure", e.procedure.ID,
		"timestamp", e.session.Timestamp, "status", outcome.OverallStatus)
	return outcome, nil
}

// ClearProgress drops the saved progress of a finished session.
func (e *Engine) ClearProgress(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.finished {
		return fmt.Errorf("clear progress: session not finished")
	}
	if e.store == nil {
		return nil
	}
	return e.store.Clear(ctx, e.asset.ID, e.procedure.ID)
}

// Cancel discards the saved progress without producing rows.
func (e *Engine) Cancel(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.finished = true
	if e.store == nil {
		return nil
	}
	return e.store.Clear(ctx, e.asset.ID, e.procedure.ID)
}

// Finished reports whether Finish or Cancel succeeded.
func (e *Engine) Finished() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.finished
}

// Save writes the full session state. Saves are idempotent overwrites.
func (e *Engine) Save(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.saveLocked(ctx)
}

func (e *Engine) saveLocked(ctx context.Context) error {
	if e.store == nil || e.finished {
		return nil
	}
	start := time.Now()
	err := e.store.Save(ctx, session.Record{
		Session:       e.session.Clone(),
		WizardIndex:   e.index,
		Mode:          e.mode,
		AssetName:     e.asset.Name,
		ProcedureName: e.procedure.Name,
	})
	if err != nil {
		e.recorder.RecordError(metrics.OpSessionSave)
		return err
	}
	e.recorder.RecordTiming(metrics.OpSessionSave, time.Since(start))
	return nil
}

// persistLocked saves after a mutation. Failures leave the in-memory session intact.
func (e *Engine) persistLocked(ctx context.Context) {
	if err := e.saveLocked(ctx); err != nil {
		e.logger.Warn("autosave failed, keeping session in memory", "asset", e.asset.ID, "procedure", e.procedure.ID, "error", err)
	}
}
