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

	"github.com/raphaelgruber/assetcheck/internal/storage"
	"github.com/raphaelgruber/assetcheck/internal/syncer"
)

// JobsKey is where job snapshots are persisted.
const JobsKey = "syncJobs"

// JobStatus represents the state of a background job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// JobTypeDrain is a pending-queue drain.
const JobTypeDrain = "drain"

// Job represents a background queue drain.
type Job struct {
	ID          string              `json:"id"`
	Type        string              `json:"type"`
	Status      JobStatus           `json:"status"`
	Progress    int                 `json:"progress"`
	Total       int                 `json:"total"`
	Result      *syncer.DrainResult `json:"result,omitempty"`
	Error       string              `json:"error,omitempty"`
	StartedAt   time.Time           `json:"started_at"`
	CompletedAt *time.Time          `json:"completed_at,omitempty"`

	mu sync.RWMutex
}

// Drainer runs one drain of the pending queue.
type Drainer interface {
	DrainQueue(ctx context.Context, progress syncer.ProgressFunc) (syncer.DrainResult, error)
}

// JobManager tracks and manages background jobs. Snapshots are written to
// kv when it is set so a restarted process can report jobs it interrupted.
type JobManager struct {
	jobs   map[string]*Job
	mu     sync.RWMutex
	kv     storage.KV
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewJobManager creates a new job manager. kv may be nil.
func NewJobManager(kv storage.KV, logger *slog.Logger) *JobManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobManager{
		jobs:   make(map[string]*Job),
		kv:     kv,
		logger: logger,
	}
}

// CreateJob creates a new pending job.
func (m *JobManager) CreateJob(ctx context.Context, jobType string) *Job {
	m.mu.Lock()
	job := m.addLocked(jobType)
	m.mu.Unlock()
	m.persist(ctx)

	m.logger.Info("job created", "job_id", job.ID, "type", jobType)
	return job
}

func (m *JobManager) addLocked(jobType string) *Job {
	job := &Job{
		ID:        uuid.New().String()[:8],
		Type:      jobType,
		Status:    JobStatusPending,
		StartedAt: time.Now(),
	}
	m.jobs[job.ID] = job
	return job
}

// GetJob retrieves a job by ID.
func (m *JobManager) GetJob(id string) *Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jobs[id]
}

// ListJobs returns all jobs, most recent first.
func (m *JobManager) ListJobs() []*Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job)
	}
	slices.SortFunc(jobs, func(a, b *Job) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	return jobs
}

// Active returns the running or pending job of the given type, if any.
func (m *JobManager) Active(jobType string) *Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeLocked(jobType)
}

func (m *JobManager) activeLocked(jobType string) *Job {
	for _, job := range m.jobs {
		snap := job.Snapshot()
		if snap.Type == jobType && (snap.Status == JobStatusPending || snap.Status == JobStatusRunning) {
			return job
		}
	}
	return nil
}

// UpdateProgress updates job progress.
func (m *JobManager) UpdateProgress(job *Job, current, total int, partial syncer.DrainResult) {
	job.mu.Lock()
	job.Progress = current
	job.Total = total
	job.Result = &partial
	if job.Status == JobStatusPending {
		job.Status = JobStatusRunning
	}
	job.mu.Unlock()
}

// SetRunning marks job as running.
func (m *JobManager) SetRunning(ctx context.Context, job *Job) {
	job.mu.Lock()
	job.Status = JobStatusRunning
	job.mu.Unlock()
	m.persist(ctx)
}

// Complete marks job as completed with result.
func (m *JobManager) Complete(ctx context.Context, job *Job, result syncer.DrainResult) {
	job.mu.Lock()
	job.Status = JobStatusCompleted
	job.Result = &result
	now := time.Now()
	job.CompletedAt = &now
	job.mu.Unlock()
	m.persist(ctx)

	m.logger.Info("job completed", "job_id", job.ID, "uploaded", result.Uploaded, "failed", result.Failed, "skipped", result.Skipped)
}

// Fail marks job as failed with error.
func (m *JobManager) Fail(ctx context.Context, job *Job, err error) {
	job.mu.Lock()
	job.Status = JobStatusFailed
	job.Error = err.Error()
	now := time.Now()
	job.CompletedAt = &now
	job.mu.Unlock()
	m.persist(ctx)

	m.logger.Error("job failed", "job_id", job.ID, "error", err)
}

// StartDrain runs a queue drain in the background and returns its job. A
// drain already running is returned instead of starting a second one.
func (m *JobManager) StartDrain(ctx context.Context, drainer Drainer) *Job {
	m.mu.Lock()
	if job := m.activeLocked(JobTypeDrain); job != nil {
		m.mu.Unlock()
		return job
	}
	job := m.addLocked(JobTypeDrain)
	m.mu.Unlock()
	m.persist(ctx)
	m.logger.Info("job created", "job_id", job.ID, "type", JobTypeDrain)

	// The drain outlives the request that started it.
	bgCtx := context.WithoutCancel(ctx)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("drain job goroutine panicked", "job_id", job.ID, "panic", r)
				m.Fail(bgCtx, job, fmt.Errorf("internal panic: %v", r))
			}
		}()

		m.SetRunning(bgCtx, job)
		result, err := drainer.DrainQueue(bgCtx, func(p syncer.DrainProgress) {
			m.UpdateProgress(job, p.Done, p.Total, p.Result)
		})
		if err != nil {
			if errors.Is(err, syncer.ErrDrainInProgress) {
				m.logger.Info("drain already running elsewhere", "job_id", job.ID)
			}
			m.Fail(bgCtx, job, err)
			return
		}
		m.Complete(bgCtx, job, result)
	}()
	return job
}

// Wait blocks until every started job goroutine has returned.
func (m *JobManager) Wait() {
	m.wg.Wait()
}

// ResumeIncompleteJobs loads persisted jobs. Jobs that were still pending
// or running when the process stopped are marked failed; the entries they
// had not finished are still in the queue for the next drain.
func (m *JobManager) ResumeIncompleteJobs(ctx context.Context) error {
	if m.kv == nil {
		return nil
	}

	var stored []*Job
	if err := storage.GetJSON(ctx, m.kv, JobsKey, &stored); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			m.logger.Info("no incomplete jobs to resume")
			return nil
		}
		return err
	}

	interrupted := 0
	m.mu.Lock()
	for _, job := range stored {
		if job == nil || job.ID == "" {
			continue
		}
		if job.Status == JobStatusPending || job.Status == JobStatusRunning {
			job.Status = JobStatusFailed
			job.Error = "interrupted by shutdown"
			now := time.Now()
			job.CompletedAt = &now
			interrupted++
		}
		m.jobs[job.ID] = job
	}
	m.mu.Unlock()

	if interrupted > 0 {
		m.logger.Info("marked interrupted jobs failed", "count", interrupted)
		m.persist(ctx)
	}
	return nil
}

func (m *JobManager) persist(ctx context.Context) {
	if m.kv == nil {
		return
	}
	jobs := m.ListJobs()
	snaps := make([]Job, 0, len(jobs))
	for _, job := range jobs {
		snaps = append(snaps, job.Snapshot())
	}
	if err := storage.SetJSON(ctx, m.kv, JobsKey, snaps); err != nil {
		m.logger.Warn("failed to persist jobs", "error", err)
	}
}

// Snapshot returns a thread-safe copy of job state.
func (j *Job) Snapshot() Job {
	j.mu.RLock()
	defer j.mu.RUnlock()
	snap := Job{
		ID:          j.ID,
		Type:        j.Type,
		Status:      j.Status,
		Progress:    j.Progress,
		Total:       j.Total,
		Error:       j.Error,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
	if j.Result != nil {
		r := *j.Result
		snap.Result = &r
	}
	return snap
}
