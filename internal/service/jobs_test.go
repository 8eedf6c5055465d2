package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/assetcheck/internal/storage"
	"github.com/raphaelgruber/assetcheck/internal/syncer"
)

type fakeDrainer struct {
	mu      sync.Mutex
	calls   int
	result  syncer.DrainResult
	err     error
	release chan struct{}
	panics  bool
}

func (d *fakeDrainer) DrainQueue(_ context.Context, progress syncer.ProgressFunc) (syncer.DrainResult, error) {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()
	if d.release != nil {
		<-d.release
	}
	if d.panics {
		panic("boom")
	}
	if progress != nil {
		progress(syncer.DrainProgress{Done: 1, Total: 2, Result: syncer.DrainResult{Uploaded: 1}})
	}
	return d.result, d.err
}

func waitFor(t *testing.T, job *Job, status JobStatus) Job {
	t.Helper()
	var snap Job
	require.Eventually(t, func() bool {
		snap = job.Snapshot()
		return snap.Status == status
	}, 2*time.Second, 5*time.Millisecond)
	return snap
}

func TestStartDrainCompletes(t *testing.T) {
	m := NewJobManager(nil, nil)
	d := &fakeDrainer{result: syncer.DrainResult{Uploaded: 2, Skipped: 1}}

	job := m.StartDrain(context.Background(), d)
	assert.Len(t, job.ID, 8)
	m.Wait()

	snap := waitFor(t, job, JobStatusCompleted)
	require.NotNil(t, snap.Result)
	assert.Equal(t, syncer.DrainResult{Uploaded: 2, Skipped: 1}, *snap.Result)
	assert.Equal(t, 1, snap.Progress)
	assert.Equal(t, 2, snap.Total)
	assert.NotNil(t, snap.CompletedAt)
	assert.Same(t, job, m.GetJob(job.ID))
}

func TestStartDrainFails(t *testing.T) {
	m := NewJobManager(nil, nil)
	job := m.StartDrain(context.Background(), &fakeDrainer{err: errors.New("no credential")})
	m.Wait()

	snap := waitFor(t, job, JobStatusFailed)
	assert.Equal(t, "no credential", snap.Error)
}

func TestStartDrainRecoversPanic(t *testing.T) {
	m := NewJobManager(nil, nil)
	job := m.StartDrain(context.Background(), &fakeDrainer{panics: true})
	m.Wait()

	snap := waitFor(t, job, JobStatusFailed)
	assert.Contains(t, snap.Error, "internal panic")
}

func TestStartDrainReusesActiveJob(t *testing.T) {
	m := NewJobManager(nil, nil)
	d := &fakeDrainer{release: make(chan struct{})}

	first := m.StartDrain(context.Background(), d)
	second := m.StartDrain(context.Background(), d)
	assert.Same(t, first, second)

	close(d.release)
	m.Wait()
	waitFor(t, first, JobStatusCompleted)
	assert.Equal(t, 1, d.calls)

	third := m.StartDrain(context.Background(), d)
	assert.NotEqual(t, first.ID, third.ID)
	m.Wait()
	assert.Len(t, m.ListJobs(), 2)
}

func TestConcurrentStartDrainCreatesOneJob(t *testing.T) {
	m := NewJobManager(storage.NewMemory(), nil)
	d := &fakeDrainer{release: make(chan struct{})}

	const callers = 16
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids[i] = m.StartDrain(context.Background(), d).ID
		}()
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Len(t, m.ListJobs(), 1)

	close(d.release)
	m.Wait()
	d.mu.Lock()
	defer d.mu.Unlock()
	assert.Equal(t, 1, d.calls)
}

func TestResumeMarksInterruptedJobsFailed(t *testing.T) {
	kv := storage.NewMemory()
	ctx := context.Background()
	stored := []Job{
		{ID: "done0001", Type: JobTypeDrain, Status: JobStatusCompleted, StartedAt: time.Now().Add(-time.Hour)},
		{ID: "run00001", Type: JobTypeDrain, Status: JobStatusRunning, StartedAt: time.Now()},
	}
	require.NoError(t, storage.SetJSON(ctx, kv, JobsKey, stored))

	m := NewJobManager(kv, nil)
	require.NoError(t, m.ResumeIncompleteJobs(ctx))

	jobs := m.ListJobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, "run00001", jobs[0].ID)
	assert.Equal(t, JobStatusFailed, jobs[0].Snapshot().Status)
	assert.Equal(t, JobStatusCompleted, jobs[1].Snapshot().Status)
	assert.Nil(t, m.Active(JobTypeDrain))
}

func TestJobsPersist(t *testing.T) {
	kv := storage.NewMemory()
	ctx := context.Background()

	m := NewJobManager(kv, nil)
	job := m.StartDrain(ctx, &fakeDrainer{})
	m.Wait()
	waitFor(t, job, JobStatusCompleted)

	again := NewJobManager(kv, nil)
	require.NoError(t, again.ResumeIncompleteJobs(ctx))
	got := again.GetJob(job.ID)
	require.NotNil(t, got)
	assert.Equal(t, JobStatusCompleted, got.Snapshot().Status)
}

func TestResumeWithoutStorage(t *testing.T) {
	assert.NoError(t, NewJobManager(nil, nil).ResumeIncompleteJobs(context.Background()))
	assert.NoError(t, NewJobManager(storage.NewMemory(), nil).ResumeIncompleteJobs(context.Background()))
}
