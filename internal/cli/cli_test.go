package cli

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/assetcheck/internal/auth"
	"github.com/raphaelgruber/assetcheck/internal/client"
	"github.com/raphaelgruber/assetcheck/internal/models"
	"github.com/raphaelgruber/assetcheck/internal/service"
	"github.com/raphaelgruber/assetcheck/internal/storage"
	"github.com/raphaelgruber/assetcheck/internal/syncer"
)

func TestPromptConsent(t *testing.T) {
	var out strings.Builder
	consent := promptConsent(strings.NewReader("  4/abc-code \n"), &out)

	code, err := consent(context.Background(), "https://accounts.example/auth")
	require.NoError(t, err)
	assert.Equal(t, "4/abc-code", code)
	assert.Contains(t, out.String(), "https://accounts.example/auth")
}

func TestPromptConsentEmptyIsDenied(t *testing.T) {
	var out strings.Builder
	_, err := promptConsent(strings.NewReader(""), &out)(context.Background(), "https://x")
	assert.ErrorIs(t, err, auth.ErrConsentDenied)
}

func TestClientJob(t *testing.T) {
	done := time.Now()
	j := clientJob(service.Job{
		ID:          "ab12cd34",
		Type:        service.JobTypeDrain,
		Status:      service.JobStatusFailed,
		Progress:    1,
		Total:       3,
		Result:      &syncer.DrainResult{Uploaded: 1, Failed: 2},
		Error:       "offline",
		CompletedAt: &done,
	})

	assert.Equal(t, "failed", j.Status)
	require.NotNil(t, j.Error)
	assert.Equal(t, "offline", *j.Error)
	require.NotNil(t, j.Result)
	assert.Equal(t, 2, j.Result.Failed)

	assert.Nil(t, clientJob(service.Job{ID: "x"}).Error)
}

func TestSummarize(t *testing.T) {
	ok := summarize(defaultTheme, client.DrainResult{Uploaded: 3})
	assert.Contains(t, ok, "Completed")
	assert.Contains(t, ok, "3")
	assert.NotContains(t, ok, "Still queued")

	partial := summarize(defaultTheme, client.DrainResult{Uploaded: 1, Failed: 2, Skipped: 1})
	assert.Contains(t, partial, "failures")
	assert.Contains(t, partial, "Still queued")
	assert.Contains(t, partial, "Already present")
}

type staticSource struct{ job *client.Job }

func (s staticSource) GetJob(context.Context, string) (*client.Job, error) { return s.job, nil }

func TestProgressModelTerminalStates(t *testing.T) {
	start := &client.Job{ID: "j1", Status: "running", Total: 2}
	m := newProgressModel(staticSource{job: start}, start, "bye")

	next, cmd := m.Update(jobUpdateMsg{job: &client.Job{ID: "j1", Status: "running", Progress: 1, Total: 2}})
	assert.NotNil(t, cmd)
	assert.False(t, next.(progressModel).done)

	msg := "no credential"
	next, _ = m.Update(jobUpdateMsg{job: &client.Job{ID: "j1", Status: "failed", Error: &msg}})
	fm := next.(progressModel)
	assert.True(t, fm.done)
	require.Error(t, fm.err)
	assert.Contains(t, fm.renderContent(), "no credential")

	next, _ = m.Update(jobUpdateMsg{job: &client.Job{ID: "j1", Status: "completed", Result: &client.DrainResult{Uploaded: 2}}})
	fm = next.(progressModel)
	assert.True(t, fm.done)
	assert.NoError(t, fm.err)
	assert.Contains(t, fm.renderContent(), "Uploaded")
}

func TestProgressModelLostJob(t *testing.T) {
	start := &client.Job{ID: "j1", Status: "running"}
	m := newProgressModel(staticSource{}, start, "bye")

	next, _ := m.Update(jobUpdateMsg{err: errors.New("connection refused")})
	assert.ErrorContains(t, next.(progressModel).err, "connection refused")

	next, _ = m.Update(jobUpdateMsg{})
	assert.ErrorContains(t, next.(progressModel).err, "no longer exists")
}

type memSheets struct{ rows [][]string }

func (m *memSheets) Get(context.Context, string) ([][]string, error) { return m.rows, nil }

func (m *memSheets) Append(_ context.Context, _ string, rows [][]string) error {
	m.rows = append(m.rows, rows...)
	return nil
}

func (m *memSheets) Update(context.Context, string, [][]string) error { return nil }

func queuedBatch(ts string) models.ResultBatch {
	row := models.ResultRow{AssetID: "A1", ProcedureID: "P1", Timestamp: ts, StepNumber: 1, Result: models.ResultPass}
	return models.ResultBatch{Key: row.Key(), Rows: []models.ResultRow{row}}
}

func TestDrainAfterLoginUploadsQueue(t *testing.T) {
	ctx := context.Background()
	sheets := &memSheets{}
	queue := syncer.NewQueue(storage.NewMemory())
	_, err := queue.Enqueue(ctx, queuedBatch("2025-01-01T00:00:00.000Z"), nil)
	require.NoError(t, err)
	_, err = queue.Enqueue(ctx, queuedBatch("2025-01-02T00:00:00.000Z"), nil)
	require.NoError(t, err)

	coord := syncer.New(sheets, auth.Static("tok"), queue)
	var out strings.Builder
	require.NoError(t, drainAfterLogin(ctx, coord, &out))

	assert.Contains(t, out.String(), "Uploading 2 queued results")
	assert.Contains(t, out.String(), "Uploaded:         2")
	assert.Len(t, sheets.rows, 2)
	n, err := queue.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDrainAfterLoginEmptyQueueIsQuiet(t *testing.T) {
	coord := syncer.New(&memSheets{}, auth.Static("tok"), syncer.NewQueue(nil))
	var out strings.Builder
	require.NoError(t, drainAfterLogin(context.Background(), coord, &out))
	assert.Empty(t, out.String())
}
