package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/assetcheck/internal/attachments"
	"github.com/raphaelgruber/assetcheck/internal/metrics"
	"github.com/raphaelgruber/assetcheck/internal/models"
	"github.com/raphaelgruber/assetcheck/internal/service"
	"github.com/raphaelgruber/assetcheck/internal/session"
	"github.com/raphaelgruber/assetcheck/internal/storage"
	"github.com/raphaelgruber/assetcheck/internal/syncer"
	"github.com/raphaelgruber/assetcheck/internal/wizard"
)

type memSheets struct {
	mu     sync.Mutex
	sheets map[string][][]string
}

func (m *memSheets) Get(_ context.Context, rng string) ([][]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name, _, _ := strings.Cut(rng, "!")
	return slices.Clone(m.sheets[name]), nil
}

func (m *memSheets) Append(_ context.Context, rng string, rows [][]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	name, _, _ := strings.Cut(rng, "!")
	m.sheets[name] = append(m.sheets[name], rows...)
	return nil
}

func (m *memSheets) Update(context.Context, string, [][]string) error { return nil }

type onlineCreds bool

func (c onlineCreds) IsAuthenticated(context.Context) bool { return bool(c) }

func (c onlineCreds) Token(context.Context) (string, error) { return "tok", nil }

func (c onlineCreds) RequestAccess(context.Context, string) (bool, error) { return bool(c), nil }

type testServer struct {
	*httptest.Server
	sheets *memSheets
	tests  *service.TestService
	jobs   *service.JobManager
}

func newTestServer(t *testing.T, online bool) *testServer {
	t.Helper()
	ctx := context.Background()
	sheets := &memSheets{sheets: map[string][][]string{
		"Assets": {{"A1", "Pump 1", "Pump"}},
		"TestProcedures": {
			{"P1", "Pump", "Pump check", "1", "Inspect"},
			{"P1", "Pump", "Pump check", "2", "Run", "", "", "", "", "psi|Pressure|number"},
		},
		"Contractors": {{"Pump", "Bob", "Acme"}},
	}}
	kv := storage.NewMemory()
	cache := attachments.New(ctx, kv)
	collector := metrics.NewCollector()
	coord := syncer.New(sheets, onlineCreds(online), syncer.NewQueue(kv),
		syncer.WithAttachments(cache), syncer.WithMetrics(collector))
	catalog := service.NewCatalogService(sheets, service.CatalogRanges{
		Assets:      "Assets!A2:Z",
		Procedures:  "TestProcedures!A2:Z",
		Contractors: "Contractors!A2:Z",
		History:     "TestResults!A2:Q",
	})
	tests := service.NewTestService(catalog, session.NewStore(kv), cache, coord,
		service.WithAutosaveInterval(time.Hour), service.WithTestMetrics(collector))
	jobs := service.NewJobManager(kv, nil)

	h := NewHandler(catalog, tests, jobs, coord, collector, nil)
	srv := httptest.NewServer(h.Router())
	t.Cleanup(func() {
		srv.Close()
		jobs.Wait()
		_ = tests.Close(context.Background())
	})
	return &testServer{Server: srv, sheets: sheets, tests: tests, jobs: jobs}
}

func (s *testServer) call(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, s.URL+path, r)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (s *testServer) start(t *testing.T) SessionView {
	t.Helper()
	var view SessionView
	status := s.call(t, http.MethodPost, "/sessions", service.StartRequest{AssetID: "A1", ProcedureID: "P1"}, &view)
	require.Equal(t, http.StatusCreated, status)
	return view
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, true)
	var body map[string]string
	assert.Equal(t, http.StatusOK, s.call(t, http.MethodGet, "/health", nil, &body))
	assert.Equal(t, "ok", body["status"])
}

func TestCatalogEndpoints(t *testing.T) {
	s := newTestServer(t, true)

	var procs []models.Procedure
	require.Equal(t, http.StatusOK, s.call(t, http.MethodGet, "/procedures?asset_type=Pump", nil, &procs))
	require.Len(t, procs, 1)
	assert.Len(t, procs[0].Steps, 2)

	var errBody errorBody
	assert.Equal(t, http.StatusNotFound, s.call(t, http.MethodGet, "/procedures/P9", nil, &errBody))
	assert.Contains(t, errBody.Error, "procedure not found")

	var asset models.Asset
	require.Equal(t, http.StatusOK, s.call(t, http.MethodGet, "/assets/A1", nil, &asset))
	assert.Equal(t, "Pump 1", asset.Name)

	var companies []string
	require.Equal(t, http.StatusOK, s.call(t, http.MethodGet, "/companies?asset_type=pump", nil, &companies))
	assert.Equal(t, []string{"Acme"}, companies)

	var history []models.TestHistoryEntry
	require.Equal(t, http.StatusOK, s.call(t, http.MethodGet, "/assets/A1/history", nil, &history))
	assert.Empty(t, history)
}

func TestWizardFlowOverHTTP(t *testing.T) {
	s := newTestServer(t, true)
	view := s.start(t)
	base := "/sessions/" + view.Handle
	assert.Equal(t, wizard.StatePersonnel, view.State)

	var errBody errorBody
	require.Equal(t, http.StatusUnprocessableEntity, s.call(t, http.MethodPost, base+"/advance", nil, &errBody))
	require.NotNil(t, errBody.Validation)
	assert.True(t, errBody.Validation.PersonnelMissing)

	require.Equal(t, http.StatusOK, s.call(t, http.MethodPut, base+"/personnel",
		PersonnelRequest{Technicians: []string{"Alice"}, Contractors: []string{"Bob"}, ContractorCompanies: []string{"Acme"}}, &view))
	assert.Equal(t, []string{"Bob (Acme)"}, view.Session.Contractors)

	require.Equal(t, http.StatusOK, s.call(t, http.MethodPost, base+"/advance", nil, &view))
	assert.Equal(t, wizard.StateStep, view.State)
	require.NotNil(t, view.Step)
	assert.Equal(t, 1, view.Step.StepNumber)

	for _, step := range []string{"1", "2"} {
		require.Equal(t, http.StatusOK, s.call(t, http.MethodPut, base+"/steps/"+step+"/result", resultRequest{Result: models.ResultPass}, nil))
		require.Equal(t, http.StatusOK, s.call(t, http.MethodPut, base+"/steps/"+step+"/performers", performersRequest{Performers: []string{"Technician: Alice"}}, nil))
	}
	require.Equal(t, http.StatusOK, s.call(t, http.MethodPut, base+"/steps/2/fields/psi", valueRequest{Value: "42"}, &view))
	assert.Equal(t, "42", view.Session.Steps[2].FieldValues["psi"])

	assert.Equal(t, http.StatusBadRequest, s.call(t, http.MethodPut, base+"/steps/1/result", resultRequest{Result: "maybe"}, nil))
	assert.Equal(t, http.StatusNotFound, s.call(t, http.MethodPut, base+"/steps/9/notes", notesRequest{Notes: "x"}, nil))

	var valid map[string]bool
	require.Equal(t, http.StatusOK, s.call(t, http.MethodGet, base+"/validate", nil, &valid))
	assert.True(t, valid["valid"])

	var rows []models.ResultRow
	require.Equal(t, http.StatusOK, s.call(t, http.MethodGet, base+"/rows", nil, &rows))
	assert.Len(t, rows, 2)

	var res service.FinishResult
	require.Equal(t, http.StatusOK, s.call(t, http.MethodPost, base+"/finish", nil, &res))
	assert.Equal(t, models.StatusPassed, res.OverallStatus)
	assert.True(t, res.Submit.Appended)
	assert.Len(t, s.sheets.sheets["TestResults"], 2)

	assert.Equal(t, http.StatusNotFound, s.call(t, http.MethodGet, base, nil, nil))
}

func TestJumpOutOfRange(t *testing.T) {
	s := newTestServer(t, true)
	view := s.start(t)
	assert.Equal(t, http.StatusBadRequest, s.call(t, http.MethodPost, "/sessions/"+view.Handle+"/jump", jumpRequest{Index: 42}, nil))
}

func TestUnknownFieldRejected(t *testing.T) {
	s := newTestServer(t, true)
	view := s.start(t)
	status := s.call(t, http.MethodPut, "/sessions/"+view.Handle+"/notes", map[string]string{"note": "typo"}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAttachmentUpload(t *testing.T) {
	s := newTestServer(t, false)
	view := s.start(t)
	path := s.URL + "/sessions/" + view.Handle + "/steps/1/attachments"

	img := image.NewRGBA(image.Rect(0, 0, 10, 6))
	img.Set(1, 1, color.Black)
	var pngData bytes.Buffer
	require.NoError(t, png.Encode(&pngData, img))

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "gauge.png")
	require.NoError(t, err)
	_, err = fw.Write(pngData.Bytes())
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := s.Client().Post(path, mw.FormDataContentType(), &body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var h attachments.Handle
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&h))
	assert.Equal(t, 1, h.StepNumber)

	var list []models.Attachment
	require.Equal(t, http.StatusOK, s.call(t, http.MethodGet, "/sessions/"+view.Handle+"/steps/1/attachments", nil, &list))
	require.Len(t, list, 1)
	assert.Equal(t, "image/jpeg", list[0].MimeType)

	assert.Equal(t, http.StatusNoContent, s.call(t, http.MethodDelete, "/sessions/"+view.Handle+"/steps/1/attachments/0", nil, nil))
	assert.Equal(t, http.StatusNotFound, s.call(t, http.MethodDelete, "/sessions/"+view.Handle+"/steps/1/attachments/0", nil, nil))
}

func TestOversizedImageStatus(t *testing.T) {
	err := fmt.Errorf("compress big.png: %w", attachments.ErrImageTooLarge)
	assert.Equal(t, http.StatusRequestEntityTooLarge, statusOf(err))
}

func TestAttachmentRequiresFile(t *testing.T) {
	s := newTestServer(t, false)
	view := s.start(t)
	resp, err := s.Client().Post(s.URL+"/sessions/"+view.Handle+"/steps/1/attachments", "text/plain", strings.NewReader("x"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestOfflineFinishThenSync(t *testing.T) {
	s := newTestServer(t, false)
	view := s.start(t)
	base := "/sessions/" + view.Handle
	require.Equal(t, http.StatusOK, s.call(t, http.MethodPut, base+"/personnel", PersonnelRequest{Technicians: []string{"Alice"}}, nil))
	for _, step := range []string{"1", "2"} {
		require.Equal(t, http.StatusOK, s.call(t, http.MethodPut, base+"/steps/"+step+"/result", resultRequest{Result: models.ResultPass}, nil))
		require.Equal(t, http.StatusOK, s.call(t, http.MethodPut, base+"/steps/"+step+"/performers", performersRequest{Performers: []string{"Technician: Alice"}}, nil))
	}

	var res service.FinishResult
	require.Equal(t, http.StatusOK, s.call(t, http.MethodPost, base+"/finish", nil, &res))
	assert.True(t, res.Submit.Queued)

	var queue []QueueEntryView
	require.Equal(t, http.StatusOK, s.call(t, http.MethodGet, "/queue", nil, &queue))
	require.Len(t, queue, 1)
	assert.Equal(t, 2, queue[0].Rows)
	assert.Equal(t, "A1", queue[0].AssetID)

	var job service.Job
	require.Equal(t, http.StatusAccepted, s.call(t, http.MethodPost, "/sync", nil, &job))
	s.jobs.Wait()

	require.Equal(t, http.StatusOK, s.call(t, http.MethodGet, "/jobs/"+job.ID, nil, &job))
	assert.Equal(t, service.JobStatusFailed, job.Status, "a drain without credentials fails")

	var jobs []service.Job
	require.Equal(t, http.StatusOK, s.call(t, http.MethodGet, "/jobs", nil, &jobs))
	assert.Len(t, jobs, 1)
	assert.Equal(t, http.StatusNotFound, s.call(t, http.MethodGet, "/jobs/nope", nil, nil))
}

func TestCancelDiscard(t *testing.T) {
	s := newTestServer(t, true)
	view := s.start(t)
	require.Equal(t, http.StatusOK, s.call(t, http.MethodPut, "/sessions/"+view.Handle+"/notes", notesRequest{Notes: "x"}, nil))
	assert.Equal(t, http.StatusNoContent, s.call(t, http.MethodDelete, "/sessions/"+view.Handle+"?discard=true", nil, nil))

	var saved []session.Record
	require.Equal(t, http.StatusOK, s.call(t, http.MethodGet, "/sessions/saved", nil, &saved))
	assert.Empty(t, saved)
}

func TestStats(t *testing.T) {
	s := newTestServer(t, true)
	s.start(t)
	var stats map[string]any
	require.Equal(t, http.StatusOK, s.call(t, http.MethodGet, "/stats", nil, &stats))
	assert.EqualValues(t, 1, stats["live_sessions"])
	assert.EqualValues(t, 0, stats["queued"])
}
