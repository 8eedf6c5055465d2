package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL + "/")
}

func TestNewDefaults(t *testing.T) {
	t.Setenv("ASSETCHECK_SERVER_URL", "")
	t.Setenv("ASSETCHECK_CLIENT_TIMEOUT", "5s")

	c := New("")
	assert.Equal(t, "http://localhost:8484", c.Endpoint())
	assert.Equal(t, "5s", c.httpClient.Timeout.String())
}

func TestNewFromEnv(t *testing.T) {
	t.Setenv("ASSETCHECK_SERVER_URL", "http://tablet:9000/")
	assert.Equal(t, "http://tablet:9000", New("").Endpoint())
}

func TestProceduresFilter(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/procedures", r.URL.Path)
		assert.Equal(t, "UPS", r.URL.Query().Get("asset_type"))
		_, _ = w.Write([]byte(`[{"id":"P1","asset_type":"UPS","name":"Load test","steps":[{"step_number":1,"description":"Isolate"}]}]`))
	})

	procs, err := c.Procedures(t.Context(), "UPS")
	require.NoError(t, err)
	require.Len(t, procs, 1)
	assert.Equal(t, "P1", procs[0].ID)
	assert.Len(t, procs[0].Steps, 1)
}

func TestStartSyncAndGetJob(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/sync":
			w.WriteHeader(http.StatusAccepted)
			_, _ = w.Write([]byte(`{"id":"ab12cd34","type":"drain","status":"pending"}`))
		case r.URL.Path == "/jobs/ab12cd34":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id": "ab12cd34", "type": "drain", "status": "completed",
				"progress": 2, "total": 2,
				"result": map[string]int{"uploaded": 2},
			})
		default:
			http.NotFound(w, r)
		}
	})

	job, err := c.StartSync(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "pending", job.Status)

	job, err = c.GetJob(t.Context(), job.ID)
	require.NoError(t, err)
	require.NotNil(t, job.Result)
	assert.Equal(t, 2, job.Result.Uploaded)

	missing, err := c.GetJob(t.Context(), "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestServerErrorMessage(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"sync is not configured"}`))
	})

	_, err := c.StartSync(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sync is not configured")
}

func TestQueueAndSessions(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/queue":
			_, _ = w.Write([]byte(`[{"id":"q1","asset_id":"A1","procedure_id":"P1","rows":3,"attempts":1,"last_error":"offline"}]`))
		case "/sessions":
			_, _ = w.Write([]byte(`[{"handle":"h1","asset_id":"A1","procedure_id":"P1","state":"step","mode":"general"}]`))
		}
	})

	queue, err := c.Queue(t.Context())
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, 3, queue[0].Rows)
	assert.Equal(t, "offline", queue[0].LastError)

	sessions, err := c.Sessions(t.Context())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "P1", sessions[0].Procedure)
}
