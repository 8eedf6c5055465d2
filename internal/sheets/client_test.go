package sheets

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gsheets "google.golang.org/api/sheets/v4"

	"github.com/raphaelgruber/assetcheck/internal/metrics"
	"github.com/raphaelgruber/assetcheck/internal/remote"
)

type staticCreds struct {
	token string
}

func (s staticCreds) IsAuthenticated(context.Context) bool { return s.token != "" }
func (s staticCreds) Token(context.Context) (string, error) {
	if s.token == "" {
		return "", remote.ErrNoCredential
	}
	return s.token, nil
}
func (s staticCreds) RequestAccess(context.Context, string) (bool, error) { return false, nil }

func newClient(t *testing.T, creds remote.CredentialProvider, opts ...Option) *Client {
	t.Helper()
	c, err := New(context.Background(), "sheet-1", creds, opts...)
	require.NoError(t, err)
	return c
}

func TestGetWithAPIKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v4/spreadsheets/sheet-1/values/Assets!A2:Z", r.URL.Path)
		assert.Equal(t, "k123", r.URL.Query().Get("key"))
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `{"range":"Assets!A2:Z","values":[["A1","Pump",3,true],[]]}`)
	}))
	defer srv.Close()

	collector := metrics.NewCollector()
	c := newClient(t, nil, WithBaseURL(srv.URL), WithAPIKey("k123"), WithMetrics(collector))
	rows, err := c.Get(context.Background(), "Assets!A2:Z")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"A1", "Pump", "3", "true"}, {}}, rows)
	assert.Equal(t, int64(1), collector.Snapshot().RemoteFetch.Count)
}

func TestGetPrefersBearerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Empty(t, r.URL.Query().Get("key"))
		_, _ = io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	c := newClient(t, staticCreds{token: "tok"}, WithBaseURL(srv.URL), WithAPIKey("k123"))
	rows, err := c.Get(context.Background(), "TestResults!A2:Q")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestAppend(t *testing.T) {
	var got gsheets.ValueRange
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v4/spreadsheets/sheet-1/values/TestResults!A:Q:append", r.URL.Path)
		assert.Equal(t, "USER_ENTERED", r.URL.Query().Get("valueInputOption"))
		assert.Equal(t, "INSERT_ROWS", r.URL.Query().Get("insertDataOption"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"updates":{"updatedRows":2}}`)
	}))
	defer srv.Close()

	c := newClient(t, staticCreds{token: "tok"}, WithBaseURL(srv.URL))
	err := c.Append(context.Background(), "TestResults!A:Q", [][]string{{"A1", "1"}, {"A1", "2"}})
	require.NoError(t, err)
	require.Len(t, got.Values, 2)
	assert.Equal(t, "2", got.Values[1][1])
}

func TestAppendRequiresCredential(t *testing.T) {
	c := newClient(t, staticCreds{}, WithBaseURL("http://127.0.0.1:0"))
	err := c.Append(context.Background(), "TestResults!A:Q", [][]string{{"x"}})
	assert.ErrorIs(t, err, remote.ErrNoCredential)
}

func TestUpdate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/v4/spreadsheets/sheet-1/values/Assets!F2", r.URL.Path)
		var body gsheets.ValueRange
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Assets!F2", body.Range)
		_, _ = io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	c := newClient(t, staticCreds{token: "tok"}, WithBaseURL(srv.URL))
	require.NoError(t, c.Update(context.Background(), "Assets!F2", [][]string{{"Active"}}))
}

func TestStatusErrorsAreClassified(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, remote.ErrUnauthorized},
		{http.StatusForbidden, remote.ErrForbidden},
		{http.StatusServiceUnavailable, remote.ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, `{"error":{"message":"nope"}}`)
			}))
			defer srv.Close()

			collector := metrics.NewCollector()
			c := newClient(t, staticCreds{token: "tok"}, WithBaseURL(srv.URL), WithMetrics(collector))
			err := c.Append(context.Background(), "TestResults!A:Q", [][]string{{"x"}})
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, int64(1), collector.Snapshot().RowAppend.Errors)
		})
	}
}
