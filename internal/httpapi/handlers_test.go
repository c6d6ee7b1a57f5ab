package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobq/internal/storage"
	"jobq/internal/version"
)

func newTestRouter(t *testing.T) (http.Handler, *storage.Store) {
	t.Helper()
	s, err := storage.NewStore(filepath.Join(t.TempDir(), "api_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return NewRouter(&Handler{Store: s}), s
}

func submitJob(t *testing.T, r http.Handler, body map[string]any) string {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewReader(b))
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)
	require.Equal(t, http.StatusAccepted, rw.Code, rw.Body.String())

	var out map[string]string
	require.NoError(t, json.NewDecoder(rw.Body).Decode(&out))
	require.NotEmpty(t, out["id"])
	return out["id"]
}

func TestSubmitAndGetJob(t *testing.T) {
	r, _ := newTestRouter(t)

	id := submitJob(t, r, map[string]any{
		"name":                "webhook",
		"function_identifier": "webhook",
		"parameters":          map[string]any{"url": "https://example.com/hook"},
	})

	req := httptest.NewRequest(http.MethodGet, "/jobs/"+id, nil)
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)
	require.Equal(t, http.StatusOK, rw.Code)
	assert.Equal(t, version.Version, rw.Header().Get("X-App-Version"))

	var rec storage.StatusRecord
	require.NoError(t, json.NewDecoder(rw.Body).Decode(&rec))
	assert.Equal(t, "webhook", rec.Job.Name)
	assert.Equal(t, storage.StatusPending, rec.Job.Status)
}

func TestSubmitInvalidJob(t *testing.T) {
	r, _ := newTestRouter(t)

	b, _ := json.Marshal(map[string]any{"name": "no-function"})
	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewReader(b))
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)
	assert.Equal(t, http.StatusBadRequest, rw.Code)
}

func TestGetJobNotFound(t *testing.T) {
	r, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/jobs/missing", nil)
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)
	assert.Equal(t, http.StatusNotFound, rw.Code)
}

func TestCancelFlow(t *testing.T) {
	r, _ := newTestRouter(t)

	id := submitJob(t, r, map[string]any{
		"name":                "j",
		"function_identifier": "f",
	})

	req := httptest.NewRequest(http.MethodPost, "/jobs/"+id+"/cancel", nil)
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)
	assert.Equal(t, http.StatusNoContent, rw.Code)

	// Cancelled is terminal: a second cancel conflicts.
	rw = httptest.NewRecorder()
	r.ServeHTTP(rw, httptest.NewRequest(http.MethodPost, "/jobs/"+id+"/cancel", nil))
	assert.Equal(t, http.StatusConflict, rw.Code)

	// But requeue is allowed from cancelled.
	rw = httptest.NewRecorder()
	r.ServeHTTP(rw, httptest.NewRequest(http.MethodPost, "/jobs/"+id+"/requeue", nil))
	assert.Equal(t, http.StatusNoContent, rw.Code)
}

func TestListJobsFiltered(t *testing.T) {
	r, s := newTestRouter(t)

	submitJob(t, r, map[string]any{"name": "a", "function_identifier": "f"})
	id := submitJob(t, r, map[string]any{"name": "b", "function_identifier": "f"})
	ok, err := s.Cancel(context.Background(), id)
	require.NoError(t, err)
	require.True(t, ok)

	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/jobs?status=pending", nil))
	require.Equal(t, http.StatusOK, rw.Code)

	var jobs []*storage.Job
	require.NoError(t, json.NewDecoder(rw.Body).Decode(&jobs))
	require.Len(t, jobs, 1)
	assert.Equal(t, "a", jobs[0].Name)

	rw = httptest.NewRecorder()
	r.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/jobs?status=bogus", nil))
	assert.Equal(t, http.StatusBadRequest, rw.Code)
}
