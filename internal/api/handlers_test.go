package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestKeyValueRoutes(t *testing.T) {
	h := newTestServer().Router()

	w := do(t, h, http.MethodPut, "/kv/b", `{"value": {"n": 1, "list": [true, null]}}`)
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())
	w = do(t, h, http.MethodPut, "/kv/a", `{"value": null}`)
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = do(t, h, http.MethodGet, "/kv/b", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"key": "b", "value": {"n": 1, "list": [true, null]}}`, w.Body.String())

	w = do(t, h, http.MethodGet, "/kv/a", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"key": "a", "value": null}`, w.Body.String())

	w = do(t, h, http.MethodGet, "/kv", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"keys": ["a", "b"]}`, w.Body.String())

	w = do(t, h, http.MethodDelete, "/kv/a", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = do(t, h, http.MethodGet, "/kv/a", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, h, http.MethodDelete, "/kv", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = do(t, h, http.MethodGet, "/kv", "")
	assert.JSONEq(t, `{"keys": []}`, w.Body.String())
}

func TestSetValueRejectsBadRequests(t *testing.T) {
	h := newTestServer().Router()

	for name, body := range map[string]string{
		"not json":      `{"value":`,
		"missing value": `{"other": 1}`,
	} {
		t.Run(name, func(t *testing.T) {
			w := do(t, h, http.MethodPut, "/kv/k", body)
			assert.Equal(t, http.StatusBadRequest, w.Code)

			var resp ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.NotEmpty(t, resp.Error)
		})
	}

	req := httptest.NewRequest(http.MethodPut, "/kv/k", strings.NewReader(`{"value": 1}`))
	req.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
}

func TestClosedStoreIsUnavailable(t *testing.T) {
	s := newTestServer()
	h := s.Router()
	require.Equal(t, http.StatusNoContent, do(t, h, http.MethodPut, "/kv/k", `{"value": 1}`).Code)
	require.NoError(t, s.store.Close())

	w := do(t, h, http.MethodGet, "/kv/k", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSnapshotRoutes(t *testing.T) {
	src := newTestServer().Router()
	require.Equal(t, http.StatusNoContent, do(t, src, http.MethodPut, "/kv/x", `{"value": "y"}`).Code)

	w := do(t, src, http.MethodGet, "/snapshot", "")
	require.Equal(t, http.StatusOK, w.Code)
	dump := w.Body.String()

	dst := newTestServer().Router()
	require.Equal(t, http.StatusNoContent, do(t, dst, http.MethodPut, "/kv/stale", `{"value": 0}`).Code)
	w = do(t, dst, http.MethodPost, "/snapshot", dump)
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = do(t, dst, http.MethodGet, "/kv", "")
	assert.JSONEq(t, `{"keys": ["x"]}`, w.Body.String())

	w = do(t, dst, http.MethodPost, "/snapshot", `garbage`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMetricsRoute(t *testing.T) {
	h := newTestServer().Router()
	do(t, h, http.MethodGet, "/kv/missing", "")

	w := do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `idbkv_operations_total{operation="get",status="success"}`)
}
