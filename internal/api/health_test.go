package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/Jeanedlune/idbkv/engine/memory"
	"github.com/Jeanedlune/idbkv/idb"
)

func newTestServer() *Server {
	return NewServer(idb.New(memory.NewFactory()), zerolog.Nop())
}

func TestHealthCheck(t *testing.T) {
	server := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	server.HealthCheck(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var response map[string]string
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if response["status"] != "ok" {
		t.Errorf("Expected status 'ok', got '%s'", response["status"])
	}

	contentType := w.Header().Get("Content-Type")
	if contentType != "application/json" {
		t.Errorf("Expected Content-Type 'application/json', got '%s'", contentType)
	}
}

func TestReadinessCheck(t *testing.T) {
	server := newTestServer()

	check := func(wantCode int, wantStatus string) {
		t.Helper()
		w := httptest.NewRecorder()
		server.ReadinessCheck(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

		if w.Code != wantCode {
			t.Errorf("Expected status %d, got %d", wantCode, w.Code)
		}
		var response map[string]string
		if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		if response["status"] != wantStatus {
			t.Errorf("Expected status '%s', got '%s'", wantStatus, response["status"])
		}
	}

	// Not ready until marked
	check(http.StatusServiceUnavailable, "not ready")

	server.SetReady(true)
	check(http.StatusOK, "ready")

	server.SetReady(false)
	check(http.StatusServiceUnavailable, "not ready")
}
