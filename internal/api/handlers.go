package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/Jeanedlune/idbkv/codec"
	"github.com/Jeanedlune/idbkv/engine"
	"github.com/Jeanedlune/idbkv/idb"
	"github.com/Jeanedlune/idbkv/internal/metrics"
	"github.com/Jeanedlune/idbkv/internal/snapshot"
)

type Server struct {
	store    *idb.Store
	validate *validator.Validate
	logger   zerolog.Logger
	ready    atomic.Bool
}

func NewServer(store *idb.Store, logger zerolog.Logger) *Server {
	return &Server{
		store:    store,
		validate: validator.New(),
		logger:   logger,
	}
}

// KV handlers
type KeyValueRequest struct {
	Value json.RawMessage `json:"value" validate:"required"`
}

type KeyValueResponse struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

type KeysResponse struct {
	Keys []string `json:"keys"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// fail maps store errors onto HTTP statuses.
func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, codec.ErrUnsupported), errors.Is(err, snapshot.ErrInvalid):
		status = http.StatusBadRequest
	case errors.Is(err, engine.ErrClosed):
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("operation", op).Msg("store operation failed")
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func (s *Server) SetValue(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	key := chi.URLParam(r, "key")

	var req KeyValueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	value, err := codec.FromJSON(req.Value)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	err = s.store.Set(key, value)
	metrics.ObserveOperation("set", start, err)
	if err != nil {
		s.fail(w, "set", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) GetValue(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	key := chi.URLParam(r, "key")

	value, err := s.store.Get(key)
	metrics.ObserveOperation("get", start, err)
	if err != nil {
		s.fail(w, "get", err)
		return
	}
	if codec.IsUndefined(value) {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "key not found"})
		return
	}
	writeJSON(w, http.StatusOK, KeyValueResponse{Key: key, Value: codec.ToJSON(value)})
}

func (s *Server) DeleteValue(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	err := s.store.Remove(chi.URLParam(r, "key"))
	metrics.ObserveOperation("remove", start, err)
	if err != nil {
		s.fail(w, "remove", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) ListKeys(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	keys, err := s.store.Keys()
	metrics.ObserveOperation("keys", start, err)
	if err != nil {
		s.fail(w, "keys", err)
		return
	}
	metrics.StoredKeys.Set(float64(len(keys)))
	writeJSON(w, http.StatusOK, KeysResponse{Keys: keys})
}

func (s *Server) ClearValues(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	err := s.store.Clear()
	metrics.ObserveOperation("clear", start, err)
	if err != nil {
		s.fail(w, "clear", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Snapshot handlers
func (s *Server) DumpSnapshot(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	snap, err := snapshot.Dump(s.store, &buf)
	if err != nil {
		s.fail(w, "dump", err)
		return
	}
	s.logger.Info().Str("snapshot_id", snap.ID).Int("entries", len(snap.Entries)).Msg("snapshot dumped")
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) RestoreSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := snapshot.Restore(s.store, r.Body)
	if err != nil {
		s.fail(w, "restore", err)
		return
	}
	s.logger.Info().Str("snapshot_id", snap.ID).Int("entries", len(snap.Entries)).Msg("snapshot restored")
	w.WriteHeader(http.StatusNoContent)
}

// Health handlers
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// SetReady toggles the readiness probe
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}
