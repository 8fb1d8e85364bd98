package relay

import (
	"errors"
	"io"
	"net/http"

	"github.com/roach88/duet/internal/store"
)

func (s *Server) handleKVGet(w http.ResponseWriter, r *http.Request) {
	if s.kv == nil {
		http.Error(w, "storage is not configured", http.StatusServiceUnavailable)
		return
	}
	key := r.PathValue("key")
	value, err := s.kv.Get(r.Context(), key)
	if errors.Is(err, store.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		s.logger.Error("kv get failed", "key", key, "error", err)
		http.Error(w, "storage error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(value)
}

func (s *Server) handleKVPut(w http.ResponseWriter, r *http.Request) {
	if s.kv == nil {
		http.Error(w, "storage is not configured", http.StatusServiceUnavailable)
		return
	}
	key := r.PathValue("key")
	value, err := io.ReadAll(http.MaxBytesReader(w, r.Body, store.MaxValueBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "value too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	if err := s.kv.Set(r.Context(), key, value); err != nil {
		s.logger.Error("kv set failed", "key", key, "error", err)
		http.Error(w, "storage error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
