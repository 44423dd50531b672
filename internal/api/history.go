package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/sagehq/sage/internal/store"
)

func (s *Server) listHistory(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "storage not configured")
		return
	}
	exchanges, err := s.store.ListExchanges(r.Context())
	if err != nil {
		s.logger.Error("failed to list exchanges", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read history")
		return
	}
	if exchanges == nil {
		exchanges = []store.Exchange{}
	}
	writeJSON(w, http.StatusOK, exchanges)
}

func (s *Server) deleteHistory(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "storage not configured")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid exchange id")
		return
	}
	found, err := s.store.DeleteExchange(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to delete exchange", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete exchange")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "exchange not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "exchange deleted"})
}

func (s *Server) deleteAllHistory(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "storage not configured")
		return
	}
	n, err := s.store.DeleteAll(r.Context())
	if err != nil {
		s.logger.Error("failed to clear history", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to clear history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}
