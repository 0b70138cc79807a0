package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/pennaio/penna/internal/archive"
)

type archiveHandler struct {
	store  *archive.Store
	logger *slog.Logger
}

func (h *archiveHandler) list(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		writeError(w, http.StatusBadRequest, "owner query parameter is required")
		return
	}
	recs, err := h.store.List(r.Context(), owner)
	if err != nil {
		h.logger.Error("listing archived conversations failed", "owner", owner, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if recs == nil {
		recs = []archive.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *archiveHandler) get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}
	rec, err := h.store.Get(r.Context(), id)
	if errors.Is(err, archive.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		h.logger.Error("loading archived conversation failed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *archiveHandler) remove(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}
	if err := h.store.Delete(r.Context(), id); err != nil {
		h.logger.Error("deleting archived conversation failed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
