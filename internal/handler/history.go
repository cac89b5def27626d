package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/python-sandbox/internal/apperror"
)

// HistoryHandler exposes recorded executions.
type HistoryHandler struct {
	svc    ExecutionService
	logger *slog.Logger
}

// NewHistoryHandler creates a new HistoryHandler.
func NewHistoryHandler(svc ExecutionService, logger *slog.Logger) *HistoryHandler {
	return &HistoryHandler{svc: svc, logger: logger}
}

// HandleList returns recent executions, newest first.
//
// HTTP: GET /api/executions?limit=20
//
// With history disabled the list is simply empty.
func (h *HistoryHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, apperror.ValidationFailed("limit", "limit must be a positive integer"))
			return
		}
		limit = n
	}

	executions, err := h.svc.History(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list executions", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, executions)
}

// HandleGet returns one execution.
//
// HTTP: GET /api/executions/{id}
func (h *HistoryHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	execution, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, execution)
}
