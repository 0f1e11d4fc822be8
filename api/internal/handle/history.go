package handle

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"exam-grader/api/internal/export"
	"exam-grader/api/internal/prompt"
	"exam-grader/api/internal/store"
)

// --- HISTORY ----------------------------------------------------------------

// GetGrading returns a stored grading by id.
func (h *Handle) GetGrading(w http.ResponseWriter, r *http.Request) {
	row, ok := h.loadGrading(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":        row.ID,
		"createdAt": row.CreatedAt,
		"backend":   row.Backend,
		"model":     row.Model,
		"question":  row.Question,
		"result":    row.Result,
	})
}

// GradingXLSX streams a stored grading as a spreadsheet.
func (h *Handle) GradingXLSX(w http.ResponseWriter, r *http.Request) {
	row, ok := h.loadGrading(w, r)
	if !ok {
		return
	}
	b, err := export.GradingXLSX(row.Question, row.Result)
	if err != nil {
		h.log.Error().Err(err).Str("id", row.ID.String()).Msg("export.xlsx.failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "export failed"})
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="grading-%s.xlsx"`, row.ID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

// Schema serves the JSON Schema replies are validated against.
func (h *Handle) Schema(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, prompt.ResultSchema())
}

func (h *Handle) loadGrading(w http.ResponseWriter, r *http.Request) (*store.GradingRow, bool) {
	if h.history == nil {
		writeJSON(w, http.StatusNotImplemented, errorBody{Error: "grading history is not enabled"})
		return nil, false
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad id"})
		return nil, false
	}
	row, err := h.history.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
		return nil, false
	}
	if err != nil {
		h.log.Error().Err(err).Str("id", id.String()).Msg("history.get.failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "lookup failed"})
		return nil, false
	}
	return row, true
}
