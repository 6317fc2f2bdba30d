package report

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"courseware/internal/app/apiresp"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	examID, ok := examIDFromURL(w, r)
	if !ok {
		return
	}

	summary, err := h.svc.SummaryByExam(r.Context(), examID)
	if err != nil {
		if errors.Is(err, ErrExamNotFound) {
			apiresp.WriteError(w, r, http.StatusNotFound, "exam not found")
			return
		}
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, summary)
}

func (h *Handler) ExportExcel(w http.ResponseWriter, r *http.Request) {
	examID, ok := examIDFromURL(w, r)
	if !ok {
		return
	}

	data, err := h.svc.ExportExamResultsExcel(r.Context(), examID)
	if err != nil {
		if errors.Is(err, ErrExamNotFound) {
			apiresp.WriteError(w, r, http.StatusNotFound, "exam not found")
			return
		}
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="exam-%d-results.xlsx"`, examID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func examIDFromURL(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid exam id")
		return 0, false
	}
	return id, true
}
