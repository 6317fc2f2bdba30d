package progress

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"courseware/internal/app/apiresp"
	"courseware/internal/auth"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	svc progressService
}

type progressService interface {
	Enroll(ctx context.Context, studentID, courseID int64) (*Enrollment, error)
	GetEnrollment(ctx context.Context, enrollmentID int64) (*Enrollment, error)
	ListProgress(ctx context.Context, enrollmentID int64) ([]Entry, error)
}

type response struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type enrollRequest struct {
	CourseID int64 `json:"course_id"`
}

func NewHandler(svc progressService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Enroll(w http.ResponseWriter, r *http.Request) {
	var req enrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}
	if req.CourseID <= 0 {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "course_id is required"})
		return
	}

	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "unauthorized"})
		return
	}

	enrollment, err := h.svc.Enroll(r.Context(), user.ID, req.CourseID)
	if err != nil {
		switch {
		case errors.Is(err, ErrCourseNotFound):
			writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: "course not found"})
		case errors.Is(err, ErrAlreadyEnrolled):
			writeJSON(w, r, http.StatusConflict, response{OK: false, Error: err.Error()})
		default:
			writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		}
		return
	}
	writeJSON(w, r, http.StatusCreated, response{OK: true, Data: enrollment})
}

func (h *Handler) ListProgress(w http.ResponseWriter, r *http.Request) {
	enrollmentID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || enrollmentID <= 0 {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid enrollment id"})
		return
	}

	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "unauthorized"})
		return
	}

	enrollment, err := h.svc.GetEnrollment(r.Context(), enrollmentID)
	if err != nil {
		if errors.Is(err, ErrEnrollmentNotFound) {
			writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: "enrollment not found"})
			return
		}
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}
	if user.Role == auth.RoleStudent && enrollment.StudentID != user.ID {
		writeJSON(w, r, http.StatusForbidden, response{OK: false, Error: "forbidden"})
		return
	}

	entries, err := h.svc.ListProgress(r.Context(), enrollmentID)
	if err != nil {
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: map[string]interface{}{
		"enrollment": enrollment,
		"entries":    entries,
	}})
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, payload response) {
	if payload.OK {
		apiresp.WriteOK(w, r, code, payload.Data)
		return
	}
	apiresp.WriteError(w, r, code, payload.Error)
}
