package catalog

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
	svc catalogService
}

type catalogService interface {
	ListCourses(ctx context.Context, includeInactive bool) ([]Course, error)
	GetCourse(ctx context.Context, courseID int64) (*CourseDetail, error)
	CreateCourse(ctx context.Context, in UpsertCourseInput) (*Course, error)
	UpdateCourse(ctx context.Context, courseID int64, in UpsertCourseInput) (*Course, error)
	CreateUnit(ctx context.Context, in UpsertUnitInput) (*Unit, error)
	UpdateUnit(ctx context.Context, unitID int64, in UpsertUnitInput) (*Unit, error)
}

type response struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type courseRequest struct {
	Code        string `json:"code"`
	Title       string `json:"title"`
	Description string `json:"description"`
	IsActive    *bool  `json:"is_active"`
}

type unitRequest struct {
	CourseID int64  `json:"course_id"`
	Title    string `json:"title"`
	Position int    `json:"position"`
}

func NewHandler(svc catalogService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) ListCourses(w http.ResponseWriter, r *http.Request) {
	includeInactive := false
	if user, ok := auth.CurrentUser(r.Context()); ok && auth.IsStaff(user.Role) {
		includeInactive = r.URL.Query().Get("include_inactive") == "1"
	}

	items, err := h.svc.ListCourses(r.Context(), includeInactive)
	if err != nil {
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: items})
}

func (h *Handler) GetCourse(w http.ResponseWriter, r *http.Request) {
	courseID, ok := idFromURL(w, r, "invalid course id")
	if !ok {
		return
	}
	detail, err := h.svc.GetCourse(r.Context(), courseID)
	if err != nil {
		writeCatalogError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: detail})
}

func (h *Handler) CreateCourse(w http.ResponseWriter, r *http.Request) {
	var req courseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}
	item, err := h.svc.CreateCourse(r.Context(), UpsertCourseInput{
		Code:        req.Code,
		Title:       req.Title,
		Description: req.Description,
		IsActive:    req.IsActive,
	})
	if err != nil {
		writeCatalogError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, response{OK: true, Data: item})
}

func (h *Handler) UpdateCourse(w http.ResponseWriter, r *http.Request) {
	courseID, ok := idFromURL(w, r, "invalid course id")
	if !ok {
		return
	}
	var req courseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}
	item, err := h.svc.UpdateCourse(r.Context(), courseID, UpsertCourseInput{
		Code:        req.Code,
		Title:       req.Title,
		Description: req.Description,
		IsActive:    req.IsActive,
	})
	if err != nil {
		writeCatalogError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: item})
}

func (h *Handler) CreateUnit(w http.ResponseWriter, r *http.Request) {
	var req unitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}
	item, err := h.svc.CreateUnit(r.Context(), UpsertUnitInput{
		CourseID: req.CourseID,
		Title:    req.Title,
		Position: req.Position,
	})
	if err != nil {
		writeCatalogError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, response{OK: true, Data: item})
}

func (h *Handler) UpdateUnit(w http.ResponseWriter, r *http.Request) {
	unitID, ok := idFromURL(w, r, "invalid unit id")
	if !ok {
		return
	}
	var req unitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}
	item, err := h.svc.UpdateUnit(r.Context(), unitID, UpsertUnitInput{
		Title:    req.Title,
		Position: req.Position,
	})
	if err != nil {
		writeCatalogError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: item})
}

func writeCatalogError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: err.Error()})
	case errors.Is(err, ErrCourseNotFound):
		writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: "course not found"})
	case errors.Is(err, ErrUnitNotFound):
		writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: "unit not found"})
	default:
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
	}
}

func idFromURL(w http.ResponseWriter, r *http.Request, errMsg string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: errMsg})
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, payload response) {
	if payload.OK {
		apiresp.WriteOK(w, r, code, payload.Data)
		return
	}
	apiresp.WriteError(w, r, code, payload.Error)
}
