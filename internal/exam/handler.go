package exam

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"courseware/internal/app/apiresp"
	"courseware/internal/auth"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	svc examService
}

type examService interface {
	CreateExam(ctx context.Context, in UpsertDefinitionInput) (*Definition, error)
	UpdateExam(ctx context.Context, examID int64, in UpsertDefinitionInput) (*Definition, error)
	GetExam(ctx context.Context, examID int64) (*Definition, error)
	ListExams(ctx context.Context, includeUnpublished bool) ([]Definition, error)
	DeleteExam(ctx context.Context, examID int64) error
	UnpublishExam(ctx context.Context, examID int64) error
	StartAttempt(ctx context.Context, examID, studentID int64) (*Attempt, error)
	SaveAnswers(ctx context.Context, attemptID int64, partial Answers) error
	SubmitAttempt(ctx context.Context, attemptID int64) (*Attempt, error)
	GetAttempt(ctx context.Context, attemptID int64) (*Attempt, error)
	GetAttemptResult(ctx context.Context, attemptID int64) (*AttemptResult, error)
	GetAttemptOwner(ctx context.Context, attemptID int64) (int64, error)
}

type response struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type startAttemptRequest struct {
	ExamID int64 `json:"exam_id"`
}

type saveAnswersRequest struct {
	Answers Answers `json:"answers"`
}

type examManageRequest struct {
	UnitID           int64           `json:"unit_id"`
	Code             string          `json:"code"`
	Title            string          `json:"title"`
	Content          json.RawMessage `json:"content"`
	PassingScore     float64         `json:"passing_score"`
	MCWeight         float64         `json:"mc_weight"`
	FRWeight         float64         `json:"fr_weight"`
	MaxAttempts      int             `json:"max_attempts"`
	TimeLimitMinutes int             `json:"time_limit_minutes"`
	AvailableFrom    string          `json:"available_from"`
	AvailableUntil   string          `json:"available_until"`
	Publish          bool            `json:"publish"`
}

func NewHandler(svc examService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	var req startAttemptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}
	if req.ExamID <= 0 {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "exam_id is required"})
		return
	}

	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "unauthorized"})
		return
	}

	attempt, err := h.svc.StartAttempt(r.Context(), req.ExamID, user.ID)
	if err != nil {
		switch {
		case errors.Is(err, ErrExamNotFound):
			writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: "exam not found"})
		case errors.Is(err, ErrNotEnrolled):
			writeJSON(w, r, http.StatusForbidden, response{OK: false, Error: err.Error()})
		case errors.Is(err, ErrExamNotAvailable), errors.Is(err, ErrMaxAttemptsReached):
			writeJSON(w, r, http.StatusUnprocessableEntity, response{OK: false, Error: err.Error()})
		default:
			writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		}
		return
	}

	writeJSON(w, r, http.StatusCreated, response{OK: true, Data: attempt})
}

func (h *Handler) GetAttempt(w http.ResponseWriter, r *http.Request) {
	attemptID, user, ok := h.attemptFromRequest(w, r)
	if !ok {
		return
	}
	if err := h.authorizeAttemptAccess(r, user, attemptID); err != nil {
		writeAttemptAccessError(w, r, err)
		return
	}

	attempt, err := h.svc.GetAttempt(r.Context(), attemptID)
	if err != nil {
		writeAttemptError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: attempt})
}

func (h *Handler) SaveAnswers(w http.ResponseWriter, r *http.Request) {
	attemptID, user, ok := h.attemptFromRequest(w, r)
	if !ok {
		return
	}
	if err := h.authorizeAttemptAccess(r, user, attemptID); err != nil {
		writeAttemptAccessError(w, r, err)
		return
	}

	var req saveAnswersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}

	if err := h.svc.SaveAnswers(r.Context(), attemptID, req.Answers); err != nil {
		writeAttemptError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: map[string]string{"status": "saved"}})
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	attemptID, user, ok := h.attemptFromRequest(w, r)
	if !ok {
		return
	}
	if err := h.authorizeAttemptAccess(r, user, attemptID); err != nil {
		writeAttemptAccessError(w, r, err)
		return
	}

	attempt, err := h.svc.SubmitAttempt(r.Context(), attemptID)
	if err != nil {
		writeAttemptError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: attempt})
}

func (h *Handler) Result(w http.ResponseWriter, r *http.Request) {
	attemptID, user, ok := h.attemptFromRequest(w, r)
	if !ok {
		return
	}
	if err := h.authorizeAttemptAccess(r, user, attemptID); err != nil {
		writeAttemptAccessError(w, r, err)
		return
	}

	result, err := h.svc.GetAttemptResult(r.Context(), attemptID)
	if err != nil {
		writeAttemptError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: result})
}

func (h *Handler) ListAdminExams(w http.ResponseWriter, r *http.Request) {
	includeUnpublished := r.URL.Query().Get("include_unpublished") == "1"
	items, err := h.svc.ListExams(r.Context(), includeUnpublished)
	if err != nil {
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: items})
}

func (h *Handler) CreateExam(w http.ResponseWriter, r *http.Request) {
	in, ok := h.decodeManageRequest(w, r)
	if !ok {
		return
	}

	item, err := h.svc.CreateExam(r.Context(), in)
	if err != nil {
		writeManageError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, response{OK: true, Data: item})
}

func (h *Handler) GetExam(w http.ResponseWriter, r *http.Request) {
	examID, ok := idFromURL(w, r, "invalid exam id")
	if !ok {
		return
	}
	item, err := h.svc.GetExam(r.Context(), examID)
	if err != nil {
		writeManageError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: item})
}

func (h *Handler) UpdateExam(w http.ResponseWriter, r *http.Request) {
	examID, ok := idFromURL(w, r, "invalid exam id")
	if !ok {
		return
	}
	in, ok := h.decodeManageRequest(w, r)
	if !ok {
		return
	}

	item, err := h.svc.UpdateExam(r.Context(), examID, in)
	if err != nil {
		writeManageError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: item})
}

func (h *Handler) DeleteExam(w http.ResponseWriter, r *http.Request) {
	examID, ok := idFromURL(w, r, "invalid exam id")
	if !ok {
		return
	}
	if err := h.svc.DeleteExam(r.Context(), examID); err != nil {
		writeManageError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: map[string]string{"status": "deleted"}})
}

func (h *Handler) UnpublishExam(w http.ResponseWriter, r *http.Request) {
	examID, ok := idFromURL(w, r, "invalid exam id")
	if !ok {
		return
	}
	if err := h.svc.UnpublishExam(r.Context(), examID); err != nil {
		writeManageError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: map[string]string{"status": "unpublished"}})
}

func (h *Handler) decodeManageRequest(w http.ResponseWriter, r *http.Request) (UpsertDefinitionInput, bool) {
	var req examManageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return UpsertDefinitionInput{}, false
	}

	in := UpsertDefinitionInput{
		UnitID:           req.UnitID,
		Code:             req.Code,
		Title:            req.Title,
		Content:          req.Content,
		PassingScore:     req.PassingScore,
		MCWeight:         req.MCWeight,
		FRWeight:         req.FRWeight,
		MaxAttempts:      req.MaxAttempts,
		TimeLimitMinutes: req.TimeLimitMinutes,
		Publish:          req.Publish,
	}
	if user, ok := auth.CurrentUser(r.Context()); ok {
		in.ActorID = user.ID
	}

	var ok bool
	if in.AvailableFrom, ok = parseOptionalTime(w, r, req.AvailableFrom, "available_from"); !ok {
		return UpsertDefinitionInput{}, false
	}
	if in.AvailableUntil, ok = parseOptionalTime(w, r, req.AvailableUntil, "available_until"); !ok {
		return UpsertDefinitionInput{}, false
	}
	return in, true
}

func (h *Handler) attemptFromRequest(w http.ResponseWriter, r *http.Request) (int64, *auth.User, bool) {
	attemptID, ok := idFromURL(w, r, "invalid attempt id")
	if !ok {
		return 0, nil, false
	}
	user, authed := auth.CurrentUser(r.Context())
	if !authed {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "unauthorized"})
		return 0, nil, false
	}
	return attemptID, user, true
}

func (h *Handler) authorizeAttemptAccess(r *http.Request, user *auth.User, attemptID int64) error {
	if user.Role == auth.RoleAdmin || user.Role == auth.RoleInstructor {
		return nil
	}

	ownerID, err := h.svc.GetAttemptOwner(r.Context(), attemptID)
	if err != nil {
		return err
	}
	if ownerID != user.ID {
		return ErrAttemptForbidden
	}
	return nil
}

func writeAttemptAccessError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrAttemptNotFound):
		writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: "attempt not found"})
	case errors.Is(err, ErrAttemptForbidden):
		writeJSON(w, r, http.StatusForbidden, response{OK: false, Error: "forbidden"})
	default:
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
	}
}

func writeAttemptError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrAttemptNotFound):
		writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: "attempt not found"})
	case errors.Is(err, ErrAttemptNotSubmitted):
		writeJSON(w, r, http.StatusUnprocessableEntity, response{OK: false, Error: err.Error()})
	case errors.Is(err, ErrAttemptNotEditable), errors.Is(err, ErrDeadlineExceeded):
		writeJSON(w, r, http.StatusUnprocessableEntity, response{OK: false, Error: err.Error()})
	default:
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
	}
}

func writeManageError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrMalformedContent):
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: err.Error()})
	case errors.Is(err, ErrExamNotFound):
		writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: "exam not found"})
	case errors.Is(err, ErrExamCodeExists):
		writeJSON(w, r, http.StatusConflict, response{OK: false, Error: err.Error()})
	case errors.Is(err, ErrExamHasGradedWork):
		writeJSON(w, r, http.StatusConflict, response{OK: false, Error: err.Error()})
	default:
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
	}
}

func parseOptionalTime(w http.ResponseWriter, r *http.Request, value, field string) (*time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: field + " must be RFC3339"})
		return nil, false
	}
	return &t, true
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
