package grading

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"courseware/internal/app/apiresp"
	"courseware/internal/auth"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

type Handler struct {
	svc      gradingService
	validate *validator.Validate
}

type gradingService interface {
	ListGradingQueue(ctx context.Context, examID int64) ([]QueueItem, error)
	GetGradingDetail(ctx context.Context, attemptID int64) (*Detail, error)
	UpdateScore(ctx context.Context, in ScoreInput) (*Result, error)
	CompleteGrading(ctx context.Context, attemptID, graderID int64, feedback string, needsReview bool) (*Result, error)
}

type response struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type updateScoreRequest struct {
	Score    *float64 `json:"score" validate:"required,gte=0"`
	Feedback string   `json:"feedback" validate:"max=4000"`
}

type completeGradingRequest struct {
	Feedback    string `json:"feedback" validate:"max=4000"`
	NeedsReview bool   `json:"needs_review"`
}

func NewHandler(svc gradingService) *Handler {
	return &Handler{
		svc:      svc,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (h *Handler) Queue(w http.ResponseWriter, r *http.Request) {
	var examID int64
	if raw := strings.TrimSpace(r.URL.Query().Get("exam_id")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid exam_id"})
			return
		}
		examID = id
	}

	items, err := h.svc.ListGradingQueue(r.Context(), examID)
	if err != nil {
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: items})
}

func (h *Handler) Detail(w http.ResponseWriter, r *http.Request) {
	attemptID, ok := attemptIDFromURL(w, r)
	if !ok {
		return
	}
	detail, err := h.svc.GetGradingDetail(r.Context(), attemptID)
	if err != nil {
		writeGradingError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: detail})
}

func (h *Handler) UpdateScore(w http.ResponseWriter, r *http.Request) {
	attemptID, ok := attemptIDFromURL(w, r)
	if !ok {
		return
	}
	questionKey := chi.URLParam(r, "questionKey")
	if questionKey == "" {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "question key is required"})
		return
	}

	var req updateScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: validationMessage(err)})
		return
	}

	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "unauthorized"})
		return
	}

	result, err := h.svc.UpdateScore(r.Context(), ScoreInput{
		AttemptID:   attemptID,
		QuestionKey: questionKey,
		Score:       *req.Score,
		Feedback:    req.Feedback,
		GraderID:    user.ID,
	})
	if err != nil {
		writeGradingError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: result})
}

func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	attemptID, ok := attemptIDFromURL(w, r)
	if !ok {
		return
	}

	var req completeGradingRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
			return
		}
		if err := h.validate.Struct(req); err != nil {
			writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: validationMessage(err)})
			return
		}
	}

	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "unauthorized"})
		return
	}

	result, err := h.svc.CompleteGrading(r.Context(), attemptID, user.ID, req.Feedback, req.NeedsReview)
	if err != nil {
		writeGradingError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: result})
}

func writeGradingError(w http.ResponseWriter, r *http.Request, err error) {
	var incomplete *IncompleteError
	switch {
	case errors.As(err, &incomplete):
		writeJSON(w, r, http.StatusPreconditionFailed, response{OK: false, Error: incomplete.Error()})
	case errors.Is(err, ErrAttemptNotFound), errors.Is(err, ErrResponseNotFound):
		writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: err.Error()})
	case errors.Is(err, ErrAttemptNotSubmitted), errors.Is(err, ErrNotManuallyGradable):
		writeJSON(w, r, http.StatusUnprocessableEntity, response{OK: false, Error: err.Error()})
	case errors.Is(err, ErrGradingClosed):
		writeJSON(w, r, http.StatusConflict, response{OK: false, Error: err.Error()})
	case errors.Is(err, ErrScoreOutOfRange):
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: err.Error()})
	default:
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
	}
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		f := verrs[0]
		return fmt.Sprintf("field %s failed on %s", f.Field(), f.Tag())
	}
	return "invalid request"
}

func attemptIDFromURL(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid attempt id"})
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
