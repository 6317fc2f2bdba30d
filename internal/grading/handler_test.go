package grading

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"courseware/internal/auth"

	"github.com/go-chi/chi/v5"
)

type mockGradingService struct {
	listQueueFn   func(ctx context.Context, examID int64) ([]QueueItem, error)
	getDetailFn   func(ctx context.Context, attemptID int64) (*Detail, error)
	updateScoreFn func(ctx context.Context, in ScoreInput) (*Result, error)
	completeFn    func(ctx context.Context, attemptID, graderID int64, feedback string, needsReview bool) (*Result, error)
}

func (m *mockGradingService) ListGradingQueue(ctx context.Context, examID int64) ([]QueueItem, error) {
	if m.listQueueFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.listQueueFn(ctx, examID)
}

func (m *mockGradingService) GetGradingDetail(ctx context.Context, attemptID int64) (*Detail, error) {
	if m.getDetailFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.getDetailFn(ctx, attemptID)
}

func (m *mockGradingService) UpdateScore(ctx context.Context, in ScoreInput) (*Result, error) {
	if m.updateScoreFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.updateScoreFn(ctx, in)
}

func (m *mockGradingService) CompleteGrading(ctx context.Context, attemptID, graderID int64, feedback string, needsReview bool) (*Result, error) {
	if m.completeFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.completeFn(ctx, attemptID, graderID, feedback, needsReview)
}

func newTestRouter(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Get("/admin/grading/queue", h.Queue)
	r.Get("/admin/grading/attempts/{id}", h.Detail)
	r.Put("/admin/grading/attempts/{id}/scores/{questionKey}", h.UpdateScore)
	r.Post("/admin/grading/attempts/{id}/complete", h.Complete)
	return r
}

func doRequest(r chi.Router, method, path string, body []byte, user *auth.User) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if user != nil {
		req = req.WithContext(auth.ContextWithUser(req.Context(), user))
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestUpdateScoreHandler(t *testing.T) {
	grader := &auth.User{ID: 3, Role: auth.RoleInstructor}

	tests := []struct {
		name       string
		body       string
		updateFn   func(ctx context.Context, in ScoreInput) (*Result, error)
		wantStatus int
	}{
		{
			name: "score recorded",
			body: `{"score":4.5,"feedback":"solid reasoning"}`,
			updateFn: func(ctx context.Context, in ScoreInput) (*Result, error) {
				if in.AttemptID != 9 || in.QuestionKey != "2-0" {
					t.Fatalf("update called with %+v", in)
				}
				if in.Score != 4.5 || in.GraderID != 3 {
					t.Fatalf("update called with %+v", in)
				}
				return &Result{AttemptID: 9, ManualScore: 75, FinalScore: 82, GradingStatus: "in_progress", Pending: 1}, nil
			},
			wantStatus: http.StatusOK,
		},
		{name: "score missing", body: `{"feedback":"x"}`, wantStatus: http.StatusBadRequest},
		{name: "score negative", body: `{"score":-1}`, wantStatus: http.StatusBadRequest},
		{
			name: "score above question maximum",
			body: `{"score":11}`,
			updateFn: func(ctx context.Context, in ScoreInput) (*Result, error) {
				return nil, ErrScoreOutOfRange
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "mc response not gradable",
			body: `{"score":1}`,
			updateFn: func(ctx context.Context, in ScoreInput) (*Result, error) {
				return nil, ErrNotManuallyGradable
			},
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name: "attempt already finalized",
			body: `{"score":1}`,
			updateFn: func(ctx context.Context, in ScoreInput) (*Result, error) {
				return nil, ErrGradingClosed
			},
			wantStatus: http.StatusConflict,
		},
		{
			name: "unknown response",
			body: `{"score":1}`,
			updateFn: func(ctx context.Context, in ScoreInput) (*Result, error) {
				return nil, ErrResponseNotFound
			},
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHandler(&mockGradingService{updateScoreFn: tc.updateFn})
			rec := doRequest(newTestRouter(h), http.MethodPut, "/admin/grading/attempts/9/scores/2-0", []byte(tc.body), grader)
			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d, body %s", rec.Code, tc.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestCompleteHandler_IncompleteGradingPreconditionFailed(t *testing.T) {
	grader := &auth.User{ID: 3, Role: auth.RoleInstructor}
	h := NewHandler(&mockGradingService{
		completeFn: func(ctx context.Context, attemptID, graderID int64, feedback string, needsReview bool) (*Result, error) {
			return nil, &IncompleteError{Remaining: 2}
		},
	})

	rec := doRequest(newTestRouter(h), http.MethodPost, "/admin/grading/attempts/9/complete", nil, grader)
	if rec.Code != http.StatusPreconditionFailed {
		t.Fatalf("status = %d, want 412, body %s", rec.Code, rec.Body.String())
	}

	var envelope struct {
		OK    bool `json:"ok"`
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if envelope.Error.Code != "precondition_failed" {
		t.Fatalf("error code = %q, want precondition_failed", envelope.Error.Code)
	}
	if envelope.Error.Message != "grading incomplete: 2 response(s) ungraded" {
		t.Fatalf("error message = %q", envelope.Error.Message)
	}
}

func TestCompleteHandler_Success(t *testing.T) {
	grader := &auth.User{ID: 3, Role: auth.RoleInstructor}
	h := NewHandler(&mockGradingService{
		completeFn: func(ctx context.Context, attemptID, graderID int64, feedback string, needsReview bool) (*Result, error) {
			if feedback != "well done" {
				t.Fatalf("feedback = %q", feedback)
			}
			if needsReview {
				t.Fatal("needs_review should default to false")
			}
			return &Result{AttemptID: attemptID, FinalScore: 84, Passed: true, GradingStatus: "completed"}, nil
		},
	})

	body := []byte(`{"feedback":"well done"}`)
	rec := doRequest(newTestRouter(h), http.MethodPost, "/admin/grading/attempts/9/complete", body, grader)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body.String())
	}
}

func TestQueueHandler(t *testing.T) {
	grader := &auth.User{ID: 3, Role: auth.RoleInstructor}
	h := NewHandler(&mockGradingService{
		listQueueFn: func(ctx context.Context, examID int64) ([]QueueItem, error) {
			if examID != 4 {
				t.Fatalf("examID = %d, want 4", examID)
			}
			return []QueueItem{{
				AttemptID:   9,
				ExamTitle:   "Unit 1 exam",
				SubmittedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
				Pending:     2,
				Total:       12,
			}}, nil
		},
	})

	rec := doRequest(newTestRouter(h), http.MethodGet, "/admin/grading/queue?exam_id=4", nil, grader)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var envelope struct {
		OK   bool        `json:"ok"`
		Data []QueueItem `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(envelope.Data) != 1 || envelope.Data[0].Pending != 2 {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestIncompleteErrorMatchesSentinel(t *testing.T) {
	err := error(&IncompleteError{Remaining: 3})
	if !errors.Is(err, ErrGradingIncomplete) {
		t.Fatal("IncompleteError should match ErrGradingIncomplete")
	}
	var incomplete *IncompleteError
	if !errors.As(err, &incomplete) || incomplete.Remaining != 3 {
		t.Fatalf("errors.As failed: %v", err)
	}
}
