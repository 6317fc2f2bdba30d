package exam

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

type mockExamService struct {
	createExamFn       func(ctx context.Context, in UpsertDefinitionInput) (*Definition, error)
	updateExamFn       func(ctx context.Context, examID int64, in UpsertDefinitionInput) (*Definition, error)
	getExamFn          func(ctx context.Context, examID int64) (*Definition, error)
	listExamsFn        func(ctx context.Context, includeUnpublished bool) ([]Definition, error)
	deleteExamFn       func(ctx context.Context, examID int64) error
	unpublishExamFn    func(ctx context.Context, examID int64) error
	startAttemptFn     func(ctx context.Context, examID, studentID int64) (*Attempt, error)
	saveAnswersFn      func(ctx context.Context, attemptID int64, partial Answers) error
	submitAttemptFn    func(ctx context.Context, attemptID int64) (*Attempt, error)
	getAttemptFn       func(ctx context.Context, attemptID int64) (*Attempt, error)
	getAttemptResultFn func(ctx context.Context, attemptID int64) (*AttemptResult, error)
	getAttemptOwnerFn  func(ctx context.Context, attemptID int64) (int64, error)
}

func (m *mockExamService) CreateExam(ctx context.Context, in UpsertDefinitionInput) (*Definition, error) {
	if m.createExamFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.createExamFn(ctx, in)
}

func (m *mockExamService) UpdateExam(ctx context.Context, examID int64, in UpsertDefinitionInput) (*Definition, error) {
	if m.updateExamFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.updateExamFn(ctx, examID, in)
}

func (m *mockExamService) GetExam(ctx context.Context, examID int64) (*Definition, error) {
	if m.getExamFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.getExamFn(ctx, examID)
}

func (m *mockExamService) ListExams(ctx context.Context, includeUnpublished bool) ([]Definition, error) {
	if m.listExamsFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.listExamsFn(ctx, includeUnpublished)
}

func (m *mockExamService) DeleteExam(ctx context.Context, examID int64) error {
	if m.deleteExamFn == nil {
		return errors.New("not implemented")
	}
	return m.deleteExamFn(ctx, examID)
}

func (m *mockExamService) UnpublishExam(ctx context.Context, examID int64) error {
	if m.unpublishExamFn == nil {
		return errors.New("not implemented")
	}
	return m.unpublishExamFn(ctx, examID)
}

func (m *mockExamService) StartAttempt(ctx context.Context, examID, studentID int64) (*Attempt, error) {
	if m.startAttemptFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.startAttemptFn(ctx, examID, studentID)
}

func (m *mockExamService) SaveAnswers(ctx context.Context, attemptID int64, partial Answers) error {
	if m.saveAnswersFn == nil {
		return errors.New("not implemented")
	}
	return m.saveAnswersFn(ctx, attemptID, partial)
}

func (m *mockExamService) SubmitAttempt(ctx context.Context, attemptID int64) (*Attempt, error) {
	if m.submitAttemptFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.submitAttemptFn(ctx, attemptID)
}

func (m *mockExamService) GetAttempt(ctx context.Context, attemptID int64) (*Attempt, error) {
	if m.getAttemptFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.getAttemptFn(ctx, attemptID)
}

func (m *mockExamService) GetAttemptResult(ctx context.Context, attemptID int64) (*AttemptResult, error) {
	if m.getAttemptResultFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.getAttemptResultFn(ctx, attemptID)
}

func (m *mockExamService) GetAttemptOwner(ctx context.Context, attemptID int64) (int64, error) {
	if m.getAttemptOwnerFn == nil {
		return 0, errors.New("not implemented")
	}
	return m.getAttemptOwnerFn(ctx, attemptID)
}

func newTestRouter(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Post("/attempts/start", h.Start)
	r.Get("/attempts/{id}", h.GetAttempt)
	r.Put("/attempts/{id}/answers", h.SaveAnswers)
	r.Post("/attempts/{id}/submit", h.Submit)
	r.Get("/attempts/{id}/result", h.Result)
	r.Post("/admin/exams", h.CreateExam)
	r.Delete("/admin/exams/{id}", h.DeleteExam)
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

func TestStartHandler(t *testing.T) {
	student := &auth.User{ID: 7, Role: auth.RoleStudent}

	tests := []struct {
		name       string
		body       string
		user       *auth.User
		startFn    func(ctx context.Context, examID, studentID int64) (*Attempt, error)
		wantStatus int
	}{
		{
			name: "created",
			body: `{"exam_id":3}`,
			user: student,
			startFn: func(ctx context.Context, examID, studentID int64) (*Attempt, error) {
				if examID != 3 || studentID != 7 {
					t.Fatalf("start called with exam %d student %d", examID, studentID)
				}
				return &Attempt{ID: 11, ExamID: examID, StudentID: studentID, ExpiresAt: time.Now().Add(time.Hour)}, nil
			},
			wantStatus: http.StatusCreated,
		},
		{name: "missing exam id", body: `{}`, user: student, wantStatus: http.StatusBadRequest},
		{name: "unauthenticated", body: `{"exam_id":3}`, wantStatus: http.StatusUnauthorized},
		{
			name: "not enrolled",
			body: `{"exam_id":3}`,
			user: student,
			startFn: func(ctx context.Context, examID, studentID int64) (*Attempt, error) {
				return nil, ErrNotEnrolled
			},
			wantStatus: http.StatusForbidden,
		},
		{
			name: "window closed",
			body: `{"exam_id":3}`,
			user: student,
			startFn: func(ctx context.Context, examID, studentID int64) (*Attempt, error) {
				return nil, ErrExamNotAvailable
			},
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name: "attempts exhausted",
			body: `{"exam_id":3}`,
			user: student,
			startFn: func(ctx context.Context, examID, studentID int64) (*Attempt, error) {
				return nil, ErrMaxAttemptsReached
			},
			wantStatus: http.StatusUnprocessableEntity,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHandler(&mockExamService{startAttemptFn: tc.startFn})
			rec := doRequest(newTestRouter(h), http.MethodPost, "/attempts/start", []byte(tc.body), tc.user)
			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d, body %s", rec.Code, tc.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestAttemptOwnership(t *testing.T) {
	owner := &auth.User{ID: 7, Role: auth.RoleStudent}
	other := &auth.User{ID: 8, Role: auth.RoleStudent}
	instructor := &auth.User{ID: 2, Role: auth.RoleInstructor}

	svc := &mockExamService{
		getAttemptOwnerFn: func(ctx context.Context, attemptID int64) (int64, error) {
			return 7, nil
		},
		getAttemptFn: func(ctx context.Context, attemptID int64) (*Attempt, error) {
			return &Attempt{ID: attemptID, StudentID: 7}, nil
		},
	}
	r := newTestRouter(NewHandler(svc))

	if rec := doRequest(r, http.MethodGet, "/attempts/5", nil, owner); rec.Code != http.StatusOK {
		t.Fatalf("owner status = %d, want 200", rec.Code)
	}
	if rec := doRequest(r, http.MethodGet, "/attempts/5", nil, other); rec.Code != http.StatusForbidden {
		t.Fatalf("other student status = %d, want 403", rec.Code)
	}
	if rec := doRequest(r, http.MethodGet, "/attempts/5", nil, instructor); rec.Code != http.StatusOK {
		t.Fatalf("instructor status = %d, want 200", rec.Code)
	}
}

func TestSaveAnswersHandler(t *testing.T) {
	student := &auth.User{ID: 7, Role: auth.RoleStudent}

	tests := []struct {
		name       string
		saveErr    error
		wantStatus int
	}{
		{name: "saved", wantStatus: http.StatusOK},
		{name: "past deadline", saveErr: ErrDeadlineExceeded, wantStatus: http.StatusUnprocessableEntity},
		{name: "already submitted", saveErr: ErrAttemptNotEditable, wantStatus: http.StatusUnprocessableEntity},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := &mockExamService{
				getAttemptOwnerFn: func(ctx context.Context, attemptID int64) (int64, error) { return 7, nil },
				saveAnswersFn: func(ctx context.Context, attemptID int64, partial Answers) error {
					if tc.saveErr != nil {
						return tc.saveErr
					}
					if string(partial["0-0"]) != `"B"` {
						t.Fatalf("answers not passed through: %v", partial)
					}
					return nil
				},
			}
			body := []byte(`{"answers":{"0-0":"B"}}`)
			rec := doRequest(newTestRouter(NewHandler(svc)), http.MethodPut, "/attempts/5/answers", body, student)
			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d, body %s", rec.Code, tc.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestDeleteExamHandler_CompletedAttemptsConflict(t *testing.T) {
	admin := &auth.User{ID: 1, Role: auth.RoleAdmin}
	svc := &mockExamService{
		deleteExamFn: func(ctx context.Context, examID int64) error {
			return ErrExamHasGradedWork
		},
	}
	rec := doRequest(newTestRouter(NewHandler(svc)), http.MethodDelete, "/admin/exams/4", nil, admin)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409, body %s", rec.Code, rec.Body.String())
	}

	var envelope struct {
		OK    bool `json:"ok"`
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if envelope.OK || envelope.Error.Code != "conflict" {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestCreateExamHandler_MalformedContent(t *testing.T) {
	admin := &auth.User{ID: 1, Role: auth.RoleAdmin}
	svc := &mockExamService{
		createExamFn: func(ctx context.Context, in UpsertDefinitionInput) (*Definition, error) {
			return nil, ErrMalformedContent
		},
	}
	body := []byte(`{"unit_id":1,"code":"EX1","title":"Exam","content":{"bad":true}}`)
	rec := doRequest(newTestRouter(NewHandler(svc)), http.MethodPost, "/admin/exams", body, admin)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body %s", rec.Code, rec.Body.String())
	}
}
