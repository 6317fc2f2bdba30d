package grading

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"courseware/internal/exam"
	"courseware/internal/notify"
	"courseware/internal/progress"
)

var (
	ErrAttemptNotFound     = errors.New("attempt not found")
	ErrAttemptNotSubmitted = errors.New("attempt has not been submitted")
	ErrResponseNotFound    = errors.New("response not found")
	ErrNotManuallyGradable = errors.New("response is not manually gradable")
	ErrScoreOutOfRange     = errors.New("score out of range")
	ErrGradingClosed       = errors.New("grading already completed")
	ErrGradingIncomplete   = errors.New("grading incomplete")
)

// IncompleteError carries how many responses still await a grade. It
// matches ErrGradingIncomplete under errors.Is.
type IncompleteError struct {
	Remaining int
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("grading incomplete: %d response(s) ungraded", e.Remaining)
}

func (e *IncompleteError) Is(target error) bool { return target == ErrGradingIncomplete }

type Service struct {
	db       *sql.DB
	progress *progress.Service
	notifier notify.Notifier
}

func NewService(db *sql.DB, progressSvc *progress.Service, notifier notify.Notifier) *Service {
	return &Service{db: db, progress: progressSvc, notifier: notifier}
}

type QueueItem struct {
	AttemptID     int64     `json:"attempt_id"`
	ExamID        int64     `json:"exam_id"`
	ExamCode      string    `json:"exam_code"`
	ExamTitle     string    `json:"exam_title"`
	StudentID     int64     `json:"student_id"`
	StudentName   string    `json:"student_name"`
	SubmittedAt   time.Time `json:"submitted_at"`
	GradingStatus string    `json:"grading_status"`
	Pending       int       `json:"pending_responses"`
	Total         int       `json:"total_responses"`
}

type Detail struct {
	AttemptID     int64            `json:"attempt_id"`
	ExamID        int64            `json:"exam_id"`
	ExamTitle     string           `json:"exam_title"`
	StudentID     int64            `json:"student_id"`
	StudentName   string           `json:"student_name"`
	SubmittedAt   time.Time        `json:"submitted_at"`
	GradingStatus string           `json:"grading_status"`
	AutoScore     *float64         `json:"auto_graded_score,omitempty"`
	ManualScore   *float64         `json:"manual_graded_score,omitempty"`
	FinalScore    *float64         `json:"final_score,omitempty"`
	Responses     []DetailResponse `json:"responses"`
}

type DetailResponse struct {
	QuestionKey        string   `json:"question_key"`
	SectionID          string   `json:"section_id"`
	QuestionType       string   `json:"question_type"`
	Prompt             string   `json:"prompt,omitempty"`
	Answer             string   `json:"answer,omitempty"`
	IsCorrect          *bool    `json:"is_correct,omitempty"`
	PointsPossible     float64  `json:"points_possible"`
	PointsEarned       float64  `json:"points_earned"`
	InstructorScore    *float64 `json:"instructor_score,omitempty"`
	InstructorFeedback string   `json:"instructor_feedback,omitempty"`
	GradingStatus      string   `json:"grading_status"`
}

type ScoreInput struct {
	AttemptID   int64
	QuestionKey string
	Score       float64
	Feedback    string
	GraderID    int64
}

type Result struct {
	AttemptID     int64    `json:"attempt_id"`
	AutoScore     float64  `json:"auto_graded_score"`
	ManualScore   float64  `json:"manual_graded_score"`
	FinalScore    float64  `json:"final_score"`
	Passed        bool     `json:"passed"`
	GradingStatus string   `json:"grading_status"`
	Pending       int      `json:"pending_responses"`
}

// ListGradingQueue returns submitted attempts that still have grading work,
// oldest submission first. A non-zero examID narrows the queue to one exam.
func (s *Service) ListGradingQueue(ctx context.Context, examID int64) ([]QueueItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, e.id, e.code, e.title, u.id, u.full_name, a.completed_at, a.grading_status,
			COUNT(*) FILTER (WHERE r.grading_status = 'pending') AS pending,
			COUNT(r.question_key) AS total
		FROM attempts a
		JOIN exams e ON e.id = a.exam_id
		JOIN users u ON u.id = a.student_id
		LEFT JOIN attempt_responses r ON r.attempt_id = a.id
		WHERE a.completed_at IS NOT NULL
		  AND a.grading_status <> 'completed'
		  AND ($1 = 0 OR e.id = $1)
		GROUP BY a.id, e.id, e.code, e.title, u.id, u.full_name, a.completed_at, a.grading_status
		ORDER BY a.completed_at ASC
	`, examID)
	if err != nil {
		return nil, fmt.Errorf("query grading queue: %w", err)
	}
	defer rows.Close()

	out := make([]QueueItem, 0)
	for rows.Next() {
		var item QueueItem
		if err := rows.Scan(
			&item.AttemptID, &item.ExamID, &item.ExamCode, &item.ExamTitle,
			&item.StudentID, &item.StudentName, &item.SubmittedAt, &item.GradingStatus,
			&item.Pending, &item.Total,
		); err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate grading queue: %w", err)
	}
	return out, nil
}

// GetGradingDetail returns one submitted attempt with its responses joined
// against the authored prompts, so graders see question and answer together.
func (s *Service) GetGradingDetail(ctx context.Context, attemptID int64) (*Detail, error) {
	var (
		d           Detail
		submittedAt sql.NullTime
		autoScore   sql.NullFloat64
		manualScore sql.NullFloat64
		finalScore  sql.NullFloat64
		contentRaw  []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT a.id, e.id, e.title, u.id, u.full_name, a.completed_at, a.grading_status,
			a.auto_score, a.manual_score, a.score, e.content
		FROM attempts a
		JOIN exams e ON e.id = a.exam_id
		JOIN users u ON u.id = a.student_id
		WHERE a.id = $1
	`, attemptID).Scan(
		&d.AttemptID, &d.ExamID, &d.ExamTitle, &d.StudentID, &d.StudentName,
		&submittedAt, &d.GradingStatus, &autoScore, &manualScore, &finalScore, &contentRaw,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("load grading detail: %w", err)
	}
	if !submittedAt.Valid {
		return nil, ErrAttemptNotSubmitted
	}
	d.SubmittedAt = submittedAt.Time
	if autoScore.Valid {
		v := autoScore.Float64
		d.AutoScore = &v
	}
	if manualScore.Valid {
		v := manualScore.Float64
		d.ManualScore = &v
	}
	if finalScore.Valid {
		v := finalScore.Float64
		d.FinalScore = &v
	}

	content, err := exam.ParseContent(contentRaw)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT question_key, section_id, question_type, answer, is_correct,
			points_possible, points_earned, instructor_score, instructor_feedback, grading_status
		FROM attempt_responses
		WHERE attempt_id = $1
		ORDER BY section_id, question_key
	`, attemptID)
	if err != nil {
		return nil, fmt.Errorf("query responses: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			resp      DetailResponse
			answer    []byte
			isCorrect sql.NullBool
			score     sql.NullFloat64
			feedback  sql.NullString
		)
		if err := rows.Scan(
			&resp.QuestionKey, &resp.SectionID, &resp.QuestionType, &answer, &isCorrect,
			&resp.PointsPossible, &resp.PointsEarned, &score, &feedback, &resp.GradingStatus,
		); err != nil {
			return nil, fmt.Errorf("scan response: %w", err)
		}
		resp.Answer = string(answer)
		if isCorrect.Valid {
			v := isCorrect.Bool
			resp.IsCorrect = &v
		}
		if score.Valid {
			v := score.Float64
			resp.InstructorScore = &v
		}
		if feedback.Valid {
			resp.InstructorFeedback = feedback.String
		}
		if q, ok := content.FindFreeResponse(resp.QuestionKey); ok {
			resp.Prompt = q.Prompt
		}
		d.Responses = append(d.Responses, resp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate responses: %w", err)
	}

	return &d, nil
}

// UpdateScore records an instructor's grade for one free-response answer and
// recomputes the attempt's aggregates from every persisted response, never
// from deltas. Regrading a question while the attempt is still open is
// last-write-wins; a completed attempt is terminal. When the last pending
// response is graded the attempt finalizes here, propagation included.
func (s *Service) UpdateScore(ctx context.Context, in ScoreInput) (*Result, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin grade tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	att, err := lockAttempt(ctx, tx, in.AttemptID)
	if err != nil {
		return nil, err
	}
	if !att.submitted {
		return nil, ErrAttemptNotSubmitted
	}
	if att.gradingStatus == exam.GradingCompleted {
		return nil, ErrGradingClosed
	}

	var (
		questionType   string
		pointsPossible float64
	)
	err = tx.QueryRowContext(ctx, `
		SELECT question_type, points_possible
		FROM attempt_responses
		WHERE attempt_id = $1 AND question_key = $2
		FOR UPDATE
	`, in.AttemptID, in.QuestionKey).Scan(&questionType, &pointsPossible)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrResponseNotFound
		}
		return nil, fmt.Errorf("load response: %w", err)
	}
	if questionType != "free_response" {
		return nil, ErrNotManuallyGradable
	}
	if in.Score < 0 || in.Score > pointsPossible {
		return nil, fmt.Errorf("%w: score %.2f must be within [0, %.2f]", ErrScoreOutOfRange, in.Score, pointsPossible)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE attempt_responses SET
			instructor_score = $3,
			points_earned = $3,
			instructor_feedback = $4,
			grading_status = 'graded',
			graded_by = $5,
			graded_at = now()
		WHERE attempt_id = $1 AND question_key = $2
	`, in.AttemptID, in.QuestionKey, in.Score, in.Feedback, in.GraderID); err != nil {
		return nil, fmt.Errorf("update response score: %w", err)
	}

	agg, err := recomputeAttempt(ctx, tx, in.AttemptID, att.mcWeight, att.frWeight)
	if err != nil {
		return nil, err
	}

	result := &Result{
		AttemptID:     in.AttemptID,
		AutoScore:     agg.mcPct,
		ManualScore:   agg.frPct,
		GradingStatus: exam.GradingInProgress,
		Pending:       agg.pending,
	}

	if agg.pending == 0 {
		now := time.Now()
		passed := agg.final >= att.passingScore
		if _, err := tx.ExecContext(ctx, `
			UPDATE attempts SET
				manual_score = $2,
				score = $3,
				passed = $4,
				grading_status = 'completed',
				needs_review = FALSE,
				graded_by = $5,
				graded_at = $6,
				updated_at = now()
			WHERE id = $1
		`, in.AttemptID, agg.frPct, agg.final, passed, in.GraderID, now); err != nil {
			return nil, fmt.Errorf("finalize attempt: %w", err)
		}
		if passed {
			if err := s.progress.MarkExamPassed(ctx, tx, att.enrollmentID, att.examID, agg.final, now); err != nil {
				return nil, err
			}
			if err := s.progress.EvaluateUnit(ctx, tx, att.enrollmentID, att.unitID, now); err != nil {
				return nil, err
			}
		}
		result.FinalScore = agg.final
		result.Passed = passed
		result.GradingStatus = exam.GradingCompleted
	} else {
		// The final score stays unset until every response is graded.
		if _, err := tx.ExecContext(ctx, `
			UPDATE attempts SET
				manual_score = $2,
				score = NULL,
				passed = FALSE,
				grading_status = 'in_progress',
				updated_at = now()
			WHERE id = $1
		`, in.AttemptID, agg.frPct); err != nil {
			return nil, fmt.Errorf("update attempt aggregates: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit grade: %w", err)
	}
	return result, nil
}

// CompleteGrading finalizes an attempt. Every manually graded response must
// already carry a grade; otherwise the call fails with the count of ungraded
// responses and the attempt is untouched. On success the final score is
// recomputed once more, progress is propagated in the same transaction, and
// the student is notified after commit on a best-effort basis. needsReview
// keeps the attempt flagged for a second look even though grading is done.
func (s *Service) CompleteGrading(ctx context.Context, attemptID, graderID int64, feedback string, needsReview bool) (*Result, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin complete tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	att, err := lockAttempt(ctx, tx, attemptID)
	if err != nil {
		return nil, err
	}
	if !att.submitted {
		return nil, ErrAttemptNotSubmitted
	}

	agg, err := recomputeAttempt(ctx, tx, attemptID, att.mcWeight, att.frWeight)
	if err != nil {
		return nil, err
	}
	if agg.pending > 0 {
		return nil, &IncompleteError{Remaining: agg.pending}
	}

	passed := agg.final >= att.passingScore
	now := time.Now()
	if _, err := tx.ExecContext(ctx, `
		UPDATE attempts SET
			manual_score = $2,
			score = $3,
			passed = $4,
			grading_status = 'completed',
			needs_review = $8,
			graded_by = $5,
			graded_at = $6,
			instructor_feedback = $7,
			updated_at = now()
		WHERE id = $1
	`, attemptID, agg.frPct, agg.final, passed, graderID, now, feedback, needsReview); err != nil {
		return nil, fmt.Errorf("finalize attempt: %w", err)
	}

	if passed {
		if err := s.progress.MarkExamPassed(ctx, tx, att.enrollmentID, att.examID, agg.final, now); err != nil {
			return nil, err
		}
		if err := s.progress.EvaluateUnit(ctx, tx, att.enrollmentID, att.unitID, now); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit complete: %w", err)
	}

	s.notifyCompleted(ctx, attemptID, agg.final, passed, feedback)

	return &Result{
		AttemptID:     attemptID,
		AutoScore:     agg.mcPct,
		ManualScore:   agg.frPct,
		FinalScore:    agg.final,
		Passed:        passed,
		GradingStatus: exam.GradingCompleted,
	}, nil
}

func (s *Service) notifyCompleted(ctx context.Context, attemptID int64, finalScore float64, passed bool, feedback string) {
	if s.notifier == nil {
		return
	}

	var n notify.GradingCompletedNotice
	err := s.db.QueryRowContext(ctx, `
		SELECT u.email, u.full_name, e.title
		FROM attempts a
		JOIN users u ON u.id = a.student_id
		JOIN exams e ON e.id = a.exam_id
		WHERE a.id = $1
	`, attemptID).Scan(&n.Email, &n.FullName, &n.ExamTitle)
	if err != nil {
		log.Printf("grading notify: load recipient for attempt %d: %v", attemptID, err)
		return
	}
	n.FinalScore = finalScore
	n.Passed = passed
	n.Feedback = feedback

	if err := s.notifier.GradingCompleted(ctx, n); err != nil {
		log.Printf("grading notify: send for attempt %d: %v", attemptID, err)
	}
}

type lockedAttempt struct {
	examID        int64
	unitID        int64
	enrollmentID  int64
	submitted     bool
	gradingStatus string
	passingScore  float64
	mcWeight      float64
	frWeight      float64
}

func lockAttempt(ctx context.Context, tx *sql.Tx, attemptID int64) (*lockedAttempt, error) {
	var (
		a           lockedAttempt
		completedAt sql.NullTime
	)
	err := tx.QueryRowContext(ctx, `
		SELECT a.exam_id, e.unit_id, a.enrollment_id, a.completed_at, a.grading_status,
			e.passing_score, e.mc_weight, e.fr_weight
		FROM attempts a
		JOIN exams e ON e.id = a.exam_id
		WHERE a.id = $1
		FOR UPDATE OF a
	`, attemptID).Scan(
		&a.examID, &a.unitID, &a.enrollmentID, &completedAt, &a.gradingStatus,
		&a.passingScore, &a.mcWeight, &a.frWeight,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("lock attempt: %w", err)
	}
	a.submitted = completedAt.Valid
	return &a, nil
}

type aggregates struct {
	mcPct   float64
	frPct   float64
	final   float64
	pending int
}

// recomputeAttempt derives the attempt's percentages from all persisted
// responses. The MC percentage is the share of correct answers; the FR
// percentage is granted points over possible points, with ungraded responses
// contributing zero to the numerator.
func recomputeAttempt(ctx context.Context, tx *sql.Tx, attemptID int64, mcWeight, frWeight float64) (*aggregates, error) {
	var (
		mcCount, mcCorrect int
		frPossible         float64
		frGranted          sql.NullFloat64
		pending            int
	)
	err := tx.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE question_type = 'multiple_choice'),
			COUNT(*) FILTER (WHERE question_type = 'multiple_choice' AND is_correct),
			COALESCE(SUM(points_possible) FILTER (WHERE question_type = 'free_response'), 0),
			SUM(instructor_score) FILTER (WHERE question_type = 'free_response'),
			COUNT(*) FILTER (WHERE grading_status = 'pending')
		FROM attempt_responses
		WHERE attempt_id = $1
	`, attemptID).Scan(&mcCount, &mcCorrect, &frPossible, &frGranted, &pending)
	if err != nil {
		return nil, fmt.Errorf("aggregate responses: %w", err)
	}

	agg := &aggregates{pending: pending}
	if mcCount > 0 {
		agg.mcPct = float64(mcCorrect) / float64(mcCount) * 100
	}
	if frPossible > 0 && frGranted.Valid {
		agg.frPct = frGranted.Float64 / frPossible * 100
	}
	agg.final = exam.FinalWeightedScore(agg.mcPct, agg.frPct, mcWeight, frWeight)
	return agg, nil
}
