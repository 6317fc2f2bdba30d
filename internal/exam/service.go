package exam

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"courseware/internal/progress"
)

var (
	ErrInvalidInput         = errors.New("invalid input")
	ErrExamNotFound         = errors.New("exam not found")
	ErrExamCodeExists       = errors.New("exam code already exists")
	ErrExamNotAvailable     = errors.New("exam is not available")
	ErrExamHasGradedWork    = errors.New("exam has completed attempts; unpublish instead of deleting")
	ErrAttemptNotFound      = errors.New("attempt not found")
	ErrAttemptNotEditable   = errors.New("attempt is not editable")
	ErrAttemptNotSubmitted  = errors.New("attempt not submitted")
	ErrDeadlineExceeded     = errors.New("time limit exceeded")
	ErrMaxAttemptsReached   = errors.New("maximum attempts reached")
	ErrNotEnrolled          = errors.New("student is not enrolled in this course")
	ErrAttemptForbidden     = errors.New("attempt forbidden")
)

// Grading lifecycle of an attempt.
const (
	GradingPending    = "pending"
	GradingInProgress = "in_progress"
	GradingCompleted  = "completed"
)

// Grading status of a single response.
const (
	ResponsePending = "pending"
	ResponseGraded  = "graded"
)

type Service struct {
	db                      *sql.DB
	defaultTimeLimitMinutes int
	progress                *progress.Service
}

func NewService(db *sql.DB, defaultTimeLimitMinutes int, progressSvc *progress.Service) *Service {
	if defaultTimeLimitMinutes <= 0 {
		defaultTimeLimitMinutes = 90
	}
	return &Service{
		db:                      db,
		defaultTimeLimitMinutes: defaultTimeLimitMinutes,
		progress:                progressSvc,
	}
}

type Definition struct {
	ID               int64           `json:"id"`
	UnitID           int64           `json:"unit_id"`
	Code             string          `json:"code"`
	Title            string          `json:"title"`
	Content          json.RawMessage `json:"content,omitempty"`
	PassingScore     float64         `json:"passing_score"`
	MCWeight         float64         `json:"mc_weight"`
	FRWeight         float64         `json:"fr_weight"`
	MaxAttempts      int             `json:"max_attempts"`
	TimeLimitMinutes int             `json:"time_limit_minutes"`
	AvailableFrom    *time.Time      `json:"available_from,omitempty"`
	AvailableUntil   *time.Time      `json:"available_until,omitempty"`
	IsPublished      bool            `json:"is_published"`
	CreatedBy        int64           `json:"created_by"`
	CreatedAt        time.Time       `json:"created_at"`
}

type UpsertDefinitionInput struct {
	UnitID           int64
	Code             string
	Title            string
	Content          json.RawMessage
	PassingScore     float64
	MCWeight         float64
	FRWeight         float64
	MaxAttempts      int
	TimeLimitMinutes int
	AvailableFrom    *time.Time
	AvailableUntil   *time.Time
	Publish          bool
	ActorID          int64
}

type Attempt struct {
	ID                 int64      `json:"id"`
	ExamID             int64      `json:"exam_id"`
	StudentID          int64      `json:"student_id"`
	EnrollmentID       int64      `json:"enrollment_id"`
	StartedAt          time.Time  `json:"started_at"`
	ExpiresAt          time.Time  `json:"expires_at"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	AutoScore          *float64   `json:"auto_graded_score,omitempty"`
	ManualScore        *float64   `json:"manual_graded_score,omitempty"`
	Score              *float64   `json:"score,omitempty"`
	Passed             bool       `json:"passed"`
	GradingStatus      string     `json:"grading_status"`
	NeedsReview        bool       `json:"needs_review"`
	InstructorFeedback string     `json:"instructor_feedback,omitempty"`
	RemainingSecs      int64      `json:"remaining_secs"`
}

type Response struct {
	QuestionKey        string          `json:"question_key"`
	SectionID          string          `json:"section_id"`
	QuestionType       string          `json:"question_type"`
	Answer             json.RawMessage `json:"answer,omitempty"`
	IsCorrect          *bool           `json:"is_correct,omitempty"`
	PointsPossible     float64         `json:"points_possible"`
	PointsEarned       float64         `json:"points_earned"`
	InstructorScore    *float64        `json:"instructor_score,omitempty"`
	InstructorFeedback string          `json:"instructor_feedback,omitempty"`
	GradingStatus      string          `json:"grading_status"`
}

type AttemptResult struct {
	Attempt   Attempt    `json:"attempt"`
	Score     *ExamScore `json:"score_breakdown,omitempty"`
	Responses []Response `json:"responses"`
}

func (s *Service) CreateExam(ctx context.Context, in UpsertDefinitionInput) (*Definition, error) {
	if err := validateDefinitionInput(in); err != nil {
		return nil, err
	}
	content, err := ParseContent(in.Content)
	if err != nil {
		return nil, err
	}
	if in.Publish {
		if err := content.ValidateForPublish(); err != nil {
			return nil, err
		}
	}

	timeLimit := in.TimeLimitMinutes
	if timeLimit <= 0 {
		timeLimit = s.defaultTimeLimitMinutes
	}

	var d Definition
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO exams (
			unit_id, code, title, content,
			passing_score, mc_weight, fr_weight,
			max_attempts, time_limit_minutes,
			available_from, available_until,
			is_published, created_by, created_at
		) VALUES ($1,$2,$3,$4::jsonb,$5,$6,$7,$8,$9,$10,$11,$12,$13,now())
		ON CONFLICT (code) DO NOTHING
		RETURNING id, unit_id, code, title, content, passing_score, mc_weight, fr_weight,
			max_attempts, time_limit_minutes, available_from, available_until,
			is_published, created_by, created_at
	`,
		in.UnitID, strings.TrimSpace(in.Code), strings.TrimSpace(in.Title), contentOrEmpty(in.Content),
		in.PassingScore, in.MCWeight, in.FRWeight,
		in.MaxAttempts, timeLimit,
		in.AvailableFrom, in.AvailableUntil,
		in.Publish, in.ActorID,
	).Scan(
		&d.ID, &d.UnitID, &d.Code, &d.Title, &d.Content, &d.PassingScore, &d.MCWeight, &d.FRWeight,
		&d.MaxAttempts, &d.TimeLimitMinutes, &d.AvailableFrom, &d.AvailableUntil,
		&d.IsPublished, &d.CreatedBy, &d.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrExamCodeExists
		}
		return nil, fmt.Errorf("insert exam: %w", err)
	}
	return &d, nil
}

func (s *Service) UpdateExam(ctx context.Context, examID int64, in UpsertDefinitionInput) (*Definition, error) {
	if examID <= 0 {
		return nil, ErrInvalidInput
	}
	if err := validateDefinitionInput(in); err != nil {
		return nil, err
	}
	content, err := ParseContent(in.Content)
	if err != nil {
		return nil, err
	}
	if in.Publish {
		if err := content.ValidateForPublish(); err != nil {
			return nil, err
		}
	}

	timeLimit := in.TimeLimitMinutes
	if timeLimit <= 0 {
		timeLimit = s.defaultTimeLimitMinutes
	}

	var d Definition
	err = s.db.QueryRowContext(ctx, `
		UPDATE exams SET
			unit_id = $2,
			code = $3,
			title = $4,
			content = $5::jsonb,
			passing_score = $6,
			mc_weight = $7,
			fr_weight = $8,
			max_attempts = $9,
			time_limit_minutes = $10,
			available_from = $11,
			available_until = $12,
			is_published = $13,
			updated_at = now()
		WHERE id = $1
		RETURNING id, unit_id, code, title, content, passing_score, mc_weight, fr_weight,
			max_attempts, time_limit_minutes, available_from, available_until,
			is_published, created_by, created_at
	`,
		examID, in.UnitID, strings.TrimSpace(in.Code), strings.TrimSpace(in.Title), contentOrEmpty(in.Content),
		in.PassingScore, in.MCWeight, in.FRWeight,
		in.MaxAttempts, timeLimit,
		in.AvailableFrom, in.AvailableUntil,
		in.Publish,
	).Scan(
		&d.ID, &d.UnitID, &d.Code, &d.Title, &d.Content, &d.PassingScore, &d.MCWeight, &d.FRWeight,
		&d.MaxAttempts, &d.TimeLimitMinutes, &d.AvailableFrom, &d.AvailableUntil,
		&d.IsPublished, &d.CreatedBy, &d.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrExamNotFound
		}
		if isUniqueViolation(err) {
			return nil, ErrExamCodeExists
		}
		return nil, fmt.Errorf("update exam: %w", err)
	}
	return &d, nil
}

func (s *Service) GetExam(ctx context.Context, examID int64) (*Definition, error) {
	return s.loadDefinition(ctx, s.db, examID)
}

func (s *Service) ListExams(ctx context.Context, includeUnpublished bool) ([]Definition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, unit_id, code, title, passing_score, mc_weight, fr_weight,
			max_attempts, time_limit_minutes, available_from, available_until,
			is_published, created_by, created_at
		FROM exams
		WHERE is_published = TRUE OR $1
		ORDER BY id
	`, includeUnpublished)
	if err != nil {
		return nil, fmt.Errorf("query exams: %w", err)
	}
	defer rows.Close()

	out := make([]Definition, 0)
	for rows.Next() {
		var d Definition
		if err := rows.Scan(
			&d.ID, &d.UnitID, &d.Code, &d.Title, &d.PassingScore, &d.MCWeight, &d.FRWeight,
			&d.MaxAttempts, &d.TimeLimitMinutes, &d.AvailableFrom, &d.AvailableUntil,
			&d.IsPublished, &d.CreatedBy, &d.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan exam: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exams: %w", err)
	}
	return out, nil
}

// DeleteExam removes an exam and its attempts. Exams with at least one
// submitted attempt are protected; unpublishing is the supported way to
// retire them.
func (s *Service) DeleteExam(ctx context.Context, examID int64) error {
	if examID <= 0 {
		return ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM exams WHERE id = $1)
	`, examID).Scan(&exists); err != nil {
		return fmt.Errorf("check exam: %w", err)
	}
	if !exists {
		return ErrExamNotFound
	}

	var hasCompleted bool
	if err := tx.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM attempts
			WHERE exam_id = $1 AND completed_at IS NOT NULL
		)
	`, examID).Scan(&hasCompleted); err != nil {
		return fmt.Errorf("check completed attempts: %w", err)
	}
	if hasCompleted {
		return ErrExamHasGradedWork
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM attempts WHERE exam_id = $1`, examID); err != nil {
		return fmt.Errorf("delete attempts: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM exams WHERE id = $1`, examID); err != nil {
		return fmt.Errorf("delete exam: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	return nil
}

func (s *Service) UnpublishExam(ctx context.Context, examID int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE exams SET is_published = FALSE, updated_at = now() WHERE id = $1
	`, examID)
	if err != nil {
		return fmt.Errorf("unpublish exam: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("unpublish exam rows: %w", err)
	}
	if n == 0 {
		return ErrExamNotFound
	}
	return nil
}

// StartAttempt opens (or resumes) an attempt. The exam must be published
// and inside its availability window, the student must hold an active
// enrollment, and max_attempts is enforced against submitted attempts.
func (s *Service) StartAttempt(ctx context.Context, examID, studentID int64) (*Attempt, error) {
	def, err := s.loadDefinition(ctx, s.db, examID)
	if err != nil {
		return nil, err
	}
	if !def.IsPublished {
		return nil, ErrExamNotFound
	}

	now := time.Now()
	if def.AvailableFrom != nil && now.Before(*def.AvailableFrom) {
		return nil, ErrExamNotAvailable
	}
	if def.AvailableUntil != nil && now.After(*def.AvailableUntil) {
		return nil, ErrExamNotAvailable
	}

	enrollment, err := s.progress.FindEnrollmentForExam(ctx, s.db, studentID, examID)
	if err != nil {
		if errors.Is(err, progress.ErrEnrollmentNotFound) {
			return nil, ErrNotEnrolled
		}
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin start tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Concurrent starts by the same student serialize on the enrollment
	// row, so the resume check and the insert cannot interleave.
	if _, err := tx.ExecContext(ctx, `
		SELECT id FROM enrollments WHERE id = $1 FOR UPDATE
	`, enrollment.ID); err != nil {
		return nil, fmt.Errorf("lock enrollment: %w", err)
	}

	row := tx.QueryRowContext(ctx, `
		SELECT id, exam_id, student_id, enrollment_id, started_at, expires_at,
			completed_at, auto_score, manual_score, score, passed,
			grading_status, needs_review, instructor_feedback
		FROM attempts
		WHERE exam_id = $1 AND student_id = $2 AND completed_at IS NULL
		ORDER BY started_at DESC
		LIMIT 1
	`, examID, studentID)
	if existing, err := scanAttempt(row); err == nil {
		if now.Before(existing.ExpiresAt) {
			if err := tx.Commit(); err != nil {
				return nil, fmt.Errorf("commit start tx: %w", err)
			}
			existing.RemainingSecs = remainingSeconds(existing, now)
			return existing, nil
		}
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("query open attempt: %w", err)
	}

	if def.MaxAttempts > 0 {
		var used int
		if err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM attempts
			WHERE exam_id = $1 AND student_id = $2 AND completed_at IS NOT NULL
		`, examID, studentID).Scan(&used); err != nil {
			return nil, fmt.Errorf("count attempts: %w", err)
		}
		if used >= def.MaxAttempts {
			return nil, ErrMaxAttemptsReached
		}
	}

	timeLimit := time.Duration(def.TimeLimitMinutes) * time.Minute
	if timeLimit <= 0 {
		timeLimit = time.Duration(s.defaultTimeLimitMinutes) * time.Minute
	}

	row = tx.QueryRowContext(ctx, `
		INSERT INTO attempts (
			exam_id, student_id, enrollment_id, started_at, expires_at,
			answers, grading_status, passed, needs_review
		) VALUES ($1, $2, $3, now(), now() + $4::interval, '{}'::jsonb, 'pending', FALSE, FALSE)
		RETURNING id, exam_id, student_id, enrollment_id, started_at, expires_at,
			completed_at, auto_score, manual_score, score, passed,
			grading_status, needs_review, instructor_feedback
	`, examID, studentID, enrollment.ID, fmt.Sprintf("%d minutes", int(timeLimit.Minutes())))
	created, err := scanAttempt(row)
	if err != nil {
		return nil, fmt.Errorf("insert attempt: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit start tx: %w", err)
	}
	created.RemainingSecs = remainingSeconds(created, now)
	return created, nil
}

// SaveAnswers merges a partial answers map into the attempt. Rejected once
// the attempt is submitted or past its deadline.
func (s *Service) SaveAnswers(ctx context.Context, attemptID int64, partial Answers) error {
	attempt, err := s.loadAttempt(ctx, s.db, attemptID, false)
	if err != nil {
		return err
	}
	if attempt.CompletedAt != nil {
		return ErrAttemptNotEditable
	}
	if time.Now().After(attempt.ExpiresAt) {
		return ErrDeadlineExceeded
	}
	if len(partial) == 0 {
		return nil
	}

	merged, err := json.Marshal(partial)
	if err != nil {
		return fmt.Errorf("encode answers: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE attempts
		SET answers = answers || $2::jsonb, updated_at = now()
		WHERE id = $1
	`, attemptID, merged)
	if err != nil {
		return fmt.Errorf("merge answers: %w", err)
	}
	return nil
}

// SubmitAttempt grades the objective sections and persists one response row
// per question. With no FR questions grading completes in the same
// transaction, including progress propagation.
func (s *Service) SubmitAttempt(ctx context.Context, attemptID int64) (*Attempt, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin submit tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	attempt, err := s.loadAttempt(ctx, tx, attemptID, true)
	if err != nil {
		return nil, err
	}
	if attempt.CompletedAt != nil {
		// Repeated submit is a no-op returning the persisted state.
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit submit noop: %w", err)
		}
		return attempt, nil
	}

	now := time.Now()
	if now.After(attempt.ExpiresAt) {
		return nil, ErrDeadlineExceeded
	}

	def, err := s.loadDefinition(ctx, tx, attempt.ExamID)
	if err != nil {
		return nil, err
	}
	content, err := ParseContent(def.Content)
	if err != nil {
		return nil, err
	}

	var answersRaw []byte
	if err := tx.QueryRowContext(ctx, `
		SELECT answers FROM attempts WHERE id = $1
	`, attemptID).Scan(&answersRaw); err != nil {
		return nil, fmt.Errorf("load answers: %w", err)
	}
	answers := Answers{}
	if len(answersRaw) > 0 {
		if err := json.Unmarshal(answersRaw, &answers); err != nil {
			return nil, fmt.Errorf("decode answers: %w", err)
		}
	}

	score := CalculateExamScore(content, answers)

	if _, err := tx.ExecContext(ctx, `DELETE FROM attempt_responses WHERE attempt_id = $1`, attemptID); err != nil {
		return nil, fmt.Errorf("clear responses: %w", err)
	}
	for _, section := range score.Breakdown.Sections {
		for _, q := range section.Questions {
			status := ResponseGraded
			if q.NeedsManualGrading {
				status = ResponsePending
			}
			var answer interface{}
			if raw, ok := answers[q.Key]; ok {
				answer = []byte(raw)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO attempt_responses (
					attempt_id, question_key, section_id, question_type,
					answer, is_correct, points_possible, points_earned, grading_status
				) VALUES ($1,$2,$3,$4,$5::jsonb,$6,$7,$8,$9)
			`, attemptID, q.Key, section.SectionID, q.Type,
				answer, nullableBool(q.IsCorrect), q.PointsPossible, q.PointsEarned, status,
			); err != nil {
				return nil, fmt.Errorf("insert response: %w", err)
			}
		}
	}

	mcPct := score.Breakdown.MultipleChoice.Percentage
	if content.FreeResponseCount() == 0 {
		final := FinalWeightedScore(mcPct, 0, def.MCWeight, def.FRWeight)
		passed := final >= def.PassingScore
		if _, err := tx.ExecContext(ctx, `
			UPDATE attempts SET
				completed_at = $2,
				auto_score = $3,
				score = $4,
				passed = $5,
				grading_status = 'completed',
				graded_at = $2,
				updated_at = now()
			WHERE id = $1
		`, attemptID, now, mcPct, final, passed); err != nil {
			return nil, fmt.Errorf("finalize attempt: %w", err)
		}

		if passed {
			if err := s.progress.MarkExamPassed(ctx, tx, attempt.EnrollmentID, def.ID, final, now); err != nil {
				return nil, err
			}
			if err := s.progress.EvaluateUnit(ctx, tx, attempt.EnrollmentID, def.UnitID, now); err != nil {
				return nil, err
			}
		}
	} else {
		if _, err := tx.ExecContext(ctx, `
			UPDATE attempts SET
				completed_at = $2,
				auto_score = $3,
				grading_status = 'in_progress',
				needs_review = TRUE,
				updated_at = now()
			WHERE id = $1
		`, attemptID, now, mcPct); err != nil {
			return nil, fmt.Errorf("mark attempt submitted: %w", err)
		}
	}

	attempt, err = s.loadAttempt(ctx, tx, attemptID, false)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit submit: %w", err)
	}
	return attempt, nil
}

func (s *Service) GetAttempt(ctx context.Context, attemptID int64) (*Attempt, error) {
	attempt, err := s.loadAttempt(ctx, s.db, attemptID, false)
	if err != nil {
		return nil, err
	}
	attempt.RemainingSecs = remainingSeconds(attempt, time.Now())
	return attempt, nil
}

func (s *Service) GetAttemptOwner(ctx context.Context, attemptID int64) (int64, error) {
	var studentID int64
	if err := s.db.QueryRowContext(ctx, `
		SELECT student_id FROM attempts WHERE id = $1
	`, attemptID).Scan(&studentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrAttemptNotFound
		}
		return 0, fmt.Errorf("load attempt owner: %w", err)
	}
	return studentID, nil
}

// GetAttemptResult returns the attempt with its per-question responses.
// Only available once the attempt has been submitted.
func (s *Service) GetAttemptResult(ctx context.Context, attemptID int64) (*AttemptResult, error) {
	attempt, err := s.loadAttempt(ctx, s.db, attemptID, false)
	if err != nil {
		return nil, err
	}
	if attempt.CompletedAt == nil {
		return nil, ErrAttemptNotSubmitted
	}

	responses, err := s.loadResponses(ctx, attemptID)
	if err != nil {
		return nil, err
	}

	return &AttemptResult{
		Attempt:   *attempt,
		Responses: responses,
	}, nil
}

func (s *Service) loadResponses(ctx context.Context, attemptID int64) ([]Response, error) {
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

	out := make([]Response, 0)
	for rows.Next() {
		var (
			resp            Response
			answer          []byte
			isCorrect       sql.NullBool
			instructorScore sql.NullFloat64
			feedback        sql.NullString
		)
		if err := rows.Scan(
			&resp.QuestionKey, &resp.SectionID, &resp.QuestionType, &answer, &isCorrect,
			&resp.PointsPossible, &resp.PointsEarned, &instructorScore, &feedback, &resp.GradingStatus,
		); err != nil {
			return nil, fmt.Errorf("scan response: %w", err)
		}
		if len(answer) > 0 {
			resp.Answer = json.RawMessage(answer)
		}
		if isCorrect.Valid {
			v := isCorrect.Bool
			resp.IsCorrect = &v
		}
		if instructorScore.Valid {
			v := instructorScore.Float64
			resp.InstructorScore = &v
		}
		if feedback.Valid {
			resp.InstructorFeedback = feedback.String
		}
		out = append(out, resp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate responses: %w", err)
	}
	return out, nil
}

func (s *Service) loadDefinition(ctx context.Context, q queryable, examID int64) (*Definition, error) {
	var d Definition
	err := q.QueryRowContext(ctx, `
		SELECT id, unit_id, code, title, content, passing_score, mc_weight, fr_weight,
			max_attempts, time_limit_minutes, available_from, available_until,
			is_published, created_by, created_at
		FROM exams
		WHERE id = $1
	`, examID).Scan(
		&d.ID, &d.UnitID, &d.Code, &d.Title, &d.Content, &d.PassingScore, &d.MCWeight, &d.FRWeight,
		&d.MaxAttempts, &d.TimeLimitMinutes, &d.AvailableFrom, &d.AvailableUntil,
		&d.IsPublished, &d.CreatedBy, &d.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("load exam: %w", err)
	}
	return &d, nil
}

func (s *Service) loadAttempt(ctx context.Context, q queryable, attemptID int64, forUpdate bool) (*Attempt, error) {
	query := `
		SELECT id, exam_id, student_id, enrollment_id, started_at, expires_at,
			completed_at, auto_score, manual_score, score, passed,
			grading_status, needs_review, instructor_feedback
		FROM attempts
		WHERE id = $1`
	if forUpdate {
		query += `
		FOR UPDATE`
	}
	attempt, err := scanAttempt(q.QueryRowContext(ctx, query, attemptID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("load attempt: %w", err)
	}
	return attempt, nil
}

type queryable interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func scanAttempt(row *sql.Row) (*Attempt, error) {
	var (
		a           Attempt
		completedAt sql.NullTime
		autoScore   sql.NullFloat64
		manualScore sql.NullFloat64
		score       sql.NullFloat64
		feedback    sql.NullString
	)
	err := row.Scan(
		&a.ID, &a.ExamID, &a.StudentID, &a.EnrollmentID, &a.StartedAt, &a.ExpiresAt,
		&completedAt, &autoScore, &manualScore, &score, &a.Passed,
		&a.GradingStatus, &a.NeedsReview, &feedback,
	)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		v := completedAt.Time
		a.CompletedAt = &v
	}
	if autoScore.Valid {
		v := autoScore.Float64
		a.AutoScore = &v
	}
	if manualScore.Valid {
		v := manualScore.Float64
		a.ManualScore = &v
	}
	if score.Valid {
		v := score.Float64
		a.Score = &v
	}
	if feedback.Valid {
		a.InstructorFeedback = feedback.String
	}
	return &a, nil
}

func remainingSeconds(a *Attempt, now time.Time) int64 {
	if a.CompletedAt != nil {
		return 0
	}
	remaining := a.ExpiresAt.Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int64(remaining.Seconds())
}

func validateDefinitionInput(in UpsertDefinitionInput) error {
	if strings.TrimSpace(in.Title) == "" || strings.TrimSpace(in.Code) == "" || in.UnitID <= 0 {
		return ErrInvalidInput
	}
	if in.PassingScore < 0 || in.PassingScore > 100 {
		return ErrInvalidInput
	}
	if in.MCWeight < 0 || in.FRWeight < 0 {
		return ErrInvalidInput
	}
	if in.MaxAttempts < 0 {
		return ErrInvalidInput
	}
	if in.AvailableFrom != nil && in.AvailableUntil != nil && in.AvailableUntil.Before(*in.AvailableFrom) {
		return ErrInvalidInput
	}
	return nil
}

func contentOrEmpty(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte(`{}`)
	}
	return []byte(raw)
}

func nullableBool(v *bool) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "23505")
}
