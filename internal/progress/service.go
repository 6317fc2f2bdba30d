package progress

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	ErrEnrollmentNotFound = errors.New("enrollment not found")
	ErrCourseNotFound     = errors.New("course not found")
	ErrAlreadyEnrolled    = errors.New("already enrolled")
)

const (
	EntityExam = "exam"
	EntityUnit = "unit"

	StatusCompleted = "completed"
)

// DBTX is satisfied by *sql.DB and *sql.Tx; propagation runs inside the
// caller's grading or submission transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type Service struct {
	db *sql.DB
}

type Enrollment struct {
	ID        int64     `json:"id"`
	StudentID int64     `json:"student_id"`
	CourseID  int64     `json:"course_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

type Entry struct {
	EntityType  string     `json:"entity_type"`
	EntityID    int64      `json:"entity_id"`
	Status      string     `json:"status"`
	Score       *float64   `json:"score,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

func (s *Service) Enroll(ctx context.Context, studentID, courseID int64) (*Enrollment, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM courses WHERE id = $1 AND is_active = TRUE)
	`, courseID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check course: %w", err)
	}
	if !exists {
		return nil, ErrCourseNotFound
	}

	var e Enrollment
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO enrollments (student_id, course_id, status, created_at)
		VALUES ($1, $2, 'active', now())
		ON CONFLICT (student_id, course_id) DO NOTHING
		RETURNING id, student_id, course_id, status, created_at
	`, studentID, courseID).Scan(&e.ID, &e.StudentID, &e.CourseID, &e.Status, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAlreadyEnrolled
		}
		return nil, fmt.Errorf("insert enrollment: %w", err)
	}
	return &e, nil
}

func (s *Service) GetEnrollment(ctx context.Context, enrollmentID int64) (*Enrollment, error) {
	var e Enrollment
	err := s.db.QueryRowContext(ctx, `
		SELECT id, student_id, course_id, status, created_at
		FROM enrollments
		WHERE id = $1
	`, enrollmentID).Scan(&e.ID, &e.StudentID, &e.CourseID, &e.Status, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEnrollmentNotFound
		}
		return nil, fmt.Errorf("load enrollment: %w", err)
	}
	return &e, nil
}

// FindEnrollmentForExam resolves the student's active enrollment in the
// course the exam belongs to.
func (s *Service) FindEnrollmentForExam(ctx context.Context, q DBTX, studentID, examID int64) (*Enrollment, error) {
	var e Enrollment
	err := q.QueryRowContext(ctx, `
		SELECT en.id, en.student_id, en.course_id, en.status, en.created_at
		FROM enrollments en
		JOIN units u ON u.course_id = en.course_id
		JOIN exams e ON e.unit_id = u.id
		WHERE e.id = $1 AND en.student_id = $2 AND en.status = 'active'
	`, examID, studentID).Scan(&e.ID, &e.StudentID, &e.CourseID, &e.Status, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEnrollmentNotFound
		}
		return nil, fmt.Errorf("find enrollment for exam: %w", err)
	}
	return &e, nil
}

func (s *Service) ListProgress(ctx context.Context, enrollmentID int64) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_type, entity_id, status, score, completed_at
		FROM enrollment_progress
		WHERE enrollment_id = $1
		ORDER BY entity_type, entity_id
	`, enrollmentID)
	if err != nil {
		return nil, fmt.Errorf("query progress: %w", err)
	}
	defer rows.Close()

	out := make([]Entry, 0)
	for rows.Next() {
		var (
			e           Entry
			score       sql.NullFloat64
			completedAt sql.NullTime
		)
		if err := rows.Scan(&e.EntityType, &e.EntityID, &e.Status, &score, &completedAt); err != nil {
			return nil, fmt.Errorf("scan progress entry: %w", err)
		}
		if score.Valid {
			v := score.Float64
			e.Score = &v
		}
		if completedAt.Valid {
			v := completedAt.Time
			e.CompletedAt = &v
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate progress: %w", err)
	}
	return out, nil
}

// MarkExamPassed upserts the exam's completion row. The best score across
// attempts wins; a later worse attempt never downgrades progress.
func (s *Service) MarkExamPassed(ctx context.Context, q DBTX, enrollmentID, examID int64, score float64, at time.Time) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO enrollment_progress (enrollment_id, entity_type, entity_id, status, score, completed_at)
		VALUES ($1, 'exam', $2, 'completed', $3, $4)
		ON CONFLICT (enrollment_id, entity_type, entity_id)
		DO UPDATE SET
			score = GREATEST(enrollment_progress.score, EXCLUDED.score),
			completed_at = LEAST(enrollment_progress.completed_at, EXCLUDED.completed_at)
	`, enrollmentID, examID, score, at)
	if err != nil {
		return fmt.Errorf("upsert exam progress: %w", err)
	}
	return nil
}

// EvaluateUnit marks the unit complete once every published exam in it has
// a completed progress row for this enrollment. Row-level upserts serialize
// concurrent completions instead of overwriting a shared progress map.
func (s *Service) EvaluateUnit(ctx context.Context, q DBTX, enrollmentID, unitID int64, at time.Time) error {
	var remaining int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM exams e
		WHERE e.unit_id = $1
		  AND e.is_published = TRUE
		  AND NOT EXISTS (
			SELECT 1
			FROM enrollment_progress ep
			WHERE ep.enrollment_id = $2
			  AND ep.entity_type = 'exam'
			  AND ep.entity_id = e.id
			  AND ep.status = 'completed'
		  )
	`, unitID, enrollmentID).Scan(&remaining)
	if err != nil {
		return fmt.Errorf("count unit exams remaining: %w", err)
	}
	if remaining > 0 {
		return nil
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO enrollment_progress (enrollment_id, entity_type, entity_id, status, completed_at)
		VALUES ($1, 'unit', $2, 'completed', $3)
		ON CONFLICT (enrollment_id, entity_type, entity_id)
		DO UPDATE SET completed_at = LEAST(enrollment_progress.completed_at, EXCLUDED.completed_at)
	`, enrollmentID, unitID, at)
	if err != nil {
		return fmt.Errorf("upsert unit progress: %w", err)
	}
	return nil
}
