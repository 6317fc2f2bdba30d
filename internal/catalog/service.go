package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrCourseNotFound = errors.New("course not found")
	ErrUnitNotFound   = errors.New("unit not found")
)

type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

type Course struct {
	ID          int64     `json:"id"`
	Code        string    `json:"code"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

type Unit struct {
	ID       int64  `json:"id"`
	CourseID int64  `json:"course_id"`
	Title    string `json:"title"`
	Position int    `json:"position"`
}

type CourseDetail struct {
	Course Course `json:"course"`
	Units  []Unit `json:"units"`
}

type UpsertCourseInput struct {
	Code        string
	Title       string
	Description string
	IsActive    *bool
}

type UpsertUnitInput struct {
	CourseID int64
	Title    string
	Position int
}

// ListCourses returns active courses; staff callers may include inactive ones.
func (s *Service) ListCourses(ctx context.Context, includeInactive bool) ([]Course, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, code, title, COALESCE(description, ''), is_active, created_at
		FROM courses
		WHERE is_active = TRUE OR $1
		ORDER BY title
	`, includeInactive)
	if err != nil {
		return nil, fmt.Errorf("query courses: %w", err)
	}
	defer rows.Close()

	out := make([]Course, 0)
	for rows.Next() {
		var c Course
		if err := rows.Scan(&c.ID, &c.Code, &c.Title, &c.Description, &c.IsActive, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan course: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate courses: %w", err)
	}
	return out, nil
}

func (s *Service) GetCourse(ctx context.Context, courseID int64) (*CourseDetail, error) {
	var c Course
	err := s.db.QueryRowContext(ctx, `
		SELECT id, code, title, COALESCE(description, ''), is_active, created_at
		FROM courses
		WHERE id = $1
	`, courseID).Scan(&c.ID, &c.Code, &c.Title, &c.Description, &c.IsActive, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCourseNotFound
		}
		return nil, fmt.Errorf("load course: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, course_id, title, position
		FROM units
		WHERE course_id = $1
		ORDER BY position, id
	`, courseID)
	if err != nil {
		return nil, fmt.Errorf("query units: %w", err)
	}
	defer rows.Close()

	detail := &CourseDetail{Course: c, Units: make([]Unit, 0)}
	for rows.Next() {
		var u Unit
		if err := rows.Scan(&u.ID, &u.CourseID, &u.Title, &u.Position); err != nil {
			return nil, fmt.Errorf("scan unit: %w", err)
		}
		detail.Units = append(detail.Units, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate units: %w", err)
	}
	return detail, nil
}

func (s *Service) CreateCourse(ctx context.Context, in UpsertCourseInput) (*Course, error) {
	code := strings.TrimSpace(in.Code)
	title := strings.TrimSpace(in.Title)
	if code == "" || title == "" {
		return nil, ErrInvalidInput
	}
	active := true
	if in.IsActive != nil {
		active = *in.IsActive
	}

	var c Course
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO courses (code, title, description, is_active, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, now())
		RETURNING id, code, title, COALESCE(description, ''), is_active, created_at
	`, code, title, strings.TrimSpace(in.Description), active).Scan(
		&c.ID, &c.Code, &c.Title, &c.Description, &c.IsActive, &c.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert course: %w", err)
	}
	return &c, nil
}

func (s *Service) UpdateCourse(ctx context.Context, courseID int64, in UpsertCourseInput) (*Course, error) {
	code := strings.TrimSpace(in.Code)
	title := strings.TrimSpace(in.Title)
	if courseID <= 0 || code == "" || title == "" {
		return nil, ErrInvalidInput
	}

	var c Course
	err := s.db.QueryRowContext(ctx, `
		UPDATE courses SET
			code = $2,
			title = $3,
			description = NULLIF($4, ''),
			is_active = COALESCE($5, is_active),
			updated_at = now()
		WHERE id = $1
		RETURNING id, code, title, COALESCE(description, ''), is_active, created_at
	`, courseID, code, title, strings.TrimSpace(in.Description), in.IsActive).Scan(
		&c.ID, &c.Code, &c.Title, &c.Description, &c.IsActive, &c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCourseNotFound
		}
		return nil, fmt.Errorf("update course: %w", err)
	}
	return &c, nil
}

func (s *Service) CreateUnit(ctx context.Context, in UpsertUnitInput) (*Unit, error) {
	title := strings.TrimSpace(in.Title)
	if in.CourseID <= 0 || title == "" {
		return nil, ErrInvalidInput
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM courses WHERE id = $1)
	`, in.CourseID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check course: %w", err)
	}
	if !exists {
		return nil, ErrCourseNotFound
	}

	var u Unit
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO units (course_id, title, position, created_at)
		VALUES ($1, $2, $3, now())
		RETURNING id, course_id, title, position
	`, in.CourseID, title, in.Position).Scan(&u.ID, &u.CourseID, &u.Title, &u.Position)
	if err != nil {
		return nil, fmt.Errorf("insert unit: %w", err)
	}
	return &u, nil
}

func (s *Service) UpdateUnit(ctx context.Context, unitID int64, in UpsertUnitInput) (*Unit, error) {
	title := strings.TrimSpace(in.Title)
	if unitID <= 0 || title == "" {
		return nil, ErrInvalidInput
	}

	var u Unit
	err := s.db.QueryRowContext(ctx, `
		UPDATE units SET title = $2, position = $3, updated_at = now()
		WHERE id = $1
		RETURNING id, course_id, title, position
	`, unitID, title, in.Position).Scan(&u.ID, &u.CourseID, &u.Title, &u.Position)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUnitNotFound
		}
		return nil, fmt.Errorf("update unit: %w", err)
	}
	return &u, nil
}
