package report

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"
)

var ErrExamNotFound = errors.New("exam not found")

type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

type ExamSummary struct {
	ExamID       int64   `json:"exam_id"`
	ExamCode     string  `json:"exam_code"`
	ExamTitle    string  `json:"exam_title"`
	Participants int     `json:"participants"`
	Graded       int     `json:"graded"`
	Passed       int     `json:"passed"`
	AverageScore float64 `json:"average_score"`
	HighestScore float64 `json:"highest_score"`
	LowestScore  float64 `json:"lowest_score"`
}

type examResultRow struct {
	studentName string
	username    string
	submittedAt time.Time
	autoScore   sql.NullFloat64
	manualScore sql.NullFloat64
	finalScore  sql.NullFloat64
	passed      bool
	status      string
}

// SummaryByExam aggregates submitted attempts for one exam. Average, high
// and low cover fully graded attempts only.
func (s *Service) SummaryByExam(ctx context.Context, examID int64) (*ExamSummary, error) {
	var sum ExamSummary
	err := s.db.QueryRowContext(ctx, `
		SELECT e.id, e.code, e.title,
			COUNT(a.id) FILTER (WHERE a.completed_at IS NOT NULL),
			COUNT(a.id) FILTER (WHERE a.grading_status = 'completed'),
			COUNT(a.id) FILTER (WHERE a.grading_status = 'completed' AND a.passed),
			COALESCE(AVG(a.score) FILTER (WHERE a.grading_status = 'completed'), 0),
			COALESCE(MAX(a.score) FILTER (WHERE a.grading_status = 'completed'), 0),
			COALESCE(MIN(a.score) FILTER (WHERE a.grading_status = 'completed'), 0)
		FROM exams e
		LEFT JOIN attempts a ON a.exam_id = e.id
		WHERE e.id = $1
		GROUP BY e.id, e.code, e.title
	`, examID).Scan(
		&sum.ExamID, &sum.ExamCode, &sum.ExamTitle,
		&sum.Participants, &sum.Graded, &sum.Passed,
		&sum.AverageScore, &sum.HighestScore, &sum.LowestScore,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("summarize exam: %w", err)
	}
	return &sum, nil
}

// ExportExamResultsExcel renders one row per submitted attempt as an xlsx
// workbook for offline review.
func (s *Service) ExportExamResultsExcel(ctx context.Context, examID int64) ([]byte, error) {
	var title string
	if err := s.db.QueryRowContext(ctx, `
		SELECT title FROM exams WHERE id = $1
	`, examID).Scan(&title); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("load exam: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT u.full_name, u.username, a.completed_at,
			a.auto_score, a.manual_score, a.score, a.passed, a.grading_status
		FROM attempts a
		JOIN users u ON u.id = a.student_id
		WHERE a.exam_id = $1 AND a.completed_at IS NOT NULL
		ORDER BY a.completed_at
	`, examID)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	results := make([]examResultRow, 0)
	for rows.Next() {
		var r examResultRow
		if err := rows.Scan(
			&r.studentName, &r.username, &r.submittedAt,
			&r.autoScore, &r.manualScore, &r.finalScore, &r.passed, &r.status,
		); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	headers := []string{"student", "username", "submitted_at", "auto_score", "manual_score", "final_score", "passed", "grading_status"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	for i, r := range results {
		row := i + 2
		values := []any{
			r.studentName,
			r.username,
			r.submittedAt.Format("2006-01-02 15:04:05"),
			nullableScore(r.autoScore),
			nullableScore(r.manualScore),
			nullableScore(r.finalScore),
			r.passed,
			r.status,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}
	_ = f.SetColWidth(sheet, "A", "H", 22)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write excel: %w", err)
	}
	return buf.Bytes(), nil
}

func nullableScore(v sql.NullFloat64) any {
	if !v.Valid {
		return ""
	}
	return v.Float64
}
