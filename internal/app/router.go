package app

import (
	"database/sql"
	"net/http"
	"time"

	"courseware/internal/app/observability"
	"courseware/internal/auth"
	"courseware/internal/catalog"
	"courseware/internal/exam"
	"courseware/internal/grading"
	"courseware/internal/notify"
	"courseware/internal/progress"
	"courseware/internal/report"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(cfg Config, db *sql.DB) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	collector := observability.NewCollector(db)
	r.Use(collector.Middleware)
	r.Use(CSRFMiddleware(cfg.CSRFEnforced))

	notifier := notify.NewSMTPNotifier(notify.SMTPConfig{
		Host: cfg.SMTPHost,
		Port: cfg.SMTPPort,
		User: cfg.SMTPUser,
		Pass: cfg.SMTPPass,
		From: cfg.SMTPFrom,
	})

	authSvc := auth.NewService(db, auth.ServiceConfig{
		SessionTTL: time.Duration(cfg.SessionTTLHours) * time.Hour,
	})
	authHandler := auth.NewHandler(authSvc)

	progressSvc := progress.NewService(db)
	progressHandler := progress.NewHandler(progressSvc)

	examSvc := exam.NewService(db, cfg.DefaultExamMinutes, progressSvc)
	examHandler := exam.NewHandler(examSvc)

	gradingSvc := grading.NewService(db, progressSvc, notifier)
	gradingHandler := grading.NewHandler(gradingSvc)

	catalogSvc := catalog.NewService(db)
	catalogHandler := catalog.NewHandler(catalogSvc)

	reportSvc := report.NewService(db)
	reportHandler := report.NewHandler(reportSvc)

	authLimiter := NewIPRateLimiter(cfg.AuthRateLimitPerMin, time.Minute)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	r.Get("/metrics", collector.MetricsHandler)

	r.Route("/api/v1", func(api chi.Router) {
		api.Group(func(public chi.Router) {
			public.Use(RateLimitMiddleware(authLimiter))
			public.Post("/auth/login", authHandler.Login)
		})

		api.Group(func(secure chi.Router) {
			secure.Use(authHandler.RequireAuth)
			secure.Get("/auth/me", authHandler.Me)
			secure.Post("/auth/logout", authHandler.Logout)

			secure.Get("/courses", catalogHandler.ListCourses)
			secure.Get("/courses/{id}/units", catalogHandler.GetCourse)

			secure.Post("/enrollments", progressHandler.Enroll)
			secure.Get("/enrollments/{id}/progress", progressHandler.ListProgress)

			secure.Post("/attempts/start", examHandler.Start)
			secure.Get("/attempts/{id}", examHandler.GetAttempt)
			secure.Put("/attempts/{id}/answers", examHandler.SaveAnswers)
			secure.Post("/attempts/{id}/submit", examHandler.Submit)
			secure.Get("/attempts/{id}/result", examHandler.Result)

			secure.Group(func(staff chi.Router) {
				staff.Use(authHandler.RequireRoles(auth.RoleAdmin, auth.RoleInstructor))

				staff.Get("/admin/exams", examHandler.ListAdminExams)
				staff.Post("/admin/exams", examHandler.CreateExam)
				staff.Get("/admin/exams/{id}", examHandler.GetExam)
				staff.Put("/admin/exams/{id}", examHandler.UpdateExam)
				staff.Delete("/admin/exams/{id}", examHandler.DeleteExam)
				staff.Post("/admin/exams/{id}/unpublish", examHandler.UnpublishExam)

				staff.Get("/admin/grading/queue", gradingHandler.Queue)
				staff.Get("/admin/grading/attempts/{id}", gradingHandler.Detail)
				staff.Put("/admin/grading/attempts/{id}/scores/{questionKey}", gradingHandler.UpdateScore)
				staff.Post("/admin/grading/attempts/{id}/complete", gradingHandler.Complete)

				staff.Get("/admin/exams/{id}/report", reportHandler.Summary)
				staff.Get("/admin/exams/{id}/report.xlsx", reportHandler.ExportExcel)

				staff.Post("/admin/courses", catalogHandler.CreateCourse)
				staff.Put("/admin/courses/{id}", catalogHandler.UpdateCourse)
				staff.Post("/admin/units", catalogHandler.CreateUnit)
				staff.Put("/admin/units/{id}", catalogHandler.UpdateUnit)
			})
		})
	})

	return r
}
