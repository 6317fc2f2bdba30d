package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/google/uuid"
)

// Notifier delivers grading notifications to students. Delivery is
// best-effort; callers log failures and move on.
type Notifier interface {
	GradingCompleted(ctx context.Context, n GradingCompletedNotice) error
}

type GradingCompletedNotice struct {
	Email      string
	FullName   string
	ExamTitle  string
	FinalScore float64
	Passed     bool
	Feedback   string
}

type SMTPConfig struct {
	Host string
	Port int
	User string
	Pass string
	From string
}

type SMTPNotifier struct {
	host string
	port int
	user string
	pass string
	from string
}

// NewSMTPNotifier returns nil when SMTP is not configured, so callers can
// treat notification as disabled.
func NewSMTPNotifier(cfg SMTPConfig) Notifier {
	if strings.TrimSpace(cfg.Host) == "" || cfg.Port <= 0 || strings.TrimSpace(cfg.From) == "" {
		return nil
	}
	return &SMTPNotifier{
		host: strings.TrimSpace(cfg.Host),
		port: cfg.Port,
		user: strings.TrimSpace(cfg.User),
		pass: cfg.Pass,
		from: strings.TrimSpace(cfg.From),
	}
}

func (m *SMTPNotifier) GradingCompleted(ctx context.Context, n GradingCompletedNotice) error {
	_ = ctx
	addr := fmt.Sprintf("%s:%d", m.host, m.port)

	outcome := "Not passed"
	if n.Passed {
		outcome = "Passed"
	}

	subject := fmt.Sprintf("Your results for %s are ready", n.ExamTitle)
	var body strings.Builder
	fmt.Fprintf(&body, "Hi %s,\n\n", n.FullName)
	fmt.Fprintf(&body, "Grading for %s is complete.\n", n.ExamTitle)
	fmt.Fprintf(&body, "Final score: %.1f (%s)\n", n.FinalScore, outcome)
	if strings.TrimSpace(n.Feedback) != "" {
		fmt.Fprintf(&body, "\nInstructor feedback:\n%s\n", n.Feedback)
	}
	body.WriteString("\nSign in to review your answers and per-question scores.\n")

	msg := "From: " + m.from + "\r\n" +
		"To: " + n.Email + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"Message-ID: <" + uuid.NewString() + "@courseware>\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/plain; charset=UTF-8\r\n\r\n" +
		body.String() + "\r\n"

	var auth smtp.Auth
	if m.user != "" {
		auth = smtp.PlainAuth("", m.user, m.pass, m.host)
	}

	if err := smtp.SendMail(addr, auth, m.from, []string{n.Email}, []byte(msg)); err != nil {
		return fmt.Errorf("smtp send grading notice: %w", err)
	}
	return nil
}
