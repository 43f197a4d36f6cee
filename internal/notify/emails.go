package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/mail"
	"strings"

	"github.com/hitoshi/academy/internal/model"
)

// Emails は通知内容をメールに展開して送る。
type Emails struct {
	mailer  Mailer
	baseURL string
}

// NewEmails はEmailsを生成する。baseURLはメール内リンクの基点。
func NewEmails(mailer Mailer, baseURL string) *Emails {
	return &Emails{mailer: mailer, baseURL: strings.TrimRight(baseURL, "/")}
}

type orientationView struct {
	ApprenticeName  string
	ApprenticeEmail string
	Phase           model.Phase
	Module          string
	OperatingSystem string
	ScreenshotCount int
	SubmittedAt     string
	CompletedTasks  []string
	ReviewURL       string
}

// SendOrientation はオリエンテーション提出を講師にメールで知らせる。
func (e *Emails) SendOrientation(ctx context.Context, n OrientationNotification) error {
	if _, err := mail.ParseAddress(n.ProfessorEmail); err != nil {
		return model.NewValidationError("professorEmail must be a valid email address")
	}
	var tasks []string
	if n.CompletedTasks != "" {
		if err := json.Unmarshal([]byte(n.CompletedTasks), &tasks); err != nil {
			return model.NewValidationError("completedTasks must be a JSON array of strings")
		}
	}

	htmlBody, textBody, err := render("orientation.html", orientationView{
		ApprenticeName:  n.Progress.ApprenticeName,
		ApprenticeEmail: n.Progress.ApprenticeEmail,
		Phase:           n.Progress.Phase,
		Module:          n.Progress.Module,
		OperatingSystem: n.OperatingSystem,
		ScreenshotCount: n.ScreenshotCount,
		SubmittedAt:     n.SubmittedAt,
		CompletedTasks:  tasks,
		ReviewURL:       e.baseURL + "/professor",
	})
	if err != nil {
		return err
	}

	name := n.Progress.ApprenticeName
	if name == "" {
		name = n.Progress.ApprenticeEmail
	}
	return e.mailer.Send(ctx, Message{
		To:      n.ProfessorEmail,
		Subject: fmt.Sprintf("%s submitted %s", name, n.Progress.Module),
		HTML:    htmlBody,
		Text:    textBody,
	})
}

// SendPasswordReset はパスワード再設定リンクを送る。
func (e *Emails) SendPasswordReset(ctx context.Context, email, link string) error {
	htmlBody, textBody, err := render("password_reset.html", struct{ Link string }{Link: link})
	if err != nil {
		return err
	}
	return e.mailer.Send(ctx, Message{
		To:      email,
		Subject: "Reset your password",
		HTML:    htmlBody,
		Text:    textBody,
	})
}
