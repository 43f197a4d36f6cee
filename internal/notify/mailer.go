// Package notify はメール送信とオリエンテーション完了通知を扱う。
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
)

// Message は送信するメール1通。
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Mailer はメール送信のインターフェース。
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// SendGridMailer はSendGrid API経由でメールを送る。
type SendGridMailer struct {
	from          *sgmail.Email
	subjectPrefix string
	send          func(ctx context.Context, m *sgmail.SGMailV3) (int, string, error)
}

// NewSendGridMailer はSendGridMailerを生成する。
func NewSendGridMailer(apiKey, appName, fromEmail string) *SendGridMailer {
	client := sendgrid.NewSendClient(apiKey)
	return &SendGridMailer{
		from:          sgmail.NewEmail(appName, fromEmail),
		subjectPrefix: "[" + appName + "] ",
		send: func(ctx context.Context, m *sgmail.SGMailV3) (int, string, error) {
			res, err := client.SendWithContext(ctx, m)
			if err != nil {
				return 0, "", err
			}
			return res.StatusCode, res.Body, nil
		},
	}
}

func (s *SendGridMailer) prepare(msg Message) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = s.subjectPrefix + msg.Subject
	p.AddTos(sgmail.NewEmail("", msg.To))

	m := sgmail.NewV3Mail()
	m.SetFrom(s.from)
	m.AddPersonalizations(p)
	m.AddContent(
		sgmail.NewContent("text/plain", msg.Text),
		sgmail.NewContent("text/html", msg.HTML),
	)
	return m
}

// Send はメールを送信する。SendGridが400以上を返した場合はエラー。
func (s *SendGridMailer) Send(ctx context.Context, msg Message) error {
	status, body, err := s.send(ctx, s.prepare(msg))
	if err != nil {
		return fmt.Errorf("failed to send mail: %w", err)
	}
	if status >= http.StatusBadRequest {
		return fmt.Errorf("sendgrid returned status %d: %s", status, body)
	}
	return nil
}

// LogMailer はメールを送らずにログへ出力する。APIキー未設定の開発環境用。
type LogMailer struct {
	logger *slog.Logger
}

// NewLogMailer はLogMailerを生成する。
func NewLogMailer(logger *slog.Logger) *LogMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMailer{logger: logger}
}

func (l *LogMailer) Send(_ context.Context, msg Message) error {
	l.logger.Info("mail not sent (no provider configured)",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
		slog.String("text", msg.Text),
	)
	return nil
}

// NewMailer はAPIキーがあればSendGridMailerを、なければLogMailerを返す。
func NewMailer(apiKey, appName, fromEmail string, logger *slog.Logger) Mailer {
	if apiKey == "" {
		return NewLogMailer(logger)
	}
	return NewSendGridMailer(apiKey, appName, fromEmail)
}
