// Package mailer отправка писем через SMTP, Postmark или в лог (для локального запуска).
package mailer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mrz1836/postmark"

	"github.com/magabrotheeeer/mealplan/internal/config"
	"github.com/magabrotheeeer/mealplan/internal/lib/sl"
	"github.com/magabrotheeeer/mealplan/internal/lib/smtp"
)

var (
	// ErrInvalidMessage в письме нет получателя или темы.
	ErrInvalidMessage = errors.New("invalid message")
	// ErrSendFailed письмо не отправлено.
	ErrSendFailed = errors.New("failed to send email")
)

// Message письмо. Text обязателен, HTML используется там, где драйвер его поддерживает.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
	Tag     string
}

// Validate проверяет обязательные поля.
func (m Message) Validate() error {
	if strings.TrimSpace(m.To) == "" || strings.TrimSpace(m.Subject) == "" {
		return ErrInvalidMessage
	}
	return nil
}

// Sender отправляет письма.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// New выбирает драйвер по настройкам.
func New(cfg config.Mail, log *slog.Logger) (Sender, error) {
	switch cfg.MailDriver {
	case config.MailDriverSMTP:
		return NewSMTPSender(smtp.NewTransport(cfg, log), log), nil
	case config.MailDriverPostmark:
		if cfg.PostmarkServerToken == "" {
			return nil, fmt.Errorf("mailer.New: postmark server token is required")
		}
		client := postmark.NewClient(cfg.PostmarkServerToken, cfg.PostmarkAccountToken)
		return NewPostmarkSender(client, cfg.SenderEmail, cfg.SupportEmail), nil
	case config.MailDriverLog, "":
		return NewLogSender(log), nil
	default:
		return nil, fmt.Errorf("mailer.New: unknown driver %q", cfg.MailDriver)
	}
}

// SMTPSender отправляет письма через SMTP транспорт.
type SMTPSender struct {
	transport smtp.TransportInterface
	log       *slog.Logger
}

// NewSMTPSender создаёт отправителя поверх транспорта.
func NewSMTPSender(transport smtp.TransportInterface, log *slog.Logger) *SMTPSender {
	return &SMTPSender{transport: transport, log: log}
}

// Send отправляет текстовое письмо одному получателю.
func (s *SMTPSender) Send(_ context.Context, m Message) error {
	const op = "mailer.SMTPSender.Send"
	if err := m.Validate(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	from := s.transport.GetSMTPUser()
	msg := strings.Join([]string{
		"From: " + from,
		"To: " + m.To,
		"Subject: " + m.Subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=\"UTF-8\"",
		"",
		m.Text,
	}, "\r\n")

	client, err := s.transport.Connect()
	if err != nil {
		s.log.Error("failed to connect to SMTP server", sl.Err(err))
		return fmt.Errorf("%s: %w", op, errors.Join(ErrSendFailed, err))
	}
	defer client.Close()

	if err := client.Mail(from); err != nil {
		s.log.Error("failed to set MAIL FROM", slog.String("from", from), sl.Err(err))
		return fmt.Errorf("%s: %w", op, errors.Join(ErrSendFailed, err))
	}
	if err := client.Rcpt(m.To); err != nil {
		s.log.Error("failed to set RCPT TO", slog.String("recipient", m.To), sl.Err(err))
		return fmt.Errorf("%s: %w", op, errors.Join(ErrSendFailed, err))
	}

	wc, err := client.Data()
	if err != nil {
		s.log.Error("failed to get data writer", sl.Err(err))
		return fmt.Errorf("%s: %w", op, errors.Join(ErrSendFailed, err))
	}
	if _, err = wc.Write([]byte(msg)); err != nil {
		s.log.Error("failed to write email body", sl.Err(err))
		_ = wc.Close()
		return fmt.Errorf("%s: %w", op, errors.Join(ErrSendFailed, err))
	}
	if err = wc.Close(); err != nil {
		s.log.Error("failed to close data writer", sl.Err(err))
		return fmt.Errorf("%s: %w", op, errors.Join(ErrSendFailed, err))
	}
	if err = client.Quit(); err != nil {
		s.log.Error("failed to quit SMTP client", sl.Err(err))
		return fmt.Errorf("%s: %w", op, errors.Join(ErrSendFailed, err))
	}

	s.log.Info("email sent", slog.String("to", m.To), slog.String("tag", m.Tag))
	return nil
}

// PostmarkAPI часть клиента Postmark, нужная отправителю.
type PostmarkAPI interface {
	SendEmail(ctx context.Context, email postmark.Email) (postmark.EmailResponse, error)
}

// PostmarkSender отправляет письма через Postmark.
type PostmarkSender struct {
	client  PostmarkAPI
	from    string
	replyTo string
}

// NewPostmarkSender создаёт отправителя. Ответы на письма уходят на replyTo.
func NewPostmarkSender(client PostmarkAPI, from, replyTo string) *PostmarkSender {
	return &PostmarkSender{client: client, from: from, replyTo: replyTo}
}

// Send отправляет письмо. Трекинг включён только для HTML-ссылок.
func (p *PostmarkSender) Send(ctx context.Context, m Message) error {
	const op = "mailer.PostmarkSender.Send"
	if err := m.Validate(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	resp, err := p.client.SendEmail(ctx, postmark.Email{
		From:       p.from,
		ReplyTo:    p.replyTo,
		To:         m.To,
		Subject:    m.Subject,
		Tag:        m.Tag,
		HTMLBody:   m.HTML,
		TextBody:   m.Text,
		TrackOpens: true,
		TrackLinks: "HtmlOnly",
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, errors.Join(ErrSendFailed, err))
	}
	if resp.ErrorCode > 0 {
		return fmt.Errorf("%s: %w", op, errors.Join(ErrSendFailed,
			fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message)))
	}
	return nil
}

// LogSender пишет письма в лог вместо отправки.
type LogSender struct {
	log *slog.Logger
}

func NewLogSender(log *slog.Logger) *LogSender {
	return &LogSender{log: log}
}

func (l *LogSender) Send(_ context.Context, m Message) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("mailer.LogSender.Send: %w", err)
	}
	l.log.Info("email",
		slog.String("to", m.To),
		slog.String("subject", m.Subject),
		slog.String("tag", m.Tag),
		slog.String("body", m.Text),
	)
	return nil
}
