// Package smtp открывает сессии с почтовым сервером для драйвера smtp.
package smtp

import (
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/smtp"
	"time"

	"github.com/magabrotheeeer/mealplan/internal/config"
	"github.com/magabrotheeeer/mealplan/internal/lib/sl"
)

const dialTimeout = 10 * time.Second

// Client подмножество команд SMTP-сессии, которое использует mailer.
type Client interface {
	Mail(from string) error
	Rcpt(to string) error
	Data() (io.WriteCloser, error)
	Quit() error
	Close() error
}

// TransportInterface источник SMTP-сессий.
type TransportInterface interface {
	Connect() (Client, error)
	GetSMTPUser() string
}

// Transport открывает новую сессию на каждое письмо.
// STARTTLS включается, если сервер его объявляет; без smtp_user авторизация пропускается,
// что позволяет слать письма в локальный перехватчик вроде MailHog.
type Transport struct {
	host string
	addr string
	user string
	pass string
	from string
	log  *slog.Logger
}

// NewTransport создает транспорт из секции mail.
func NewTransport(cfg config.Mail, log *slog.Logger) *Transport {
	from := cfg.SenderEmail
	if from == "" {
		from = cfg.SMTPUser
	}
	return &Transport{
		host: cfg.SMTPHost,
		addr: net.JoinHostPort(cfg.SMTPHost, cfg.SMTPPort),
		user: cfg.SMTPUser,
		pass: cfg.SMTPPass,
		from: from,
		log:  log.With(slog.String("smtp_addr", net.JoinHostPort(cfg.SMTPHost, cfg.SMTPPort))),
	}
}

// Connect открывает сессию, готовую к MAIL FROM.
func (t *Transport) Connect() (Client, error) {
	const op = "smtp.Transport.Connect"

	conn, err := net.DialTimeout("tcp", t.addr, dialTimeout)
	if err != nil {
		t.log.Error("smtp dial failed", sl.Err(err))
		return nil, fmt.Errorf("%s: dial: %w", op, err)
	}

	c, err := smtp.NewClient(conn, t.host)
	if err != nil {
		_ = conn.Close()
		t.log.Error("smtp handshake failed", sl.Err(err))
		return nil, fmt.Errorf("%s: handshake: %w", op, err)
	}

	if err := t.secure(c); err != nil {
		_ = c.Close()
		t.log.Error("smtp session setup failed", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return c, nil
}

func (t *Transport) secure(c *smtp.Client) error {
	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: t.host, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	} else if t.user != "" {
		// PlainAuth сам откажет без TLS на нелокальном хосте, но ошибка понятнее заранее
		t.log.Warn("smtp server does not offer STARTTLS, credentials may be rejected")
	}

	if t.user == "" {
		return nil
	}
	if err := c.Auth(smtp.PlainAuth("", t.user, t.pass, t.host)); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	return nil
}

// GetSMTPUser адрес отправителя: sender_email, а без него логин SMTP.
func (t *Transport) GetSMTPUser() string {
	return t.from
}
