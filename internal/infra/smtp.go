package infra

import (
	"fmt"
	"net/smtp"
	"time"

	"github.com/compucol89/kiosco-sub007/internal/config"

	"github.com/jordan-wright/email"
)

const (
	asuntoPrefijo = "[Control de Caja] "
	smtpConns     = 2
	smtpTimeout   = 15 * time.Second
)

// Mailer sends supervisor alerts (cash discrepancies, escalated orphan sales)
// over a small pool of SMTP connections.
type Mailer struct {
	from string
	pool *email.Pool
}

func NewMailer(cfg *config.Config) (*Mailer, error) {
	var auth smtp.Auth
	if cfg.SMTPUser != "" {
		auth = smtp.PlainAuth("", cfg.SMTPUser, cfg.SMTPPassword, cfg.SMTPHost)
	}
	pool, err := email.NewPool(fmt.Sprintf("%s:%d", cfg.SMTPHost, cfg.SMTPPort), smtpConns, auth)
	if err != nil {
		return nil, fmt.Errorf("mailer: %w", err)
	}
	from := cfg.SMTPFrom
	if from == "" {
		from = cfg.SMTPUser
	}
	return &Mailer{from: from, pool: pool}, nil
}

// SendAlerta sends a plain-text alert to one recipient.
func (m *Mailer) SendAlerta(to, subject, body string) error {
	if to == "" {
		return fmt.Errorf("mailer: destinatario vacío")
	}
	e := email.NewEmail()
	e.From = m.from
	e.To = []string{to}
	e.Subject = asuntoPrefijo + subject
	e.Text = []byte(body)

	if err := m.pool.Send(e, smtpTimeout); err != nil {
		return fmt.Errorf("mailer: %w", err)
	}
	return nil
}

func (m *Mailer) Close() { m.pool.Close() }
