package worker

// email_worker.go
// Processes email jobs from QueueEmail: supervisor alerts for closes with
// differences and for escalated orphan sales.

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"
)

// EmailJobPayload is the job envelope sent to QueueEmail.
type EmailJobPayload struct {
	ToEmail string `json:"to_email"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// AlertSender is satisfied by *infra.Mailer.
type AlertSender interface {
	SendAlerta(to, subject, body string) error
}

type EmailWorker struct {
	mailer AlertSender
}

func NewEmailWorker(mailer AlertSender) *EmailWorker {
	return &EmailWorker{mailer: mailer}
}

func (w *EmailWorker) Process(_ context.Context, raw json.RawMessage) {
	var payload EmailJobPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		log.Error().Err(err).Msg("email_worker: invalid payload")
		return
	}
	if payload.ToEmail == "" {
		log.Warn().Msg("email_worker: empty to_email, skipping")
		return
	}

	if err := w.mailer.SendAlerta(payload.ToEmail, payload.Subject, payload.Body); err != nil {
		log.Error().Err(err).Str("to", payload.ToEmail).Msg("email_worker: failed to send email")
		return
	}
	log.Info().Str("to", payload.ToEmail).Str("subject", payload.Subject).Msg("email_worker: alerta enviada")
}

// DirectAlerter implements service.Notificador by mailing synchronously.
// Used when Redis is not configured and the email queue does not exist.
type DirectAlerter struct {
	mailer AlertSender
	to     string
}

func NewDirectAlerter(mailer AlertSender, to string) *DirectAlerter {
	return &DirectAlerter{mailer: mailer, to: to}
}

func (a *DirectAlerter) Alertar(_ context.Context, asunto, cuerpo string) error {
	return a.mailer.SendAlerta(a.to, asunto, cuerpo)
}
