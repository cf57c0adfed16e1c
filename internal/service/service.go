package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/compucol89/kiosco-sub007/internal/apperror"

	"github.com/google/uuid"
)

// Notificador delivers supervisor alerts. The worker pool implements it on
// top of the email queue; a nil Notificador disables alerts.
type Notificador interface {
	Alertar(ctx context.Context, asunto, cuerpo string) error
}

// DeadLetter parks a job payload that could not be processed.
type DeadLetter interface {
	Send(ctx context.Context, queue, jobType string, payload json.RawMessage, reason string, attempts int) error
}

func parseID(campo, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, &apperror.ValidationError{Campo: campo, Motivo: "no es un UUID válido"}
	}
	return id, nil
}

func ahora(now func() time.Time) time.Time {
	return now().UTC().Truncate(time.Microsecond)
}
