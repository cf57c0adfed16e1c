package worker

// venta_worker.go
// Consumes VentaCompletada events from QueueVentas and hands them to the
// synchronizer. Retries and escalation live in the synchronizer; this worker
// only parks payloads that can never be applied.

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/compucol89/kiosco-sub007/internal/apperror"
	"github.com/compucol89/kiosco-sub007/internal/dto"
	"github.com/compucol89/kiosco-sub007/internal/service"

	"github.com/rs/zerolog/log"
)

// VentaHandler is the part of service.SincronizadorService the worker needs.
type VentaHandler interface {
	OnVentaCompletada(ctx context.Context, ev dto.VentaCompletadaEvent) (*dto.SincronizacionResponse, error)
}

type VentaWorker struct {
	sync VentaHandler
	dlq  service.DeadLetter
}

func NewVentaWorker(sync VentaHandler, dlq service.DeadLetter) *VentaWorker {
	return &VentaWorker{sync: sync, dlq: dlq}
}

func (w *VentaWorker) Process(ctx context.Context, raw json.RawMessage) {
	var ev dto.VentaCompletadaEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		log.Error().Err(err).Msg("venta_worker: invalid payload")
		w.park(ctx, raw, "payload inválido: "+err.Error())
		return
	}

	resp, err := w.sync.OnVentaCompletada(ctx, ev)
	var orphan *apperror.OrphanSaleDetectedError
	switch {
	case err == nil:
		log.Debug().
			Str("venta_id", ev.ID).
			Str("movimiento_id", resp.Movimiento.ID.String()).
			Bool("duplicado", resp.Duplicado).
			Msg("venta_worker: venta sincronizada")
	case errors.As(err, &orphan):
		// Already escalated (pending row, DLQ, alert) by the synchronizer.
	default:
		log.Error().Err(err).Str("venta_id", ev.ID).Msg("venta_worker: evento rechazado")
		w.park(ctx, raw, err.Error())
	}
}

func (w *VentaWorker) park(ctx context.Context, raw json.RawMessage, reason string) {
	if w.dlq == nil {
		return
	}
	if err := w.dlq.Send(ctx, QueueVentas, service.JobVentaCompletada, raw, reason, 1); err != nil {
		log.Error().Err(err).Msg("venta_worker: failed to park event")
	}
}
