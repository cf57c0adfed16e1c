package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/compucol89/kiosco-sub007/internal/apperror"
	"github.com/compucol89/kiosco-sub007/internal/dto"
	"github.com/compucol89/kiosco-sub007/internal/metrics"
	"github.com/compucol89/kiosco-sub007/internal/model"
	"github.com/compucol89/kiosco-sub007/internal/repository"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// QueueVentas is the Redis list sale events are consumed from; escalated
// events are parked in its dead-letter list.
const QueueVentas = "jobs:ventas"

// JobVentaCompletada is the job type of a VentaCompletadaEvent on QueueVentas.
const JobVentaCompletada = "venta_completada"

// relojTolerancia is how far ahead of the server clock a register may stamp a sale.
const relojTolerancia = 2 * time.Minute

// SincronizadorService keeps a 1:1 mapping between completed sales and sale
// movements in the ledger.
type SincronizadorService interface {
	// OnVentaCompletada appends the sale movement, idempotent by sale id.
	// When the append cannot be completed after bounded retries the event is
	// escalated and an OrphanSaleDetectedError is returned; it is never dropped.
	OnVentaCompletada(ctx context.Context, ev dto.VentaCompletadaEvent) (*dto.SincronizacionResponse, error)
	DetectarHuerfanas(ctx context.Context, sesionID uuid.UUID) ([]uuid.UUID, error)
	Backfill(ctx context.Context, ventaID uuid.UUID) (*dto.SincronizacionResponse, error)
	Pendientes(ctx context.Context) ([]model.SincronizacionPendiente, error)
	// ReintentarPendientes re-applies escalated events; returns how many were resolved.
	ReintentarPendientes(ctx context.Context) (int, error)
	// BackfillAbiertas repairs the orphans of every open shift; returns how many were recovered.
	BackfillAbiertas(ctx context.Context) (int, error)
}

type SincronizadorConfig struct {
	MaxRetries     uint64
	InitialBackoff time.Duration
}

type sincronizadorService struct {
	sesiones    repository.SesionRepository
	ledger      repository.LedgerRepository
	ventas      repository.VentaRepository
	pendientes  repository.SincronizacionRepository
	dlq         DeadLetter
	notificador Notificador
	cfg         SincronizadorConfig
	now         func() time.Time
}

func NewSincronizadorService(
	sesiones repository.SesionRepository,
	ledger repository.LedgerRepository,
	ventas repository.VentaRepository,
	pendientes repository.SincronizacionRepository,
	dlq DeadLetter,
	notificador Notificador,
	cfg SincronizadorConfig,
) SincronizadorService {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 200 * time.Millisecond
	}
	return &sincronizadorService{
		sesiones:    sesiones,
		ledger:      ledger,
		ventas:      ventas,
		pendientes:  pendientes,
		dlq:         dlq,
		notificador: notificador,
		cfg:         cfg,
		now:         time.Now,
	}
}

// ── OnVentaCompletada ─────────────────────────────────────────────────────────

func (s *sincronizadorService) OnVentaCompletada(ctx context.Context, ev dto.VentaCompletadaEvent) (*dto.SincronizacionResponse, error) {
	ventaID, err := s.validarEvento(ev)
	if err != nil {
		return nil, err
	}

	var (
		resp     *dto.SincronizacionResponse
		sesionID uuid.UUID
		intentos int
	)
	op := func() error {
		intentos++
		// A re-delivery is a duplicate whatever shift is open now.
		if r, err := s.registrada(ctx, ventaID); err != nil || r != nil {
			resp = r
			return err
		}
		sesion, err := s.sesiones.FindAbierta(ctx, ev.PuntoDeVenta)
		if err != nil {
			var nf *apperror.NotFoundError
			if errors.As(err, &nf) {
				return backoff.Permanent(&apperror.NotOpenError{PuntoDeVenta: ev.PuntoDeVenta, Estado: "sin sesión abierta"})
			}
			return err
		}
		sesionID = sesion.ID
		r, err := s.aplicar(ctx, sesion, ventaID, ev)
		if err != nil {
			if apperror.IsDomain(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		resp = r
		return nil
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = s.cfg.InitialBackoff
	policy := backoff.WithContext(backoff.WithMaxRetries(expo, s.cfg.MaxRetries), ctx)
	err = backoff.RetryNotify(op, policy, func(err error, wait time.Duration) {
		log.Warn().Err(err).
			Str("venta_id", ventaID.String()).
			Int("intento", intentos).
			Dur("espera", wait).
			Msg("sincronización de venta fallida, reintentando")
	})
	if err == nil {
		s.resolver(ctx, ventaID)
		return resp, nil
	}
	return nil, s.escalar(ctx, ev, ventaID, sesionID, intentos, err)
}

func (s *sincronizadorService) validarEvento(ev dto.VentaCompletadaEvent) (uuid.UUID, error) {
	ventaID, err := parseID("id", ev.ID)
	if err != nil {
		return uuid.Nil, err
	}
	if ev.PuntoDeVenta < 1 {
		return uuid.Nil, &apperror.ValidationError{Campo: "punto_de_venta", Motivo: "debe ser mayor o igual a 1"}
	}
	if !ev.MetodoPago.Valido() {
		return uuid.Nil, &apperror.ValidationError{Campo: "metodo_pago", Motivo: fmt.Sprintf("valor desconocido %q", ev.MetodoPago)}
	}
	if ev.Timestamp.IsZero() {
		return uuid.Nil, &apperror.ValidationError{Campo: "timestamp", Motivo: "obligatorio"}
	}
	if ev.Timestamp.After(ahora(s.now).Add(relojTolerancia)) {
		return uuid.Nil, &apperror.ValidationError{Campo: "timestamp", Motivo: "posterior a la hora del servidor"}
	}
	if !ev.Total.IsPositive() {
		return uuid.Nil, &apperror.InvalidAmountError{Campo: "total", Monto: ev.Total}
	}
	return ventaID, nil
}

// registrada returns the sale movement already in the ledger, or nil when the
// sale has none yet.
func (s *sincronizadorService) registrada(ctx context.Context, ventaID uuid.UUID) (*dto.SincronizacionResponse, error) {
	mov, err := s.ledger.FindByReferenciaVenta(ctx, nil, ventaID)
	if err != nil {
		if apperror.Code(err) == apperror.CodeNotFound {
			return nil, nil
		}
		return nil, err
	}
	metrics.VentasDuplicadas.Inc()
	log.Debug().Str("venta_id", ventaID.String()).Msg("venta ya registrada en caja")
	return &dto.SincronizacionResponse{Movimiento: *mov, Duplicado: true}, nil
}

// aplicar appends the sale movement to sesion once the sale time is inside its window.
func (s *sincronizadorService) aplicar(ctx context.Context, sesion *model.SesionCaja, ventaID uuid.UUID, ev dto.VentaCompletadaEvent) (*dto.SincronizacionResponse, error) {
	if !sesion.Contiene(ev.Timestamp) {
		return nil, &apperror.SaleOutOfBoundsError{
			VentaID:      ventaID,
			PuntoDeVenta: ev.PuntoDeVenta,
			Fecha:        ev.Timestamp,
			Motivo:       fmt.Sprintf("fuera de la ventana de la sesión %s", sesion.ID),
		}
	}
	mov, dup, err := s.ledger.Append(ctx, nil, &model.MovimientoCaja{
		SesionCajaID:    sesion.ID,
		Direccion:       model.Ingreso,
		Monto:           ev.Total,
		MetodoPago:      ev.MetodoPago,
		Origen:          model.OrigenVenta,
		ReferenciaVenta: &ventaID,
		Descripcion:     "Venta " + ventaID.String(),
	})
	if err != nil {
		return nil, err
	}
	if dup {
		metrics.VentasDuplicadas.Inc()
		log.Debug().Str("venta_id", ventaID.String()).Msg("venta ya registrada en caja")
	} else {
		metrics.MovimientosRegistrados.WithLabelValues(string(mov.Origen), string(mov.MetodoPago)).Inc()
	}
	return &dto.SincronizacionResponse{Movimiento: *mov, Duplicado: dup}, nil
}

// escalar makes the failed event audit-visible: a pending row, the dead-letter
// list when Redis is configured, an error log and a supervisor alert.
func (s *sincronizadorService) escalar(ctx context.Context, ev dto.VentaCompletadaEvent, ventaID, sesionID uuid.UUID, intentos int, causa error) error {
	ctx = context.WithoutCancel(ctx)
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	now := ahora(s.now)
	pendiente := &model.SincronizacionPendiente{
		VentaID:      ventaID,
		PuntoDeVenta: ev.PuntoDeVenta,
		Payload:      string(payload),
		Intentos:     intentos,
		UltimoError:  causa.Error(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	errs := []error{causa}
	if err := s.pendientes.Upsert(ctx, pendiente); err != nil {
		errs = append(errs, err)
		log.Error().Err(err).Str("venta_id", ventaID.String()).Msg("no se pudo registrar la sincronización pendiente")
	}
	if s.dlq != nil {
		if err := s.dlq.Send(ctx, QueueVentas, JobVentaCompletada, payload, causa.Error(), intentos); err != nil {
			errs = append(errs, err)
			log.Error().Err(err).Str("venta_id", ventaID.String()).Msg("no se pudo enviar la venta a la DLQ")
		}
	}
	metrics.SincronizacionesEscaladas.Inc()
	log.Error().Err(causa).
		Str("venta_id", ventaID.String()).
		Int("punto_de_venta", ev.PuntoDeVenta).
		Int("intentos", intentos).
		Msg("venta sin movimiento de caja: escalada para resolución manual")

	if s.notificador != nil {
		cuerpo := fmt.Sprintf("Venta %s (punto de venta %d, %s %s) sin movimiento de caja tras %d intento(s).\nCausa: %s\n",
			ventaID, ev.PuntoDeVenta, ev.Total.StringFixed(2), ev.MetodoPago, intentos, causa)
		if err := s.notificador.Alertar(ctx, "Venta huérfana escalada", cuerpo); err != nil {
			log.Warn().Err(err).Str("venta_id", ventaID.String()).Msg("no se pudo encolar la alerta de venta huérfana")
		}
	}

	return &apperror.OrphanSaleDetectedError{
		SesionID: sesionID,
		VentaIDs: []uuid.UUID{ventaID},
		Causa:    errors.Join(errs...),
	}
}

func (s *sincronizadorService) resolver(ctx context.Context, ventaID uuid.UUID) {
	if err := s.pendientes.MarcarResuelta(ctx, ventaID, ahora(s.now)); err != nil {
		log.Warn().Err(err).Str("venta_id", ventaID.String()).Msg("no se pudo marcar la sincronización como resuelta")
	}
}

// ── Huérfanas / Backfill ──────────────────────────────────────────────────────

func (s *sincronizadorService) DetectarHuerfanas(ctx context.Context, sesionID uuid.UUID) ([]uuid.UUID, error) {
	sesion, err := s.sesiones.FindByID(ctx, nil, sesionID)
	if err != nil {
		return nil, err
	}
	desde, hasta := sesion.Ventana()
	ventas, err := s.ventas.ListCompletadas(ctx, nil, sesion.PuntoDeVenta, desde, hasta)
	if err != nil {
		return nil, err
	}
	return huerfanasDe(ctx, nil, s.ledger, ventas)
}

func (s *sincronizadorService) Backfill(ctx context.Context, ventaID uuid.UUID) (*dto.SincronizacionResponse, error) {
	venta, err := s.ventas.FindByID(ctx, ventaID)
	if err != nil {
		return nil, err
	}
	if venta.Estado != model.VentaCompletada {
		return nil, &apperror.NotFoundError{Recurso: "venta completada", ID: ventaID.String()}
	}

	if r, err := s.registrada(ctx, ventaID); err != nil {
		return nil, err
	} else if r != nil {
		s.resolver(ctx, ventaID)
		return r, nil
	}

	sesion, err := s.sesiones.FindCubriendo(ctx, venta.PuntoDeVenta, venta.CompletadaAt)
	if err != nil {
		if apperror.Code(err) == apperror.CodeNotFound {
			return nil, &apperror.SaleOutOfBoundsError{
				VentaID:      ventaID,
				PuntoDeVenta: venta.PuntoDeVenta,
				Fecha:        venta.CompletadaAt,
				Motivo:       "ningún turno del punto de venta contiene la fecha de la venta",
			}
		}
		return nil, err
	}
	if !sesion.Abierta() {
		// History is never edited: the fix is an ajuste on a new shift.
		return nil, &apperror.ShiftClosedError{SesionID: sesion.ID}
	}

	resp, err := s.aplicar(ctx, sesion, ventaID, dto.VentaCompletadaEvent{
		ID:           ventaID.String(),
		PuntoDeVenta: venta.PuntoDeVenta,
		Total:        venta.Total,
		MetodoPago:   venta.MetodoPago,
		Timestamp:    venta.CompletadaAt,
	})
	if err != nil {
		return nil, err
	}
	if !resp.Duplicado {
		metrics.VentasRecuperadas.Inc()
		log.Warn().
			Str("venta_id", ventaID.String()).
			Str("sesion_id", sesion.ID.String()).
			Str("monto", venta.Total.StringFixed(2)).
			Msg("venta huérfana recuperada por backfill")
	}
	s.resolver(ctx, ventaID)
	return resp, nil
}

func (s *sincronizadorService) Pendientes(ctx context.Context) ([]model.SincronizacionPendiente, error) {
	return s.pendientes.ListPendientes(ctx, 0)
}

const lotePendientes = 100

func (s *sincronizadorService) ReintentarPendientes(ctx context.Context) (int, error) {
	pendientes, err := s.pendientes.ListPendientes(ctx, lotePendientes)
	if err != nil {
		return 0, err
	}
	resueltas := 0
	for _, p := range pendientes {
		if err := ctx.Err(); err != nil {
			return resueltas, err
		}
		err := s.reintentar(ctx, p)
		switch {
		case err == nil:
			resueltas++
		case apperror.IsDomain(err):
			// Still needs a human: keep it pending with the latest reason.
			p.Intentos = 1
			p.UltimoError = err.Error()
			p.UpdatedAt = ahora(s.now)
			if uerr := s.pendientes.Upsert(ctx, &p); uerr != nil {
				return resueltas, uerr
			}
		default:
			return resueltas, err
		}
	}
	return resueltas, nil
}

func (s *sincronizadorService) reintentar(ctx context.Context, p model.SincronizacionPendiente) error {
	if r, err := s.registrada(ctx, p.VentaID); err != nil {
		return err
	} else if r != nil {
		s.resolver(ctx, p.VentaID)
		return nil
	}
	_, err := s.ventas.FindByID(ctx, p.VentaID)
	if err == nil {
		_, err = s.Backfill(ctx, p.VentaID)
		return err
	}
	if apperror.Code(err) != apperror.CodeNotFound {
		return err
	}
	// The sales subsystem does not expose the sale (yet): replay the original event once.
	var ev dto.VentaCompletadaEvent
	if jerr := json.Unmarshal([]byte(p.Payload), &ev); jerr != nil {
		return &apperror.ValidationError{Campo: "payload", Motivo: jerr.Error()}
	}
	sesion, err := s.sesiones.FindAbierta(ctx, p.PuntoDeVenta)
	if err != nil {
		if apperror.Code(err) == apperror.CodeNotFound {
			return &apperror.NotOpenError{PuntoDeVenta: p.PuntoDeVenta, Estado: "sin sesión abierta"}
		}
		return err
	}
	if _, err := s.aplicar(ctx, sesion, p.VentaID, ev); err != nil {
		return err
	}
	s.resolver(ctx, p.VentaID)
	return nil
}

func (s *sincronizadorService) BackfillAbiertas(ctx context.Context) (int, error) {
	sesiones, err := s.sesiones.ListAbiertas(ctx)
	if err != nil {
		return 0, err
	}
	recuperadas := 0
	for _, sesion := range sesiones {
		huerfanas, err := s.DetectarHuerfanas(ctx, sesion.ID)
		if err != nil {
			return recuperadas, err
		}
		for _, ventaID := range huerfanas {
			resp, err := s.Backfill(ctx, ventaID)
			if err != nil {
				if apperror.IsDomain(err) {
					log.Warn().Err(err).Str("venta_id", ventaID.String()).Msg("backfill rechazado")
					continue
				}
				return recuperadas, err
			}
			if !resp.Duplicado {
				recuperadas++
			}
		}
	}
	return recuperadas, nil
}
