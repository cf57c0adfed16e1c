package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/compucol89/kiosco-sub007/internal/apperror"
	"github.com/compucol89/kiosco-sub007/internal/dto"
	"github.com/compucol89/kiosco-sub007/internal/metrics"
	"github.com/compucol89/kiosco-sub007/internal/model"
	"github.com/compucol89/kiosco-sub007/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ArqueoService compares the ledger against the counted drawer and against
// the sales subsystem, one payment method at a time.
type ArqueoService interface {
	// ComputeExpectedCash = monto_inicial + balance(efectivo).
	ComputeExpectedCash(ctx context.Context, sesionID uuid.UUID) (decimal.Decimal, error)
	// Reconcile is the on-demand reconciliation; nothing is persisted.
	// tolerancia nil uses the configured one.
	Reconcile(ctx context.Context, sesionID uuid.UUID, montoDeclarado decimal.Decimal, tolerancia *decimal.Decimal) (*model.Arqueo, error)
	// Conciliar runs the same computation inside tx against an already locked shift.
	Conciliar(ctx context.Context, tx *gorm.DB, sesion *model.SesionCaja, montoDeclarado decimal.Decimal, tolerancia *decimal.Decimal) (*model.Arqueo, error)
	EstadisticasVentas(ctx context.Context, sesionID uuid.UUID) (model.EstadisticasVentas, error)
	Tolerancia() decimal.Decimal
}

type arqueoService struct {
	sesiones   repository.SesionRepository
	ledger     repository.LedgerRepository
	ventas     repository.VentaRepository
	tolerancia decimal.Decimal
	now        func() time.Time
}

func NewArqueoService(
	sesiones repository.SesionRepository,
	ledger repository.LedgerRepository,
	ventas repository.VentaRepository,
	tolerancia decimal.Decimal,
) ArqueoService {
	return &arqueoService{
		sesiones:   sesiones,
		ledger:     ledger,
		ventas:     ventas,
		tolerancia: tolerancia,
		now:        time.Now,
	}
}

func (s *arqueoService) Tolerancia() decimal.Decimal { return s.tolerancia }

func (s *arqueoService) ComputeExpectedCash(ctx context.Context, sesionID uuid.UUID) (decimal.Decimal, error) {
	sesion, err := s.sesiones.FindByID(ctx, nil, sesionID)
	if err != nil {
		return decimal.Zero, err
	}
	efectivo := model.MetodoEfectivo
	balance, err := s.ledger.Balance(ctx, nil, sesionID, &efectivo)
	if err != nil {
		return decimal.Zero, err
	}
	return sesion.MontoInicial.Add(balance), nil
}

func (s *arqueoService) Reconcile(ctx context.Context, sesionID uuid.UUID, montoDeclarado decimal.Decimal, tolerancia *decimal.Decimal) (*model.Arqueo, error) {
	sesion, err := s.sesiones.FindByID(ctx, nil, sesionID)
	if err != nil {
		return nil, err
	}
	return s.Conciliar(ctx, nil, sesion, montoDeclarado, tolerancia)
}

func (s *arqueoService) Conciliar(ctx context.Context, tx *gorm.DB, sesion *model.SesionCaja, montoDeclarado decimal.Decimal, tolerancia *decimal.Decimal) (*model.Arqueo, error) {
	if montoDeclarado.IsNegative() {
		return nil, &apperror.InvalidAmountError{Campo: "monto_declarado", Monto: montoDeclarado}
	}
	tol := s.tolerancia
	if tolerancia != nil {
		if tolerancia.IsNegative() {
			return nil, &apperror.InvalidAmountError{Campo: "tolerancia", Monto: *tolerancia}
		}
		tol = *tolerancia
	}

	movs, err := s.ledger.List(ctx, tx, sesion.ID, dto.MovimientoFilter{})
	if err != nil {
		return nil, err
	}
	desde, hasta := sesion.Ventana()
	ventas, err := s.ventas.ListCompletadas(ctx, tx, sesion.PuntoDeVenta, desde, hasta)
	if err != nil {
		return nil, err
	}

	efectivo := model.MetodoEfectivo
	esperado := sesion.MontoInicial.Add(model.BalanceEfectivo(movs, &efectivo))
	desvio := montoDeclarado.Sub(esperado)

	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	arqueo := &model.Arqueo{
		ID:             id,
		SesionCajaID:   sesion.ID,
		MontoInicial:   sesion.MontoInicial,
		MontoEsperado:  esperado,
		MontoDeclarado: montoDeclarado,
		Desvio:         desvio,
		Clasificacion:  model.Clasificar(desvio, tol),
		Tolerancia:     tol,
		PorMetodo:      porMetodo(movs, ventas, tol),
		Ventas:         model.CalcularEstadisticas(ventas),
		Advertencias:   []model.Advertencia{},
		CreatedAt:      ahora(s.now),
	}

	if esperado.IsNegative() {
		arqueo.Advertencias = append(arqueo.Advertencias, model.Advertencia{
			Codigo:  model.AdvertenciaLedgerCorrupto,
			Detalle: fmt.Sprintf("el efectivo esperado es negativo (%s): falta el monto inicial o hay movimientos mal sincronizados", esperado.StringFixed(2)),
		})
	}
	if err := s.ledger.Verify(ctx, tx, sesion.ID); err != nil {
		var corrupt *apperror.LedgerCorruptionWarning
		if !errors.As(err, &corrupt) {
			return nil, err
		}
		arqueo.Advertencias = append(arqueo.Advertencias, model.Advertencia{
			Codigo:  model.AdvertenciaLedgerCorrupto,
			Detalle: corrupt.Motivo,
		})
	}

	huerfanas, err := huerfanasDe(ctx, tx, s.ledger, ventas)
	if err != nil {
		return nil, err
	}
	if len(huerfanas) > 0 {
		arqueo.Advertencias = append(arqueo.Advertencias, model.Advertencia{
			Codigo:   model.AdvertenciaVentasHuerfanas,
			Detalle:  fmt.Sprintf("%d venta(s) completada(s) sin movimiento de caja", len(huerfanas)),
			VentaIDs: huerfanas,
		})
	}

	if len(arqueo.Advertencias) > 0 {
		for _, adv := range arqueo.Advertencias {
			if adv.Codigo == model.AdvertenciaLedgerCorrupto {
				metrics.LedgerCorrupto.Inc()
				break
			}
		}
		log.Warn().
			Str("sesion_id", sesion.ID.String()).
			Int("punto_de_venta", sesion.PuntoDeVenta).
			Str("monto_esperado", esperado.StringFixed(2)).
			Err(arqueo.Err()).
			Msg("arqueo con advertencias")
	}
	return arqueo, nil
}

func (s *arqueoService) EstadisticasVentas(ctx context.Context, sesionID uuid.UUID) (model.EstadisticasVentas, error) {
	sesion, err := s.sesiones.FindByID(ctx, nil, sesionID)
	if err != nil {
		return model.EstadisticasVentas{}, err
	}
	desde, hasta := sesion.Ventana()
	ventas, err := s.ventas.ListCompletadas(ctx, nil, sesion.PuntoDeVenta, desde, hasta)
	if err != nil {
		return model.EstadisticasVentas{}, err
	}
	return model.CalcularEstadisticas(ventas), nil
}

// porMetodo compares, per payment method, the sale-derived part of the
// ledger (sale movements plus the adjustments that correct them) with the
// completed sales recorded by the sales subsystem.
func porMetodo(movs []model.MovimientoCaja, ventas []model.Venta, tol decimal.Decimal) map[model.MetodoPago]model.ResultadoMetodo {
	deVenta := make(map[uuid.UUID]bool)
	for i := range movs {
		if movs[i].Origen == model.OrigenVenta {
			deVenta[movs[i].ID] = true
		}
	}

	esperado := make(map[model.MetodoPago]decimal.Decimal, len(model.MetodosPago))
	registrado := make(map[model.MetodoPago]decimal.Decimal, len(model.MetodosPago))
	for _, m := range model.MetodosPago {
		esperado[m] = decimal.Zero
		registrado[m] = decimal.Zero
	}
	for i := range movs {
		m := &movs[i]
		corrigeVenta := m.Origen == model.OrigenAjuste && m.AjustaA != nil && deVenta[*m.AjustaA]
		if m.Origen != model.OrigenVenta && !corrigeVenta {
			continue
		}
		esperado[m.MetodoPago] = esperado[m.MetodoPago].Add(m.MontoFirmado())
	}
	for i := range ventas {
		registrado[ventas[i].MetodoPago] = registrado[ventas[i].MetodoPago].Add(ventas[i].Total)
	}

	out := make(map[model.MetodoPago]model.ResultadoMetodo, len(model.MetodosPago))
	for _, m := range model.MetodosPago {
		diff := esperado[m].Sub(registrado[m])
		out[m] = model.ResultadoMetodo{
			Esperado:           esperado[m],
			RegistradoEnVentas: registrado[m],
			Diferencia:         diff,
			Clasificacion:      model.Clasificar(diff, tol),
		}
	}
	return out
}

// huerfanasDe returns, in input order, the sales that have no sale movement.
func huerfanasDe(ctx context.Context, tx *gorm.DB, ledger repository.LedgerRepository, ventas []model.Venta) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, len(ventas))
	for i := range ventas {
		ids[i] = ventas[i].ID
	}
	existentes, err := ledger.ReferenciasExistentes(ctx, tx, ids)
	if err != nil {
		return nil, err
	}
	out := []uuid.UUID{}
	for _, id := range ids {
		if !existentes[id] {
			out = append(out, id)
		}
	}
	return out, nil
}
