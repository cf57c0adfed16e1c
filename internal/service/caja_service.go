package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
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

type CajaService interface {
	Abrir(ctx context.Context, req dto.AbrirCajaRequest) (*model.SesionCaja, error)
	Cerrar(ctx context.Context, req dto.CerrarCajaRequest) (*dto.CerrarCajaResponse, error)
	// GetActiva returns nil, nil when the register has no open shift.
	GetActiva(ctx context.Context, puntoDeVenta int) (*model.SesionCaja, error)
	RegistrarMovimiento(ctx context.Context, req dto.MovimientoManualRequest) (*model.MovimientoCaja, error)
	RegistrarAjuste(ctx context.Context, req dto.AjusteRequest) (*model.MovimientoCaja, error)
	ListarMovimientos(ctx context.Context, sesionID uuid.UUID, f dto.MovimientoFilter) ([]model.MovimientoCaja, error)
	ObtenerReporte(ctx context.Context, sesionID uuid.UUID) (*dto.ReporteCajaResponse, error)
	Historial(ctx context.Context, page, limit int) (*dto.HistorialResponse, error)
	Verificar(ctx context.Context, sesionID uuid.UUID) error
}

type cajaService struct {
	sesiones    repository.SesionRepository
	ledger      repository.LedgerRepository
	arqueoRepo  repository.ArqueoRepository
	ventas      repository.VentaRepository
	arqueos     ArqueoService
	notificador Notificador
	now         func() time.Time
}

func NewCajaService(
	sesiones repository.SesionRepository,
	ledger repository.LedgerRepository,
	arqueoRepo repository.ArqueoRepository,
	ventas repository.VentaRepository,
	arqueos ArqueoService,
	notificador Notificador,
) CajaService {
	return &cajaService{
		sesiones:    sesiones,
		ledger:      ledger,
		arqueoRepo:  arqueoRepo,
		ventas:      ventas,
		arqueos:     arqueos,
		notificador: notificador,
		now:         time.Now,
	}
}

// ── Abrir ─────────────────────────────────────────────────────────────────────
// One INSERT: ux_sesiones_caja_abierta decides between concurrent opens.

func (s *cajaService) Abrir(ctx context.Context, req dto.AbrirCajaRequest) (*model.SesionCaja, error) {
	if req.MontoInicial.IsNegative() {
		return nil, &apperror.InvalidAmountError{Campo: "monto_inicial", Monto: req.MontoInicial}
	}
	if req.PuntoDeVenta < 1 {
		return nil, &apperror.ValidationError{Campo: "punto_de_venta", Motivo: "debe ser mayor o igual a 1"}
	}
	usuarioID, err := parseID("usuario_id", req.UsuarioID)
	if err != nil {
		return nil, err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}

	sesion := &model.SesionCaja{
		ID:            id,
		PuntoDeVenta:  req.PuntoDeVenta,
		UsuarioID:     usuarioID,
		Estado:        model.SesionAbierta,
		MontoInicial:  req.MontoInicial.Round(2),
		Observaciones: req.Observaciones,
		OpenedAt:      ahora(s.now),
	}
	if err := s.sesiones.Create(ctx, sesion); err != nil {
		return nil, err
	}

	log.Info().
		Str("sesion_id", sesion.ID.String()).
		Int("punto_de_venta", sesion.PuntoDeVenta).
		Str("monto_inicial", sesion.MontoInicial.StringFixed(2)).
		Msg("caja abierta")
	return sesion, nil
}

// ── Cerrar ────────────────────────────────────────────────────────────────────
// Lock, reconcile, persist the arqueo and seal the shift in one transaction:
// appends wait on the same row lock, so the reconciled ledger is final.

func (s *cajaService) Cerrar(ctx context.Context, req dto.CerrarCajaRequest) (*dto.CerrarCajaResponse, error) {
	if req.MontoDeclarado.IsNegative() {
		return nil, &apperror.InvalidAmountError{Campo: "monto_declarado", Monto: req.MontoDeclarado}
	}
	sesionID, err := parseID("sesion_caja_id", req.SesionCajaID)
	if err != nil {
		return nil, err
	}
	usuarioID, err := parseID("usuario_id", req.UsuarioID)
	if err != nil {
		return nil, err
	}
	declarado := req.MontoDeclarado.Round(2)

	var (
		sesion *model.SesionCaja
		arqueo *model.Arqueo
	)
	err = s.sesiones.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		sesion, err = s.sesiones.FindByIDForUpdate(ctx, tx, sesionID)
		if err != nil {
			return err
		}
		if !sesion.Abierta() {
			return &apperror.NotOpenError{SesionID: sesion.ID, PuntoDeVenta: sesion.PuntoDeVenta, Estado: string(sesion.Estado)}
		}

		closedAt := ahora(s.now)
		sesion.ClosedAt = &closedAt
		sesion.MontoDeclarado = &declarado
		sesion.Observaciones = req.Justificacion
		sesion.CerradaPor = &usuarioID

		arqueo, err = s.arqueos.Conciliar(ctx, tx, sesion, declarado, nil)
		if err != nil {
			return err
		}
		if err := s.arqueoRepo.Create(ctx, tx, arqueo); err != nil {
			return err
		}
		return s.sesiones.Cerrar(ctx, tx, sesion)
	})
	if err != nil {
		return nil, err
	}

	metrics.Cierres.WithLabelValues(string(arqueo.Clasificacion)).Inc()
	log.Info().
		Str("sesion_id", sesion.ID.String()).
		Int("punto_de_venta", sesion.PuntoDeVenta).
		Str("monto_esperado", arqueo.MontoEsperado.StringFixed(2)).
		Str("monto_declarado", declarado.StringFixed(2)).
		Str("desvio", arqueo.Desvio.StringFixed(2)).
		Str("clasificacion", string(arqueo.Clasificacion)).
		Msg("caja cerrada")

	if !arqueo.Conciliado() {
		s.alertar(ctx, sesion, arqueo)
	}

	return &dto.CerrarCajaResponse{
		Sesion:               *sesion,
		Arqueo:               *arqueo,
		MetodosConDiferencia: arqueo.MetodosConDiferencia(),
	}, nil
}

func (s *cajaService) alertar(ctx context.Context, sesion *model.SesionCaja, arqueo *model.Arqueo) {
	if s.notificador == nil {
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Punto de venta: %d\nSesión: %s\n", sesion.PuntoDeVenta, sesion.ID)
	fmt.Fprintf(&b, "Efectivo esperado: %s\nEfectivo declarado: %s\nDesvío: %s (%s)\n",
		arqueo.MontoEsperado.StringFixed(2), arqueo.MontoDeclarado.StringFixed(2),
		arqueo.Desvio.StringFixed(2), arqueo.Clasificacion)
	for _, m := range arqueo.MetodosConDiferencia() {
		r := arqueo.PorMetodo[m]
		fmt.Fprintf(&b, "Método %s: ledger %s / ventas %s\n", m,
			r.Esperado.StringFixed(2), r.RegistradoEnVentas.StringFixed(2))
	}
	for _, adv := range arqueo.Advertencias {
		fmt.Fprintf(&b, "Advertencia %s: %s\n", adv.Codigo, adv.Detalle)
	}
	asunto := fmt.Sprintf("Cierre de caja con diferencias: punto de venta %d", sesion.PuntoDeVenta)
	if err := s.notificador.Alertar(context.WithoutCancel(ctx), asunto, b.String()); err != nil {
		log.Warn().Err(err).Str("sesion_id", sesion.ID.String()).Msg("no se pudo encolar la alerta de cierre")
	}
}

func (s *cajaService) GetActiva(ctx context.Context, puntoDeVenta int) (*model.SesionCaja, error) {
	sesion, err := s.sesiones.FindAbierta(ctx, puntoDeVenta)
	if err != nil {
		var nf *apperror.NotFoundError
		if errors.As(err, &nf) {
			return nil, nil
		}
		return nil, err
	}
	return sesion, nil
}

// ── Movimientos ───────────────────────────────────────────────────────────────

func (s *cajaService) RegistrarMovimiento(ctx context.Context, req dto.MovimientoManualRequest) (*model.MovimientoCaja, error) {
	sesionID, err := parseID("sesion_caja_id", req.SesionCajaID)
	if err != nil {
		return nil, err
	}
	usuarioID, err := parseID("usuario_id", req.UsuarioID)
	if err != nil {
		return nil, err
	}
	return s.append(ctx, &model.MovimientoCaja{
		SesionCajaID: sesionID,
		Direccion:    req.Direccion,
		Monto:        req.Monto,
		MetodoPago:   req.MetodoPago,
		Origen:       model.OrigenManual,
		UsuarioID:    &usuarioID,
		Descripcion:  req.Descripcion,
	})
}

func (s *cajaService) RegistrarAjuste(ctx context.Context, req dto.AjusteRequest) (*model.MovimientoCaja, error) {
	sesionID, err := parseID("sesion_caja_id", req.SesionCajaID)
	if err != nil {
		return nil, err
	}
	movID, err := parseID("movimiento_id", req.MovimientoID)
	if err != nil {
		return nil, err
	}
	usuarioID, err := parseID("usuario_id", req.UsuarioID)
	if err != nil {
		return nil, err
	}
	return s.append(ctx, &model.MovimientoCaja{
		SesionCajaID: sesionID,
		Direccion:    req.Direccion,
		Monto:        req.Monto,
		MetodoPago:   req.MetodoPago,
		Origen:       model.OrigenAjuste,
		AjustaA:      &movID,
		UsuarioID:    &usuarioID,
		Descripcion:  req.Descripcion,
	})
}

func (s *cajaService) append(ctx context.Context, m *model.MovimientoCaja) (*model.MovimientoCaja, error) {
	mov, _, err := s.ledger.Append(ctx, nil, m)
	if err != nil {
		return nil, err
	}
	metrics.MovimientosRegistrados.WithLabelValues(string(mov.Origen), string(mov.MetodoPago)).Inc()
	log.Info().
		Str("sesion_id", mov.SesionCajaID.String()).
		Str("movimiento_id", mov.ID.String()).
		Str("origen", string(mov.Origen)).
		Str("direccion", string(mov.Direccion)).
		Str("monto", mov.Monto.StringFixed(2)).
		Msg("movimiento registrado")
	return mov, nil
}

func (s *cajaService) ListarMovimientos(ctx context.Context, sesionID uuid.UUID, f dto.MovimientoFilter) ([]model.MovimientoCaja, error) {
	if _, err := s.sesiones.FindByID(ctx, nil, sesionID); err != nil {
		return nil, err
	}
	return s.ledger.List(ctx, nil, sesionID, f)
}

// ── Reporte / Historial ───────────────────────────────────────────────────────

func (s *cajaService) ObtenerReporte(ctx context.Context, sesionID uuid.UUID) (*dto.ReporteCajaResponse, error) {
	sesion, err := s.sesiones.FindByID(ctx, nil, sesionID)
	if err != nil {
		return nil, err
	}
	movs, err := s.ledger.List(ctx, nil, sesionID, dto.MovimientoFilter{})
	if err != nil {
		return nil, err
	}
	efectivo := model.MetodoEfectivo
	resp := &dto.ReporteCajaResponse{
		Sesion:        *sesion,
		MontoEsperado: sesion.MontoInicial.Add(model.BalanceEfectivo(movs, &efectivo)),
		NetoPorMetodo: make(map[model.MetodoPago]decimal.Decimal, len(model.MetodosPago)),
		CantidadMovs:  len(movs),
	}
	for _, m := range model.MetodosPago {
		resp.NetoPorMetodo[m] = decimal.Zero
	}
	for i := range movs {
		resp.NetoPorMetodo[movs[i].MetodoPago] = resp.NetoPorMetodo[movs[i].MetodoPago].Add(movs[i].MontoFirmado())
	}

	if !sesion.Abierta() {
		arqueo, err := s.arqueoRepo.FindBySesion(ctx, sesionID)
		if err != nil {
			return nil, err
		}
		resp.Arqueo = arqueo
	}

	desde, hasta := sesion.Ventana()
	ventas, err := s.ventas.ListCompletadas(ctx, nil, sesion.PuntoDeVenta, desde, hasta)
	if err != nil {
		return nil, err
	}
	huerfanas, err := huerfanasDe(ctx, nil, s.ledger, ventas)
	if err != nil {
		return nil, err
	}
	resp.VentasHuerfanas = len(huerfanas)

	err = s.ledger.Verify(ctx, nil, sesionID)
	var corrupt *apperror.LedgerCorruptionWarning
	switch {
	case err == nil:
		resp.LedgerVerificado = true
	case !errors.As(err, &corrupt):
		return nil, err
	}
	return resp, nil
}

func (s *cajaService) Historial(ctx context.Context, page, limit int) (*dto.HistorialResponse, error) {
	sesiones, total, err := s.sesiones.ListCerradas(ctx, page, limit)
	if err != nil {
		return nil, err
	}
	return &dto.HistorialResponse{Data: sesiones, Total: total, Page: page, Limit: limit}, nil
}

func (s *cajaService) Verificar(ctx context.Context, sesionID uuid.UUID) error {
	if _, err := s.sesiones.FindByID(ctx, nil, sesionID); err != nil {
		return err
	}
	return s.ledger.Verify(ctx, nil, sesionID)
}
