package dto

import (
	"time"

	"github.com/compucol89/kiosco-sub007/internal/model"

	"github.com/shopspring/decimal"
)

// ─── Request DTOs ────────────────────────────────────────────────────────────

// Amounts carry no validator tags: sign checks happen in the service so every
// caller (HTTP, worker, tests) gets the same InvalidAmountError.

type AbrirCajaRequest struct {
	PuntoDeVenta  int             `json:"punto_de_venta" validate:"required,min=1"`
	UsuarioID     string          `json:"usuario_id"     validate:"required,uuid"`
	MontoInicial  decimal.Decimal `json:"monto_inicial"`
	Observaciones *string         `json:"observaciones"  validate:"omitempty,max=500"`
}

type CerrarCajaRequest struct {
	SesionCajaID   string          `json:"-"`
	MontoDeclarado decimal.Decimal `json:"monto_declarado"`
	UsuarioID      string          `json:"usuario_id"    validate:"required,uuid"`
	Justificacion  *string         `json:"justificacion" validate:"omitempty,max=1000"`
}

type MovimientoManualRequest struct {
	SesionCajaID string           `json:"-"`
	Direccion    model.Direccion  `json:"direccion"   validate:"required,oneof=ingreso egreso"`
	MetodoPago   model.MetodoPago `json:"metodo_pago" validate:"required,oneof=efectivo tarjeta transferencia qr otro"`
	Monto        decimal.Decimal  `json:"monto"`
	Descripcion  string           `json:"descripcion" validate:"required,min=3,max=255"`
	UsuarioID    string           `json:"usuario_id"  validate:"required,uuid"`
}

// AjusteRequest corrects MovimientoID with a new movement; the original stays untouched.
type AjusteRequest struct {
	SesionCajaID string           `json:"-"`
	MovimientoID string           `json:"movimiento_id" validate:"required,uuid"`
	Direccion    model.Direccion  `json:"direccion"     validate:"required,oneof=ingreso egreso"`
	MetodoPago   model.MetodoPago `json:"metodo_pago"   validate:"required,oneof=efectivo tarjeta transferencia qr otro"`
	Monto        decimal.Decimal  `json:"monto"`
	Descripcion  string           `json:"descripcion"   validate:"required,min=3,max=255"`
	UsuarioID    string           `json:"usuario_id"    validate:"required,uuid"`
}

// MovimientoFilter is bound from the query string of GET /v1/caja/:id/movimientos.
type MovimientoFilter struct {
	MetodoPago model.MetodoPago `form:"metodo_pago" validate:"omitempty,oneof=efectivo tarjeta transferencia qr otro"`
	Origen     model.Origen     `form:"origen"      validate:"omitempty,oneof=venta manual ajuste"`
	Direccion  model.Direccion  `form:"direccion"   validate:"omitempty,oneof=ingreso egreso"`
	Desde      *time.Time       `form:"desde"       time_format:"2006-01-02T15:04:05Z07:00"`
	Hasta      *time.Time       `form:"hasta"       time_format:"2006-01-02T15:04:05Z07:00"`
}

// ─── Response DTOs ───────────────────────────────────────────────────────────

type CerrarCajaResponse struct {
	Sesion model.SesionCaja `json:"sesion"`
	Arqueo model.Arqueo     `json:"arqueo"`
	// MetodosConDiferencia repeats the per-method mismatches so a zero cash
	// desvío cannot hide them.
	MetodosConDiferencia []model.MetodoPago `json:"metodos_con_diferencia"`
}

type ReporteCajaResponse struct {
	Sesion        model.SesionCaja `json:"sesion"`
	MontoEsperado decimal.Decimal  `json:"monto_esperado"`
	// Netos per method over all movements, cash or not.
	NetoPorMetodo    map[model.MetodoPago]decimal.Decimal `json:"neto_por_metodo"`
	CantidadMovs     int                                  `json:"cantidad_movimientos"`
	Arqueo           *model.Arqueo                        `json:"arqueo,omitempty"`
	VentasHuerfanas  int                                  `json:"ventas_huerfanas"`
	LedgerVerificado bool                                 `json:"ledger_verificado"`
}

type HistorialResponse struct {
	Data  []model.SesionCaja `json:"data"`
	Total int64              `json:"total"`
	Page  int                `json:"page"`
	Limit int                `json:"limit"`
}
