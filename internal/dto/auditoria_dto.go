package dto

import (
	"time"

	"github.com/compucol89/kiosco-sub007/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TipoEntrada string

const (
	EntradaVenta      TipoEntrada = "venta"
	EntradaMovimiento TipoEntrada = "movimiento"
)

// Timeline match tags.
const (
	EstadoConciliado = "conciliado" // sale ↔ its movement
	EstadoHuerfana   = "huerfana"   // sale without movement
	EstadoSinVenta   = "sin_venta"  // sale movement whose sale is unknown to the sales subsystem
	EstadoManual     = "manual"
	EstadoAjuste     = "ajuste"
)

type TimelineEntry struct {
	Tipo       TipoEntrada      `json:"tipo"`
	ID         uuid.UUID        `json:"id"`
	Fecha      time.Time        `json:"fecha"`
	Direccion  model.Direccion  `json:"direccion"`
	Monto      decimal.Decimal  `json:"monto"`
	MetodoPago model.MetodoPago `json:"metodo_pago"`
	Estado     string           `json:"estado"`
	// Relacionado is the matching sale (for movements) or movement (for sales).
	Relacionado *uuid.UUID `json:"relacionado,omitempty"`
	Descripcion string     `json:"descripcion,omitempty"`
}

type TimelineResponse struct {
	SesionCajaID string          `json:"sesion_caja_id"`
	Entradas     []TimelineEntry `json:"entradas"`
}

// RangoQuery is bound from GET /v1/caja/resumen.
type RangoQuery struct {
	Desde string `form:"desde" validate:"required,datetime=2006-01-02"`
	Hasta string `form:"hasta" validate:"required,datetime=2006-01-02"`
}

type TotalesMetodo struct {
	Ingresos decimal.Decimal `json:"ingresos"`
	Egresos  decimal.Decimal `json:"egresos"`
	Neto     decimal.Decimal `json:"neto"`
	Ventas   decimal.Decimal `json:"ventas"`
}

type ResumenDia struct {
	Fecha     string                              `json:"fecha"` // YYYY-MM-DD in the report timezone
	PorMetodo map[model.MetodoPago]*TotalesMetodo `json:"por_metodo"`
	Total     TotalesMetodo                       `json:"total"`
	Ventas    model.EstadisticasVentas            `json:"estadisticas_ventas"`
}

type RangeSummary struct {
	Desde     string                              `json:"desde"`
	Hasta     string                              `json:"hasta"`
	Dias      []ResumenDia                        `json:"dias"`
	PorMetodo map[model.MetodoPago]*TotalesMetodo `json:"por_metodo"`
	Total     TotalesMetodo                       `json:"total"`
	Ventas    model.EstadisticasVentas            `json:"estadisticas_ventas"`
}
