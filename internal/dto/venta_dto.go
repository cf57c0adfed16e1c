package dto

import (
	"time"

	"github.com/compucol89/kiosco-sub007/internal/model"

	"github.com/shopspring/decimal"
)

// VentaCompletadaEvent is emitted by the sales subsystem once a sale is final.
// It arrives through POST /v1/caja/ventas/eventos or the jobs:ventas queue.
type VentaCompletadaEvent struct {
	ID           string           `json:"id"             validate:"required,uuid"`
	PuntoDeVenta int              `json:"punto_de_venta" validate:"required,min=1"`
	Total        decimal.Decimal  `json:"total"`
	MetodoPago   model.MetodoPago `json:"metodo_pago"    validate:"required,oneof=efectivo tarjeta transferencia qr otro"`
	Timestamp    time.Time        `json:"timestamp"      validate:"required"`
}

type SincronizacionResponse struct {
	Movimiento model.MovimientoCaja `json:"movimiento"`
	// Duplicado is true when the event had already been applied.
	Duplicado bool `json:"duplicado"`
}

type HuerfanasResponse struct {
	SesionCajaID string   `json:"sesion_caja_id"`
	VentaIDs     []string `json:"venta_ids"`
}

type PendientesResponse struct {
	Data []model.SincronizacionPendiente `json:"data"`
}
