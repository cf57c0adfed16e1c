package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	VentaCompletada = "completada"
	VentaAnulada    = "anulada"
)

// Venta is the read side of the sales subsystem's table. The caja core never
// writes it: sales arrive as VentaCompletada events and are only read back
// for orphan detection, per-method validation and the audit timeline.
type Venta struct {
	ID           uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	PuntoDeVenta int             `gorm:"not null;index:idx_ventas_pdv_fecha,priority:1" json:"punto_de_venta"`
	Total        decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"total"`
	MetodoPago   MetodoPago      `gorm:"type:varchar(20);not null" json:"metodo_pago"`
	Estado       string          `gorm:"type:varchar(20);not null" json:"estado"`
	CompletadaAt time.Time       `gorm:"not null;index:idx_ventas_pdv_fecha,priority:2" json:"completada_at"`
}

func (Venta) TableName() string { return "ventas" }

// EstadisticasVentas summarizes a set of sales. Promedio is rounded to the
// cent; Consistente is false when Promedio × Cantidad drifts from Total by
// more than half a cent per sale.
type EstadisticasVentas struct {
	Cantidad    int             `json:"cantidad"`
	Total       decimal.Decimal `json:"total"`
	Promedio    decimal.Decimal `json:"promedio"`
	Consistente bool            `json:"consistente"`
}

func CalcularEstadisticas(ventas []Venta) EstadisticasVentas {
	st := EstadisticasVentas{Total: decimal.Zero, Promedio: decimal.Zero, Consistente: true}
	for i := range ventas {
		st.Total = st.Total.Add(ventas[i].Total)
	}
	st.Cantidad = len(ventas)
	if st.Cantidad == 0 {
		return st
	}
	n := decimal.NewFromInt(int64(st.Cantidad))
	st.Promedio = st.Total.DivRound(n, 2)
	margen := decimal.RequireFromString("0.005").Mul(n)
	st.Consistente = st.Promedio.Mul(n).Sub(st.Total).Abs().LessThanOrEqual(margen)
	return st
}
