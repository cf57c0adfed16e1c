package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Direccion string

const (
	Ingreso Direccion = "ingreso"
	Egreso  Direccion = "egreso"
)

func (d Direccion) Valida() bool { return d == Ingreso || d == Egreso }

type MetodoPago string

const (
	MetodoEfectivo      MetodoPago = "efectivo"
	MetodoTarjeta       MetodoPago = "tarjeta"
	MetodoTransferencia MetodoPago = "transferencia"
	MetodoQR            MetodoPago = "qr"
	MetodoOtro          MetodoPago = "otro"
)

// MetodosPago lists every payment method in report order.
var MetodosPago = []MetodoPago{MetodoEfectivo, MetodoTarjeta, MetodoTransferencia, MetodoQR, MetodoOtro}

func (m MetodoPago) Valido() bool {
	for _, v := range MetodosPago {
		if m == v {
			return true
		}
	}
	return false
}

type Origen string

const (
	OrigenVenta  Origen = "venta"
	OrigenManual Origen = "manual"
	OrigenAjuste Origen = "ajuste"
)

func (o Origen) Valido() bool {
	return o == OrigenVenta || o == OrigenManual || o == OrigenAjuste
}

// HashGenesis is the HashPrevio of the first movement of every shift.
var HashGenesis = strings.Repeat("0", 64)

// MovimientoCaja is an immutable entry of the cash register ledger.
// Monto is always positive; the sign lives in Direccion. Rows are never
// updated or deleted: corrections are new movements with Origen "ajuste"
// pointing at the corrected entry through AjustaA.
type MovimientoCaja struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	SesionCajaID uuid.UUID `gorm:"type:uuid;not null;index:idx_movimientos_caja_sesion_fecha,priority:1;uniqueIndex:ux_movimientos_caja_secuencia,priority:1" json:"sesion_caja_id"`
	// Secuencia is 1..n within the shift, assigned under the shift lock.
	Secuencia      int64           `gorm:"not null;uniqueIndex:ux_movimientos_caja_secuencia,priority:2" json:"secuencia"`
	Direccion      Direccion       `gorm:"type:varchar(10);not null" json:"direccion"`
	Monto          decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"monto"`
	MetodoPago     MetodoPago      `gorm:"type:varchar(20);not null" json:"metodo_pago"`
	AfectaEfectivo bool            `gorm:"not null" json:"afecta_efectivo"`
	Origen         Origen          `gorm:"type:varchar(20);not null" json:"origen"`
	// ReferenciaVenta is the sale id when Origen is "venta"; it is the
	// de-duplication key of ux_movimientos_caja_venta.
	ReferenciaVenta *uuid.UUID `gorm:"type:uuid;index" json:"referencia_venta,omitempty"`
	AjustaA         *uuid.UUID `gorm:"type:uuid" json:"ajusta_a,omitempty"`
	UsuarioID       *uuid.UUID `gorm:"type:uuid" json:"usuario_id,omitempty"`
	Descripcion     string     `gorm:"not null" json:"descripcion"`
	HashPrevio      string     `gorm:"type:varchar(64);not null" json:"hash_previo"`
	Hash            string     `gorm:"type:varchar(64);not null" json:"hash"`
	CreatedAt       time.Time  `gorm:"not null;index:idx_movimientos_caja_sesion_fecha,priority:2" json:"created_at"`
}

func (MovimientoCaja) TableName() string { return "movimientos_caja" }

// Signo returns +1 for ingresos and -1 for egresos.
func (m *MovimientoCaja) Signo() decimal.Decimal {
	if m.Direccion == Egreso {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// MontoFirmado is Monto with the sign of Direccion applied.
func (m *MovimientoCaja) MontoFirmado() decimal.Decimal {
	return m.Monto.Mul(m.Signo())
}

// CalcularHash chains the movement to its predecessor. Every field that
// defines the entry takes part, so any later edit breaks the chain.
func (m *MovimientoCaja) CalcularHash() string {
	var b strings.Builder
	b.WriteString(m.HashPrevio)
	for _, part := range []string{
		m.ID.String(),
		m.SesionCajaID.String(),
		strconv.FormatInt(m.Secuencia, 10),
		string(m.Direccion),
		m.Monto.StringFixed(2),
		string(m.MetodoPago),
		strconv.FormatBool(m.AfectaEfectivo),
		string(m.Origen),
		uuidOrEmpty(m.ReferenciaVenta),
		uuidOrEmpty(m.AjustaA),
		uuidOrEmpty(m.UsuarioID),
		strconv.FormatInt(m.CreatedAt.UnixMicro(), 10),
		m.Descripcion,
	} {
		b.WriteByte('|')
		b.WriteString(part)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func uuidOrEmpty(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}

// BalanceEfectivo is Σ(ingreso, afecta_efectivo) − Σ(egreso, afecta_efectivo),
// optionally restricted to one payment method.
func BalanceEfectivo(movs []MovimientoCaja, metodo *MetodoPago) decimal.Decimal {
	total := decimal.Zero
	for i := range movs {
		m := &movs[i]
		if !m.AfectaEfectivo {
			continue
		}
		if metodo != nil && m.MetodoPago != *metodo {
			continue
		}
		total = total.Add(m.MontoFirmado())
	}
	return total
}
