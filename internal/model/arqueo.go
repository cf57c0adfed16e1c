package model

import (
	"errors"
	"sort"
	"time"

	"github.com/compucol89/kiosco-sub007/internal/apperror"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Clasificacion string

const (
	Exacto   Clasificacion = "exacto"
	Faltante Clasificacion = "faltante"
	Sobrante Clasificacion = "sobrante"
)

// Clasificar applies the canonical rule: exacto when |desvio| ≤ tolerancia,
// otherwise faltante for a negative desvío and sobrante for a positive one.
func Clasificar(desvio, tolerancia decimal.Decimal) Clasificacion {
	switch {
	case desvio.Abs().LessThanOrEqual(tolerancia):
		return Exacto
	case desvio.IsNegative():
		return Faltante
	default:
		return Sobrante
	}
}

// Warning codes stored in Arqueo.Advertencias.
const (
	AdvertenciaLedgerCorrupto  = "ledger_corruption"
	AdvertenciaVentasHuerfanas = "orphan_sales"
)

type Advertencia struct {
	Codigo   string      `json:"codigo"`
	Detalle  string      `json:"detalle"`
	VentaIDs []uuid.UUID `json:"venta_ids,omitempty"`
}

// ResultadoMetodo compares, for one payment method, what the ledger holds
// (Esperado) with what the sales subsystem recorded. Diferencia = Esperado − RegistradoEnVentas.
type ResultadoMetodo struct {
	Esperado           decimal.Decimal `json:"esperado"`
	RegistradoEnVentas decimal.Decimal `json:"registrado_en_ventas"`
	Diferencia         decimal.Decimal `json:"diferencia"`
	Clasificacion      Clasificacion   `json:"clasificacion"`
}

// Arqueo is the reconciliation of one shift. Close persists exactly one per shift;
// on-demand reconciliations build the same struct without storing it.
type Arqueo struct {
	ID             uuid.UUID                      `gorm:"type:uuid;primaryKey" json:"id"`
	SesionCajaID   uuid.UUID                      `gorm:"type:uuid;not null;uniqueIndex" json:"sesion_caja_id"`
	MontoInicial   decimal.Decimal                `gorm:"type:decimal(12,2);not null" json:"monto_inicial"`
	MontoEsperado  decimal.Decimal                `gorm:"type:decimal(12,2);not null" json:"monto_esperado"`
	MontoDeclarado decimal.Decimal                `gorm:"type:decimal(12,2);not null" json:"monto_declarado"`
	Desvio         decimal.Decimal                `gorm:"type:decimal(12,2);not null" json:"desvio"`
	Clasificacion  Clasificacion                  `gorm:"type:varchar(20);not null" json:"clasificacion"`
	Tolerancia     decimal.Decimal                `gorm:"type:decimal(12,4);not null" json:"tolerancia"`
	PorMetodo      map[MetodoPago]ResultadoMetodo `gorm:"type:text;serializer:json" json:"por_metodo"`
	Ventas         EstadisticasVentas             `gorm:"type:text;serializer:json" json:"ventas"`
	Advertencias   []Advertencia                  `gorm:"type:text;serializer:json" json:"advertencias"`
	CreatedAt      time.Time                      `gorm:"not null" json:"created_at"`
}

func (Arqueo) TableName() string { return "arqueos" }

// MetodosConDiferencia returns the payment methods whose ledger total does not
// match the sales subsystem, in report order. It is independent of the cash
// classification: a cash desvío of zero can hide two opposite errors.
func (a *Arqueo) MetodosConDiferencia() []MetodoPago {
	var out []MetodoPago
	for metodo, r := range a.PorMetodo {
		if r.Clasificacion != Exacto {
			out = append(out, metodo)
		}
	}
	sort.Slice(out, func(i, j int) bool { return ordenMetodo(out[i]) < ordenMetodo(out[j]) })
	return out
}

func ordenMetodo(m MetodoPago) int {
	for i, v := range MetodosPago {
		if v == m {
			return i
		}
	}
	return len(MetodosPago)
}

// Conciliado is true only when cash is exacto, every method matches and no warning was raised.
func (a *Arqueo) Conciliado() bool {
	return a.Clasificacion == Exacto && len(a.MetodosConDiferencia()) == 0 && len(a.Advertencias) == 0
}

// Err rebuilds the typed warnings of the result, joined. nil when there are none.
func (a *Arqueo) Err() error {
	var errs []error
	for _, adv := range a.Advertencias {
		switch adv.Codigo {
		case AdvertenciaLedgerCorrupto:
			errs = append(errs, &apperror.LedgerCorruptionWarning{
				SesionID:      a.SesionCajaID,
				MontoEsperado: a.MontoEsperado,
				Motivo:        adv.Detalle,
			})
		case AdvertenciaVentasHuerfanas:
			errs = append(errs, &apperror.OrphanSaleDetectedError{
				SesionID: a.SesionCajaID,
				VentaIDs: adv.VentaIDs,
			})
		}
	}
	return errors.Join(errs...)
}
