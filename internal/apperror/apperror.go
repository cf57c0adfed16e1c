// Package apperror defines the typed failures of the caja core.
// Services return these values directly; handlers map them to HTTP statuses.
// Messages are user-facing (Spanish), like the rest of the API.
package apperror

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Machine-readable codes, exposed in the API envelope.
const (
	CodeAlreadyOpen      = "caja_ya_abierta"
	CodeNotOpen          = "caja_no_abierta"
	CodeShiftClosed      = "caja_cerrada"
	CodeInvalidAmount    = "monto_invalido"
	CodeOrphanSale       = "venta_huerfana"
	CodeLedgerCorruption = "ledger_corrupto"
	CodeNotFound         = "no_encontrado"
	CodeOutOfBounds      = "venta_fuera_de_turno"
	CodeValidation       = "validacion"
)

// AlreadyOpenError: the register already has a shift in estado "abierta".
type AlreadyOpenError struct {
	PuntoDeVenta int
}

func (e *AlreadyOpenError) Error() string {
	return fmt.Sprintf("Ya existe una caja abierta en el punto de venta %d", e.PuntoDeVenta)
}

// NotOpenError: the operation needs an open shift and there is none.
// SesionID is uuid.Nil when the lookup was by punto de venta.
type NotOpenError struct {
	SesionID     uuid.UUID
	PuntoDeVenta int
	Estado       string
}

func (e *NotOpenError) Error() string {
	if e.SesionID == uuid.Nil {
		return fmt.Sprintf("No hay sesión de caja abierta en el punto de venta %d", e.PuntoDeVenta)
	}
	return fmt.Sprintf("la sesión %s no está abierta (estado: %s)", e.SesionID, e.Estado)
}

// ShiftClosedError: a write targeted a shift that is already sealed.
type ShiftClosedError struct {
	SesionID uuid.UUID
}

func (e *ShiftClosedError) Error() string {
	return fmt.Sprintf("la sesión %s ya está cerrada: el historial no se modifica", e.SesionID)
}

// InvalidAmountError is returned for negative or zero amounts where they are not allowed.
type InvalidAmountError struct {
	Campo string
	Monto decimal.Decimal
}

func (e *InvalidAmountError) Error() string {
	return fmt.Sprintf("monto inválido en %s: %s", e.Campo, e.Monto.String())
}

// OrphanSaleDetectedError is a warning: completed sales exist without a ledger movement.
// It never aborts the operation that detected it.
type OrphanSaleDetectedError struct {
	SesionID uuid.UUID
	VentaIDs []uuid.UUID
	Causa    error
}

func (e *OrphanSaleDetectedError) Error() string {
	ids := make([]string, len(e.VentaIDs))
	for i, id := range e.VentaIDs {
		ids[i] = id.String()
	}
	msg := fmt.Sprintf("ventas sin movimiento de caja: %s", strings.Join(ids, ", "))
	if e.Causa != nil {
		msg += " (" + e.Causa.Error() + ")"
	}
	return msg
}

func (e *OrphanSaleDetectedError) Unwrap() error { return e.Causa }

// LedgerCorruptionWarning flags a ledger state that cannot exist physically,
// e.g. a negative expected drawer balance or a broken hash chain.
type LedgerCorruptionWarning struct {
	SesionID      uuid.UUID
	MontoEsperado decimal.Decimal
	Motivo        string
}

func (e *LedgerCorruptionWarning) Error() string {
	return fmt.Sprintf("ledger inconsistente en la sesión %s: %s (esperado: %s)",
		e.SesionID, e.Motivo, e.MontoEsperado.StringFixed(2))
}

// NotFoundError replaces gorm.ErrRecordNotFound at the repository boundary.
type NotFoundError struct {
	Recurso string
	ID      string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s no encontrado: %s", e.Recurso, e.ID)
}

// SaleOutOfBoundsError: the sale cannot be attributed to a shift window of its register.
type SaleOutOfBoundsError struct {
	VentaID      uuid.UUID
	PuntoDeVenta int
	Fecha        time.Time
	Motivo       string
}

func (e *SaleOutOfBoundsError) Error() string {
	return fmt.Sprintf("la venta %s (punto de venta %d, %s) no corresponde a un turno: %s",
		e.VentaID, e.PuntoDeVenta, e.Fecha.Format(time.RFC3339), e.Motivo)
}

// ValidationError describes a malformed input field.
type ValidationError struct {
	Campo  string
	Motivo string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Campo, e.Motivo)
}

// Code returns the machine-readable code of a typed error, or "" for anything else.
func Code(err error) string {
	var (
		alreadyOpen *AlreadyOpenError
		notOpen     *NotOpenError
		closed      *ShiftClosedError
		amount      *InvalidAmountError
		orphan      *OrphanSaleDetectedError
		corruption  *LedgerCorruptionWarning
		notFound    *NotFoundError
		outOfBounds *SaleOutOfBoundsError
		validation  *ValidationError
	)
	// Warnings first: an orphan wraps the failure that produced it.
	switch {
	case errors.As(err, &orphan):
		return CodeOrphanSale
	case errors.As(err, &corruption):
		return CodeLedgerCorruption
	case errors.As(err, &alreadyOpen):
		return CodeAlreadyOpen
	case errors.As(err, &notOpen):
		return CodeNotOpen
	case errors.As(err, &closed):
		return CodeShiftClosed
	case errors.As(err, &amount):
		return CodeInvalidAmount
	case errors.As(err, &notFound):
		return CodeNotFound
	case errors.As(err, &outOfBounds):
		return CodeOutOfBounds
	case errors.As(err, &validation):
		return CodeValidation
	}
	return ""
}

// IsDomain reports whether err is one of the typed failures above.
// Retrying a domain error cannot change its outcome.
func IsDomain(err error) bool {
	return Code(err) != ""
}
