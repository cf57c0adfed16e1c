package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/compucol89/kiosco-sub007/internal/apperror"
	"github.com/compucol89/kiosco-sub007/internal/dto"
	"github.com/compucol89/kiosco-sub007/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LedgerRepository is the append-only store of cash movements. It has no
// update or delete: corrections are new movements.
type LedgerRepository interface {
	// Append stores m under the shift row lock and fills its ID, Secuencia,
	// CreatedAt and hash chain. For sale movements it is idempotent on
	// ReferenciaVenta: the existing movement is returned with duplicated=true.
	// tx nil runs Append in its own transaction.
	Append(ctx context.Context, tx *gorm.DB, m *model.MovimientoCaja) (mov *model.MovimientoCaja, duplicated bool, err error)
	FindByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*model.MovimientoCaja, error)
	FindByReferenciaVenta(ctx context.Context, tx *gorm.DB, ventaID uuid.UUID) (*model.MovimientoCaja, error)
	// ReferenciasExistentes returns the subset of ventaIDs that already have a sale movement.
	ReferenciasExistentes(ctx context.Context, tx *gorm.DB, ventaIDs []uuid.UUID) (map[uuid.UUID]bool, error)
	// List returns the shift's movements ordered by (created_at, id). Every
	// call runs a fresh query.
	List(ctx context.Context, tx *gorm.DB, sesionID uuid.UUID, f dto.MovimientoFilter) ([]model.MovimientoCaja, error)
	ListRango(ctx context.Context, desde, hasta time.Time) ([]model.MovimientoCaja, error)
	// Balance is Σ(ingreso, afecta_efectivo) − Σ(egreso, afecta_efectivo).
	Balance(ctx context.Context, tx *gorm.DB, sesionID uuid.UUID, metodo *model.MetodoPago) (decimal.Decimal, error)
	// Verify recomputes the hash chain of the shift.
	Verify(ctx context.Context, tx *gorm.DB, sesionID uuid.UUID) error
}

type ledgerRepo struct {
	db      *gorm.DB
	sesions SesionRepository
	now     func() time.Time
}

func NewLedgerRepository(db *gorm.DB, sesions SesionRepository) LedgerRepository {
	return &ledgerRepo{db: db, sesions: sesions, now: time.Now}
}

func (r *ledgerRepo) Append(ctx context.Context, tx *gorm.DB, m *model.MovimientoCaja) (*model.MovimientoCaja, bool, error) {
	if err := validarMovimiento(m); err != nil {
		return nil, false, err
	}
	if tx != nil {
		return r.append(ctx, tx, m)
	}
	var (
		out *model.MovimientoCaja
		dup bool
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		out, dup, err = r.append(ctx, tx, m)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return out, dup, nil
}

func validarMovimiento(m *model.MovimientoCaja) error {
	if !m.Monto.IsPositive() {
		return &apperror.InvalidAmountError{Campo: "monto", Monto: m.Monto}
	}
	if !m.Direccion.Valida() {
		return &apperror.ValidationError{Campo: "direccion", Motivo: fmt.Sprintf("valor desconocido %q", m.Direccion)}
	}
	if !m.MetodoPago.Valido() {
		return &apperror.ValidationError{Campo: "metodo_pago", Motivo: fmt.Sprintf("valor desconocido %q", m.MetodoPago)}
	}
	if !m.Origen.Valido() {
		return &apperror.ValidationError{Campo: "origen", Motivo: fmt.Sprintf("valor desconocido %q", m.Origen)}
	}
	if m.Origen == model.OrigenVenta && m.ReferenciaVenta == nil {
		return &apperror.ValidationError{Campo: "referencia_venta", Motivo: "obligatoria para movimientos de venta"}
	}
	if m.Origen == model.OrigenAjuste && m.AjustaA == nil {
		return &apperror.ValidationError{Campo: "ajusta_a", Motivo: "obligatorio para ajustes"}
	}
	return nil
}

func (r *ledgerRepo) append(ctx context.Context, tx *gorm.DB, m *model.MovimientoCaja) (*model.MovimientoCaja, bool, error) {
	sesion, err := r.sesions.FindByIDForUpdate(ctx, tx, m.SesionCajaID)
	if err != nil {
		return nil, false, err
	}
	if !sesion.Abierta() {
		return nil, false, &apperror.ShiftClosedError{SesionID: sesion.ID}
	}

	if m.Origen == model.OrigenVenta {
		existing, err := r.FindByReferenciaVenta(ctx, tx, *m.ReferenciaVenta)
		if err == nil {
			return existing, true, nil
		}
		if apperror.Code(err) != apperror.CodeNotFound {
			return nil, false, err
		}
	}
	if m.AjustaA != nil {
		target, err := r.FindByID(ctx, tx, *m.AjustaA)
		if err != nil {
			return nil, false, err
		}
		if target.SesionCajaID != m.SesionCajaID {
			return nil, false, &apperror.NotFoundError{Recurso: "movimiento de la sesión", ID: m.AjustaA.String()}
		}
	}

	var last model.MovimientoCaja
	lastErr := tx.WithContext(ctx).Where("sesion_caja_id = ?", m.SesionCajaID).
		Order("secuencia DESC").Limit(1).Find(&last).Error
	if lastErr != nil {
		return nil, false, fmt.Errorf("último movimiento de %s: %w", m.SesionCajaID, lastErr)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, false, err
	}
	mov := *m
	mov.ID = id
	mov.AfectaEfectivo = mov.MetodoPago == model.MetodoEfectivo
	mov.Monto = mov.Monto.Round(2)
	mov.CreatedAt = r.now().UTC().Truncate(time.Microsecond)
	mov.Secuencia = 1
	mov.HashPrevio = model.HashGenesis
	if last.ID != uuid.Nil {
		mov.Secuencia = last.Secuencia + 1
		mov.HashPrevio = last.Hash
		// (created_at, id) must follow append order even if the clock steps back.
		if !mov.CreatedAt.After(last.CreatedAt) {
			mov.CreatedAt = last.CreatedAt.Add(time.Microsecond)
		}
	}
	mov.Hash = mov.CalcularHash()

	res := tx.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&mov)
	if res.Error != nil {
		return nil, false, fmt.Errorf("append movimiento: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// Lost a race on ux_movimientos_caja_venta against another shift's append.
		if m.ReferenciaVenta != nil {
			existing, err := r.FindByReferenciaVenta(ctx, tx, *m.ReferenciaVenta)
			if err == nil {
				return existing, true, nil
			}
		}
		return nil, false, fmt.Errorf("append movimiento: conflicto sin fila existente (sesión %s, secuencia %d)", mov.SesionCajaID, mov.Secuencia)
	}
	return &mov, false, nil
}

func (r *ledgerRepo) FindByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*model.MovimientoCaja, error) {
	var m model.MovimientoCaja
	if err := pick(r.db, tx).WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, notFound(err, "movimiento de caja", id.String())
	}
	return &m, nil
}

func (r *ledgerRepo) FindByReferenciaVenta(ctx context.Context, tx *gorm.DB, ventaID uuid.UUID) (*model.MovimientoCaja, error) {
	var m model.MovimientoCaja
	err := pick(r.db, tx).WithContext(ctx).
		Where("referencia_venta = ? AND origen = ?", ventaID, model.OrigenVenta).
		First(&m).Error
	if err != nil {
		return nil, notFound(err, "movimiento de la venta", ventaID.String())
	}
	return &m, nil
}

func (r *ledgerRepo) ReferenciasExistentes(ctx context.Context, tx *gorm.DB, ventaIDs []uuid.UUID) (map[uuid.UUID]bool, error) {
	out := make(map[uuid.UUID]bool, len(ventaIDs))
	if len(ventaIDs) == 0 {
		return out, nil
	}
	var refs []uuid.UUID
	err := pick(r.db, tx).WithContext(ctx).Model(&model.MovimientoCaja{}).
		Where("origen = ? AND referencia_venta IN ?", model.OrigenVenta, ventaIDs).
		Pluck("referencia_venta", &refs).Error
	if err != nil {
		return nil, fmt.Errorf("referencias de venta: %w", err)
	}
	for _, id := range refs {
		out[id] = true
	}
	return out, nil
}

func (r *ledgerRepo) List(ctx context.Context, tx *gorm.DB, sesionID uuid.UUID, f dto.MovimientoFilter) ([]model.MovimientoCaja, error) {
	q := pick(r.db, tx).WithContext(ctx).Where("sesion_caja_id = ?", sesionID)
	if f.MetodoPago != "" {
		q = q.Where("metodo_pago = ?", f.MetodoPago)
	}
	if f.Origen != "" {
		q = q.Where("origen = ?", f.Origen)
	}
	if f.Direccion != "" {
		q = q.Where("direccion = ?", f.Direccion)
	}
	if f.Desde != nil {
		q = q.Where("created_at >= ?", f.Desde.UTC())
	}
	if f.Hasta != nil {
		q = q.Where("created_at <= ?", f.Hasta.UTC())
	}
	movs := []model.MovimientoCaja{}
	if err := q.Order("created_at ASC, id ASC").Find(&movs).Error; err != nil {
		return nil, fmt.Errorf("listar movimientos de %s: %w", sesionID, err)
	}
	return movs, nil
}

func (r *ledgerRepo) ListRango(ctx context.Context, desde, hasta time.Time) ([]model.MovimientoCaja, error) {
	movs := []model.MovimientoCaja{}
	err := r.db.WithContext(ctx).
		Where("created_at >= ? AND created_at < ?", desde.UTC(), hasta.UTC()).
		Order("created_at ASC, id ASC").Find(&movs).Error
	if err != nil {
		return nil, fmt.Errorf("listar movimientos del rango: %w", err)
	}
	return movs, nil
}

func (r *ledgerRepo) Balance(ctx context.Context, tx *gorm.DB, sesionID uuid.UUID, metodo *model.MetodoPago) (decimal.Decimal, error) {
	f := dto.MovimientoFilter{}
	if metodo != nil {
		f.MetodoPago = *metodo
	}
	movs, err := r.List(ctx, tx, sesionID, f)
	if err != nil {
		return decimal.Zero, err
	}
	return model.BalanceEfectivo(movs, metodo), nil
}

func (r *ledgerRepo) Verify(ctx context.Context, tx *gorm.DB, sesionID uuid.UUID) error {
	movs := []model.MovimientoCaja{}
	err := pick(r.db, tx).WithContext(ctx).Where("sesion_caja_id = ?", sesionID).
		Order("secuencia ASC").Find(&movs).Error
	if err != nil {
		return fmt.Errorf("verificar ledger de %s: %w", sesionID, err)
	}
	prev := model.HashGenesis
	for i := range movs {
		m := &movs[i]
		var motivo string
		switch {
		case m.Secuencia != int64(i+1):
			motivo = fmt.Sprintf("secuencia %d fuera de orden (se esperaba %d)", m.Secuencia, i+1)
		case m.HashPrevio != prev:
			motivo = fmt.Sprintf("movimiento %s no encadena con el anterior", m.ID)
		case m.CalcularHash() != m.Hash:
			motivo = fmt.Sprintf("movimiento %s fue modificado", m.ID)
		}
		if motivo != "" {
			return &apperror.LedgerCorruptionWarning{
				SesionID:      sesionID,
				MontoEsperado: model.BalanceEfectivo(movs[:i], nil),
				Motivo:        motivo,
			}
		}
		prev = m.Hash
	}
	return nil
}
