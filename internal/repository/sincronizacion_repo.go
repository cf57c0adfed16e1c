package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/compucol89/kiosco-sub007/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SincronizacionRepository keeps escalated sale events until they are resolved.
type SincronizacionRepository interface {
	// Upsert records a failed event, adding its attempts to any previous escalation of the same sale.
	Upsert(ctx context.Context, p *model.SincronizacionPendiente) error
	ListPendientes(ctx context.Context, limit int) ([]model.SincronizacionPendiente, error)
	FindByVenta(ctx context.Context, ventaID uuid.UUID) (*model.SincronizacionPendiente, error)
	MarcarResuelta(ctx context.Context, ventaID uuid.UUID, at time.Time) error
}

type sincronizacionRepo struct{ db *gorm.DB }

func NewSincronizacionRepository(db *gorm.DB) SincronizacionRepository {
	return &sincronizacionRepo{db: db}
}

func (r *sincronizacionRepo) Upsert(ctx context.Context, p *model.SincronizacionPendiente) error {
	if p.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		p.ID = id
	}
	p.Estado = model.SincronizacionPendienteEstado
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "venta_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"intentos":     gorm.Expr("sincronizaciones_pendientes.intentos + excluded.intentos"),
			"ultimo_error": gorm.Expr("excluded.ultimo_error"),
			"payload":      gorm.Expr("excluded.payload"),
			"estado":       model.SincronizacionPendienteEstado,
			"resuelta_at":  nil,
			"updated_at":   gorm.Expr("excluded.updated_at"),
		}),
	}).Create(p).Error
	if err != nil {
		return fmt.Errorf("escalar venta %s: %w", p.VentaID, err)
	}
	return nil
}

func (r *sincronizacionRepo) ListPendientes(ctx context.Context, limit int) ([]model.SincronizacionPendiente, error) {
	out := []model.SincronizacionPendiente{}
	q := r.db.WithContext(ctx).Where("estado = ?", model.SincronizacionPendienteEstado).Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("listar sincronizaciones pendientes: %w", err)
	}
	return out, nil
}

func (r *sincronizacionRepo) FindByVenta(ctx context.Context, ventaID uuid.UUID) (*model.SincronizacionPendiente, error) {
	var p model.SincronizacionPendiente
	if err := r.db.WithContext(ctx).Where("venta_id = ?", ventaID).First(&p).Error; err != nil {
		return nil, notFound(err, "sincronización de la venta", ventaID.String())
	}
	return &p, nil
}

func (r *sincronizacionRepo) MarcarResuelta(ctx context.Context, ventaID uuid.UUID, at time.Time) error {
	err := r.db.WithContext(ctx).Model(&model.SincronizacionPendiente{}).
		Where("venta_id = ? AND estado = ?", ventaID, model.SincronizacionPendienteEstado).
		Updates(map[string]any{"estado": model.SincronizacionResuelta, "resuelta_at": at}).Error
	if err != nil {
		return fmt.Errorf("resolver sincronización de %s: %w", ventaID, err)
	}
	return nil
}
