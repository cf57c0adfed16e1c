package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/compucol89/kiosco-sub007/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// VentaRepository is the read side of the sales subsystem's ventas table.
type VentaRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*model.Venta, error)
	FindByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]model.Venta, error)
	// ListCompletadas returns completed sales of a register in [desde, hasta]
	// (hasta nil = open-ended), ordered by (completada_at, id).
	ListCompletadas(ctx context.Context, tx *gorm.DB, puntoDeVenta int, desde time.Time, hasta *time.Time) ([]model.Venta, error)
	// ListRango returns completed sales of every register in [desde, hasta).
	ListRango(ctx context.Context, desde, hasta time.Time) ([]model.Venta, error)
}

type ventaRepo struct{ db *gorm.DB }

func NewVentaRepository(db *gorm.DB) VentaRepository { return &ventaRepo{db: db} }

func (r *ventaRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.Venta, error) {
	var v model.Venta
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&v).Error; err != nil {
		return nil, notFound(err, "venta", id.String())
	}
	return &v, nil
}

func (r *ventaRepo) FindByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]model.Venta, error) {
	out := make(map[uuid.UUID]model.Venta, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var ventas []model.Venta
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&ventas).Error; err != nil {
		return nil, fmt.Errorf("buscar ventas: %w", err)
	}
	for _, v := range ventas {
		out[v.ID] = v
	}
	return out, nil
}

func (r *ventaRepo) ListCompletadas(ctx context.Context, tx *gorm.DB, puntoDeVenta int, desde time.Time, hasta *time.Time) ([]model.Venta, error) {
	q := pick(r.db, tx).WithContext(ctx).
		Where("punto_de_venta = ? AND estado = ? AND completada_at >= ?", puntoDeVenta, model.VentaCompletada, desde.UTC())
	if hasta != nil {
		q = q.Where("completada_at <= ?", hasta.UTC())
	}
	ventas := []model.Venta{}
	if err := q.Order("completada_at ASC, id ASC").Find(&ventas).Error; err != nil {
		return nil, fmt.Errorf("ventas del punto de venta %d: %w", puntoDeVenta, err)
	}
	return ventas, nil
}

func (r *ventaRepo) ListRango(ctx context.Context, desde, hasta time.Time) ([]model.Venta, error) {
	ventas := []model.Venta{}
	err := r.db.WithContext(ctx).
		Where("estado = ? AND completada_at >= ? AND completada_at < ?", model.VentaCompletada, desde.UTC(), hasta.UTC()).
		Order("completada_at ASC, id ASC").Find(&ventas).Error
	if err != nil {
		return nil, fmt.Errorf("ventas del rango: %w", err)
	}
	return ventas, nil
}
