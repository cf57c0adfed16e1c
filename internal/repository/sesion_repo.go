package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/compucol89/kiosco-sub007/internal/apperror"
	"github.com/compucol89/kiosco-sub007/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SesionRepository interface {
	// Create inserts an open shift. The partial unique index on
	// (punto_de_venta) WHERE estado='abierta' makes it the atomic
	// check-and-create: a second open shift fails with AlreadyOpenError.
	Create(ctx context.Context, s *model.SesionCaja) error
	FindByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*model.SesionCaja, error)
	// FindByIDForUpdate locks the shift row until tx ends. Every ledger
	// append and the close take this lock: it is the per-shift serialization point.
	FindByIDForUpdate(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*model.SesionCaja, error)
	FindAbierta(ctx context.Context, puntoDeVenta int) (*model.SesionCaja, error)
	// FindCubriendo returns the shift of the register whose window contains t.
	FindCubriendo(ctx context.Context, puntoDeVenta int, t time.Time) (*model.SesionCaja, error)
	Cerrar(ctx context.Context, tx *gorm.DB, s *model.SesionCaja) error
	ListAbiertas(ctx context.Context) ([]model.SesionCaja, error)
	ListCerradas(ctx context.Context, page, limit int) ([]model.SesionCaja, int64, error)
	DB() *gorm.DB
}

type sesionRepo struct{ db *gorm.DB }

func NewSesionRepository(db *gorm.DB) SesionRepository { return &sesionRepo{db: db} }

func (r *sesionRepo) DB() *gorm.DB { return r.db }

func (r *sesionRepo) Create(ctx context.Context, s *model.SesionCaja) error {
	err := r.db.WithContext(ctx).Create(s).Error
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return &apperror.AlreadyOpenError{PuntoDeVenta: s.PuntoDeVenta}
	}
	// Drivers that do not translate the violation: the index is the only
	// constraint an insert of a fresh id can hit, so an open shift means we lost the race.
	if _, findErr := r.FindAbierta(ctx, s.PuntoDeVenta); findErr == nil {
		return &apperror.AlreadyOpenError{PuntoDeVenta: s.PuntoDeVenta}
	}
	return fmt.Errorf("crear sesión de caja: %w", err)
}

func (r *sesionRepo) FindByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*model.SesionCaja, error) {
	var s model.SesionCaja
	err := pick(r.db, tx).WithContext(ctx).Where("id = ?", id).First(&s).Error
	if err != nil {
		return nil, notFound(err, "sesión de caja", id.String())
	}
	return &s, nil
}

func (r *sesionRepo) FindByIDForUpdate(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*model.SesionCaja, error) {
	var s model.SesionCaja
	err := pick(r.db, tx).WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).First(&s).Error
	if err != nil {
		return nil, notFound(err, "sesión de caja", id.String())
	}
	return &s, nil
}

func (r *sesionRepo) FindAbierta(ctx context.Context, puntoDeVenta int) (*model.SesionCaja, error) {
	var s model.SesionCaja
	err := r.db.WithContext(ctx).
		Where("punto_de_venta = ? AND estado = ?", puntoDeVenta, model.SesionAbierta).
		First(&s).Error
	if err != nil {
		return nil, notFound(err, "sesión abierta del punto de venta", strconv.Itoa(puntoDeVenta))
	}
	return &s, nil
}

func (r *sesionRepo) FindCubriendo(ctx context.Context, puntoDeVenta int, t time.Time) (*model.SesionCaja, error) {
	var s model.SesionCaja
	err := r.db.WithContext(ctx).
		Where("punto_de_venta = ? AND opened_at <= ? AND (closed_at IS NULL OR closed_at >= ?)", puntoDeVenta, t, t).
		Order("opened_at DESC").
		First(&s).Error
	if err != nil {
		return nil, notFound(err, "turno del punto de venta", strconv.Itoa(puntoDeVenta))
	}
	return &s, nil
}

func (r *sesionRepo) Cerrar(ctx context.Context, tx *gorm.DB, s *model.SesionCaja) error {
	res := pick(r.db, tx).WithContext(ctx).Model(&model.SesionCaja{}).
		Where("id = ? AND estado = ?", s.ID, model.SesionAbierta).
		Updates(map[string]any{
			"estado":          model.SesionCerrada,
			"monto_declarado": s.MontoDeclarado,
			"observaciones":   s.Observaciones,
			"cerrada_por":     s.CerradaPor,
			"closed_at":       s.ClosedAt,
		})
	if res.Error != nil {
		return fmt.Errorf("cerrar sesión %s: %w", s.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return &apperror.NotOpenError{SesionID: s.ID, PuntoDeVenta: s.PuntoDeVenta, Estado: string(model.SesionCerrada)}
	}
	s.Estado = model.SesionCerrada
	return nil
}

func (r *sesionRepo) ListAbiertas(ctx context.Context) ([]model.SesionCaja, error) {
	var out []model.SesionCaja
	err := r.db.WithContext(ctx).Where("estado = ?", model.SesionAbierta).
		Order("punto_de_venta ASC").Find(&out).Error
	return out, err
}

func (r *sesionRepo) ListCerradas(ctx context.Context, page, limit int) ([]model.SesionCaja, int64, error) {
	var (
		out   []model.SesionCaja
		total int64
	)
	q := r.db.WithContext(ctx).Model(&model.SesionCaja{}).Where("estado = ?", model.SesionCerrada)
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := q.Order("closed_at DESC").Offset((page - 1) * limit).Limit(limit).Find(&out).Error
	return out, total, err
}
