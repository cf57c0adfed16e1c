package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/compucol89/kiosco-sub007/internal/apperror"
	"github.com/compucol89/kiosco-sub007/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ArqueoRepository interface {
	// Create stores the close-time reconciliation; a second one for the
	// same shift is rejected by the unique sesion_caja_id.
	Create(ctx context.Context, tx *gorm.DB, a *model.Arqueo) error
	FindBySesion(ctx context.Context, sesionID uuid.UUID) (*model.Arqueo, error)
}

type arqueoRepo struct{ db *gorm.DB }

func NewArqueoRepository(db *gorm.DB) ArqueoRepository { return &arqueoRepo{db: db} }

func (r *arqueoRepo) Create(ctx context.Context, tx *gorm.DB, a *model.Arqueo) error {
	err := pick(r.db, tx).WithContext(ctx).Create(a).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return &apperror.ShiftClosedError{SesionID: a.SesionCajaID}
	}
	if err != nil {
		return fmt.Errorf("guardar arqueo de %s: %w", a.SesionCajaID, err)
	}
	return nil
}

func (r *arqueoRepo) FindBySesion(ctx context.Context, sesionID uuid.UUID) (*model.Arqueo, error) {
	var a model.Arqueo
	if err := r.db.WithContext(ctx).Where("sesion_caja_id = ?", sesionID).First(&a).Error; err != nil {
		return nil, notFound(err, "arqueo de la sesión", sesionID.String())
	}
	return &a, nil
}
