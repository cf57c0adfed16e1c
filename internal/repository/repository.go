package repository

import (
	"errors"
	"fmt"

	"github.com/compucol89/kiosco-sub007/internal/apperror"

	"gorm.io/gorm"
)

// pick returns tx when the caller runs inside a transaction, db otherwise.
func pick(db, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return db
}

// notFound turns gorm.ErrRecordNotFound into a typed NotFoundError and wraps anything else.
func notFound(err error, recurso, id string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &apperror.NotFoundError{Recurso: recurso, ID: id}
	}
	return fmt.Errorf("%s %s: %w", recurso, id, err)
}
