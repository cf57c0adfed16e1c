package infra

import (
	"fmt"

	"github.com/compucol89/kiosco-sub007/internal/model"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDatabase opens the Postgres connection and brings the caja schema up to date.
// TranslateError makes unique violations surface as gorm.ErrDuplicatedKey,
// which is how the open-shift and sale-reference constraints are detected.
func NewDatabase(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), Config())
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)

	if err := RunMigrations(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Config is the gorm configuration shared by every dialect the service runs on.
func Config() *gorm.Config {
	return &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	}
}

// RunMigrations creates / updates the caja tables, then applies the idempotent
// DDL that GORM tags cannot express (partial unique indexes). Every statement
// is plain SQL accepted by both Postgres and SQLite.
func RunMigrations(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.SesionCaja{},
		&model.MovimientoCaja{},
		&model.Arqueo{},
		&model.SincronizacionPendiente{},
	); err != nil {
		return fmt.Errorf("AutoMigrate: %w", err)
	}

	// ventas belongs to the sales subsystem: only created when absent
	// (fresh databases and tests), never altered.
	if !db.Migrator().HasTable(&model.Venta{}) {
		if err := db.Migrator().CreateTable(&model.Venta{}); err != nil {
			return fmt.Errorf("create ventas: %w", err)
		}
	}

	return applySchemaPatches(db)
}

func applySchemaPatches(db *gorm.DB) error {
	patches := []struct{ descr, sql string }{
		// one open shift per register: the atomic check-and-create of Abrir
		{"ux_sesiones_caja_abierta", `
CREATE UNIQUE INDEX IF NOT EXISTS ux_sesiones_caja_abierta
    ON sesiones_caja (punto_de_venta)
    WHERE estado = 'abierta'`},
		// one movement per sale: the de-duplication key of the synchronizer
		{"ux_movimientos_caja_venta", `
CREATE UNIQUE INDEX IF NOT EXISTS ux_movimientos_caja_venta
    ON movimientos_caja (referencia_venta)
    WHERE origen = 'venta'`},
		// orphan scans walk completed sales by register and time
		{"idx_ventas_completadas", `
CREATE INDEX IF NOT EXISTS idx_ventas_completadas
    ON ventas (punto_de_venta, completada_at)
    WHERE estado = 'completada'`},
	}
	for _, p := range patches {
		if err := db.Exec(p.sql).Error; err != nil {
			return fmt.Errorf("patch %q: %w", p.descr, err)
		}
	}
	return nil
}
