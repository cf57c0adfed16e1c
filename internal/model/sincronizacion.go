package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	SincronizacionPendienteEstado = "pendiente"
	SincronizacionResuelta        = "resuelta"
)

// SincronizacionPendiente is a sale event whose ledger append exhausted its
// retries. It stays queryable until a backfill or a retry resolves it.
type SincronizacionPendiente struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	VentaID      uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex" json:"venta_id"`
	PuntoDeVenta int        `gorm:"not null" json:"punto_de_venta"`
	Payload      string     `gorm:"type:text;not null" json:"payload"`
	Intentos     int        `gorm:"not null" json:"intentos"`
	UltimoError  string     `gorm:"type:text" json:"ultimo_error"`
	Estado       string     `gorm:"type:varchar(20);not null;index" json:"estado"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	ResueltaAt   *time.Time `json:"resuelta_at,omitempty"`
}

func (SincronizacionPendiente) TableName() string { return "sincronizaciones_pendientes" }
