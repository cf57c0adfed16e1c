package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type EstadoSesion string

const (
	SesionAbierta EstadoSesion = "abierta"
	SesionCerrada EstadoSesion = "cerrada"
)

// SesionCaja is one shift of a cash register: abierta → cerrada, never back.
// At most one row per PuntoDeVenta may be abierta; the partial unique index
// ux_sesiones_caja_abierta enforces it (see infra.RunMigrations).
type SesionCaja struct {
	ID           uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	PuntoDeVenta int             `gorm:"not null;index" json:"punto_de_venta"`
	UsuarioID    uuid.UUID       `gorm:"type:uuid;not null" json:"usuario_id"`
	Estado       EstadoSesion    `gorm:"type:varchar(20);not null" json:"estado"`
	MontoInicial decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"monto_inicial"`
	// MontoDeclarado is the physically counted cash, set on close.
	MontoDeclarado *decimal.Decimal `gorm:"type:decimal(12,2)" json:"monto_declarado,omitempty"`
	Observaciones  *string          `json:"observaciones,omitempty"`
	CerradaPor     *uuid.UUID       `gorm:"type:uuid" json:"cerrada_por,omitempty"`
	OpenedAt       time.Time        `gorm:"not null" json:"opened_at"`
	ClosedAt       *time.Time       `json:"closed_at,omitempty"`
}

func (SesionCaja) TableName() string { return "sesiones_caja" }

func (s *SesionCaja) Abierta() bool { return s.Estado == SesionAbierta }

// Ventana returns the time window sales are attributed to: [OpenedAt, ClosedAt].
// hasta is nil while the shift is open.
func (s *SesionCaja) Ventana() (desde time.Time, hasta *time.Time) {
	return s.OpenedAt, s.ClosedAt
}

// Contiene reports whether t falls inside the shift window.
func (s *SesionCaja) Contiene(t time.Time) bool {
	if t.Before(s.OpenedAt) {
		return false
	}
	return s.ClosedAt == nil || !t.After(*s.ClosedAt)
}
