package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/compucol89/kiosco-sub007/internal/model"
	"github.com/compucol89/kiosco-sub007/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type HealthHandler struct {
	db  *gorm.DB
	rdb *redis.Client
}

// NewHealthHandler: a nil rdb means the queues are disabled, which is not a failure.
func NewHealthHandler(db *gorm.DB, rdb *redis.Client) *HealthHandler {
	return &HealthHandler{db: db, rdb: rdb}
}

type healthResponse struct {
	OK    bool   `json:"ok"`
	DB    string `json:"db"`
	Redis string `json:"redis"`

	// Operational counters; omitted when their store is unreachable.
	CajasAbiertas    *int64 `json:"cajas_abiertas,omitempty"`
	VentasPendientes *int64 `json:"ventas_pendientes,omitempty"`
	ColaVentas       *int64 `json:"cola_ventas,omitempty"`
	DLQVentas        *int64 `json:"dlq_ventas,omitempty"`
}

// Check godoc
// @Summary      Estado del servicio
// @Tags         health
// @Produce      json
// @Success      200  {object} healthResponse
// @Failure      503  {object} healthResponse
// @Router       /health [get]
func (h *HealthHandler) Check(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	resp := healthResponse{DB: "connected", Redis: "disabled"}

	sqlDB, err := h.db.DB()
	if err != nil || sqlDB.PingContext(ctx) != nil {
		resp.DB = "error"
	} else {
		db := h.db.WithContext(ctx)
		var abiertas, pendientes int64
		if db.Model(&model.SesionCaja{}).Where("estado = ?", model.SesionAbierta).Count(&abiertas).Error == nil {
			resp.CajasAbiertas = &abiertas
		}
		if db.Model(&model.SincronizacionPendiente{}).Where("estado = ?", model.SincronizacionPendienteEstado).Count(&pendientes).Error == nil {
			resp.VentasPendientes = &pendientes
		}
	}

	if h.rdb != nil {
		resp.Redis = "connected"
		if h.rdb.Ping(ctx).Err() != nil {
			resp.Redis = "error"
		} else {
			if n, err := h.rdb.LLen(ctx, worker.QueueVentas).Result(); err == nil {
				resp.ColaVentas = &n
			}
			if n, err := h.rdb.LLen(ctx, worker.DLQPrefix+worker.QueueVentas).Result(); err == nil {
				resp.DLQVentas = &n
			}
		}
	}

	status := http.StatusOK
	if resp.DB != "connected" || resp.Redis == "error" {
		status = http.StatusServiceUnavailable
	}
	resp.OK = status == http.StatusOK
	c.JSON(status, resp)
}
