package router

import (
	"time"

	"github.com/compucol89/kiosco-sub007/internal/config"
	"github.com/compucol89/kiosco-sub007/internal/handler"
	"github.com/compucol89/kiosco-sub007/internal/middleware"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// New returns a configured Gin engine serving svc.
// Dependency graph: Handler ← Service ← Repository ← DB/Redis
func New(cfg *config.Config, db *gorm.DB, rdb *redis.Client, svc *Services) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Global middleware chain (order matters)
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.Recovery())
	r.Use(middleware.Metrics())
	r.Use(middleware.CORS(cfg.Origins()))
	r.Use(middleware.ErrorHandler())

	ipLimit := middleware.NewRateLimiter(cfg.RateLimitPerMinute, time.Minute).
		Middleware(middleware.KeyByIP)
	// Registers behind one store IP get their own webhook budget.
	webhookLimit := middleware.NewRateLimiter(cfg.WebhookRateLimitPerMinute, time.Minute).
		Middleware(middleware.KeyByPuntoDeVenta)

	// ── Handlers ─────────────────────────────────────────────────────────────
	var dlq handler.DLQReader
	if svc.DLQ != nil {
		dlq = svc.DLQ
	}
	cajaH := handler.NewCajaHandler(svc.Caja, svc.Arqueo)
	ventasH := handler.NewVentasHandler(svc.Sincronizador, dlq)
	auditoriaH := handler.NewAuditoriaHandler(svc.Auditoria)
	healthH := handler.NewHealthHandler(db, rdb)

	// ── Routes ───────────────────────────────────────────────────────────────
	r.GET("/health", healthH.Check)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.POST("/v1/caja/ventas/eventos", webhookLimit, ventasH.Evento)

	caja := r.Group("/v1/caja", ipLimit)
	{
		caja.POST("/abrir", cajaH.Abrir)
		caja.GET("/activa", cajaH.GetActiva)
		caja.GET("/historial", cajaH.Historial)
		caja.GET("/resumen", auditoriaH.Resumen)

		caja.POST("/:id/cerrar", cajaH.Cerrar)
		caja.POST("/:id/movimientos", cajaH.RegistrarMovimiento)
		caja.GET("/:id/movimientos", cajaH.ListarMovimientos)
		caja.POST("/:id/ajustes", cajaH.RegistrarAjuste)
		caja.GET("/:id/arqueo", cajaH.Arqueo)
		caja.GET("/:id/reporte", cajaH.ObtenerReporte)
		caja.GET("/:id/verificar", cajaH.Verificar)
		caja.GET("/:id/timeline", auditoriaH.Timeline)
		caja.GET("/:id/huerfanas", ventasH.Huerfanas)

		// Orphan repair and escalations
		caja.POST("/ventas/:venta_id/backfill", ventasH.Backfill)
		caja.GET("/sincronizacion/pendientes", ventasH.Pendientes)
		caja.GET("/sincronizacion/dlq", ventasH.DeadLetters)
	}

	// Swagger UI, only enabled outside production
	if cfg.Env != "production" {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	return r
}
