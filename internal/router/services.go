package router

import (
	"github.com/compucol89/kiosco-sub007/internal/config"
	"github.com/compucol89/kiosco-sub007/internal/infra"
	"github.com/compucol89/kiosco-sub007/internal/repository"
	"github.com/compucol89/kiosco-sub007/internal/service"
	"github.com/compucol89/kiosco-sub007/internal/worker"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Services is the composition root shared by the HTTP router and the
// background workers. Dependency graph: Service ← Repository ← DB/Redis.
type Services struct {
	Caja          service.CajaService
	Arqueo        service.ArqueoService
	Sincronizador service.SincronizadorService
	Auditoria     service.AuditoriaService

	// Dispatcher and DLQ are nil when Redis is not configured.
	Dispatcher *worker.Dispatcher
	DLQ        *worker.RedisDLQ
	Mailer     *infra.Mailer
}

// NewServices wires repositories and services. rdb may be nil: sale events
// then only arrive through the webhook and alerts are mailed inline.
func NewServices(cfg *config.Config, db *gorm.DB, rdb *redis.Client) *Services {
	// ── Repositories ─────────────────────────────────────────────────────────
	sesionRepo := repository.NewSesionRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db, sesionRepo)
	ventaRepo := repository.NewVentaRepository(db)
	arqueoRepo := repository.NewArqueoRepository(db)
	pendienteRepo := repository.NewSincronizacionRepository(db)

	out := &Services{}

	// ── Async plumbing ───────────────────────────────────────────────────────
	var (
		notificador service.Notificador
		dlq         service.DeadLetter
	)
	if cfg.AlertasHabilitadas() {
		m, err := infra.NewMailer(cfg)
		if err != nil {
			log.Warn().Err(err).Msg("alertas por email deshabilitadas")
		} else {
			out.Mailer = m
		}
	}
	if rdb != nil {
		out.Dispatcher = worker.NewDispatcher(rdb, cfg.AlertEmail)
		out.DLQ = worker.NewRedisDLQ(rdb)
		dlq = out.DLQ
		if out.Mailer != nil {
			notificador = out.Dispatcher
		}
	} else if out.Mailer != nil {
		notificador = worker.NewDirectAlerter(out.Mailer, cfg.AlertEmail)
	}

	// ── Services ─────────────────────────────────────────────────────────────
	out.Arqueo = service.NewArqueoService(sesionRepo, ledgerRepo, ventaRepo, cfg.Tolerancia())
	out.Caja = service.NewCajaService(sesionRepo, ledgerRepo, arqueoRepo, ventaRepo, out.Arqueo, notificador)
	out.Sincronizador = service.NewSincronizadorService(
		sesionRepo, ledgerRepo, ventaRepo, pendienteRepo, dlq, notificador,
		service.SincronizadorConfig{
			MaxRetries:     cfg.SyncMaxRetries,
			InitialBackoff: cfg.SyncInitialBackoff,
		},
	)
	out.Auditoria = service.NewAuditoriaService(sesionRepo, ledgerRepo, ventaRepo, cfg.Location())
	return out
}
