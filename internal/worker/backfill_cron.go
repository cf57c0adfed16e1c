package worker

// backfill_cron.go
// Background goroutine that periodically re-applies escalated sale events and
// backfills orphan sales of open shifts. Reads of the sales subsystem go
// through a circuit breaker so a downed sales database is not hammered.

import (
	"context"
	"errors"
	"time"

	"github.com/compucol89/kiosco-sub007/internal/infra"

	"github.com/rs/zerolog/log"
)

// Reparador is the part of service.SincronizadorService the cron needs.
type Reparador interface {
	ReintentarPendientes(ctx context.Context) (int, error)
	BackfillAbiertas(ctx context.Context) (int, error)
}

// BackfillCronConfig holds all dependencies for the backfill goroutine.
type BackfillCronConfig struct {
	Sincronizador Reparador
	CB            *infra.CircuitBreaker
	Interval      time.Duration
}

// StartBackfillCron ticks every cfg.Interval until ctx is cancelled.
func StartBackfillCron(ctx context.Context, cfg BackfillCronConfig) {
	go func() {
		ticker := time.NewTicker(cfg.Interval)
		defer ticker.Stop()

		log.Info().Dur("interval", cfg.Interval).Msg("backfill_cron: started")

		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("backfill_cron: shutting down")
				return
			case <-ticker.C:
				processBackfill(ctx, cfg)
			}
		}
	}()
}

func processBackfill(ctx context.Context, cfg BackfillCronConfig) {
	var resueltas, recuperadas int
	err := cfg.CB.Execute(ctx, func(ctx context.Context) error {
		var err error
		if resueltas, err = cfg.Sincronizador.ReintentarPendientes(ctx); err != nil {
			return err
		}
		recuperadas, err = cfg.Sincronizador.BackfillAbiertas(ctx)
		return err
	})
	switch {
	case errors.Is(err, infra.ErrCircuitOpen):
		log.Debug().Msg("backfill_cron: circuit breaker is open, skipping tick")
	case err != nil:
		log.Error().Err(err).Str("breaker", cfg.CB.State().String()).Msg("backfill_cron: tick failed")
	case resueltas > 0 || recuperadas > 0:
		log.Info().
			Int("pendientes_resueltas", resueltas).
			Int("huerfanas_recuperadas", recuperadas).
			Msg("backfill_cron: tick")
	}
}
