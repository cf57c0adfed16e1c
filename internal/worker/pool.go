package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/compucol89/kiosco-sub007/internal/dto"
	"github.com/compucol89/kiosco-sub007/internal/service"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	QueueVentas = service.QueueVentas
	QueueEmail  = "jobs:email"
)

const JobEmail = "email"

// Job is the generic envelope for all async tasks.
type Job struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Dispatcher enqueues async jobs into Redis lists.
// The worker pool dequeues them via BRPOP.
type Dispatcher struct {
	rdb     *redis.Client
	alertTo string
}

// NewDispatcher: alertTo empty disables Alertar.
func NewDispatcher(rdb *redis.Client, alertTo string) *Dispatcher {
	return &Dispatcher{rdb: rdb, alertTo: alertTo}
}

// EnqueueVenta pushes a sale event; used by the sales subsystem's outbox and by tests.
func (d *Dispatcher) EnqueueVenta(ctx context.Context, ev dto.VentaCompletadaEvent) error {
	return d.enqueue(ctx, QueueVentas, service.JobVentaCompletada, ev)
}

// EnqueueEmail pushes an email job to Redis.
func (d *Dispatcher) EnqueueEmail(ctx context.Context, payload EmailJobPayload) error {
	return d.enqueue(ctx, QueueEmail, JobEmail, payload)
}

// Alertar implements service.Notificador over the email queue.
func (d *Dispatcher) Alertar(ctx context.Context, asunto, cuerpo string) error {
	if d.alertTo == "" {
		return nil
	}
	return d.EnqueueEmail(ctx, EmailJobPayload{ToEmail: d.alertTo, Subject: asunto, Body: cuerpo})
}

func (d *Dispatcher) enqueue(ctx context.Context, queue, jobType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(Job{Type: jobType, Payload: data})
	if err != nil {
		return err
	}
	return d.rdb.LPush(ctx, queue, encoded).Err()
}

// JobHandler processes one job payload.
type JobHandler interface {
	Process(ctx context.Context, payload json.RawMessage)
}

// WorkerHandlers routes each queue to its handler. A nil handler drops
// nothing: its jobs are moved to the DLQ.
type WorkerHandlers struct {
	Ventas JobHandler
	Email  JobHandler
	DLQ    service.DeadLetter
}

// StartWorkerPool launches numWorkers goroutines consuming both queues.
// Each goroutine blocks on BRPOP: zero CPU when idle.
func StartWorkerPool(ctx context.Context, rdb *redis.Client, numWorkers int, h WorkerHandlers) {
	for i := 0; i < numWorkers; i++ {
		go runWorker(ctx, rdb, i, h)
	}
	log.Info().Msgf("worker pool started with %d workers", numWorkers)
}

func runWorker(ctx context.Context, rdb *redis.Client, id int, h WorkerHandlers) {
	queues := []string{QueueVentas, QueueEmail}
	for {
		select {
		case <-ctx.Done():
			log.Info().Msgf("worker %d shutting down", id)
			return
		default:
			// Blocking pop: waits up to 5s then loops to check ctx
			result, err := rdb.BRPop(ctx, 5*time.Second, queues...).Result()
			if err != nil {
				if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
					log.Warn().Err(err).Int("worker", id).Msg("worker: BRPOP failed")
					time.Sleep(time.Second)
				}
				continue
			}
			if len(result) < 2 {
				continue
			}
			h.processJob(ctx, result[0], result[1])
		}
	}
}

func (h WorkerHandlers) processJob(ctx context.Context, queue, raw string) {
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		log.Error().Str("queue", queue).Err(err).Msg("failed to unmarshal job")
		h.deadLetter(ctx, queue, "desconocido", json.RawMessage(quote(raw)), "envelope inválido: "+err.Error())
		return
	}

	var handler JobHandler
	switch {
	case queue == QueueVentas && job.Type == service.JobVentaCompletada:
		handler = h.Ventas
	case queue == QueueEmail && job.Type == JobEmail:
		handler = h.Email
	}
	if handler == nil {
		log.Error().Str("queue", queue).Str("type", job.Type).Msg("no handler for job")
		h.deadLetter(ctx, queue, job.Type, job.Payload, "sin handler para el tipo de job")
		return
	}
	log.Debug().Str("type", job.Type).Str("queue", queue).Msg("processing job")
	handler.Process(ctx, job.Payload)
}

func (h WorkerHandlers) deadLetter(ctx context.Context, queue, jobType string, payload json.RawMessage, reason string) {
	if h.DLQ == nil {
		return
	}
	if err := h.DLQ.Send(ctx, queue, jobType, payload, reason, 1); err != nil {
		log.Error().Err(err).Str("queue", queue).Msg("dlq: failed to park job")
	}
}

// quote turns an arbitrary string into a valid JSON string literal.
func quote(s string) []byte {
	b, _ := json.Marshal(s)
	return b
}
