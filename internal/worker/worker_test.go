package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/compucol89/kiosco-sub007/internal/apperror"
	"github.com/compucol89/kiosco-sub007/internal/dto"
	"github.com/compucol89/kiosco-sub007/internal/infra"
	"github.com/compucol89/kiosco-sub007/internal/model"
	"github.com/compucol89/kiosco-sub007/internal/service"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ── Fakes ────────────────────────────────────────────────────────────────────

type parked struct {
	queue, jobType, reason string
}

type fakeDLQ struct {
	mu  sync.Mutex
	got []parked
}

func (f *fakeDLQ) Send(_ context.Context, queue, jobType string, _ json.RawMessage, reason string, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, parked{queue, jobType, reason})
	return nil
}

type recordingHandler struct{ payloads []json.RawMessage }

func (h *recordingHandler) Process(_ context.Context, p json.RawMessage) {
	h.payloads = append(h.payloads, p)
}

type fakeSync struct {
	err  error
	seen []dto.VentaCompletadaEvent
}

func (f *fakeSync) OnVentaCompletada(_ context.Context, ev dto.VentaCompletadaEvent) (*dto.SincronizacionResponse, error) {
	f.seen = append(f.seen, ev)
	if f.err != nil {
		return nil, f.err
	}
	return &dto.SincronizacionResponse{Movimiento: model.MovimientoCaja{ID: uuid.New()}}, nil
}

type fakeSender struct {
	to, subject, body string
	err               error
}

func (f *fakeSender) SendAlerta(to, subject, body string) error {
	f.to, f.subject, f.body = to, subject, body
	return f.err
}

func envelope(t *testing.T, jobType string, payload any) string {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	raw, err := json.Marshal(Job{Type: jobType, Payload: data})
	require.NoError(t, err)
	return string(raw)
}

func evento() dto.VentaCompletadaEvent {
	return dto.VentaCompletadaEvent{
		ID:           uuid.NewString(),
		PuntoDeVenta: 1,
		Total:        decimal.RequireFromString("120.50"),
		MetodoPago:   model.MetodoEfectivo,
		Timestamp:    time.Now().UTC(),
	}
}

// ── processJob ───────────────────────────────────────────────────────────────

func TestProcessJob_RuteaPorColaYTipo(t *testing.T) {
	ventas, email := &recordingHandler{}, &recordingHandler{}
	dlq := &fakeDLQ{}
	h := WorkerHandlers{Ventas: ventas, Email: email, DLQ: dlq}
	ctx := context.Background()

	h.processJob(ctx, QueueVentas, envelope(t, service.JobVentaCompletada, evento()))
	h.processJob(ctx, QueueEmail, envelope(t, JobEmail, EmailJobPayload{ToEmail: "a@b.c"}))

	assert.Len(t, ventas.payloads, 1)
	assert.Len(t, email.payloads, 1)
	assert.Empty(t, dlq.got)
}

func TestProcessJob_SinHandlerVaALaDLQ(t *testing.T) {
	dlq := &fakeDLQ{}
	h := WorkerHandlers{DLQ: dlq}
	ctx := context.Background()

	h.processJob(ctx, QueueVentas, "not json")
	h.processJob(ctx, QueueVentas, envelope(t, "desconocido", map[string]string{}))
	h.processJob(ctx, QueueEmail, envelope(t, JobEmail, EmailJobPayload{}))

	require.Len(t, dlq.got, 3)
	assert.Equal(t, QueueVentas, dlq.got[0].queue)
	assert.Contains(t, dlq.got[0].reason, "envelope")
	assert.Equal(t, "desconocido", dlq.got[1].jobType)
	assert.Equal(t, QueueEmail, dlq.got[2].queue)
}

// ── VentaWorker ──────────────────────────────────────────────────────────────

func TestVentaWorker(t *testing.T) {
	ctx := context.Background()
	ev := evento()
	raw, err := json.Marshal(ev)
	require.NoError(t, err)

	t.Run("aplica el evento", func(t *testing.T) {
		vh, dlq := &fakeSync{}, &fakeDLQ{}
		NewVentaWorker(vh, dlq).Process(ctx, raw)
		require.Len(t, vh.seen, 1)
		assert.Equal(t, ev.ID, vh.seen[0].ID)
		assert.True(t, ev.Total.Equal(vh.seen[0].Total))
		assert.Empty(t, dlq.got)
	})

	t.Run("huerfana ya escalada no se duplica en la DLQ", func(t *testing.T) {
		vh := &fakeSync{err: &apperror.OrphanSaleDetectedError{Causa: errors.New("sin sesión")}}
		dlq := &fakeDLQ{}
		NewVentaWorker(vh, dlq).Process(ctx, raw)
		assert.Empty(t, dlq.got)
	})

	t.Run("evento invalido se estaciona", func(t *testing.T) {
		vh := &fakeSync{err: &apperror.ValidationError{Campo: "id", Motivo: "no es un UUID válido"}}
		dlq := &fakeDLQ{}
		NewVentaWorker(vh, dlq).Process(ctx, raw)
		require.Len(t, dlq.got, 1)
		assert.Equal(t, service.JobVentaCompletada, dlq.got[0].jobType)
	})

	t.Run("payload ilegible se estaciona", func(t *testing.T) {
		vh, dlq := &fakeSync{}, &fakeDLQ{}
		NewVentaWorker(vh, dlq).Process(ctx, json.RawMessage(`{"total":`))
		assert.Empty(t, vh.seen)
		assert.Len(t, dlq.got, 1)
	})
}

// ── EmailWorker / DirectAlerter ──────────────────────────────────────────────

func TestEmailWorker(t *testing.T) {
	sender := &fakeSender{}
	w := NewEmailWorker(sender)
	raw, err := json.Marshal(EmailJobPayload{ToEmail: "supervisor@kiosco.test", Subject: "Cierre", Body: "desvío"})
	require.NoError(t, err)

	w.Process(context.Background(), raw)
	assert.Equal(t, "supervisor@kiosco.test", sender.to)
	assert.Equal(t, "Cierre", sender.subject)

	skipped := &fakeSender{}
	NewEmailWorker(skipped).Process(context.Background(), json.RawMessage(`{"subject":"x"}`))
	assert.Empty(t, skipped.to)
}

func TestDirectAlerter(t *testing.T) {
	sender := &fakeSender{}
	a := NewDirectAlerter(sender, "supervisor@kiosco.test")
	require.NoError(t, a.Alertar(context.Background(), "asunto", "cuerpo"))
	assert.Equal(t, "supervisor@kiosco.test", sender.to)
	assert.Equal(t, "cuerpo", sender.body)

	sender.err = errors.New("smtp down")
	assert.Error(t, a.Alertar(context.Background(), "asunto", "cuerpo"))
}

func TestDispatcher_AlertarSinDestinatarioNoHaceNada(t *testing.T) {
	d := NewDispatcher(nil, "")
	assert.NoError(t, d.Alertar(context.Background(), "asunto", "cuerpo"))
}

// ── Backfill cron ────────────────────────────────────────────────────────────

type fakeReparador struct {
	calls int
	err   error
}

func (f *fakeReparador) ReintentarPendientes(context.Context) (int, error) {
	f.calls++
	return 1, f.err
}

func (f *fakeReparador) BackfillAbiertas(context.Context) (int, error) { return 2, nil }

func TestProcessBackfill_AbreElCircuito(t *testing.T) {
	rep := &fakeReparador{err: errors.New("ventas db down")}
	cb := infra.NewCircuitBreaker(infra.CircuitBreakerConfig{
		Name: "ventas", FailureThreshold: 2, SuccessThreshold: 1, OpenTimeout: time.Hour,
	})
	cfg := BackfillCronConfig{Sincronizador: rep, CB: cb, Interval: time.Minute}
	ctx := context.Background()

	processBackfill(ctx, cfg)
	processBackfill(ctx, cfg)
	assert.Equal(t, infra.CBOpen, cb.State())

	processBackfill(ctx, cfg)
	assert.Equal(t, 2, rep.calls, "an open breaker skips the tick")
}

func TestProcessBackfill_Exito(t *testing.T) {
	rep := &fakeReparador{}
	cb := infra.NewCircuitBreaker(infra.DefaultCBConfig("ventas"))
	processBackfill(context.Background(), BackfillCronConfig{Sincronizador: rep, CB: cb, Interval: time.Minute})
	assert.Equal(t, 1, rep.calls)
	assert.Equal(t, infra.CBClosed, cb.State())
}
