package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/compucol89/kiosco-sub007/internal/apperror"
	"github.com/compucol89/kiosco-sub007/internal/dto"
	"github.com/compucol89/kiosco-sub007/internal/model"
	"github.com/compucol89/kiosco-sub007/internal/repository"
	"github.com/compucol89/kiosco-sub007/internal/service"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakySesiones fails FindAbierta with a transient error.
type flakySesiones struct {
	repository.SesionRepository
	calls atomic.Int32
}

func (f *flakySesiones) FindAbierta(context.Context, int) (*model.SesionCaja, error) {
	f.calls.Add(1)
	return nil, errors.New("connection reset by peer")
}

func TestOnVentaCompletada_Idempotente(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	s := e.abrir(t, 1, "0")
	v := e.venta(t, 1, "150", model.MetodoEfectivo)

	first, err := e.sync.OnVentaCompletada(ctx, evento(v))
	require.NoError(t, err)
	assert.False(t, first.Duplicado)

	again, err := e.sync.OnVentaCompletada(ctx, evento(v))
	require.NoError(t, err)
	assert.True(t, again.Duplicado)
	assert.Equal(t, first.Movimiento.ID, again.Movimiento.ID)

	movs, err := e.caja.ListarMovimientos(ctx, s.ID, dto.MovimientoFilter{})
	require.NoError(t, err)
	assert.Len(t, movs, 1)
}

func TestOnVentaCompletada_ReentregaTrasCierreEsDuplicado(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	s := e.abrir(t, 1, "100")
	v := e.vender(t, 1, "50", model.MetodoEfectivo)
	_, err := e.caja.Cerrar(ctx, cerrar(s.ID, "150"))
	require.NoError(t, err)
	alertasCierre := e.notificador.count()

	again, err := e.sync.OnVentaCompletada(ctx, evento(v))
	require.NoError(t, err)
	assert.True(t, again.Duplicado)
	assert.Equal(t, s.ID, again.Movimiento.SesionCajaID)

	// With a later shift open the sale still belongs to the closed one.
	nueva := e.abrir(t, 1, "0")
	again, err = e.sync.OnVentaCompletada(ctx, evento(v))
	require.NoError(t, err)
	assert.True(t, again.Duplicado)

	pend, err := e.sync.Pendientes(ctx)
	require.NoError(t, err)
	assert.Empty(t, pend)
	assert.Empty(t, e.dlq.entries)
	assert.Equal(t, alertasCierre, e.notificador.count())

	movs, err := e.caja.ListarMovimientos(ctx, nueva.ID, dto.MovimientoFilter{})
	require.NoError(t, err)
	assert.Empty(t, movs)
}

func TestReintentarPendientes_VentaYaRegistradaSeResuelve(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	s := e.abrir(t, 3, "0")
	// The sales subsystem never exposes this sale, so only its event exists.
	ev := dto.VentaCompletadaEvent{
		ID: uuid.NewString(), PuntoDeVenta: 3, Total: d("12"), MetodoPago: model.MetodoTarjeta,
		Timestamp: time.Now().UTC(),
	}
	_, err := e.sync.OnVentaCompletada(ctx, ev)
	require.NoError(t, err)
	_, err = e.caja.Cerrar(ctx, cerrar(s.ID, "0"))
	require.NoError(t, err)

	payload, err := json.Marshal(ev)
	require.NoError(t, err)
	require.NoError(t, e.pendientes.Upsert(ctx, &model.SincronizacionPendiente{
		VentaID:      uuid.MustParse(ev.ID),
		PuntoDeVenta: 3,
		Payload:      string(payload),
		Intentos:     1,
		UltimoError:  "timeout",
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}))

	resueltas, err := e.sync.ReintentarPendientes(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, resueltas)
	pend, err := e.sync.Pendientes(ctx)
	require.NoError(t, err)
	assert.Empty(t, pend)
}

func TestOnVentaCompletada_RechazaFechaFutura(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.abrir(t, 1, "0")

	ev := dto.VentaCompletadaEvent{
		ID: uuid.NewString(), PuntoDeVenta: 1, Total: d("5"), MetodoPago: model.MetodoEfectivo,
		Timestamp: time.Now().Add(time.Hour),
	}
	_, err := e.sync.OnVentaCompletada(ctx, ev)
	var verr *apperror.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "timestamp", verr.Campo)
	assert.Empty(t, e.dlq.entries)

	// Small register clock drift is tolerated.
	ev.Timestamp = time.Now().Add(30 * time.Second)
	_, err = e.sync.OnVentaCompletada(ctx, ev)
	assert.NoError(t, err)
}

func TestOnVentaCompletada_ValidacionNoEscala(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.sync.OnVentaCompletada(ctx, dto.VentaCompletadaEvent{ID: "x", PuntoDeVenta: 1, Total: d("1"), MetodoPago: model.MetodoEfectivo, Timestamp: time.Now()})
	var verr *apperror.ValidationError
	assert.ErrorAs(t, err, &verr)

	_, err = e.sync.OnVentaCompletada(ctx, dto.VentaCompletadaEvent{ID: uuid.NewString(), PuntoDeVenta: 1, Total: d("0"), MetodoPago: model.MetodoEfectivo, Timestamp: time.Now()})
	var invalid *apperror.InvalidAmountError
	assert.ErrorAs(t, err, &invalid)

	pend, err := e.sync.Pendientes(ctx)
	require.NoError(t, err)
	assert.Empty(t, pend)
	assert.Empty(t, e.dlq.entries)
}

func TestOnVentaCompletada_SinSesionAbiertaEscala(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	v := e.venta(t, 9, "99.90", model.MetodoEfectivo)

	_, err := e.sync.OnVentaCompletada(ctx, evento(v))
	var orphan *apperror.OrphanSaleDetectedError
	require.ErrorAs(t, err, &orphan)
	assert.Equal(t, []uuid.UUID{v.ID}, orphan.VentaIDs)
	var notOpen *apperror.NotOpenError
	assert.ErrorAs(t, err, &notOpen, "the cause stays reachable")

	pend, err := e.sync.Pendientes(ctx)
	require.NoError(t, err)
	require.Len(t, pend, 1)
	assert.Equal(t, v.ID, pend[0].VentaID)
	assert.Equal(t, 1, pend[0].Intentos, "permanent failures are not retried")

	require.Len(t, e.dlq.entries, 1)
	assert.Equal(t, service.QueueVentas, e.dlq.entries[0].queue)
	assert.Equal(t, service.JobVentaCompletada, e.dlq.entries[0].jobType)
	assert.Equal(t, 1, e.notificador.count())
}

func TestOnVentaCompletada_ReintentaYEscalaFallasTransitorias(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.abrir(t, 1, "0")
	v := e.venta(t, 1, "10", model.MetodoEfectivo)

	flaky := &flakySesiones{SesionRepository: e.sesiones}
	svc := service.NewSincronizadorService(flaky, e.ledger, e.ventas, e.pendientes, e.dlq, e.notificador, syncCfg)

	_, err := svc.OnVentaCompletada(ctx, evento(v))
	var orphan *apperror.OrphanSaleDetectedError
	require.ErrorAs(t, err, &orphan)
	assert.Equal(t, int32(syncCfg.MaxRetries+1), flaky.calls.Load())

	pend, err := e.sync.Pendientes(ctx)
	require.NoError(t, err)
	require.Len(t, pend, 1)
	assert.Equal(t, int(syncCfg.MaxRetries+1), pend[0].Intentos)
	assert.Contains(t, pend[0].UltimoError, "connection reset")

	// Once the store is healthy the periodic retry resolves it.
	resueltas, err := e.sync.ReintentarPendientes(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, resueltas)

	pend, err = e.sync.Pendientes(ctx)
	require.NoError(t, err)
	assert.Empty(t, pend)

	mov, err := e.ledger.FindByReferenciaVenta(ctx, nil, v.ID)
	require.NoError(t, err)
	assert.True(t, d("10").Equal(mov.Monto))
}

func TestOnVentaCompletada_FueraDeVentana(t *testing.T) {
	e := newEnv(t)
	s := e.abrir(t, 1, "0")

	ev := dto.VentaCompletadaEvent{
		ID: uuid.NewString(), PuntoDeVenta: 1, Total: d("5"), MetodoPago: model.MetodoEfectivo,
		Timestamp: s.OpenedAt.Add(-time.Hour),
	}
	_, err := e.sync.OnVentaCompletada(context.Background(), ev)
	var oob *apperror.SaleOutOfBoundsError
	assert.ErrorAs(t, err, &oob)
	var orphan *apperror.OrphanSaleDetectedError
	assert.ErrorAs(t, err, &orphan)
}

func TestHuerfanas_CicloDeVida(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	s := e.abrir(t, 1, "0")
	e.vender(t, 1, "100", model.MetodoEfectivo)
	orphan := e.venta(t, 1, "42.50", model.MetodoQR) // never delivered

	ids, err := e.sync.DetectarHuerfanas(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{orphan.ID}, ids)

	resp, err := e.sync.Backfill(ctx, orphan.ID)
	require.NoError(t, err)
	assert.False(t, resp.Duplicado)
	assert.Equal(t, model.MetodoQR, resp.Movimiento.MetodoPago)

	ids, err = e.sync.DetectarHuerfanas(ctx, s.ID)
	require.NoError(t, err)
	assert.Empty(t, ids)

	again, err := e.sync.Backfill(ctx, orphan.ID)
	require.NoError(t, err)
	assert.True(t, again.Duplicado)

	tl, err := e.auditoria.Timeline(ctx, s.ID)
	require.NoError(t, err)
	var ventas, relacionados int
	for _, entry := range tl.Entradas {
		if entry.ID == orphan.ID {
			ventas++
			assert.Equal(t, dto.EstadoConciliado, entry.Estado)
		}
		if entry.Relacionado != nil && *entry.Relacionado == orphan.ID {
			relacionados++
		}
	}
	assert.Equal(t, 1, ventas)
	assert.Equal(t, 1, relacionados)
}

func TestBackfill_FallaRuidosamente(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.sync.Backfill(ctx, uuid.New())
	var nf *apperror.NotFoundError
	assert.ErrorAs(t, err, &nf)

	sinTurno := e.venta(t, 5, "10", model.MetodoEfectivo)
	_, err = e.sync.Backfill(ctx, sinTurno.ID)
	var oob *apperror.SaleOutOfBoundsError
	assert.ErrorAs(t, err, &oob)

	s := e.abrir(t, 6, "0")
	tarde := e.venta(t, 6, "10", model.MetodoEfectivo)
	_, err = e.caja.Cerrar(ctx, cerrar(s.ID, "0"))
	require.NoError(t, err)
	_, err = e.sync.Backfill(ctx, tarde.ID)
	var closed *apperror.ShiftClosedError
	assert.ErrorAs(t, err, &closed)

	anulada := e.venta(t, 6, "10", model.MetodoEfectivo)
	require.NoError(t, e.db.Model(&model.Venta{}).Where("id = ?", anulada.ID).Update("estado", model.VentaAnulada).Error)
	_, err = e.sync.Backfill(ctx, anulada.ID)
	assert.ErrorAs(t, err, &nf)
}

func TestBackfillAbiertas(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.abrir(t, 1, "0")
	b := e.abrir(t, 2, "0")
	e.venta(t, 1, "10", model.MetodoEfectivo)
	e.venta(t, 2, "20", model.MetodoTarjeta)
	e.venta(t, 2, "30", model.MetodoEfectivo)

	n, err := e.sync.BackfillAbiertas(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for _, id := range []uuid.UUID{a.ID, b.ID} {
		ids, err := e.sync.DetectarHuerfanas(ctx, id)
		require.NoError(t, err)
		assert.Empty(t, ids)
	}
}
