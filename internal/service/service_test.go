package service_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/compucol89/kiosco-sub007/internal/dto"
	"github.com/compucol89/kiosco-sub007/internal/model"
	"github.com/compucol89/kiosco-sub007/internal/repository"
	"github.com/compucol89/kiosco-sub007/internal/service"
	"github.com/compucol89/kiosco-sub007/internal/testdb"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// ── Recorders ────────────────────────────────────────────────────────────────

type alerta struct{ asunto, cuerpo string }

type notificadorSpy struct {
	mu      sync.Mutex
	alertas []alerta
}

func (n *notificadorSpy) Alertar(_ context.Context, asunto, cuerpo string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alertas = append(n.alertas, alerta{asunto, cuerpo})
	return nil
}

func (n *notificadorSpy) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.alertas)
}

type dlqEntry struct {
	queue, jobType, reason string
	payload                json.RawMessage
	attempts               int
}

type dlqSpy struct {
	mu      sync.Mutex
	entries []dlqEntry
}

func (q *dlqSpy) Send(_ context.Context, queue, jobType string, payload json.RawMessage, reason string, attempts int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, dlqEntry{queue, jobType, reason, payload, attempts})
	return nil
}

// ── Environment ──────────────────────────────────────────────────────────────

type env struct {
	db          *gorm.DB
	sesiones    repository.SesionRepository
	ledger      repository.LedgerRepository
	ventas      repository.VentaRepository
	pendientes  repository.SincronizacionRepository
	caja        service.CajaService
	arqueo      service.ArqueoService
	sync        service.SincronizadorService
	auditoria   service.AuditoriaService
	notificador *notificadorSpy
	dlq         *dlqSpy
}

var syncCfg = service.SincronizadorConfig{MaxRetries: 2, InitialBackoff: time.Millisecond}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := testdb.New(t)
	e := &env{
		db:          db,
		sesiones:    repository.NewSesionRepository(db),
		ventas:      repository.NewVentaRepository(db),
		pendientes:  repository.NewSincronizacionRepository(db),
		notificador: &notificadorSpy{},
		dlq:         &dlqSpy{},
	}
	e.ledger = repository.NewLedgerRepository(db, e.sesiones)
	e.arqueo = service.NewArqueoService(e.sesiones, e.ledger, e.ventas, d("0.01"))
	e.caja = service.NewCajaService(e.sesiones, e.ledger, repository.NewArqueoRepository(db), e.ventas, e.arqueo, e.notificador)
	e.sync = service.NewSincronizadorService(e.sesiones, e.ledger, e.ventas, e.pendientes, e.dlq, e.notificador, syncCfg)
	e.auditoria = service.NewAuditoriaService(e.sesiones, e.ledger, e.ventas, time.UTC)
	return e
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func (e *env) abrir(t *testing.T, pdv int, monto string) *model.SesionCaja {
	t.Helper()
	s, err := e.caja.Abrir(context.Background(), dto.AbrirCajaRequest{
		PuntoDeVenta: pdv,
		UsuarioID:    uuid.NewString(),
		MontoInicial: d(monto),
	})
	require.NoError(t, err)
	return s
}

func (e *env) manual(t *testing.T, sesionID uuid.UUID, dir model.Direccion, monto string, metodo model.MetodoPago) *model.MovimientoCaja {
	t.Helper()
	mov, err := e.caja.RegistrarMovimiento(context.Background(), dto.MovimientoManualRequest{
		SesionCajaID: sesionID.String(),
		Direccion:    dir,
		MetodoPago:   metodo,
		Monto:        d(monto),
		Descripcion:  "movimiento manual",
		UsuarioID:    uuid.NewString(),
	})
	require.NoError(t, err)
	return mov
}

// venta inserts a completed sale into the sales subsystem's table.
func (e *env) venta(t *testing.T, pdv int, total string, metodo model.MetodoPago) model.Venta {
	t.Helper()
	v := model.Venta{
		ID:           uuid.New(),
		PuntoDeVenta: pdv,
		Total:        d(total),
		MetodoPago:   metodo,
		Estado:       model.VentaCompletada,
		CompletadaAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, e.db.Create(&v).Error)
	return v
}

func evento(v model.Venta) dto.VentaCompletadaEvent {
	return dto.VentaCompletadaEvent{
		ID:           v.ID.String(),
		PuntoDeVenta: v.PuntoDeVenta,
		Total:        v.Total,
		MetodoPago:   v.MetodoPago,
		Timestamp:    v.CompletadaAt,
	}
}

// vender records the sale and delivers its event.
func (e *env) vender(t *testing.T, pdv int, total string, metodo model.MetodoPago) model.Venta {
	t.Helper()
	v := e.venta(t, pdv, total, metodo)
	_, err := e.sync.OnVentaCompletada(context.Background(), evento(v))
	require.NoError(t, err)
	return v
}

func cerrar(sesionID uuid.UUID, declarado string) dto.CerrarCajaRequest {
	return dto.CerrarCajaRequest{
		SesionCajaID:   sesionID.String(),
		MontoDeclarado: d(declarado),
		UsuarioID:      uuid.NewString(),
	}
}
