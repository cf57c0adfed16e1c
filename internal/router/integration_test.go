//go:build integration

package router_test

// Runs the HTTP surface against real Postgres and Redis containers, where the
// per-shift row locks and partial unique indexes actually apply.
// Run with: go test -tags integration ./internal/router/... -v

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/compucol89/kiosco-sub007/internal/config"
	"github.com/compucol89/kiosco-sub007/internal/dto"
	"github.com/compucol89/kiosco-sub007/internal/infra"
	"github.com/compucol89/kiosco-sub007/internal/model"
	"github.com/compucol89/kiosco-sub007/internal/router"
	"github.com/compucol89/kiosco-sub007/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
)

type stack struct {
	*api
	rdb *redis.Client
	svc *router.Services
}

func setupStack(t *testing.T) *stack {
	t.Helper()
	ctx := context.Background()

	pgC, err := tcPostgres.Run(ctx, "postgres:16-alpine",
		tcPostgres.WithDatabase("caja_test"),
		tcPostgres.WithUsername("caja"),
		tcPostgres.WithPassword("caja"),
		tcPostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, pgC)
	require.NoError(t, err)
	pgURL, err := pgC.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	rdC, err := tcRedis.Run(ctx, "redis:7-alpine")
	testcontainers.CleanupContainer(t, rdC)
	require.NoError(t, err)
	rdURL, err := rdC.ConnectionString(ctx)
	require.NoError(t, err)

	gin.SetMode(gin.TestMode)
	t.Setenv("APP_ENV", "test")
	t.Setenv("DATABASE_URL", pgURL)
	t.Setenv("REDIS_URL", rdURL)
	t.Setenv("REPORT_TIMEZONE", "UTC")
	t.Setenv("SYNC_INITIAL_BACKOFF", "5ms")
	cfg, err := config.Load()
	require.NoError(t, err)

	db, err := infra.NewDatabase(cfg.DatabaseURL)
	require.NoError(t, err)
	require.NoError(t, infra.RunMigrations(db))
	rdb, err := infra.NewRedis(cfg.RedisURL, cfg.WorkerPoolSize)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })

	svc := router.NewServices(cfg, db, rdb)
	return &stack{
		api: &api{t: t, db: db, r: router.New(cfg, db, rdb, svc)},
		rdb: rdb,
		svc: svc,
	}
}

func TestIntegration(t *testing.T) {
	st := setupStack(t)

	t.Run("apertura concurrente: una sola sesión por punto de venta", func(t *testing.T) {
		st.t = t
		const n = 10
		codes := make(chan int, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				w := st.do(http.MethodPost, "/v1/caja/abrir", map[string]any{
					"punto_de_venta": 1,
					"usuario_id":     uuid.NewString(),
					"monto_inicial":  "100.00",
				})
				codes <- w.Code
			}()
		}
		wg.Wait()
		close(codes)

		got := map[int]int{}
		for c := range codes {
			got[c]++
		}
		assert.Equal(t, 1, got[http.StatusCreated])
		assert.Equal(t, n-1, got[http.StatusConflict])
	})

	t.Run("entregas concurrentes y duplicadas de ventas", func(t *testing.T) {
		st.t = t
		s := st.abrir(2, "0")
		const n = 20
		ventas := make([]model.Venta, n)
		for i := range ventas {
			ventas[i] = st.venta(2, "10.00", model.MetodoEfectivo)
		}

		var wg sync.WaitGroup
		for _, v := range ventas {
			for k := 0; k < 2; k++ {
				wg.Add(1)
				go func(v model.Venta) {
					defer wg.Done()
					st.do(http.MethodPost, "/v1/caja/ventas/eventos", eventoDe(v))
				}(v)
			}
		}
		wg.Wait()

		w := st.do(http.MethodGet, "/v1/caja/"+s.ID.String()+"/movimientos", nil)
		require.Equal(t, http.StatusOK, w.Code)
		list := decode[struct {
			Data []model.MovimientoCaja `json:"data"`
		}](t, w)
		require.Len(t, list.Data, n)
		for i, m := range list.Data {
			assert.Equal(t, int64(i+1), m.Secuencia)
		}

		w = st.do(http.MethodGet, "/v1/caja/"+s.ID.String()+"/verificar", nil)
		assert.Equal(t, true, decode[map[string]any](t, w)["valido"])

		w = st.do(http.MethodGet, "/v1/caja/"+s.ID.String()+"/arqueo?monto_declarado=200", nil)
		require.Equal(t, http.StatusOK, w.Code)
		arq := decode[struct {
			Arqueo model.Arqueo `json:"arqueo"`
		}](t, w)
		assert.Equal(t, model.Exacto, arq.Arqueo.Clasificacion)
	})

	t.Run("cola de ventas y DLQ", func(t *testing.T) {
		st.t = t
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		worker.StartWorkerPool(ctx, st.rdb, 2, worker.WorkerHandlers{
			Ventas: worker.NewVentaWorker(st.svc.Sincronizador, st.svc.DLQ),
			DLQ:    st.svc.DLQ,
		})

		s := st.abrir(3, "0")
		v := st.venta(3, "55.00", model.MetodoQR)
		require.NoError(t, st.svc.Dispatcher.EnqueueVenta(ctx, dto.VentaCompletadaEvent{
			ID:           v.ID.String(),
			PuntoDeVenta: v.PuntoDeVenta,
			Total:        v.Total,
			MetodoPago:   v.MetodoPago,
			Timestamp:    v.CompletadaAt,
		}))
		require.Eventually(t, func() bool {
			movs, err := st.svc.Caja.ListarMovimientos(ctx, s.ID, dto.MovimientoFilter{})
			return err == nil && len(movs) == 1
		}, 10*time.Second, 50*time.Millisecond)

		huerfana := st.venta(4, "12.00", model.MetodoEfectivo)
		require.NoError(t, st.svc.Dispatcher.EnqueueVenta(ctx, dto.VentaCompletadaEvent{
			ID:           huerfana.ID.String(),
			PuntoDeVenta: huerfana.PuntoDeVenta,
			Total:        huerfana.Total,
			MetodoPago:   huerfana.MetodoPago,
			Timestamp:    huerfana.CompletadaAt,
		}))
		require.Eventually(t, func() bool {
			n, err := st.svc.DLQ.Length(ctx, worker.QueueVentas)
			return err == nil && n == 1
		}, 10*time.Second, 50*time.Millisecond)

		w := st.do(http.MethodGet, "/v1/caja/sincronizacion/dlq", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), huerfana.ID.String())

		pendientes, err := st.svc.Sincronizador.Pendientes(ctx)
		require.NoError(t, err)
		require.Len(t, pendientes, 1)
		assert.Equal(t, huerfana.ID, pendientes[0].VentaID)
	})
}
