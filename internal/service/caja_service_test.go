package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/compucol89/kiosco-sub007/internal/apperror"
	"github.com/compucol89/kiosco-sub007/internal/dto"
	"github.com/compucol89/kiosco-sub007/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAbrir_ConcurrentesUnaSolaGana(t *testing.T) {
	e := newEnv(t)
	const n = 8

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok      int
		already int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.caja.Abrir(context.Background(), dto.AbrirCajaRequest{
				PuntoDeVenta: 1, UsuarioID: uuid.NewString(), MontoInicial: d("1000"),
			})
			mu.Lock()
			defer mu.Unlock()
			var ae *apperror.AlreadyOpenError
			switch {
			case err == nil:
				ok++
			case errors.As(err, &ae):
				already++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, already)
}

func TestAbrir_Validaciones(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.caja.Abrir(ctx, dto.AbrirCajaRequest{PuntoDeVenta: 1, UsuarioID: uuid.NewString(), MontoInicial: d("-1")})
	var invalid *apperror.InvalidAmountError
	assert.ErrorAs(t, err, &invalid)

	_, err = e.caja.Abrir(ctx, dto.AbrirCajaRequest{PuntoDeVenta: 1, UsuarioID: "nope", MontoInicial: d("0")})
	var verr *apperror.ValidationError
	assert.ErrorAs(t, err, &verr)

	s, err := e.caja.Abrir(ctx, dto.AbrirCajaRequest{PuntoDeVenta: 1, UsuarioID: uuid.NewString(), MontoInicial: d("0")})
	require.NoError(t, err, "zero opening amount is valid")
	assert.True(t, s.MontoInicial.IsZero())
}

func TestGetActiva(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	got, err := e.caja.GetActiva(ctx, 4)
	require.NoError(t, err)
	assert.Nil(t, got)

	s := e.abrir(t, 4, "100")
	got, err = e.caja.GetActiva(ctx, 4)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, s.ID, got.ID)
}

func TestBalance_Identidad(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	s := e.abrir(t, 1, "5000")

	e.vender(t, 1, "1200.40", model.MetodoEfectivo)
	e.vender(t, 1, "800", model.MetodoTarjeta)
	e.manual(t, s.ID, model.Egreso, "300.15", model.MetodoEfectivo)
	e.manual(t, s.ID, model.Ingreso, "50", model.MetodoEfectivo)
	e.manual(t, s.ID, model.Egreso, "70", model.MetodoTransferencia)

	esperado, err := e.arqueo.ComputeExpectedCash(ctx, s.ID)
	require.NoError(t, err)
	// 5000 + 1200.40 − 300.15 + 50
	assert.True(t, d("5950.25").Equal(esperado), esperado.String())

	rep, err := e.caja.ObtenerReporte(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, esperado.Equal(rep.MontoEsperado))
	assert.Equal(t, 5, rep.CantidadMovs)
	assert.True(t, d("800").Equal(rep.NetoPorMetodo[model.MetodoTarjeta]))
	assert.True(t, d("-70").Equal(rep.NetoPorMetodo[model.MetodoTransferencia]))
	assert.True(t, rep.LedgerVerificado)
	assert.Zero(t, rep.VentasHuerfanas)
}

func TestCerrar_RoundTripNegativoEsCorrupcion(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	s := e.abrir(t, 1, "5000")

	e.vender(t, 1, "9000", model.MetodoEfectivo)
	e.manual(t, s.ID, model.Egreso, "20000", model.MetodoEfectivo)

	resp, err := e.caja.Cerrar(ctx, cerrar(s.ID, "0"))
	require.NoError(t, err, "close proceeds and reports the warning")

	assert.True(t, d("-6000").Equal(resp.Arqueo.MontoEsperado), resp.Arqueo.MontoEsperado.String())
	assert.Equal(t, model.SesionCerrada, resp.Sesion.Estado)

	var corrupt *apperror.LedgerCorruptionWarning
	require.ErrorAs(t, resp.Arqueo.Err(), &corrupt)
	assert.True(t, d("-6000").Equal(corrupt.MontoEsperado))
	assert.False(t, resp.Arqueo.Conciliado())
	assert.Equal(t, 1, e.notificador.count())

	rep, err := e.caja.ObtenerReporte(ctx, s.ID)
	require.NoError(t, err)
	require.NotNil(t, rep.Arqueo)
	assert.Equal(t, resp.Arqueo.ID, rep.Arqueo.ID)
}

func TestCerrar_ExactoSinAlerta(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	s := e.abrir(t, 1, "1000")
	e.vender(t, 1, "250.75", model.MetodoEfectivo)

	resp, err := e.caja.Cerrar(ctx, cerrar(s.ID, "1250.75"))
	require.NoError(t, err)
	assert.Equal(t, model.Exacto, resp.Arqueo.Clasificacion)
	assert.Empty(t, resp.MetodosConDiferencia)
	assert.True(t, resp.Arqueo.Conciliado())
	assert.Zero(t, e.notificador.count())
	require.NotNil(t, resp.Sesion.ClosedAt)
	require.NotNil(t, resp.Sesion.MontoDeclarado)
	assert.True(t, d("1250.75").Equal(*resp.Sesion.MontoDeclarado))
}

func TestCerrar_DosVecesYAppendsPosteriores(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	s := e.abrir(t, 1, "100")

	_, err := e.caja.Cerrar(ctx, cerrar(s.ID, "90"))
	require.NoError(t, err)

	_, err = e.caja.Cerrar(ctx, cerrar(s.ID, "90"))
	var notOpen *apperror.NotOpenError
	assert.ErrorAs(t, err, &notOpen)

	_, err = e.caja.RegistrarMovimiento(ctx, dto.MovimientoManualRequest{
		SesionCajaID: s.ID.String(), Direccion: model.Ingreso, MetodoPago: model.MetodoEfectivo,
		Monto: d("10"), Descripcion: "tarde", UsuarioID: uuid.NewString(),
	})
	var closed *apperror.ShiftClosedError
	assert.ErrorAs(t, err, &closed)

	hist, err := e.caja.Historial(ctx, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(1), hist.Total)
}

func TestCerrar_FaltanteAlertaSupervisor(t *testing.T) {
	e := newEnv(t)
	s := e.abrir(t, 7, "1000")

	resp, err := e.caja.Cerrar(context.Background(), cerrar(s.ID, "950"))
	require.NoError(t, err)
	assert.Equal(t, model.Faltante, resp.Arqueo.Clasificacion)
	assert.True(t, d("-50").Equal(resp.Arqueo.Desvio))
	require.Equal(t, 1, e.notificador.count())
	assert.Contains(t, e.notificador.alertas[0].asunto, "punto de venta 7")
}

func TestRegistrarAjuste(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	s := e.abrir(t, 1, "0")
	orig := e.manual(t, s.ID, model.Ingreso, "100", model.MetodoEfectivo)

	aj, err := e.caja.RegistrarAjuste(ctx, dto.AjusteRequest{
		SesionCajaID: s.ID.String(), MovimientoID: orig.ID.String(),
		Direccion: model.Egreso, MetodoPago: model.MetodoEfectivo, Monto: d("10"),
		Descripcion: "corrección de carga", UsuarioID: uuid.NewString(),
	})
	require.NoError(t, err)
	assert.Equal(t, model.OrigenAjuste, aj.Origen)
	assert.Equal(t, orig.ID, *aj.AjustaA)

	movs, err := e.caja.ListarMovimientos(ctx, s.ID, dto.MovimientoFilter{})
	require.NoError(t, err)
	require.Len(t, movs, 2)
	assert.True(t, d("100").Equal(movs[0].Monto), "the corrected movement is never edited")

	require.NoError(t, e.caja.Verificar(ctx, s.ID))
}

func TestVerificar_SesionInexistente(t *testing.T) {
	e := newEnv(t)
	err := e.caja.Verificar(context.Background(), uuid.New())
	var nf *apperror.NotFoundError
	assert.ErrorAs(t, err, &nf)
}
