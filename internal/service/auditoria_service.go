package service

import (
	"context"
	"sort"
	"time"

	"github.com/compucol89/kiosco-sub007/internal/apperror"
	"github.com/compucol89/kiosco-sub007/internal/dto"
	"github.com/compucol89/kiosco-sub007/internal/model"
	"github.com/compucol89/kiosco-sub007/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// maxDiasResumen bounds RangeSummary; longer ranges belong to a reporting store.
const maxDiasResumen = 366

// AuditoriaService is read-only: plain SELECTs, never row locks.
type AuditoriaService interface {
	Timeline(ctx context.Context, sesionID uuid.UUID) (*dto.TimelineResponse, error)
	RangeSummary(ctx context.Context, q dto.RangoQuery) (*dto.RangeSummary, error)
}

type auditoriaService struct {
	sesiones repository.SesionRepository
	ledger   repository.LedgerRepository
	ventas   repository.VentaRepository
	loc      *time.Location
}

func NewAuditoriaService(
	sesiones repository.SesionRepository,
	ledger repository.LedgerRepository,
	ventas repository.VentaRepository,
	loc *time.Location,
) AuditoriaService {
	if loc == nil {
		loc = time.UTC
	}
	return &auditoriaService{sesiones: sesiones, ledger: ledger, ventas: ventas, loc: loc}
}

// ── Timeline ──────────────────────────────────────────────────────────────────

func (s *auditoriaService) Timeline(ctx context.Context, sesionID uuid.UUID) (*dto.TimelineResponse, error) {
	sesion, err := s.sesiones.FindByID(ctx, nil, sesionID)
	if err != nil {
		return nil, err
	}
	movs, err := s.ledger.List(ctx, nil, sesionID, dto.MovimientoFilter{})
	if err != nil {
		return nil, err
	}
	desde, hasta := sesion.Ventana()
	ventas, err := s.ventas.ListCompletadas(ctx, nil, sesion.PuntoDeVenta, desde, hasta)
	if err != nil {
		return nil, err
	}

	movPorVenta := make(map[uuid.UUID]uuid.UUID)
	var refs []uuid.UUID
	for i := range movs {
		if movs[i].Origen == model.OrigenVenta && movs[i].ReferenciaVenta != nil {
			movPorVenta[*movs[i].ReferenciaVenta] = movs[i].ID
			refs = append(refs, *movs[i].ReferenciaVenta)
		}
	}
	// Sales referenced by this shift's movements, wherever they fall in time.
	referidas, err := s.ventas.FindByIDs(ctx, refs)
	if err != nil {
		return nil, err
	}
	// Sales of the window whose movement lives in another shift.
	var sueltas []uuid.UUID
	for i := range ventas {
		if _, ok := movPorVenta[ventas[i].ID]; !ok {
			sueltas = append(sueltas, ventas[i].ID)
		}
	}
	enOtraSesion, err := s.ledger.ReferenciasExistentes(ctx, nil, sueltas)
	if err != nil {
		return nil, err
	}

	entradas := make([]dto.TimelineEntry, 0, len(movs)+len(ventas))
	for i := range ventas {
		v := &ventas[i]
		e := dto.TimelineEntry{
			Tipo:       dto.EntradaVenta,
			ID:         v.ID,
			Fecha:      v.CompletadaAt.UTC(),
			Direccion:  model.Ingreso,
			Monto:      v.Total,
			MetodoPago: v.MetodoPago,
			Estado:     dto.EstadoHuerfana,
		}
		if movID, ok := movPorVenta[v.ID]; ok {
			e.Estado = dto.EstadoConciliado
			e.Relacionado = &movID
		} else if enOtraSesion[v.ID] {
			e.Estado = dto.EstadoConciliado
		}
		entradas = append(entradas, e)
	}
	for i := range movs {
		m := &movs[i]
		e := dto.TimelineEntry{
			Tipo:        dto.EntradaMovimiento,
			ID:          m.ID,
			Fecha:       m.CreatedAt.UTC(),
			Direccion:   m.Direccion,
			Monto:       m.Monto,
			MetodoPago:  m.MetodoPago,
			Descripcion: m.Descripcion,
		}
		switch m.Origen {
		case model.OrigenManual:
			e.Estado = dto.EstadoManual
		case model.OrigenAjuste:
			e.Estado = dto.EstadoAjuste
			e.Relacionado = m.AjustaA
		case model.OrigenVenta:
			e.Estado = dto.EstadoSinVenta
			if v, ok := referidas[*m.ReferenciaVenta]; ok && v.Estado == model.VentaCompletada {
				e.Estado = dto.EstadoConciliado
				ref := v.ID
				e.Relacionado = &ref
			}
		}
		entradas = append(entradas, e)
	}

	sort.SliceStable(entradas, func(i, j int) bool {
		a, b := entradas[i], entradas[j]
		if !a.Fecha.Equal(b.Fecha) {
			return a.Fecha.Before(b.Fecha)
		}
		if a.Tipo != b.Tipo {
			return a.Tipo == dto.EntradaVenta
		}
		return a.ID.String() < b.ID.String()
	})

	return &dto.TimelineResponse{SesionCajaID: sesionID.String(), Entradas: entradas}, nil
}

// ── RangeSummary ──────────────────────────────────────────────────────────────

func (s *auditoriaService) RangeSummary(ctx context.Context, q dto.RangoQuery) (*dto.RangeSummary, error) {
	desde, err := time.ParseInLocation("2006-01-02", q.Desde, s.loc)
	if err != nil {
		return nil, &apperror.ValidationError{Campo: "desde", Motivo: "formato esperado YYYY-MM-DD"}
	}
	hasta, err := time.ParseInLocation("2006-01-02", q.Hasta, s.loc)
	if err != nil {
		return nil, &apperror.ValidationError{Campo: "hasta", Motivo: "formato esperado YYYY-MM-DD"}
	}
	if hasta.Before(desde) {
		return nil, &apperror.ValidationError{Campo: "hasta", Motivo: "anterior a desde"}
	}
	fin := hasta.AddDate(0, 0, 1)
	if fin.Sub(desde) > maxDiasResumen*24*time.Hour {
		return nil, &apperror.ValidationError{Campo: "hasta", Motivo: "el rango no puede superar un año"}
	}

	movs, err := s.ledger.ListRango(ctx, desde, fin)
	if err != nil {
		return nil, err
	}
	ventas, err := s.ventas.ListRango(ctx, desde, fin)
	if err != nil {
		return nil, err
	}

	out := &dto.RangeSummary{
		Desde:     q.Desde,
		Hasta:     q.Hasta,
		Dias:      []dto.ResumenDia{},
		PorMetodo: nuevosTotales(),
		Total:     ceroTotales(),
	}
	dias := make(map[string]*dto.ResumenDia)
	ventasDia := make(map[string][]model.Venta)
	dia := func(t time.Time) *dto.ResumenDia {
		key := t.In(s.loc).Format("2006-01-02")
		d, ok := dias[key]
		if !ok {
			d = &dto.ResumenDia{Fecha: key, PorMetodo: nuevosTotales(), Total: ceroTotales()}
			dias[key] = d
		}
		return d
	}

	for i := range movs {
		m := &movs[i]
		d := dia(m.CreatedAt)
		for _, t := range []*dto.TotalesMetodo{d.PorMetodo[m.MetodoPago], &d.Total, out.PorMetodo[m.MetodoPago], &out.Total} {
			if m.Direccion == model.Ingreso {
				t.Ingresos = t.Ingresos.Add(m.Monto)
			} else {
				t.Egresos = t.Egresos.Add(m.Monto)
			}
			t.Neto = t.Neto.Add(m.MontoFirmado())
		}
	}
	for i := range ventas {
		v := &ventas[i]
		d := dia(v.CompletadaAt)
		ventasDia[d.Fecha] = append(ventasDia[d.Fecha], *v)
		for _, t := range []*dto.TotalesMetodo{d.PorMetodo[v.MetodoPago], &d.Total, out.PorMetodo[v.MetodoPago], &out.Total} {
			t.Ventas = t.Ventas.Add(v.Total)
		}
	}

	for _, d := range dias {
		d.Ventas = model.CalcularEstadisticas(ventasDia[d.Fecha])
		out.Dias = append(out.Dias, *d)
	}
	sort.Slice(out.Dias, func(i, j int) bool { return out.Dias[i].Fecha < out.Dias[j].Fecha })
	out.Ventas = model.CalcularEstadisticas(ventas)
	return out, nil
}

func ceroTotales() dto.TotalesMetodo {
	return dto.TotalesMetodo{Ingresos: decimal.Zero, Egresos: decimal.Zero, Neto: decimal.Zero, Ventas: decimal.Zero}
}

func nuevosTotales() map[model.MetodoPago]*dto.TotalesMetodo {
	out := make(map[model.MetodoPago]*dto.TotalesMetodo, len(model.MetodosPago))
	for _, m := range model.MetodosPago {
		t := ceroTotales()
		out[m] = &t
	}
	return out
}
