package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/compucol89/kiosco-sub007/internal/apierror"
	"github.com/compucol89/kiosco-sub007/internal/dto"
	"github.com/compucol89/kiosco-sub007/internal/service"
	"github.com/compucol89/kiosco-sub007/internal/worker"

	"github.com/gin-gonic/gin"
)

// DLQReader is satisfied by *worker.RedisDLQ.
type DLQReader interface {
	Peek(ctx context.Context, queue string, n int64) ([]worker.DLQEntry, error)
}

// VentasHandler is the synchronous delivery channel of the sales subsystem.
type VentasHandler struct {
	svc service.SincronizadorService
	dlq DLQReader
}

// NewVentasHandler: dlq nil when Redis is not configured.
func NewVentasHandler(svc service.SincronizadorService, dlq DLQReader) *VentasHandler {
	return &VentasHandler{svc: svc, dlq: dlq}
}

// Evento godoc
// @Summary      Recibe una venta completada
// @Description  Agrega el movimiento de venta al ledger del turno abierto. Re-entregas devuelven el movimiento existente con 200.
// @Description  Si no puede registrarse tras los reintentos la venta queda escalada y se responde 202.
// @Tags         ventas
// @Accept       json
// @Produce      json
// @Param        body body dto.VentaCompletadaEvent true "Evento de venta"
// @Success      201  {object} dto.SincronizacionResponse
// @Success      200  {object} dto.SincronizacionResponse
// @Success      202  {object} apierror.APIError
// @Failure      422  {object} apierror.APIError
// @Router       /v1/caja/ventas/eventos [post]
func (h *VentasHandler) Evento(c *gin.Context) {
	var ev dto.VentaCompletadaEvent
	if !bindAndValidate(c, &ev) {
		return
	}
	resp, err := h.svc.OnVentaCompletada(c.Request.Context(), ev)
	if err != nil {
		writeError(c, err)
		return
	}
	writeSincronizacion(c, resp)
}

// Backfill godoc
// @Summary      Recupera una venta huerfana
// @Tags         ventas
// @Produce      json
// @Param        venta_id path string true "UUID de la venta"
// @Success      201  {object} dto.SincronizacionResponse
// @Failure      404  {object} apierror.APIError
// @Failure      409  {object} apierror.APIError
// @Router       /v1/caja/ventas/{venta_id}/backfill [post]
func (h *VentasHandler) Backfill(c *gin.Context) {
	id, ok := paramUUID(c, "venta_id")
	if !ok {
		return
	}
	resp, err := h.svc.Backfill(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	writeSincronizacion(c, resp)
}

func (h *VentasHandler) Huerfanas(c *gin.Context) {
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	ids, err := h.svc.DetectarHuerfanas(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	out := dto.HuerfanasResponse{SesionCajaID: id.String(), VentaIDs: make([]string, 0, len(ids))}
	for _, v := range ids {
		out.VentaIDs = append(out.VentaIDs, v.String())
	}
	c.JSON(http.StatusOK, out)
}

func (h *VentasHandler) Pendientes(c *gin.Context) {
	rows, err := h.svc.Pendientes(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.PendientesResponse{Data: rows})
}

type dlqResponse struct {
	Habilitada bool              `json:"habilitada"`
	Data       []worker.DLQEntry `json:"data"`
}

// DeadLetters godoc
// @Summary      Eventos de venta estacionados en la DLQ
// @Tags         ventas
// @Produce      json
// @Param        limit query int false "Máximo de entradas (1-200)" default(50)
// @Success      200  {object} handler.dlqResponse
// @Router       /v1/caja/sincronizacion/dlq [get]
func (h *VentasHandler) DeadLetters(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 || limit > 200 {
		c.JSON(http.StatusBadRequest, apierror.New("limit debe estar entre 1 y 200"))
		return
	}
	if h.dlq == nil {
		c.JSON(http.StatusOK, dlqResponse{Habilitada: false, Data: []worker.DLQEntry{}})
		return
	}
	entries, err := h.dlq.Peek(c.Request.Context(), worker.QueueVentas, int64(limit))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dlqResponse{Habilitada: true, Data: entries})
}

func writeSincronizacion(c *gin.Context, resp *dto.SincronizacionResponse) {
	if resp == nil {
		c.JSON(http.StatusInternalServerError, apierror.New("Error interno del servidor"))
		return
	}
	status := http.StatusCreated
	if resp.Duplicado {
		status = http.StatusOK
	}
	c.JSON(status, resp)
}
