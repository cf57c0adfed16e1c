package handler

import (
	"net/http"

	"github.com/compucol89/kiosco-sub007/internal/dto"
	"github.com/compucol89/kiosco-sub007/internal/service"

	"github.com/gin-gonic/gin"
)

type AuditoriaHandler struct{ svc service.AuditoriaService }

func NewAuditoriaHandler(svc service.AuditoriaService) *AuditoriaHandler {
	return &AuditoriaHandler{svc: svc}
}

// Timeline godoc
// @Summary Linea de tiempo de ventas y movimientos de una sesion
// @Tags auditoria
// @Produce json
// @Param id path string true "ID de sesion"
// @Success 200 {object} dto.TimelineResponse
// @Failure 404 {object} apierror.APIError
// @Router /v1/caja/{id}/timeline [get]
func (h *AuditoriaHandler) Timeline(c *gin.Context) {
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	resp, err := h.svc.Timeline(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Resumen godoc
// @Summary Totales diarios por metodo de pago
// @Tags auditoria
// @Produce json
// @Param desde query string true "YYYY-MM-DD"
// @Param hasta query string true "YYYY-MM-DD (inclusive)"
// @Success 200 {object} dto.RangeSummary
// @Failure 422 {object} apierror.ValidationError
// @Router /v1/caja/resumen [get]
func (h *AuditoriaHandler) Resumen(c *gin.Context) {
	var q dto.RangoQuery
	if !bindQuery(c, &q) {
		return
	}
	resp, err := h.svc.RangeSummary(c.Request.Context(), q)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
