package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/compucol89/kiosco-sub007/internal/apierror"
	"github.com/compucol89/kiosco-sub007/internal/apperror"
	"github.com/compucol89/kiosco-sub007/internal/dto"
	"github.com/compucol89/kiosco-sub007/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type CajaHandler struct {
	svc     service.CajaService
	arqueos service.ArqueoService
}

func NewCajaHandler(svc service.CajaService, arqueos service.ArqueoService) *CajaHandler {
	return &CajaHandler{svc: svc, arqueos: arqueos}
}

// Abrir godoc
// @Summary Abre una nueva sesion de caja
// @Tags caja
// @Accept json
// @Produce json
// @Param body body dto.AbrirCajaRequest true "Datos de apertura"
// @Success 201 {object} model.SesionCaja
// @Failure 409 {object} apierror.APIError
// @Failure 422 {object} apierror.APIError
// @Router /v1/caja/abrir [post]
func (h *CajaHandler) Abrir(c *gin.Context) {
	var req dto.AbrirCajaRequest
	if !bindAndValidate(c, &req) {
		return
	}
	resp, err := h.svc.Abrir(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// Cerrar godoc
// @Summary Cierra la sesion con el monto contado y persiste el arqueo
// @Tags caja
// @Accept json
// @Produce json
// @Param id path string true "ID de sesion"
// @Param body body dto.CerrarCajaRequest true "Declaracion de cierre"
// @Success 200 {object} dto.CerrarCajaResponse
// @Failure 409 {object} apierror.APIError
// @Router /v1/caja/{id}/cerrar [post]
func (h *CajaHandler) Cerrar(c *gin.Context) {
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	var req dto.CerrarCajaRequest
	if !bindAndValidate(c, &req) {
		return
	}
	req.SesionCajaID = id.String()
	resp, err := h.svc.Cerrar(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GetActiva returns the open shift of ?punto_de_venta=N.
func (h *CajaHandler) GetActiva(c *gin.Context) {
	pdv, err := strconv.Atoi(c.Query("punto_de_venta"))
	if err != nil || pdv < 1 {
		c.JSON(http.StatusBadRequest, apierror.New("punto_de_venta inválido"))
		return
	}
	resp, err := h.svc.GetActiva(c.Request.Context(), pdv)
	if err != nil {
		writeError(c, err)
		return
	}
	if resp == nil {
		c.JSON(http.StatusNotFound, apierror.WithCode(apperror.CodeNotOpen, "Sin sesión activa"))
		return
	}
	c.JSON(http.StatusOK, resp)
}

// RegistrarMovimiento godoc
// @Summary Registra un ingreso o egreso manual en caja
// @Tags caja
// @Accept json
// @Produce json
// @Param id path string true "ID de sesion"
// @Param body body dto.MovimientoManualRequest true "Movimiento manual"
// @Success 201 {object} model.MovimientoCaja
// @Failure 409 {object} apierror.APIError
// @Failure 422 {object} apierror.APIError
// @Router /v1/caja/{id}/movimientos [post]
func (h *CajaHandler) RegistrarMovimiento(c *gin.Context) {
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	var req dto.MovimientoManualRequest
	if !bindAndValidate(c, &req) {
		return
	}
	req.SesionCajaID = id.String()
	mov, err := h.svc.RegistrarMovimiento(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, mov)
}

// RegistrarAjuste appends a correcting movement; the corrected one is never edited.
func (h *CajaHandler) RegistrarAjuste(c *gin.Context) {
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	var req dto.AjusteRequest
	if !bindAndValidate(c, &req) {
		return
	}
	req.SesionCajaID = id.String()
	mov, err := h.svc.RegistrarAjuste(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, mov)
}

func (h *CajaHandler) ListarMovimientos(c *gin.Context) {
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	var f dto.MovimientoFilter
	if !bindQuery(c, &f) {
		return
	}
	movs, err := h.svc.ListarMovimientos(c.Request.Context(), id, f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": movs})
}

// Arqueo godoc
// @Summary Arqueo a demanda: compara el monto contado sin cerrar la sesion
// @Tags caja
// @Produce json
// @Param id path string true "ID de sesion"
// @Param monto_declarado query string true "Efectivo contado"
// @Param tolerancia query string false "Tolerancia; por defecto la configurada"
// @Success 200 {object} model.Arqueo
// @Failure 400 {object} apierror.APIError
// @Failure 422 {object} apierror.APIError
// @Router /v1/caja/{id}/arqueo [get]
func (h *CajaHandler) Arqueo(c *gin.Context) {
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	// Malformed query parameters are 400 like every other query; a negative
	// amount is still rejected by the service with 422.
	declarado, err := decimal.NewFromString(c.Query("monto_declarado"))
	if err != nil {
		c.JSON(http.StatusBadRequest, apierror.New("monto_declarado inválido"))
		return
	}
	var tol *decimal.Decimal
	if raw := c.Query("tolerancia"); raw != "" {
		t, err := decimal.NewFromString(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, apierror.New("tolerancia inválida"))
			return
		}
		tol = &t
	}
	arqueo, err := h.arqueos.Reconcile(c.Request.Context(), id, declarado, tol)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"arqueo":                 arqueo,
		"metodos_con_diferencia": arqueo.MetodosConDiferencia(),
	})
}

// ObtenerReporte godoc
// @Summary Obtiene el reporte de una sesion de caja
// @Tags caja
// @Produce json
// @Param id path string true "ID de sesion"
// @Success 200 {object} dto.ReporteCajaResponse
// @Failure 404 {object} apierror.APIError
// @Router /v1/caja/{id}/reporte [get]
func (h *CajaHandler) ObtenerReporte(c *gin.Context) {
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	resp, err := h.svc.ObtenerReporte(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Historial returns a paginated list of closed cash sessions.
func (h *CajaHandler) Historial(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	resp, err := h.svc.Historial(c.Request.Context(), page, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Verificar recomputes the hash chain. A broken chain is a finding, not a
// request failure: it answers 200 with valido=false.
func (h *CajaHandler) Verificar(c *gin.Context) {
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	err := h.svc.Verificar(c.Request.Context(), id)
	var corrupt *apperror.LedgerCorruptionWarning
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"valido": true})
	case errors.As(err, &corrupt):
		c.JSON(http.StatusOK, gin.H{"valido": false, "detalle": corrupt.Motivo})
	default:
		writeError(c, err)
	}
}
