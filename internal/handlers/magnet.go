package handlers

import (
	"errors"
	"net/http"

	"controlling_magnet/internal/channel"
	"controlling_magnet/internal/magnet"
	"controlling_magnet/internal/service"

	"github.com/gin-gonic/gin"
)

const (
	statusOK           = "ok"
	statusRateSet      = "rate_set"
	statusPaused       = "paused"
	statusZeroing      = "zeroing"
	statusQuenchReset  = "quench_reset"
	statusUnitsSet     = "units_set"
	statusRampCanceled = "ramp_cancelled"

	errGetState        = "failed to load state"
	errInvalidBodyPref = "invalid body: "
	errSupplyLink      = "power supply not responding"
	errInternal        = "internal error"
)

// Centralized error logging and response.
func (h *Handler) logAndJSONError(c *gin.Context, httpCode int, userMsg, logKey string, err error, kv ...interface{}) {
	if err != nil {
		fields := append([]interface{}{"err", err}, kv...)
		h.log.Errorw(logKey, fields...)
	}
	c.JSON(httpCode, gin.H{"error": userMsg})
}

// respondMagnetError maps driver and service errors onto HTTP codes.
func (h *Handler) respondMagnetError(c *gin.Context, logKey string, err error) {
	var (
		fault *magnet.SafetyFault
		oor   *magnet.OutOfRangeError
	)
	switch {
	case errors.As(err, &fault),
		errors.Is(err, service.ErrRampInProgress),
		errors.Is(err, service.ErrNoActiveRamp):
		h.log.Infow(logKey, "err", err)
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &oor),
		errors.Is(err, magnet.ErrFieldLimit),
		errors.Is(err, magnet.ErrInvalidUnits),
		errors.Is(err, magnet.ErrInvalidRate):
		h.log.Infow(logKey, "err", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case channel.IsTransport(err):
		h.logAndJSONError(c, http.StatusBadGateway, errSupplyLink, logKey, err)
	default:
		h.logAndJSONError(c, http.StatusInternalServerError, errInternal, logKey, err)
	}
}

// Respond with a status and include current state if available (best-effort).
func (h *Handler) respondWithStatusAndState(c *gin.Context, httpCode int, status string, extra gin.H) {
	ctx := c.Request.Context()
	resp := gin.H{"status": status}
	for k, v := range extra {
		resp[k] = v
	}
	st, err := h.services.Monitoring.GetState(ctx)
	if err == nil {
		resp["state"] = st
	}
	c.JSON(httpCode, resp)
}

type fieldRequest struct {
	TargetT *float64 `json:"target_t" binding:"required"`
	Block   bool     `json:"block"`
}

// SetFieldRequest is an exported model for Swagger docs of the setField payload.
type SetFieldRequest struct {
	// Target field in Tesla
	TargetT float64 `json:"target_t" example:"2.5"`
	// Supervise the ramp and pause the sweep once the field converges
	Block bool `json:"block" example:"true"`
}

type rateRequest struct {
	TPerMin float64 `json:"t_per_min" binding:"required"`
}

// SetRateRequest is an exported model for Swagger docs of the setRate payload.
type SetRateRequest struct {
	// Sweep rate in T/min; clamped to the limit of the present current band
	TPerMin float64 `json:"t_per_min" example:"0.2"`
}

type unitsRequest struct {
	Units string `json:"units" binding:"required"`
}

// SetUnitsRequest is an exported model for Swagger docs of the setUnits payload.
type SetUnitsRequest struct {
	// Allowed: A, kG, T
	Units string `json:"units" example:"T"`
}

// @Summary      Health check
// @Tags         system
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /health [get]
func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": statusOK,
	})
}

// @Summary      Get magnet state
// @Description  Latest sample written by the poller
// @Tags         magnet
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      401  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /api/v1/magnet/state [get]
// @Security     BearerAuth
func (h *Handler) getState(c *gin.Context) {
	ctx := c.Request.Context()
	st, err := h.services.Monitoring.GetState(ctx)
	if err != nil {
		h.logAndJSONError(c, http.StatusInternalServerError, errGetState, "magnet_get_state_failed", err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// @Summary      Ramp to a field
// @Description  Starts a sweep towards target_t. A quench or power-module fault returns 409 with status blocked_by_safety.
// @Tags         magnet
// @Accept       json
// @Produce      json
// @Param        body  body   SetFieldRequest  true  "Field payload"
// @Success      200   {object}  map[string]interface{}
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Failure      409   {object}  map[string]interface{}
// @Failure      502   {object}  map[string]string
// @Router       /api/v1/magnet/field [post]
// @Security     BearerAuth
func (h *Handler) setField(c *gin.Context) {
	var req fieldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBodyPref + err.Error()})
		return
	}
	res, err := h.services.Magnet.SetField(c.Request.Context(), service.FieldParams{
		TargetT: *req.TargetT,
		Block:   req.Block,
	})
	if err != nil {
		h.respondMagnetError(c, "magnet_set_field_failed", err)
		return
	}
	code := http.StatusOK
	if res.Status == magnet.RampBlockedBySafety {
		code = http.StatusConflict
	}
	h.respondWithStatusAndState(c, code, string(res.Status), gin.H{"ramp": res})
}

// @Summary      Get supervised ramp
// @Tags         magnet
// @Produce      json
// @Success      200  {object}  service.RampInfo
// @Failure      401  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Router       /api/v1/magnet/ramp [get]
// @Security     BearerAuth
func (h *Handler) getRamp(c *gin.Context) {
	info, ok := h.services.Magnet.ActiveRamp()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": service.ErrNoActiveRamp.Error()})
		return
	}
	c.JSON(http.StatusOK, info)
}

// @Summary      Cancel supervised ramp
// @Description  Stops waiting for convergence and pauses the sweep
// @Tags         magnet
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      401  {object}  map[string]string
// @Failure      409  {object}  map[string]string
// @Router       /api/v1/magnet/ramp/cancel [post]
// @Security     BearerAuth
func (h *Handler) cancelRamp(c *gin.Context) {
	if err := h.services.Magnet.CancelRamp(c.Request.Context()); err != nil {
		h.respondMagnetError(c, "magnet_cancel_ramp_failed", err)
		return
	}
	h.respondWithStatusAndState(c, http.StatusOK, statusRampCanceled, nil)
}

// @Summary      Set sweep rate
// @Tags         magnet
// @Accept       json
// @Produce      json
// @Param        body  body   SetRateRequest  true  "Rate payload"
// @Success      200   {object}  map[string]interface{}
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Failure      502   {object}  map[string]string
// @Router       /api/v1/magnet/rate [post]
// @Security     BearerAuth
func (h *Handler) setRate(c *gin.Context) {
	var req rateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBodyPref + err.Error()})
		return
	}
	setting, err := h.services.Magnet.SetRate(c.Request.Context(), service.RateParams{TPerMin: req.TPerMin})
	if err != nil {
		h.respondMagnetError(c, "magnet_set_rate_failed", err)
		return
	}
	h.respondWithStatusAndState(c, http.StatusOK, statusRateSet, gin.H{"rate": setting})
}

// @Summary      Pause sweep
// @Tags         magnet
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      401  {object}  map[string]string
// @Failure      502  {object}  map[string]string
// @Router       /api/v1/magnet/pause [post]
// @Security     BearerAuth
func (h *Handler) pause(c *gin.Context) {
	if err := h.services.Magnet.Pause(c.Request.Context()); err != nil {
		h.respondMagnetError(c, "magnet_pause_failed", err)
		return
	}
	h.respondWithStatusAndState(c, http.StatusOK, statusPaused, nil)
}

// @Summary      Sweep to zero
// @Tags         magnet
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      401  {object}  map[string]string
// @Failure      409  {object}  map[string]string
// @Failure      502  {object}  map[string]string
// @Router       /api/v1/magnet/zero [post]
// @Security     BearerAuth
func (h *Handler) zero(c *gin.Context) {
	if err := h.services.Magnet.Zero(c.Request.Context()); err != nil {
		h.respondMagnetError(c, "magnet_zero_failed", err)
		return
	}
	h.respondWithStatusAndState(c, http.StatusOK, statusZeroing, nil)
}

// @Summary      Reset quench condition
// @Tags         magnet
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      401  {object}  map[string]string
// @Failure      502  {object}  map[string]string
// @Router       /api/v1/magnet/quench-reset [post]
// @Security     BearerAuth
func (h *Handler) quenchReset(c *gin.Context) {
	if err := h.services.Magnet.QuenchReset(c.Request.Context()); err != nil {
		h.respondMagnetError(c, "magnet_quench_reset_failed", err)
		return
	}
	h.respondWithStatusAndState(c, http.StatusOK, statusQuenchReset, nil)
}

// @Summary      Set display units
// @Tags         magnet
// @Accept       json
// @Produce      json
// @Param        body  body   SetUnitsRequest  true  "Units payload"
// @Success      200   {object}  map[string]interface{}
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Failure      502   {object}  map[string]string
// @Router       /api/v1/magnet/units [post]
// @Security     BearerAuth
func (h *Handler) setUnits(c *gin.Context) {
	var req unitsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBodyPref + err.Error()})
		return
	}
	if err := h.services.Magnet.SetUnits(c.Request.Context(), req.Units); err != nil {
		h.respondMagnetError(c, "magnet_set_units_failed", err)
		return
	}
	h.respondWithStatusAndState(c, http.StatusOK, statusUnitsSet, gin.H{"units": req.Units})
}
