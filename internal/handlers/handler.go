package handlers

import (
	"controlling_magnet/internal/logger"
	"controlling_magnet/internal/service"

	"github.com/gin-gonic/gin"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// Handler wires HTTP layer to services and logging.
type Handler struct {
	services *service.Service
	log      *logger.Logger
}

// NewHandler constructs a new HTTP handler with dependencies. A nil log
// discards output.
func NewHandler(services *service.Service, log *logger.Logger) *Handler {
	return &Handler{services: services, log: logger.OrNop(log)}
}

// InitRoutes builds and returns the Gin router with all routes registered.
func (h *Handler) InitRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), h.requestLogger)

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	router.GET("/health", h.health)

	h.registerAuthRoutes(router)

	// Versioned API endpoints (protected)
	h.registerAPIRoutes(router)

	// State stream on the same port
	router.GET("/ws", h.wsConnect)

	return router
}

func (h *Handler) registerAuthRoutes(r *gin.Engine) {
	auth := r.Group("/auth")
	{
		auth.POST("/sign-up", h.signUp)
		auth.POST("/sign-in", h.signIn)
	}
}

func (h *Handler) registerAPIRoutes(r *gin.Engine) {
	api := r.Group("/api/v1", h.userIdMiddleware)
	{
		h.registerMagnetRoutes(api)
		h.registerLogRoutes(api)
	}
}

func (h *Handler) registerMagnetRoutes(api *gin.RouterGroup) {
	m := api.Group("/magnet")
	{
		m.GET("/state", h.getState)
		// Body example: {"target_t":2.5,"block":true}
		m.POST("/field", h.setField)
		m.GET("/ramp", h.getRamp)
		m.POST("/ramp/cancel", h.cancelRamp)
		m.POST("/rate", h.setRate)
		m.POST("/pause", h.pause)
		m.POST("/zero", h.zero)
		m.POST("/quench-reset", h.quenchReset)
		m.POST("/units", h.setUnits)
	}
}

func (h *Handler) registerLogRoutes(api *gin.RouterGroup) {
	logs := api.Group("/logs")
	{
		logs.GET("/", h.getLogs)
	}
}
