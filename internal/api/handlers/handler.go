package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/langchou/fueltrip/internal/repository"
	"github.com/langchou/fueltrip/internal/service"
	"github.com/langchou/fueltrip/internal/state"
	"github.com/langchou/fueltrip/pkg/ws"
)

// Handler HTTP 处理器
type Handler struct {
	logger      *zap.Logger
	vehicleRepo *repository.VehicleRepository
	tripRepo    *repository.TripRepository
	posRepo     *repository.PositionRepository
	maintRepo   *repository.MaintenanceRepository
	manager     *service.Manager
	wsHub       *ws.Hub
	upgrader    websocket.Upgrader
}

// NewHandler 创建处理器
func NewHandler(
	logger *zap.Logger,
	vehicleRepo *repository.VehicleRepository,
	tripRepo *repository.TripRepository,
	posRepo *repository.PositionRepository,
	maintRepo *repository.MaintenanceRepository,
	manager *service.Manager,
	wsHub *ws.Hub,
) *Handler {
	return &Handler{
		logger:      logger,
		vehicleRepo: vehicleRepo,
		tripRepo:    tripRepo,
		posRepo:     posRepo,
		maintRepo:   maintRepo,
		manager:     manager,
		wsHub:       wsHub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 开发环境允许所有来源
			},
		},
	}
}

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	// API 路由
	api := r.Group("/api")
	{
		// 车辆
		api.POST("/vehicles", h.CreateVehicle)
		api.GET("/vehicles", h.ListVehicles)
		api.GET("/vehicles/:id", h.GetVehicle)

		// 行程生命周期
		api.POST("/vehicles/:id/trips/start", h.StartTrip)
		api.POST("/vehicles/:id/trips/pause", h.PauseTrip)
		api.POST("/vehicles/:id/trips/resume", h.ResumeTrip)
		api.POST("/vehicles/:id/trips/stop", h.StopTrip)
		api.POST("/vehicles/:id/trips/cancel", h.CancelTrip)

		// 定位与维保
		api.POST("/vehicles/:id/location", h.PushLocation)
		api.POST("/vehicles/:id/maintenance", h.LogMaintenance)

		// 遥测
		api.GET("/vehicles/:id/telemetry", h.GetTelemetry)

		// 历史
		api.GET("/vehicles/:id/trips", h.ListTrips)
		api.GET("/trips/:id", h.GetTrip)
		api.GET("/trips/:id/positions", h.GetTripPositions)
		api.GET("/trips/:id/maintenance", h.GetTripMaintenance)
	}

	// WebSocket
	r.GET("/ws", h.HandleWebSocket)

	// 健康检查
	r.GET("/health", h.HealthCheck)
}

// respondTransitionError 状态机错误统一映射：非法迁移是冲突而不是坏请求
func (h *Handler) respondTransitionError(c *gin.Context, err error) {
	var invalid *state.InvalidTransitionError
	if errors.As(err, &invalid) {
		c.JSON(http.StatusConflict, gin.H{"error": invalid.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

// HandleWebSocket WebSocket 处理
func (h *Handler) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade websocket", zap.Error(err))
		return
	}

	client := ws.NewClient(h.wsHub, conn)
	client.Register()

	// 启动读写协程
	go client.ReadPump()
	go client.WritePump()
}

// HealthCheck 健康检查
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"ws_clients": h.wsHub.ClientCount(),
	})
}
