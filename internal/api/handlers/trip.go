package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/langchou/fueltrip/internal/models"
)

type startTripRequest struct {
	StartFuelLevelPercent *float64 `json:"start_fuel_level_percent"`
}

// StartTrip 开始行程
// POST /api/vehicles/:id/trips/start
// 未携带起始油量时取车辆登记的初始油量
func (h *Handler) StartTrip(c *gin.Context) {
	vehicleID := c.Param("id")

	vehicle, err := h.vehicleRepo.GetByID(c.Request.Context(), vehicleID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Vehicle not found"})
		return
	}

	var req startTripRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	startFuel := vehicle.InitialFuelLevel
	if req.StartFuelLevelPercent != nil {
		startFuel = *req.StartFuelLevelPercent
	}
	if startFuel < 0 || startFuel > 100 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "start_fuel_level_percent must be between 0 and 100"})
		return
	}

	engine := h.manager.GetOrCreate(vehicleID)
	if err := engine.Start(c.Request.Context(), startFuel); err != nil {
		h.respondTransitionError(c, err)
		return
	}

	telemetry, err := engine.Telemetry(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	h.logger.Info("Trip started via API", zap.String("vehicle_id", vehicleID))
	c.JSON(http.StatusOK, gin.H{"data": telemetry})
}

// PauseTrip 暂停行程
// POST /api/vehicles/:id/trips/pause
func (h *Handler) PauseTrip(c *gin.Context) {
	h.triggerLifecycle(c, "pause")
}

// ResumeTrip 恢复行程
// POST /api/vehicles/:id/trips/resume
func (h *Handler) ResumeTrip(c *gin.Context) {
	h.triggerLifecycle(c, "resume")
}

func (h *Handler) triggerLifecycle(c *gin.Context, action string) {
	vehicleID := c.Param("id")

	engine, ok := h.manager.Get(vehicleID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "No trip in progress for vehicle"})
		return
	}

	var err error
	switch action {
	case "pause":
		err = engine.Pause(c.Request.Context())
	case "resume":
		err = engine.Resume(c.Request.Context())
	}
	if err != nil {
		h.respondTransitionError(c, err)
		return
	}

	telemetry, err := engine.Telemetry(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": telemetry})
}

// StopTrip 结束行程，返回行程汇总
// POST /api/vehicles/:id/trips/stop
func (h *Handler) StopTrip(c *gin.Context) {
	h.finishTrip(c, false)
}

// CancelTrip 取消行程，汇总中标记为 cancelled
// POST /api/vehicles/:id/trips/cancel
func (h *Handler) CancelTrip(c *gin.Context) {
	h.finishTrip(c, true)
}

func (h *Handler) finishTrip(c *gin.Context, cancelled bool) {
	vehicleID := c.Param("id")

	engine, ok := h.manager.Get(vehicleID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "No trip in progress for vehicle"})
		return
	}

	summary, err := engine.Stop(c.Request.Context(), cancelled)
	if err != nil {
		h.respondTransitionError(c, err)
		return
	}

	h.logger.Info("Trip finished via API",
		zap.String("vehicle_id", vehicleID),
		zap.String("trip_id", summary.TripID),
		zap.String("status", summary.Status))
	c.JSON(http.StatusOK, gin.H{"data": summary})
}

type pushLocationRequest struct {
	Latitude    *float64 `json:"latitude" binding:"required"`
	Longitude   *float64 `json:"longitude" binding:"required"`
	SpeedMps    *float64 `json:"speed_mps"`
	TimestampMs int64    `json:"timestamp_ms"`
}

// PushLocation 上报定位样本
// POST /api/vehicles/:id/location
// 样本按到达顺序进入引擎队列；没有进行中的行程时直接丢弃
func (h *Handler) PushLocation(c *gin.Context) {
	vehicleID := c.Param("id")

	var req pushLocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "latitude and longitude are required"})
		return
	}
	if *req.Latitude < -90 || *req.Latitude > 90 || *req.Longitude < -180 || *req.Longitude > 180 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid coordinates"})
		return
	}

	if req.TimestampMs == 0 {
		req.TimestampMs = time.Now().UnixMilli()
	}

	accepted := h.manager.PushSample(vehicleID, models.LocationSample{
		Latitude:    *req.Latitude,
		Longitude:   *req.Longitude,
		Speed:       req.SpeedMps,
		TimestampMs: req.TimestampMs,
	})
	if !accepted {
		c.JSON(http.StatusConflict, gin.H{"error": "No trip in progress for vehicle"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"message": "Location accepted"})
}

type logMaintenanceRequest struct {
	Type                 string   `json:"type" binding:"required"`
	TimestampMs          int64    `json:"timestamp_ms"`
	CostMinorUnits       *int64   `json:"cost_minor_units"`
	QuantityLiters       *float64 `json:"quantity_liters"`
	PricePerLiterMinor   *int64   `json:"price_per_liter_minor"`
	ResultingFuelPercent *float64 `json:"resulting_fuel_percent"`
	Notes                string   `json:"notes"`
}

// LogMaintenance 记录行程中的维保事件
// POST /api/vehicles/:id/maintenance
// refuel 事件会立即采用 resulting_fuel_percent 并清除低油量告警
func (h *Handler) LogMaintenance(c *gin.Context) {
	vehicleID := c.Param("id")

	var req logMaintenanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "type is required"})
		return
	}
	if !models.ValidMaintenanceType(req.Type) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown maintenance type"})
		return
	}
	if req.ResultingFuelPercent != nil && (*req.ResultingFuelPercent < 0 || *req.ResultingFuelPercent > 100) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "resulting_fuel_percent must be between 0 and 100"})
		return
	}

	engine, ok := h.manager.Get(vehicleID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "No trip in progress for vehicle"})
		return
	}

	event := models.MaintenanceEvent{
		Type:                 req.Type,
		TimestampMs:          req.TimestampMs,
		CostMinorUnits:       req.CostMinorUnits,
		QuantityLiters:       req.QuantityLiters,
		PricePerLiterMinor:   req.PricePerLiterMinor,
		ResultingFuelPercent: req.ResultingFuelPercent,
		Notes:                req.Notes,
	}
	if err := engine.LogMaintenance(c.Request.Context(), event); err != nil {
		h.respondTransitionError(c, err)
		return
	}

	h.logger.Info("Maintenance logged via API",
		zap.String("vehicle_id", vehicleID),
		zap.String("type", req.Type))
	c.JSON(http.StatusOK, gin.H{"message": "Maintenance logged"})
}

// GetTelemetry 获取车辆当前遥测
// GET /api/vehicles/:id/telemetry
func (h *Handler) GetTelemetry(c *gin.Context) {
	vehicleID := c.Param("id")

	engine, ok := h.manager.Get(vehicleID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "No telemetry for vehicle"})
		return
	}

	telemetry, err := engine.Telemetry(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": telemetry})
}
