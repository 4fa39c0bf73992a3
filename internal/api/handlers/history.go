package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/langchou/fueltrip/internal/models"
)

type createVehicleRequest struct {
	Name                    string  `json:"name" binding:"required"`
	InitialFuelLevelPercent float64 `json:"initial_fuel_level_percent"`
}

// CreateVehicle 登记车辆
// POST /api/vehicles
func (h *Handler) CreateVehicle(c *gin.Context) {
	var req createVehicleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	if req.InitialFuelLevelPercent < 0 || req.InitialFuelLevelPercent > 100 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "initial_fuel_level_percent must be between 0 and 100"})
		return
	}

	vehicle := &models.Vehicle{
		ID:               uuid.NewString(),
		Name:             req.Name,
		InitialFuelLevel: req.InitialFuelLevelPercent,
	}
	if err := h.vehicleRepo.Create(c.Request.Context(), vehicle); err != nil {
		h.logger.Error("Failed to create vehicle", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create vehicle"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": vehicle})
}

// ListVehicles 获取车辆列表
// GET /api/vehicles
func (h *Handler) ListVehicles(c *gin.Context) {
	vehicles, err := h.vehicleRepo.List(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list vehicles", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list vehicles"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": vehicles})
}

// GetVehicle 获取车辆详情
// GET /api/vehicles/:id
func (h *Handler) GetVehicle(c *gin.Context) {
	vehicle, err := h.vehicleRepo.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Vehicle not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": vehicle})
}

// ListTrips 获取车辆历史行程列表
// GET /api/vehicles/:id/trips
func (h *Handler) ListTrips(c *gin.Context) {
	vehicleID := c.Param("id")

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "20"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	offset := (page - 1) * perPage

	trips, err := h.tripRepo.ListByVehicleID(c.Request.Context(), vehicleID, perPage, offset)
	if err != nil {
		h.logger.Error("Failed to list trips", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list trips"})
		return
	}

	total, _ := h.tripRepo.CountByVehicleID(c.Request.Context(), vehicleID)

	c.JSON(http.StatusOK, gin.H{
		"data": trips,
		"pagination": gin.H{
			"page":     page,
			"per_page": perPage,
			"total":    total,
		},
	})
}

// GetTrip 获取行程汇总
// GET /api/trips/:id
func (h *Handler) GetTrip(c *gin.Context) {
	trip, err := h.tripRepo.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Trip not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": trip})
}

// GetTripPositions 获取行程轨迹
// GET /api/trips/:id/positions
func (h *Handler) GetTripPositions(c *gin.Context) {
	positions, err := h.posRepo.ListByTripID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.logger.Error("Failed to list positions", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list positions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": positions})
}

// GetTripMaintenance 获取行程维保记录
// GET /api/trips/:id/maintenance
func (h *Handler) GetTripMaintenance(c *gin.Context) {
	events, err := h.maintRepo.ListByTripID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.logger.Error("Failed to list maintenance events", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list maintenance events"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": events})
}
