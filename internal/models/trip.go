package models

import "time"

// 行程最终状态
const (
	TripCompleted = "completed"
	TripCancelled = "cancelled"
)

// Trip 一次行程的可变状态
// 由 TripEngine 的事件循环独占持有，循环之外只能读副本
type Trip struct {
	ID        string `json:"id"`
	VehicleID string `json:"vehicle_id"`
	Phase     string `json:"phase"`

	// 行程累计距离，仅单调递增；新行程开始时归零
	TotalDistanceKm float64 `json:"total_distance_km"`
	// 上次被远端台账确认的距离，恒有 LastPostedKm <= TotalDistanceKm
	LastPostedKm float64 `json:"last_posted_km"`

	// 远端台账返回的权威油量（同步前为起始值）
	FuelLevelPercent      float64 `json:"fuel_level_percent"`
	StartFuelLevelPercent float64 `json:"start_fuel_level_percent"`
	// 低油量闩锁：置位后仅 refuel 事件可清除
	LowFuelWarning bool `json:"low_fuel_warning"`

	StartedAtMs     int64  `json:"started_at_ms"`
	LastSyncAtMs    int64  `json:"last_sync_at_ms,omitempty"`
	PositioningLost bool   `json:"positioning_lost,omitempty"`

	// 行程中的维保事件，按记录顺序追加
	Maintenance []MaintenanceEvent `json:"maintenance,omitempty"`
}

// TripSummary 行程结束时生成的不可变快照
type TripSummary struct {
	TripID              string             `json:"trip_id" db:"id"`
	VehicleID           string             `json:"vehicle_id" db:"vehicle_id"`
	StartedAt           time.Time          `json:"started_at" db:"started_at"`
	EndedAt             time.Time          `json:"ended_at" db:"ended_at"`
	DurationMin         float64            `json:"duration_min" db:"duration_min"`
	DistanceKm          float64            `json:"distance_km" db:"distance_km"`
	AvgSpeedKmh         float64            `json:"avg_speed_kmh" db:"avg_speed_kmh"`
	FuelStartPercent    float64            `json:"fuel_start_percent" db:"fuel_start_percent"`
	FuelEndPercent      float64            `json:"fuel_end_percent" db:"fuel_end_percent"`
	FuelConsumedPercent float64            `json:"fuel_consumed_percent" db:"fuel_consumed_percent"`
	LowFuelWarning      bool               `json:"low_fuel_warning" db:"low_fuel_warning"`
	Status              string             `json:"status" db:"status"`
	Maintenance         []MaintenanceEvent `json:"maintenance"`
}

// TripTelemetry 推送给 UI 的实时遥测帧
type TripTelemetry struct {
	VehicleID        string  `json:"vehicle_id"`
	TripID           string  `json:"trip_id,omitempty"`
	Phase            string  `json:"phase"`
	TotalDistanceKm  float64 `json:"total_distance_traveled_km"`
	FuelLevelPercent float64 `json:"current_fuel_level_percent"`
	LowFuelWarning   bool    `json:"low_fuel_warning_active"`
	SpeedKmh         float64 `json:"speed_kmh"`
	PositioningLost  bool    `json:"positioning_lost,omitempty"`
}

// Vehicle 车辆信息
type Vehicle struct {
	ID               string    `json:"id" db:"id"`
	Name             string    `json:"name" db:"name"`
	InitialFuelLevel float64   `json:"initial_fuel_level_percent" db:"initial_fuel_level_percent"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}
