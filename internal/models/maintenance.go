package models

// 维保事件类型
const (
	MaintenanceRefuel    = "refuel"
	MaintenanceOilChange = "oil_change"
	MaintenanceTuneUp    = "tune_up"
	MaintenanceOther     = "other"
)

// MaintenanceEvent 行程中记录的维保事件（加油等）
// 创建后不可变；行程结束时整体并入 TripSummary
type MaintenanceEvent struct {
	ID                 int64    `json:"id" db:"id"`
	TripID             string   `json:"trip_id" db:"trip_id"`
	Type               string   `json:"type" db:"type"`
	TimestampMs        int64    `json:"timestamp_ms" db:"timestamp_ms"`
	CostMinorUnits     *int64   `json:"cost_minor_units,omitempty" db:"cost_minor_units"`
	QuantityLiters     *float64 `json:"quantity_liters,omitempty" db:"quantity_liters"`
	PricePerLiterMinor *int64   `json:"price_per_liter_minor,omitempty" db:"price_per_liter_minor"`
	// 加油后的油量百分比，仅 refuel 事件使用
	ResultingFuelPercent *float64 `json:"resulting_fuel_percent,omitempty" db:"resulting_fuel_percent"`
	Notes                string   `json:"notes,omitempty" db:"notes"`
}

// ValidMaintenanceType 校验维保事件类型
func ValidMaintenanceType(t string) bool {
	switch t {
	case MaintenanceRefuel, MaintenanceOilChange, MaintenanceTuneUp, MaintenanceOther:
		return true
	}
	return false
}
