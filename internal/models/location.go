package models

// LocationSample 定位子系统上报的原始位置样本
// 瞬态数据：被距离累加器消费后即丢弃，不落库
type LocationSample struct {
	Latitude    float64  `json:"latitude"`
	Longitude   float64  `json:"longitude"`
	Speed       *float64 `json:"speed,omitempty"` // m/s，设备可能不上报
	TimestampMs int64    `json:"timestamp_ms"`
}

// Position 行程轨迹点（被抖动过滤接受后的样本）
type Position struct {
	ID         int64    `json:"id" db:"id"`
	TripID     string   `json:"trip_id" db:"trip_id"`
	Latitude   float64  `json:"latitude" db:"latitude"`
	Longitude  float64  `json:"longitude" db:"longitude"`
	SpeedKmh   *float64 `json:"speed_kmh,omitempty" db:"speed_kmh"`
	RecordedAt int64    `json:"recorded_at_ms" db:"recorded_at_ms"`
}
