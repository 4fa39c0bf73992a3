package ledger

// 同步结果状态
const (
	StatusApplied = "applied"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
)

// 失败种类
const (
	ErrKindTransient = "transient"
	ErrKindRejected  = "rejected"
)

// reconcileRequest 上报给远端油量台账的请求体
type reconcileRequest struct {
	VehicleID               string  `json:"vehicle_id"`
	TotalDistanceTraveledKm float64 `json:"total_distance_traveled_km"`
	LastPostedDistanceKm    float64 `json:"last_posted_distance_km"`
}

// reconcileResponse 台账响应
// status=applied 时携带权威油量；status=skipped 表示增量低于服务端阈值
type reconcileResponse struct {
	Status              string  `json:"status"`
	NewFuelLevelPercent float64 `json:"new_fuel_level_percent"`
	LowFuelWarning      bool    `json:"low_fuel_warning"`
}

// SyncOutcome 一次对账调用的结果，只折叠进 TripState，从不落库
type SyncOutcome struct {
	Status              string  `json:"status"`
	NewFuelLevelPercent float64 `json:"new_fuel_level_percent,omitempty"`
	LowFuelWarning      bool    `json:"low_fuel_warning,omitempty"`
	ErrorKind           string  `json:"error_kind,omitempty"`
}

// Applied 台账是否确认应用了本次增量
func (o *SyncOutcome) Applied() bool {
	return o != nil && o.Status == StatusApplied
}
