package tracking

import (
	"github.com/langchou/fueltrip/internal/geo"
	"github.com/langchou/fueltrip/internal/models"
)

// minTimeDeltaMs 速度推算的时间差下限，防止除零放大
const minTimeDeltaMs = 1

// Accumulator 距离累加器
// 把带噪声的位置样本流折算成可信的增量距离
// 非并发安全：只允许在引擎事件循环上调用
type Accumulator struct {
	jitterThresholdKm float64
	lastAccepted      *models.LocationSample
	totalKm           float64
	speedKmh          float64
	acceptedCount     int
}

// NewAccumulator 创建累加器，jitterThresholdM 为最小位移过滤阈值（米）
func NewAccumulator(jitterThresholdM float64) *Accumulator {
	return &Accumulator{jitterThresholdKm: jitterThresholdM / 1000}
}

// Feed 处理一个样本，返回被接受的增量距离（公里）
// 低于抖动阈值的位移直接丢弃，避免静止时 GPS 漂移被累计
func (a *Accumulator) Feed(sample models.LocationSample) float64 {
	prev := a.lastAccepted
	if prev == nil {
		a.lastAccepted = &sample
		a.acceptedCount++
		a.speedKmh = reportedSpeedKmh(sample)
		return 0
	}

	deltaKm := geo.HaversineKm(prev.Latitude, prev.Longitude, sample.Latitude, sample.Longitude)
	if deltaKm <= a.jitterThresholdKm {
		// 抖动：丢弃增量但推进参考点，静止漂移不会逐步越过阈值被误计
		a.lastAccepted = &sample
		a.speedKmh = reportedSpeedKmh(sample)
		return 0
	}

	a.totalKm += deltaKm
	a.speedKmh = a.deriveSpeedKmh(sample, prev, deltaKm)
	a.lastAccepted = &sample
	a.acceptedCount++
	return deltaKm
}

// deriveSpeedKmh 优先使用样本上报速度，缺失时用增量距离/时间差推算
func (a *Accumulator) deriveSpeedKmh(sample models.LocationSample, prev *models.LocationSample, deltaKm float64) float64 {
	if sample.Speed != nil && *sample.Speed >= 0 {
		return *sample.Speed * 3.6
	}

	dtMs := sample.TimestampMs - prev.TimestampMs
	if dtMs < minTimeDeltaMs {
		dtMs = minTimeDeltaMs
	}
	hours := float64(dtMs) / 1000 / 3600
	return deltaKm / hours
}

// TotalKm 累计距离，单调不减
func (a *Accumulator) TotalKm() float64 {
	return a.totalKm
}

// SpeedKmh 当前瞬时速度
func (a *Accumulator) SpeedKmh() float64 {
	return a.speedKmh
}

// AcceptedCount 已接受的样本数
func (a *Accumulator) AcceptedCount() int {
	return a.acceptedCount
}

// Reset 清空锚点与累计值，行程开始时调用一次
func (a *Accumulator) Reset() {
	a.lastAccepted = nil
	a.totalKm = 0
	a.speedKmh = 0
	a.acceptedCount = 0
}

// Prime 恢复会话时预置累计距离（锚点保持为空，等首个新样本重建）
func (a *Accumulator) Prime(totalKm float64) {
	a.Reset()
	a.totalKm = totalKm
}

// Rebase 只清掉参考点，累计距离保留
// 暂停/恢复时调用，避免恢复后第一个样本把暂停期间的位移一次性计入
func (a *Accumulator) Rebase() {
	a.lastAccepted = nil
	a.speedKmh = 0
}

func reportedSpeedKmh(sample models.LocationSample) float64 {
	if sample.Speed != nil && *sample.Speed >= 0 {
		return *sample.Speed * 3.6
	}
	return 0
}
