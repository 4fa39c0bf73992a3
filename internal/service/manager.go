package service

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/langchou/fueltrip/internal/config"
	"github.com/langchou/fueltrip/internal/models"
	"github.com/langchou/fueltrip/internal/positioning"
)

// Snapshots Manager 恢复流程需要的快照读取能力
type Snapshots interface {
	SnapshotStore
	Load(ctx context.Context, vehicleID string) (*models.Trip, error)
	ListVehicleIDs(ctx context.Context) ([]string, error)
}

// vehicleEntry 一辆车对应一个引擎和一个定位推送入口
type vehicleEntry struct {
	engine   *TripEngine
	provider *positioning.PushProvider
}

// Manager 车辆引擎注册表
// 每辆车懒加载一个 TripEngine，HTTP 定位推送经由这里路由到对应引擎
type Manager struct {
	cfg       *config.Config
	logger    *zap.Logger
	ledger    Reconciler
	stores    Stores
	snapshots Snapshots

	onTelemetry func(models.TripTelemetry)

	mu      sync.RWMutex
	entries map[string]*vehicleEntry
}

// NewManager 创建引擎注册表
func NewManager(
	cfg *config.Config,
	logger *zap.Logger,
	reconciler Reconciler,
	stores Stores,
	snapshots Snapshots,
	onTelemetry func(models.TripTelemetry),
) *Manager {
	return &Manager{
		cfg:         cfg,
		logger:      logger,
		ledger:      reconciler,
		stores:      stores,
		snapshots:   snapshots,
		onTelemetry: onTelemetry,
		entries:     make(map[string]*vehicleEntry),
	}
}

// GetOrCreate 取车辆引擎，不存在则创建
func (m *Manager) GetOrCreate(vehicleID string) *TripEngine {
	m.mu.RLock()
	entry, ok := m.entries[vehicleID]
	m.mu.RUnlock()
	if ok {
		return entry.engine
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.entries[vehicleID]; ok {
		return entry.engine
	}

	provider := positioning.NewPushProvider()
	engine := NewTripEngine(m.cfg, m.logger, vehicleID, provider, m.ledger, m.stores, m.snapshots, m.onTelemetry)
	m.entries[vehicleID] = &vehicleEntry{engine: engine, provider: provider}

	m.logger.Info("Created trip engine", zap.String("vehicle_id", vehicleID))
	return engine
}

// Get 取已存在的车辆引擎
func (m *Manager) Get(vehicleID string) (*TripEngine, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.entries[vehicleID]
	if !ok {
		return nil, false
	}
	return entry.engine, true
}

// PushSample 把 HTTP 上报的定位样本投递给车辆引擎
// 返回 false 表示该车没有活跃的定位订阅（没有进行中的行程）
func (m *Manager) PushSample(vehicleID string, sample models.LocationSample) bool {
	m.mu.RLock()
	entry, ok := m.entries[vehicleID]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	return entry.provider.Push(sample)
}

// PushFailure 上报车辆定位故障（自动暂停用）
func (m *Manager) PushFailure(vehicleID string, err error) bool {
	m.mu.RLock()
	entry, ok := m.entries[vehicleID]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	entry.provider.Fail(err)
	return true
}

// RestoreAll 服务启动时扫描快照，把崩溃前的行程恢复为 paused
func (m *Manager) RestoreAll(ctx context.Context) error {
	ids, err := m.snapshots.ListVehicleIDs(ctx)
	if err != nil {
		return err
	}

	for _, vehicleID := range ids {
		snap, err := m.snapshots.Load(ctx, vehicleID)
		if err != nil {
			m.logger.Error("Failed to load trip snapshot",
				zap.String("vehicle_id", vehicleID),
				zap.Error(err))
			continue
		}
		if snap == nil {
			continue
		}

		engine := m.GetOrCreate(vehicleID)
		if err := engine.Restore(ctx, snap); err != nil {
			m.logger.Error("Failed to restore trip",
				zap.String("vehicle_id", vehicleID),
				zap.String("trip_id", snap.ID),
				zap.Error(err))
			continue
		}
	}

	if len(ids) > 0 {
		m.logger.Info("Trip recovery scan finished", zap.Int("snapshots", len(ids)))
	}
	return nil
}

// TelemetryAll 所有已注册车辆的遥测快照（WebSocket 初始帧用）
func (m *Manager) TelemetryAll(ctx context.Context) []models.TripTelemetry {
	m.mu.RLock()
	engines := make([]*TripEngine, 0, len(m.entries))
	for _, entry := range m.entries {
		engines = append(engines, entry.engine)
	}
	m.mu.RUnlock()

	out := make([]models.TripTelemetry, 0, len(engines))
	for _, engine := range engines {
		t, err := engine.Telemetry(ctx)
		if err != nil {
			continue
		}
		out = append(out, t)
	}
	return out
}

// CloseAll 优雅关闭所有引擎，活跃行程写入快照等待下次恢复
func (m *Manager) CloseAll() {
	m.mu.Lock()
	entries := m.entries
	m.entries = make(map[string]*vehicleEntry)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for vehicleID, entry := range entries {
		wg.Add(1)
		go func(id string, en *vehicleEntry) {
			defer wg.Done()
			en.engine.Close()
			m.logger.Info("Trip engine closed", zap.String("vehicle_id", id))
		}(vehicleID, entry)
	}
	wg.Wait()
}
