package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/langchou/fueltrip/internal/models"
)

const keyPrefix = "fueltrip:trip:"

// Store 行程状态快照仓库
// 崩溃恢复用：引擎在关键节点写入 TripState 快照，正常结束时删除
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStore 创建快照仓库
func NewStore(client *redis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

// Save 写入车辆当前行程的快照
func (s *Store) Save(ctx context.Context, trip *models.Trip) error {
	data, err := json.Marshal(trip)
	if err != nil {
		return fmt.Errorf("marshal trip snapshot: %w", err)
	}
	if err := s.client.Set(ctx, keyPrefix+trip.VehicleID, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save trip snapshot: %w", err)
	}
	return nil
}

// Load 读取车辆的行程快照，未命中返回 (nil, nil)
func (s *Store) Load(ctx context.Context, vehicleID string) (*models.Trip, error) {
	data, err := s.client.Get(ctx, keyPrefix+vehicleID).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("load trip snapshot: %w", err)
	}

	var trip models.Trip
	if err := json.Unmarshal(data, &trip); err != nil {
		return nil, fmt.Errorf("unmarshal trip snapshot: %w", err)
	}
	return &trip, nil
}

// Delete 删除车辆的行程快照
func (s *Store) Delete(ctx context.Context, vehicleID string) error {
	if err := s.client.Del(ctx, keyPrefix+vehicleID).Err(); err != nil {
		return fmt.Errorf("delete trip snapshot: %w", err)
	}
	return nil
}

// ListVehicleIDs 列出所有持有快照的车辆（服务重启恢复时扫描）
func (s *Store) ListVehicleIDs(ctx context.Context) ([]string, error) {
	keys, err := s.client.Keys(ctx, keyPrefix+"*").Result()
	if err != nil {
		return nil, fmt.Errorf("list trip snapshots: %w", err)
	}

	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, k[len(keyPrefix):])
	}
	return ids, nil
}
