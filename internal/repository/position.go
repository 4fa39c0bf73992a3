package repository

import (
	"context"
	"fmt"

	"github.com/langchou/fueltrip/internal/models"
)

// PositionRepository 行程轨迹仓库
type PositionRepository struct {
	db Querier
}

// NewPositionRepository 创建轨迹仓库
func NewPositionRepository(db Querier) *PositionRepository {
	return &PositionRepository{db: db}
}

// CreateBatch 批量写入一段行程的轨迹点（行程结束时调用）
func (r *PositionRepository) CreateBatch(ctx context.Context, tripID string, positions []models.Position) error {
	query := `
		INSERT INTO trip_positions (trip_id, latitude, longitude, speed_kmh, recorded_at_ms)
		VALUES ($1, $2, $3, $4, $5)
	`
	for _, pos := range positions {
		if _, err := r.db.Exec(ctx, query,
			tripID,
			pos.Latitude,
			pos.Longitude,
			pos.SpeedKmh,
			pos.RecordedAt,
		); err != nil {
			return fmt.Errorf("insert trip position: %w", err)
		}
	}
	return nil
}

// ListByTripID 获取行程的全部轨迹点
func (r *PositionRepository) ListByTripID(ctx context.Context, tripID string) ([]*models.Position, error) {
	query := `
		SELECT id, trip_id, latitude, longitude, speed_kmh, recorded_at_ms
		FROM trip_positions WHERE trip_id = $1 ORDER BY recorded_at_ms
	`
	rows, err := r.db.Query(ctx, query, tripID)
	if err != nil {
		return nil, fmt.Errorf("list positions by trip: %w", err)
	}
	defer rows.Close()

	var positions []*models.Position
	for rows.Next() {
		pos := &models.Position{}
		if err := rows.Scan(&pos.ID, &pos.TripID, &pos.Latitude, &pos.Longitude, &pos.SpeedKmh, &pos.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan trip position: %w", err)
		}
		positions = append(positions, pos)
	}
	return positions, rows.Err()
}
