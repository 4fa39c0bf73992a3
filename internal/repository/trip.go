package repository

import (
	"context"
	"fmt"

	"github.com/langchou/fueltrip/internal/models"
)

// TripRepository 行程数据仓库
type TripRepository struct {
	db Querier
}

// NewTripRepository 创建行程仓库
func NewTripRepository(db Querier) *TripRepository {
	return &TripRepository{db: db}
}

// Create 行程开始时落一条打开的记录
func (r *TripRepository) Create(ctx context.Context, trip *models.Trip) error {
	query := `
		INSERT INTO trips (id, vehicle_id, started_at, fuel_start_percent, status)
		VALUES ($1, $2, to_timestamp($3 / 1000.0), $4, 'active')
	`
	_, err := r.db.Exec(ctx, query,
		trip.ID,
		trip.VehicleID,
		trip.StartedAtMs,
		trip.StartFuelLevelPercent,
	)
	if err != nil {
		return fmt.Errorf("insert trip: %w", err)
	}
	return nil
}

// Complete 行程结束时写入最终汇总
func (r *TripRepository) Complete(ctx context.Context, s *models.TripSummary) error {
	query := `
		UPDATE trips SET
			ended_at = $1,
			duration_min = $2,
			distance_km = $3,
			avg_speed_kmh = $4,
			fuel_end_percent = $5,
			fuel_consumed_percent = $6,
			low_fuel_warning = $7,
			status = $8
		WHERE id = $9
	`
	_, err := r.db.Exec(ctx, query,
		s.EndedAt,
		s.DurationMin,
		s.DistanceKm,
		s.AvgSpeedKmh,
		s.FuelEndPercent,
		s.FuelConsumedPercent,
		s.LowFuelWarning,
		s.Status,
		s.TripID,
	)
	if err != nil {
		return fmt.Errorf("complete trip: %w", err)
	}
	return nil
}

// GetByID 获取行程汇总
func (r *TripRepository) GetByID(ctx context.Context, id string) (*models.TripSummary, error) {
	query := `
		SELECT id, vehicle_id, started_at, COALESCE(ended_at, started_at), duration_min, distance_km,
			avg_speed_kmh, COALESCE(fuel_start_percent, 0), COALESCE(fuel_end_percent, 0),
			fuel_consumed_percent, low_fuel_warning, status
		FROM trips WHERE id = $1
	`
	s := &models.TripSummary{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&s.TripID,
		&s.VehicleID,
		&s.StartedAt,
		&s.EndedAt,
		&s.DurationMin,
		&s.DistanceKm,
		&s.AvgSpeedKmh,
		&s.FuelStartPercent,
		&s.FuelEndPercent,
		&s.FuelConsumedPercent,
		&s.LowFuelWarning,
		&s.Status,
	)
	if err != nil {
		return nil, fmt.Errorf("get trip by id: %w", err)
	}
	return s, nil
}

// ListByVehicleID 获取车辆的历史行程，按开始时间倒序
func (r *TripRepository) ListByVehicleID(ctx context.Context, vehicleID string, limit, offset int) ([]*models.TripSummary, error) {
	query := `
		SELECT id, vehicle_id, started_at, COALESCE(ended_at, started_at), duration_min, distance_km,
			avg_speed_kmh, COALESCE(fuel_start_percent, 0), COALESCE(fuel_end_percent, 0),
			fuel_consumed_percent, low_fuel_warning, status
		FROM trips WHERE vehicle_id = $1
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Query(ctx, query, vehicleID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list trips by vehicle: %w", err)
	}
	defer rows.Close()

	var trips []*models.TripSummary
	for rows.Next() {
		s := &models.TripSummary{}
		if err := rows.Scan(
			&s.TripID,
			&s.VehicleID,
			&s.StartedAt,
			&s.EndedAt,
			&s.DurationMin,
			&s.DistanceKm,
			&s.AvgSpeedKmh,
			&s.FuelStartPercent,
			&s.FuelEndPercent,
			&s.FuelConsumedPercent,
			&s.LowFuelWarning,
			&s.Status,
		); err != nil {
			return nil, fmt.Errorf("scan trip: %w", err)
		}
		trips = append(trips, s)
	}
	return trips, rows.Err()
}

// CountByVehicleID 统计车辆的行程数
func (r *TripRepository) CountByVehicleID(ctx context.Context, vehicleID string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM trips WHERE vehicle_id = $1`, vehicleID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count trips: %w", err)
	}
	return count, nil
}
