package repository

import (
	"context"
	"fmt"

	"github.com/langchou/fueltrip/internal/models"
)

// MaintenanceRepository 维保事件仓库
type MaintenanceRepository struct {
	db Querier
}

// NewMaintenanceRepository 创建维保仓库
func NewMaintenanceRepository(db Querier) *MaintenanceRepository {
	return &MaintenanceRepository{db: db}
}

// CreateBatch 批量写入行程的维保事件（行程结束时调用，保持记录顺序）
func (r *MaintenanceRepository) CreateBatch(ctx context.Context, tripID string, events []models.MaintenanceEvent) error {
	query := `
		INSERT INTO maintenance_events (trip_id, type, timestamp_ms, cost_minor_units, quantity_liters, price_per_liter_minor, resulting_fuel_percent, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	for _, ev := range events {
		if _, err := r.db.Exec(ctx, query,
			tripID,
			ev.Type,
			ev.TimestampMs,
			ev.CostMinorUnits,
			ev.QuantityLiters,
			ev.PricePerLiterMinor,
			ev.ResultingFuelPercent,
			ev.Notes,
		); err != nil {
			return fmt.Errorf("insert maintenance event: %w", err)
		}
	}
	return nil
}

// ListByTripID 获取行程的维保事件，按时间顺序
func (r *MaintenanceRepository) ListByTripID(ctx context.Context, tripID string) ([]*models.MaintenanceEvent, error) {
	query := `
		SELECT id, trip_id, type, timestamp_ms, cost_minor_units, quantity_liters, price_per_liter_minor, resulting_fuel_percent, COALESCE(notes, '')
		FROM maintenance_events WHERE trip_id = $1 ORDER BY timestamp_ms, id
	`
	rows, err := r.db.Query(ctx, query, tripID)
	if err != nil {
		return nil, fmt.Errorf("list maintenance by trip: %w", err)
	}
	defer rows.Close()

	var events []*models.MaintenanceEvent
	for rows.Next() {
		ev := &models.MaintenanceEvent{}
		if err := rows.Scan(
			&ev.ID,
			&ev.TripID,
			&ev.Type,
			&ev.TimestampMs,
			&ev.CostMinorUnits,
			&ev.QuantityLiters,
			&ev.PricePerLiterMinor,
			&ev.ResultingFuelPercent,
			&ev.Notes,
		); err != nil {
			return nil, fmt.Errorf("scan maintenance event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
