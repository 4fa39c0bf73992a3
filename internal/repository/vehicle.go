package repository

import (
	"context"
	"fmt"

	"github.com/langchou/fueltrip/internal/models"
)

// VehicleRepository 车辆数据仓库
type VehicleRepository struct {
	db Querier
}

// NewVehicleRepository 创建车辆仓库
func NewVehicleRepository(db Querier) *VehicleRepository {
	return &VehicleRepository{db: db}
}

// Create 注册车辆
func (r *VehicleRepository) Create(ctx context.Context, v *models.Vehicle) error {
	query := `
		INSERT INTO vehicles (id, name, initial_fuel_level_percent)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`
	err := r.db.QueryRow(ctx, query, v.ID, v.Name, v.InitialFuelLevel).Scan(&v.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert vehicle: %w", err)
	}
	return nil
}

// GetByID 获取车辆
func (r *VehicleRepository) GetByID(ctx context.Context, id string) (*models.Vehicle, error) {
	query := `
		SELECT id, name, initial_fuel_level_percent, created_at
		FROM vehicles WHERE id = $1
	`
	v := &models.Vehicle{}
	err := r.db.QueryRow(ctx, query, id).Scan(&v.ID, &v.Name, &v.InitialFuelLevel, &v.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get vehicle by id: %w", err)
	}
	return v, nil
}

// List 获取车辆列表
func (r *VehicleRepository) List(ctx context.Context) ([]*models.Vehicle, error) {
	query := `
		SELECT id, name, initial_fuel_level_percent, created_at
		FROM vehicles ORDER BY created_at
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list vehicles: %w", err)
	}
	defer rows.Close()

	var vehicles []*models.Vehicle
	for rows.Next() {
		v := &models.Vehicle{}
		if err := rows.Scan(&v.ID, &v.Name, &v.InitialFuelLevel, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan vehicle: %w", err)
		}
		vehicles = append(vehicles, v)
	}
	return vehicles, rows.Err()
}
